package checkout

import "errors"

var (
	ErrEmptyBasket = errors.New("basket is empty")
	ErrNoBasket    = errors.New("checkout has no basket")
)
