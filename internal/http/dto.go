package http

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/fjod/go_basket/internal/domain"
)

// Quantity accepts a JSON number or a numeric string. Anything else, including
// fractions, decodes to 0 so the engine treats the call as a no-op.
type Quantity int

func (q *Quantity) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*q = 0
	switch v := raw.(type) {
	case float64:
		if v == math.Trunc(v) && math.Abs(v) <= math.MaxInt32 {
			*q = Quantity(v)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*q = Quantity(n)
		}
	}
	return nil
}

type AddItemRequestDTO struct {
	ID            string         `json:"id" validate:"required,max=128"`
	Price         int64          `json:"price" validate:"gte=0"`
	Quantity      Quantity       `json:"quantity"`
	Configuration map[string]any `json:"configuration"`
}

func (r AddItemRequestDTO) lineItem() domain.LineItem {
	return domain.LineItem{
		ID:            r.ID,
		Price:         r.Price,
		Quantity:      int(r.Quantity),
		Configuration: r.Configuration,
	}
}

type UpdateQuantityRequestDTO struct {
	Quantity Quantity `json:"quantity"`
}

type CouponRequestDTO struct {
	Code string `json:"code" validate:"required,max=64"`
}

type AddressRequestDTO struct {
	Label     string `json:"label" validate:"max=256"`
	Addressee string `json:"addressee" validate:"max=256"`
}

type ProviderRequestDTO struct {
	Provider string `json:"provider" validate:"required,max=64"`
}

type CheckoutRequestDTO struct {
	Locale             string `json:"locale" validate:"omitempty,max=16"`
	Provider           string `json:"provider" validate:"max=64"`
	TermsAndConditions bool   `json:"termsAndConditions"`
	Comment            string `json:"comment" validate:"max=2048"`
}

type MutationResponse struct {
	Status string      `json:"status"`
	View   domain.View `json:"basket"`
}
