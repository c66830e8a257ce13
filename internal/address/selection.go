// Package address keeps the billing and shipping address a shopper picked for
// the next order.
package address

import (
	"errors"
	"sync"

	"github.com/fjod/go_basket/internal/domain"
)

type Kind string

const (
	Billing  Kind = "billing"
	Shipping Kind = "shipping"
)

var ErrUnknownKind = errors.New("unknown address kind")

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case Billing, Shipping:
		return Kind(s), nil
	}
	return "", ErrUnknownKind
}

// Selection is safe for concurrent use. Unset addresses read as empty strings.
type Selection struct {
	mu        sync.RWMutex
	addresses map[Kind]domain.Address
}

func NewSelection() *Selection {
	return &Selection{addresses: make(map[Kind]domain.Address)}
}

func (s *Selection) Select(kind Kind, a domain.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addresses[kind] = a
}

func (s *Selection) View(kind Kind) domain.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addresses[kind]
}

// Clear forgets both addresses. Called after an order is placed.
func (s *Selection) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addresses = make(map[Kind]domain.Address)
}
