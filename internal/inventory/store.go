// Package inventory is an in-process stock book that validates candidate
// baskets the way the remote validation service does. It backs local runs and
// tests.
package inventory

import (
	"context"
	"sync"

	"github.com/fjod/go_basket/internal/domain"
)

const (
	LabelUpperBound  = "upperbound"
	LabelUnavailable = "unavailable"

	fieldQuantity = "quantity"
	paramBoundary = "boundary"
)

// Store implements basket.Validator against in-memory stock levels
type Store struct {
	mu     sync.RWMutex
	stocks map[string]int
	// fallback is the stock assumed for items never set. Zero makes them unavailable.
	fallback int
}

func NewStore(fallback int) *Store {
	return &Store{
		stocks:   make(map[string]int),
		fallback: fallback,
	}
}

// SetStock sets the stock level for an item
func (s *Store) SetStock(itemID string, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stocks[itemID] = total
}

// Seed sets the stock level of every item in levels.
func (s *Store) Seed(levels map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, total := range levels {
		s.stocks[id] = total
	}
}

// Validate checks every candidate line against available stock. Lines over the
// limit get an upperbound violation carrying the boundary; items with no stock
// at all are unavailable.
func (s *Store) Validate(_ context.Context, items []domain.LineItem) (domain.ValidationOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	violations := domain.Violations{}
	for _, it := range items {
		available, exists := s.stocks[it.ID]
		if !exists {
			available = s.fallback
		}

		switch {
		case available <= 0:
			violations[it.ID] = domain.FieldViolations{
				fieldQuantity: {{Label: LabelUnavailable}},
			}
		case it.Quantity > available:
			violations[it.ID] = domain.FieldViolations{
				fieldQuantity: {{Label: LabelUpperBound, Params: map[string]any{paramBoundary: available}}},
			}
		}
	}

	if len(violations) == 0 {
		return domain.Accept(), nil
	}
	return domain.Reject(violations), nil
}
