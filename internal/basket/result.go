package basket

import (
	"errors"

	"github.com/fjod/go_basket/internal/domain"
)

var (
	ErrValidationUnavailable = errors.New("basket validation unavailable")
	ErrMissingDependency     = errors.New("basket engine dependency missing")
)

// Status is the terminal decision for one Add or Update call.
type Status int

const (
	// StatusIgnored means the call was a guarded no-op (non-positive quantity or
	// unknown item on update). Nothing was validated or persisted.
	StatusIgnored Status = iota
	StatusAccepted
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusAccepted:
		return "accepted"
	case StatusRejected:
		return "rejected"
	default:
		return "ignored"
	}
}

// Result carries the outcome of an Add or Update. Violations is set only when
// Status is StatusRejected and holds the violations for the mutated item.
type Result struct {
	Status     Status
	Violations domain.FieldViolations
}

func (r Result) Accepted() bool {
	return r.Status == StatusAccepted
}

func (r Result) Rejected() bool {
	return r.Status == StatusRejected
}

// pendingMutation records what one optimistic add or update did so it can be
// undone against whatever the item list looks like when the rejection arrives.
// Only the mutated entry is touched.
type pendingMutation struct {
	itemID string
	delta  int
	// update is set for quantity updates. previous is the quantity the entry
	// had before, used when subtracting delta would empty it.
	update   bool
	previous int
	// persistedAt is the persist counter when the mutation was applied. If it
	// moved, the optimistic change has reached the store and the revert must be
	// written too.
	persistedAt uint64
}
