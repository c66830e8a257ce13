// Package basket owns the in-memory basket of one shopper. Every mutation is
// applied optimistically, validated remotely, and then either persisted or
// reverted. The store only ever sees pre-mutation or validated states.
package basket

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fjod/go_basket/internal/domain"
	"github.com/fjod/go_basket/internal/metrics"
	"github.com/fjod/go_basket/internal/notify"
	"github.com/fjod/go_basket/internal/store"
	"github.com/fjod/go_basket/pkg/logger"
	"go.uber.org/zap"
)

// Validator checks a candidate item list against stock and business rules.
// A rejection is an outcome, not an error; errors mean the check did not happen.
type Validator interface {
	Validate(ctx context.Context, items []domain.LineItem) (domain.ValidationOutcome, error)
}

// Pricer returns the authoritative pricing of a draft order.
type Pricer interface {
	Echo(ctx context.Context, req domain.EchoRequest) (domain.EchoResponse, error)
}

// Dependencies wires an Engine. Store and Validator are required.
type Dependencies struct {
	Store     store.BlobStore
	Bus       notify.Publisher
	Validator Validator
	// Pricer is optional. Without it Render only presents the local view.
	Pricer    Pricer
	Namespace string
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// Engine guards one basket. The lock is held for local mutation and persist
// only, never across a validation or pricing round-trip.
type Engine struct {
	key       string
	store     store.BlobStore
	bus       notify.Publisher
	validator Validator
	pricer    Pricer
	namespace string
	log       *zap.Logger
	metrics   *metrics.Metrics

	mu        sync.Mutex
	basket    domain.Basket
	persisted uint64
}

type nopPublisher struct{}

func (nopPublisher) Fire(string, string) {}

// New rehydrates the basket stored under key, creating and persisting an empty
// one when nothing is stored yet.
func New(ctx context.Context, key string, deps Dependencies) (*Engine, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("%w: store", ErrMissingDependency)
	}
	if deps.Validator == nil {
		return nil, fmt.Errorf("%w: validator", ErrMissingDependency)
	}

	e := &Engine{
		key:       key,
		store:     deps.Store,
		bus:       deps.Bus,
		validator: deps.Validator,
		pricer:    deps.Pricer,
		namespace: deps.Namespace,
		log:       logger.OrNop(deps.Logger).With(zap.String("basket", key)),
		metrics:   deps.Metrics,
	}
	if e.bus == nil {
		e.bus = nopPublisher{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.loadLocked(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// Refresh reloads the last persisted snapshot, dropping unconfirmed edits.
func (e *Engine) Refresh(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadLocked(ctx)
}

func (e *Engine) loadLocked(ctx context.Context) error {
	blob, err := e.store.Get(ctx, e.key)
	if errors.Is(err, store.ErrNotFound) {
		e.basket = domain.Basket{Items: []domain.LineItem{}}
		return e.persistLocked(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to load basket: %w", err)
	}

	b, err := domain.DecodeBasket(blob)
	if err != nil {
		return fmt.Errorf("failed to decode basket: %w", err)
	}
	e.basket = b
	return nil
}

func (e *Engine) persistLocked(ctx context.Context) error {
	blob, err := domain.EncodeBasket(e.basket)
	if err != nil {
		return err
	}
	if err := e.store.Set(ctx, e.key, blob); err != nil {
		return fmt.Errorf("failed to persist basket: %w", err)
	}
	e.persisted++
	return nil
}

// Add puts item into the basket, or increments the quantity of the entry with
// the same id. Price and configuration of an existing entry are kept.
func (e *Engine) Add(ctx context.Context, item domain.LineItem) (Result, error) {
	if !item.IsQuantified() {
		e.metrics.Operation("add", StatusIgnored.String())
		return Result{Status: StatusIgnored}, nil
	}

	e.mu.Lock()
	pending := e.applyAddLocked(item)
	candidate := e.basket.Clone().Items
	e.mu.Unlock()

	outcome, err := e.validator.Validate(ctx, candidate)
	if err != nil {
		e.log.Warn("add validation failed", zap.String("item", item.ID), zap.Error(err))
		e.metrics.Operation("add", "error")
		return Result{}, errors.Join(fmt.Errorf("%w: %w", ErrValidationUnavailable, err), e.revert(ctx, pending))
	}

	if violations, rejected := outcome.For(item.ID); rejected {
		e.log.Info("add rejected", zap.String("item", item.ID))
		e.metrics.Operation("add", StatusRejected.String())
		if err := e.revert(ctx, pending); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusRejected, Violations: violations}, nil
	}

	e.mu.Lock()
	err = e.persistLocked(ctx)
	if err != nil {
		e.undoLocked(pending)
	}
	e.mu.Unlock()
	if err != nil {
		e.metrics.Operation("add", "error")
		return Result{}, err
	}

	e.metrics.Operation("add", StatusAccepted.String())
	e.bus.Fire(notify.TopicBasketRefresh, e.key)
	e.bus.Fire(notify.TopicBasketItemAdded, e.key)
	return Result{Status: StatusAccepted}, nil
}

// Update sets the quantity of the entry matching item.ID.
func (e *Engine) Update(ctx context.Context, item domain.LineItem) (Result, error) {
	if !item.IsQuantified() {
		e.metrics.Operation("update", StatusIgnored.String())
		return Result{Status: StatusIgnored}, nil
	}

	e.mu.Lock()
	i := e.basket.Find(item.ID)
	if i < 0 {
		e.mu.Unlock()
		e.metrics.Operation("update", StatusIgnored.String())
		return Result{Status: StatusIgnored}, nil
	}
	pending := pendingMutation{
		itemID:      item.ID,
		delta:       item.Quantity - e.basket.Items[i].Quantity,
		update:      true,
		previous:    e.basket.Items[i].Quantity,
		persistedAt: e.persisted,
	}
	e.basket.Items[i].Quantity = item.Quantity
	candidate := e.basket.Clone().Items
	e.mu.Unlock()

	outcome, err := e.validator.Validate(ctx, candidate)
	if err != nil {
		e.log.Warn("update validation failed", zap.String("item", item.ID), zap.Error(err))
		e.metrics.Operation("update", "error")
		return Result{}, errors.Join(fmt.Errorf("%w: %w", ErrValidationUnavailable, err), e.revert(ctx, pending))
	}

	if violations, rejected := outcome.For(item.ID); rejected {
		e.log.Info("update rejected", zap.String("item", item.ID))
		e.metrics.Operation("update", StatusRejected.String())
		if err := e.revert(ctx, pending); err != nil {
			return Result{}, err
		}
		return Result{Status: StatusRejected, Violations: violations}, nil
	}

	e.mu.Lock()
	err = e.persistLocked(ctx)
	if err != nil {
		e.undoLocked(pending)
	}
	e.mu.Unlock()
	if err != nil {
		e.metrics.Operation("update", "error")
		return Result{}, err
	}

	e.metrics.Operation("update", StatusAccepted.String())
	e.bus.Fire(notify.TopicBasketRefresh, e.key)
	return Result{Status: StatusAccepted}, nil
}

// Remove deletes the entry matching item.ID. Removing cannot break a business
// rule, so there is no validation round-trip.
func (e *Engine) Remove(ctx context.Context, item domain.LineItem) error {
	e.mu.Lock()
	previous := e.basket.Clone()
	e.basket.Remove(item.ID)
	err := e.persistLocked(ctx)
	if err != nil {
		e.basket = previous
	}
	e.mu.Unlock()
	if err != nil {
		e.metrics.Operation("remove", "error")
		return err
	}

	e.metrics.Operation("remove", StatusAccepted.String())
	e.bus.Fire(notify.TopicBasketRefresh, e.key)
	return nil
}

// Clear empties the basket and drops the coupon.
func (e *Engine) Clear(ctx context.Context) error {
	e.mu.Lock()
	previous := e.basket.Clone()
	e.basket.Reset()
	err := e.persistLocked(ctx)
	if err != nil {
		e.basket = previous
	}
	e.mu.Unlock()
	if err != nil {
		e.metrics.Operation("clear", "error")
		return err
	}

	e.metrics.Operation("clear", StatusAccepted.String())
	e.bus.Fire(notify.TopicBasketRefresh, e.key)
	return nil
}

// Items returns a copy of the current items in insertion order.
func (e *Engine) Items() []domain.LineItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.basket.Clone().Items
}

func (e *Engine) SubTotal() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.basket.SubTotal()
}

func (e *Engine) CouponCode() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.basket.Coupon
}

// SetCouponCode stores and persists code. An empty code is ignored.
func (e *Engine) SetCouponCode(ctx context.Context, code string) error {
	if code == "" {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	previous := e.basket.Coupon
	e.basket.Coupon = code
	if err := e.persistLocked(ctx); err != nil {
		e.basket.Coupon = previous
		return err
	}
	return nil
}

// View is the local, non authoritative snapshot used for instant feedback.
func (e *Engine) View() domain.View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewLocked()
}

func (e *Engine) viewLocked() domain.View {
	return domain.View{
		CouponCode: e.basket.Coupon,
		Items:      e.basket.Clone().Items,
		SubTotal:   e.basket.SubTotal(),
	}
}

func (e *Engine) applyAddLocked(item domain.LineItem) pendingMutation {
	p := pendingMutation{
		itemID:      item.ID,
		delta:       item.Quantity,
		persistedAt: e.persisted,
	}

	if i := e.basket.Find(item.ID); i >= 0 {
		e.basket.Items[i].Quantity += item.Quantity
		return p
	}
	e.basket.Items = append(e.basket.Items, domain.LineItem{
		ID:            item.ID,
		Price:         item.Price,
		Quantity:      item.Quantity,
		Configuration: item.Configuration,
	})
	return p
}

// undoLocked applies the inverse delta of p to the current list. An added entry
// with nothing left goes; an updated entry falls back to its previous quantity.
func (e *Engine) undoLocked(p pendingMutation) {
	i := e.basket.Find(p.itemID)
	if i < 0 {
		return
	}
	remaining := e.basket.Items[i].Quantity - p.delta
	switch {
	case remaining > 0:
		e.basket.Items[i].Quantity = remaining
	case p.update:
		e.basket.Items[i].Quantity = p.previous
	default:
		e.basket.Remove(p.itemID)
	}
}

// revert undoes p and, when another mutation persisted the optimistic state in
// the meantime, writes the reverted state back.
func (e *Engine) revert(ctx context.Context, p pendingMutation) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.undoLocked(p)
	if e.persisted == p.persistedAt {
		return nil
	}
	return e.persistLocked(ctx)
}
