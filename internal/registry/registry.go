// Package registry keeps one basket engine, with its checkout collaborators,
// per basket id.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fjod/go_basket/internal/address"
	"github.com/fjod/go_basket/internal/basket"
	"github.com/fjod/go_basket/internal/checkout"
	"github.com/fjod/go_basket/internal/metrics"
	"github.com/fjod/go_basket/internal/notify"
	"github.com/fjod/go_basket/internal/store"
	"github.com/fjod/go_basket/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var ErrInvalidID = errors.New("invalid basket id")

// Config wires every session the registry opens. IdleTTL zero keeps sessions
// for the life of the process.
type Config struct {
	Store     store.BlobStore
	Bus       notify.Publisher
	Validator basket.Validator
	Pricer    basket.Pricer
	Submitter checkout.Submitter
	Namespace string
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	IdleTTL   time.Duration
}

// Session bundles everything one shopper's basket needs.
type Session struct {
	ID        string
	Engine    *basket.Engine
	Checkout  *checkout.Orchestrator
	Addresses *address.Selection
	Providers *checkout.ProviderStore
}

type entry struct {
	session  *Session
	lastUsed atomic.Int64 // unix nanos
}

// Registry hands out one session per basket id. Sessions idle for longer than
// Config.IdleTTL are dropped and rehydrate from the store on next use.
type Registry struct {
	cfg Config
	log *zap.Logger
	now func() time.Time

	mu       sync.RWMutex
	sessions map[string]*entry
	sfg      singleflight.Group // collapses concurrent first loads of one basket
}

func New(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg,
		log:      logger.OrNop(cfg.Logger),
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
}

// Get returns the session for id, rehydrating its engine from the store on
// first use.
func (r *Registry) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	if s, ok := r.lookup(id); ok {
		return s, nil
	}

	v, err, _ := r.sfg.Do(id, func() (interface{}, error) {
		if s, ok := r.lookup(id); ok {
			return s, nil
		}

		s, err := r.open(ctx, id)
		if err != nil {
			return nil, err
		}

		e := &entry{session: s}
		e.lastUsed.Store(r.now().UnixNano())
		r.mu.Lock()
		r.sessions[id] = e
		r.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (r *Registry) lookup(id string) (*Session, bool) {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	e.lastUsed.Store(r.now().UnixNano())
	return e.session, true
}

func (r *Registry) open(ctx context.Context, id string) (*Session, error) {
	engine, err := basket.New(ctx, store.BasketKey(id), basket.Dependencies{
		Store:     r.cfg.Store,
		Bus:       r.cfg.Bus,
		Validator: r.cfg.Validator,
		Pricer:    r.cfg.Pricer,
		Namespace: r.cfg.Namespace,
		Logger:    r.cfg.Logger,
		Metrics:   r.cfg.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open basket %s: %w", id, err)
	}

	addresses := address.NewSelection()
	providers := checkout.NewProviderStore(r.cfg.Store, store.ProviderKey(id))
	r.log.Debug("basket opened", zap.String("basket_id", id))

	return &Session{
		ID:        id,
		Engine:    engine,
		Checkout:  checkout.New(engine, r.cfg.Submitter, addresses, providers, r.cfg.Logger),
		Addresses: addresses,
		Providers: providers,
	}, nil
}

// Clear empties the basket with the given id and forgets its addresses.
func (r *Registry) Clear(ctx context.Context, id string) error {
	s, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.Engine.Clear(ctx); err != nil {
		return err
	}
	s.Addresses.Clear()
	return nil
}

// EvictIdle drops every session unused since before cutoff and returns how
// many went.
func (r *Registry) EvictIdle(cutoff time.Time) int {
	limit := cutoff.UnixNano()

	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for id, e := range r.sessions {
		if e.lastUsed.Load() < limit {
			delete(r.sessions, id)
			evicted++
		}
	}
	return evicted
}

// Run evicts idle sessions until ctx is done. It returns at once when IdleTTL
// is zero.
func (r *Registry) Run(ctx context.Context) {
	if r.cfg.IdleTTL <= 0 {
		return
	}

	ticker := time.NewTicker(r.cfg.IdleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.EvictIdle(r.now().Add(-r.cfg.IdleTTL)); n > 0 {
				r.log.Debug("idle baskets evicted", zap.Int("evicted", n), zap.Int("open", r.Len()))
			}
		}
	}
}

// Len is the number of open sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
