package basket

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/fjod/go_basket/internal/domain"
	"github.com/fjod/go_basket/internal/notify"
	"github.com/fjod/go_basket/internal/store"
	"github.com/stretchr/testify/require"
)

const testKey = "basket:test"

// mockValidator returns a fixed outcome and records every candidate list
type mockValidator struct {
	m       sync.Mutex
	outcome domain.ValidationOutcome
	err     error
	calls   [][]domain.LineItem
}

func (v *mockValidator) Validate(_ context.Context, items []domain.LineItem) (domain.ValidationOutcome, error) {
	v.m.Lock()
	defer v.m.Unlock()
	v.calls = append(v.calls, items)
	return v.outcome, v.err
}

func (v *mockValidator) set(outcome domain.ValidationOutcome, err error) {
	v.m.Lock()
	defer v.m.Unlock()
	v.outcome = outcome
	v.err = err
}

func (v *mockValidator) callCount() int {
	v.m.Lock()
	defer v.m.Unlock()
	return len(v.calls)
}

// mockStore wraps the memory store and can fail writes on demand
type mockStore struct {
	*store.MemoryStore
	m      sync.Mutex
	setErr error
	getErr error
	sets   int
}

func newMockStore() *mockStore {
	return &mockStore{MemoryStore: store.NewMemoryStore()}
}

func (s *mockStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.m.Lock()
	err := s.getErr
	s.m.Unlock()
	if err != nil {
		return nil, err
	}
	return s.MemoryStore.Get(ctx, key)
}

func (s *mockStore) Set(ctx context.Context, key string, blob []byte) error {
	s.m.Lock()
	err := s.setErr
	if err == nil {
		s.sets++
	}
	s.m.Unlock()
	if err != nil {
		return err
	}
	return s.MemoryStore.Set(ctx, key, blob)
}

func (s *mockStore) failSets(err error) {
	s.m.Lock()
	defer s.m.Unlock()
	s.setErr = err
}

func (s *mockStore) setCount() int {
	s.m.Lock()
	defer s.m.Unlock()
	return s.sets
}

// persisted decodes whatever the engine last wrote
func (s *mockStore) persisted(t *testing.T) domain.Basket {
	t.Helper()
	blob, err := s.MemoryStore.Get(context.Background(), testKey)
	require.NoError(t, err)
	b, err := domain.DecodeBasket(blob)
	require.NoError(t, err)
	return b
}

// recorder collects bus notifications
type recorder struct {
	m      sync.Mutex
	topics []string
}

func (r *recorder) Fire(topic, _ string) {
	r.m.Lock()
	defer r.m.Unlock()
	r.topics = append(r.topics, topic)
}

func (r *recorder) fired() []string {
	r.m.Lock()
	defer r.m.Unlock()
	return append([]string(nil), r.topics...)
}

func (r *recorder) reset() {
	r.m.Lock()
	defer r.m.Unlock()
	r.topics = nil
}

var _ notify.Publisher = (*recorder)(nil)

type mockPricer struct {
	m     sync.Mutex
	resp  domain.EchoResponse
	err   error
	calls []domain.EchoRequest
}

func (p *mockPricer) Echo(_ context.Context, req domain.EchoRequest) (domain.EchoResponse, error) {
	p.m.Lock()
	defer p.m.Unlock()
	p.calls = append(p.calls, req)
	return p.resp, p.err
}

var errStoreDown = errors.New("store down")

type fixture struct {
	engine    *Engine
	store     *mockStore
	validator *mockValidator
	bus       *recorder
	pricer    *mockPricer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     newMockStore(),
		validator: &mockValidator{outcome: domain.Accept()},
		bus:       &recorder{},
		pricer:    &mockPricer{},
	}
	f.engine = f.newEngine(t)
	return f
}

func (f *fixture) newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(context.Background(), testKey, Dependencies{
		Store:     f.store,
		Bus:       f.bus,
		Validator: f.validator,
		Pricer:    f.pricer,
		Namespace: "active-namespace",
	})
	require.NoError(t, err)
	return e
}

func rejectQuantity(id string, boundary int) domain.ValidationOutcome {
	return domain.Reject(domain.Violations{
		id: domain.FieldViolations{
			"quantity": {{Label: "upperbound", Params: map[string]any{"boundary": boundary}}},
		},
	})
}
