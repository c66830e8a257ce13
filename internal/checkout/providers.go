package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_basket/internal/store"
)

// ProviderStore remembers the shopper's default payment provider under one key
// of a blob store.
type ProviderStore struct {
	store store.BlobStore
	key   string
}

func NewProviderStore(s store.BlobStore, key string) *ProviderStore {
	return &ProviderStore{store: s, key: key}
}

// Provider returns the stored default, or "" when none was chosen yet.
func (p *ProviderStore) Provider(ctx context.Context) (string, error) {
	blob, err := p.store.Get(ctx, p.key)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load payment provider: %w", err)
	}
	return string(blob), nil
}

func (p *ProviderStore) SetProvider(ctx context.Context, provider string) error {
	if err := p.store.Set(ctx, p.key, []byte(provider)); err != nil {
		return fmt.Errorf("failed to save payment provider: %w", err)
	}
	return nil
}
