package store

import (
	"context"
	"errors"
)

// BlobStore persists one serialized blob per key.
// Consumers define this interface, the backends below implement it.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, blob []byte) error
}

var ErrNotFound = errors.New("blob not found")

// BasketKey is the key under which a basket snapshot is stored.
func BasketKey(basketID string) string {
	return "basket:" + basketID
}

// ProviderKey is the key of the remembered payment provider for a basket.
func ProviderKey(basketID string) string {
	return "provider:" + basketID
}
