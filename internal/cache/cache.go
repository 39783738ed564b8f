package cache

import (
	"context"
	"time"

	"boutique/terminal/internal/domain"
)

// CatalogSnapshot is the cached form of the reference data fetched from the
// backend.
type CatalogSnapshot struct {
	Articles  []domain.Article `json:"articles"`
	FetchedAt time.Time        `json:"fetched_at"`
}

type CatalogCache interface {
	Get(ctx context.Context, key string) (*CatalogSnapshot, bool, error)
	Set(ctx context.Context, key string, value *CatalogSnapshot, ttl time.Duration) error
}

type NoopCatalogCache struct{}

func (NoopCatalogCache) Get(_ context.Context, _ string) (*CatalogSnapshot, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) Set(_ context.Context, _ string, _ *CatalogSnapshot, _ time.Duration) error {
	return nil
}
