// Package catalog loads the per-session reference-data snapshot.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"boutique/terminal/internal/cache"
	"boutique/terminal/internal/domain"
	"boutique/terminal/internal/store"
)

const cacheKey = "catalog:articles"

var ErrUnavailable = errors.New("catalog unavailable")

type Source interface {
	ListArticles(ctx context.Context) ([]domain.Article, error)
}

// Loader fetches the article catalog once and hands out the same immutable
// snapshot until Refresh is called. When the backend cannot be reached it
// falls back to the shared cache, then to the local read-model.
type Loader struct {
	source   Source
	cache    cache.CatalogCache
	book     store.StockBook
	cacheTTL time.Duration
	log      zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	current *domain.Catalog
}

func NewLoader(source Source, cacheStore cache.CatalogCache, book store.StockBook, cacheTTL time.Duration, log zerolog.Logger) *Loader {
	if cacheStore == nil {
		cacheStore = cache.NoopCatalogCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &Loader{
		source:   source,
		cache:    cacheStore,
		book:     book,
		cacheTTL: cacheTTL,
		log:      log.With().Str("component", "catalog").Logger(),
		now:      time.Now,
	}
}

// Snapshot returns the session snapshot, loading it on first use.
func (l *Loader) Snapshot(ctx context.Context) (*domain.Catalog, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current != nil {
		return l.current, nil
	}
	snapshot, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	l.current = snapshot
	return snapshot, nil
}

// Refresh replaces the session snapshot with a fresh load.
func (l *Loader) Refresh(ctx context.Context) (*domain.Catalog, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	snapshot, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	l.current = snapshot
	return snapshot, nil
}

func (l *Loader) load(ctx context.Context) (*domain.Catalog, error) {
	articles, err := l.source.ListArticles(ctx)
	if err == nil {
		fetchedAt := l.now().UTC()
		if err := l.book.ReplaceArticles(ctx, articles); err != nil {
			l.log.Warn().Err(err).Msg("persist catalog to local read-model failed")
		}
		if err := l.cache.Set(ctx, cacheKey, &cache.CatalogSnapshot{Articles: articles, FetchedAt: fetchedAt}, l.cacheTTL); err != nil {
			l.log.Warn().Err(err).Msg("cache catalog snapshot failed")
		}
		l.log.Info().Int("articles", len(articles)).Msg("catalog loaded from backend")
		return domain.NewCatalog(articles, fetchedAt), nil
	}
	sourceErr := err
	l.log.Warn().Err(sourceErr).Msg("backend catalog unavailable, using fallback")

	if cached, ok, err := l.cache.Get(ctx, cacheKey); err == nil && ok {
		l.log.Info().Int("articles", len(cached.Articles)).Time("fetched_at", cached.FetchedAt).Msg("catalog loaded from cache")
		return domain.NewCatalog(cached.Articles, cached.FetchedAt), nil
	} else if err != nil {
		l.log.Warn().Err(err).Msg("read cached catalog failed")
	}

	local, err := l.book.ListArticles(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v (local: %v)", ErrUnavailable, sourceErr, err)
	}
	if len(local) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, sourceErr)
	}
	l.log.Info().Int("articles", len(local)).Msg("catalog loaded from local read-model")
	return domain.NewCatalog(local, time.Time{}), nil
}
