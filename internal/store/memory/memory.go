package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"boutique/terminal/internal/domain"
	"boutique/terminal/internal/store"
)

type Store struct {
	mu       sync.RWMutex
	drafts   map[string][]byte
	sales    map[string]domain.Sale
	articles map[int64]domain.Article
}

func New() *Store {
	return &Store{
		drafts:   make(map[string][]byte),
		sales:    make(map[string]domain.Sale),
		articles: make(map[int64]domain.Article),
	}
}

// NewSeeded returns a store with a small demo catalog for running the agent
// without a backend database.
func NewSeeded() *Store {
	s := New()
	for _, a := range []domain.Article{
		{ID: 119, Code: "ART-FC7CF1F4", Name: "Sardine", SalePrice: decimal.NewFromInt(3000), PurchasePrice: decimal.NewFromInt(2000), Stock: 250, Active: true},
		{ID: 120, Code: "ART-1E0F9183", Name: "Tomato", SalePrice: decimal.NewFromInt(700), PurchasePrice: decimal.NewFromInt(600), Stock: 90, Active: true},
		{ID: 81, Code: "2543", Name: "Vegetable oil", SalePrice: decimal.NewFromInt(75600), PurchasePrice: decimal.NewFromInt(50000), Stock: 30, Active: true},
		{ID: 82, Code: "2698", Name: "Spaghetti", SalePrice: decimal.NewFromInt(1200), PurchasePrice: decimal.NewFromInt(600), Stock: 56, Active: true},
		{ID: 78, Code: "3698", Name: "Juice", SalePrice: decimal.NewFromInt(9000), PurchasePrice: decimal.NewFromInt(7500), Stock: 258, Active: true},
	} {
		s.articles[a.ID] = a
	}
	return s
}

func (s *Store) GetDraft(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payload, ok := s.drafts[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return slices.Clone(payload), nil
}

func (s *Store) PutDraft(_ context.Context, key string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.drafts[key] = slices.Clone(payload)
	return nil
}

func (s *Store) DeleteDraft(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.drafts, key)
	return nil
}

func (s *Store) SaveSale(_ context.Context, sale domain.Sale) error {
	if strings.TrimSpace(sale.InvoiceNumber) == "" {
		return store.ErrInvalidSale
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sale.Lines = slices.Clone(sale.Lines)
	s.sales[sale.InvoiceNumber] = sale
	return nil
}

func (s *Store) GetSale(_ context.Context, invoiceNumber string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[invoiceNumber]
	if !ok {
		return nil, store.ErrNotFound
	}
	sale.Lines = slices.Clone(sale.Lines)
	return &sale, nil
}

func (s *Store) ListPendingSales(_ context.Context, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := make([]domain.Sale, 0)
	for _, sale := range s.sales {
		if sale.Synced {
			continue
		}
		sale.Lines = slices.Clone(sale.Lines)
		pending = append(pending, sale)
	}
	slices.SortFunc(pending, func(a, b domain.Sale) int {
		if c := a.SaleDate.Compare(b.SaleDate); c != 0 {
			return c
		}
		return strings.Compare(a.InvoiceNumber, b.InvoiceNumber)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (s *Store) MarkSalesSynced(_ context.Context, invoiceNumbers []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range invoiceNumbers {
		sale, ok := s.sales[id]
		if !ok {
			continue
		}
		sale.Synced = true
		s.sales[id] = sale
	}
	return nil
}

func (s *Store) MarkSaleCancelled(_ context.Context, invoiceNumber string, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[invoiceNumber]
	if !ok {
		return store.ErrNotFound
	}
	cancelledAt := at.UTC()
	sale.Cancelled = true
	sale.CancelledAt = &cancelledAt
	sale.CancellationReason = reason
	s.sales[invoiceNumber] = sale
	return nil
}

func (s *Store) ListArticles(_ context.Context) ([]domain.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	articles := make([]domain.Article, 0, len(s.articles))
	for _, a := range s.articles {
		articles = append(articles, a)
	}
	slices.SortFunc(articles, func(a, b domain.Article) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	return articles, nil
}

func (s *Store) ReplaceArticles(_ context.Context, articles []domain.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.articles = make(map[int64]domain.Article, len(articles))
	for _, a := range articles {
		s.articles[a.ID] = a
	}
	return nil
}

func (s *Store) ApplyStockUpdates(_ context.Context, updates []domain.StockUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range updates {
		article, ok := s.articles[u.ArticleRef]
		if !ok {
			article = domain.Article{ID: u.ArticleRef, Code: u.Code, Name: u.Name, Active: true}
		}
		article.Stock = u.NewStock
		if !u.NewPrice.IsZero() {
			article.SalePrice = u.NewPrice
		}
		s.articles[u.ArticleRef] = article
	}
	return nil
}
