package store

import (
	"context"
	"errors"
	"time"

	"boutique/terminal/internal/domain"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidSale = errors.New("invalid sale")
)

// DraftStorage keeps serialized drafts under a caller-chosen key.
type DraftStorage interface {
	// GetDraft returns ErrNotFound when nothing is stored under key.
	GetDraft(ctx context.Context, key string) ([]byte, error)
	PutDraft(ctx context.Context, key string, payload []byte) error
	// DeleteDraft succeeds when the key is already absent.
	DeleteDraft(ctx context.Context, key string) error
}

// SaleLedger is the local record of sales made on this terminal.
type SaleLedger interface {
	SaveSale(ctx context.Context, sale domain.Sale) error
	GetSale(ctx context.Context, invoiceNumber string) (*domain.Sale, error)
	ListPendingSales(ctx context.Context, limit int) ([]domain.Sale, error)
	MarkSalesSynced(ctx context.Context, invoiceNumbers []string) error
	MarkSaleCancelled(ctx context.Context, invoiceNumber string, reason string, at time.Time) error
}

// StockBook is the local read-model of article stock and price.
type StockBook interface {
	ListArticles(ctx context.Context) ([]domain.Article, error)
	ReplaceArticles(ctx context.Context, articles []domain.Article) error
	ApplyStockUpdates(ctx context.Context, updates []domain.StockUpdate) error
}

type Repository interface {
	DraftStorage
	SaleLedger
	StockBook
}

// DraftKey is the storage key of the draft owned by one form instance.
func DraftKey(formID string) string {
	return "draft:" + formID
}
