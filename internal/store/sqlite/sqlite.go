// Package sqlite is the device-local repository: drafts, the sale ledger and
// the article read-model in a single sqlite file managed through gorm.
package sqlite

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"boutique/terminal/internal/domain"
	"boutique/terminal/internal/store"
)

type draftRow struct {
	DraftKey  string `gorm:"primaryKey;size:200"`
	Payload   []byte `gorm:"not null"`
	UpdatedAt time.Time
}

func (draftRow) TableName() string { return "drafts" }

type saleRow struct {
	InvoiceNumber      string            `gorm:"primaryKey;size:80"`
	SaleDate           time.Time         `gorm:"not null;index"`
	TotalAmount        decimal.Decimal   `gorm:"type:text;not null"`
	PaymentMode        string            `gorm:"size:32;not null"`
	Lines              []domain.SaleLine `gorm:"serializer:json"`
	Cancelled          bool              `gorm:"not null;default:false"`
	CancelledAt        *time.Time
	CancellationReason string
	Synced             bool `gorm:"not null;default:false;index"`
	CreatedAt          time.Time
}

func (saleRow) TableName() string { return "sales" }

type articleRow struct {
	ID            int64           `gorm:"primaryKey;autoIncrement:false"`
	Code          string          `gorm:"size:64;index"`
	Name          string          `gorm:"not null"`
	SalePrice     decimal.Decimal `gorm:"type:text;not null"`
	PurchasePrice decimal.Decimal `gorm:"type:text;not null"`
	Stock         int             `gorm:"not null;default:0"`
	CategoryID    *int64
	Active        bool `gorm:"not null"`
	UpdatedAt     time.Time
}

func (articleRow) TableName() string { return "articles" }

type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the sqlite database at dsn and migrates it.
// Use "file::memory:?cache=shared" style DSNs in tests.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&draftRow{}, &saleRow{}, &articleRow{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) GetDraft(ctx context.Context, key string) ([]byte, error) {
	var row draftRow
	if err := s.db.WithContext(ctx).First(&row, "draft_key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return row.Payload, nil
}

func (s *Store) PutDraft(ctx context.Context, key string, payload []byte) error {
	row := draftRow{DraftKey: key, Payload: payload, UpdatedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "draft_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&row).Error
}

func (s *Store) DeleteDraft(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Delete(&draftRow{}, "draft_key = ?", key).Error
}

func (s *Store) SaveSale(ctx context.Context, sale domain.Sale) error {
	if strings.TrimSpace(sale.InvoiceNumber) == "" {
		return store.ErrInvalidSale
	}
	row := toSaleRow(sale)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "invoice_number"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"sale_date", "total_amount", "payment_mode", "lines",
			"cancelled", "cancelled_at", "cancellation_reason", "synced",
		}),
	}).Create(&row).Error
}

func (s *Store) GetSale(ctx context.Context, invoiceNumber string) (*domain.Sale, error) {
	var row saleRow
	if err := s.db.WithContext(ctx).First(&row, "invoice_number = ?", invoiceNumber).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale := row.toDomain()
	return &sale, nil
}

func (s *Store) ListPendingSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	q := s.db.WithContext(ctx).Where("synced = ?", false).Order("sale_date, invoice_number")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []saleRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	sales := make([]domain.Sale, 0, len(rows))
	for _, row := range rows {
		sales = append(sales, row.toDomain())
	}
	return sales, nil
}

func (s *Store) MarkSalesSynced(ctx context.Context, invoiceNumbers []string) error {
	if len(invoiceNumbers) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&saleRow{}).
		Where("invoice_number IN ?", invoiceNumbers).
		Update("synced", true).Error
}

func (s *Store) MarkSaleCancelled(ctx context.Context, invoiceNumber string, reason string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&saleRow{}).
		Where("invoice_number = ?", invoiceNumber).
		Updates(map[string]any{
			"cancelled":           true,
			"cancelled_at":        at.UTC(),
			"cancellation_reason": reason,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListArticles(ctx context.Context) ([]domain.Article, error) {
	var rows []articleRow
	if err := s.db.WithContext(ctx).Order("lower(name), id").Find(&rows).Error; err != nil {
		return nil, err
	}
	articles := make([]domain.Article, 0, len(rows))
	for _, row := range rows {
		articles = append(articles, domain.Article{
			ID:            row.ID,
			Code:          row.Code,
			Name:          row.Name,
			SalePrice:     row.SalePrice,
			PurchasePrice: row.PurchasePrice,
			Stock:         row.Stock,
			CategoryRef:   row.CategoryID,
			Active:        row.Active,
		})
	}
	return articles, nil
}

func (s *Store) ReplaceArticles(ctx context.Context, articles []domain.Article) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&articleRow{}).Error; err != nil {
			return err
		}
		if len(articles) == 0 {
			return nil
		}
		rows := make([]articleRow, 0, len(articles))
		for _, a := range articles {
			rows = append(rows, articleRow{
				ID:            a.ID,
				Code:          a.Code,
				Name:          a.Name,
				SalePrice:     a.SalePrice,
				PurchasePrice: a.PurchasePrice,
				Stock:         a.Stock,
				CategoryID:    a.CategoryRef,
				Active:        a.Active,
				UpdatedAt:     now,
			})
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(rows, 200).Error
	})
}

func (s *Store) ApplyStockUpdates(ctx context.Context, updates []domain.StockUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, u := range updates {
			var row articleRow
			err := tx.First(&row, "id = ?", u.ArticleRef).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				row = articleRow{
					ID:            u.ArticleRef,
					Code:          u.Code,
					Name:          u.Name,
					SalePrice:     u.NewPrice,
					PurchasePrice: decimal.Zero,
					Active:        true,
				}
			case err != nil:
				return err
			}
			row.Stock = u.NewStock
			if !u.NewPrice.IsZero() {
				row.SalePrice = u.NewPrice
			}
			row.UpdatedAt = now
			if err := tx.Save(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func toSaleRow(sale domain.Sale) saleRow {
	var cancelledAt *time.Time
	if sale.CancelledAt != nil {
		at := sale.CancelledAt.UTC()
		cancelledAt = &at
	}
	return saleRow{
		InvoiceNumber:      sale.InvoiceNumber,
		SaleDate:           sale.SaleDate.UTC(),
		TotalAmount:        sale.TotalAmount,
		PaymentMode:        sale.PaymentMode,
		Lines:              sale.Lines,
		Cancelled:          sale.Cancelled,
		CancelledAt:        cancelledAt,
		CancellationReason: sale.CancellationReason,
		Synced:             sale.Synced,
		CreatedAt:          time.Now().UTC(),
	}
}

func (r saleRow) toDomain() domain.Sale {
	var cancelledAt *time.Time
	if r.CancelledAt != nil {
		at := r.CancelledAt.UTC()
		cancelledAt = &at
	}
	return domain.Sale{
		InvoiceNumber:      r.InvoiceNumber,
		SaleDate:           r.SaleDate.UTC(),
		TotalAmount:        r.TotalAmount,
		PaymentMode:        r.PaymentMode,
		Lines:              r.Lines,
		Cancelled:          r.Cancelled,
		CancelledAt:        cancelledAt,
		CancellationReason: r.CancellationReason,
		Synced:             r.Synced,
	}
}
