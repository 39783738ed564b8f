package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"boutique/terminal/internal/domain"
	"boutique/terminal/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS terminal_drafts (
	draft_key  TEXT PRIMARY KEY,
	payload    BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS terminal_sales (
	invoice_number      TEXT PRIMARY KEY,
	sale_date           TIMESTAMPTZ NOT NULL,
	total_amount        NUMERIC(18,2) NOT NULL DEFAULT 0,
	payment_mode        TEXT NOT NULL,
	lines               JSONB NOT NULL DEFAULT '[]'::jsonb,
	cancelled           BOOLEAN NOT NULL DEFAULT false,
	cancelled_at        TIMESTAMPTZ,
	cancellation_reason TEXT NOT NULL DEFAULT '',
	synced              BOOLEAN NOT NULL DEFAULT false,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS terminal_sales_pending_idx
	ON terminal_sales (sale_date)
	WHERE synced = false;

CREATE TABLE IF NOT EXISTS terminal_articles (
	id             BIGINT PRIMARY KEY,
	code           TEXT NOT NULL DEFAULT '',
	name           TEXT NOT NULL,
	sale_price     NUMERIC(18,2) NOT NULL DEFAULT 0,
	purchase_price NUMERIC(18,2) NOT NULL DEFAULT 0,
	stock          INTEGER NOT NULL DEFAULT 0,
	category_id    BIGINT,
	active         BOOLEAN NOT NULL DEFAULT true,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(2)
	db.SetMaxOpenConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the terminal tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) GetDraft(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM terminal_drafts WHERE draft_key = $1
	`, key).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return payload, nil
}

func (s *Store) PutDraft(ctx context.Context, key string, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO terminal_drafts (draft_key, payload, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (draft_key)
		DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()
	`, key, payload)
	return err
}

func (s *Store) DeleteDraft(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM terminal_drafts WHERE draft_key = $1`, key)
	return err
}

func (s *Store) SaveSale(ctx context.Context, sale domain.Sale) error {
	if strings.TrimSpace(sale.InvoiceNumber) == "" {
		return store.ErrInvalidSale
	}

	linesJSON, err := json.Marshal(sale.Lines)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO terminal_sales (
			invoice_number, sale_date, total_amount, payment_mode, lines,
			cancelled, cancelled_at, cancellation_reason, synced, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
		ON CONFLICT (invoice_number)
		DO UPDATE SET
			sale_date = EXCLUDED.sale_date,
			total_amount = EXCLUDED.total_amount,
			payment_mode = EXCLUDED.payment_mode,
			lines = EXCLUDED.lines,
			cancelled = EXCLUDED.cancelled,
			cancelled_at = EXCLUDED.cancelled_at,
			cancellation_reason = EXCLUDED.cancellation_reason,
			synced = EXCLUDED.synced
	`, sale.InvoiceNumber, sale.SaleDate.UTC(), sale.TotalAmount, sale.PaymentMode, linesJSON,
		sale.Cancelled, nullableTime(sale.CancelledAt), sale.CancellationReason, sale.Synced)
	return err
}

const saleColumns = `
	invoice_number, sale_date, total_amount, payment_mode, lines,
	cancelled, cancelled_at, cancellation_reason, synced
`

func (s *Store) GetSale(ctx context.Context, invoiceNumber string) (*domain.Sale, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM terminal_sales WHERE invoice_number = $1`, invoiceNumber)
	sale, err := scanSale(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &sale, nil
}

func (s *Store) ListPendingSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM terminal_sales WHERE synced = false ORDER BY sale_date, invoice_number`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 16)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) MarkSalesSynced(ctx context.Context, invoiceNumbers []string) error {
	if len(invoiceNumbers) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range invoiceNumbers {
		if _, err := tx.ExecContext(ctx, `
			UPDATE terminal_sales SET synced = true WHERE invoice_number = $1
		`, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) MarkSaleCancelled(ctx context.Context, invoiceNumber string, reason string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE terminal_sales
		SET cancelled = true, cancelled_at = $2, cancellation_reason = $3
		WHERE invoice_number = $1
	`, invoiceNumber, at.UTC(), reason)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListArticles(ctx context.Context) ([]domain.Article, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, name, sale_price, purchase_price, stock, category_id, active
		FROM terminal_articles
		ORDER BY lower(name), id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	articles := make([]domain.Article, 0, 128)
	for rows.Next() {
		var (
			a          domain.Article
			categoryID sql.NullInt64
		)
		if err := rows.Scan(&a.ID, &a.Code, &a.Name, &a.SalePrice, &a.PurchasePrice, &a.Stock, &categoryID, &a.Active); err != nil {
			return nil, err
		}
		if categoryID.Valid {
			ref := categoryID.Int64
			a.CategoryRef = &ref
		}
		articles = append(articles, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return articles, nil
}

func (s *Store) ReplaceArticles(ctx context.Context, articles []domain.Article) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM terminal_articles`); err != nil {
		return err
	}
	for _, a := range articles {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO terminal_articles (id, code, name, sale_price, purchase_price, stock, category_id, active, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
			ON CONFLICT (id) DO NOTHING
		`, a.ID, a.Code, a.Name, a.SalePrice, a.PurchasePrice, a.Stock, nullableInt64(a.CategoryRef), a.Active); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ApplyStockUpdates(ctx context.Context, updates []domain.StockUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, u := range updates {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO terminal_articles (id, code, name, sale_price, stock, active, updated_at)
			VALUES ($1, $2, $3, $4, $5, true, now())
			ON CONFLICT (id)
			DO UPDATE SET
				stock = EXCLUDED.stock,
				sale_price = CASE WHEN $6 THEN EXCLUDED.sale_price ELSE terminal_articles.sale_price END,
				updated_at = now()
		`, u.ArticleRef, u.Code, u.Name, u.NewPrice, u.NewStock, !u.NewPrice.IsZero()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (domain.Sale, error) {
	var (
		sale        domain.Sale
		total       decimal.Decimal
		linesJSON   []byte
		cancelledAt sql.NullTime
	)
	if err := row.Scan(
		&sale.InvoiceNumber, &sale.SaleDate, &total, &sale.PaymentMode, &linesJSON,
		&sale.Cancelled, &cancelledAt, &sale.CancellationReason, &sale.Synced,
	); err != nil {
		return domain.Sale{}, err
	}
	sale.TotalAmount = total
	if len(linesJSON) > 0 {
		if err := json.Unmarshal(linesJSON, &sale.Lines); err != nil {
			return domain.Sale{}, fmt.Errorf("decode sale lines %s: %w", sale.InvoiceNumber, err)
		}
	}
	if cancelledAt.Valid {
		at := cancelledAt.Time.UTC()
		sale.CancelledAt = &at
	}
	sale.SaleDate = sale.SaleDate.UTC()
	return sale, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
