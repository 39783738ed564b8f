package draft

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"boutique/terminal/internal/domain"
	"boutique/terminal/internal/pricing"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")
	ErrMissingName     = errors.New("article name is required")
	ErrUnknownArticle  = errors.New("article not in catalog")
	ErrLineIndex       = errors.New("line index out of range")
)

// Session is the editing state of one form's draft. Every mutation notifies
// the registered observers with a copy of the new draft. Observers run under
// the session lock and must not call back into the session.
type Session struct {
	mu        sync.Mutex
	store     *Store
	catalog   *domain.Catalog
	calc      pricing.Calculator
	draft     domain.Draft
	observers []func(domain.Draft)
}

// NewSession starts an empty draft and registers store as its first
// observer, so every change is persisted.
func NewSession(store *Store, catalog *domain.Catalog, calc pricing.Calculator) *Session {
	s := &Session{
		store:   store,
		catalog: catalog,
		calc:    calc,
		draft: domain.Draft{
			Version: domain.DraftVersion,
			FormID:  store.FormID(),
			Lines:   []domain.LineItem{},
		},
	}
	s.observers = append(s.observers, store.OnDraftChanged)
	return s
}

func (s *Session) Observe(fn func(domain.Draft)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Restore replaces the session state with whatever Load finds. Nothing is
// saved back.
func (s *Session) Restore(ctx context.Context) LoadResult {
	res := s.store.Load(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case res.Found:
		s.draft = res.Draft.Clone()
	case res.Header != nil:
		s.draft.Header = *res.Header
	}
	return res
}

func (s *Session) Draft() domain.Draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft.Clone()
}

func (s *Session) Totals() pricing.Totals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calc.Totals(s.draft.Lines, s.draft.Header)
}

// AddLine validates and normalizes item and appends it. A code matching a
// catalog article fills the article reference and a missing name.
func (s *Session) AddLine(item domain.LineItem) (domain.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, err := s.prepare(item)
	if err != nil {
		return domain.Draft{}, err
	}
	s.draft.Lines = append(s.draft.Lines, item)
	return s.changed(), nil
}

// SetCatalog attaches a catalog snapshot to a session that started without
// one. A session that already has a snapshot keeps it.
func (s *Session) SetCatalog(c *domain.Catalog) {
	if c == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.catalog == nil {
		s.catalog = c
	}
}

func (s *Session) HasCatalog() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.catalog != nil
}

func (s *Session) prepare(item domain.LineItem) (domain.LineItem, error) {
	item.Code = strings.TrimSpace(item.Code)
	item.Name = strings.TrimSpace(item.Name)

	if item.ArticleRef == nil && item.Code != "" {
		if a, ok := s.catalog.ArticleByCode(item.Code); ok {
			ref := a.ID
			item.ArticleRef = &ref
		}
	}
	if item.ArticleRef != nil && s.catalog.Len() > 0 {
		a, ok := s.catalog.Article(*item.ArticleRef)
		if !ok {
			return item, ErrUnknownArticle
		}
		if item.Name == "" {
			item.Name = a.Name
		}
		if item.Code == "" {
			item.Code = a.Code
		}
		if item.UnitSalePrice.IsZero() {
			item.UnitSalePrice = a.SalePrice
		}
	}
	if item.Name == "" {
		return item, ErrMissingName
	}

	item = s.calc.Normalize(item)
	if item.QuantityUnits <= 0 {
		return item, ErrInvalidQuantity
	}
	return item, nil
}

func (s *Session) RemoveLine(index int) (domain.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.draft.Lines) {
		return domain.Draft{}, ErrLineIndex
	}
	s.draft.Lines = append(s.draft.Lines[:index:index], s.draft.Lines[index+1:]...)
	return s.changed(), nil
}

func (s *Session) SetCurrency(currency string) domain.Draft {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.draft.Header.Currency = strings.ToUpper(strings.TrimSpace(currency))
	return s.changed()
}

func (s *Session) SetExchangeRate(rate decimal.Decimal) domain.Draft {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rate.IsNegative() {
		rate = decimal.Zero
	}
	s.draft.Header.ExchangeRate = rate
	return s.changed()
}

func (s *Session) UpdateHeader(upd domain.DraftHeaderUpdate) domain.Draft {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := &s.draft.Header
	if upd.InvoiceNumber != nil {
		h.InvoiceNumber = strings.TrimSpace(*upd.InvoiceNumber)
	}
	if upd.Date != nil {
		h.Date = strings.TrimSpace(*upd.Date)
	}
	if upd.Currency != nil {
		h.Currency = strings.ToUpper(strings.TrimSpace(*upd.Currency))
	}
	if upd.SupplierRef != nil {
		ref := *upd.SupplierRef
		h.SupplierRef = &ref
	}
	if upd.SupplierName != nil {
		h.SupplierName = strings.TrimSpace(*upd.SupplierName)
	}
	if upd.Notes != nil {
		h.Notes = *upd.Notes
	}
	if upd.ExchangeRate != nil && !upd.ExchangeRate.IsNegative() {
		h.ExchangeRate = *upd.ExchangeRate
	}
	return s.changed()
}

// Replace swaps in a whole draft. Each line goes through the same checks
// as AddLine and the first invalid line rejects the whole draft.
func (s *Session) Replace(d domain.Draft) (domain.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := make([]domain.LineItem, 0, len(d.Lines))
	for i, line := range d.Lines {
		line, err := s.prepare(line)
		if err != nil {
			return domain.Draft{}, fmt.Errorf("line %d: %w", i+1, err)
		}
		lines = append(lines, line)
	}
	s.draft.Header = d.Header
	s.draft.Lines = lines
	return s.changed(), nil
}

// Discard empties the draft and removes it from storage.
func (s *Session) Discard(ctx context.Context) {
	s.mu.Lock()
	s.draft.Header = domain.DraftHeader{}
	s.draft.Lines = []domain.LineItem{}
	s.mu.Unlock()

	s.store.Clear(ctx)
}

// Close performs the teardown save. Empty drafts are not written.
func (s *Session) Close(ctx context.Context) bool {
	s.mu.Lock()
	d := s.draft.Clone()
	s.mu.Unlock()

	if len(d.Lines) == 0 {
		return false
	}
	return s.store.Save(ctx, d)
}

func (s *Session) changed() domain.Draft {
	snapshot := s.draft.Clone()
	for _, fn := range s.observers {
		fn(snapshot.Clone())
	}
	return snapshot
}
