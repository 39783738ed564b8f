package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"boutique/terminal/internal/backend"
	"boutique/terminal/internal/cancellation"
	"boutique/terminal/internal/catalog"
	"boutique/terminal/internal/domain"
	"boutique/terminal/internal/draft"
	"boutique/terminal/internal/pricing"
	"boutique/terminal/internal/reconcile"
	"boutique/terminal/internal/store"
	"boutique/terminal/internal/xid"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotSynced      = errors.New("sale not synced yet")
)

// CancelRefusedError carries a cancellation refusal, either decided locally
// from the sale date or returned by the server.
type CancelRefusedError struct {
	Failure domain.CancelFailure
	Local   bool
}

func (e *CancelRefusedError) Error() string {
	return e.Failure.Message()
}

type Backend interface {
	catalog.Source
	reconcile.Submitter
	SalesHistory(ctx context.Context, limit int) ([]domain.Sale, error)
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	CancelSale(ctx context.Context, invoiceNumber string, reason string) (*domain.CancelSaleResponse, error)
}

type Options struct {
	DeviceSerial string
	HistoryLimit int
	Calculator   pricing.Calculator
	Logger       zerolog.Logger
	Now          func() time.Time
}

type Service struct {
	repo         store.Repository
	drafts       store.DraftStorage
	backend      Backend
	catalog      *catalog.Loader
	reconciler   *reconcile.Reconciler
	calc         pricing.Calculator
	deviceSerial string
	historyLimit int
	log          zerolog.Logger
	now          func() time.Time

	mu       sync.Mutex
	sessions map[string]*draft.Session
}

// New wires the service. drafts may be nil, in which case drafts live in
// repo alongside the sale ledger.
func New(repo store.Repository, drafts store.DraftStorage, api Backend, loader *catalog.Loader, opts Options) *Service {
	if drafts == nil {
		drafts = repo
	}
	if opts.HistoryLimit < 1 {
		opts.HistoryLimit = 50
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		repo:         repo,
		drafts:       drafts,
		backend:      api,
		catalog:      loader,
		reconciler:   reconcile.New(repo, repo, api, opts.Logger),
		calc:         opts.Calculator,
		deviceSerial: opts.DeviceSerial,
		historyLimit: opts.HistoryLimit,
		log:          opts.Logger.With().Str("component", "service").Logger(),
		now:          opts.Now,
		sessions:     make(map[string]*draft.Session),
	}
}

func (s *Service) Catalog(ctx context.Context, refresh bool) (*domain.Catalog, error) {
	if refresh {
		return s.catalog.Refresh(ctx)
	}
	return s.catalog.Snapshot(ctx)
}

// Checkout records a sale. When the backend cannot be reached the sale is
// kept locally as pending and sent by the next sync.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	req.PaymentMode = strings.ToUpper(strings.TrimSpace(req.PaymentMode))
	if req.PaymentMode == "" {
		req.PaymentMode = domain.PaymentModeCash
	}
	if !isSupportedPaymentMode(req.PaymentMode) {
		return domain.CheckoutResponse{}, fmt.Errorf("%w: unsupported payment mode %q", ErrInvalidRequest, req.PaymentMode)
	}
	if len(req.Lines) == 0 {
		return domain.CheckoutResponse{}, fmt.Errorf("%w: no lines", ErrInvalidRequest)
	}

	snapshot, err := s.catalog.Snapshot(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("checkout without catalog snapshot")
	}

	lines := make([]domain.SaleLine, 0, len(req.Lines))
	total := decimal.Zero
	for i, line := range req.Lines {
		if line.ArticleRef < 1 || line.Quantity < 1 || line.UnitPrice.IsNegative() {
			return domain.CheckoutResponse{}, fmt.Errorf("%w: line %d", ErrInvalidRequest, i+1)
		}
		if article, ok := snapshot.Article(line.ArticleRef); ok {
			if line.ArticleName == "" {
				line.ArticleName = article.Name
			}
			if line.UnitPrice.IsZero() {
				line.UnitPrice = article.SalePrice
			}
		} else if snapshot.Len() > 0 {
			return domain.CheckoutResponse{}, fmt.Errorf("%w: line %d: %v", ErrInvalidRequest, i+1, draft.ErrUnknownArticle)
		}
		line.LineTotal = line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
		total = total.Add(line.LineTotal)
		lines = append(lines, line)
	}

	now := s.now().UTC()
	invoice := strings.TrimSpace(req.InvoiceNumber)
	if invoice == "" {
		invoice = xid.InvoiceNumber(s.deviceSerial, now)
	} else {
		_, err := s.repo.GetSale(ctx, invoice)
		switch {
		case err == nil:
			return domain.CheckoutResponse{}, fmt.Errorf("%w: invoice number %s already used", ErrInvalidRequest, invoice)
		case !errors.Is(err, store.ErrNotFound):
			return domain.CheckoutResponse{}, fmt.Errorf("check invoice number %s: %w", invoice, err)
		}
	}

	sale := domain.Sale{
		InvoiceNumber: invoice,
		SaleDate:      now,
		TotalAmount:   total,
		PaymentMode:   req.PaymentMode,
		Lines:         lines,
	}

	created, err := s.backend.CreateSale(ctx, sale)
	if err != nil {
		if !backend.Unavailable(err) {
			return domain.CheckoutResponse{}, err
		}
		if err := s.repo.SaveSale(ctx, sale); err != nil {
			return domain.CheckoutResponse{}, fmt.Errorf("queue sale %s: %w", sale.InvoiceNumber, err)
		}
		s.log.Info().Str("sale", sale.InvoiceNumber).Err(err).Msg("backend unavailable, sale queued for sync")
		return domain.CheckoutResponse{Sale: sale, Queued: true}, nil
	}

	created.Synced = true
	if created.SaleDate.IsZero() {
		created.SaleDate = sale.SaleDate
	}
	if err := s.repo.SaveSale(ctx, *created); err != nil {
		s.log.Warn().Err(err).Str("sale", created.InvoiceNumber).Msg("record synced sale locally failed")
	}
	return domain.CheckoutResponse{Sale: *created}, nil
}

type HistoryEntry struct {
	domain.Sale
	Cancellation cancellation.Status `json:"cancellation"`
}

func (s *Service) SalesHistory(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit < 1 || limit > s.historyLimit {
		limit = s.historyLimit
	}
	sales, err := s.backend.SalesHistory(ctx, limit)
	if err != nil {
		return nil, err
	}

	now := s.now()
	entries := make([]HistoryEntry, 0, len(sales))
	for _, sale := range sales {
		entries = append(entries, HistoryEntry{
			Sale:         sale,
			Cancellation: cancellation.Evaluate(sale, now),
		})
	}
	return entries, nil
}

// CancelSale checks the local copy of the sale against the cancellation
// window, then asks the server, whose answer is final.
func (s *Service) CancelSale(ctx context.Context, req domain.CancelSaleRequest) (domain.CancelSaleResponse, error) {
	req.InvoiceNumber = strings.TrimSpace(req.InvoiceNumber)
	req.Reason = strings.TrimSpace(req.Reason)
	if req.InvoiceNumber == "" {
		return domain.CancelSaleResponse{}, fmt.Errorf("%w: invoice number required", ErrInvalidRequest)
	}

	local, err := s.repo.GetSale(ctx, req.InvoiceNumber)
	switch {
	case err == nil:
		if !local.Synced {
			return domain.CancelSaleResponse{}, ErrNotSynced
		}
		if refusal := localRefusal(*local, s.now()); refusal != nil {
			return domain.CancelSaleResponse{}, refusal
		}
	case !errors.Is(err, store.ErrNotFound):
		s.log.Warn().Err(err).Str("sale", req.InvoiceNumber).Msg("read local sale failed")
	}

	resp, err := s.backend.CancelSale(ctx, req.InvoiceNumber, req.Reason)
	if err != nil {
		var apiErr *backend.APIError
		if errors.As(err, &apiErr) && apiErr.Status < 500 {
			return domain.CancelSaleResponse{}, &CancelRefusedError{Failure: apiErr.CancelFailure()}
		}
		return domain.CancelSaleResponse{}, err
	}

	if err := s.repo.MarkSaleCancelled(ctx, req.InvoiceNumber, req.Reason, s.now()); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.log.Warn().Err(err).Str("sale", req.InvoiceNumber).Msg("mark local sale cancelled failed")
	}
	s.log.Info().Str("sale", req.InvoiceNumber).Msg("sale cancelled")
	return *resp, nil
}

func (s *Service) SyncPending(ctx context.Context) (reconcile.Report, error) {
	return s.reconciler.Sync(ctx)
}

func (s *Service) PreviewLine(item domain.LineItem, header domain.DraftHeader) pricing.LineResult {
	return s.calc.Line(item, header)
}

func localRefusal(sale domain.Sale, now time.Time) *CancelRefusedError {
	if sale.Cancelled {
		return &CancelRefusedError{
			Failure: domain.CancelFailure{Code: domain.CancelCodeAlreadyCancelled},
			Local:   true,
		}
	}
	if cancellation.CanCancel(sale, now) || sale.SaleDate.IsZero() {
		return nil
	}
	elapsed := int(now.Sub(sale.SaleDate) / time.Minute)
	maxMinutes := int(cancellation.Window / time.Minute)
	return &CancelRefusedError{
		Failure: domain.CancelFailure{
			Code:           domain.CancelCodeTimeout,
			ElapsedMinutes: &elapsed,
			MaxMinutes:     &maxMinutes,
		},
		Local: true,
	}
}

func isSupportedPaymentMode(mode string) bool {
	switch mode {
	case domain.PaymentModeCash, domain.PaymentModeCard, domain.PaymentModeMobileMoney:
		return true
	default:
		return false
	}
}
