// Package reconcile pushes locally recorded sales to the backend in one batch
// and folds the server's verdict back into local state.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"boutique/terminal/internal/domain"
	"boutique/terminal/internal/store"
	"boutique/terminal/internal/xid"
)

const missingResultMessage = "No result returned by server for this sale."

var (
	// ErrNotSent means the batch never produced a usable server answer; no
	// local state was changed.
	ErrNotSent    = errors.New("sync batch not sent")
	ErrInProgress = errors.New("sync already in progress")
)

type Submitter interface {
	SyncSales(ctx context.Context, sales []domain.Sale) (domain.SyncOutcome, error)
}

type Reconciler struct {
	ledger  store.SaleLedger
	book    store.StockBook
	backend Submitter
	log     zerolog.Logger

	running sync.Mutex
}

func New(ledger store.SaleLedger, book store.StockBook, backend Submitter, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		ledger:  ledger,
		book:    book,
		backend: backend,
		log:     log.With().Str("component", "reconcile").Logger(),
	}
}

// Sync submits every pending sale and reconciles the answer. Accepted and
// duplicate sales leave the queue; other rejections stay for the operator to
// resolve. Stock updates are applied whatever the verdict.
func (r *Reconciler) Sync(ctx context.Context) (Report, error) {
	if !r.running.TryLock() {
		return Report{}, ErrInProgress
	}
	defer r.running.Unlock()

	pending, err := r.ledger.ListPendingSales(ctx, 0)
	if err != nil {
		return Report{}, fmt.Errorf("list pending sales: %w", err)
	}
	if len(pending) == 0 {
		return Report{}, nil
	}

	log := r.log.With().Str("batch", xid.New("sync")).Logger()
	log.Info().Int("pending", len(pending)).Msg("submitting sync batch")

	outcome, err := r.backend.SyncSales(ctx, pending)
	if err != nil {
		log.Warn().Err(err).Int("pending", len(pending)).Msg("sync batch not sent")
		return Report{}, fmt.Errorf("%w: %v", ErrNotSent, err)
	}

	report := r.partition(pending, outcome)

	if len(outcome.StockUpdates) > 0 {
		if err := r.book.ApplyStockUpdates(ctx, outcome.StockUpdates); err != nil {
			log.Error().Err(err).Int("updates", len(outcome.StockUpdates)).Msg("apply stock updates failed")
		} else {
			report.StockUpdates = len(outcome.StockUpdates)
		}
	}

	done := make([]string, 0, len(report.Accepted))
	done = append(done, report.Accepted...)
	for _, rej := range report.Rejected {
		if rej.Reason.Terminal() {
			done = append(done, rej.SaleID)
		}
	}
	if len(done) > 0 {
		if err := r.ledger.MarkSalesSynced(ctx, done); err != nil {
			log.Error().Err(err).Strs("sales", done).Msg("mark sales synced failed")
		}
	}

	log.Info().
		Int("submitted", report.Submitted).
		Int("accepted", len(report.Accepted)).
		Int("rejected", len(report.Rejected)).
		Int("stock_updates", report.StockUpdates).
		Msg("sync reconciled")
	return report, nil
}

// partition splits the submitted ids into accepted and rejected. Every
// submitted id ends up in exactly one side; a rejection wins over an
// acceptance for the same id, and ids the server did not mention are
// rejected as unknown.
func (r *Reconciler) partition(pending []domain.Sale, outcome domain.SyncOutcome) Report {
	submitted := make(map[string]struct{}, len(pending))
	for _, s := range pending {
		submitted[s.InvoiceNumber] = struct{}{}
	}

	rejected := make(map[string]domain.Rejection, len(outcome.Rejected))
	for _, rej := range outcome.Rejected {
		if _, ok := submitted[rej.SaleID]; !ok {
			r.log.Warn().Str("sale", rej.SaleID).Msg("server rejected a sale that was not submitted")
			continue
		}
		if _, dup := rejected[rej.SaleID]; dup {
			continue
		}
		reason := rej.Reason
		if reason == nil {
			reason = domain.Unknown{Message: missingResultMessage}
		}
		rejected[rej.SaleID] = reason
	}

	accepted := make(map[string]struct{}, len(outcome.Accepted))
	for _, id := range outcome.Accepted {
		if _, ok := submitted[id]; !ok {
			r.log.Warn().Str("sale", id).Msg("server accepted a sale that was not submitted")
			continue
		}
		if _, ok := rejected[id]; ok {
			r.log.Warn().Str("sale", id).Msg("sale both accepted and rejected, keeping rejection")
			continue
		}
		accepted[id] = struct{}{}
	}

	report := Report{
		Submitted: len(pending),
		Accepted:  make([]string, 0, len(accepted)),
		Rejected:  make([]domain.RejectedSale, 0, len(pending)-len(accepted)),
	}
	for _, s := range pending {
		id := s.InvoiceNumber
		if _, ok := accepted[id]; ok {
			report.Accepted = append(report.Accepted, id)
			continue
		}
		reason, ok := rejected[id]
		if !ok {
			reason = domain.Unknown{Message: missingResultMessage}
		}
		report.Rejected = append(report.Rejected, domain.RejectedSale{SaleID: id, Reason: reason})
	}
	return report
}
