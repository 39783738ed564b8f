package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boutique/terminal/internal/domain"
	"boutique/terminal/internal/store/memory"
)

type fakeBackend struct {
	outcome domain.SyncOutcome
	err     error
	got     []domain.Sale
	calls   int
}

func (f *fakeBackend) SyncSales(_ context.Context, sales []domain.Sale) (domain.SyncOutcome, error) {
	f.calls++
	f.got = sales
	return f.outcome, f.err
}

func seedPending(t *testing.T, repo *memory.Store, ids ...string) {
	t.Helper()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range ids {
		require.NoError(t, repo.SaveSale(context.Background(), domain.Sale{
			InvoiceNumber: id,
			SaleDate:      base.Add(time.Duration(i) * time.Minute),
			PaymentMode:   domain.PaymentModeCash,
			Lines:         []domain.SaleLine{{ArticleRef: 81, Quantity: 1, UnitPrice: decimal.NewFromInt(75600)}},
		}))
	}
}

func pendingIDs(t *testing.T, repo *memory.Store) []string {
	t.Helper()
	pending, err := repo.ListPendingSales(context.Background(), 0)
	require.NoError(t, err)
	ids := make([]string, 0, len(pending))
	for _, s := range pending {
		ids = append(ids, s.InvoiceNumber)
	}
	return ids
}

func TestSyncMixedOutcome(t *testing.T) {
	repo := memory.NewSeeded()
	seedPending(t, repo, "S1", "S2", "S3")
	backend := &fakeBackend{outcome: domain.SyncOutcome{
		Accepted: []string{"S1", "S2"},
		Rejected: []domain.RejectedSale{{
			SaleID: "S3",
			Reason: domain.InsufficientStock{ArticleRef: 81, ArticleName: "Vegetable oil", Requested: 10, Available: 4},
		}},
		StockUpdates: []domain.StockUpdate{{ArticleRef: 81, NewStock: 4}},
	}}

	report, err := New(repo, repo, backend, zerolog.Nop()).Sync(context.Background())
	require.NoError(t, err)

	assert.Len(t, backend.got, 3)
	assert.Equal(t, []string{"S1", "S2"}, report.Accepted)
	require.Len(t, report.Rejected, 1)
	assert.Equal(t, "S3", report.Rejected[0].SaleID)
	assert.Equal(t, domain.ReasonInsufficientStock, report.Rejected[0].Reason.Code())

	p := report.Rejected[0].Reason.Presentation()
	assert.Contains(t, p.Explanation, "Requested: 10")
	assert.Contains(t, p.Explanation, "Available: 4")

	assert.Equal(t, []string{"S3"}, pendingIDs(t, repo))

	articles, err := repo.ListArticles(context.Background())
	require.NoError(t, err)
	for _, a := range articles {
		if a.ID == 81 {
			assert.Equal(t, 4, a.Stock)
		}
	}

	summary := report.Summary()
	assert.Equal(t, SummaryPartial, summary.Kind)
	assert.Equal(t, 1, report.StockUpdates)
}

func TestSyncNothingPendingSendsNothing(t *testing.T) {
	backend := &fakeBackend{}
	report, err := New(memory.New(), memory.New(), backend, zerolog.Nop()).Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, backend.calls)
	assert.Equal(t, SummaryEmpty, report.Summary().Kind)
}

func TestSyncTransportFailureLeavesStateUntouched(t *testing.T) {
	repo := memory.NewSeeded()
	seedPending(t, repo, "S1", "S2")
	backend := &fakeBackend{err: errors.New("connection refused")}

	_, err := New(repo, repo, backend, zerolog.Nop()).Sync(context.Background())
	assert.ErrorIs(t, err, ErrNotSent)
	assert.Equal(t, []string{"S1", "S2"}, pendingIDs(t, repo))
}

func TestSyncDuplicateLeavesQueue(t *testing.T) {
	repo := memory.New()
	seedPending(t, repo, "S1", "S2")
	backend := &fakeBackend{outcome: domain.SyncOutcome{
		Rejected: []domain.RejectedSale{
			{SaleID: "S1", Reason: domain.Duplicate{}},
			{SaleID: "S2", Reason: domain.ArticleNotFound{ArticleRef: 5}},
		},
	}}

	report, err := New(repo, repo, backend, zerolog.Nop()).Sync(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Accepted)
	assert.Len(t, report.Rejected, 2)
	assert.Equal(t, SummaryAllRejected, report.Summary().Kind)
	assert.Equal(t, []string{"S2"}, pendingIDs(t, repo))

	view := report.View()
	require.Len(t, view.Rejected, 2)
	assert.False(t, view.Rejected[0].Queued)
	assert.True(t, view.Rejected[1].Queued)
	assert.Equal(t, "Article not found", view.Rejected[1].Title)
}

func TestSyncServerOmissionsAndConflicts(t *testing.T) {
	repo := memory.New()
	seedPending(t, repo, "S1", "S2", "S3")
	backend := &fakeBackend{outcome: domain.SyncOutcome{
		Accepted: []string{"S1", "S2", "GHOST"},
		Rejected: []domain.RejectedSale{
			{SaleID: "S2", Reason: domain.PriceChanged{ArticleRef: 81}},
			{SaleID: "OTHER", Reason: domain.Duplicate{}},
		},
	}}

	report, err := New(repo, repo, backend, zerolog.Nop()).Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"S1"}, report.Accepted)
	require.Len(t, report.Rejected, 2)
	assert.Equal(t, "S2", report.Rejected[0].SaleID)
	assert.Equal(t, domain.ReasonPriceChanged, report.Rejected[0].Reason.Code())
	assert.Equal(t, "S3", report.Rejected[1].SaleID)
	assert.Equal(t, domain.ReasonUnknown, report.Rejected[1].Reason.Code())
	assert.Equal(t, missingResultMessage, report.Rejected[1].Reason.Presentation().Explanation)
}

func TestSyncInProgress(t *testing.T) {
	r := New(memory.New(), memory.New(), &fakeBackend{}, zerolog.Nop())
	r.running.Lock()
	defer r.running.Unlock()

	_, err := r.Sync(context.Background())
	assert.ErrorIs(t, err, ErrInProgress)
}

func TestPartitionCoversEverySubmittedID(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	reasons := []domain.Rejection{
		domain.InsufficientStock{}, domain.ArticleNotFound{}, domain.PriceChanged{},
		domain.Duplicate{}, domain.Unknown{Message: "x"},
	}
	r := New(memory.New(), memory.New(), &fakeBackend{}, zerolog.Nop())

	for round := 0; round < 200; round++ {
		n := rng.Intn(8)
		pending := make([]domain.Sale, 0, n)
		var outcome domain.SyncOutcome
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("S%d", i)
			pending = append(pending, domain.Sale{InvoiceNumber: id})
			switch rng.Intn(4) {
			case 0:
				outcome.Accepted = append(outcome.Accepted, id)
			case 1:
				outcome.Rejected = append(outcome.Rejected, domain.RejectedSale{SaleID: id, Reason: reasons[rng.Intn(len(reasons))]})
			case 2:
				outcome.Accepted = append(outcome.Accepted, id)
				outcome.Rejected = append(outcome.Rejected, domain.RejectedSale{SaleID: id, Reason: reasons[rng.Intn(len(reasons))]})
			}
		}
		if rng.Intn(2) == 0 {
			outcome.Accepted = append(outcome.Accepted, "EXTRA")
		}

		report := r.partition(pending, outcome)

		all := append([]string{}, report.Accepted...)
		all = append(all, domain.SyncOutcome{Rejected: report.Rejected}.RejectedIDs()...)
		sort.Strings(all)

		want := make([]string, 0, n)
		for _, s := range pending {
			want = append(want, s.InvoiceNumber)
		}
		sort.Strings(want)
		require.Equal(t, want, all, "round %d", round)
	}
}

func TestSummaryAllAccepted(t *testing.T) {
	report := Report{Submitted: 2, Accepted: []string{"A", "B"}}
	summary := report.Summary()
	assert.Equal(t, SummaryAllAccepted, summary.Kind)
	assert.Equal(t, "All 2 sale(s) were synced.", summary.Message)
}
