package reconcile

import (
	"fmt"

	"boutique/terminal/internal/domain"
)

type SummaryKind string

const (
	SummaryEmpty       SummaryKind = "empty"
	SummaryAllAccepted SummaryKind = "all_accepted"
	SummaryPartial     SummaryKind = "partial"
	SummaryAllRejected SummaryKind = "all_rejected"
)

type Report struct {
	Submitted    int
	Accepted     []string
	Rejected     []domain.RejectedSale
	StockUpdates int
}

type Summary struct {
	Kind    SummaryKind `json:"kind"`
	Message string      `json:"message"`
}

func (r Report) Summary() Summary {
	switch {
	case r.Submitted == 0:
		return Summary{Kind: SummaryEmpty, Message: "No sales waiting to be synced."}
	case len(r.Rejected) == 0:
		return Summary{Kind: SummaryAllAccepted, Message: fmt.Sprintf("All %d sale(s) were synced.", len(r.Accepted))}
	case len(r.Accepted) == 0:
		return Summary{Kind: SummaryAllRejected, Message: fmt.Sprintf("None of the %d sale(s) could be synced.", len(r.Rejected))}
	default:
		return Summary{
			Kind:    SummaryPartial,
			Message: fmt.Sprintf("%d of %d sale(s) synced, %d rejected.", len(r.Accepted), r.Submitted, len(r.Rejected)),
		}
	}
}

// RejectionView is a rejected sale ready for display.
type RejectionView struct {
	SaleID string            `json:"sale_id"`
	Code   domain.ReasonCode `json:"code"`
	Queued bool              `json:"queued"`
	domain.Presentation
}

func Describe(rej domain.RejectedSale) RejectionView {
	return RejectionView{
		SaleID:       rej.SaleID,
		Code:         rej.Reason.Code(),
		Queued:       !rej.Reason.Terminal(),
		Presentation: rej.Reason.Presentation(),
	}
}

type ReportView struct {
	Summary      Summary         `json:"summary"`
	Submitted    int             `json:"submitted"`
	Accepted     []string        `json:"accepted"`
	Rejected     []RejectionView `json:"rejected"`
	StockUpdates int             `json:"stock_updates"`
}

func (r Report) View() ReportView {
	view := ReportView{
		Summary:      r.Summary(),
		Submitted:    r.Submitted,
		Accepted:     append([]string{}, r.Accepted...),
		Rejected:     make([]RejectionView, 0, len(r.Rejected)),
		StockUpdates: r.StockUpdates,
	}
	for _, rej := range r.Rejected {
		view.Rejected = append(view.Rejected, Describe(rej))
	}
	return view
}
