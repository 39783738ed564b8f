// Package cancellation decides whether a completed sale can still be voided.
//
// The answer is advisory: the backend re-checks the window and its refusal
// always wins over what is computed here.
package cancellation

import (
	"fmt"
	"time"

	"boutique/terminal/internal/domain"
)

// Window is how long after the sale date a sale may be voided.
const Window = time.Hour

const windowMinutes = int(Window / time.Minute)

type State string

const (
	StateCancelled   State = "cancelled"
	StateCancellable State = "cancellable"
	StateExpired     State = "expired"
)

type Status struct {
	State            State      `json:"state"`
	MinutesRemaining int        `json:"minutes_remaining"`
	CancelledAt      *time.Time `json:"cancelled_at,omitempty"`
	Label            string     `json:"label"`
}

func CanCancel(sale domain.Sale, now time.Time) bool {
	if sale.Cancelled || sale.SaleDate.IsZero() {
		return false
	}
	return now.Sub(sale.SaleDate) <= Window
}

func MinutesRemaining(sale domain.Sale, now time.Time) int {
	if !CanCancel(sale, now) {
		return 0
	}
	elapsed := int(now.Sub(sale.SaleDate) / time.Minute)
	if elapsed < 0 {
		// sale date ahead of the local clock
		elapsed = 0
	}
	return max(0, windowMinutes-elapsed)
}

func Evaluate(sale domain.Sale, now time.Time) Status {
	switch {
	case sale.Cancelled:
		status := Status{State: StateCancelled, CancelledAt: sale.CancelledAt, Label: "Cancelled"}
		if sale.CancelledAt != nil {
			status.Label = fmt.Sprintf("Cancelled on %s", sale.CancelledAt.Local().Format("02/01/2006 15:04"))
		}
		return status
	case CanCancel(sale, now):
		remaining := MinutesRemaining(sale, now)
		return Status{
			State:            StateCancellable,
			MinutesRemaining: remaining,
			Label:            fmt.Sprintf("Cancellable (%d min remaining)", remaining),
		}
	default:
		return Status{State: StateExpired, Label: "Cancellation window has passed"}
	}
}
