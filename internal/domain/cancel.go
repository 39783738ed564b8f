package domain

import "fmt"

const (
	CancelCodeTimeout          = "CANCELLATION_TIMEOUT"
	CancelCodeAlreadyCancelled = "ALREADY_CANCELLED"
)

// CancelFailure is a structured refusal from POST /sales/cancel.
type CancelFailure struct {
	Code           string `json:"code"`
	Error          string `json:"error"`
	ElapsedMinutes *int   `json:"elapsed_minutes,omitempty"`
	MaxMinutes     *int   `json:"max_minutes,omitempty"`
}

// Message renders the refusal using the server's own numbers; the client
// clock is never consulted here.
func (f CancelFailure) Message() string {
	switch f.Code {
	case CancelCodeTimeout:
		msg := "The cancellation window (1 hour) has passed."
		if f.ElapsedMinutes != nil {
			msg += fmt.Sprintf("\n\nElapsed: %d minutes", *f.ElapsedMinutes)
		}
		if f.MaxMinutes != nil {
			msg += fmt.Sprintf("\nMaximum: %d minutes", *f.MaxMinutes)
		}
		return msg
	case CancelCodeAlreadyCancelled:
		return "This sale has already been cancelled."
	default:
		if f.Error != "" {
			return f.Error
		}
		return "The sale could not be cancelled."
	}
}

type CancelSaleResponse struct {
	InvoiceNumber string `json:"invoice_number"`
	Cancelled     bool   `json:"cancelled"`
	Message       string `json:"message,omitempty"`
}
