package backend

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"boutique/terminal/internal/domain"
)

type articleWire struct {
	ID            int64           `json:"id"`
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	SalePrice     decimal.Decimal `json:"sale_price"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	Stock         int             `json:"stock"`
	CategoryID    *int64          `json:"category_id"`
	Active        *bool           `json:"active"`
}

func (w articleWire) toDomain() domain.Article {
	active := true
	if w.Active != nil {
		active = *w.Active
	}
	return domain.Article{
		ID:            w.ID,
		Code:          strings.TrimSpace(w.Code),
		Name:          strings.TrimSpace(w.Name),
		SalePrice:     w.SalePrice,
		PurchasePrice: w.PurchasePrice,
		Stock:         w.Stock,
		CategoryRef:   w.CategoryID,
		Active:        active,
	}
}

type saleLineWire struct {
	ArticleID int64           `json:"article_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type saleWire struct {
	InvoiceNumber string         `json:"invoice_number"`
	SaleDate      time.Time      `json:"sale_date"`
	PaymentMode   string         `json:"payment_mode"`
	Lines         []saleLineWire `json:"lines"`
}

func toSaleWire(s domain.Sale) saleWire {
	w := saleWire{
		InvoiceNumber: s.InvoiceNumber,
		SaleDate:      s.SaleDate.UTC(),
		PaymentMode:   s.PaymentMode,
		Lines:         make([]saleLineWire, 0, len(s.Lines)),
	}
	for _, l := range s.Lines {
		w.Lines = append(w.Lines, saleLineWire{
			ArticleID: l.ArticleRef,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		})
	}
	return w
}

type syncRequest struct {
	Sales []saleWire `json:"sales"`
}

type rejectedWire struct {
	SaleID         string          `json:"sale_id"`
	Reason         string          `json:"reason"`
	Message        string          `json:"message"`
	ArticleID      int64           `json:"article_id"`
	ArticleName    string          `json:"article_name"`
	AvailableStock int             `json:"available_stock"`
	RequestedStock int             `json:"requested_stock"`
	ExpectedPrice  decimal.Decimal `json:"expected_price"`
	CurrentPrice   decimal.Decimal `json:"current_price"`
}

type stockUpdateWire struct {
	ArticleID    int64           `json:"article_id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	CurrentStock int             `json:"current_stock"`
	CurrentPrice decimal.Decimal `json:"current_price"`
}

type syncResponse struct {
	Accepted     []string          `json:"accepted"`
	Rejected     []rejectedWire    `json:"rejected"`
	StockUpdates []stockUpdateWire `json:"stock_updates"`
}

func (r syncResponse) toDomain() domain.SyncOutcome {
	out := domain.SyncOutcome{
		Accepted:     make([]string, 0, len(r.Accepted)),
		Rejected:     make([]domain.RejectedSale, 0, len(r.Rejected)),
		StockUpdates: make([]domain.StockUpdate, 0, len(r.StockUpdates)),
	}
	out.Accepted = append(out.Accepted, r.Accepted...)
	for _, rej := range r.Rejected {
		out.Rejected = append(out.Rejected, domain.RejectedSale{
			SaleID: rej.SaleID,
			Reason: ParseRejection(rej),
		})
	}
	for _, u := range r.StockUpdates {
		out.StockUpdates = append(out.StockUpdates, domain.StockUpdate{
			ArticleRef: u.ArticleID,
			Code:       u.Code,
			Name:       u.Name,
			NewStock:   u.CurrentStock,
			NewPrice:   u.CurrentPrice,
		})
	}
	return out
}

// ParseRejection maps a server reason code onto the closed rejection set.
// Unrecognised codes keep the server message verbatim.
func ParseRejection(w rejectedWire) domain.Rejection {
	switch strings.ToUpper(strings.TrimSpace(w.Reason)) {
	case string(domain.ReasonInsufficientStock):
		return domain.InsufficientStock{
			ArticleRef:  w.ArticleID,
			ArticleName: w.ArticleName,
			Requested:   w.RequestedStock,
			Available:   w.AvailableStock,
		}
	case string(domain.ReasonArticleNotFound):
		return domain.ArticleNotFound{ArticleRef: w.ArticleID}
	case string(domain.ReasonPriceChanged), "PRIX_MODIFIE":
		return domain.PriceChanged{
			ArticleRef:  w.ArticleID,
			ArticleName: w.ArticleName,
			Expected:    w.ExpectedPrice,
			Current:     w.CurrentPrice,
		}
	case string(domain.ReasonDuplicate):
		return domain.Duplicate{}
	default:
		return domain.Unknown{RawCode: w.Reason, Message: w.Message}
	}
}

type errorBody struct {
	Error          string `json:"error"`
	Detail         string `json:"detail"`
	Code           string `json:"code"`
	ElapsedMinutes *int   `json:"elapsed_minutes"`
	MaxMinutes     *int   `json:"max_minutes"`
}

func (b errorBody) toAPIError(status int) *APIError {
	msg := b.Error
	if msg == "" {
		msg = b.Detail
	}
	return &APIError{
		Status:         status,
		Code:           b.Code,
		Message:        msg,
		ElapsedMinutes: b.ElapsedMinutes,
		MaxMinutes:     b.MaxMinutes,
	}
}
