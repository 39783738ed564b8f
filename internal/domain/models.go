package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type QuantityMode string

const (
	QuantityModeUnit   QuantityMode = "UNIT"
	QuantityModeCarton QuantityMode = "CARTON"
)

// LineItem is one article entry of a draft. ArticleRef is nil for an article
// that does not exist on the backend yet.
type LineItem struct {
	ArticleRef          *int64          `json:"article_ref,omitempty"`
	Code                string          `json:"code"`
	Name                string          `json:"name"`
	CategoryRef         *int64          `json:"category_ref,omitempty"`
	CategoryName        string          `json:"category_name,omitempty"`
	Mode                QuantityMode    `json:"quantity_mode"`
	QuantityUnits       int             `json:"quantity_units"`
	UnitPurchasePrice   decimal.Decimal `json:"unit_purchase_price"`
	UnitSalePrice       decimal.Decimal `json:"unit_sale_price"`
	CartonCount         int             `json:"carton_count"`
	UnitsPerCarton      int             `json:"units_per_carton"`
	ExtraUnits          int             `json:"extra_units"`
	CartonPurchasePrice decimal.Decimal `json:"carton_purchase_price"`
	ExtraUnitPrice      decimal.Decimal `json:"extra_unit_price"`
}

func (l LineItem) IsCarton() bool {
	return l.Mode == QuantityModeCarton
}

type DraftHeader struct {
	InvoiceNumber string          `json:"invoice_number"`
	Date          string          `json:"date"`
	Currency      string          `json:"currency"`
	SupplierRef   *int64          `json:"supplier_ref,omitempty"`
	SupplierName  string          `json:"supplier_name,omitempty"`
	Notes         string          `json:"notes"`
	ExchangeRate  decimal.Decimal `json:"exchange_rate"`
}

func (h DraftHeader) IsZero() bool {
	return h.InvoiceNumber == "" && h.Date == "" && h.Currency == "" && h.SupplierRef == nil &&
		h.SupplierName == "" && h.Notes == "" && h.ExchangeRate.IsZero()
}

// DraftHeaderUpdate carries a partial header edit; nil fields are left as is.
type DraftHeaderUpdate struct {
	InvoiceNumber *string          `json:"invoice_number,omitempty"`
	Date          *string          `json:"date,omitempty"`
	Currency      *string          `json:"currency,omitempty"`
	SupplierRef   *int64           `json:"supplier_ref,omitempty"`
	SupplierName  *string          `json:"supplier_name,omitempty"`
	Notes         *string          `json:"notes,omitempty"`
	ExchangeRate  *decimal.Decimal `json:"exchange_rate,omitempty"`
}

const DraftVersion = 1

type Draft struct {
	Version int         `json:"version"`
	FormID  string      `json:"form_id"`
	Header  DraftHeader `json:"header"`
	Lines   []LineItem  `json:"lines"`
	SavedAt time.Time   `json:"saved_at"`
}

// Clone returns a copy that shares no slices with d.
func (d Draft) Clone() Draft {
	out := d
	out.Lines = append([]LineItem(nil), d.Lines...)
	return out
}

type Article struct {
	ID            int64           `json:"id"`
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	SalePrice     decimal.Decimal `json:"sale_price"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	Stock         int             `json:"stock"`
	CategoryRef   *int64          `json:"category_id,omitempty"`
	Active        bool            `json:"active"`
}

const (
	PaymentModeCash        = "CASH"
	PaymentModeCard        = "CARD"
	PaymentModeMobileMoney = "MOBILE_MONEY"
)

type SaleLine struct {
	ArticleRef  int64           `json:"article_id"`
	ArticleName string          `json:"article_name,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

type Sale struct {
	InvoiceNumber      string          `json:"invoice_number"`
	SaleDate           time.Time       `json:"sale_date"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	PaymentMode        string          `json:"payment_mode"`
	Lines              []SaleLine      `json:"lines"`
	Cancelled          bool            `json:"cancelled"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty"`
	CancellationReason string          `json:"cancellation_reason,omitempty"`
	Synced             bool            `json:"synced"`
}

type CheckoutRequest struct {
	InvoiceNumber string     `json:"invoice_number,omitempty"`
	PaymentMode   string     `json:"payment_mode"`
	Lines         []SaleLine `json:"lines"`
}

type CheckoutResponse struct {
	Sale   Sale `json:"sale"`
	Queued bool `json:"queued"`
}

type CancelSaleRequest struct {
	InvoiceNumber string `json:"invoice_number"`
	Reason        string `json:"reason"`
}

type StockUpdate struct {
	ArticleRef int64           `json:"article_id"`
	Code       string          `json:"code,omitempty"`
	Name       string          `json:"name,omitempty"`
	NewStock   int             `json:"new_stock"`
	NewPrice   decimal.Decimal `json:"new_price"`
}

type RejectedSale struct {
	SaleID string
	Reason Rejection
}

// SyncOutcome is the partition of one sync batch as reported by the server.
type SyncOutcome struct {
	Accepted     []string
	Rejected     []RejectedSale
	StockUpdates []StockUpdate
}

func (o SyncOutcome) RejectedIDs() []string {
	ids := make([]string, 0, len(o.Rejected))
	for _, r := range o.Rejected {
		ids = append(ids, r.SaleID)
	}
	return ids
}
