package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type ReasonCode string

const (
	ReasonInsufficientStock ReasonCode = "INSUFFICIENT_STOCK"
	ReasonArticleNotFound   ReasonCode = "ARTICLE_NOT_FOUND"
	ReasonPriceChanged      ReasonCode = "PRICE_CHANGED"
	ReasonDuplicate         ReasonCode = "DUPLICATE"
	ReasonUnknown           ReasonCode = "UNKNOWN"
)

// Presentation is the user-facing text for a rejected sale.
type Presentation struct {
	Title       string `json:"title"`
	Explanation string `json:"explanation"`
	NextAction  string `json:"next_action"`
}

// Rejection is the closed set of reasons a synced sale can be refused for.
// The unexported method keeps implementations inside this package, so every
// new reason has to provide its own presentation and terminal flag.
type Rejection interface {
	Code() ReasonCode
	Presentation() Presentation
	// Terminal reports whether the sale must leave the sync queue anyway.
	Terminal() bool
	isRejection()
}

type InsufficientStock struct {
	ArticleRef  int64  `json:"article_id"`
	ArticleName string `json:"article_name,omitempty"`
	Requested   int    `json:"requested"`
	Available   int    `json:"available"`
}

type ArticleNotFound struct {
	ArticleRef int64 `json:"article_id,omitempty"`
}

type PriceChanged struct {
	ArticleRef  int64           `json:"article_id,omitempty"`
	ArticleName string          `json:"article_name,omitempty"`
	Expected    decimal.Decimal `json:"expected_price"`
	Current     decimal.Decimal `json:"current_price"`
}

type Duplicate struct{}

// Unknown keeps the server message verbatim. RawCode is whatever the server
// sent, possibly empty.
type Unknown struct {
	RawCode string `json:"raw_code,omitempty"`
	Message string `json:"message"`
}

func (InsufficientStock) Code() ReasonCode { return ReasonInsufficientStock }
func (ArticleNotFound) Code() ReasonCode   { return ReasonArticleNotFound }
func (PriceChanged) Code() ReasonCode      { return ReasonPriceChanged }
func (Duplicate) Code() ReasonCode         { return ReasonDuplicate }
func (Unknown) Code() ReasonCode           { return ReasonUnknown }

func (InsufficientStock) Terminal() bool { return false }
func (ArticleNotFound) Terminal() bool   { return false }
func (PriceChanged) Terminal() bool      { return false }
func (Duplicate) Terminal() bool         { return true }
func (Unknown) Terminal() bool           { return false }

func (InsufficientStock) isRejection() {}
func (ArticleNotFound) isRejection()   {}
func (PriceChanged) isRejection()      {}
func (Duplicate) isRejection()         {}
func (Unknown) isRejection()           {}

func (r InsufficientStock) Presentation() Presentation {
	name := r.ArticleName
	if name == "" {
		name = fmt.Sprintf("#%d", r.ArticleRef)
	}
	return Presentation{
		Title:       "Insufficient stock",
		Explanation: fmt.Sprintf("Article: %s\nRequested: %d\nAvailable: %d", name, r.Requested, r.Available),
		NextAction:  "Refresh stock levels and record the sale again.",
	}
}

func (ArticleNotFound) Presentation() Presentation {
	return Presentation{
		Title:       "Article not found",
		Explanation: "The article no longer exists or has been deactivated.",
		NextAction:  "Refresh the article catalog.",
	}
}

func (r PriceChanged) Presentation() Presentation {
	explanation := "The article price changed on the server."
	if !r.Current.IsZero() {
		explanation = fmt.Sprintf("Price changed from %s to %s.", r.Expected.String(), r.Current.String())
	}
	return Presentation{
		Title:       "Price changed",
		Explanation: explanation,
		NextAction:  "Refresh the article catalog and record the sale again.",
	}
}

func (Duplicate) Presentation() Presentation {
	return Presentation{
		Title:       "Duplicate",
		Explanation: "This sale was already recorded on the server.",
		NextAction:  "No action required.",
	}
}

func (r Unknown) Presentation() Presentation {
	explanation := r.Message
	if explanation == "" {
		explanation = "The server rejected the sale."
		if r.RawCode != "" {
			explanation = fmt.Sprintf("The server rejected the sale (%s).", r.RawCode)
		}
	}
	return Presentation{
		Title:       "Error",
		Explanation: explanation,
		NextAction:  "Contact your manager.",
	}
}
