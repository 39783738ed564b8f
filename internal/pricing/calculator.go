// Package pricing computes line and draft totals from raw entry values.
//
// Every function here is total: malformed input (negative counts, a carton
// with zero units, unknown quantity modes) degrades to zero or to the unit
// mode instead of failing.
package pricing

import (
	"strings"

	"github.com/shopspring/decimal"

	"boutique/terminal/internal/domain"
)

type Calculator struct {
	BaseCurrency string
	DefaultRate  decimal.Decimal
}

func New(baseCurrency string, defaultRate decimal.Decimal) Calculator {
	return Calculator{
		BaseCurrency: strings.ToUpper(strings.TrimSpace(baseCurrency)),
		DefaultRate:  defaultRate,
	}
}

type LineResult struct {
	LineTotal         decimal.Decimal  `json:"line_total"`
	UnitsTotal        int              `json:"units_total"`
	UnitPurchasePrice decimal.Decimal  `json:"unit_purchase_price"`
	ExtraUnitPrice    decimal.Decimal  `json:"extra_unit_price"`
	ConvertedTotal    *decimal.Decimal `json:"converted_total,omitempty"`
}

type Totals struct {
	Lines     int              `json:"lines"`
	Units     int              `json:"units"`
	Amount    decimal.Decimal  `json:"amount"`
	Currency  string           `json:"currency"`
	Converted *decimal.Decimal `json:"converted,omitempty"`
}

func (c Calculator) Line(item domain.LineItem, header domain.DraftHeader) LineResult {
	res := compute(item)
	res.ConvertedTotal = c.convert(res.LineTotal, header)
	return res
}

// Normalize writes the derived values back into the line. In carton mode the
// unit purchase price is always recomputed from the carton price, replacing
// whatever was entered by hand.
func (c Calculator) Normalize(item domain.LineItem) domain.LineItem {
	res := compute(item)
	out := item
	out.QuantityUnits = res.UnitsTotal
	out.UnitPurchasePrice = res.UnitPurchasePrice
	if out.IsCarton() {
		out.CartonCount = nonNegative(item.CartonCount)
		out.UnitsPerCarton = nonNegative(item.UnitsPerCarton)
		out.ExtraUnits = nonNegative(item.ExtraUnits)
		out.CartonPurchasePrice = nonNegativeAmount(item.CartonPurchasePrice)
		out.ExtraUnitPrice = res.ExtraUnitPrice
		return out
	}
	out.Mode = domain.QuantityModeUnit
	out.CartonCount = 0
	out.UnitsPerCarton = 1
	out.ExtraUnits = 0
	out.CartonPurchasePrice = decimal.Zero
	out.ExtraUnitPrice = decimal.Zero
	return out
}

func (c Calculator) Totals(lines []domain.LineItem, header domain.DraftHeader) Totals {
	totals := Totals{
		Lines:    len(lines),
		Amount:   decimal.Zero,
		Currency: c.currencyOf(header),
	}
	for _, line := range lines {
		res := compute(line)
		totals.Units += res.UnitsTotal
		totals.Amount = totals.Amount.Add(res.LineTotal)
	}
	totals.Converted = c.convert(totals.Amount, header)
	return totals
}

// IsForeign reports whether amounts in currency need converting to the base
// currency.
func (c Calculator) IsForeign(currency string) bool {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	return currency != "" && c.BaseCurrency != "" && currency != c.BaseCurrency
}

// Rate is the exchange rate in effect for the draft: the user-edited one when
// set, the configured default otherwise.
func (c Calculator) Rate(header domain.DraftHeader) decimal.Decimal {
	if header.ExchangeRate.IsPositive() {
		return header.ExchangeRate
	}
	return c.DefaultRate
}

func (c Calculator) convert(amount decimal.Decimal, header domain.DraftHeader) *decimal.Decimal {
	if !c.IsForeign(header.Currency) {
		return nil
	}
	rate := c.Rate(header)
	if !rate.IsPositive() {
		return nil
	}
	converted := amount.Mul(rate)
	return &converted
}

func (c Calculator) currencyOf(header domain.DraftHeader) string {
	if currency := strings.ToUpper(strings.TrimSpace(header.Currency)); currency != "" {
		return currency
	}
	return c.BaseCurrency
}

func compute(item domain.LineItem) LineResult {
	if item.IsCarton() {
		cartons := nonNegative(item.CartonCount)
		perCarton := nonNegative(item.UnitsPerCarton)
		extra := nonNegative(item.ExtraUnits)
		cartonPrice := nonNegativeAmount(item.CartonPurchasePrice)

		unitPrice := decimal.Zero
		if perCarton > 0 {
			unitPrice = cartonPrice.Div(decimal.NewFromInt(int64(perCarton)))
		}
		extraPrice := nonNegativeAmount(item.ExtraUnitPrice)
		if extraPrice.IsZero() && extra > 0 {
			extraPrice = unitPrice
		}

		return LineResult{
			UnitsTotal:        cartons*perCarton + extra,
			LineTotal:         cartonPrice.Mul(decimal.NewFromInt(int64(cartons))).Add(extraPrice.Mul(decimal.NewFromInt(int64(extra)))),
			UnitPurchasePrice: unitPrice,
			ExtraUnitPrice:    extraPrice,
		}
	}

	units := nonNegative(item.QuantityUnits)
	price := nonNegativeAmount(item.UnitPurchasePrice)
	return LineResult{
		UnitsTotal:        units,
		LineTotal:         price.Mul(decimal.NewFromInt(int64(units))),
		UnitPurchasePrice: price,
		ExtraUnitPrice:    decimal.Zero,
	}
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func nonNegativeAmount(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
