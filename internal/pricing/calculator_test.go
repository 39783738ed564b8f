package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boutique/terminal/internal/domain"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func newCalc() Calculator {
	return New("CDF", dec("2800"))
}

func TestUnitLineTotal(t *testing.T) {
	res := newCalc().Line(domain.LineItem{
		Mode:              domain.QuantityModeUnit,
		QuantityUnits:     3,
		UnitPurchasePrice: dec("100"),
	}, domain.DraftHeader{Currency: "CDF"})

	assert.Equal(t, 3, res.UnitsTotal)
	assert.True(t, res.LineTotal.Equal(dec("300")), res.LineTotal.String())
	assert.Nil(t, res.ConvertedTotal)
}

func TestCartonLineDerivesUnitPriceAndDefaultsExtraPrice(t *testing.T) {
	res := newCalc().Line(domain.LineItem{
		Mode:                domain.QuantityModeCarton,
		CartonCount:         2,
		UnitsPerCarton:      20,
		ExtraUnits:          5,
		CartonPurchasePrice: dec("50000"),
	}, domain.DraftHeader{})

	assert.Equal(t, 45, res.UnitsTotal)
	assert.True(t, res.UnitPurchasePrice.Equal(dec("2500")))
	assert.True(t, res.ExtraUnitPrice.Equal(dec("2500")))
	assert.True(t, res.LineTotal.Equal(dec("112500")), res.LineTotal.String())
}

func TestCartonLineKeepsExplicitExtraPrice(t *testing.T) {
	res := newCalc().Line(domain.LineItem{
		Mode:                domain.QuantityModeCarton,
		CartonCount:         1,
		UnitsPerCarton:      10,
		ExtraUnits:          2,
		CartonPurchasePrice: dec("1000"),
		ExtraUnitPrice:      dec("150"),
	}, domain.DraftHeader{})

	assert.True(t, res.LineTotal.Equal(dec("1300")))
	assert.True(t, res.ExtraUnitPrice.Equal(dec("150")))
}

func TestCartonQuantityInvariant(t *testing.T) {
	calc := newCalc()
	for cartons := 0; cartons <= 4; cartons++ {
		for perCarton := 0; perCarton <= 12; perCarton += 3 {
			for extra := 0; extra <= 3; extra++ {
				item := domain.LineItem{
					Mode:                domain.QuantityModeCarton,
					CartonCount:         cartons,
					UnitsPerCarton:      perCarton,
					ExtraUnits:          extra,
					CartonPurchasePrice: dec("120"),
				}
				res := calc.Line(item, domain.DraftHeader{})
				normalized := calc.Normalize(item)

				require.Equal(t, cartons*perCarton+extra, res.UnitsTotal)
				require.Equal(t, res.UnitsTotal, normalized.QuantityUnits)

				effectiveExtra := res.ExtraUnitPrice
				want := dec("120").Mul(decimal.NewFromInt(int64(cartons))).
					Add(effectiveExtra.Mul(decimal.NewFromInt(int64(extra))))
				require.True(t, res.LineTotal.Equal(want), "cartons=%d per=%d extra=%d", cartons, perCarton, extra)
			}
		}
	}
}

func TestZeroUnitsPerCartonDegradesToZeroUnitPrice(t *testing.T) {
	res := newCalc().Line(domain.LineItem{
		Mode:                domain.QuantityModeCarton,
		CartonCount:         3,
		UnitsPerCarton:      0,
		ExtraUnits:          2,
		CartonPurchasePrice: dec("900"),
	}, domain.DraftHeader{})

	assert.True(t, res.UnitPurchasePrice.IsZero())
	assert.Equal(t, 2, res.UnitsTotal)
	assert.True(t, res.LineTotal.Equal(dec("2700")))
}

func TestNegativeInputsDegradeToZero(t *testing.T) {
	res := newCalc().Line(domain.LineItem{
		Mode:              domain.QuantityModeUnit,
		QuantityUnits:     -4,
		UnitPurchasePrice: dec("-10"),
	}, domain.DraftHeader{})

	assert.Equal(t, 0, res.UnitsTotal)
	assert.True(t, res.LineTotal.IsZero())
}

func TestNormalizeOverwritesManualUnitPriceInCartonMode(t *testing.T) {
	item := newCalc().Normalize(domain.LineItem{
		Mode:                domain.QuantityModeCarton,
		CartonCount:         1,
		UnitsPerCarton:      4,
		CartonPurchasePrice: dec("100"),
		UnitPurchasePrice:   dec("99"),
	})

	assert.True(t, item.UnitPurchasePrice.Equal(dec("25")))
	assert.Equal(t, 4, item.QuantityUnits)
}

func TestNormalizeUnknownModeFallsBackToUnit(t *testing.T) {
	item := newCalc().Normalize(domain.LineItem{
		Mode:          "PALLET",
		QuantityUnits: 2,
		CartonCount:   9,
	})

	assert.Equal(t, domain.QuantityModeUnit, item.Mode)
	assert.Equal(t, 0, item.CartonCount)
	assert.Equal(t, 1, item.UnitsPerCarton)
}

func TestTotalsScenario(t *testing.T) {
	lines := []domain.LineItem{
		{Mode: domain.QuantityModeUnit, QuantityUnits: 3, UnitPurchasePrice: dec("100")},
		{Mode: domain.QuantityModeCarton, CartonCount: 2, UnitsPerCarton: 10, CartonPurchasePrice: dec("500")},
	}

	totals := newCalc().Totals(lines, domain.DraftHeader{Currency: "CDF"})

	assert.Equal(t, 2, totals.Lines)
	assert.Equal(t, 23, totals.Units)
	assert.True(t, totals.Amount.Equal(dec("1300")), totals.Amount.String())
	assert.Nil(t, totals.Converted)
	assert.Equal(t, "CDF", totals.Currency)
}

func TestForeignCurrencyUsesDefaultRate(t *testing.T) {
	res := newCalc().Line(domain.LineItem{
		Mode:              domain.QuantityModeUnit,
		QuantityUnits:     2,
		UnitPurchasePrice: dec("10"),
	}, domain.DraftHeader{Currency: "usd"})

	require.NotNil(t, res.ConvertedTotal)
	assert.True(t, res.ConvertedTotal.Equal(dec("56000")))
}

func TestForeignCurrencyUsesEditedRate(t *testing.T) {
	totals := newCalc().Totals([]domain.LineItem{
		{Mode: domain.QuantityModeUnit, QuantityUnits: 1, UnitPurchasePrice: dec("10")},
	}, domain.DraftHeader{Currency: "USD", ExchangeRate: dec("2900")})

	require.NotNil(t, totals.Converted)
	assert.True(t, totals.Converted.Equal(dec("29000")))
}

func TestEmptyTotals(t *testing.T) {
	totals := newCalc().Totals(nil, domain.DraftHeader{})

	assert.Equal(t, 0, totals.Units)
	assert.True(t, totals.Amount.IsZero())
	assert.Equal(t, "CDF", totals.Currency)
}
