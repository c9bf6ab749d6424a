package fundamentals

import (
	"math"

	"github.com/mauv0809/screener/internal/models"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Inputs are the latest statement values a company's ratios derive from.
// A nil field is unknown.
type Inputs struct {
	Sales              *decimal.Decimal
	NetProfit          *decimal.Decimal
	OperatingProfit    *decimal.Decimal
	EquityShareCapital *decimal.Decimal
	Reserves           *decimal.Decimal
	Borrowings         *decimal.Decimal

	// Annual values five fiscal years apart for the growth rates.
	SalesStart, SalesEnd   *decimal.Decimal
	ProfitStart, ProfitEnd *decimal.Decimal
}

// Compute derives the ratios. Unknown inputs propagate to unknown outputs;
// nothing here fails.
func Compute(in Inputs) models.CompanyFundamental {
	totalEquity := sumKnown(in.EquityShareCapital, in.Reserves)
	capitalEmployed := sumKnown(totalEquity, in.Borrowings)

	return models.CompanyFundamental{
		Revenue:         in.Sales,
		OperatingMargin: percent(in.OperatingProfit, in.Sales),
		NetMargin:       percent(in.NetProfit, in.Sales),
		ROE:             percent(in.NetProfit, totalEquity),
		ROCE:            percent(in.OperatingProfit, capitalEmployed),
		DebtToEquity:    percent(in.Borrowings, totalEquity),
		SalesCAGR5Y:     cagr(in.SalesStart, in.SalesEnd, 5),
		ProfitCAGR5Y:    cagr(in.ProfitStart, in.ProfitEnd, 5),
	}
}

// sumKnown adds a and b treating an unknown operand as zero. The sum is
// unknown only when both are.
func sumKnown(a, b *decimal.Decimal) *decimal.Decimal {
	if a == nil && b == nil {
		return nil
	}
	sum := decimal.Zero
	if a != nil {
		sum = sum.Add(*a)
	}
	if b != nil {
		sum = sum.Add(*b)
	}
	return &sum
}

// percent is a/b*100 rounded to two places, or nil when a or b is unknown
// or b is zero.
func percent(a, b *decimal.Decimal) *decimal.Decimal {
	if a == nil || b == nil || b.IsZero() {
		return nil
	}
	v := a.Div(*b).Mul(hundred).Round(2)
	return &v
}

// cagr is the compound annual growth rate in percent over years.
func cagr(start, end *decimal.Decimal, years float64) *decimal.Decimal {
	if start == nil || end == nil || !start.IsPositive() || end.IsNegative() {
		return nil
	}
	s, _ := start.Float64()
	e, _ := end.Float64()
	rate := (math.Pow(e/s, 1/years) - 1) * 100
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return nil
	}
	v := decimal.NewFromFloat(rate).Round(2)
	return &v
}
