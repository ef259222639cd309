package adapter

import "github.com/shopspring/decimal"

// RoundToTick rounds price to the nearest multiple of tickSize, halves
// rounding up (spec.md §4.6: "price/qty alignment adjustments"). Returns the rounded
// price and the signed diff applied (rounded - original), matching
// ExecResult.RoundingApplied's price_diff convention.
func RoundToTick(price, tickSize float64) (rounded, diff float64) {
	if tickSize <= 0 {
		return price, 0
	}
	p := decimal.NewFromFloat(price)
	tick := decimal.NewFromFloat(tickSize)
	steps := p.Div(tick).Round(0)
	r := steps.Mul(tick)
	roundedF, _ := r.Float64()
	return roundedF, roundedF - price
}

// RoundToStep rounds qty down to the nearest multiple of stepSize.
func RoundToStep(qty, stepSize float64) (rounded, diff float64) {
	if stepSize <= 0 {
		return qty, 0
	}
	q := decimal.NewFromFloat(qty)
	step := decimal.NewFromFloat(stepSize)
	steps := q.Div(step).Floor()
	r := steps.Mul(step)
	roundedF, _ := r.Float64()
	return roundedF, roundedF - qty
}

// MeetsMinNotional reports whether qty*price clears minNotional (0
// disables the check).
func MeetsMinNotional(qty, price, minNotional float64) bool {
	if minNotional <= 0 {
		return true
	}
	notional := decimal.NewFromFloat(qty).Mul(decimal.NewFromFloat(price))
	return notional.GreaterThanOrEqual(decimal.NewFromFloat(minNotional))
}
