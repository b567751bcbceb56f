// Package sizer implements Sizer (C8): budget-based lot sizing from
// allocation percentage, slippage buffer, and lot size. Grounded on the
// teacher's Maker.computeQuotes sizing section — the same
// floor-to-lot/floor-to-minimum-size reasoning, expressed over decimals
// and lot counts instead of float64 USD notional.
package sizer

import (
	"github.com/shopspring/decimal"
)

// Reason classifies the sizing outcome.
type Reason string

const (
	ReasonOK                 Reason = "ok"
	ReasonInsufficientBudget Reason = "insufficient_budget"
)

// Result is the sizing decision returned to the caller.
type Result struct {
	Quantity decimal.Decimal
	Lots     int64
	Reason   Reason
}

// Params bundles the inputs to Size, per spec.md §4.8.
type Params struct {
	Premium           decimal.Decimal
	LotSize           int64
	AllocationPct     decimal.Decimal
	SlippageBufferPct decimal.Decimal
	AvailableFunds    decimal.Decimal
	MaxLotsPerTrade   int64 // 0 means unbounded
}

// Size computes {quantity, lots, reason} per spec.md §4.8:
//
//	effective_price = premium * (1 + slippage)
//	per_lot_cost    = effective_price * lot_size
//	lots            = floor((available_funds * allocation_pct) / per_lot_cost)
func Size(p Params) Result {
	if p.LotSize <= 0 || p.Premium.LessThanOrEqual(decimal.Zero) {
		return Result{Reason: ReasonInsufficientBudget}
	}

	effectivePrice := p.Premium.Mul(decimal.NewFromInt(1).Add(p.SlippageBufferPct))
	perLotCost := effectivePrice.Mul(decimal.NewFromInt(p.LotSize))
	if perLotCost.LessThanOrEqual(decimal.Zero) {
		return Result{Reason: ReasonInsufficientBudget}
	}

	budget := p.AvailableFunds.Mul(p.AllocationPct)
	lots := budget.Div(perLotCost).Floor().IntPart()

	if p.MaxLotsPerTrade > 0 && lots > p.MaxLotsPerTrade {
		lots = p.MaxLotsPerTrade
	}

	if lots < 1 {
		return Result{Reason: ReasonInsufficientBudget}
	}

	return Result{
		Quantity: decimal.NewFromInt(lots * p.LotSize),
		Lots:     lots,
		Reason:   ReasonOK,
	}
}
