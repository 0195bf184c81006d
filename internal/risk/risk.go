// Package risk holds position sizing and protective-price arithmetic shared by the engine.
package risk

import (
	"errors"
	"math"
)

// DefaultRiskFraction is the share of equity put at risk between entry and stop.
const DefaultRiskFraction = 0.0075

// DefaultFeeBps is the round-trip fee estimate used for breakeven stops.
const DefaultFeeBps = 6

// TakeProfitSplit is the share of the filled size closed at each take-profit level.
var TakeProfitSplit = [3]float64{0.5, 0.3, 0.2}

// Sizing is the two caps computed for an entry and the size actually used.
type Sizing struct {
	RiskBased     float64
	LeverageBased float64
	Size          float64
}

// PositionSize caps the position both by the equity at risk between entry and stop and by
// the notional the leverage allows. The smaller of the two is used.
func PositionSize(equity, riskFraction, leverage, entry, stop float64) (Sizing, error) {
	if equity <= 0 || riskFraction <= 0 || leverage <= 0 || entry <= 0 {
		return Sizing{}, errors.New("sizing inputs must be positive")
	}
	dist := math.Abs(entry - stop)
	if dist == 0 {
		return Sizing{}, errors.New("stop distance is zero")
	}
	s := Sizing{
		RiskBased:     equity * riskFraction / dist,
		LeverageBased: equity * leverage / entry,
	}
	s.Size = math.Min(s.RiskBased, s.LeverageBased)
	return s, nil
}

// SplitTakeProfits divides size across the take-profit ladder. The last leg takes the
// remainder so the legs always sum to size.
func SplitTakeProfits(size float64) [3]float64 {
	var legs [3]float64
	legs[0] = size * TakeProfitSplit[0]
	legs[1] = size * TakeProfitSplit[1]
	legs[2] = size - legs[0] - legs[1]
	return legs
}

// Breakeven returns the stop price that covers estimated fees for a position filled at fillPx.
func Breakeven(fillPx, feeBps float64, long bool) float64 {
	fees := fillPx * feeBps / 10000
	if long {
		return fillPx + fees
	}
	return fillPx - fees
}
