package risk

import "math"

// DefaultMaintenanceMargin is the maintenance margin ratio assumed for SOL-PERP.
const DefaultMaintenanceMargin = 0.03

// LiqEstimate is a local approximation of where a position gets liquidated. It is telemetry,
// not the venue's margin engine.
type LiqEstimate struct {
	Price       float64 `json:"est_liq_px"`
	Leverage    float64 `json:"leverage"`
	Health      float64 `json:"health"`
	DistanceBps float64 `json:"distance_bps"`
}

// Liquidation solves collateral + q*(p - avg) = mmr*|q|*p for p.
// qty is signed: positive long, negative short. A flat position returns the zero estimate
// with health 1.
func Liquidation(qty, avgEntry, collateral, markPx, mmr float64) LiqEstimate {
	if qty == 0 {
		return LiqEstimate{Health: 1}
	}
	if mmr <= 0 {
		mmr = DefaultMaintenanceMargin
	}
	absQ := math.Abs(qty)

	var est LiqEstimate
	if collateral > 0 {
		est.Leverage = absQ * markPx / collateral
	}
	if den := mmr*absQ - qty; den != 0 {
		est.Price = (collateral - qty*avgEntry) / den
	}
	if est.Price < 0 {
		est.Price = 0
	}

	required := mmr * absQ * markPx
	est.Health = 1
	if required > 0 {
		est.Health = (collateral + qty*(markPx-avgEntry)) / required
	}
	if markPx > 0 && est.Price > 0 {
		est.DistanceBps = (est.Price - markPx) / markPx * 10000
	}
	return est
}
