// Package paper simulates a perp venue and margin account for offline runs.
package paper

import (
	"errors"
	"math"
	"sync"

	"github.com/bud42069/AT-1000/internal/signal"
)

const epsilon = 1e-9

type positionState struct {
	Qty     float64 // signed: positive long, negative short
	AvgCost float64
}

// Account tracks collateral, realized PnL, fees and signed per-symbol perp positions.
type Account struct {
	mu                   sync.Mutex
	startingCollateral   float64
	collateral           float64
	realizedPnL          float64
	fees                 float64
	feeBps               float64
	maxPositionPerSymbol float64
	positions            map[string]positionState
}

// PositionSnapshot exposes a read-only view of a single symbol position.
type PositionSnapshot struct {
	Qty        float64
	AvgCost    float64
	Notional   float64
	Unrealized float64
}

// Snapshot represents a thread-safe view of the account state, optionally marked to market using provided prices.
type Snapshot struct {
	Collateral  float64
	RealizedPnL float64
	Fees        float64
	Equity      float64
	Positions   map[string]PositionSnapshot
}

// NewAccount constructs an account with starting collateral, an optional absolute position cap and a taker/maker fee.
func NewAccount(startingCollateral, maxPositionPerSymbol, feeBps float64) *Account {
	return &Account{
		startingCollateral:   startingCollateral,
		collateral:           startingCollateral,
		feeBps:               feeBps,
		maxPositionPerSymbol: maxPositionPerSymbol,
		positions:            make(map[string]positionState),
	}
}

// StartingCollateral returns the initial bankroll.
func (a *Account) StartingCollateral() float64 { return a.startingCollateral }

// Fill applies an execution of qty on side at price. Reducing fills realize PnL against the
// average cost; a fill larger than the open position flips it.
func (a *Account) Fill(symbol string, side signal.Kind, qty, price float64) error {
	if qty <= 0 {
		return errors.New("quantity must be positive")
	}
	if price <= 0 {
		return errors.New("price must be positive")
	}
	delta := qty
	switch side {
	case signal.Long:
	case signal.Short:
		delta = -qty
	default:
		return errors.New("unknown order side")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	state := a.positions[symbol]
	newQty := state.Qty + delta
	if a.maxPositionPerSymbol > 0 && math.Abs(newQty) > a.maxPositionPerSymbol+epsilon && math.Abs(newQty) > math.Abs(state.Qty) {
		return errors.New("position limit exceeded")
	}

	fee := qty * price * a.feeBps / 10000
	a.fees += fee
	a.collateral -= fee

	switch {
	case state.Qty == 0 || (state.Qty > 0) == (delta > 0):
		state.AvgCost = (state.AvgCost*math.Abs(state.Qty) + price*qty) / math.Abs(newQty)
		state.Qty = newQty
	default:
		closed := math.Min(qty, math.Abs(state.Qty))
		dir := 1.0
		if state.Qty < 0 {
			dir = -1
		}
		realized := (price - state.AvgCost) * closed * dir
		a.realizedPnL += realized
		a.collateral += realized
		state.Qty = newQty
		if math.Abs(newQty) <= epsilon {
			state = positionState{}
		} else if (newQty > 0) != (dir > 0) {
			state.AvgCost = price
		}
	}

	if state.Qty == 0 {
		delete(a.positions, symbol)
	} else {
		a.positions[symbol] = state
	}
	return nil
}

// Snapshot returns a copy of balances, optionally marked using the supplied prices map.
func (a *Account) Snapshot(prices map[string]float64) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	positions := make(map[string]PositionSnapshot, len(a.positions))
	equity := a.collateral
	for sym, pos := range a.positions {
		mark := prices[sym]
		var notional, unrealized float64
		if mark > 0 {
			notional = math.Abs(pos.Qty) * mark
			unrealized = (mark - pos.AvgCost) * pos.Qty
		}
		positions[sym] = PositionSnapshot{
			Qty:        pos.Qty,
			AvgCost:    pos.AvgCost,
			Notional:   notional,
			Unrealized: unrealized,
		}
		equity += unrealized
	}

	return Snapshot{
		Collateral:  a.collateral,
		RealizedPnL: a.realizedPnL,
		Fees:        a.fees,
		Equity:      equity,
		Positions:   positions,
	}
}

// Equity marks the account at the given prices.
func (a *Account) Equity(prices map[string]float64) float64 {
	return a.Snapshot(prices).Equity
}

// Position returns the signed position size for the supplied symbol.
func (a *Account) Position(symbol string) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.positions[symbol].Qty
}

// RealizedPnL returns total closed-trade profit and loss.
func (a *Account) RealizedPnL() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.realizedPnL
}
