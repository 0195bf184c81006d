package paper

import (
	"math"
	"testing"

	"github.com/bud42069/AT-1000/internal/signal"
)

func TestFillLongThenReduce(t *testing.T) {
	account := NewAccount(1000, 10, 0)

	if err := account.Fill("SOL-PERP", signal.Long, 2, 100); err != nil {
		t.Fatalf("unexpected long error: %v", err)
	}
	if err := account.Fill("SOL-PERP", signal.Long, 2, 110); err != nil {
		t.Fatalf("unexpected second long error: %v", err)
	}
	snap := account.Snapshot(map[string]float64{"SOL-PERP": 120})
	pos := snap.Positions["SOL-PERP"]
	if math.Abs(pos.Qty-4) > 1e-9 || math.Abs(pos.AvgCost-105) > 1e-9 {
		t.Fatalf("unexpected position %+v", pos)
	}
	if math.Abs(snap.Equity-1060) > 1e-9 {
		t.Fatalf("expected equity 1060, got %.4f", snap.Equity)
	}

	if err := account.Fill("SOL-PERP", signal.Short, 1, 115); err != nil {
		t.Fatalf("unexpected reduce error: %v", err)
	}
	if got := account.RealizedPnL(); math.Abs(got-10) > 1e-9 {
		t.Fatalf("expected realized 10, got %.4f", got)
	}
	if got := account.Position("SOL-PERP"); math.Abs(got-3) > 1e-9 {
		t.Fatalf("expected 3 remaining, got %.4f", got)
	}
}

func TestFillShortProfitAndFlip(t *testing.T) {
	account := NewAccount(1000, 0, 0)
	if err := account.Fill("SOL-PERP", signal.Short, 1, 100); err != nil {
		t.Fatalf("unexpected short error: %v", err)
	}
	if got := account.Equity(map[string]float64{"SOL-PERP": 90}); math.Abs(got-1010) > 1e-9 {
		t.Fatalf("expected short to gain 10, equity %.4f", got)
	}

	if err := account.Fill("SOL-PERP", signal.Long, 3, 90); err != nil {
		t.Fatalf("unexpected flip error: %v", err)
	}
	snap := account.Snapshot(map[string]float64{"SOL-PERP": 90})
	pos := snap.Positions["SOL-PERP"]
	if math.Abs(pos.Qty-2) > 1e-9 || pos.AvgCost != 90 {
		t.Fatalf("expected flipped long 2 @ 90, got %+v", pos)
	}
	if math.Abs(snap.RealizedPnL-10) > 1e-9 {
		t.Fatalf("expected realized 10, got %.4f", snap.RealizedPnL)
	}
}

func TestFillChargesFees(t *testing.T) {
	account := NewAccount(1000, 0, 6)
	if err := account.Fill("SOL-PERP", signal.Long, 10, 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap := account.Snapshot(nil)
	if math.Abs(snap.Fees-0.6) > 1e-9 || math.Abs(snap.Collateral-999.4) > 1e-9 {
		t.Fatalf("unexpected fee accounting %+v", snap)
	}
}

func TestFillPositionLimit(t *testing.T) {
	account := NewAccount(1000, 0.1, 0)
	if err := account.Fill("SOL-PERP", signal.Long, 0.2, 100); err == nil {
		t.Fatalf("expected position limit error")
	}
}

func TestFillRejectsBadInput(t *testing.T) {
	account := NewAccount(1000, 1, 0)
	if err := account.Fill("SOL-PERP", signal.None, 1, 100); err == nil {
		t.Fatalf("expected side error")
	}
	if err := account.Fill("SOL-PERP", signal.Long, 0, 100); err == nil {
		t.Fatalf("expected quantity error")
	}
}
