package risk

import (
	"math"
	"testing"
)

func TestPositionSizeTakesMinimum(t *testing.T) {
	s, err := PositionSize(1000, 0.0075, 5, 100, 90)
	if err != nil {
		t.Fatalf("PositionSize returned error: %v", err)
	}
	if math.Abs(s.RiskBased-0.75) > 1e-12 {
		t.Fatalf("expected risk-based 0.75, got %v", s.RiskBased)
	}
	if math.Abs(s.LeverageBased-50) > 1e-12 {
		t.Fatalf("expected leverage-based 50, got %v", s.LeverageBased)
	}
	if s.Size != s.RiskBased {
		t.Fatalf("expected risk cap to win, got %v", s.Size)
	}
}

func TestPositionSizeLeverageCapWins(t *testing.T) {
	// tight stop demands a large position; leverage caps it
	s, err := PositionSize(1000, 0.0075, 2, 100, 99.99)
	if err != nil {
		t.Fatalf("PositionSize returned error: %v", err)
	}
	if s.Size != s.LeverageBased || math.Abs(s.Size-20) > 1e-9 {
		t.Fatalf("expected leverage cap 20, got %+v", s)
	}
}

func TestPositionSizeRejectsZeroDistance(t *testing.T) {
	if _, err := PositionSize(1000, 0.0075, 5, 100, 100); err == nil {
		t.Fatalf("expected error for zero stop distance")
	}
	if _, err := PositionSize(0, 0.0075, 5, 100, 90); err == nil {
		t.Fatalf("expected error for zero equity")
	}
}

func TestSplitTakeProfits(t *testing.T) {
	legs := SplitTakeProfits(10)
	want := [3]float64{5, 3, 2}
	for i := range legs {
		if math.Abs(legs[i]-want[i]) > 1e-12 {
			t.Fatalf("leg %d: expected %v got %v", i, want[i], legs[i])
		}
	}
	odd := SplitTakeProfits(0.7)
	if sum := odd[0] + odd[1] + odd[2]; math.Abs(sum-0.7) > 1e-12 {
		t.Fatalf("legs must sum to size, got %v", sum)
	}
}

func TestBreakeven(t *testing.T) {
	if got := Breakeven(100, 6, true); math.Abs(got-100.06) > 1e-9 {
		t.Fatalf("expected 100.06, got %v", got)
	}
	if got := Breakeven(100, 6, false); math.Abs(got-99.94) > 1e-9 {
		t.Fatalf("expected 99.94, got %v", got)
	}
}

func TestLiquidationLong(t *testing.T) {
	// 10 SOL long from 100 with $200 collateral: p = (200 - 1000) / (0.3 - 10)
	est := Liquidation(10, 100, 200, 100, 0.03)
	want := (200.0 - 1000) / (0.03*10 - 10)
	if math.Abs(est.Price-want) > 1e-9 {
		t.Fatalf("expected %v got %v", want, est.Price)
	}
	if est.Price >= 100 {
		t.Fatalf("long liquidation must be below entry, got %v", est.Price)
	}
	if math.Abs(est.Leverage-5) > 1e-9 {
		t.Fatalf("expected 5x, got %v", est.Leverage)
	}
	if est.DistanceBps >= 0 {
		t.Fatalf("expected negative distance for long, got %v", est.DistanceBps)
	}
}

func TestLiquidationShort(t *testing.T) {
	est := Liquidation(-10, 100, 200, 100, 0)
	if est.Price <= 100 {
		t.Fatalf("short liquidation must be above entry, got %v", est.Price)
	}
	if est.Health <= 1 {
		t.Fatalf("fresh position should be healthy, got %v", est.Health)
	}
}

func TestLiquidationFlat(t *testing.T) {
	est := Liquidation(0, 100, 200, 100, 0.03)
	if est.Price != 0 || est.Health != 1 {
		t.Fatalf("unexpected flat estimate %+v", est)
	}
}
