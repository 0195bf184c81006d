// Package guard evaluates market-health snapshots before new entries are allowed.
package guard

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrUnavailable signals that no trustworthy snapshot could be read.
var ErrUnavailable = errors.New("guard snapshot unavailable")

// Depth is two-sided book depth in quote currency.
type Depth struct {
	Bid float64 `json:"bid_usd" yaml:"bid_usd"`
	Ask float64 `json:"ask_usd" yaml:"ask_usd"`
}

// Snapshot is one read of the market-health metrics.
type Snapshot struct {
	Ts          time.Time `json:"ts" yaml:"ts,omitempty"`
	SpreadBps   float64   `json:"spread_bps" yaml:"spread_bps"`
	Depth       Depth     `json:"depth_10bps" yaml:"depth_10bps"`
	FundingAPR  float64   `json:"funding_apr" yaml:"funding_apr"`
	BasisBps    float64   `json:"basis_bps" yaml:"basis_bps"`
	LiqEvents5m int       `json:"liq_events_5m" yaml:"liq_events_5m"`
	MaxLeverage float64   `json:"max_leverage,omitempty" yaml:"max_leverage,omitempty"`
}

// Source supplies fresh snapshots. Implementations return ErrUnavailable (possibly wrapped)
// when they cannot produce a live reading.
type Source interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// Reason identifies which guard tripped.
type Reason string

const (
	ReasonPass         Reason = ""
	ReasonLeverage     Reason = "leverage"
	ReasonSpread       Reason = "spread"
	ReasonDepth        Reason = "depth"
	ReasonFunding      Reason = "funding"
	ReasonBasis        Reason = "basis"
	ReasonLiquidations Reason = "liquidations"
	ReasonUnavailable  Reason = "guard_unavailable"
)

// Thresholds are the entry limits. Zero fields take the defaults.
type Thresholds struct {
	MaxLeverage    float64 `yaml:"max_leverage"`
	MaxSpreadBps   float64 `yaml:"max_spread_bps"`
	MinDepthUSD    float64 `yaml:"min_depth_usd"`
	MaxFundingAPR  float64 `yaml:"max_funding_apr"`
	MaxBasisBps    float64 `yaml:"max_basis_bps"`
	MaxLiqEvents5m int     `yaml:"max_liq_events_5m"`
}

// DefaultThresholds returns the stock guard limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxLeverage:    10,
		MaxSpreadBps:   10,
		MinDepthUSD:    50000,
		MaxFundingAPR:  300,
		MaxBasisBps:    50,
		MaxLiqEvents5m: 10,
	}
}

// WithDefaults fills zero fields from DefaultThresholds.
func (t Thresholds) WithDefaults() Thresholds {
	d := DefaultThresholds()
	if t.MaxLeverage <= 0 {
		t.MaxLeverage = d.MaxLeverage
	}
	if t.MaxSpreadBps <= 0 {
		t.MaxSpreadBps = d.MaxSpreadBps
	}
	if t.MinDepthUSD <= 0 {
		t.MinDepthUSD = d.MinDepthUSD
	}
	if t.MaxFundingAPR <= 0 {
		t.MaxFundingAPR = d.MaxFundingAPR
	}
	if t.MaxBasisBps <= 0 {
		t.MaxBasisBps = d.MaxBasisBps
	}
	if t.MaxLiqEvents5m <= 0 {
		t.MaxLiqEvents5m = d.MaxLiqEvents5m
	}
	return t
}

// Result is the outcome of a preflight evaluation.
type Result struct {
	Reason  Reason
	Message string
}

// Pass reports whether every guard held.
func (r Result) Pass() bool { return r.Reason == ReasonPass }

// Evaluate checks snap against the thresholds for an entry at leverage.
// A nil snapshot fails closed. The first tripped guard is reported.
func Evaluate(snap *Snapshot, leverage float64, th Thresholds) Result {
	th = th.WithDefaults()
	maxLev := th.MaxLeverage
	if snap != nil && snap.MaxLeverage > 0 && snap.MaxLeverage < maxLev {
		maxLev = snap.MaxLeverage
	}

	if leverage > maxLev {
		return fail(ReasonLeverage, "leverage %.2fx > %.2fx", leverage, maxLev)
	}
	if snap == nil {
		return fail(ReasonUnavailable, "no guard snapshot")
	}
	if snap.SpreadBps > th.MaxSpreadBps {
		return fail(ReasonSpread, "spread %.2fbps > %.2fbps", snap.SpreadBps, th.MaxSpreadBps)
	}
	if depth := math.Min(snap.Depth.Bid, snap.Depth.Ask); depth < th.MinDepthUSD {
		return fail(ReasonDepth, "depth $%.0f < $%.0f", depth, th.MinDepthUSD)
	}
	if math.Abs(snap.FundingAPR) > th.MaxFundingAPR {
		return fail(ReasonFunding, "funding apr |%.1f%%| > %.1f%%", snap.FundingAPR, th.MaxFundingAPR)
	}
	if math.Abs(snap.BasisBps) > th.MaxBasisBps {
		return fail(ReasonBasis, "basis |%.2fbps| > %.2fbps", snap.BasisBps, th.MaxBasisBps)
	}
	if snap.LiqEvents5m > th.MaxLiqEvents5m {
		return fail(ReasonLiquidations, "liquidations %d in 5m > %d", snap.LiqEvents5m, th.MaxLiqEvents5m)
	}
	return Result{}
}

func fail(reason Reason, format string, args ...any) Result {
	return Result{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// BasisBps is the USDC-quoted price premium over the USDT-quoted price in basis points.
func BasisBps(pxUSDC, pxUSDT float64) (float64, error) {
	if pxUSDT <= 0 || pxUSDC <= 0 {
		return 0, fmt.Errorf("basis needs both prices: usdc=%v usdt=%v", pxUSDC, pxUSDT)
	}
	return (pxUSDC - pxUSDT) / pxUSDT * 10000, nil
}

// StaticSource always serves the same snapshot. A nil snapshot reads as unavailable.
type StaticSource struct {
	Snap *Snapshot
}

// Snapshot returns a copy of the configured snapshot.
func (s StaticSource) Snapshot(context.Context) (*Snapshot, error) {
	if s.Snap == nil {
		return nil, ErrUnavailable
	}
	cp := *s.Snap
	return &cp, nil
}
