// Package signal standardizes payloads shared between data ingestion, strategy, and execution layers.
package signal

import (
	"encoding/json"
	"errors"
	"math"
	"time"
)

// Tick models the essential pieces of market data consumed by strategies.
type Tick struct {
	Symbol string
	Price  float64
	Size   float64
	Side   int // +1 buy, -1 sell (aggressor)
	Ts     time.Time
}

// BuyerAggressor reports whether the taker of the trade was the buyer.
func (t Tick) BuyerAggressor() bool { return t.Side >= 0 }

// Kind is the directional signal emitted by the generator.
type Kind string

const (
	// None means no active signal.
	None Kind = ""
	// Long is a buy signal.
	Long Kind = "long"
	// Short is a sell signal.
	Short Kind = "short"
)

// MarshalJSON renders None as null.
func (k Kind) MarshalJSON() ([]byte, error) {
	if k == None {
		return []byte("null"), nil
	}
	return json.Marshal(string(k))
}

// UnmarshalJSON accepts null, "long" or "short".
func (k *Kind) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*k = None
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch Kind(s) {
	case Long, Short, None:
		*k = Kind(s)
		return nil
	}
	return errors.New("unknown signal kind " + s)
}

// Trend is the CVD direction over the detection window.
type Trend string

const (
	TrendUp      Trend = "up"
	TrendDown    Trend = "down"
	TrendNeutral Trend = "neutral"
)

// Confirm carries the conditions that confirmed a signal.
type Confirm struct {
	VWAPReclaim bool  `json:"vwap_reclaim"`
	CVDTrend    Trend `json:"cvd_trend"`
}

// TakeProfits holds the three take-profit levels, nearest first.
type TakeProfits struct {
	P1 float64 `json:"p1"`
	P2 float64 `json:"p2"`
	P3 float64 `json:"p3"`
}

// Slice returns the levels in ladder order.
func (tp TakeProfits) Slice() [3]float64 { return [3]float64{tp.P1, tp.P2, tp.P3} }

// Intent is a fully specified trade proposal. Size zero asks the engine to size it.
type Intent struct {
	Side     Kind        `json:"side"`
	LimitPx  float64     `json:"limitPx"`
	Size     float64     `json:"size"`
	SlPx     float64     `json:"slPx"`
	TpPx     TakeProfits `json:"tpPx"`
	Leverage float64     `json:"leverage"`
}

// ErrInvalidIntent is returned by Validate for malformed proposals.
var ErrInvalidIntent = errors.New("invalid intent")

// Validate checks the intent shape: positive prices, stop on the losing side,
// take-profits ordered away from entry in the profitable direction.
func (i Intent) Validate() error {
	if i.Side != Long && i.Side != Short {
		return errors.Join(ErrInvalidIntent, errors.New("side must be long or short"))
	}
	for _, v := range []float64{i.LimitPx, i.SlPx, i.TpPx.P1, i.TpPx.P2, i.TpPx.P3, i.Leverage} {
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Join(ErrInvalidIntent, errors.New("prices and leverage must be positive"))
		}
	}
	if i.Size < 0 {
		return errors.Join(ErrInvalidIntent, errors.New("size must not be negative"))
	}
	tp := i.TpPx
	switch i.Side {
	case Long:
		if i.SlPx >= i.LimitPx {
			return errors.Join(ErrInvalidIntent, errors.New("long stop must be below limit"))
		}
		if !(i.LimitPx < tp.P1 && tp.P1 < tp.P2 && tp.P2 < tp.P3) {
			return errors.Join(ErrInvalidIntent, errors.New("long take-profits must ascend above limit"))
		}
	case Short:
		if i.SlPx <= i.LimitPx {
			return errors.Join(ErrInvalidIntent, errors.New("short stop must be above limit"))
		}
		if !(i.LimitPx > tp.P1 && tp.P1 > tp.P2 && tp.P2 > tp.P3) {
			return errors.Join(ErrInvalidIntent, errors.New("short take-profits must descend below limit"))
		}
	}
	return nil
}

// Opposite returns the exit direction for a position opened on k.
func (k Kind) Opposite() Kind {
	switch k {
	case Long:
		return Short
	case Short:
		return Long
	}
	return None
}

// Event is one emitted signal transition, serialized one JSON object per line.
type Event struct {
	Ts      int64   `json:"ts"`
	Symbol  string  `json:"symbol"`
	Signal  Kind    `json:"signal"`
	Confirm Confirm `json:"confirm"`
	Intent  *Intent `json:"intent,omitempty"`
}

// Time converts the epoch-millisecond timestamp.
func (e Event) Time() time.Time { return time.UnixMilli(e.Ts).UTC() }
