// Package strategy turns trade ticks into one-minute bars and VWAP/CVD signals.
package strategy

import "time"

// Bar is one minute of aggregated trades for a single instrument.
type Bar struct {
	Start      time.Time `json:"start"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
	BuyVolume  float64   `json:"buy_volume"`
	SellVolume float64   `json:"sell_volume"`
	CVD        float64   `json:"cvd"`
	VWAP       float64   `json:"vwap"`
	Trades     int       `json:"trade_count"`

	notional float64
}

func newBar(start time.Time) *Bar { return &Bar{Start: start} }

// Fold applies one trade to the bar.
func (b *Bar) Fold(price, qty float64, buyerAggressor bool) {
	if b.Trades == 0 {
		b.Open, b.High, b.Low = price, price, price
	}
	if price > b.High {
		b.High = price
	}
	if price < b.Low {
		b.Low = price
	}
	b.Close = price

	b.Volume += qty
	if buyerAggressor {
		b.BuyVolume += qty
		b.CVD += qty
	} else {
		b.SellVolume += qty
		b.CVD -= qty
	}
	b.notional += price * qty
	b.VWAP = b.notional / b.Volume
	b.Trades++
}

// Range is high minus low.
func (b Bar) Range() float64 { return b.High - b.Low }
