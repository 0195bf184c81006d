package strategy

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/bud42069/AT-1000/internal/metrics"
	"github.com/bud42069/AT-1000/internal/signal"
)

// Sink receives emitted signal events. Appends are fire-and-forget.
type Sink interface {
	Append(signal.Event) error
}

// Params tunes the generator. Zero values fall back to the documented defaults.
type Params struct {
	Symbol         string
	HistorySize    int
	VolMultiplier  float64
	StopMultiplier float64
	TPMultipliers  [3]float64
	Leverage       float64
}

const (
	defaultHistorySize    = 100
	defaultVolMultiplier  = 1.5
	defaultStopMultiplier = 1.5
	defaultLeverage       = 5
	detectionWindow       = 4
)

var defaultTPMultipliers = [3]float64{2, 3, 4}

func (p Params) withDefaults() Params {
	if p.HistorySize <= 0 {
		p.HistorySize = defaultHistorySize
	}
	if p.VolMultiplier <= 0 {
		p.VolMultiplier = defaultVolMultiplier
	}
	if p.StopMultiplier <= 0 {
		p.StopMultiplier = defaultStopMultiplier
	}
	if p.TPMultipliers == [3]float64{} {
		p.TPMultipliers = defaultTPMultipliers
	}
	if p.Leverage <= 0 {
		p.Leverage = defaultLeverage
	}
	return p
}

// Generator aggregates ticks for one instrument and emits de-duplicated VWAP reclaim signals
// confirmed by the CVD trend.
type Generator struct {
	params  Params
	sink    Sink
	log     zerolog.Logger
	now     func() time.Time
	open    *Bar
	history []Bar
	last    signal.Kind
}

// Option configures Generator construction.
type Option func(*Generator)

// WithClock overrides the wall clock used for bar boundaries and event timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGenerator builds a generator that appends signal events to sink.
func NewGenerator(params Params, sink Sink, log zerolog.Logger, opts ...Option) *Generator {
	params = params.withDefaults()
	g := &Generator{
		params:  params,
		sink:    sink,
		log:     log.With().Str("component", "signals").Str("symbol", params.Symbol).Logger(),
		now:     time.Now,
		history: make([]Bar, 0, params.HistorySize),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// IngestTick folds one trade into the open bar, finalizing it first when the wall-clock minute has moved on.
// Late ticks land in whatever bar is open. Malformed ticks are logged and dropped.
func (g *Generator) IngestTick(t signal.Tick) {
	if !validNumber(t.Price) || !validNumber(t.Size) {
		metrics.TicksDropped.WithLabelValues(g.params.Symbol).Inc()
		g.log.Warn().Float64("px", t.Price).Float64("qty", t.Size).Msg("dropping malformed tick")
		return
	}

	minute := g.now().UTC().Truncate(time.Minute)
	if g.open != nil && minute.After(g.open.Start) {
		g.finalize()
	}
	if g.open == nil {
		g.open = newBar(minute)
	}
	g.open.Fold(t.Price, t.Size, t.BuyerAggressor())
}

// Flush finalizes the open bar, if any. Used on shutdown.
func (g *Generator) Flush() {
	if g.open != nil {
		g.finalize()
	}
}

// Bars returns a copy of the finalized bar history, oldest first.
func (g *Generator) Bars() []Bar {
	out := make([]Bar, len(g.history))
	copy(out, g.history)
	return out
}

// Current returns a copy of the open bar.
func (g *Generator) Current() (Bar, bool) {
	if g.open == nil {
		return Bar{}, false
	}
	return *g.open, true
}

// LastSignal reports the signal that is currently considered active.
func (g *Generator) LastSignal() signal.Kind { return g.last }

func (g *Generator) finalize() {
	bar := *g.open
	g.open = nil

	g.history = append(g.history, bar)
	if len(g.history) > g.params.HistorySize {
		g.history = append(g.history[:0], g.history[len(g.history)-g.params.HistorySize:]...)
	}
	metrics.BarsTotal.WithLabelValues(g.params.Symbol).Inc()
	g.log.Debug().
		Time("start", bar.Start).
		Float64("o", bar.Open).Float64("h", bar.High).Float64("l", bar.Low).Float64("c", bar.Close).
		Float64("cvd", bar.CVD).Float64("vwap", bar.VWAP).Int("trades", bar.Trades).
		Msg("bar closed")

	g.detectSignal()
}

func (g *Generator) detectSignal() {
	n := len(g.history)
	if n < detectionWindow {
		return
	}
	window := g.history[n-detectionWindow:]
	prev, cur := window[2], window[3]
	trend := cvdTrend(window[1].CVD, window[2].CVD, window[3].CVD)

	reclaimLong := prev.Close < prev.VWAP && cur.Close > cur.VWAP
	reclaimShort := prev.Close > prev.VWAP && cur.Close < cur.VWAP

	kind := signal.None
	switch {
	case reclaimLong && trend == signal.TrendUp:
		kind = signal.Long
	case reclaimShort && trend == signal.TrendDown:
		kind = signal.Short
	}

	if kind == signal.None {
		g.last = signal.None
		return
	}
	if kind == g.last {
		return
	}
	g.last = kind
	g.emitSignal(kind, signal.Confirm{VWAPReclaim: true, CVDTrend: trend}, cur)
}

func (g *Generator) emitSignal(kind signal.Kind, confirm signal.Confirm, bar Bar) {
	intent := g.proposeOrder(kind, bar)
	ev := signal.Event{
		Ts:      g.now().UnixMilli(),
		Symbol:  g.params.Symbol,
		Signal:  kind,
		Confirm: confirm,
		Intent:  &intent,
	}
	metrics.SignalsTotal.WithLabelValues(g.params.Symbol, string(kind)).Inc()
	g.log.Info().Str("signal", string(kind)).Str("trend", string(confirm.CVDTrend)).
		Float64("px", intent.LimitPx).Float64("sl", intent.SlPx).Msg("signal emitted")

	if g.sink == nil {
		return
	}
	if err := g.sink.Append(ev); err != nil {
		g.log.Warn().Err(err).Msg("signal sink append failed")
	}
}

func (g *Generator) proposeOrder(kind signal.Kind, bar Bar) signal.Intent {
	proxy := g.params.VolMultiplier * bar.Range()
	slDist := g.params.StopMultiplier * proxy
	dir := 1.0
	if kind == signal.Short {
		dir = -1
	}
	m := g.params.TPMultipliers
	return signal.Intent{
		Side:    kind,
		LimitPx: bar.Close,
		SlPx:    bar.Close - dir*slDist,
		TpPx: signal.TakeProfits{
			P1: bar.Close + dir*m[0]*proxy,
			P2: bar.Close + dir*m[1]*proxy,
			P3: bar.Close + dir*m[2]*proxy,
		},
		Leverage: g.params.Leverage,
	}
}

func cvdTrend(a, b, c float64) signal.Trend {
	switch {
	case b > a && c > b:
		return signal.TrendUp
	case b < a && c < b:
		return signal.TrendDown
	}
	return signal.TrendNeutral
}

func validNumber(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
