package strategy

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bud42069/AT-1000/internal/signal"
)

type collector struct {
	events []signal.Event
	err    error
}

func (c *collector) Append(ev signal.Event) error {
	c.events = append(c.events, ev)
	return c.err
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

type fold struct {
	px, qty float64
	side    int
}

// feedMinutes folds each group of trades into its own minute starting at base.
func feedMinutes(g *Generator, clock *fakeClock, base time.Time, minutes ...[]fold) {
	for i, trades := range minutes {
		clock.t = base.Add(time.Duration(i)*time.Minute + 5*time.Second)
		for _, tr := range trades {
			g.IngestTick(signal.Tick{Symbol: "SOLUSDT", Price: tr.px, Size: tr.qty, Side: tr.side, Ts: clock.t})
		}
	}
}

func newTestGenerator(sink Sink) (*Generator, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	g := NewGenerator(Params{Symbol: "SOLUSDT", Leverage: 5}, sink, zerolog.Nop(), WithClock(clock.now))
	return g, clock
}

var longSetup = [][]fold{
	{{100, 1, 1}},
	{{100, 1, 1}},                 // cvd 1
	{{101, 3, 1}, {99, 1, -1}},    // cvd 2, close 99 < vwap 100.5
	{{99, 1, -1}, {102, 4, 1}},    // cvd 3, close 102 > vwap 101.4
	{{102, 1, 1}},                 // opens minute 5 and closes bar 4
}

var shortSetup = [][]fold{
	{{100, 1, -1}},
	{{100, 1, -1}},                // cvd -1
	{{99, 3, -1}, {101, 1, 1}},    // cvd -2, close 101 > vwap 99.5
	{{101, 1, 1}, {98, 4, -1}},    // cvd -3, close 98 < vwap 98.6
	{{98, 1, -1}},
}

func TestGeneratorEmitsLongSignal(t *testing.T) {
	sink := &collector{}
	g, clock := newTestGenerator(sink)
	feedMinutes(g, clock, clock.t, longSetup...)

	if len(g.Bars()) != 4 {
		t.Fatalf("expected 4 finalized bars, got %d", len(g.Bars()))
	}
	if len(sink.events) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(sink.events))
	}
	ev := sink.events[0]
	if ev.Signal != signal.Long || ev.Symbol != "SOLUSDT" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if !ev.Confirm.VWAPReclaim || ev.Confirm.CVDTrend != signal.TrendUp {
		t.Fatalf("unexpected confirm %+v", ev.Confirm)
	}
	in := ev.Intent
	if in == nil {
		t.Fatalf("expected intent")
	}
	// range 3 -> proxy 4.5, stop distance 6.75, tps 9/13.5/18
	checks := map[string][2]float64{
		"limit": {in.LimitPx, 102},
		"stop":  {in.SlPx, 95.25},
		"tp1":   {in.TpPx.P1, 111},
		"tp2":   {in.TpPx.P2, 115.5},
		"tp3":   {in.TpPx.P3, 120},
		"lev":   {in.Leverage, 5},
		"size":  {in.Size, 0},
	}
	for name, c := range checks {
		if math.Abs(c[0]-c[1]) > 1e-9 {
			t.Fatalf("%s: expected %v got %v", name, c[1], c[0])
		}
	}
	if err := in.Validate(); err != nil {
		t.Fatalf("proposed intent invalid: %v", err)
	}
}

func TestGeneratorEmitsShortSignal(t *testing.T) {
	sink := &collector{}
	g, clock := newTestGenerator(sink)
	feedMinutes(g, clock, clock.t, shortSetup...)

	if len(sink.events) != 1 || sink.events[0].Signal != signal.Short {
		t.Fatalf("expected one short signal, got %+v", sink.events)
	}
	in := sink.events[0].Intent
	if in.SlPx <= in.LimitPx || in.TpPx.P1 >= in.LimitPx {
		t.Fatalf("short intent on wrong side: %+v", in)
	}
	if err := in.Validate(); err != nil {
		t.Fatalf("proposed intent invalid: %v", err)
	}
	if sink.events[0].Confirm.CVDTrend != signal.TrendDown {
		t.Fatalf("expected down trend")
	}
}

func TestGeneratorDeduplicatesPersistingSignal(t *testing.T) {
	sink := &collector{}
	g, clock := newTestGenerator(sink)
	feedMinutes(g, clock, clock.t, longSetup...)
	if len(sink.events) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(sink.events))
	}

	g.detectSignal()
	if len(sink.events) != 1 {
		t.Fatalf("same signal emitted twice: %d events", len(sink.events))
	}
	if g.LastSignal() != signal.Long {
		t.Fatalf("expected long to stay active")
	}
}

func TestGeneratorClearsSignalWhenConditionFails(t *testing.T) {
	sink := &collector{}
	g, clock := newTestGenerator(sink)
	feedMinutes(g, clock, clock.t, longSetup...)

	// minute 5 keeps close above vwap: no reclaim, the active signal clears silently.
	clock.t = clock.t.Add(time.Minute)
	g.IngestTick(signal.Tick{Price: 103, Size: 1, Side: 1})
	if g.LastSignal() != signal.None {
		t.Fatalf("expected cleared signal, got %q", g.LastSignal())
	}
	if len(sink.events) != 1 {
		t.Fatalf("clearing must not emit, got %d events", len(sink.events))
	}
}

func TestGeneratorNeedsFourBars(t *testing.T) {
	sink := &collector{}
	g, clock := newTestGenerator(sink)
	feedMinutes(g, clock, clock.t, longSetup[1:]...)
	if len(g.Bars()) != 3 || len(sink.events) != 0 {
		t.Fatalf("expected no signal from 3 bars, got %d bars %d events", len(g.Bars()), len(sink.events))
	}
}

func TestGeneratorHistoryIsBounded(t *testing.T) {
	g, clock := newTestGenerator(nil)
	start := clock.t
	for i := 0; i < 105; i++ {
		clock.t = start.Add(time.Duration(i) * time.Minute)
		g.IngestTick(signal.Tick{Price: float64(100 + i), Size: 1, Side: 1})
	}
	bars := g.Bars()
	if len(bars) != 100 {
		t.Fatalf("expected 100 bars, got %d", len(bars))
	}
	if bars[0].Open != 104 || bars[99].Open != 203 {
		t.Fatalf("expected oldest bars evicted, got first=%v last=%v", bars[0].Open, bars[99].Open)
	}
}

func TestGeneratorDropsMalformedTicks(t *testing.T) {
	g, _ := newTestGenerator(nil)
	g.IngestTick(signal.Tick{Price: math.NaN(), Size: 1, Side: 1})
	g.IngestTick(signal.Tick{Price: 100, Size: 0, Side: 1})
	g.IngestTick(signal.Tick{Price: -1, Size: 1, Side: -1})
	if _, open := g.Current(); open {
		t.Fatalf("malformed ticks must not open a bar")
	}
}

func TestGeneratorSinkFailureDoesNotPanic(t *testing.T) {
	sink := &collector{err: errors.New("disk full")}
	g, clock := newTestGenerator(sink)
	feedMinutes(g, clock, clock.t, longSetup...)
	if len(sink.events) != 1 {
		t.Fatalf("expected append attempt, got %d", len(sink.events))
	}
}

func TestGeneratorFlushClosesOpenBar(t *testing.T) {
	g, clock := newTestGenerator(nil)
	feedMinutes(g, clock, clock.t, []fold{{100, 1, 1}})
	g.Flush()
	if len(g.Bars()) != 1 {
		t.Fatalf("expected flushed bar, got %d", len(g.Bars()))
	}
	if _, open := g.Current(); open {
		t.Fatalf("expected no open bar after flush")
	}
}
