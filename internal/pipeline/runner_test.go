package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bud42069/AT-1000/internal/events"
	"github.com/bud42069/AT-1000/internal/execution"
	"github.com/bud42069/AT-1000/internal/guard"
	"github.com/bud42069/AT-1000/internal/paper"
	"github.com/bud42069/AT-1000/internal/signal"
	"github.com/bud42069/AT-1000/internal/sink"
	"github.com/bud42069/AT-1000/internal/strategy"
)

type rig struct {
	runner  *Runner
	engine  *execution.Engine
	venue   *paper.Venue
	account *paper.Account
	events  *sink.Memory[events.Event]
}

func newRig(t *testing.T, opts ...Option) *rig {
	t.Helper()
	account := paper.NewAccount(10000, 0, 0)
	venue := paper.NewVenue("SOL-PERP", account)
	mem := sink.NewMemory[events.Event](64)
	snap := &guard.Snapshot{SpreadBps: 2, Depth: guard.Depth{Bid: 250000, Ask: 250000}, FundingAPR: 10, BasisBps: 2}
	engine := execution.NewEngine(execution.Config{Symbol: "SOL-PERP", MaxLeverage: 10}, venue, guard.StaticSource{Snap: snap}, mem, zerolog.Nop())
	runner := NewRunner(engine, PaperFills(venue), PaperEquity(account, "SOL-PERP"), zerolog.Nop(), opts...)
	return &rig{runner: runner, engine: engine, venue: venue, account: account, events: mem}
}

func (r *rig) types() []events.Type {
	var out []events.Type
	for _, ev := range r.events.Snapshot() {
		out = append(out, ev.Type)
	}
	return out
}

func tick(px float64) signal.Tick {
	return signal.Tick{Symbol: "SOLUSDT", Price: px, Size: 1, Side: 1}
}

func longSignal() signal.Event {
	return signal.Event{
		Ts:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).UnixMilli(),
		Symbol: "SOLUSDT",
		Signal: signal.Long,
		Intent: &signal.Intent{
			Side:     signal.Long,
			LimitPx:  100,
			SlPx:     90,
			TpPx:     signal.TakeProfits{P1: 110, P2: 120, P3: 130},
			Leverage: 5,
		},
	}
}

func TestRunnerFillsProtectsAndMovesStop(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	r.runner.HandleTick(ctx, tick(100))
	r.runner.HandleSignal(ctx, longSignal())
	require.Len(t, r.venue.Resting(), 1)

	r.runner.HandleTick(ctx, tick(100.05))
	r.runner.HandleTick(ctx, tick(99.9))
	assert.Empty(t, r.venue.Resting())
	assert.InDelta(t, 7.5, r.account.Position("SOL-PERP"), 1e-9)

	r.runner.HandleTick(ctx, tick(110))
	assert.Equal(t, []events.Type{
		events.OrderSubmitted, events.OrderFilled, events.StopsInstalled, events.SLMovedToBE,
	}, r.types())

	orders := r.engine.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, execution.StateProtected, orders[0].State)
	assert.Greater(t, orders[0].BreakevenPx, 100.0)
}

func TestRunnerChasesThenAbandons(t *testing.T) {
	r := newRig(t, WithRepriceTolerance(15))
	ctx := context.Background()

	r.runner.HandleTick(ctx, tick(100))
	r.runner.HandleSignal(ctx, longSignal())
	r.runner.HandleTick(ctx, tick(100.1))
	assert.Equal(t, []events.Type{events.OrderSubmitted}, r.types())

	r.runner.HandleTick(ctx, tick(100.5))
	assert.Equal(t, []events.Type{events.OrderSubmitted, events.OrderReplaced}, r.types())
	resting := r.venue.Resting()
	require.Len(t, resting, 1)
	live, ok := r.engine.Order(resting[0])
	require.True(t, ok)
	assert.Equal(t, 100.5, live.Price)
	assert.Equal(t, 2, live.Attempts)

	r.runner.HandleTick(ctx, tick(101))
	r.runner.HandleTick(ctx, tick(102))
	assert.Equal(t, []events.Type{events.OrderSubmitted, events.OrderReplaced, events.OrderAbandoned}, r.types())
}

func TestRunnerChasesShortDownward(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	ev := longSignal()
	ev.Signal = signal.Short
	ev.Intent = &signal.Intent{
		Side:     signal.Short,
		LimitPx:  100,
		SlPx:     110,
		TpPx:     signal.TakeProfits{P1: 90, P2: 80, P3: 70},
		Leverage: 5,
	}

	r.runner.HandleTick(ctx, tick(100))
	r.runner.HandleSignal(ctx, ev)
	r.runner.HandleTick(ctx, tick(99.99))
	assert.Equal(t, []events.Type{events.OrderSubmitted}, r.types())

	r.runner.HandleTick(ctx, tick(99))
	assert.Equal(t, []events.Type{events.OrderSubmitted, events.OrderReplaced}, r.types())
}

func TestRunnerSkipsSignalWhileEntryRests(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	r.runner.HandleTick(ctx, tick(100))
	r.runner.HandleSignal(ctx, longSignal())
	r.runner.HandleSignal(ctx, longSignal())
	assert.Len(t, r.venue.Resting(), 1)
	assert.Len(t, r.engine.Orders(), 1)
}

func TestRunnerHoldsSignalsUntilPositionCloses(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	r.runner.HandleTick(ctx, tick(100))
	r.runner.HandleSignal(ctx, longSignal())
	r.runner.HandleTick(ctx, tick(99.9))
	first := r.engine.Orders()[0]
	require.Equal(t, execution.StateProtected, first.State)

	second := longSignal()
	second.Intent.TpPx = signal.TakeProfits{P1: 103, P2: 106, P3: 109}
	r.runner.HandleSignal(ctx, second)
	assert.Len(t, r.engine.Orders(), 1)
	assert.Empty(t, r.venue.Resting())

	// first target, then back through the breakeven stop
	r.runner.HandleTick(ctx, tick(110))
	r.runner.HandleTick(ctx, tick(100))
	assert.InDelta(t, 0, r.account.Position("SOL-PERP"), 1e-9)
	closed, ok := r.engine.Order(first.ID)
	require.True(t, ok)
	assert.Equal(t, execution.StateClosed, closed.State)
	assert.InDelta(t, 100.06, closed.BreakevenPx, 1e-9)

	r.runner.HandleSignal(ctx, second)
	assert.Len(t, r.engine.Orders(), 2)
	assert.Len(t, r.venue.Resting(), 1)
}

func TestRunnerClosesPositionOnFinalTarget(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	r.runner.HandleTick(ctx, tick(100))
	r.runner.HandleSignal(ctx, longSignal())
	r.runner.HandleTick(ctx, tick(99.9))
	r.runner.HandleTick(ctx, tick(131))

	orders := r.engine.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, execution.StateClosed, orders[0].State)
	assert.InDelta(t, 0, r.account.Position("SOL-PERP"), 1e-9)
	assert.Equal(t, []events.Type{events.OrderSubmitted, events.OrderFilled, events.StopsInstalled}, r.types())
}

func TestRunnerIgnoresSignalsWhileHalted(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	_, err := r.engine.KillSwitch(ctx, "test")
	require.NoError(t, err)
	r.runner.HandleTick(ctx, tick(100))
	r.runner.HandleSignal(ctx, longSignal())
	assert.Empty(t, r.engine.Orders())
	assert.Equal(t, []events.Type{events.KillSwitch}, r.types())
}

func TestRunnerSkipsWhenEquityUnavailable(t *testing.T) {
	r := newRig(t)
	r.runner.equity = func(context.Context, float64) (float64, error) { return 0, errors.New("gateway down") }
	r.runner.HandleSignal(context.Background(), longSignal())
	assert.Empty(t, r.engine.Orders())
}

func TestGeneratorOutputIsRecordedThenExecuted(t *testing.T) {
	recorded := sink.NewMemory[signal.Event](4)
	r := newRig(t, WithGenerator(strategy.Params{Symbol: "SOLUSDT"}, recorded))
	require.NotNil(t, r.runner.Generator())

	require.NoError(t, tap{r.runner}.Append(longSignal()))
	assert.Equal(t, 1, recorded.Len())
	assert.Empty(t, r.engine.Orders())

	r.runner.HandleTick(context.Background(), tick(100))
	assert.Len(t, r.engine.Orders(), 1)
}

func TestRunStopsWhenInputsClose(t *testing.T) {
	r := newRig(t)
	ticks := make(chan signal.Tick, 4)
	signals := make(chan signal.Event, 1)
	ticks <- tick(100)
	signals <- longSignal()
	close(signals)
	ticks <- tick(99.5)
	close(ticks)

	require.NoError(t, r.runner.Run(context.Background(), ticks, signals))
	assert.Equal(t, 99.5, r.runner.Mark())
}

func TestRunReturnsOnCancel(t *testing.T) {
	r := newRig(t, WithGenerator(strategy.Params{Symbol: "SOLUSDT"}, nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.runner.Run(ctx, make(chan signal.Tick), nil)
	require.ErrorIs(t, err, context.Canceled)
}
