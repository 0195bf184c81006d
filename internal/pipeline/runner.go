// Package pipeline drives ticks through the signal generator into the execution engine.
package pipeline

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/bud42069/AT-1000/internal/execution"
	"github.com/bud42069/AT-1000/internal/signal"
	"github.com/bud42069/AT-1000/internal/strategy"
)

const defaultToleranceBps = 15

// Runner owns one trading loop. It is not safe for concurrent use; Run serializes everything.
type Runner struct {
	engine     *execution.Engine
	fills      FillSource
	equity     Equity
	gen        *strategy.Generator
	downstream strategy.Sink
	tolerance  float64
	log        zerolog.Logger

	pending []signal.Event
	mark    float64
}

// Option configures a Runner.
type Option func(*Runner)

// WithGenerator aggregates ticks into bars locally. Emitted signals are forwarded to sink
// before they are executed.
func WithGenerator(params strategy.Params, sink strategy.Sink, opts ...strategy.Option) Option {
	return func(r *Runner) {
		r.downstream = sink
		r.gen = strategy.NewGenerator(params, tap{r}, r.log, opts...)
	}
}

// WithRepriceTolerance sets how far, in bps, the market may run away from a resting entry
// before it is chased.
func WithRepriceTolerance(bps float64) Option {
	return func(r *Runner) {
		if bps > 0 {
			r.tolerance = bps
		}
	}
}

// NewRunner wires an engine to its fill source and equity reader. fills may be nil when
// executions are reported elsewhere.
func NewRunner(engine *execution.Engine, fills FillSource, equity Equity, log zerolog.Logger, opts ...Option) *Runner {
	r := &Runner{
		engine:    engine,
		fills:     fills,
		equity:    equity,
		tolerance: defaultToleranceBps,
		log:       log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Generator exposes the local bar aggregator, nil when signals come from outside.
func (r *Runner) Generator() *strategy.Generator { return r.gen }

// Mark returns the last trade price seen.
func (r *Runner) Mark() float64 { return r.mark }

// Run consumes ticks and external signal events until ctx ends or both channels close.
// Either channel may be nil. The open bar is flushed before returning; signals it produces
// are recorded but not executed.
func (r *Runner) Run(ctx context.Context, ticks <-chan signal.Tick, signals <-chan signal.Event) error {
	defer r.shutdown()
	for ticks != nil || signals != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tk, ok := <-ticks:
			if !ok {
				ticks = nil
				continue
			}
			r.HandleTick(ctx, tk)
		case ev, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			r.HandleSignal(ctx, ev)
		}
	}
	return nil
}

// HandleTick folds one trade into the generator, executes any signal it produced, then
// settles fills and chases stale entries at the new mark.
func (r *Runner) HandleTick(ctx context.Context, tk signal.Tick) {
	if tk.Price > 0 {
		r.mark = tk.Price
	}
	if r.gen != nil {
		r.gen.IngestTick(tk)
	}
	r.drain(ctx)
	r.poll(ctx)
	r.reprice(ctx)
}

// HandleSignal executes the intent carried by ev, if any.
func (r *Runner) HandleSignal(ctx context.Context, ev signal.Event) {
	if ev.Intent == nil || ev.Signal == signal.None {
		return
	}
	if o, ok := r.busy(); ok {
		r.log.Info().Str("order", o.ID).Str("state", string(o.State)).Str("signal", string(ev.Signal)).Msg("entry or position in progress; skipping signal")
		return
	}
	mark := r.mark
	if mark <= 0 {
		mark = ev.Intent.LimitPx
	}
	equity, err := r.equity(ctx, mark)
	if err != nil {
		r.log.Error().Err(err).Msg("equity unavailable; skipping signal")
		return
	}
	sub, err := r.engine.ExecuteIntent(ctx, *ev.Intent, equity)
	switch {
	case errors.Is(err, execution.ErrHalted):
		r.log.Debug().Str("signal", string(ev.Signal)).Msg("engine halted; signal ignored")
	case errors.Is(err, execution.ErrPositionOpen):
		r.log.Info().Err(err).Msg("position open; signal ignored")
	case errors.Is(err, signal.ErrInvalidIntent):
		r.log.Warn().Err(err).Msg("signal carried an invalid intent")
	case err != nil:
		r.log.Error().Err(err).Msg("execute intent")
	case sub.Rejected:
		r.log.Info().Str("reason", string(sub.Guard.Reason)).Msg("entry blocked by guards")
	}
}

// Flush closes the open bar and executes whatever it signalled.
func (r *Runner) Flush(ctx context.Context) {
	if r.gen == nil {
		return
	}
	r.gen.Flush()
	r.drain(ctx)
}

func (r *Runner) shutdown() {
	if r.gen == nil {
		return
	}
	r.gen.Flush()
	for _, ev := range r.pending {
		r.log.Info().Str("signal", string(ev.Signal)).Int64("ts", ev.Ts).Msg("signal at shutdown not executed")
	}
	r.pending = nil
}

func (r *Runner) drain(ctx context.Context) {
	for len(r.pending) > 0 {
		ev := r.pending[0]
		r.pending = r.pending[1:]
		r.HandleSignal(ctx, ev)
	}
}

func (r *Runner) poll(ctx context.Context) {
	if r.fills == nil || r.mark <= 0 {
		return
	}
	f, err := r.fills.Poll(ctx, r.mark)
	if err != nil {
		r.log.Error().Err(err).Msg("fill poll")
	}
	for _, id := range f.Filled {
		if _, err := r.engine.OnFill(ctx, id, signal.Intent{}); err != nil {
			r.log.Error().Err(err).Str("order", id).Msg("on fill")
		}
	}
	closed := make(map[string]bool, len(f.Closed))
	for _, id := range f.Closed {
		closed[id] = true
	}
	for _, id := range f.TP1 {
		if closed[id] {
			continue
		}
		if _, err := r.engine.OnTP1Hit(ctx, id); err != nil {
			r.log.Error().Err(err).Str("order", id).Msg("on tp1")
		}
	}
	for _, id := range f.Stopped {
		r.log.Info().Str("order", id).Float64("px", r.mark).Msg("position stopped out")
	}
	for _, id := range f.Closed {
		if _, err := r.engine.OnClosed(id); err != nil {
			r.log.Error().Err(err).Str("order", id).Msg("on closed")
		}
	}
}

// reprice chases entries the market has run away from. Prices moving through an entry fill
// it instead.
func (r *Runner) reprice(ctx context.Context) {
	if r.mark <= 0 || r.engine.Halted() {
		return
	}
	for _, o := range r.engine.Orders() {
		if o.State != execution.StateSubmitted || !r.stale(o) {
			continue
		}
		rep, err := r.engine.CancelAndReplace(ctx, o.ID, r.mark, signal.Intent{})
		if err != nil {
			r.log.Error().Err(err).Str("order", o.ID).Msg("cancel and replace")
			continue
		}
		if !rep.Abandoned {
			r.log.Info().Str("old", o.ID).Str("new", rep.Order.ID).Float64("px", r.mark).Msg("entry repriced")
		}
	}
}

func (r *Runner) stale(o execution.ManagedOrder) bool {
	away := (r.mark - o.Price) / o.Price * 1e4
	if o.Intent.Side == signal.Short {
		away = -away
	}
	return away > r.tolerance
}

// busy returns an order that is still resting or holds a position. At most one ladder is
// live at the venue.
func (r *Runner) busy() (execution.ManagedOrder, bool) {
	for _, o := range r.engine.Orders() {
		if o.State.Live() || o.State.Open() {
			return o, true
		}
	}
	return execution.ManagedOrder{}, false
}

// tap forwards generator output downstream and queues it for execution.
type tap struct{ r *Runner }

func (t tap) Append(ev signal.Event) error {
	t.r.pending = append(t.r.pending, ev)
	if t.r.downstream == nil {
		return nil
	}
	return t.r.downstream.Append(ev)
}
