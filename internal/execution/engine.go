package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bud42069/AT-1000/internal/events"
	"github.com/bud42069/AT-1000/internal/guard"
	"github.com/bud42069/AT-1000/internal/metrics"
	"github.com/bud42069/AT-1000/internal/risk"
	"github.com/bud42069/AT-1000/internal/signal"
)

var (
	// ErrUnknownOrder is returned for ids the engine never submitted.
	ErrUnknownOrder = errors.New("unknown order")
	// ErrNotLive is returned when an order can no longer be replaced.
	ErrNotLive = errors.New("order not live")
	// ErrNotFilled is returned when a take-profit arrives for an order without a fill.
	ErrNotFilled = errors.New("order not filled")
	// ErrHalted is returned for entries while the kill switch is engaged.
	ErrHalted = errors.New("engine halted by kill switch")
	// ErrPositionOpen is returned for entries while an earlier fill still holds a position.
	ErrPositionOpen = errors.New("position open")
)

// ReasonMaxAttempts is the abandonment reason once the replace budget is spent.
const ReasonMaxAttempts = "max_attempts"

// Config tunes the engine. Zero values fall back to the documented defaults.
type Config struct {
	Symbol            string
	MaxLeverage       float64
	RiskFraction      float64
	FeeBps            float64
	MaxAttempts       int
	MaintenanceMargin float64
	CallTimeout       time.Duration
	Guards            guard.Thresholds
}

// WithDefaults fills zero fields.
func (c Config) WithDefaults() Config {
	if c.RiskFraction <= 0 {
		c.RiskFraction = risk.DefaultRiskFraction
	}
	if c.FeeBps <= 0 {
		c.FeeBps = risk.DefaultFeeBps
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 2
	}
	if c.MaintenanceMargin <= 0 {
		c.MaintenanceMargin = risk.DefaultMaintenanceMargin
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.MaxLeverage > 0 {
		c.Guards.MaxLeverage = c.MaxLeverage
	}
	c.Guards = c.Guards.WithDefaults()
	c.MaxLeverage = c.Guards.MaxLeverage
	return c
}

// Submission is the outcome of ExecuteIntent. A guard rejection is an outcome, not an error.
type Submission struct {
	Order    ManagedOrder
	Sizing   risk.Sizing
	Rejected bool
	Guard    guard.Result
}

// Replacement is the outcome of CancelAndReplace.
type Replacement struct {
	Order     ManagedOrder
	Abandoned bool
}

// Engine owns the managed orders for one instrument. Public methods are serialized.
type Engine struct {
	mu         sync.Mutex
	cfg        Config
	venue      Venue
	guards     guard.Source
	sink       events.Sink
	log        zerolog.Logger
	now        func() time.Time
	orders     map[string]*ManagedOrder
	superseded map[string]string
	retired    []*ManagedOrder
	halted     bool
}

// Option configures Engine construction.
type Option func(*Engine)

// WithClock overrides the clock used for fills and event timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine wires the engine to its venue, guard source and event sink.
func NewEngine(cfg Config, venue Venue, guards guard.Source, sink events.Sink, log zerolog.Logger, opts ...Option) *Engine {
	if sink == nil {
		sink = events.Multi{}
	}
	e := &Engine{
		cfg:        cfg.WithDefaults(),
		venue:      venue,
		guards:     guards,
		sink:       sink,
		log:        log.With().Str("component", "engine").Logger(),
		now:        time.Now,
		orders:     make(map[string]*ManagedOrder),
		superseded: make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// ExecuteIntent runs preflight guards, sizes the entry and rests it as a post-only limit.
func (e *Engine) ExecuteIntent(ctx context.Context, intent signal.Intent, equity float64) (Submission, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.halted {
		return Submission{}, ErrHalted
	}
	if err := intent.Validate(); err != nil {
		e.log.Warn().Err(err).Msg("dropping invalid intent")
		return Submission{}, err
	}
	if open := e.openPosition(); open != nil {
		return Submission{}, fmt.Errorf("%w: %s is %s", ErrPositionOpen, open.ID, open.State)
	}

	snap, err := e.readGuards(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("guard snapshot unavailable; failing closed")
	}
	verdict := guard.Evaluate(snap, intent.Leverage, e.cfg.Guards)
	if !verdict.Pass() {
		metrics.GuardRejections.WithLabelValues(string(verdict.Reason)).Inc()
		e.emit(events.Rejected{
			Reason:   string(verdict.Reason),
			Message:  verdict.Message,
			Side:     string(intent.Side),
			Price:    intent.LimitPx,
			Leverage: intent.Leverage,
		})
		return Submission{Rejected: true, Guard: verdict}, nil
	}

	sizing, err := risk.PositionSize(equity, e.cfg.RiskFraction, intent.Leverage, intent.LimitPx, intent.SlPx)
	if err != nil {
		return Submission{}, errors.Join(signal.ErrInvalidIntent, err)
	}
	size := sizing.Size
	if intent.Size > 0 {
		size = math.Min(size, intent.Size)
	}
	if size <= 0 || math.IsNaN(size) {
		return Submission{}, fmt.Errorf("%w: computed size %v", signal.ErrInvalidIntent, size)
	}

	cctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	placed, err := e.venue.PlacePostOnlyLimit(cctx, intent.Side, intent.LimitPx, size)
	if err != nil {
		return Submission{}, fmt.Errorf("place post-only limit: %w", err)
	}

	order := &ManagedOrder{
		ID:          placed.OrderID,
		TxRef:       placed.TxRef,
		Intent:      intent,
		Price:       intent.LimitPx,
		Size:        size,
		Attempts:    1,
		State:       StateSubmitted,
		SubmittedAt: e.now().UTC(),
	}
	e.track(order)
	metrics.OrdersTotal.WithLabelValues(e.cfg.Symbol, string(intent.Side)).Inc()
	e.log.Info().Str("order", order.ID).Str("side", string(intent.Side)).Float64("px", order.Price).Float64("size", size).Msg("entry submitted")
	e.emit(events.Submitted{
		OrderID:  order.ID,
		TxRef:    order.TxRef,
		Side:     string(intent.Side),
		Price:    order.Price,
		Size:     size,
		Leverage: intent.Leverage,
		Attempt:  order.Attempts,
	})
	return Submission{Order: order.clone(), Sizing: sizing}, nil
}

// OnFill records the entry fill and installs the stop and take-profit ladder. Protection is
// never gated by guards. A zero intent keeps the stored stop and targets. Calling it again
// for a fill whose protection failed retries the install.
func (e *Engine) OnFill(ctx context.Context, orderID string, intent signal.Intent) (ManagedOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, err := e.lookup(orderID)
	if err != nil {
		return ManagedOrder{}, err
	}
	switch order.State {
	case StateProtected:
		return order.clone(), nil
	case StateFilled:
		e.log.Warn().Str("order", order.ID).Msg("retrying protective install")
		return e.protect(ctx, order)
	case StateReplaced, StateCancelled, StateClosed:
		return order.clone(), fmt.Errorf("%w: %s is %s", ErrNotLive, order.ID, order.State)
	}
	switch {
	case intent.Side == signal.None:
	case intent.Side == order.Intent.Side:
		order.Intent.SlPx = intent.SlPx
		order.Intent.TpPx = intent.TpPx
	default:
		e.log.Warn().Str("order", order.ID).Str("side", string(order.Intent.Side)).Str("intent_side", string(intent.Side)).
			Msg("fill intent side differs from order; keeping stored stop and targets")
	}

	fill := Fill{Price: order.Price, Size: order.Size, At: e.now().UTC()}
	qty := fill.Size
	if order.Intent.Side == signal.Short {
		qty = -qty
	}
	collateral := fill.Price * fill.Size / order.Intent.Leverage
	liq := risk.Liquidation(qty, fill.Price, collateral, fill.Price, e.cfg.MaintenanceMargin)

	order.Fill = &fill
	order.State = StateFilled
	e.log.Info().Str("order", order.ID).Float64("px", fill.Price).Float64("size", fill.Size).Float64("est_liq_px", liq.Price).Msg("entry filled")
	e.emit(events.Filled{
		OrderID:  order.ID,
		Side:     string(order.Intent.Side),
		Price:    fill.Price,
		Size:     fill.Size,
		FilledAt: fill.At,
		EstLiqPx: liq.Price,
	})
	return e.protect(ctx, order)
}

// protect installs the stop and take-profit ladder for a filled order.
func (e *Engine) protect(ctx context.Context, order *ManagedOrder) (ManagedOrder, error) {
	fill := order.Fill
	sizes := risk.SplitTakeProfits(fill.Size)
	tps := order.Intent.TpPx.Slice()
	cctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	if err := e.venue.InstallProtectiveOrders(cctx, order.ID, order.Intent.SlPx, tps, sizes, order.Intent.Side); err != nil {
		e.log.Error().Err(err).Str("order", order.ID).Msg("protective install failed; position unprotected")
		return order.clone(), fmt.Errorf("install protective orders: %w", err)
	}
	order.State = StateProtected
	e.emit(events.StopsInstalledData{
		OrderID: order.ID,
		StopPx:  order.Intent.SlPx,
		TpPx:    tps,
		TpSizes: sizes,
		Size:    fill.Size,
	})
	return order.clone(), nil
}

// CancelAndReplace moves a resting entry to newPrice. Once the attempt budget is spent the
// order is abandoned without contacting the venue. A failed venue call leaves tracking unchanged.
func (e *Engine) CancelAndReplace(ctx context.Context, orderID string, newPrice float64, intent signal.Intent) (Replacement, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, err := e.lookup(orderID)
	if err != nil {
		return Replacement{}, err
	}
	switch order.State {
	case StateAbandoned:
		return Replacement{Order: order.clone(), Abandoned: true}, nil
	case StateSubmitted:
	default:
		return Replacement{}, fmt.Errorf("%w: %s is %s", ErrNotLive, order.ID, order.State)
	}
	if newPrice <= 0 || math.IsNaN(newPrice) || math.IsInf(newPrice, 0) {
		return Replacement{}, fmt.Errorf("%w: replace price %v", signal.ErrInvalidIntent, newPrice)
	}

	if order.Attempts >= e.cfg.MaxAttempts {
		order.State = StateAbandoned
		e.log.Warn().Str("order", order.ID).Int("attempts", order.Attempts).Msg("replace budget spent; abandoning")
		e.emit(events.Abandoned{OrderID: order.ID, Reason: ReasonMaxAttempts, Attempts: order.Attempts})
		return Replacement{Order: order.clone(), Abandoned: true}, nil
	}

	side := order.Intent.Side
	if intent.Side != signal.None {
		side = intent.Side
	}
	cctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	placed, err := e.venue.CancelAndSubmit(cctx, order.ID, newPrice, side, order.Size)
	if err != nil {
		return Replacement{}, fmt.Errorf("cancel and submit %s: %w", order.ID, err)
	}

	next := &ManagedOrder{
		ID:          placed.OrderID,
		TxRef:       placed.TxRef,
		Intent:      order.Intent,
		Price:       newPrice,
		Size:        order.Size,
		Attempts:    order.Attempts + 1,
		State:       StateSubmitted,
		SubmittedAt: e.now().UTC(),
	}
	next.Intent.Side = side
	next.Intent.LimitPx = newPrice
	order.State = StateReplaced
	if next.ID != order.ID {
		e.track(next)
		e.superseded[order.ID] = next.ID
	} else {
		e.orders[next.ID] = next
	}
	e.log.Info().Str("old", order.ID).Str("new", next.ID).Float64("px", newPrice).Int("attempt", next.Attempts).Msg("entry replaced")
	e.emit(events.Replaced{
		OldID:   order.ID,
		NewID:   next.ID,
		TxRef:   next.TxRef,
		Price:   newPrice,
		Attempt: next.Attempts,
	})
	return Replacement{Order: next.clone()}, nil
}

// OnTP1Hit moves the stop to breakeven plus estimated fees. Repeated calls are no-ops.
func (e *Engine) OnTP1Hit(ctx context.Context, orderID string) (ManagedOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, err := e.lookup(orderID)
	if err != nil {
		return ManagedOrder{}, err
	}
	if order.Fill == nil {
		return ManagedOrder{}, fmt.Errorf("%w: %s", ErrNotFilled, order.ID)
	}
	if order.BreakevenPx > 0 {
		return order.clone(), nil
	}
	if order.State != StateProtected {
		return order.clone(), fmt.Errorf("%w: %s is %s", ErrNotLive, order.ID, order.State)
	}

	be := risk.Breakeven(order.Fill.Price, e.cfg.FeeBps, order.Intent.Side == signal.Long)
	cctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	if err := e.venue.ReplaceStop(cctx, be); err != nil {
		return ManagedOrder{}, fmt.Errorf("replace stop: %w", err)
	}
	order.BreakevenPx = be
	e.log.Info().Str("order", order.ID).Float64("sl", be).Msg("stop moved to breakeven")
	e.emit(events.SLMoved{OrderID: order.ID, FillPx: order.Fill.Price, StopPx: be})
	return order.clone(), nil
}

// KillSwitch cancels everything resting at the venue and halts new entries until Resume.
// It is safe to call repeatedly.
func (e *Engine) KillSwitch(ctx context.Context, reason string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.halted = true
	cctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	cancelled, err := e.venue.CancelAll(cctx)
	if err != nil {
		e.log.Error().Err(err).Msg("kill switch cancel-all failed")
		return 0, fmt.Errorf("cancel all: %w", err)
	}
	unprotected := 0
	for _, order := range e.orders {
		if order.State.Open() {
			unprotected++
		}
		if order.State.Live() || order.State.Open() {
			order.State = StateCancelled
		}
	}
	if unprotected > 0 {
		e.log.Warn().Int("positions", unprotected).Msg("protection withdrawn; open positions left unmanaged")
	}
	e.log.Warn().Int("cancelled", len(cancelled)).Str("reason", reason).Msg("kill switch engaged")
	e.emit(events.KillSwitchData{Cancelled: len(cancelled), Reason: reason})
	return len(cancelled), nil
}

// OnClosed marks the position opened by orderID as flat, once its stop or final target
// executed. New entries are refused until every position is closed.
func (e *Engine) OnClosed(orderID string) (ManagedOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, err := e.lookup(orderID)
	if err != nil {
		return ManagedOrder{}, err
	}
	switch {
	case order.State == StateClosed:
		return order.clone(), nil
	case !order.State.Open():
		return order.clone(), fmt.Errorf("%w: %s is %s", ErrNotLive, order.ID, order.State)
	}
	order.State = StateClosed
	e.log.Info().Str("order", order.ID).Float64("breakeven_px", order.BreakevenPx).Msg("position closed")
	return order.clone(), nil
}

// Resume clears the kill-switch halt.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.halted {
		e.log.Info().Msg("entries resumed")
	}
	e.halted = false
}

// Halted reports whether the kill switch is engaged.
func (e *Engine) Halted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.halted
}

// Order returns the record for id, following replacements to the live order.
func (e *Engine) Order(id string) (ManagedOrder, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	order, err := e.lookup(id)
	if err != nil {
		return ManagedOrder{}, false
	}
	return order.clone(), true
}

// Orders returns every tracked order, oldest submission first.
func (e *Engine) Orders() []ManagedOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ManagedOrder, 0, len(e.orders)+len(e.retired))
	for _, order := range e.retired {
		out = append(out, order.clone())
	}
	for _, order := range e.orders {
		out = append(out, order.clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].Attempts < out[j].Attempts
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

// track stores order under its venue id. Venues may hand out an id again once they are done
// with it, so an earlier record under the same id is retired along with every replacement
// link that pointed at or through it.
func (e *Engine) track(order *ManagedOrder) {
	if old, ok := e.orders[order.ID]; ok {
		if old.State.Open() {
			e.log.Warn().Str("order", old.ID).Str("state", string(old.State)).Msg("venue reused the id of an open position")
		}
		e.retired = append(e.retired, old)
	}
	delete(e.superseded, order.ID)
	for from, to := range e.superseded {
		if to == order.ID {
			delete(e.superseded, from)
		}
	}
	e.orders[order.ID] = order
}

func (e *Engine) openPosition() *ManagedOrder {
	for _, order := range e.orders {
		if order.State.Open() {
			return order
		}
	}
	return nil
}

func (e *Engine) lookup(id string) (*ManagedOrder, error) {
	seen := 0
	for {
		next, ok := e.superseded[id]
		if !ok || seen > len(e.superseded) {
			break
		}
		id = next
		seen++
	}
	order, ok := e.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOrder, id)
	}
	return order, nil
}

func (e *Engine) readGuards(ctx context.Context) (*guard.Snapshot, error) {
	if e.guards == nil {
		return nil, guard.ErrUnavailable
	}
	cctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	snap, err := e.guards.Snapshot(cctx)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, guard.ErrUnavailable
	}
	return snap, nil
}

func (e *Engine) emit(payload events.Payload) {
	ev := events.New(e.now(), payload)
	metrics.EngineEvents.WithLabelValues(string(ev.Type)).Inc()
	if err := e.sink.Append(ev); err != nil {
		e.log.Warn().Err(err).Str("type", string(ev.Type)).Msg("event sink append failed")
	}
}
