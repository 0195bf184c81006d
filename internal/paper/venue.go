package paper

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/bud42069/AT-1000/internal/execution"
	"github.com/bud42069/AT-1000/internal/signal"
)

var (
	// ErrWouldCross is returned when a post-only order would take liquidity.
	ErrWouldCross = errors.New("post-only order would cross")
	// ErrNotResting is returned when cancelling an order that is no longer on the book.
	ErrNotResting = errors.New("order not resting")
	// ErrNoStop is returned by ReplaceStop before protection is installed.
	ErrNoStop = errors.New("no stop installed")
)

type restingOrder struct {
	id    string
	side  signal.Kind
	price float64
	size  float64
}

type exitOrder struct {
	id    string
	price float64
	size  float64
	done  bool
}

type ladder struct {
	anchor string
	side   signal.Kind
	stop   exitOrder
	tps    [3]exitOrder
}

// Crossing reports what a trade print executed.
type Crossing struct {
	Filled  []string // entry order ids
	TP1     []string // anchor ids whose first target filled
	Stopped []string // anchor ids whose stop triggered
	Closed  []string // anchor ids whose position is flat
}

// Venue is an in-memory book that fills resting orders against trade prints.
type Venue struct {
	mu      sync.Mutex
	symbol  string
	account *Account
	last    float64
	entries map[string]*restingOrder
	order   []string
	ladders []*ladder
}

var _ execution.Venue = (*Venue)(nil)

// NewVenue creates a paper book for symbol settling into account.
func NewVenue(symbol string, account *Account) *Venue {
	return &Venue{symbol: symbol, account: account, entries: make(map[string]*restingOrder)}
}

// PlacePostOnlyLimit rests an entry, refusing prices that would trade immediately.
func (v *Venue) PlacePostOnlyLimit(_ context.Context, side signal.Kind, price, size float64) (execution.Placement, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.place(side, price, size)
}

// CancelAndSubmit pulls oldID and rests a replacement.
func (v *Venue) CancelAndSubmit(_ context.Context, oldID string, newPrice float64, side signal.Kind, size float64) (execution.Placement, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.entries[oldID]; !ok {
		return execution.Placement{}, fmt.Errorf("%w: %s", ErrNotResting, oldID)
	}
	if v.crosses(side, newPrice) {
		return execution.Placement{}, fmt.Errorf("%w: %s at %.4f, last %.4f", ErrWouldCross, side, newPrice, v.last)
	}
	v.remove(oldID)
	return v.place(side, newPrice, size)
}

// InstallProtectiveOrders attaches a stop and three targets to a filled entry.
func (v *Venue) InstallProtectiveOrders(_ context.Context, anchorID string, stopPx float64, tpPx, sizes [3]float64, side signal.Kind) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	l := &ladder{
		anchor: anchorID,
		side:   side,
		stop:   exitOrder{id: uuid.NewString(), price: stopPx, size: sizes[0] + sizes[1] + sizes[2]},
	}
	for i := range tpPx {
		l.tps[i] = exitOrder{id: uuid.NewString(), price: tpPx[i], size: sizes[i]}
	}
	v.ladders = append(v.ladders, l)
	return nil
}

// ReplaceStop moves the stop of the most recent open ladder.
func (v *Venue) ReplaceStop(_ context.Context, newStop float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := len(v.ladders) - 1; i >= 0; i-- {
		l := v.ladders[i]
		if !l.stop.done {
			l.stop.price = newStop
			l.stop.id = uuid.NewString()
			return nil
		}
	}
	return ErrNoStop
}

// CancelAll clears every resting entry and open exit.
func (v *Venue) CancelAll(context.Context) ([]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := append([]string(nil), v.order...)
	for _, l := range v.ladders {
		if !l.stop.done {
			out = append(out, l.stop.id)
		}
		for _, tp := range l.tps {
			if !tp.done {
				out = append(out, tp.id)
			}
		}
	}
	v.entries = make(map[string]*restingOrder)
	v.order = nil
	v.ladders = nil
	return out, nil
}

// Resting returns the ids of entries still on the book, oldest first.
func (v *Venue) Resting() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.order...)
}

// Cross executes everything a trade at price reaches: entries fill at their limit, targets
// and stops close the position through the account.
func (v *Venue) Cross(price float64) (Crossing, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.last = price

	var out Crossing
	var errs []error
	for _, id := range append([]string(nil), v.order...) {
		o := v.entries[id]
		if (o.side == signal.Long && price <= o.price) || (o.side == signal.Short && price >= o.price) {
			if err := v.account.Fill(v.symbol, o.side, o.size, o.price); err != nil {
				errs = append(errs, fmt.Errorf("fill %s: %w", id, err))
				continue
			}
			v.remove(id)
			out.Filled = append(out.Filled, id)
		}
	}

	open := v.ladders[:0]
	for _, l := range v.ladders {
		exit := l.side.Opposite()
		long := l.side == signal.Long
		for i := range l.tps {
			tp := &l.tps[i]
			if tp.done || !(long && price >= tp.price || !long && price <= tp.price) {
				continue
			}
			if err := v.account.Fill(v.symbol, exit, tp.size, tp.price); err != nil {
				errs = append(errs, fmt.Errorf("target %s: %w", tp.id, err))
				continue
			}
			tp.done = true
			l.stop.size -= tp.size
			if i == 0 {
				out.TP1 = append(out.TP1, l.anchor)
			}
		}
		if !l.stop.done && l.stop.size > epsilon && (long && price <= l.stop.price || !long && price >= l.stop.price) {
			if err := v.account.Fill(v.symbol, exit, l.stop.size, price); err != nil {
				errs = append(errs, fmt.Errorf("stop %s: %w", l.stop.id, err))
			} else {
				l.stop.done = true
				out.Stopped = append(out.Stopped, l.anchor)
			}
		}
		if l.stop.size <= epsilon {
			l.stop.done = true
		}
		if l.stop.done {
			out.Closed = append(out.Closed, l.anchor)
			continue
		}
		open = append(open, l)
	}
	v.ladders = open
	return out, errors.Join(errs...)
}

func (v *Venue) place(side signal.Kind, price, size float64) (execution.Placement, error) {
	if side != signal.Long && side != signal.Short {
		return execution.Placement{}, fmt.Errorf("unknown side %q", side)
	}
	if price <= 0 || size <= 0 {
		return execution.Placement{}, errors.New("price and size must be positive")
	}
	if v.crosses(side, price) {
		return execution.Placement{}, fmt.Errorf("%w: %s at %.4f, last %.4f", ErrWouldCross, side, price, v.last)
	}
	id := uuid.NewString()
	v.entries[id] = &restingOrder{id: id, side: side, price: price, size: size}
	v.order = append(v.order, id)
	return execution.Placement{OrderID: id, TxRef: "paper-" + id[:8]}, nil
}

func (v *Venue) crosses(side signal.Kind, price float64) bool {
	if v.last <= 0 {
		return false
	}
	if side == signal.Long {
		return price > v.last
	}
	return price < v.last
}

func (v *Venue) remove(id string) {
	delete(v.entries, id)
	for i, oid := range v.order {
		if oid == id {
			v.order = append(v.order[:i], v.order[i+1:]...)
			return
		}
	}
}
