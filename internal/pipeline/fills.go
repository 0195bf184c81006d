package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/bud42069/AT-1000/internal/dex/drift"
	"github.com/bud42069/AT-1000/internal/paper"
)

// Fills lists the order transitions a venue observed since the last poll.
type Fills struct {
	Filled  []string // entry ids that executed
	TP1     []string // entry ids whose first target executed
	Stopped []string // entry ids whose stop executed
	Closed  []string // entry ids whose position is flat
}

// FillSource reports executions. mark is the latest trade price.
type FillSource interface {
	Poll(ctx context.Context, mark float64) (Fills, error)
}

// Equity returns the account value used for sizing at mark.
type Equity func(ctx context.Context, mark float64) (float64, error)

type paperFills struct{ venue *paper.Venue }

// PaperFills crosses the paper book against every trade print.
func PaperFills(v *paper.Venue) FillSource { return paperFills{venue: v} }

func (p paperFills) Poll(_ context.Context, mark float64) (Fills, error) {
	c, err := p.venue.Cross(mark)
	return Fills{Filled: c.Filled, TP1: c.TP1, Stopped: c.Stopped, Closed: c.Closed}, err
}

// PaperEquity marks the paper account to the latest print.
func PaperEquity(account *paper.Account, symbol string) Equity {
	return func(_ context.Context, mark float64) (float64, error) {
		return account.Equity(map[string]float64{symbol: mark}), nil
	}
}

type driftFills struct {
	client   *drift.Client
	interval time.Duration

	mu   sync.Mutex
	last time.Time
}

// DriftFills reconciles the gateway's open orders at most once per interval.
func DriftFills(c *drift.Client, interval time.Duration) FillSource {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &driftFills{client: c, interval: interval}
}

func (d *driftFills) Poll(ctx context.Context, _ float64) (Fills, error) {
	d.mu.Lock()
	if time.Since(d.last) < d.interval {
		d.mu.Unlock()
		return Fills{}, nil
	}
	d.last = time.Now()
	d.mu.Unlock()

	rec, err := d.client.Reconcile(ctx)
	return Fills{Filled: rec.Filled, TP1: rec.TP1, Closed: rec.Closed}, err
}

// DriftEquity reads total collateral from the gateway.
func DriftEquity(c *drift.Client) Equity {
	return func(ctx context.Context, _ float64) (float64, error) {
		return c.Collateral(ctx)
	}
}
