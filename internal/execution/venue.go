// Package execution drives an order from intent through submission, fill, protection and
// replacement against a venue.
package execution

import (
	"context"

	"github.com/bud42069/AT-1000/internal/signal"
)

// Placement identifies an order resting at the venue.
type Placement struct {
	OrderID string
	TxRef   string
}

// Venue is the order placement contract the engine drives. side is always the position
// direction; protective and stop orders are placed on the opposite side, reduce-only.
type Venue interface {
	PlacePostOnlyLimit(ctx context.Context, side signal.Kind, price, size float64) (Placement, error)
	CancelAndSubmit(ctx context.Context, oldID string, newPrice float64, side signal.Kind, size float64) (Placement, error)
	InstallProtectiveOrders(ctx context.Context, anchorID string, stopPx float64, tpPx, sizes [3]float64, side signal.Kind) error
	ReplaceStop(ctx context.Context, newStop float64) error
	CancelAll(ctx context.Context) ([]string, error)
}
