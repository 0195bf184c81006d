package execution

import (
	"time"

	"github.com/bud42069/AT-1000/internal/signal"
)

// State is the lifecycle position of a managed order.
type State string

const (
	StateSubmitted State = "submitted"
	StateReplaced  State = "replaced"
	StateFilled    State = "filled"
	StateProtected State = "protected"
	StateAbandoned State = "abandoned"
	StateCancelled State = "cancelled"
	StateClosed    State = "closed"
)

// Live reports whether the order may still be resting at the venue.
func (s State) Live() bool { return s == StateSubmitted }

// Open reports whether the order holds a position.
func (s State) Open() bool { return s == StateFilled || s == StateProtected }

// Fill records where and when an entry executed.
type Fill struct {
	Price float64   `json:"price"`
	Size  float64   `json:"size"`
	At    time.Time `json:"at"`
}

// ManagedOrder is the engine's record of one venue order.
type ManagedOrder struct {
	ID          string        `json:"id"`
	TxRef       string        `json:"tx"`
	Intent      signal.Intent `json:"intent"`
	Price       float64       `json:"price"`
	Size        float64       `json:"size"`
	Attempts    int           `json:"attempts"`
	State       State         `json:"state"`
	Fill        *Fill         `json:"fill,omitempty"`
	BreakevenPx float64       `json:"breakevenPx,omitempty"`
	SubmittedAt time.Time     `json:"submittedAt"`
}

func (o *ManagedOrder) clone() ManagedOrder {
	c := *o
	if o.Fill != nil {
		f := *o.Fill
		c.Fill = &f
	}
	return c
}
