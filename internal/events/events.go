// Package events defines the execution lifecycle events and the sinks that carry them.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type names a lifecycle transition.
type Type string

const (
	OrderSubmitted Type = "order_submitted"
	OrderFilled    Type = "order_filled"
	OrderRejected  Type = "order_rejected"
	StopsInstalled Type = "stops_installed"
	SLMovedToBE    Type = "sl_moved_to_be"
	OrderReplaced  Type = "order_replaced"
	OrderAbandoned Type = "order_abandoned"
	KillSwitch     Type = "kill_switch"
)

// Payload is the type-specific body of an event.
type Payload interface {
	EventType() Type
}

// Submitted is emitted once a post-only entry rests at the venue.
type Submitted struct {
	OrderID  string  `json:"orderId"`
	TxRef    string  `json:"tx"`
	Side     string  `json:"side"`
	Price    float64 `json:"price"`
	Size     float64 `json:"size"`
	Leverage float64 `json:"leverage"`
	Attempt  int     `json:"attempt"`
}

// Filled is emitted when an entry fill is recorded.
type Filled struct {
	OrderID  string    `json:"orderId"`
	Side     string    `json:"side"`
	Price    float64   `json:"price"`
	Size     float64   `json:"size"`
	FilledAt time.Time `json:"filledAt"`
	EstLiqPx float64   `json:"estLiqPx,omitempty"`
}

// Rejected is emitted when preflight blocks an entry.
type Rejected struct {
	Reason   string  `json:"reason"`
	Message  string  `json:"message"`
	Side     string  `json:"side"`
	Price    float64 `json:"price"`
	Leverage float64 `json:"leverage"`
}

// StopsInstalledData describes the protective ladder placed after a fill.
type StopsInstalledData struct {
	OrderID string     `json:"orderId"`
	StopPx  float64    `json:"slPx"`
	TpPx    [3]float64 `json:"tpPx"`
	TpSizes [3]float64 `json:"tpSizes"`
	Size    float64    `json:"size"`
}

// SLMoved is emitted when the stop is relocated to breakeven.
type SLMoved struct {
	OrderID string  `json:"orderId"`
	FillPx  float64 `json:"fillPx"`
	StopPx  float64 `json:"slPx"`
}

// Replaced is emitted after a successful cancel/replace.
type Replaced struct {
	OldID   string  `json:"oldId"`
	NewID   string  `json:"newId"`
	TxRef   string  `json:"tx"`
	Price   float64 `json:"price"`
	Attempt int     `json:"attempt"`
}

// Abandoned is emitted when an order runs out of replace attempts.
type Abandoned struct {
	OrderID  string `json:"orderId"`
	Reason   string `json:"reason"`
	Attempts int    `json:"attempts"`
}

// KillSwitchData reports the outcome of a global halt.
type KillSwitchData struct {
	Cancelled int    `json:"cancelled"`
	Reason    string `json:"reason"`
}

func (Submitted) EventType() Type          { return OrderSubmitted }
func (Filled) EventType() Type             { return OrderFilled }
func (Rejected) EventType() Type           { return OrderRejected }
func (StopsInstalledData) EventType() Type { return StopsInstalled }
func (SLMoved) EventType() Type            { return SLMovedToBE }
func (Replaced) EventType() Type           { return OrderReplaced }
func (Abandoned) EventType() Type          { return OrderAbandoned }
func (KillSwitchData) EventType() Type     { return KillSwitch }

// Event is one lifecycle emission.
type Event struct {
	Type      Type
	Timestamp time.Time
	Data      Payload
}

// New stamps payload with ts.
func New(ts time.Time, payload Payload) Event {
	return Event{Type: payload.EventType(), Timestamp: ts.UTC(), Data: payload}
}

type wireEvent struct {
	Type      Type            `json:"type"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// MarshalJSON renders {"type","timestamp","data"} with an ISO 8601 timestamp.
func (e Event) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEvent{
		Type:      e.Type,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		Data:      data,
	})
}

// UnmarshalJSON decodes the payload variant matching the type field.
func (e *Event) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
	if err != nil {
		return fmt.Errorf("event timestamp: %w", err)
	}
	payload, err := decodePayload(w.Type, w.Data)
	if err != nil {
		return err
	}
	*e = Event{Type: w.Type, Timestamp: ts, Data: payload}
	return nil
}

func decodePayload(t Type, raw json.RawMessage) (Payload, error) {
	var p Payload
	switch t {
	case OrderSubmitted:
		p = &Submitted{}
	case OrderFilled:
		p = &Filled{}
	case OrderRejected:
		p = &Rejected{}
	case StopsInstalled:
		p = &StopsInstalledData{}
	case SLMovedToBE:
		p = &SLMoved{}
	case OrderReplaced:
		p = &Replaced{}
	case OrderAbandoned:
		p = &Abandoned{}
	case KillSwitch:
		p = &KillSwitchData{}
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", t, err)
		}
	}
	return deref(p), nil
}

func deref(p Payload) Payload {
	switch v := p.(type) {
	case *Submitted:
		return *v
	case *Filled:
		return *v
	case *Rejected:
		return *v
	case *StopsInstalledData:
		return *v
	case *SLMoved:
		return *v
	case *Replaced:
		return *v
	case *Abandoned:
		return *v
	case *KillSwitchData:
		return *v
	}
	return p
}

// Sink receives lifecycle events.
type Sink interface {
	Append(Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event) error

// Append calls f.
func (f SinkFunc) Append(ev Event) error { return f(ev) }

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

// Append delivers ev to all sinks even if some fail.
func (m Multi) Append(ev Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Append(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
