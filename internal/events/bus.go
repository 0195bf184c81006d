package events

import "sync"

// Bus is a lightweight pub/sub broker using channels.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]map[Type]struct{}
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]map[Type]struct{})}
}

// Subscribe registers a listener for the given types (all types when none are given) and
// returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(buffer int, types ...Type) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, buffer)
	var filter map[Type]struct{}
	if len(types) > 0 {
		filter = make(map[Type]struct{}, len(types))
		for _, t := range types {
			filter[t] = struct{}{}
		}
	}
	b.subs[ch] = filter

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, ch)
			close(ch)
		})
	}
	return ch, unsub
}

// Publish fans ev out to matching subscribers without blocking; slow subscribers miss events.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch, filter := range b.subs {
		if filter != nil {
			if _, ok := filter[ev.Type]; !ok {
				continue
			}
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

// Append publishes ev so the bus can sit in a sink chain.
func (b *Bus) Append(ev Event) error {
	b.Publish(ev)
	return nil
}

// Activity keeps the most recent events for display.
type Activity struct {
	mu     sync.Mutex
	limit  int
	events []Event
}

// NewActivity keeps at most limit events (100 when limit <= 0).
func NewActivity(limit int) *Activity {
	if limit <= 0 {
		limit = 100
	}
	return &Activity{limit: limit, events: make([]Event, 0, limit)}
}

// Append records ev, evicting the oldest entry when full.
func (a *Activity) Append(ev Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.events) == a.limit {
		copy(a.events, a.events[1:])
		a.events = a.events[:a.limit-1]
	}
	a.events = append(a.events, ev)
	return nil
}

// Recent returns a copy of the retained events, oldest first.
func (a *Activity) Recent() []Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Event, len(a.events))
	copy(out, a.events)
	return out
}
