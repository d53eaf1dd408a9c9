package manager

import (
	"sync"
	"time"
)

// EventType discriminates lifecycle events.
type EventType string

const (
	// EventProviderStateChanged fires on every supervisor transition.
	EventProviderStateChanged EventType = "provider_state_changed"
	// EventToolCallCompleted fires after every Manager.Call, whatever
	// the outcome.
	EventToolCallCompleted EventType = "tool_call_completed"
)

// Event is one typed lifecycle notification. Fields beyond Type,
// Provider and Time are populated per event type.
type Event struct {
	Type     EventType
	Time     time.Time
	Provider string

	// State change
	From ProviderState
	To   ProviderState

	// Tool call completion
	CallID   string
	Tool     string
	Status   CallStatus
	Duration time.Duration
}

// eventHub fans events out to subscribers. Delivery is best-effort: a
// subscriber that stops draining loses events rather than stalling the
// dispatch path.
type eventHub struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

func newEventHub() *eventHub {
	return &eventHub{subs: map[int]chan Event{}}
}

// subscribe returns a receive channel and a cancel func. The buffer
// absorbs bursts; overflow drops.
func (h *eventHub) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
}

func (h *eventHub) publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
