// Package events records pool lifecycle events and fans them out to live
// subscribers. The newest events are kept in a fixed-size history; per-type
// tallies cover every event ever published.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the agent pool.
const (
	AgentSpawned   = "agent.spawned"
	AgentLost      = "agent.lost"
	WorkDispatched = "work.dispatched"
	WorkPanicked   = "work.panicked"
)

const defaultHistory = 100

// Event is one published lifecycle change. Data is the JSON encoding of the
// publisher's payload, "{}" when there was none.
type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Hub is safe for concurrent use. Agents publish from their own goroutines
// while the orchestrator reads.
type Hub struct {
	lastID  atomic.Int64
	dropped atomic.Int64

	mu      sync.Mutex
	history []Event
	next    int // slot the next event is written to
	filled  bool
	tally   map[string]int

	listeners  map[int]chan Event
	listenerID int
}

// NewHub returns a hub that remembers the last capacity events. A
// non-positive capacity selects the default of 100.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = defaultHistory
	}
	return &Hub{
		history:   make([]Event, capacity),
		tally:     make(map[string]int),
		listeners: make(map[int]chan Event),
	}
}

// Publish records an event and offers it to every subscriber. It never blocks:
// a subscriber whose buffer is full misses the event, and Dropped counts it.
func (h *Hub) Publish(eventType string, data any) {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// IDs are taken under the lock so history order and ID order agree.
	ev := Event{
		ID:   h.lastID.Add(1),
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}
	h.history[h.next] = ev
	h.next++
	if h.next == len(h.history) {
		h.next = 0
		h.filled = true
	}
	h.tally[eventType]++

	for _, ch := range h.listeners {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a listener for events published from now on. The
// channel is buffered to the history capacity. The returned func unsubscribes
// and closes the channel; calling it again does nothing.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.listenerID
	h.listenerID++
	ch := make(chan Event, len(h.history))
	h.listeners[id] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.listeners[id]; ok {
			delete(h.listeners, id)
			close(c)
		}
	}
}

// SnapshotSince returns the remembered events with an ID above lastID, oldest
// first. Pass 0 for the whole history.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	var ordered []Event
	if h.filled {
		ordered = append(append(ordered, h.history[h.next:]...), h.history[:h.next]...)
	} else {
		ordered = h.history[:h.next]
	}

	out := make([]Event, 0, len(ordered))
	for _, ev := range ordered {
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

// Count reports how many events of eventType were ever published, including
// ones that have aged out of the history.
func (h *Hub) Count(eventType string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tally[eventType]
}

// Total reports how many events were ever published.
func (h *Hub) Total() int64 { return h.lastID.Load() }

// Dropped reports deliveries skipped because a subscriber was not keeping up.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }
