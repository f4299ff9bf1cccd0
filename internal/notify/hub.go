package notify

import (
	"log/slog"
	"sync"
	"time"
)

// Reminder is a fired notification.
type Reminder struct {
	Handle  string      `json:"handle"`
	Title   string      `json:"title"`
	Kind    TriggerKind `json:"kind"`
	FiredAt time.Time   `json:"fired_at"`
}

// Sink receives fired reminders. Deliver must not block.
type Sink interface {
	Deliver(r Reminder)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(r Reminder)

// Deliver calls f.
func (f SinkFunc) Deliver(r Reminder) { f(r) }

// LogSink logs every reminder.
type LogSink struct{}

// Deliver logs r.
func (LogSink) Deliver(r Reminder) {
	slog.Info("Reminder fired", "handle", r.Handle, "title", r.Title, "kind", r.Kind)
}

// Fanout delivers to every sink in order.
func Fanout(sinks ...Sink) Sink {
	return SinkFunc(func(r Reminder) {
		for _, s := range sinks {
			if s != nil {
				s.Deliver(r)
			}
		}
	})
}

const defaultSubscriberBuffer = 16

// Hub broadcasts reminders to live subscribers (the websocket stream).
// Slow subscribers lose reminders rather than stall delivery.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]chan Reminder
	nextID int
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Reminder)}
}

// Subscribe registers a subscriber. The returned cancel func unregisters it
// and closes the channel.
func (h *Hub) Subscribe() (<-chan Reminder, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Reminder, defaultSubscriberBuffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Deliver sends r to every subscriber without blocking.
func (h *Hub) Deliver(r Reminder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- r:
		default:
			slog.Warn("Reminder dropped for slow subscriber", "subscriber", id, "handle", r.Handle)
		}
	}
}
