package notify

import "sync"

const defaultRecentSize = 32

// Recent keeps the last fired reminders so a UI shell that reconnects can
// show what it missed. When full, the oldest reminder is overwritten.
type Recent struct {
	buf  []Reminder
	size int
	head int // write position
	tail int // read position
	full bool
	mu   sync.RWMutex
}

// NewRecent creates a ring holding up to size reminders.
func NewRecent(size int) *Recent {
	if size <= 0 {
		size = defaultRecentSize
	}
	return &Recent{
		buf:  make([]Reminder, size),
		size: size,
	}
}

// Deliver implements Sink.
func (r *Recent) Deliver(rem Reminder) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.full {
		r.tail = (r.tail + 1) % r.size
	}
	r.buf[r.head] = rem
	r.head = (r.head + 1) % r.size
	if r.head == r.tail {
		r.full = true
	}
}

// List returns the held reminders, oldest first.
func (r *Recent) List() []Reminder {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.lenLocked()
	out := make([]Reminder, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, r.buf[(r.tail+i)%r.size])
	}
	return out
}

// Len returns the number of held reminders.
func (r *Recent) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lenLocked()
}

func (r *Recent) lenLocked() int {
	switch {
	case r.full:
		return r.size
	case r.head >= r.tail:
		return r.head - r.tail
	default:
		return (r.size - r.tail) + r.head
	}
}

// Reset clears the ring.
func (r *Recent) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.head = 0
	r.tail = 0
	r.full = false
}

// Capacity returns the maximum number of reminders held.
func (r *Recent) Capacity() int {
	return r.size
}

var _ Sink = (*Recent)(nil)
