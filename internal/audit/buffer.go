package audit

import "sync"

// Buffer is a thread-safe ring buffer of recent events, queryable by the API
// without touching the durable store.
type Buffer struct {
	mu     sync.Mutex
	events []Event
	size   int
	pos    int
	count  int
}

// NewBuffer creates a ring buffer holding up to size events. A size below 1
// is treated as 1.
func NewBuffer(size int) *Buffer {
	if size < 1 {
		size = 1
	}
	return &Buffer{
		events: make([]Event, size),
		size:   size,
	}
}

// Record appends an event to the ring buffer. Never fails.
func (b *Buffer) Record(e Event) error {
	b.mu.Lock()
	b.events[b.pos] = e
	b.pos = (b.pos + 1) % b.size
	if b.count < b.size {
		b.count++
	}
	b.mu.Unlock()
	return nil
}

// Query returns events matching the filter, oldest first.
func (b *Buffer) Query(f Filter) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	var result []Event

	// Walk the ring oldest-first.
	start := 0
	if b.count == b.size {
		start = b.pos
	}

	for i := 0; i < b.count; i++ {
		e := b.events[(start+i)%b.size]

		if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
			continue
		}
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if f.ConversationID != "" && e.ConversationID != f.ConversationID {
			continue
		}
		result = append(result, e)
	}

	if f.Limit > 0 && len(result) > f.Limit {
		result = result[len(result)-f.Limit:]
	}
	return result
}
