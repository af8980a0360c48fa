package history

import (
	"math"
	"sync"
)

const DefaultLimit = 30

const (
	// PendingID is never assigned to a stored message. Clients use it to
	// mark entries they render before the service confirms them.
	PendingID uint32 = math.MaxUint32
	// MaxID is the largest id handed out before the counter wraps to 1.
	MaxID uint32 = math.MaxInt32
)

// History is the bounded, ordered log of one conversation.
type History struct {
	mu     sync.Mutex
	limit  int
	nextID uint32
	items  []Message
}

func New(limit int) *History {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &History{
		limit:  limit,
		nextID: 1,
		items:  make([]Message, 0, limit),
	}
}

func (h *History) Limit() int {
	return h.limit
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.items)
}

// Append stores m under the next id and returns that id.
func (h *History) Append(m Message) uint32 {
	stored, _ := h.Push(m)
	return stored.ID
}

// Push stores m under the next id, evicting the oldest entries when the
// bound is exceeded. It returns the stored copy and the evicted ids,
// oldest first.
func (h *History) Push(m Message) (Message, []uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m = m.clone()
	if m.Payload == nil {
		m.Payload = map[string]string{}
	}
	m.ID = h.allocIDLocked()
	h.items = append(h.items, m)

	var evicted []uint32
	if over := len(h.items) - h.limit; over > 0 {
		evicted = make([]uint32, 0, over)
		for _, old := range h.items[:over] {
			evicted = append(evicted, old.ID)
		}
		remaining := make([]Message, len(h.items)-over, h.limit)
		copy(remaining, h.items[over:])
		h.items = remaining
	}
	return m.clone(), evicted
}

func (h *History) allocIDLocked() uint32 {
	id := h.nextID
	if id >= MaxID {
		h.nextID = 1
	} else {
		h.nextID++
	}
	return id
}

// CollapseTrailingPrompts removes the trailing run of choice, button and
// ask-special entries. Removed ids are returned newest first.
func (h *History) CollapseTrailingPrompts() []uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()

	var removed []uint32
	for n := len(h.items); n > 0; n-- {
		last := h.items[n-1]
		if !last.Kind.Prompt() {
			break
		}
		removed = append(removed, last.ID)
		h.items[n-1] = Message{}
		h.items = h.items[:n-1]
	}
	return removed
}

// Snapshot returns a deep copy of the stored messages, oldest first.
func (h *History) Snapshot() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Message, len(h.items))
	for i, m := range h.items {
		out[i] = m.clone()
	}
	return out
}
