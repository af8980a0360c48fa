package events

import (
	"sync"
	"time"

	"github.com/ent0n29/almond/internal/history"
)

type Type string

const (
	TypeNewMessage        Type = "new_message"
	TypeRemoveMessage     Type = "remove_message"
	TypeActivate          Type = "activate"
	TypeVoiceHypothesis   Type = "voice_hypothesis"
	TypePreferenceChanged Type = "preference_changed"
)

// Event is one notification produced by a session. Seq increases by one per
// published event, so subscribers can detect gaps.
type Event struct {
	Seq       uint64
	Type      Type
	Message   history.Message
	MessageID uint32
	Text      string
	Key       string
	At        time.Time
}

// DropHook is called when a subscriber is disconnected for falling behind.
type DropHook func(subscriberID int)

// Bus delivers events to every subscriber in publish order. A subscriber
// whose buffer is full is disconnected instead of skipped, so a subscriber
// never observes a reordered or partial stream; it resubscribes and
// resynchronises from a history snapshot.
type Bus struct {
	mu          sync.Mutex
	seq         uint64
	buffer      int
	nextSubID   int
	subscribers map[int]chan Event
	onDrop      DropHook
	closed      bool
}

func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 256
	}
	return &Bus{
		buffer:      buffer,
		subscribers: make(map[int]chan Event),
	}
}

func (b *Bus) SetDropHook(hook DropHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDrop = hook
}

func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.nextSubID++
	id := b.nextSubID
	b.subscribers[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(c)
		}
	}
}

// Publish stamps evt with the next sequence number and fans it out without
// blocking. It returns the stamped event.
func (b *Bus) Publish(evt Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	evt.Seq = b.seq
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	if b.closed {
		return evt
	}
	for id, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			delete(b.subscribers, id)
			close(ch)
			if b.onDrop != nil {
				b.onDrop(id)
			}
		}
	}
	return evt
}

// Seq returns the sequence number of the last published event.
func (b *Bus) Seq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Subscribers counts connected listeners; /v1/status reports it.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Close disconnects every subscriber. Later subscriptions receive a closed
// channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}
