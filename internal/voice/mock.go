package voice

import (
	"context"
	"errors"
	"sync"
)

// MockRecognizer is an in-process Recognizer driven by Push calls. It is
// used when no capture backend is available and by tests.
type MockRecognizer struct {
	mu      sync.Mutex
	events  chan RecognitionEvent
	started int
}

func NewMockRecognizer() *MockRecognizer { return &MockRecognizer{} }

func (r *MockRecognizer) Start(ctx context.Context) (<-chan RecognitionEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events != nil {
		return nil, errors.New("recognizer already started")
	}
	events := make(chan RecognitionEvent, 64)
	r.events = events
	r.started++
	go func() {
		<-ctx.Done()
		r.closeChan(events)
	}()
	return events, nil
}

func (r *MockRecognizer) Stop() error {
	r.mu.Lock()
	events := r.events
	r.mu.Unlock()
	if events != nil {
		r.closeChan(events)
	}
	return nil
}

func (r *MockRecognizer) closeChan(events chan RecognitionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events == events {
		close(events)
		r.events = nil
	}
}

// Running reports whether capture is active.
func (r *MockRecognizer) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events != nil
}

// Starts counts how many times capture was started.
func (r *MockRecognizer) Starts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

// Push delivers evt if capture is running and reports whether it did.
func (r *MockRecognizer) Push(evt RecognitionEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events == nil {
		return false
	}
	select {
	case r.events <- evt:
		return true
	default:
		return false
	}
}

func (r *MockRecognizer) Final(text string) bool {
	return r.Push(RecognitionEvent{Type: RecognitionFinal, Text: text})
}

func (r *MockRecognizer) Partial(text string) bool {
	return r.Push(RecognitionEvent{Type: RecognitionPartial, Text: text})
}

// MockDetector is a WakeWordDetector driven by Trigger calls.
type MockDetector struct {
	mu    sync.Mutex
	words chan string
}

func NewMockDetector() *MockDetector { return &MockDetector{} }

func (d *MockDetector) Start(ctx context.Context) (<-chan string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.words != nil {
		return nil, errors.New("detector already started")
	}
	words := make(chan string, 16)
	d.words = words
	go func() {
		<-ctx.Done()
		d.closeChan(words)
	}()
	return words, nil
}

func (d *MockDetector) Stop() error {
	d.mu.Lock()
	words := d.words
	d.mu.Unlock()
	if words != nil {
		d.closeChan(words)
	}
	return nil
}

func (d *MockDetector) closeChan(words chan string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.words == words {
		close(words)
		d.words = nil
	}
}

func (d *MockDetector) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.words != nil
}

// Trigger reports a hotword if detection is running.
func (d *MockDetector) Trigger(word string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.words == nil {
		return false
	}
	select {
	case d.words <- word:
		return true
	default:
		return false
	}
}

// RecordingSynthesizer remembers everything it was asked to say. Hold, when
// set, blocks each Say until a value is received or ctx ends.
type RecordingSynthesizer struct {
	Hold chan struct{}

	mu     sync.Mutex
	spoken []string
}

func (s *RecordingSynthesizer) Say(ctx context.Context, text string) error {
	if s.Hold != nil {
		select {
		case <-s.Hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	s.spoken = append(s.spoken, text)
	s.mu.Unlock()
	return nil
}

func (s *RecordingSynthesizer) Spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spoken...)
}

// RecordingSound records played sound names.
type RecordingSound struct {
	mu     sync.Mutex
	played []string
}

func (p *RecordingSound) Play(_ context.Context, name string) error {
	p.mu.Lock()
	p.played = append(p.played, name)
	p.mu.Unlock()
	return nil
}

func (p *RecordingSound) Played() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.played...)
}
