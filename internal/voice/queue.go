package voice

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ent0n29/almond/internal/observability"
)

// speechQueue speaks queued utterances one at a time, in order.
type speechQueue struct {
	synth   Synthesizer
	logger  *slog.Logger
	metrics *observability.Metrics

	mu       sync.Mutex
	pending  []string
	speaking bool
	cancel   context.CancelFunc
	drained  []func()
	wake     chan struct{}
}

func newSpeechQueue(synth Synthesizer, logger *slog.Logger, metrics *observability.Metrics) *speechQueue {
	return &speechQueue{
		synth:   synth,
		logger:  logger,
		metrics: metrics,
		wake:    make(chan struct{}, 1),
	}
}

func (q *speechQueue) enqueue(text string) {
	q.mu.Lock()
	q.pending = append(q.pending, text)
	depth := len(q.pending)
	q.mu.Unlock()
	q.metrics.SetSpeechQueueDepth(depth)

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// clear drops pending utterances and interrupts the one being spoken. It
// does not wait for the synthesizer to stop.
func (q *speechQueue) clear() {
	q.mu.Lock()
	q.pending = nil
	if q.cancel != nil {
		q.cancel()
	}
	idle := !q.speaking
	var hooks []func()
	if idle {
		hooks = q.takeDrainedLocked()
	}
	q.mu.Unlock()
	q.metrics.SetSpeechQueueDepth(0)
	runHooks(hooks)
}

// open reports whether anything is queued or being spoken.
func (q *speechQueue) open() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.speaking || len(q.pending) > 0
}

// onDrained runs fn once the queue is empty and idle, immediately if it
// already is.
func (q *speechQueue) onDrained(fn func()) {
	q.mu.Lock()
	if !q.speaking && len(q.pending) == 0 {
		q.mu.Unlock()
		fn()
		return
	}
	q.drained = append(q.drained, fn)
	q.mu.Unlock()
}

func (q *speechQueue) waitDrained(ctx context.Context) error {
	done := make(chan struct{})
	q.onDrained(func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *speechQueue) takeDrainedLocked() []func() {
	hooks := q.drained
	q.drained = nil
	return hooks
}

func runHooks(hooks []func()) {
	for _, fn := range hooks {
		fn()
	}
}

func (q *speechQueue) run(ctx context.Context) {
	for {
		q.mu.Lock()
		for len(q.pending) == 0 {
			hooks := q.takeDrainedLocked()
			q.mu.Unlock()
			runHooks(hooks)
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
			}
			q.mu.Lock()
		}
		text := q.pending[0]
		q.pending = q.pending[1:]
		depth := len(q.pending)
		itemCtx, cancel := context.WithCancel(ctx)
		q.speaking = true
		q.cancel = cancel
		q.mu.Unlock()
		q.metrics.SetSpeechQueueDepth(depth)

		err := q.synth.Say(itemCtx, text)
		cancel()

		q.mu.Lock()
		q.speaking = false
		q.cancel = nil
		q.mu.Unlock()

		switch {
		case err == nil:
			q.metrics.ObserveVoiceEvent("spoken")
		case errors.Is(err, context.Canceled):
			q.metrics.ObserveVoiceEvent("speech_cancelled")
		default:
			q.metrics.ObserveVoiceEvent("speech_error")
			q.logger.Warn("speech synthesis failed", "err", errors.Join(ErrSpeech, err))
		}
	}
}
