package voice

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func startQueue(t *testing.T, synth Synthesizer) *speechQueue {
	t.Helper()
	q := newSpeechQueue(synth, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return q
}

func TestSpeechQueueSpeaksInOrder(t *testing.T) {
	synth := &RecordingSynthesizer{}
	q := startQueue(t, synth)

	q.enqueue("one")
	q.enqueue("two")
	q.enqueue("three")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	waitFor(t, "three utterances", func() bool { return len(synth.Spoken()) == 3 })
	if err := q.waitDrained(ctx); err != nil {
		t.Fatalf("wait drained: %v", err)
	}
	got := synth.Spoken()
	if got[0] != "one" || got[1] != "two" || got[2] != "three" {
		t.Fatalf("spoken = %v", got)
	}
	if q.open() {
		t.Fatalf("queue should be idle")
	}
}

func TestSpeechQueueClearInterruptsAndDrains(t *testing.T) {
	synth := &RecordingSynthesizer{Hold: make(chan struct{})}
	q := startQueue(t, synth)

	q.enqueue("long answer")
	q.enqueue("follow up")
	waitFor(t, "speaking", func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return q.speaking
	})

	fired := make(chan struct{})
	q.onDrained(func() { close(fired) })
	q.clear()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatalf("drained hook did not fire after clear")
	}
	if spoken := synth.Spoken(); len(spoken) != 0 {
		t.Fatalf("nothing should have been spoken, got %v", spoken)
	}
}

func TestSpeechQueueOnDrainedRunsImmediatelyWhenIdle(t *testing.T) {
	q := startQueue(t, &RecordingSynthesizer{})
	ran := false
	q.onDrained(func() { ran = true })
	if !ran {
		t.Fatalf("hook should run immediately on an idle queue")
	}
}
