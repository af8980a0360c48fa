package assistant

import (
	"context"
	"testing"
	"time"

	"github.com/ent0n29/almond/internal/agent"
	"github.com/ent0n29/almond/internal/events"
	"github.com/ent0n29/almond/internal/prefs"
	"github.com/ent0n29/almond/internal/voice"
)

func TestAskSpecialGatesVoiceAutoTrigger(t *testing.T) {
	conv := &scriptedConversation{}
	gate := voice.NewGate(voice.GateConfig{Prefs: prefs.NewMemoryStore(), Sound: &voice.RecordingSound{}})
	d, err := New(Config{
		Voice: gate,
		Agent: func(ctx context.Context, dl agent.Delegate) (agent.Conversation, error) { return conv, nil },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	gate.Attach(d, d)
	ctx := context.Background()
	if err := gate.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		_ = gate.Stop(stopCtx)
	}()
	evts, unsubscribe := d.Subscribe()
	defer unsubscribe()

	if err := d.SendAskSpecial(ctx, ""); err != nil {
		t.Fatalf("SendAskSpecial() error = %v", err)
	}
	gate.OnHotword(ctx, "almond")
	gate.OnUtterance(ctx, "what time is it")
	if calls := conv.Calls(); len(calls) != 0 {
		t.Fatalf("utterance must be ignored while disarmed, agent saw %v", calls)
	}
	var sawActivate bool
	for _, e := range drain(evts) {
		if e.Type == events.TypeActivate {
			sawActivate = true
		}
	}
	if !sawActivate {
		t.Fatalf("hotword should still emit Activate")
	}

	if err := d.SendAskSpecial(ctx, "yesno"); err != nil {
		t.Fatalf("SendAskSpecial() error = %v", err)
	}
	gate.OnUtterance(ctx, "yes")
	calls := conv.Calls()
	if len(calls) != 1 || calls[0] != "command:yes" {
		t.Fatalf("calls = %v", calls)
	}
	hist := d.GetHistory(ctx)
	if len(hist) != 1 || hist[0].Text() != "yes" {
		t.Fatalf("history = %+v", hist)
	}
}
