package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestMockConversationEchoes(t *testing.T) {
	d := newRecordingDelegate()
	c := NewMockConversation(d)

	if err := c.HandleCommand(context.Background(), " turn on the lights "); err != nil {
		t.Fatalf("HandleCommand() error = %v", err)
	}
	got := strings.Join(d.Calls(), ",")
	if got != "text(I heard you: turn on the lights|),ask()" {
		t.Fatalf("calls = %s", got)
	}
}

func TestMockConversationYesNo(t *testing.T) {
	d := newRecordingDelegate()
	c := NewMockConversation(d)

	if err := c.HandleCommand(context.Background(), "Yes or no, should I?"); err != nil {
		t.Fatalf("HandleCommand() error = %v", err)
	}
	calls := d.Calls()
	if len(calls) != 4 || calls[3] != "ask(yesno)" {
		t.Fatalf("calls = %v, want text, two buttons, ask(yesno)", calls)
	}
}

func TestMockConversationParsedCommandValidates(t *testing.T) {
	c := NewMockConversation(newRecordingDelegate())
	if err := c.HandleParsedCommand(context.Background(), "nope"); err == nil {
		t.Fatalf("HandleParsedCommand() expected error for invalid json")
	}
}

func TestMockConversationClosed(t *testing.T) {
	c := NewMockConversation(newRecordingDelegate())
	_ = c.Close()
	err := c.HandleThingTalk(context.Background(), "now => @org.thingpedia.builtin.thingengine.builtin.say(message=\"hi\");")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
}
