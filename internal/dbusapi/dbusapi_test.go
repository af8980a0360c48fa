package dbusapi

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/almond/internal/agent"
	"github.com/ent0n29/almond/internal/assistant"
	"github.com/ent0n29/almond/internal/control"
	"github.com/ent0n29/almond/internal/events"
	"github.com/ent0n29/almond/internal/history"
	"github.com/ent0n29/almond/internal/prefs"
	"github.com/ent0n29/almond/internal/protocol"
)

func TestVariantRoundTrip(t *testing.T) {
	in := protocol.MapValue(map[string]protocol.Value{
		"name":    protocol.StringValue("almond"),
		"count":   protocol.IntValue(3),
		"ratio":   protocol.DoubleValue(0.5),
		"enabled": protocol.BoolValue(true),
		"tags":    protocol.ListValue(protocol.StringValue("a"), protocol.IntValue(1)),
	})
	v, err := ToVariant(in)
	require.NoError(t, err)
	assert.Equal(t, "a{sv}", v.Signature().String())

	out, err := FromVariant(v)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestFromVariantAcceptsNativeClientTypes(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want protocol.Value
	}{
		{"int32", int32(7), protocol.IntValue(7)},
		{"uint32", uint32(9), protocol.IntValue(9)},
		{"byte", byte(1), protocol.IntValue(1)},
		{"string list", []string{"x", "y"}, protocol.ListValue(protocol.StringValue("x"), protocol.StringValue("y"))},
		{"string map", map[string]string{"k": "v"}, protocol.MapValue(map[string]protocol.Value{"k": protocol.StringValue("v")})},
		{"object path", dbus.ObjectPath("/a/b"), protocol.StringValue("/a/b")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := FromVariant(dbus.MakeVariant(tc.in))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFromVariantRejectsNonStringKeys(t *testing.T) {
	_, err := FromVariant(dbus.MakeVariant(map[int32]string{1: "x"}))
	require.ErrorIs(t, err, protocol.ErrInvalidValue)
}

func TestErrorName(t *testing.T) {
	assert.Equal(t, "edu.stanford.Almond.Error.SessionClosed", ErrorName(control.CodeSessionClosed))
	assert.Equal(t, "edu.stanford.Almond.Error.AgentUnavailable", ErrorName(control.CodeAgentUnavailable))
	assert.Equal(t, "edu.stanford.Almond.Error.Internal", ErrorName(control.CodeInternal))
}

func TestSignalMapping(t *testing.T) {
	msg := history.Message{ID: 4, Kind: history.KindButton, Direction: history.FromAssistant, Payload: map[string]string{"text": "Yes"}}
	member, body, ok := signal(events.Event{Type: events.TypeNewMessage, Message: msg})
	require.True(t, ok)
	assert.Equal(t, "NewMessage", member)
	assert.Equal(t, []interface{}{uint32(4), uint32(4), uint32(0), map[string]string{"text": "Yes"}}, body)

	member, body, ok = signal(events.Event{Type: events.TypeRemoveMessage, MessageID: 4})
	require.True(t, ok)
	assert.Equal(t, "RemoveMessage", member)
	assert.Equal(t, []interface{}{uint32(4)}, body)

	member, body, ok = signal(events.Event{Type: events.TypeActivate})
	require.True(t, ok)
	assert.Equal(t, "Activate", member)
	assert.Empty(t, body)

	member, body, ok = signal(events.Event{Type: events.TypePreferenceChanged, Key: ""})
	require.True(t, ok)
	assert.Equal(t, "PreferenceChanged", member)
	assert.Equal(t, []interface{}{""}, body)

	_, _, ok = signal(events.Event{Type: "unknown"})
	assert.False(t, ok)
}

type recordingEmitter struct {
	mu    sync.Mutex
	names []string
}

func (e *recordingEmitter) Emit(path dbus.ObjectPath, name string, _ ...interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.names = append(e.names, string(path)+" "+name)
	return nil
}

func TestRelayPreservesOrder(t *testing.T) {
	ch := make(chan events.Event, 4)
	ch <- events.Event{Type: events.TypeRemoveMessage, MessageID: 1}
	ch <- events.Event{Type: events.TypeNewMessage, Message: history.Message{ID: 2}}
	ch <- events.Event{Type: events.TypeVoiceHypothesis, Text: "hi"}
	close(ch)

	e := &recordingEmitter{}
	relay(e, ch, slog.New(slog.NewTextHandler(io.Discard, nil)))
	prefix := string(ObjectPath) + " " + Interface + "."
	assert.Equal(t, []string{prefix + "RemoveMessage", prefix + "NewMessage", prefix + "VoiceHypothesis"}, e.names)
}

func newTestService(t *testing.T) (*Service, *assistant.Dispatcher) {
	t.Helper()
	factory, err := agent.NewFactory(agent.Config{Mode: "mock"})
	require.NoError(t, err)
	d, err := assistant.New(assistant.Config{Agent: factory})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Stop(context.Background()) })
	ch := control.New(d, prefs.NewMemoryStore(), nil, nil)
	return newService(ch, 0, slog.New(slog.NewTextHandler(io.Discard, nil))), d
}

func TestServiceMethods(t *testing.T) {
	svc, d := newTestService(t)

	require.Nil(t, svc.HandleCommand("hello"))
	hist, derr := svc.GetHistory()
	require.Nil(t, derr)
	require.Len(t, hist, 3)
	assert.Equal(t, "hello", hist[0].Payload["text"])
	assert.Equal(t, uint32(history.FromUser), hist[0].Direction)

	v, derr := svc.GetPreference("missing")
	require.Nil(t, derr)
	assert.Equal(t, "", v.Value())

	require.Nil(t, svc.SetPreference(prefs.KeyHotword, dbus.MakeVariant(false)))
	v, derr = svc.GetPreference(prefs.KeyHotword)
	require.Nil(t, derr)
	assert.Equal(t, false, v.Value())

	derr = svc.HandleParsedCommand("Yes", "not json")
	require.NotNil(t, derr)
	assert.Equal(t, ErrorName(control.CodeMalformedCommand), derr.Name)

	require.NoError(t, d.Stop(context.Background()))
	derr = svc.HandleThingTalk("now => @light.on();")
	require.NotNil(t, derr)
	assert.Equal(t, "edu.stanford.Almond.Error.SessionClosed", derr.Name)
}
