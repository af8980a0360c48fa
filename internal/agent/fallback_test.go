package agent

import (
	"context"
	"errors"
	"testing"
)

func failingFactory(err error) Factory {
	return func(context.Context, Delegate) (Conversation, error) {
		return nil, err
	}
}

func TestFallbackUsesFirstWorkingFactory(t *testing.T) {
	var built []string
	tracking := func(name string, f Factory) NamedFactory {
		return NamedFactory{Name: name, New: func(ctx context.Context, d Delegate) (Conversation, error) {
			built = append(built, name)
			return f(ctx, d)
		}}
	}

	f := Fallback(nil,
		tracking("websocket", failingFactory(errors.New("connection refused"))),
		tracking("mock", mockFactory()),
		tracking("never", mockFactory()),
	)
	conv, err := f(context.Background(), newRecordingDelegate())
	if err != nil {
		t.Fatalf("Fallback() error = %v", err)
	}
	if _, ok := conv.(*MockConversation); !ok {
		t.Fatalf("conversation type = %T, want *MockConversation", conv)
	}
	if len(built) != 2 || built[0] != "websocket" || built[1] != "mock" {
		t.Fatalf("built = %v, want [websocket mock]", built)
	}
}

func TestFallbackAllFailIsUnavailable(t *testing.T) {
	f := Fallback(nil,
		NamedFactory{Name: "a", New: failingFactory(errors.New("a down"))},
		NamedFactory{Name: "b", New: failingFactory(errors.New("b down"))},
	)
	_, err := f(context.Background(), newRecordingDelegate())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
}

func TestFallbackStopsOnCancellation(t *testing.T) {
	called := false
	f := Fallback(nil,
		NamedFactory{Name: "a", New: failingFactory(context.Canceled)},
		NamedFactory{Name: "b", New: func(context.Context, Delegate) (Conversation, error) {
			called = true
			return nil, nil
		}},
	)
	_, err := f(context.Background(), newRecordingDelegate())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if called {
		t.Fatalf("second factory called after cancellation")
	}
}

func TestNewFactoryModes(t *testing.T) {
	if _, err := NewFactory(Config{Mode: "websocket"}); err == nil {
		t.Fatalf("NewFactory(websocket) expected error without url")
	}
	if _, err := NewFactory(Config{Mode: "openai"}); err == nil {
		t.Fatalf("NewFactory(openai) expected error without key")
	}
	if _, err := NewFactory(Config{Mode: "carrier-pigeon"}); err == nil {
		t.Fatalf("NewFactory(carrier-pigeon) expected error")
	}

	f, err := NewFactory(Config{})
	if err != nil {
		t.Fatalf("NewFactory(auto) error = %v", err)
	}
	conv, err := f(context.Background(), newRecordingDelegate())
	if err != nil {
		t.Fatalf("auto factory error = %v", err)
	}
	if _, ok := conv.(*MockConversation); !ok {
		t.Fatalf("auto without url or key = %T, want *MockConversation", conv)
	}
}
