package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeAlmond answers every command frame with a text reply and an
// ask-special frame, and records the received frames.
func fakeAlmond(t *testing.T, received chan<- outboundFrame) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != socketPath {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer dev-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("locale") != "en-US" {
			http.Error(w, "missing locale", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f outboundFrame
			if err := json.Unmarshal(raw, &f); err != nil {
				return
			}
			received <- f
			_ = conn.WriteJSON(map[string]any{"type": "command", "text": f.Text})
			_ = conn.WriteJSON(map[string]any{"type": "text", "text": "echo " + f.Text + f.Code})
			_ = conn.WriteJSON(map[string]any{"type": "askSpecial", "ask": nil})
		}
	}))
}

func waitCalls(t *testing.T, d *recordingDelegate, n int) []string {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if calls := d.Calls(); len(calls) >= n {
			return calls
		}
		select {
		case <-d.seen:
		case <-deadline:
			t.Fatalf("timed out waiting for %d delegate calls, got %v", n, d.Calls())
		}
	}
}

func TestSocketConversationRoundTrip(t *testing.T) {
	received := make(chan outboundFrame, 4)
	srv := fakeAlmond(t, received)
	defer srv.Close()

	d := newRecordingDelegate()
	cfg := Config{URL: srv.URL, DeveloperKey: "dev-key", Locale: "en-US", Timezone: "America/Los_Angeles", ConnectAttempts: 1}
	conv, err := DialSocket(context.Background(), cfg, d, nil)
	if err != nil {
		t.Fatalf("DialSocket() error = %v", err)
	}
	defer conv.Close()

	if err := conv.HandleCommand(context.Background(), "hello"); err != nil {
		t.Fatalf("HandleCommand() error = %v", err)
	}
	if f := <-received; f.Type != frameCommand || f.Text != "hello" {
		t.Fatalf("received frame = %+v, want command hello", f)
	}
	calls := waitCalls(t, d, 2)
	if strings.Join(calls, ",") != "text(echo hello|),ask()" {
		t.Fatalf("calls = %v", calls)
	}

	if err := conv.HandleThingTalk(context.Background(), "now => @builtin.say();"); err != nil {
		t.Fatalf("HandleThingTalk() error = %v", err)
	}
	if f := <-received; f.Type != frameThingTalk || f.Code != "now => @builtin.say();" {
		t.Fatalf("received frame = %+v, want tt", f)
	}
}

func TestSocketConversationUnavailableAfterServerCloses(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseServiceRestart, "restarting"))
		_ = conn.Close()
	}))
	defer srv.Close()

	conv, err := DialSocket(context.Background(), Config{URL: srv.URL, ConnectAttempts: 1}, newRecordingDelegate(), nil)
	if err != nil {
		t.Fatalf("DialSocket() error = %v", err)
	}

	select {
	case <-conv.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("read loop did not exit after server closed")
	}
	err = conv.HandleCommand(context.Background(), "hello")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
	_ = conv.Close()
}

func TestDialSocketDoesNotRetryUnauthorized(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := DialSocket(context.Background(), Config{URL: srv.URL, ConnectAttempts: 3}, newRecordingDelegate(), nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
	if n := attempts.Load(); n != 1 {
		t.Fatalf("attempts = %d, want 1", n)
	}
}

func TestSocketURL(t *testing.T) {
	got, err := socketURL("https://almond.example.test/", "en-US", "UTC")
	if err != nil {
		t.Fatalf("socketURL() error = %v", err)
	}
	want := "wss://almond.example.test/me/api/conversation?locale=en-US&timezone=UTC"
	if got != want {
		t.Fatalf("socketURL() = %q, want %q", got, want)
	}
	if _, err := socketURL("ftp://example.test", "", ""); err == nil {
		t.Fatalf("socketURL(ftp) expected error")
	}
}
