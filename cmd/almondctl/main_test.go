package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ent0n29/almond/internal/history"
	"github.com/ent0n29/almond/internal/protocol"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
}

type requestLog struct {
	mu   sync.Mutex
	reqs []recordedRequest
}

func (l *requestLog) add(r recordedRequest) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reqs = append(l.reqs, r)
}

func (l *requestLog) first() recordedRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reqs[0]
}

func (l *requestLog) last() recordedRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reqs[len(l.reqs)-1]
}

func fakeService(t *testing.T) (*httptest.Server, *requestLog) {
	t.Helper()
	reqs := &requestLog{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		reqs.add(recordedRequest{Method: r.Method, Path: r.URL.Path, Body: string(body)})
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/history":
			_ = json.NewEncoder(w).Encode(map[string]any{"history": []protocol.WireMessage{
				{ID: 1, Kind: 0, Direction: 1, Payload: map[string]string{"text": "hello"}},
				{ID: 2, Kind: 0, Direction: 0, Payload: map[string]string{"text": "hi there"}},
				{ID: 3, Kind: uint32(history.KindChoice), Direction: 0, Payload: map[string]string{"text": "Kitchen"}, Interactive: true},
			}})
		case "/v1/preferences/voice-output-enabled":
			if r.Method == http.MethodGet {
				_ = json.NewEncoder(w).Encode(map[string]any{"value": protocol.BoolValue(true)})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
		case "/v1/thingtalk":
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"agent unavailable","code":"agent_unavailable"}`))
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
		}
	}))
	t.Cleanup(ts.Close)
	return ts, reqs
}

func TestRunHistory(t *testing.T) {
	ts, _ := fakeService(t)
	var out, errOut bytes.Buffer
	if code := run([]string{"--url", ts.URL, "history"}, &out, &errOut); code != 0 {
		t.Fatalf("run() = %d, stderr %q", code, errOut.String())
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("output = %q", out.String())
	}
	if !strings.Contains(lines[0], "you") || !strings.Contains(lines[0], "hello") || !strings.Contains(lines[0], "[text]") {
		t.Fatalf("first line = %q", lines[0])
	}
	if strings.Contains(lines[1], "awaiting answer") {
		t.Fatalf("text line marked interactive: %q", lines[1])
	}
	if !strings.HasSuffix(lines[2], "Kitchen (awaiting answer)") {
		t.Fatalf("choice line = %q", lines[2])
	}
}

func TestRunSayJoinsArgs(t *testing.T) {
	ts, reqs := fakeService(t)
	var out, errOut bytes.Buffer
	if code := run([]string{"-u", ts.URL, "say", "turn", "on", "the", "lights"}, &out, &errOut); code != 0 {
		t.Fatalf("run() = %d, stderr %q", code, errOut.String())
	}
	got := reqs.first()
	if got.Method != http.MethodPost || got.Path != "/v1/commands" || !strings.Contains(got.Body, `"turn on the lights"`) {
		t.Fatalf("request = %+v", got)
	}
}

func TestRunParsedWithTitle(t *testing.T) {
	ts, reqs := fakeService(t)
	var out, errOut bytes.Buffer
	if code := run([]string{"--url", ts.URL, "parsed", "--title", "lights on", `{"code":["now"]}`}, &out, &errOut); code != 0 {
		t.Fatalf("run() = %d, stderr %q", code, errOut.String())
	}
	var body map[string]string
	if err := json.Unmarshal([]byte(reqs.first().Body), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["title"] != "lights on" || body["json"] != `{"code":["now"]}` {
		t.Fatalf("body = %+v", body)
	}
}

func TestRunPreferences(t *testing.T) {
	ts, reqs := fakeService(t)
	var out, errOut bytes.Buffer
	if code := run([]string{"--url", ts.URL, "get", "voice-output-enabled"}, &out, &errOut); code != 0 {
		t.Fatalf("get = %d, stderr %q", code, errOut.String())
	}
	if strings.TrimSpace(out.String()) != `{"type":"bool","value":true}` {
		t.Fatalf("get output = %q", out.String())
	}

	if code := run([]string{"--url", ts.URL, "set", "voice-output-enabled", "false"}, &out, &errOut); code != 0 {
		t.Fatalf("set = %d, stderr %q", code, errOut.String())
	}
	last := reqs.last()
	if last.Method != http.MethodPut || last.Body != `{"type":"bool","value":false}` {
		t.Fatalf("set request = %+v", last)
	}
}

func TestRunReportsServiceError(t *testing.T) {
	ts, _ := fakeService(t)
	var out, errOut bytes.Buffer
	if code := run([]string{"--url", ts.URL, "thingtalk", "now => notify"}, &out, &errOut); code != 1 {
		t.Fatalf("run() = %d, want 1", code)
	}
	if !strings.Contains(errOut.String(), "agent_unavailable") {
		t.Fatalf("stderr = %q", errOut.String())
	}
}

func TestRunUsageErrors(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run(nil, &out, &errOut); code != 2 {
		t.Fatalf("no args = %d, want 2", code)
	}
	if code := run([]string{"frobnicate"}, &out, &errOut); code != 2 {
		t.Fatalf("unknown command = %d, want 2", code)
	}
	if code := run([]string{"get"}, &out, &errOut); code != 2 {
		t.Fatalf("get without key = %d, want 2", code)
	}
}

func TestParseValue(t *testing.T) {
	cases := map[string]protocol.Value{
		"true":     protocol.BoolValue(true),
		"42":       protocol.IntValue(42),
		"1.5":      protocol.DoubleValue(1.5),
		"plain":    protocol.StringValue("plain"),
		`"quoted"`: protocol.StringValue("quoted"),
	}
	for raw, want := range cases {
		got, err := parseValue(raw)
		if err != nil {
			t.Fatalf("parseValue(%q) error = %v", raw, err)
		}
		if got.Type != want.Type || got.Interface() != want.Interface() {
			t.Fatalf("parseValue(%q) = %+v, want %+v", raw, got, want)
		}
	}
}
