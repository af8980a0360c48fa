package agent

import (
	"context"
	"fmt"
	"sync"
)

// recordingDelegate captures delegate calls as compact strings.
type recordingDelegate struct {
	mu    sync.Mutex
	calls []string
	seen  chan struct{}
}

func newRecordingDelegate() *recordingDelegate {
	return &recordingDelegate{seen: make(chan struct{}, 64)}
}

func (r *recordingDelegate) record(format string, args ...any) error {
	r.mu.Lock()
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
	r.mu.Unlock()
	select {
	case r.seen <- struct{}{}:
	default:
	}
	return nil
}

func (r *recordingDelegate) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recordingDelegate) SendText(_ context.Context, text, icon string) error {
	return r.record("text(%s|%s)", text, icon)
}

func (r *recordingDelegate) SendPicture(_ context.Context, url, icon string) error {
	return r.record("picture(%s|%s)", url, icon)
}

func (r *recordingDelegate) SendChoice(_ context.Context, idx int, what, title, text string) error {
	return r.record("choice(%d|%s|%s|%s)", idx, what, title, text)
}

func (r *recordingDelegate) SendLink(_ context.Context, title, url string) error {
	return r.record("link(%s|%s)", title, url)
}

func (r *recordingDelegate) SendButton(_ context.Context, title, json string) error {
	return r.record("button(%s|%s)", title, json)
}

func (r *recordingDelegate) SendAskSpecial(_ context.Context, what string) error {
	return r.record("ask(%s)", what)
}

func (r *recordingDelegate) SendRDL(_ context.Context, rdl RDL, icon string) error {
	return r.record("rdl(%s|%s|%s)", rdl.DisplayTitle, rdl.WebCallback, icon)
}

func (r *recordingDelegate) SendNewProgram(_ context.Context, p Program) error {
	return r.record("program(%s|%s)", p.UniqueID, p.Code)
}
