package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/almond/internal/prefs"
)

type fakeComponent struct {
	mu       sync.Mutex
	started  int
	stopped  int
	startErr error
}

func (c *fakeComponent) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started++
	return c.startErr
}

func (c *fakeComponent) Stop(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped++
	return nil
}

func (c *fakeComponent) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started, c.stopped
}

type fakeDispatcher struct {
	mu      sync.Mutex
	stopped int
	keys    []string
}

func (d *fakeDispatcher) Stop(context.Context) error {
	d.mu.Lock()
	d.stopped++
	d.mu.Unlock()
	return nil
}

func (d *fakeDispatcher) NotifyPreferenceChanged(key string) {
	d.mu.Lock()
	d.keys = append(d.keys, key)
	d.mu.Unlock()
}

func (d *fakeDispatcher) snapshot() (int, []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped, append([]string(nil), d.keys...)
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestSessionRunAndStop(t *testing.T) {
	voice := &fakeComponent{}
	disp := &fakeDispatcher{}
	store := prefs.NewMemoryStore()
	s := New(Config{Dispatcher: disp, Voice: voice, Prefs: store})
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(context.Background()) }()
	waitUntil(t, func() bool {
		started, _ := voice.counts()
		return started == 1 && s.Status() == StatusRunning
	})

	if err := store.Set(prefs.KeyVoiceOutput, false); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	waitUntil(t, func() bool {
		_, keys := disp.snapshot()
		return len(keys) == 1 && keys[0] == prefs.KeyVoiceOutput
	})

	s.Stop()
	if err := <-errCh; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if s.Status() != StatusStopped {
		t.Fatalf("status = %q, want stopped", s.Status())
	}
	started, stopped := voice.counts()
	if started != 1 || stopped != 1 {
		t.Fatalf("voice started=%d stopped=%d", started, stopped)
	}
	if n, _ := disp.snapshot(); n != 1 {
		t.Fatalf("dispatcher stopped %d times", n)
	}
	if err := s.Run(context.Background()); !errors.Is(err, ErrAlreadyRun) {
		t.Fatalf("second Run() error = %v, want ErrAlreadyRun", err)
	}
}

func TestSessionReloadPreferencesNotifiesDispatcher(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	store, err := prefs.Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	disp := &fakeDispatcher{}
	voice := &fakeComponent{}
	s := New(Config{Dispatcher: disp, Voice: voice, Prefs: store})

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(context.Background()) }()
	waitUntil(t, func() bool {
		started, _ := voice.counts()
		return started == 1
	})

	if err := os.WriteFile(path, []byte("hotword-enabled: false\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := s.ReloadPreferences(); err != nil {
		t.Fatalf("ReloadPreferences() error = %v", err)
	}
	waitUntil(t, func() bool {
		_, keys := disp.snapshot()
		return len(keys) == 1 && keys[0] == prefs.ReloadAll
	})
	if prefs.Bool(store, prefs.KeyHotword, true) {
		t.Fatalf("hotword should be disabled after reload")
	}

	s.Stop()
	if err := <-errCh; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestSessionReloadPreferencesReportsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	store, err := prefs.Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	s := New(Config{Dispatcher: &fakeDispatcher{}, Prefs: store})
	if err := os.WriteFile(path, []byte("key: [unterminated\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := s.ReloadPreferences(); err == nil {
		t.Fatalf("ReloadPreferences() should fail on malformed YAML")
	}
}

func TestSessionDeferredStop(t *testing.T) {
	voice := &fakeComponent{}
	disp := &fakeDispatcher{}
	s := New(Config{Dispatcher: disp, Voice: voice})

	s.Stop()
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	started, _ := voice.counts()
	if started != 0 {
		t.Fatalf("voice should not start after a deferred stop")
	}
	if n, _ := disp.snapshot(); n != 1 {
		t.Fatalf("dispatcher should still be stopped, got %d", n)
	}
	select {
	case <-s.Done():
	default:
		t.Fatalf("Done should be closed")
	}
}

func TestSessionStopsOnContextCancel(t *testing.T) {
	s := New(Config{Dispatcher: &fakeDispatcher{}, Voice: &fakeComponent{}})
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()
	waitUntil(t, func() bool { return s.Status() == StatusRunning })
	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestSessionVoiceStartFailure(t *testing.T) {
	disp := &fakeDispatcher{}
	s := New(Config{Dispatcher: disp, Voice: &fakeComponent{startErr: errors.New("no audio")}})
	err := s.Run(context.Background())
	if err == nil {
		t.Fatalf("Run() should fail when voice cannot start")
	}
	if n, _ := disp.snapshot(); n != 1 {
		t.Fatalf("dispatcher should be stopped after failed start")
	}
	if s.Status() != StatusStopped {
		t.Fatalf("status = %q", s.Status())
	}
}
