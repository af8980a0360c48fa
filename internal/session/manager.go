package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/almond/internal/observability"
	"github.com/ent0n29/almond/internal/prefs"
)

type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
)

var ErrAlreadyRun = errors.New("session already run")

// Component is a subsystem started with the session and stopped on shutdown.
type Component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Dispatcher is the conversation side of the session.
type Dispatcher interface {
	Stop(ctx context.Context) error
	NotifyPreferenceChanged(key string)
}

type Config struct {
	ID              string
	Dispatcher      Dispatcher
	Voice           Component
	Prefs           prefs.Store
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

// Session is the one assistant instance of the process. It runs once; a
// stopped session cannot be restarted.
type Session struct {
	ID        string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`

	cfg    Config
	logger *slog.Logger

	mu            sync.Mutex
	ran           bool
	running       bool
	stopRequested bool
	stopOnce      sync.Once
	stopCh        chan struct{}
	done          chan struct{}
}

func New(cfg Config) *Session {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if cfg.Prefs == nil {
		cfg.Prefs = prefs.NewMemoryStore()
	}
	return &Session{
		ID:     cfg.ID,
		cfg:    cfg,
		logger: observability.OrDefault(cfg.Logger).With("component", "session", "session_id", cfg.ID),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Run starts the session's components and blocks until ctx ends or Stop is
// called, then shuts everything down. A Stop issued before Run makes Run
// shut down immediately.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.ran {
		s.mu.Unlock()
		return ErrAlreadyRun
	}
	s.ran = true
	deferred := s.stopRequested
	if !deferred {
		s.running = true
		s.StartedAt = time.Now().UTC()
	}
	s.mu.Unlock()
	defer close(s.done)

	if deferred {
		s.logger.Info("stop requested before start; shutting down")
		return s.shutdown(nil)
	}

	changes, unsubscribe := s.cfg.Prefs.Subscribe()
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		for key := range changes {
			if s.cfg.Dispatcher != nil {
				s.cfg.Dispatcher.NotifyPreferenceChanged(key)
			}
		}
	}()
	stopPump := func() {
		unsubscribe()
		<-pumpDone
	}

	if s.cfg.Voice != nil {
		if err := s.cfg.Voice.Start(ctx); err != nil {
			s.logger.Error("voice subsystem failed to start", "err", err)
			return errors.Join(fmt.Errorf("start voice: %w", err), s.shutdown(stopPump))
		}
	}
	s.logger.Info("session running")

	select {
	case <-ctx.Done():
	case <-s.stopCh:
	}
	return s.shutdown(stopPump)
}

func (s *Session) shutdown(stopPump func()) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if s.cfg.Voice != nil && stopPump != nil {
		if err := s.cfg.Voice.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop voice: %w", err))
		}
	}
	if s.cfg.Dispatcher != nil {
		if err := s.cfg.Dispatcher.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop dispatcher: %w", err))
		}
	}
	if stopPump != nil {
		stopPump()
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.logger.Info("session stopped")
	return errors.Join(errs...)
}

// Stop requests shutdown. Before Run it sets a deferred stop.
func (s *Session) Stop() {
	s.mu.Lock()
	s.stopRequested = true
	s.mu.Unlock()
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Status reports running or stopped; the internal stopping phase is
// reported as running until shutdown completes.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return StatusRunning
	}
	return StatusStopped
}

// ReloadPreferences re-reads the preference store from its backing file when
// it has one. Subscribers see a ReloadAll change.
func (s *Session) ReloadPreferences() error {
	r, ok := s.cfg.Prefs.(interface{ Reload() error })
	if !ok {
		return nil
	}
	if err := r.Reload(); err != nil {
		return fmt.Errorf("reload preferences: %w", err)
	}
	s.logger.Info("preferences reloaded")
	return nil
}

// Done is closed once Run has returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}
