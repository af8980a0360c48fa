package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/almond/internal/agent"
	"github.com/ent0n29/almond/internal/events"
	"github.com/ent0n29/almond/internal/history"
	"github.com/ent0n29/almond/internal/memory"
	"github.com/ent0n29/almond/internal/observability"
)

type State int

const (
	StateUninitialized State = iota
	StateStarting
	StateReady
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// Voice is the part of the voice gate the dispatcher drives.
type Voice interface {
	Speak(text string)
	ClearQueue()
	ExpectAnswer(what string)
}

type Config struct {
	SessionID    string
	HistoryLimit int
	Bus          *events.Bus
	Voice        Voice
	Agent        agent.Factory
	Audit        memory.Store
	RedactPII    bool
	Logger       *slog.Logger
	Metrics      *observability.Metrics
}

// Dispatcher is the single entry point of one conversation. It owns the
// message history, forwards user input to the dialogue agent and turns the
// agent's output into history entries, events and speech.
type Dispatcher struct {
	sessionID string
	history   *history.History
	bus       *events.Bus
	voice     Voice
	factory   agent.Factory
	recorder  *recorder
	logger    *slog.Logger
	metrics   *observability.Metrics

	// turnMu serializes user turns.
	turnMu sync.Mutex
	// appendMu keeps history mutation and event publication in one order.
	appendMu sync.Mutex

	mu    sync.Mutex
	state State
	conv  agent.Conversation
}

func New(cfg Config) (*Dispatcher, error) {
	if cfg.Agent == nil {
		return nil, errors.New("dialogue agent factory is required")
	}
	if cfg.Bus == nil {
		cfg.Bus = events.NewBus(0)
	}
	if cfg.Voice == nil {
		cfg.Voice = silentVoice{}
	}
	logger := observability.OrDefault(cfg.Logger).With("component", "dispatcher", "session_id", cfg.SessionID)
	d := &Dispatcher{
		sessionID: cfg.SessionID,
		history:   history.New(cfg.HistoryLimit),
		bus:       cfg.Bus,
		voice:     cfg.Voice,
		factory:   cfg.Agent,
		logger:    logger,
		metrics:   cfg.Metrics,
	}
	if cfg.Audit != nil {
		d.recorder = newRecorder(cfg.Audit, cfg.SessionID, cfg.RedactPII, logger, cfg.Metrics)
	}
	return d, nil
}

func (d *Dispatcher) SessionID() string { return d.sessionID }

func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Subscribe returns the ordered event stream of the session.
func (d *Dispatcher) Subscribe() (<-chan events.Event, func()) {
	return d.bus.Subscribe()
}

// LastEventSeq returns the sequence number of the newest published event.
func (d *Dispatcher) LastEventSeq() uint64 {
	return d.bus.Seq()
}

// GetHistory returns a copy of the current history.
func (d *Dispatcher) GetHistory(context.Context) []history.Message {
	return d.history.Snapshot()
}

// StartConversation constructs the dialogue agent ahead of the first command.
func (d *Dispatcher) StartConversation(ctx context.Context) error {
	d.turnMu.Lock()
	defer d.turnMu.Unlock()
	_, err := d.ensureReady(ctx)
	return err
}

// HandleCommand submits free text. Blank text is ignored.
func (d *Dispatcher) HandleCommand(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return d.ignoreBlank()
	}
	return d.runTurn(ctx, "command", text, nil, func(conv agent.Conversation) error {
		return conv.HandleCommand(ctx, text)
	})
}

// HandleParsedCommand submits an already-parsed command. The title is shown
// as the user's turn only when non-empty.
func (d *Dispatcher) HandleParsedCommand(ctx context.Context, title, command string) error {
	validate := func() error {
		var obj map[string]any
		if err := json.Unmarshal([]byte(command), &obj); err != nil || obj == nil {
			if err == nil {
				err = errors.New("not a JSON object")
			}
			return fmt.Errorf("%w: %v", ErrMalformedCommand, err)
		}
		return nil
	}
	return d.runTurn(ctx, "parsed", strings.TrimSpace(title), validate, func(conv agent.Conversation) error {
		return conv.HandleParsedCommand(ctx, command)
	})
}

// HandleThingTalk submits a raw program. Surrounding whitespace is trimmed
// and blank programs are ignored like blank commands.
func (d *Dispatcher) HandleThingTalk(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return d.ignoreBlank()
	}
	return d.runTurn(ctx, "thingtalk", code, nil, func(conv agent.Conversation) error {
		return conv.HandleThingTalk(ctx, code)
	})
}

func (d *Dispatcher) runTurn(ctx context.Context, entry, display string, validate func() error, forward func(agent.Conversation) error) (err error) {
	started := time.Now()
	defer func() {
		result := "ok"
		switch {
		case err == nil:
		case errors.Is(err, ErrSessionClosed):
			result = "closed"
		case errors.Is(err, ErrMalformedCommand):
			result = "malformed"
		case errors.Is(err, ErrAgentUnavailable):
			result = "unavailable"
		default:
			result = "error"
		}
		d.metrics.ObserveCommand(entry, result)
		d.metrics.ObserveStage(entry, time.Since(started))
	}()

	d.turnMu.Lock()
	defer d.turnMu.Unlock()

	if d.closed() {
		return ErrSessionClosed
	}

	d.voice.ClearQueue()
	d.collapse()
	if display != "" {
		d.appendMessage(history.KindText, history.FromUser, map[string]string{history.KeyText: display}, "")
	}
	if validate != nil {
		if err := validate(); err != nil {
			return err
		}
	}

	conv, err := d.ensureReady(ctx)
	if err != nil {
		return err
	}

	forwardStarted := time.Now()
	err = forward(conv)
	d.metrics.ObserveStage("agent_forward", time.Since(forwardStarted))
	if err == nil {
		return nil
	}
	if errors.Is(err, agent.ErrUnavailable) {
		d.dropConversation(conv)
		d.logger.Warn("dialogue agent lost", "entry", entry, "err", err)
		return fmt.Errorf("%w: %w", ErrAgentUnavailable, err)
	}
	d.logger.Warn("dialogue agent rejected command", "entry", entry, "err", err)
	return err
}

// ignoreBlank is the result of a blank submission: nothing happens unless the
// dispatcher is shutting down.
func (d *Dispatcher) ignoreBlank() error {
	if d.closed() {
		return ErrSessionClosed
	}
	return nil
}

func (d *Dispatcher) closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == StateStopping || d.state == StateStopped
}

// ensureReady moves the dispatcher to Ready, constructing the dialogue agent
// if needed. A failed construction returns to Uninitialized so the next turn
// tries again. Callers hold turnMu.
func (d *Dispatcher) ensureReady(ctx context.Context) (agent.Conversation, error) {
	d.mu.Lock()
	switch d.state {
	case StateReady:
		conv := d.conv
		d.mu.Unlock()
		return conv, nil
	case StateStopping, StateStopped:
		d.mu.Unlock()
		return nil, ErrSessionClosed
	}
	d.state = StateStarting
	d.mu.Unlock()

	started := time.Now()
	conv, err := d.factory(ctx, d)
	d.metrics.ObserveStage("agent_connect", time.Since(started))

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateStarting {
		if conv != nil {
			_ = conv.Close()
		}
		return nil, ErrSessionClosed
	}
	if err != nil {
		d.state = StateUninitialized
		d.metrics.ObserveAgentConnection("error")
		d.logger.Warn("dialogue agent construction failed", "err", err)
		return nil, fmt.Errorf("%w: %w", ErrAgentUnavailable, err)
	}
	d.metrics.ObserveAgentConnection("ok")
	d.state = StateReady
	d.conv = conv
	d.logger.Info("dialogue agent ready")
	return conv, nil
}

func (d *Dispatcher) dropConversation(conv agent.Conversation) {
	d.mu.Lock()
	if d.conv == conv && d.state == StateReady {
		d.conv = nil
		d.state = StateUninitialized
	}
	d.mu.Unlock()
	_ = conv.Close()
}

// Stop closes the dialogue agent and flushes the audit log. Later calls
// fail with ErrSessionClosed.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.state == StateStopping || d.state == StateStopped {
		d.mu.Unlock()
		return nil
	}
	d.state = StateStopping
	conv := d.conv
	d.conv = nil
	d.mu.Unlock()

	var errs []error
	if conv != nil {
		if err := conv.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close dialogue agent: %w", err))
		}
	}
	d.voice.ClearQueue()
	if d.recorder != nil {
		d.appendMu.Lock()
		d.recorder.close()
		d.appendMu.Unlock()
		if err := d.recorder.wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush audit log: %w", err))
		}
	}

	d.mu.Lock()
	d.state = StateStopped
	d.mu.Unlock()
	d.logger.Info("dispatcher stopped")
	return errors.Join(errs...)
}

func (d *Dispatcher) collapse() {
	started := time.Now()
	d.appendMu.Lock()
	defer d.appendMu.Unlock()

	removed := d.history.CollapseTrailingPrompts()
	if len(removed) == 0 {
		return
	}
	d.publishRemoved(removed, memory.ReasonCollapse)
	d.metrics.SetHistorySize(d.history.Len())
	d.metrics.ObserveStage("collapse", time.Since(started))
}

// appendMessage pushes a message and, when spoken is set, queues it for
// speech before appendMu is released so speech follows history order.
func (d *Dispatcher) appendMessage(kind history.Kind, dir history.Direction, payload map[string]string, spoken string) history.Message {
	d.appendMu.Lock()
	defer d.appendMu.Unlock()

	msg, evicted := d.history.Push(history.Message{Kind: kind, Direction: dir, Payload: payload})
	d.publish(events.Event{Type: events.TypeNewMessage, Message: msg, MessageID: msg.ID})
	if d.recorder != nil {
		d.recorder.saved(msg)
	}
	d.metrics.ObserveMessage(kind.String(), dir.String())
	if len(evicted) > 0 {
		d.publishRemoved(evicted, memory.ReasonEvict)
	}
	d.metrics.SetHistorySize(d.history.Len())
	if spoken != "" {
		d.voice.Speak(spoken)
	}
	return msg
}

// publishRemoved announces removals. Callers hold appendMu.
func (d *Dispatcher) publishRemoved(ids []uint32, reason string) {
	for _, id := range ids {
		d.publish(events.Event{Type: events.TypeRemoveMessage, MessageID: id})
		if d.recorder != nil {
			d.recorder.removed(id, reason)
		}
	}
	d.metrics.ObserveRemoved(reason, len(ids))
}

func (d *Dispatcher) publish(evt events.Event) {
	d.bus.Publish(evt)
	d.metrics.ObserveEvent(string(evt.Type))
}

// Activate announces a detected hotword.
func (d *Dispatcher) Activate() {
	d.publish(events.Event{Type: events.TypeActivate})
}

// VoiceHypothesis forwards a partial transcription.
func (d *Dispatcher) VoiceHypothesis(text string) {
	d.publish(events.Event{Type: events.TypeVoiceHypothesis, Text: text})
}

// NotifyPreferenceChanged publishes a preference change. An empty key means
// every preference may have changed.
func (d *Dispatcher) NotifyPreferenceChanged(key string) {
	d.publish(events.Event{Type: events.TypePreferenceChanged, Key: key})
}

type silentVoice struct{}

func (silentVoice) Speak(string)        {}
func (silentVoice) ClearQueue()         {}
func (silentVoice) ExpectAnswer(string) {}
