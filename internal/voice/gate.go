package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/almond/internal/observability"
	"github.com/ent0n29/almond/internal/prefs"
)

const (
	DefaultActivateSound = "message-new-instant"
	DefaultApology       = "Sorry, I had an error processing your command."
	soundTimeout         = 5 * time.Second
)

// GateConfig wires the gate to its capabilities. Nil capabilities disable
// the corresponding feature.
type GateConfig struct {
	Prefs         prefs.Store
	Synthesizer   Synthesizer
	Recognizer    Recognizer
	Detector      WakeWordDetector
	Sound         SoundPlayer
	ActivateSound string
	Apology       string
	Logger        *slog.Logger
	Metrics       *observability.Metrics
}

// State is a point-in-time view of the gate.
type State struct {
	VoiceInputEnabled  bool `json:"voice_input_enabled"`
	VoiceOutputEnabled bool `json:"voice_output_enabled"`
	HotwordArmed       bool `json:"hotword_armed"`
	AutoTrigger        bool `json:"auto_trigger"`
	SpeechQueueOpen    bool `json:"speech_queue_open"`
}

// Gate owns voice input/output state and bridges hotword and utterance
// events to the dispatcher.
type Gate struct {
	cfg     GateConfig
	logger  *slog.Logger
	metrics *observability.Metrics
	queue   *speechQueue

	mu            sync.Mutex
	inputEnabled  bool
	outputEnabled bool
	hotwordArmed  bool
	autoTrigger   bool
	rearmGen      uint64
	commander     Commander
	notifier      Notifier
	started       bool

	// runMu serializes starting and stopping the capture subsystems.
	runMu         sync.Mutex
	ctx           context.Context
	cancel        context.CancelFunc
	captureCancel context.CancelFunc
	detectCancel  context.CancelFunc
	wg            sync.WaitGroup
}

func NewGate(cfg GateConfig) *Gate {
	if cfg.Prefs == nil {
		cfg.Prefs = prefs.NewMemoryStore()
	}
	if strings.TrimSpace(cfg.ActivateSound) == "" {
		cfg.ActivateSound = DefaultActivateSound
	}
	if strings.TrimSpace(cfg.Apology) == "" {
		cfg.Apology = DefaultApology
	}
	logger := observability.OrDefault(cfg.Logger).With("component", "voice")
	g := &Gate{
		cfg:           cfg,
		logger:        logger,
		metrics:       cfg.Metrics,
		inputEnabled:  true,
		outputEnabled: true,
		hotwordArmed:  true,
		autoTrigger:   true,
	}
	if cfg.Synthesizer != nil {
		g.queue = newSpeechQueue(cfg.Synthesizer, logger, cfg.Metrics)
	}
	return g
}

// Attach binds the dispatcher the gate drives. It must be called before
// Start.
func (g *Gate) Attach(c Commander, n Notifier) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.commander = c
	g.notifier = n
}

// Start loads the persisted flags, defaulting them to enabled on first run,
// and starts the speech queue and capture subsystems.
func (g *Gate) Start(ctx context.Context) error {
	for _, key := range []string{prefs.KeyVoiceInput, prefs.KeyVoiceOutput, prefs.KeyHotword} {
		if err := prefs.EnsureDefault(g.cfg.Prefs, key, true); err != nil {
			return fmt.Errorf("default %s: %w", key, err)
		}
	}

	g.runMu.Lock()
	if g.ctx != nil {
		g.runMu.Unlock()
		return errors.New("voice gate already started")
	}
	g.ctx, g.cancel = context.WithCancel(context.WithoutCancel(ctx))
	runCtx := g.ctx
	g.runMu.Unlock()

	g.mu.Lock()
	g.started = true
	g.mu.Unlock()

	if g.queue != nil {
		g.goTracked(func() { g.queue.run(runCtx) })
	}

	changes, unsubscribe := g.cfg.Prefs.Subscribe()
	g.goTracked(func() {
		defer unsubscribe()
		for {
			select {
			case <-runCtx.Done():
				return
			case key, ok := <-changes:
				if !ok {
					return
				}
				g.onPreferenceChanged(key)
			}
		}
	})

	g.loadPrefs()
	g.apply()
	return nil
}

// Stop lets queued speech finish until ctx expires, then stops every
// subsystem and waits for the gate's goroutines.
func (g *Gate) Stop(ctx context.Context) error {
	var drainErr error
	if g.queue != nil {
		if err := g.queue.waitDrained(ctx); err != nil {
			drainErr = fmt.Errorf("drain speech queue: %w", err)
			g.queue.clear()
		}
	}

	g.runMu.Lock()
	if g.cancel == nil {
		g.runMu.Unlock()
		return drainErr
	}
	g.stopCaptureLocked()
	g.stopDetectorLocked()
	g.cancel()
	g.runMu.Unlock()

	g.wg.Wait()
	return drainErr
}

func (g *Gate) goTracked(fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn()
	}()
}

func (g *Gate) State() State {
	g.mu.Lock()
	s := State{
		VoiceInputEnabled:  g.inputEnabled,
		VoiceOutputEnabled: g.outputEnabled,
		HotwordArmed:       g.inputEnabled && g.hotwordArmed,
		AutoTrigger:        g.autoTrigger,
	}
	g.mu.Unlock()
	if g.queue != nil {
		s.SpeechQueueOpen = g.queue.open()
	}
	return s
}

// SetVoiceInput enables or disables speech capture and persists the choice.
// Enabling also re-arms auto-trigger.
func (g *Gate) SetVoiceInput(enabled bool) error {
	g.mu.Lock()
	g.inputEnabled = enabled
	g.autoTrigger = enabled
	g.rearmGen++
	g.mu.Unlock()

	err := g.cfg.Prefs.Set(prefs.KeyVoiceInput, enabled)
	g.apply()
	return err
}

func (g *Gate) SetVoiceOutput(enabled bool) error {
	g.mu.Lock()
	g.outputEnabled = enabled
	g.mu.Unlock()
	if !enabled {
		g.ClearQueue()
	}
	return g.cfg.Prefs.Set(prefs.KeyVoiceOutput, enabled)
}

func (g *Gate) SetHotword(armed bool) error {
	g.mu.Lock()
	g.hotwordArmed = armed
	g.mu.Unlock()
	err := g.cfg.Prefs.Set(prefs.KeyHotword, armed)
	g.apply()
	return err
}

func (g *Gate) loadPrefs() {
	input := prefs.Bool(g.cfg.Prefs, prefs.KeyVoiceInput, true)
	output := prefs.Bool(g.cfg.Prefs, prefs.KeyVoiceOutput, true)
	hotword := prefs.Bool(g.cfg.Prefs, prefs.KeyHotword, true)

	g.mu.Lock()
	if input && !g.inputEnabled {
		g.autoTrigger = true
	}
	g.inputEnabled = input
	g.outputEnabled = output
	g.hotwordArmed = hotword
	g.mu.Unlock()
	if !output {
		g.ClearQueue()
	}
}

func (g *Gate) onPreferenceChanged(key string) {
	switch key {
	case prefs.ReloadAll, prefs.KeyVoiceInput, prefs.KeyVoiceOutput, prefs.KeyHotword:
		g.loadPrefs()
		g.apply()
	}
}

// apply starts or stops capture and hotword detection to match the flags.
func (g *Gate) apply() {
	g.mu.Lock()
	wantCapture := g.inputEnabled && g.cfg.Recognizer != nil
	wantDetect := g.inputEnabled && g.hotwordArmed && g.cfg.Detector != nil
	g.mu.Unlock()

	g.runMu.Lock()
	defer g.runMu.Unlock()
	if g.ctx == nil || g.ctx.Err() != nil {
		return
	}
	switch {
	case wantCapture && g.captureCancel == nil:
		g.startCaptureLocked()
	case !wantCapture && g.captureCancel != nil:
		g.stopCaptureLocked()
	}
	switch {
	case wantDetect && g.detectCancel == nil:
		g.startDetectorLocked()
	case !wantDetect && g.detectCancel != nil:
		g.stopDetectorLocked()
	}
}

func (g *Gate) startCaptureLocked() {
	ctx, cancel := context.WithCancel(g.ctx)
	events, err := g.cfg.Recognizer.Start(ctx)
	if err != nil {
		cancel()
		g.metrics.ObserveVoiceEvent("capture_error")
		g.logger.Warn("speech capture unavailable", "err", errors.Join(ErrSpeech, err))
		return
	}
	g.captureCancel = cancel
	g.metrics.ObserveVoiceEvent("capture_started")
	g.goTracked(func() {
		for evt := range events {
			switch evt.Type {
			case RecognitionPartial:
				g.OnHypothesis(evt.Text)
			case RecognitionFinal:
				g.OnUtterance(ctx, evt.Text)
			case RecognitionError:
				g.OnRecognitionError(ctx, evt.Err)
			}
		}
	})
}

func (g *Gate) stopCaptureLocked() {
	if g.captureCancel == nil {
		return
	}
	g.captureCancel()
	g.captureCancel = nil
	if err := g.cfg.Recognizer.Stop(); err != nil {
		g.logger.Debug("stop speech capture", "err", err)
	}
	g.metrics.ObserveVoiceEvent("capture_stopped")
}

func (g *Gate) startDetectorLocked() {
	ctx, cancel := context.WithCancel(g.ctx)
	hotwords, err := g.cfg.Detector.Start(ctx)
	if err != nil {
		cancel()
		g.metrics.ObserveVoiceEvent("hotword_error")
		g.logger.Warn("hotword detector unavailable", "err", errors.Join(ErrSpeech, err))
		return
	}
	g.detectCancel = cancel
	g.goTracked(func() {
		for word := range hotwords {
			g.OnHotword(ctx, word)
		}
	})
}

func (g *Gate) stopDetectorLocked() {
	if g.detectCancel == nil {
		return
	}
	g.detectCancel()
	g.detectCancel = nil
	if err := g.cfg.Detector.Stop(); err != nil {
		g.logger.Debug("stop hotword detector", "err", err)
	}
}

// OnHotword announces activation and plays the confirmation sound. It does
// not by itself re-arm auto-trigger.
func (g *Gate) OnHotword(ctx context.Context, word string) {
	g.mu.Lock()
	armed := g.inputEnabled && g.hotwordArmed
	notifier := g.notifier
	g.mu.Unlock()
	if !armed {
		return
	}
	g.metrics.ObserveVoiceEvent("hotword")
	g.logger.Debug("hotword detected", "hotword", word)
	if notifier != nil {
		notifier.Activate()
	}
	if g.cfg.Sound == nil {
		return
	}
	g.goTracked(func() {
		playCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), soundTimeout)
		defer cancel()
		if err := g.cfg.Sound.Play(playCtx, g.cfg.ActivateSound); err != nil {
			g.logger.Warn("confirmation sound failed", "sound", g.cfg.ActivateSound, "err", err)
		}
	})
}

func (g *Gate) OnHypothesis(text string) {
	g.mu.Lock()
	enabled := g.inputEnabled
	notifier := g.notifier
	g.mu.Unlock()
	if !enabled || notifier == nil || strings.TrimSpace(text) == "" {
		return
	}
	notifier.VoiceHypothesis(text)
}

// OnUtterance forwards a recognized utterance as a command when voice input
// is enabled and auto-trigger is armed. Failures are spoken, not returned.
func (g *Gate) OnUtterance(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	g.mu.Lock()
	accept := g.inputEnabled && g.autoTrigger
	commander := g.commander
	g.mu.Unlock()
	if !accept || commander == nil {
		g.metrics.ObserveVoiceEvent("utterance_ignored")
		g.logger.Debug("utterance ignored", "auto_trigger", accept)
		return
	}
	g.metrics.ObserveVoiceEvent("utterance")
	if err := commander.HandleCommand(ctx, text); err != nil {
		g.logger.Warn("voice command failed", "err", err)
		g.apologize(ctx, commander)
	}
}

// OnRecognitionError logs err and apologizes to the user.
func (g *Gate) OnRecognitionError(ctx context.Context, err error) {
	g.metrics.ObserveVoiceEvent("recognition_error")
	g.logger.Warn("speech recognition failed", "err", errors.Join(ErrSpeech, err))
	g.mu.Lock()
	commander := g.commander
	g.mu.Unlock()
	if commander != nil {
		g.apologize(ctx, commander)
	}
}

func (g *Gate) apologize(ctx context.Context, commander Commander) {
	if err := commander.SendText(context.WithoutCancel(ctx), g.cfg.Apology, ""); err != nil {
		g.logger.Debug("apology not delivered", "err", err)
	}
}

// Speak queues text for synthesis when voice output is enabled.
func (g *Gate) Speak(text string) {
	if g.queue == nil {
		return
	}
	g.mu.Lock()
	enabled := g.outputEnabled
	g.mu.Unlock()
	if !enabled {
		return
	}
	if spoken := speakableText(text); spoken != "" {
		g.queue.enqueue(spoken)
	}
}

// ClearQueue drops pending speech and interrupts the current utterance.
func (g *Gate) ClearQueue() {
	if g.queue != nil {
		g.queue.clear()
	}
}

// ExpectAnswer records what kind of answer the assistant awaits. An empty
// what disarms auto-trigger; anything else re-arms it once queued speech
// has been spoken.
func (g *Gate) ExpectAnswer(what string) {
	g.mu.Lock()
	g.rearmGen++
	gen := g.rearmGen
	if what == "" {
		g.autoTrigger = false
		g.mu.Unlock()
		g.metrics.ObserveVoiceEvent("auto_trigger_disarmed")
		return
	}
	g.mu.Unlock()

	rearm := func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.rearmGen == gen {
			g.autoTrigger = true
		}
	}
	if g.queue == nil {
		rearm()
		return
	}
	g.queue.onDrained(rearm)
}

