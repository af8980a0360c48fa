package voice

import (
	"context"
	"errors"
)

// ErrSpeech wraps failures of the hotword, recognition or synthesis
// subsystems. They are logged at the gate and never reach command callers.
var ErrSpeech = errors.New("speech subsystem error")

type RecognitionEventType string

const (
	RecognitionPartial RecognitionEventType = "partial"
	RecognitionFinal   RecognitionEventType = "final"
	RecognitionError   RecognitionEventType = "error"
)

type RecognitionEvent struct {
	Type RecognitionEventType
	Text string
	Err  error
}

// Recognizer is the external speech-to-text capture subsystem. The event
// channel is closed when capture stops.
type Recognizer interface {
	Start(ctx context.Context) (<-chan RecognitionEvent, error)
	Stop() error
}

// WakeWordDetector reports detected hotwords on its channel until stopped.
type WakeWordDetector interface {
	Start(ctx context.Context) (<-chan string, error)
	Stop() error
}

// Synthesizer speaks text and returns once playback finished or ctx ended.
type Synthesizer interface {
	Say(ctx context.Context, text string) error
}

// SoundPlayer plays a named sound effect.
type SoundPlayer interface {
	Play(ctx context.Context, name string) error
}

// Commander is the dispatcher side the gate drives.
type Commander interface {
	HandleCommand(ctx context.Context, text string) error
	SendText(ctx context.Context, text, icon string) error
}

// Notifier receives the gate's UI-facing events.
type Notifier interface {
	Activate()
	VoiceHypothesis(text string)
}
