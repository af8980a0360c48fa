package capability

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ent0n29/almond/internal/voice"
)

// Kind enumerates the platform capabilities the assistant can use.
type Kind int

const (
	Sound Kind = iota
	WakeWord
	SpeechSynthesis
	SpeechRecognition
)

var kindNames = map[Kind]string{
	Sound:             "sound",
	WakeWord:          "wake-word",
	SpeechSynthesis:   "speech-synthesis",
	SpeechRecognition: "speech-recognition",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("capability(%d)", int(k))
}

var ErrWrongType = errors.New("capability does not implement its kind")

// Registry maps each capability kind to its implementation. It is filled at
// startup and read by constructors.
type Registry struct {
	mu    sync.RWMutex
	items map[Kind]any
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[Kind]any)}
}

// Register installs impl for kind, replacing any previous one. A nil impl
// removes the capability.
func (r *Registry) Register(kind Kind, impl any) error {
	if impl != nil && !implements(kind, impl) {
		return fmt.Errorf("%w: %s got %T", ErrWrongType, kind, impl)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if impl == nil {
		delete(r.items, kind)
		return nil
	}
	r.items[kind] = impl
	return nil
}

func implements(kind Kind, impl any) bool {
	switch kind {
	case Sound:
		_, ok := impl.(voice.SoundPlayer)
		return ok
	case WakeWord:
		_, ok := impl.(voice.WakeWordDetector)
		return ok
	case SpeechSynthesis:
		_, ok := impl.(voice.Synthesizer)
		return ok
	case SpeechRecognition:
		_, ok := impl.(voice.Recognizer)
		return ok
	default:
		return false
	}
}

// Lookup returns the capability of kind as T.
func Lookup[T any](r *Registry, kind Kind) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	impl, ok := r.items[kind].(T)
	return impl, ok
}

// Available lists the registered kinds by name.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.items))
	for k := range r.items {
		out = append(out, k.String())
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Sound() voice.SoundPlayer {
	s, _ := Lookup[voice.SoundPlayer](r, Sound)
	return s
}

func (r *Registry) WakeWord() voice.WakeWordDetector {
	d, _ := Lookup[voice.WakeWordDetector](r, WakeWord)
	return d
}

func (r *Registry) Synthesizer() voice.Synthesizer {
	s, _ := Lookup[voice.Synthesizer](r, SpeechSynthesis)
	return s
}

func (r *Registry) Recognizer() voice.Recognizer {
	rec, _ := Lookup[voice.Recognizer](r, SpeechRecognition)
	return rec
}
