package prefs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Capability flags shared by the dispatcher and the voice gate.
const (
	KeyVoiceInput  = "voice-input-enabled"
	KeyVoiceOutput = "voice-output-enabled"
	KeyHotword     = "hotword-enabled"
)

// ReloadAll is the change key published when every value may have changed.
const ReloadAll = ""

var ErrUnsupportedValue = errors.New("unsupported preference value")

// Store is a persistent key/value store with change notification.
// Values are string, int64, float64, bool, []any or map[string]any.
type Store interface {
	Get(key string) (any, bool)
	Set(key string, value any) error
	Keys() []string
	Subscribe() (<-chan string, func())
}

// FileStore keeps preferences in memory and mirrors them to a YAML file.
// An empty path keeps everything in memory.
type FileStore struct {
	mu        sync.RWMutex
	path      string
	values    map[string]any
	subs      map[int]chan string
	nextSubID int
}

func Open(path string) (*FileStore, error) {
	s := NewMemoryStore()
	s.path = path
	if path == "" {
		return s, nil
	}
	values, err := readFile(path)
	if err != nil {
		return nil, err
	}
	s.values = values
	return s, nil
}

func NewMemoryStore() *FileStore {
	return &FileStore{
		values: make(map[string]any),
		subs:   make(map[int]chan string),
	}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return nil, false
	}
	return cloneValue(v), true
}

func (s *FileStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set stores value under key, persists the file and notifies subscribers.
// Last writer wins.
func (s *FileStore) Set(key string, value any) error {
	if key == "" {
		return errors.New("preference key is required")
	}
	normalized, err := Normalize(value)
	if err != nil {
		return fmt.Errorf("preference %q: %w", key, err)
	}

	s.mu.Lock()
	s.values[key] = normalized
	err = s.persistLocked()
	s.publishLocked(key)
	s.mu.Unlock()
	return err
}

// Reload re-reads the backing file and announces a full reload.
func (s *FileStore) Reload() error {
	if s.path == "" {
		return nil
	}
	values, err := readFile(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.values = values
	s.publishLocked(ReloadAll)
	s.mu.Unlock()
	return nil
}

// Subscribe returns a channel of changed keys. A subscriber that falls
// behind has its pending keys replaced by a single ReloadAll.
func (s *FileStore) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 32)
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub)
			}
			s.mu.Unlock()
		})
	}
}

func (s *FileStore) publishLocked(key string) {
	for _, ch := range s.subs {
		notify(ch, key)
	}
}

// notify never blocks. When ch is full its pending keys are discarded and
// ReloadAll is queued, which covers them and key.
func notify(ch chan string, key string) {
	select {
	case ch <- key:
		return
	default:
	}
	for {
		select {
		case <-ch:
			continue
		default:
		}
		select {
		case ch <- ReloadAll:
			return
		default:
		}
	}
}

func (s *FileStore) persistLocked() error {
	if s.path == "" {
		return nil
	}
	raw, err := yaml.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create preferences dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write preferences: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace preferences: %w", err)
	}
	return nil
}

func readFile(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]any), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read preferences: %w", err)
	}
	var decoded map[string]any
	if err := yaml.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode preferences %s: %w", path, err)
	}
	values := make(map[string]any, len(decoded))
	for k, v := range decoded {
		n, err := Normalize(v)
		if err != nil {
			return nil, fmt.Errorf("preference %q: %w", k, err)
		}
		values[k] = n
	}
	return values, nil
}

// Bool returns the boolean stored at key, or fallback when the key is unset
// or holds another type.
func Bool(s Store, key string, fallback bool) bool {
	v, ok := s.Get(key)
	if !ok {
		return fallback
	}
	b, ok := v.(bool)
	if !ok {
		return fallback
	}
	return b
}

// EnsureDefault stores value under key if the key is unset.
func EnsureDefault(s Store, key string, value any) error {
	if _, ok := s.Get(key); ok {
		return nil
	}
	return s.Set(key, value)
}
