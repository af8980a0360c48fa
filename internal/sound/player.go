package sound

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
	"github.com/jfreymuth/oggvorbis"

	"github.com/ent0n29/almond/internal/observability"
)

const outputRate = beep.SampleRate(44100)

// DefaultDirs are searched for named sound effects.
var DefaultDirs = []string{
	"/usr/share/sounds/freedesktop/stereo",
	"/usr/local/share/sounds/freedesktop/stereo",
}

var soundExts = []string{".oga", ".ogg", ".wav", ".mp3"}

var ErrNotFound = errors.New("sound not found")

// BeepPlayer plays sound effects on the default audio device.
type BeepPlayer struct {
	dirs   []string
	logger *slog.Logger

	initOnce sync.Once
	initErr  error
}

func NewBeepPlayer(logger *slog.Logger, dirs ...string) *BeepPlayer {
	if len(dirs) == 0 {
		dirs = DefaultDirs
	}
	return &BeepPlayer{
		dirs:   dirs,
		logger: observability.OrDefault(logger).With("component", "sound"),
	}
}

// Play decodes the named sound and blocks until it finished or ctx ended.
// name is either a file path or a freedesktop sound name.
func (p *BeepPlayer) Play(ctx context.Context, name string) error {
	path, err := Resolve(name, p.dirs)
	if err != nil {
		return err
	}
	streamer, format, err := decodeFile(path)
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	defer streamer.Close()

	p.initOnce.Do(func() {
		p.initErr = speaker.Init(outputRate, outputRate.N(time.Second/10))
	})
	if p.initErr != nil {
		return fmt.Errorf("init speaker: %w", p.initErr)
	}

	var out beep.Streamer = streamer
	if format.SampleRate != outputRate {
		out = beep.Resample(4, format.SampleRate, outputRate, streamer)
	}
	done := make(chan struct{})
	speaker.Play(beep.Seq(out, beep.Callback(func() {
		close(done)
	})))
	select {
	case <-done:
		p.logger.Debug("sound played", "path", path)
		return nil
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	}
}

// Resolve finds the file for name. Paths are used as given; bare names are
// looked up in dirs with the known extensions.
func Resolve(name string, dirs []string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrNotFound
	}
	if strings.ContainsRune(name, filepath.Separator) || filepath.Ext(name) != "" {
		if _, err := os.Stat(name); err != nil {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return name, nil
	}
	for _, dir := range dirs {
		for _, ext := range soundExts {
			candidate := filepath.Join(dir, name+ext)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}

func decodeFile(path string) (beep.StreamSeekCloser, beep.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, beep.Format{}, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return mp3.Decode(f)
	case ".wav":
		return wav.Decode(f)
	case ".oga", ".ogg":
		defer f.Close()
		return decodeVorbis(f)
	default:
		_ = f.Close()
		return nil, beep.Format{}, fmt.Errorf("unsupported sound format %q", filepath.Ext(path))
	}
}

func decodeVorbis(r io.Reader) (beep.StreamSeekCloser, beep.Format, error) {
	pcm, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, beep.Format{}, err
	}
	if format == nil || format.Channels <= 0 || format.SampleRate <= 0 {
		return nil, beep.Format{}, errors.New("invalid ogg/vorbis stream")
	}
	s := newPCMStreamer(pcm, format.Channels)
	return s, beep.Format{
		SampleRate:  beep.SampleRate(format.SampleRate),
		NumChannels: 2,
		Precision:   2,
	}, nil
}

// pcmStreamer streams interleaved float32 samples, duplicating mono and
// keeping the first two channels of anything wider.
type pcmStreamer struct {
	frames   [][2]float64
	position int
}

func newPCMStreamer(pcm []float32, channels int) *pcmStreamer {
	frames := make([][2]float64, 0, len(pcm)/channels)
	for i := 0; i+channels <= len(pcm); i += channels {
		left := float64(pcm[i])
		right := left
		if channels > 1 {
			right = float64(pcm[i+1])
		}
		frames = append(frames, [2]float64{left, right})
	}
	return &pcmStreamer{frames: frames}
}

func (s *pcmStreamer) Stream(samples [][2]float64) (int, bool) {
	if s.position >= len(s.frames) {
		return 0, false
	}
	n := copy(samples, s.frames[s.position:])
	s.position += n
	return n, true
}

func (s *pcmStreamer) Err() error    { return nil }
func (s *pcmStreamer) Len() int      { return len(s.frames) }
func (s *pcmStreamer) Position() int { return s.position }
func (s *pcmStreamer) Close() error  { return nil }

func (s *pcmStreamer) Seek(p int) error {
	if p < 0 || p > len(s.frames) {
		return fmt.Errorf("seek position %d out of range [0, %d]", p, len(s.frames))
	}
	s.position = p
	return nil
}
