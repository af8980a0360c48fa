package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// ESpeak speaks through the espeak-ng (or espeak) command line tool.
type ESpeak struct {
	path  string
	voice string
}

// NewESpeak resolves the synthesizer binary. An empty path searches PATH
// for espeak-ng, then espeak.
func NewESpeak(path, voice string) (*ESpeak, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		for _, candidate := range []string{"espeak-ng", "espeak"} {
			if p, err := exec.LookPath(candidate); err == nil {
				path = p
				break
			}
		}
	} else if p, err := exec.LookPath(path); err == nil {
		path = p
	} else {
		return nil, fmt.Errorf("%w: %s: %v", ErrSpeech, path, err)
	}
	if path == "" {
		return nil, fmt.Errorf("%w: espeak-ng not found on PATH", ErrSpeech)
	}
	return &ESpeak{path: path, voice: espeakVoice(voice)}, nil
}

func (e *ESpeak) Path() string { return e.path }

func (e *ESpeak) Say(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	args := []string{"--stdin"}
	if e.voice != "" {
		args = append(args, "-v", e.voice)
	}
	cmd := exec.CommandContext(ctx, e.path, args...)
	cmd.Stdin = strings.NewReader(text)
	cmd.Stdout = io.Discard
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		detail := strings.TrimSpace(stderr.String())
		if len(detail) > 1<<10 {
			detail = strings.TrimSpace(detail[len(detail)-(1<<10):])
		}
		if detail == "" {
			detail = err.Error()
		}
		return errors.New("espeak failed: " + detail)
	}
	return nil
}

// espeakVoice maps a locale tag such as en-US to an espeak voice name.
func espeakVoice(locale string) string {
	locale = strings.TrimSpace(strings.ReplaceAll(locale, "_", "-"))
	if locale == "" {
		return ""
	}
	parts := strings.SplitN(strings.ToLower(locale), "-", 2)
	if len(parts) == 2 && parts[0] == "en" {
		switch parts[1] {
		case "us":
			return "en-us"
		case "gb", "uk":
			return "en-gb"
		}
	}
	return parts[0]
}
