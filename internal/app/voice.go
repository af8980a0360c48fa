package app

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ent0n29/almond/internal/capability"
	"github.com/ent0n29/almond/internal/config"
	"github.com/ent0n29/almond/internal/sound"
	"github.com/ent0n29/almond/internal/voice"
)

// resolveCapabilities registers the platform services this host provides.
// Speech recognition and wake-word detection have no built-in engine and
// stay unregistered until an integration supplies them.
func resolveCapabilities(cfg config.Config, logger *slog.Logger) (*capability.Registry, string, error) {
	caps := capability.NewRegistry()
	var detail []string

	switch cfg.TTS {
	case "none":
		detail = append(detail, "speech synthesis disabled")
	case "espeak", "auto":
		synth, err := voice.NewESpeak(cfg.ESpeakPath, cfg.Locale)
		if err != nil {
			if cfg.TTS == "espeak" {
				return nil, "", fmt.Errorf("speech synthesis init failed: %w", err)
			}
			logger.Warn("speech synthesis unavailable", "err", err)
			detail = append(detail, "speech synthesis unavailable")
			break
		}
		if err := caps.Register(capability.SpeechSynthesis, synth); err != nil {
			return nil, "", err
		}
		detail = append(detail, "espeak at "+synth.Path())
	}

	if len(cfg.SoundDirs) > 0 {
		if err := caps.Register(capability.Sound, sound.NewBeepPlayer(logger, cfg.SoundDirs...)); err != nil {
			return nil, "", err
		}
		detail = append(detail, "sounds from "+strings.Join(cfg.SoundDirs, ","))
	}

	return caps, strings.Join(detail, "; "), nil
}
