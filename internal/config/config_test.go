package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTPAddr != ":8090" {
		t.Fatalf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8090")
	}
	if cfg.AgentMode != "auto" {
		t.Fatalf("AgentMode = %q, want auto", cfg.AgentMode)
	}
	if cfg.HistoryLimit != 30 || cfg.EventBuffer != 256 || cfg.AgentConnectAttempts != 3 {
		t.Fatalf("numeric defaults = %+v", cfg)
	}
	if cfg.AgentTimeout != 30*time.Second || cfg.ShutdownTimeout != 5*time.Second {
		t.Fatalf("durations = %v %v", cfg.AgentTimeout, cfg.ShutdownTimeout)
	}
	if !cfg.AuditRedactPII {
		t.Fatalf("AuditRedactPII should default to true")
	}
	if cfg.DBus != "session" || cfg.TTS != "auto" || cfg.Locale != "en-US" {
		t.Fatalf("string defaults = %+v", cfg)
	}
	if !strings.HasSuffix(cfg.PrefsPath, "prefs.yaml") {
		t.Fatalf("PrefsPath = %q", cfg.PrefsPath)
	}
}

func TestLoadOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("ALMOND_AGENT_MODE", "WebSocket")
	t.Setenv("ALMOND_AGENT_URL", "wss://almond.example/me/api")
	t.Setenv("ALMOND_HISTORY_LIMIT", "10")
	t.Setenv("ALMOND_AUDIT_REDACT_PII", "off")
	t.Setenv("ALMOND_AGENT_TIMEOUT", "2s")
	t.Setenv("ALMOND_DBUS", "off")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AgentMode != "websocket" || cfg.AgentURL != "wss://almond.example/me/api" {
		t.Fatalf("agent = %q %q", cfg.AgentMode, cfg.AgentURL)
	}
	if cfg.HistoryLimit != 10 || cfg.AuditRedactPII || cfg.AgentTimeout != 2*time.Second || cfg.DBus != "off" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]map[string]string{
		"bad mode":          {"ALMOND_AGENT_MODE": "carrier-pigeon"},
		"websocket no url":  {"ALMOND_AGENT_MODE": "websocket"},
		"openai no key":     {"ALMOND_AGENT_MODE": "openai"},
		"bad history limit": {"ALMOND_HISTORY_LIMIT": "0"},
		"unparsable int":    {"ALMOND_EVENT_BUFFER": "many"},
		"unparsable bool":   {"ALMOND_AUDIT_REDACT_PII": "maybe"},
		"bad duration":      {"ALMOND_SHUTDOWN_TIMEOUT": "soon"},
		"bad dbus":          {"ALMOND_DBUS": "system"},
		"bad tts":           {"ALMOND_TTS": "festival"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			setCoreEnvEmpty(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatalf("Load() error = nil, want error")
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"ALMOND_HTTP_ADDR",
		"ALMOND_LOG_LEVEL",
		"ALMOND_AGENT_MODE",
		"ALMOND_AGENT_URL",
		"ALMOND_DEVELOPER_KEY",
		"ALMOND_LOCALE",
		"ALMOND_TIMEZONE",
		"OPENAI_API_KEY",
		"ALMOND_OPENAI_MODEL",
		"ALMOND_OPENAI_BASE_URL",
		"ALMOND_SOCKS_PROXY",
		"ALMOND_PREFS_PATH",
		"ALMOND_DATABASE_URL",
		"ALMOND_DBUS",
		"ALMOND_TTS",
		"ALMOND_ESPEAK_PATH",
		"ALMOND_ACTIVATE_SOUND",
		"ALMOND_SOUND_DIRS",
		"ALMOND_METRICS_NAMESPACE",
		"ALMOND_AGENT_TIMEOUT",
		"ALMOND_SHUTDOWN_TIMEOUT",
		"ALMOND_AGENT_CONNECT_ATTEMPTS",
		"ALMOND_HISTORY_LIMIT",
		"ALMOND_EVENT_BUFFER",
		"ALMOND_AUDIT_REDACT_PII",
		"ALMOND_ALLOW_ANY_ORIGIN",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}
