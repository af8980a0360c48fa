package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the assistant service.
type Config struct {
	HTTPAddr        string
	AllowAnyOrigin  bool
	ShutdownTimeout time.Duration
	LogLevel        string

	AgentMode            string
	AgentURL             string
	DeveloperKey         string
	Locale               string
	Timezone             string
	AgentTimeout         time.Duration
	AgentConnectAttempts int
	OpenAIKey            string
	OpenAIModel          string
	OpenAIBaseURL        string
	SocksProxy           string

	HistoryLimit int
	EventBuffer  int
	PrefsPath    string

	DatabaseURL    string
	AuditRedactPII bool

	DBus          string
	TTS           string
	ESpeakPath    string
	ActivateSound string
	SoundDirs     []string

	MetricsNamespace string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:         envOrDefault("ALMOND_HTTP_ADDR", ":8090"),
		LogLevel:         envOrDefault("ALMOND_LOG_LEVEL", "info"),
		AgentMode:        strings.ToLower(envOrDefault("ALMOND_AGENT_MODE", "auto")),
		AgentURL:         stringsTrimSpace("ALMOND_AGENT_URL"),
		DeveloperKey:     stringsTrimSpace("ALMOND_DEVELOPER_KEY"),
		Locale:           envOrDefault("ALMOND_LOCALE", "en-US"),
		Timezone:         envOrDefault("ALMOND_TIMEZONE", time.Local.String()),
		OpenAIKey:        stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIModel:      envOrDefault("ALMOND_OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:    stringsTrimSpace("ALMOND_OPENAI_BASE_URL"),
		SocksProxy:       stringsTrimSpace("ALMOND_SOCKS_PROXY"),
		PrefsPath:        envOrDefault("ALMOND_PREFS_PATH", defaultPrefsPath()),
		DatabaseURL:      stringsTrimSpace("ALMOND_DATABASE_URL"),
		DBus:             strings.ToLower(envOrDefault("ALMOND_DBUS", "session")),
		TTS:              strings.ToLower(envOrDefault("ALMOND_TTS", "auto")),
		ESpeakPath:       stringsTrimSpace("ALMOND_ESPEAK_PATH"),
		ActivateSound:    envOrDefault("ALMOND_ACTIVATE_SOUND", "message-new-instant"),
		SoundDirs:        splitList(envOrDefault("ALMOND_SOUND_DIRS", "/usr/share/sounds/freedesktop/stereo")),
		MetricsNamespace: envOrDefault("ALMOND_METRICS_NAMESPACE", "almond"),

		AgentTimeout:         30 * time.Second,
		AgentConnectAttempts: 3,
		HistoryLimit:         30,
		EventBuffer:          256,
		AuditRedactPII:       true,
		ShutdownTimeout:      5 * time.Second,
	}

	var err error
	cfg.AgentTimeout, err = durationFromEnv("ALMOND_AGENT_TIMEOUT", cfg.AgentTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ShutdownTimeout, err = durationFromEnv("ALMOND_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AgentConnectAttempts, err = intFromEnv("ALMOND_AGENT_CONNECT_ATTEMPTS", cfg.AgentConnectAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryLimit, err = intFromEnv("ALMOND_HISTORY_LIMIT", cfg.HistoryLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.EventBuffer, err = intFromEnv("ALMOND_EVENT_BUFFER", cfg.EventBuffer)
	if err != nil {
		return Config{}, err
	}
	cfg.AuditRedactPII, err = boolFromEnv("ALMOND_AUDIT_REDACT_PII", cfg.AuditRedactPII)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("ALMOND_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that flags may have overridden after Load.
func (c Config) Validate() error {
	switch c.AgentMode {
	case "auto", "websocket", "http", "openai", "mock":
	default:
		return fmt.Errorf("ALMOND_AGENT_MODE must be one of auto|websocket|http|openai|mock, got %q", c.AgentMode)
	}
	if (c.AgentMode == "websocket" || c.AgentMode == "http") && c.AgentURL == "" {
		return fmt.Errorf("ALMOND_AGENT_URL is required for agent mode %q", c.AgentMode)
	}
	if c.AgentMode == "openai" && c.OpenAIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required for agent mode openai")
	}
	switch c.DBus {
	case "session", "off":
	default:
		return fmt.Errorf("ALMOND_DBUS must be session or off, got %q", c.DBus)
	}
	switch c.TTS {
	case "auto", "espeak", "none":
	default:
		return fmt.Errorf("ALMOND_TTS must be one of auto|espeak|none, got %q", c.TTS)
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("ALMOND_HISTORY_LIMIT must be positive")
	}
	if c.EventBuffer <= 0 {
		return fmt.Errorf("ALMOND_EVENT_BUFFER must be positive")
	}
	if c.AgentConnectAttempts <= 0 {
		return fmt.Errorf("ALMOND_AGENT_CONNECT_ATTEMPTS must be positive")
	}
	if c.AgentTimeout <= 0 {
		return fmt.Errorf("ALMOND_AGENT_TIMEOUT must be positive")
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("ALMOND_SHUTDOWN_TIMEOUT must be >= 0")
	}
	return nil
}

func defaultPrefsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "almond", "prefs.yaml")
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, string(os.PathListSeparator)) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
