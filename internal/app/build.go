package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ent0n29/almond/internal/agent"
	"github.com/ent0n29/almond/internal/assistant"
	"github.com/ent0n29/almond/internal/capability"
	"github.com/ent0n29/almond/internal/config"
	"github.com/ent0n29/almond/internal/control"
	"github.com/ent0n29/almond/internal/events"
	"github.com/ent0n29/almond/internal/httpapi"
	"github.com/ent0n29/almond/internal/memory"
	"github.com/ent0n29/almond/internal/observability"
	"github.com/ent0n29/almond/internal/prefs"
	"github.com/ent0n29/almond/internal/proxy"
	"github.com/ent0n29/almond/internal/session"
	"github.com/ent0n29/almond/internal/voice"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Session      *session.Session
	Dispatcher   *assistant.Dispatcher
	Channel      *control.Channel
	Gate         *voice.Gate
	Capabilities *capability.Registry
	Prefs        *prefs.FileStore
	Metrics      *observability.Metrics
	VoiceDetail  string

	// Cleanup should be called on shutdown to release external resources (DB, event bus).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	logger = observability.OrDefault(logger)
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	bus := events.NewBus(cfg.EventBuffer)
	bus.SetDropHook(func(subscriberID int) {
		metrics.ObserveSubscriberDropped()
		logger.Warn("event subscriber disconnected for falling behind", "subscriber", subscriberID)
	})

	store, err := prefs.Open(cfg.PrefsPath)
	if err != nil {
		return nil, fmt.Errorf("preferences init failed: %w", err)
	}

	audit, err := memory.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("audit store init failed: %w", err)
	}

	factory, err := newAgentFactory(cfg, logger)
	if err != nil {
		_ = audit.Close()
		return nil, fmt.Errorf("agent init failed: %w", err)
	}

	caps, voiceDetail, err := resolveCapabilities(cfg, logger)
	if err != nil {
		_ = audit.Close()
		return nil, err
	}

	gate := voice.NewGate(voice.GateConfig{
		Prefs:         store,
		Synthesizer:   caps.Synthesizer(),
		Recognizer:    caps.Recognizer(),
		Detector:      caps.WakeWord(),
		Sound:         caps.Sound(),
		ActivateSound: cfg.ActivateSound,
		Logger:        logger,
		Metrics:       metrics,
	})

	sessionID := uuid.NewString()
	dispatcher, err := assistant.New(assistant.Config{
		SessionID:    sessionID,
		HistoryLimit: cfg.HistoryLimit,
		Bus:          bus,
		Voice:        gate,
		Agent:        factory,
		Audit:        audit,
		RedactPII:    cfg.AuditRedactPII,
		Logger:       logger,
		Metrics:      metrics,
	})
	if err != nil {
		_ = audit.Close()
		return nil, fmt.Errorf("dispatcher init failed: %w", err)
	}
	gate.Attach(dispatcher, dispatcher)

	sess := session.New(session.Config{
		ID:              sessionID,
		Dispatcher:      dispatcher,
		Voice:           gate,
		Prefs:           store,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger,
	})

	channel := control.New(dispatcher, store, sess.Stop, logger)

	api := httpapi.New(channel, httpapi.Config{
		AllowAnyOrigin: cfg.AllowAnyOrigin,
		Audit:          audit,
		SessionID:      sessionID,
		Metrics:        metrics,
		Logger:         logger,
		Status: func() httpapi.Status {
			return httpapi.Status{
				SessionID:    sessionID,
				Session:      string(sess.Status()),
				Dispatcher:   dispatcher.State().String(),
				AgentMode:    cfg.AgentMode,
				Capabilities: caps.Available(),
				Voice:        gate.State(),
				Extra: map[string]any{
					"voice_detail":      voiceDetail,
					"event_subscribers": bus.Subscribers(),
				},
			}
		},
	})

	cleanup := func() error {
		var errs []string
		bus.Close()
		if err := audit.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Session:      sess,
		Dispatcher:   dispatcher,
		Channel:      channel,
		Gate:         gate,
		Capabilities: caps,
		Prefs:        store,
		Metrics:      metrics,
		VoiceDetail:  voiceDetail,
		Cleanup:      cleanup,
	}, nil
}

func newAgentFactory(cfg config.Config, logger *slog.Logger) (agent.Factory, error) {
	acfg := agent.Config{
		Mode:            cfg.AgentMode,
		URL:             cfg.AgentURL,
		DeveloperKey:    cfg.DeveloperKey,
		Locale:          cfg.Locale,
		Timezone:        cfg.Timezone,
		OpenAIKey:       cfg.OpenAIKey,
		OpenAIModel:     cfg.OpenAIModel,
		OpenAIBaseURL:   cfg.OpenAIBaseURL,
		Timeout:         cfg.AgentTimeout,
		ConnectAttempts: cfg.AgentConnectAttempts,
		Logger:          logger,
	}
	if cfg.SocksProxy != "" {
		client, err := proxy.NewHTTPClient(cfg.SocksProxy, cfg.AgentTimeout)
		if err != nil {
			return nil, err
		}
		dialer, err := proxy.NewWebsocketDialer(cfg.SocksProxy, cfg.AgentTimeout)
		if err != nil {
			return nil, err
		}
		acfg.HTTPClient = client
		acfg.WSDialer = dialer
	} else {
		acfg.HTTPClient = &http.Client{Timeout: cfg.AgentTimeout}
	}
	return agent.NewFactory(acfg)
}
