package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/almond/internal/observability"
)

// ErrUnavailable marks failures after which the conversation cannot be used
// again and must be reconstructed.
var ErrUnavailable = errors.New("dialogue agent unavailable")

// RDL is a rich deep link produced by the agent.
type RDL struct {
	Type         string `json:"type"`
	WebCallback  string `json:"webCallback"`
	Callback     string `json:"callback"`
	DisplayTitle string `json:"displayTitle"`
	DisplayText  string `json:"displayText"`
	PictureURL   string `json:"pictureUrl,omitempty"`
}

// Program announces a program the agent created for the user.
type Program struct {
	UniqueID    string `json:"uniqueId"`
	Description string `json:"name"`
	Code        string `json:"code"`
	Icon        string `json:"icon,omitempty"`
}

// Delegate receives the agent's output, one call per conversation message.
// An empty what in SendAskSpecial means the agent expects no answer.
type Delegate interface {
	SendText(ctx context.Context, text, icon string) error
	SendPicture(ctx context.Context, url, icon string) error
	SendChoice(ctx context.Context, idx int, what, title, text string) error
	SendLink(ctx context.Context, title, url string) error
	SendButton(ctx context.Context, title, json string) error
	SendAskSpecial(ctx context.Context, what string) error
	SendRDL(ctx context.Context, rdl RDL, icon string) error
	SendNewProgram(ctx context.Context, p Program) error
}

// Conversation is one live dialogue with the agent. Replies are delivered to
// the Delegate it was created with, possibly after the Handle call returns.
type Conversation interface {
	HandleCommand(ctx context.Context, text string) error
	HandleParsedCommand(ctx context.Context, json string) error
	HandleThingTalk(ctx context.Context, code string) error
	Close() error
}

// Factory constructs a conversation bound to d.
type Factory func(ctx context.Context, d Delegate) (Conversation, error)

// Config controls factory construction.
type Config struct {
	Mode            string
	URL             string
	DeveloperKey    string
	Locale          string
	Timezone        string
	OpenAIKey       string
	OpenAIModel     string
	OpenAIBaseURL   string
	HTTPClient      *http.Client
	WSDialer        *websocket.Dialer
	Timeout         time.Duration
	ConnectAttempts int
	Logger          *slog.Logger
}

func NewFactory(cfg Config) (Factory, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}
	logger := observability.OrDefault(cfg.Logger).With("component", "agent")

	switch mode {
	case "auto":
		return newAutoFactory(cfg, logger), nil
	case "websocket":
		if strings.TrimSpace(cfg.URL) == "" {
			return nil, errors.New("agent url is required for websocket mode")
		}
		return socketFactory(cfg, logger), nil
	case "http":
		if strings.TrimSpace(cfg.URL) == "" {
			return nil, errors.New("agent url is required for http mode")
		}
		return httpFactory(cfg, logger), nil
	case "openai":
		if strings.TrimSpace(cfg.OpenAIKey) == "" {
			return nil, errors.New("openai api key is required for openai mode")
		}
		return openAIFactory(cfg), nil
	case "mock":
		return mockFactory(), nil
	default:
		return nil, fmt.Errorf("unsupported agent mode %q", cfg.Mode)
	}
}

func newAutoFactory(cfg Config, logger *slog.Logger) Factory {
	var chain []NamedFactory
	if strings.TrimSpace(cfg.URL) != "" {
		chain = append(chain,
			NamedFactory{Name: "websocket", New: socketFactory(cfg, logger)},
			NamedFactory{Name: "http", New: httpFactory(cfg, logger)},
		)
	}
	if strings.TrimSpace(cfg.OpenAIKey) != "" {
		chain = append(chain, NamedFactory{Name: "openai", New: openAIFactory(cfg)})
	}
	chain = append(chain, NamedFactory{Name: "mock", New: mockFactory()})
	return Fallback(logger, chain...)
}

func mockFactory() Factory {
	return func(ctx context.Context, d Delegate) (Conversation, error) {
		return NewMockConversation(d), nil
	}
}
