package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/almond/internal/reliability"
)

const conversePath = "/api/converse"

// HTTPConversation posts each input to the agent's converse endpoint and
// delivers the returned batch of messages before returning.
type HTTPConversation struct {
	url          string
	developerKey string
	locale       string
	timezone     string
	client       *http.Client
	delegate     Delegate
	logger       *slog.Logger

	mu             sync.Mutex
	conversationID string
	closed         bool
}

type converseRequest struct {
	Command        outboundFrame `json:"command"`
	ConversationID string        `json:"conversationId,omitempty"`
	Locale         string        `json:"locale,omitempty"`
	Timezone       string        `json:"timezone,omitempty"`
}

type converseResponse struct {
	ConversationID string         `json:"conversationId"`
	Messages       []inboundFrame `json:"messages"`
}

func httpFactory(cfg Config, logger *slog.Logger) Factory {
	return func(ctx context.Context, d Delegate) (Conversation, error) {
		return NewHTTPConversation(cfg, d, logger), nil
	}
}

func NewHTTPConversation(cfg Config, d Delegate, logger *slog.Logger) *HTTPConversation {
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPConversation{
		url:          strings.TrimRight(strings.TrimSpace(cfg.URL), "/") + conversePath,
		developerKey: strings.TrimSpace(cfg.DeveloperKey),
		locale:       cfg.Locale,
		timezone:     cfg.Timezone,
		client:       client,
		delegate:     d,
		logger:       logger.With("transport", "http"),
	}
}

func (c *HTTPConversation) HandleCommand(ctx context.Context, text string) error {
	return c.converse(ctx, commandFrame(text))
}

func (c *HTTPConversation) HandleParsedCommand(ctx context.Context, json string) error {
	f, err := parsedFrame(json)
	if err != nil {
		return err
	}
	return c.converse(ctx, f)
}

func (c *HTTPConversation) HandleThingTalk(ctx context.Context, code string) error {
	return c.converse(ctx, thingTalkFrame(code))
}

func (c *HTTPConversation) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *HTTPConversation) converse(ctx context.Context, f outboundFrame) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("%w: conversation closed", ErrUnavailable)
	}
	body := converseRequest{
		Command:        f,
		ConversationID: c.conversationID,
		Locale:         c.locale,
		Timezone:       c.timezone,
	}
	c.mu.Unlock()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.developerKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.developerKey)
	}

	res, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: send request: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		err := fmt.Errorf("agent http status %d: %s", res.StatusCode, strings.TrimSpace(string(detail)))
		if reliability.IsRetryableHTTPStatus(res.StatusCode) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return err
	}

	var out converseResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if out.ConversationID != "" {
		c.mu.Lock()
		c.conversationID = out.ConversationID
		c.mu.Unlock()
	}
	for _, msg := range out.Messages {
		if err := deliver(ctx, c.delegate, msg); err != nil {
			c.logger.Warn("agent message not delivered", "type", msg.Type, "err", err)
		}
	}
	return nil
}

// ConversationID returns the id assigned by the agent, if any.
func (c *HTTPConversation) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}
