package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/almond/internal/reliability"
)

const (
	socketWriteTimeout = 5 * time.Second
	socketPath         = "/me/api/conversation"
)

// SocketConversation speaks the Almond conversation protocol over a
// websocket. Replies arrive on a read loop and are delivered in order.
type SocketConversation struct {
	conn     *websocket.Conn
	delegate Delegate
	logger   *slog.Logger

	writeMu sync.Mutex

	done    chan struct{}
	errMu   sync.Mutex
	readErr error
	once    sync.Once
}

func socketFactory(cfg Config, logger *slog.Logger) Factory {
	return func(ctx context.Context, d Delegate) (Conversation, error) {
		return DialSocket(ctx, cfg, d, logger)
	}
}

// DialSocket connects to the agent, retrying transient failures with
// exponential backoff.
func DialSocket(ctx context.Context, cfg Config, d Delegate, logger *slog.Logger) (*SocketConversation, error) {
	target, err := socketURL(cfg.URL, cfg.Locale, cfg.Timezone)
	if err != nil {
		return nil, err
	}
	dialer := cfg.WSDialer
	if dialer == nil {
		dialer = &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: 10 * time.Second}
	}
	header := http.Header{}
	if key := strings.TrimSpace(cfg.DeveloperKey); key != "" {
		header.Set("Authorization", "Bearer "+key)
	}

	var conn *websocket.Conn
	err = reliability.Retry(ctx, cfg.ConnectAttempts, 250*time.Millisecond, 4*time.Second, func(ctx context.Context) error {
		c, resp, dialErr := dialer.DialContext(ctx, target, header)
		if dialErr != nil {
			if resp != nil && !reliability.IsRetryableHTTPStatus(resp.StatusCode) {
				return reliability.Permanent(fmt.Errorf("agent handshake status %d: %w", resp.StatusCode, dialErr))
			}
			return dialErr
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrUnavailable, target, err)
	}

	c := &SocketConversation{
		conn:     conn,
		delegate: d,
		logger:   logger.With("transport", "websocket"),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func socketURL(base, locale, timezone string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("invalid agent url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid agent url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + socketPath
	q := u.Query()
	if locale != "" {
		q.Set("locale", locale)
	}
	if timezone != "" {
		q.Set("timezone", timezone)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *SocketConversation) HandleCommand(ctx context.Context, text string) error {
	return c.write(ctx, commandFrame(text))
}

func (c *SocketConversation) HandleParsedCommand(ctx context.Context, json string) error {
	f, err := parsedFrame(json)
	if err != nil {
		return err
	}
	return c.write(ctx, f)
}

func (c *SocketConversation) HandleThingTalk(ctx context.Context, code string) error {
	return c.write(ctx, thingTalkFrame(code))
}

func (c *SocketConversation) Close() error {
	c.once.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
		_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
	<-c.done
	return nil
}

// Done is closed once the read loop exits.
func (c *SocketConversation) Done() <-chan struct{} {
	return c.done
}

func (c *SocketConversation) write(ctx context.Context, f outboundFrame) error {
	select {
	case <-c.done:
		return c.unavailable()
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", f.Type, err)
	}

	deadline := time.Now().Add(socketWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("%w: write %s frame: %v", ErrUnavailable, f.Type, err)
	}
	return nil
}

func (c *SocketConversation) readLoop() {
	defer close(c.done)
	ctx := context.Background()
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.errMu.Lock()
			c.readErr = err
			c.errMu.Unlock()
			if reliability.IsRetryableClose(err) {
				c.logger.Warn("agent connection dropped", "err", err)
			} else if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !errors.Is(err, net.ErrClosed) {
				c.logger.Debug("agent read loop ended", "err", err)
			}
			return
		}
		var f inboundFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			c.logger.Warn("invalid agent frame", "err", err)
			continue
		}
		if err := deliver(ctx, c.delegate, f); err != nil {
			c.logger.Warn("agent frame not delivered", "type", f.Type, "err", err)
		}
	}
}

func (c *SocketConversation) unavailable() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.readErr != nil {
		return fmt.Errorf("%w: connection lost: %v", ErrUnavailable, c.readErr)
	}
	return fmt.Errorf("%w: connection closed", ErrUnavailable)
}
