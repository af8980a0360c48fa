package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/almond/internal/history"
	"github.com/ent0n29/almond/internal/protocol"
)

// client talks to a running almond-service over its HTTP API.
type client struct {
	base string
	http *http.Client
}

func newClient(base string, timeout time.Duration) *client {
	return &client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

type apiError struct {
	Status int
	Code   string `json:"code"`
	Msg    string `json:"error"`
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("http %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		apiErr := &apiError{Status: res.StatusCode}
		_ = json.NewDecoder(res.Body).Decode(apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func (c *client) History(ctx context.Context) ([]protocol.WireMessage, error) {
	var out struct {
		History []protocol.WireMessage `json:"history"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/history", nil, &out); err != nil {
		return nil, err
	}
	return out.History, nil
}

func (c *client) Command(ctx context.Context, text string) error {
	return c.do(ctx, http.MethodPost, "/v1/commands", map[string]string{"text": text}, nil)
}

func (c *client) ThingTalk(ctx context.Context, code string) error {
	return c.do(ctx, http.MethodPost, "/v1/thingtalk", map[string]string{"code": code}, nil)
}

func (c *client) ParsedCommand(ctx context.Context, title, command string) error {
	return c.do(ctx, http.MethodPost, "/v1/parsed-commands", map[string]string{"title": title, "json": command}, nil)
}

func (c *client) GetPreference(ctx context.Context, key string) (protocol.Value, error) {
	var out struct {
		Value protocol.Value `json:"value"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/preferences/"+url.PathEscape(key), nil, &out); err != nil {
		return protocol.Value{}, err
	}
	return out.Value, nil
}

func (c *client) SetPreference(ctx context.Context, key string, v protocol.Value) error {
	return c.do(ctx, http.MethodPut, "/v1/preferences/"+url.PathEscape(key), v, nil)
}

func (c *client) Stop(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/stop", nil, nil)
}

// Events streams server events until ctx ends or the connection closes.
func (c *client) Events(ctx context.Context, fn func(any)) error {
	wsURL := "ws" + strings.TrimPrefix(c.base, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		msg, err := protocol.ParseServerMessage(data)
		if err != nil {
			continue
		}
		fn(msg)
	}
}

// parseValue reads a preference value from the command line. Plain words
// become strings; JSON literals keep their type.
func parseValue(raw string) (protocol.Value, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return protocol.StringValue(raw), nil
	}
	if f, ok := v.(float64); ok && f == float64(int64(f)) && !strings.ContainsAny(raw, ".eE") {
		return protocol.IntValue(int64(f)), nil
	}
	return protocol.ValueOf(v)
}

func formatMessage(m protocol.WireMessage) string {
	who := "almond"
	if history.Direction(m.Direction) == history.FromUser {
		who = "you"
	}
	keys := []string{
		history.KeyText,
		history.KeyPictureURL,
		history.KeyLink,
		history.KeyRDLDescription,
		history.KeyAskSpecialWhat,
		history.KeyProgramID,
	}
	var parts []string
	for _, k := range keys {
		if v, ok := m.Payload[k]; ok && v != "" {
			parts = append(parts, v)
		}
	}
	line := fmt.Sprintf("#%d %-6s [%s] %s", m.ID, who, history.Kind(m.Kind), strings.Join(parts, " | "))
	if m.Interactive {
		line += " (awaiting answer)"
	}
	return line
}
