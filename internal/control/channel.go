package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ent0n29/almond/internal/assistant"
	"github.com/ent0n29/almond/internal/events"
	"github.com/ent0n29/almond/internal/history"
	"github.com/ent0n29/almond/internal/observability"
	"github.com/ent0n29/almond/internal/prefs"
	"github.com/ent0n29/almond/internal/protocol"
)

// Stable error codes shared by every transport.
const (
	CodeSessionClosed    = "session_closed"
	CodeAgentUnavailable = "agent_unavailable"
	CodeMalformedCommand = "malformed_command"
	CodeInvalidRequest   = "invalid_request"
	CodeInternal         = "internal"
)

var ErrInvalidRequest = errors.New("invalid request")

// Dispatcher is the session side the channel exposes.
type Dispatcher interface {
	GetHistory(ctx context.Context) []history.Message
	HandleCommand(ctx context.Context, text string) error
	HandleThingTalk(ctx context.Context, code string) error
	HandleParsedCommand(ctx context.Context, title, json string) error
	Subscribe() (<-chan events.Event, func())
	LastEventSeq() uint64
}

// Channel translates control calls into dispatcher and preference operations.
// It carries no conversation logic of its own.
type Channel struct {
	dispatcher Dispatcher
	prefs      prefs.Store
	stop       func()
	logger     *slog.Logger
}

func New(d Dispatcher, store prefs.Store, stop func(), logger *slog.Logger) *Channel {
	if stop == nil {
		stop = func() {}
	}
	return &Channel{
		dispatcher: d,
		prefs:      store,
		stop:       stop,
		logger:     observability.OrDefault(logger).With("component", "control"),
	}
}

func (c *Channel) Stop() {
	c.logger.Info("stop requested")
	c.stop()
}

func (c *Channel) GetHistory(ctx context.Context) []protocol.WireMessage {
	return protocol.FromHistoryList(c.dispatcher.GetHistory(ctx))
}

func (c *Channel) HandleCommand(ctx context.Context, text string) error {
	return c.dispatcher.HandleCommand(ctx, text)
}

func (c *Channel) HandleThingTalk(ctx context.Context, code string) error {
	return c.dispatcher.HandleThingTalk(ctx, code)
}

func (c *Channel) HandleParsedCommand(ctx context.Context, title, json string) error {
	return c.dispatcher.HandleParsedCommand(ctx, title, json)
}

// GetPreference returns the stored value, or an empty string when unset.
func (c *Channel) GetPreference(key string) (protocol.Value, error) {
	if strings.TrimSpace(key) == "" {
		return protocol.Value{}, fmt.Errorf("%w: key is required", ErrInvalidRequest)
	}
	v, ok := c.prefs.Get(key)
	if !ok {
		return protocol.StringValue(""), nil
	}
	return protocol.ValueOf(v)
}

func (c *Channel) SetPreference(key string, value protocol.Value) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: key is required", ErrInvalidRequest)
	}
	if err := value.Validate(); err != nil {
		return err
	}
	return c.prefs.Set(key, value.Interface())
}

func (c *Channel) Subscribe() (<-chan events.Event, func()) {
	return c.dispatcher.Subscribe()
}

// LastEventSeq lets transports order call results after the events the
// call produced.
func (c *Channel) LastEventSeq() uint64 {
	return c.dispatcher.LastEventSeq()
}

// Call executes one decoded client request and reports its outcome.
func (c *Channel) Call(ctx context.Context, req any) protocol.CallResult {
	var (
		requestID string
		result    protocol.CallResult
		err       error
	)
	switch r := req.(type) {
	case protocol.StopRequest:
		requestID = r.RequestID
		c.Stop()
	case protocol.GetHistoryRequest:
		requestID = r.RequestID
		result.History = c.GetHistory(ctx)
		if result.History == nil {
			result.History = []protocol.WireMessage{}
		}
	case protocol.HandleCommandRequest:
		requestID = r.RequestID
		err = c.HandleCommand(ctx, r.Text)
	case protocol.HandleThingTalkRequest:
		requestID = r.RequestID
		err = c.HandleThingTalk(ctx, r.Code)
	case protocol.HandleParsedCommandRequest:
		requestID = r.RequestID
		err = c.HandleParsedCommand(ctx, r.Title, r.JSON)
	case protocol.GetPreferenceRequest:
		requestID = r.RequestID
		var v protocol.Value
		v, err = c.GetPreference(r.Key)
		if err == nil {
			result.Value = &v
		}
	case protocol.SetPreferenceRequest:
		requestID = r.RequestID
		err = c.SetPreference(r.Key, r.Value)
	default:
		err = fmt.Errorf("%w: unsupported call %T", ErrInvalidRequest, req)
	}

	result.Type = protocol.TypeCallResult
	result.RequestID = requestID
	if err != nil {
		code := Code(err)
		if code == CodeInternal {
			c.logger.Error("control call failed", "request_id", requestID, "err", err)
		}
		result.Error = &protocol.ErrorBody{Code: code, Detail: err.Error()}
		result.History = nil
		result.Value = nil
		return result
	}
	result.OK = true
	return result
}

// Code maps an error to its stable transport code.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, assistant.ErrSessionClosed):
		return CodeSessionClosed
	case errors.Is(err, assistant.ErrAgentUnavailable):
		return CodeAgentUnavailable
	case errors.Is(err, assistant.ErrMalformedCommand):
		return CodeMalformedCommand
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, protocol.ErrInvalidMessage),
		errors.Is(err, protocol.ErrUnsupportedType),
		errors.Is(err, protocol.ErrInvalidValue),
		errors.Is(err, prefs.ErrUnsupportedValue):
		return CodeInvalidRequest
	default:
		return CodeInternal
	}
}

// HTTPStatus maps a transport code to an HTTP status.
func HTTPStatus(code string) int {
	switch code {
	case "":
		return http.StatusOK
	case CodeSessionClosed:
		return http.StatusConflict
	case CodeAgentUnavailable:
		return http.StatusServiceUnavailable
	case CodeMalformedCommand, CodeInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
