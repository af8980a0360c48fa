package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/almond/internal/events"
	"github.com/ent0n29/almond/internal/history"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeStop                MessageType = "stop"
	TypeGetHistory          MessageType = "get_history"
	TypeHandleCommand       MessageType = "handle_command"
	TypeHandleThingTalk     MessageType = "handle_thingtalk"
	TypeHandleParsedCommand MessageType = "handle_parsed_command"
	TypeGetPreference       MessageType = "get_preference"
	TypeSetPreference       MessageType = "set_preference"

	TypeCallResult        MessageType = "call_result"
	TypeNewMessage        MessageType = MessageType(events.TypeNewMessage)
	TypeRemoveMessage     MessageType = MessageType(events.TypeRemoveMessage)
	TypeActivate          MessageType = MessageType(events.TypeActivate)
	TypeVoiceHypothesis   MessageType = MessageType(events.TypeVoiceHypothesis)
	TypePreferenceChanged MessageType = MessageType(events.TypePreferenceChanged)
)

var (
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrInvalidMessage  = errors.New("invalid message")
)

type Envelope struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
}

// WireMessage is the transport form of a history entry. Interactive marks
// entries that still await the user's answer.
type WireMessage struct {
	ID          uint32            `json:"id"`
	Kind        uint32            `json:"kind"`
	Direction   uint32            `json:"direction"`
	Payload     map[string]string `json:"payload"`
	Interactive bool              `json:"interactive"`
}

func FromHistory(m history.Message) WireMessage {
	payload := make(map[string]string, len(m.Payload))
	for k, v := range m.Payload {
		payload[k] = v
	}
	return WireMessage{
		ID:          m.ID,
		Kind:        uint32(m.Kind),
		Direction:   uint32(m.Direction),
		Payload:     payload,
		Interactive: m.Interactive(),
	}
}

func FromHistoryList(msgs []history.Message) []WireMessage {
	out := make([]WireMessage, len(msgs))
	for i, m := range msgs {
		out[i] = FromHistory(m)
	}
	return out
}

func (w WireMessage) ToHistory() (history.Message, error) {
	if w.ID == history.PendingID {
		return history.Message{}, fmt.Errorf("%w: unassigned id", ErrInvalidMessage)
	}
	kind := history.Kind(w.Kind)
	if !kind.Valid() {
		return history.Message{}, fmt.Errorf("%w: kind %d", ErrInvalidMessage, w.Kind)
	}
	dir := history.Direction(w.Direction)
	if dir != history.FromAssistant && dir != history.FromUser {
		return history.Message{}, fmt.Errorf("%w: direction %d", ErrInvalidMessage, w.Direction)
	}
	return history.Message{ID: w.ID, Kind: kind, Direction: dir, Payload: w.Payload}, nil
}

type StopRequest struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
}

type GetHistoryRequest struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
}

type HandleCommandRequest struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Text      string      `json:"text"`
}

type HandleThingTalkRequest struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Code      string      `json:"code"`
}

type HandleParsedCommandRequest struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Title     string      `json:"title"`
	JSON      string      `json:"json"`
}

type GetPreferenceRequest struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Key       string      `json:"key"`
}

type SetPreferenceRequest struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Key       string      `json:"key"`
	Value     Value       `json:"value"`
}

type ErrorBody struct {
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

type CallResult struct {
	Type      MessageType   `json:"type"`
	RequestID string        `json:"request_id,omitempty"`
	OK        bool          `json:"ok"`
	Error     *ErrorBody    `json:"error,omitempty"`
	History   []WireMessage `json:"history,omitempty"`
	Value     *Value        `json:"value,omitempty"`
}

type NewMessageEvent struct {
	Type    MessageType `json:"type"`
	Seq     uint64      `json:"seq"`
	Message WireMessage `json:"message"`
}

type RemoveMessageEvent struct {
	Type MessageType `json:"type"`
	Seq  uint64      `json:"seq"`
	ID   uint32      `json:"id"`
}

type ActivateEvent struct {
	Type MessageType `json:"type"`
	Seq  uint64      `json:"seq"`
}

type VoiceHypothesisEvent struct {
	Type MessageType `json:"type"`
	Seq  uint64      `json:"seq"`
	Text string      `json:"text"`
}

type PreferenceChangedEvent struct {
	Type MessageType `json:"type"`
	Seq  uint64      `json:"seq"`
	Key  string      `json:"key"`
}

// request is implemented by every client call variant.
type request interface {
	validate() error
}

func (StopRequest) validate() error       { return nil }
func (GetHistoryRequest) validate() error { return nil }

func (r HandleCommandRequest) validate() error { return nil }

func (r HandleThingTalkRequest) validate() error { return nil }

func (r HandleParsedCommandRequest) validate() error {
	if strings.TrimSpace(r.JSON) == "" {
		return errors.New("json is required")
	}
	return nil
}

func (r GetPreferenceRequest) validate() error {
	if r.Key == "" {
		return errors.New("key is required")
	}
	return nil
}

func (r SetPreferenceRequest) validate() error {
	if r.Key == "" {
		return errors.New("key is required")
	}
	return r.Value.Validate()
}

var clientSchema = map[MessageType]func(raw []byte) (request, error){
	TypeStop:                decodeAs[StopRequest],
	TypeGetHistory:          decodeAs[GetHistoryRequest],
	TypeHandleCommand:       decodeAs[HandleCommandRequest],
	TypeHandleThingTalk:     decodeAs[HandleThingTalkRequest],
	TypeHandleParsedCommand: decodeAs[HandleParsedCommandRequest],
	TypeGetPreference:       decodeAs[GetPreferenceRequest],
	TypeSetPreference:       decodeAs[SetPreferenceRequest],
}

var serverSchema = map[MessageType]func(raw []byte) (any, error){
	TypeCallResult:        decodeAny[CallResult],
	TypeNewMessage:        decodeAny[NewMessageEvent],
	TypeRemoveMessage:     decodeAny[RemoveMessageEvent],
	TypeActivate:          decodeAny[ActivateEvent],
	TypeVoiceHypothesis:   decodeAny[VoiceHypothesisEvent],
	TypePreferenceChanged: decodeAny[PreferenceChangedEvent],
}

func decodeAs[T request](raw []byte) (request, error) {
	var msg T
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func decodeAny[T any](raw []byte) (any, error) {
	var msg T
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// ParseClientMessage decodes one method call sent by a control client.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	decode, ok := clientSchema[env.Type]
	if !ok {
		return nil, ErrUnsupportedType
	}
	msg, err := decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMessage, env.Type, err)
	}
	if err := msg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMessage, env.Type, err)
	}
	return msg, nil
}

// ParseServerMessage decodes one call result or event sent by the service.
func ParseServerMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	decode, ok := serverSchema[env.Type]
	if !ok {
		return nil, ErrUnsupportedType
	}
	msg, err := decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMessage, env.Type, err)
	}
	return msg, nil
}

// EncodeEvent maps a bus event to its wire variant.
func EncodeEvent(evt events.Event) (any, error) {
	switch evt.Type {
	case events.TypeNewMessage:
		return NewMessageEvent{Type: TypeNewMessage, Seq: evt.Seq, Message: FromHistory(evt.Message)}, nil
	case events.TypeRemoveMessage:
		return RemoveMessageEvent{Type: TypeRemoveMessage, Seq: evt.Seq, ID: evt.MessageID}, nil
	case events.TypeActivate:
		return ActivateEvent{Type: TypeActivate, Seq: evt.Seq}, nil
	case events.TypeVoiceHypothesis:
		return VoiceHypothesisEvent{Type: TypeVoiceHypothesis, Seq: evt.Seq, Text: evt.Text}, nil
	case events.TypePreferenceChanged:
		return PreferenceChangedEvent{Type: TypePreferenceChanged, Seq: evt.Seq, Key: evt.Key}, nil
	default:
		return nil, fmt.Errorf("%w: event %q", ErrUnsupportedType, evt.Type)
	}
}
