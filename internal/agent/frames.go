package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Almond conversation protocol frame types.
const (
	frameText       = "text"
	framePicture    = "picture"
	frameChoice     = "choice"
	frameLink       = "link"
	frameButton     = "button"
	frameAskSpecial = "askSpecial"
	frameRDL        = "rdl"
	frameNewProgram = "new-program"
	frameError      = "error"
	frameCommand    = "command"
	frameParsed     = "parsed"
	frameThingTalk  = "tt"
)

// ErrorIcon is attached to text messages that relay agent errors.
const ErrorIcon = "dialog-error"

var errUnknownFrame = errors.New("unknown frame type")

// inboundFrame is one message sent by the agent.
type inboundFrame struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	Icon  string          `json:"icon,omitempty"`
	URL   string          `json:"url,omitempty"`
	Idx   int             `json:"idx,omitempty"`
	What  string          `json:"what,omitempty"`
	Title string          `json:"title,omitempty"`
	JSON  json.RawMessage `json:"json,omitempty"`
	Ask   *string         `json:"ask,omitempty"`
	RDL   *RDL            `json:"rdl,omitempty"`
	Error string          `json:"error,omitempty"`

	UniqueID string `json:"uniqueId,omitempty"`
	Name     string `json:"name,omitempty"`
	Code     string `json:"code,omitempty"`
}

// outboundFrame is one user input sent to the agent.
type outboundFrame struct {
	Type string          `json:"type"`
	Text string          `json:"text,omitempty"`
	JSON json.RawMessage `json:"json,omitempty"`
	Code string          `json:"code,omitempty"`
}

func commandFrame(text string) outboundFrame {
	return outboundFrame{Type: frameCommand, Text: text}
}

func parsedFrame(raw string) (outboundFrame, error) {
	if !json.Valid([]byte(raw)) {
		return outboundFrame{}, errors.New("parsed command is not valid json")
	}
	return outboundFrame{Type: frameParsed, JSON: json.RawMessage(raw)}, nil
}

func thingTalkFrame(code string) outboundFrame {
	return outboundFrame{Type: frameThingTalk, Code: code}
}

// deliver hands one inbound frame to d. Echoes of the user's own input are
// ignored.
func deliver(ctx context.Context, d Delegate, f inboundFrame) error {
	switch f.Type {
	case frameText:
		return d.SendText(ctx, f.Text, f.Icon)
	case framePicture:
		return d.SendPicture(ctx, f.URL, f.Icon)
	case frameChoice:
		return d.SendChoice(ctx, f.Idx, f.What, f.Title, f.Text)
	case frameLink:
		return d.SendLink(ctx, f.Title, f.URL)
	case frameButton:
		return d.SendButton(ctx, f.Title, rawJSONText(f.JSON))
	case frameAskSpecial:
		what := ""
		if f.Ask != nil {
			what = *f.Ask
		}
		return d.SendAskSpecial(ctx, what)
	case frameRDL:
		if f.RDL == nil {
			return fmt.Errorf("rdl frame without rdl payload")
		}
		return d.SendRDL(ctx, *f.RDL, f.Icon)
	case frameNewProgram:
		return d.SendNewProgram(ctx, Program{
			UniqueID:    f.UniqueID,
			Description: f.Name,
			Code:        f.Code,
			Icon:        f.Icon,
		})
	case frameError:
		return d.SendText(ctx, f.Error, ErrorIcon)
	case frameCommand, frameParsed, frameThingTalk:
		return nil
	default:
		return fmt.Errorf("%w: %q", errUnknownFrame, f.Type)
	}
}

// rawJSONText unwraps a JSON string literal and returns other JSON verbatim.
func rawJSONText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}
