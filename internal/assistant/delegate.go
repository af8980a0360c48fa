package assistant

import (
	"context"
	"strconv"

	"github.com/ent0n29/almond/internal/agent"
	"github.com/ent0n29/almond/internal/history"
)

var _ agent.Delegate = (*Dispatcher)(nil)

// deliver appends one assistant message and queues its spoken form.
func (d *Dispatcher) deliver(kind history.Kind, payload map[string]string, spoken string) error {
	if d.State() == StateStopped {
		return ErrSessionClosed
	}
	d.appendMessage(kind, history.FromAssistant, payload, spoken)
	return nil
}

func (d *Dispatcher) SendText(_ context.Context, text, icon string) error {
	return d.deliver(history.KindText, withIcon(map[string]string{
		history.KeyText: text,
	}, icon), text)
}

func (d *Dispatcher) SendPicture(_ context.Context, url, icon string) error {
	return d.deliver(history.KindPicture, withIcon(map[string]string{
		history.KeyPictureURL: url,
	}, icon), "")
}

// SendChoice shows one option of a multiple choice question. The agent's
// choice identifier and secondary text are not displayed.
func (d *Dispatcher) SendChoice(_ context.Context, idx int, _, title, _ string) error {
	return d.deliver(history.KindChoice, map[string]string{
		history.KeyChoiceIdx: strconv.Itoa(idx),
		history.KeyText:      title,
	}, title)
}

func (d *Dispatcher) SendLink(_ context.Context, title, url string) error {
	return d.deliver(history.KindLink, map[string]string{
		history.KeyText: title,
		history.KeyLink: url,
	}, "")
}

func (d *Dispatcher) SendButton(_ context.Context, title, json string) error {
	return d.deliver(history.KindButton, map[string]string{
		history.KeyText: title,
		history.KeyJSON: json,
	}, title)
}

// SendAskSpecial records what the assistant expects next. An empty what
// means no answer is expected and disarms voice auto-trigger; any other
// value re-arms it once pending speech has been spoken.
func (d *Dispatcher) SendAskSpecial(_ context.Context, what string) error {
	payload := map[string]string{}
	if what != "" {
		payload[history.KeyAskSpecialWhat] = what
	}
	if err := d.deliver(history.KindAskSpecial, payload, ""); err != nil {
		return err
	}
	d.voice.ExpectAnswer(what)
	return nil
}

func (d *Dispatcher) SendRDL(_ context.Context, rdl agent.RDL, icon string) error {
	callback := rdl.WebCallback
	if callback == "" {
		callback = rdl.Callback
	}
	payload := withIcon(map[string]string{
		history.KeyText:           rdl.DisplayTitle,
		history.KeyRDLDescription: rdl.DisplayText,
		history.KeyRDLCallback:    rdl.Callback,
		history.KeyLink:           callback,
	}, icon)
	if rdl.PictureURL != "" {
		payload[history.KeyPictureURL] = rdl.PictureURL
	}
	return d.deliver(history.KindRDL, payload, rdl.DisplayTitle)
}

func (d *Dispatcher) SendNewProgram(_ context.Context, p agent.Program) error {
	return d.deliver(history.KindNewProgram, withIcon(map[string]string{
		history.KeyProgramID: p.UniqueID,
		history.KeyText:      p.Description,
		history.KeyJSON:      p.Code,
	}, p.Icon), "")
}

func withIcon(payload map[string]string, icon string) map[string]string {
	if icon != "" {
		payload[history.KeyIcon] = icon
	}
	return payload
}
