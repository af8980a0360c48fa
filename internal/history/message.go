package history

import "fmt"

// Kind identifies what a Message renders as. Values are stable on the wire.
type Kind uint32

const (
	KindText Kind = iota
	KindPicture
	KindChoice
	KindLink
	KindButton
	KindAskSpecial
	KindRDL
	KindNewProgram
)

var kindNames = [...]string{
	KindText:       "text",
	KindPicture:    "picture",
	KindChoice:     "choice",
	KindLink:       "link",
	KindButton:     "button",
	KindAskSpecial: "ask_special",
	KindRDL:        "rdl",
	KindNewProgram: "new_program",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint32(k))
}

func (k Kind) Valid() bool {
	return k <= KindNewProgram
}

// Prompt reports whether entries of this kind are pending interactive
// prompts that new input supersedes.
func (k Kind) Prompt() bool {
	switch k {
	case KindChoice, KindButton, KindAskSpecial:
		return true
	default:
		return false
	}
}

type Direction uint32

const (
	FromAssistant Direction = 0
	FromUser      Direction = 1
)

func (d Direction) String() string {
	switch d {
	case FromAssistant:
		return "assistant"
	case FromUser:
		return "user"
	default:
		return fmt.Sprintf("direction(%d)", uint32(d))
	}
}

// Payload keys.
const (
	KeyText           = "text"
	KeyIcon           = "icon"
	KeyPictureURL     = "picture_url"
	KeyChoiceIdx      = "choice_idx"
	KeyLink           = "link"
	KeyJSON           = "json"
	KeyRDLDescription = "rdl_description"
	KeyRDLCallback    = "rdl_callback"
	KeyAskSpecialWhat = "ask_special_what"
	KeyProgramID      = "program_id"
)

// Message is one conversation entry. It is never mutated once appended.
type Message struct {
	ID        uint32
	Kind      Kind
	Direction Direction
	Payload   map[string]string
}

// Text returns the user-visible text of the message, if any.
func (m Message) Text() string {
	return m.Payload[KeyText]
}

// Interactive reports whether a UI should render the entry as something
// the user can answer. Ask-special entries only render for the expectation
// kinds that have dedicated widgets.
func (m Message) Interactive() bool {
	switch m.Kind {
	case KindChoice, KindButton:
		return true
	case KindAskSpecial:
		switch m.Payload[KeyAskSpecialWhat] {
		case "yesno", "picture":
			return true
		}
	}
	return false
}

func (m Message) clone() Message {
	out := m
	if m.Payload != nil {
		out.Payload = make(map[string]string, len(m.Payload))
		for k, v := range m.Payload {
			out.Payload[k] = v
		}
	}
	return out
}
