package dbusapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/ent0n29/almond/internal/control"
	"github.com/ent0n29/almond/internal/events"
	"github.com/ent0n29/almond/internal/observability"
	"github.com/ent0n29/almond/internal/protocol"
)

const (
	BusName     = "edu.stanford.Almond.BackgroundService"
	Interface   = "edu.stanford.Almond.BackgroundService"
	ObjectPath  = dbus.ObjectPath("/edu/stanford/Almond/BackgroundService")
	ErrorPrefix = "edu.stanford.Almond.Error."
)

var ErrNameTaken = errors.New("D-Bus name already owned")

// Message is the a(uuua{ss}) element of GetHistory and NewMessage.
type Message struct {
	ID        uint32
	Kind      uint32
	Direction uint32
	Payload   map[string]string
}

func fromWire(w protocol.WireMessage) Message {
	payload := w.Payload
	if payload == nil {
		payload = map[string]string{}
	}
	return Message{ID: w.ID, Kind: w.Kind, Direction: w.Direction, Payload: payload}
}

// Service holds the exported methods. Every exported method of Service is
// published on the bus.
type Service struct {
	channel     *control.Channel
	callTimeout time.Duration
	logger      *slog.Logger
}

func newService(ch *control.Channel, callTimeout time.Duration, logger *slog.Logger) *Service {
	if callTimeout <= 0 {
		callTimeout = time.Minute
	}
	return &Service{channel: ch, callTimeout: callTimeout, logger: logger}
}

func (s *Service) call(fn func(ctx context.Context) error) *dbus.Error {
	ctx, cancel := context.WithTimeout(context.Background(), s.callTimeout)
	defer cancel()
	return toDBusError(fn(ctx))
}

func (s *Service) Stop() *dbus.Error {
	s.channel.Stop()
	return nil
}

func (s *Service) GetHistory() ([]Message, *dbus.Error) {
	var out []Message
	err := s.call(func(ctx context.Context) error {
		hist := s.channel.GetHistory(ctx)
		out = make([]Message, len(hist))
		for i, m := range hist {
			out[i] = fromWire(m)
		}
		return nil
	})
	return out, err
}

func (s *Service) HandleCommand(text string) *dbus.Error {
	return s.call(func(ctx context.Context) error {
		return s.channel.HandleCommand(ctx, text)
	})
}

func (s *Service) HandleThingTalk(code string) *dbus.Error {
	return s.call(func(ctx context.Context) error {
		return s.channel.HandleThingTalk(ctx, code)
	})
}

func (s *Service) HandleParsedCommand(title, json string) *dbus.Error {
	return s.call(func(ctx context.Context) error {
		return s.channel.HandleParsedCommand(ctx, title, json)
	})
}

func (s *Service) GetPreference(key string) (dbus.Variant, *dbus.Error) {
	v, err := s.channel.GetPreference(key)
	if err != nil {
		return dbus.MakeVariant(""), toDBusError(err)
	}
	variant, err := ToVariant(v)
	if err != nil {
		return dbus.MakeVariant(""), toDBusError(err)
	}
	return variant, nil
}

func (s *Service) SetPreference(key string, value dbus.Variant) *dbus.Error {
	v, err := FromVariant(value)
	if err != nil {
		return toDBusError(err)
	}
	return toDBusError(s.channel.SetPreference(key, v))
}

// ErrorName returns the D-Bus error name of a control error code.
func ErrorName(code string) string {
	var b strings.Builder
	b.WriteString(ErrorPrefix)
	for _, part := range strings.Split(code, "_") {
		if part == "" {
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}

func toDBusError(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	return dbus.NewError(ErrorName(control.Code(err)), []interface{}{err.Error()})
}

// signal maps a bus event to its D-Bus signal member and body.
func signal(evt events.Event) (string, []interface{}, bool) {
	switch evt.Type {
	case events.TypeNewMessage:
		m := fromWire(protocol.FromHistory(evt.Message))
		return "NewMessage", []interface{}{m.ID, m.Kind, m.Direction, m.Payload}, true
	case events.TypeRemoveMessage:
		return "RemoveMessage", []interface{}{evt.MessageID}, true
	case events.TypeActivate:
		return "Activate", nil, true
	case events.TypeVoiceHypothesis:
		return "VoiceHypothesis", []interface{}{evt.Text}, true
	case events.TypePreferenceChanged:
		return "PreferenceChanged", []interface{}{evt.Key}, true
	default:
		return "", nil, false
	}
}

func introspectNode(svc *Service) *introspect.Node {
	arg := func(name, typ string) introspect.Arg { return introspect.Arg{Name: name, Type: typ} }
	return &introspect.Node{
		Name: string(ObjectPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name:    Interface,
				Methods: introspect.Methods(svc),
				Signals: []introspect.Signal{
					{Name: "NewMessage", Args: []introspect.Arg{arg("id", "u"), arg("kind", "u"), arg("direction", "u"), arg("payload", "a{ss}")}},
					{Name: "RemoveMessage", Args: []introspect.Arg{arg("id", "u")}},
					{Name: "Activate"},
					{Name: "VoiceHypothesis", Args: []introspect.Arg{arg("hypothesis", "s")}},
					{Name: "PreferenceChanged", Args: []introspect.Arg{arg("key", "s")}},
				},
			},
		},
	}
}

type emitter interface {
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
}

// Server exports the control channel on a D-Bus connection and relays
// session events as signals, in order.
type Server struct {
	conn    *dbus.Conn
	channel *control.Channel
	logger  *slog.Logger
	done    chan struct{}

	mu          sync.Mutex
	closed      bool
	unsubscribe func()
}

type Config struct {
	CallTimeout time.Duration
	Logger      *slog.Logger
}

const resubscribeDelay = time.Second

// ConnectSessionBus opens a private connection to the user's session bus.
func ConnectSessionBus() (*dbus.Conn, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	return conn, nil
}

// Serve exports the service, claims BusName and starts relaying signals.
func Serve(conn *dbus.Conn, ch *control.Channel, cfg Config) (*Server, error) {
	logger := observability.OrDefault(cfg.Logger).With("component", "dbus")
	svc := newService(ch, cfg.CallTimeout, logger)

	if err := conn.Export(svc, ObjectPath, Interface); err != nil {
		return nil, fmt.Errorf("export service: %w", err)
	}
	node := introspectNode(svc)
	if err := conn.Export(introspect.NewIntrospectable(node), ObjectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return nil, fmt.Errorf("export introspection: %w", err)
	}
	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return nil, fmt.Errorf("request name %s: %w", BusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return nil, fmt.Errorf("%w: %s", ErrNameTaken, BusName)
	}

	s := &Server{conn: conn, channel: ch, logger: logger, done: make(chan struct{})}
	go s.pump()
	logger.Info("D-Bus service exported", "name", BusName, "path", ObjectPath)
	return s, nil
}

// pump relays events until Close. A subscription dropped for falling behind
// is renewed; clients resynchronise with GetHistory.
func (s *Server) pump() {
	defer close(s.done)
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		evts, unsubscribe := s.channel.Subscribe()
		s.unsubscribe = unsubscribe
		s.mu.Unlock()

		relay(s.conn, evts, s.logger)

		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}
		s.logger.Warn("signal relay fell behind; resubscribing")
		time.Sleep(resubscribeDelay)
	}
}

func relay(e emitter, evts <-chan events.Event, logger *slog.Logger) {
	for evt := range evts {
		member, body, ok := signal(evt)
		if !ok {
			continue
		}
		if err := e.Emit(ObjectPath, Interface+"."+member, body...); err != nil {
			logger.Warn("emit signal failed", "signal", member, "err", err)
		}
	}
}

// Close stops relaying signals and releases the bus name.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	unsubscribe := s.unsubscribe
	s.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
	<-s.done

	if _, err := s.conn.ReleaseName(BusName); err != nil {
		return fmt.Errorf("release name: %w", err)
	}
	return nil
}
