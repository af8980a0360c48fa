package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/almond/internal/control"
	"github.com/ent0n29/almond/internal/memory"
	"github.com/ent0n29/almond/internal/observability"
	"github.com/ent0n29/almond/internal/protocol"
)

// StatusFunc reports the service state shown by /v1/status and /readyz.
type StatusFunc func() Status

type Status struct {
	SessionID    string         `json:"session_id"`
	Session      string         `json:"session"`
	Dispatcher   string         `json:"dispatcher"`
	AgentMode    string         `json:"agent_mode"`
	Capabilities []string       `json:"capabilities"`
	Voice        any            `json:"voice,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

type Config struct {
	AllowAnyOrigin bool
	Audit          memory.Store
	SessionID      string
	Status         StatusFunc
	Metrics        *observability.Metrics
	Logger         *slog.Logger
}

type Server struct {
	channel   *control.Channel
	audit     memory.Store
	sessionID string
	status    StatusFunc
	metrics   *observability.Metrics
	logger    *slog.Logger
	upgrader  websocket.Upgrader
}

func New(ch *control.Channel, cfg Config) *Server {
	return &Server{
		channel:   ch,
		audit:     cfg.Audit,
		sessionID: cfg.SessionID,
		status:    cfg.Status,
		metrics:   cfg.Metrics,
		logger:    observability.OrDefault(cfg.Logger).With("component", "httpapi"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browser pages from other origins must not drive the assistant.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/perf/latency", s.handlePerfLatency)
		r.Get("/history", s.handleHistory)
		r.Post("/commands", s.handleCommand)
		r.Post("/thingtalk", s.handleThingTalk)
		r.Post("/parsed-commands", s.handleParsedCommand)
		r.Get("/preferences/{key}", s.handleGetPreference)
		r.Put("/preferences/{key}", s.handleSetPreference)
		r.Post("/stop", s.handleStop)
		r.Get("/audit", s.handleAudit)
		r.Get("/ws", s.handleWS)
	})

	return r
}

func (s *Server) currentStatus() Status {
	if s.status == nil {
		return Status{SessionID: s.sessionID, Session: "running"}
	}
	return s.status()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"session_id": s.sessionID,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	st := s.currentStatus()
	if st.Session != "running" {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "stopped", "session": st.Session})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready", "dispatcher": st.Dispatcher})
}

type commandRequest struct {
	Text string `json:"text"`
}

type thingTalkRequest struct {
	Code string `json:"code"`
}

type parsedCommandRequest struct {
	Title string          `json:"title"`
	JSON  json.RawMessage `json:"json"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	hist := s.channel.GetHistory(r.Context())
	if hist == nil {
		hist = []protocol.WireMessage{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"history": hist})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, control.CodeInvalidRequest, err.Error())
		return
	}
	s.respondCall(w, s.channel.HandleCommand(r.Context(), req.Text))
}

func (s *Server) handleThingTalk(w http.ResponseWriter, r *http.Request) {
	var req thingTalkRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, control.CodeInvalidRequest, err.Error())
		return
	}
	s.respondCall(w, s.channel.HandleThingTalk(r.Context(), req.Code))
}

// handleParsedCommand accepts json either as a JSON object or as a string
// holding one.
func (s *Server) handleParsedCommand(w http.ResponseWriter, r *http.Request) {
	var req parsedCommandRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, control.CodeInvalidRequest, err.Error())
		return
	}
	command := strings.TrimSpace(string(req.JSON))
	if command == "" {
		respondError(w, http.StatusBadRequest, control.CodeInvalidRequest, "json is required")
		return
	}
	if strings.HasPrefix(command, `"`) {
		var inner string
		if err := json.Unmarshal(req.JSON, &inner); err != nil {
			respondError(w, http.StatusBadRequest, control.CodeInvalidRequest, err.Error())
			return
		}
		command = inner
	}
	s.respondCall(w, s.channel.HandleParsedCommand(r.Context(), req.Title, command))
}

func (s *Server) handleGetPreference(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	v, err := s.channel.GetPreference(key)
	if err != nil {
		s.respondCall(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"key": key, "value": v})
}

func (s *Server) handleSetPreference(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var v protocol.Value
	if err := decodeJSON(r, &v); err != nil {
		respondError(w, http.StatusBadRequest, control.CodeInvalidRequest, err.Error())
		return
	}
	s.respondCall(w, s.channel.SetPreference(key, v))
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.channel.Stop()
	respondJSON(w, http.StatusAccepted, okResponse{OK: true})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		respondJSON(w, http.StatusOK, map[string]any{"records": []memory.Record{}})
		return
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			respondError(w, http.StatusBadRequest, control.CodeInvalidRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = s.sessionID
	}
	if r.URL.Query().Get("all_sessions") == "true" {
		sessionID = ""
	}
	records, err := s.audit.Recent(r.Context(), sessionID, limit)
	if err != nil {
		s.logger.Error("audit query failed", "err", err)
		respondError(w, http.StatusInternalServerError, control.CodeInternal, "audit log unavailable")
		return
	}
	if records == nil {
		records = []memory.Record{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (s *Server) respondCall(w http.ResponseWriter, err error) {
	if err == nil {
		respondJSON(w, http.StatusOK, okResponse{OK: true})
		return
	}
	code := control.Code(err)
	if code == control.CodeInternal {
		s.logger.Error("request failed", "err", err)
	}
	respondError(w, control.HTTPStatus(code), code, err.Error())
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
