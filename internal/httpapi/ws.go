package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/almond/internal/control"
	"github.com/ent0n29/almond/internal/protocol"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
	wsPingInterval = 30 * time.Second
)

// pendingResult is a call result held back until every event the call
// produced has been written.
type pendingResult struct {
	result   protocol.CallResult
	afterSeq uint64
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.logger.Debug("websocket client connected", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, unsubscribe := s.channel.Subscribe()
	defer unsubscribe()
	written := s.channel.LastEventSeq()

	calls := make(chan any, 64)
	results := make(chan pendingResult, 64)

	callerDone := make(chan struct{})
	go func() {
		defer close(callerDone)
		defer close(results)
		for req := range calls {
			var res protocol.CallResult
			if bad, ok := req.(invalidCall); ok {
				res = protocol.CallResult{
					Type:      protocol.TypeCallResult,
					RequestID: bad.requestID,
					Error:     &protocol.ErrorBody{Code: control.CodeInvalidRequest, Detail: bad.err.Error()},
				}
			} else {
				res = s.channel.Call(ctx, req)
			}
			select {
			case results <- pendingResult{result: res, afterSeq: s.channel.LastEventSeq()}:
			case <-ctx.Done():
				return
			}
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		// Closing the connection unblocks the read loop.
		defer conn.Close()
		defer cancel()

		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()

		var held []pendingResult
		write := func(msg any) bool {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Debug("websocket write failed", "err", err)
				return false
			}
			return true
		}
		flush := func(all bool) bool {
			n := 0
			for _, p := range held {
				if !all && p.afterSeq > written {
					break
				}
				if !write(p.result) {
					return false
				}
				n++
			}
			held = held[n:]
			return true
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case evt, ok := <-sub:
				if !ok {
					// Dropped for falling behind; the client reconnects and
					// resynchronises from get_history.
					flush(true)
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "event stream overflow"),
						time.Now().Add(wsWriteTimeout))
					return
				}
				msg, err := protocol.EncodeEvent(evt)
				if err != nil {
					s.logger.Warn("dropping unencodable event", "type", evt.Type, "err", err)
					continue
				}
				if !write(msg) {
					return
				}
				if evt.Seq > written {
					written = evt.Seq
				}
				if !flush(false) {
					return
				}
			case p, ok := <-results:
				if !ok {
					flush(true)
					return
				}
				held = append(held, p)
				if !flush(false) {
					return
				}
			}
		}
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			var env protocol.Envelope
			_ = json.Unmarshal(data, &env)
			parsed = invalidCall{requestID: env.RequestID, err: err}
		}
		select {
		case <-ctx.Done():
			break readLoop
		case calls <- parsed:
		}
	}

	close(calls)
	cancel()
	<-callerDone
	<-writerDone
	s.logger.Debug("websocket client disconnected", "remote", r.RemoteAddr)
}

// invalidCall carries a client message that failed to decode, so its error
// is answered in order with the calls around it.
type invalidCall struct {
	requestID string
	err       error
}
