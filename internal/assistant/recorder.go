package assistant

import (
	"context"
	"log/slog"
	"time"

	"github.com/ent0n29/almond/internal/history"
	"github.com/ent0n29/almond/internal/memory"
	"github.com/ent0n29/almond/internal/observability"
	"github.com/ent0n29/almond/internal/policy"
)

const (
	auditQueueSize    = 256
	auditWriteTimeout = 5 * time.Second
)

// Payload keys that carry identifiers or machine data, never free text.
var auditVerbatimKeys = []string{
	history.KeyIcon,
	history.KeyChoiceIdx,
	history.KeyJSON,
	history.KeyLink,
	history.KeyPictureURL,
	history.KeyRDLCallback,
	history.KeyAskSpecialWhat,
	history.KeyProgramID,
}

type auditOp struct {
	record    *memory.Record
	messageID uint32
	reason    string
	at        time.Time
}

// recorder writes audit records from a single goroutine so the log keeps
// history order. Writes are best effort.
type recorder struct {
	store     memory.Store
	sessionID string
	redact    bool
	logger    *slog.Logger
	metrics   *observability.Metrics

	ops    chan auditOp
	done   chan struct{}
	closed bool
}

func newRecorder(store memory.Store, sessionID string, redact bool, logger *slog.Logger, metrics *observability.Metrics) *recorder {
	r := &recorder{
		store:     store,
		sessionID: sessionID,
		redact:    redact,
		logger:    logger.With("component", "audit"),
		metrics:   metrics,
		ops:       make(chan auditOp, auditQueueSize),
		done:      make(chan struct{}),
	}
	go r.run()
	return r
}

// saved and removed are called with the dispatcher's appendMu held.
func (r *recorder) saved(msg history.Message) {
	payload := msg.Payload
	redacted := false
	if r.redact {
		payload, redacted = policy.RedactPayload(msg.Payload, auditVerbatimKeys...)
	}
	r.enqueue(auditOp{record: &memory.Record{
		SessionID:   r.sessionID,
		MessageID:   msg.ID,
		Kind:        msg.Kind.String(),
		Direction:   msg.Direction.String(),
		Payload:     payload,
		PIIRedacted: redacted,
		CreatedAt:   time.Now().UTC(),
	}})
}

func (r *recorder) removed(id uint32, reason string) {
	r.enqueue(auditOp{messageID: id, reason: reason, at: time.Now().UTC()})
}

func (r *recorder) enqueue(op auditOp) {
	if r.closed {
		return
	}
	select {
	case r.ops <- op:
	default:
		r.metrics.ObserveAuditWrite(op.name(), "dropped")
		r.logger.Warn("audit queue full; record dropped", "message_id", op.id())
	}
}

func (r *recorder) close() {
	if r.closed {
		return
	}
	r.closed = true
	close(r.ops)
}

func (r *recorder) wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *recorder) run() {
	defer close(r.done)
	for op := range r.ops {
		ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
		var err error
		if op.record != nil {
			err = r.store.SaveMessage(ctx, *op.record)
		} else {
			err = r.store.MarkRemoved(ctx, r.sessionID, op.messageID, op.reason, op.at)
		}
		cancel()
		if err != nil {
			r.metrics.ObserveAuditWrite(op.name(), "error")
			r.logger.Warn("audit write failed", "op", op.name(), "message_id", op.id(), "err", err)
			continue
		}
		r.metrics.ObserveAuditWrite(op.name(), "ok")
	}
}

func (op auditOp) name() string {
	if op.record != nil {
		return "save"
	}
	return "remove"
}

func (op auditOp) id() uint32 {
	if op.record != nil {
		return op.record.MessageID
	}
	return op.messageID
}
