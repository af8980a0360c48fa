package memory

import (
	"context"
	"time"
)

// Removal reasons recorded on audit records.
const (
	ReasonCollapse = "collapse"
	ReasonEvict    = "evict"
)

// Record is the durable audit entry of one history message.
type Record struct {
	ID            string            `json:"id"`
	SessionID     string            `json:"session_id"`
	MessageID     uint32            `json:"message_id"`
	Kind          string            `json:"kind"`
	Direction     string            `json:"direction"`
	Payload       map[string]string `json:"payload"`
	PIIRedacted   bool              `json:"pii_redacted"`
	CreatedAt     time.Time         `json:"created_at"`
	RemovedAt     *time.Time        `json:"removed_at,omitempty"`
	RemovedReason string            `json:"removed_reason,omitempty"`
}

// Store persists and retrieves audit records.
type Store interface {
	SaveMessage(ctx context.Context, record Record) error
	// MarkRemoved flags the newest live record for messageID in the session.
	MarkRemoved(ctx context.Context, sessionID string, messageID uint32, reason string, at time.Time) error
	// Recent returns up to limit records in chronological order. An empty
	// sessionID spans all sessions.
	Recent(ctx context.Context, sessionID string, limit int) ([]Record, error)
	Close() error
}
