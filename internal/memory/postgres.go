package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists the audit log in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS history_audit (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			message_id BIGINT NOT NULL,
			kind TEXT NOT NULL,
			direction TEXT NOT NULL,
			payload JSONB NOT NULL DEFAULT '{}'::jsonb,
			pii_redacted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			removed_at TIMESTAMPTZ,
			removed_reason TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_history_audit_session_created ON history_audit (session_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_history_audit_session_message ON history_audit (session_id, message_id);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveMessage(ctx context.Context, record Record) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	payload := record.Payload
	if payload == nil {
		payload = map[string]string{}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO history_audit (id, session_id, message_id, kind, direction, payload, pii_redacted, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		record.ID,
		record.SessionID,
		int64(record.MessageID),
		record.Kind,
		record.Direction,
		payload,
		record.PIIRedacted,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save audit record: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkRemoved(ctx context.Context, sessionID string, messageID uint32, reason string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE history_audit SET removed_at=$4, removed_reason=$3
		 WHERE id = (
			SELECT id FROM history_audit
			WHERE session_id=$1 AND message_id=$2 AND removed_at IS NULL
			ORDER BY created_at DESC LIMIT 1
		 )`,
		sessionID,
		int64(messageID),
		reason,
		at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("mark audit record removed: %w", err)
	}
	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, sessionID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, message_id, kind, direction, payload, pii_redacted, created_at, removed_at, removed_reason
		 FROM history_audit WHERE ($1 = '' OR session_id=$1) ORDER BY created_at DESC LIMIT $2`,
		sessionID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	items := make([]Record, 0, limit)
	for rows.Next() {
		var (
			r         Record
			messageID int64
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &messageID, &r.Kind, &r.Direction, &r.Payload, &r.PIIRedacted, &r.CreatedAt, &r.RemovedAt, &r.RemovedReason); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		r.MessageID = uint32(messageID)
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit rows: %w", err)
	}

	// Chronological order, oldest first.
	reverse(items)

	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
