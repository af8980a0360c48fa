package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a bounded in-process audit log for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	limit   int
	records []Record
}

const defaultInMemoryLimit = 10000

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{limit: defaultInMemoryLimit}
}

func (s *InMemoryStore) SaveMessage(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	record.Payload = copyPayload(record.Payload)
	s.records = append(s.records, record)
	if over := len(s.records) - s.limit; over > 0 {
		s.records = append([]Record(nil), s.records[over:]...)
	}
	return nil
}

func (s *InMemoryStore) MarkRemoved(_ context.Context, sessionID string, messageID uint32, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.records) - 1; i >= 0; i-- {
		r := &s.records[i]
		if r.SessionID != sessionID || r.MessageID != messageID || r.RemovedAt != nil {
			continue
		}
		at := at.UTC()
		r.RemovedAt = &at
		r.RemovedReason = reason
		return nil
	}
	return nil
}

func (s *InMemoryStore) Recent(_ context.Context, sessionID string, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for i := len(s.records) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		r := s.records[i]
		if sessionID != "" && r.SessionID != sessionID {
			continue
		}
		r.Payload = copyPayload(r.Payload)
		if r.RemovedAt != nil {
			at := *r.RemovedAt
			r.RemovedAt = &at
		}
		out = append(out, r)
	}
	reverse(out)
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }

func copyPayload(p map[string]string) map[string]string {
	if p == nil {
		return nil
	}
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func reverse(items []Record) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}
