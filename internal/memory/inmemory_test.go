package memory

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryStoreRecentIsChronological(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	for i := uint32(1); i <= 5; i++ {
		if err := s.SaveMessage(ctx, Record{SessionID: "a", MessageID: i, Kind: "text"}); err != nil {
			t.Fatalf("SaveMessage() error = %v", err)
		}
	}
	if err := s.SaveMessage(ctx, Record{SessionID: "b", MessageID: 1, Kind: "text"}); err != nil {
		t.Fatalf("SaveMessage() error = %v", err)
	}

	got, err := s.Recent(ctx, "a", 3)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []uint32{3, 4, 5} {
		if got[i].MessageID != want {
			t.Fatalf("record %d message id = %d, want %d", i, got[i].MessageID, want)
		}
		if got[i].ID == "" || got[i].CreatedAt.IsZero() {
			t.Fatalf("record %d missing id or timestamp: %+v", i, got[i])
		}
	}

	all, err := s.Recent(ctx, "", 0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(all) != 6 {
		t.Fatalf("len(all) = %d, want 6", len(all))
	}
}

func TestInMemoryStoreMarkRemovedTargetsNewestLiveRecord(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	_ = s.SaveMessage(ctx, Record{SessionID: "a", MessageID: 7, Kind: "choice"})
	_ = s.SaveMessage(ctx, Record{SessionID: "a", MessageID: 7, Kind: "button"})

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := s.MarkRemoved(ctx, "a", 7, ReasonCollapse, at); err != nil {
		t.Fatalf("MarkRemoved() error = %v", err)
	}
	got, _ := s.Recent(ctx, "a", 0)
	if got[0].RemovedAt != nil {
		t.Fatalf("older record should stay live")
	}
	if got[1].RemovedAt == nil || !got[1].RemovedAt.Equal(at) || got[1].RemovedReason != ReasonCollapse {
		t.Fatalf("newest record not marked: %+v", got[1])
	}

	if err := s.MarkRemoved(ctx, "a", 7, ReasonEvict, at); err != nil {
		t.Fatalf("MarkRemoved() error = %v", err)
	}
	got, _ = s.Recent(ctx, "a", 0)
	if got[0].RemovedReason != ReasonEvict {
		t.Fatalf("second removal should mark the older record, got %+v", got[0])
	}
}

func TestInMemoryStoreCopiesPayload(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	payload := map[string]string{"text": "hi"}
	_ = s.SaveMessage(ctx, Record{SessionID: "a", MessageID: 1, Payload: payload})
	payload["text"] = "changed"

	got, _ := s.Recent(ctx, "a", 1)
	if got[0].Payload["text"] != "hi" {
		t.Fatalf("payload aliased caller map: %q", got[0].Payload["text"])
	}
	got[0].Payload["text"] = "mutated"
	again, _ := s.Recent(ctx, "a", 1)
	if again[0].Payload["text"] != "hi" {
		t.Fatalf("Recent returned shared payload")
	}
}

func TestNewStoreWithoutURLIsInMemory(t *testing.T) {
	s, err := NewStore(context.Background(), "  ")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if _, ok := s.(*InMemoryStore); !ok {
		t.Fatalf("NewStore() = %T, want *InMemoryStore", s)
	}
}
