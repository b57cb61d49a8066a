package support

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/geppetto-io/geppetto/internal/audit"
)

func TestNewSweeper_InvalidSchedule(t *testing.T) {
	store := NewContextStore()
	rec := audit.NewRecorder(slog.New(slog.NewTextHandler(io.Discard, nil)))

	if _, err := NewSweeper(store, rec, "not a schedule", time.Hour, nil); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestSweeper_EmitsEvictionEvents(t *testing.T) {
	store := NewContextStore()
	buf := audit.NewBuffer(16)
	rec := audit.NewRecorder(slog.New(slog.NewTextHandler(io.Discard, nil)), buf)

	c, _ := store.GetOrCreate("U1", "C1", "T1", "")
	store.mu.Lock()
	c.LastUpdated = time.Now().Add(-2 * time.Hour)
	store.mu.Unlock()

	s, err := NewSweeper(store, rec, "@every 1h", time.Hour, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.sweep()

	events := buf.Query(audit.Filter{Type: audit.EventContextEvicted})
	if len(events) != 1 {
		t.Fatalf("expected one context_evicted event, got %d", len(events))
	}
	if events[0].ConversationID != c.ConversationID || events[0].ActionTaken != "evict" {
		t.Errorf("unexpected event: %+v", events[0])
	}
	if store.Len() != 0 {
		t.Errorf("expected empty store, got %d", store.Len())
	}
}
