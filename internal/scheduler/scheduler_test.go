package scheduler

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/olegiv/lms-go/internal/store"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	tmpFile, err := os.CreateTemp(t.TempDir(), "lms-scheduler-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	_ = tmpFile.Close()

	db, err := store.NewDB(tmpFile.Name())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := store.Migrate(db); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}
	return db
}

func TestNew(t *testing.T) {
	logger := slog.Default()

	s := New(nil, nil, logger)
	if s == nil {
		t.Fatal("New() returned nil")
	}
	if s.cron == nil {
		t.Error("New() scheduler has nil cron")
	}
	if s.logger != logger {
		t.Error("New() scheduler has wrong logger")
	}
}

func TestScheduler_StartStop(t *testing.T) {
	s := New(nil, nil, slog.Default())

	err := s.Start()
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	s.Stop()

	// Starting and stopping should work without panic
}

func TestScheduler_CleanupEvents(t *testing.T) {
	db := newTestDB(t)
	queries := store.New(db)
	ctx := context.Background()

	_, err := queries.CreateEvent(ctx, store.CreateEventParams{
		Level:     "info",
		Category:  "system",
		Message:   "ancient event",
		Metadata:  "{}",
		CreatedAt: time.Now().Add(-100 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("failed to create event: %v", err)
	}
	_, err = queries.CreateEvent(ctx, store.CreateEventParams{
		Level:     "info",
		Category:  "system",
		Message:   "recent event",
		Metadata:  "{}",
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("failed to create event: %v", err)
	}

	s := New(db, nil, slog.Default())
	if err := s.cleanupEvents(); err != nil {
		t.Fatalf("cleanupEvents() error = %v", err)
	}

	events, err := queries.ListRecentEvents(ctx, 10)
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event after cleanup, got %d", len(events))
	}
	if events[0].Message != "recent event" {
		t.Errorf("wrong event survived cleanup: %q", events[0].Message)
	}
}
