package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/davidkant/rpp/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T, cfg config.EventStoreConfig) *Store {
	t.Helper()
	cfg.Enabled = true
	cfg.Path = filepath.Join(t.TempDir(), "events.db")
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	return es
}

func TestOpenDisabled(t *testing.T) {
	ctx := context.Background()
	es, err := Open(ctx, config.EventStoreConfig{}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if es.Enabled() {
		t.Fatal("expected disabled store")
	}
	if err := es.AppendEvent(ctx, Event{BatchID: "b", RenderID: "r", Type: TypeRenderRequested}); err != nil {
		t.Fatalf("append on disabled store: %v", err)
	}
	events, err := es.ListRenderEvents(ctx, "r", 10)
	if err != nil || events != nil {
		t.Fatalf("expected no events, got %v %v", events, err)
	}
}

func TestAppendAndQuery(t *testing.T) {
	ctx := context.Background()
	es := openStore(t, config.EventStoreConfig{})

	if err := es.AppendBatch(ctx, "batch-1", 2, "cli"); err != nil {
		t.Fatalf("append batch: %v", err)
	}
	for _, evt := range []Event{
		{BatchID: "batch-1", RenderID: "100", Type: TypeRenderRequested, Payload: []byte("hello")},
		{BatchID: "batch-1", RenderID: "101", Type: TypeRenderRequested},
		{BatchID: "batch-1", RenderID: "100", Type: TypeRenderCompleted},
	} {
		if err := es.AppendEvent(ctx, evt); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}

	events, err := es.ListRenderEvents(ctx, "100", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if string(events[0].Payload) != "hello" || events[1].Type != TypeRenderCompleted {
		t.Fatalf("unexpected events: %+v", events)
	}

	events, err = es.ListBatchEvents(ctx, "batch-1", 10)
	if err != nil {
		t.Fatalf("list batch events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 batch events, got %d", len(events))
	}

	b, err := es.GetBatch(ctx, "batch-1")
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if b.Total != 2 || b.Source != "cli" {
		t.Fatalf("unexpected batch %+v", b)
	}
}

func TestAppendEventCreatesBatch(t *testing.T) {
	ctx := context.Background()
	es := openStore(t, config.EventStoreConfig{})

	if err := es.AppendEvent(ctx, Event{BatchID: "implicit", RenderID: "1", Type: TypeRenderFailed}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if _, err := es.GetBatch(ctx, "implicit"); err != nil {
		t.Fatalf("expected implicit batch row: %v", err)
	}
	if _, err := es.GetBatch(ctx, "missing"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected no rows, got %v", err)
	}
	if err := es.AppendEvent(ctx, Event{RenderID: "1", Type: TypeRenderFailed}); err == nil {
		t.Fatal("expected error without batch id")
	}
}

func TestPruneByDaysAndBatches(t *testing.T) {
	ctx := context.Background()
	es := openStore(t, config.EventStoreConfig{RetentionDays: 1, MaxBatches: 1})

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendBatch(ctx, "old-batch", 1, "cli"); err != nil {
		t.Fatalf("append batch: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{BatchID: "old-batch", RenderID: "1", Type: TypeRenderRequested}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendBatch(ctx, "new-batch", 1, "cli"); err != nil {
		t.Fatalf("append batch: %v", err)
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListBatchEvents(ctx, "old-batch", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old batch pruned")
	}
	if _, err := es.GetBatch(ctx, "new-batch"); err != nil {
		t.Fatalf("expected new batch kept: %v", err)
	}
}
