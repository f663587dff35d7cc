package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/davidkant/rpp/internal/config"
	_ "modernc.org/sqlite"
)

// Journal event types.
const (
	TypeRenderRequested = "render.requested"
	TypeRenderCompleted = "render.completed"
	TypeRenderFailed    = "render.failed"
	TypeRenderTimeout   = "render.timeout"
)

// Event is one journal entry for a render.
type Event struct {
	ID        int64
	BatchID   string
	RenderID  string
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Batch is a group of renders submitted together.
type Batch struct {
	ID        string
	Total     int
	Source    string
	CreatedAt time.Time
}

// Store is the SQLite-backed render journal. A disabled store accepts
// writes and returns nothing.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the journal according to config.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	if !cfg.Enabled {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS batches (
    batch_id TEXT PRIMARY KEY,
    total INTEGER NOT NULL DEFAULT 0,
    source TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    batch_id TEXT NOT NULL,
    render_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    payload BLOB,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(batch_id) REFERENCES batches(batch_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_events_batch_created ON events(batch_id, created_at);
CREATE INDEX IF NOT EXISTS idx_events_render ON events(render_id);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Enabled reports whether the store persists anything.
func (s *Store) Enabled() bool {
	return s != nil && s.db != nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if !s.Enabled() {
		return nil
	}
	return s.db.Close()
}

// AppendBatch records a batch, updating total and source if it exists.
func (s *Store) AppendBatch(ctx context.Context, batchID string, total int, source string) error {
	if !s.Enabled() {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO batches(batch_id, total, source, created_at)
		 VALUES(?, ?, ?, ?)
		 ON CONFLICT(batch_id) DO UPDATE SET total=excluded.total, source=excluded.source`,
		batchID, total, source, s.clock().UTC())
	return err
}

// AppendEvent writes an event, creating its batch row if needed.
func (s *Store) AppendEvent(ctx context.Context, evt Event) (err error) {
	if !s.Enabled() {
		return nil
	}
	if evt.BatchID == "" {
		return fmt.Errorf("event %s for render %s has no batch id", evt.Type, evt.RenderID)
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock()
	}
	evt.CreatedAt = evt.CreatedAt.UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO batches(batch_id, total, source, created_at) VALUES(?, 0, '', ?)
		 ON CONFLICT(batch_id) DO NOTHING`,
		evt.BatchID, evt.CreatedAt); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO events(batch_id, render_id, event_type, payload, created_at)
		 VALUES(?, ?, ?, ?, ?)`,
		evt.BatchID, evt.RenderID, evt.Type, evt.Payload, evt.CreatedAt); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

// GetBatch returns a batch row, or sql.ErrNoRows.
func (s *Store) GetBatch(ctx context.Context, batchID string) (Batch, error) {
	if !s.Enabled() {
		return Batch{}, sql.ErrNoRows
	}
	var b Batch
	var source sql.NullString
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT batch_id, total, source, created_at FROM batches WHERE batch_id = ?`, batchID).
		Scan(&b.ID, &b.Total, &source, &created)
	if err != nil {
		return Batch{}, err
	}
	b.Source = source.String
	b.CreatedAt = parseTime(created)
	return b, nil
}

// ListBatchEvents retrieves up to limit events of a batch in order.
func (s *Store) ListBatchEvents(ctx context.Context, batchID string, limit int) ([]Event, error) {
	return s.list(ctx, `batch_id = ?`, batchID, limit)
}

// ListRenderEvents retrieves up to limit events of a render in order.
func (s *Store) ListRenderEvents(ctx context.Context, renderID string, limit int) ([]Event, error) {
	return s.list(ctx, `render_id = ?`, renderID, limit)
}

func (s *Store) list(ctx context.Context, where, key string, limit int) ([]Event, error) {
	if !s.Enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, batch_id, render_id, event_type, payload, created_at
		 FROM events WHERE `+where+` ORDER BY created_at ASC, id ASC LIMIT ?`, key, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var created string
		if err := rows.Scan(&e.ID, &e.BatchID, &e.RenderID, &e.Type, &e.Payload, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(created)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) (err error) {
	if !s.Enabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM batches WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxBatches > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM batches WHERE batch_id IN (
			SELECT batch_id FROM batches ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxBatches)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

func parseTime(value string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999 -0700 MST"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts
		}
	}
	return time.Time{}
}
