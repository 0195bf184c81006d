// Package journal persists lifecycle events to SQLite.
package journal

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/bud42069/AT-1000/internal/events"
)

const schema = `
CREATE TABLE IF NOT EXISTS lifecycle_events (
	id        TEXT PRIMARY KEY,
	ts        TEXT NOT NULL,
	type      TEXT NOT NULL,
	order_id  TEXT,
	payload   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_lifecycle_events_order ON lifecycle_events(order_id);
`

// Journal is an append-only event store. It satisfies events.Sink.
type Journal struct {
	db      *sql.DB
	timeout time.Duration

	mu      sync.Mutex
	entropy io.Reader
}

// Open creates the database at path (":memory:" for tests) and applies the schema.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}
	return &Journal{
		db:      db,
		timeout: 5 * time.Second,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}, nil
}

// Close releases the underlying DB handle.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) newID() (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), j.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Append stores ev under a time-sortable id.
func (j *Journal) Append(ev events.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	id, err := j.newID()
	if err != nil {
		return fmt.Errorf("journal id: %w", err)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	var orderID sql.NullString
	if oid := OrderID(ev); oid != "" {
		orderID = sql.NullString{String: oid, Valid: true}
	}
	_, err = j.db.ExecContext(ctx,
		`INSERT INTO lifecycle_events (id, ts, type, order_id, payload) VALUES (?, ?, ?, ?, ?)`,
		id, ev.Timestamp.UTC().Format(time.RFC3339Nano), string(ev.Type), orderID, string(payload))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Recent returns up to limit of the latest events, oldest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]events.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT payload FROM lifecycle_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	out, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	return out, nil
}

// ForOrder returns every event recorded against orderID in insertion order.
func (j *Journal) ForOrder(ctx context.Context, orderID string) ([]events.Event, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT payload FROM lifecycle_events WHERE order_id = ? ORDER BY id ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]events.Event, error) {
	var out []events.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var ev events.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// OrderID extracts the order an event refers to, if any. Replacements index the new order.
func OrderID(ev events.Event) string {
	switch d := ev.Data.(type) {
	case events.Submitted:
		return d.OrderID
	case events.Filled:
		return d.OrderID
	case events.StopsInstalledData:
		return d.OrderID
	case events.SLMoved:
		return d.OrderID
	case events.Replaced:
		return d.NewID
	case events.Abandoned:
		return d.OrderID
	}
	return ""
}
