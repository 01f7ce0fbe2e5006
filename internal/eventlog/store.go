// Package eventlog persists assistant events in SQLite.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	TypeObservation = "observation"
	TypeReport      = "report"
)

// DefaultLimit caps Events when the caller passes no limit.
const DefaultLimit = 100

// Event is one logged exchange. Empty strings and nil coordinates are stored
// as NULL.
type Event struct {
	ID         int64             `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	Type       string            `json:"event_type"`
	Transcript string            `json:"transcript,omitempty"`
	Response   string            `json:"ai_response,omitempty"`
	ImagePath  string            `json:"image_path,omitempty"`
	Lat        *float64          `json:"latitude,omitempty"`
	Lon        *float64          `json:"longitude,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	event_type TEXT NOT NULL,
	transcript TEXT,
	ai_response TEXT,
	image_path TEXT,
	latitude REAL,
	longitude REAL,
	metadata TEXT
);
CREATE INDEX IF NOT EXISTS events_timestamp ON events (timestamp);
`

// Fixed-width so text order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

const columns = `id, timestamp, event_type, transcript, ai_response, image_path, latitude, longitude, metadata`

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates the database file and schema when missing.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("eventlog: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %q: %w", path, err)
	}
	// One writer; the dashboard reads from its own process.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("eventlog: create schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// WithClock replaces the timestamp source.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Log inserts ev stamped with the current UTC time and returns its id.
// ev.ID and ev.Timestamp are ignored.
func (s *Store) Log(ctx context.Context, ev Event) (int64, error) {
	if ev.Type == "" {
		return 0, errors.New("eventlog: event type is required")
	}

	var meta sql.NullString
	if len(ev.Metadata) > 0 {
		b, err := json.Marshal(ev.Metadata)
		if err != nil {
			return 0, fmt.Errorf("eventlog: encode metadata: %w", err)
		}
		meta = sql.NullString{String: string(b), Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (timestamp, event_type, transcript, ai_response, image_path, latitude, longitude, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.now().UTC().Format(timeLayout),
		ev.Type,
		nullString(ev.Transcript),
		nullString(ev.Response),
		nullString(ev.ImagePath),
		nullFloat(ev.Lat),
		nullFloat(ev.Lon),
		meta,
	)
	if err != nil {
		return 0, fmt.Errorf("eventlog: insert: %w", err)
	}

	return res.LastInsertId()
}

// Events returns the newest events first, optionally filtered by type.
func (s *Store) Events(ctx context.Context, eventType string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	if eventType == "" {
		return s.query(ctx, `SELECT `+columns+` FROM events ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	}
	return s.query(ctx, `SELECT `+columns+` FROM events WHERE event_type = ? ORDER BY timestamp DESC, id DESC LIMIT ?`, eventType, limit)
}

// Today returns events logged on the current UTC date, oldest first.
func (s *Store) Today(ctx context.Context) ([]Event, error) {
	day := s.now().UTC().Format("2006-01-02")
	return s.query(ctx, `SELECT `+columns+` FROM events WHERE timestamp LIKE ? ORDER BY timestamp ASC, id ASC`, day+"%")
}

// Since returns events with an id greater than id, oldest first.
func (s *Store) Since(ctx context.Context, id int64) ([]Event, error) {
	return s.query(ctx, `SELECT `+columns+` FROM events WHERE id > ? ORDER BY id ASC`, id)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("eventlog: query: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		ev, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}

	return out, rows.Err()
}

func scan(rows *sql.Rows) (Event, error) {
	var (
		ev                          Event
		ts                          string
		transcript, response, image sql.NullString
		lat, lon                    sql.NullFloat64
		meta                        sql.NullString
	)

	if err := rows.Scan(&ev.ID, &ts, &ev.Type, &transcript, &response, &image, &lat, &lon, &meta); err != nil {
		return Event{}, fmt.Errorf("eventlog: scan: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return Event{}, fmt.Errorf("eventlog: event %d timestamp %q: %w", ev.ID, ts, err)
	}
	ev.Timestamp = t
	ev.Transcript = transcript.String
	ev.Response = response.String
	ev.ImagePath = image.String
	if lat.Valid {
		ev.Lat = &lat.Float64
	}
	if lon.Valid {
		ev.Lon = &lon.Float64
	}

	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &ev.Metadata); err != nil {
			return Event{}, fmt.Errorf("eventlog: event %d metadata: %w", ev.ID, err)
		}
	}

	return ev, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
