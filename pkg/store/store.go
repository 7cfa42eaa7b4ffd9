// Package store provides SQLite-backed persistence for the room catalog and
// the membership audit trail.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/NicolasHaas/mqchat/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05"

// Store provides database access for mqchat entities.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}

	ctx := context.Background()

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		// a separate -audit or -export-rooms process may read while the server writes
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []struct {
		version    int
		statements []string
	}{
		{
			version: 1,
			statements: []string{`
			CREATE TABLE IF NOT EXISTS rooms (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				name       TEXT    NOT NULL UNIQUE CHECK(length(name) > 0 AND length(name) <= 63),
				created_at TEXT    NOT NULL DEFAULT (datetime('now'))
			)`, `
			CREATE TABLE IF NOT EXISTS audit_events (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				room       TEXT    NOT NULL,
				username   TEXT    NOT NULL DEFAULT '',
				action     INTEGER NOT NULL CHECK(action >= 1 AND action <= 4),
				detail     TEXT    NOT NULL DEFAULT '',
				created_at TEXT    NOT NULL DEFAULT (datetime('now'))
			)`,
				"CREATE INDEX IF NOT EXISTS idx_audit_events_room ON audit_events(room)",
			},
		},
	}

	if _, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	var current int
	err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&current)
	if err == sql.ErrNoRows {
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("init schema_migrations: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		for _, stmt := range m.statements {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("version %d: %w", m.version, err)
			}
		}
		if _, err := s.db.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", m.version); err != nil {
			return fmt.Errorf("update schema version: %w", err)
		}
	}
	return nil
}

func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

func parseDBTime(value string) (time.Time, error) {
	return time.ParseInLocation(dbTimeLayout, value, time.UTC)
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

// ---- Rooms ----

// SaveRoom records a room; a known name is left untouched.
func (s *Store) SaveRoom(room model.Room) error {
	if err := model.ValidateRoomName(room.Name); err != nil {
		return fmt.Errorf("store: save room: %w", err)
	}
	_, err := s.db.ExecContext(context.Background(),
		"INSERT OR IGNORE INTO rooms (name, created_at) VALUES (?, ?)",
		room.Name, formatDBTime(nowOr(room.CreatedAt)))
	if err != nil {
		return fmt.Errorf("store: save room: %w", err)
	}
	return nil
}

// ListRooms returns every recorded room in creation order.
func (s *Store) ListRooms() ([]model.Room, error) {
	rows, err := s.db.QueryContext(context.Background(), "SELECT name, created_at FROM rooms ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("store: list rooms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rooms []model.Room
	for rows.Next() {
		var r model.Room
		var createdAt string
		if err := rows.Scan(&r.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan room: %w", err)
		}
		if r.CreatedAt, err = parseDBTime(createdAt); err != nil {
			return nil, fmt.Errorf("store: parse room time: %w", err)
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

// ---- Audit ----

// RecordEvent appends an entry to the audit trail.
func (s *Store) RecordEvent(ev model.AuditEvent) error {
	if !ev.Action.Valid() {
		return fmt.Errorf("store: record event: %w", ErrInvalidAction)
	}
	_, err := s.db.ExecContext(context.Background(),
		"INSERT INTO audit_events (room, username, action, detail, created_at) VALUES (?, ?, ?, ?, ?)",
		ev.Room, ev.User, int(ev.Action), ev.Detail, formatDBTime(nowOr(ev.CreatedAt)))
	if err != nil {
		return fmt.Errorf("store: record event: %w", err)
	}
	return nil
}

// ListEvents returns audit entries in insertion order.
func (s *Store) ListEvents(room string, limit int) ([]model.AuditEvent, error) {
	query := "SELECT id, room, username, action, detail, created_at FROM audit_events"
	var args []any
	if room != "" {
		query += " WHERE room = ?"
		args = append(args, room)
	}
	query += " ORDER BY id"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(context.Background(), query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []model.AuditEvent
	for rows.Next() {
		var ev model.AuditEvent
		var action int
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.Room, &ev.User, &action, &ev.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		ev.Action = model.AuditAction(action)
		if ev.CreatedAt, err = parseDBTime(createdAt); err != nil {
			return nil, fmt.Errorf("store: parse event time: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
