// Package metrics records the critic's scalar diagnostics: every value is
// logged through logrus and, when a database is configured, appended to a
// SQLite table keyed by session, tag and step.
package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Scalar is one stored metric value.
type Scalar struct {
	Session uuid.UUID
	Step    int
	Tag     string
	Name    string
	Value   float64
}

// Store is an append-only SQLite scalar table.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the database at path.
func OpenStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty metrics db path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS scalars (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session TEXT NOT NULL,
			step INTEGER NOT NULL,
			tag TEXT NOT NULL,
			name TEXT NOT NULL,
			value REAL NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS scalars_session_tag ON scalars(session, tag, step);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("metrics schema: %w", err)
		}
	}
	return nil
}

// Insert appends scalars in one transaction.
func (s *Store) Insert(ctx context.Context, rows ...Scalar) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO scalars(session, step, tag, name, value, recorded_at) VALUES(?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.Session.String(), r.Step, r.Tag, r.Name, r.Value, now); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert %s/%s: %w", r.Tag, r.Name, err)
		}
	}
	return tx.Commit()
}

// Query returns a session's scalars for tag ordered by step then name.
func (s *Store) Query(ctx context.Context, session uuid.UUID, tag string) ([]Scalar, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step, name, value FROM scalars WHERE session = ? AND tag = ? ORDER BY step, name`,
		session.String(), tag)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Scalar
	for rows.Next() {
		r := Scalar{Session: session, Tag: tag}
		if err := rows.Scan(&r.Step, &r.Name, &r.Value); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
