package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver registration.

	"esg_news/internal/article"
	"esg_news/internal/model"
	"esg_news/migrations"
)

// Fixed width so that lexical order in SQL matches time order.
const timeLayout = "2006-01-02T15:04:05.000Z"

// DefaultRunLimit caps ListRuns when no limit is given.
const DefaultRunLimit = 20

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(ctx context.Context, dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := migrations.Run(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// RecordRun inserts a refresh run, assigning an ID when it has none.
func (s *SQLite) RecordRun(ctx context.Context, run *model.RefreshRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO refresh_runs (id, subject_id, subject_key, started_at, finished_at, outcome, clusters, error_kind, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.SubjectID, run.SubjectKey,
		formatTime(run.StartedAt), formatTime(run.FinishedAt),
		string(run.Outcome), run.Clusters, string(run.ErrorKind), run.Error,
	)
	if err != nil {
		return fmt.Errorf("insert refresh run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first. An empty subjectID
// lists runs for every subject.
func (s *SQLite) ListRuns(ctx context.Context, subjectID string, limit int) ([]model.RefreshRun, error) {
	if limit <= 0 {
		limit = DefaultRunLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, subject_id, subject_key, started_at, finished_at, outcome, clusters, error_kind, error
		 FROM refresh_runs
		 WHERE ? = '' OR subject_id = ?
		 ORDER BY started_at DESC, rowid DESC
		 LIMIT ?`, subjectID, subjectID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query refresh runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []model.RefreshRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refresh runs: %w", err)
	}
	return runs, nil
}

// SaveSnapshot stores entry as the latest scheduler snapshot for its subject key.
func (s *SQLite) SaveSnapshot(ctx context.Context, subjectID string, entry model.CacheEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (subject_key, subject_id, computed_at, expires_at, payload)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (subject_key) DO UPDATE SET
		   subject_id = excluded.subject_id,
		   computed_at = excluded.computed_at,
		   expires_at = excluded.expires_at,
		   payload = excluded.payload`,
		entry.Result.SubjectKey, subjectID,
		formatTime(entry.Result.ComputedAt), formatTime(entry.ExpiresAt), string(payload),
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// LoadSnapshots returns every snapshot that has not expired at now.
func (s *SQLite) LoadSnapshots(ctx context.Context, now time.Time) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT subject_id, payload FROM snapshots WHERE expires_at > ? ORDER BY subject_key`,
		formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Snapshot
	for rows.Next() {
		var (
			snap    Snapshot
			payload string
		)
		if err := rows.Scan(&snap.SubjectID, &payload); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &snap.Entry); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot: %w", err)
		}
		article.RenormalizeResult(&snap.Entry.Result)
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}

// DeleteSnapshot removes the snapshot stored under subjectKey, if any.
func (s *SQLite) DeleteSnapshot(ctx context.Context, subjectKey string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE subject_key = ?`, subjectKey); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (model.RefreshRun, error) {
	var (
		r                  model.RefreshRun
		started, finished  string
		outcome, errorKind string
	)
	if err := row.Scan(&r.ID, &r.SubjectID, &r.SubjectKey, &started, &finished, &outcome, &r.Clusters, &errorKind, &r.Error); err != nil {
		return model.RefreshRun{}, fmt.Errorf("scan refresh run: %w", err)
	}
	r.Outcome = model.RunOutcome(outcome)
	r.ErrorKind = model.ErrorKind(errorKind)

	var err error
	if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return model.RefreshRun{}, fmt.Errorf("parse started_at: %w", err)
	}
	if r.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
		return model.RefreshRun{}, fmt.Errorf("parse finished_at: %w", err)
	}
	return r, nil
}
