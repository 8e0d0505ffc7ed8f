package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/markerlab/reconciler/internal/baseline"
	"github.com/markerlab/reconciler/internal/marker"
	"github.com/markerlab/reconciler/internal/priors"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS priors (
	subject_id  TEXT NOT NULL,
	marker      TEXT NOT NULL,
	mean        REAL NOT NULL,
	std         REAL NOT NULL,
	source      TEXT NOT NULL,
	updated_at  TEXT NOT NULL,
	points      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (subject_id, marker)
);

CREATE TABLE IF NOT EXISTS baselines (
	subject_id    TEXT NOT NULL,
	marker        TEXT NOT NULL,
	baseline_json TEXT NOT NULL,
	built_at      TEXT NOT NULL,
	PRIMARY KEY (subject_id, marker)
);

CREATE TABLE IF NOT EXISTS run_log (
	run_id      TEXT PRIMARY KEY,
	subject_id  TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	report_json TEXT NOT NULL
);
`

// #endregion schema

// #region store-struct

// Store persists priors, baselines, and run reports in SQLite. It
// satisfies priors.Store and baseline.Store.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor

// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages.
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion constructor

// #region priors

// GetPrior reads a subject's stored distribution for a marker.
func (s *Store) GetPrior(subject string, m marker.ID) (priors.Distribution, bool, error) {
	var d priors.Distribution
	var updatedStr string
	err := s.db.QueryRow(
		`SELECT marker, mean, std, source, updated_at, points
		 FROM priors WHERE subject_id = ? AND marker = ?`, subject, string(m),
	).Scan(&d.Marker, &d.Mean, &d.Std, &d.Source, &updatedStr, &d.Points)
	if errors.Is(err, sql.ErrNoRows) {
		return priors.Distribution{}, false, nil
	}
	if err != nil {
		return priors.Distribution{}, false, fmt.Errorf("get prior %s/%s: %w", subject, m, err)
	}
	d.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedStr)
	return d, true, nil
}

// PutPrior upserts a subject's distribution.
func (s *Store) PutPrior(subject string, d priors.Distribution) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO priors (subject_id, marker, mean, std, source, updated_at, points)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(subject_id, marker) DO UPDATE SET
		   mean = excluded.mean, std = excluded.std, source = excluded.source,
		   updated_at = excluded.updated_at, points = excluded.points`,
		subject, string(d.Marker), d.Mean, d.Std, string(d.Source),
		d.UpdatedAt.Format(time.RFC3339Nano), d.Points,
	)
	if err != nil {
		return fmt.Errorf("upsert prior: %w", err)
	}
	return tx.Commit()
}

// ListPriors returns every stored prior for a subject.
func (s *Store) ListPriors(subject string) ([]priors.Distribution, error) {
	rows, err := s.db.Query(
		`SELECT marker, mean, std, source, updated_at, points
		 FROM priors WHERE subject_id = ? ORDER BY marker`, subject,
	)
	if err != nil {
		return nil, fmt.Errorf("list priors: %w", err)
	}
	defer rows.Close()

	var out []priors.Distribution
	for rows.Next() {
		var d priors.Distribution
		var updatedStr string
		if err := rows.Scan(&d.Marker, &d.Mean, &d.Std, &d.Source, &updatedStr, &d.Points); err != nil {
			return nil, fmt.Errorf("scan prior: %w", err)
		}
		d.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedStr)
		out = append(out, d)
	}
	return out, rows.Err()
}

// #endregion priors

// #region baselines

// GetBaseline reads a subject's stored baseline for a marker.
func (s *Store) GetBaseline(subject string, m marker.ID) (baseline.Baseline, bool, error) {
	var blob string
	err := s.db.QueryRow(
		`SELECT baseline_json FROM baselines WHERE subject_id = ? AND marker = ?`,
		subject, string(m),
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return baseline.Baseline{}, false, nil
	}
	if err != nil {
		return baseline.Baseline{}, false, fmt.Errorf("get baseline %s/%s: %w", subject, m, err)
	}
	var b baseline.Baseline
	if err := json.Unmarshal([]byte(blob), &b); err != nil {
		return baseline.Baseline{}, false, fmt.Errorf("unmarshal baseline: %w", err)
	}
	return b, true, nil
}

// PutBaseline upserts a subject's baseline.
func (s *Store) PutBaseline(subject string, b baseline.Baseline) error {
	blob, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal baseline: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO baselines (subject_id, marker, baseline_json, built_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(subject_id, marker) DO UPDATE SET
		   baseline_json = excluded.baseline_json, built_at = excluded.built_at`,
		subject, string(b.Marker), string(blob), b.BuiltAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert baseline: %w", err)
	}
	return tx.Commit()
}

// ListBaselines returns every stored baseline for a subject.
func (s *Store) ListBaselines(subject string) ([]baseline.Baseline, error) {
	rows, err := s.db.Query(
		`SELECT baseline_json FROM baselines WHERE subject_id = ? ORDER BY marker`, subject,
	)
	if err != nil {
		return nil, fmt.Errorf("list baselines: %w", err)
	}
	defer rows.Close()

	var out []baseline.Baseline
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("scan baseline: %w", err)
		}
		var b baseline.Baseline
		if err := json.Unmarshal([]byte(blob), &b); err != nil {
			return nil, fmt.Errorf("unmarshal baseline: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// #endregion baselines

// #region run log

// RunRecord is one persisted pipeline run.
type RunRecord struct {
	RunID      string    `json:"run_id"`
	SubjectID  string    `json:"subject_id"`
	CreatedAt  time.Time `json:"created_at"`
	ReportJSON string    `json:"report_json"`
}

// RecordRun appends a run report to the log.
func (s *Store) RecordRun(rec RunRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO run_log (run_id, subject_id, created_at, report_json)
		 VALUES (?, ?, ?, ?)`,
		rec.RunID, rec.SubjectID, rec.CreatedAt.Format(time.RFC3339Nano), rec.ReportJSON,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun retrieves a run report by ID.
func (s *Store) GetRun(runID string) (RunRecord, error) {
	var rec RunRecord
	var createdStr string
	err := s.db.QueryRow(
		`SELECT run_id, subject_id, created_at, report_json FROM run_log WHERE run_id = ?`,
		runID,
	).Scan(&rec.RunID, &rec.SubjectID, &createdStr, &rec.ReportJSON)
	if err != nil {
		return RunRecord{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return rec, nil
}

// ListRuns returns the most recent runs for a subject.
func (s *Store) ListRuns(subject string, limit int) ([]RunRecord, error) {
	rows, err := s.db.Query(
		`SELECT run_id, subject_id, created_at, report_json
		 FROM run_log WHERE subject_id = ? ORDER BY created_at DESC LIMIT ?`,
		subject, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		var createdStr string
		if err := rows.Scan(&rec.RunID, &rec.SubjectID, &createdStr, &rec.ReportJSON); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// #endregion run log
