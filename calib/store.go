package calib

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver.
)

// Store persists calibration run history to SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore opens or creates the history database and applies migrations.
func OpenStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			segments TEXT NOT NULL,
			channels TEXT NOT NULL,
			step_tol REAL NOT NULL,
			converged INTEGER NOT NULL DEFAULT 0,
			iterations INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS iterations (
			run_id INTEGER NOT NULL,
			idx INTEGER NOT NULL,
			taken TEXT NOT NULL,
			max_step REAL NOT NULL,
			converged INTEGER NOT NULL,
			densities TEXT NOT NULL,
			PRIMARY KEY (run_id, idx)
		);`,
		`CREATE TABLE IF NOT EXISTS unit_updates (
			run_id INTEGER NOT NULL,
			idx INTEGER NOT NULL,
			segment INTEGER NOT NULL,
			channel TEXT NOT NULL,
			measured REAL NOT NULL,
			density_old REAL NOT NULL,
			density_new REAL NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_iterations_run ON iterations(run_id);`,
		`CREATE INDEX IF NOT EXISTS idx_unit_updates_run ON unit_updates(run_id, idx);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// BeginRun inserts a run row and returns its id.
func (s *Store) BeginRun(ctx context.Context, segments []int, channels []Channel, stepTol float64) (int64, error) {
	segJSON, err := json.Marshal(segments)
	if err != nil {
		return 0, err
	}
	chJSON, err := json.Marshal(channels)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (started_at, segments, channels, step_tol) VALUES (?, ?, ?, ?)`,
		time.Now().Format(time.RFC3339Nano), string(segJSON), string(chJSON), stepTol)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecordIteration stores one iteration and its per-unit updates.
func (s *Store) RecordIteration(ctx context.Context, runID int64, iter Iteration) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				_ = rerr
			}
		}
	}()

	densJSON, err := json.Marshal(iter.Densities)
	if err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO iterations (run_id, idx, taken, max_step, converged, densities) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, iter.Index, iter.Taken.Format(time.RFC3339Nano), iter.MaxStep, boolToInt(iter.Converged), string(densJSON)); err != nil {
		return err
	}

	if len(iter.Records) > 0 {
		stmt, perr := tx.PrepareContext(ctx,
			`INSERT INTO unit_updates (run_id, idx, segment, channel, measured, density_old, density_new) VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if perr != nil {
			err = perr
			return err
		}
		defer func() {
			if cerr := stmt.Close(); cerr != nil {
				_ = cerr
			}
		}()
		for _, r := range iter.Records {
			if _, err = stmt.ExecContext(ctx, runID, iter.Index, r.Segment, string(r.Channel), r.Measured, r.OldDensity, r.NewDensity); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// FinishRun marks a run finished with its outcome.
func (s *Store) FinishRun(ctx context.Context, runID int64, converged bool, iterations int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, converged = ?, iterations = ? WHERE id = ?`,
		time.Now().Format(time.RFC3339Nano), boolToInt(converged), iterations, runID)
	return err
}

// RunSummary is one row of run history.
type RunSummary struct {
	ID         int64     `json:"id"`
	StartedAt  time.Time `json:"startedAt"`
	Converged  bool      `json:"converged"`
	Iterations int       `json:"iterations"`
}

// RecentRuns returns the most recent runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, converged, iterations FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			_ = cerr
		}
	}()

	var out []RunSummary
	for rows.Next() {
		var rs RunSummary
		var started string
		var converged int
		if err := rows.Scan(&rs.ID, &started, &converged, &rs.Iterations); err != nil {
			return nil, err
		}
		t, perr := time.Parse(time.RFC3339Nano, started)
		if perr != nil {
			return nil, fmt.Errorf("parsing run %d start time: %w", rs.ID, perr)
		}
		rs.StartedAt = t
		rs.Converged = converged != 0
		out = append(out, rs)
	}
	return out, rows.Err()
}

// IterationHistory returns the per-iteration max step for a run, in order.
func (s *Store) IterationHistory(ctx context.Context, runID int64) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT max_step FROM iterations WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			_ = cerr
		}
	}()

	var steps []float64
	for rows.Next() {
		var step float64
		if err := rows.Scan(&step); err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
