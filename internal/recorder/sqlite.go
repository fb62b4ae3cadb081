package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"offer-allocation/internal/logging"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists run history to a SQLite database.
type SQLiteRecorder struct {
	db  *sql.DB
	mu  sync.Mutex
	log logrus.FieldLogger
}

// NewSQLiteRecorder opens (or creates) the database and runs migrations.
func NewSQLiteRecorder(dbPath string, log logrus.FieldLogger) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db, log: logging.OrDiscard(log).WithField("component", "recorder")}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	r.log.WithField("path", dbPath).Info("sqlite recorder opened")
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id          TEXT PRIMARY KEY,
			started_at  INTEGER NOT NULL,
			mode        TEXT,
			path        TEXT,
			method      TEXT,
			status      TEXT,
			termination TEXT,
			rounds      INTEGER,
			demand      REAL,
			assigned    REAL,
			deficit     REAL,
			cost        REAL,
			avg_price   REAL,
			duration_ms INTEGER,
			error       TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,

		`CREATE TABLE IF NOT EXISTS run_offers (
			run_id    TEXT NOT NULL,
			offer_id  TEXT NOT NULL,
			assigned  REAL,
			cost      REAL,
			avg_price REAL,
			slots     INTEGER,
			PRIMARY KEY (run_id, offer_id)
		)`,

		`CREATE TABLE IF NOT EXISTS run_monthly (
			run_id   TEXT NOT NULL,
			month    TEXT NOT NULL,
			demand   REAL,
			assigned REAL,
			deficit  REAL,
			coverage REAL,
			PRIMARY KEY (run_id, month)
		)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// RecordRun writes the header, per-offer and monthly rows in one
// transaction.
func (r *SQLiteRecorder) RecordRun(ctx context.Context, rec *RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO runs
		(id, started_at, mode, path, method, status, termination, rounds,
		 demand, assigned, deficit, cost, avg_price, duration_ms, error)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.StartedAt.Unix(), rec.Mode, rec.Path, rec.Method, rec.Status,
		rec.Termination, rec.Rounds, rec.Demand, rec.Assigned, rec.Deficit,
		rec.Cost, rec.AvgPrice, rec.Duration.Milliseconds(), rec.Error,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, o := range rec.Offers {
		if _, err := tx.ExecContext(ctx, `INSERT INTO run_offers
			(run_id, offer_id, assigned, cost, avg_price, slots) VALUES (?,?,?,?,?,?)`,
			rec.ID, o.OfferID, o.Assigned, o.Cost, o.AvgPrice, o.Slots,
		); err != nil {
			return fmt.Errorf("insert offer %s: %w", o.OfferID, err)
		}
	}
	for _, m := range rec.Monthly {
		if _, err := tx.ExecContext(ctx, `INSERT INTO run_monthly
			(run_id, month, demand, assigned, deficit, coverage) VALUES (?,?,?,?,?,?)`,
			rec.ID, m.Label, m.Demand, m.Assigned, m.Deficit, m.Coverage,
		); err != nil {
			return fmt.Errorf("insert month %s: %w", m.Label, err)
		}
	}
	return tx.Commit()
}

func (r *SQLiteRecorder) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `SELECT
		id, started_at, mode, path, method, status, termination, rounds,
		demand, assigned, deficit, cost, avg_price, duration_ms, error
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			rec        RunRecord
			started    int64
			durationMS int64
		)
		if err := rows.Scan(&rec.ID, &started, &rec.Mode, &rec.Path, &rec.Method, &rec.Status,
			&rec.Termination, &rec.Rounds, &rec.Demand, &rec.Assigned, &rec.Deficit,
			&rec.Cost, &rec.AvgPrice, &durationMS, &rec.Error); err != nil {
			return nil, err
		}
		rec.StartedAt = time.Unix(started, 0)
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}
