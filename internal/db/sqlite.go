package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/wsn-testbed/dca-analyzer/internal/models"
)

// migrations define the result-store schema. Versions are tracked in the
// schema_versions table.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    started_at  DATETIME NOT NULL,
    finished_at DATETIME,
    config      TEXT NOT NULL DEFAULT '{}',
    iterations  INTEGER NOT NULL DEFAULT 0,
    records     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);

CREATE TABLE IF NOT EXISTS classifications (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    node_id     TEXT NOT NULL,
    ts          DATETIME NOT NULL,
    iteration   INTEGER NOT NULL,
    mcav        REAL NOT NULL DEFAULT 0.0,
    csm         REAL NOT NULL DEFAULT 0.0,
    mature      BOOLEAN NOT NULL DEFAULT 0,
    context     TEXT NOT NULL DEFAULT 'normal'
);
CREATE INDEX IF NOT EXISTS idx_classifications_run     ON classifications(run_id, iteration ASC);
CREATE INDEX IF NOT EXISTS idx_classifications_node    ON classifications(node_id, ts DESC);
CREATE INDEX IF NOT EXISTS idx_classifications_context ON classifications(context);
`,
	},
}

// sqliteStore is the SQLite-backed implementation of Store.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// WAL for better concurrency between the writer loop and API reads.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *sqliteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}

		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ─── Runs ─────────────────────────────────────────────────────────────────────

func (s *sqliteStore) CreateRun(ctx context.Context, rec *RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO runs(id, started_at, config, iterations, records)
        VALUES(?,?,?,?,?)
    `, rec.ID, rec.StartedAt.UTC(), rec.Config, rec.Iterations, rec.Records)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *sqliteStore) FinishRun(ctx context.Context, id string, finishedAt time.Time, iterations, records int64) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE runs SET finished_at=?, iterations=?, records=? WHERE id=?
    `, finishedAt.UTC(), iterations, records, id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("finish run: unknown run %q", id)
	}
	return nil
}

func (s *sqliteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, finished_at, config, iterations, records FROM runs WHERE id=?`, id)
	return scanRun(row)
}

func (s *sqliteStore) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, config, iterations, records
         FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var recs []*RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var rec RunRecord
	var finished sql.NullTime
	if err := row.Scan(&rec.ID, &rec.StartedAt, &finished, &rec.Config, &rec.Iterations, &rec.Records); err != nil {
		return nil, err
	}
	rec.StartedAt = rec.StartedAt.UTC()
	if finished.Valid {
		t := finished.Time.UTC()
		rec.FinishedAt = &t
	}
	return &rec, nil
}

// ─── Classifications ──────────────────────────────────────────────────────────

func (s *sqliteStore) AppendClassifications(ctx context.Context, recs []*models.ClassificationRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO classifications(run_id, node_id, ts, iteration, mcav, csm, mature, context)
        VALUES(?,?,?,?,?,?,?,?)
    `)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		_, err := stmt.ExecContext(ctx,
			rec.RunID, rec.NodeID, rec.Timestamp.UTC(), rec.Iteration,
			rec.MCAV, rec.CSM, rec.Mature, string(rec.Context))
		if err != nil {
			return fmt.Errorf("insert classification: %w", err)
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) QueryClassifications(ctx context.Context, f ClassificationFilter) ([]*models.ClassificationRecord, error) {
	query := `SELECT run_id, node_id, ts, iteration, mcav, csm, mature, context FROM classifications`
	var conds []string
	var args []any
	if f.RunID != "" {
		conds = append(conds, "run_id = ?")
		args = append(args, f.RunID)
	}
	if f.NodeID != "" {
		conds = append(conds, "node_id = ?")
		args = append(args, f.NodeID)
	}
	if f.Context != "" {
		conds = append(conds, "context = ?")
		args = append(args, string(f.Context))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY ts DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query classifications: %w", err)
	}
	defer rows.Close()

	var recs []*models.ClassificationRecord
	for rows.Next() {
		var rec models.ClassificationRecord
		var context string
		if err := rows.Scan(&rec.RunID, &rec.NodeID, &rec.Timestamp, &rec.Iteration,
			&rec.MCAV, &rec.CSM, &rec.Mature, &context); err != nil {
			return nil, err
		}
		rec.Timestamp = rec.Timestamp.UTC()
		rec.Context = models.Context(context)
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

func (s *sqliteStore) AggregateNodes(ctx context.Context, runID string) ([]*NodeAggregate, error) {
	query := `SELECT node_id,
        COUNT(*),
        SUM(CASE WHEN context = 'anomalous' THEN 1 ELSE 0 END),
        SUM(CASE WHEN mature THEN 1 ELSE 0 END),
        AVG(mcav),
        MAX(mcav),
        MAX(ts)
        FROM classifications`
	var args []any
	if runID != "" {
		query += " WHERE run_id = ?"
		args = append(args, runID)
	}
	query += " GROUP BY node_id ORDER BY node_id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregate nodes: %w", err)
	}
	defer rows.Close()

	var aggs []*NodeAggregate
	for rows.Next() {
		var agg NodeAggregate
		var last string
		if err := rows.Scan(&agg.NodeID, &agg.Total, &agg.Anomalous, &agg.Mature,
			&agg.MeanMCAV, &agg.MaxMCAV, &last); err != nil {
			return nil, err
		}
		agg.LastSeen, err = parseTime(last)
		if err != nil {
			return nil, err
		}
		aggs = append(aggs, &agg)
	}
	return aggs, rows.Err()
}

func (s *sqliteStore) ListNodes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT node_id FROM classifications ORDER BY node_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	var nodes []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		nodes = append(nodes, id)
	}
	return nodes, rows.Err()
}

// parseTime handles timestamps coming back from SQL expressions (MAX and the
// like), where the driver loses the column's declared type and returns text.
func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999 -0700 MST",
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
