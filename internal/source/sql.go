package source

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/wsn-testbed/dca-analyzer/internal/dca"
	"github.com/wsn-testbed/dca-analyzer/internal/models"
)

// SQLConfig selects the rows of a sensordata-style table to replay. The
// table holds one row per node status update with the use-case readings
// (t_air, t_soil, h_air, h_soil) and the chi fault indicators (x_nt .. x_usart).
type SQLConfig struct {
	Driver        string // "sqlite" or "postgres"
	DSN           string
	Table         string
	ReadingColumn string   // which use-case reading feeds the safe signal
	Nodes         []string // empty means all nodes
	PeriodStart   time.Time
	PeriodEnd     time.Time
}

// identPattern guards table/column names spliced into the query text.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// sensorRow mirrors the testbed's sensordata schema. Indicator columns are
// nullable: a NULL scans as NaN so the extractor rejects the row instead of
// the source inventing a value.
type sensorRow struct {
	SNID    string          `db:"snid"`
	SNTime  int64           `db:"sntime"`
	DBTime  time.Time       `db:"dbtime"`
	Reading sql.NullFloat64 `db:"reading"`
	XNT     sql.NullFloat64 `db:"x_nt"`
	XVS     sql.NullFloat64 `db:"x_vs"`
	XBat    sql.NullFloat64 `db:"x_bat"`
	XArt    sql.NullFloat64 `db:"x_art"`
	XRst    sql.NullFloat64 `db:"x_rst"`
	XIC     sql.NullFloat64 `db:"x_ic"`
	XADC    sql.NullFloat64 `db:"x_adc"`
	XUSART  sql.NullFloat64 `db:"x_usart"`
}

// SQLSource replays stored node status updates in insertion order. It tracks
// the previous reading per node so each observation carries the delta input
// for the safe signal; a node's first observation reuses its current reading
// (zero delta).
type SQLSource struct {
	db       *sqlx.DB
	rows     *sqlx.Rows
	previous map[string]float64
}

func NewSQLSource(ctx context.Context, cfg SQLConfig) (*SQLSource, error) {
	if !identPattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("sql source: invalid table name %q", cfg.Table)
	}
	if !identPattern.MatchString(cfg.ReadingColumn) {
		return nil, fmt.Errorf("sql source: invalid reading column %q", cfg.ReadingColumn)
	}

	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite"
	}
	db, err := sqlx.ConnectContext(ctx, driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sql source: connect %s: %w", driver, err)
	}

	query, args := buildQuery(cfg)
	rows, err := db.QueryxContext(ctx, db.Rebind(query), args...)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sql source: query: %w", err)
	}

	return &SQLSource{db: db, rows: rows, previous: make(map[string]float64)}, nil
}

func buildQuery(cfg SQLConfig) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, `SELECT snid, sntime, dbtime, %s AS reading,
        x_nt, x_vs, x_bat, x_art, x_rst, x_ic, x_adc, x_usart
        FROM %s`, cfg.ReadingColumn, cfg.Table)

	var conds []string
	var args []any
	if len(cfg.Nodes) > 0 {
		ph := make([]string, len(cfg.Nodes))
		for i, n := range cfg.Nodes {
			ph[i] = "?"
			args = append(args, n)
		}
		conds = append(conds, "snid IN ("+strings.Join(ph, ",")+")")
	}
	if !cfg.PeriodStart.IsZero() {
		conds = append(conds, "dbtime >= ?")
		args = append(args, cfg.PeriodStart.UTC())
	}
	if !cfg.PeriodEnd.IsZero() {
		conds = append(conds, "dbtime <= ?")
		args = append(args, cfg.PeriodEnd.UTC())
	}
	if len(conds) > 0 {
		b.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY id ASC")
	return b.String(), args
}

func (s *SQLSource) Next(ctx context.Context) (*models.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			return nil, fmt.Errorf("sql source: cursor: %w", err)
		}
		return nil, dca.ErrEndOfStream
	}

	var row sensorRow
	if err := s.rows.StructScan(&row); err != nil {
		return nil, fmt.Errorf("sql source: scan: %w", err)
	}
	return s.toObservation(&row), nil
}

func (s *SQLSource) toObservation(row *sensorRow) *models.Observation {
	reading := nullFloat(row.Reading)
	prev, seen := s.previous[row.SNID]
	if !seen {
		prev = reading
	}
	if !math.IsNaN(reading) {
		s.previous[row.SNID] = reading
	}

	rst := nullFloat(row.XRst)
	return &models.Observation{
		NodeID:          row.SNID,
		Timestamp:       row.DBTime.UTC(),
		SeqNo:           row.SNTime,
		Reading:         reading,
		PreviousReading: prev,
		ResetSource:     rst >= 1.0,
		Indicators: models.FaultIndicators{
			"nt":    nullFloat(row.XNT),
			"vs":    nullFloat(row.XVS),
			"bat":   nullFloat(row.XBat),
			"art":   nullFloat(row.XArt),
			"rst":   rst,
			"ic":    nullFloat(row.XIC),
			"adc":   nullFloat(row.XADC),
			"usart": nullFloat(row.XUSART),
		},
	}
}

func nullFloat(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func (s *SQLSource) Close() error {
	if s.rows != nil {
		_ = s.rows.Close()
	}
	return s.db.Close()
}
