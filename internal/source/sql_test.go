package source

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/wsn-testbed/dca-analyzer/internal/dca"
)

const testSchema = `
CREATE TABLE sensordata (
    id      INTEGER PRIMARY KEY AUTOINCREMENT,
    snid    TEXT NOT NULL,
    sntime  INTEGER NOT NULL,
    dbtime  DATETIME NOT NULL,
    t_air   REAL,
    t_soil  REAL,
    h_air   REAL,
    h_soil  REAL,
    x_nt    REAL,
    x_vs    REAL,
    x_bat   REAL,
    x_art   REAL,
    x_rst   REAL,
    x_ic    REAL,
    x_adc   REAL,
    x_usart REAL
);`

type testRow struct {
	snid   string
	sntime int64
	dbtime time.Time
	tAir   any
	xVS    any // nil exercises the NULL path
	xRst   float64
}

func seedSensorData(t *testing.T, rows []testRow) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sensordata.db")
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(testSchema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	for _, r := range rows {
		_, err := db.Exec(`INSERT INTO sensordata
            (snid, sntime, dbtime, t_air, t_soil, h_air, h_soil,
             x_nt, x_vs, x_bat, x_art, x_rst, x_ic, x_adc, x_usart)
            VALUES (?,?,?,?, 0, 0, 0, 0, ?, 0, 0, ?, 0, 0, 0)`,
			r.snid, r.sntime, r.dbtime, r.tAir, r.xVS, r.xRst)
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	return path
}

func drain(t *testing.T, s *SQLSource) []observationSummary {
	t.Helper()
	var out []observationSummary
	for {
		obs, err := s.Next(context.Background())
		if errors.Is(err, dca.ErrEndOfStream) {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, observationSummary{
			node:    obs.NodeID,
			reading: obs.Reading,
			prev:    obs.PreviousReading,
			reset:   obs.ResetSource,
			vs:      obs.Indicators["vs"],
		})
	}
}

type observationSummary struct {
	node    string
	reading float64
	prev    float64
	reset   bool
	vs      float64
}

func TestSQLSourceReplaysInInsertionOrder(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	path := seedSensorData(t, []testRow{
		{snid: "11", sntime: 1, dbtime: base, tAir: 20.0, xVS: 0.0},
		{snid: "12", sntime: 1, dbtime: base.Add(time.Second), tAir: 18.0, xVS: 0.0},
		{snid: "11", sntime: 2, dbtime: base.Add(2 * time.Second), tAir: 21.0, xVS: 0.0},
	})

	s, err := NewSQLSource(context.Background(), SQLConfig{
		Driver: "sqlite", DSN: path, Table: "sensordata", ReadingColumn: "t_air",
	})
	if err != nil {
		t.Fatalf("NewSQLSource: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	got := drain(t, s)
	if len(got) != 3 {
		t.Fatalf("got %d observations, want 3", len(got))
	}
	if got[0].node != "11" || got[1].node != "12" || got[2].node != "11" {
		t.Errorf("order = %v", got)
	}
	// First observation per node reuses its own reading as previous.
	if got[0].prev != 20.0 || got[1].prev != 18.0 {
		t.Errorf("first-seen previous = (%v, %v), want (20, 18)", got[0].prev, got[1].prev)
	}
	// Second update from node 11 runs against the first, not node 12's.
	if got[2].reading != 21.0 || got[2].prev != 20.0 {
		t.Errorf("node 11 second update = %+v, want reading 21 prev 20", got[2])
	}
}

func TestSQLSourceResetFlag(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	path := seedSensorData(t, []testRow{
		{snid: "11", sntime: 1, dbtime: base, tAir: 20.0, xVS: 0.0, xRst: 0.0},
		{snid: "11", sntime: 2, dbtime: base.Add(time.Second), tAir: 20.0, xVS: 0.0, xRst: 1.0},
	})
	s, err := NewSQLSource(context.Background(), SQLConfig{
		Driver: "sqlite", DSN: path, Table: "sensordata", ReadingColumn: "t_air",
	})
	if err != nil {
		t.Fatalf("NewSQLSource: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	got := drain(t, s)
	if got[0].reset || !got[1].reset {
		t.Errorf("reset flags = (%v, %v), want (false, true)", got[0].reset, got[1].reset)
	}
}

func TestSQLSourceNullBecomesNaN(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	path := seedSensorData(t, []testRow{
		{snid: "11", sntime: 1, dbtime: base, tAir: 20.0, xVS: nil},
	})
	s, err := NewSQLSource(context.Background(), SQLConfig{
		Driver: "sqlite", DSN: path, Table: "sensordata", ReadingColumn: "t_air",
	})
	if err != nil {
		t.Fatalf("NewSQLSource: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	got := drain(t, s)
	if !math.IsNaN(got[0].vs) {
		t.Errorf("NULL x_vs scanned as %v, want NaN", got[0].vs)
	}
}

func TestSQLSourceFilters(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	path := seedSensorData(t, []testRow{
		{snid: "11", sntime: 1, dbtime: base, tAir: 20.0, xVS: 0.0},
		{snid: "12", sntime: 1, dbtime: base.Add(time.Hour), tAir: 18.0, xVS: 0.0},
		{snid: "13", sntime: 1, dbtime: base.Add(2 * time.Hour), tAir: 17.0, xVS: 0.0},
	})

	s, err := NewSQLSource(context.Background(), SQLConfig{
		Driver: "sqlite", DSN: path, Table: "sensordata", ReadingColumn: "t_air",
		Nodes:       []string{"11", "12"},
		PeriodStart: base.Add(30 * time.Minute),
		PeriodEnd:   base.Add(90 * time.Minute),
	})
	if err != nil {
		t.Fatalf("NewSQLSource: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	got := drain(t, s)
	if len(got) != 1 || got[0].node != "12" {
		t.Errorf("filtered = %v, want only node 12", got)
	}
}

func TestSQLSourceRejectsBadIdentifiers(t *testing.T) {
	_, err := NewSQLSource(context.Background(), SQLConfig{
		Driver: "sqlite", DSN: ":memory:", Table: "sensordata; DROP TABLE runs", ReadingColumn: "t_air",
	})
	if err == nil {
		t.Fatal("expected error for invalid table name")
	}
	_, err = NewSQLSource(context.Background(), SQLConfig{
		Driver: "sqlite", DSN: ":memory:", Table: "sensordata", ReadingColumn: "t_air--",
	})
	if err == nil {
		t.Fatal("expected error for invalid reading column")
	}
}
