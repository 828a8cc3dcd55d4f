package sink

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wsn-testbed/dca-analyzer/internal/db"
	"github.com/wsn-testbed/dca-analyzer/internal/models"
)

func sampleRecords() []*models.ClassificationRecord {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []*models.ClassificationRecord{
		{RunID: "r1", NodeID: "11", Timestamp: ts, Iteration: 10, MCAV: 0.5, CSM: 2.0, Mature: true, Context: models.ContextAnomalous},
		{RunID: "r1", NodeID: "12", Timestamp: ts, Iteration: 10, MCAV: 0.0, CSM: 0.1, Mature: false, Context: models.ContextNormal},
		{RunID: "r1", NodeID: "11", Timestamp: ts.Add(time.Minute), Iteration: 11, MCAV: 0.25, CSM: 1.0, Mature: true, Context: models.ContextNormal},
	}
}

func TestStoreSinkPersists(t *testing.T) {
	store, err := db.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()
	if err := store.CreateRun(ctx, &db.RunRecord{ID: "r1", StartedAt: time.Now().UTC(), Config: "{}"}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	s := NewStoreSink(store)
	if err := s.Write(ctx, sampleRecords()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := store.QueryClassifications(ctx, db.ClassificationFilter{RunID: "r1"})
	if err != nil {
		t.Fatalf("QueryClassifications: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("persisted %d records, want 3", len(got))
	}
}

func TestCSVSinkWritesPerNodeFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCSVSink(dir)
	if err != nil {
		t.Fatalf("NewCSVSink: %v", err)
	}

	if err := s.Write(context.Background(), sampleRecords()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	for node, wantRows := range map[string]int{"11": 2, "12": 1} {
		path := filepath.Join(dir, "centralized_dca-"+node+"-output.csv")
		f, err := os.Open(path)
		if err != nil {
			t.Fatalf("open %s: %v", path, err)
		}
		rows, err := csv.NewReader(f).ReadAll()
		f.Close()
		if err != nil {
			t.Fatalf("read %s: %v", path, err)
		}
		if len(rows) != wantRows+1 { // header
			t.Errorf("node %s: %d rows, want %d", node, len(rows)-1, wantRows)
		}
		if len(rows) > 0 && rows[0][0] != "timestamp" {
			t.Errorf("node %s: missing header, got %v", node, rows[0])
		}
	}

	row11, err := readCSV(t, filepath.Join(dir, "centralized_dca-11-output.csv"))
	if err != nil {
		t.Fatalf("reread node 11: %v", err)
	}
	if row11[1][4] != "true" || row11[1][5] != "anomalous" {
		t.Errorf("node 11 first record = %v", row11[1])
	}
}

func readCSV(t *testing.T, path string) ([][]string, error) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return csv.NewReader(f).ReadAll()
}

func TestMultiSinkFansOut(t *testing.T) {
	var a, b int
	ms := NewMultiSink(
		FuncSink(func(_ context.Context, recs []*models.ClassificationRecord) error { a += len(recs); return nil }),
		FuncSink(func(_ context.Context, recs []*models.ClassificationRecord) error { b += len(recs); return nil }),
	)
	if err := ms.Write(context.Background(), sampleRecords()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if a != 3 || b != 3 {
		t.Errorf("fan-out counts = (%d,%d), want (3,3)", a, b)
	}
}

func TestMultiSinkDeliversPastFailures(t *testing.T) {
	boom := errors.New("boom")
	var after int
	ms := NewMultiSink(
		FuncSink(func(_ context.Context, _ []*models.ClassificationRecord) error { return boom }),
		FuncSink(func(_ context.Context, recs []*models.ClassificationRecord) error { after += len(recs); return nil }),
	)
	err := ms.Write(context.Background(), sampleRecords())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if after != 3 {
		t.Errorf("later sink received %d records, want the full batch", after)
	}
}
