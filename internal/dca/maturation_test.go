package dca

import (
	"math"
	"testing"
	"time"

	"github.com/wsn-testbed/dca-analyzer/internal/models"
)

func TestClassifyMCAVIsAveragedNotSummed(t *testing.T) {
	c := newCell(1, 3)
	// antigen appears k=3 times with PAMP+Danger values 0.9, 0.3, 0.6
	c.observe(SignalTuple{Antigen: "SN1", Timestamp: time.Unix(1, 0), Danger: 0.9})
	c.observe(SignalTuple{Antigen: "SN1", Timestamp: time.Unix(2, 0), Danger: 0.3})
	c.observe(SignalTuple{Antigen: "SN1", Timestamp: time.Unix(3, 0), Danger: 0.6})

	cl := NewClassifier(0, 0.5)
	recs, err := cl.Classify("run-1", c, 3)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected one record, got %d", len(recs))
	}
	want := (0.9 + 0.3 + 0.6) / 3
	if math.Abs(recs[0].MCAV-want) > 1e-9 {
		t.Errorf("expected MCAV %.4f (average), got %.4f", want, recs[0].MCAV)
	}
}

func TestClassifyContextAssignment(t *testing.T) {
	cases := []struct {
		name          string
		csm           float64
		danger        float64
		migration     float64
		classify      float64
		wantMature    bool
		wantAnomalous bool
	}{
		{"semi-mature stays normal", 0.5, 2.0, 1.0, 0.5, false, false},
		{"mature above both thresholds", 2.0, 2.0, 1.0, 0.5, true, true},
		{"mature but low MCAV stays normal", 2.0, 0.2, 1.0, 0.5, true, false},
		{"csm exactly at threshold is semi-mature", 1.0, 2.0, 1.0, 0.5, false, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newCell(1, 1)
			c.observe(SignalTuple{Antigen: "SN1", Timestamp: time.Unix(1, 0), Danger: tc.danger})
			c.csmTotal = tc.csm

			cl := NewClassifier(tc.migration, tc.classify)
			recs, err := cl.Classify("run-1", c, 1)
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			rec := recs[0]
			if rec.Mature != tc.wantMature {
				t.Errorf("mature: got %v, want %v", rec.Mature, tc.wantMature)
			}
			gotAnomalous := rec.Context == models.ContextAnomalous
			if gotAnomalous != tc.wantAnomalous {
				t.Errorf("context: got %s", rec.Context)
			}
		})
	}
}

func TestClassifyOneRecordPerAntigen(t *testing.T) {
	c := newCell(1, 4)
	c.observe(SignalTuple{Antigen: "SN1", Timestamp: time.Unix(1, 0), Danger: 1})
	c.observe(SignalTuple{Antigen: "SN2", Timestamp: time.Unix(2, 0), Danger: 2})
	c.observe(SignalTuple{Antigen: "SN1", Timestamp: time.Unix(3, 0), Danger: 3})
	c.observe(SignalTuple{Antigen: "SN3", Timestamp: time.Unix(4, 0), Danger: 4})

	cl := NewClassifier(0, 0.5)
	recs, err := cl.Classify("run-1", c, 4)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}

	// the record carries the antigen's most recent observation time so the
	// newest update gets the label
	if !recs[0].Timestamp.Equal(time.Unix(3, 0)) {
		t.Errorf("SN1 record should carry its latest timestamp, got %v", recs[0].Timestamp)
	}
	for i, want := range []string{"SN1", "SN2", "SN3"} {
		if recs[i].NodeID != want {
			t.Errorf("record %d: expected node %s, got %s", i, want, recs[i].NodeID)
		}
	}
}

func TestClassifyRejectsMalformedCell(t *testing.T) {
	cl := NewClassifier(0, 0.5)
	if _, err := cl.Classify("run-1", nil, 1); err == nil {
		t.Error("expected error for nil cell")
	}

	c := newCell(1, 2)
	c.order = append(c.order, "ghost") // antigen with no history
	if _, err := cl.Classify("run-1", c, 1); err == nil {
		t.Error("expected error for empty antigen history")
	}
}
