package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/wsn-testbed/dca-analyzer/internal/db"
)

type stubStore struct {
	db.ClassificationStore
	aggs []*db.NodeAggregate
}

func (s *stubStore) AggregateNodes(_ context.Context, _ string) ([]*db.NodeAggregate, error) {
	return s.aggs, nil
}

func TestSummarize(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &stubStore{aggs: []*db.NodeAggregate{
		{NodeID: "11", Total: 100, Anomalous: 2, Mature: 10, MeanMCAV: 0.05, MaxMCAV: 0.9, LastSeen: ts},
		{NodeID: "12", Total: 100, Anomalous: 30, Mature: 60, MeanMCAV: 0.3, MaxMCAV: 1.0, LastSeen: ts},
		{NodeID: "13", Total: 10, Anomalous: 9, Mature: 10, MeanMCAV: 0.8, MaxMCAV: 1.0, LastSeen: ts},
	}}

	summary, err := NewEngine(store).Summarize(context.Background(), "r1")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if summary.RunID != "r1" || len(summary.Nodes) != 3 {
		t.Fatalf("summary = %+v", summary)
	}

	wantStatus := map[string]NodeStatus{
		"11": StatusHealthy,
		"12": StatusDegraded,
		"13": StatusFaulty,
	}
	for _, n := range summary.Nodes {
		if n.Status != wantStatus[n.NodeID] {
			t.Errorf("node %s status = %s, want %s", n.NodeID, n.Status, wantStatus[n.NodeID])
		}
	}

	n11 := summary.Nodes[0]
	if n11.AnomalyRate != 0.02 || n11.MaturityRate != 0.1 {
		t.Errorf("node 11 rates = (%v, %v), want (0.02, 0.1)", n11.AnomalyRate, n11.MaturityRate)
	}
}

func TestSummarizeEmptyNode(t *testing.T) {
	store := &stubStore{aggs: []*db.NodeAggregate{{NodeID: "11", Total: 0}}}
	summary, err := NewEngine(store).Summarize(context.Background(), "")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if summary.Nodes[0].AnomalyRate != 0 || summary.Nodes[0].Status != StatusHealthy {
		t.Errorf("empty node summary = %+v", summary.Nodes[0])
	}
}

func TestStatusBands(t *testing.T) {
	cases := []struct {
		rate float64
		want NodeStatus
	}{
		{0.0, StatusHealthy},
		{0.1, StatusHealthy},
		{0.11, StatusDegraded},
		{0.5, StatusDegraded},
		{0.51, StatusFaulty},
		{1.0, StatusFaulty},
	}
	for _, tc := range cases {
		if got := statusFor(tc.rate); got != tc.want {
			t.Errorf("statusFor(%v) = %s, want %s", tc.rate, got, tc.want)
		}
	}
}
