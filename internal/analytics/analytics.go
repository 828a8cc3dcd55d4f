package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/wsn-testbed/dca-analyzer/internal/db"
)

// Package analytics rolls stored classification records up into per-node
// health summaries for the API. It is purely statistical: the verdicts were
// made by the engine, this package only aggregates them.

// NodeStatus is a coarse label derived from a node's anomaly rate.
type NodeStatus string

const (
	StatusHealthy  NodeStatus = "healthy"
	StatusDegraded NodeStatus = "degraded"
	StatusFaulty   NodeStatus = "faulty"
)

// Rate bands behind the status labels. A node with more than half of its
// windows flagged anomalous is considered faulty.
const (
	degradedRate = 0.1
	faultyRate   = 0.5
)

// NodeSummary is the API-facing rollup for one sensor node.
type NodeSummary struct {
	NodeID       string     `json:"node_id"`
	Status       NodeStatus `json:"status"`
	Total        int64      `json:"total"`
	Anomalous    int64      `json:"anomalous"`
	AnomalyRate  float64    `json:"anomaly_rate"`
	MaturityRate float64    `json:"maturity_rate"`
	MeanMCAV     float64    `json:"mean_mcav"`
	MaxMCAV      float64    `json:"max_mcav"`
	LastSeen     time.Time  `json:"last_seen"`
}

// Summary covers all nodes seen in the selected scope.
type Summary struct {
	RunID       string         `json:"run_id,omitempty"`
	GeneratedAt time.Time      `json:"generated_at"`
	Nodes       []*NodeSummary `json:"nodes"`
}

// Engine computes summaries from the result store.
type Engine struct {
	store db.ClassificationStore
}

func NewEngine(store db.ClassificationStore) *Engine {
	return &Engine{store: store}
}

// Summarize builds the per-node summary, scoped to one run when runID is
// non-empty.
func (e *Engine) Summarize(ctx context.Context, runID string) (*Summary, error) {
	aggs, err := e.store.AggregateNodes(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}

	summary := &Summary{
		RunID:       runID,
		GeneratedAt: time.Now().UTC(),
		Nodes:       make([]*NodeSummary, 0, len(aggs)),
	}
	for _, agg := range aggs {
		summary.Nodes = append(summary.Nodes, summarizeNode(agg))
	}
	return summary, nil
}

func summarizeNode(agg *db.NodeAggregate) *NodeSummary {
	var anomalyRate, maturityRate float64
	if agg.Total > 0 {
		anomalyRate = float64(agg.Anomalous) / float64(agg.Total)
		maturityRate = float64(agg.Mature) / float64(agg.Total)
	}
	return &NodeSummary{
		NodeID:       agg.NodeID,
		Status:       statusFor(anomalyRate),
		Total:        agg.Total,
		Anomalous:    agg.Anomalous,
		AnomalyRate:  anomalyRate,
		MaturityRate: maturityRate,
		MeanMCAV:     agg.MeanMCAV,
		MaxMCAV:      agg.MaxMCAV,
		LastSeen:     agg.LastSeen,
	}
}

func statusFor(anomalyRate float64) NodeStatus {
	switch {
	case anomalyRate > faultyRate:
		return StatusFaulty
	case anomalyRate > degradedRate:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}
