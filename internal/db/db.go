package db

import (
	"context"
	"time"

	"github.com/wsn-testbed/dca-analyzer/internal/models"
)

// Store is the persistence interface for analysis results.
type Store interface {
	RunStore
	ClassificationStore

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// ─── Run store ────────────────────────────────────────────────────────────────

// RunRecord describes one analysis run: its identity, configuration snapshot,
// and completion counters.
type RunRecord struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Config     string     `json:"config"` // JSON snapshot of the run parameters
	Iterations int64      `json:"iterations"`
	Records    int64      `json:"records"`
}

// RunStore persists run metadata so results remain attributable after
// restarts.
type RunStore interface {
	// CreateRun registers a new run before its first iteration.
	CreateRun(ctx context.Context, rec *RunRecord) error

	// FinishRun stamps completion time and final counters on a run.
	FinishRun(ctx context.Context, id string, finishedAt time.Time, iterations, records int64) error

	// GetRun returns a single run by ID.
	GetRun(ctx context.Context, id string) (*RunRecord, error)

	// ListRuns returns runs newest-first.
	ListRuns(ctx context.Context, limit int) ([]*RunRecord, error)
}

// ─── Classification store ─────────────────────────────────────────────────────

// ClassificationFilter narrows classification queries. Zero values mean "any".
type ClassificationFilter struct {
	RunID   string
	NodeID  string
	Context models.Context
	Limit   int
}

// NodeAggregate is the raw per-node rollup behind the summary endpoint.
type NodeAggregate struct {
	NodeID    string    `json:"node_id"`
	Total     int64     `json:"total"`
	Anomalous int64     `json:"anomalous"`
	Mature    int64     `json:"mature"`
	MeanMCAV  float64   `json:"mean_mcav"`
	MaxMCAV   float64   `json:"max_mcav"`
	LastSeen  time.Time `json:"last_seen"`
}

// ClassificationStore persists the engine's classification records.
type ClassificationStore interface {
	// AppendClassifications writes a batch of records atomically.
	AppendClassifications(ctx context.Context, recs []*models.ClassificationRecord) error

	// QueryClassifications returns matching records newest-first.
	QueryClassifications(ctx context.Context, f ClassificationFilter) ([]*models.ClassificationRecord, error)

	// ListNodes returns the distinct node IDs with stored classifications.
	ListNodes(ctx context.Context) ([]string, error)

	// AggregateNodes rolls classifications up per node, optionally scoped to
	// one run. Ordered by node ID.
	AggregateNodes(ctx context.Context, runID string) ([]*NodeAggregate, error)
}
