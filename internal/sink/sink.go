package sink

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wsn-testbed/dca-analyzer/internal/db"
	"github.com/wsn-testbed/dca-analyzer/internal/models"
)

// Sink mirrors dca.Sink so this package does not import the engine.
type Sink interface {
	Write(ctx context.Context, recs []*models.ClassificationRecord) error
}

// ─── Store sink ───────────────────────────────────────────────────────────────

// StoreSink persists classification records through a db.Store.
type StoreSink struct {
	store db.ClassificationStore
}

func NewStoreSink(store db.ClassificationStore) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Write(ctx context.Context, recs []*models.ClassificationRecord) error {
	if err := s.store.AppendClassifications(ctx, recs); err != nil {
		return fmt.Errorf("store sink: %w", err)
	}
	return nil
}

// ─── Multi sink ───────────────────────────────────────────────────────────────

// MultiSink fans records out to every child sink in order. Every child
// receives the batch even when an earlier one fails; the first error is
// returned so the engine still aborts, without one broken sink starving the
// others of records they could persist.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Write(ctx context.Context, recs []*models.ClassificationRecord) error {
	var first error
	for _, s := range m.sinks {
		if err := s.Write(ctx, recs); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ─── Func sink ────────────────────────────────────────────────────────────────

// FuncSink adapts a bare function into a Sink. Used to feed live records to
// the websocket hub without the hub implementing the interface itself.
type FuncSink func(ctx context.Context, recs []*models.ClassificationRecord) error

func (f FuncSink) Write(ctx context.Context, recs []*models.ClassificationRecord) error {
	return f(ctx, recs)
}

// ─── Logging sink ─────────────────────────────────────────────────────────────

// LogSink writes one structured log line per record. Useful as the sole sink
// in ad-hoc runs where no store is configured.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Write(_ context.Context, recs []*models.ClassificationRecord) error {
	for _, rec := range recs {
		s.log.Info("classification",
			zap.String("node_id", rec.NodeID),
			zap.Int64("iteration", rec.Iteration),
			zap.Float64("mcav", rec.MCAV),
			zap.Float64("csm", rec.CSM),
			zap.Bool("mature", rec.Mature),
			zap.String("context", string(rec.Context)))
	}
	return nil
}
