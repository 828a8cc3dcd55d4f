package dca

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wsn-testbed/dca-analyzer/internal/metrics"
	"github.com/wsn-testbed/dca-analyzer/internal/models"
)

// Source produces the time-ordered observation stream. Next blocks until an
// observation is available, the context is cancelled, or the stream ends
// (ErrEndOfStream). Ordering must be monotonic in timestamp per node;
// interleaving across nodes is fine since antigens are identity-tagged.
type Source interface {
	Next(ctx context.Context) (*models.Observation, error)
}

// Sink accepts classification records. Records are self-contained, so sinks
// may write them independently; the engine never retries a failed write
// itself (retry policy belongs to the sink).
type Sink interface {
	Write(ctx context.Context, recs []*models.ClassificationRecord) error
}

// Params is the immutable per-run configuration of the engine. It is passed
// in explicitly at construction so independent runs can coexist without
// shared ambient state.
type Params struct {
	Lifespan                int
	DangerWeights           map[string]float64
	MigrationThreshold      float64
	ClassificationThreshold float64
	Safe                    SafeParams
}

// RunStats summarizes one completed (or aborted) run.
type RunStats struct {
	Iterations int64
	Malformed  int64
	Retired    int64
	Records    int64
	Anomalous  int64
}

// Engine drives one iteration at a time: pull observation, extract signals,
// step the population, classify on retirement, push records to the sink. The
// population is owned exclusively by the Run loop; no two iterations ever
// run concurrently.
type Engine struct {
	params     Params
	runID      string
	log        *zap.Logger
	extractor  *Extractor
	population *Population
	classifier *Classifier
	source     Source
	sink       Sink
}

// New wires up an engine for a single run. Every run gets a fresh population
// and a unique run ID.
func New(params Params, source Source, sink Sink, log *zap.Logger) (*Engine, error) {
	if source == nil || sink == nil {
		return nil, fmt.Errorf("engine requires a source and a sink")
	}
	for name, w := range params.DangerWeights {
		if w < 0 {
			return nil, fmt.Errorf("danger weight %q is negative", name)
		}
	}
	pop, err := NewPopulation(params.Lifespan)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		params:     params,
		runID:      uuid.NewString(),
		log:        log,
		extractor:  NewExtractor(params.DangerWeights, params.Safe),
		population: pop,
		classifier: NewClassifier(params.MigrationThreshold, params.ClassificationThreshold),
		source:     source,
		sink:       sink,
	}, nil
}

// RunID returns the unique ID assigned to this run.
func (e *Engine) RunID() string { return e.runID }

// Run processes observations until the source is exhausted or the context is
// cancelled. On end of stream it returns nil: still-live cells are discarded
// without emitting partial classifications, since their accumulation is
// incomplete by definition. Invariant violations and sink write failures
// abort the run with an error; a failed write never corrupts population
// state, so the caller can retry delivery with the already-computed records.
func (e *Engine) Run(ctx context.Context) (RunStats, error) {
	var stats RunStats

	e.log.Info("run started",
		zap.String("run_id", e.runID),
		zap.Int("lifespan", e.params.Lifespan),
		zap.Float64("migration_threshold", e.params.MigrationThreshold),
		zap.Float64("classification_threshold", e.params.ClassificationThreshold),
	)

	for {
		// Cancellation is cooperative, checked once per iteration boundary,
		// so the population is never left with a partially-aged cell.
		select {
		case <-ctx.Done():
			e.log.Info("run cancelled", zap.String("run_id", e.runID), zap.Int64("iterations", stats.Iterations))
			return stats, ctx.Err()
		default:
		}

		obs, err := e.source.Next(ctx)
		if errors.Is(err, ErrEndOfStream) {
			if live := e.population.Len(); live > 0 {
				e.log.Info("end of stream; discarding incomplete cells",
					zap.String("run_id", e.runID), zap.Int("live_cells", live))
			}
			e.log.Info("run finished",
				zap.String("run_id", e.runID),
				zap.Int64("iterations", stats.Iterations),
				zap.Int64("records", stats.Records),
				zap.Int64("anomalous", stats.Anomalous),
			)
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("source: %w", err)
		}

		start := time.Now()
		if err := e.iterate(ctx, obs, &stats); err != nil {
			return stats, err
		}
		metrics.IterationDuration.Observe(time.Since(start).Seconds())
	}
}

// iterate runs a single DCA iteration for one observation.
func (e *Engine) iterate(ctx context.Context, obs *models.Observation, stats *RunStats) error {
	stats.Iterations++
	metrics.ObservationsTotal.Inc()

	sig, err := e.extractor.Extract(obs)
	broadcast := true
	switch {
	case errors.Is(err, ErrMalformedObservation):
		// Skip only this observation's signal; the population still ages,
		// retires, and spawns so one corrupt record cannot stall the window.
		broadcast = false
		stats.Malformed++
		metrics.MalformedObservationsTotal.Inc()
		e.log.Warn("malformed observation skipped", zap.Error(err), zap.Int64("iteration", stats.Iterations))
	case err != nil:
		return fmt.Errorf("extract: %w", err)
	}

	retired, err := e.population.Step(sig, broadcast)
	if err != nil {
		e.log.Error("aborting run", zap.Error(err), zap.String("run_id", e.runID))
		return err
	}
	metrics.PopulationSize.Set(float64(e.population.Len()))

	if retired == nil {
		return nil
	}

	stats.Retired++
	verdict := "semimature"
	if retired.CSMTotal() > e.params.MigrationThreshold {
		verdict = "mature"
	}
	metrics.CellsRetiredTotal.WithLabelValues(verdict).Inc()

	recs, err := e.classifier.Classify(e.runID, retired, e.population.Iteration())
	if err != nil {
		e.log.Error("aborting run", zap.Error(err), zap.String("run_id", e.runID))
		return err
	}
	for _, rec := range recs {
		metrics.ClassificationsTotal.WithLabelValues(string(rec.Context)).Inc()
		metrics.MCAVObserved.Observe(rec.MCAV)
		if rec.Context == models.ContextAnomalous {
			stats.Anomalous++
			e.log.Info("anomalous context assigned",
				zap.String("node", rec.NodeID),
				zap.Float64("mcav", rec.MCAV),
				zap.Int64("iteration", rec.Iteration),
			)
		}
	}
	stats.Records += int64(len(recs))

	if len(recs) > 0 {
		if err := e.sink.Write(ctx, recs); err != nil {
			metrics.SinkWriteErrorsTotal.Inc()
			return fmt.Errorf("sink write: %w", err)
		}
	}
	return nil
}
