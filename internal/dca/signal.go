package dca

// Package dca implements the dendritic cell algorithm: an immune-inspired
// streaming classifier that maintains a rotating population of evidence-
// accumulating cells and emits a per-node anomaly verdict each time a cell
// retires.

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/wsn-testbed/dca-analyzer/internal/models"
)

// ErrMalformedObservation is returned by the extractor when an observation
// is missing required fields or carries non-numeric values. The engine skips
// broadcasting that iteration's signal but still advances the population.
var ErrMalformedObservation = errors.New("malformed observation")

// ErrEndOfStream is returned by observation sources when the input is
// exhausted. It signals graceful termination, not a failure.
var ErrEndOfStream = errors.New("end of stream")

// SignalTuple is the per-observation input to the cell population. Exactly
// one tuple is derived per observation; derivation is a pure function.
type SignalTuple struct {
	Antigen   string // node ID
	Timestamp time.Time

	PAMP   float64 // 1 if the node reported a reset, else 0
	Danger float64 // weighted sum of fault indicators
	Safe   float64 // evidence of normal operation, large when readings are stable
	IC     float64 // inflammatory cytokine, reserved (always 0 here)
}

// SafeParams configures the safe-signal function. Safe decreases
// monotonically with the reading-to-reading change:
//
//	Safe = clamp(Max - Slope*delta, 0, Max)
//
// With Relative set, delta is normalized by the previous reading the way the
// testbed's original analysis did (zero when the previous reading is zero).
type SafeParams struct {
	Max      float64
	Slope    float64
	Relative bool
}

// Extractor maps raw node updates to DCA signal tuples.
type Extractor struct {
	// weight names in sorted order so the danger sum is evaluated
	// identically on every run
	names   []string
	weights map[string]float64
	safe    SafeParams
}

// NewExtractor builds an extractor from the configured danger weights and
// safe-function parameters. Weights must be non-negative; this is enforced
// by config validation before the engine is constructed.
func NewExtractor(weights map[string]float64, safe SafeParams) *Extractor {
	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Strings(names)
	return &Extractor{names: names, weights: weights, safe: safe}
}

// Extract derives the signal tuple for one observation.
func (e *Extractor) Extract(obs *models.Observation) (SignalTuple, error) {
	if obs == nil {
		return SignalTuple{}, fmt.Errorf("%w: nil observation", ErrMalformedObservation)
	}
	if obs.NodeID == "" {
		return SignalTuple{}, fmt.Errorf("%w: empty node ID", ErrMalformedObservation)
	}
	if obs.Timestamp.IsZero() {
		return SignalTuple{}, fmt.Errorf("%w: node %s: zero timestamp", ErrMalformedObservation, obs.NodeID)
	}
	if !isFinite(obs.Reading) || !isFinite(obs.PreviousReading) {
		return SignalTuple{}, fmt.Errorf("%w: node %s: non-numeric reading", ErrMalformedObservation, obs.NodeID)
	}

	sig := SignalTuple{
		Antigen:   obs.NodeID,
		Timestamp: obs.Timestamp,
	}

	if obs.ResetSource {
		sig.PAMP = 1
	}

	for _, name := range e.names {
		v, ok := obs.Indicators[name]
		if !ok {
			return SignalTuple{}, fmt.Errorf("%w: node %s: missing fault indicator %q",
				ErrMalformedObservation, obs.NodeID, name)
		}
		if !isFinite(v) {
			return SignalTuple{}, fmt.Errorf("%w: node %s: fault indicator %q is non-numeric",
				ErrMalformedObservation, obs.NodeID, name)
		}
		sig.Danger += e.weights[name] * v
	}

	sig.Safe = e.safeValue(obs.Reading, obs.PreviousReading)

	// IC stays 0 until an external fault-detector score is wired in.
	return sig, nil
}

// safeValue computes the capped, monotonically decreasing safe signal.
func (e *Extractor) safeValue(cur, prev float64) float64 {
	delta := math.Abs(cur - prev)
	if e.safe.Relative {
		if prev == 0 {
			delta = 0
		} else {
			delta = delta / math.Abs(prev)
		}
	}
	s := e.safe.Max - e.safe.Slope*delta
	if s < 0 {
		return 0
	}
	if s > e.safe.Max {
		return e.safe.Max
	}
	return s
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
