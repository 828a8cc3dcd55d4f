package models

// Package models defines the core data types exchanged between the DCA
// engine, its observation sources, and its classification sinks.

import "time"

// Context is the binary verdict assigned to a sensor node at a time step.
type Context string

const (
	ContextNormal    Context = "normal"
	ContextAnomalous Context = "anomalous"
)

// FaultIndicators are the per-update node-health indicators reported by a
// sensor node, keyed by indicator name. The testbed nodes report the chi
// set: nt (node temperature), vs (supply voltage), bat (battery), art
// (active runtime), rst (reset source), ic (incorrect communication), adc
// (ADC self-check), usart (USART self-check). All values are expected in
// [0,1] but the engine only requires them to be finite.
type FaultIndicators map[string]float64

// IndicatorNames is the canonical order of the testbed fault indicators,
// used for CSV output and payload decoding.
var IndicatorNames = []string{"nt", "vs", "bat", "art", "rst", "ic", "adc", "usart"}

// Observation is one sensor-node status update: the use-case reading plus
// the node-health diagnostics for a single (node, timestamp) pair.
// Observations are produced by a source, consumed exactly once by the
// engine, and never mutated.
type Observation struct {
	NodeID          string
	Timestamp       time.Time
	SeqNo           int64 // node-local update counter (sntime in the testbed schema)
	Reading         float64
	PreviousReading float64
	ResetSource     bool
	Indicators      FaultIndicators
}

// ClassificationRecord is the engine's output for one antigen carried by a
// retiring dendritic cell. Records are immutable; ownership passes to the
// sink on emit.
type ClassificationRecord struct {
	RunID     string
	NodeID    string
	Timestamp time.Time // most recent observation of this node within the cell
	Iteration int64     // iteration at which the cell retired
	MCAV      float64   // mature-cell anomaly value, >= 0
	CSM       float64   // retiring cell's accumulated co-stimulatory total
	Mature    bool
	Context   Context
}
