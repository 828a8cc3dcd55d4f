package dca

import (
	"fmt"

	"github.com/wsn-testbed/dca-analyzer/internal/models"
)

// Classifier turns a retired cell's accumulated evidence into classification
// records. It is a pure computation over already-accumulated state; the only
// failure mode is a malformed cell, which callers must treat as fatal.
type Classifier struct {
	migrationThreshold      float64
	classificationThreshold float64
}

// NewClassifier creates a classifier with the configured thresholds. A cell
// is mature when its csm total exceeds the migration threshold; an antigen
// is anomalous when its cell is mature and its MCAV exceeds the
// classification threshold.
func NewClassifier(migrationThreshold, classificationThreshold float64) *Classifier {
	return &Classifier{
		migrationThreshold:      migrationThreshold,
		classificationThreshold: classificationThreshold,
	}
}

// Classify emits one record per antigen the retiring cell carried. MCAV is
// the antigen's average PAMP+Danger over its occurrences in the cell:
// averaged, not summed, so high-frequency nodes are not biased upward. Each
// record is stamped with the antigen's most recent observation time within
// the cell, labeling the newest update for that node.
func (cl *Classifier) Classify(runID string, cell *Cell, iteration int64) ([]*models.ClassificationRecord, error) {
	if cell == nil {
		return nil, fmt.Errorf("classify: nil cell")
	}

	mature := cell.csmTotal > cl.migrationThreshold

	recs := make([]*models.ClassificationRecord, 0, len(cell.order))
	for _, antigen := range cell.order {
		h := cell.antigens[antigen]
		if h == nil || h.count == 0 {
			return nil, fmt.Errorf("classify: cell born at iteration %d has empty history for antigen %s",
				cell.birthIteration, antigen)
		}

		mcav := h.matSum / float64(h.count)

		ctx := models.ContextNormal
		if mature && mcav > cl.classificationThreshold {
			ctx = models.ContextAnomalous
		}

		recs = append(recs, &models.ClassificationRecord{
			RunID:     runID,
			NodeID:    antigen,
			Timestamp: h.lastSeen,
			Iteration: iteration,
			MCAV:      mcav,
			CSM:       cell.csmTotal,
			Mature:    mature,
			Context:   ctx,
		})
	}
	return recs, nil
}
