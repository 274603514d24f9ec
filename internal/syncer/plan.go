package syncer

import (
	"catalogsync/internal/sheet"
)

const planKeyPrefix = "sync:plan:"

func planKey(runID string) string {
	return planKeyPrefix + runID
}

// Plan is the ordered batch split of one run's validated records.
type Plan struct {
	RunID     string           `json:"run_id"`
	BatchSize int              `json:"batch_size"`
	Total     int              `json:"total"`
	Batches   [][]sheet.Record `json:"batches"`
	// Done marks step-mode batches already reconciled, by index.
	Done []bool `json:"done,omitempty"`
}

// NewPlan splits records into consecutive batches of at most size records.
func NewPlan(runID string, records []sheet.Record, size int) Plan {
	if size < 1 {
		size = 1
	}
	batches := make([][]sheet.Record, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		batches = append(batches, records[start:end])
	}
	return Plan{
		RunID:     runID,
		BatchSize: size,
		Total:     len(records),
		Batches:   batches,
		Done:      make([]bool, len(batches)),
	}
}

// TotalBatches is the number of batches in the plan.
func (p Plan) TotalBatches() int {
	return len(p.Batches)
}

// Batch returns the 1-based batch n.
func (p Plan) Batch(n int) ([]sheet.Record, error) {
	if n < 1 || n > len(p.Batches) {
		return nil, ErrBatchOutOfRange
	}
	return p.Batches[n-1], nil
}
