package syncer

import (
	"context"

	"catalogsync/internal/runlog"
	"catalogsync/internal/state"
)

const batchesKeyPrefix = "sync:batches:"

func batchesKey(runID string) string {
	return batchesKeyPrefix + runID
}

// batchEntry records how far one queued batch got. A redelivered message
// resumes from there instead of reconciling its records a second time.
type batchEntry struct {
	Logged   bool            `json:"logged,omitempty"`
	Advanced bool            `json:"advanced,omitempty"`
	Counters runlog.Counters `json:"counters"`
}

// batchLedger maps batch numbers of one run to their entry. A present key
// means the batch was claimed.
type batchLedger map[int]batchEntry

// claimBatch marks batch n of runID as taken. fresh is false when an earlier
// delivery already claimed it; entry is then the state that delivery left.
func (s *Service) claimBatch(ctx context.Context, runID string, n int) (entry batchEntry, fresh bool, err error) {
	err = state.UpdateJSON(ctx, s.store, batchesKey(runID), state.DefaultTTL, func(l *batchLedger) error {
		if *l == nil {
			*l = batchLedger{}
		}
		e, ok := (*l)[n]
		if ok {
			entry = e
			return nil
		}
		(*l)[n] = batchEntry{}
		fresh = true
		return nil
	})
	return entry, fresh, err
}

func (s *Service) updateBatch(ctx context.Context, runID string, n int, fn func(e *batchEntry)) error {
	return state.UpdateJSON(ctx, s.store, batchesKey(runID), state.DefaultTTL, func(l *batchLedger) error {
		if *l == nil {
			*l = batchLedger{}
		}
		e := (*l)[n]
		fn(&e)
		(*l)[n] = e
		return nil
	})
}
