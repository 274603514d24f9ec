package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"catalogsync/internal/state"
)

const (
	KeyInProgress = "sync:status"
	KeySnapshot   = "sync:progress"
)

var errAlreadySet = errors.New("flag already set")

// Snapshot is the live counter set of the current run.
type Snapshot struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Updated   int `json:"updated"`
	Created   int `json:"created"`
	Errors    int `json:"errors"`
	Percent   int `json:"percent"`
}

// Complete reports whether every planned record was handled.
func (s Snapshot) Complete() bool {
	return s.Total > 0 && s.Processed >= s.Total
}

func (s *Snapshot) recompute() {
	s.Percent = Percent(s.Processed, s.Total)
}

// Percent is round(processed/total*100) capped at 100, or 0 without a total.
func Percent(processed, total int) int {
	if total <= 0 {
		return 0
	}
	p := int(math.Round(float64(processed) / float64(total) * 100))
	if p > 100 {
		return 100
	}
	if p < 0 {
		return 0
	}
	return p
}

// Delta is added to the snapshot by Advance.
type Delta struct {
	Processed int
	Updated   int
	Created   int
	Errors    int
}

// Tracker stores the snapshot and the in-progress flag in a shared store.
type Tracker struct {
	store  state.Store
	ttl    time.Duration
	logger *slog.Logger

	// OnComplete runs after a write finishes the run.
	OnComplete func(ctx context.Context)
}

func NewTracker(store state.Store, logger *slog.Logger) *Tracker {
	return &Tracker{
		store:  store,
		ttl:    state.DefaultTTL,
		logger: logger,
	}
}

// Reset zeroes all counters.
func (t *Tracker) Reset(ctx context.Context) error {
	return state.SetJSON(ctx, t.store, KeySnapshot, Snapshot{}, t.ttl)
}

func (t *Tracker) SetTotal(ctx context.Context, total int) error {
	return state.UpdateJSON(ctx, t.store, KeySnapshot, t.ttl, func(s *Snapshot) error {
		s.Total = total
		s.recompute()
		return nil
	})
}

// Update overwrites the counters with cumulative values.
func (t *Tracker) Update(ctx context.Context, processed, total, updated, created, errs int) (Snapshot, error) {
	snap := Snapshot{
		Total:     total,
		Processed: processed,
		Updated:   updated,
		Created:   created,
		Errors:    errs,
	}
	snap.recompute()

	if err := state.SetJSON(ctx, t.store, KeySnapshot, snap, t.ttl); err != nil {
		return Snapshot{}, err
	}
	if snap.Complete() {
		t.complete(ctx)
	}
	return snap, nil
}

// Advance adds d to the counters atomically. Only the write that crosses the
// total fires completion.
func (t *Tracker) Advance(ctx context.Context, d Delta) (Snapshot, error) {
	var before, after Snapshot
	err := state.UpdateJSON(ctx, t.store, KeySnapshot, t.ttl, func(s *Snapshot) error {
		before = *s
		s.Processed += d.Processed
		s.Updated += d.Updated
		s.Created += d.Created
		s.Errors += d.Errors
		s.recompute()
		after = *s
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}

	if after.Complete() && !before.Complete() {
		t.complete(ctx)
	}
	return after, nil
}

func (t *Tracker) complete(ctx context.Context) {
	if err := t.SetInProgress(ctx, false); err != nil {
		t.logger.Error("clear in-progress flag", slog.Any("error", err))
	}
	if t.OnComplete != nil {
		t.OnComplete(ctx)
	}
}

// Get returns the current snapshot, zero when none was recorded.
func (t *Tracker) Get(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	if _, err := state.GetJSON(ctx, t.store, KeySnapshot, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (t *Tracker) SetInProgress(ctx context.Context, active bool) error {
	if !active {
		return t.store.Delete(ctx, KeyInProgress)
	}
	return state.SetJSON(ctx, t.store, KeyInProgress, true, t.ttl)
}

func (t *Tracker) IsInProgress(ctx context.Context) (bool, error) {
	var active bool
	if _, err := state.GetJSON(ctx, t.store, KeyInProgress, &active); err != nil {
		return false, err
	}
	return active, nil
}

// Acquire sets the in-progress flag unless it is already set and reports
// whether the caller now owns the run.
func (t *Tracker) Acquire(ctx context.Context) (bool, error) {
	err := state.UpdateJSON(ctx, t.store, KeyInProgress, t.ttl, func(active *bool) error {
		if *active {
			return errAlreadySet
		}
		*active = true
		return nil
	})
	if errors.Is(err, errAlreadySet) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquire run flag: %w", err)
	}
	return true, nil
}
