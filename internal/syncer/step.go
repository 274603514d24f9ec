package syncer

import (
	"context"
	"errors"
	"fmt"

	"catalogsync/internal/progress"
	"catalogsync/internal/state"
)

// PrepareResult answers the initializing step of a step-driven run.
type PrepareResult struct {
	RunID         string `json:"run_id,omitempty"`
	NextBatch     int    `json:"next_batch"`
	TotalBatches  int    `json:"total_batches"`
	TotalProducts int    `json:"total_products"`
	Empty         bool   `json:"empty,omitempty"`
}

// StepResult answers one processed batch of a step-driven run.
type StepResult struct {
	RunID        string            `json:"run_id"`
	Batch        int               `json:"batch"`
	NextBatch    int               `json:"next_batch"`
	TotalBatches int               `json:"total_batches"`
	Progress     progress.Snapshot `json:"progress"`
	Continue     bool              `json:"continue"`
}

// Prepare starts a run driven one batch per request. The batch plan is kept
// in the shared store under the run id so that any API instance can serve
// the following steps.
func (s *Service) Prepare(ctx context.Context) (PrepareResult, error) {
	records, runID, err := s.begin(ctx, ModeStep)
	if err != nil {
		return PrepareResult{}, err
	}
	if len(records) == 0 {
		return PrepareResult{Empty: true}, nil
	}

	plan := NewPlan(runID, records, s.cfg.BatchSize)
	if err := state.SetJSON(ctx, s.store, planKey(runID), plan, state.DefaultTTL); err != nil {
		err = fmt.Errorf("store batch plan: %w", err)
		s.abort(ctx, runID, ModeStep, err)
		return PrepareResult{}, err
	}

	return PrepareResult{
		RunID:         runID,
		NextBatch:     1,
		TotalBatches:  plan.TotalBatches(),
		TotalProducts: plan.Total,
	}, nil
}

// ProcessPlannedBatch reconciles the 1-based batch n of a prepared run. An
// empty runID selects the current run. The plan is discarded once every
// batch was processed, or as soon as a newer run replaced this one.
func (s *Service) ProcessPlannedBatch(ctx context.Context, runID string, n int) (StepResult, error) {
	current, err := s.runs.CurrentID(ctx)
	if err != nil {
		return StepResult{}, err
	}
	if runID == "" {
		if current == "" {
			return StepResult{}, ErrPlanNotFound
		}
		runID = current
	}

	var plan Plan
	ok, err := state.GetJSON(ctx, s.store, planKey(runID), &plan)
	if err != nil {
		return StepResult{}, err
	}
	if !ok {
		return StepResult{}, ErrPlanNotFound
	}
	if current != runID {
		s.discardPlan(ctx, runID)
		s.supersede(ctx, runID, current, n, plan.TotalBatches())
		return StepResult{}, ErrStopped
	}
	batch, err := plan.Batch(n)
	if err != nil {
		return StepResult{}, err
	}

	active, err := s.tracker.IsInProgress(ctx)
	if err != nil {
		return StepResult{}, err
	}
	if !active {
		s.discardPlan(ctx, runID)
		s.stopRun(ctx, runID, fmt.Sprintf("sync stopped before batch %d of %d", n, plan.TotalBatches()))
		return StepResult{}, ErrStopped
	}

	if err := s.markDone(ctx, runID, n); err != nil {
		return StepResult{}, err
	}

	res := s.reconcile(ctx, runID, n, plan.TotalBatches(), batch)
	s.setState(StateRunning)

	if err := s.runs.Add(ctx, runID, countersOf(len(batch), res)); err != nil {
		return StepResult{}, fmt.Errorf("record batch %d: %w", n, err)
	}
	snap, err := s.tracker.Advance(ctx, progress.Delta{
		Processed: len(batch),
		Updated:   res.Updated,
		Created:   res.Created,
		Errors:    res.Errors,
	})
	if err != nil {
		return StepResult{}, fmt.Errorf("advance progress: %w", err)
	}

	out := StepResult{
		RunID:        runID,
		Batch:        n,
		NextBatch:    n + 1,
		TotalBatches: plan.TotalBatches(),
		Progress:     snap,
		Continue:     n < plan.TotalBatches(),
	}
	if snap.Complete() {
		out.Continue = false
		s.discardPlan(ctx, runID)
	}
	return out, nil
}

// markDone flags batch n in the stored plan, failing when another request
// already took it.
func (s *Service) markDone(ctx context.Context, runID string, n int) error {
	err := state.UpdateJSON(ctx, s.store, planKey(runID), state.DefaultTTL, func(p *Plan) error {
		if p.RunID == "" {
			return ErrPlanNotFound
		}
		if len(p.Done) != len(p.Batches) {
			p.Done = make([]bool, len(p.Batches))
		}
		if p.Done[n-1] {
			return ErrBatchDone
		}
		p.Done[n-1] = true
		return nil
	})
	if errors.Is(err, ErrBatchDone) {
		return fmt.Errorf("batch %d: %w", n, err)
	}
	return err
}

// supersede fails a step run that lost the current-run pointer to a newer
// run. The newer run owns the flag and the live progress, so neither is
// touched.
func (s *Service) supersede(ctx context.Context, runID, current string, n, total int) {
	ctx = context.WithoutCancel(ctx)
	s.logger.Warn("batch refused, run was superseded",
		"run_id", runID, "current_run_id", current, "batch", n, "total_batches", total)
	msg := fmt.Sprintf("sync superseded before batch %d of %d", n, total)
	if err := s.runs.Close(ctx, runID, false, msg); err != nil {
		s.logger.Error("close superseded run", "run_id", runID, "err", err)
	}
}

func (s *Service) discardPlan(ctx context.Context, runID string) {
	if err := s.store.Delete(context.WithoutCancel(ctx), planKey(runID)); err != nil {
		s.logger.Warn("discard batch plan", "run_id", runID, "err", err)
	}
}
