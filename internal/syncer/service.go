package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"catalogsync/internal/config"
	"catalogsync/internal/metrics"
	"catalogsync/internal/progress"
	"catalogsync/internal/queue"
	"catalogsync/internal/reconcile"
	"catalogsync/internal/runlog"
	"catalogsync/internal/sheet"
	"catalogsync/internal/state"
)

// KeyLastSync holds the time of the last completed run.
const KeyLastSync = "sync:last_sync"

// Run modes recorded on the run log.
const (
	ModeSync  = "sync"
	ModeAsync = "async"
	ModeStep  = "step"
)

// State is the orchestrator phase seen by this process.
type State string

const (
	StateIdle       State = "idle"
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateCompleting State = "completing"
	StateAborting   State = "aborting"
)

// Reader extracts candidate rows from the configured sheet.
type Reader interface {
	Read(ctx context.Context, rawURL string) ([]sheet.Candidate, error)
}

// BatchProcessor reconciles one batch against the catalog.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, records []sheet.Record) reconcile.Result
}

// Deps wires a Service. Publisher may be nil when only synchronous and
// step modes are used.
type Deps struct {
	Config    config.Sync
	Reader    Reader
	Processor BatchProcessor
	Store     state.Store
	Tracker   *progress.Tracker
	Runs      *runlog.Log
	Publisher queue.Publisher
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Service drives synchronization runs.
type Service struct {
	cfg       config.Sync
	reader    Reader
	processor BatchProcessor
	store     state.Store
	tracker   *progress.Tracker
	runs      *runlog.Log
	publisher queue.Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	mu    sync.Mutex
	state State
}

// New builds the orchestrator and installs its completion hook on the
// tracker.
func New(d Deps) *Service {
	s := &Service{
		cfg:       d.Config,
		reader:    d.Reader,
		processor: d.Processor,
		store:     d.Store,
		tracker:   d.Tracker,
		runs:      d.Runs,
		publisher: d.Publisher,
		logger:    d.Logger,
		metrics:   d.Metrics,
		now:       time.Now,
		state:     StateIdle,
	}
	s.tracker.OnComplete = s.onComplete
	return s
}

// State returns the local phase of the orchestrator.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Service) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	if prev != st {
		s.logger.Debug("sync state changed", "from", prev, "to", st)
	}
}

// StartOptions selects how a run executes.
type StartOptions struct {
	Async bool
}

// StartResult summarizes a started run.
type StartResult struct {
	RunID         string             `json:"run_id,omitempty"`
	TotalProducts int                `json:"total_products"`
	TotalBatches  int                `json:"total_batches"`
	Async         bool               `json:"async"`
	Empty         bool               `json:"empty,omitempty"`
	Stopped       bool               `json:"stopped,omitempty"`
	Progress      *progress.Snapshot `json:"progress,omitempty"`
}

// Start runs a synchronization. In synchronous mode every batch is
// reconciled before it returns; in asynchronous mode one queue message per
// batch is published and the run continues in the workers.
func (s *Service) Start(ctx context.Context, opts StartOptions) (StartResult, error) {
	mode := ModeSync
	if opts.Async {
		mode = ModeAsync
		if s.publisher == nil {
			return StartResult{}, ErrNoPublisher
		}
	}

	records, runID, err := s.begin(ctx, mode)
	if err != nil {
		return StartResult{}, err
	}
	if len(records) == 0 {
		return StartResult{Empty: true, Async: opts.Async}, nil
	}

	plan := NewPlan(runID, records, s.cfg.BatchSize)
	res := StartResult{
		RunID:         runID,
		TotalProducts: plan.Total,
		TotalBatches:  plan.TotalBatches(),
		Async:         opts.Async,
	}

	if opts.Async {
		if err := s.dispatch(ctx, plan); err != nil {
			s.abort(ctx, runID, mode, err)
			return res, err
		}
		return res, nil
	}

	snap, stopped, err := s.runInline(ctx, plan)
	if err != nil {
		s.abort(ctx, runID, mode, err)
		return res, err
	}
	res.Progress = &snap
	res.Stopped = stopped
	if !stopped {
		s.finalize(ctx, runID)
	}
	return res, nil
}

// begin moves Idle to Running: it takes the run flag, resets progress,
// extracts and validates the sheet and opens the run log. An empty sheet
// releases the flag and returns no records and no run.
func (s *Service) begin(ctx context.Context, mode string) ([]sheet.Record, string, error) {
	if !s.cfg.Enabled {
		return nil, "", ErrDisabled
	}
	acquired, err := s.tracker.Acquire(ctx)
	if err != nil {
		return nil, "", err
	}
	if !acquired {
		return nil, "", ErrAlreadyRunning
	}
	s.setState(StateStarting)
	s.metrics.SetInProgress(true)

	if err := s.tracker.Reset(ctx); err != nil {
		s.abort(ctx, "", mode, err)
		return nil, "", err
	}

	candidates, err := s.reader.Read(ctx, s.cfg.SheetURL)
	if err != nil {
		s.abort(ctx, "", mode, err)
		return nil, "", err
	}
	records := sheet.Validate(s.logger, candidates)
	if len(records) == 0 {
		s.logger.Warn("no products found in the sheet", "candidates", len(candidates))
		s.release(ctx)
		return nil, "", nil
	}

	runID, err := s.runs.Open(ctx, len(records), mode)
	if err != nil {
		s.abort(ctx, "", mode, err)
		return nil, "", err
	}
	if err := s.tracker.SetTotal(ctx, len(records)); err != nil {
		s.abort(ctx, runID, mode, err)
		return nil, "", err
	}

	s.setState(StateRunning)
	s.logger.Info("sync started",
		"run_id", runID,
		"mode", mode,
		"records", len(records),
		"batch_size", s.cfg.BatchSize,
	)
	return records, runID, nil
}

func (s *Service) dispatch(ctx context.Context, plan Plan) error {
	total := plan.TotalBatches()
	for i, batch := range plan.Batches {
		msg := queue.BatchMessage{
			RunID:        plan.RunID,
			Records:      batch,
			BatchNumber:  i + 1,
			TotalBatches: total,
		}
		if err := s.publisher.PublishBatch(ctx, msg); err != nil {
			return fmt.Errorf("schedule batch %d of %d: %w", i+1, total, err)
		}
		s.logger.Info("batch scheduled", "run_id", plan.RunID, "batch", i+1, "total_batches", total, "records", len(batch))
	}
	s.logger.Info("all batches scheduled", "run_id", plan.RunID, "total_batches", total)
	return nil
}

// runInline reconciles every batch in order, writing cumulative counters
// after each one. A cleared flag stops the loop before the next batch.
func (s *Service) runInline(ctx context.Context, plan Plan) (progress.Snapshot, bool, error) {
	var (
		snap   progress.Snapshot
		totals runlog.Counters
	)
	total := plan.TotalBatches()

	for i, batch := range plan.Batches {
		active, err := s.tracker.IsInProgress(ctx)
		if err != nil {
			return snap, false, err
		}
		if !active {
			s.stopRun(ctx, plan.RunID, fmt.Sprintf("sync stopped before batch %d of %d", i+1, total))
			return snap, true, nil
		}

		res := s.reconcile(ctx, plan.RunID, i+1, total, batch)
		totals.Processed += len(batch)
		totals.Updated += res.Updated
		totals.Created += res.Created
		totals.Errors += res.Errors

		if err := s.runs.Update(ctx, plan.RunID, totals); err != nil {
			return snap, false, err
		}
		snap, err = s.tracker.Update(ctx, totals.Processed, plan.Total, totals.Updated, totals.Created, totals.Errors)
		if err != nil {
			return snap, false, err
		}
	}
	return snap, false, nil
}

func (s *Service) reconcile(ctx context.Context, runID string, n, total int, batch []sheet.Record) reconcile.Result {
	start := time.Now()
	res := s.processor.ProcessBatch(ctx, batch)
	elapsed := time.Since(start)

	s.metrics.ObserveBatch(elapsed, res.Updated, res.Created, res.Errors)
	s.logger.Info("batch processed",
		"run_id", runID,
		"batch", n,
		"total_batches", total,
		"processed", res.Processed(),
		"updated", res.Updated,
		"created", res.Created,
		"errors", res.Errors,
		"skipped", res.Skipped,
		"duration", elapsed,
	)
	return res
}

func countersOf(processed int, r reconcile.Result) runlog.Counters {
	return runlog.Counters{
		Processed: processed,
		Updated:   r.Updated,
		Created:   r.Created,
		Errors:    r.Errors,
	}
}

// HandleBatch is the worker side of an asynchronous run. The batch is
// reconciled even when the run was stopped; its counters are added to the
// run log first and to the live progress second so that the write which
// completes the progress sees every batch in the log. Each (run, batch) pair
// is reconciled at most once: a redelivery only finishes the bookkeeping an
// earlier delivery left undone.
func (s *Service) HandleBatch(ctx context.Context, msg queue.BatchMessage) error {
	n := msg.BatchNumber
	log := s.logger.With("run_id", msg.RunID, "batch", n, "total_batches", msg.TotalBatches)

	entry, fresh, err := s.claimBatch(ctx, msg.RunID, n)
	if err != nil {
		return fmt.Errorf("claim batch %d: %w", n, err)
	}
	switch {
	case fresh:
		if msg.Last() {
			log.Info("final batch of run received")
		}
		res := s.reconcile(ctx, msg.RunID, n, msg.TotalBatches, msg.Records)
		entry.Counters = countersOf(len(msg.Records), res)
		if err := s.runs.Add(ctx, msg.RunID, entry.Counters); err != nil {
			return fmt.Errorf("record batch %d: %w", n, err)
		}
		counters := entry.Counters
		if err := s.updateBatch(ctx, msg.RunID, n, func(e *batchEntry) {
			e.Logged = true
			e.Counters = counters
		}); err != nil {
			return fmt.Errorf("mark batch %d recorded: %w", n, err)
		}
	case entry.Advanced:
		log.Warn("duplicate batch delivery ignored")
		return nil
	case !entry.Logged:
		log.Warn("batch already taken by another delivery, skipping")
		return nil
	default:
		log.Info("resuming progress of a redelivered batch")
	}

	current, err := s.runs.CurrentID(ctx)
	if err != nil {
		return err
	}
	if current != msg.RunID {
		log.Warn("batch belongs to a finished run, progress left untouched", "current_run_id", current)
		return nil
	}

	snap, err := s.tracker.Advance(ctx, progress.Delta{
		Processed: entry.Counters.Processed,
		Updated:   entry.Counters.Updated,
		Created:   entry.Counters.Created,
		Errors:    entry.Counters.Errors,
	})
	if err != nil {
		return fmt.Errorf("advance progress: %w", err)
	}
	if err := s.updateBatch(ctx, msg.RunID, n, func(e *batchEntry) { e.Advanced = true }); err != nil {
		log.Warn("mark batch advanced", "err", err)
	}
	log.Debug("progress advanced", "processed", snap.Processed, "total", snap.Total, "percent", snap.Percent)
	return nil
}

// Stop clears the run flag. Batches already in flight still finish their
// bookkeeping.
func (s *Service) Stop(ctx context.Context) error {
	if err := s.tracker.SetInProgress(ctx, false); err != nil {
		return err
	}
	s.metrics.SetInProgress(false)
	s.logger.Info("sync stop requested")
	return nil
}

// onComplete runs once when the live progress reaches its total.
func (s *Service) onComplete(ctx context.Context) {
	s.setState(StateCompleting)
	ctx = context.WithoutCancel(ctx)

	if err := s.runs.CloseCurrent(ctx, true, ""); err != nil {
		s.logger.Error("close completed run", "err", err)
	}
	s.recordLastSync(ctx)
	s.metrics.IncRun("completed")
	s.metrics.SetInProgress(false)
	s.logger.Info("sync completed")
	s.setState(StateIdle)
}

// finalize closes an inline run. It is a no-op on the run log when the
// completion hook already closed it.
func (s *Service) finalize(ctx context.Context, runID string) {
	ctx = context.WithoutCancel(ctx)
	if err := s.runs.Close(ctx, runID, true, ""); err != nil {
		s.logger.Error("close run", "run_id", runID, "err", err)
	}
	if err := s.tracker.SetInProgress(ctx, false); err != nil {
		s.logger.Error("clear in-progress flag", "err", err)
	}
	s.setState(StateIdle)
}

func (s *Service) stopRun(ctx context.Context, runID, message string) {
	ctx = context.WithoutCancel(ctx)
	s.logger.Warn("sync stopped", "run_id", runID, "reason", message)
	if err := s.runs.Close(ctx, runID, false, message); err != nil {
		s.logger.Error("close stopped run", "run_id", runID, "err", err)
	}
	s.metrics.IncRun("stopped")
	s.metrics.SetInProgress(false)
	s.setState(StateIdle)
}

// abort clears the flag and records the failure. A failure before the run
// log was opened still leaves a FAILED run behind.
func (s *Service) abort(ctx context.Context, runID, mode string, cause error) {
	s.setState(StateAborting)
	ctx = context.WithoutCancel(ctx)
	s.logger.Error("sync aborted", "run_id", runID, "err", cause)

	if err := s.tracker.SetInProgress(ctx, false); err != nil {
		s.logger.Error("clear in-progress flag", "err", err)
	}
	if runID == "" {
		id, err := s.runs.Open(ctx, 0, mode)
		if err != nil {
			s.logger.Error("open failed run", "err", err)
		}
		runID = id
	}
	if runID != "" {
		if err := s.runs.Close(ctx, runID, false, cause.Error()); err != nil {
			s.logger.Error("close failed run", "run_id", runID, "err", err)
		}
	}
	s.metrics.IncRun("failed")
	s.metrics.SetInProgress(false)
	s.setState(StateIdle)
}

func (s *Service) release(ctx context.Context) {
	if err := s.tracker.SetInProgress(context.WithoutCancel(ctx), false); err != nil {
		s.logger.Error("clear in-progress flag", "err", err)
	}
	s.metrics.SetInProgress(false)
	s.setState(StateIdle)
}

func (s *Service) recordLastSync(ctx context.Context) {
	now := s.now().UTC()
	if err := state.SetJSON(ctx, s.store, KeyLastSync, now, 0); err != nil {
		s.logger.Error("record last sync time", "err", err)
		return
	}
	s.metrics.SetLastSync(now)
}

// LastSync returns the time of the last completed run, nil when none.
func (s *Service) LastSync(ctx context.Context) (*time.Time, error) {
	var t time.Time
	ok, err := state.GetJSON(ctx, s.store, KeyLastSync, &t)
	if err != nil || !ok {
		return nil, err
	}
	return &t, nil
}

// Status is the polled view of the current or last run.
type Status struct {
	InProgress bool       `json:"in_progress"`
	State      State      `json:"state"`
	RunID      string     `json:"run_id,omitempty"`
	Total      int        `json:"total"`
	Processed  int        `json:"processed"`
	Updated    int        `json:"updated"`
	Created    int        `json:"created"`
	Errors     int        `json:"errors"`
	Percent    int        `json:"percent"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
}

// Status reports the live snapshot. When a run is active but the snapshot
// reads zeros, the counters are taken from the latest run log.
func (s *Service) Status(ctx context.Context) (Status, error) {
	active, err := s.tracker.IsInProgress(ctx)
	if err != nil {
		return Status{}, err
	}
	snap, err := s.tracker.Get(ctx)
	if err != nil {
		return Status{}, err
	}
	runID, err := s.runs.CurrentID(ctx)
	if err != nil {
		return Status{}, err
	}

	st := Status{
		InProgress: active,
		State:      s.State(),
		RunID:      runID,
		Total:      snap.Total,
		Processed:  snap.Processed,
		Updated:    snap.Updated,
		Created:    snap.Created,
		Errors:     snap.Errors,
		Percent:    snap.Percent,
	}

	if snap.Total == 0 && snap.Processed == 0 {
		latest, err := s.runs.Latest(ctx)
		if err != nil {
			return Status{}, err
		}
		if latest != nil && (active || latest.Active()) {
			st.RunID = latest.ID
			st.Total = latest.Total
			st.Processed = latest.Processed
			st.Updated = latest.Updated
			st.Created = latest.Created
			st.Errors = latest.ErrorCount
			st.Percent = progress.Percent(latest.Processed, latest.Total)
		}
	}

	if st.LastSyncAt, err = s.LastSync(ctx); err != nil {
		return Status{}, err
	}
	return st, nil
}

// Runs lists the most recent run logs.
func (s *Service) Runs(ctx context.Context, limit int) ([]runlog.Run, error) {
	return s.runs.List(ctx, limit)
}

// Run returns one run log.
func (s *Service) Run(ctx context.Context, id string) (*runlog.Run, error) {
	return s.runs.Get(ctx, id)
}

// Prune deletes run logs older than the configured retention.
func (s *Service) Prune(ctx context.Context) (int64, error) {
	return s.runs.Prune(ctx, s.cfg.LogRetention())
}

// TickResult describes what a scheduler tick did.
type TickResult struct {
	Started bool         `json:"started"`
	Reason  string       `json:"reason,omitempty"`
	Run     *StartResult `json:"run,omitempty"`
	Pruned  int64        `json:"pruned"`
}

// Tick is the scheduler entry point: it starts an asynchronous run when
// scheduled sync is enabled and idle, then prunes old run logs. The
// schedule itself is owned by the caller.
func (s *Service) Tick(ctx context.Context) (TickResult, error) {
	var res TickResult

	switch {
	case !s.cfg.Enabled:
		res.Reason = "sync disabled"
	case !s.cfg.ScheduleEnabled:
		res.Reason = "schedule disabled"
	default:
		active, err := s.tracker.IsInProgress(ctx)
		if err != nil {
			return res, err
		}
		if active {
			res.Reason = "sync already in progress"
			break
		}
		run, err := s.Start(ctx, StartOptions{Async: s.publisher != nil})
		switch {
		case errors.Is(err, ErrAlreadyRunning):
			res.Reason = "sync already in progress"
		case err != nil:
			return res, err
		default:
			res.Started = !run.Empty
			res.Run = &run
		}
	}

	pruned, err := s.Prune(ctx)
	if err != nil {
		s.logger.Error("prune run logs", "err", err)
	}
	res.Pruned = pruned
	if res.Reason != "" {
		s.logger.Debug("scheduled sync skipped", "reason", res.Reason)
	}
	return res, nil
}
