package runlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"catalogsync/internal/state"
)

// KeyCurrentRun holds the id of the run being executed.
const KeyCurrentRun = "sync:log_id"

// Log writes the audit trail of sync runs and tracks the current one.
type Log struct {
	repo   Repository
	store  state.Store
	logger *slog.Logger
	now    func() time.Time
}

func NewLog(repo Repository, store state.Store, logger *slog.Logger) *Log {
	return &Log{
		repo:   repo,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Open inserts a RUNNING run and makes it the current run.
func (l *Log) Open(ctx context.Context, total int, mode string) (string, error) {
	run := &Run{
		Status:    StatusRunning,
		Mode:      mode,
		Total:     total,
		StartedAt: l.now(),
	}
	id, err := l.repo.CreateRun(ctx, run)
	if err != nil {
		return "", err
	}

	if err := state.SetJSON(ctx, l.store, KeyCurrentRun, id, state.DefaultTTL); err != nil {
		return "", fmt.Errorf("store current run: %w", err)
	}
	l.logger.Info("sync run opened", slog.String("run_id", id), slog.Int("total", total), slog.String("mode", mode))
	return id, nil
}

// Update overwrites the counters with cumulative values.
func (l *Log) Update(ctx context.Context, id string, c Counters) error {
	return l.repo.SetCounters(ctx, id, c)
}

// Add increments the counters by one batch's results.
func (l *Log) Add(ctx context.Context, id string, c Counters) error {
	return l.repo.AddCounters(ctx, id, c)
}

// Close finalises a run. Closing an already closed run is a no-op.
func (l *Log) Close(ctx context.Context, id string, success bool, message string) error {
	status := StatusCompleted
	if !success {
		status = StatusFailed
	}

	closed, err := l.repo.FinishRun(ctx, id, status, message, l.now())
	if err != nil {
		return err
	}
	if !closed {
		l.logger.Debug("sync run already closed", slog.String("run_id", id))
	} else {
		l.logger.Info("sync run closed", slog.String("run_id", id), slog.String("status", status))
	}

	current, err := l.CurrentID(ctx)
	if err == nil && current == id {
		if err := l.store.Delete(ctx, KeyCurrentRun); err != nil {
			l.logger.Warn("clear current run", slog.Any("error", err))
		}
	}
	return nil
}

// CloseCurrent closes the run referenced by the current-run pointer.
func (l *Log) CloseCurrent(ctx context.Context, success bool, message string) error {
	id, err := l.CurrentID(ctx)
	if err != nil {
		return err
	}
	if id == "" {
		l.logger.Warn("no current sync run to close")
		return nil
	}
	return l.Close(ctx, id, success, message)
}

// CurrentID returns the current run id or "" when none is active.
func (l *Log) CurrentID(ctx context.Context) (string, error) {
	var id string
	if _, err := state.GetJSON(ctx, l.store, KeyCurrentRun, &id); err != nil {
		return "", err
	}
	return id, nil
}

// Latest returns the most recent run or nil when none exists.
func (l *Log) Latest(ctx context.Context) (*Run, error) {
	run, err := l.repo.LatestRun(ctx)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return run, err
}

func (l *Log) Get(ctx context.Context, id string) (*Run, error) {
	return l.repo.GetRun(ctx, id)
}

func (l *Log) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	return l.repo.ListRuns(ctx, limit)
}

// Prune deletes finished runs started before now-retention.
func (l *Log) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	n, err := l.repo.DeleteRunsBefore(ctx, l.now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		l.logger.Info("pruned sync runs", slog.Int64("deleted", n))
	}
	return n, nil
}
