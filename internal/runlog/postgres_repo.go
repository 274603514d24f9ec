package runlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	CreateRun(ctx context.Context, run *Run) (string, error)
	// SetCounters overwrites the counters of a running run.
	SetCounters(ctx context.Context, id string, c Counters) error
	// AddCounters increments the counters of a running run.
	AddCounters(ctx context.Context, id string, c Counters) error
	// FinishRun closes a running run and reports whether it was still open.
	FinishRun(ctx context.Context, id, status, message string, finishedAt time.Time) (bool, error)
	GetRun(ctx context.Context, id string) (*Run, error)
	LatestRun(ctx context.Context) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type PostgresRepo struct {
	db *pgxpool.Pool
}

func NewPostgresRepo(db *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const runColumns = `id, started_at, finished_at, status, mode, total, processed, updated, created, error_count, COALESCE(error_message, '')`

func scanRun(row pgx.Row) (*Run, error) {
	var r Run
	err := row.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Status, &r.Mode, &r.Total,
		&r.Processed, &r.Updated, &r.Created, &r.ErrorCount, &r.ErrorMessage)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *PostgresRepo) CreateRun(ctx context.Context, run *Run) (string, error) {
	const sql = `
		INSERT INTO sync_runs (status, mode, total, started_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	var id string
	err := r.db.QueryRow(ctx, sql, run.Status, run.Mode, run.Total, run.StartedAt).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("create sync run: %w", err)
	}
	return id, nil
}

func (r *PostgresRepo) SetCounters(ctx context.Context, id string, c Counters) error {
	const sql = `
		UPDATE sync_runs SET
			processed = $2,
			updated = $3,
			created = $4,
			error_count = $5
		WHERE id = $1 AND status = 'RUNNING'`

	if _, err := r.db.Exec(ctx, sql, id, c.Processed, c.Updated, c.Created, c.Errors); err != nil {
		return fmt.Errorf("update sync run: %w", err)
	}
	return nil
}

func (r *PostgresRepo) AddCounters(ctx context.Context, id string, c Counters) error {
	const sql = `
		UPDATE sync_runs SET
			processed = processed + $2,
			updated = updated + $3,
			created = created + $4,
			error_count = error_count + $5
		WHERE id = $1 AND status = 'RUNNING'`

	if _, err := r.db.Exec(ctx, sql, id, c.Processed, c.Updated, c.Created, c.Errors); err != nil {
		return fmt.Errorf("increment sync run: %w", err)
	}
	return nil
}

func (r *PostgresRepo) FinishRun(ctx context.Context, id, status, message string, finishedAt time.Time) (bool, error) {
	const sql = `
		UPDATE sync_runs SET
			status = $2,
			error_message = NULLIF($3, ''),
			finished_at = $4
		WHERE id = $1 AND status = 'RUNNING'`

	tag, err := r.db.Exec(ctx, sql, id, status, message, finishedAt)
	if err != nil {
		return false, fmt.Errorf("finish sync run: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepo) GetRun(ctx context.Context, id string) (*Run, error) {
	run, err := scanRun(r.db.QueryRow(ctx, `SELECT `+runColumns+` FROM sync_runs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get sync run: %w", err)
	}
	return run, nil
}

func (r *PostgresRepo) LatestRun(ctx context.Context) (*Run, error) {
	run, err := scanRun(r.db.QueryRow(ctx, `SELECT `+runColumns+` FROM sync_runs ORDER BY started_at DESC LIMIT 1`))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("latest sync run: %w", err)
	}
	return run, nil
}

func (r *PostgresRepo) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := r.db.Query(ctx, `SELECT `+runColumns+` FROM sync_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}
	defer rows.Close()

	out := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM sync_runs WHERE started_at < $1 AND status <> 'RUNNING'`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune sync runs: %w", err)
	}
	return tag.RowsAffected(), nil
}
