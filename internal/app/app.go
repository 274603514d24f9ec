// Package app assembles the sync engine from configuration. It is shared by
// the API server, the queue worker and the command line tool.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"catalogsync/internal/catalog"
	"catalogsync/internal/config"
	"catalogsync/internal/metrics"
	"catalogsync/internal/progress"
	"catalogsync/internal/queue"
	"catalogsync/internal/reconcile"
	"catalogsync/internal/runlog"
	"catalogsync/internal/sheet"
	"catalogsync/internal/state"
	"catalogsync/internal/syncer"
)

const (
	pingTimeout     = 2 * time.Second
	memoryStoreSize = 1024
)

// Options selects the optional parts of the assembly.
type Options struct {
	// Queue dials RabbitMQ. A failed dial is logged and the
	// engine runs without asynchronous mode.
	Queue bool
	// RequireQueue turns a failed dial into an error.
	RequireQueue bool
}

type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	DB      *pgxpool.Pool
	Store   state.Store
	Metrics *metrics.Metrics
	Catalog *catalog.Service
	Tracker *progress.Tracker
	Runs    *runlog.Log
	Sync    *syncer.Service

	conn      *queue.ConnectionManager
	publisher *queue.AMQPPublisher
}

// New opens the database and wires every component.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	pool, err := OpenDB(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	logger.Info("database connection OK", slog.String("dsn", RedactDSN(cfg.DatabaseDSN)))

	a := &App{
		Config:  cfg,
		Logger:  logger,
		DB:      pool,
		Metrics: metrics.New(),
	}

	if cfg.StateBackend == config.DefaultStateMemory {
		a.Store = state.NewMemoryStore(memoryStoreSize)
	} else {
		a.Store = state.NewPostgresStore(pool)
	}

	products := catalog.NewPostgresRepo(pool)
	a.Catalog = catalog.NewService(products)
	a.Tracker = progress.NewTracker(a.Store, logger)
	a.Runs = runlog.NewLog(runlog.NewPostgresRepo(pool), a.Store, logger)

	client := sheet.NewClient(sheet.ClientConfig{
		UserAgent:  cfg.Sync.FetchUserAgent,
		Timeout:    cfg.Sync.FetchTimeout,
		RPS:        cfg.Sync.FetchRPS,
		MaxRetries: cfg.Sync.FetchRetries,
		Metrics:    a.Metrics,
	})

	var publisher queue.Publisher
	if opts.Queue || opts.RequireQueue {
		if err := a.dialQueue(ctx); err != nil {
			if opts.RequireQueue {
				a.Close()
				return nil, err
			}
			logger.Warn("queue unavailable, async sync disabled", slog.Any("error", err))
		} else {
			publisher = a.publisher
		}
	}

	a.Sync = syncer.New(syncer.Deps{
		Config:    cfg.Sync,
		Reader:    sheet.NewReader(client, cfg.Sync.Mapping, logger),
		Processor: reconcile.NewProcessor(products, reconcile.OptionsFromConfig(cfg.Sync), logger),
		Store:     a.Store,
		Tracker:   a.Tracker,
		Runs:      a.Runs,
		Publisher: publisher,
		Logger:    logger,
		Metrics:   a.Metrics,
	})
	return a, nil
}

func (a *App) dialQueue(ctx context.Context) error {
	cm, err := queue.Dial(ctx, a.Config.RabbitMQURL, a.Logger)
	if err != nil {
		return err
	}
	pub, err := queue.NewPublisher(cm, a.Config.QueueName, a.Logger, a.Metrics)
	if err != nil {
		_ = cm.Close()
		return err
	}
	a.conn = cm
	a.publisher = pub
	return nil
}

// Consumer returns a queue consumer feeding batches to the orchestrator.
func (a *App) Consumer(tag string) (*queue.Consumer, error) {
	if a.conn == nil {
		return nil, fmt.Errorf("queue is not connected")
	}
	return queue.NewConsumer(a.conn, queue.ConsumerConfig{
		Queue:       a.Config.QueueName,
		ConsumerTag: tag,
		Prefetch:    a.Config.WorkerPrefetch,
	}, a.Sync.HandleBatch, a.Logger, a.Metrics)
}

// Ready reports whether the database answers.
func (a *App) Ready(ctx context.Context) error {
	return a.DB.Ping(ctx)
}

// Prune removes old run logs and, for the postgres backend, expired state keys.
func (a *App) Prune(ctx context.Context) (runs, keys int64, err error) {
	runs, err = a.Sync.Prune(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("prune run logs: %w", err)
	}
	if pg, ok := a.Store.(*state.PostgresStore); ok {
		keys, err = pg.PruneExpired(ctx)
		if err != nil {
			return runs, 0, fmt.Errorf("prune state: %w", err)
		}
	}
	return runs, keys, nil
}

func (a *App) Close() {
	if a.publisher != nil {
		_ = a.publisher.Close()
	}
	if a.conn != nil {
		_ = a.conn.Close()
	}
	a.DB.Close()
}

// OpenDB creates a pool and verifies it with a ping.
func OpenDB(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create db pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database (%s): %w", RedactDSN(dsn), err)
	}
	return pool, nil
}

// RedactDSN hides the credentials of a connection string.
func RedactDSN(dsn string) string {
	const marker = "://"
	start := strings.Index(dsn, marker)
	if start < 0 {
		return dsn
	}
	start += len(marker)
	end := strings.Index(dsn[start:], "@")
	if end < 0 {
		return dsn
	}
	return dsn[:start] + "***" + dsn[start+end:]
}
