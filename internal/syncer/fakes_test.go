package syncer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"catalogsync/internal/config"
	"catalogsync/internal/logging"
	"catalogsync/internal/progress"
	"catalogsync/internal/queue"
	"catalogsync/internal/reconcile"
	"catalogsync/internal/runlog"
	"catalogsync/internal/sheet"
	"catalogsync/internal/state"
)

type memRunRepo struct {
	mu   sync.Mutex
	runs []*runlog.Run
}

func (m *memRunRepo) find(id string) *runlog.Run {
	for _, r := range m.runs {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (m *memRunRepo) CreateRun(_ context.Context, run *runlog.Run) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	cp.ID = uuid.NewString()
	m.runs = append(m.runs, &cp)
	return cp.ID, nil
}

func (m *memRunRepo) SetCounters(_ context.Context, id string, c runlog.Counters) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r := m.find(id); r != nil && r.Active() {
		r.Processed, r.Updated, r.Created, r.ErrorCount = c.Processed, c.Updated, c.Created, c.Errors
	}
	return nil
}

func (m *memRunRepo) AddCounters(_ context.Context, id string, c runlog.Counters) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r := m.find(id); r != nil && r.Active() {
		r.Processed += c.Processed
		r.Updated += c.Updated
		r.Created += c.Created
		r.ErrorCount += c.Errors
	}
	return nil
}

func (m *memRunRepo) FinishRun(_ context.Context, id, status, message string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.find(id)
	if r == nil || !r.Active() {
		return false, nil
	}
	r.Status = status
	r.ErrorMessage = message
	r.FinishedAt = &at
	return true, nil
}

func (m *memRunRepo) GetRun(_ context.Context, id string) (*runlog.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.find(id)
	if r == nil {
		return nil, runlog.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRunRepo) LatestRun(_ context.Context) (*runlog.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.runs) == 0 {
		return nil, runlog.ErrNotFound
	}
	cp := *m.runs[len(m.runs)-1]
	return &cp, nil
}

func (m *memRunRepo) ListRuns(_ context.Context, limit int) ([]runlog.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]runlog.Run, 0, len(m.runs))
	for i := len(m.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *m.runs[i])
	}
	return out, nil
}

func (m *memRunRepo) DeleteRunsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.runs[:0]
	var n int64
	for _, r := range m.runs {
		if !r.Active() && r.StartedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.runs = kept
	return n, nil
}

func (m *memRunRepo) all() []runlog.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]runlog.Run, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, *r)
	}
	return out
}

// fakeProcessor creates unknown SKUs and updates known ones.
type fakeProcessor struct {
	mu      sync.Mutex
	known   map[string]bool
	batches [][]sheet.Record
	// before runs ahead of every batch with its 1-based call number.
	before func(call int)
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{known: map[string]bool{}}
}

func (p *fakeProcessor) ProcessBatch(_ context.Context, records []sheet.Record) reconcile.Result {
	p.mu.Lock()
	p.batches = append(p.batches, records)
	call := len(p.batches)
	hook := p.before
	p.mu.Unlock()

	if hook != nil {
		hook(call)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	var res reconcile.Result
	for _, r := range records {
		if p.known[r.SKU] {
			res.Updated++
			continue
		}
		p.known[r.SKU] = true
		res.Created++
	}
	return res
}

func (p *fakeProcessor) batchSizes() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	sizes := make([]int, len(p.batches))
	for i, b := range p.batches {
		sizes[i] = len(b)
	}
	return sizes
}

type fakeReader struct {
	candidates []sheet.Candidate
	err        error
	calls      int
}

func (r *fakeReader) Read(context.Context, string) ([]sheet.Candidate, error) {
	r.calls++
	return r.candidates, r.err
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []queue.BatchMessage
	err  error
}

func (p *fakePublisher) PublishBatch(_ context.Context, msg queue.BatchMessage) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *fakePublisher) sorted() []queue.BatchMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := append([]queue.BatchMessage(nil), p.msgs...)
	sort.Slice(out, func(i, j int) bool { return out[i].BatchNumber < out[j].BatchNumber })
	return out
}

func candidates(skus ...string) []sheet.Candidate {
	out := make([]sheet.Candidate, len(skus))
	for i, sku := range skus {
		out[i] = sheet.Candidate{SKU: sku, Fields: map[string]string{config.FieldSKU: sku}, Line: i + 2}
	}
	return out
}

type harness struct {
	svc       *Service
	store     *state.MemoryStore
	tracker   *progress.Tracker
	runs      *memRunRepo
	reader    *fakeReader
	processor *fakeProcessor
	publisher *fakePublisher
}

func newHarness(t *testing.T, cfg config.Sync, rows []sheet.Candidate) *harness {
	t.Helper()
	return newHarnessWithTrackerStore(t, cfg, rows, nil)
}

// newHarnessWithTrackerStore lets wrap decorate the store seen by the
// progress tracker.
func newHarnessWithTrackerStore(t *testing.T, cfg config.Sync, rows []sheet.Candidate, wrap func(state.Store) state.Store) *harness {
	t.Helper()
	logger := logging.Discard()
	store := state.NewMemoryStore(64)
	var trackerStore state.Store = store
	if wrap != nil {
		trackerStore = wrap(store)
	}
	repo := &memRunRepo{}
	h := &harness{
		store:     store,
		tracker:   progress.NewTracker(trackerStore, logger),
		runs:      repo,
		reader:    &fakeReader{candidates: rows},
		processor: newFakeProcessor(),
		publisher: &fakePublisher{},
	}
	h.svc = New(Deps{
		Config:    cfg,
		Reader:    h.reader,
		Processor: h.processor,
		Store:     store,
		Tracker:   h.tracker,
		Runs:      runlog.NewLog(repo, store, logger),
		Publisher: h.publisher,
		Logger:    logger,
	})
	return h
}

func enabledConfig(batchSize int) config.Sync {
	return config.Sync{
		Enabled:          true,
		SheetURL:         "https://docs.google.com/spreadsheets/d/abc/edit",
		BatchSize:        batchSize,
		AllowCreate:      true,
		LogRetentionDays: 30,
	}
}

var errBoom = errors.New("boom")

// failingUpdates fails the next n updates of one key.
type failingUpdates struct {
	state.Store
	key string
	n   int
}

func (f *failingUpdates) Update(ctx context.Context, key string, ttl time.Duration, fn state.UpdateFunc) error {
	if key == f.key && f.n > 0 {
		f.n--
		return errBoom
	}
	return f.Store.Update(ctx, key, ttl, fn)
}
