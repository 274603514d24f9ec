package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalogsync/internal/catalog"
	"catalogsync/internal/logging"
	"catalogsync/internal/sheet"
)

var stamp = time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func newProcessor(repo catalog.Repository, allowCreate bool) *Processor {
	opts := Options{
		AllowCreate:    allowCreate,
		AttributeSetID: 4,
		TypeID:         "simple",
		Status:         1,
		Visibility:     4,
		WebsiteIDs:     []int{1},
	}
	return NewProcessor(repo, opts, logging.Discard()).WithClock(func() time.Time { return stamp })
}

func TestProcessBatch_Empty(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := catalog.NewMockRepository(ctrl)

	res := newProcessor(repo, true).ProcessBatch(context.Background(), nil)
	assert.Equal(t, Result{}, res)
}

func TestProcessBatch_UpdatesChangedFields(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := catalog.NewMockRepository(ctrl)
	ctx := context.Background()

	existing := &catalog.Product{SKU: "A1", Name: "Old", Price: 10, Description: "keep"}
	repo.EXPECT().FindBySKUs(ctx, []string{"A1"}).Return(map[string]*catalog.Product{"A1": existing}, nil)
	repo.EXPECT().Save(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, p *catalog.Product) error {
		assert.Equal(t, "New", p.Name)
		assert.Equal(t, 10.0, p.Price, "sub-epsilon price change is ignored")
		assert.Equal(t, "keep", p.Description, "empty description never overwrites")
		assert.True(t, p.SyncedFromSheet)
		require.NotNil(t, p.LastSyncedAt)
		assert.Equal(t, stamp, *p.LastSyncedAt)
		return nil
	})
	repo.EXPECT().UpdateStock(ctx, "A1", 7.0).Return(true, nil)

	res := newProcessor(repo, false).ProcessBatch(ctx, []sheet.Record{{
		SKU:         "A1",
		Name:        ptr("New"),
		Price:       ptr(10.0005),
		Description: ptr(""),
		Qty:         ptr(7.0),
	}})

	assert.Equal(t, Result{Updated: 1}, res)
}

func TestProcessBatch_StockErrorsTolerated(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := catalog.NewMockRepository(ctrl)
	ctx := context.Background()

	repo.EXPECT().FindBySKUs(ctx, gomock.Any()).Return(map[string]*catalog.Product{
		"A1": {SKU: "A1"},
		"A2": {SKU: "A2"},
	}, nil)
	repo.EXPECT().Save(ctx, gomock.Any()).Return(nil).Times(2)
	repo.EXPECT().UpdateStock(ctx, "A1", 1.0).Return(false, catalog.ErrStockNotFound)
	repo.EXPECT().UpdateStock(ctx, "A2", 2.0).Return(false, errors.New("deadlock"))

	res := newProcessor(repo, false).ProcessBatch(ctx, []sheet.Record{
		{SKU: "A1", Qty: ptr(1.0)},
		{SKU: "A2", Qty: ptr(2.0)},
	})

	assert.Equal(t, Result{Updated: 2}, res)
}

func TestProcessBatch_LookupFailureCountsAllAsErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := catalog.NewMockRepository(ctrl)
	ctx := context.Background()

	repo.EXPECT().FindBySKUs(ctx, gomock.Any()).Return(nil, errors.New("connection refused"))

	res := newProcessor(repo, true).ProcessBatch(ctx, []sheet.Record{{SKU: "A"}, {SKU: "B"}, {SKU: "C"}})
	assert.Equal(t, Result{Errors: 3}, res)
	assert.Equal(t, 3, res.Processed())
}

func TestProcessBatch_PerRecordFailureContinues(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := catalog.NewMockRepository(ctrl)
	ctx := context.Background()

	repo.EXPECT().FindBySKUs(ctx, gomock.Any()).Return(map[string]*catalog.Product{"A": {SKU: "A"}}, nil)
	repo.EXPECT().Save(ctx, gomock.Any()).Return(errors.New("constraint violation"))
	repo.EXPECT().Create(ctx, gomock.Any(), gomock.Nil()).Return(nil)

	res := newProcessor(repo, true).ProcessBatch(ctx, []sheet.Record{{SKU: "A"}, {SKU: "B"}})
	assert.Equal(t, Result{Created: 1, Errors: 1}, res)
}

func TestProcessBatch_CreateDisabledSkips(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := catalog.NewMockRepository(ctrl)
	ctx := context.Background()

	repo.EXPECT().FindBySKUs(ctx, gomock.Any()).Return(map[string]*catalog.Product{}, nil)

	res := newProcessor(repo, false).ProcessBatch(ctx, []sheet.Record{{SKU: "NEW"}})
	assert.Equal(t, Result{Skipped: 1}, res)
	assert.Equal(t, 1, res.Processed())
}

func TestProcessBatch_CreateDefaults(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := catalog.NewMockRepository(ctrl)
	ctx := context.Background()

	repo.EXPECT().FindBySKUs(ctx, gomock.Any()).Return(map[string]*catalog.Product{}, nil)
	repo.EXPECT().Create(ctx, gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, p *catalog.Product, stock *catalog.StockItem) error {
			assert.Equal(t, "NEW-1", p.Name, "name defaults to sku")
			assert.Equal(t, 0.0, p.Price)
			assert.Equal(t, "simple", p.TypeID)
			assert.Equal(t, 4, p.AttributeSetID)
			assert.Equal(t, []int{1}, p.WebsiteIDs)
			assert.True(t, p.SyncedFromSheet)
			require.NotNil(t, stock)
			assert.Equal(t, 0.0, stock.Qty)
			assert.False(t, stock.IsInStock)
			return nil
		})

	res := newProcessor(repo, true).ProcessBatch(ctx, []sheet.Record{{SKU: "NEW-1", Qty: ptr(0.0)}})
	assert.Equal(t, Result{Created: 1}, res)
}

func TestProcessBatch_Idempotent(t *testing.T) {
	repo := newMemRepo()
	p := newProcessor(repo, true)
	ctx := context.Background()

	records := []sheet.Record{
		{SKU: "A1", Name: ptr("Widget"), Qty: ptr(5.0), Price: ptr(9.99)},
		{SKU: "A2", Name: ptr("Gadget"), Qty: ptr(0.0), Price: ptr(19.5)},
	}

	first := p.ProcessBatch(ctx, records)
	assert.Equal(t, Result{Created: 2}, first)

	second := p.ProcessBatch(ctx, records)
	assert.Equal(t, Result{Updated: 2}, second)
	assert.Equal(t, 0, repo.stockWrites, "unchanged stock is not rewritten")

	a1 := repo.products["A1"]
	assert.Equal(t, "Widget", a1.Name)
	assert.Equal(t, 9.99, a1.Price)
	assert.Equal(t, 5.0, a1.Stock.Qty)
	assert.True(t, a1.Stock.IsInStock)
	assert.False(t, repo.products["A2"].Stock.IsInStock)
}
