package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"catalogsync/internal/catalog"
	"catalogsync/internal/config"
	"catalogsync/internal/sheet"
)

// priceEpsilon is the smallest price change written to the catalog.
const priceEpsilon = 0.001

// Result counts the outcome of one batch.
type Result struct {
	Updated int `json:"updated"`
	Created int `json:"created"`
	Errors  int `json:"errors"`
	// Skipped records were new but creation is disabled.
	Skipped int `json:"skipped"`
}

// Processed is the number of records that count toward progress.
func (r Result) Processed() int {
	return r.Updated + r.Created + r.Errors + r.Skipped
}

// Options holds the catalog defaults applied to new products.
type Options struct {
	AllowCreate    bool
	AttributeSetID int
	TypeID         string
	Status         int
	Visibility     int
	WebsiteIDs     []int
}

func OptionsFromConfig(c config.Sync) Options {
	return Options{
		AllowCreate:    c.AllowCreate,
		AttributeSetID: c.DefaultAttributeSet,
		TypeID:         c.DefaultType,
		Status:         c.DefaultStatus,
		Visibility:     c.DefaultVisibility,
		WebsiteIDs:     c.DefaultWebsiteIDs,
	}
}

// Processor applies validated records to the catalog.
type Processor struct {
	repo   catalog.Repository
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

func NewProcessor(repo catalog.Repository, opts Options, logger *slog.Logger) *Processor {
	return &Processor{
		repo:   repo,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock replaces the time source used for sync stamps.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.now = now
	return p
}

// ProcessBatch reconciles records against the catalog. It never fails as a
// whole: per-record failures are logged and counted.
func (p *Processor) ProcessBatch(ctx context.Context, records []sheet.Record) Result {
	var res Result
	if len(records) == 0 {
		return res
	}

	skus := make([]string, len(records))
	for i, r := range records {
		skus[i] = r.SKU
	}

	existing, err := p.repo.FindBySKUs(ctx, skus)
	if err != nil {
		p.logger.Error("lookup products by sku", slog.Int("records", len(records)), slog.Any("error", err))
		res.Errors = len(records)
		return res
	}

	for _, rec := range records {
		if product, ok := existing[rec.SKU]; ok {
			if err := p.update(ctx, product, rec); err != nil {
				p.logger.Error("update product", slog.String("sku", rec.SKU), slog.Any("error", err))
				res.Errors++
				continue
			}
			res.Updated++
			continue
		}

		if !p.opts.AllowCreate {
			p.logger.Debug("product not found and creation disabled", slog.String("sku", rec.SKU))
			res.Skipped++
			continue
		}

		if err := p.create(ctx, rec); err != nil {
			p.logger.Error("create product", slog.String("sku", rec.SKU), slog.Any("error", err))
			res.Errors++
			continue
		}
		res.Created++
	}

	return res
}

func (p *Processor) update(ctx context.Context, product *catalog.Product, rec sheet.Record) error {
	var changed []string

	if rec.Name != nil && *rec.Name != "" && *rec.Name != product.Name {
		product.Name = *rec.Name
		changed = append(changed, "name")
	}
	if rec.Price != nil && math.Abs(*rec.Price-product.Price) > priceEpsilon {
		product.Price = *rec.Price
		changed = append(changed, "price")
	}
	if rec.Description != nil && *rec.Description != "" && *rec.Description != product.Description {
		product.Description = *rec.Description
		changed = append(changed, "description")
	}
	if !product.SyncedFromSheet {
		product.SyncedFromSheet = true
	}
	now := p.now()
	product.LastSyncedAt = &now

	if err := p.repo.Save(ctx, product); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	if len(changed) > 0 {
		p.logger.Debug("product updated", slog.String("sku", product.SKU), slog.String("fields", strings.Join(changed, ", ")))
	}

	if rec.Qty != nil {
		p.updateStock(ctx, product.SKU, *rec.Qty)
	}
	return nil
}

// updateStock runs after the product was saved, so its failures are logged
// but never fail the record.
func (p *Processor) updateStock(ctx context.Context, sku string, qty float64) {
	changed, err := p.repo.UpdateStock(ctx, sku, qty)
	switch {
	case errors.Is(err, catalog.ErrStockNotFound):
		p.logger.Warn("stock item not found", slog.String("sku", sku))
	case err != nil:
		p.logger.Error("update stock", slog.String("sku", sku), slog.Any("error", err))
	case changed:
		p.logger.Debug("stock updated", slog.String("sku", sku), slog.Float64("qty", qty))
	}
}

func (p *Processor) create(ctx context.Context, rec sheet.Record) error {
	now := p.now()
	product := &catalog.Product{
		SKU:             rec.SKU,
		Name:            rec.SKU,
		TypeID:          p.opts.TypeID,
		AttributeSetID:  p.opts.AttributeSetID,
		Status:          p.opts.Status,
		Visibility:      p.opts.Visibility,
		WebsiteIDs:      append([]int(nil), p.opts.WebsiteIDs...),
		SyncedFromSheet: true,
		LastSyncedAt:    &now,
	}
	if rec.Name != nil && *rec.Name != "" {
		product.Name = *rec.Name
	}
	if rec.Price != nil {
		product.Price = *rec.Price
	}
	if rec.Description != nil {
		product.Description = *rec.Description
	}

	var stock *catalog.StockItem
	if rec.Qty != nil {
		stock = catalog.NewStockItem(rec.SKU, *rec.Qty)
	}

	if err := p.repo.Create(ctx, product, stock); err != nil {
		return fmt.Errorf("create: %w", err)
	}
	p.logger.Debug("product created", slog.String("sku", rec.SKU))
	return nil
}
