package reconcile

import (
	"context"
	"sort"

	"catalogsync/internal/catalog"
)

// memRepo is an in-memory catalog used to check end-to-end reconcile behaviour.
type memRepo struct {
	products    map[string]*catalog.Product
	stockWrites int
}

func newMemRepo() *memRepo {
	return &memRepo{products: map[string]*catalog.Product{}}
}

func clone(p *catalog.Product) *catalog.Product {
	c := *p
	if p.Stock != nil {
		s := *p.Stock
		c.Stock = &s
	}
	return &c
}

func (m *memRepo) FindBySKUs(_ context.Context, skus []string) (map[string]*catalog.Product, error) {
	out := map[string]*catalog.Product{}
	for _, s := range skus {
		if p, ok := m.products[s]; ok {
			out[s] = clone(p)
		}
	}
	return out, nil
}

func (m *memRepo) GetBySKU(_ context.Context, sku string) (*catalog.Product, error) {
	p, ok := m.products[sku]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return clone(p), nil
}

func (m *memRepo) Create(_ context.Context, p *catalog.Product, stock *catalog.StockItem) error {
	c := clone(p)
	if stock != nil {
		s := *stock
		c.Stock = &s
	}
	m.products[p.SKU] = c
	return nil
}

func (m *memRepo) Save(_ context.Context, p *catalog.Product) error {
	cur, ok := m.products[p.SKU]
	if !ok {
		return catalog.ErrNotFound
	}
	c := clone(p)
	c.Stock = cur.Stock
	m.products[p.SKU] = c
	return nil
}

func (m *memRepo) UpdateStock(_ context.Context, sku string, qty float64) (bool, error) {
	p, ok := m.products[sku]
	if !ok || p.Stock == nil {
		return false, catalog.ErrStockNotFound
	}
	want := catalog.NewStockItem(sku, qty)
	if *p.Stock == *want {
		return false, nil
	}
	p.Stock = want
	m.stockWrites++
	return true, nil
}

func (m *memRepo) List(_ context.Context, q catalog.ListQuery) ([]catalog.Product, int, error) {
	out := make([]catalog.Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, *clone(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, len(out), nil
}

func (m *memRepo) Count(context.Context) (int, error) {
	return len(m.products), nil
}
