package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	FindBySKUs(ctx context.Context, skus []string) (map[string]*Product, error)
	GetBySKU(ctx context.Context, sku string) (*Product, error)
	Create(ctx context.Context, p *Product, stock *StockItem) error
	Save(ctx context.Context, p *Product) error
	// UpdateStock sets qty and the in-stock flag when they differ from the
	// stored values. It reports whether a write happened.
	UpdateStock(ctx context.Context, sku string, qty float64) (bool, error)
	List(ctx context.Context, q ListQuery) ([]Product, int, error)
	Count(ctx context.Context) (int, error)
}

type PostgresRepo struct {
	db *pgxpool.Pool
}

func NewPostgresRepo(db *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const productColumns = `
	p.id, p.sku, p.name, p.description, p.price, p.type_id, p.attribute_set_id, p.status, p.visibility,
	p.website_ids, p.synced_from_sheet, p.last_synced_at, p.created_at, p.updated_at,
	s.qty, s.is_in_stock`

func scanProduct(row pgx.Row) (*Product, error) {
	var (
		p          Product
		websiteIDs []int32
		qty        *float64
		inStock    *bool
	)
	if err := row.Scan(
		&p.ID, &p.SKU, &p.Name, &p.Description, &p.Price, &p.TypeID, &p.AttributeSetID, &p.Status, &p.Visibility,
		&websiteIDs, &p.SyncedFromSheet, &p.LastSyncedAt, &p.CreatedAt, &p.UpdatedAt,
		&qty, &inStock,
	); err != nil {
		return nil, err
	}
	p.WebsiteIDs = make([]int, len(websiteIDs))
	for i, id := range websiteIDs {
		p.WebsiteIDs[i] = int(id)
	}
	if qty != nil {
		p.Stock = &StockItem{SKU: p.SKU, Qty: *qty, IsInStock: inStock != nil && *inStock}
	}
	return &p, nil
}

func toInt32s(ids []int) []int32 {
	out := make([]int32, len(ids))
	for i, id := range ids {
		out[i] = int32(id)
	}
	return out
}

// FindBySKUs loads all products matching the given SKUs in one query.
func (r *PostgresRepo) FindBySKUs(ctx context.Context, skus []string) (map[string]*Product, error) {
	out := make(map[string]*Product, len(skus))
	if len(skus) == 0 {
		return out, nil
	}

	query := `SELECT ` + productColumns + `
		FROM products p
		LEFT JOIN product_stock s ON s.sku = p.sku
		WHERE p.sku = ANY($1)`

	rows, err := r.db.Query(ctx, query, skus)
	if err != nil {
		return nil, fmt.Errorf("find products by sku: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out[p.SKU] = p
	}
	return out, rows.Err()
}

func (r *PostgresRepo) GetBySKU(ctx context.Context, sku string) (*Product, error) {
	query := `SELECT ` + productColumns + `
		FROM products p
		LEFT JOIN product_stock s ON s.sku = p.sku
		WHERE p.sku = $1`

	p, err := scanProduct(r.db.QueryRow(ctx, query, sku))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// Create inserts a product and, when given, its stock row in one transaction.
func (r *PostgresRepo) Create(ctx context.Context, p *Product, stock *StockItem) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const productSQL = `
		INSERT INTO products (sku, name, description, price, type_id, attribute_set_id, status, visibility,
			website_ids, synced_from_sheet, last_synced_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
		RETURNING id, created_at, updated_at`

	err = tx.QueryRow(ctx, productSQL,
		p.SKU, p.Name, p.Description, p.Price, p.TypeID, p.AttributeSetID, p.Status, p.Visibility,
		toInt32s(p.WebsiteIDs), p.SyncedFromSheet, p.LastSyncedAt,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}

	if stock != nil {
		const stockSQL = `
			INSERT INTO product_stock (sku, qty, is_in_stock, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (sku) DO UPDATE SET
				qty = EXCLUDED.qty,
				is_in_stock = EXCLUDED.is_in_stock,
				updated_at = now()`

		if _, err := tx.Exec(ctx, stockSQL, p.SKU, stock.Qty, stock.IsInStock); err != nil {
			return fmt.Errorf("insert stock: %w", err)
		}
		p.Stock = stock
	}

	return tx.Commit(ctx)
}

func (r *PostgresRepo) Save(ctx context.Context, p *Product) error {
	const query = `
		UPDATE products SET
			name = $2,
			description = $3,
			price = $4,
			synced_from_sheet = $5,
			last_synced_at = $6,
			updated_at = now()
		WHERE sku = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query, p.SKU, p.Name, p.Description, p.Price, p.SyncedFromSheet, p.LastSyncedAt).
		Scan(&p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("save product: %w", err)
	}
	return nil
}

func (r *PostgresRepo) UpdateStock(ctx context.Context, sku string, qty float64) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var (
		current float64
		inStock bool
	)
	err = tx.QueryRow(ctx, `SELECT qty, is_in_stock FROM product_stock WHERE sku = $1 FOR UPDATE`, sku).
		Scan(&current, &inStock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrStockNotFound
		}
		return false, fmt.Errorf("load stock: %w", err)
	}

	want := NewStockItem(sku, qty)
	if current == want.Qty && inStock == want.IsInStock {
		return false, nil
	}

	_, err = tx.Exec(ctx,
		`UPDATE product_stock SET qty = $2, is_in_stock = $3, updated_at = now() WHERE sku = $1`,
		sku, want.Qty, want.IsInStock)
	if err != nil {
		return false, fmt.Errorf("update stock: %w", err)
	}
	return true, tx.Commit(ctx)
}

func (r *PostgresRepo) List(ctx context.Context, q ListQuery) ([]Product, int, error) {
	clauses := []string{"1=1"}
	args := []any{}
	argn := 1

	if q.Q != "" {
		clauses = append(clauses, fmt.Sprintf("(p.sku ILIKE $%d OR p.name ILIKE $%d)", argn, argn))
		args = append(args, "%"+q.Q+"%")
		argn++
	}

	if q.SyncedOnly {
		clauses = append(clauses, "p.synced_from_sheet")
	}

	where := "WHERE " + strings.Join(clauses, " AND ")

	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM products p %s", where)
	var total int
	if err := r.db.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	dataSQL := fmt.Sprintf(`
		SELECT %s
		FROM products p
		LEFT JOIN product_stock s ON s.sku = p.sku
		%s
		ORDER BY p.sku ASC
		LIMIT $%d OFFSET $%d`,
		productColumns, where, argn, argn+1)

	argsWithPage := append([]any{}, args...)
	argsWithPage = append(argsWithPage, q.Limit, q.Offset)
	rows, err := r.db.Query(ctx, dataSQL, argsWithPage...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *p)
	}
	return out, total, rows.Err()
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM products").Scan(&count)
	return count, err
}
