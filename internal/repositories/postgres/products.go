package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	domain "github.com/NagabhushanAdiga/shop-e/internal/domain"
	"github.com/NagabhushanAdiga/shop-e/internal/repositories"
)

const (
	selectProduct = `SELECT id, name, price::text, image, stock, sold_count, updated_at FROM products WHERE id = $1`

	adjustStock = `UPDATE products
SET stock = stock + $2,
    sold_count = GREATEST(sold_count + $3, 0),
    updated_at = now()
WHERE id = $1 AND stock + $2 >= 0
RETURNING id, name, price::text, image, stock, sold_count, updated_at`

	upsertProduct = `INSERT INTO products (id, name, price, image, stock, sold_count, updated_at)
VALUES ($1, $2, $3::numeric, $4, $5, $6, now())
ON CONFLICT (id) DO UPDATE
SET name = EXCLUDED.name, price = EXCLUDED.price, image = EXCLUDED.image,
    stock = EXCLUDED.stock, sold_count = EXCLUDED.sold_count, updated_at = now()`
)

// ProductRepository is the PostgreSQL inventory ledger.
type ProductRepository struct {
	pool *pgxpool.Pool
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

func scanProduct(row pgx.Row) (domain.Product, error) {
	var (
		p         domain.Product
		price     string
		updatedAt time.Time
	)
	if err := row.Scan(&p.ID, &p.Name, &price, &p.Image, &p.Stock, &p.SoldCount, &updatedAt); err != nil {
		return domain.Product{}, err
	}
	parsed, err := decimal.NewFromString(price)
	if err != nil {
		return domain.Product{}, err
	}
	p.Price = parsed
	p.UpdatedAt = updatedAt.UTC()
	return p, nil
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	const op = "postgres.products.find"
	product, err := scanProduct(r.pool.QueryRow(ctx, selectProduct, productID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Product{}, repositories.NewInventoryError(op, repositories.InventoryErrorStockNotFound, productID, err)
	}
	if err != nil {
		return domain.Product{}, wrapError(op, err)
	}
	return product, nil
}

// AdjustStock applies the deltas only when the resulting stock stays non-negative. When no row
// is updated the product is re-read to tell a missing product from an insufficient one.
func (r *ProductRepository) AdjustStock(ctx context.Context, productID string, deltaStock, deltaSold int) (domain.Product, error) {
	const op = "postgres.products.adjust"
	product, err := scanProduct(r.pool.QueryRow(ctx, adjustStock, productID, deltaStock, deltaSold))
	if err == nil {
		return product, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Product{}, wrapError(op, err)
	}
	current, findErr := r.FindByID(ctx, productID)
	if findErr != nil {
		return domain.Product{}, findErr
	}
	return domain.Product{}, repositories.NewInsufficientStockError(op, productID, current.Stock)
}

// Save inserts or replaces a product row. Used by seeding and tests.
func (r *ProductRepository) Save(ctx context.Context, product domain.Product) error {
	_, err := r.pool.Exec(ctx, upsertProduct,
		product.ID, product.Name, product.Price.String(), product.Image, product.Stock, product.SoldCount)
	return wrapError("postgres.products.save", err)
}
