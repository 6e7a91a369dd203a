package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"

	domain "github.com/NagabhushanAdiga/shop-e/internal/domain"
	pfirestore "github.com/NagabhushanAdiga/shop-e/internal/platform/firestore"
	"github.com/NagabhushanAdiga/shop-e/internal/repositories"
)

const productsCollection = "products"

type productDocument struct {
	Name      string    `firestore:"name"`
	Price     string    `firestore:"price"`
	Image     string    `firestore:"image,omitempty"`
	Stock     int64     `firestore:"stock"`
	SoldCount int64     `firestore:"soldCount"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func encodeProduct(p domain.Product) productDocument {
	return productDocument{
		Name:      p.Name,
		Price:     p.Price.String(),
		Image:     p.Image,
		Stock:     int64(p.Stock),
		SoldCount: int64(p.SoldCount),
		UpdatedAt: p.UpdatedAt.UTC(),
	}
}

func decodeProduct(id string, doc productDocument) domain.Product {
	price, err := decimal.NewFromString(doc.Price)
	if err != nil {
		price = decimal.Zero
	}
	return domain.Product{
		ID:        id,
		Name:      doc.Name,
		Price:     price,
		Image:     doc.Image,
		Stock:     int(doc.Stock),
		SoldCount: int(doc.SoldCount),
		UpdatedAt: doc.UpdatedAt,
	}
}

// ProductRepository keeps stock counters on the product documents and adjusts them in a
// transaction per product.
type ProductRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.Collection[domain.Product, productDocument]
	now      func() time.Time
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		provider: provider,
		products: pfirestore.NewCollection(provider, productsCollection, encodeProduct, decodeProduct),
		now:      time.Now,
	}, nil
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	product, err := r.products.Get(ctx, productID)
	if err != nil {
		if pfirestore.IsNotFound(err) {
			return domain.Product{}, repositories.NewInventoryError("products.find", repositories.InventoryErrorStockNotFound, productID, err)
		}
		return domain.Product{}, err
	}
	return product, nil
}

// Save writes a product document. Used by seeding and tests; stock changes go through AdjustStock.
func (r *ProductRepository) Save(ctx context.Context, product domain.Product) error {
	ref, err := r.products.Doc(ctx, product.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Set(ctx, r.products.Encode(product)); err != nil {
		return pfirestore.WrapError("products.save", err)
	}
	return nil
}

func (r *ProductRepository) AdjustStock(ctx context.Context, productID string, deltaStock, deltaSold int) (domain.Product, error) {
	const op = "products.adjust"
	ref, err := r.products.Doc(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}

	var updated domain.Product
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if pfirestore.IsNotFound(err) {
				return repositories.NewInventoryError(op, repositories.InventoryErrorStockNotFound, productID, err)
			}
			return err
		}
		product, err := r.products.Decode(snap)
		if err != nil {
			return err
		}
		if product.Stock+deltaStock < 0 {
			return repositories.NewInsufficientStockError(op, productID, product.Stock)
		}
		product.Stock += deltaStock
		product.SoldCount = max(product.SoldCount+deltaSold, 0)
		product.UpdatedAt = r.now().UTC()
		if err := tx.Update(ref, []firestore.Update{
			{Path: "stock", Value: int64(product.Stock)},
			{Path: "soldCount", Value: int64(product.SoldCount)},
			{Path: "updatedAt", Value: product.UpdatedAt},
		}); err != nil {
			return err
		}
		updated = product
		return nil
	})
	if err != nil {
		return domain.Product{}, pfirestore.WrapError(op, err)
	}
	return updated, nil
}
