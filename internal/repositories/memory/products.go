package memory

import (
	"context"
	"sync"
	"time"

	domain "github.com/NagabhushanAdiga/shop-e/internal/domain"
	"github.com/NagabhushanAdiga/shop-e/internal/repositories"
)

type productEntry struct {
	mu      sync.Mutex
	product domain.Product
}

// ProductRepository is an in-memory inventory ledger.
type ProductRepository struct {
	mu      sync.RWMutex
	entries map[string]*productEntry
	now     func() time.Time
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

func NewProductRepository() *ProductRepository {
	return &ProductRepository{entries: make(map[string]*productEntry), now: time.Now}
}

// Put inserts or replaces a product record.
func (r *ProductRepository) Put(product domain.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[product.ID]; ok {
		entry.mu.Lock()
		entry.product = product
		entry.mu.Unlock()
		return
	}
	r.entries[product.ID] = &productEntry{product: product}
}

// Remove drops a product, simulating catalogue deletion.
func (r *ProductRepository) Remove(productID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, productID)
}

func (r *ProductRepository) entry(productID string) (*productEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[productID]
	return entry, ok
}

func (r *ProductRepository) FindByID(_ context.Context, productID string) (domain.Product, error) {
	entry, ok := r.entry(productID)
	if !ok {
		return domain.Product{}, repositories.NewInventoryError("memory.products.find", repositories.InventoryErrorStockNotFound, productID, nil)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.product, nil
}

func (r *ProductRepository) AdjustStock(_ context.Context, productID string, deltaStock, deltaSold int) (domain.Product, error) {
	const op = "memory.products.adjust"
	entry, ok := r.entry(productID)
	if !ok {
		return domain.Product{}, repositories.NewInventoryError(op, repositories.InventoryErrorStockNotFound, productID, nil)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	stock := entry.product.Stock + deltaStock
	if stock < 0 {
		return domain.Product{}, repositories.NewInsufficientStockError(op, productID, entry.product.Stock)
	}
	entry.product.Stock = stock
	entry.product.SoldCount = max(entry.product.SoldCount+deltaSold, 0)
	entry.product.UpdatedAt = r.now().UTC()
	return entry.product, nil
}
