package memory

import (
	"context"
	"sort"
	"sync"

	domain "github.com/NagabhushanAdiga/shop-e/internal/domain"
	"github.com/NagabhushanAdiga/shop-e/internal/platform/pagination"
	"github.com/NagabhushanAdiga/shop-e/internal/repositories"
)

// OrderRepository keeps orders in a map with a secondary order-number index.
type OrderRepository struct {
	mu       sync.RWMutex
	orders   map[string]domain.Order
	byNumber map[string]string
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders:   make(map[string]domain.Order),
		byNumber: make(map[string]string),
	}
}

func (r *OrderRepository) Insert(_ context.Context, order domain.Order) error {
	const op = "memory.orders.insert"
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[order.ID]; exists {
		return repositories.Conflict(op, "order %s already exists", order.ID)
	}
	if _, exists := r.byNumber[order.OrderNumber]; exists {
		return repositories.Conflict(op, "order number %s already exists", order.OrderNumber)
	}
	r.orders[order.ID] = cloneOrder(order)
	r.byNumber[order.OrderNumber] = order.ID
	return nil
}

func (r *OrderRepository) Update(_ context.Context, order domain.Order) (domain.Order, error) {
	const op = "memory.orders.update"
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.orders[order.ID]
	if !ok {
		return domain.Order{}, repositories.NotFound(op, "order %s not found", order.ID)
	}
	if current.Version != order.Version {
		return domain.Order{}, repositories.Conflict(op, "order %s version %d is stale (stored %d)", order.ID, order.Version, current.Version)
	}
	order.Version++
	r.orders[order.ID] = cloneOrder(order)
	return cloneOrder(order), nil
}

func (r *OrderRepository) Delete(_ context.Context, orderID string, expectedVersion int64) error {
	const op = "memory.orders.delete"
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.orders[orderID]
	if !ok {
		return repositories.NotFound(op, "order %s not found", orderID)
	}
	if current.Version != expectedVersion {
		return repositories.Conflict(op, "order %s version %d is stale (stored %d)", orderID, expectedVersion, current.Version)
	}
	delete(r.orders, orderID)
	delete(r.byNumber, current.OrderNumber)
	return nil
}

func (r *OrderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NotFound("memory.orders.find", "order %s not found", orderID)
	}
	return cloneOrder(order), nil
}

func (r *OrderRepository) ListByUser(_ context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	pager = pagination.Normalize(pager)
	cursor, err := pagination.DecodeCursor(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	r.mu.RLock()
	matched := make([]domain.Order, 0)
	for _, order := range r.orders {
		if order.UserID == userID && cursor.After(order.CreatedAt, order.ID) {
			matched = append(matched, cloneOrder(order))
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	page := domain.CursorPage[domain.Order]{}
	if len(matched) > pager.PageSize {
		last := matched[pager.PageSize-1]
		page.NextPageToken = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		matched = matched[:pager.PageSize]
	}
	page.Items = matched
	return page, nil
}

func cloneOrder(order domain.Order) domain.Order {
	order.Items = append([]domain.OrderItem(nil), order.Items...)
	if order.DeliveredAt != nil {
		at := *order.DeliveredAt
		order.DeliveredAt = &at
	}
	if order.CancelledAt != nil {
		at := *order.CancelledAt
		order.CancelledAt = &at
	}
	return order
}
