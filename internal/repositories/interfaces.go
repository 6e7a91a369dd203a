package repositories

import (
	"context"

	"github.com/shopspring/decimal"

	domain "github.com/NagabhushanAdiga/shop-e/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Orders() OrderRepository
	UserStats() UserStatsRepository
	Admins() AdminDirectory
	Notifications() NotificationRepository
	Counters() CounterRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ProductRepository is the inventory ledger. AdjustStock applies both deltas atomically and fails
// with an InventoryError (InventoryErrorInsufficientStock) instead of letting stock or soldCount
// drop below zero. A missing product yields InventoryErrorStockNotFound.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	AdjustStock(ctx context.Context, productID string, deltaStock, deltaSold int) (domain.Product, error)
}

// OrderRepository persists order records.
//
// Insert must reject a duplicate id or order number with a conflict error. Update and Delete
// compare the supplied version with the stored one and return a conflict error when another
// writer got there first; Update returns the stored order with its version bumped.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) (domain.Order, error)
	Delete(ctx context.Context, orderID string, expectedVersion int64) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
}

// UserStatsRepository stores the per-customer aggregates. AdjustStats applies both deltas
// atomically, creating the record on first use; neither counter is stored below zero.
type UserStatsRepository interface {
	AdjustStats(ctx context.Context, userID string, deltaOrders int64, deltaSpent decimal.Decimal) (domain.UserStats, error)
	GetStats(ctx context.Context, userID string) (domain.UserStats, error)
}

// AdminDirectory lists the accounts that receive operational notifications.
type AdminDirectory interface {
	ListAdmins(ctx context.Context) ([]domain.AdminUser, error)
}

// NotificationRepository stores in-app notifications.
type NotificationRepository interface {
	Insert(ctx context.Context, notification domain.Notification) error
	ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Notification], error)
}

// CounterRepository exposes atomic sequence generation.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// HealthRepository evaluates readiness of persistence dependencies.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
