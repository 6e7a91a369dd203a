// Package memory provides process-local repositories. Each product, order and user aggregate has
// its own lock so adjustments on different entities never contend.
package memory

import (
	"context"
	"sync"

	domain "github.com/NagabhushanAdiga/shop-e/internal/domain"
	"github.com/NagabhushanAdiga/shop-e/internal/repositories"
)

// Registry bundles the memory repositories behind repositories.Registry.
type Registry struct {
	products      *ProductRepository
	orders        *OrderRepository
	stats         *UserStatsRepository
	admins        *AdminDirectory
	notifications *NotificationRepository
	counters      *CounterRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs an empty in-memory registry.
func NewRegistry() *Registry {
	return &Registry{
		products:      NewProductRepository(),
		orders:        NewOrderRepository(),
		stats:         NewUserStatsRepository(),
		admins:        NewAdminDirectory(),
		notifications: NewNotificationRepository(),
		counters:      NewCounterRepository(),
	}
}

func (r *Registry) Close(context.Context) error { return nil }

func (r *Registry) Products() repositories.ProductRepository           { return r.products }
func (r *Registry) Orders() repositories.OrderRepository               { return r.orders }
func (r *Registry) UserStats() repositories.UserStatsRepository        { return r.stats }
func (r *Registry) Admins() repositories.AdminDirectory                { return r.admins }
func (r *Registry) Notifications() repositories.NotificationRepository { return r.notifications }
func (r *Registry) Counters() repositories.CounterRepository           { return r.counters }

// Health reports the memory store as always ready.
func (r *Registry) Health() repositories.HealthRepository {
	repo, _ := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{Name: "memory", Check: func(context.Context) error { return nil }},
	})
	return repo
}

// ProductStore exposes the concrete product repository for seeding.
func (r *Registry) ProductStore() *ProductRepository { return r.products }

// AdminStore exposes the concrete admin directory for seeding.
func (r *Registry) AdminStore() *AdminDirectory { return r.admins }

// AdminDirectory is a static list of administrator accounts.
type AdminDirectory struct {
	mu     sync.RWMutex
	admins []domain.AdminUser
}

func NewAdminDirectory(admins ...domain.AdminUser) *AdminDirectory {
	return &AdminDirectory{admins: append([]domain.AdminUser(nil), admins...)}
}

// Add registers an administrator.
func (d *AdminDirectory) Add(admin domain.AdminUser) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.admins = append(d.admins, admin)
}

func (d *AdminDirectory) ListAdmins(context.Context) ([]domain.AdminUser, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]domain.AdminUser(nil), d.admins...), nil
}
