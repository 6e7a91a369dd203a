// Package firestore implements the repositories on Cloud Firestore.
package firestore

import (
	"context"
	"fmt"

	pfirestore "github.com/NagabhushanAdiga/shop-e/internal/platform/firestore"
	"github.com/NagabhushanAdiga/shop-e/internal/repositories"
)

// Registry exposes every Firestore repository sharing one provider.
type Registry struct {
	provider      *pfirestore.Provider
	products      *ProductRepository
	orders        *OrderRepository
	stats         *UserStatsRepository
	admins        *AdminDirectory
	notifications *NotificationRepository
	counters      *CounterRepository
	health        repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs every repository on the provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	reg := &Registry{provider: provider}
	var err error
	if reg.products, err = NewProductRepository(provider); err != nil {
		return nil, err
	}
	if reg.orders, err = NewOrderRepository(provider); err != nil {
		return nil, err
	}
	if reg.stats, err = NewUserStatsRepository(provider); err != nil {
		return nil, err
	}
	if reg.admins, err = NewAdminDirectory(provider); err != nil {
		return nil, err
	}
	if reg.notifications, err = NewNotificationRepository(provider); err != nil {
		return nil, err
	}
	if reg.counters, err = NewCounterRepository(provider); err != nil {
		return nil, err
	}
	reg.health, err = repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{Name: "firestore", Check: provider.Ping},
	})
	if err != nil {
		return nil, fmt.Errorf("firestore registry: %w", err)
	}
	return reg, nil
}

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

func (r *Registry) Products() repositories.ProductRepository           { return r.products }
func (r *Registry) Orders() repositories.OrderRepository               { return r.orders }
func (r *Registry) UserStats() repositories.UserStatsRepository        { return r.stats }
func (r *Registry) Admins() repositories.AdminDirectory                { return r.admins }
func (r *Registry) Notifications() repositories.NotificationRepository { return r.notifications }
func (r *Registry) Counters() repositories.CounterRepository           { return r.counters }
func (r *Registry) Health() repositories.HealthRepository              { return r.health }

// ProductStore exposes the concrete product repository for seeding.
func (r *Registry) ProductStore() *ProductRepository { return r.products }
