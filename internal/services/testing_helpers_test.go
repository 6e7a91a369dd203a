package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	domain "github.com/NagabhushanAdiga/shop-e/internal/domain"
	"github.com/NagabhushanAdiga/shop-e/internal/repositories"
	"github.com/NagabhushanAdiga/shop-e/internal/repositories/memory"
)

var decimalComparer = cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })

type recordingSink struct {
	mu    sync.Mutex
	items []Notification
	err   error
}

func (s *recordingSink) Deliver(_ context.Context, notification Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.items = append(s.items, notification)
	return nil
}

func (s *recordingSink) forUser(userID string) []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Notification
	for _, n := range s.items {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

type orderEnv struct {
	reg      *memory.Registry
	svc      OrderService
	stats    CustomerStatsService
	notifier NotificationService
	sink     *recordingSink
	now      time.Time
}

func newOrderEnv(t *testing.T, mutate ...func(*OrderServiceDeps)) *orderEnv {
	t.Helper()

	reg := memory.NewRegistry()
	reg.AdminStore().Add(domain.AdminUser{ID: "admin-1", Name: gofakeit.Name()})
	reg.AdminStore().Add(domain.AdminUser{ID: "admin-2", Name: gofakeit.Name()})

	now := time.Date(2025, time.March, 14, 10, 30, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	sink := &recordingSink{}
	notifier, err := NewNotificationService(NotificationServiceDeps{
		Sink:        sink,
		Admins:      reg.Admins(),
		Timeout:     time.Second,
		Concurrency: 2,
	})
	if err != nil {
		t.Fatalf("notification service: %v", err)
	}
	t.Cleanup(func() { _ = notifier.Close(context.Background()) })

	inventory, err := NewInventoryService(InventoryServiceDeps{Products: reg.Products()})
	if err != nil {
		t.Fatalf("inventory service: %v", err)
	}
	stats, err := NewCustomerStatsService(CustomerStatsServiceDeps{Stats: reg.UserStats()})
	if err != nil {
		t.Fatalf("stats service: %v", err)
	}
	counters, err := NewCounterService(CounterServiceDeps{Repository: reg.Counters(), Clock: clock})
	if err != nil {
		t.Fatalf("counter service: %v", err)
	}

	deps := OrderServiceDeps{
		Orders:        reg.Orders(),
		Inventory:     inventory,
		Stats:         stats,
		Counters:      counters,
		Notifications: notifier,
		Currency:      "INR",
		Clock:         clock,
	}
	for _, fn := range mutate {
		fn(&deps)
	}

	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("order service: %v", err)
	}

	return &orderEnv{
		reg:      reg,
		svc:      svc,
		stats:    stats,
		notifier: notifier,
		sink:     sink,
		now:      now,
	}
}

func (e *orderEnv) seedProduct(id string, price int64, stock int) {
	e.reg.ProductStore().Put(domain.Product{
		ID:    id,
		Name:  id,
		Price: decimal.NewFromInt(price),
		Image: "https://cdn.example.com/" + id + ".png",
		Stock: stock,
	})
}

func (e *orderEnv) product(t *testing.T, id string) Product {
	t.Helper()
	product, err := e.reg.Products().FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("find product %s: %v", id, err)
	}
	return product
}

func (e *orderEnv) userStats(t *testing.T, userID string) UserStats {
	t.Helper()
	stats, err := e.stats.Get(context.Background(), userID)
	if err != nil {
		t.Fatalf("stats for %s: %v", userID, err)
	}
	return stats
}

// drain waits for background notifications. The notifier rejects new work afterwards.
func (e *orderEnv) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.notifier.Close(ctx); err != nil {
		t.Fatalf("drain notifications: %v", err)
	}
}

func checkoutCommand(userID string, method PaymentMethod, total int64, items ...OrderLineInput) CreateOrderCommand {
	amount := decimal.NewFromInt(total)
	return CreateOrderCommand{
		UserID: userID,
		Items:  items,
		Customer: CustomerSnapshot{
			Name:  gofakeit.Name(),
			Email: gofakeit.Email(),
			Phone: gofakeit.Phone(),
			Address: Address{
				Line1:      gofakeit.Street(),
				City:       gofakeit.City(),
				PostalCode: gofakeit.Zip(),
				Country:    "IN",
			},
		},
		Pricing: OrderPricing{
			Subtotal:    amount,
			Tax:         decimal.Zero,
			ShippingFee: decimal.Zero,
			Total:       amount,
		},
		PaymentMethod: method,
	}
}

func line(productID string, qty int) OrderLineInput {
	return OrderLineInput{ProductID: productID, Quantity: qty}
}

func statusPtr(s OrderStatus) *OrderStatus { return &s }

func paymentStatusPtr(s PaymentStatus) *PaymentStatus { return &s }

func stringPtr(s string) *string { return &s }

type flakyOrderRepo struct {
	repositories.OrderRepository

	mu         sync.Mutex
	insertErrs []error
	inserts    int
	deleteErr  error
}

func (r *flakyOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	r.mu.Lock()
	r.inserts++
	var err error
	if len(r.insertErrs) > 0 {
		err, r.insertErrs = r.insertErrs[0], r.insertErrs[1:]
	}
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.OrderRepository.Insert(ctx, order)
}

func (r *flakyOrderRepo) Delete(ctx context.Context, orderID string, expectedVersion int64) error {
	if r.deleteErr != nil {
		return r.deleteErr
	}
	return r.OrderRepository.Delete(ctx, orderID, expectedVersion)
}

type failingStats struct {
	CustomerStatsService
	recordErr  error
	reverseErr error
}

func (s *failingStats) RecordOrder(ctx context.Context, userID string, total decimal.Decimal) error {
	if s.recordErr != nil {
		return s.recordErr
	}
	return s.CustomerStatsService.RecordOrder(ctx, userID, total)
}

func (s *failingStats) ReverseOrder(ctx context.Context, userID string, total decimal.Decimal) error {
	if s.reverseErr != nil {
		return s.reverseErr
	}
	return s.CustomerStatsService.ReverseOrder(ctx, userID, total)
}

type stubVerifier struct {
	ok      bool
	err     error
	details PaymentDetails
}

func (s *stubVerifier) VerifyPayment(_ context.Context, details PaymentDetails) (bool, error) {
	s.details = details
	return s.ok, s.err
}
