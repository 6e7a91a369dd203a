package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/shopspring/decimal"

	domain "github.com/NagabhushanAdiga/shop-e/internal/domain"
	"github.com/NagabhushanAdiga/shop-e/internal/repositories"
)

var orderNumberPattern = regexp.MustCompile(`^ORD-\d{4}-\d{4}-\d{6}$`)

func TestCreateOrderReservesStockAndRecordsStats(t *testing.T) {
	env := newOrderEnv(t)
	env.seedProduct("P", 10, 2)
	ctx := context.Background()

	order, err := env.svc.CreateOrder(ctx, checkoutCommand("user-1", domain.PaymentMethodCOD, 20, line("P", 2)))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending status, got %s", order.Status)
	}
	if order.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("expected pending payment, got %s", order.PaymentStatus)
	}
	if !orderNumberPattern.MatchString(order.OrderNumber) {
		t.Fatalf("unexpected order number %q", order.OrderNumber)
	}
	if want := FormatOrderNumber(env.now, 1); order.OrderNumber != want {
		t.Fatalf("expected order number %s, got %s", want, order.OrderNumber)
	}

	wantItems := []OrderItem{{
		ProductID: "P",
		Name:      "P",
		Quantity:  2,
		UnitPrice: decimal.NewFromInt(10),
		Image:     "https://cdn.example.com/P.png",
	}}
	if diff := cmp.Diff(wantItems, order.Items, decimalComparer); diff != "" {
		t.Fatalf("items mismatch (-want +got):\n%s", diff)
	}

	product := env.product(t, "P")
	if product.Stock != 0 || product.SoldCount != 2 {
		t.Fatalf("expected stock 0 sold 2, got stock %d sold %d", product.Stock, product.SoldCount)
	}

	stats := env.userStats(t, "user-1")
	if stats.TotalOrders != 1 || !stats.TotalSpent.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("unexpected stats %+v", stats)
	}

	stored, err := env.reg.Orders().FindByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("stored order: %v", err)
	}
	if diff := cmp.Diff(order, stored, decimalComparer); diff != "" {
		t.Fatalf("stored order mismatch (-returned +stored):\n%s", diff)
	}

	env.drain(t)
	for _, admin := range []string{"admin-1", "admin-2"} {
		got := env.sink.forUser(admin)
		if len(got) != 1 {
			t.Fatalf("expected one notification for %s, got %d", admin, len(got))
		}
		if got[0].Metadata["orderNumber"] != order.OrderNumber {
			t.Fatalf("notification missing order number: %+v", got[0])
		}
	}
}

func TestCreateOrderInsufficientStock(t *testing.T) {
	env := newOrderEnv(t)
	env.seedProduct("P", 10, 2)

	_, err := env.svc.CreateOrder(context.Background(), checkoutCommand("user-1", domain.PaymentMethodCOD, 30, line("P", 3)))

	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}
	if stockErr.ProductName != "P" || stockErr.Available != 2 || stockErr.Requested != 3 {
		t.Fatalf("unexpected error payload %+v", stockErr)
	}
	if !errors.Is(err, ErrInventoryInsufficientStock) {
		t.Fatalf("expected ErrInventoryInsufficientStock sentinel match")
	}
	if product := env.product(t, "P"); product.Stock != 2 || product.SoldCount != 0 {
		t.Fatalf("stock must be unchanged, got %+v", product)
	}
	if stats := env.userStats(t, "user-1"); stats.TotalOrders != 0 {
		t.Fatalf("stats must be unchanged, got %+v", stats)
	}
}

func TestCreateOrderIsAllOrNothing(t *testing.T) {
	env := newOrderEnv(t)
	env.seedProduct("A", 5, 5)
	env.seedProduct("B", 7, 0)

	_, err := env.svc.CreateOrder(context.Background(), checkoutCommand("user-1", domain.PaymentMethodUPI, 17, line("A", 2), line("B", 1)))
	if !errors.Is(err, ErrInventoryInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if product := env.product(t, "A"); product.Stock != 5 || product.SoldCount != 0 {
		t.Fatalf("A must not be reserved, got %+v", product)
	}
}

func TestCreateOrderAggregatesDuplicateLines(t *testing.T) {
	env := newOrderEnv(t)
	env.seedProduct("P", 10, 3)

	_, err := env.svc.CreateOrder(context.Background(), checkoutCommand("user-1", domain.PaymentMethodCOD, 40, line("P", 2), line("P", 2)))
	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}
	if stockErr.Requested != 4 || stockErr.Available != 3 {
		t.Fatalf("unexpected payload %+v", stockErr)
	}
	if product := env.product(t, "P"); product.Stock != 3 {
		t.Fatalf("stock must be unchanged, got %d", product.Stock)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	env := newOrderEnv(t)
	env.seedProduct("P", 10, 10)

	negative := checkoutCommand("user-1", domain.PaymentMethodCOD, 10, line("P", 1))
	negative.Pricing.Tax = decimal.NewFromInt(-1)

	tests := []struct {
		name string
		cmd  CreateOrderCommand
	}{
		{name: "no items", cmd: checkoutCommand("user-1", domain.PaymentMethodCOD, 10)},
		{name: "zero quantity", cmd: checkoutCommand("user-1", domain.PaymentMethodCOD, 10, line("P", 0))},
		{name: "missing product id", cmd: checkoutCommand("user-1", domain.PaymentMethodCOD, 10, line(" ", 1))},
		{name: "missing user", cmd: checkoutCommand("", domain.PaymentMethodCOD, 10, line("P", 1))},
		{name: "missing payment method", cmd: checkoutCommand("user-1", "", 10, line("P", 1))},
		{name: "unknown payment method", cmd: checkoutCommand("user-1", "bitcoin", 10, line("P", 1))},
		{name: "negative amount", cmd: negative},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.svc.CreateOrder(context.Background(), tc.cmd)
			if !errors.Is(err, ErrOrderInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}

	if product := env.product(t, "P"); product.Stock != 10 {
		t.Fatalf("validation failures must not touch stock, got %d", product.Stock)
	}
}

func TestCreateOrderMissingProduct(t *testing.T) {
	env := newOrderEnv(t)
	env.seedProduct("A", 5, 5)

	_, err := env.svc.CreateOrder(context.Background(), checkoutCommand("user-1", domain.PaymentMethodCOD, 5, line("A", 1), line("ghost", 1)))
	if !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected product not found, got %v", err)
	}
	if product := env.product(t, "A"); product.Stock != 5 {
		t.Fatalf("stock must be unchanged, got %d", product.Stock)
	}
}

func TestCreateOrderConcurrentCheckoutsNeverOversell(t *testing.T) {
	env := newOrderEnv(t)
	env.seedProduct("P", 10, 5)

	const buyers = 24
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
		rejected  atomic.Int64
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.CreateOrder(context.Background(), checkoutCommand(fmt.Sprintf("user-%d", i), domain.PaymentMethodCOD, 10, line("P", 1)))
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, ErrInventoryInsufficientStock):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded.Load() != 5 {
		t.Fatalf("expected exactly 5 successful checkouts, got %d", succeeded.Load())
	}
	if rejected.Load() != buyers-5 {
		t.Fatalf("expected %d rejections, got %d", buyers-5, rejected.Load())
	}
	if product := env.product(t, "P"); product.Stock != 0 || product.SoldCount != 5 {
		t.Fatalf("expected stock 0 sold 5, got %+v", product)
	}
}

func TestConcurrentCancelAndDeleteReverseExactlyOnce(t *testing.T) {
	env := newOrderEnv(t)
	env.seedProduct("P", 10, 5)
	ctx := context.Background()

	const rounds = 20
	for round := 0; round < rounds; round++ {
		order, err := env.svc.CreateOrder(ctx, checkoutCommand("user-1", domain.PaymentMethodCOD, 20, line("P", 2)))
		if err != nil {
			t.Fatalf("round %d: create order: %v", round, err)
		}

		var wg sync.WaitGroup
		for i := 0; i < 3; i++ {
			wg.Add(3)
			go func() {
				defer wg.Done()
				_, err := env.svc.UpdateOrderStatus(ctx, UpdateOrderStatusCommand{
					OrderID: order.ID,
					Status:  statusPtr(domain.OrderStatusCancelled),
					ActorID: "admin-1",
				})
				expectRaceOutcome(t, "admin cancel", err)
			}()
			go func() {
				defer wg.Done()
				_, err := env.svc.CancelOrderAsUser(ctx, CancelOrderCommand{OrderID: order.ID, UserID: "user-1"})
				expectRaceOutcome(t, "customer cancel", err)
			}()
			go func() {
				defer wg.Done()
				expectRaceOutcome(t, "delete", env.svc.DeleteOrder(ctx, order.ID))
			}()
		}
		wg.Wait()

		if err := env.svc.DeleteOrder(ctx, order.ID); err != nil && !errors.Is(err, ErrOrderNotFound) {
			t.Fatalf("round %d: cleanup delete: %v", round, err)
		}

		product := env.product(t, "P")
		if product.Stock != 5 || product.SoldCount != 0 {
			t.Fatalf("round %d: expected stock 5 sold 0, got stock %d sold %d", round, product.Stock, product.SoldCount)
		}
		stats := env.userStats(t, "user-1")
		if stats.TotalOrders != 0 || !stats.TotalSpent.IsZero() {
			t.Fatalf("round %d: expected empty statistics, got orders %d spent %s", round, stats.TotalOrders, stats.TotalSpent)
		}
	}
}

// expectRaceOutcome accepts the errors a losing writer may see when several callers act on one order.
func expectRaceOutcome(t *testing.T, op string, err error) {
	t.Helper()
	if err == nil || errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrOrderInvalidState) || errors.Is(err, ErrOrderConflict) {
		return
	}
	t.Errorf("%s: unexpected error: %v", op, err)
}

func TestCreateOrderRetriesOrderNumberCollision(t *testing.T) {
	var repo *flakyOrderRepo
	env := newOrderEnv(t, func(deps *OrderServiceDeps) {
		repo = &flakyOrderRepo{
			OrderRepository: deps.Orders,
			insertErrs:      []error{repositories.Conflict("test.insert", "order number taken")},
		}
		deps.Orders = repo
	})
	env.seedProduct("P", 10, 5)

	order, err := env.svc.CreateOrder(context.Background(), checkoutCommand("user-1", domain.PaymentMethodCOD, 10, line("P", 1)))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if repo.inserts != 2 {
		t.Fatalf("expected a retry, got %d inserts", repo.inserts)
	}
	if want := FormatOrderNumber(env.now, 2); order.OrderNumber != want {
		t.Fatalf("expected second sequence number %s, got %s", want, order.OrderNumber)
	}
}

func TestCreateOrderGivesUpAfterRepeatedCollisions(t *testing.T) {
	conflict := repositories.Conflict("test.insert", "order number taken")
	env := newOrderEnv(t, func(deps *OrderServiceDeps) {
		deps.Orders = &flakyOrderRepo{
			OrderRepository: deps.Orders,
			insertErrs:      []error{conflict, conflict, conflict},
		}
		deps.OrderNumberAttempts = 3
	})
	env.seedProduct("P", 10, 5)

	_, err := env.svc.CreateOrder(context.Background(), checkoutCommand("user-1", domain.PaymentMethodCOD, 10, line("P", 2)))
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if product := env.product(t, "P"); product.Stock != 5 || product.SoldCount != 0 {
		t.Fatalf("reservation must be released, got %+v", product)
	}
}

func TestCreateOrderRollsBackWhenStatsFail(t *testing.T) {
	boom := errors.New("stats ledger down")
	env := newOrderEnv(t, func(deps *OrderServiceDeps) {
		deps.Stats = &failingStats{CustomerStatsService: deps.Stats, recordErr: boom}
	})
	env.seedProduct("P", 10, 5)

	_, err := env.svc.CreateOrder(context.Background(), checkoutCommand("user-1", domain.PaymentMethodCOD, 20, line("P", 2)))
	if !errors.Is(err, boom) {
		t.Fatalf("expected stats error, got %v", err)
	}
	if product := env.product(t, "P"); product.Stock != 5 || product.SoldCount != 0 {
		t.Fatalf("reservation must be released, got %+v", product)
	}
	page, err := env.svc.ListUserOrders(context.Background(), "user-1", Pagination{PageSize: 10})
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(page.Items) != 0 {
		t.Fatalf("order must be removed, found %d", len(page.Items))
	}
}

func TestCreateOrderPaymentVerification(t *testing.T) {
	t.Run("rejected", func(t *testing.T) {
		verifier := &stubVerifier{ok: false}
		env := newOrderEnv(t, func(deps *OrderServiceDeps) { deps.Payments = verifier })
		env.seedProduct("P", 10, 5)

		cmd := checkoutCommand("user-1", domain.PaymentMethodCard, 10, line("P", 1))
		cmd.TransactionID = "pi_123"
		_, err := env.svc.CreateOrder(context.Background(), cmd)
		if !errors.Is(err, ErrOrderPaymentNotVerified) {
			t.Fatalf("expected payment not verified, got %v", err)
		}
		if product := env.product(t, "P"); product.Stock != 5 {
			t.Fatalf("stock must be unchanged, got %d", product.Stock)
		}
	})

	t.Run("verified", func(t *testing.T) {
		verifier := &stubVerifier{ok: true}
		env := newOrderEnv(t, func(deps *OrderServiceDeps) { deps.Payments = verifier })
		env.seedProduct("P", 10, 5)

		cmd := checkoutCommand("user-1", domain.PaymentMethodCard, 10, line("P", 1))
		cmd.TransactionID = "pi_456"
		order, err := env.svc.CreateOrder(context.Background(), cmd)
		if err != nil {
			t.Fatalf("create order: %v", err)
		}
		if order.PaymentStatus != domain.PaymentStatusPaid {
			t.Fatalf("expected paid, got %s", order.PaymentStatus)
		}
		if verifier.details.TransactionID != "pi_456" || verifier.details.Currency != "INR" {
			t.Fatalf("unexpected verification details %+v", verifier.details)
		}
	})

	t.Run("unverifiable method stays pending", func(t *testing.T) {
		verifier := &stubVerifier{err: fmt.Errorf("no route for cod: %w", ErrPaymentUnverifiable)}
		env := newOrderEnv(t, func(deps *OrderServiceDeps) { deps.Payments = verifier })
		env.seedProduct("P", 10, 5)

		cmd := checkoutCommand("user-1", domain.PaymentMethodCOD, 10, line("P", 1))
		cmd.TransactionID = "forged-123"
		order, err := env.svc.CreateOrder(context.Background(), cmd)
		if err != nil {
			t.Fatalf("create order: %v", err)
		}
		if order.PaymentStatus != domain.PaymentStatusPending {
			t.Fatalf("expected pending payment, got %s", order.PaymentStatus)
		}
		if order.TransactionID != "forged-123" {
			t.Fatalf("expected reference to be kept, got %q", order.TransactionID)
		}
	})

	t.Run("verifier failure", func(t *testing.T) {
		verifier := &stubVerifier{err: errors.New("gateway down")}
		env := newOrderEnv(t, func(deps *OrderServiceDeps) { deps.Payments = verifier })
		env.seedProduct("P", 10, 5)

		cmd := checkoutCommand("user-1", domain.PaymentMethodCard, 10, line("P", 1))
		cmd.TransactionID = "pi_789"
		if _, err := env.svc.CreateOrder(context.Background(), cmd); err == nil || errors.Is(err, ErrOrderPaymentNotVerified) {
			t.Fatalf("expected gateway error, got %v", err)
		}
		if product := env.product(t, "P"); product.Stock != 5 {
			t.Fatalf("stock must be unchanged, got %d", product.Stock)
		}
	})
}

func TestUpdateOrderStatusAdminCancellationReversesOnce(t *testing.T) {
	env := newOrderEnv(t)
	env.seedProduct("P", 10, 2)
	ctx := context.Background()

	order, err := env.svc.CreateOrder(ctx, checkoutCommand("user-1", domain.PaymentMethodCOD, 20, line("P", 2)))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	cancelled, err := env.svc.UpdateOrderStatus(ctx, UpdateOrderStatusCommand{OrderID: order.ID, Status: statusPtr(domain.OrderStatusCancelled)})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled || cancelled.CancelledAt == nil {
		t.Fatalf("expected cancelled with timestamp, got %+v", cancelled)
	}
	if cancelled.CancelledBy != domain.CancelledByAdmin {
		t.Fatalf("expected admin cancellation, got %q", cancelled.CancelledBy)
	}
	if product := env.product(t, "P"); product.Stock != 2 || product.SoldCount != 0 {
		t.Fatalf("expected stock restored, got %+v", product)
	}
	if stats := env.userStats(t, "user-1"); stats.TotalOrders != 0 || !stats.TotalSpent.IsZero() {
		t.Fatalf("expected stats reversed, got %+v", stats)
	}

	again, err := env.svc.UpdateOrderStatus(ctx, UpdateOrderStatusCommand{OrderID: order.ID, Status: statusPtr(domain.OrderStatusCancelled)})
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if again.Version != cancelled.Version {
		t.Fatalf("second cancel must not write, version %d -> %d", cancelled.Version, again.Version)
	}
	if product := env.product(t, "P"); product.Stock != 2 || product.SoldCount != 0 {
		t.Fatalf("second cancel must not restore again, got %+v", product)
	}

	env.drain(t)
	if got := env.sink.forUser("user-1"); len(got) != 1 || got[0].Metadata["status"] != "cancelled" {
		t.Fatalf("expected one cancellation notification for the owner, got %+v", got)
	}
}

func TestUpdateOrderStatusTransitions(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		setup    []OrderStatus
		status   *OrderStatus
		payment  *PaymentStatus
		tracking *string
		wantErr  error
		check    func(t *testing.T, order Order)
	}{
		{
			name:   "pending to processing",
			status: statusPtr(domain.OrderStatusProcessing),
			check: func(t *testing.T, order Order) {
				if order.Status != domain.OrderStatusProcessing || order.DeliveredAt != nil {
					t.Fatalf("unexpected order %+v", order)
				}
			},
		},
		{
			name:   "delivered stamps timestamp",
			setup:  []OrderStatus{domain.OrderStatusShipped},
			status: statusPtr(domain.OrderStatusDelivered),
			check: func(t *testing.T, order Order) {
				if order.DeliveredAt == nil {
					t.Fatalf("expected deliveredAt to be set")
				}
			},
		},
		{
			name:    "cancelled is terminal",
			setup:   []OrderStatus{domain.OrderStatusCancelled},
			status:  statusPtr(domain.OrderStatusProcessing),
			wantErr: ErrOrderInvalidState,
		},
		{
			name:    "shipped cannot go back to processing",
			setup:   []OrderStatus{domain.OrderStatusShipped},
			status:  statusPtr(domain.OrderStatusProcessing),
			wantErr: ErrOrderInvalidState,
		},
		{
			name:    "unknown status",
			status:  statusPtr(OrderStatus("lost")),
			wantErr: ErrOrderInvalidInput,
		},
		{
			name:     "payment status and tracking only",
			payment:  paymentStatusPtr(domain.PaymentStatusPaid),
			tracking: stringPtr(" TRK-1 "),
			check: func(t *testing.T, order Order) {
				if order.Status != domain.OrderStatusPending || order.PaymentStatus != domain.PaymentStatusPaid || order.TrackingNumber != "TRK-1" {
					t.Fatalf("unexpected order %+v", order)
				}
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newOrderEnv(t)
			env.seedProduct("P", 10, 5)
			order, err := env.svc.CreateOrder(ctx, checkoutCommand("user-1", domain.PaymentMethodCOD, 10, line("P", 1)))
			if err != nil {
				t.Fatalf("create order: %v", err)
			}
			for _, status := range tc.setup {
				if _, err := env.svc.UpdateOrderStatus(ctx, UpdateOrderStatusCommand{OrderID: order.ID, Status: statusPtr(status)}); err != nil {
					t.Fatalf("setup transition to %s: %v", status, err)
				}
			}

			updated, err := env.svc.UpdateOrderStatus(ctx, UpdateOrderStatusCommand{
				OrderID:        order.ID,
				Status:         tc.status,
				PaymentStatus:  tc.payment,
				TrackingNumber: tc.tracking,
			})
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("update: %v", err)
			}
			tc.check(t, updated)
		})
	}
}

func TestUpdateOrderStatusNotifiesPaymentChange(t *testing.T) {
	env := newOrderEnv(t)
	env.seedProduct("P", 10, 5)
	ctx := context.Background()

	order, err := env.svc.CreateOrder(ctx, checkoutCommand("user-1", domain.PaymentMethodUPI, 10, line("P", 1)))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if _, err := env.svc.UpdateOrderStatus(ctx, UpdateOrderStatusCommand{
		OrderID:       order.ID,
		Status:        statusPtr(domain.OrderStatusShipped),
		PaymentStatus: paymentStatusPtr(domain.PaymentStatusPaid),
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	env.drain(t)
	got := env.sink.forUser("user-1")
	if len(got) != 2 {
		t.Fatalf("expected status and payment notifications, got %d", len(got))
	}
	types := map[domain.NotificationType]bool{}
	for _, n := range got {
		types[n.Type] = true
	}
	if !types[domain.NotificationTypeOrder] || !types[domain.NotificationTypePayment] {
		t.Fatalf("expected order and payment notifications, got %+v", got)
	}
}

func TestUpdateOrderStatusMissingOrder(t *testing.T) {
	env := newOrderEnv(t)
	_, err := env.svc.UpdateOrderStatus(context.Background(), UpdateOrderStatusCommand{OrderID: "ord_missing", Status: statusPtr(domain.OrderStatusShipped)})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateOrderStatusRollsBackWhenReversalFails(t *testing.T) {
	boom := errors.New("stats ledger down")
	env := newOrderEnv(t, func(deps *OrderServiceDeps) {
		deps.Stats = &failingStats{CustomerStatsService: deps.Stats, reverseErr: boom}
	})
	env.seedProduct("P", 10, 3)
	ctx := context.Background()

	order, err := env.svc.CreateOrder(ctx, checkoutCommand("user-1", domain.PaymentMethodCOD, 20, line("P", 2)))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	_, err = env.svc.UpdateOrderStatus(ctx, UpdateOrderStatusCommand{OrderID: order.ID, Status: statusPtr(domain.OrderStatusCancelled)})
	if !errors.Is(err, boom) {
		t.Fatalf("expected reversal error, got %v", err)
	}

	stored, err := env.svc.GetOrder(ctx, GetOrderQuery{OrderID: order.ID, IsAdmin: true})
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.Status != domain.OrderStatusPending || stored.CancelledAt != nil {
		t.Fatalf("order must be restored to pending, got %+v", stored)
	}
	if product := env.product(t, "P"); product.Stock != 1 || product.SoldCount != 2 {
		t.Fatalf("stock must stay reserved, got %+v", product)
	}
}

func TestCancelOrderAsUser(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		method  PaymentMethod
		setup   *OrderStatus
		userID  string
		wantErr error
	}{
		{name: "not the owner", method: domain.PaymentMethodCOD, userID: "intruder", wantErr: ErrOrderForbidden},
		{name: "already shipped", method: domain.PaymentMethodCOD, setup: statusPtr(domain.OrderStatusShipped), userID: "user-1", wantErr: ErrOrderInvalidState},
		{name: "card payments are not self cancellable", method: domain.PaymentMethodCard, userID: "user-1", wantErr: ErrOrderInvalidState},
		{name: "wallet payment succeeds", method: domain.PaymentMethodPhonePe, userID: "user-1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newOrderEnv(t)
			env.seedProduct("P", 10, 4)
			order, err := env.svc.CreateOrder(ctx, checkoutCommand("user-1", tc.method, 30, line("P", 3)))
			if err != nil {
				t.Fatalf("create order: %v", err)
			}
			if tc.setup != nil {
				if _, err := env.svc.UpdateOrderStatus(ctx, UpdateOrderStatusCommand{OrderID: order.ID, Status: tc.setup}); err != nil {
					t.Fatalf("setup: %v", err)
				}
			}

			cancelled, err := env.svc.CancelOrderAsUser(ctx, CancelOrderCommand{OrderID: order.ID, UserID: tc.userID, Reason: "changed my mind"})
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				if product := env.product(t, "P"); product.Stock != 1 {
					t.Fatalf("rejected cancellation must not restore stock, got %d", product.Stock)
				}
				return
			}
			if err != nil {
				t.Fatalf("cancel: %v", err)
			}
			if cancelled.CancelledBy != domain.CancelledByCustomer || cancelled.CancelReason != "changed my mind" || cancelled.CancelledAt == nil {
				t.Fatalf("unexpected cancelled order %+v", cancelled)
			}
			if product := env.product(t, "P"); product.Stock != 4 || product.SoldCount != 0 {
				t.Fatalf("expected stock restored, got %+v", product)
			}
			if stats := env.userStats(t, "user-1"); stats.TotalOrders != 0 {
				t.Fatalf("expected stats reversed, got %+v", stats)
			}

			env.drain(t)
			for _, admin := range []string{"admin-1", "admin-2"} {
				got := env.sink.forUser(admin)
				if len(got) != 2 {
					t.Fatalf("expected order received and cancellation notices for %s, got %d", admin, len(got))
				}
			}
		})
	}
}

func TestCancelOrderAsUserHonoursConfiguredMethods(t *testing.T) {
	env := newOrderEnv(t, func(deps *OrderServiceDeps) {
		deps.SelfCancelMethods = []PaymentMethod{"CARD"}
	})
	env.seedProduct("P", 10, 4)
	ctx := context.Background()

	order, err := env.svc.CreateOrder(ctx, checkoutCommand("user-1", domain.PaymentMethodCard, 10, line("P", 1)))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if _, err := env.svc.CancelOrderAsUser(ctx, CancelOrderCommand{OrderID: order.ID, UserID: "user-1"}); err != nil {
		t.Fatalf("card should be cancellable when configured: %v", err)
	}
}

func TestDeleteOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("active order is reversed then removed", func(t *testing.T) {
		env := newOrderEnv(t)
		env.seedProduct("P", 10, 5)
		order, err := env.svc.CreateOrder(ctx, checkoutCommand("user-1", domain.PaymentMethodCOD, 20, line("P", 2)))
		if err != nil {
			t.Fatalf("create order: %v", err)
		}

		if err := env.svc.DeleteOrder(ctx, order.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if product := env.product(t, "P"); product.Stock != 5 || product.SoldCount != 0 {
			t.Fatalf("expected stock restored, got %+v", product)
		}
		if stats := env.userStats(t, "user-1"); stats.TotalOrders != 0 || !stats.TotalSpent.IsZero() {
			t.Fatalf("expected stats reversed, got %+v", stats)
		}
		if _, err := env.svc.GetOrder(ctx, GetOrderQuery{OrderID: order.ID, IsAdmin: true}); !errors.Is(err, ErrOrderNotFound) {
			t.Fatalf("expected order gone, got %v", err)
		}
	})

	t.Run("cancelled order is not reversed twice", func(t *testing.T) {
		env := newOrderEnv(t)
		env.seedProduct("P", 10, 5)
		order, err := env.svc.CreateOrder(ctx, checkoutCommand("user-1", domain.PaymentMethodCOD, 20, line("P", 2)))
		if err != nil {
			t.Fatalf("create order: %v", err)
		}
		if _, err := env.svc.UpdateOrderStatus(ctx, UpdateOrderStatusCommand{OrderID: order.ID, Status: statusPtr(domain.OrderStatusCancelled)}); err != nil {
			t.Fatalf("cancel: %v", err)
		}

		if err := env.svc.DeleteOrder(ctx, order.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if product := env.product(t, "P"); product.Stock != 5 || product.SoldCount != 0 {
			t.Fatalf("stock must be restored exactly once, got %+v", product)
		}
		if stats := env.userStats(t, "user-1"); stats.TotalOrders != 0 {
			t.Fatalf("stats must be reversed exactly once, got %+v", stats)
		}
	})

	t.Run("failed delete re-applies the reservation", func(t *testing.T) {
		env := newOrderEnv(t, func(deps *OrderServiceDeps) {
			deps.Orders = &flakyOrderRepo{
				OrderRepository: deps.Orders,
				deleteErr:       repositories.Unavailable("test.delete", errors.New("store offline")),
			}
		})
		env.seedProduct("P", 10, 5)
		order, err := env.svc.CreateOrder(ctx, checkoutCommand("user-1", domain.PaymentMethodCOD, 20, line("P", 2)))
		if err != nil {
			t.Fatalf("create order: %v", err)
		}

		if err := env.svc.DeleteOrder(ctx, order.ID); !errors.Is(err, ErrServiceUnavailable) {
			t.Fatalf("expected unavailable, got %v", err)
		}
		if product := env.product(t, "P"); product.Stock != 3 || product.SoldCount != 2 {
			t.Fatalf("reservation must be re-applied, got %+v", product)
		}
		if stats := env.userStats(t, "user-1"); stats.TotalOrders != 1 {
			t.Fatalf("stats must be re-applied, got %+v", stats)
		}
	})

	t.Run("missing order", func(t *testing.T) {
		env := newOrderEnv(t)
		if err := env.svc.DeleteOrder(ctx, "ord_missing"); !errors.Is(err, ErrOrderNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}

func TestOrderTotalsAreNeverRecomputed(t *testing.T) {
	env := newOrderEnv(t)
	env.seedProduct("P", 10, 5)
	ctx := context.Background()

	cmd := checkoutCommand("user-1", domain.PaymentMethodCOD, 0, line("P", 2))
	cmd.Pricing = OrderPricing{
		Subtotal:    decimal.RequireFromString("20.00"),
		Tax:         decimal.RequireFromString("3.60"),
		ShippingFee: decimal.RequireFromString("49.00"),
		Total:       decimal.RequireFromString("72.60"),
	}
	order, err := env.svc.CreateOrder(ctx, cmd)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	// catalogue price changes must not leak into the order
	env.reg.ProductStore().Put(Product{ID: "P", Name: "Renamed", Price: decimal.NewFromInt(99), Stock: 3, SoldCount: 2})

	for _, status := range []OrderStatus{domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusDelivered} {
		if _, err := env.svc.UpdateOrderStatus(ctx, UpdateOrderStatusCommand{OrderID: order.ID, Status: statusPtr(status)}); err != nil {
			t.Fatalf("transition to %s: %v", status, err)
		}
	}

	final, err := env.svc.GetOrder(ctx, GetOrderQuery{OrderID: order.ID, RequesterID: "user-1"})
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if diff := cmp.Diff(order.Pricing, final.Pricing, decimalComparer); diff != "" {
		t.Fatalf("pricing changed (-created +final):\n%s", diff)
	}
	if diff := cmp.Diff(order.Items, final.Items, decimalComparer); diff != "" {
		t.Fatalf("item snapshot changed (-created +final):\n%s", diff)
	}
}

func TestCustomerStatisticsStayConsistent(t *testing.T) {
	env := newOrderEnv(t)
	env.seedProduct("P", 10, 50)
	ctx := context.Background()

	var orders []Order
	for _, total := range []int64{10, 20, 30, 40} {
		order, err := env.svc.CreateOrder(ctx, checkoutCommand("user-1", domain.PaymentMethodCOD, total, line("P", 1)))
		if err != nil {
			t.Fatalf("create order: %v", err)
		}
		orders = append(orders, order)
	}

	if _, err := env.svc.UpdateOrderStatus(ctx, UpdateOrderStatusCommand{OrderID: orders[0].ID, Status: statusPtr(domain.OrderStatusCancelled)}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := env.svc.CancelOrderAsUser(ctx, CancelOrderCommand{OrderID: orders[1].ID, UserID: "user-1"}); err != nil {
		t.Fatalf("self cancel: %v", err)
	}
	if err := env.svc.DeleteOrder(ctx, orders[1].ID); err != nil {
		t.Fatalf("delete cancelled: %v", err)
	}
	if err := env.svc.DeleteOrder(ctx, orders[2].ID); err != nil {
		t.Fatalf("delete active: %v", err)
	}

	stats := env.userStats(t, "user-1")
	if stats.TotalOrders != 1 || !stats.TotalSpent.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("expected 1 order totalling 40, got %+v", stats)
	}
	if product := env.product(t, "P"); product.Stock != 49 || product.SoldCount != 1 {
		t.Fatalf("expected one unit sold, got %+v", product)
	}
}

func TestGetOrderAndListUserOrders(t *testing.T) {
	env := newOrderEnv(t)
	env.seedProduct("P", 10, 10)
	ctx := context.Background()

	mine, err := env.svc.CreateOrder(ctx, checkoutCommand("user-1", domain.PaymentMethodCOD, 10, line("P", 1)))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if _, err := env.svc.CreateOrder(ctx, checkoutCommand("user-2", domain.PaymentMethodCOD, 10, line("P", 1))); err != nil {
		t.Fatalf("create order: %v", err)
	}

	if _, err := env.svc.GetOrder(ctx, GetOrderQuery{OrderID: mine.ID, RequesterID: "user-2"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("other customers must not see the order, got %v", err)
	}
	if _, err := env.svc.GetOrder(ctx, GetOrderQuery{OrderID: mine.ID, RequesterID: "admin-1", IsAdmin: true}); err != nil {
		t.Fatalf("admin read: %v", err)
	}

	page, err := env.svc.ListUserOrders(ctx, "user-1", Pagination{PageSize: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got := make([]string, 0, len(page.Items))
	for _, order := range page.Items {
		got = append(got, order.ID)
	}
	if diff := cmp.Diff([]string{mine.ID}, got, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("listing mismatch (-want +got):\n%s", diff)
	}

	if _, err := env.svc.ListUserOrders(ctx, " ", Pagination{}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
