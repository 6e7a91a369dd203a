package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"

	domain "github.com/NagabhushanAdiga/shop-e/internal/domain"
	"github.com/NagabhushanAdiga/shop-e/internal/repositories/memory"
)

func newNotifier(t *testing.T, sink NotificationSink, timeout time.Duration, concurrency int, admins ...domain.AdminUser) (NotificationService, *[]string) {
	t.Helper()
	var (
		mu     sync.Mutex
		events []string
	)
	svc, err := NewNotificationService(NotificationServiceDeps{
		Sink:        sink,
		Admins:      memory.NewAdminDirectory(admins...),
		Timeout:     timeout,
		Concurrency: concurrency,
		Logger: func(_ context.Context, event string, _ map[string]any) {
			mu.Lock()
			events = append(events, event)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("notification service: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return svc, &events
}

func TestNotifyAdminsFansOutWithBoundedConcurrency(t *testing.T) {
	var (
		running   atomic.Int32
		peak      atomic.Int32
		delivered sync.Map
	)
	sink := NotificationSinkFunc(func(_ context.Context, n Notification) error {
		current := running.Add(1)
		for {
			prev := peak.Load()
			if current <= prev || peak.CompareAndSwap(prev, current) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		delivered.Store(n.UserID, n.Title)
		return nil
	})

	admins := make([]domain.AdminUser, 0, 6)
	for _, id := range []string{"a1", "a2", "a3", "a4", "a5", "a6"} {
		admins = append(admins, domain.AdminUser{ID: id})
	}
	svc, _ := newNotifier(t, sink, time.Second, 2, admins...)

	svc.NotifyAdmins(context.Background(), NotificationMessage{Type: domain.NotificationTypeOrder, Title: "New order received"})
	if err := svc.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	for _, admin := range admins {
		if _, ok := delivered.Load(admin.ID); !ok {
			t.Fatalf("admin %s was not notified", admin.ID)
		}
	}
	if peak.Load() > 2 {
		t.Fatalf("expected at most 2 concurrent deliveries, saw %d", peak.Load())
	}
}

func TestNotifyUserSurvivesCallerCancellation(t *testing.T) {
	release := make(chan struct{})
	var delivered atomic.Bool
	sink := NotificationSinkFunc(func(ctx context.Context, _ Notification) error {
		<-release
		if ctx.Err() != nil {
			return ctx.Err()
		}
		delivered.Store(true)
		return nil
	})
	svc, _ := newNotifier(t, sink, time.Second, 1)

	ctx, cancel := context.WithCancel(context.Background())
	svc.NotifyUser(ctx, "user-1", NotificationMessage{Title: "Order update"})
	cancel()
	close(release)

	if err := svc.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !delivered.Load() {
		t.Fatalf("delivery must not inherit the caller's cancellation")
	}
}

func TestNotificationFailuresAreLoggedAndDropped(t *testing.T) {
	sink := &recordingSink{err: errors.New("smtp down")}
	svc, events := newNotifier(t, sink, time.Second, 1, domain.AdminUser{ID: "a1"})

	svc.NotifyAdmins(context.Background(), NotificationMessage{Title: "New order received"})
	svc.NotifyUser(context.Background(), "user-1", NotificationMessage{Title: "Order update"})
	if err := svc.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	failures := 0
	for _, event := range *events {
		if event == "notification.deliver.failed" {
			failures++
		}
	}
	if failures != 2 {
		t.Fatalf("expected 2 logged failures, got %v", *events)
	}
}

func TestNotificationTimeoutBoundsDelivery(t *testing.T) {
	sink := NotificationSinkFunc(func(ctx context.Context, _ Notification) error {
		<-ctx.Done()
		return ctx.Err()
	})
	svc, events := newNotifier(t, sink, 20*time.Millisecond, 1)

	start := time.Now()
	svc.NotifyUser(context.Background(), "user-1", NotificationMessage{Title: "Order update"})
	if err := svc.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("delivery was not bounded, took %s", elapsed)
	}
	if len(*events) != 1 || (*events)[0] != "notification.deliver.failed" {
		t.Fatalf("expected a logged timeout, got %v", *events)
	}
}

func TestNotifyAdminsTimesOutEachSendSeparately(t *testing.T) {
	var delivered atomic.Int32
	sink := NotificationSinkFunc(func(ctx context.Context, _ Notification) error {
		time.Sleep(30 * time.Millisecond)
		if err := ctx.Err(); err != nil {
			return err
		}
		delivered.Add(1)
		return nil
	})
	admins := []domain.AdminUser{{ID: "a1"}, {ID: "a2"}, {ID: "a3"}, {ID: "a4"}}
	svc, events := newNotifier(t, sink, 100*time.Millisecond, 1, admins...)

	svc.NotifyAdmins(context.Background(), NotificationMessage{Title: "New order received"})
	if err := svc.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := delivered.Load(); got != int32(len(admins)) {
		t.Fatalf("expected every admin within its own deadline, got %d deliveries and events %v", got, *events)
	}
}

func TestNotificationCloseRejectsNewWork(t *testing.T) {
	sink := &recordingSink{}
	svc, _ := newNotifier(t, sink, time.Second, 1)

	if err := svc.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	svc.NotifyUser(context.Background(), "user-1", NotificationMessage{Title: "late"})
	if sink.count() != 0 {
		t.Fatalf("notifications after close must be dropped")
	}
}

func TestNotificationCloseHonoursContext(t *testing.T) {
	release := make(chan struct{})
	sink := NotificationSinkFunc(func(context.Context, Notification) error {
		<-release
		return nil
	})
	svc, _ := newNotifier(t, sink, time.Second, 1)
	svc.NotifyUser(context.Background(), "user-1", NotificationMessage{Title: "slow"})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := svc.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	close(release)
	if err := svc.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestInboxAndFanoutSinks(t *testing.T) {
	repo := memory.NewNotificationRepository()
	now := time.Date(2025, time.June, 1, 8, 0, 0, 0, time.UTC)
	inbox, err := NewInboxSink(repo, func() time.Time { return now })
	if err != nil {
		t.Fatalf("inbox sink: %v", err)
	}
	boom := errors.New("topic missing")
	fanout := FanoutSink{inbox, NotificationSinkFunc(func(context.Context, Notification) error { return boom })}

	err = fanout.Deliver(context.Background(), Notification{UserID: "user-1", Title: "Order update"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined sink error, got %v", err)
	}

	stored := repo.All()
	if len(stored) != 1 {
		t.Fatalf("expected the inbox to store the notification, got %d", len(stored))
	}
	if !strings.HasPrefix(stored[0].ID, notificationIDPrefix) || !stored[0].CreatedAt.Equal(now) {
		t.Fatalf("unexpected stored notification %+v", stored[0])
	}
}

func TestMessageFormatter(t *testing.T) {
	formatter, err := NewMessageFormatter(language.MustParse("en-IN"), "INR")
	if err != nil {
		t.Fatalf("formatter: %v", err)
	}
	if _, err := NewMessageFormatter(language.English, "RUPEES"); err == nil {
		t.Fatalf("expected invalid currency to be rejected")
	}

	order := Order{
		ID:            "ord_1",
		OrderNumber:   "ORD-2025-0007-123456",
		Customer:      CustomerSnapshot{Name: "Meera"},
		Status:        domain.OrderStatusShipped,
		PaymentStatus: domain.PaymentStatusRefunded,
		Pricing:       OrderPricing{Total: decimal.RequireFromString("1234.50")},
	}

	received := formatter.OrderReceived(order)
	if !strings.Contains(received.Message, order.OrderNumber) || !strings.Contains(received.Message, "Meera") {
		t.Fatalf("unexpected message %q", received.Message)
	}
	if !strings.Contains(formatter.Amount(order.Pricing.Total), "234") {
		t.Fatalf("amount not rendered: %q", formatter.Amount(order.Pricing.Total))
	}

	if msg := formatter.StatusChanged(order); msg.Message != "Your order ORD-2025-0007-123456 has been shipped." {
		t.Fatalf("unexpected status message %q", msg.Message)
	}
	if msg := formatter.PaymentChanged(order); msg.Type != domain.NotificationTypePayment || !strings.Contains(msg.Message, "refunded") {
		t.Fatalf("unexpected payment message %+v", msg)
	}

	order.CancelReason = "ordered twice"
	if msg := formatter.CancelledByCustomer(order); !strings.HasSuffix(msg.Message, "Reason: ordered twice") {
		t.Fatalf("unexpected cancellation message %q", msg.Message)
	}
}
