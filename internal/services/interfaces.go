package services

import (
	"context"

	"github.com/shopspring/decimal"

	domain "github.com/NagabhushanAdiga/shop-e/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderPricing       = domain.OrderPricing
	OrderStatus        = domain.OrderStatus
	PaymentStatus      = domain.PaymentStatus
	PaymentMethod      = domain.PaymentMethod
	CustomerSnapshot   = domain.CustomerSnapshot
	Address            = domain.Address
	Product            = domain.Product
	UserStats          = domain.UserStats
	Notification       = domain.Notification
	SystemHealthReport = domain.SystemHealthReport
)

// OrderService is the order lifecycle engine: checkout, administrative transitions, customer
// cancellation and deletion, each keeping stock and customer statistics consistent.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	UpdateOrderStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error)
	CancelOrderAsUser(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	DeleteOrder(ctx context.Context, orderID string) error
	GetOrder(ctx context.Context, query GetOrderQuery) (Order, error)
	ListUserOrders(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Order], error)
}

// InventoryService reserves and restores product stock.
type InventoryService interface {
	// CheckAvailability loads every referenced product and verifies the whole request fits in
	// current stock without mutating anything.
	CheckAvailability(ctx context.Context, lines []InventoryLine) (map[string]Product, error)
	// Reserve decrements stock line by line in input order. On failure every line already
	// reserved is restored before the error is returned.
	Reserve(ctx context.Context, lines []InventoryLine) error
	// Restore returns previously reserved quantities to stock. Lines whose product no longer
	// exists are skipped.
	Restore(ctx context.Context, lines []InventoryLine) error
}

// CustomerStatsService maintains per-customer order aggregates.
type CustomerStatsService interface {
	RecordOrder(ctx context.Context, userID string, total decimal.Decimal) error
	ReverseOrder(ctx context.Context, userID string, total decimal.Decimal) error
	Get(ctx context.Context, userID string) (UserStats, error)
}

// NotificationService dispatches best-effort notifications off the request path.
type NotificationService interface {
	NotifyUser(ctx context.Context, userID string, msg NotificationMessage)
	NotifyAdmins(ctx context.Context, msg NotificationMessage)
	// Close stops accepting new notifications and waits for in-flight deliveries.
	Close(ctx context.Context) error
}

// NotificationSink delivers one notification to one recipient.
type NotificationSink interface {
	Deliver(ctx context.Context, notification Notification) error
}

// PaymentVerifier is the payment gateway oracle consulted at checkout.
type PaymentVerifier interface {
	VerifyPayment(ctx context.Context, details PaymentDetails) (bool, error)
}

// CounterService generates human readable sequences.
type CounterService interface {
	NextOrderNumber(ctx context.Context) (string, error)
}

// SystemService exposes readiness information.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// InventoryLine is a quantity of one product. Name is used for error reporting only.
type InventoryLine struct {
	ProductID string
	Name      string
	Quantity  int
}

// OrderLineInput is a checkout line as submitted by the customer.
type OrderLineInput struct {
	ProductID string
	Quantity  int
}

// PaymentDetails carries what the gateway needs to confirm a payment.
type PaymentDetails struct {
	Method        PaymentMethod
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
}

// CreateOrderCommand is the checkout request. Pricing is computed by the caller and stored as is.
type CreateOrderCommand struct {
	UserID        string
	Items         []OrderLineInput
	Customer      CustomerSnapshot
	Pricing       OrderPricing
	PaymentMethod PaymentMethod
	TransactionID string
	Notes         string
}

// UpdateOrderStatusCommand applies an administrative change. Nil fields are left untouched.
type UpdateOrderStatusCommand struct {
	OrderID        string
	Status         *OrderStatus
	PaymentStatus  *PaymentStatus
	TrackingNumber *string
	ActorID        string
}

// CancelOrderCommand is a customer's request to cancel their own order.
type CancelOrderCommand struct {
	OrderID string
	UserID  string
	Reason  string
}

// GetOrderQuery reads one order on behalf of a requester.
type GetOrderQuery struct {
	OrderID     string
	RequesterID string
	IsAdmin     bool
}

// NotificationMessage is the recipient independent part of a notification.
type NotificationMessage struct {
	Type     domain.NotificationType
	Title    string
	Message  string
	Link     string
	Metadata map[string]any
}
