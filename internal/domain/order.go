package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus captures where an order sits in its fulfilment lifecycle.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// Valid reports whether the status is one of the known lifecycle states.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// PaymentStatus tracks the settlement state of an order's payment.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusPaid       PaymentStatus = "paid"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

// Valid reports whether the payment status is recognised.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusProcessing, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

// PaymentMethod is the method chosen by the customer at checkout.
type PaymentMethod string

const (
	PaymentMethodCOD        PaymentMethod = "cod"
	PaymentMethodUPI        PaymentMethod = "upi"
	PaymentMethodPhonePe    PaymentMethod = "phonepe"
	PaymentMethodGPay       PaymentMethod = "gpay"
	PaymentMethodPaytm      PaymentMethod = "paytm"
	PaymentMethodCard       PaymentMethod = "card"
	PaymentMethodNetBanking PaymentMethod = "netbanking"
)

// Normalize lowercases and trims the method name.
func (m PaymentMethod) Normalize() PaymentMethod {
	return PaymentMethod(strings.ToLower(strings.TrimSpace(string(m))))
}

// Valid reports whether the normalised method is one the storefront accepts.
func (m PaymentMethod) Valid() bool {
	switch m.Normalize() {
	case PaymentMethodCOD, PaymentMethodUPI, PaymentMethodPhonePe, PaymentMethodGPay, PaymentMethodPaytm, PaymentMethodCard, PaymentMethodNetBanking:
		return true
	}
	return false
}

// DefaultSelfCancelMethods lists the payment methods for which customers may cancel pending orders themselves.
var DefaultSelfCancelMethods = []PaymentMethod{
	PaymentMethodCOD,
	PaymentMethodUPI,
	PaymentMethodGPay,
	PaymentMethodPhonePe,
	PaymentMethodPaytm,
}

// CancelActor identifies who cancelled an order.
type CancelActor string

const (
	CancelledByAdmin    CancelActor = "admin"
	CancelledByCustomer CancelActor = "customer"
)

// CustomerSnapshot is the customer contact copied onto the order at checkout.
type CustomerSnapshot struct {
	Name    string
	Email   string
	Phone   string
	Address Address
}

// OrderItem is a single purchased line. ProductID references the live product; Name, UnitPrice
// and Image are frozen at purchase time and never follow later catalogue edits.
type OrderItem struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
	Image     string
}

// LineTotal returns unit price times quantity.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// OrderPricing holds the monetary amounts supplied by the checkout flow.
type OrderPricing struct {
	Subtotal    decimal.Decimal
	Tax         decimal.Decimal
	ShippingFee decimal.Decimal
	Total       decimal.Decimal
}

// Order is the persisted purchase record.
type Order struct {
	ID             string
	OrderNumber    string
	UserID         string
	Customer       CustomerSnapshot
	Items          []OrderItem
	Pricing        OrderPricing
	Status         OrderStatus
	PaymentMethod  PaymentMethod
	PaymentStatus  PaymentStatus
	TransactionID  string
	TrackingNumber string
	Notes          string
	CancelReason   string
	CancelledBy    CancelActor
	DeliveredAt    *time.Time
	CancelledAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Version        int64
}

// Quantities sums the requested quantity per product id.
func (o Order) Quantities() map[string]int {
	out := make(map[string]int, len(o.Items))
	for _, item := range o.Items {
		out[item.ProductID] += item.Quantity
	}
	return out
}
