package services

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	domain "github.com/NagabhushanAdiga/shop-e/internal/domain"
)

var defaultMessageLocale = language.MustParse("en-IN")

var orderStatusMessages = map[domain.OrderStatus]string{
	domain.OrderStatusPending:    "Your order %s has been received and is awaiting confirmation.",
	domain.OrderStatusProcessing: "Your order %s is being prepared.",
	domain.OrderStatusShipped:    "Your order %s has been shipped.",
	domain.OrderStatusDelivered:  "Your order %s has been delivered. Enjoy!",
	domain.OrderStatusCancelled:  "Your order %s has been cancelled.",
}

var paymentStatusMessages = map[domain.PaymentStatus]string{
	domain.PaymentStatusPending:    "Payment for order %s is pending.",
	domain.PaymentStatusProcessing: "Payment for order %s is being processed.",
	domain.PaymentStatusPaid:       "Payment for order %s was received.",
	domain.PaymentStatusFailed:     "Payment for order %s failed. Please try again or choose another method.",
	domain.PaymentStatusRefunded:   "Payment for order %s has been refunded.",
}

// MessageFormatter renders notification texts with localised amounts.
type MessageFormatter struct {
	printer *message.Printer
	unit    currency.Unit
}

// NewMessageFormatter validates the ISO currency code and prepares a printer for the locale.
func NewMessageFormatter(tag language.Tag, currencyCode string) (*MessageFormatter, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(currencyCode))
	if err != nil {
		return nil, fmt.Errorf("message formatter: currency %q: %w", currencyCode, err)
	}
	return &MessageFormatter{
		printer: message.NewPrinter(tag),
		unit:    unit,
	}, nil
}

// Amount formats a money value with the currency symbol.
func (f *MessageFormatter) Amount(value decimal.Decimal) string {
	amount, _ := value.Round(2).Float64()
	return f.printer.Sprintf("%v", currency.Symbol(f.unit.Amount(amount)))
}

func (f *MessageFormatter) OrderReceived(order Order) NotificationMessage {
	return NotificationMessage{
		Type:    domain.NotificationTypeOrder,
		Title:   "New order received",
		Message: fmt.Sprintf("Order %s placed by %s for %s.", order.OrderNumber, customerName(order), f.Amount(order.Pricing.Total)),
		Link:    adminOrderLink(order),
		Metadata: map[string]any{
			"orderId":     order.ID,
			"orderNumber": order.OrderNumber,
			"total":       order.Pricing.Total.String(),
		},
	}
}

func (f *MessageFormatter) CancelledByCustomer(order Order) NotificationMessage {
	text := fmt.Sprintf("Order %s was cancelled by %s.", order.OrderNumber, customerName(order))
	if order.CancelReason != "" {
		text += " Reason: " + order.CancelReason
	}
	return NotificationMessage{
		Type:    domain.NotificationTypeOrder,
		Title:   "Order cancelled by customer",
		Message: text,
		Link:    adminOrderLink(order),
		Metadata: map[string]any{
			"orderId":     order.ID,
			"orderNumber": order.OrderNumber,
			"total":       order.Pricing.Total.String(),
		},
	}
}

func (f *MessageFormatter) StatusChanged(order Order) NotificationMessage {
	template, ok := orderStatusMessages[order.Status]
	if !ok {
		template = "Your order %s was updated."
	}
	return NotificationMessage{
		Type:    domain.NotificationTypeOrder,
		Title:   "Order update",
		Message: fmt.Sprintf(template, order.OrderNumber),
		Link:    customerOrderLink(order),
		Metadata: map[string]any{
			"orderId":     order.ID,
			"orderNumber": order.OrderNumber,
			"status":      string(order.Status),
		},
	}
}

func (f *MessageFormatter) PaymentChanged(order Order) NotificationMessage {
	template, ok := paymentStatusMessages[order.PaymentStatus]
	if !ok {
		template = "Payment for order %s was updated."
	}
	return NotificationMessage{
		Type:    domain.NotificationTypePayment,
		Title:   "Payment update",
		Message: fmt.Sprintf(template, order.OrderNumber),
		Link:    customerOrderLink(order),
		Metadata: map[string]any{
			"orderId":       order.ID,
			"orderNumber":   order.OrderNumber,
			"paymentStatus": string(order.PaymentStatus),
		},
	}
}

func customerName(order Order) string {
	if name := strings.TrimSpace(order.Customer.Name); name != "" {
		return name
	}
	return "a customer"
}

func adminOrderLink(order Order) string {
	return "/admin/orders/" + order.ID
}

func customerOrderLink(order Order) string {
	return "/orders/" + order.ID
}
