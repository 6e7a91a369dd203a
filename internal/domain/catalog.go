package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the inventory view of a catalogue item. Stock and SoldCount are only ever moved by
// conditional atomic adjustments so neither can drop below zero.
type Product struct {
	ID        string
	Name      string
	Price     decimal.Decimal
	Image     string
	Stock     int
	SoldCount int
	UpdatedAt time.Time
}

// UserStats is the per-customer aggregate kept alongside orders.
type UserStats struct {
	UserID      string
	TotalOrders int64
	TotalSpent  decimal.Decimal
	UpdatedAt   time.Time
}

// AdminUser is a recipient of operational notifications.
type AdminUser struct {
	ID    string
	Name  string
	Email string
}

// NotificationType groups notifications shown in the in-app inbox.
type NotificationType string

const (
	NotificationTypeOrder   NotificationType = "order"
	NotificationTypePayment NotificationType = "payment"
)

// Notification is a single inbox entry for a user.
type Notification struct {
	ID        string
	UserID    string
	Type      NotificationType
	Title     string
	Message   string
	Link      string
	Metadata  map[string]any
	Read      bool
	CreatedAt time.Time
}
