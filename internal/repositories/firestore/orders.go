package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"

	domain "github.com/NagabhushanAdiga/shop-e/internal/domain"
	pfirestore "github.com/NagabhushanAdiga/shop-e/internal/platform/firestore"
	"github.com/NagabhushanAdiga/shop-e/internal/platform/pagination"
	"github.com/NagabhushanAdiga/shop-e/internal/repositories"
)

const (
	ordersCollection       = "orders"
	orderNumbersCollection = "orderNumbers"
)

type orderDocument struct {
	OrderNumber    string              `firestore:"orderNumber"`
	UserID         string              `firestore:"userId"`
	Customer       customerDocument    `firestore:"customer"`
	Items          []orderItemDocument `firestore:"items"`
	Subtotal       string              `firestore:"subtotal"`
	Tax            string              `firestore:"tax"`
	ShippingFee    string              `firestore:"shippingFee"`
	Total          string              `firestore:"total"`
	Status         string              `firestore:"status"`
	PaymentMethod  string              `firestore:"paymentMethod"`
	PaymentStatus  string              `firestore:"paymentStatus"`
	TransactionID  string              `firestore:"transactionId,omitempty"`
	TrackingNumber string              `firestore:"trackingNumber,omitempty"`
	Notes          string              `firestore:"notes,omitempty"`
	CancelReason   string              `firestore:"cancelReason,omitempty"`
	CancelledBy    string              `firestore:"cancelledBy,omitempty"`
	DeliveredAt    *time.Time          `firestore:"deliveredAt,omitempty"`
	CancelledAt    *time.Time          `firestore:"cancelledAt,omitempty"`
	CreatedAt      time.Time           `firestore:"createdAt"`
	UpdatedAt      time.Time           `firestore:"updatedAt"`
	Version        int64               `firestore:"version"`
}

type customerDocument struct {
	Name       string `firestore:"name"`
	Email      string `firestore:"email"`
	Phone      string `firestore:"phone,omitempty"`
	Line1      string `firestore:"line1,omitempty"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city,omitempty"`
	State      string `firestore:"state,omitempty"`
	PostalCode string `firestore:"postalCode,omitempty"`
	Country    string `firestore:"country,omitempty"`
}

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	Quantity  int64  `firestore:"quantity"`
	UnitPrice string `firestore:"unitPrice"`
	Image     string `firestore:"image,omitempty"`
}

type orderNumberDocument struct {
	OrderID   string    `firestore:"orderId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func encodeOrder(o domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, orderItemDocument{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  int64(item.Quantity),
			UnitPrice: item.UnitPrice.String(),
			Image:     item.Image,
		})
	}
	addr := o.Customer.Address
	return orderDocument{
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID,
		Customer: customerDocument{
			Name: o.Customer.Name, Email: o.Customer.Email, Phone: o.Customer.Phone,
			Line1: addr.Line1, Line2: addr.Line2, City: addr.City, State: addr.State,
			PostalCode: addr.PostalCode, Country: addr.Country,
		},
		Items:          items,
		Subtotal:       o.Pricing.Subtotal.String(),
		Tax:            o.Pricing.Tax.String(),
		ShippingFee:    o.Pricing.ShippingFee.String(),
		Total:          o.Pricing.Total.String(),
		Status:         string(o.Status),
		PaymentMethod:  string(o.PaymentMethod),
		PaymentStatus:  string(o.PaymentStatus),
		TransactionID:  o.TransactionID,
		TrackingNumber: o.TrackingNumber,
		Notes:          o.Notes,
		CancelReason:   o.CancelReason,
		CancelledBy:    string(o.CancelledBy),
		DeliveredAt:    o.DeliveredAt,
		CancelledAt:    o.CancelledAt,
		CreatedAt:      o.CreatedAt.UTC(),
		UpdatedAt:      o.UpdatedAt.UTC(),
		Version:        o.Version,
	}
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	items := make([]domain.OrderItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		items = append(items, domain.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  int(item.Quantity),
			UnitPrice: parseAmount(item.UnitPrice),
			Image:     item.Image,
		})
	}
	c := doc.Customer
	return domain.Order{
		ID:          id,
		OrderNumber: doc.OrderNumber,
		UserID:      doc.UserID,
		Customer: domain.CustomerSnapshot{
			Name: c.Name, Email: c.Email, Phone: c.Phone,
			Address: domain.Address{
				Line1: c.Line1, Line2: c.Line2, City: c.City, State: c.State,
				PostalCode: c.PostalCode, Country: c.Country,
			},
		},
		Items: items,
		Pricing: domain.OrderPricing{
			Subtotal:    parseAmount(doc.Subtotal),
			Tax:         parseAmount(doc.Tax),
			ShippingFee: parseAmount(doc.ShippingFee),
			Total:       parseAmount(doc.Total),
		},
		Status:         domain.OrderStatus(doc.Status),
		PaymentMethod:  domain.PaymentMethod(doc.PaymentMethod),
		PaymentStatus:  domain.PaymentStatus(doc.PaymentStatus),
		TransactionID:  doc.TransactionID,
		TrackingNumber: doc.TrackingNumber,
		Notes:          doc.Notes,
		CancelReason:   doc.CancelReason,
		CancelledBy:    domain.CancelActor(doc.CancelledBy),
		DeliveredAt:    doc.DeliveredAt,
		CancelledAt:    doc.CancelledAt,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
		Version:        doc.Version,
	}
}

func parseAmount(raw string) decimal.Decimal {
	if raw == "" {
		return decimal.Zero
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return value
}

// OrderRepository stores orders and reserves their order numbers in a side collection so two
// orders can never share a number.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[domain.Order, orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection(provider, ordersCollection, encodeOrder, decodeOrder),
	}, nil
}

func (r *OrderRepository) numberRef(ctx context.Context, number string) (*firestore.DocumentRef, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(orderNumbersCollection).Doc(number), nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	const op = "orders.insert"
	orderRef, err := r.orders.Doc(ctx, order.ID)
	if err != nil {
		return err
	}
	numberRef, err := r.numberRef(ctx, order.OrderNumber)
	if err != nil {
		return err
	}
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Create(numberRef, orderNumberDocument{OrderID: order.ID, CreatedAt: order.CreatedAt.UTC()}); err != nil {
			return err
		}
		return tx.Create(orderRef, r.orders.Encode(order))
	})
	return pfirestore.WrapError(op, err)
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order) (domain.Order, error) {
	const op = "orders.update"
	ref, err := r.orders.Doc(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	var saved domain.Order
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		current, err := r.orders.Decode(snap)
		if err != nil {
			return err
		}
		if current.Version != order.Version {
			return pfirestore.ConflictError(op, "order %s version %d is stale (stored %d)", order.ID, order.Version, current.Version)
		}
		next := order
		next.Version++
		if err := tx.Set(ref, r.orders.Encode(next)); err != nil {
			return err
		}
		saved = next
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError(op, err)
	}
	return saved, nil
}

func (r *OrderRepository) Delete(ctx context.Context, orderID string, expectedVersion int64) error {
	const op = "orders.delete"
	ref, err := r.orders.Doc(ctx, orderID)
	if err != nil {
		return err
	}
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		current, err := r.orders.Decode(snap)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return pfirestore.ConflictError(op, "order %s version %d is stale (stored %d)", orderID, expectedVersion, current.Version)
		}
		numberRef, err := r.numberRef(ctx, current.OrderNumber)
		if err != nil {
			return err
		}
		if err := tx.Delete(numberRef); err != nil {
			return err
		}
		return tx.Delete(ref)
	})
	return pfirestore.WrapError(op, err)
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	return r.orders.Get(ctx, orderID)
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	pager = pagination.Normalize(pager)
	cursor, err := pagination.DecodeCursor(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	items, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("userId", "==", userID).
			OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc)
		if !cursor.IsZero() {
			q = q.StartAfter(cursor.CreatedAt, cursor.ID)
		}
		return q.Limit(pager.PageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	page := domain.CursorPage[domain.Order]{}
	if len(items) > pager.PageSize {
		last := items[pager.PageSize-1]
		page.NextPageToken = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		items = items[:pager.PageSize]
	}
	page.Items = items
	return page, nil
}
