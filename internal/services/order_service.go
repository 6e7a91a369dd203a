package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/NagabhushanAdiga/shop-e/internal/domain"
	"github.com/NagabhushanAdiga/shop-e/internal/repositories"
)

const (
	orderIDPrefix              = "ord_"
	defaultOrderNumberAttempts = 3
)

// orderStateTransitions lists the statuses reachable from each status. Cancelled is terminal.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusDelivered, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusDelivered, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered, domain.OrderStatusCancelled},
	domain.OrderStatusDelivered:  {domain.OrderStatusCancelled},
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders              repositories.OrderRepository
	Inventory           InventoryService
	Stats               CustomerStatsService
	Counters            CounterService
	Notifications       NotificationService
	Messages            *MessageFormatter
	Payments            PaymentVerifier
	Currency            string
	SelfCancelMethods   []PaymentMethod
	OrderNumberAttempts int
	Metrics             *Metrics
	Clock               func() time.Time
	IDGenerator         func() string
	Logger              func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders            repositories.OrderRepository
	inventory         InventoryService
	stats             CustomerStatsService
	counters          CounterService
	notifications     NotificationService
	messages          *MessageFormatter
	payments          PaymentVerifier
	currency          string
	selfCancelMethods []PaymentMethod
	numberAttempts    int
	metrics           *Metrics
	locks             *keyedLock
	clock             func() time.Time
	newID             func() string
	logger            func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory service is required")
	}
	if deps.Stats == nil {
		return nil, errors.New("order service: customer stats service is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter service is required")
	}
	if deps.Notifications == nil {
		return nil, errors.New("order service: notification service is required")
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "INR"
	}

	messages := deps.Messages
	if messages == nil {
		var err error
		if messages, err = NewMessageFormatter(defaultMessageLocale, currency); err != nil {
			return nil, fmt.Errorf("order service: %w", err)
		}
	}

	methods := lo.Map(deps.SelfCancelMethods, func(m PaymentMethod, _ int) PaymentMethod { return m.Normalize() })
	if len(methods) == 0 {
		methods = domain.DefaultSelfCancelMethods
	}

	attempts := deps.OrderNumberAttempts
	if attempts <= 0 {
		attempts = defaultOrderNumberAttempts
	}

	metrics := deps.Metrics
	if metrics == nil {
		metrics = NoopMetrics()
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:            deps.Orders,
		inventory:         deps.Inventory,
		stats:             deps.Stats,
		counters:          deps.Counters,
		notifications:     deps.Notifications,
		messages:          messages,
		payments:          deps.Payments,
		currency:          currency,
		selfCancelMethods: methods,
		numberAttempts:    attempts,
		metrics:           metrics,
		locks:             newKeyedLock(),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (order Order, err error) {
	ctx, span := tracer.Start(ctx, "orders.create")
	defer func() { endSpan(span, err) }()

	if err := validateCreateOrder(cmd); err != nil {
		return Order{}, err
	}
	userID := strings.TrimSpace(cmd.UserID)
	method := cmd.PaymentMethod.Normalize()
	transactionID := strings.TrimSpace(cmd.TransactionID)

	paymentStatus := domain.PaymentStatusPending
	if transactionID != "" && s.payments != nil {
		verified, verifyErr := s.payments.VerifyPayment(ctx, PaymentDetails{
			Method:        method,
			TransactionID: transactionID,
			Amount:        cmd.Pricing.Total,
			Currency:      s.currency,
		})
		switch {
		case errors.Is(verifyErr, ErrPaymentUnverifiable):
			// the reference is kept but the order waits for manual settlement
			s.logger(ctx, "order.payment.unverifiable", map[string]any{
				"userId":        userID,
				"paymentMethod": string(method),
			})
		case verifyErr != nil:
			return Order{}, fmt.Errorf("order: verify payment: %w", verifyErr)
		case !verified:
			return Order{}, fmt.Errorf("%w: transaction %s", ErrOrderPaymentNotVerified, transactionID)
		default:
			paymentStatus = domain.PaymentStatusPaid
		}
	}

	lines := lo.Map(cmd.Items, func(item OrderLineInput, _ int) InventoryLine {
		return InventoryLine{ProductID: strings.TrimSpace(item.ProductID), Quantity: item.Quantity}
	})

	products, err := s.inventory.CheckAvailability(ctx, lines)
	if err != nil {
		return Order{}, err
	}

	items := make([]OrderItem, 0, len(lines))
	for i, line := range lines {
		product := products[line.ProductID]
		lines[i].Name = product.Name
		items = append(items, OrderItem{
			ProductID: product.ID,
			Name:      product.Name,
			Quantity:  line.Quantity,
			UnitPrice: product.Price,
			Image:     product.Image,
		})
	}

	if err := s.inventory.Reserve(ctx, lines); err != nil {
		return Order{}, err
	}

	now := s.now()
	order = Order{
		UserID:        userID,
		Customer:      trimCustomer(cmd.Customer),
		Items:         items,
		Pricing:       cmd.Pricing,
		Status:        domain.OrderStatusPending,
		PaymentMethod: method,
		PaymentStatus: paymentStatus,
		TransactionID: transactionID,
		Notes:         strings.TrimSpace(cmd.Notes),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.insertWithOrderNumber(ctx, &order); err != nil {
		s.releaseReservation(ctx, lines, order.ID)
		return Order{}, err
	}

	if err := s.stats.RecordOrder(ctx, userID, order.Pricing.Total); err != nil {
		if delErr := s.orders.Delete(context.WithoutCancel(ctx), order.ID, order.Version); delErr != nil {
			s.logger(ctx, "order.create.rollback_failed", map[string]any{
				"orderId": order.ID,
				"error":   delErr.Error(),
			})
		}
		s.releaseReservation(ctx, lines, order.ID)
		return Order{}, err
	}

	span.SetAttributes(attribute.String("order.id", order.ID), attribute.String("order.number", order.OrderNumber))
	s.metrics.OrderCreated(ctx, method)
	s.logger(ctx, "order.created", map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"userId":      userID,
		"items":       len(items),
		"total":       order.Pricing.Total.String(),
	})
	s.notifications.NotifyAdmins(ctx, s.messages.OrderReceived(order))

	return order, nil
}

func (s *orderService) UpdateOrderStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (updated Order, err error) {
	ctx, span := tracer.Start(ctx, "orders.update_status")
	defer func() { endSpan(span, err) }()

	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if cmd.Status != nil && !cmd.Status.Valid() {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, *cmd.Status)
	}
	if cmd.PaymentStatus != nil && !cmd.PaymentStatus.Valid() {
		return Order{}, fmt.Errorf("%w: unknown payment status %q", ErrOrderInvalidInput, *cmd.PaymentStatus)
	}
	span.SetAttributes(attribute.String("order.id", orderID))

	unlock := s.locks.Lock(orderID)
	defer unlock()

	current, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	now := s.now()
	next := current
	statusChanged := false
	if cmd.Status != nil && *cmd.Status != current.Status {
		if !canTransition(current.Status, *cmd.Status) {
			return Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, current.Status, *cmd.Status)
		}
		next.Status = *cmd.Status
		stampStatusTimestamps(&next, now)
		if next.Status == domain.OrderStatusCancelled {
			next.CancelledBy = domain.CancelledByAdmin
		}
		statusChanged = true
	}

	paymentChanged := false
	if cmd.PaymentStatus != nil && *cmd.PaymentStatus != current.PaymentStatus {
		next.PaymentStatus = *cmd.PaymentStatus
		paymentChanged = true
	}

	trackingChanged := false
	if cmd.TrackingNumber != nil {
		tracking := strings.TrimSpace(*cmd.TrackingNumber)
		trackingChanged = tracking != current.TrackingNumber
		next.TrackingNumber = tracking
	}

	if !statusChanged && !paymentChanged && !trackingChanged {
		return current, nil
	}
	next.UpdatedAt = now

	if statusChanged && next.Status == domain.OrderStatusCancelled {
		updated, err = s.cancelAndReverse(ctx, current, next)
		if err != nil {
			return Order{}, err
		}
		s.metrics.OrderCancelled(ctx, string(domain.CancelledByAdmin))
	} else {
		updated, err = s.orders.Update(ctx, next)
		if err != nil {
			return Order{}, s.mapRepositoryError(err)
		}
	}

	s.logger(ctx, "order.updated", map[string]any{
		"orderId":        updated.ID,
		"previousStatus": string(current.Status),
		"status":         string(updated.Status),
		"paymentStatus":  string(updated.PaymentStatus),
		"actorId":        strings.TrimSpace(cmd.ActorID),
	})

	if statusChanged {
		s.notifications.NotifyUser(ctx, updated.UserID, s.messages.StatusChanged(updated))
	}
	if paymentChanged {
		s.notifications.NotifyUser(ctx, updated.UserID, s.messages.PaymentChanged(updated))
	}

	return updated, nil
}

func (s *orderService) CancelOrderAsUser(ctx context.Context, cmd CancelOrderCommand) (updated Order, err error) {
	ctx, span := tracer.Start(ctx, "orders.cancel_as_user")
	defer func() { endSpan(span, err) }()

	orderID := strings.TrimSpace(cmd.OrderID)
	userID := strings.TrimSpace(cmd.UserID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	span.SetAttributes(attribute.String("order.id", orderID))

	unlock := s.locks.Lock(orderID)
	defer unlock()

	current, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if current.UserID != userID {
		return Order{}, fmt.Errorf("%w: order %s belongs to another user", ErrOrderForbidden, orderID)
	}
	if current.Status != domain.OrderStatusPending {
		return Order{}, fmt.Errorf("%w: only pending orders can be cancelled, order is %s", ErrOrderInvalidState, current.Status)
	}
	if !lo.Contains(s.selfCancelMethods, current.PaymentMethod.Normalize()) {
		return Order{}, fmt.Errorf("%w: orders paid by %q cannot be cancelled online", ErrOrderInvalidState, current.PaymentMethod)
	}

	now := s.now()
	next := current
	next.Status = domain.OrderStatusCancelled
	next.CancelledBy = domain.CancelledByCustomer
	next.CancelReason = strings.TrimSpace(cmd.Reason)
	next.UpdatedAt = now
	stampStatusTimestamps(&next, now)

	updated, err = s.cancelAndReverse(ctx, current, next)
	if err != nil {
		return Order{}, err
	}

	s.metrics.OrderCancelled(ctx, string(domain.CancelledByCustomer))
	s.logger(ctx, "order.cancelled_by_customer", map[string]any{
		"orderId": updated.ID,
		"userId":  userID,
	})
	s.notifications.NotifyAdmins(ctx, s.messages.CancelledByCustomer(updated))

	return updated, nil
}

func (s *orderService) DeleteOrder(ctx context.Context, orderID string) (err error) {
	ctx, span := tracer.Start(ctx, "orders.delete")
	defer func() { endSpan(span, err) }()

	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	span.SetAttributes(attribute.String("order.id", orderID))

	unlock := s.locks.Lock(orderID)
	defer unlock()

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return s.mapRepositoryError(err)
	}

	// cancelled orders were already reversed when they entered that state
	reversed := false
	if order.Status != domain.OrderStatusCancelled {
		if err := s.reverse(ctx, order); err != nil {
			return err
		}
		reversed = true
	}

	if err := s.orders.Delete(ctx, order.ID, order.Version); err != nil {
		if reversed {
			s.reapply(ctx, order)
		}
		return s.mapRepositoryError(err)
	}

	s.metrics.OrderDeleted(ctx)
	s.logger(ctx, "order.deleted", map[string]any{
		"orderId":  order.ID,
		"status":   string(order.Status),
		"reversed": reversed,
	})
	return nil
}

func (s *orderService) GetOrder(ctx context.Context, query GetOrderQuery) (Order, error) {
	orderID := strings.TrimSpace(query.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	// hide other customers' orders instead of revealing that they exist
	if !query.IsAdmin && order.UserID != strings.TrimSpace(query.RequesterID) {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

func (s *orderService) ListUserOrders(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Order], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	page, err := s.orders.ListByUser(ctx, userID, pager)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// insertWithOrderNumber assigns a fresh id and order number and retries on a uniqueness conflict.
func (s *orderService) insertWithOrderNumber(ctx context.Context, order *Order) error {
	var lastErr error
	for attempt := 1; attempt <= s.numberAttempts; attempt++ {
		number, err := s.counters.NextOrderNumber(ctx)
		if err != nil {
			return err
		}
		order.ID = s.nextOrderID()
		order.OrderNumber = number

		err = s.orders.Insert(ctx, *order)
		if err == nil {
			return nil
		}
		if !isRepositoryConflict(err) {
			return s.mapRepositoryError(err)
		}
		lastErr = err
		s.logger(ctx, "order.number.collision", map[string]any{
			"orderNumber": number,
			"attempt":     attempt,
		})
	}
	return fmt.Errorf("%w: could not allocate a unique order number: %v", ErrOrderConflict, lastErr)
}

// cancelAndReverse persists the cancelled order first so only the writer that wins the version
// check reverses stock and statistics. A failed reversal restores the previous record.
func (s *orderService) cancelAndReverse(ctx context.Context, previous, next Order) (Order, error) {
	updated, err := s.orders.Update(ctx, next)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if err := s.reverse(ctx, updated); err != nil {
		rollback := previous
		rollback.Version = updated.Version
		if _, rbErr := s.orders.Update(context.WithoutCancel(ctx), rollback); rbErr != nil {
			s.logger(ctx, "order.cancel.rollback_failed", map[string]any{
				"orderId": previous.ID,
				"error":   rbErr.Error(),
			})
		}
		return Order{}, err
	}
	return updated, nil
}

// reverse restores reserved stock and removes the order from the customer's statistics.
func (s *orderService) reverse(ctx context.Context, order Order) error {
	lines := orderLines(order)
	if len(lines) > 0 {
		if err := s.inventory.Restore(ctx, lines); err != nil {
			return err
		}
	}
	if err := s.stats.ReverseOrder(ctx, order.UserID, order.Pricing.Total); err != nil {
		if len(lines) > 0 {
			if reErr := s.inventory.Reserve(context.WithoutCancel(ctx), lines); reErr != nil {
				s.logger(ctx, "order.reverse.undo_failed", map[string]any{
					"orderId": order.ID,
					"error":   reErr.Error(),
				})
			}
		}
		return err
	}
	return nil
}

// reapply undoes reverse after a failed delete.
func (s *orderService) reapply(ctx context.Context, order Order) {
	ctx = context.WithoutCancel(ctx)
	if lines := orderLines(order); len(lines) > 0 {
		if err := s.inventory.Reserve(ctx, lines); err != nil {
			s.logger(ctx, "order.delete.reapply_stock_failed", map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
		}
	}
	if err := s.stats.RecordOrder(ctx, order.UserID, order.Pricing.Total); err != nil {
		s.logger(ctx, "order.delete.reapply_stats_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) releaseReservation(ctx context.Context, lines []InventoryLine, orderID string) {
	if err := s.inventory.Restore(context.WithoutCancel(ctx), lines); err != nil {
		s.logger(ctx, "order.create.release_failed", map[string]any{
			"orderId": orderID,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: order repository: %v", ErrServiceUnavailable, err)
		}
	}

	return err
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func validateCreateOrder(cmd CreateOrderCommand) error {
	if strings.TrimSpace(cmd.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return fmt.Errorf("%w: order must contain at least one item", ErrOrderInvalidInput)
	}
	for i, item := range cmd.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return fmt.Errorf("%w: item %d: product id is required", ErrOrderInvalidInput, i)
		}
		if item.Quantity < 1 {
			return fmt.Errorf("%w: item %d: quantity must be at least 1", ErrOrderInvalidInput, i)
		}
	}
	if cmd.PaymentMethod.Normalize() == "" {
		return fmt.Errorf("%w: payment method is required", ErrOrderInvalidInput)
	}
	if !cmd.PaymentMethod.Valid() {
		return fmt.Errorf("%w: unknown payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}
	amounts := []struct {
		name  string
		value decimal.Decimal
	}{
		{"subtotal", cmd.Pricing.Subtotal},
		{"tax", cmd.Pricing.Tax},
		{"shippingFee", cmd.Pricing.ShippingFee},
		{"total", cmd.Pricing.Total},
	}
	for _, amount := range amounts {
		if amount.value.IsNegative() {
			return fmt.Errorf("%w: %s must not be negative", ErrOrderInvalidInput, amount.name)
		}
	}
	return nil
}

func canTransition(current, target domain.OrderStatus) bool {
	return lo.Contains(orderStateTransitions[current], target)
}

func stampStatusTimestamps(order *Order, now time.Time) {
	switch order.Status {
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	case domain.OrderStatusCancelled:
		if order.CancelledAt == nil {
			order.CancelledAt = &now
		}
	}
}

func orderLines(order Order) []InventoryLine {
	return lo.FilterMap(order.Items, func(item OrderItem, _ int) (InventoryLine, bool) {
		return InventoryLine{ProductID: item.ProductID, Name: item.Name, Quantity: item.Quantity}, item.Quantity > 0
	})
}

func trimCustomer(c CustomerSnapshot) CustomerSnapshot {
	c.Name = strings.TrimSpace(c.Name)
	c.Email = strings.TrimSpace(c.Email)
	c.Phone = strings.TrimSpace(c.Phone)
	return c
}

func isRepositoryConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
