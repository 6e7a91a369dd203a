package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/microcosm-cc/bluemonday"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"

	domain "github.com/NagabhushanAdiga/shop-e/internal/domain"
	"github.com/NagabhushanAdiga/shop-e/internal/platform/auth"
	"github.com/NagabhushanAdiga/shop-e/internal/platform/httpx"
	"github.com/NagabhushanAdiga/shop-e/internal/platform/pagination"
	"github.com/NagabhushanAdiga/shop-e/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderNotesLength  = 1000
	maxCancelReasonLen   = 500
)

type orderLineRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type addressPayload struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type customerPayload struct {
	Name    string         `json:"name"`
	Email   string         `json:"email"`
	Phone   string         `json:"phone"`
	Address addressPayload `json:"address"`
}

type pricingPayload struct {
	Subtotal    decimal.Decimal `json:"subtotal"`
	Tax         decimal.Decimal `json:"tax"`
	ShippingFee decimal.Decimal `json:"shippingFee"`
	Total       decimal.Decimal `json:"total"`
}

type createOrderRequest struct {
	Items         []orderLineRequest `json:"items"`
	Customer      customerPayload    `json:"customer"`
	Pricing       pricingPayload     `json:"pricing"`
	PaymentMethod string             `json:"paymentMethod"`
	TransactionID string             `json:"transactionId"`
	Notes         string             `json:"notes"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type orderItemPayload struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	LineTotal decimal.Decimal `json:"lineTotal"`
	Image     string          `json:"image,omitempty"`
}

type orderPayload struct {
	ID             string             `json:"id"`
	OrderNumber    string             `json:"orderNumber"`
	UserID         string             `json:"userId"`
	Customer       customerPayload    `json:"customer"`
	Items          []orderItemPayload `json:"items"`
	Pricing        pricingPayload     `json:"pricing"`
	Status         string             `json:"status"`
	PaymentMethod  string             `json:"paymentMethod"`
	PaymentStatus  string             `json:"paymentStatus"`
	TransactionID  string             `json:"transactionId,omitempty"`
	TrackingNumber string             `json:"trackingNumber,omitempty"`
	Notes          string             `json:"notes,omitempty"`
	CancelReason   string             `json:"cancelReason,omitempty"`
	CancelledBy    string             `json:"cancelledBy,omitempty"`
	DeliveredAt    string             `json:"deliveredAt,omitempty"`
	CancelledAt    string             `json:"cancelledAt,omitempty"`
	CreatedAt      string             `json:"createdAt"`
	UpdatedAt      string             `json:"updatedAt"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

type userStatsResponse struct {
	UserID      string          `json:"userId"`
	TotalOrders int64           `json:"totalOrders"`
	TotalSpent  decimal.Decimal `json:"totalSpent"`
	UpdatedAt   string          `json:"updatedAt,omitempty"`
}

// OrderHandlers exposes checkout and the customer's own order endpoints.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	stats       services.CustomerStatsService
	idempotency func(http.Handler) http.Handler
	policy      *bluemonday.Policy
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithOrderIdempotency guards checkout with the given middleware.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// WithCustomerStats enables GET /me/stats.
func WithCustomerStats(stats services.CustomerStatsService) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.stats = stats
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:  authn,
		orders: orders,
		policy: bluemonday.StrictPolicy(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireUser())
	}
	create := http.Handler(http.HandlerFunc(h.createOrder))
	if h.idempotency != nil {
		create = h.idempotency(create)
	}
	r.Method(http.MethodPost, "/", create)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
}

// MeRoutes registers the /me endpoints.
func (h *OrderHandlers) MeRoutes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireUser())
	}
	r.Get("/stats", h.getStats)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	customer, err := h.customerFromPayload(req.Customer, identity)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	cmd := services.CreateOrderCommand{
		UserID: identity.UID,
		Items: lo.Map(req.Items, func(item orderLineRequest, _ int) services.OrderLineInput {
			return services.OrderLineInput{ProductID: strings.TrimSpace(item.ProductID), Quantity: item.Quantity}
		}),
		Customer: customer,
		Pricing: services.OrderPricing{
			Subtotal:    req.Pricing.Subtotal,
			Tax:         req.Pricing.Tax,
			ShippingFee: req.Pricing.ShippingFee,
			Total:       req.Pricing.Total,
		},
		PaymentMethod: domain.PaymentMethod(req.PaymentMethod).Normalize(),
		TransactionID: strings.TrimSpace(req.TransactionID),
		Notes:         h.clean(req.Notes, maxOrderNotesLength),
	}

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	httpx.WriteJSON(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	pager, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: defaultOrderPageSize,
		MaxPageSize:     maxOrderPageSize,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListUserOrders(ctx, identity.UID, pager)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, orderListResponse{
		Items:         lo.Map(page.Items, func(order services.Order, _ int) orderPayload { return buildOrderPayload(order) }),
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, services.GetOrderQuery{
		OrderID:     orderID,
		RequesterID: identity.UID,
		IsAdmin:     identity.IsAdmin(),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	var req cancelOrderRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
	}

	order, err := h.orders.CancelOrderAsUser(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		UserID:  identity.UID,
		Reason:  h.clean(req.Reason, maxCancelReasonLen),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) getStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stats == nil {
		httpx.WriteError(ctx, w, httpx.NewError("stats_service_unavailable", "customer statistics unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	stats, err := h.stats.Get(ctx, identity.UID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	resp := userStatsResponse{
		UserID:      identity.UID,
		TotalOrders: stats.TotalOrders,
		TotalSpent:  stats.TotalSpent,
	}
	if !stats.UpdatedAt.IsZero() {
		resp.UpdatedAt = formatTime(stats.UpdatedAt)
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// customerFromPayload strips markup from free-text fields and falls back to the token's
// contact details for anything the client left blank.
func (h *OrderHandlers) customerFromPayload(p customerPayload, identity *auth.Identity) (services.CustomerSnapshot, error) {
	country, err := countryCode(p.Address.Country)
	if err != nil {
		return services.CustomerSnapshot{}, err
	}
	c := services.CustomerSnapshot{
		Name:  h.clean(p.Name, 200),
		Email: strings.TrimSpace(p.Email),
		Phone: h.clean(p.Phone, 40),
		Address: services.Address{
			Line1:      h.clean(p.Address.Line1, 200),
			Line2:      h.clean(p.Address.Line2, 200),
			City:       h.clean(p.Address.City, 100),
			State:      h.clean(p.Address.State, 100),
			PostalCode: h.clean(p.Address.PostalCode, 20),
			Country:    country,
		},
	}
	if identity != nil {
		c.Name = lo.CoalesceOrEmpty(c.Name, identity.Name)
		c.Email = lo.CoalesceOrEmpty(c.Email, identity.Email)
		c.Phone = lo.CoalesceOrEmpty(c.Phone, identity.Phone)
	}
	return c, nil
}

// countryCode accepts an empty value or an ISO 3166-1 alpha-2 country code.
func countryCode(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}
	if len(value) != 2 {
		return "", fmt.Errorf("customer.address.country %q must be a 2-letter ISO country code", value)
	}
	region, err := language.ParseRegion(strings.ToUpper(value))
	if err != nil || !region.IsCountry() {
		return "", fmt.Errorf("customer.address.country %q is not a known country code", value)
	}
	return region.String(), nil
}

func (h *OrderHandlers) clean(value string, limit int) string {
	value = strings.TrimSpace(h.policy.Sanitize(value))
	if limit > 0 && len([]rune(value)) > limit {
		value = string([]rune(value)[:limit])
	}
	return value
}

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return "", false
	}
	return orderID, true
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Customer: customerPayload{
			Name:  order.Customer.Name,
			Email: order.Customer.Email,
			Phone: order.Customer.Phone,
			Address: addressPayload{
				Line1:      order.Customer.Address.Line1,
				Line2:      order.Customer.Address.Line2,
				City:       order.Customer.Address.City,
				State:      order.Customer.Address.State,
				PostalCode: order.Customer.Address.PostalCode,
				Country:    order.Customer.Address.Country,
			},
		},
		Items: lo.Map(order.Items, func(item services.OrderItem, _ int) orderItemPayload {
			return orderItemPayload{
				ProductID: item.ProductID,
				Name:      item.Name,
				Quantity:  item.Quantity,
				UnitPrice: item.UnitPrice,
				LineTotal: item.LineTotal(),
				Image:     item.Image,
			}
		}),
		Pricing: pricingPayload{
			Subtotal:    order.Pricing.Subtotal,
			Tax:         order.Pricing.Tax,
			ShippingFee: order.Pricing.ShippingFee,
			Total:       order.Pricing.Total,
		},
		Status:         string(order.Status),
		PaymentMethod:  string(order.PaymentMethod),
		PaymentStatus:  string(order.PaymentStatus),
		TransactionID:  order.TransactionID,
		TrackingNumber: order.TrackingNumber,
		Notes:          order.Notes,
		CancelReason:   order.CancelReason,
		CancelledBy:    string(order.CancelledBy),
		CreatedAt:      formatTime(order.CreatedAt),
		UpdatedAt:      formatTime(order.UpdatedAt),
	}
	if order.DeliveredAt != nil {
		payload.DeliveredAt = formatTime(*order.DeliveredAt)
	}
	if order.CancelledAt != nil {
		payload.CancelledAt = formatTime(*order.CancelledAt)
	}
	return payload
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var stockErr *services.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", stockErr.Error(), http.StatusConflict).WithDetails(map[string]any{
			"productId":   stockErr.ProductID,
			"productName": stockErr.ProductName,
			"available":   stockErr.Available,
			"requested":   stockErr.Requested,
		}))
	case errors.Is(err, services.ErrOrderInvalidInput), errors.Is(err, services.ErrInventoryInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("order_forbidden", err.Error(), http.StatusForbidden))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order was modified concurrently, retry the request", http.StatusConflict))
	case errors.Is(err, services.ErrOrderPaymentNotVerified):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_verified", "payment could not be verified", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrServiceUnavailable), errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "service temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
