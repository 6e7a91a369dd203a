package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/NagabhushanAdiga/shop-e/internal/domain"
	"github.com/NagabhushanAdiga/shop-e/internal/platform/auth"
	"github.com/NagabhushanAdiga/shop-e/internal/platform/httpx"
	"github.com/NagabhushanAdiga/shop-e/internal/services"
)

type updateOrderRequest struct {
	Status         *string `json:"status"`
	PaymentStatus  *string `json:"paymentStatus"`
	TrackingNumber *string `json:"trackingNumber"`
}

// AdminOrderHandlers exposes the order management endpoints for staff.
type AdminOrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewAdminOrderHandlers constructs the admin order handlers.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *AdminOrderHandlers {
	return &AdminOrderHandlers{authn: authn, orders: orders}
}

// Routes registers the /admin endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAdmin())
	}
	r.Get("/orders/{orderID}", h.getOrder)
	r.Patch("/orders/{orderID}", h.updateOrder)
	r.Delete("/orders/{orderID}", h.deleteOrder)
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
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
		IsAdmin:     true,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) updateOrder(w http.ResponseWriter, r *http.Request) {
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

	var req updateOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	if req.Status == nil && req.PaymentStatus == nil && req.TrackingNumber == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "at least one of status, paymentStatus or trackingNumber is required", http.StatusBadRequest))
		return
	}

	cmd := services.UpdateOrderStatusCommand{
		OrderID: orderID,
		ActorID: identity.UID,
	}
	if req.Status != nil {
		status := domain.OrderStatus(strings.ToLower(strings.TrimSpace(*req.Status)))
		if !status.Valid() {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is not recognised", http.StatusBadRequest))
			return
		}
		cmd.Status = &status
	}
	if req.PaymentStatus != nil {
		paymentStatus := domain.PaymentStatus(strings.ToLower(strings.TrimSpace(*req.PaymentStatus)))
		if !paymentStatus.Valid() {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "paymentStatus is not recognised", http.StatusBadRequest))
			return
		}
		cmd.PaymentStatus = &paymentStatus
	}
	if req.TrackingNumber != nil {
		tracking := strings.TrimSpace(*req.TrackingNumber)
		cmd.TrackingNumber = &tracking
	}

	order, err := h.orders.UpdateOrderStatus(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := requireIdentity(ctx, w); !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	if err := h.orders.DeleteOrder(ctx, orderID); err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
