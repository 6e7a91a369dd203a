package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/NagabhushanAdiga/shop-e/internal/services"

var tracer = otel.Tracer(instrumentationName)

// Metrics holds the counters emitted by the order engine and its collaborators.
type Metrics struct {
	created             metric.Int64Counter
	cancelled           metric.Int64Counter
	deleted             metric.Int64Counter
	insufficientStock   metric.Int64Counter
	notificationsFailed metric.Int64Counter
}

// NewMetrics registers the service counters on the supplied meter, falling back to the global
// meter provider when nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(instrumentationName)
	}

	var (
		m   Metrics
		err error
	)
	if m.created, err = meter.Int64Counter("orders.created", metric.WithDescription("Orders created at checkout")); err != nil {
		return nil, err
	}
	if m.cancelled, err = meter.Int64Counter("orders.cancelled", metric.WithDescription("Orders moved into the cancelled state")); err != nil {
		return nil, err
	}
	if m.deleted, err = meter.Int64Counter("orders.deleted", metric.WithDescription("Orders removed by administrators")); err != nil {
		return nil, err
	}
	if m.insufficientStock, err = meter.Int64Counter("inventory.insufficient_stock", metric.WithDescription("Reservations rejected for lack of stock")); err != nil {
		return nil, err
	}
	if m.notificationsFailed, err = meter.Int64Counter("notifications.failed", metric.WithDescription("Notification deliveries that failed")); err != nil {
		return nil, err
	}
	return &m, nil
}

// NoopMetrics returns counters that record nothing.
func NoopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter(instrumentationName))
	return m
}

func (m *Metrics) OrderCreated(ctx context.Context, method PaymentMethod) {
	m.created.Add(ctx, 1, metric.WithAttributes(attribute.String("payment_method", string(method))))
}

func (m *Metrics) OrderCancelled(ctx context.Context, actor string) {
	m.cancelled.Add(ctx, 1, metric.WithAttributes(attribute.String("actor", actor)))
}

func (m *Metrics) OrderDeleted(ctx context.Context) {
	m.deleted.Add(ctx, 1)
}

func (m *Metrics) InsufficientStock(ctx context.Context, productID string) {
	m.insufficientStock.Add(ctx, 1, metric.WithAttributes(attribute.String("product_id", productID)))
}

func (m *Metrics) NotificationFailed(ctx context.Context, kind string) {
	m.notificationsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("type", kind)))
}
