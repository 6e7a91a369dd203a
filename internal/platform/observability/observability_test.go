package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/NagabhushanAdiga/shop-e/internal/platform/requestctx"
)

func TestEventLoggerPrefersRequestLogger(t *testing.T) {
	baseCore, baseLogs := observer.New(zapcore.DebugLevel)
	reqCore, reqLogs := observer.New(zapcore.DebugLevel)

	log := NewEventLogger(zap.New(baseCore))
	log(context.Background(), "orders.created", map[string]any{"orderId": "ord_1"})

	ctx := requestctx.WithLogger(context.Background(), zap.New(reqCore))
	log(ctx, "notification.deliver.failed", map[string]any{"userId": "admin-1", "error": "timeout"})

	require.Equal(t, 1, baseLogs.Len())
	entry := baseLogs.All()[0]
	assert.Equal(t, "orders.created", entry.Message)
	assert.Equal(t, zapcore.InfoLevel, entry.Level)
	assert.Equal(t, "ord_1", entry.ContextMap()["orderId"])

	require.Equal(t, 1, reqLogs.Len())
	assert.Equal(t, zapcore.WarnLevel, reqLogs.All()[0].Level)
}

func TestRequestLoggerRecordsRouteAndStatus(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	router := chi.NewRouter()
	router.Use(TraceMiddleware("shop-prod"), RequestLogger(zap.New(core)), Recoverer(nil))
	router.Get("/orders/{orderID}", func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, requestctx.HasLogger(r.Context()))
		w.WriteHeader(http.StatusNotFound)
	})
	router.Get("/boom", func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/ord_1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	completed := logs.FilterMessage("request completed").All()
	require.Len(t, completed, 2)
	assert.Equal(t, "/orders/{orderID}", completed[0].ContextMap()["route"])
	assert.EqualValues(t, http.StatusNotFound, completed[0].ContextMap()["status"])
	assert.EqualValues(t, http.StatusInternalServerError, completed[1].ContextMap()["status"])
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestParseCloudTraceContext(t *testing.T) {
	sc, ok := parseCloudTraceContext("105445aa7843bc8bf206b12000100000/1;o=1")
	require.True(t, ok)
	assert.Equal(t, "105445aa7843bc8bf206b12000100000", sc.TraceID().String())
	assert.Equal(t, "0000000000000001", sc.SpanID().String())
	assert.True(t, sc.IsSampled())

	_, ok = parseCloudTraceContext("not-a-trace")
	assert.False(t, ok)
}
