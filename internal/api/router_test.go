package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/storefront/services/ecommerce/internal/cache"
	"github.com/storefront/services/ecommerce/internal/db/dbtest"
	"github.com/storefront/services/ecommerce/internal/events"
	"github.com/storefront/services/ecommerce/internal/health"
	"github.com/storefront/services/ecommerce/internal/metrics"
	"github.com/storefront/services/ecommerce/internal/repo"
	"github.com/storefront/services/ecommerce/internal/service"
)

type countingNotifier struct {
	count int
}

func (n *countingNotifier) Enqueue(_ context.Context, notifications ...events.Notification) {
	n.count += len(notifications)
}

func setupRouter(t *testing.T, checks ...health.Check) (http.Handler, *countingNotifier) {
	database := dbtest.New(t)
	log := zap.NewNop()
	store := repo.NewStore(database, log)

	srv := miniredis.RunT(t)
	c := cache.NewRedisCache(srv.Addr(), "", 0)
	t.Cleanup(func() { _ = c.Close() })

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	notifier := &countingNotifier{}

	if len(checks) == 0 {
		checks = []health.Check{{Name: "database", Critical: true, Probe: database.Ping}}
	}

	return NewRouter(Deps{
		Customers: service.NewCustomerService(store, log),
		Products:  service.NewProductService(store, c, time.Minute, log, m),
		Orders:    service.NewOrderService(store, notifier, c, service.OrderConfig{DefaultEmail: "a@example.com", DefaultPhone: "+1", InvalidateCacheOnOrder: true}, log, m),
		Health:    health.NewChecker(log, checks...),
		Gatherer:  reg,
		Log:       log,
	}), notifier
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst))
}

func TestOrderLifecycle(t *testing.T) {
	h, notifier := setupRouter(t)

	rec := do(t, h, http.MethodPost, "/api/customers", `{"name":"John Doe","address":"123 Main St"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var customer service.CustomerView
	decodeBody(t, rec, &customer)

	rec = do(t, h, http.MethodPost, "/api/products", `{"description":"Laptop","quantity":10,"price":999.99}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var product service.ProductView
	decodeBody(t, rec, &product)
	assert.NotEmpty(t, product.Barcode)

	body := `{"customerId":` + uintString(customer.ID) + `,"orderItems":[{"productId":` + uintString(product.ID) + `,"quantity":3}]}`
	rec = do(t, h, http.MethodPost, "/api/customerorders", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var order service.OrderView
	decodeBody(t, rec, &order)
	assert.Equal(t, "123 Main St", order.OrderAddress)
	require.Len(t, order.OrderItems, 1)
	assert.Equal(t, "Laptop", order.OrderItems[0].ProductDescription)
	assert.Equal(t, "999.99", order.OrderItems[0].ProductPrice.String())
	assert.Equal(t, "/api/customerorders/"+uintString(order.ID), rec.Header().Get("Location"))
	assert.Equal(t, 2, notifier.count)

	rec = do(t, h, http.MethodGet, "/api/products/"+uintString(product.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &product)
	assert.Equal(t, 7, product.Quantity)

	rec = do(t, h, http.MethodPut, "/api/customerorders/"+uintString(order.ID), `{"orderAddress":"9 New St"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/customerorders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var orders []service.OrderView
	decodeBody(t, rec, &orders)
	require.Len(t, orders, 1)
	assert.Equal(t, "9 New St", orders[0].OrderAddress)

	rec = do(t, h, http.MethodDelete, "/api/customerorders/"+uintString(order.ID), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/products/"+uintString(product.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &product)
	assert.Equal(t, 10, product.Quantity)
}

func TestErrorMapping(t *testing.T) {
	h, _ := setupRouter(t)

	rec := do(t, h, http.MethodPost, "/api/customers", `{"name":"Jane","address":"1 Elm"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/products", `{"description":"Tablet","quantity":1,"price":"499.99"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"missing order", http.MethodGet, "/api/customerorders/999", "", http.StatusNotFound},
		{"missing customer", http.MethodGet, "/api/customers/999", "", http.StatusNotFound},
		{"missing product", http.MethodDelete, "/api/products/999", "", http.StatusNotFound},
		{"update missing order", http.MethodPut, "/api/customerorders/999", `{"orderAddress":"x"}`, http.StatusNotFound},
		{"delete missing order", http.MethodDelete, "/api/customerorders/999", "", http.StatusNotFound},
		{"id out of range", http.MethodGet, "/api/customers/99999999999", "", http.StatusNotFound},
		{"order for unknown customer", http.MethodPost, "/api/customerorders", `{"customerId":999,"orderItems":[{"productId":1,"productQuantity":1}]}`, http.StatusBadRequest},
		{"order for unknown product", http.MethodPost, "/api/customerorders", `{"customerId":1,"orderItems":[{"productId":999,"quantity":1}]}`, http.StatusBadRequest},
		{"insufficient stock", http.MethodPost, "/api/customerorders", `{"customerId":1,"orderItems":[{"productId":1,"quantity":2}]}`, http.StatusBadRequest},
		{"zero quantity", http.MethodPost, "/api/customerorders", `{"customerId":1,"orderItems":[{"productId":1,"quantity":0}]}`, http.StatusBadRequest},
		{"negative quantity", http.MethodPost, "/api/customerorders", `{"customerId":1,"orderItems":[{"productId":1,"quantity":-1}]}`, http.StatusBadRequest},
		{"malformed json", http.MethodPost, "/api/customerorders", `{"customerId":`, http.StatusBadRequest},
		{"invalid customer", http.MethodPost, "/api/customers", `{"name":""}`, http.StatusBadRequest},
		{"negative product quantity", http.MethodPut, "/api/products/1", `{"description":"Tablet","quantity":-1,"price":1}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			var resp errorResponse
			decodeBody(t, rec, &resp)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestCreateOrderItemQuantityFields(t *testing.T) {
	h, _ := setupRouter(t)

	rec := do(t, h, http.MethodPost, "/api/customers", `{"name":"John Doe","address":"123 Main St"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/products", `{"description":"Laptop","quantity":10,"price":"999.99"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	tests := []struct {
		name      string
		item      string
		remaining int
	}{
		{"quantity", `{"productId":1,"quantity":3}`, 7},
		{"productQuantity", `{"productId":1,"productQuantity":2}`, 5},
		{"quantity wins", `{"productId":1,"quantity":1,"productQuantity":4}`, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/customerorders", `{"customerId":1,"orderItems":[`+tt.item+`]}`)
			require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

			rec = do(t, h, http.MethodGet, "/api/products/1", "")
			require.Equal(t, http.StatusOK, rec.Code)
			var product service.ProductView
			decodeBody(t, rec, &product)
			assert.Equal(t, tt.remaining, product.Quantity)
		})
	}
}

func TestHealthz(t *testing.T) {
	up := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("down") }

	t.Run("healthy", func(t *testing.T) {
		h, _ := setupRouter(t)
		rec := do(t, h, http.MethodGet, "/healthz", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "healthy", rec.Body.String())
	})

	t.Run("degraded", func(t *testing.T) {
		h, _ := setupRouter(t,
			health.Check{Name: "database", Critical: true, Probe: up},
			health.Check{Name: "rabbitmq", Probe: down},
		)
		rec := do(t, h, http.MethodGet, "/healthz", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, strings.HasPrefix(rec.Body.String(), "degraded"))
	})

	t.Run("database down", func(t *testing.T) {
		h, _ := setupRouter(t, health.Check{Name: "database", Critical: true, Probe: down})
		rec := do(t, h, http.MethodGet, "/healthz", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := setupRouter(t)

	do(t, h, http.MethodGet, "/api/products", "")
	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ecommerce_cache_lookups_total")
}
