// Package api maps HTTP requests onto the customer, product and order services.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/storefront/services/ecommerce/internal/health"
	"github.com/storefront/services/ecommerce/internal/service"
)

// Deps are the collaborators of the router. Nil services leave their routes
// unregistered, which is how the notifier process serves only the ops endpoints.
type Deps struct {
	Customers *service.CustomerService
	Products  *service.ProductService
	Orders    *service.OrderService
	Health    *health.Checker
	Gatherer  prometheus.Gatherer
	Log       *zap.Logger
}

// NewRouter builds the HTTP handler
func NewRouter(deps Deps) http.Handler {
	r := mux.NewRouter()
	h := &handlers{deps: deps, log: deps.Log}

	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	s := r.PathPrefix("/api").Subrouter()
	if deps.Customers != nil {
		s.HandleFunc("/customers", h.listCustomers).Methods(http.MethodGet)
		s.HandleFunc("/customers", h.createCustomer).Methods(http.MethodPost)
		s.HandleFunc("/customers/{id:[0-9]+}", h.getCustomer).Methods(http.MethodGet)
		s.HandleFunc("/customers/{id:[0-9]+}", h.updateCustomer).Methods(http.MethodPut)
		s.HandleFunc("/customers/{id:[0-9]+}", h.deleteCustomer).Methods(http.MethodDelete)
	}
	if deps.Products != nil {
		s.HandleFunc("/products", h.listProducts).Methods(http.MethodGet)
		s.HandleFunc("/products", h.createProduct).Methods(http.MethodPost)
		s.HandleFunc("/products/{id:[0-9]+}", h.getProduct).Methods(http.MethodGet)
		s.HandleFunc("/products/{id:[0-9]+}", h.updateProduct).Methods(http.MethodPut)
		s.HandleFunc("/products/{id:[0-9]+}", h.deleteProduct).Methods(http.MethodDelete)
	}
	if deps.Orders != nil {
		s.HandleFunc("/customerorders", h.listOrders).Methods(http.MethodGet)
		s.HandleFunc("/customerorders", h.createOrder).Methods(http.MethodPost)
		s.HandleFunc("/customerorders/{id:[0-9]+}", h.getOrder).Methods(http.MethodGet)
		s.HandleFunc("/customerorders/{id:[0-9]+}", h.updateOrder).Methods(http.MethodPut)
		s.HandleFunc("/customerorders/{id:[0-9]+}", h.deleteOrder).Methods(http.MethodDelete)
	}

	return logMiddleware(deps.Log, r)
}
