package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/storefront/services/ecommerce/internal/health"
	"github.com/storefront/services/ecommerce/internal/repo"
	"github.com/storefront/services/ecommerce/internal/service"
)

type handlers struct {
	deps Deps
	log  *zap.Logger
}

type createOrderRequest struct {
	CustomerID uint              `json:"customerId"`
	OrderItems []createOrderItem `json:"orderItems"`
}

// createOrderItem takes the requested amount from quantity, falling back to
// productQuantity as it appears in order views
type createOrderItem struct {
	ProductID       uint `json:"productId"`
	Quantity        int  `json:"quantity"`
	ProductQuantity int  `json:"productQuantity"`
}

func (r createOrderRequest) items() []service.OrderItemInput {
	items := make([]service.OrderItemInput, 0, len(r.OrderItems))
	for _, it := range r.OrderItems {
		qty := it.Quantity
		if qty == 0 {
			qty = it.ProductQuantity
		}
		items = append(items, service.OrderItemInput{ProductID: it.ProductID, ProductQuantity: qty})
	}
	return items
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	report := h.deps.Health.Run(r.Context())

	status := http.StatusOK
	if report.Status == health.Unhealthy {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(report.String()))
}

// Customers

func (h *handlers) listCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.deps.Customers.ListCustomers(r.Context())
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	writeJSON(w, h.log, http.StatusOK, customers)
}

func (h *handlers) getCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, repo.ErrCustomerNotFound, repo.ErrCustomerNotFound)
		return
	}
	customer, err := h.deps.Customers.GetCustomer(r.Context(), id)
	if err != nil {
		h.fail(w, r, err, repo.ErrCustomerNotFound)
		return
	}
	writeJSON(w, h.log, http.StatusOK, customer)
}

func (h *handlers) createCustomer(w http.ResponseWriter, r *http.Request) {
	var in service.CustomerInput
	if err := decode(r, &in); err != nil {
		h.fail(w, r, err, nil)
		return
	}
	customer, err := h.deps.Customers.CreateCustomer(r.Context(), in)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	writeJSON(w, h.log, http.StatusCreated, customer)
}

func (h *handlers) updateCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, repo.ErrCustomerNotFound, repo.ErrCustomerNotFound)
		return
	}
	var in service.CustomerInput
	if err := decode(r, &in); err != nil {
		h.fail(w, r, err, nil)
		return
	}
	if err := h.deps.Customers.UpdateCustomer(r.Context(), id, in); err != nil {
		h.fail(w, r, err, repo.ErrCustomerNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) deleteCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, repo.ErrCustomerNotFound, repo.ErrCustomerNotFound)
		return
	}
	if err := h.deps.Customers.DeleteCustomer(r.Context(), id); err != nil {
		h.fail(w, r, err, repo.ErrCustomerNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Products

func (h *handlers) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.deps.Products.ListProducts(r.Context())
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	writeJSON(w, h.log, http.StatusOK, products)
}

func (h *handlers) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, repo.ErrProductNotFound, repo.ErrProductNotFound)
		return
	}
	product, err := h.deps.Products.GetProduct(r.Context(), id)
	if err != nil {
		h.fail(w, r, err, repo.ErrProductNotFound)
		return
	}
	writeJSON(w, h.log, http.StatusOK, product)
}

func (h *handlers) createProduct(w http.ResponseWriter, r *http.Request) {
	var in service.ProductInput
	if err := decode(r, &in); err != nil {
		h.fail(w, r, err, nil)
		return
	}
	product, err := h.deps.Products.CreateProduct(r.Context(), in)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	writeJSON(w, h.log, http.StatusCreated, product)
}

func (h *handlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, repo.ErrProductNotFound, repo.ErrProductNotFound)
		return
	}
	var in service.ProductInput
	if err := decode(r, &in); err != nil {
		h.fail(w, r, err, nil)
		return
	}
	if err := h.deps.Products.UpdateProduct(r.Context(), id, in); err != nil {
		h.fail(w, r, err, repo.ErrProductNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, repo.ErrProductNotFound, repo.ErrProductNotFound)
		return
	}
	if err := h.deps.Products.DeleteProduct(r.Context(), id); err != nil {
		h.fail(w, r, err, repo.ErrProductNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Orders

func (h *handlers) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.deps.Orders.ListOrders(r.Context())
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	writeJSON(w, h.log, http.StatusOK, orders)
}

func (h *handlers) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, repo.ErrOrderNotFound, repo.ErrOrderNotFound)
		return
	}
	order, err := h.deps.Orders.GetOrder(r.Context(), id)
	if err != nil {
		h.fail(w, r, err, repo.ErrOrderNotFound)
		return
	}
	writeJSON(w, h.log, http.StatusOK, order)
}

func (h *handlers) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err, nil)
		return
	}
	order, err := h.deps.Orders.CreateOrder(r.Context(), req.CustomerID, req.items())
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	w.Header().Set("Location", "/api/customerorders/"+uintString(order.ID))
	writeJSON(w, h.log, http.StatusCreated, order)
}

func (h *handlers) updateOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, repo.ErrOrderNotFound, repo.ErrOrderNotFound)
		return
	}
	var update service.OrderUpdate
	if err := decode(r, &update); err != nil {
		h.fail(w, r, err, nil)
		return
	}
	if err := h.deps.Orders.UpdateOrder(r.Context(), id, update); err != nil {
		h.fail(w, r, err, repo.ErrOrderNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) deleteOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, repo.ErrOrderNotFound, repo.ErrOrderNotFound)
		return
	}
	if err := h.deps.Orders.DeleteOrder(r.Context(), id); err != nil {
		h.fail(w, r, err, repo.ErrOrderNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
