// Package service holds the order workflow and the customer and product
// operations built on the repositories.
package service

import (
	"context"
	"errors"
	"time"

	pkgerrors "github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/storefront/services/ecommerce/internal/cache"
	"github.com/storefront/services/ecommerce/internal/db"
	"github.com/storefront/services/ecommerce/internal/events"
	"github.com/storefront/services/ecommerce/internal/metrics"
	"github.com/storefront/services/ecommerce/internal/repo"
	"github.com/storefront/services/ecommerce/internal/tracing"
)

var (
	// ErrInvalidQuantity is returned when a line item quantity is not positive
	ErrInvalidQuantity = errors.New("quantity must be positive")

	// ErrInvalidInput is returned when a required field is missing or out of range
	ErrInvalidInput = errors.New("invalid input")
)

// Notifier receives the notifications of committed orders. Enqueue must not block.
type Notifier interface {
	Enqueue(ctx context.Context, notifications ...events.Notification)
}

// OrderConfig tunes the order workflow side effects
type OrderConfig struct {
	DefaultEmail string
	DefaultPhone string
	// InvalidateCacheOnOrder drops cached products whose quantity an order changed
	InvalidateCacheOnOrder bool
}

// OrderService runs the order workflow: stock reservation and order writes
// in one transaction, notifications after commit.
type OrderService struct {
	store    *repo.Store
	notifier Notifier
	cache    cache.Cache
	cfg      OrderConfig
	log      *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewOrderService creates the order workflow
func NewOrderService(store *repo.Store, notifier Notifier, c cache.Cache, cfg OrderConfig, log *zap.Logger, m *metrics.Metrics) *OrderService {
	return &OrderService{
		store:    store,
		notifier: notifier,
		cache:    c,
		cfg:      cfg,
		log:      log,
		metrics:  m,
		now:      time.Now,
	}
}

// CreateOrder reserves stock for every item and stores the order at the
// customer's current address. Any failure leaves stock and orders untouched.
// Two notifications are enqueued once the order is committed. The committed
// order is returned even when its products cannot be loaded afterwards.
func (s *OrderService) CreateOrder(ctx context.Context, customerID uint, items []OrderItemInput) (*OrderView, error) {
	ctx, span := tracing.Tracer().Start(ctx, "OrderService.CreateOrder", trace.WithAttributes(
		attribute.Int64("customer.id", int64(customerID)),
		attribute.Int("order.items", len(items)),
	))
	defer span.End()

	for _, item := range items {
		if item.ProductQuantity <= 0 {
			err := pkgerrors.Wrapf(ErrInvalidQuantity, "product %d: quantity %d", item.ProductID, item.ProductQuantity)
			s.reject(span, err)
			return nil, err
		}
	}

	var (
		customer *db.Customer
		order    *db.CustomerOrder
	)
	err := s.store.InTx(ctx, func(tx *repo.Store) error {
		var err error
		customer, err = tx.Customers.GetCustomer(ctx, customerID)
		if err != nil {
			return err
		}

		if _, err := tx.Products.LockProducts(ctx, requestedProducts(items)); err != nil {
			return err
		}

		order = &db.CustomerOrder{
			CustomerID:   customer.ID,
			OrderAddress: customer.Address,
			Items:        make([]db.OrderItem, 0, len(items)),
		}
		for _, item := range items {
			if _, err := tx.Products.ReserveStock(ctx, item.ProductID, item.ProductQuantity); err != nil {
				return err
			}
			order.Items = append(order.Items, db.OrderItem{
				ProductID:       item.ProductID,
				ProductQuantity: item.ProductQuantity,
			})
		}
		return tx.Orders.CreateOrder(ctx, order)
	})
	if err != nil {
		s.reject(span, err)
		return nil, err
	}

	s.metrics.OrdersCreated.Inc()
	span.SetAttributes(attribute.Int64("order.id", int64(order.ID)))

	if s.cfg.InvalidateCacheOnOrder {
		s.invalidateProducts(ctx, order.Items)
	}
	s.notifier.Enqueue(ctx, events.OrderConfirmations(
		order.ID,
		orDefault(customer.Email, s.cfg.DefaultEmail),
		orDefault(customer.Phone, s.cfg.DefaultPhone),
		s.now().UTC(),
	)...)

	view, err := s.view(ctx, *order)
	if err != nil {
		s.log.Warn("Failed to load products for created order", zap.Uint("order_id", order.ID), zap.Error(err))
		plain := toOrderView(*order, nil)
		return &plain, nil
	}
	return view, nil
}

// GetOrder returns an order joined with current product data
func (s *OrderService) GetOrder(ctx context.Context, id uint) (*OrderView, error) {
	ctx, span := tracing.Tracer().Start(ctx, "OrderService.GetOrder", trace.WithAttributes(attribute.Int64("order.id", int64(id))))
	defer span.End()

	order, err := s.store.Orders.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, *order)
}

// ListOrders returns every order joined with current product data
func (s *OrderService) ListOrders(ctx context.Context) ([]OrderView, error) {
	ctx, span := tracing.Tracer().Start(ctx, "OrderService.ListOrders")
	defer span.End()

	orders, err := s.store.Orders.ListOrders(ctx)
	if err != nil {
		return nil, err
	}

	products, err := s.store.Products.FindByIDs(ctx, productIDs(orders...))
	if err != nil {
		return nil, err
	}

	views := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, toOrderView(o, products))
	}
	return views, nil
}

// UpdateOrder changes the address and/or replaces the line items of an
// order. Replaced items must reference existing products; stock is not
// re-reserved. The write only applies to the version that was read; a
// conflict is reported as ErrOrderNotFound when the order was deleted in the
// meantime and as ErrConcurrencyConflict otherwise.
func (s *OrderService) UpdateOrder(ctx context.Context, id uint, update OrderUpdate) error {
	ctx, span := tracing.Tracer().Start(ctx, "OrderService.UpdateOrder", trace.WithAttributes(attribute.Int64("order.id", int64(id))))
	defer span.End()

	for _, item := range update.OrderItems {
		if item.ProductQuantity <= 0 {
			return pkgerrors.Wrapf(ErrInvalidQuantity, "product %d: quantity %d", item.ProductID, item.ProductQuantity)
		}
	}

	order, err := s.store.Orders.GetOrder(ctx, id)
	if err != nil {
		return err
	}

	err = s.store.InTx(ctx, func(tx *repo.Store) error {
		var patch repo.OrderPatch
		if update.OrderAddress != "" {
			patch.Address = &update.OrderAddress
		}
		if update.OrderItems != nil {
			patch.Items = make([]db.OrderItem, 0, len(update.OrderItems))
			for _, item := range update.OrderItems {
				if _, err := tx.Products.GetProduct(ctx, item.ProductID); err != nil {
					return pkgerrors.Wrapf(err, "product %d", item.ProductID)
				}
				patch.Items = append(patch.Items, db.OrderItem{
					ProductID:       item.ProductID,
					ProductQuantity: item.ProductQuantity,
				})
			}
		}

		return tx.Orders.UpdateOrder(ctx, id, order.Version, patch)
	})

	if errors.Is(err, repo.ErrConcurrencyConflict) {
		exists, existsErr := s.store.Orders.Exists(ctx, id)
		if existsErr == nil && !exists {
			err = repo.ErrOrderNotFound
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	s.log.Info("Order updated", zap.Uint("order_id", id))
	return nil
}

// DeleteOrder releases the reserved quantity of every line item and removes
// the order. Items of deleted products are skipped.
func (s *OrderService) DeleteOrder(ctx context.Context, id uint) error {
	ctx, span := tracing.Tracer().Start(ctx, "OrderService.DeleteOrder", trace.WithAttributes(attribute.Int64("order.id", int64(id))))
	defer span.End()

	var released []db.OrderItem
	err := s.store.InTx(ctx, func(tx *repo.Store) error {
		order, err := tx.Orders.GetOrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if _, err := tx.Products.LockProducts(ctx, productIDs(*order)); err != nil {
			return err
		}
		for _, item := range order.Items {
			if err := tx.Products.ReleaseStock(ctx, item.ProductID, item.ProductQuantity); err != nil {
				return err
			}
		}
		released = order.Items
		return tx.Orders.DeleteOrder(ctx, id)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if s.cfg.InvalidateCacheOnOrder {
		s.invalidateProducts(ctx, released)
	}
	return nil
}

func (s *OrderService) view(ctx context.Context, order db.CustomerOrder) (*OrderView, error) {
	products, err := s.store.Products.FindByIDs(ctx, productIDs(order))
	if err != nil {
		return nil, err
	}
	view := toOrderView(order, products)
	return &view, nil
}

func (s *OrderService) reject(span trace.Span, err error) {
	reason := "error"
	switch {
	case errors.Is(err, ErrInvalidQuantity):
		reason = "invalid_quantity"
	case errors.Is(err, repo.ErrCustomerNotFound):
		reason = "customer_not_found"
	case errors.Is(err, repo.ErrProductNotFound):
		reason = "product_not_found"
	case errors.Is(err, repo.ErrInsufficientStock):
		reason = "insufficient_stock"
	case errors.Is(err, repo.ErrConcurrencyConflict):
		reason = "conflict"
	}
	s.metrics.OrdersRejected.WithLabelValues(reason).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, reason)
	s.log.Info("Order rejected", zap.String("reason", reason), zap.Error(err))
}

func (s *OrderService) invalidateProducts(ctx context.Context, items []db.OrderItem) {
	keys := []string{cache.ProductsKey}
	for _, item := range items {
		keys = append(keys, cache.ProductKey(item.ProductID))
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.log.Warn("Failed to invalidate product cache", zap.Strings("keys", keys), zap.Error(err))
	}
}

func productIDs(orders ...db.CustomerOrder) []uint {
	seen := make(map[uint]struct{})
	var ids []uint
	for _, o := range orders {
		for _, item := range o.Items {
			if _, ok := seen[item.ProductID]; ok {
				continue
			}
			seen[item.ProductID] = struct{}{}
			ids = append(ids, item.ProductID)
		}
	}
	return ids
}

func requestedProducts(items []OrderItemInput) []uint {
	ids := make([]uint, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	return ids
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
