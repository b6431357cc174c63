package repo

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/storefront/services/ecommerce/internal/db"
)

// OrderRepository handles the order aggregate (order + line items)
type OrderRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

// OrderPatch describes a partial order update. A nil Items leaves the line
// items untouched; a non-nil Items replaces the whole set.
type OrderPatch struct {
	Address *string
	Items   []db.OrderItem
}

// CreateOrder inserts an order with its line items
func (r *OrderRepository) CreateOrder(ctx context.Context, order *db.CustomerOrder) error {
	if order.Version == 0 {
		order.Version = 1
	}
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		r.log.Error("Failed to create order", zap.Uint("customer_id", order.CustomerID), zap.Error(err))
		return err
	}
	r.log.Info("Order created",
		zap.Uint("order_id", order.ID),
		zap.Uint("customer_id", order.CustomerID),
		zap.Int("items", len(order.Items)),
	)
	return nil
}

// GetOrder retrieves an order with its line items
func (r *OrderRepository) GetOrder(ctx context.Context, id uint) (*db.CustomerOrder, error) {
	return r.getOrder(r.db.WithContext(ctx), id)
}

// GetOrderForUpdate retrieves an order with its line items and locks the
// order row until the surrounding transaction ends
func (r *OrderRepository) GetOrderForUpdate(ctx context.Context, id uint) (*db.CustomerOrder, error) {
	return r.getOrder(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *OrderRepository) getOrder(query *gorm.DB, id uint) (*db.CustomerOrder, error) {
	var order db.CustomerOrder
	err := query.
		Preload("Items", func(tx *gorm.DB) *gorm.DB { return tx.Order("id") }).
		First(&order, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		r.log.Error("Failed to get order", zap.Uint("order_id", id), zap.Error(err))
		return nil, err
	}
	return &order, nil
}

// ListOrders returns all orders with their line items
func (r *OrderRepository) ListOrders(ctx context.Context) ([]db.CustomerOrder, error) {
	var orders []db.CustomerOrder
	err := r.db.WithContext(ctx).
		Preload("Items", func(tx *gorm.DB) *gorm.DB { return tx.Order("id") }).
		Order("id").
		Find(&orders).Error
	if err != nil {
		r.log.Error("Failed to list orders", zap.Error(err))
		return nil, err
	}
	return orders, nil
}

// Exists reports whether an order with the given id is present
func (r *OrderRepository) Exists(ctx context.Context, id uint) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&db.CustomerOrder{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// UpdateOrder applies patch to the order if its version still equals
// expectedVersion, bumping the version. It returns ErrConcurrencyConflict when
// the row changed or disappeared since it was read.
func (r *OrderRepository) UpdateOrder(ctx context.Context, id uint, expectedVersion int, patch OrderPatch) error {
	updates := map[string]interface{}{
		"version": gorm.Expr("version + 1"),
	}
	if patch.Address != nil {
		updates["order_address"] = *patch.Address
	}

	result := r.db.WithContext(ctx).Model(&db.CustomerOrder{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(updates)
	if result.Error != nil {
		r.log.Error("Failed to update order", zap.Uint("order_id", id), zap.Error(result.Error))
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConcurrencyConflict
	}

	if patch.Items == nil {
		return nil
	}

	if err := r.db.WithContext(ctx).Where("customer_order_id = ?", id).Delete(&db.OrderItem{}).Error; err != nil {
		r.log.Error("Failed to remove order items", zap.Uint("order_id", id), zap.Error(err))
		return err
	}
	if len(patch.Items) == 0 {
		return nil
	}

	items := make([]db.OrderItem, len(patch.Items))
	for i, item := range patch.Items {
		items[i] = db.OrderItem{
			CustomerOrderID: id,
			ProductID:       item.ProductID,
			ProductQuantity: item.ProductQuantity,
		}
	}
	if err := r.db.WithContext(ctx).Create(&items).Error; err != nil {
		r.log.Error("Failed to create order items", zap.Uint("order_id", id), zap.Error(err))
		return err
	}

	r.log.Info("Order items replaced", zap.Uint("order_id", id), zap.Int("items", len(items)))
	return nil
}

// DeleteOrder removes an order and its line items
func (r *OrderRepository) DeleteOrder(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Where("customer_order_id = ?", id).Delete(&db.OrderItem{}).Error; err != nil {
		r.log.Error("Failed to delete order items", zap.Uint("order_id", id), zap.Error(err))
		return err
	}

	result := r.db.WithContext(ctx).Delete(&db.CustomerOrder{}, id)
	if result.Error != nil {
		r.log.Error("Failed to delete order", zap.Uint("order_id", id), zap.Error(result.Error))
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOrderNotFound
	}

	r.log.Info("Order deleted", zap.Uint("order_id", id))
	return nil
}
