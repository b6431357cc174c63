package repo

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/storefront/services/ecommerce/internal/db"
)

// CustomerRepository handles customer persistence
type CustomerRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

// ListCustomers returns all customers ordered by id
func (r *CustomerRepository) ListCustomers(ctx context.Context) ([]db.Customer, error) {
	var customers []db.Customer
	if err := r.db.WithContext(ctx).Order("id").Find(&customers).Error; err != nil {
		r.log.Error("Failed to list customers", zap.Error(err))
		return nil, err
	}
	return customers, nil
}

// GetCustomer retrieves a customer by id
func (r *CustomerRepository) GetCustomer(ctx context.Context, id uint) (*db.Customer, error) {
	var customer db.Customer
	err := r.db.WithContext(ctx).First(&customer, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCustomerNotFound
		}
		r.log.Error("Failed to get customer", zap.Uint("customer_id", id), zap.Error(err))
		return nil, err
	}
	return &customer, nil
}

// CreateCustomer inserts a new customer
func (r *CustomerRepository) CreateCustomer(ctx context.Context, customer *db.Customer) error {
	if err := r.db.WithContext(ctx).Create(customer).Error; err != nil {
		r.log.Error("Failed to create customer", zap.Error(err))
		return err
	}
	r.log.Info("Customer created", zap.Uint("customer_id", customer.ID))
	return nil
}

// UpdateCustomer overwrites name, address and contact fields
func (r *CustomerRepository) UpdateCustomer(ctx context.Context, customer *db.Customer) error {
	result := r.db.WithContext(ctx).Model(&db.Customer{}).Where("id = ?", customer.ID).Updates(map[string]interface{}{
		"name":    customer.Name,
		"address": customer.Address,
		"email":   customer.Email,
		"phone":   customer.Phone,
	})
	if result.Error != nil {
		r.log.Error("Failed to update customer", zap.Uint("customer_id", customer.ID), zap.Error(result.Error))
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCustomerNotFound
	}
	return nil
}

// DeleteCustomer removes a customer together with its orders and their items.
// Reserved quantities of those orders are not released.
func (r *CustomerRepository) DeleteCustomer(ctx context.Context, id uint) error {
	tx := r.db.WithContext(ctx)
	orderIDs := tx.Model(&db.CustomerOrder{}).Select("id").Where("customer_id = ?", id)
	if err := tx.Where("customer_order_id IN (?)", orderIDs).Delete(&db.OrderItem{}).Error; err != nil {
		r.log.Error("Failed to delete customer order items", zap.Uint("customer_id", id), zap.Error(err))
		return err
	}
	if err := tx.Where("customer_id = ?", id).Delete(&db.CustomerOrder{}).Error; err != nil {
		r.log.Error("Failed to delete customer orders", zap.Uint("customer_id", id), zap.Error(err))
		return err
	}

	result := tx.Delete(&db.Customer{}, id)
	if result.Error != nil {
		r.log.Error("Failed to delete customer", zap.Uint("customer_id", id), zap.Error(result.Error))
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCustomerNotFound
	}

	r.log.Info("Customer deleted", zap.Uint("customer_id", id))
	return nil
}
