package repo

import (
	"context"
	"errors"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/storefront/services/ecommerce/internal/db"
)

// ProductRepository is the inventory ledger. Quantities only move through
// ReserveStock and ReleaseStock, apart from explicit product updates.
type ProductRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

// ListProducts returns all products ordered by id
func (r *ProductRepository) ListProducts(ctx context.Context) ([]db.Product, error) {
	var products []db.Product
	if err := r.db.WithContext(ctx).Order("id").Find(&products).Error; err != nil {
		r.log.Error("Failed to list products", zap.Error(err))
		return nil, err
	}
	return products, nil
}

// GetProduct retrieves a product by id
func (r *ProductRepository) GetProduct(ctx context.Context, id uint) (*db.Product, error) {
	var product db.Product
	err := r.db.WithContext(ctx).First(&product, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		r.log.Error("Failed to get product", zap.Uint("product_id", id), zap.Error(err))
		return nil, err
	}
	return &product, nil
}

// FindByIDs loads the products that still exist among ids, keyed by id
func (r *ProductRepository) FindByIDs(ctx context.Context, ids []uint) (map[uint]db.Product, error) {
	found := make(map[uint]db.Product, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	var products []db.Product
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&products).Error; err != nil {
		r.log.Error("Failed to load products", zap.Error(err))
		return nil, err
	}
	for _, p := range products {
		found[p.ID] = p
	}
	return found, nil
}

// CreateProduct inserts a new product
func (r *ProductRepository) CreateProduct(ctx context.Context, product *db.Product) error {
	if err := r.db.WithContext(ctx).Create(product).Error; err != nil {
		r.log.Error("Failed to create product", zap.Error(err))
		return err
	}
	r.log.Info("Product created", zap.Uint("product_id", product.ID), zap.String("barcode", product.Barcode))
	return nil
}

// UpdateProduct overwrites description, quantity and price
func (r *ProductRepository) UpdateProduct(ctx context.Context, product *db.Product) error {
	if product.Quantity < 0 {
		return db.ErrNegativeQuantity
	}

	result := r.db.WithContext(ctx).Model(&db.Product{}).Where("id = ?", product.ID).Updates(map[string]interface{}{
		"description": product.Description,
		"quantity":    product.Quantity,
		"price":       product.Price,
	})
	if result.Error != nil {
		r.log.Error("Failed to update product", zap.Uint("product_id", product.ID), zap.Error(result.Error))
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrProductNotFound
	}
	return nil
}

// DeleteProduct removes a product. Order items keep referencing its id.
func (r *ProductRepository) DeleteProduct(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&db.Product{}, id)
	if result.Error != nil {
		r.log.Error("Failed to delete product", zap.Uint("product_id", id), zap.Error(result.Error))
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrProductNotFound
	}
	r.log.Info("Product deleted", zap.Uint("product_id", id))
	return nil
}

// LockProducts locks the rows of ids until the surrounding transaction ends
// and returns the products found, keyed by id. Rows are locked in ascending id
// order, so transactions locking overlapping sets through LockProducts never
// wait on each other in a cycle.
func (r *ProductRepository) LockProducts(ctx context.Context, ids []uint) (map[uint]db.Product, error) {
	found := make(map[uint]db.Product, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	var products []db.Product
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Order("id").
		Find(&products).Error
	if err != nil {
		r.log.Error("Failed to lock products", zap.Uints("product_ids", ids), zap.Error(err))
		return nil, err
	}
	for _, p := range products {
		found[p.ID] = p
	}
	return found, nil
}

// ReserveStock decrements the quantity of a product by qty. The row is read
// under a lock and the decrement is conditional, so concurrent reservations
// on the same product serialize and quantity never drops below zero. Must be
// called on a Store obtained from InTx for the lock to cover the caller's
// unit of work.
func (r *ProductRepository) ReserveStock(ctx context.Context, id uint, qty int) (*db.Product, error) {
	var product db.Product
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&product, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrapf(ErrProductNotFound, "product %d", id)
		}
		r.log.Error("Failed to lock product", zap.Uint("product_id", id), zap.Error(err))
		return nil, err
	}

	if product.Quantity < qty {
		return nil, pkgerrors.Wrapf(ErrInsufficientStock,
			"product %d (%s): available=%d, requested=%d", id, product.Description, product.Quantity, qty)
	}

	result := r.db.WithContext(ctx).Model(&db.Product{}).
		Where("id = ? AND quantity >= ?", id, qty).
		Update("quantity", gorm.Expr("quantity - ?", qty))
	if result.Error != nil {
		r.log.Error("Failed to reserve stock", zap.Uint("product_id", id), zap.Error(result.Error))
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, pkgerrors.Wrapf(ErrInsufficientStock, "product %d (%s): drained concurrently", id, product.Description)
	}

	product.Quantity -= qty
	return &product, nil
}

// ReleaseStock increments the quantity of a product by qty. A missing
// product is skipped because it cannot be restocked.
func (r *ProductRepository) ReleaseStock(ctx context.Context, id uint, qty int) error {
	result := r.db.WithContext(ctx).Model(&db.Product{}).
		Where("id = ?", id).
		Update("quantity", gorm.Expr("quantity + ?", qty))
	if result.Error != nil {
		r.log.Error("Failed to release stock", zap.Uint("product_id", id), zap.Error(result.Error))
		return result.Error
	}
	if result.RowsAffected == 0 {
		r.log.Debug("Skipping stock release for missing product", zap.Uint("product_id", id), zap.Int("quantity", qty))
	}
	return nil
}
