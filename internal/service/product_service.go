package service

import (
	"context"
	"errors"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/storefront/services/ecommerce/internal/cache"
	"github.com/storefront/services/ecommerce/internal/db"
	"github.com/storefront/services/ecommerce/internal/metrics"
	"github.com/storefront/services/ecommerce/internal/repo"
)

// ProductService serves products through a read-through cache. Writes
// invalidate the affected keys before returning.
type ProductService struct {
	store   *repo.Store
	cache   cache.Cache
	ttl     time.Duration
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewProductService creates the product service
func NewProductService(store *repo.Store, c cache.Cache, ttl time.Duration, log *zap.Logger, m *metrics.Metrics) *ProductService {
	return &ProductService{store: store, cache: c, ttl: ttl, log: log, metrics: m}
}

// ListProducts returns all products
func (s *ProductService) ListProducts(ctx context.Context) ([]ProductView, error) {
	var views []ProductView
	if s.lookup(ctx, cache.ProductsKey, &views) {
		return views, nil
	}

	products, err := s.store.Products.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	views = make([]ProductView, 0, len(products))
	for _, p := range products {
		views = append(views, toProductView(p))
	}

	s.populate(ctx, cache.ProductsKey, views)
	return views, nil
}

// GetProduct returns a product by id
func (s *ProductService) GetProduct(ctx context.Context, id uint) (*ProductView, error) {
	key := cache.ProductKey(id)

	var view ProductView
	if s.lookup(ctx, key, &view) {
		return &view, nil
	}

	product, err := s.store.Products.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	view = toProductView(*product)

	s.populate(ctx, key, view)
	return &view, nil
}

// CreateProduct stores a new product with a generated barcode
func (s *ProductService) CreateProduct(ctx context.Context, in ProductInput) (*ProductView, error) {
	if err := validateProduct(in); err != nil {
		return nil, err
	}

	product := &db.Product{
		Description: in.Description,
		Quantity:    in.Quantity,
		Price:       in.Price,
	}
	if err := s.store.Products.CreateProduct(ctx, product); err != nil {
		return nil, err
	}

	s.invalidate(ctx, cache.ProductsKey)
	view := toProductView(*product)
	return &view, nil
}

// UpdateProduct overwrites the writable fields of a product
func (s *ProductService) UpdateProduct(ctx context.Context, id uint, in ProductInput) error {
	if err := validateProduct(in); err != nil {
		return err
	}

	err := s.store.Products.UpdateProduct(ctx, &db.Product{
		ID:          id,
		Description: in.Description,
		Quantity:    in.Quantity,
		Price:       in.Price,
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, cache.ProductKey(id), cache.ProductsKey)
	return nil
}

// DeleteProduct removes a product. Orders keep their items referencing it.
func (s *ProductService) DeleteProduct(ctx context.Context, id uint) error {
	if err := s.store.Products.DeleteProduct(ctx, id); err != nil {
		return err
	}

	s.invalidate(ctx, cache.ProductKey(id), cache.ProductsKey)
	return nil
}

// lookup reports whether dst was filled from the cache. Cache errors count as a miss.
func (s *ProductService) lookup(ctx context.Context, key string, dst interface{}) bool {
	err := cache.GetJSON(ctx, s.cache, key, dst)
	switch {
	case err == nil:
		s.metrics.CacheLookups.WithLabelValues(metrics.CacheHit).Inc()
		return true
	case errors.Is(err, cache.ErrMiss):
		s.metrics.CacheLookups.WithLabelValues(metrics.CacheMiss).Inc()
	default:
		s.metrics.CacheLookups.WithLabelValues(metrics.CacheError).Inc()
		s.log.Warn("Cache read failed, using database", zap.String("key", key), zap.Error(err))
	}
	return false
}

func (s *ProductService) populate(ctx context.Context, key string, value interface{}) {
	if err := cache.SetJSON(ctx, s.cache, key, value, s.ttl); err != nil {
		s.log.Warn("Failed to populate cache", zap.String("key", key), zap.Error(err))
	}
}

func (s *ProductService) invalidate(ctx context.Context, keys ...string) {
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.log.Warn("Failed to invalidate cache", zap.Strings("keys", keys), zap.Error(err))
	}
}

func validateProduct(in ProductInput) error {
	switch {
	case strings.TrimSpace(in.Description) == "":
		return pkgerrors.Wrap(ErrInvalidInput, "description is required")
	case len(in.Description) > 500:
		return pkgerrors.Wrap(ErrInvalidInput, "description exceeds 500 characters")
	case in.Quantity < 0:
		return pkgerrors.Wrap(ErrInvalidInput, db.ErrNegativeQuantity.Error())
	case in.Price.IsNegative():
		return pkgerrors.Wrap(ErrInvalidInput, "price must not be negative")
	}
	return nil
}
