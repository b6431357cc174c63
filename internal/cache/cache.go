// Package cache holds the read-through cache used for product lookups.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// ErrMiss is returned by Get when the key is not cached
var ErrMiss = errors.New("cache miss")

// ProductsKey caches the full product list
const ProductsKey = "products_list"

// ProductKey returns the key caching a single product
func ProductKey(id uint) string {
	return "product_" + strconv.FormatUint(uint64(id), 10)
}

// Cache is a best-effort byte store with per-entry TTL
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// GetJSON decodes the cached value of key into dst
func GetJSON(ctx context.Context, c Cache, key string, dst interface{}) error {
	raw, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return pkgerrors.Wrapf(err, "decode cached %s", key)
	}
	return nil
}

// SetJSON stores value under key as JSON
func SetJSON(ctx context.Context, c Cache, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return pkgerrors.Wrapf(err, "encode %s", key)
	}
	return c.Set(ctx, key, raw, ttl)
}
