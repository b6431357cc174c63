package db_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront/services/ecommerce/internal/db"
	"github.com/storefront/services/ecommerce/internal/db/dbtest"
)

func TestSeed(t *testing.T) {
	database := dbtest.New(t)
	ctx := context.Background()

	require.NoError(t, db.Seed(ctx, database))

	var customers, products, orders, items int64
	require.NoError(t, database.Model(&db.Customer{}).Count(&customers).Error)
	require.NoError(t, database.Model(&db.Product{}).Count(&products).Error)
	require.NoError(t, database.Model(&db.CustomerOrder{}).Count(&orders).Error)
	require.NoError(t, database.Model(&db.OrderItem{}).Count(&items).Error)
	assert.Equal(t, int64(3), customers)
	assert.Equal(t, int64(5), products)
	assert.Equal(t, int64(2), orders)
	assert.Equal(t, int64(3), items)

	var laptop db.Product
	require.NoError(t, database.Where("description = ?", "Laptop").First(&laptop).Error)
	assert.Equal(t, 10, laptop.Quantity)
	assert.True(t, decimal.RequireFromString("999.99").Equal(laptop.Price))

	// Seeding again must not duplicate rows
	require.NoError(t, db.Seed(ctx, database))
	require.NoError(t, database.Model(&db.Customer{}).Count(&customers).Error)
	assert.Equal(t, int64(3), customers)
}

func TestProductBeforeCreate(t *testing.T) {
	database := dbtest.New(t)

	p1 := &db.Product{Description: "Cable", Quantity: 1, Price: decimal.NewFromInt(5)}
	p2 := &db.Product{Description: "Plug", Quantity: 1, Price: decimal.NewFromInt(5)}
	require.NoError(t, database.Create(p1).Error)
	require.NoError(t, database.Create(p2).Error)
	assert.NotEmpty(t, p1.Barcode)
	assert.NotEqual(t, p1.Barcode, p2.Barcode)

	err := database.Create(&db.Product{Description: "Broken", Quantity: -1, Price: decimal.Zero}).Error
	assert.ErrorIs(t, err, db.ErrNegativeQuantity)
}
