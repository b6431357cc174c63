package repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront/services/ecommerce/internal/db"
)

func createCustomer(t *testing.T, store *Store, name, address string) *db.Customer {
	customer := &db.Customer{Name: name, Address: address}
	require.NoError(t, store.Customers.CreateCustomer(context.Background(), customer))
	return customer
}

func TestCreateAndGetOrder(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	customer := createCustomer(t, store, "John Doe", "123 Main St")
	laptop := createProduct(t, store, "Laptop", 10, "999.99")
	phone := createProduct(t, store, "Smartphone", 10, "699.99")

	order := &db.CustomerOrder{
		CustomerID:   customer.ID,
		OrderAddress: customer.Address,
		Items: []db.OrderItem{
			{ProductID: laptop.ID, ProductQuantity: 2},
			{ProductID: phone.ID, ProductQuantity: 1},
		},
	}
	require.NoError(t, store.Orders.CreateOrder(ctx, order))
	assert.NotZero(t, order.ID)
	assert.Equal(t, 1, order.Version)

	stored, err := store.Orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "123 Main St", stored.OrderAddress)
	require.Len(t, stored.Items, 2)
	assert.Equal(t, laptop.ID, stored.Items[0].ProductID)
	assert.Equal(t, 2, stored.Items[0].ProductQuantity)

	orders, err := store.Orders.ListOrders(ctx)
	require.NoError(t, err)
	assert.Len(t, orders, 1)

	_, err = store.Orders.GetOrder(ctx, 12345)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestUpdateOrderVersionCheck(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	customer := createCustomer(t, store, "Jane Smith", "456 Oak Ave")
	laptop := createProduct(t, store, "Laptop", 10, "999.99")
	tablet := createProduct(t, store, "Tablet", 10, "499.99")

	order := &db.CustomerOrder{
		CustomerID:   customer.ID,
		OrderAddress: customer.Address,
		Items:        []db.OrderItem{{ProductID: laptop.ID, ProductQuantity: 1}},
	}
	require.NoError(t, store.Orders.CreateOrder(ctx, order))

	address := "1 New Rd"
	err := store.Orders.UpdateOrder(ctx, order.ID, 1, OrderPatch{
		Address: &address,
		Items:   []db.OrderItem{{ProductID: tablet.ID, ProductQuantity: 4}},
	})
	require.NoError(t, err)

	stored, err := store.Orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "1 New Rd", stored.OrderAddress)
	assert.Equal(t, 2, stored.Version)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, tablet.ID, stored.Items[0].ProductID)
	assert.Equal(t, 4, stored.Items[0].ProductQuantity)

	// A writer holding the stale version loses
	err = store.Orders.UpdateOrder(ctx, order.ID, 1, OrderPatch{Address: &address})
	assert.ErrorIs(t, err, ErrConcurrencyConflict)

	// An empty, non-nil item list clears the items
	err = store.Orders.UpdateOrder(ctx, order.ID, 2, OrderPatch{Items: []db.OrderItem{}})
	require.NoError(t, err)
	stored, err = store.Orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Items)
}

func TestDeleteOrder(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	customer := createCustomer(t, store, "Bob Johnson", "789 Pine Rd")
	laptop := createProduct(t, store, "Laptop", 10, "999.99")

	order := &db.CustomerOrder{
		CustomerID:   customer.ID,
		OrderAddress: customer.Address,
		Items:        []db.OrderItem{{ProductID: laptop.ID, ProductQuantity: 1}},
	}
	require.NoError(t, store.Orders.CreateOrder(ctx, order))

	require.NoError(t, store.Orders.DeleteOrder(ctx, order.ID))

	exists, err := store.Orders.Exists(ctx, order.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	var items int64
	require.NoError(t, store.db.Model(&db.OrderItem{}).Count(&items).Error)
	assert.Zero(t, items)

	assert.ErrorIs(t, store.Orders.DeleteOrder(ctx, order.ID), ErrOrderNotFound)
}
