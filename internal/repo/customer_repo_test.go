package repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront/services/ecommerce/internal/db"
)

func TestCustomerLifecycle(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	customer := createCustomer(t, store, "John Doe", "123 Main St")

	customer.Address = "99 Elm St"
	customer.Email = "john@example.com"
	require.NoError(t, store.Customers.UpdateCustomer(ctx, customer))

	stored, err := store.Customers.GetCustomer(ctx, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, "99 Elm St", stored.Address)
	assert.Equal(t, "john@example.com", stored.Email)

	missing := &db.Customer{ID: 999, Name: "Nobody", Address: "Nowhere"}
	assert.ErrorIs(t, store.Customers.UpdateCustomer(ctx, missing), ErrCustomerNotFound)

	customers, err := store.Customers.ListCustomers(ctx)
	require.NoError(t, err)
	assert.Len(t, customers, 1)
}

func TestDeleteCustomerRemovesOrders(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	customer := createCustomer(t, store, "Jane Smith", "456 Oak Ave")
	laptop := createProduct(t, store, "Laptop", 10, "999.99")

	order := &db.CustomerOrder{
		CustomerID:   customer.ID,
		OrderAddress: customer.Address,
		Items:        []db.OrderItem{{ProductID: laptop.ID, ProductQuantity: 2}},
	}
	require.NoError(t, store.Orders.CreateOrder(ctx, order))

	err := store.InTx(ctx, func(tx *Store) error {
		return tx.Customers.DeleteCustomer(ctx, customer.ID)
	})
	require.NoError(t, err)

	_, err = store.Customers.GetCustomer(ctx, customer.ID)
	assert.ErrorIs(t, err, ErrCustomerNotFound)
	_, err = store.Orders.GetOrder(ctx, order.ID)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	assert.ErrorIs(t, store.Customers.DeleteCustomer(ctx, customer.ID), ErrCustomerNotFound)
}
