package db

import (
	"context"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Seed inserts demo customers, products and orders into empty tables.
// Each table is only seeded when it has no rows.
func Seed(ctx context.Context, database *DB) error {
	return database.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Customer{}).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			customers := []Customer{
				{Name: "John Doe", Address: "123 Main St, New York, NY"},
				{Name: "Jane Smith", Address: "456 Oak Ave, Los Angeles, CA"},
				{Name: "Bob Johnson", Address: "789 Pine Rd, Chicago, IL"},
			}
			if err := tx.Create(&customers).Error; err != nil {
				return err
			}
		}

		if err := tx.Model(&Product{}).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			products := []Product{
				{Description: "Laptop", Quantity: 10, Price: decimal.RequireFromString("999.99")},
				{Description: "Smartphone", Quantity: 20, Price: decimal.RequireFromString("699.99")},
				{Description: "Headphones", Quantity: 30, Price: decimal.RequireFromString("99.99")},
				{Description: "Tablet", Quantity: 15, Price: decimal.RequireFromString("499.99")},
				{Description: "Smartwatch", Quantity: 25, Price: decimal.RequireFromString("199.99")},
			}
			if err := tx.Create(&products).Error; err != nil {
				return err
			}
		}

		if err := tx.Model(&CustomerOrder{}).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		var customers []Customer
		if err := tx.Order("id").Limit(2).Find(&customers).Error; err != nil {
			return err
		}
		var products []Product
		if err := tx.Order("id").Limit(2).Find(&products).Error; err != nil {
			return err
		}
		if len(customers) < 2 || len(products) < 2 {
			return nil
		}

		orders := []CustomerOrder{
			{
				CustomerID:   customers[0].ID,
				OrderAddress: customers[0].Address,
				Version:      1,
				Items: []OrderItem{
					{ProductID: products[0].ID, ProductQuantity: 2},
					{ProductID: products[1].ID, ProductQuantity: 1},
				},
			},
			{
				CustomerID:   customers[1].ID,
				OrderAddress: customers[1].Address,
				Version:      1,
				Items: []OrderItem{
					{ProductID: products[1].ID, ProductQuantity: 3},
				},
			},
		}
		return tx.Create(&orders).Error
	})
}
