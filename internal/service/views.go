package service

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/storefront/services/ecommerce/internal/db"
)

// CustomerView is the API shape of a customer
type CustomerView struct {
	ID      uint   `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

// CustomerInput carries the writable customer fields
type CustomerInput struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
}

// ProductView is the API and cache shape of a product
type ProductView struct {
	ID          uint            `json:"id"`
	Barcode     string          `json:"barcode"`
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

// ProductInput carries the writable product fields
type ProductInput struct {
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

// OrderItemInput is one requested line item
type OrderItemInput struct {
	ProductID       uint `json:"productId"`
	ProductQuantity int  `json:"productQuantity"`
}

// OrderUpdate is a partial order update. An empty Address keeps the current
// one; a nil Items keeps the current line items, a non-nil one replaces them.
type OrderUpdate struct {
	OrderAddress string           `json:"orderAddress"`
	OrderItems   []OrderItemInput `json:"orderItems"`
}

// OrderItemView is a line item joined with the current product data
type OrderItemView struct {
	ID                 uint            `json:"id"`
	ProductID          uint            `json:"productId"`
	ProductQuantity    int             `json:"productQuantity"`
	ProductDescription string          `json:"productDescription"`
	ProductPrice       decimal.Decimal `json:"productPrice"`
}

// OrderView is the API shape of an order
type OrderView struct {
	ID           uint            `json:"id"`
	CustomerID   uint            `json:"customerId"`
	OrderAddress string          `json:"orderAddress"`
	Version      int             `json:"version"`
	CreatedAt    time.Time       `json:"createdAt"`
	OrderItems   []OrderItemView `json:"orderItems"`
}

func toCustomerView(c db.Customer) CustomerView {
	return CustomerView{ID: c.ID, Name: c.Name, Address: c.Address, Email: c.Email, Phone: c.Phone}
}

func toProductView(p db.Product) ProductView {
	return ProductView{ID: p.ID, Barcode: p.Barcode, Description: p.Description, Quantity: p.Quantity, Price: p.Price}
}

// toOrderView joins the order items with products; items whose product is
// gone keep an empty description and a zero price
func toOrderView(o db.CustomerOrder, products map[uint]db.Product) OrderView {
	view := OrderView{
		ID:           o.ID,
		CustomerID:   o.CustomerID,
		OrderAddress: o.OrderAddress,
		Version:      o.Version,
		CreatedAt:    o.CreatedAt,
		OrderItems:   make([]OrderItemView, 0, len(o.Items)),
	}
	for _, item := range o.Items {
		iv := OrderItemView{
			ID:              item.ID,
			ProductID:       item.ProductID,
			ProductQuantity: item.ProductQuantity,
			ProductPrice:    decimal.Zero,
		}
		if p, ok := products[item.ProductID]; ok {
			iv.ProductDescription = p.Description
			iv.ProductPrice = p.Price
		}
		view.OrderItems = append(view.OrderItems, iv)
	}
	return view
}
