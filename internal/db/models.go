package db

import (
	"errors"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ErrNegativeQuantity is returned when a product would be stored with a negative quantity
var ErrNegativeQuantity = errors.New("product quantity must not be negative")

// Customer places orders; its address is snapshotted onto each new order
type Customer struct {
	ID        uint            `gorm:"primaryKey"`
	Name      string          `gorm:"type:varchar(100);not null"`
	Address   string          `gorm:"type:varchar(200);not null"`
	Email     string          `gorm:"type:varchar(200)"`
	Phone     string          `gorm:"type:varchar(50)"`
	Orders    []CustomerOrder `gorm:"foreignKey:CustomerID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Product is a row of the inventory ledger
type Product struct {
	ID          uint            `gorm:"primaryKey"`
	Barcode     string          `gorm:"type:varchar(50);not null;uniqueIndex"`
	Description string          `gorm:"type:varchar(500);not null"`
	Quantity    int             `gorm:"not null;default:0"`
	Price       decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CustomerOrder is the order aggregate root
type CustomerOrder struct {
	ID           uint        `gorm:"primaryKey"`
	CustomerID   uint        `gorm:"not null;index"`
	OrderAddress string      `gorm:"type:varchar(200);not null"`
	Version      int         `gorm:"not null;default:1"`
	Items        []OrderItem `gorm:"foreignKey:CustomerOrderID;constraint:OnDelete:CASCADE"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OrderItem references a product without owning it. ProductQuantity is the
// quantity reserved when the item was written.
type OrderItem struct {
	ID              uint `gorm:"primaryKey"`
	CustomerOrderID uint `gorm:"not null;index"`
	ProductID       uint `gorm:"not null;index"`
	ProductQuantity int  `gorm:"not null"`
}

// TableName specifies the table name for CustomerOrder model
func (CustomerOrder) TableName() string {
	return "customer_orders"
}

// BeforeCreate hook assigns a barcode and rejects negative quantities
func (p *Product) BeforeCreate(tx *gorm.DB) error {
	if p.Quantity < 0 {
		return ErrNegativeQuantity
	}
	if p.Barcode == "" {
		p.Barcode = NextBarcode()
	}
	return nil
}

var lastBarcode atomic.Int64

// NextBarcode returns the upper-case hex form of a unix-millisecond stamp,
// bumped so that two calls never return the same value within a process.
func NextBarcode() string {
	for {
		now := time.Now().UnixMilli()
		last := lastBarcode.Load()
		if now <= last {
			now = last + 1
		}
		if lastBarcode.CompareAndSwap(last, now) {
			return strings.ToUpper(strconv.FormatInt(now, 16))
		}
	}
}
