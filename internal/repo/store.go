package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/storefront/services/ecommerce/internal/db"
)

var (
	// ErrCustomerNotFound is returned when a customer is not found
	ErrCustomerNotFound = errors.New("customer not found")

	// ErrProductNotFound is returned when a product is not found
	ErrProductNotFound = errors.New("product not found")

	// ErrOrderNotFound is returned when an order is not found
	ErrOrderNotFound = errors.New("order not found")

	// ErrInsufficientStock is returned when a reservation exceeds the available quantity
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrConcurrencyConflict is returned when an optimistic version check fails
	// or the database aborts a transaction that raced another one
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// Postgres SQLSTATE codes of transactions aborted by a concurrent one
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

// Store groups the repositories that share one gorm handle. A Store obtained
// through InTx runs every repository call inside the same transaction.
type Store struct {
	db  *gorm.DB
	log *zap.Logger

	Customers *CustomerRepository
	Products  *ProductRepository
	Orders    *OrderRepository
}

// NewStore creates a store on top of the database connection
func NewStore(database *db.DB, log *zap.Logger) *Store {
	return newStore(database.DB, log)
}

func newStore(handle *gorm.DB, log *zap.Logger) *Store {
	return &Store{
		db:        handle,
		log:       log,
		Customers: &CustomerRepository{db: handle, log: log},
		Products:  &ProductRepository{db: handle, log: log},
		Orders:    &OrderRepository{db: handle, log: log},
	}
}

// InTx runs fn in a database transaction. The transaction commits when fn
// returns nil and rolls back otherwise. Deadlocks and serialization failures
// are reported as ErrConcurrencyConflict.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(newStore(tx, s.log))
	})
	return s.translate(err)
}

func (s *Store) translate(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case sqlStateSerializationFailure, sqlStateDeadlockDetected:
		s.log.Warn("Transaction aborted by a concurrent one",
			zap.String("sqlstate", pgErr.Code),
			zap.String("detail", pgErr.Message),
		)
		return pkgerrors.Wrap(ErrConcurrencyConflict, pgErr.Message)
	}
	return err
}
