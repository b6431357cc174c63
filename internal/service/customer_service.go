package service

import (
	"context"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/storefront/services/ecommerce/internal/db"
	"github.com/storefront/services/ecommerce/internal/repo"
)

// CustomerService manages customers
type CustomerService struct {
	store *repo.Store
	log   *zap.Logger
}

// NewCustomerService creates the customer service
func NewCustomerService(store *repo.Store, log *zap.Logger) *CustomerService {
	return &CustomerService{store: store, log: log}
}

// ListCustomers returns all customers
func (s *CustomerService) ListCustomers(ctx context.Context) ([]CustomerView, error) {
	customers, err := s.store.Customers.ListCustomers(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]CustomerView, 0, len(customers))
	for _, c := range customers {
		views = append(views, toCustomerView(c))
	}
	return views, nil
}

// GetCustomer returns a customer by id
func (s *CustomerService) GetCustomer(ctx context.Context, id uint) (*CustomerView, error) {
	customer, err := s.store.Customers.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	view := toCustomerView(*customer)
	return &view, nil
}

// CreateCustomer validates and stores a new customer
func (s *CustomerService) CreateCustomer(ctx context.Context, in CustomerInput) (*CustomerView, error) {
	if err := validateCustomer(in); err != nil {
		return nil, err
	}
	customer := &db.Customer{Name: in.Name, Address: in.Address, Email: in.Email, Phone: in.Phone}
	if err := s.store.Customers.CreateCustomer(ctx, customer); err != nil {
		return nil, err
	}
	view := toCustomerView(*customer)
	return &view, nil
}

// UpdateCustomer overwrites the fields of an existing customer
func (s *CustomerService) UpdateCustomer(ctx context.Context, id uint, in CustomerInput) error {
	if err := validateCustomer(in); err != nil {
		return err
	}
	return s.store.Customers.UpdateCustomer(ctx, &db.Customer{
		ID:      id,
		Name:    in.Name,
		Address: in.Address,
		Email:   in.Email,
		Phone:   in.Phone,
	})
}

// DeleteCustomer removes the customer with all of its orders. Stock reserved
// by those orders stays reserved.
func (s *CustomerService) DeleteCustomer(ctx context.Context, id uint) error {
	return s.store.InTx(ctx, func(tx *repo.Store) error {
		return tx.Customers.DeleteCustomer(ctx, id)
	})
}

func validateCustomer(in CustomerInput) error {
	switch {
	case strings.TrimSpace(in.Name) == "":
		return pkgerrors.Wrap(ErrInvalidInput, "name is required")
	case len(in.Name) > 100:
		return pkgerrors.Wrap(ErrInvalidInput, "name exceeds 100 characters")
	case strings.TrimSpace(in.Address) == "":
		return pkgerrors.Wrap(ErrInvalidInput, "address is required")
	case len(in.Address) > 200:
		return pkgerrors.Wrap(ErrInvalidInput, "address exceeds 200 characters")
	}
	return nil
}
