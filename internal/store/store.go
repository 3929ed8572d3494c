package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"netobebidas/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidInput      = errors.New("invalid input")
)

// InsufficientStockError reports which product could not cover a requested
// sale quantity. errors.Is(err, ErrInsufficientStock) matches it.
type InsufficientStockError struct {
	ProductID   int64
	ProductName string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d (%s): requested %d, available %d",
		e.ProductID, e.ProductName, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// Repository is the persistence boundary for the ledger. Every method is a
// single atomic unit: it either applies all of its mutations or none.
type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	RestockProduct(ctx context.Context, req domain.RestockRequest) (*domain.Product, error)
	UpdateProduct(ctx context.Context, id int64, req domain.ProductUpdateRequest) (*domain.Product, error)
	CreateCustomer(ctx context.Context, name string) (*domain.Customer, error)
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	PayDebt(ctx context.Context, customerID int64, amountCents int64) (*domain.Customer, error)
	CreateSale(ctx context.Context, draft domain.SaleDraft) (*domain.Sale, error)
	ListSales(ctx context.Context) ([]domain.Sale, error)
	SalesSummary(ctx context.Context, from time.Time, to time.Time) (domain.SalesSummary, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
