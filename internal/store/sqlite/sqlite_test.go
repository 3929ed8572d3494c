package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"netobebidas/backend/internal/domain"
	"netobebidas/backend/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedProductAndCustomer(t *testing.T, s *Store) (domain.Product, domain.Customer) {
	t.Helper()
	ctx := context.Background()

	product, err := s.RestockProduct(ctx, domain.RestockRequest{
		Name: "Cerveja Lata 350ml", CostCents: 280, SellCents: 500, Qty: 20,
	})
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}

	customer, err := s.CreateCustomer(ctx, "Seu Carlos")
	if err != nil {
		t.Fatalf("seed customer: %v", err)
	}

	return *product, *customer
}

func TestRestockUpsertsAndRecomputesCost(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.RestockProduct(ctx, domain.RestockRequest{
		Name: "Refrigerante 2L", CostCents: 500, SellCents: 900, Qty: 10,
	})
	if err != nil {
		t.Fatalf("first restock: %v", err)
	}

	second, err := s.RestockProduct(ctx, domain.RestockRequest{
		Name: "Refrigerante 2L", CostCents: 700, SellCents: 950, Qty: 10,
	})
	if err != nil {
		t.Fatalf("second restock: %v", err)
	}

	if second.ID != first.ID {
		t.Fatalf("expected upsert to keep product id %d, got %d", first.ID, second.ID)
	}
	if second.CostCents != 600 || second.Stock != 20 || second.SellCents != 950 {
		t.Fatalf("unexpected product after restock: %+v", second)
	}
}

func TestCreateSaleCommitsAllOrNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	product, customer := seedProductAndCustomer(t, s)

	_, err := s.CreateSale(ctx, domain.SaleDraft{
		CustomerID: customer.ID,
		Lines: []domain.SaleLine{
			{ProductID: product.ID, Qty: 5},
			{ProductID: product.ID + 1000, Qty: 1},
		},
		IsPaid:    true,
		CreatedAt: time.Now().UTC(),
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	products, err := s.ListProducts(ctx)
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if products[0].Stock != 20 {
		t.Fatalf("failed sale must roll back stock, got %d", products[0].Stock)
	}

	sales, err := s.ListSales(ctx)
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(sales) != 0 {
		t.Fatalf("failed sale must not be recorded, got %d sales", len(sales))
	}
}

func TestCreateSaleRejectsOversell(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	product, customer := seedProductAndCustomer(t, s)

	_, err := s.CreateSale(ctx, domain.SaleDraft{
		CustomerID: customer.ID,
		Lines:      []domain.SaleLine{{ProductID: product.ID, Qty: 21}},
		IsPaid:     true,
		CreatedAt:  time.Now().UTC(),
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	var stockErr *store.InsufficientStockError
	if !errors.As(err, &stockErr) || stockErr.Available != 20 {
		t.Fatalf("unexpected stock error detail: %v", err)
	}
}

func TestUnpaidSaleAndDebtRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	product, customer := seedProductAndCustomer(t, s)

	sale, err := s.CreateSale(ctx, domain.SaleDraft{
		CustomerID: customer.ID,
		Lines:      []domain.SaleLine{{ProductID: product.ID, Qty: 3}},
		IsPaid:     false,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if sale.TotalCents != 1500 {
		t.Fatalf("expected total 1500, got %d", sale.TotalCents)
	}
	if sale.Customer == nil || sale.Customer.DebtCents != 1500 {
		t.Fatalf("expected customer debt 1500, got %+v", sale.Customer)
	}

	paid, err := s.PayDebt(ctx, customer.ID, 1500)
	if err != nil {
		t.Fatalf("pay debt: %v", err)
	}
	if paid.DebtCents != 0 {
		t.Fatalf("expected debt cleared, got %d", paid.DebtCents)
	}

	over, err := s.PayDebt(ctx, customer.ID, 200)
	if err != nil {
		t.Fatalf("overpay: %v", err)
	}
	if over.DebtCents != -200 {
		t.Fatalf("expected -200 after overpayment, got %d", over.DebtCents)
	}
}

func TestListSalesIncludesSnapshotItems(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	product, customer := seedProductAndCustomer(t, s)

	if _, err := s.CreateSale(ctx, domain.SaleDraft{
		CustomerID: customer.ID,
		Lines:      []domain.SaleLine{{ProductID: product.ID, Qty: 2}},
		IsPaid:     true,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		t.Fatalf("create sale: %v", err)
	}

	// Raise the price after the sale. The recorded item must keep the old one.
	newSell := int64(9999)
	if _, err := s.UpdateProduct(ctx, product.ID, domain.ProductUpdateRequest{SellCents: &newSell}); err != nil {
		t.Fatalf("update product: %v", err)
	}

	sales, err := s.ListSales(ctx)
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(sales) != 1 || len(sales[0].Items) != 1 {
		t.Fatalf("expected 1 sale with 1 item, got %+v", sales)
	}
	item := sales[0].Items[0]
	if item.UnitSellCents != 500 || item.UnitCostCents != 280 {
		t.Fatalf("snapshot mutated: %+v", item)
	}
	if item.ProductName != "Cerveja Lata 350ml" {
		t.Fatalf("expected product name on item, got %q", item.ProductName)
	}
}

func TestSalesSummaryAggregates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	product, customer := seedProductAndCustomer(t, s)

	at := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	if _, err := s.CreateSale(ctx, domain.SaleDraft{
		CustomerID: customer.ID,
		Lines:      []domain.SaleLine{{ProductID: product.ID, Qty: 2}},
		IsPaid:     true,
		CreatedAt:  at,
	}); err != nil {
		t.Fatalf("paid sale: %v", err)
	}
	if _, err := s.CreateSale(ctx, domain.SaleDraft{
		CustomerID: customer.ID,
		Lines:      []domain.SaleLine{{ProductID: product.ID, Qty: 1}},
		IsPaid:     false,
		CreatedAt:  at.Add(time.Minute),
	}); err != nil {
		t.Fatalf("unpaid sale: %v", err)
	}

	summary, err := s.SalesSummary(ctx, at.Add(-time.Hour), at.Add(time.Hour))
	if err != nil {
		t.Fatalf("summary: %v", err)
	}

	if summary.Sales != 2 {
		t.Fatalf("expected 2 sales, got %d", summary.Sales)
	}
	if summary.RevenueCents != 1500 || summary.CostOfGoodsCents != 840 {
		t.Fatalf("unexpected totals: %+v", summary)
	}
	if summary.MarginCents != 660 {
		t.Fatalf("expected margin 660, got %d", summary.MarginCents)
	}
	if summary.UnpaidTotalCents != 500 {
		t.Fatalf("expected unpaid total 500, got %d", summary.UnpaidTotalCents)
	}
	if summary.OutstandingDebtCents != 500 {
		t.Fatalf("expected outstanding debt 500, got %d", summary.OutstandingDebtCents)
	}
}

func TestUserAccountsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	account := domain.UserAccount{
		Username:  "neto",
		Password:  "$2a$10$fakehashfortest",
		Role:      domain.RoleStaff,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateUser(ctx, account); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := s.CreateUser(ctx, account); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected duplicate username rejection, got %v", err)
	}

	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 1 || users[0].Username != "neto" {
		t.Fatalf("unexpected users: %+v", users)
	}

	if err := s.UpdateUserPassword(ctx, "neto", "$2a$10$anotherhash"); err != nil {
		t.Fatalf("update password: %v", err)
	}
	if err := s.UpdateUserPassword(ctx, "ghost", "x"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for unknown user, got %v", err)
	}
}
