package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"netobebidas/backend/internal/domain"
	"netobebidas/backend/internal/store"
)

func TestRestockCreatesThenMerges(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.RestockProduct(ctx, domain.RestockRequest{
		Name: "Cerveja Long Neck", CostCents: 300, SellCents: 700, Qty: 12,
	})
	if err != nil {
		t.Fatalf("restock failed: %v", err)
	}
	if created.ID == 0 {
		t.Fatalf("expected assigned id")
	}

	merged, err := s.RestockProduct(ctx, domain.RestockRequest{
		Name: "Cerveja Long Neck", CostCents: 500, SellCents: 750, Qty: 12,
	})
	if err != nil {
		t.Fatalf("restock failed: %v", err)
	}
	if merged.ID != created.ID {
		t.Fatalf("expected same product id, got %d and %d", created.ID, merged.ID)
	}
	if merged.CostCents != 400 || merged.Stock != 24 || merged.SellCents != 750 {
		t.Fatalf("unexpected merged product: %+v", merged)
	}
}

func TestRestockNameMatchIsExact(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.RestockProduct(ctx, domain.RestockRequest{
		Name: "Agua Tonica", CostCents: 100, SellCents: 300, Qty: 5,
	}); err != nil {
		t.Fatalf("restock failed: %v", err)
	}
	other, err := s.RestockProduct(ctx, domain.RestockRequest{
		Name: "agua tonica", CostCents: 100, SellCents: 300, Qty: 5,
	})
	if err != nil {
		t.Fatalf("restock failed: %v", err)
	}

	products, err := s.ListProducts(ctx)
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("case-different names must create distinct products, got %d", len(products))
	}
	if other.ID == products[0].ID {
		t.Fatalf("expected a distinct id for the case-different name")
	}
}

func TestUpdateProductRejectsTakenName(t *testing.T) {
	s := NewSeeded()

	name := "Refrigerante 2L"
	_, err := s.UpdateProduct(context.Background(), 1, domain.ProductUpdateRequest{Name: &name})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for duplicate name, got %v", err)
	}
}

func TestCreateSaleChecksCombinedDemandForRepeatedProduct(t *testing.T) {
	s := New()
	ctx := context.Background()

	product, err := s.RestockProduct(ctx, domain.RestockRequest{
		Name: "Cerveja Litrao", CostCents: 400, SellCents: 800, Qty: 15,
	})
	if err != nil {
		t.Fatalf("restock failed: %v", err)
	}
	customer, err := s.CreateCustomer(ctx, "Seu Carlos")
	if err != nil {
		t.Fatalf("create customer failed: %v", err)
	}

	// Two lines for the same product, each within stock individually but
	// exceeding it combined. The whole sale must fail, never drive stock
	// negative.
	_, err = s.CreateSale(ctx, domain.SaleDraft{
		CustomerID: customer.ID,
		Lines: []domain.SaleLine{
			{ProductID: product.ID, Qty: 10},
			{ProductID: product.ID, Qty: 10},
		},
		IsPaid:    true,
		CreatedAt: time.Now().UTC(),
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock for combined demand, got %v", err)
	}

	var stockErr *store.InsufficientStockError
	if !errors.As(err, &stockErr) || stockErr.Requested != 20 || stockErr.Available != 15 {
		t.Fatalf("unexpected stock error detail: %v", err)
	}

	products, err := s.ListProducts(ctx)
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if products[0].Stock != 15 {
		t.Fatalf("failed sale must leave stock untouched, got %d", products[0].Stock)
	}

	// Repeated lines that fit combined still commit as one sale.
	sale, err := s.CreateSale(ctx, domain.SaleDraft{
		CustomerID: customer.ID,
		Lines: []domain.SaleLine{
			{ProductID: product.ID, Qty: 7},
			{ProductID: product.ID, Qty: 8},
		},
		IsPaid:    true,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("combined-fit sale failed: %v", err)
	}
	if sale.TotalCents != 15*800 {
		t.Fatalf("expected total %d, got %d", 15*800, sale.TotalCents)
	}

	products, err = s.ListProducts(ctx)
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if products[0].Stock != 0 {
		t.Fatalf("expected stock 0 after combined-fit sale, got %d", products[0].Stock)
	}
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	// Seeded product 1 has 120 units. 40 goroutines each try to buy 5 units,
	// which would need 200. Exactly 24 sales can succeed.
	const workers = 40
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreateSale(ctx, domain.SaleDraft{
				CustomerID: 1,
				Lines:      []domain.SaleLine{{ProductID: 1, Qty: 5}},
				IsPaid:     true,
				CreatedAt:  time.Now().UTC(),
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, store.ErrInsufficientStock) {
				t.Errorf("unexpected sale error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 24 {
		t.Fatalf("expected exactly 24 successful sales, got %d", succeeded)
	}

	products, err := s.ListProducts(ctx)
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if products[0].Stock != 0 {
		t.Fatalf("expected stock 0, got %d", products[0].Stock)
	}
}

func TestListSalesNewestFirst(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	base := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := s.CreateSale(ctx, domain.SaleDraft{
			CustomerID: 1,
			Lines:      []domain.SaleLine{{ProductID: 1, Qty: 1}},
			IsPaid:     true,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("create sale failed: %v", err)
		}
	}

	sales, err := s.ListSales(ctx)
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	for i := 1; i < len(sales); i++ {
		if sales[i].CreatedAt.After(sales[i-1].CreatedAt) {
			t.Fatalf("sales not sorted newest first")
		}
	}
	if sales[0].Customer == nil || sales[0].Customer.Name != "Seu Carlos" {
		t.Fatalf("expected expanded customer on listed sale, got %+v", sales[0].Customer)
	}
}

func TestSalesSummaryWindowIsHalfOpen(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	at := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	if _, err := s.CreateSale(ctx, domain.SaleDraft{
		CustomerID: 1,
		Lines:      []domain.SaleLine{{ProductID: 1, Qty: 1}},
		IsPaid:     true,
		CreatedAt:  at,
	}); err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	included, err := s.SalesSummary(ctx, at, at.Add(time.Second))
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if included.Sales != 1 {
		t.Fatalf("sale at window start must be included, got %d", included.Sales)
	}

	excluded, err := s.SalesSummary(ctx, at.Add(-time.Hour), at)
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if excluded.Sales != 0 {
		t.Fatalf("sale at window end must be excluded, got %d", excluded.Sales)
	}
}
