package service

import (
	"context"
	"log"
	"strings"
	"time"

	"netobebidas/backend/internal/cache"
	"netobebidas/backend/internal/domain"
	"netobebidas/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// actorName identifies the authenticated staff user for audit logs; requests
// that bypass auth (seed scripts, tests) are logged as "system".
func actorName(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok && actor.Username != "" {
		return actor.Username
	}
	return "system"
}

// Service fronts the repository with input validation, basket collapsing and
// catalog caching. Every mutating call maps to exactly one atomic repository
// operation.
type Service struct {
	repo     store.Repository
	products cache.ProductCache
	cacheTTL time.Duration
}

func New(repo store.Repository, products cache.ProductCache, cacheTTL time.Duration) *Service {
	if products == nil {
		products = cache.NoopProductCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}

	return &Service{
		repo:     repo,
		products: products,
		cacheTTL: cacheTTL,
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	if cached, hit, err := s.products.GetProducts(ctx); err == nil && hit {
		return cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: product cache read failed: %v", err)
	}

	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.products.SetProducts(ctx, products, s.cacheTTL); err != nil {
		log.Printf("[service] WARN: product cache write failed: %v", err)
	}

	return products, nil
}

func (s *Service) RestockProduct(ctx context.Context, req domain.RestockRequest) (domain.Product, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Product{}, store.ErrInvalidInput
	}
	if req.CostCents < 0 || req.SellCents < 0 || req.Qty < 0 {
		return domain.Product{}, store.ErrInvalidInput
	}

	product, err := s.repo.RestockProduct(ctx, req)
	if err != nil {
		return domain.Product{}, err
	}

	s.invalidateProducts(ctx)
	return *product, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id int64, req domain.ProductUpdateRequest) (domain.Product, error) {
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return domain.Product{}, store.ErrInvalidInput
	}
	if req.CostCents != nil && *req.CostCents < 0 {
		return domain.Product{}, store.ErrInvalidInput
	}
	if req.SellCents != nil && *req.SellCents < 0 {
		return domain.Product{}, store.ErrInvalidInput
	}

	product, err := s.repo.UpdateProduct(ctx, id, req)
	if err != nil {
		return domain.Product{}, err
	}

	s.invalidateProducts(ctx)
	return *product, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Customer{}, store.ErrInvalidInput
	}

	customer, err := s.repo.CreateCustomer(ctx, name)
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) PayDebt(ctx context.Context, customerID int64, req domain.DebtPaymentRequest) (domain.DebtPaymentResponse, error) {
	if req.AmountCents <= 0 {
		return domain.DebtPaymentResponse{}, store.ErrInvalidAmount
	}

	customer, err := s.repo.PayDebt(ctx, customerID, req.AmountCents)
	if err != nil {
		return domain.DebtPaymentResponse{}, err
	}

	log.Printf("[service] payment of %d cents for customer %d by %s, balance %d",
		req.AmountCents, customer.ID, actorName(ctx), customer.DebtCents)

	return domain.DebtPaymentResponse{
		CustomerID:   customer.ID,
		CustomerName: customer.Name,
		NewDebtCents: customer.DebtCents,
	}, nil
}

// CreateSale collapses the basket into one line per product and commits it as
// a single atomic unit. Listing a product twice and requesting quantity 2 in
// one line are equivalent inputs.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.SaleReceipt, error) {
	lines, err := collapseBasket(req.ProductIDs, req.Items)
	if err != nil {
		return domain.SaleReceipt{}, err
	}
	if len(lines) == 0 {
		return domain.SaleReceipt{}, store.ErrInvalidInput
	}

	sale, err := s.repo.CreateSale(ctx, domain.SaleDraft{
		CustomerID: req.CustomerID,
		Lines:      lines,
		IsPaid:     req.IsPaid,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		return domain.SaleReceipt{}, err
	}

	// Stock changed, so the cached catalog is stale.
	s.invalidateProducts(ctx)

	log.Printf("[service] sale %d committed by %s: %d cents, paid=%t",
		sale.ID, actorName(ctx), sale.TotalCents, sale.IsPaid)

	return domain.SaleReceipt{
		SaleID:     sale.ID,
		TotalCents: sale.TotalCents,
		IsPaid:     sale.IsPaid,
		CreatedAt:  sale.CreatedAt.Format(time.RFC3339),
	}, nil
}

func (s *Service) ListSales(ctx context.Context) ([]domain.Sale, error) {
	return s.repo.ListSales(ctx)
}

func (s *Service) SalesSummary(ctx context.Context, from time.Time, to time.Time) (domain.SalesSummary, error) {
	if from.IsZero() {
		from = time.Unix(0, 0).UTC()
	}
	if to.IsZero() {
		to = time.Now().UTC().Add(time.Second)
	}
	if !to.After(from) {
		return domain.SalesSummary{}, store.ErrInvalidInput
	}
	return s.repo.SalesSummary(ctx, from, to)
}

func (s *Service) invalidateProducts(ctx context.Context) {
	if err := s.products.Invalidate(ctx); err != nil {
		log.Printf("[service] WARN: product cache invalidation failed: %v", err)
	}
}

// collapseBasket merges repeated product ids (one unit each) and explicit
// quantity lines into a single line per product, preserving first-seen order.
func collapseBasket(productIDs []int64, items []domain.SaleLine) ([]domain.SaleLine, error) {
	qtyByProduct := make(map[int64]int, len(productIDs)+len(items))
	order := make([]int64, 0, len(productIDs)+len(items))

	add := func(productID int64, qty int) {
		if _, seen := qtyByProduct[productID]; !seen {
			order = append(order, productID)
		}
		qtyByProduct[productID] += qty
	}

	for _, id := range productIDs {
		add(id, 1)
	}
	for _, item := range items {
		if item.Qty < 1 {
			return nil, store.ErrInvalidInput
		}
		add(item.ProductID, item.Qty)
	}

	lines := make([]domain.SaleLine, 0, len(order))
	for _, id := range order {
		lines = append(lines, domain.SaleLine{ProductID: id, Qty: qtyByProduct[id]})
	}
	return lines, nil
}
