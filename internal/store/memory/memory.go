package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"netobebidas/backend/internal/domain"
	"netobebidas/backend/internal/store"
)

// Store is an in-memory Repository for dev/demo mode and tests. A single
// mutex serializes every operation, which is what makes each call atomic.
type Store struct {
	mu              sync.RWMutex
	products        map[int64]domain.Product
	productIDByName map[string]int64
	customers       map[int64]domain.Customer
	sales           []domain.Sale
	usersByUsername map[string]domain.UserAccount

	productSeq  int64
	customerSeq int64
	saleSeq     int64
	itemSeq     int64
}

func New() *Store {
	return &Store{
		products:        make(map[int64]domain.Product),
		productIDByName: make(map[string]int64),
		customers:       make(map[int64]domain.Customer),
		sales:           make([]domain.Sale, 0, 64),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store preloaded with demo catalog data and a staff
// login for local development.
func NewSeeded() *Store {
	s := New()

	seed := []domain.Product{
		{Name: "Cerveja Lata 350ml", CostCents: 280, SellCents: 500, Stock: 120},
		{Name: "Refrigerante 2L", CostCents: 550, SellCents: 900, Stock: 60},
		{Name: "Agua Mineral 500ml", CostCents: 90, SellCents: 250, Stock: 80},
		{Name: "Suco de Uva 1L", CostCents: 620, SellCents: 1100, Stock: 30},
		{Name: "Energetico 269ml", CostCents: 480, SellCents: 850, Stock: 40},
		{Name: "Gelo 2kg", CostCents: 300, SellCents: 600, Stock: 25},
	}
	for _, p := range seed {
		s.productSeq++
		p.ID = s.productSeq
		s.products[p.ID] = p
		s.productIDByName[p.Name] = p.ID
	}

	for _, name := range []string{"Seu Carlos", "Dona Maria"} {
		s.customerSeq++
		s.customers[s.customerSeq] = domain.Customer{ID: s.customerSeq, Name: name}
	}

	s.usersByUsername = seedUsers()
	return s
}

// seedUsers builds the initial staff account for dev/demo mode. The password
// is read from SEED_STAFF_PASSWORD; if unset a hardcoded dev default is used
// with a warning. Production deployments use a relational store.
func seedUsers() map[string]domain.UserAccount {
	password := os.Getenv("SEED_STAFF_PASSWORD")
	if password == "" {
		password = "balcao123"
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_STAFF_PASSWORD to override.")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("[memory-store] failed to hash seed password: %v", err)
	}

	return map[string]domain.UserAccount{
		"neto": {
			Username:  "neto",
			Password:  string(hash),
			Role:      domain.RoleStaff,
			Active:    true,
			CreatedAt: time.Now().UTC(),
		},
	}
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return int(a.ID - b.ID)
	})
	return products, nil
}

func (s *Store) RestockProduct(_ context.Context, req domain.RestockRequest) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := strings.TrimSpace(req.Name)
	if name == "" || req.CostCents < 0 || req.SellCents < 0 || req.Qty < 0 {
		return nil, store.ErrInvalidInput
	}

	if id, exists := s.productIDByName[name]; exists {
		p := s.products[id]
		p.CostCents = domain.WeightedAverageCostCents(p.Stock, p.CostCents, req.Qty, req.CostCents)
		p.Stock += req.Qty
		p.SellCents = req.SellCents
		s.products[id] = p
		updated := p
		return &updated, nil
	}

	s.productSeq++
	p := domain.Product{
		ID:        s.productSeq,
		Name:      name,
		CostCents: req.CostCents,
		SellCents: req.SellCents,
		Stock:     req.Qty,
	}
	s.products[p.ID] = p
	s.productIDByName[name] = p.ID
	created := p
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, id int64, req domain.ProductUpdateRequest) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, store.ErrInvalidInput
		}
		if other, taken := s.productIDByName[name]; taken && other != id {
			return nil, store.ErrInvalidInput
		}
		delete(s.productIDByName, p.Name)
		p.Name = name
		s.productIDByName[name] = id
	}
	if req.CostCents != nil {
		p.CostCents = *req.CostCents
	}
	if req.SellCents != nil {
		p.SellCents = *req.SellCents
	}
	if req.Stock != nil {
		p.Stock = *req.Stock
	}

	s.products[id] = p
	updated := p
	return &updated, nil
}

func (s *Store) CreateCustomer(_ context.Context, name string) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(name) == "" {
		return nil, store.ErrInvalidInput
	}

	s.customerSeq++
	c := domain.Customer{ID: s.customerSeq, Name: strings.TrimSpace(name)}
	s.customers[c.ID] = c
	created := c
	return &created, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return int(a.ID - b.ID)
	})
	return customers, nil
}

func (s *Store) PayDebt(_ context.Context, customerID int64, amountCents int64) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.customers[customerID]
	if !exists {
		return nil, store.ErrNotFound
	}

	// No floor at zero: overpayment leaves a negative balance (store credit).
	c.DebtCents -= amountCents
	s.customers[customerID] = c
	updated := c
	return &updated, nil
}

func (s *Store) CreateSale(_ context.Context, draft domain.SaleDraft) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer, exists := s.customers[draft.CustomerID]
	if !exists {
		return nil, fmt.Errorf("customer %d: %w", draft.CustomerID, store.ErrNotFound)
	}

	// Validate every line before touching any stock, so a failing line leaves
	// the whole basket untouched. Quantities are accumulated per product so a
	// basket repeating a product is checked against its combined demand.
	required := make(map[int64]int, len(draft.Lines))
	for _, line := range draft.Lines {
		if line.Qty < 1 {
			return nil, store.ErrInvalidInput
		}
		p, exists := s.products[line.ProductID]
		if !exists {
			return nil, fmt.Errorf("product %d: %w", line.ProductID, store.ErrNotFound)
		}
		required[line.ProductID] += line.Qty
		if p.Stock < required[line.ProductID] {
			return nil, &store.InsufficientStockError{
				ProductID:   p.ID,
				ProductName: p.Name,
				Requested:   required[line.ProductID],
				Available:   p.Stock,
			}
		}
	}

	createdAt := draft.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	s.saleSeq++
	sale := domain.Sale{
		ID:         s.saleSeq,
		CustomerID: draft.CustomerID,
		IsPaid:     draft.IsPaid,
		CreatedAt:  createdAt,
	}

	total := int64(0)
	items := make([]domain.SaleItem, 0, len(draft.Lines))
	for _, line := range draft.Lines {
		p := s.products[line.ProductID]
		p.Stock -= line.Qty
		s.products[line.ProductID] = p

		s.itemSeq++
		items = append(items, domain.SaleItem{
			ID:            s.itemSeq,
			SaleID:        sale.ID,
			ProductID:     p.ID,
			ProductName:   p.Name,
			Qty:           line.Qty,
			UnitSellCents: p.SellCents,
			UnitCostCents: p.CostCents,
		})
		total += int64(line.Qty) * p.SellCents
	}
	sale.TotalCents = total
	sale.Items = items

	if !draft.IsPaid {
		customer.DebtCents += total
		s.customers[draft.CustomerID] = customer
	}

	s.sales = append(s.sales, sale)

	created := sale
	created.Items = slices.Clone(items)
	cust := customer
	created.Customer = &cust
	return &created, nil
}

func (s *Store) ListSales(_ context.Context) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		copySale := sale
		copySale.Items = slices.Clone(sale.Items)
		if c, exists := s.customers[sale.CustomerID]; exists {
			cust := c
			copySale.Customer = &cust
		}
		sales = append(sales, copySale)
	}

	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return int(b.ID - a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return sales, nil
}

func (s *Store) SalesSummary(_ context.Context, from time.Time, to time.Time) (domain.SalesSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := domain.SalesSummary{
		From: from.UTC().Format(time.RFC3339),
		To:   to.UTC().Format(time.RFC3339),
	}

	for _, sale := range s.sales {
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}
		summary.Sales++
		if !sale.IsPaid {
			summary.UnpaidTotalCents += sale.TotalCents
		}
		for _, item := range sale.Items {
			summary.RevenueCents += int64(item.Qty) * item.UnitSellCents
			summary.CostOfGoodsCents += int64(item.Qty) * item.UnitCostCents
		}
	}
	summary.MarginCents = summary.RevenueCents - summary.CostOfGoodsCents
	summary.MarginRate = domain.MarginRate(summary.RevenueCents, summary.MarginCents)

	for _, c := range s.customers {
		summary.OutstandingDebtCents += c.DebtCents
	}

	return summary, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrInvalidInput
	}

	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	u.Password = password
	s.usersByUsername[username] = u
	return nil
}
