package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"netobebidas/backend/internal/domain"
	"netobebidas/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS products (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		cost_cents BIGINT NOT NULL DEFAULT 0,
		sell_cents BIGINT NOT NULL DEFAULT 0,
		stock INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS customers (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		debt_cents BIGINT NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS sales (
		id BIGSERIAL PRIMARY KEY,
		customer_id BIGINT NOT NULL REFERENCES customers(id),
		total_cents BIGINT NOT NULL,
		is_paid BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_sales_created_at ON sales(created_at DESC);

	CREATE TABLE IF NOT EXISTS sale_items (
		id BIGSERIAL PRIMARY KEY,
		sale_id BIGINT NOT NULL REFERENCES sales(id),
		product_id BIGINT NOT NULL REFERENCES products(id),
		qty INTEGER NOT NULL,
		unit_sell_cents BIGINT NOT NULL,
		unit_cost_cents BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sale_items_sale ON sale_items(sale_id);

	CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'staff',
		active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, cost_cents, sell_cents, stock
		FROM products
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.CostCents, &p.SellCents, &p.Stock); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) RestockProduct(ctx context.Context, req domain.RestockRequest) (*domain.Product, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" || req.CostCents < 0 || req.SellCents < 0 || req.Qty < 0 {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var p domain.Product
	err = tx.QueryRowContext(ctx, `
		SELECT id, name, cost_cents, sell_cents, stock
		FROM products
		WHERE name = $1
		FOR UPDATE
	`, name).Scan(&p.ID, &p.Name, &p.CostCents, &p.SellCents, &p.Stock)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		p = domain.Product{Name: name, CostCents: req.CostCents, SellCents: req.SellCents, Stock: req.Qty}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO products (name, cost_cents, sell_cents, stock)
			VALUES ($1,$2,$3,$4)
			RETURNING id
		`, p.Name, p.CostCents, p.SellCents, p.Stock).Scan(&p.ID)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, store.ErrInvalidInput
			}
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		p.CostCents = domain.WeightedAverageCostCents(p.Stock, p.CostCents, req.Qty, req.CostCents)
		p.Stock += req.Qty
		p.SellCents = req.SellCents
		_, err = tx.ExecContext(ctx, `
			UPDATE products
			SET cost_cents = $2, sell_cents = $3, stock = $4
			WHERE id = $1
		`, p.ID, p.CostCents, p.SellCents, p.Stock)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	result := p
	return &result, nil
}

func (s *Store) UpdateProduct(ctx context.Context, id int64, req domain.ProductUpdateRequest) (*domain.Product, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var p domain.Product
	err = tx.QueryRowContext(ctx, `
		SELECT id, name, cost_cents, sell_cents, stock
		FROM products
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&p.ID, &p.Name, &p.CostCents, &p.SellCents, &p.Stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, store.ErrInvalidInput
		}
		p.Name = name
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

	_, err = tx.ExecContext(ctx, `
		UPDATE products
		SET name = $2, cost_cents = $3, sell_cents = $4, stock = $5
		WHERE id = $1
	`, p.ID, p.Name, p.CostCents, p.SellCents, p.Stock)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	updated := p
	return &updated, nil
}

func (s *Store) CreateCustomer(ctx context.Context, name string) (*domain.Customer, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, store.ErrInvalidInput
	}

	c := domain.Customer{Name: name}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO customers (name, debt_cents)
		VALUES ($1, 0)
		RETURNING id
	`, name).Scan(&c.ID)
	if err != nil {
		return nil, err
	}

	created := c
	return &created, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, debt_cents
		FROM customers
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.DebtCents); err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return customers, nil
}

func (s *Store) PayDebt(ctx context.Context, customerID int64, amountCents int64) (*domain.Customer, error) {
	// Single-statement read-modify-write; no floor at zero, overpayment
	// leaves a negative balance (store credit).
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		UPDATE customers
		SET debt_cents = debt_cents - $2
		WHERE id = $1
		RETURNING id, name, debt_cents
	`, customerID, amountCents).Scan(&c.ID, &c.Name, &c.DebtCents)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	updated := c
	return &updated, nil
}

func (s *Store) CreateSale(ctx context.Context, draft domain.SaleDraft) (*domain.Sale, error) {
	if len(draft.Lines) == 0 {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// Lock the customer row up front so the debt update cannot race another
	// unpaid sale or a payment.
	var customer domain.Customer
	err = tx.QueryRowContext(ctx, `
		SELECT id, name, debt_cents
		FROM customers
		WHERE id = $1
		FOR UPDATE
	`, draft.CustomerID).Scan(&customer.ID, &customer.Name, &customer.DebtCents)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("customer %d: %w", draft.CustomerID, store.ErrNotFound)
		}
		return nil, err
	}

	createdAt := draft.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	total := int64(0)
	items := make([]domain.SaleItem, 0, len(draft.Lines))
	for _, line := range draft.Lines {
		if line.Qty < 1 {
			return nil, store.ErrInvalidInput
		}

		var p domain.Product
		err = tx.QueryRowContext(ctx, `
			SELECT id, name, cost_cents, sell_cents, stock
			FROM products
			WHERE id = $1
			FOR UPDATE
		`, line.ProductID).Scan(&p.ID, &p.Name, &p.CostCents, &p.SellCents, &p.Stock)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("product %d: %w", line.ProductID, store.ErrNotFound)
			}
			return nil, err
		}
		if p.Stock < line.Qty {
			return nil, &store.InsufficientStockError{
				ProductID:   p.ID,
				ProductName: p.Name,
				Requested:   line.Qty,
				Available:   p.Stock,
			}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock - $2
			WHERE id = $1
		`, p.ID, line.Qty)
		if err != nil {
			return nil, err
		}

		items = append(items, domain.SaleItem{
			ProductID:     p.ID,
			ProductName:   p.Name,
			Qty:           line.Qty,
			UnitSellCents: p.SellCents,
			UnitCostCents: p.CostCents,
		})
		total += int64(line.Qty) * p.SellCents
	}

	sale := domain.Sale{
		CustomerID: draft.CustomerID,
		TotalCents: total,
		IsPaid:     draft.IsPaid,
		CreatedAt:  createdAt,
	}

	// Two-phase insert: the parent id is obtained mid-transaction before the
	// children are written.
	err = tx.QueryRowContext(ctx, `
		INSERT INTO sales (customer_id, total_cents, is_paid, created_at)
		VALUES ($1,$2,$3,$4)
		RETURNING id
	`, sale.CustomerID, sale.TotalCents, sale.IsPaid, sale.CreatedAt).Scan(&sale.ID)
	if err != nil {
		return nil, err
	}

	for i := range items {
		items[i].SaleID = sale.ID
		err = tx.QueryRowContext(ctx, `
			INSERT INTO sale_items (sale_id, product_id, qty, unit_sell_cents, unit_cost_cents)
			VALUES ($1,$2,$3,$4,$5)
			RETURNING id
		`, items[i].SaleID, items[i].ProductID, items[i].Qty, items[i].UnitSellCents, items[i].UnitCostCents).Scan(&items[i].ID)
		if err != nil {
			return nil, err
		}
	}
	sale.Items = items

	if !draft.IsPaid {
		err = tx.QueryRowContext(ctx, `
			UPDATE customers
			SET debt_cents = debt_cents + $2
			WHERE id = $1
			RETURNING debt_cents
		`, draft.CustomerID, total).Scan(&customer.DebtCents)
		if err != nil {
			return nil, err
		}
	}
	cust := customer
	sale.Customer = &cust

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := sale
	return &created, nil
}

func (s *Store) ListSales(ctx context.Context) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.customer_id, s.total_cents, s.is_paid, s.created_at,
		       c.id, c.name, c.debt_cents
		FROM sales s
		JOIN customers c ON c.id = s.customer_id
		ORDER BY s.created_at DESC, s.id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	saleIDs := make([]int64, 0, 64)
	for rows.Next() {
		var sale domain.Sale
		var customer domain.Customer
		if err := rows.Scan(&sale.ID, &sale.CustomerID, &sale.TotalCents, &sale.IsPaid, &sale.CreatedAt,
			&customer.ID, &customer.Name, &customer.DebtCents); err != nil {
			return nil, err
		}
		sale.Customer = &customer
		sale.Items = make([]domain.SaleItem, 0, 4)
		sales = append(sales, sale)
		saleIDs = append(saleIDs, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(sales) == 0 {
		return sales, nil
	}

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.sale_id, i.product_id, p.name, i.qty, i.unit_sell_cents, i.unit_cost_cents
		FROM sale_items i
		JOIN products p ON p.id = i.product_id
		WHERE i.sale_id = ANY($1)
		ORDER BY i.id
	`, saleIDs)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()

	itemsBySale := make(map[int64][]domain.SaleItem, len(sales))
	for itemRows.Next() {
		var item domain.SaleItem
		if err := itemRows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.ProductName,
			&item.Qty, &item.UnitSellCents, &item.UnitCostCents); err != nil {
			return nil, err
		}
		itemsBySale[item.SaleID] = append(itemsBySale[item.SaleID], item)
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	for i := range sales {
		if items, exists := itemsBySale[sales[i].ID]; exists {
			sales[i].Items = items
		}
	}

	return sales, nil
}

func (s *Store) SalesSummary(ctx context.Context, from time.Time, to time.Time) (domain.SalesSummary, error) {
	summary := domain.SalesSummary{
		From: from.UTC().Format(time.RFC3339),
		To:   to.UTC().Format(time.RFC3339),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT s.id),
		       COALESCE(SUM(i.qty * i.unit_sell_cents), 0),
		       COALESCE(SUM(i.qty * i.unit_cost_cents), 0)
		FROM sales s
		JOIN sale_items i ON i.sale_id = s.id
		WHERE s.created_at >= $1 AND s.created_at < $2
	`, from, to).Scan(&summary.Sales, &summary.RevenueCents, &summary.CostOfGoodsCents)
	if err != nil {
		return domain.SalesSummary{}, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_cents), 0)
		FROM sales
		WHERE NOT is_paid AND created_at >= $1 AND created_at < $2
	`, from, to).Scan(&summary.UnpaidTotalCents)
	if err != nil {
		return domain.SalesSummary{}, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(debt_cents), 0) FROM customers
	`).Scan(&summary.OutstandingDebtCents)
	if err != nil {
		return domain.SalesSummary{}, err
	}

	summary.MarginCents = summary.RevenueCents - summary.CostOfGoodsCents
	summary.MarginRate = domain.MarginRate(summary.RevenueCents, summary.MarginCents)
	return summary, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidInput
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
