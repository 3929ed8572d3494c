// Package sqlite provides a SQLite-backed Repository. Small single-machine
// deployments run on one database file, so this store is a first-class backend
// alongside Postgres.
//
// SQLite is opened with WAL and foreign keys enabled. A process-level mutex
// serializes writers, matching the single-writer model of the store: each
// Repository call runs as one transaction and either fully applies or rolls
// back.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"netobebidas/backend/internal/domain"
	"netobebidas/backend/internal/store"
)

type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New opens (or creates) the database at dbPath. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		cost_cents INTEGER NOT NULL DEFAULT 0,
		sell_cents INTEGER NOT NULL DEFAULT 0,
		stock INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS customers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		debt_cents INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS sales (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id INTEGER NOT NULL REFERENCES customers(id),
		total_cents INTEGER NOT NULL,
		is_paid INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sales_created_at ON sales(created_at DESC);

	CREATE TABLE IF NOT EXISTS sale_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sale_id INTEGER NOT NULL REFERENCES sales(id),
		product_id INTEGER NOT NULL REFERENCES products(id),
		qty INTEGER NOT NULL,
		unit_sell_cents INTEGER NOT NULL,
		unit_cost_cents INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sale_items_sale ON sale_items(sale_id);

	CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'staff',
		active INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
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

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var p domain.Product
	err = tx.QueryRowContext(ctx, `
		SELECT id, name, cost_cents, sell_cents, stock
		FROM products
		WHERE name = ?
	`, name).Scan(&p.ID, &p.Name, &p.CostCents, &p.SellCents, &p.Stock)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		p = domain.Product{Name: name, CostCents: req.CostCents, SellCents: req.SellCents, Stock: req.Qty}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO products (name, cost_cents, sell_cents, stock)
			VALUES (?,?,?,?)
		`, p.Name, p.CostCents, p.SellCents, p.Stock)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, store.ErrInvalidInput
			}
			return nil, err
		}
		p.ID, err = res.LastInsertId()
		if err != nil {
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
			SET cost_cents = ?, sell_cents = ?, stock = ?
			WHERE id = ?
		`, p.CostCents, p.SellCents, p.Stock, p.ID)
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
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var p domain.Product
	err = tx.QueryRowContext(ctx, `
		SELECT id, name, cost_cents, sell_cents, stock
		FROM products
		WHERE id = ?
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
		SET name = ?, cost_cents = ?, sell_cents = ?, stock = ?
		WHERE id = ?
	`, p.Name, p.CostCents, p.SellCents, p.Stock, p.ID)
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

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (name, debt_cents) VALUES (?, 0)
	`, name)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &domain.Customer{ID: id, Name: name}, nil
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
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var c domain.Customer
	err = tx.QueryRowContext(ctx, `
		SELECT id, name, debt_cents FROM customers WHERE id = ?
	`, customerID).Scan(&c.ID, &c.Name, &c.DebtCents)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	c.DebtCents -= amountCents
	_, err = tx.ExecContext(ctx, `
		UPDATE customers SET debt_cents = ? WHERE id = ?
	`, c.DebtCents, c.ID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	updated := c
	return &updated, nil
}

func (s *Store) CreateSale(ctx context.Context, draft domain.SaleDraft) (*domain.Sale, error) {
	if len(draft.Lines) == 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var customer domain.Customer
	err = tx.QueryRowContext(ctx, `
		SELECT id, name, debt_cents FROM customers WHERE id = ?
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
			WHERE id = ?
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
			UPDATE products SET stock = stock - ? WHERE id = ?
		`, line.Qty, p.ID)
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

	res, err := tx.ExecContext(ctx, `
		INSERT INTO sales (customer_id, total_cents, is_paid, created_at)
		VALUES (?,?,?,?)
	`, sale.CustomerID, sale.TotalCents, sale.IsPaid, sale.CreatedAt)
	if err != nil {
		return nil, err
	}
	sale.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}

	for i := range items {
		items[i].SaleID = sale.ID
		res, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, product_id, qty, unit_sell_cents, unit_cost_cents)
			VALUES (?,?,?,?,?)
		`, items[i].SaleID, items[i].ProductID, items[i].Qty, items[i].UnitSellCents, items[i].UnitCostCents)
		if err != nil {
			return nil, err
		}
		items[i].ID, err = res.LastInsertId()
		if err != nil {
			return nil, err
		}
	}
	sale.Items = items

	if !draft.IsPaid {
		customer.DebtCents += total
		_, err = tx.ExecContext(ctx, `
			UPDATE customers SET debt_cents = ? WHERE id = ?
		`, customer.DebtCents, customer.ID)
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
	index := make(map[int64]int, 64)
	for rows.Next() {
		var sale domain.Sale
		var customer domain.Customer
		if err := rows.Scan(&sale.ID, &sale.CustomerID, &sale.TotalCents, &sale.IsPaid, &sale.CreatedAt,
			&customer.ID, &customer.Name, &customer.DebtCents); err != nil {
			return nil, err
		}
		sale.Customer = &customer
		sale.Items = make([]domain.SaleItem, 0, 4)
		index[sale.ID] = len(sales)
		sales = append(sales, sale)
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
		ORDER BY i.id
	`)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var item domain.SaleItem
		if err := itemRows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.ProductName,
			&item.Qty, &item.UnitSellCents, &item.UnitCostCents); err != nil {
			return nil, err
		}
		if pos, exists := index[item.SaleID]; exists {
			sales[pos].Items = append(sales[pos].Items, item)
		}
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
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
		WHERE s.created_at >= ? AND s.created_at < ?
	`, from, to).Scan(&summary.Sales, &summary.RevenueCents, &summary.CostOfGoodsCents)
	if err != nil {
		return domain.SalesSummary{}, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_cents), 0)
		FROM sales
		WHERE is_paid = 0 AND created_at >= ? AND created_at < ?
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

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES (?,?,?,?,?)
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
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = ? WHERE username = ?
	`, password, username)
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
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
