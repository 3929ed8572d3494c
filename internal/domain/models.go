package domain

import "time"

// Product is a stocked item. CostCents is a weighted average of everything
// ever received for the product; SellCents is the latest quoted sell price.
type Product struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	CostCents int64  `json:"cost_cents"`
	SellCents int64  `json:"sell_cents"`
	Stock     int    `json:"stock"`
}

// RestockRequest creates a product or receives stock into an existing one,
// matched by exact (trimmed) name.
type RestockRequest struct {
	Name      string `json:"name"`
	CostCents int64  `json:"cost_cents"`
	SellCents int64  `json:"sell_cents"`
	Qty       int    `json:"qty"`
}

// ProductUpdateRequest is the manual correction path: provided fields
// overwrite unconditionally, with no cost recompute.
type ProductUpdateRequest struct {
	Name      *string `json:"name,omitempty"`
	CostCents *int64  `json:"cost_cents,omitempty"`
	SellCents *int64  `json:"sell_cents,omitempty"`
	Stock     *int    `json:"stock,omitempty"`
}

// Customer carries an outstanding fiado balance. Positive debt means the
// customer owes the store; overpayment drives it negative (a credit).
type Customer struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	DebtCents int64  `json:"debt_cents"`
}

type CustomerCreateRequest struct {
	Name string `json:"name"`
}

type DebtPaymentRequest struct {
	AmountCents int64 `json:"amount_cents"`
}

type DebtPaymentResponse struct {
	CustomerID   int64  `json:"customer_id"`
	CustomerName string `json:"customer_name"`
	NewDebtCents int64  `json:"new_debt_cents"`
}

// SaleLine is one collapsed basket line: a product and how many units of it.
type SaleLine struct {
	ProductID int64 `json:"product_id"`
	Qty       int   `json:"qty"`
}

// SaleCreateRequest accepts the basket in either form: repeated product ids
// (each occurrence is one unit) or explicit lines with quantities. Both are
// merged and collapsed into one line per product before committing.
type SaleCreateRequest struct {
	CustomerID int64      `json:"customer_id"`
	ProductIDs []int64    `json:"product_ids,omitempty"`
	Items      []SaleLine `json:"items,omitempty"`
	IsPaid     bool       `json:"is_paid"`
}

// SaleDraft is the collapsed, validated input handed to the store for an
// atomic sale commit.
type SaleDraft struct {
	CustomerID int64
	Lines      []SaleLine
	IsPaid     bool
	CreatedAt  time.Time
}

// SaleItem freezes the unit sell and cost price at the moment of sale.
// Later product edits never touch these values.
type SaleItem struct {
	ID            int64  `json:"id"`
	SaleID        int64  `json:"sale_id"`
	ProductID     int64  `json:"product_id"`
	ProductName   string `json:"product_name,omitempty"`
	Qty           int    `json:"qty"`
	UnitSellCents int64  `json:"unit_sell_cents"`
	UnitCostCents int64  `json:"unit_cost_cents"`
}

type Sale struct {
	ID         int64      `json:"id"`
	CustomerID int64      `json:"customer_id"`
	Customer   *Customer  `json:"customer,omitempty"`
	TotalCents int64      `json:"total_cents"`
	IsPaid     bool       `json:"is_paid"`
	CreatedAt  time.Time  `json:"created_at"`
	Items      []SaleItem `json:"items"`
}

type SaleReceipt struct {
	SaleID     int64  `json:"sale_id"`
	TotalCents int64  `json:"total_cents"`
	IsPaid     bool   `json:"is_paid"`
	CreatedAt  string `json:"created_at"`
}

// SalesSummary is a reporting read model computed from the frozen sale-item
// snapshots, not from live product prices.
type SalesSummary struct {
	From                 string  `json:"from"`
	To                   string  `json:"to"`
	Sales                int64   `json:"sales"`
	RevenueCents         int64   `json:"revenue_cents"`
	CostOfGoodsCents     int64   `json:"cost_of_goods_cents"`
	MarginCents          int64   `json:"margin_cents"`
	MarginRate           float64 `json:"margin_rate"`
	UnpaidTotalCents     int64   `json:"unpaid_total_cents"`
	OutstandingDebtCents int64   `json:"outstanding_debt_cents"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type SignupRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const RoleStaff = "staff"
