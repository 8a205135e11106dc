package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleAdmin    = "admin"
	RoleManager  = "manager"
	RoleEmployee = "employee"
)

type Actor struct {
	Username     string
	Role         string
	EnterpriseID string
	SalesPointID string
	EmployeeID   string
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

type UserAccount struct {
	Username     string    `json:"username"`
	Password     string    `json:"-"`
	Role         string    `json:"role"`
	EnterpriseID string    `json:"enterprise_id"`
	SalesPointID string    `json:"sales_point_id"`
	EmployeeID   string    `json:"employee_id,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

type SalesPoint struct {
	ID           string          `json:"id"`
	EnterpriseID string          `json:"enterprise_id"`
	Name         string          `json:"name"`
	Balance      decimal.Decimal `json:"balance"`
}

// Packaging is a returnable container SKU. Full containers are sold against,
// empty ones come back from customers.
type Packaging struct {
	ID            string          `json:"id"`
	EnterpriseID  string          `json:"enterprise_id"`
	SalesPointID  string          `json:"sales_point_id"`
	Name          string          `json:"name"`
	Supplier      string          `json:"supplier,omitempty"`
	Price         decimal.Decimal `json:"price"`
	FullQuantity  int             `json:"full_quantity"`
	EmptyQuantity int             `json:"empty_quantity"`
}

type Product struct {
	ID           string          `json:"id"`
	EnterpriseID string          `json:"enterprise_id"`
	SalesPointID string          `json:"sales_point_id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int             `json:"quantity"`
	IsBeer       bool            `json:"is_beer"`
	WithVariant  bool            `json:"with_variant"`
	PackagingID  string          `json:"packaging_id,omitempty"`
	Variants     []Variant       `json:"variants,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// TotalQuantity is the sellable quantity: the sum of variant quantities for
// products sold by variant, the product's own quantity otherwise.
func (p Product) TotalQuantity() int {
	if !p.WithVariant {
		return p.Quantity
	}
	total := 0
	for _, v := range p.Variants {
		total += v.Quantity
	}
	return total
}

type Variant struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
}

type SellPrice struct {
	ID        string          `json:"id"`
	ProductID string          `json:"product_id"`
	Price     decimal.Decimal `json:"price"`
	CreatedAt time.Time       `json:"created_at"`
}

type Client struct {
	ID           string          `json:"id"`
	EnterpriseID string          `json:"enterprise_id"`
	SalesPointID string          `json:"sales_point_id"`
	Name         string          `json:"name"`
	Balance      decimal.Decimal `json:"balance"`
}

type Employee struct {
	ID            string          `json:"id"`
	EnterpriseID  string          `json:"enterprise_id"`
	SalesPointID  string          `json:"sales_point_id"`
	Name          string          `json:"name"`
	Salary        decimal.Decimal `json:"salary"`
	MonthlySalary decimal.Decimal `json:"monthly_salary"`
	IsDeliverer   bool            `json:"is_deliverer"`
}

type TargetKind string

const (
	TargetProduct TargetKind = "product"
	TargetVariant TargetKind = "variant"
)

// LineTarget is what a sale line draws stock from: either a product or one
// of a product's variants, never both.
type LineTarget struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id"`
}

func ProductTarget(id string) LineTarget {
	return LineTarget{Kind: TargetProduct, ID: id}
}

func VariantTarget(id string) LineTarget {
	return LineTarget{Kind: TargetVariant, ID: id}
}

func (t LineTarget) IsVariant() bool {
	return t.Kind == TargetVariant
}

func (t LineTarget) Valid() bool {
	return (t.Kind == TargetProduct || t.Kind == TargetVariant) && t.ID != ""
}

func (t LineTarget) String() string {
	return string(t.Kind) + ":" + t.ID
}

type SaleState string

const (
	SaleCreated   SaleState = "created"
	SalePending   SaleState = "pending"
	SaleDelivered SaleState = "delivered"
)

func (s SaleState) Valid() bool {
	switch s {
	case SaleCreated, SalePending, SaleDelivered:
		return true
	}
	return false
}

type Sale struct {
	ID              string          `json:"id"`
	EnterpriseID    string          `json:"enterprise_id"`
	Number          string          `json:"number"`
	ClientID        string          `json:"client_id,omitempty"`
	CustomerName    string          `json:"customer_name"`
	SalesPointID    string          `json:"sales_point_id"`
	State           SaleState       `json:"state"`
	DeliveryDate    *time.Time      `json:"delivery_date,omitempty"`
	Paid            decimal.Decimal `json:"paid"`
	DelivererID     string          `json:"deliverer_id,omitempty"`
	Total           decimal.Decimal `json:"total"`
	TotalBillAmount decimal.Decimal `json:"total_bill_amount"`
	CreatedBy       string          `json:"created_by"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Lines           []SaleLine      `json:"lines"`
}

// Editable reports whether the sale may still be updated or deleted.
func (s Sale) Editable() bool {
	return s.State != SaleDelivered
}

// RecomputeTotals sets Total to the product amount of all lines and
// TotalBillAmount to Total plus the fees for returned containers.
func (s *Sale) RecomputeTotals() {
	total := decimal.Zero
	fees := decimal.Zero
	for _, line := range s.Lines {
		total = total.Add(line.Amount())
		if line.Packaging != nil {
			fees = fees.Add(line.Packaging.Fee())
		}
	}
	s.Total = total
	s.TotalBillAmount = total.Add(fees)
}

func SaleNumber(seq int) string {
	return fmt.Sprintf("BILL-%04d", seq)
}

type SaleLine struct {
	ID          string          `json:"id"`
	SaleID      string          `json:"sale_id"`
	Position    int             `json:"position"`
	Target      LineTarget      `json:"target"`
	ProductID   string          `json:"product_id"`
	SellPriceID string          `json:"sell_price_id"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
	Packaging   *PackagingLine  `json:"packaging,omitempty"`
}

func (l SaleLine) Amount() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// PackagingLine records the containers a sale line consumed. Quantity full
// containers left the depot and Record empty ones came straight back.
type PackagingLine struct {
	PackagingID string          `json:"packaging_id"`
	Quantity    int             `json:"quantity"`
	Record      int             `json:"record"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// Owed is the number of containers the customer still has to bring back.
func (p PackagingLine) Owed() int {
	return p.Quantity - p.Record
}

// MarshalJSON adds the derived owed count so clients can show the deposit
// receivable without recomputing it.
func (p PackagingLine) MarshalJSON() ([]byte, error) {
	type plain PackagingLine
	return json.Marshal(struct {
		plain
		Owed int `json:"owed"`
	}{plain: plain(p), Owed: p.Owed()})
}

func (p PackagingLine) Fee() decimal.Decimal {
	return p.UnitPrice.Mul(decimal.NewFromInt(int64(p.Record)))
}

type HistoryAction string

const (
	HistoryCreate HistoryAction = "create"
	HistoryUpdate HistoryAction = "update"
	HistoryDelete HistoryAction = "delete"
	HistoryRefill HistoryAction = "refill"
)

type PackagingHistoryEntry struct {
	ID              string        `json:"id"`
	EnterpriseID    string        `json:"enterprise_id"`
	PackagingID     string        `json:"packaging_id"`
	ProductID       string        `json:"product_id,omitempty"`
	VariantID       string        `json:"variant_id,omitempty"`
	Action          HistoryAction `json:"action"`
	QuantityChanged int           `json:"quantity_changed"`
	FullBefore      int           `json:"full_before"`
	FullAfter       int           `json:"full_after"`
	EmptyBefore     int           `json:"empty_before"`
	EmptyAfter      int           `json:"empty_after"`
	PerformedBy     string        `json:"performed_by"`
	SalesPointID    string        `json:"sales_point_id,omitempty"`
	SaleID          string        `json:"sale_id,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

type DebtStatus string

const (
	DebtPending DebtStatus = "pending"
	DebtPaid    DebtStatus = "paid"
)

type EmployeeDebt struct {
	ID           string          `json:"id"`
	EnterpriseID string          `json:"enterprise_id"`
	SalesPointID string          `json:"sales_point_id"`
	EmployeeID   string          `json:"employee_id"`
	Amount       decimal.Decimal `json:"amount"`
	Status       DebtStatus      `json:"status"`
	Reason       string          `json:"reason,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
