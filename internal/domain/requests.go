package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type UserCreateRequest struct {
	Username     string `json:"username" validate:"required"`
	Password     string `json:"password" validate:"required"`
	Role         string `json:"role" validate:"required"`
	SalesPointID string `json:"sales_point_id,omitempty"`
	EmployeeID   string `json:"employee_id,omitempty"`
}

type SaleLineRequest struct {
	ID            string `json:"id,omitempty"`
	ProductID     string `json:"product_id,omitempty" validate:"required_without=VariantID,excluded_with=VariantID"`
	VariantID     string `json:"variant_id,omitempty" validate:"required_without=ProductID,excluded_with=ProductID"`
	SellPriceID   string `json:"sell_price_id" validate:"required"`
	Quantity      int    `json:"quantity" validate:"gt=0"`
	RecordPackage int    `json:"record_package" validate:"gte=0"`
}

// Target resolves the product/variant pair into a line target. It reports
// false unless exactly one of the two is set.
func (r SaleLineRequest) Target() (LineTarget, bool) {
	productID := strings.TrimSpace(r.ProductID)
	variantID := strings.TrimSpace(r.VariantID)
	switch {
	case productID != "" && variantID == "":
		return ProductTarget(productID), true
	case variantID != "" && productID == "":
		return VariantTarget(variantID), true
	}
	return LineTarget{}, false
}

type SaleCreateRequest struct {
	SalesPointID string            `json:"sales_point_id,omitempty"`
	ClientID     string            `json:"client_id,omitempty"`
	CustomerName string            `json:"customer_name,omitempty" validate:"required_without=ClientID"`
	DeliveryDate *time.Time        `json:"delivery_date,omitempty"`
	Lines        []SaleLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type SaleUpdateRequest struct {
	Lines        []SaleLineRequest `json:"lines" validate:"required,min=1,dive"`
	DeliveryDate *time.Time        `json:"delivery_date,omitempty"`
	State        *SaleState        `json:"state,omitempty" validate:"omitempty,oneof=created pending"`
}

type SaleFilter struct {
	EnterpriseID string
	SalesPointID string
	State        SaleState
	Limit        int
}

type SaleListResponse struct {
	Sales []Sale `json:"sales"`
}

type DelivererAssignRequest struct {
	DelivererID *string `json:"deliverer_id"`
}

type DeliverSaleRequest struct {
	Amount            decimal.Decimal `json:"amount" validate:"gte=0,cents"`
	ReduceFromBalance bool            `json:"reduce_from_balance"`
	UseBalanceAsPaid  bool            `json:"use_balance_as_paid"`
}

type PackagingHistoryFilter struct {
	EnterpriseID string
	SalesPointID string
	PackagingID  string
	From         *time.Time
	To           *time.Time
	Limit        int
}

type PackagingHistoryResponse struct {
	Entries []PackagingHistoryEntry `json:"entries"`
}

type PackagingCreateRequest struct {
	SalesPointID  string          `json:"sales_point_id,omitempty"`
	Name          string          `json:"name" validate:"required"`
	Supplier      string          `json:"supplier,omitempty"`
	Price         decimal.Decimal `json:"price" validate:"gte=0,cents"`
	FullQuantity  int             `json:"full_quantity" validate:"gte=0"`
	EmptyQuantity int             `json:"empty_quantity" validate:"gte=0"`
}

type VariantCreateRequest struct {
	Name     string `json:"name" validate:"required"`
	Quantity int    `json:"quantity" validate:"gte=0"`
}

type ProductCreateRequest struct {
	SalesPointID string                 `json:"sales_point_id,omitempty"`
	Name         string                 `json:"name" validate:"required"`
	Price        decimal.Decimal        `json:"price" validate:"gte=0,cents"`
	Quantity     int                    `json:"quantity" validate:"gte=0"`
	IsBeer       bool                   `json:"is_beer"`
	PackagingID  string                 `json:"packaging_id,omitempty" validate:"required_if=IsBeer true"`
	Variants     []VariantCreateRequest `json:"variants,omitempty" validate:"dive"`
}

type SellPriceCreateRequest struct {
	Price decimal.Decimal `json:"price" validate:"gte=0,cents"`
}

type EmployeeCreateRequest struct {
	SalesPointID string          `json:"sales_point_id,omitempty"`
	Name         string          `json:"name" validate:"required"`
	Salary       decimal.Decimal `json:"salary" validate:"gte=0,cents"`
	IsDeliverer  bool            `json:"is_deliverer"`
}

type ClientCreateRequest struct {
	SalesPointID string          `json:"sales_point_id,omitempty"`
	Name         string          `json:"name" validate:"required"`
	Balance      decimal.Decimal `json:"balance" validate:"gte=0,cents"`
}

type DebtCreateRequest struct {
	EmployeeID string          `json:"employee_id" validate:"required"`
	Amount     decimal.Decimal `json:"amount" validate:"gt=0,cents"`
	Reason     string          `json:"reason,omitempty"`
}

type DebtPaymentRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"gt=0,cents"`
}

type DebtFilter struct {
	EnterpriseID string
	SalesPointID string
	Status       DebtStatus
	Limit        int
}

type DebtListResponse struct {
	Debts []EmployeeDebt `json:"debts"`
}

type DebtSettlementResult struct {
	Debt           EmployeeDebt    `json:"debt"`
	MonthlySalary  decimal.Decimal `json:"monthly_salary"`
	SalaryAbsorbed decimal.Decimal `json:"salary_absorbed"`
}
