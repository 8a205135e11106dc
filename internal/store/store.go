package store

import (
	"context"

	"github.com/shopspring/decimal"

	"depotbill/backend/internal/domain"
)

// Repository is the read side plus the transaction boundary. Every mutation
// goes through WithinTx so that a failing callback leaves no trace.
type Repository interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	GetSalesPoint(ctx context.Context, id string) (*domain.SalesPoint, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context, salesPointID string) ([]domain.Product, error)
	GetPackaging(ctx context.Context, id string) (*domain.Packaging, error)
	ListPackagings(ctx context.Context, salesPointID string) ([]domain.Packaging, error)
	GetEmployee(ctx context.Context, id string) (*domain.Employee, error)
	GetClient(ctx context.Context, id string) (*domain.Client, error)
	ListPackagingHistory(ctx context.Context, filter domain.PackagingHistoryFilter) ([]domain.PackagingHistoryEntry, error)
	ListDebts(ctx context.Context, filter domain.DebtFilter) ([]domain.EmployeeDebt, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// Tx is one atomic unit of work. Lock* methods hold the row until the
// transaction ends.
type Tx interface {
	GetSalesPoint(ctx context.Context, id string) (*domain.SalesPoint, error)
	LockSalesPoint(ctx context.Context, id string) (*domain.SalesPoint, error)
	SetSalesPointBalance(ctx context.Context, id string, balance decimal.Decimal) error

	LockProduct(ctx context.Context, id string) (*domain.Product, error)
	LockVariant(ctx context.Context, id string) (*domain.Variant, error)
	SetProductQuantity(ctx context.Context, id string, qty int) error
	SetVariantQuantity(ctx context.Context, id string, qty int) error
	InsertProduct(ctx context.Context, product domain.Product) error

	LockPackaging(ctx context.Context, id string) (*domain.Packaging, error)
	SetPackagingQuantities(ctx context.Context, id string, full int, empty int) error
	InsertPackaging(ctx context.Context, packaging domain.Packaging) error

	GetSellPrice(ctx context.Context, id string) (*domain.SellPrice, error)
	InsertSellPrice(ctx context.Context, price domain.SellPrice) error

	LockClient(ctx context.Context, id string) (*domain.Client, error)
	SetClientBalance(ctx context.Context, id string, balance decimal.Decimal) error
	InsertClient(ctx context.Context, client domain.Client) error

	LockEmployee(ctx context.Context, id string) (*domain.Employee, error)
	SetEmployeeMonthlySalary(ctx context.Context, id string, monthly decimal.Decimal) error
	InsertEmployee(ctx context.Context, employee domain.Employee) error

	// NextSaleNumber atomically advances and returns the enterprise's bill counter.
	NextSaleNumber(ctx context.Context, enterpriseID string) (int, error)
	InsertSale(ctx context.Context, sale domain.Sale) error
	LockSale(ctx context.Context, id string) (*domain.Sale, error)
	UpdateSale(ctx context.Context, sale domain.Sale) error
	DeleteSale(ctx context.Context, id string) error
	InsertSaleLine(ctx context.Context, line domain.SaleLine) error
	UpdateSaleLine(ctx context.Context, line domain.SaleLine) error
	DeleteSaleLine(ctx context.Context, id string) error

	AppendPackagingHistory(ctx context.Context, entry domain.PackagingHistoryEntry) error

	InsertDebt(ctx context.Context, debt domain.EmployeeDebt) error
	LockDebt(ctx context.Context, id string) (*domain.EmployeeDebt, error)
	UpdateDebt(ctx context.Context, debt domain.EmployeeDebt) error
	DeleteDebt(ctx context.Context, id string) error
}
