package memory

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"depotbill/backend/internal/domain"
	"depotbill/backend/internal/store"
)

// tx implements store.Tx over a working copy of the state. The store's
// write lock is held for the whole callback, which stands in for row locks.
type tx struct {
	st *state
}

func (t *tx) GetSalesPoint(_ context.Context, id string) (*domain.SalesPoint, error) {
	sp, ok := t.st.salesPoints[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sp, nil
}

func (t *tx) LockSalesPoint(ctx context.Context, id string) (*domain.SalesPoint, error) {
	return t.GetSalesPoint(ctx, id)
}

func (t *tx) SetSalesPointBalance(_ context.Context, id string, balance decimal.Decimal) error {
	sp, ok := t.st.salesPoints[id]
	if !ok {
		return store.ErrNotFound
	}
	sp.Balance = balance
	t.st.salesPoints[id] = sp
	return nil
}

func (t *tx) LockProduct(_ context.Context, id string) (*domain.Product, error) {
	product, ok := t.st.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	product = t.st.withVariants(product)
	return &product, nil
}

func (t *tx) LockVariant(_ context.Context, id string) (*domain.Variant, error) {
	variant, ok := t.st.variants[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &variant, nil
}

func (t *tx) SetProductQuantity(_ context.Context, id string, qty int) error {
	product, ok := t.st.products[id]
	if !ok {
		return store.ErrNotFound
	}
	if qty < 0 {
		return store.ErrInsufficientStock
	}
	product.Quantity = qty
	t.st.products[id] = product
	return nil
}

func (t *tx) SetVariantQuantity(_ context.Context, id string, qty int) error {
	variant, ok := t.st.variants[id]
	if !ok {
		return store.ErrNotFound
	}
	if qty < 0 {
		return store.ErrInsufficientStock
	}
	variant.Quantity = qty
	t.st.variants[id] = variant
	return nil
}

func (t *tx) InsertProduct(_ context.Context, product domain.Product) error {
	if _, exists := t.st.products[product.ID]; exists {
		return store.ErrConflict
	}
	for _, variant := range product.Variants {
		variant.ProductID = product.ID
		t.st.variants[variant.ID] = variant
	}
	product.Variants = nil
	t.st.products[product.ID] = product
	return nil
}

func (t *tx) LockPackaging(_ context.Context, id string) (*domain.Packaging, error) {
	packaging, ok := t.st.packagings[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &packaging, nil
}

func (t *tx) SetPackagingQuantities(_ context.Context, id string, full int, empty int) error {
	packaging, ok := t.st.packagings[id]
	if !ok {
		return store.ErrNotFound
	}
	if full < 0 || empty < 0 {
		return store.ErrInsufficientStock
	}
	packaging.FullQuantity = full
	packaging.EmptyQuantity = empty
	t.st.packagings[id] = packaging
	return nil
}

func (t *tx) InsertPackaging(_ context.Context, packaging domain.Packaging) error {
	if _, exists := t.st.packagings[packaging.ID]; exists {
		return store.ErrConflict
	}
	t.st.packagings[packaging.ID] = packaging
	return nil
}

func (t *tx) GetSellPrice(_ context.Context, id string) (*domain.SellPrice, error) {
	price, ok := t.st.sellPrices[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &price, nil
}

func (t *tx) InsertSellPrice(_ context.Context, price domain.SellPrice) error {
	if _, exists := t.st.sellPrices[price.ID]; exists {
		return store.ErrConflict
	}
	if _, ok := t.st.products[price.ProductID]; !ok {
		return store.ErrNotFound
	}
	t.st.sellPrices[price.ID] = price
	return nil
}

func (t *tx) LockClient(_ context.Context, id string) (*domain.Client, error) {
	client, ok := t.st.clients[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &client, nil
}

func (t *tx) SetClientBalance(_ context.Context, id string, balance decimal.Decimal) error {
	client, ok := t.st.clients[id]
	if !ok {
		return store.ErrNotFound
	}
	client.Balance = balance
	t.st.clients[id] = client
	return nil
}

func (t *tx) InsertClient(_ context.Context, client domain.Client) error {
	if _, exists := t.st.clients[client.ID]; exists {
		return store.ErrConflict
	}
	t.st.clients[client.ID] = client
	return nil
}

func (t *tx) LockEmployee(_ context.Context, id string) (*domain.Employee, error) {
	employee, ok := t.st.employees[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &employee, nil
}

func (t *tx) SetEmployeeMonthlySalary(_ context.Context, id string, monthly decimal.Decimal) error {
	employee, ok := t.st.employees[id]
	if !ok {
		return store.ErrNotFound
	}
	employee.MonthlySalary = monthly
	t.st.employees[id] = employee
	return nil
}

func (t *tx) InsertEmployee(_ context.Context, employee domain.Employee) error {
	if _, exists := t.st.employees[employee.ID]; exists {
		return store.ErrConflict
	}
	t.st.employees[employee.ID] = employee
	return nil
}

func (t *tx) NextSaleNumber(_ context.Context, enterpriseID string) (int, error) {
	t.st.saleSeq[enterpriseID]++
	return t.st.saleSeq[enterpriseID], nil
}

func (t *tx) InsertSale(_ context.Context, sale domain.Sale) error {
	if _, exists := t.st.sales[sale.ID]; exists {
		return store.ErrConflict
	}
	for _, existing := range t.st.sales {
		if existing.EnterpriseID == sale.EnterpriseID && existing.Number == sale.Number {
			return store.ErrConflict
		}
	}
	t.st.sales[sale.ID] = cloneSale(sale)
	return nil
}

func (t *tx) LockSale(_ context.Context, id string) (*domain.Sale, error) {
	sale, ok := t.st.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	sale = cloneSale(sale)
	return &sale, nil
}

// UpdateSale writes the header fields; lines are kept as stored.
func (t *tx) UpdateSale(_ context.Context, sale domain.Sale) error {
	existing, ok := t.st.sales[sale.ID]
	if !ok {
		return store.ErrNotFound
	}
	header := cloneSale(sale)
	header.Lines = existing.Lines
	t.st.sales[sale.ID] = header
	return nil
}

func (t *tx) DeleteSale(_ context.Context, id string) error {
	if _, ok := t.st.sales[id]; !ok {
		return store.ErrNotFound
	}
	delete(t.st.sales, id)
	return nil
}

func (t *tx) InsertSaleLine(_ context.Context, line domain.SaleLine) error {
	sale, ok := t.st.sales[line.SaleID]
	if !ok {
		return store.ErrNotFound
	}
	for _, existing := range sale.Lines {
		if existing.ID == line.ID {
			return store.ErrConflict
		}
	}
	sale.Lines = append(sale.Lines, line)
	sortLines(sale.Lines)
	t.st.sales[sale.ID] = cloneSale(sale)
	return nil
}

func (t *tx) UpdateSaleLine(_ context.Context, line domain.SaleLine) error {
	sale, ok := t.st.sales[line.SaleID]
	if !ok {
		return store.ErrNotFound
	}
	for i, existing := range sale.Lines {
		if existing.ID == line.ID {
			sale.Lines[i] = line
			sortLines(sale.Lines)
			t.st.sales[sale.ID] = cloneSale(sale)
			return nil
		}
	}
	return store.ErrNotFound
}

func (t *tx) DeleteSaleLine(_ context.Context, id string) error {
	for saleID, sale := range t.st.sales {
		for i, existing := range sale.Lines {
			if existing.ID == id {
				sale.Lines = append(sale.Lines[:i:i], sale.Lines[i+1:]...)
				t.st.sales[saleID] = sale
				return nil
			}
		}
	}
	return store.ErrNotFound
}

func (t *tx) AppendPackagingHistory(_ context.Context, entry domain.PackagingHistoryEntry) error {
	t.st.history = append(t.st.history, entry)
	return nil
}

func (t *tx) InsertDebt(_ context.Context, debt domain.EmployeeDebt) error {
	if _, exists := t.st.debts[debt.ID]; exists {
		return store.ErrConflict
	}
	if _, ok := t.st.employees[debt.EmployeeID]; !ok {
		return store.ErrNotFound
	}
	t.st.debts[debt.ID] = debt
	return nil
}

func (t *tx) LockDebt(_ context.Context, id string) (*domain.EmployeeDebt, error) {
	debt, ok := t.st.debts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &debt, nil
}

func (t *tx) UpdateDebt(_ context.Context, debt domain.EmployeeDebt) error {
	if _, ok := t.st.debts[debt.ID]; !ok {
		return store.ErrNotFound
	}
	t.st.debts[debt.ID] = debt
	return nil
}

func (t *tx) DeleteDebt(_ context.Context, id string) error {
	if _, ok := t.st.debts[id]; !ok {
		return store.ErrNotFound
	}
	delete(t.st.debts, id)
	return nil
}

func sortLines(lines []domain.SaleLine) {
	sort.SliceStable(lines, func(i, j int) bool {
		return lines[i].Position < lines[j].Position
	})
}
