package postgres

import (
	"context"

	"github.com/shopspring/decimal"

	"depotbill/backend/internal/domain"
	"depotbill/backend/internal/store"
)

var (
	_ store.Repository = (*Store)(nil)
	_ store.Tx         = (*pgTx)(nil)
)

// pgTx implements store.Tx on a serializable transaction. Lock* reads use
// SELECT ... FOR UPDATE.
type pgTx struct {
	q queryer
}

func (t *pgTx) GetSalesPoint(ctx context.Context, id string) (*domain.SalesPoint, error) {
	return getSalesPoint(ctx, t.q, id, false)
}

func (t *pgTx) LockSalesPoint(ctx context.Context, id string) (*domain.SalesPoint, error) {
	return getSalesPoint(ctx, t.q, id, true)
}

func (t *pgTx) SetSalesPointBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	res, err := t.q.ExecContext(ctx, `UPDATE sales_points SET balance = $2 WHERE id = $1`, id, balance)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (t *pgTx) LockProduct(ctx context.Context, id string) (*domain.Product, error) {
	return getProduct(ctx, t.q, id, true)
}

func (t *pgTx) LockVariant(ctx context.Context, id string) (*domain.Variant, error) {
	return getVariant(ctx, t.q, id, true)
}

func (t *pgTx) SetProductQuantity(ctx context.Context, id string, qty int) error {
	if qty < 0 {
		return store.ErrInsufficientStock
	}
	res, err := t.q.ExecContext(ctx, `UPDATE products SET quantity = $2, updated_at = now() WHERE id = $1`, id, qty)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (t *pgTx) SetVariantQuantity(ctx context.Context, id string, qty int) error {
	if qty < 0 {
		return store.ErrInsufficientStock
	}
	res, err := t.q.ExecContext(ctx, `UPDATE variants SET quantity = $2 WHERE id = $1`, id, qty)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (t *pgTx) InsertProduct(ctx context.Context, product domain.Product) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO products (id, enterprise_id, sales_point_id, name, price, quantity, is_beer, with_variant, packaging_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())
	`, product.ID, product.EnterpriseID, product.SalesPointID, product.Name, product.Price, product.Quantity,
		product.IsBeer, product.WithVariant, nullIfEmpty(product.PackagingID), product.CreatedAt)
	if err != nil {
		return err
	}
	for _, variant := range product.Variants {
		if _, err := t.q.ExecContext(ctx, `
			INSERT INTO variants (id, product_id, name, quantity)
			VALUES ($1,$2,$3,$4)
		`, variant.ID, product.ID, variant.Name, variant.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) LockPackaging(ctx context.Context, id string) (*domain.Packaging, error) {
	return getPackaging(ctx, t.q, id, true)
}

func (t *pgTx) SetPackagingQuantities(ctx context.Context, id string, full int, empty int) error {
	if full < 0 || empty < 0 {
		return store.ErrInsufficientStock
	}
	res, err := t.q.ExecContext(ctx, `
		UPDATE packagings
		SET full_quantity = $2, empty_quantity = $3, updated_at = now()
		WHERE id = $1
	`, id, full, empty)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (t *pgTx) InsertPackaging(ctx context.Context, packaging domain.Packaging) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO packagings (id, enterprise_id, sales_point_id, name, supplier, price, full_quantity, empty_quantity, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
	`, packaging.ID, packaging.EnterpriseID, packaging.SalesPointID, packaging.Name, packaging.Supplier,
		packaging.Price, packaging.FullQuantity, packaging.EmptyQuantity)
	return err
}

func (t *pgTx) GetSellPrice(ctx context.Context, id string) (*domain.SellPrice, error) {
	var price domain.SellPrice
	err := t.q.QueryRowContext(ctx, `SELECT id, product_id, price, created_at FROM sell_prices WHERE id = $1`, id).
		Scan(&price.ID, &price.ProductID, &price.Price, &price.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	price.CreatedAt = price.CreatedAt.UTC()
	return &price, nil
}

func (t *pgTx) InsertSellPrice(ctx context.Context, price domain.SellPrice) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO sell_prices (id, product_id, price, created_at)
		VALUES ($1,$2,$3,$4)
	`, price.ID, price.ProductID, price.Price, price.CreatedAt)
	return err
}

func (t *pgTx) LockClient(ctx context.Context, id string) (*domain.Client, error) {
	return getClient(ctx, t.q, id, true)
}

func (t *pgTx) SetClientBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	res, err := t.q.ExecContext(ctx, `UPDATE clients SET balance = $2 WHERE id = $1`, id, balance)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (t *pgTx) InsertClient(ctx context.Context, client domain.Client) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO clients (id, enterprise_id, sales_point_id, name, balance)
		VALUES ($1,$2,$3,$4,$5)
	`, client.ID, client.EnterpriseID, client.SalesPointID, client.Name, client.Balance)
	return err
}

func (t *pgTx) LockEmployee(ctx context.Context, id string) (*domain.Employee, error) {
	return getEmployee(ctx, t.q, id, true)
}

func (t *pgTx) SetEmployeeMonthlySalary(ctx context.Context, id string, monthly decimal.Decimal) error {
	res, err := t.q.ExecContext(ctx, `UPDATE employees SET monthly_salary = $2 WHERE id = $1`, id, monthly)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (t *pgTx) InsertEmployee(ctx context.Context, employee domain.Employee) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO employees (id, enterprise_id, sales_point_id, name, salary, monthly_salary, is_deliverer)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, employee.ID, employee.EnterpriseID, employee.SalesPointID, employee.Name, employee.Salary,
		employee.MonthlySalary, employee.IsDeliverer)
	return err
}

func (t *pgTx) NextSaleNumber(ctx context.Context, enterpriseID string) (int, error) {
	var next int
	err := t.q.QueryRowContext(ctx, `
		INSERT INTO sale_sequences (enterprise_id, last_number)
		VALUES ($1, 1)
		ON CONFLICT (enterprise_id)
		DO UPDATE SET last_number = sale_sequences.last_number + 1
		RETURNING last_number
	`, enterpriseID).Scan(&next)
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (t *pgTx) InsertSale(ctx context.Context, sale domain.Sale) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO sales (
			id, enterprise_id, number, client_id, customer_name, sales_point_id, state,
			delivery_date, paid, deliverer_id, total, total_bill_amount, created_by, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, sale.ID, sale.EnterpriseID, sale.Number, nullIfEmpty(sale.ClientID), sale.CustomerName, sale.SalesPointID, string(sale.State),
		nullTime(sale.DeliveryDate), sale.Paid, nullIfEmpty(sale.DelivererID), sale.Total, sale.TotalBillAmount,
		sale.CreatedBy, sale.CreatedAt, sale.UpdatedAt)
	if err != nil {
		return err
	}
	for _, line := range sale.Lines {
		line.SaleID = sale.ID
		if err := t.InsertSaleLine(ctx, line); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) LockSale(ctx context.Context, id string) (*domain.Sale, error) {
	return getSale(ctx, t.q, id, true)
}

func (t *pgTx) UpdateSale(ctx context.Context, sale domain.Sale) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE sales
		SET client_id = $2, customer_name = $3, state = $4, delivery_date = $5, paid = $6,
		    deliverer_id = $7, total = $8, total_bill_amount = $9, updated_at = $10
		WHERE id = $1
	`, sale.ID, nullIfEmpty(sale.ClientID), sale.CustomerName, string(sale.State), nullTime(sale.DeliveryDate), sale.Paid,
		nullIfEmpty(sale.DelivererID), sale.Total, sale.TotalBillAmount, sale.UpdatedAt)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// DeleteSale removes the header; lines and their packaging rows cascade.
func (t *pgTx) DeleteSale(ctx context.Context, id string) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (t *pgTx) InsertSaleLine(ctx context.Context, line domain.SaleLine) error {
	variantID := ""
	if line.Target.IsVariant() {
		variantID = line.Target.ID
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO sale_lines (id, sale_id, position, target_kind, product_id, variant_id, sell_price_id, unit_price, quantity)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, line.ID, line.SaleID, line.Position, string(line.Target.Kind), line.ProductID, nullIfEmpty(variantID),
		line.SellPriceID, line.UnitPrice, line.Quantity)
	if err != nil {
		return err
	}
	return t.insertLinePackaging(ctx, line)
}

func (t *pgTx) UpdateSaleLine(ctx context.Context, line domain.SaleLine) error {
	variantID := ""
	if line.Target.IsVariant() {
		variantID = line.Target.ID
	}
	res, err := t.q.ExecContext(ctx, `
		UPDATE sale_lines
		SET position = $2, target_kind = $3, product_id = $4, variant_id = $5, sell_price_id = $6, unit_price = $7, quantity = $8
		WHERE id = $1
	`, line.ID, line.Position, string(line.Target.Kind), line.ProductID, nullIfEmpty(variantID),
		line.SellPriceID, line.UnitPrice, line.Quantity)
	if err != nil {
		return err
	}
	if err := expectAffected(res); err != nil {
		return err
	}
	if _, err := t.q.ExecContext(ctx, `DELETE FROM sale_line_packagings WHERE sale_line_id = $1`, line.ID); err != nil {
		return err
	}
	return t.insertLinePackaging(ctx, line)
}

func (t *pgTx) insertLinePackaging(ctx context.Context, line domain.SaleLine) error {
	if line.Packaging == nil {
		return nil
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO sale_line_packagings (sale_line_id, packaging_id, quantity, record, unit_price)
		VALUES ($1,$2,$3,$4,$5)
	`, line.ID, line.Packaging.PackagingID, line.Packaging.Quantity, line.Packaging.Record, line.Packaging.UnitPrice)
	return err
}

func (t *pgTx) DeleteSaleLine(ctx context.Context, id string) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM sale_lines WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (t *pgTx) AppendPackagingHistory(ctx context.Context, entry domain.PackagingHistoryEntry) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO packaging_history (
			id, enterprise_id, packaging_id, product_id, variant_id, action, quantity_changed,
			full_before, full_after, empty_before, empty_after, performed_by, sales_point_id, sale_id, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, entry.ID, entry.EnterpriseID, entry.PackagingID, nullIfEmpty(entry.ProductID), nullIfEmpty(entry.VariantID),
		string(entry.Action), entry.QuantityChanged, entry.FullBefore, entry.FullAfter, entry.EmptyBefore, entry.EmptyAfter,
		entry.PerformedBy, nullIfEmpty(entry.SalesPointID), nullIfEmpty(entry.SaleID), entry.CreatedAt)
	return err
}

func (t *pgTx) InsertDebt(ctx context.Context, debt domain.EmployeeDebt) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO employee_debts (id, enterprise_id, sales_point_id, employee_id, amount, status, reason, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, debt.ID, debt.EnterpriseID, debt.SalesPointID, debt.EmployeeID, debt.Amount, string(debt.Status),
		debt.Reason, debt.CreatedAt, debt.UpdatedAt)
	return err
}

func (t *pgTx) LockDebt(ctx context.Context, id string) (*domain.EmployeeDebt, error) {
	return getDebt(ctx, t.q, id, true)
}

func (t *pgTx) UpdateDebt(ctx context.Context, debt domain.EmployeeDebt) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE employee_debts
		SET amount = $2, status = $3, reason = $4, updated_at = $5
		WHERE id = $1
	`, debt.ID, debt.Amount, string(debt.Status), debt.Reason, debt.UpdatedAt)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (t *pgTx) DeleteDebt(ctx context.Context, id string) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM employee_debts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}
