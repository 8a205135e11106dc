package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	"depotbill/backend/internal/domain"
	"depotbill/backend/internal/store"
)

const (
	salesPointColumns = `SELECT id, enterprise_id, name, balance`
	productColumns    = `SELECT id, enterprise_id, sales_point_id, name, price, quantity, is_beer, with_variant, COALESCE(packaging_id, ''), created_at`
	packagingColumns  = `SELECT id, enterprise_id, sales_point_id, name, supplier, price, full_quantity, empty_quantity`
	clientColumns     = `SELECT id, enterprise_id, sales_point_id, name, balance`
	employeeColumns   = `SELECT id, enterprise_id, sales_point_id, name, salary, monthly_salary, is_deliverer`
	debtColumns       = `SELECT id, enterprise_id, sales_point_id, employee_id, amount, status, reason, created_at, updated_at`
	saleColumns       = `SELECT id, enterprise_id, number, COALESCE(client_id, ''), customer_name, sales_point_id, state,
		delivery_date, paid, COALESCE(deliverer_id, ''), total, total_bill_amount, created_by, created_at, updated_at`
)

type scanner interface {
	Scan(dest ...any) error
}

func forUpdate(lock bool) string {
	if lock {
		return ` FOR UPDATE`
	}
	return ""
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func getSalesPoint(ctx context.Context, q queryer, id string, lock bool) (*domain.SalesPoint, error) {
	var sp domain.SalesPoint
	err := q.QueryRowContext(ctx, salesPointColumns+` FROM sales_points WHERE id = $1`+forUpdate(lock), id).
		Scan(&sp.ID, &sp.EnterpriseID, &sp.Name, &sp.Balance)
	if err != nil {
		return nil, notFound(err)
	}
	return &sp, nil
}

func scanProduct(row scanner) (*domain.Product, error) {
	var p domain.Product
	if err := row.Scan(&p.ID, &p.EnterpriseID, &p.SalesPointID, &p.Name, &p.Price, &p.Quantity, &p.IsBeer, &p.WithVariant, &p.PackagingID, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

// getProduct loads the product and its variants. Only the product row is
// locked; variant rows are locked one by one through LockVariant.
func getProduct(ctx context.Context, q queryer, id string, lock bool) (*domain.Product, error) {
	product, err := scanProduct(q.QueryRowContext(ctx, productColumns+` FROM products WHERE id = $1`+forUpdate(lock), id))
	if err != nil {
		return nil, notFound(err)
	}
	variants, err := loadVariants(ctx, q, id)
	if err != nil {
		return nil, err
	}
	product.Variants = variants
	return product, nil
}

func loadVariants(ctx context.Context, q queryer, productID string) ([]domain.Variant, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, product_id, name, quantity
		FROM variants
		WHERE product_id = $1
		ORDER BY id ASC
	`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var variants []domain.Variant
	for rows.Next() {
		var v domain.Variant
		if err := rows.Scan(&v.ID, &v.ProductID, &v.Name, &v.Quantity); err != nil {
			return nil, err
		}
		variants = append(variants, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return variants, nil
}

func getVariant(ctx context.Context, q queryer, id string, lock bool) (*domain.Variant, error) {
	var v domain.Variant
	err := q.QueryRowContext(ctx, `SELECT id, product_id, name, quantity FROM variants WHERE id = $1`+forUpdate(lock), id).
		Scan(&v.ID, &v.ProductID, &v.Name, &v.Quantity)
	if err != nil {
		return nil, notFound(err)
	}
	return &v, nil
}

func scanPackaging(row scanner) (*domain.Packaging, error) {
	var p domain.Packaging
	if err := row.Scan(&p.ID, &p.EnterpriseID, &p.SalesPointID, &p.Name, &p.Supplier, &p.Price, &p.FullQuantity, &p.EmptyQuantity); err != nil {
		return nil, err
	}
	return &p, nil
}

func getPackaging(ctx context.Context, q queryer, id string, lock bool) (*domain.Packaging, error) {
	packaging, err := scanPackaging(q.QueryRowContext(ctx, packagingColumns+` FROM packagings WHERE id = $1`+forUpdate(lock), id))
	if err != nil {
		return nil, notFound(err)
	}
	return packaging, nil
}

func getClient(ctx context.Context, q queryer, id string, lock bool) (*domain.Client, error) {
	var c domain.Client
	err := q.QueryRowContext(ctx, clientColumns+` FROM clients WHERE id = $1`+forUpdate(lock), id).
		Scan(&c.ID, &c.EnterpriseID, &c.SalesPointID, &c.Name, &c.Balance)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func getEmployee(ctx context.Context, q queryer, id string, lock bool) (*domain.Employee, error) {
	var e domain.Employee
	err := q.QueryRowContext(ctx, employeeColumns+` FROM employees WHERE id = $1`+forUpdate(lock), id).
		Scan(&e.ID, &e.EnterpriseID, &e.SalesPointID, &e.Name, &e.Salary, &e.MonthlySalary, &e.IsDeliverer)
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func scanDebt(row scanner) (*domain.EmployeeDebt, error) {
	var d domain.EmployeeDebt
	if err := row.Scan(&d.ID, &d.EnterpriseID, &d.SalesPointID, &d.EmployeeID, &d.Amount, &d.Status, &d.Reason, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	return &d, nil
}

func getDebt(ctx context.Context, q queryer, id string, lock bool) (*domain.EmployeeDebt, error) {
	debt, err := scanDebt(q.QueryRowContext(ctx, debtColumns+` FROM employee_debts WHERE id = $1`+forUpdate(lock), id))
	if err != nil {
		return nil, notFound(err)
	}
	return debt, nil
}

func scanSale(row scanner) (*domain.Sale, error) {
	var (
		sale         domain.Sale
		deliveryDate sql.NullTime
	)
	if err := row.Scan(
		&sale.ID, &sale.EnterpriseID, &sale.Number, &sale.ClientID, &sale.CustomerName, &sale.SalesPointID, &sale.State,
		&deliveryDate, &sale.Paid, &sale.DelivererID, &sale.Total, &sale.TotalBillAmount, &sale.CreatedBy, &sale.CreatedAt, &sale.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if deliveryDate.Valid {
		at := deliveryDate.Time.UTC()
		sale.DeliveryDate = &at
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	sale.UpdatedAt = sale.UpdatedAt.UTC()
	return &sale, nil
}

// getSale loads the header and its lines. Locking the header row is enough
// to serialize line changes, since every line write goes through a locked sale.
func getSale(ctx context.Context, q queryer, id string, lock bool) (*domain.Sale, error) {
	sale, err := scanSale(q.QueryRowContext(ctx, saleColumns+` FROM sales WHERE id = $1`+forUpdate(lock), id))
	if err != nil {
		return nil, notFound(err)
	}
	lines, err := loadLines(ctx, q, []string{id})
	if err != nil {
		return nil, err
	}
	sale.Lines = lines[id]
	return sale, nil
}

func loadLines(ctx context.Context, q queryer, saleIDs []string) (map[string][]domain.SaleLine, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT l.id, l.sale_id, l.position, l.target_kind, l.product_id, COALESCE(l.variant_id, ''),
		       l.sell_price_id, l.unit_price, l.quantity,
		       p.packaging_id, p.quantity, p.record, p.unit_price
		FROM sale_lines l
		LEFT JOIN sale_line_packagings p ON p.sale_line_id = l.id
		WHERE l.sale_id = ANY($1)
		ORDER BY l.sale_id, l.position ASC
	`, saleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string][]domain.SaleLine, len(saleIDs))
	for rows.Next() {
		var (
			line        domain.SaleLine
			kind        string
			variantID   string
			packagingID sql.NullString
			pkgQty      sql.NullInt64
			pkgRecord   sql.NullInt64
			pkgPrice    decimal.NullDecimal
		)
		if err := rows.Scan(
			&line.ID, &line.SaleID, &line.Position, &kind, &line.ProductID, &variantID,
			&line.SellPriceID, &line.UnitPrice, &line.Quantity,
			&packagingID, &pkgQty, &pkgRecord, &pkgPrice,
		); err != nil {
			return nil, err
		}
		if domain.TargetKind(kind) == domain.TargetVariant {
			line.Target = domain.VariantTarget(variantID)
		} else {
			line.Target = domain.ProductTarget(line.ProductID)
		}
		if packagingID.Valid {
			line.Packaging = &domain.PackagingLine{
				PackagingID: packagingID.String,
				Quantity:    int(pkgQty.Int64),
				Record:      int(pkgRecord.Int64),
				UnitPrice:   pkgPrice.Decimal,
			}
		}
		result[line.SaleID] = append(result[line.SaleID], line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
