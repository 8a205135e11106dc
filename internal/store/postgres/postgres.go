package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"depotbill/backend/internal/domain"
	"depotbill/backend/internal/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	db *sql.DB
}

// queryer is the subset of *sql.DB and *sql.Tx the row helpers need.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
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

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded goose migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&pgTx{q: sqlTx}); err != nil {
		return mapError(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return mapError(err)
	}
	return nil
}

func (s *Store) GetSalesPoint(ctx context.Context, id string) (*domain.SalesPoint, error) {
	return getSalesPoint(ctx, s.db, id, false)
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return getSale(ctx, s.db, id, false)
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	where, args := conditions(map[string]string{
		"enterprise_id":  filter.EnterpriseID,
		"sales_point_id": filter.SalesPointID,
		"state":          string(filter.State),
	})
	query := saleColumns + ` FROM sales` + where + ` ORDER BY created_at DESC, number DESC` + limitClause(filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	sales := make([]domain.Sale, 0, 32)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if len(sales) == 0 {
		return sales, nil
	}
	ids := make([]string, len(sales))
	for i, sale := range sales {
		ids[i] = sale.ID
	}
	lines, err := loadLines(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Lines = lines[sales[i].ID]
	}
	return sales, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return getProduct(ctx, s.db, id, false)
}

func (s *Store) ListProducts(ctx context.Context, salesPointID string) ([]domain.Product, error) {
	where, args := conditions(map[string]string{"sales_point_id": salesPointID})
	rows, err := s.db.QueryContext(ctx, productColumns+` FROM products`+where+` ORDER BY name ASC`, args...)
	if err != nil {
		return nil, err
	}
	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		products = append(products, *product)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for i := range products {
		variants, err := loadVariants(ctx, s.db, products[i].ID)
		if err != nil {
			return nil, err
		}
		products[i].Variants = variants
	}
	return products, nil
}

func (s *Store) GetPackaging(ctx context.Context, id string) (*domain.Packaging, error) {
	return getPackaging(ctx, s.db, id, false)
}

func (s *Store) ListPackagings(ctx context.Context, salesPointID string) ([]domain.Packaging, error) {
	where, args := conditions(map[string]string{"sales_point_id": salesPointID})
	rows, err := s.db.QueryContext(ctx, packagingColumns+` FROM packagings`+where+` ORDER BY name ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	packagings := make([]domain.Packaging, 0, 16)
	for rows.Next() {
		packaging, err := scanPackaging(rows)
		if err != nil {
			return nil, err
		}
		packagings = append(packagings, *packaging)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return packagings, nil
}

func (s *Store) GetEmployee(ctx context.Context, id string) (*domain.Employee, error) {
	return getEmployee(ctx, s.db, id, false)
}

func (s *Store) GetClient(ctx context.Context, id string) (*domain.Client, error) {
	return getClient(ctx, s.db, id, false)
}

func (s *Store) ListPackagingHistory(ctx context.Context, filter domain.PackagingHistoryFilter) ([]domain.PackagingHistoryEntry, error) {
	where, args := conditions(map[string]string{
		"enterprise_id":  filter.EnterpriseID,
		"sales_point_id": filter.SalesPointID,
		"packaging_id":   filter.PackagingID,
	})
	if filter.From != nil {
		args = append(args, filter.From.UTC())
		where = andWhere(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, filter.To.UTC())
		where = andWhere(where, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, enterprise_id, packaging_id, COALESCE(product_id, ''), COALESCE(variant_id, ''),
		       action, quantity_changed, full_before, full_after, empty_before, empty_after,
		       performed_by, COALESCE(sales_point_id, ''), COALESCE(sale_id, ''), created_at
		FROM packaging_history`+where+` ORDER BY created_at DESC, id DESC`+limitClause(filter.Limit), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.PackagingHistoryEntry, 0, 32)
	for rows.Next() {
		var e domain.PackagingHistoryEntry
		if err := rows.Scan(
			&e.ID, &e.EnterpriseID, &e.PackagingID, &e.ProductID, &e.VariantID,
			&e.Action, &e.QuantityChanged, &e.FullBefore, &e.FullAfter, &e.EmptyBefore, &e.EmptyAfter,
			&e.PerformedBy, &e.SalesPointID, &e.SaleID, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) ListDebts(ctx context.Context, filter domain.DebtFilter) ([]domain.EmployeeDebt, error) {
	where, args := conditions(map[string]string{
		"enterprise_id":  filter.EnterpriseID,
		"sales_point_id": filter.SalesPointID,
		"status":         string(filter.Status),
	})
	rows, err := s.db.QueryContext(ctx, debtColumns+` FROM employee_debts`+where+` ORDER BY created_at DESC`+limitClause(filter.Limit), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	debts := make([]domain.EmployeeDebt, 0, 16)
	for rows.Next() {
		debt, err := scanDebt(rows)
		if err != nil {
			return nil, err
		}
		debts = append(debts, *debt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return debts, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.Invalid("username", "username and password are required")
	}
	if user.Role == "" {
		user.Role = domain.RoleEmployee
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, enterprise_id, sales_point_id, employee_id, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
	`, user.Username, user.Password, user.Role, user.EnterpriseID, user.SalesPointID, nullIfEmpty(user.EmployeeID), user.Active, user.CreatedAt)
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, enterprise_id, sales_point_id, COALESCE(employee_id, ''), active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.EnterpriseID, &user.SalesPointID, &user.EmployeeID, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.Invalid("password", "required")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// mapError folds driver errors into the store sentinels. Serialization
// failures and deadlocks surface as conflicts so callers may retry.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505", "40001", "40P01":
		return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Message)
	case "23503":
		return fmt.Errorf("%w: %s", store.ErrNotFound, pgErr.Message)
	case "23514":
		return fmt.Errorf("%w: %s", store.ErrValidation, pgErr.Message)
	}
	return err
}

func expectAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// conditions builds a WHERE clause from the non-empty equality filters,
// in a stable column order.
func conditions(filters map[string]string) (string, []any) {
	columns := []string{"enterprise_id", "sales_point_id", "packaging_id", "state", "status"}
	parts := make([]string, 0, len(filters))
	args := make([]any, 0, len(filters))
	for _, column := range columns {
		value, ok := filters[column]
		if !ok || value == "" {
			continue
		}
		args = append(args, value)
		parts = append(parts, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if len(parts) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(parts, " AND "), args
}

func andWhere(where string, clause string) string {
	if where == "" {
		return " WHERE " + clause
	}
	return where + " AND " + clause
}

func limitClause(limit int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", limit)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return val.UTC()
}
