package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"

	"depotbill/backend/internal/domain"
	"depotbill/backend/internal/store"
)

// Store keeps everything in maps. WithinTx works on a private copy of the
// state and swaps it in only when the callback succeeds, so a failed
// operation leaves the committed state untouched.
type Store struct {
	mu    sync.RWMutex
	state *state
	users map[string]domain.UserAccount
}

type state struct {
	salesPoints map[string]domain.SalesPoint
	products    map[string]domain.Product
	variants    map[string]domain.Variant
	packagings  map[string]domain.Packaging
	sellPrices  map[string]domain.SellPrice
	clients     map[string]domain.Client
	employees   map[string]domain.Employee
	sales       map[string]domain.Sale
	saleSeq     map[string]int
	history     []domain.PackagingHistoryEntry
	debts       map[string]domain.EmployeeDebt
}

func newState() *state {
	return &state{
		salesPoints: make(map[string]domain.SalesPoint),
		products:    make(map[string]domain.Product),
		variants:    make(map[string]domain.Variant),
		packagings:  make(map[string]domain.Packaging),
		sellPrices:  make(map[string]domain.SellPrice),
		clients:     make(map[string]domain.Client),
		employees:   make(map[string]domain.Employee),
		sales:       make(map[string]domain.Sale),
		saleSeq:     make(map[string]int),
		history:     make([]domain.PackagingHistoryEntry, 0, 64),
		debts:       make(map[string]domain.EmployeeDebt),
	}
}

func (s *state) clone() *state {
	sales := make(map[string]domain.Sale, len(s.sales))
	for id, sale := range s.sales {
		sales[id] = cloneSale(sale)
	}
	return &state{
		salesPoints: maps.Clone(s.salesPoints),
		products:    maps.Clone(s.products),
		variants:    maps.Clone(s.variants),
		packagings:  maps.Clone(s.packagings),
		sellPrices:  maps.Clone(s.sellPrices),
		clients:     maps.Clone(s.clients),
		employees:   maps.Clone(s.employees),
		sales:       sales,
		saleSeq:     maps.Clone(s.saleSeq),
		history:     slices.Clone(s.history),
		debts:       maps.Clone(s.debts),
	}
}

func New() *Store {
	return &Store{
		state: newState(),
		users: make(map[string]domain.UserAccount),
	}
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	if err := fn(&tx{st: working}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = working
	return nil
}

func (s *Store) reader() *tx {
	return &tx{st: s.state}
}

func (s *Store) GetSalesPoint(ctx context.Context, id string) (*domain.SalesPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().GetSalesPoint(ctx, id)
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().LockSale(ctx, id)
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, len(s.state.sales))
	for _, sale := range s.state.sales {
		if filter.EnterpriseID != "" && sale.EnterpriseID != filter.EnterpriseID {
			continue
		}
		if filter.SalesPointID != "" && sale.SalesPointID != filter.SalesPointID {
			continue
		}
		if filter.State != "" && sale.State != filter.State {
			continue
		}
		result = append(result, cloneSale(sale))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].Number > result[j].Number
	})
	return limit(result, filter.Limit), nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().LockProduct(ctx, id)
}

func (s *Store) ListProducts(_ context.Context, salesPointID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Product, 0, len(s.state.products))
	for _, product := range s.state.products {
		if salesPointID != "" && product.SalesPointID != salesPointID {
			continue
		}
		result = append(result, s.state.withVariants(product))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result, nil
}

func (s *Store) GetPackaging(ctx context.Context, id string) (*domain.Packaging, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().LockPackaging(ctx, id)
}

func (s *Store) ListPackagings(_ context.Context, salesPointID string) ([]domain.Packaging, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Packaging, 0, len(s.state.packagings))
	for _, packaging := range s.state.packagings {
		if salesPointID != "" && packaging.SalesPointID != salesPointID {
			continue
		}
		result = append(result, packaging)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result, nil
}

func (s *Store) GetEmployee(ctx context.Context, id string) (*domain.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().LockEmployee(ctx, id)
}

func (s *Store) GetClient(ctx context.Context, id string) (*domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reader().LockClient(ctx, id)
}

func (s *Store) ListPackagingHistory(_ context.Context, filter domain.PackagingHistoryFilter) ([]domain.PackagingHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.PackagingHistoryEntry, 0, 32)
	for i := len(s.state.history) - 1; i >= 0; i-- {
		entry := s.state.history[i]
		if filter.EnterpriseID != "" && entry.EnterpriseID != filter.EnterpriseID {
			continue
		}
		if filter.SalesPointID != "" && entry.SalesPointID != filter.SalesPointID {
			continue
		}
		if filter.PackagingID != "" && entry.PackagingID != filter.PackagingID {
			continue
		}
		if filter.From != nil && entry.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && entry.CreatedAt.After(*filter.To) {
			continue
		}
		result = append(result, entry)
	}
	return limit(result, filter.Limit), nil
}

func (s *Store) ListDebts(_ context.Context, filter domain.DebtFilter) ([]domain.EmployeeDebt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.EmployeeDebt, 0, len(s.state.debts))
	for _, debt := range s.state.debts {
		if filter.EnterpriseID != "" && debt.EnterpriseID != filter.EnterpriseID {
			continue
		}
		if filter.SalesPointID != "" && debt.SalesPointID != filter.SalesPointID {
			continue
		}
		if filter.Status != "" && debt.Status != filter.Status {
			continue
		}
		result = append(result, debt)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return limit(result, filter.Limit), nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return store.Invalid("username", "required")
	}
	if _, exists := s.users[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	s.users[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].Username < users[j].Username
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.users[username] = user
	return nil
}

func (s *state) withVariants(product domain.Product) domain.Product {
	product.Variants = nil
	for _, variant := range s.variants {
		if variant.ProductID == product.ID {
			product.Variants = append(product.Variants, variant)
		}
	}
	sort.Slice(product.Variants, func(i, j int) bool {
		return product.Variants[i].ID < product.Variants[j].ID
	})
	return product
}

func cloneSale(sale domain.Sale) domain.Sale {
	lines := make([]domain.SaleLine, len(sale.Lines))
	for i, line := range sale.Lines {
		if line.Packaging != nil {
			pkg := *line.Packaging
			line.Packaging = &pkg
		}
		lines[i] = line
	}
	sale.Lines = lines
	if sale.DeliveryDate != nil {
		at := *sale.DeliveryDate
		sale.DeliveryDate = &at
	}
	return sale
}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}
