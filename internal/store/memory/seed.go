package memory

import (
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"depotbill/backend/internal/domain"
)

// seedUsers builds the dev/demo accounts. Passwords come from
// SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and SEED_EMPLOYEE_PASSWORD and
// fall back to fixed dev values with a warning.
func seedUsers() map[string]domain.UserAccount {
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_MANAGER_PASSWORD") == "" || os.Getenv("SEED_EMPLOYEE_PASSWORD") == "" {
		log.Warn().Msg("memory store: using default dev credentials; set SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and SEED_EMPLOYEE_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username   string
		password   string
		role       string
		salesPoint string
		employee   string
	}{
		{"admin", envOr("SEED_ADMIN_PASSWORD", "admin123"), domain.RoleAdmin, "sp-main", ""},
		{"manager", envOr("SEED_MANAGER_PASSWORD", "manager123"), domain.RoleManager, "sp-main", ""},
		{"employee", envOr("SEED_EMPLOYEE_PASSWORD", "employee123"), domain.RoleEmployee, "sp-main", "emp-clerk"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal().Err(err).Str("username", u.username).Msg("memory store: failed to hash seed password")
		}
		users[u.username] = domain.UserAccount{
			Username:     u.username,
			Password:     string(hash),
			Role:         u.role,
			EnterpriseID: "ent-1",
			SalesPointID: u.salesPoint,
			EmployeeID:   u.employee,
			Active:       true,
			CreatedAt:    now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with one demo enterprise (two sales points), a
// second enterprise for isolation checks, and a small beverage catalog.
func NewSeeded() *Store {
	s := New()
	s.users = seedUsers()
	st := s.state
	now := time.Now().UTC()

	for _, sp := range []domain.SalesPoint{
		{ID: "sp-main", EnterpriseID: "ent-1", Name: "Main depot"},
		{ID: "sp-north", EnterpriseID: "ent-1", Name: "North kiosk"},
		{ID: "sp-other", EnterpriseID: "ent-2", Name: "Other enterprise"},
	} {
		st.salesPoints[sp.ID] = sp
	}

	st.packagings["pkg-crate"] = domain.Packaging{
		ID: "pkg-crate", EnterpriseID: "ent-1", SalesPointID: "sp-main",
		Name: "Crate 24", Supplier: "Brewery", Price: money(500), FullQuantity: 20,
	}

	for _, p := range []domain.Product{
		{ID: "prd-lager", EnterpriseID: "ent-1", SalesPointID: "sp-main", Name: "Lager 65cl", Price: money(1200), Quantity: 100, IsBeer: true, PackagingID: "pkg-crate"},
		{ID: "prd-soda", EnterpriseID: "ent-1", SalesPointID: "sp-main", Name: "Soda 33cl", Price: money(300), Quantity: 10},
		{ID: "prd-juice", EnterpriseID: "ent-1", SalesPointID: "sp-main", Name: "Juice 1L", Price: money(450), WithVariant: true},
		{ID: "prd-north-soda", EnterpriseID: "ent-1", SalesPointID: "sp-north", Name: "Soda 33cl", Price: money(300), Quantity: 5},
		{ID: "prd-other-soda", EnterpriseID: "ent-2", SalesPointID: "sp-other", Name: "Soda 33cl", Price: money(300), Quantity: 5},
	} {
		p.CreatedAt = now
		st.products[p.ID] = p
	}

	st.variants["var-orange"] = domain.Variant{ID: "var-orange", ProductID: "prd-juice", Name: "Orange", Quantity: 30}
	st.variants["var-mango"] = domain.Variant{ID: "var-mango", ProductID: "prd-juice", Name: "Mango", Quantity: 30}

	for _, sp := range []domain.SellPrice{
		{ID: "sp-lager", ProductID: "prd-lager", Price: money(1200)},
		{ID: "sp-soda", ProductID: "prd-soda", Price: money(300)},
		{ID: "sp-juice", ProductID: "prd-juice", Price: money(450)},
		{ID: "sp-north-soda", ProductID: "prd-north-soda", Price: money(300)},
		{ID: "sp-other-soda", ProductID: "prd-other-soda", Price: money(300)},
	} {
		sp.CreatedAt = now
		st.sellPrices[sp.ID] = sp
	}

	st.clients["cli-bar"] = domain.Client{ID: "cli-bar", EnterpriseID: "ent-1", SalesPointID: "sp-main", Name: "Corner Bar", Balance: money(5000)}

	st.employees["emp-driver"] = domain.Employee{
		ID: "emp-driver", EnterpriseID: "ent-1", SalesPointID: "sp-main", Name: "Driver",
		Salary: money(300), MonthlySalary: money(300), IsDeliverer: true,
	}
	st.employees["emp-clerk"] = domain.Employee{
		ID: "emp-clerk", EnterpriseID: "ent-1", SalesPointID: "sp-main", Name: "Clerk",
		Salary: money(60), MonthlySalary: money(60),
	}

	return s
}

func money(units int64) decimal.Decimal {
	return decimal.NewFromInt(units)
}
