package httpapi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"depotbill/backend/internal/domain"
	"depotbill/backend/internal/store"
)

var errInvalidCredentials = errors.New("invalid credentials")

type AuthManager struct {
	mu        sync.RWMutex
	secret    []byte
	tokenTTL  time.Duration
	userStore UserStore
	users     map[string]credential
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type credential struct {
	password     string
	role         string
	enterpriseID string
	salesPointID string
	employeeID   string
	active       bool
	created      time.Time
}

type depotClaims struct {
	jwtlib.RegisteredClaims
	Role         string `json:"role"`
	EnterpriseID string `json:"enterprise_id"`
	SalesPointID string `json:"sales_point_id"`
	EmployeeID   string `json:"employee_id,omitempty"`
}

func NewAuthManager(ctx context.Context, secret string, tokenTTL time.Duration, userStore UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}

	manager := &AuthManager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		userStore: userStore,
		users:     make(map[string]credential),
	}
	manager.bootstrapUsers(ctx)
	return manager
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	// Accounts created outside this process become visible on the next login.
	a.bootstrapUsers(ctx)
	username := strings.ToLower(strings.TrimSpace(req.Username))
	a.mu.RLock()
	cred, ok := a.users[username]
	a.mu.RUnlock()
	if !ok {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !verifyPassword(cred.password, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !cred.active {
		return domain.LoginResponse{}, errors.New("account is inactive")
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(username, cred, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        cred.role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &depotClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (any, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	if claims.EnterpriseID == "" || claims.SalesPointID == "" {
		return domain.Actor{}, errors.New("token carries no tenancy")
	}
	return domain.Actor{
		Username:     sub,
		Role:         claims.Role,
		EnterpriseID: claims.EnterpriseID,
		SalesPointID: claims.SalesPointID,
		EmployeeID:   claims.EmployeeID,
	}, nil
}

func (a *AuthManager) sign(username string, cred credential, expiresAt time.Time) (string, error) {
	claims := depotClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "depotbill",
		},
		Role:         cred.role,
		EnterpriseID: cred.enterpriseID,
		SalesPointID: cred.salesPointID,
		EmployeeID:   cred.employeeID,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// CreateUser adds an account to the caller's enterprise. Only admins may
// place it on a sales point other than their own.
func (a *AuthManager) CreateUser(ctx context.Context, actor domain.Actor, req domain.UserCreateRequest) (domain.UserAccount, error) {
	a.bootstrapUsers(ctx)
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if len(username) < 4 {
		return domain.UserAccount{}, store.Invalid("username", "must be at least 4 characters")
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.UserAccount{}, store.Invalid("username", "must not contain spaces")
	}
	if len(strings.TrimSpace(req.Password)) < 8 {
		return domain.UserAccount{}, store.Invalid("password", "must be at least 8 characters")
	}
	switch req.Role {
	case domain.RoleAdmin, domain.RoleManager, domain.RoleEmployee:
	default:
		return domain.UserAccount{}, store.Invalid("role", "must be admin, manager or employee")
	}
	if req.Role == domain.RoleAdmin && !actor.IsAdmin() {
		return domain.UserAccount{}, store.Forbidden("only an admin may create admins")
	}
	salesPointID := strings.TrimSpace(req.SalesPointID)
	if salesPointID == "" {
		salesPointID = actor.SalesPointID
	}
	if salesPointID != actor.SalesPointID && !actor.IsAdmin() {
		return domain.UserAccount{}, store.Forbidden("sales point is outside your scope")
	}

	a.mu.RLock()
	_, exists := a.users[username]
	a.mu.RUnlock()
	if exists {
		return domain.UserAccount{}, fmt.Errorf("username %s: %w", username, store.ErrConflict)
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.UserAccount{}, fmt.Errorf("hash password: %w", err)
	}
	user := domain.UserAccount{
		Username:     username,
		Password:     passwordHash,
		Role:         req.Role,
		EnterpriseID: actor.EnterpriseID,
		SalesPointID: salesPointID,
		EmployeeID:   strings.TrimSpace(req.EmployeeID),
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
	if a.userStore != nil {
		if err := a.userStore.CreateUser(ctx, user); err != nil {
			return domain.UserAccount{}, err
		}
	}

	a.mu.Lock()
	a.users[username] = credentialOf(user)
	a.mu.Unlock()
	return user, nil
}

// ListUsers returns the accounts of one enterprise sorted by username.
func (a *AuthManager) ListUsers(ctx context.Context, enterpriseID string) []domain.UserAccount {
	a.bootstrapUsers(ctx)
	a.mu.RLock()
	result := make([]domain.UserAccount, 0, len(a.users))
	for username, cred := range a.users {
		if cred.enterpriseID != enterpriseID {
			continue
		}
		result = append(result, domain.UserAccount{
			Username:     username,
			Role:         cred.role,
			EnterpriseID: cred.enterpriseID,
			SalesPointID: cred.salesPointID,
			EmployeeID:   cred.employeeID,
			Active:       cred.active,
			CreatedAt:    cred.created,
		})
	}
	a.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		return result[i].Username < result[j].Username
	})
	return result
}

// bootstrapUsers loads user accounts from the user store into the in-memory
// credential cache and upgrades legacy plain-text passwords to bcrypt hashes.
func (a *AuthManager) bootstrapUsers(ctx context.Context) {
	if a.userStore == nil {
		return
	}

	users, err := a.userStore.ListUsers(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("auth: failed to load users")
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, user := range users {
		username := strings.ToLower(strings.TrimSpace(user.Username))
		if username == "" {
			continue
		}
		if !isPasswordHash(user.Password) {
			hashed, err := hashPassword(user.Password)
			if err != nil {
				continue
			}
			user.Password = hashed
			if err := a.userStore.UpdateUserPassword(ctx, username, hashed); err != nil {
				log.Warn().Err(err).Str("username", username).Msg("auth: failed to upgrade password hash")
			}
		}
		a.users[username] = credentialOf(user)
	}
}

func credentialOf(user domain.UserAccount) credential {
	return credential{
		password:     user.Password,
		role:         user.Role,
		enterpriseID: user.EnterpriseID,
		salesPointID: user.SalesPointID,
		employeeID:   user.EmployeeID,
		active:       user.Active,
		created:      user.CreatedAt,
	}
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
