package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"depotbill/backend/internal/cache"
	"depotbill/backend/internal/domain"
	"depotbill/backend/internal/inventory"
	"depotbill/backend/internal/metrics"
	"depotbill/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo     store.Repository
	cache    cache.SaleCache
	cacheTTL time.Duration
	metrics  *metrics.Metrics
	recorder *inventory.Recorder
	validate *validator.Validate
	now      func() time.Time
}

type Option func(*Service)

func WithSaleCache(c cache.SaleCache, ttl time.Duration) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(repo store.Repository, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		cache:    cache.NoopSaleCache{},
		cacheTTL: time.Minute,
		validate: newValidator(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.recorder = inventory.NewRecorder(s.now)
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

func actorFrom(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" || actor.EnterpriseID == "" {
		return domain.Actor{}, store.Forbidden("authentication required")
	}
	return actor, nil
}

func requireRole(actor domain.Actor, roles ...string) error {
	for _, role := range roles {
		if actor.Role == role {
			return nil
		}
	}
	return store.Forbidden(fmt.Sprintf("role %s may not perform this action", actor.Role))
}

func staffActor(ctx context.Context) (domain.Actor, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if err := requireRole(actor, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.Actor{}, err
	}
	return actor, nil
}

// targetSalesPoint resolves the sales point a write acts on. Admins may name
// any sales point of their enterprise; everyone else is pinned to their own.
func (s *Service) targetSalesPoint(ctx context.Context, actor domain.Actor, requested string) (string, error) {
	if requested == "" || requested == actor.SalesPointID {
		return actor.SalesPointID, nil
	}
	if !actor.IsAdmin() {
		return "", store.Forbidden("sales point is outside your scope")
	}
	sp, err := s.repo.GetSalesPoint(ctx, requested)
	if err != nil {
		return "", fieldErr("sales_point_id", err)
	}
	if sp.EnterpriseID != actor.EnterpriseID {
		return "", fieldErr("sales_point_id", store.ErrNotFound)
	}
	return sp.ID, nil
}

// listSalesPoint is targetSalesPoint for reads: an admin without a sales
// point sees the whole enterprise.
func (s *Service) listSalesPoint(ctx context.Context, actor domain.Actor, requested string) (string, error) {
	if requested == "" && actor.IsAdmin() {
		return "", nil
	}
	return s.targetSalesPoint(ctx, actor, requested)
}

// authorize checks that a record belongs to the actor's enterprise and, for
// non-admins, to their sales point. Records of another enterprise are
// reported as missing.
func authorize(actor domain.Actor, enterpriseID string, salesPointID string) error {
	if enterpriseID != actor.EnterpriseID {
		return store.ErrNotFound
	}
	if !actor.IsAdmin() && salesPointID != actor.SalesPointID {
		return store.Forbidden("record belongs to another sales point")
	}
	return nil
}

func fieldErr(field string, err error) error {
	return store.AtLine(-1, field, err)
}

func clampLimit(limit int, fallback int, max int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}

// tally counts packaging history entries per action inside a transaction so
// they can be reported once it commits.
type tally map[domain.HistoryAction]int

func (s *Service) record(ctx context.Context, tx store.Tx, moves tally, change inventory.Change) error {
	if _, err := s.recorder.Record(ctx, tx, change); err != nil {
		return err
	}
	moves[change.Action]++
	return nil
}

func (s *Service) flush(moves tally) {
	for action, n := range moves {
		s.metrics.PackagingMovement(string(action), n)
	}
}

func (s *Service) invalidate(ctx context.Context, saleID string) {
	if err := s.cache.Delete(ctx, saleID); err != nil {
		log.Warn().Err(err).Str("sale_id", saleID).Msg("service: failed to drop cached sale")
	}
}
