package cache

import (
	"context"
	"time"

	"depotbill/backend/internal/domain"
)

// SaleCache holds read-through copies of sales keyed by id. Writers must
// Delete after every committed change to the sale.
type SaleCache interface {
	Get(ctx context.Context, saleID string) (*domain.Sale, bool, error)
	Set(ctx context.Context, sale *domain.Sale, ttl time.Duration) error
	Delete(ctx context.Context, saleID string) error
}

type NoopSaleCache struct{}

func (NoopSaleCache) Get(_ context.Context, _ string) (*domain.Sale, bool, error) {
	return nil, false, nil
}

func (NoopSaleCache) Set(_ context.Context, _ *domain.Sale, _ time.Duration) error {
	return nil
}

func (NoopSaleCache) Delete(_ context.Context, _ string) error {
	return nil
}

func saleKey(saleID string) string {
	return "depot:sale:" + saleID
}
