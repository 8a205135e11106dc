package inventory

import (
	"context"
	"time"

	"depotbill/backend/internal/domain"
	"depotbill/backend/internal/xid"
)

type HistoryStore interface {
	AppendPackagingHistory(ctx context.Context, entry domain.PackagingHistoryEntry) error
}

type Change struct {
	Action          domain.HistoryAction
	Movement        Movement
	QuantityChanged int
	ProductID       string
	VariantID       string
	SaleID          string
	SalesPointID    string
	PerformedBy     string
}

// Recorder appends packaging history entries. Entries are never updated.
type Recorder struct {
	now func() time.Time
}

func NewRecorder(now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{now: now}
}

func (r *Recorder) Record(ctx context.Context, st HistoryStore, change Change) (domain.PackagingHistoryEntry, error) {
	before, after := change.Movement.Before, change.Movement.After
	salesPointID := change.SalesPointID
	if salesPointID == "" {
		salesPointID = after.SalesPointID
	}

	entry := domain.PackagingHistoryEntry{
		ID:              xid.New("ph"),
		EnterpriseID:    after.EnterpriseID,
		PackagingID:     after.ID,
		ProductID:       change.ProductID,
		VariantID:       change.VariantID,
		Action:          change.Action,
		QuantityChanged: change.QuantityChanged,
		FullBefore:      before.FullQuantity,
		FullAfter:       after.FullQuantity,
		EmptyBefore:     before.EmptyQuantity,
		EmptyAfter:      after.EmptyQuantity,
		PerformedBy:     change.PerformedBy,
		SalesPointID:    salesPointID,
		SaleID:          change.SaleID,
		CreatedAt:       r.now().UTC(),
	}
	if err := st.AppendPackagingHistory(ctx, entry); err != nil {
		return domain.PackagingHistoryEntry{}, err
	}
	return entry, nil
}
