package service

import (
	"context"

	"depotbill/backend/internal/domain"
	"depotbill/backend/internal/report"
	"depotbill/backend/internal/store"
)

const exportLimit = 10000

func (s *Service) ListPackagingHistory(ctx context.Context, filter domain.PackagingHistoryFilter) ([]domain.PackagingHistoryEntry, error) {
	filter, err := s.historyScope(ctx, filter)
	if err != nil {
		return nil, err
	}
	filter.Limit = clampLimit(filter.Limit, 100, 1000)
	return s.repo.ListPackagingHistory(ctx, filter)
}

// ExportPackagingHistory renders the filtered history as an XLSX workbook and
// returns it with a timestamped file name.
func (s *Service) ExportPackagingHistory(ctx context.Context, filter domain.PackagingHistoryFilter) ([]byte, string, error) {
	filter, err := s.historyScope(ctx, filter)
	if err != nil {
		return nil, "", err
	}
	filter.Limit = clampLimit(filter.Limit, exportLimit, exportLimit)
	entries, err := s.repo.ListPackagingHistory(ctx, filter)
	if err != nil {
		return nil, "", err
	}
	data, err := report.PackagingHistoryXLSX(entries)
	if err != nil {
		return nil, "", err
	}
	return data, report.HistoryFileName(s.clock()), nil
}

func (s *Service) historyScope(ctx context.Context, filter domain.PackagingHistoryFilter) (domain.PackagingHistoryFilter, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return filter, err
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return filter, store.Invalid("to", "must not be before from")
	}
	salesPointID, err := s.listSalesPoint(ctx, actor, filter.SalesPointID)
	if err != nil {
		return filter, err
	}
	filter.EnterpriseID = actor.EnterpriseID
	filter.SalesPointID = salesPointID
	return filter, nil
}
