package service

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"depotbill/backend/internal/domain"
	"depotbill/backend/internal/store"
	"depotbill/backend/internal/xid"
)

func (s *Service) CreateDebt(ctx context.Context, req domain.DebtCreateRequest) (domain.EmployeeDebt, error) {
	actor, err := staffActor(ctx)
	if err != nil {
		return domain.EmployeeDebt{}, err
	}
	if err := s.check(req); err != nil {
		return domain.EmployeeDebt{}, err
	}
	if !req.Amount.IsPositive() {
		return domain.EmployeeDebt{}, store.Invalid("amount", "must be greater than 0")
	}

	var created domain.EmployeeDebt
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		employee, err := tx.LockEmployee(ctx, req.EmployeeID)
		if err != nil {
			return fieldErr("employee_id", err)
		}
		if err := authorize(actor, employee.EnterpriseID, employee.SalesPointID); err != nil {
			return fieldErr("employee_id", err)
		}

		now := s.clock()
		debt := domain.EmployeeDebt{
			ID:           xid.New("debt"),
			EnterpriseID: employee.EnterpriseID,
			SalesPointID: employee.SalesPointID,
			EmployeeID:   employee.ID,
			Amount:       req.Amount,
			Status:       domain.DebtPending,
			Reason:       strings.TrimSpace(req.Reason),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.InsertDebt(ctx, debt); err != nil {
			return err
		}
		created = debt
		return nil
	})
	if err != nil {
		return domain.EmployeeDebt{}, err
	}
	return created, nil
}

func (s *Service) ListDebts(ctx context.Context, filter domain.DebtFilter) ([]domain.EmployeeDebt, error) {
	actor, err := staffActor(ctx)
	if err != nil {
		return nil, err
	}
	if filter.Status != "" && filter.Status != domain.DebtPending && filter.Status != domain.DebtPaid {
		return nil, store.Invalid("status", "must be pending or paid")
	}
	salesPointID, err := s.listSalesPoint(ctx, actor, filter.SalesPointID)
	if err != nil {
		return nil, err
	}
	filter.EnterpriseID = actor.EnterpriseID
	filter.SalesPointID = salesPointID
	filter.Limit = clampLimit(filter.Limit, 100, 500)
	return s.repo.ListDebts(ctx, filter)
}

func (s *Service) DeleteDebt(ctx context.Context, debtID string) error {
	actor, err := staffActor(ctx)
	if err != nil {
		return err
	}
	return s.repo.WithinTx(ctx, func(tx store.Tx) error {
		debt, err := tx.LockDebt(ctx, debtID)
		if err != nil {
			return err
		}
		if err := authorize(actor, debt.EnterpriseID, debt.SalesPointID); err != nil {
			return err
		}
		return tx.DeleteDebt(ctx, debt.ID)
	})
}

// PayDebt settles part or all of a debt out of the employee's monthly
// salary. Debt and salary change together or not at all.
func (s *Service) PayDebt(ctx context.Context, debtID string, req domain.DebtPaymentRequest) (domain.DebtSettlementResult, error) {
	actor, err := staffActor(ctx)
	if err != nil {
		return domain.DebtSettlementResult{}, err
	}
	if err := s.check(req); err != nil {
		return domain.DebtSettlementResult{}, err
	}

	var result domain.DebtSettlementResult
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		debt, err := tx.LockDebt(ctx, debtID)
		if err != nil {
			return err
		}
		if err := authorize(actor, debt.EnterpriseID, debt.SalesPointID); err != nil {
			return err
		}
		if debt.Status == domain.DebtPaid {
			return store.Invalid("status", "debt is already paid")
		}
		if !req.Amount.IsPositive() {
			return store.Invalid("amount", "must be greater than 0")
		}
		if req.Amount.GreaterThan(debt.Amount) {
			return store.Invalid("amount", "exceeds the outstanding debt of "+debt.Amount.String())
		}

		employee, err := tx.LockEmployee(ctx, debt.EmployeeID)
		if err != nil {
			return err
		}

		remaining, salary := Settle(debt.Amount, employee.MonthlySalary, req.Amount)
		if !remaining.IsPositive() {
			remaining = decimal.Zero
			debt.Status = domain.DebtPaid
		}
		debt.Amount = remaining
		debt.UpdatedAt = s.clock()

		if err := tx.SetEmployeeMonthlySalary(ctx, employee.ID, salary); err != nil {
			return err
		}
		if err := tx.UpdateDebt(ctx, *debt); err != nil {
			return err
		}
		result = domain.DebtSettlementResult{
			Debt:           *debt,
			MonthlySalary:  salary,
			SalaryAbsorbed: employee.MonthlySalary.Sub(salary),
		}
		return nil
	})
	s.metrics.DebtPayment(err)
	if err != nil {
		return domain.DebtSettlementResult{}, err
	}

	log.Info().Str("debt_id", debtID).Str("amount", req.Amount.String()).Str("remaining", result.Debt.Amount.String()).
		Str("status", string(result.Debt.Status)).Str("by", actor.Username).Msg("debt payment applied")
	return result, nil
}

// Settle applies a payment of amount to a debt against the employee's
// monthly salary and returns the new debt amount and salary. When the
// payment exceeds a positive salary, the salary is used up and what it could
// not cover becomes the debt. With no salary left the payment reduces the
// debt directly.
func Settle(debt decimal.Decimal, salary decimal.Decimal, amount decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	switch {
	case salary.IsPositive() && amount.GreaterThan(salary):
		return amount.Sub(salary), decimal.Zero
	case !salary.IsPositive():
		return debt.Sub(amount), salary
	default:
		return debt.Sub(amount), salary.Sub(amount)
	}
}
