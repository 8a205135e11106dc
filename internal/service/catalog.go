package service

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"depotbill/backend/internal/domain"
	"depotbill/backend/internal/inventory"
	"depotbill/backend/internal/store"
	"depotbill/backend/internal/xid"
)

func (s *Service) CreatePackaging(ctx context.Context, req domain.PackagingCreateRequest) (domain.Packaging, error) {
	actor, err := staffActor(ctx)
	if err != nil {
		return domain.Packaging{}, err
	}
	if err := s.check(req); err != nil {
		return domain.Packaging{}, err
	}
	salesPointID, err := s.targetSalesPoint(ctx, actor, req.SalesPointID)
	if err != nil {
		return domain.Packaging{}, err
	}

	packaging := domain.Packaging{
		ID:            xid.New("pkg"),
		EnterpriseID:  actor.EnterpriseID,
		SalesPointID:  salesPointID,
		Name:          strings.TrimSpace(req.Name),
		Supplier:      strings.TrimSpace(req.Supplier),
		Price:         req.Price,
		FullQuantity:  req.FullQuantity,
		EmptyQuantity: req.EmptyQuantity,
	}
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		return tx.InsertPackaging(ctx, packaging)
	})
	if err != nil {
		return domain.Packaging{}, err
	}
	return packaging, nil
}

// CreateProduct adds a product to the catalog. Opening stock of a returnable
// product is filled from the packaging's empty containers.
func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, err := staffActor(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	if err := s.check(req); err != nil {
		return domain.Product{}, err
	}
	if !req.IsBeer && strings.TrimSpace(req.PackagingID) != "" {
		return domain.Product{}, store.Invalid("packaging_id", "only returnable products carry a packaging")
	}
	if len(req.Variants) > 0 && req.Quantity > 0 {
		return domain.Product{}, store.Invalid("quantity", "products with variants hold stock on the variants")
	}
	salesPointID, err := s.targetSalesPoint(ctx, actor, req.SalesPointID)
	if err != nil {
		return domain.Product{}, err
	}

	product := domain.Product{
		ID:           xid.New("prd"),
		EnterpriseID: actor.EnterpriseID,
		SalesPointID: salesPointID,
		Name:         strings.TrimSpace(req.Name),
		Price:        req.Price,
		Quantity:     req.Quantity,
		IsBeer:       req.IsBeer,
		WithVariant:  len(req.Variants) > 0,
		PackagingID:  strings.TrimSpace(req.PackagingID),
		CreatedAt:    s.clock(),
	}
	for _, v := range req.Variants {
		product.Variants = append(product.Variants, domain.Variant{
			ID:        xid.New("var"),
			ProductID: product.ID,
			Name:      strings.TrimSpace(v.Name),
			Quantity:  v.Quantity,
		})
	}

	moves := tally{}
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		if product.IsBeer {
			packaging, err := tx.LockPackaging(ctx, product.PackagingID)
			if err != nil {
				return fieldErr("packaging_id", err)
			}
			if packaging.EnterpriseID != product.EnterpriseID || packaging.SalesPointID != product.SalesPointID {
				return fieldErr("packaging_id", store.ErrNotFound)
			}
		}
		if err := tx.InsertProduct(ctx, product); err != nil {
			return err
		}

		opening := product.TotalQuantity()
		if !product.IsBeer || opening == 0 {
			return nil
		}
		move, err := inventory.Refill(ctx, tx, product.PackagingID, opening)
		if err != nil {
			return err
		}
		return s.record(ctx, tx, moves, inventory.Change{
			Action:          domain.HistoryRefill,
			Movement:        move,
			QuantityChanged: opening,
			ProductID:       product.ID,
			SalesPointID:    product.SalesPointID,
			PerformedBy:     actor.Username,
		})
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.flush(moves)
	log.Info().Str("product_id", product.ID).Str("by", actor.Username).Int("quantity", product.TotalQuantity()).Msg("product created")
	return product, nil
}

func (s *Service) CreateSellPrice(ctx context.Context, productID string, req domain.SellPriceCreateRequest) (domain.SellPrice, error) {
	actor, err := staffActor(ctx)
	if err != nil {
		return domain.SellPrice{}, err
	}
	if err := s.check(req); err != nil {
		return domain.SellPrice{}, err
	}

	var created domain.SellPrice
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		product, err := tx.LockProduct(ctx, productID)
		if err != nil {
			return err
		}
		if err := authorize(actor, product.EnterpriseID, product.SalesPointID); err != nil {
			return err
		}
		price := domain.SellPrice{
			ID:        xid.New("price"),
			ProductID: product.ID,
			Price:     req.Price,
			CreatedAt: s.clock(),
		}
		if err := tx.InsertSellPrice(ctx, price); err != nil {
			return err
		}
		created = price
		return nil
	})
	if err != nil {
		return domain.SellPrice{}, err
	}
	return created, nil
}

func (s *Service) CreateEmployee(ctx context.Context, req domain.EmployeeCreateRequest) (domain.Employee, error) {
	actor, err := staffActor(ctx)
	if err != nil {
		return domain.Employee{}, err
	}
	if err := s.check(req); err != nil {
		return domain.Employee{}, err
	}
	salesPointID, err := s.targetSalesPoint(ctx, actor, req.SalesPointID)
	if err != nil {
		return domain.Employee{}, err
	}

	employee := domain.Employee{
		ID:            xid.New("emp"),
		EnterpriseID:  actor.EnterpriseID,
		SalesPointID:  salesPointID,
		Name:          strings.TrimSpace(req.Name),
		Salary:        req.Salary,
		MonthlySalary: req.Salary,
		IsDeliverer:   req.IsDeliverer,
	}
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		return tx.InsertEmployee(ctx, employee)
	})
	if err != nil {
		return domain.Employee{}, err
	}
	return employee, nil
}

func (s *Service) CreateClient(ctx context.Context, req domain.ClientCreateRequest) (domain.Client, error) {
	actor, err := staffActor(ctx)
	if err != nil {
		return domain.Client{}, err
	}
	if err := s.check(req); err != nil {
		return domain.Client{}, err
	}
	salesPointID, err := s.targetSalesPoint(ctx, actor, req.SalesPointID)
	if err != nil {
		return domain.Client{}, err
	}

	client := domain.Client{
		ID:           xid.New("cli"),
		EnterpriseID: actor.EnterpriseID,
		SalesPointID: salesPointID,
		Name:         strings.TrimSpace(req.Name),
		Balance:      req.Balance,
	}
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		return tx.InsertClient(ctx, client)
	})
	if err != nil {
		return domain.Client{}, err
	}
	return client, nil
}

// GetEmployee returns an employee with the salary left for the month, which
// debt payments draw on.
func (s *Service) GetEmployee(ctx context.Context, employeeID string) (domain.Employee, error) {
	actor, err := staffActor(ctx)
	if err != nil {
		return domain.Employee{}, err
	}
	employee, err := s.repo.GetEmployee(ctx, employeeID)
	if err != nil {
		return domain.Employee{}, err
	}
	if err := authorize(actor, employee.EnterpriseID, employee.SalesPointID); err != nil {
		return domain.Employee{}, err
	}
	return *employee, nil
}

func (s *Service) GetClient(ctx context.Context, clientID string) (domain.Client, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.Client{}, err
	}
	client, err := s.repo.GetClient(ctx, clientID)
	if err != nil {
		return domain.Client{}, err
	}
	if err := authorize(actor, client.EnterpriseID, client.SalesPointID); err != nil {
		return domain.Client{}, err
	}
	return *client, nil
}

func (s *Service) ListProducts(ctx context.Context, salesPointID string) ([]domain.Product, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	salesPointID, err = s.targetSalesPoint(ctx, actor, salesPointID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListProducts(ctx, salesPointID)
}

func (s *Service) ListPackagings(ctx context.Context, salesPointID string) ([]domain.Packaging, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	salesPointID, err = s.targetSalesPoint(ctx, actor, salesPointID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListPackagings(ctx, salesPointID)
}
