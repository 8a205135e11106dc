package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"depotbill/backend/internal/domain"
	"depotbill/backend/internal/inventory"
	"depotbill/backend/internal/store"
	"depotbill/backend/internal/xid"
)

// CreateSale reserves stock for every line, consumes packaging for
// returnable products and stores the sale under the enterprise's next bill
// number. A failure on any line leaves nothing behind.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.Sale, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	if err := s.check(req); err != nil {
		return domain.Sale{}, err
	}
	salesPointID, err := s.targetSalesPoint(ctx, actor, req.SalesPointID)
	if err != nil {
		return domain.Sale{}, err
	}

	var created domain.Sale
	moves := tally{}
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		now := s.clock()
		sale := domain.Sale{
			ID:           xid.New("sale"),
			EnterpriseID: actor.EnterpriseID,
			SalesPointID: salesPointID,
			CustomerName: strings.TrimSpace(req.CustomerName),
			State:        domain.SaleCreated,
			DeliveryDate: req.DeliveryDate,
			CreatedBy:    actor.Username,
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		if req.ClientID != "" {
			client, err := tx.LockClient(ctx, req.ClientID)
			if err != nil {
				return fieldErr("client_id", err)
			}
			if client.EnterpriseID != sale.EnterpriseID || client.SalesPointID != sale.SalesPointID {
				return fieldErr("client_id", store.ErrNotFound)
			}
			sale.ClientID = client.ID
			if sale.CustomerName == "" {
				sale.CustomerName = client.Name
			}
		}
		if sale.CustomerName == "" {
			return store.Invalid("customer_name", "is required for a sale without client")
		}

		for i, lineReq := range req.Lines {
			line, err := s.openLine(ctx, tx, actor, sale, i, lineReq, moves)
			if err != nil {
				return err
			}
			sale.Lines = append(sale.Lines, line)
		}
		sale.RecomputeTotals()

		seq, err := tx.NextSaleNumber(ctx, sale.EnterpriseID)
		if err != nil {
			return err
		}
		sale.Number = domain.SaleNumber(seq)
		if err := tx.InsertSale(ctx, sale); err != nil {
			return err
		}
		created = sale
		return nil
	})
	s.metrics.SaleOperation("create", err)
	if err != nil {
		return domain.Sale{}, err
	}

	s.flush(moves)
	log.Info().Str("sale_id", created.ID).Str("number", created.Number).Str("by", actor.Username).
		Int("lines", len(created.Lines)).Msg("sale created")
	return created, nil
}

// UpdateSale replaces the sale's lines with the request. Lines carrying an
// id are revised in place, lines without one are added and stored lines the
// request leaves out are reversed and removed.
func (s *Service) UpdateSale(ctx context.Context, saleID string, req domain.SaleUpdateRequest) (domain.Sale, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	if err := s.check(req); err != nil {
		return domain.Sale{}, err
	}
	if req.State != nil && *req.State != domain.SaleCreated && *req.State != domain.SalePending {
		return domain.Sale{}, store.Invalid("state", "must be created or pending")
	}

	requested := make(map[string]int, len(req.Lines))
	for i, lineReq := range req.Lines {
		if lineReq.ID == "" {
			continue
		}
		if _, dup := requested[lineReq.ID]; dup {
			return domain.Sale{}, store.InvalidLine(i, "id", "line appears more than once")
		}
		requested[lineReq.ID] = i
	}

	var updated domain.Sale
	moves := tally{}
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		sale, err := tx.LockSale(ctx, saleID)
		if err != nil {
			return err
		}
		if err := authorize(actor, sale.EnterpriseID, sale.SalesPointID); err != nil {
			return err
		}
		if !sale.Editable() {
			return store.Invalid("state", "a delivered sale can no longer be changed")
		}

		stored := make(map[string]domain.SaleLine, len(sale.Lines))
		for _, line := range sale.Lines {
			stored[line.ID] = line
		}
		for id, i := range requested {
			if _, ok := stored[id]; !ok {
				return store.AtLine(i, "id", fmt.Errorf("sale line %s: %w", id, store.ErrNotFound))
			}
		}

		// Dropped lines go first so their stock is back before new lines reserve.
		for _, line := range sale.Lines {
			if _, keep := requested[line.ID]; keep {
				continue
			}
			if err := s.closeLine(ctx, tx, actor, *sale, line, moves); err != nil {
				return err
			}
			if err := tx.DeleteSaleLine(ctx, line.ID); err != nil {
				return err
			}
		}

		// Kept lines give back what they shrink before anything grows or new
		// lines reserve, so the outcome does not depend on line order.
		revisions := make(map[int]*revision, len(requested))
		kept := make([]*revision, 0, len(requested))
		for i, lineReq := range req.Lines {
			if lineReq.ID == "" {
				continue
			}
			rev, err := s.planRevision(ctx, tx, *sale, i, stored[lineReq.ID], lineReq)
			if err != nil {
				return err
			}
			if err := s.shrinkRevision(ctx, tx, actor, *sale, rev, moves); err != nil {
				return err
			}
			revisions[i] = rev
			kept = append(kept, rev)
		}
		for _, rev := range kept {
			if err := s.growRevision(ctx, tx, actor, *sale, rev, moves); err != nil {
				return err
			}
		}

		lines := make([]domain.SaleLine, 0, len(req.Lines))
		for i, lineReq := range req.Lines {
			if rev, ok := revisions[i]; ok {
				if err := tx.UpdateSaleLine(ctx, rev.line); err != nil {
					return err
				}
				lines = append(lines, rev.line)
				continue
			}
			line, err := s.openLine(ctx, tx, actor, *sale, i, lineReq, moves)
			if err != nil {
				return err
			}
			if err := tx.InsertSaleLine(ctx, line); err != nil {
				return err
			}
			lines = append(lines, line)
		}

		sale.Lines = lines
		if req.DeliveryDate != nil {
			sale.DeliveryDate = req.DeliveryDate
		}
		if req.State != nil {
			sale.State = *req.State
		}
		sale.RecomputeTotals()
		sale.UpdatedAt = s.clock()
		if err := tx.UpdateSale(ctx, *sale); err != nil {
			return err
		}
		updated = *sale
		return nil
	})
	s.metrics.SaleOperation("update", err)
	if err != nil {
		return domain.Sale{}, err
	}

	s.flush(moves)
	s.invalidate(ctx, saleID)
	log.Info().Str("sale_id", updated.ID).Str("number", updated.Number).Str("by", actor.Username).
		Int("lines", len(updated.Lines)).Msg("sale updated")
	return updated, nil
}

// DeleteSale returns every line's stock and packaging, then removes the
// sale. Deleting the same sale twice reports it as missing.
func (s *Service) DeleteSale(ctx context.Context, saleID string) error {
	actor, err := actorFrom(ctx)
	if err != nil {
		return err
	}

	var number string
	moves := tally{}
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		sale, err := tx.LockSale(ctx, saleID)
		if err != nil {
			return err
		}
		if err := authorize(actor, sale.EnterpriseID, sale.SalesPointID); err != nil {
			return err
		}
		if !sale.Editable() {
			return store.Invalid("state", "a delivered sale can no longer be deleted")
		}
		for _, line := range sale.Lines {
			if err := s.closeLine(ctx, tx, actor, *sale, line, moves); err != nil {
				return err
			}
		}
		number = sale.Number
		return tx.DeleteSale(ctx, sale.ID)
	})
	s.metrics.SaleOperation("delete", err)
	if err != nil {
		return err
	}

	s.flush(moves)
	s.invalidate(ctx, saleID)
	log.Info().Str("sale_id", saleID).Str("number", number).Str("by", actor.Username).Msg("sale deleted")
	return nil
}

func (s *Service) GetSale(ctx context.Context, saleID string) (domain.Sale, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.Sale{}, err
	}

	cached, ok, err := s.cache.Get(ctx, saleID)
	if err != nil {
		log.Warn().Err(err).Str("sale_id", saleID).Msg("service: sale cache read failed")
	}
	if ok && cached != nil {
		if err := authorize(actor, cached.EnterpriseID, cached.SalesPointID); err != nil {
			return domain.Sale{}, err
		}
		return *cached, nil
	}

	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	if err := authorize(actor, sale.EnterpriseID, sale.SalesPointID); err != nil {
		return domain.Sale{}, err
	}
	if err := s.cache.Set(ctx, sale, s.cacheTTL); err != nil {
		log.Warn().Err(err).Str("sale_id", saleID).Msg("service: sale cache write failed")
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if filter.State != "" && !filter.State.Valid() {
		return nil, store.Invalid("state", "unknown sale state")
	}
	salesPointID, err := s.listSalesPoint(ctx, actor, filter.SalesPointID)
	if err != nil {
		return nil, err
	}
	filter.EnterpriseID = actor.EnterpriseID
	filter.SalesPointID = salesPointID
	filter.Limit = clampLimit(filter.Limit, 50, 200)
	return s.repo.ListSales(ctx, filter)
}

// AssignDeliverer sets or clears the employee delivering a sale. Assigning
// moves the sale to pending.
func (s *Service) AssignDeliverer(ctx context.Context, saleID string, req domain.DelivererAssignRequest) (domain.Sale, error) {
	actor, err := staffActor(ctx)
	if err != nil {
		return domain.Sale{}, err
	}

	var updated domain.Sale
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		sale, err := tx.LockSale(ctx, saleID)
		if err != nil {
			return err
		}
		if err := authorize(actor, sale.EnterpriseID, sale.SalesPointID); err != nil {
			return err
		}
		if sale.State != domain.SaleCreated && sale.State != domain.SalePending {
			return store.Invalid("state", "deliverer can only change before delivery")
		}

		if req.DelivererID == nil || strings.TrimSpace(*req.DelivererID) == "" {
			sale.DelivererID = ""
		} else {
			employee, err := tx.LockEmployee(ctx, strings.TrimSpace(*req.DelivererID))
			if err != nil {
				return fieldErr("deliverer_id", err)
			}
			if employee.EnterpriseID != sale.EnterpriseID {
				return fieldErr("deliverer_id", store.ErrNotFound)
			}
			if !employee.IsDeliverer {
				return store.Invalid("deliverer_id", "employee is not a deliverer")
			}
			sale.DelivererID = employee.ID
			sale.State = domain.SalePending
		}
		sale.UpdatedAt = s.clock()
		if err := tx.UpdateSale(ctx, *sale); err != nil {
			return err
		}
		updated = *sale
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}
	s.invalidate(ctx, saleID)
	return updated, nil
}

// DeliverSale closes a pending sale. With ReduceFromBalance the amount is
// credited to the sales point and debited from the client's balance; when
// UseBalanceAsPaid is set and the client cannot cover it, only the balance
// counts as paid.
func (s *Service) DeliverSale(ctx context.Context, saleID string, req domain.DeliverSaleRequest) (domain.Sale, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	if err := s.check(req); err != nil {
		return domain.Sale{}, err
	}

	var delivered domain.Sale
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		sale, err := tx.LockSale(ctx, saleID)
		if err != nil {
			return err
		}
		if err := authorize(actor, sale.EnterpriseID, sale.SalesPointID); err != nil {
			return err
		}
		if sale.State != domain.SalePending {
			return store.Invalid("state", "only a pending sale can be delivered")
		}
		if req.Amount.IsNegative() || req.Amount.GreaterThan(sale.Total) {
			return store.Invalid("amount", fmt.Sprintf("must be between 0 and %s", sale.Total.String()))
		}

		paid := req.Amount
		if req.ReduceFromBalance {
			sp, err := tx.LockSalesPoint(ctx, sale.SalesPointID)
			if err != nil {
				return err
			}
			if err := tx.SetSalesPointBalance(ctx, sp.ID, sp.Balance.Add(req.Amount)); err != nil {
				return err
			}
			if sale.ClientID != "" {
				client, err := tx.LockClient(ctx, sale.ClientID)
				if err != nil {
					return err
				}
				balance := client.Balance.Sub(req.Amount)
				if client.Balance.LessThan(req.Amount) && req.UseBalanceAsPaid {
					paid = client.Balance
					balance = decimal.Zero
				}
				if err := tx.SetClientBalance(ctx, client.ID, balance); err != nil {
					return err
				}
			}
		}

		sale.Paid = paid
		sale.State = domain.SaleDelivered
		sale.UpdatedAt = s.clock()
		if err := tx.UpdateSale(ctx, *sale); err != nil {
			return err
		}
		delivered = *sale
		return nil
	})
	s.metrics.SaleOperation("deliver", err)
	if err != nil {
		return domain.Sale{}, err
	}

	s.invalidate(ctx, saleID)
	log.Info().Str("sale_id", delivered.ID).Str("paid", delivered.Paid.String()).Str("by", actor.Username).Msg("sale delivered")
	return delivered, nil
}

type lineTarget struct {
	product *domain.Product
	variant *domain.Variant
}

func (t lineTarget) variantID() string {
	if t.variant == nil {
		return ""
	}
	return t.variant.ID
}

// resolveLine locks the line's target and checks that it may be sold on
// this sale. Variants are locked before their parent product.
func (s *Service) resolveLine(ctx context.Context, tx store.Tx, sale domain.Sale, idx int, req domain.SaleLineRequest) (domain.LineTarget, lineTarget, *domain.SellPrice, error) {
	target, ok := req.Target()
	if !ok {
		return domain.LineTarget{}, lineTarget{}, nil, store.InvalidLine(idx, "product_id", "set exactly one of product_id or variant_id")
	}
	if req.Quantity <= 0 {
		return target, lineTarget{}, nil, store.InvalidLine(idx, "quantity", "must be greater than 0")
	}
	if req.RecordPackage < 0 {
		return target, lineTarget{}, nil, store.InvalidLine(idx, "record_package", "must be at least 0")
	}

	var resolved lineTarget
	productID := target.ID
	field := "product_id"
	if target.IsVariant() {
		field = "variant_id"
		variant, err := tx.LockVariant(ctx, target.ID)
		if err != nil {
			return target, lineTarget{}, nil, store.AtLine(idx, field, err)
		}
		resolved.variant = variant
		productID = variant.ProductID
	}
	product, err := tx.LockProduct(ctx, productID)
	if err != nil {
		return target, lineTarget{}, nil, store.AtLine(idx, field, err)
	}
	if product.EnterpriseID != sale.EnterpriseID || product.SalesPointID != sale.SalesPointID {
		return target, lineTarget{}, nil, store.AtLine(idx, field, fmt.Errorf("%s: %w", target, store.ErrNotFound))
	}
	if !target.IsVariant() && product.WithVariant {
		return target, lineTarget{}, nil, store.InvalidLine(idx, "product_id", "product is sold by variant; use variant_id")
	}
	resolved.product = product

	if !product.IsBeer && req.RecordPackage > 0 {
		return target, lineTarget{}, nil, store.InvalidLine(idx, "record_package", "product has no returnable packaging")
	}
	if product.IsBeer && product.PackagingID == "" {
		return target, lineTarget{}, nil, store.InvalidLine(idx, "packaging", "returnable product has no packaging")
	}

	price, err := tx.GetSellPrice(ctx, req.SellPriceID)
	if err != nil {
		return target, lineTarget{}, nil, store.AtLine(idx, "sell_price_id", err)
	}
	if price.ProductID != product.ID {
		return target, lineTarget{}, nil, store.InvalidLine(idx, "sell_price_id", "sell price belongs to another product")
	}
	return target, resolved, price, nil
}

// openLine sells a new line: stock is reserved and, for returnable products,
// packaging is consumed and logged.
func (s *Service) openLine(ctx context.Context, tx store.Tx, actor domain.Actor, sale domain.Sale, idx int, req domain.SaleLineRequest, moves tally) (domain.SaleLine, error) {
	target, resolved, price, err := s.resolveLine(ctx, tx, sale, idx, req)
	if err != nil {
		return domain.SaleLine{}, err
	}
	if _, err := inventory.Reserve(ctx, tx, target, req.Quantity); err != nil {
		return domain.SaleLine{}, store.AtLine(idx, "quantity", err)
	}

	line := domain.SaleLine{
		ID:          xid.New("sl"),
		SaleID:      sale.ID,
		Position:    idx,
		Target:      target,
		ProductID:   resolved.product.ID,
		SellPriceID: price.ID,
		UnitPrice:   price.Price,
		Quantity:    req.Quantity,
	}
	if !resolved.product.IsBeer {
		return line, nil
	}

	pkg, move, err := inventory.Consume(ctx, tx, resolved.product.PackagingID, req.Quantity, req.RecordPackage)
	if err != nil {
		return domain.SaleLine{}, store.AtLine(idx, "record_package", err)
	}
	line.Packaging = &pkg
	err = s.record(ctx, tx, moves, inventory.Change{
		Action:          domain.HistoryCreate,
		Movement:        move,
		QuantityChanged: req.Quantity,
		ProductID:       resolved.product.ID,
		VariantID:       resolved.variantID(),
		SaleID:          sale.ID,
		SalesPointID:    sale.SalesPointID,
		PerformedBy:     actor.Username,
	})
	if err != nil {
		return domain.SaleLine{}, err
	}
	return line, nil
}

// revision carries a kept line through an update. shrinkRevision gives back
// everything the line no longer needs; growRevision then takes what it needs
// in addition.
type revision struct {
	idx      int
	old      domain.SaleLine
	req      domain.SaleLineRequest
	target   domain.LineTarget
	resolved lineTarget
	line     domain.SaleLine

	stockDone     bool
	packagingDone bool
}

func (r *revision) samePackaging() bool {
	return r.old.Packaging != nil && r.resolved.product.IsBeer && r.old.Packaging.PackagingID == r.resolved.product.PackagingID
}

func (r *revision) change(sale domain.Sale, actor domain.Actor) inventory.Change {
	return inventory.Change{
		ProductID:    r.resolved.product.ID,
		VariantID:    r.resolved.variantID(),
		SaleID:       sale.ID,
		SalesPointID: sale.SalesPointID,
		PerformedBy:  actor.Username,
	}
}

func (s *Service) planRevision(ctx context.Context, tx store.Tx, sale domain.Sale, idx int, old domain.SaleLine, req domain.SaleLineRequest) (*revision, error) {
	target, resolved, price, err := s.resolveLine(ctx, tx, sale, idx, req)
	if err != nil {
		return nil, err
	}
	line := old
	line.Position = idx
	line.Target = target
	line.ProductID = resolved.product.ID
	line.SellPriceID = price.ID
	line.UnitPrice = price.Price
	line.Quantity = req.Quantity
	line.Packaging = nil
	return &revision{idx: idx, old: old, req: req, target: target, resolved: resolved, line: line}, nil
}

func (s *Service) shrinkRevision(ctx context.Context, tx store.Tx, actor domain.Actor, sale domain.Sale, r *revision, moves tally) error {
	switch {
	case r.target != r.old.Target:
		if _, err := inventory.Release(ctx, tx, r.old.Target, r.old.Quantity); err != nil {
			return store.AtLine(r.idx, "id", err)
		}
	case r.req.Quantity <= r.old.Quantity:
		if _, err := inventory.Adjust(ctx, tx, r.target, r.old.Quantity, r.req.Quantity); err != nil {
			return store.AtLine(r.idx, "quantity", err)
		}
		r.stockDone = true
	}

	if r.samePackaging() {
		old := *r.old.Packaging
		if old.Quantity == r.req.Quantity && old.Record == r.req.RecordPackage {
			r.line.Packaging = &old
			r.packagingDone = true
			return nil
		}
		if r.req.Quantity > old.Quantity {
			return nil
		}
		r.packagingDone = true
		return s.reconsume(ctx, tx, actor, sale, r, moves)
	}

	if r.old.Packaging != nil {
		move, err := inventory.Reverse(ctx, tx, *r.old.Packaging)
		if err != nil {
			return store.AtLine(r.idx, "packaging", err)
		}
		reversal := r.change(sale, actor)
		reversal.Action = domain.HistoryDelete
		reversal.Movement = move
		reversal.QuantityChanged = r.old.Packaging.Quantity
		reversal.ProductID = r.old.ProductID
		reversal.VariantID = variantOf(r.old.Target)
		if err := s.record(ctx, tx, moves, reversal); err != nil {
			return err
		}
	}
	if !r.resolved.product.IsBeer {
		r.packagingDone = true
	}
	return nil
}

func (s *Service) growRevision(ctx context.Context, tx store.Tx, actor domain.Actor, sale domain.Sale, r *revision, moves tally) error {
	if !r.stockDone {
		var err error
		if r.target == r.old.Target {
			_, err = inventory.Adjust(ctx, tx, r.target, r.old.Quantity, r.req.Quantity)
		} else {
			_, err = inventory.Reserve(ctx, tx, r.target, r.req.Quantity)
		}
		if err != nil {
			return store.AtLine(r.idx, "quantity", err)
		}
		r.stockDone = true
	}
	if r.packagingDone {
		return nil
	}
	r.packagingDone = true
	if r.samePackaging() {
		return s.reconsume(ctx, tx, actor, sale, r, moves)
	}

	pkg, move, err := inventory.Consume(ctx, tx, r.resolved.product.PackagingID, r.req.Quantity, r.req.RecordPackage)
	if err != nil {
		return store.AtLine(r.idx, "record_package", err)
	}
	r.line.Packaging = &pkg
	change := r.change(sale, actor)
	change.Action = domain.HistoryCreate
	change.Movement = move
	change.QuantityChanged = r.req.Quantity
	return s.record(ctx, tx, moves, change)
}

func (s *Service) reconsume(ctx context.Context, tx store.Tx, actor domain.Actor, sale domain.Sale, r *revision, moves tally) error {
	pkg, move, err := inventory.Reconsume(ctx, tx, *r.old.Packaging, r.req.Quantity, r.req.RecordPackage)
	if err != nil {
		return store.AtLine(r.idx, "record_package", err)
	}
	r.line.Packaging = &pkg
	change := r.change(sale, actor)
	change.Action = domain.HistoryUpdate
	change.Movement = move
	change.QuantityChanged = r.req.Quantity - r.old.Packaging.Quantity
	return s.record(ctx, tx, moves, change)
}

// closeLine gives a stored line's stock and packaging back.
func (s *Service) closeLine(ctx context.Context, tx store.Tx, actor domain.Actor, sale domain.Sale, line domain.SaleLine, moves tally) error {
	if _, err := inventory.Release(ctx, tx, line.Target, line.Quantity); err != nil {
		return store.AtLine(line.Position, "id", err)
	}
	if line.Packaging == nil {
		return nil
	}
	move, err := inventory.Reverse(ctx, tx, *line.Packaging)
	if err != nil {
		return store.AtLine(line.Position, "packaging", err)
	}
	return s.record(ctx, tx, moves, inventory.Change{
		Action:          domain.HistoryDelete,
		Movement:        move,
		QuantityChanged: line.Packaging.Quantity,
		ProductID:       line.ProductID,
		VariantID:       variantOf(line.Target),
		SaleID:          sale.ID,
		SalesPointID:    sale.SalesPointID,
		PerformedBy:     actor.Username,
	})
}

func variantOf(target domain.LineTarget) string {
	if target.IsVariant() {
		return target.ID
	}
	return ""
}
