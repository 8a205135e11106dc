package inventory

import (
	"context"
	"fmt"

	"depotbill/backend/internal/domain"
	"depotbill/backend/internal/store"
)

type PackagingStore interface {
	LockPackaging(ctx context.Context, id string) (*domain.Packaging, error)
	SetPackagingQuantities(ctx context.Context, id string, full int, empty int) error
}

// Movement is a packaging row before and after one mutation.
type Movement struct {
	Before domain.Packaging
	After  domain.Packaging
}

// floor clamps a packaging count at zero. It silently absorbs any shortfall,
// so drift between sales and counts is not reported anywhere.
func floor(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// ApplyConsume hands out quantity full containers and takes record empty ones
// back in.
func ApplyConsume(p domain.Packaging, quantity int, record int) (domain.Packaging, error) {
	if quantity < 0 {
		return p, store.Invalid("quantity", "must not be negative")
	}
	if record < 0 {
		return p, store.Invalid("record_package", "must not be negative")
	}
	if record > quantity {
		return p, store.Invalid("record_package", fmt.Sprintf("record exceeds needed (%d > %d)", record, quantity))
	}
	if p.FullQuantity < quantity {
		return p, &store.FieldError{
			Line:   -1,
			Field:  "quantity",
			Reason: fmt.Sprintf("packaging %s has %d full, %d needed", p.ID, p.FullQuantity, quantity),
			Kind:   store.ErrInsufficientStock,
		}
	}
	p.FullQuantity = floor(p.FullQuantity - quantity)
	p.EmptyQuantity = floor(p.EmptyQuantity + record)
	return p, nil
}

// ApplyReverse undoes ApplyConsume for a recorded packaging line.
func ApplyReverse(p domain.Packaging, line domain.PackagingLine) domain.Packaging {
	p.FullQuantity = floor(p.FullQuantity + line.Quantity)
	p.EmptyQuantity = floor(p.EmptyQuantity - line.Record)
	return p
}

// ApplyRefill turns qty empty containers into full ones.
func ApplyRefill(p domain.Packaging, qty int) domain.Packaging {
	p.EmptyQuantity = floor(p.EmptyQuantity - qty)
	p.FullQuantity = floor(p.FullQuantity + qty)
	return p
}

func Consume(ctx context.Context, st PackagingStore, packagingID string, quantity int, record int) (domain.PackagingLine, Movement, error) {
	before, err := st.LockPackaging(ctx, packagingID)
	if err != nil {
		return domain.PackagingLine{}, Movement{}, err
	}
	after, err := ApplyConsume(*before, quantity, record)
	if err != nil {
		return domain.PackagingLine{}, Movement{}, err
	}
	if err := save(ctx, st, after); err != nil {
		return domain.PackagingLine{}, Movement{}, err
	}
	line := domain.PackagingLine{
		PackagingID: before.ID,
		Quantity:    quantity,
		Record:      record,
		UnitPrice:   before.Price,
	}
	return line, Movement{Before: *before, After: after}, nil
}

func Reverse(ctx context.Context, st PackagingStore, line domain.PackagingLine) (Movement, error) {
	before, err := st.LockPackaging(ctx, line.PackagingID)
	if err != nil {
		return Movement{}, err
	}
	after := ApplyReverse(*before, line)
	if err := save(ctx, st, after); err != nil {
		return Movement{}, err
	}
	return Movement{Before: *before, After: after}, nil
}

// Reconsume replaces an existing packaging line on the same packaging by
// reversing it and consuming the new amounts, written as a single movement.
// The returned line keeps the old price snapshot.
func Reconsume(ctx context.Context, st PackagingStore, old domain.PackagingLine, quantity int, record int) (domain.PackagingLine, Movement, error) {
	before, err := st.LockPackaging(ctx, old.PackagingID)
	if err != nil {
		return domain.PackagingLine{}, Movement{}, err
	}
	after, err := ApplyConsume(ApplyReverse(*before, old), quantity, record)
	if err != nil {
		return domain.PackagingLine{}, Movement{}, err
	}
	if err := save(ctx, st, after); err != nil {
		return domain.PackagingLine{}, Movement{}, err
	}
	line := old
	line.Quantity = quantity
	line.Record = record
	return line, Movement{Before: *before, After: after}, nil
}

func Refill(ctx context.Context, st PackagingStore, packagingID string, qty int) (Movement, error) {
	if qty < 0 {
		return Movement{}, store.Invalid("quantity", "must not be negative")
	}
	before, err := st.LockPackaging(ctx, packagingID)
	if err != nil {
		return Movement{}, err
	}
	after := ApplyRefill(*before, qty)
	if err := save(ctx, st, after); err != nil {
		return Movement{}, err
	}
	return Movement{Before: *before, After: after}, nil
}

func save(ctx context.Context, st PackagingStore, p domain.Packaging) error {
	return st.SetPackagingQuantities(ctx, p.ID, p.FullQuantity, p.EmptyQuantity)
}
