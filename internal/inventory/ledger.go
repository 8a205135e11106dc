// Package inventory holds the quantity arithmetic for sales: product and
// variant stock, returnable packaging counts, and the packaging audit trail.
// Every function takes the transaction it mutates; callers own the boundary.
package inventory

import (
	"context"
	"fmt"

	"depotbill/backend/internal/domain"
	"depotbill/backend/internal/store"
)

type StockStore interface {
	LockProduct(ctx context.Context, id string) (*domain.Product, error)
	LockVariant(ctx context.Context, id string) (*domain.Variant, error)
	SetProductQuantity(ctx context.Context, id string, qty int) error
	SetVariantQuantity(ctx context.Context, id string, qty int) error
}

// Reserve takes qty units out of the target's on-hand quantity and returns
// what is left. Asking for more than is on hand fails without touching stock.
func Reserve(ctx context.Context, st StockStore, target domain.LineTarget, qty int) (int, error) {
	if qty < 0 {
		return 0, store.Invalid("quantity", "must not be negative")
	}
	current, err := onHand(ctx, st, target)
	if err != nil {
		return 0, err
	}
	if qty > current {
		return current, &store.FieldError{
			Line:   -1,
			Field:  "quantity",
			Reason: fmt.Sprintf("%s has %d on hand, %d requested", target, current, qty),
			Kind:   store.ErrInsufficientStock,
		}
	}
	remaining := current - qty
	if err := setOnHand(ctx, st, target, remaining); err != nil {
		return 0, err
	}
	return remaining, nil
}

// Release puts qty units back. There is no upper bound.
func Release(ctx context.Context, st StockStore, target domain.LineTarget, qty int) (int, error) {
	if qty < 0 {
		return 0, store.Invalid("quantity", "must not be negative")
	}
	current, err := onHand(ctx, st, target)
	if err != nil {
		return 0, err
	}
	restored := current + qty
	if err := setOnHand(ctx, st, target, restored); err != nil {
		return 0, err
	}
	return restored, nil
}

// Adjust moves the target by the difference between two line quantities,
// reserving when the line grew and releasing when it shrank.
func Adjust(ctx context.Context, st StockStore, target domain.LineTarget, oldQty int, newQty int) (int, error) {
	diff := newQty - oldQty
	if diff >= 0 {
		return Reserve(ctx, st, target, diff)
	}
	return Release(ctx, st, target, -diff)
}

func onHand(ctx context.Context, st StockStore, target domain.LineTarget) (int, error) {
	switch target.Kind {
	case domain.TargetProduct:
		product, err := st.LockProduct(ctx, target.ID)
		if err != nil {
			return 0, err
		}
		return product.Quantity, nil
	case domain.TargetVariant:
		variant, err := st.LockVariant(ctx, target.ID)
		if err != nil {
			return 0, err
		}
		return variant.Quantity, nil
	}
	return 0, store.Invalid("target", "unknown line target "+string(target.Kind))
}

func setOnHand(ctx context.Context, st StockStore, target domain.LineTarget, qty int) error {
	if target.IsVariant() {
		return st.SetVariantQuantity(ctx, target.ID, qty)
	}
	return st.SetProductQuantity(ctx, target.ID, qty)
}
