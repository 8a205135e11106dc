package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depotbill/backend/internal/domain"
	"depotbill/backend/internal/store"
)

func TestWithinTxDiscardsWorkOnError(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.SetProductQuantity(ctx, "prd-soda", 1))
		require.NoError(t, tx.SetPackagingQuantities(ctx, "pkg-crate", 0, 9))
		_, err := tx.NextSaleNumber(ctx, "ent-1")
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	product, err := s.GetProduct(ctx, "prd-soda")
	require.NoError(t, err)
	assert.Equal(t, 10, product.Quantity)

	packaging, err := s.GetPackaging(ctx, "pkg-crate")
	require.NoError(t, err)
	assert.Equal(t, 20, packaging.FullQuantity)
	assert.Equal(t, 0, packaging.EmptyQuantity)

	var next int
	require.NoError(t, s.WithinTx(ctx, func(tx store.Tx) error {
		next, err = tx.NextSaleNumber(ctx, "ent-1")
		return err
	}))
	assert.Equal(t, 1, next)
}

func TestNextSaleNumberIsPerEnterprise(t *testing.T) {
	s := New()
	ctx := context.Background()

	numbers := map[string][]int{}
	require.NoError(t, s.WithinTx(ctx, func(tx store.Tx) error {
		for _, ent := range []string{"ent-1", "ent-1", "ent-2", "ent-1"} {
			n, err := tx.NextSaleNumber(ctx, ent)
			if err != nil {
				return err
			}
			numbers[ent] = append(numbers[ent], n)
		}
		return nil
	}))
	assert.Equal(t, []int{1, 2, 3}, numbers["ent-1"])
	assert.Equal(t, []int{1}, numbers["ent-2"])
}

func TestSaleLinesKeepPositionOrder(t *testing.T) {
	s := New()
	ctx := context.Background()

	sale := domain.Sale{ID: "sale-1", EnterpriseID: "ent-1", Number: "BILL-0001", Lines: []domain.SaleLine{
		{ID: "l1", SaleID: "sale-1", Position: 0, Quantity: 1},
	}}
	require.NoError(t, s.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertSale(ctx, sale); err != nil {
			return err
		}
		if err := tx.InsertSaleLine(ctx, domain.SaleLine{ID: "l3", SaleID: "sale-1", Position: 2}); err != nil {
			return err
		}
		return tx.InsertSaleLine(ctx, domain.SaleLine{ID: "l2", SaleID: "sale-1", Position: 1})
	}))

	got, err := s.GetSale(ctx, "sale-1")
	require.NoError(t, err)
	require.Len(t, got.Lines, 3)
	assert.Equal(t, "l1", got.Lines[0].ID)
	assert.Equal(t, "l2", got.Lines[1].ID)
	assert.Equal(t, "l3", got.Lines[2].ID)

	require.NoError(t, s.WithinTx(ctx, func(tx store.Tx) error {
		return tx.DeleteSaleLine(ctx, "l2")
	}))
	got, err = s.GetSale(ctx, "sale-1")
	require.NoError(t, err)
	assert.Len(t, got.Lines, 2)
}

func TestDuplicateSaleNumberConflicts(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertSale(ctx, domain.Sale{ID: "a", EnterpriseID: "ent-1", Number: "BILL-0001"}); err != nil {
			return err
		}
		return tx.InsertSale(ctx, domain.Sale{ID: "b", EnterpriseID: "ent-1", Number: "BILL-0001"})
	})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestCancelledContextDoesNotCommit(t *testing.T) {
	s := NewSeeded()
	ctx, cancel := context.WithCancel(context.Background())

	err := s.WithinTx(ctx, func(tx store.Tx) error {
		cancel()
		return tx.SetProductQuantity(ctx, "prd-soda", 0)
	})
	require.ErrorIs(t, err, context.Canceled)

	product, err := s.GetProduct(context.Background(), "prd-soda")
	require.NoError(t, err)
	assert.Equal(t, 10, product.Quantity)
}
