package service

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"depotbill/backend/internal/domain"
	"depotbill/backend/internal/metrics"
	"depotbill/backend/internal/store"
	"depotbill/backend/internal/store/memory"
)

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.NewSeeded()
	return New(repo, WithMetrics(metrics.New()), WithClock(func() time.Time { return fixedNow })), repo
}

func asAdmin() context.Context {
	return WithActor(context.Background(), domain.Actor{
		Username: "admin", Role: domain.RoleAdmin, EnterpriseID: "ent-1", SalesPointID: "sp-main",
	})
}

func asManager() context.Context {
	return WithActor(context.Background(), domain.Actor{
		Username: "manager", Role: domain.RoleManager, EnterpriseID: "ent-1", SalesPointID: "sp-main",
	})
}

func asEmployee(salesPointID string) context.Context {
	return WithActor(context.Background(), domain.Actor{
		Username: "employee", Role: domain.RoleEmployee, EnterpriseID: "ent-1", SalesPointID: salesPointID, EmployeeID: "emp-clerk",
	})
}

func asOtherEnterprise() context.Context {
	return WithActor(context.Background(), domain.Actor{
		Username: "intruder", Role: domain.RoleAdmin, EnterpriseID: "ent-2", SalesPointID: "sp-other",
	})
}

func money(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func productQty(t *testing.T, repo *memory.Store, id string) int {
	t.Helper()
	p, err := repo.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.TotalQuantity()
}

func packagingCounts(t *testing.T, repo *memory.Store, id string) (int, int) {
	t.Helper()
	p, err := repo.GetPackaging(context.Background(), id)
	require.NoError(t, err)
	return p.FullQuantity, p.EmptyQuantity
}

func sodaLine(qty int) domain.SaleLineRequest {
	return domain.SaleLineRequest{ProductID: "prd-soda", SellPriceID: "sp-soda", Quantity: qty}
}

func lagerLine(qty int, record int) domain.SaleLineRequest {
	return domain.SaleLineRequest{ProductID: "prd-lager", SellPriceID: "sp-lager", Quantity: qty, RecordPackage: record}
}

// addLooseBeer stores a returnable product that has lost its packaging, a
// state the catalog refuses to create but older rows may still hold.
func addLooseBeer(t *testing.T, repo *memory.Store) {
	t.Helper()
	err := repo.WithinTx(context.Background(), func(tx store.Tx) error {
		if err := tx.InsertProduct(context.Background(), domain.Product{
			ID: "prd-loose-beer", EnterpriseID: "ent-1", SalesPointID: "sp-main", Name: "Draught", Price: money(900), Quantity: 10, IsBeer: true,
		}); err != nil {
			return err
		}
		return tx.InsertSellPrice(context.Background(), domain.SellPrice{ID: "sp-loose-beer", ProductID: "prd-loose-beer", Price: money(900)})
	})
	require.NoError(t, err)
}

func TestSaleStockRoundTrip(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := asAdmin()

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{CustomerName: "Walk-in", Lines: []domain.SaleLineRequest{sodaLine(3)}})
	require.NoError(t, err)
	assert.Equal(t, 7, productQty(t, repo, "prd-soda"))
	assert.Equal(t, domain.SaleCreated, sale.State)
	assert.True(t, money(900).Equal(sale.Total))

	edit := sodaLine(5)
	edit.ID = sale.Lines[0].ID
	updated, err := svc.UpdateSale(ctx, sale.ID, domain.SaleUpdateRequest{Lines: []domain.SaleLineRequest{edit}})
	require.NoError(t, err)
	assert.Equal(t, 5, productQty(t, repo, "prd-soda"))
	assert.Equal(t, sale.Lines[0].ID, updated.Lines[0].ID)
	assert.True(t, money(1500).Equal(updated.Total))

	require.NoError(t, svc.DeleteSale(ctx, sale.ID))
	assert.Equal(t, 10, productQty(t, repo, "prd-soda"))

	err = svc.DeleteSale(ctx, sale.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 10, productQty(t, repo, "prd-soda"))
}

func TestSalePackagingRoundTrip(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := asAdmin()

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{CustomerName: "Bar", Lines: []domain.SaleLineRequest{lagerLine(4, 1)}})
	require.NoError(t, err)

	full, empty := packagingCounts(t, repo, "pkg-crate")
	assert.Equal(t, 16, full)
	assert.Equal(t, 1, empty)
	require.NotNil(t, sale.Lines[0].Packaging)
	assert.Equal(t, 3, sale.Lines[0].Packaging.Owed())
	assert.True(t, money(4800).Equal(sale.Total))
	assert.True(t, money(5300).Equal(sale.TotalBillAmount))

	require.NoError(t, svc.DeleteSale(ctx, sale.ID))
	full, empty = packagingCounts(t, repo, "pkg-crate")
	assert.Equal(t, 20, full)
	assert.Equal(t, 0, empty)

	history, err := svc.ListPackagingHistory(ctx, domain.PackagingHistoryFilter{PackagingID: "pkg-crate"})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.HistoryDelete, history[0].Action)
	assert.Equal(t, domain.HistoryCreate, history[1].Action)
	assert.Equal(t, 20, history[1].FullBefore)
	assert.Equal(t, 16, history[1].FullAfter)
	assert.Equal(t, sale.ID, history[1].SaleID)
	assert.Equal(t, "admin", history[1].PerformedBy)
}

func TestUpdateReconsumesPackagingOnSameProduct(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := asAdmin()

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{CustomerName: "Bar", Lines: []domain.SaleLineRequest{lagerLine(4, 1)}})
	require.NoError(t, err)

	edit := lagerLine(6, 4)
	edit.ID = sale.Lines[0].ID
	updated, err := svc.UpdateSale(ctx, sale.ID, domain.SaleUpdateRequest{Lines: []domain.SaleLineRequest{edit}})
	require.NoError(t, err)

	full, empty := packagingCounts(t, repo, "pkg-crate")
	assert.Equal(t, 14, full)
	assert.Equal(t, 4, empty)
	assert.Equal(t, 94, productQty(t, repo, "prd-lager"))
	assert.True(t, money(7200+2000).Equal(updated.TotalBillAmount))

	history, err := svc.ListPackagingHistory(ctx, domain.PackagingHistoryFilter{})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.HistoryUpdate, history[0].Action)
	assert.Equal(t, 2, history[0].QuantityChanged)
	assert.Equal(t, 16, history[0].FullBefore)
	assert.Equal(t, 14, history[0].FullAfter)
}

func TestUpdateAddsAndDropsLines(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := asAdmin()

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{CustomerName: "Bar", Lines: []domain.SaleLineRequest{lagerLine(2, 0), sodaLine(10)}})
	require.NoError(t, err)
	assert.Equal(t, 0, productQty(t, repo, "prd-soda"))

	// The soda line is dropped and its stock is available to the new line.
	keep := lagerLine(2, 0)
	keep.ID = sale.Lines[0].ID
	updated, err := svc.UpdateSale(ctx, sale.ID, domain.SaleUpdateRequest{Lines: []domain.SaleLineRequest{keep, sodaLine(8)}})
	require.NoError(t, err)
	require.Len(t, updated.Lines, 2)
	assert.NotEqual(t, sale.Lines[1].ID, updated.Lines[1].ID)
	assert.Equal(t, 2, productQty(t, repo, "prd-soda"))

	stored, err := svc.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Lines, 2)
}

func TestUpdateDoesNotDependOnLineOrder(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := asAdmin()

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{CustomerName: "Bar", Lines: []domain.SaleLineRequest{sodaLine(10)}})
	require.NoError(t, err)
	require.Equal(t, 0, productQty(t, repo, "prd-soda"))

	// The new line comes first and needs the stock the kept line frees.
	shrink := sodaLine(5)
	shrink.ID = sale.Lines[0].ID
	updated, err := svc.UpdateSale(ctx, sale.ID, domain.SaleUpdateRequest{Lines: []domain.SaleLineRequest{sodaLine(5), shrink}})
	require.NoError(t, err)
	require.Len(t, updated.Lines, 2)
	assert.Equal(t, 0, productQty(t, repo, "prd-soda"))
	assert.Equal(t, shrink.ID, updated.Lines[1].ID)
	assert.Equal(t, 5, updated.Lines[1].Quantity)

	// One kept line grows before the other shrinks.
	grow := sodaLine(7)
	grow.ID = updated.Lines[0].ID
	shrink = sodaLine(3)
	shrink.ID = updated.Lines[1].ID
	_, err = svc.UpdateSale(ctx, sale.ID, domain.SaleUpdateRequest{Lines: []domain.SaleLineRequest{grow, shrink}})
	require.NoError(t, err)
	assert.Equal(t, 0, productQty(t, repo, "prd-soda"))

	grow.Quantity = 8
	_, err = svc.UpdateSale(ctx, sale.ID, domain.SaleUpdateRequest{Lines: []domain.SaleLineRequest{grow, shrink}})
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.Equal(t, 0, productQty(t, repo, "prd-soda"))
}

func TestUpdatePackagingDoesNotDependOnLineOrder(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := asAdmin()

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{CustomerName: "Bar", Lines: []domain.SaleLineRequest{lagerLine(20, 2)}})
	require.NoError(t, err)
	full, _ := packagingCounts(t, repo, "pkg-crate")
	require.Equal(t, 0, full)

	shrink := lagerLine(15, 2)
	shrink.ID = sale.Lines[0].ID
	_, err = svc.UpdateSale(ctx, sale.ID, domain.SaleUpdateRequest{Lines: []domain.SaleLineRequest{lagerLine(5, 1), shrink}})
	require.NoError(t, err)

	full, empty := packagingCounts(t, repo, "pkg-crate")
	assert.Equal(t, 0, full)
	assert.Equal(t, 3, empty)
	assert.Equal(t, 80, productQty(t, repo, "prd-lager"))
}

func TestUpdateRejectsUnknownLineID(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := asAdmin()

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{CustomerName: "Bar", Lines: []domain.SaleLineRequest{sodaLine(3)}})
	require.NoError(t, err)

	ghost := sodaLine(1)
	ghost.ID = "sl-missing"
	_, err = svc.UpdateSale(ctx, sale.ID, domain.SaleUpdateRequest{Lines: []domain.SaleLineRequest{sodaLine(1), ghost}})
	require.ErrorIs(t, err, store.ErrNotFound)
	var fe *store.FieldError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 1, fe.Line)
	assert.Equal(t, 7, productQty(t, repo, "prd-soda"))
}

func TestCreateIsAllOrNothing(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := asAdmin()

	_, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		CustomerName: "Bar",
		Lines:        []domain.SaleLineRequest{lagerLine(4, 1), sodaLine(11)},
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	var fe *store.FieldError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 1, fe.Line)
	assert.Equal(t, "quantity", fe.Field)

	assert.Equal(t, 10, productQty(t, repo, "prd-soda"))
	assert.Equal(t, 100, productQty(t, repo, "prd-lager"))
	full, empty := packagingCounts(t, repo, "pkg-crate")
	assert.Equal(t, 20, full)
	assert.Equal(t, 0, empty)

	history, err := svc.ListPackagingHistory(ctx, domain.PackagingHistoryFilter{})
	require.NoError(t, err)
	assert.Empty(t, history)

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{CustomerName: "Bar", Lines: []domain.SaleLineRequest{sodaLine(1)}})
	require.NoError(t, err)
	assert.Equal(t, "BILL-0001", sale.Number)
}

func TestReserveBoundary(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := asAdmin()

	_, err := svc.CreateSale(ctx, domain.SaleCreateRequest{CustomerName: "A", Lines: []domain.SaleLineRequest{sodaLine(11)}})
	assert.ErrorIs(t, err, store.ErrInsufficientStock)

	_, err = svc.CreateSale(ctx, domain.SaleCreateRequest{CustomerName: "A", Lines: []domain.SaleLineRequest{sodaLine(10)}})
	require.NoError(t, err)
	assert.Equal(t, 0, productQty(t, repo, "prd-soda"))
}

func TestRecordPackageBoundary(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := asAdmin()

	_, err := svc.CreateSale(ctx, domain.SaleCreateRequest{CustomerName: "A", Lines: []domain.SaleLineRequest{lagerLine(3, 4)}})
	require.ErrorIs(t, err, store.ErrValidation)
	assert.Contains(t, err.Error(), "record exceeds needed")

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{CustomerName: "A", Lines: []domain.SaleLineRequest{lagerLine(3, 3)}})
	require.NoError(t, err)
	assert.Equal(t, 0, sale.Lines[0].Packaging.Owed())
}

func TestPackagingShortageIsRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := asAdmin()

	_, err := svc.CreateSale(ctx, domain.SaleCreateRequest{CustomerName: "A", Lines: []domain.SaleLineRequest{lagerLine(21, 0)}})
	assert.ErrorIs(t, err, store.ErrInsufficientStock)
}

func TestSaleNumbersArePerEnterprise(t *testing.T) {
	svc, _ := newTestService(t)

	first, err := svc.CreateSale(asAdmin(), domain.SaleCreateRequest{CustomerName: "A", Lines: []domain.SaleLineRequest{sodaLine(1)}})
	require.NoError(t, err)
	second, err := svc.CreateSale(asAdmin(), domain.SaleCreateRequest{CustomerName: "B", Lines: []domain.SaleLineRequest{sodaLine(1)}})
	require.NoError(t, err)
	other, err := svc.CreateSale(asOtherEnterprise(), domain.SaleCreateRequest{
		CustomerName: "C",
		Lines:        []domain.SaleLineRequest{{ProductID: "prd-other-soda", SellPriceID: "sp-other-soda", Quantity: 1}},
	})
	require.NoError(t, err)

	assert.Equal(t, "BILL-0001", first.Number)
	assert.Equal(t, "BILL-0002", second.Number)
	assert.Equal(t, "BILL-0001", other.Number)
}

func TestVariantLines(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := asAdmin()

	_, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		CustomerName: "A",
		Lines:        []domain.SaleLineRequest{{ProductID: "prd-juice", SellPriceID: "sp-juice", Quantity: 1}},
	})
	require.ErrorIs(t, err, store.ErrValidation)

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		CustomerName: "A",
		Lines:        []domain.SaleLineRequest{{VariantID: "var-mango", SellPriceID: "sp-juice", Quantity: 4}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.VariantTarget("var-mango"), sale.Lines[0].Target)
	assert.Equal(t, "prd-juice", sale.Lines[0].ProductID)
	assert.Equal(t, 56, productQty(t, repo, "prd-juice"))

	// Switching the line to another variant moves the stock with it.
	edit := domain.SaleLineRequest{ID: sale.Lines[0].ID, VariantID: "var-orange", SellPriceID: "sp-juice", Quantity: 4}
	_, err = svc.UpdateSale(ctx, sale.ID, domain.SaleUpdateRequest{Lines: []domain.SaleLineRequest{edit}})
	require.NoError(t, err)

	juice, err := repo.GetProduct(context.Background(), "prd-juice")
	require.NoError(t, err)
	for _, v := range juice.Variants {
		switch v.ID {
		case "var-mango":
			assert.Equal(t, 30, v.Quantity)
		case "var-orange":
			assert.Equal(t, 26, v.Quantity)
		}
	}
}

func TestLineValidation(t *testing.T) {
	svc, repo := newTestService(t)
	addLooseBeer(t, repo)
	ctx := asAdmin()

	cases := map[string]struct {
		req   domain.SaleCreateRequest
		kind  error
		field string
	}{
		"both targets": {
			req:   domain.SaleCreateRequest{CustomerName: "A", Lines: []domain.SaleLineRequest{{ProductID: "prd-soda", VariantID: "var-mango", SellPriceID: "sp-soda", Quantity: 1}}},
			kind:  store.ErrValidation,
			field: "product_id",
		},
		"zero quantity": {
			req:   domain.SaleCreateRequest{CustomerName: "A", Lines: []domain.SaleLineRequest{sodaLine(0)}},
			kind:  store.ErrValidation,
			field: "quantity",
		},
		"unknown product": {
			req:   domain.SaleCreateRequest{CustomerName: "A", Lines: []domain.SaleLineRequest{{ProductID: "prd-nope", SellPriceID: "sp-soda", Quantity: 1}}},
			kind:  store.ErrNotFound,
			field: "product_id",
		},
		"unknown sell price": {
			req:   domain.SaleCreateRequest{CustomerName: "A", Lines: []domain.SaleLineRequest{{ProductID: "prd-soda", SellPriceID: "sp-nope", Quantity: 1}}},
			kind:  store.ErrNotFound,
			field: "sell_price_id",
		},
		"foreign sell price": {
			req:   domain.SaleCreateRequest{CustomerName: "A", Lines: []domain.SaleLineRequest{{ProductID: "prd-soda", SellPriceID: "sp-lager", Quantity: 1}}},
			kind:  store.ErrValidation,
			field: "sell_price_id",
		},
		"record on non returnable": {
			req:   domain.SaleCreateRequest{CustomerName: "A", Lines: []domain.SaleLineRequest{{ProductID: "prd-soda", SellPriceID: "sp-soda", Quantity: 2, RecordPackage: 1}}},
			kind:  store.ErrValidation,
			field: "record_package",
		},
		"returnable product without packaging": {
			req:   domain.SaleCreateRequest{CustomerName: "A", Lines: []domain.SaleLineRequest{{ProductID: "prd-loose-beer", SellPriceID: "sp-loose-beer", Quantity: 1}}},
			kind:  store.ErrValidation,
			field: "packaging",
		},
		"product of another sales point": {
			req:   domain.SaleCreateRequest{CustomerName: "A", Lines: []domain.SaleLineRequest{{ProductID: "prd-north-soda", SellPriceID: "sp-north-soda", Quantity: 1}}},
			kind:  store.ErrNotFound,
			field: "product_id",
		},
		"anonymous without name": {
			req:   domain.SaleCreateRequest{Lines: []domain.SaleLineRequest{sodaLine(1)}},
			kind:  store.ErrValidation,
			field: "customer_name",
		},
		"no lines": {
			req:   domain.SaleCreateRequest{CustomerName: "A"},
			kind:  store.ErrValidation,
			field: "lines",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.CreateSale(ctx, tc.req)
			require.ErrorIs(t, err, tc.kind)
			var fe *store.FieldError
			require.True(t, errors.As(err, &fe), "expected a field error, got %v", err)
			assert.Equal(t, tc.field, fe.Field)
		})
	}
}

func TestClientSaleSnapshotsName(t *testing.T) {
	svc, _ := newTestService(t)

	sale, err := svc.CreateSale(asAdmin(), domain.SaleCreateRequest{ClientID: "cli-bar", Lines: []domain.SaleLineRequest{sodaLine(1)}})
	require.NoError(t, err)
	assert.Equal(t, "Corner Bar", sale.CustomerName)
	assert.Equal(t, "cli-bar", sale.ClientID)
}

func TestSaleAuthorization(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateSale(context.Background(), domain.SaleCreateRequest{CustomerName: "A", Lines: []domain.SaleLineRequest{sodaLine(1)}})
	assert.ErrorIs(t, err, store.ErrForbidden)

	_, err = svc.CreateSale(asEmployee("sp-main"), domain.SaleCreateRequest{SalesPointID: "sp-north", CustomerName: "A", Lines: []domain.SaleLineRequest{sodaLine(1)}})
	assert.ErrorIs(t, err, store.ErrForbidden)

	northSale, err := svc.CreateSale(asAdmin(), domain.SaleCreateRequest{
		SalesPointID: "sp-north",
		CustomerName: "A",
		Lines:        []domain.SaleLineRequest{{ProductID: "prd-north-soda", SellPriceID: "sp-north-soda", Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, "sp-north", northSale.SalesPointID)

	_, err = svc.GetSale(asEmployee("sp-main"), northSale.ID)
	assert.ErrorIs(t, err, store.ErrForbidden)
	err = svc.DeleteSale(asEmployee("sp-main"), northSale.ID)
	assert.ErrorIs(t, err, store.ErrForbidden)

	_, err = svc.GetSale(asOtherEnterprise(), northSale.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	err = svc.DeleteSale(asOtherEnterprise(), northSale.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = svc.CreateSale(asAdmin(), domain.SaleCreateRequest{SalesPointID: "sp-other", CustomerName: "A", Lines: []domain.SaleLineRequest{sodaLine(1)}})
	assert.ErrorIs(t, err, store.ErrNotFound)

	own, err := svc.CreateSale(asEmployee("sp-main"), domain.SaleCreateRequest{CustomerName: "A", Lines: []domain.SaleLineRequest{sodaLine(1)}})
	require.NoError(t, err)
	sales, err := svc.ListSales(asEmployee("sp-main"), domain.SaleFilter{})
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, own.ID, sales[0].ID)

	all, err := svc.ListSales(asAdmin(), domain.SaleFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestAssignAndDeliver(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := asManager()

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{ClientID: "cli-bar", Lines: []domain.SaleLineRequest{sodaLine(4)}})
	require.NoError(t, err)

	_, err = svc.DeliverSale(ctx, sale.ID, domain.DeliverSaleRequest{Amount: money(1200)})
	require.ErrorIs(t, err, store.ErrValidation)

	clerk := "emp-clerk"
	_, err = svc.AssignDeliverer(ctx, sale.ID, domain.DelivererAssignRequest{DelivererID: &clerk})
	require.ErrorIs(t, err, store.ErrValidation)

	driver := "emp-driver"
	_, err = svc.AssignDeliverer(asEmployee("sp-main"), sale.ID, domain.DelivererAssignRequest{DelivererID: &driver})
	require.ErrorIs(t, err, store.ErrForbidden)

	assigned, err := svc.AssignDeliverer(ctx, sale.ID, domain.DelivererAssignRequest{DelivererID: &driver})
	require.NoError(t, err)
	assert.Equal(t, domain.SalePending, assigned.State)
	assert.Equal(t, "emp-driver", assigned.DelivererID)

	_, err = svc.DeliverSale(ctx, sale.ID, domain.DeliverSaleRequest{Amount: money(1201)})
	require.ErrorIs(t, err, store.ErrValidation)

	delivered, err := svc.DeliverSale(ctx, sale.ID, domain.DeliverSaleRequest{Amount: money(1200), ReduceFromBalance: true})
	require.NoError(t, err)
	assert.Equal(t, domain.SaleDelivered, delivered.State)
	assert.True(t, money(1200).Equal(delivered.Paid))

	client, err := repo.GetClient(context.Background(), "cli-bar")
	require.NoError(t, err)
	assert.True(t, money(3800).Equal(client.Balance))
	sp, err := repo.GetSalesPoint(context.Background(), "sp-main")
	require.NoError(t, err)
	assert.True(t, money(1200).Equal(sp.Balance))

	_, err = svc.UpdateSale(ctx, sale.ID, domain.SaleUpdateRequest{Lines: []domain.SaleLineRequest{sodaLine(1)}})
	assert.ErrorIs(t, err, store.ErrValidation)
	err = svc.DeleteSale(ctx, sale.ID)
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestDeliverUsesClientBalanceAsPaid(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := asAdmin()

	client, err := svc.CreateClient(ctx, domain.ClientCreateRequest{Name: "Thin wallet", Balance: money(500)})
	require.NoError(t, err)
	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{ClientID: client.ID, Lines: []domain.SaleLineRequest{sodaLine(3)}})
	require.NoError(t, err)

	driver := "emp-driver"
	_, err = svc.AssignDeliverer(ctx, sale.ID, domain.DelivererAssignRequest{DelivererID: &driver})
	require.NoError(t, err)

	delivered, err := svc.DeliverSale(ctx, sale.ID, domain.DeliverSaleRequest{Amount: money(900), ReduceFromBalance: true, UseBalanceAsPaid: true})
	require.NoError(t, err)
	assert.True(t, money(500).Equal(delivered.Paid))

	stored, err := repo.GetClient(context.Background(), client.ID)
	require.NoError(t, err)
	assert.True(t, stored.Balance.IsZero())
}

func TestDebtSettlementScenario(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := asManager()

	debt, err := svc.CreateDebt(ctx, domain.DebtCreateRequest{EmployeeID: "emp-clerk", Amount: money(100), Reason: "advance"})
	require.NoError(t, err)
	assert.Equal(t, domain.DebtPending, debt.Status)

	result, err := svc.PayDebt(ctx, debt.ID, domain.DebtPaymentRequest{Amount: money(100)})
	require.NoError(t, err)
	assert.True(t, money(40).Equal(result.Debt.Amount))
	assert.Equal(t, domain.DebtPending, result.Debt.Status)
	assert.True(t, result.MonthlySalary.IsZero())
	assert.True(t, money(60).Equal(result.SalaryAbsorbed))

	result, err = svc.PayDebt(ctx, debt.ID, domain.DebtPaymentRequest{Amount: money(40)})
	require.NoError(t, err)
	assert.True(t, result.Debt.Amount.IsZero())
	assert.Equal(t, domain.DebtPaid, result.Debt.Status)

	employee, err := repo.GetEmployee(context.Background(), "emp-clerk")
	require.NoError(t, err)
	assert.True(t, employee.MonthlySalary.IsZero())

	_, err = svc.PayDebt(ctx, debt.ID, domain.DebtPaymentRequest{Amount: money(1)})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestPayDebtRejectsBadAmounts(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := asAdmin()

	debt, err := svc.CreateDebt(ctx, domain.DebtCreateRequest{EmployeeID: "emp-driver", Amount: money(50)})
	require.NoError(t, err)

	for _, amount := range []decimal.Decimal{money(0), money(-5), money(51), decimal.RequireFromString("10.005")} {
		_, err := svc.PayDebt(ctx, debt.ID, domain.DebtPaymentRequest{Amount: amount})
		assert.ErrorIs(t, err, store.ErrValidation, amount.String())
	}

	result, err := svc.PayDebt(ctx, debt.ID, domain.DebtPaymentRequest{Amount: money(20)})
	require.NoError(t, err)
	assert.True(t, money(30).Equal(result.Debt.Amount))
	assert.True(t, money(280).Equal(result.MonthlySalary))

	employee, err := repo.GetEmployee(context.Background(), "emp-driver")
	require.NoError(t, err)
	assert.True(t, money(280).Equal(employee.MonthlySalary))
}

func TestSettle(t *testing.T) {
	cases := []struct {
		name                 string
		debt, salary, amount int64
		wantDebt, wantSalary int64
	}{
		{"salary covers payment", 100, 300, 40, 60, 260},
		{"payment exceeds salary", 100, 60, 100, 40, 0},
		{"no salary left", 40, 0, 40, 0, 0},
		{"payment equals salary", 100, 60, 60, 40, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			debt, salary := Settle(money(tc.debt), money(tc.salary), money(tc.amount))
			assert.True(t, money(tc.wantDebt).Equal(debt), "debt %s", debt)
			assert.True(t, money(tc.wantSalary).Equal(salary), "salary %s", salary)
		})
	}
}

func TestDebtsAreStaffOnly(t *testing.T) {
	svc, _ := newTestService(t)
	emp := asEmployee("sp-main")

	_, err := svc.CreateDebt(emp, domain.DebtCreateRequest{EmployeeID: "emp-clerk", Amount: money(10)})
	assert.ErrorIs(t, err, store.ErrForbidden)
	_, err = svc.ListDebts(emp, domain.DebtFilter{})
	assert.ErrorIs(t, err, store.ErrForbidden)

	debt, err := svc.CreateDebt(asAdmin(), domain.DebtCreateRequest{EmployeeID: "emp-clerk", Amount: money(10)})
	require.NoError(t, err)

	_, err = svc.PayDebt(emp, debt.ID, domain.DebtPaymentRequest{Amount: money(5)})
	assert.ErrorIs(t, err, store.ErrForbidden)
	err = svc.DeleteDebt(emp, debt.ID)
	assert.ErrorIs(t, err, store.ErrForbidden)
	_, err = svc.PayDebt(asOtherEnterprise(), debt.ID, domain.DebtPaymentRequest{Amount: money(5)})
	assert.ErrorIs(t, err, store.ErrNotFound)

	debts, err := svc.ListDebts(asManager(), domain.DebtFilter{Status: domain.DebtPending})
	require.NoError(t, err)
	require.Len(t, debts, 1)

	require.NoError(t, svc.DeleteDebt(asManager(), debt.ID))
	debts, err = svc.ListDebts(asManager(), domain.DebtFilter{})
	require.NoError(t, err)
	assert.Empty(t, debts)
}

func TestCreateProductRefillsPackaging(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := asAdmin()

	pkg, err := svc.CreatePackaging(ctx, domain.PackagingCreateRequest{Name: "Crate 12", Price: money(300), FullQuantity: 2, EmptyQuantity: 10})
	require.NoError(t, err)

	product, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Stout", Price: money(900), Quantity: 6, IsBeer: true, PackagingID: pkg.ID})
	require.NoError(t, err)

	full, empty := packagingCounts(t, repo, pkg.ID)
	assert.Equal(t, 8, full)
	assert.Equal(t, 4, empty)

	history, err := svc.ListPackagingHistory(ctx, domain.PackagingHistoryFilter{PackagingID: pkg.ID})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.HistoryRefill, history[0].Action)
	assert.Equal(t, product.ID, history[0].ProductID)

	price, err := svc.CreateSellPrice(ctx, product.ID, domain.SellPriceCreateRequest{Price: money(950)})
	require.NoError(t, err)

	sale, err := svc.CreateSale(ctx, domain.SaleCreateRequest{
		CustomerName: "A",
		Lines:        []domain.SaleLineRequest{{ProductID: product.ID, SellPriceID: price.ID, Quantity: 2, RecordPackage: 2}},
	})
	require.NoError(t, err)
	assert.True(t, money(1900).Equal(sale.Total))
	assert.True(t, money(2500).Equal(sale.TotalBillAmount))
}

func TestCreateProductValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := asAdmin()

	_, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Lager", Price: money(1), IsBeer: true})
	assert.ErrorIs(t, err, store.ErrValidation)

	_, err = svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Soda", Price: money(1), PackagingID: "pkg-crate"})
	assert.ErrorIs(t, err, store.ErrValidation)

	_, err = svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Lager", Price: money(1), IsBeer: true, PackagingID: "pkg-nope"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = svc.CreateProduct(asEmployee("sp-main"), domain.ProductCreateRequest{Name: "Soda", Price: money(1)})
	assert.ErrorIs(t, err, store.ErrForbidden)

	product, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{
		Name:     "Tea",
		Price:    money(200),
		Variants: []domain.VariantCreateRequest{{Name: "Green", Quantity: 3}, {Name: "Black", Quantity: 4}},
	})
	require.NoError(t, err)
	assert.True(t, product.WithVariant)
	assert.Equal(t, 7, product.TotalQuantity())
}

func TestMoneyAllowsAtMostTwoDecimals(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := asAdmin()

	_, err := svc.CreateSellPrice(ctx, "prd-soda", domain.SellPriceCreateRequest{Price: decimal.RequireFromString("0.005")})
	require.ErrorIs(t, err, store.ErrValidation)
	var fe *store.FieldError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "price", fe.Field)

	_, err = svc.CreatePackaging(ctx, domain.PackagingCreateRequest{Name: "Keg", Price: decimal.RequireFromString("12.345")})
	assert.ErrorIs(t, err, store.ErrValidation)

	price, err := svc.CreateSellPrice(ctx, "prd-soda", domain.SellPriceCreateRequest{Price: decimal.RequireFromString("0.50")})
	require.NoError(t, err)
	assert.Equal(t, "0.5", price.Price.String())
}

func TestGetEmployeeAndClient(t *testing.T) {
	svc, _ := newTestService(t)

	debt, err := svc.CreateDebt(asAdmin(), domain.DebtCreateRequest{EmployeeID: "emp-driver", Amount: money(50)})
	require.NoError(t, err)
	_, err = svc.PayDebt(asAdmin(), debt.ID, domain.DebtPaymentRequest{Amount: money(20)})
	require.NoError(t, err)

	employee, err := svc.GetEmployee(asManager(), "emp-driver")
	require.NoError(t, err)
	assert.True(t, money(280).Equal(employee.MonthlySalary))
	assert.True(t, employee.IsDeliverer)

	_, err = svc.GetEmployee(asEmployee("sp-main"), "emp-driver")
	assert.ErrorIs(t, err, store.ErrForbidden)
	_, err = svc.GetEmployee(asOtherEnterprise(), "emp-driver")
	assert.ErrorIs(t, err, store.ErrNotFound)

	client, err := svc.GetClient(asEmployee("sp-main"), "cli-bar")
	require.NoError(t, err)
	assert.Equal(t, "Corner Bar", client.Name)

	_, err = svc.GetClient(asEmployee("sp-north"), "cli-bar")
	assert.ErrorIs(t, err, store.ErrForbidden)
	_, err = svc.GetClient(asOtherEnterprise(), "cli-bar")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = svc.GetClient(asAdmin(), "cli-nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestExportPackagingHistory(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := asAdmin()

	_, err := svc.CreateSale(ctx, domain.SaleCreateRequest{CustomerName: "Bar", Lines: []domain.SaleLineRequest{lagerLine(2, 1)}})
	require.NoError(t, err)

	data, name, err := svc.ExportPackagingHistory(ctx, domain.PackagingHistoryFilter{})
	require.NoError(t, err)
	assert.Equal(t, "packaging_history_20260314_093000.xlsx", name)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Packaging history")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "create", rows[1][1])

	_, _, err = svc.ExportPackagingHistory(asEmployee("sp-north"), domain.PackagingHistoryFilter{SalesPointID: "sp-main"})
	assert.ErrorIs(t, err, store.ErrForbidden)
}
