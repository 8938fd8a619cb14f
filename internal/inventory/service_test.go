package inventory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/dealerledger/internal/inventory"
	"github.com/odyssey-erp/dealerledger/internal/ledger"
	"github.com/odyssey-erp/dealerledger/internal/ledger/ledgertest"
	"github.com/odyssey-erp/dealerledger/internal/platform/lock"
	"github.com/odyssey-erp/dealerledger/internal/posting"
	"github.com/odyssey-erp/dealerledger/internal/shared"
)

var testNow = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, d(want).Equal(got), "want %s got %s", want, got.String())
}

type stubLocker struct {
	mu    sync.Mutex
	err   error
	keys  []string
	freed int
}

func (l *stubLocker) Obtain(_ context.Context, key string, _ time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	if l.err != nil {
		return nil, l.err
	}
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.freed++
		return nil
	}, nil
}

type eventRecorder struct {
	err    error
	events []inventory.StockEditedEvent
}

func (e *eventRecorder) HandleStockEdited(_ context.Context, evt inventory.StockEditedEvent) error {
	e.events = append(e.events, evt)
	return e.err
}

type editMetrics struct {
	methods []string
	failed  int
}

func (m *editMetrics) ObserveStockEdit(method string, err error) {
	m.methods = append(m.methods, method)
	if err != nil {
		m.failed++
	}
}

type fixture struct {
	store   *ledgertest.Store
	outlet  uuid.UUID
	chart   map[ledger.SubType]ledger.Account
	posting *posting.Service
	svc     *inventory.Service
	locker  *stubLocker
	events  *eventRecorder
	metrics *editMetrics
	user    uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := ledgertest.NewStore()
	outlet := uuid.New()
	chart := store.SeedChart(outlet)
	ledgerSvc := ledger.NewService(store, nil, nil, ledger.Config{}, nil)
	ledgerSvc.WithNow(func() time.Time { return testNow })
	postingSvc := posting.NewService(ledgerSvc, nil, nil)
	f := &fixture{
		store:   store,
		outlet:  outlet,
		chart:   chart,
		posting: postingSvc,
		locker:  &stubLocker{},
		events:  &eventRecorder{},
		metrics: &editMetrics{},
		user:    uuid.New(),
	}
	f.svc = inventory.NewService(postingSvc, f.locker, f.events, f.metrics, inventory.ServiceConfig{}, nil)
	return f
}

func (f *fixture) stocked(t *testing.T, name, qty, cost string) ledger.Product {
	t.Helper()
	p := f.store.SeedProduct(ledger.Product{OutletID: f.outlet, Name: name, SKU: name})
	_, err := f.posting.PostInventoryAdjustment(context.Background(), posting.InventoryAdjustment{
		OutletID:     f.outlet,
		ProductID:    p.ID,
		Date:         time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		Quantity:     d(qty),
		UnitCost:     d(cost),
		OpeningStock: true,
	}, f.user)
	require.NoError(t, err)
	return f.store.Product(p.ID)
}

func (f *fixture) balance(role ledger.SubType) decimal.Decimal {
	return f.store.Account(f.chart[role].ID).CurrentBalance
}

func (f *fixture) activeOpening(t *testing.T, productID uuid.UUID) []ledger.Voucher {
	t.Helper()
	var active []ledger.Voucher
	err := f.store.WithTx(context.Background(), func(ctx context.Context, tx ledger.TxRepository) error {
		var err error
		active, err = f.posting.Ledger().ActiveVouchers(ctx, tx, f.outlet, ledger.RefOpeningStock, productID.String())
		return err
	})
	require.NoError(t, err)
	return active
}

func (f *fixture) edit(productID uuid.UUID, oldStock, newStock, cost string) inventory.StockEdit {
	return inventory.StockEdit{
		OutletID:  f.outlet,
		ProductID: productID,
		OldStock:  d(oldStock),
		NewStock:  d(newStock),
		CostPrice: d(cost),
		Reason:    "stock take",
		UserID:    f.user,
	}
}

func TestStockEditReversesOpeningStockWithoutHistory(t *testing.T) {
	f := newFixture(t)
	tyre := f.stocked(t, "TYRE-185", "50", "100")
	requireDecimal(t, "5000", f.balance(ledger.SubTypeInventory))

	res, err := f.svc.HandleStockEdit(context.Background(), f.edit(tyre.ID, "50", "80", "0"))
	require.NoError(t, err)
	require.Equal(t, inventory.MethodReversal, res.Method)
	require.Len(t, res.VoucherIDs, 2)
	requireDecimal(t, "30", res.StockDifference)
	requireDecimal(t, "3000", res.ValueChange)
	requireDecimal(t, "80", res.Stock)
	requireDecimal(t, "100", res.CostPrice)

	requireDecimal(t, "80", f.store.Product(tyre.ID).CurrentStock)
	requireDecimal(t, "8000", f.balance(ledger.SubTypeInventory))
	requireDecimal(t, "8000", f.balance(ledger.SubTypeOwnerEquity))

	active := f.activeOpening(t, tyre.ID)
	require.Len(t, active, 1)
	require.Equal(t, res.VoucherIDs[1], active[0].ID)
	require.Equal(t, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), active[0].Date)

	var openingQty decimal.Decimal
	for _, m := range f.store.Movements() {
		if m.VoucherID != nil && *m.VoucherID == active[0].ID {
			openingQty = m.Quantity
		}
	}
	requireDecimal(t, "80", openingQty)

	require.Equal(t, []string{shared.StockEditLockKey(f.outlet, tyre.ID)}, f.locker.keys)
	require.Equal(t, 1, f.locker.freed)
	require.Len(t, f.events.events, 1)
	require.Equal(t, inventory.MethodReversal, f.events.events[0].Method)
	require.Equal(t, []string{"reversal"}, f.metrics.methods)
}

func TestStockEditToZeroOnlyReverses(t *testing.T) {
	f := newFixture(t)
	tyre := f.stocked(t, "TYRE-195", "12", "40")

	res, err := f.svc.HandleStockEdit(context.Background(), f.edit(tyre.ID, "12", "0", "0"))
	require.NoError(t, err)
	require.Equal(t, inventory.MethodReversal, res.Method)
	require.Len(t, res.VoucherIDs, 1)
	requireDecimal(t, "0", res.Stock)
	requireDecimal(t, "0", f.balance(ledger.SubTypeInventory))
	require.Empty(t, f.activeOpening(t, tyre.ID))
}

func TestStockEditPostsDeltaAfterTrading(t *testing.T) {
	f := newFixture(t)
	oil := f.stocked(t, "OIL-5W30", "50", "100")
	ctx := context.Background()

	_, err := f.posting.PostSale(ctx, posting.Sale{
		ID:            "S-1",
		OutletID:      f.outlet,
		PaymentMethod: posting.PaymentCash,
		GrandTotal:    d("750"),
		Lines: []posting.SaleLine{
			{ProductID: &oil.ID, Name: "Oil", Quantity: d("5"), UnitPrice: d("150")},
		},
	}, f.user)
	require.NoError(t, err)
	requireDecimal(t, "45", f.store.Product(oil.ID).CurrentStock)

	res, err := f.svc.HandleStockEdit(ctx, f.edit(oil.ID, "45", "75", "0"))
	require.NoError(t, err)
	require.Equal(t, inventory.MethodDelta, res.Method)
	require.Len(t, res.VoucherIDs, 1)
	requireDecimal(t, "75", res.Stock)
	requireDecimal(t, "3000", res.ValueChange)
	requireDecimal(t, "7500", f.balance(ledger.SubTypeInventory))

	require.Len(t, f.activeOpening(t, oil.ID), 1)
	err = f.store.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		sales, err := f.posting.Ledger().ActiveVouchers(ctx, tx, f.outlet, ledger.RefSale, "S-1")
		require.Len(t, sales, 1)
		return err
	})
	require.NoError(t, err)

	res, err = f.svc.HandleStockEdit(ctx, f.edit(oil.ID, "75", "70", "0"))
	require.NoError(t, err)
	require.Equal(t, inventory.MethodDelta, res.Method)
	requireDecimal(t, "-500", res.ValueChange)
	requireDecimal(t, "7000", f.balance(ledger.SubTypeInventory))
}

func TestStockEditFallsBackToDeltaWithoutOpeningVoucher(t *testing.T) {
	f := newFixture(t)
	// zero-cost opening stock moves quantity without posting a voucher
	filter := f.stocked(t, "FILTER", "10", "0")
	require.Empty(t, f.activeOpening(t, filter.ID))

	res, err := f.svc.HandleStockEdit(context.Background(), f.edit(filter.ID, "10", "12", "25"))
	require.NoError(t, err)
	require.Equal(t, inventory.MethodDelta, res.Method)
	require.Len(t, res.VoucherIDs, 1)
	requireDecimal(t, "12", res.Stock)
	requireDecimal(t, "50", f.balance(ledger.SubTypeInventory))
}

func TestStockEditNoop(t *testing.T) {
	f := newFixture(t)
	wiper := f.stocked(t, "WIPER", "8", "30")
	before := len(f.store.Vouchers())

	res, err := f.svc.HandleStockEdit(context.Background(), f.edit(wiper.ID, "8", "8", "30"))
	require.NoError(t, err)
	require.Equal(t, inventory.MethodNoop, res.Method)
	require.True(t, res.StockDifference.IsZero())
	require.Len(t, f.store.Vouchers(), before)
	require.Empty(t, f.locker.keys)
	require.Empty(t, f.events.events)
}

func TestStockEditRejectsStaleAndInvalidInput(t *testing.T) {
	f := newFixture(t)
	belt := f.stocked(t, "BELT", "50", "100")
	before := len(f.store.Vouchers())

	_, err := f.svc.HandleStockEdit(context.Background(), f.edit(belt.ID, "40", "60", "0"))
	require.ErrorIs(t, err, inventory.ErrStockChanged)
	require.Equal(t, 1, f.metrics.failed)

	_, err = f.svc.HandleStockEdit(context.Background(), f.edit(belt.ID, "50", "-1", "0"))
	require.ErrorIs(t, err, inventory.ErrInvalidEdit)

	other := f.edit(belt.ID, "50", "60", "0")
	other.OutletID = uuid.New()
	_, err = f.svc.HandleStockEdit(context.Background(), other)
	require.ErrorIs(t, err, inventory.ErrInvalidEdit)

	require.Len(t, f.store.Vouchers(), before)
	requireDecimal(t, "50", f.store.Product(belt.ID).CurrentStock)
	require.Equal(t, 2, f.locker.freed)
}

func TestStockEditBusyLock(t *testing.T) {
	f := newFixture(t)
	pad := f.stocked(t, "BRAKE-PAD", "20", "60")
	f.locker.err = lock.ErrBusy
	before := len(f.store.Vouchers())

	_, err := f.svc.HandleStockEdit(context.Background(), f.edit(pad.ID, "20", "25", "0"))
	require.ErrorIs(t, err, lock.ErrBusy)
	require.Len(t, f.store.Vouchers(), before)
	requireDecimal(t, "20", f.store.Product(pad.ID).CurrentStock)
}

func TestStockEditEventFailureDoesNotFailEdit(t *testing.T) {
	f := newFixture(t)
	plug := f.stocked(t, "SPARK-PLUG", "4", "15")
	f.events.err = errors.New("queue down")

	res, err := f.svc.HandleStockEdit(context.Background(), f.edit(plug.ID, "4", "6", "0"))
	require.NoError(t, err)
	requireDecimal(t, "6", res.Stock)
	require.Len(t, f.events.events, 1)
}

func TestStockEditWithRedisLock(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := newFixture(t)
	svc := inventory.NewService(f.posting, lock.New(rdb), nil, nil, inventory.ServiceConfig{LockTTL: time.Second}, nil)
	battery := f.stocked(t, "BATTERY", "3", "900")

	res, err := svc.HandleStockEdit(context.Background(), f.edit(battery.ID, "3", "5", "0"))
	require.NoError(t, err)
	requireDecimal(t, "5", res.Stock)
	require.False(t, mr.Exists(shared.StockEditLockKey(f.outlet, battery.ID)))
}

func TestRecomputeAndStockCard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mirror := f.stocked(t, "MIRROR", "10", "20")
	_, err := f.posting.PostInventoryAdjustment(ctx, posting.InventoryAdjustment{
		OutletID:  f.outlet,
		ProductID: mirror.ID,
		Date:      time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC),
		Quantity:  d("-3"),
		Reason:    "damaged",
	}, f.user)
	require.NoError(t, err)

	f.store.SetProductStock(mirror.ID, d("99"))
	replay, err := f.svc.RecomputeProduct(ctx, f.outlet, mirror.ID)
	require.NoError(t, err)
	requireDecimal(t, "7", replay.Stock)
	requireDecimal(t, "99", replay.PreviousStock)
	requireDecimal(t, "7", f.store.Product(mirror.ID).CurrentStock)

	card, err := f.svc.StockCard(ctx, inventory.StockCardFilter{ProductID: mirror.ID})
	require.NoError(t, err)
	require.Len(t, card, 2)
	requireDecimal(t, "10", card[0].BalanceAfter)
	requireDecimal(t, "7", card[1].BalanceAfter)

	from := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	card, err = f.svc.StockCard(ctx, inventory.StockCardFilter{ProductID: mirror.ID, From: &from})
	require.NoError(t, err)
	require.Len(t, card, 1)

	_, err = f.svc.RecomputeProduct(ctx, uuid.Nil, mirror.ID)
	require.ErrorIs(t, err, inventory.ErrInvalidEdit)
}
