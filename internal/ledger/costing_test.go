package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestWeightedAverageCost(t *testing.T) {
	cases := []struct {
		name                    string
		stock, cost, qty, price string
		want                    string
	}{
		{name: "blend", stock: "10", cost: "100", qty: "5", price: "130", want: "110"},
		{name: "premium lot", stock: "10", cost: "100", qty: "5", price: "230", want: "143.3333"},
		{name: "empty stock", stock: "0", cost: "0", qty: "4", price: "250", want: "250"},
		{name: "zero total keeps cost", stock: "5", cost: "90", qty: "-5", price: "90", want: "90"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := WeightedAverageCost(dec(tc.stock), dec(tc.cost), dec(tc.qty), dec(tc.price))
			require.True(t, dec(tc.want).Equal(got), "want %s got %s", tc.want, got)
		})
	}
}

func TestValidateEntries(t *testing.T) {
	cash := Account{ID: uuid.New(), Code: "1000", Type: AccountTypeAsset}
	sales := Account{ID: uuid.New(), Code: "4000", Type: AccountTypeRevenue}

	debit, credit, err := ValidateEntries([]EntryLine{
		Debit(cash, dec("100"), ""),
		Credit(sales, dec("100.005"), ""),
	}, DefaultTolerance)
	require.NoError(t, err)
	require.True(t, dec("100").Equal(debit))
	require.True(t, dec("100.005").Equal(credit))

	_, _, err = ValidateEntries([]EntryLine{Debit(cash, dec("1"), "")}, DefaultTolerance)
	require.ErrorIs(t, err, ErrTooFewEntries)

	_, _, err = ValidateEntries([]EntryLine{Debit(cash, dec("100"), ""), Credit(sales, dec("90"), "")}, DefaultTolerance)
	require.ErrorIs(t, err, ErrUnbalanced)

	_, _, err = ValidateEntries([]EntryLine{
		{Account: cash, Debit: dec("5"), Credit: dec("5")},
		Credit(sales, dec("0"), ""),
	}, DefaultTolerance)
	require.ErrorIs(t, err, ErrInvalidEntry)

	_, _, err = ValidateEntries([]EntryLine{Debit(Account{}, dec("5"), ""), Credit(sales, dec("5"), "")}, DefaultTolerance)
	require.ErrorIs(t, err, ErrInvalidEntry)

	_, _, err = ValidateEntries([]EntryLine{Debit(cash, dec("-5"), ""), Credit(sales, dec("-5"), "")}, DefaultTolerance)
	require.ErrorIs(t, err, ErrInvalidEntry)
}

func TestBalanceDeltaFollowsNormalSide(t *testing.T) {
	require.True(t, dec("50").Equal(BalanceDelta(AccountTypeAsset, dec("50"), decimal.Zero)))
	require.True(t, dec("-50").Equal(BalanceDelta(AccountTypeExpense, decimal.Zero, dec("50"))))
	require.True(t, dec("50").Equal(BalanceDelta(AccountTypeRevenue, decimal.Zero, dec("50"))))
	require.True(t, dec("-50").Equal(BalanceDelta(AccountTypeLiability, dec("50"), decimal.Zero)))
}

type numberStub struct {
	max      int64
	existing map[string]bool
	err      error
}

func (s numberStub) MaxVoucherSequence(context.Context, uuid.UUID, string, string) (int64, error) {
	return s.max, s.err
}

func (s numberStub) VoucherNumberExists(_ context.Context, _ uuid.UUID, number string) (bool, error) {
	return s.existing[number], nil
}

type counterStub struct {
	next int64
}

func (c *counterStub) Next(context.Context, string, int64) (int64, error) {
	c.next++
	return c.next, nil
}

func TestNumberAllocator(t *testing.T) {
	ctx := context.Background()
	outlet := uuid.New()
	at := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	alloc := NewNumberAllocator(nil, 3)
	number, err := alloc.Next(ctx, numberStub{}, VoucherTypeReceipt, outlet, at)
	require.NoError(t, err)
	require.Equal(t, "RE-202610-00001", number)

	number, err = alloc.Next(ctx, numberStub{max: 7, existing: map[string]bool{"JO-202610-00008": true}}, VoucherTypeJournal, outlet, at)
	require.NoError(t, err)
	require.Equal(t, "JO-202610-00009", number)

	taken := map[string]bool{"PY-202610-00001": true, "PY-202610-00002": true, "PY-202610-00003": true}
	alloc.now = func() time.Time { return at }
	number, err = alloc.Next(ctx, numberStub{existing: taken}, VoucherTypePayment, outlet, at)
	require.NoError(t, err)
	require.Equal(t, "PY-202610-T"+decimal.NewFromInt(at.UnixNano()).String(), number)

	counter := &counterStub{next: 41}
	number, err = NewNumberAllocator(counter, 3).Next(ctx, numberStub{max: 3}, VoucherTypeContra, outlet, at)
	require.NoError(t, err)
	require.Equal(t, "CO-202610-00042", number)

	_, err = alloc.Next(ctx, numberStub{err: errors.New("boom")}, VoucherTypeJournal, outlet, at)
	require.Error(t, err)
}

func TestParseVoucherSequence(t *testing.T) {
	prefix, period, seq, ok := ParseVoucherSequence("JO-202601-00123")
	require.True(t, ok)
	require.Equal(t, "JO", prefix)
	require.Equal(t, "202601", period)
	require.EqualValues(t, 123, seq)

	_, _, _, ok = ParseVoucherSequence("JO-202601-T1700000000")
	require.False(t, ok)
}
