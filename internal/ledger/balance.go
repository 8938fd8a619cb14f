package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BalanceDelta returns the signed change an entry makes to its account per the normal side.
func BalanceDelta(accountType AccountType, debit, credit decimal.Decimal) decimal.Decimal {
	if accountType.DebitNormal() {
		return debit.Sub(credit)
	}
	return credit.Sub(debit)
}

// ApplyVoucherBalances increments cached account balances for the voucher's entries.
// Opening-balance vouchers are applied out of band and skipped here. Callers invoke
// it exactly once per posted voucher, inside the transaction that wrote the entries.
func ApplyVoucherBalances(ctx context.Context, tx TxRepository, voucher Voucher) error {
	if voucher.IsOpeningBalance {
		return nil
	}
	return applyEntryDeltas(ctx, tx, voucher.Entries)
}

func applyEntryDeltas(ctx context.Context, tx TxRepository, entries []LedgerEntry) error {
	order := make([]uuid.UUID, 0, len(entries))
	deltas := make(map[uuid.UUID]decimal.Decimal, len(entries))
	for _, entry := range entries {
		delta := BalanceDelta(entry.AccountType, entry.Debit, entry.Credit)
		current, ok := deltas[entry.AccountID]
		if !ok {
			order = append(order, entry.AccountID)
		}
		deltas[entry.AccountID] = current.Add(delta)
	}
	for _, accountID := range order {
		delta := deltas[accountID]
		if delta.IsZero() {
			continue
		}
		if err := tx.IncrementAccountBalance(ctx, accountID, delta); err != nil {
			return err
		}
	}
	return nil
}

// ReplayAccountBalance recomputes an account balance from its entries.
func ReplayAccountBalance(account Account, entries []LedgerEntry) decimal.Decimal {
	total := decimal.Zero
	for _, entry := range entries {
		total = total.Add(BalanceDelta(account.Type, entry.Debit, entry.Credit))
	}
	return total
}
