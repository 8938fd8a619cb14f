package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultTolerance is the accepted rounding difference between debits and credits.
var DefaultTolerance = decimal.New(1, -2)

// ValidateEntries checks the double-entry invariants of a line set and returns its totals.
func ValidateEntries(lines []EntryLine, tolerance decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	debit, credit := decimal.Zero, decimal.Zero
	if len(lines) < 2 {
		return debit, credit, ErrTooFewEntries
	}
	for idx, line := range lines {
		if line.Account.ID == uuid.Nil {
			return debit, credit, fmt.Errorf("%w: line %d missing account", ErrInvalidEntry, idx)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return debit, credit, fmt.Errorf("%w: line %d negative amount", ErrInvalidEntry, idx)
		}
		if line.Debit.IsPositive() == line.Credit.IsPositive() {
			return debit, credit, fmt.Errorf("%w: line %d on account %s", ErrInvalidEntry, idx, line.Account.Code)
		}
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	if debit.Sub(credit).Abs().GreaterThan(tolerance) {
		return debit, credit, fmt.Errorf("%w: debit %s credit %s", ErrUnbalanced, debit.StringFixed(2), credit.StringFixed(2))
	}
	return debit, credit, nil
}

// RoundLines brings line amounts to the two places entries are stored with.
func RoundLines(lines []EntryLine) []EntryLine {
	out := make([]EntryLine, len(lines))
	for i, line := range lines {
		line.Debit = line.Debit.Round(2)
		line.Credit = line.Credit.Round(2)
		out[i] = line
	}
	return out
}

// AppendEntries persists the voucher's lines. Lines must already be validated.
func AppendEntries(ctx context.Context, tx TxRepository, voucher Voucher, lines []EntryLine, reverses []uuid.UUID, now time.Time) ([]LedgerEntry, error) {
	entries := make([]LedgerEntry, 0, len(lines))
	for idx, line := range lines {
		narration := line.Narration
		if narration == "" {
			narration = voucher.Narration
		}
		entry := LedgerEntry{
			ID:            uuid.New(),
			VoucherID:     voucher.ID,
			OutletID:      voucher.OutletID,
			AccountID:     line.Account.ID,
			AccountCode:   line.Account.Code,
			AccountName:   line.Account.Name,
			AccountType:   line.Account.Type,
			Debit:         line.Debit,
			Credit:        line.Credit,
			Date:          voucher.Date,
			Narration:     narration,
			ReferenceType: voucher.ReferenceType,
			ReferenceID:   voucher.ReferenceID,
			IsReversal:    voucher.IsReversal,
			CreatedAt:     now,
		}
		if idx < len(reverses) && reverses[idx] != uuid.Nil {
			reversed := reverses[idx]
			entry.ReversesEntryID = &reversed
		}
		entries = append(entries, entry)
	}
	if err := tx.InsertLedgerEntries(ctx, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// SwapLines returns the debit/credit mirror of persisted entries.
func SwapLines(entries []LedgerEntry) []EntryLine {
	out := make([]EntryLine, 0, len(entries))
	for _, e := range entries {
		out = append(out, EntryLine{
			Account: Account{
				ID:       e.AccountID,
				OutletID: e.OutletID,
				Code:     e.AccountCode,
				Name:     e.AccountName,
				Type:     e.AccountType,
			},
			Debit:     e.Credit,
			Credit:    e.Debit,
			Narration: e.Narration,
		})
	}
	return out
}
