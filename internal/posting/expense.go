package posting

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/dealerledger/internal/ledger"
)

func validateExpense(e Expense) error {
	if err := requireOutlet(e.OutletID, e.ID); err != nil {
		return err
	}
	if len(e.Lines) == 0 {
		return fmt.Errorf("%w: expense without lines", ErrInvalidPayload)
	}
	for idx, line := range e.Lines {
		if line.AccountID == uuid.Nil {
			return fmt.Errorf("%w: line %d missing account", ErrInvalidPayload, idx)
		}
		if err := requirePositive(fmt.Sprintf("line %d amount", idx), line.Amount); err != nil {
			return err
		}
		if line.Tax.IsNegative() {
			return fmt.Errorf("%w: line %d negative tax", ErrInvalidPayload, idx)
		}
	}
	return nil
}

// PostExpense debits each expense account, plus VAT receivable for input tax, against
// cash, bank or payables. A stated total is accepted within the ledger tolerance and the
// settlement leg is posted at the line sum.
func (s *Service) PostExpense(ctx context.Context, expense Expense, userID uuid.UUID) (VoucherResult, error) {
	var result VoucherResult
	err := validateExpense(expense)
	if err == nil {
		err = s.ledger.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
			var err error
			result, err = s.postExpense(ctx, tx, expense, userID)
			return err
		})
	}
	s.observe("expense", err)
	if err != nil {
		return VoucherResult{}, err
	}
	s.ledger.Record(ctx, userID, "expense.post", result.VoucherID.String(), map[string]any{
		"expense_id": expense.ID,
		"number":     result.VoucherNumber,
	})
	return result, nil
}

func (s *Service) postExpense(ctx context.Context, tx ledger.TxRepository, expense Expense, userID uuid.UUID) (VoucherResult, error) {
	accounts, err := s.ledger.SystemAccounts(ctx, tx, expense.OutletID)
	if err != nil {
		return VoucherResult{}, err
	}
	if err := s.ensureUnposted(ctx, tx, expense.OutletID, ledger.RefExpense, expense.ID); err != nil {
		return VoucherResult{}, err
	}
	var lines []ledger.EntryLine
	var debits []decimal.Decimal
	tax := decimal.Zero
	for _, line := range expense.Lines {
		account, err := tx.GetAccount(ctx, line.AccountID)
		if err != nil {
			return VoucherResult{}, err
		}
		if account.OutletID != expense.OutletID {
			return VoucherResult{}, fmt.Errorf("%w: account %s belongs to another outlet", ErrInvalidPayload, account.Code)
		}
		amount := line.Amount.Round(2)
		lines = append(lines, ledger.Debit(account, amount, line.Description))
		debits = append(debits, amount)
		tax = tax.Add(line.Tax.Round(2))
	}
	if tax.IsPositive() {
		vat, err := accounts.Require(ledger.SubTypeVATReceivable)
		if err != nil {
			return VoucherResult{}, err
		}
		lines = append(lines, ledger.Debit(vat, tax, "Input VAT"))
		debits = append(debits, tax)
	}
	total, err := reconcileTotal("total", expense.Total, lineTotal(debits...), s.ledger.Tolerance())
	if err != nil {
		return VoucherResult{}, err
	}
	counter := settlementAccount(accounts, expense.PaymentMethod)
	if expense.PaymentMethod.IsCredit() {
		counter = accounts.PayableOrFallback(s.logger)
	}
	lines = append(lines, ledger.Credit(counter, total, ""))
	voucher, err := s.ledger.Post(ctx, tx, ledger.VoucherDraft{
		OutletID:      expense.OutletID,
		Type:          ledger.VoucherTypePayment,
		Date:          expense.Date,
		Narration:     expenseNarration(expense, total),
		ReferenceType: ledger.RefExpense,
		ReferenceID:   expense.ID,
		CreatedBy:     userID,
		Lines:         lines,
	})
	if err != nil {
		return VoucherResult{}, err
	}
	return VoucherResult{VoucherID: voucher.ID, VoucherNumber: voucher.Number}, nil
}
