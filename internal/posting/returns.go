package posting

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/dealerledger/internal/ledger"
)

func validateReturn(r Return) error {
	if err := requireOutlet(r.OutletID, r.ID); err != nil {
		return err
	}
	if r.Amount.IsNegative() {
		return fmt.Errorf("%w: negative return amount", ErrInvalidPayload)
	}
	for idx, item := range r.Items {
		if item.ProductID == uuid.Nil {
			return fmt.Errorf("%w: item %d missing product", ErrInvalidPayload, idx)
		}
		if err := requirePositive(fmt.Sprintf("item %d quantity", idx), item.Quantity); err != nil {
			return err
		}
		if item.UnitCost.IsNegative() {
			return fmt.Errorf("%w: item %d negative cost", ErrInvalidPayload, idx)
		}
	}
	return nil
}

type restockedItem struct {
	item ReturnItem
	cost decimal.Decimal
}

// PostReturn books a customer return: contra revenue against the refund, and restored
// inventory against COGS for restocked items. Zero legs are dropped.
func (s *Service) PostReturn(ctx context.Context, ret Return, userID uuid.UUID) (ReturnResult, error) {
	var result ReturnResult
	err := validateReturn(ret)
	if err == nil {
		err = s.ledger.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
			var err error
			result, err = s.postReturn(ctx, tx, ret, userID)
			return err
		})
	}
	s.observe("return", err)
	if err != nil {
		return ReturnResult{}, err
	}
	s.ledger.Record(ctx, userID, "return.post", result.VoucherID.String(), map[string]any{
		"return_id": ret.ID,
		"sale_id":   ret.SaleID,
	})
	return result, nil
}

func (s *Service) postReturn(ctx context.Context, tx ledger.TxRepository, ret Return, userID uuid.UUID) (ReturnResult, error) {
	accounts, err := s.ledger.SystemAccounts(ctx, tx, ret.OutletID)
	if err != nil {
		return ReturnResult{}, err
	}
	if err := s.ensureUnposted(ctx, tx, ret.OutletID, ledger.RefReturn, ret.ID); err != nil {
		return ReturnResult{}, err
	}
	var restocked []restockedItem
	restoredCost := decimal.Zero
	for _, item := range ret.Items {
		if !item.Restock {
			continue
		}
		product, err := tx.GetProductForUpdate(ctx, item.ProductID)
		if err != nil {
			return ReturnResult{}, err
		}
		cost := item.UnitCost
		if cost.IsZero() {
			cost = product.CostPrice
		}
		restocked = append(restocked, restockedItem{item: item, cost: cost})
		restoredCost = restoredCost.Add(item.Quantity.Mul(cost).Round(2))
	}
	refund := ret.Amount.Round(2)

	var lines []ledger.EntryLine
	if refund.IsPositive() {
		lines = append(lines, ledger.Debit(accounts.SalesReturnsOrFallback(s.logger), refund, ret.Reason))
	}
	if restoredCost.IsPositive() {
		lines = append(lines,
			ledger.Debit(accounts.Inventory, restoredCost, "Returned stock"),
			ledger.Credit(accounts.COGS, restoredCost, "Returned stock"))
	}
	if refund.IsPositive() {
		counter := settlementAccount(accounts, ret.RefundMethod)
		if ret.RefundMethod.IsCredit() {
			counter = accounts.AccountsReceivable
		}
		lines = append(lines, ledger.Credit(counter, refund, ""))
	}
	if len(lines) == 0 {
		return ReturnResult{}, fmt.Errorf("%w: return %s carries no value", ErrInvalidPayload, ret.ID)
	}
	voucher, err := s.ledger.Post(ctx, tx, ledger.VoucherDraft{
		OutletID:      ret.OutletID,
		Type:          ledger.VoucherTypeJournal,
		Date:          ret.Date,
		Narration:     returnNarration(ret),
		ReferenceType: ledger.RefReturn,
		ReferenceID:   ret.ID,
		CreatedBy:     userID,
		Lines:         lines,
	})
	if err != nil {
		return ReturnResult{}, err
	}
	for _, r := range restocked {
		product, err := tx.GetProductForUpdate(ctx, r.item.ProductID)
		if err != nil {
			return ReturnResult{}, err
		}
		if _, err := ledger.BlendCost(ctx, tx, product, r.item.Quantity, r.cost); err != nil {
			return ReturnResult{}, err
		}
		if _, err := s.ledger.AppendMovement(ctx, tx, ledger.MovementInput{
			ProductID:     r.item.ProductID,
			Type:          ledger.MovementReturn,
			Quantity:      r.item.Quantity,
			UnitCost:      r.cost,
			VoucherID:     ptr(voucher.ID),
			ReferenceType: ledger.RefReturn,
			ReferenceID:   ret.ID,
			Date:          voucher.Date,
		}); err != nil {
			return ReturnResult{}, err
		}
	}
	return ReturnResult{
		VoucherID:     voucher.ID,
		VoucherNumber: voucher.Number,
		TotalDebit:    voucher.TotalDebit,
		TotalCredit:   voucher.TotalCredit,
	}, nil
}
