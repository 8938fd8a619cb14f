package posting

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/odyssey-erp/dealerledger/internal/ledger"
)

// ReverseSaleVoucher reverses the receipt and COGS vouchers of a sale and returns the
// sold units to stock.
func (s *Service) ReverseSaleVoucher(ctx context.Context, outletID uuid.UUID, saleID string, userID uuid.UUID, reason string) (ReversalResult, error) {
	return s.reverseDocument(ctx, "sale_reversal", outletID, saleID, userID, reason, ledger.RefSale, ledger.RefSaleCOGS)
}

// ReversePurchaseVoucher reverses a purchase voucher and its receipts; product costs are
// replayed from the remaining movements.
func (s *Service) ReversePurchaseVoucher(ctx context.Context, outletID uuid.UUID, purchaseID string, userID uuid.UUID, reason string) (ReversalResult, error) {
	return s.reverseDocument(ctx, "purchase_reversal", outletID, purchaseID, userID, reason, ledger.RefPurchase)
}

// ReverseExpenseVoucher reverses an expense voucher.
func (s *Service) ReverseExpenseVoucher(ctx context.Context, outletID uuid.UUID, expenseID string, userID uuid.UUID, reason string) (ReversalResult, error) {
	return s.reverseDocument(ctx, "expense_reversal", outletID, expenseID, userID, reason, ledger.RefExpense)
}

// ReverseAdjustmentVoucher reverses a manual inventory adjustment.
func (s *Service) ReverseAdjustmentVoucher(ctx context.Context, outletID uuid.UUID, adjustmentID string, userID uuid.UUID, reason string) (ReversalResult, error) {
	return s.reverseDocument(ctx, "adjustment_reversal", outletID, adjustmentID, userID, reason, ledger.RefInventoryAdjustment)
}

// ReverseReturnVoucher reverses a customer return.
func (s *Service) ReverseReturnVoucher(ctx context.Context, outletID uuid.UUID, returnID string, userID uuid.UUID, reason string) (ReversalResult, error) {
	return s.reverseDocument(ctx, "return_reversal", outletID, returnID, userID, reason, ledger.RefReturn)
}

// ReverseVoucherTx reverses one voucher inside tx with the standard reversal narration.
func (s *Service) ReverseVoucherTx(ctx context.Context, tx ledger.TxRepository, voucher ledger.Voucher, userID uuid.UUID, reason string) (ledger.Voucher, error) {
	return s.ledger.Reverse(ctx, tx, voucher.ID, userID, reversalNarration(voucher.Narration, reason))
}

func (s *Service) reverseDocument(ctx context.Context, operation string, outletID uuid.UUID, docID string, userID uuid.UUID, reason string, refTypes ...ledger.ReferenceType) (ReversalResult, error) {
	var result ReversalResult
	var err error
	if outletID == uuid.Nil || docID == "" {
		err = fmt.Errorf("%w: outlet and document id required", ErrInvalidPayload)
	} else {
		err = s.ledger.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
			result = ReversalResult{}
			var targets []ledger.Voucher
			posted := false
			for _, refType := range refTypes {
				all, err := tx.FindVouchersByReference(ctx, outletID, refType, docID)
				if err != nil {
					return err
				}
				posted = posted || len(all) > 0
				active, err := s.ledger.ActiveVouchers(ctx, tx, outletID, refType, docID)
				if err != nil {
					return err
				}
				targets = append(targets, active...)
			}
			if len(targets) == 0 {
				if posted {
					return fmt.Errorf("%w: %s %s", ledger.ErrAlreadyReversed, refTypes[0], docID)
				}
				return fmt.Errorf("%w: %s %s", ledger.ErrVoucherNotFound, refTypes[0], docID)
			}
			for _, voucher := range targets {
				reversal, err := s.ReverseVoucherTx(ctx, tx, voucher, userID, reason)
				if err != nil {
					return err
				}
				result.ReversalVoucherIDs = append(result.ReversalVoucherIDs, reversal.ID)
			}
			return nil
		})
	}
	s.observe(operation, err)
	if err != nil {
		return ReversalResult{}, err
	}
	for _, id := range result.ReversalVoucherIDs {
		s.ledger.Record(ctx, userID, "voucher.reverse", id.String(), map[string]any{
			"document_id": docID,
			"reason":      reason,
		})
	}
	return result, nil
}
