package posting

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/dealerledger/internal/ledger"
)

func validatePurchase(p Purchase) error {
	if err := requireOutlet(p.OutletID, p.ID); err != nil {
		return err
	}
	if len(p.Lines) == 0 {
		return fmt.Errorf("%w: purchase without lines", ErrInvalidPayload)
	}
	for idx, line := range p.Lines {
		if line.ProductID == uuid.Nil {
			return fmt.Errorf("%w: line %d missing product", ErrInvalidPayload, idx)
		}
		if err := requirePositive(fmt.Sprintf("line %d quantity", idx), line.Quantity); err != nil {
			return err
		}
		if line.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: line %d negative price", ErrInvalidPayload, idx)
		}
	}
	if p.AmountPaid.IsNegative() || p.BalanceDue.IsNegative() {
		return fmt.Errorf("%w: negative settlement", ErrInvalidPayload)
	}
	return nil
}

// PostPurchase debits inventory for the bill, credits settlement and payables, updates each
// product's weighted-average cost and receives the stock at the stated unit price.
func (s *Service) PostPurchase(ctx context.Context, purchase Purchase, userID uuid.UUID) (PurchaseResult, error) {
	var result PurchaseResult
	err := validatePurchase(purchase)
	if err == nil {
		err = s.ledger.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
			var err error
			result, err = s.postPurchase(ctx, tx, purchase, userID)
			return err
		})
	}
	s.observe("purchase", err)
	if err != nil {
		return PurchaseResult{}, err
	}
	s.ledger.Record(ctx, userID, "purchase.post", result.VoucherID.String(), map[string]any{
		"purchase_id": purchase.ID,
		"number":      result.VoucherNumber,
	})
	return result, nil
}

func (s *Service) postPurchase(ctx context.Context, tx ledger.TxRepository, purchase Purchase, userID uuid.UUID) (PurchaseResult, error) {
	accounts, err := s.ledger.SystemAccounts(ctx, tx, purchase.OutletID)
	if err != nil {
		return PurchaseResult{}, err
	}
	if err := s.ensureUnposted(ctx, tx, purchase.OutletID, ledger.RefPurchase, purchase.ID); err != nil {
		return PurchaseResult{}, err
	}
	total := purchase.GrandTotal.Round(2)
	if total.IsZero() {
		for _, line := range purchase.Lines {
			total = total.Add(line.Quantity.Mul(line.UnitPrice).Round(2))
		}
	}
	if err := requirePositive("grand total", total); err != nil {
		return PurchaseResult{}, err
	}
	paid, due, err := splitSettlement(purchase.PaymentMethod, total, purchase.AmountPaid, purchase.BalanceDue, s.ledger.Tolerance())
	if err != nil {
		return PurchaseResult{}, err
	}
	lines := []ledger.EntryLine{ledger.Debit(accounts.Inventory, total, "")}
	if paid.IsPositive() {
		lines = append(lines, ledger.Credit(settlementAccount(accounts, purchase.PaymentMethod), paid, ""))
	}
	if due.IsPositive() {
		lines = append(lines, ledger.Credit(accounts.PayableOrFallback(s.logger), due, "Payable to supplier"))
	}
	voucher, err := s.ledger.Post(ctx, tx, ledger.VoucherDraft{
		OutletID:      purchase.OutletID,
		Type:          ledger.VoucherTypePayment,
		Date:          purchase.Date,
		Narration:     purchaseNarration(purchase, total),
		ReferenceType: ledger.RefPurchase,
		ReferenceID:   purchase.ID,
		CreatedBy:     userID,
		Lines:         lines,
	})
	if err != nil {
		return PurchaseResult{}, err
	}
	result := PurchaseResult{VoucherID: voucher.ID, VoucherNumber: voucher.Number}
	for _, line := range purchase.Lines {
		product, err := tx.GetProductForUpdate(ctx, line.ProductID)
		if err != nil {
			return PurchaseResult{}, err
		}
		if product.OutletID != purchase.OutletID {
			return PurchaseResult{}, fmt.Errorf("%w: product %s belongs to another outlet", ErrInvalidPayload, product.SKU)
		}
		change, err := ledger.UpdateWeightedAverageCost(ctx, tx, product, line.Quantity, line.UnitPrice)
		if err != nil {
			return PurchaseResult{}, err
		}
		result.CostChanges = append(result.CostChanges, CostChangeSummary{
			ProductID: change.ProductID,
			OldCost:   change.OldCost,
			NewCost:   change.NewCost,
		})
		if _, err := s.ledger.AppendMovement(ctx, tx, ledger.MovementInput{
			ProductID:     line.ProductID,
			Type:          ledger.MovementPurchase,
			Quantity:      line.Quantity,
			UnitCost:      line.UnitPrice,
			VoucherID:     ptr(voucher.ID),
			ReferenceType: ledger.RefPurchase,
			ReferenceID:   purchase.ID,
			Date:          voucher.Date,
		}); err != nil {
			return PurchaseResult{}, err
		}
	}
	s.logger.Info("purchase posted",
		slog.String("purchase_id", purchase.ID),
		slog.String("voucher", voucher.Number),
		slog.String("total", total.StringFixed(2)))
	return result, nil
}

func validatePurchasePayment(p PurchasePayment) error {
	if err := requireOutlet(p.OutletID, p.ID); err != nil {
		return err
	}
	if p.PaymentMethod.IsCredit() {
		return fmt.Errorf("%w: a payable cannot be settled on credit", ErrInvalidPayload)
	}
	return requirePositive("amount", p.Amount)
}

// PostPurchasePayment settles supplier payables from cash or bank.
func (s *Service) PostPurchasePayment(ctx context.Context, payment PurchasePayment, userID uuid.UUID) (VoucherResult, error) {
	var result VoucherResult
	err := validatePurchasePayment(payment)
	if err == nil {
		err = s.ledger.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
			accounts, err := s.ledger.SystemAccounts(ctx, tx, payment.OutletID)
			if err != nil {
				return err
			}
			if err := s.ensureUnposted(ctx, tx, payment.OutletID, ledger.RefPurchasePayment, payment.ID); err != nil {
				return err
			}
			amount := payment.Amount.Round(2)
			voucher, err := s.ledger.Post(ctx, tx, ledger.VoucherDraft{
				OutletID:      payment.OutletID,
				Type:          ledger.VoucherTypePayment,
				Date:          payment.Date,
				Narration:     purchasePaymentNarration(payment),
				ReferenceType: ledger.RefPurchasePayment,
				ReferenceID:   payment.ID,
				CreatedBy:     userID,
				Lines: []ledger.EntryLine{
					ledger.Debit(accounts.PayableOrFallback(s.logger), amount, ""),
					ledger.Credit(settlementAccount(accounts, payment.PaymentMethod), amount, ""),
				},
			})
			if err != nil {
				return err
			}
			result = VoucherResult{VoucherID: voucher.ID, VoucherNumber: voucher.Number}
			return nil
		})
	}
	s.observe("purchase_payment", err)
	if err != nil {
		return VoucherResult{}, err
	}
	s.ledger.Record(ctx, userID, "purchase_payment.post", result.VoucherID.String(), map[string]any{
		"payment_id":  payment.ID,
		"purchase_id": payment.PurchaseID,
	})
	return result, nil
}

// lineTotal sums a set of amounts at posting precision.
func lineTotal(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a.Round(2))
	}
	return total
}
