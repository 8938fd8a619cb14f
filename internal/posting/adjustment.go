package posting

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/dealerledger/internal/ledger"
)

// AdjustmentPosting is the in-transaction outcome of an inventory adjustment.
type AdjustmentPosting struct {
	Ref      VoucherRef
	Value    decimal.Decimal
	Movement ledger.InventoryMovement
}

func validateAdjustment(a InventoryAdjustment) error {
	if a.OutletID == uuid.Nil || a.ProductID == uuid.Nil {
		return fmt.Errorf("%w: outlet and product required", ErrInvalidPayload)
	}
	if a.Quantity.IsZero() {
		return fmt.Errorf("%w: quantity must be non zero", ErrInvalidPayload)
	}
	if a.UnitCost.IsNegative() {
		return fmt.Errorf("%w: negative unit cost", ErrInvalidPayload)
	}
	return nil
}

// adjustmentReference returns the reference type and id the adjustment voucher carries.
// Opening stock is referenced by product so it can be located again later.
func adjustmentReference(a InventoryAdjustment) (ledger.ReferenceType, string) {
	if a.OpeningStock {
		return ledger.RefOpeningStock, a.ProductID.String()
	}
	return ledger.RefInventoryAdjustment, a.ID
}

// PostInventoryAdjustment posts a stock addition or correction against owner equity.
// Adjustments whose value is exactly zero post no voucher; the quantity still moves.
func (s *Service) PostInventoryAdjustment(ctx context.Context, adj InventoryAdjustment, userID uuid.UUID) (VoucherRef, error) {
	var posting AdjustmentPosting
	err := validateAdjustment(adj)
	if err == nil {
		err = s.ledger.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
			var err error
			posting, err = s.PostAdjustmentTx(ctx, tx, adj, userID)
			return err
		})
	}
	s.observe("inventory_adjustment", err)
	if err != nil {
		return VoucherRef{}, err
	}
	if posting.Ref.VoucherID != nil {
		s.ledger.Record(ctx, userID, "inventory_adjustment.post", posting.Ref.VoucherID.String(), map[string]any{
			"product_id":    adj.ProductID.String(),
			"quantity":      adj.Quantity.String(),
			"opening_stock": adj.OpeningStock,
		})
	}
	return posting.Ref, nil
}

// PostAdjustmentTx posts an inventory adjustment inside an existing transaction.
func (s *Service) PostAdjustmentTx(ctx context.Context, tx ledger.TxRepository, adj InventoryAdjustment, userID uuid.UUID) (AdjustmentPosting, error) {
	if err := validateAdjustment(adj); err != nil {
		return AdjustmentPosting{}, err
	}
	if adj.ID == "" && !adj.OpeningStock {
		adj.ID = uuid.NewString()
	}
	refType, refID := adjustmentReference(adj)
	if err := s.ensureUnposted(ctx, tx, adj.OutletID, refType, refID); err != nil {
		return AdjustmentPosting{}, err
	}
	product, err := tx.GetProductForUpdate(ctx, adj.ProductID)
	if err != nil {
		return AdjustmentPosting{}, err
	}
	if product.OutletID != adj.OutletID {
		return AdjustmentPosting{}, fmt.Errorf("%w: product %s belongs to another outlet", ErrInvalidPayload, product.SKU)
	}
	unitCost := adj.UnitCost
	if unitCost.IsZero() {
		unitCost = product.CostPrice
	}
	value := adj.Quantity.Abs().Mul(unitCost).Round(2)
	var outcome AdjustmentPosting
	outcome.Value = value

	var voucherID *uuid.UUID
	if value.IsZero() {
		s.logger.Info("zero-value inventory adjustment, no voucher posted",
			slog.String("product_id", adj.ProductID.String()),
			slog.String("quantity", adj.Quantity.String()))
	} else {
		accounts, err := s.ledger.SystemAccounts(ctx, tx, adj.OutletID)
		if err != nil {
			return AdjustmentPosting{}, err
		}
		equity, err := accounts.Require(ledger.SubTypeOwnerEquity)
		if err != nil {
			return AdjustmentPosting{}, err
		}
		narration := adjustmentNarration(adj, product.Name, value)
		lines := []ledger.EntryLine{
			ledger.Debit(accounts.Inventory, value, ""),
			ledger.Credit(equity, value, ""),
		}
		if adj.Quantity.IsNegative() {
			lines = []ledger.EntryLine{
				ledger.Debit(equity, value, ""),
				ledger.Credit(accounts.Inventory, value, ""),
			}
		}
		voucher, err := s.ledger.Post(ctx, tx, ledger.VoucherDraft{
			OutletID:      adj.OutletID,
			Type:          ledger.VoucherTypeJournal,
			Date:          adj.Date,
			Narration:     narration,
			ReferenceType: refType,
			ReferenceID:   refID,
			CreatedBy:     userID,
			Lines:         lines,
		})
		if err != nil {
			return AdjustmentPosting{}, err
		}
		voucherID = ptr(voucher.ID)
		outcome.Ref = VoucherRef{VoucherID: voucherID, VoucherNumber: ptr(voucher.Number)}
	}
	if adj.Quantity.IsPositive() {
		if _, err := ledger.BlendCost(ctx, tx, product, adj.Quantity, unitCost); err != nil {
			return AdjustmentPosting{}, err
		}
	}
	movement, err := s.ledger.AppendMovement(ctx, tx, ledger.MovementInput{
		ProductID:     adj.ProductID,
		Type:          ledger.MovementAdjustment,
		Quantity:      adj.Quantity,
		UnitCost:      unitCost,
		VoucherID:     voucherID,
		ReferenceType: refType,
		ReferenceID:   refID,
		Date:          adj.Date,
	})
	if err != nil {
		return AdjustmentPosting{}, err
	}
	outcome.Movement = movement
	return outcome, nil
}
