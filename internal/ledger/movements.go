package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AppendMovement writes one inventory movement and refreshes the product stock cache.
func (s *Service) AppendMovement(ctx context.Context, tx TxRepository, in MovementInput) (InventoryMovement, error) {
	if in.Quantity.IsZero() {
		return InventoryMovement{}, ErrInvalidQuantity
	}
	if in.ProductID == uuid.Nil {
		return InventoryMovement{}, fmt.Errorf("%w: movement without product", ErrProductNotFound)
	}
	product, err := tx.GetProductForUpdate(ctx, in.ProductID)
	if err != nil {
		return InventoryMovement{}, err
	}
	balanceAfter := product.CurrentStock.Add(in.Quantity)
	if in.BalanceAfter != nil {
		balanceAfter = *in.BalanceAfter
	}
	if !s.cfg.AllowNegativeStock && in.Quantity.IsNegative() && balanceAfter.IsNegative() {
		return InventoryMovement{}, fmt.Errorf("%w: %s would drop to %s", ErrNegativeStock, product.Name, balanceAfter.String())
	}
	date := in.Date
	if date.IsZero() {
		date = s.now()
	}
	movement := InventoryMovement{
		ID:                 uuid.New(),
		OutletID:           product.OutletID,
		ProductID:          product.ID,
		ProductName:        product.Name,
		SKU:                product.SKU,
		Type:               in.Type,
		Quantity:           in.Quantity,
		UnitCost:           in.UnitCost,
		TotalValue:         in.Quantity.Mul(in.UnitCost).Round(2),
		VoucherID:          in.VoucherID,
		BalanceAfter:       balanceAfter,
		ReferenceType:      in.ReferenceType,
		ReferenceID:        in.ReferenceID,
		Date:               date,
		CreatedAt:          s.now(),
		IsReversal:         in.IsReversal,
		ReversesMovementID: in.Reverses,
	}
	seq, err := tx.InsertMovement(ctx, movement)
	if err != nil {
		return InventoryMovement{}, err
	}
	movement.Seq = seq
	if err := tx.UpdateProductStock(ctx, product.ID, balanceAfter); err != nil {
		return InventoryMovement{}, err
	}
	return movement, nil
}

// ReverseMovements appends an offsetting movement for every movement of the original voucher.
// It returns the products touched so callers can recompute their caches.
func (s *Service) ReverseMovements(ctx context.Context, tx TxRepository, originalVoucherID, reversalVoucherID uuid.UUID) ([]uuid.UUID, error) {
	movements, err := tx.ListMovementsByVoucher(ctx, originalVoucherID)
	if err != nil {
		return nil, err
	}
	var products []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for _, m := range movements {
		if m.IsReversal || m.Quantity.IsZero() {
			continue
		}
		original := m.ID
		voucherID := reversalVoucherID
		if _, err := s.AppendMovement(ctx, tx, MovementInput{
			ProductID:     m.ProductID,
			Type:          m.Type,
			Quantity:      m.Quantity.Neg(),
			UnitCost:      m.UnitCost,
			VoucherID:     &voucherID,
			ReferenceType: m.ReferenceType,
			ReferenceID:   m.ReferenceID,
			Date:          m.Date,
			IsReversal:    true,
			Reverses:      &original,
		}); err != nil {
			return nil, err
		}
		if !seen[m.ProductID] {
			seen[m.ProductID] = true
			products = append(products, m.ProductID)
		}
	}
	return products, nil
}

// RecomputeFromMovements replays the product's movements chronologically, rewrites drifted
// running balances and resynchronises the stock and cost caches. It is the only sanctioned
// way to rebuild the product caches.
func RecomputeFromMovements(ctx context.Context, tx TxRepository, productID uuid.UUID) (StockReplay, error) {
	product, err := tx.GetProductForUpdate(ctx, productID)
	if err != nil {
		return StockReplay{}, err
	}
	movements, err := tx.ListMovementsByProduct(ctx, productID)
	if err != nil {
		return StockReplay{}, err
	}
	SortMovements(movements)
	replay := StockReplay{ProductID: productID, PreviousStock: product.CurrentStock, Movements: len(movements)}
	running := decimal.Zero
	cost := decimal.Zero
	costed := false
	for _, m := range movements {
		if blendsCost(m, running) {
			base := running
			if base.IsNegative() {
				base = decimal.Zero
			}
			cost = WeightedAverageCost(base, cost, m.Quantity, m.UnitCost)
			costed = true
		}
		running = running.Add(m.Quantity)
		if !m.BalanceAfter.Equal(running) {
			if err := tx.SetMovementBalanceAfter(ctx, m.ID, running); err != nil {
				return StockReplay{}, err
			}
			replay.Rebalanced++
		}
	}
	replay.Stock = running
	replay.Cost = product.CostPrice
	if !product.CurrentStock.Equal(running) {
		if err := tx.UpdateProductStock(ctx, productID, running); err != nil {
			return StockReplay{}, err
		}
	}
	if costed && !cost.Equal(product.CostPrice) {
		if err := tx.UpdateProductCost(ctx, productID, cost, product.PurchasedQty); err != nil {
			return StockReplay{}, err
		}
		replay.Cost = cost
	}
	return replay, nil
}

// blendsCost reports whether a movement changes the weighted average: costed receipts, and
// reversals that take costed stock back out while some stock remains.
func blendsCost(m InventoryMovement, running decimal.Decimal) bool {
	if !m.UnitCost.IsPositive() {
		return false
	}
	if m.Quantity.IsPositive() {
		return true
	}
	return m.IsReversal && running.Add(m.Quantity).IsPositive()
}

// SortMovements orders movements by date then insertion sequence.
func SortMovements(movements []InventoryMovement) {
	sort.SliceStable(movements, func(i, j int) bool {
		a, b := movements[i], movements[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.Seq < b.Seq
	})
}

// MovementDate truncates a timestamp to the precision movements are stored with.
func MovementDate(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
