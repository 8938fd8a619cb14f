package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// costPlaces is the precision unit costs are stored with.
const costPlaces = 4

// WeightedAverageCost blends the existing stock value with a purchase.
// The current cost is returned unchanged when the resulting stock is zero.
func WeightedAverageCost(stock, cost, qty, price decimal.Decimal) decimal.Decimal {
	total := stock.Add(qty)
	if total.IsZero() {
		return cost
	}
	value := stock.Mul(cost).Add(qty.Mul(price))
	return value.DivRound(total, costPlaces)
}

// UpdateWeightedAverageCost recalculates the product cost cache for a purchase of qty at price.
// It mutates only the cost and purchased-volume fields; the stock cache moves with the
// purchase movement.
func UpdateWeightedAverageCost(ctx context.Context, tx TxRepository, product Product, qty, price decimal.Decimal) (CostChange, error) {
	change := CostChange{ProductID: product.ID, OldCost: product.CostPrice}
	stock := product.CurrentStock
	if stock.IsNegative() {
		// oversold stock carries no value into the blend
		stock = decimal.Zero
	}
	change.NewCost = WeightedAverageCost(stock, product.CostPrice, qty, price)
	purchased := product.PurchasedQty.Add(qty)
	if err := tx.UpdateProductCost(ctx, product.ID, change.NewCost, purchased); err != nil {
		return CostChange{}, err
	}
	return change, nil
}

// BlendCost folds non-purchase receipts (returns, positive adjustments) into the cost cache
// without counting them as purchased volume.
func BlendCost(ctx context.Context, tx TxRepository, product Product, qty, price decimal.Decimal) (CostChange, error) {
	change := CostChange{ProductID: product.ID, OldCost: product.CostPrice, NewCost: product.CostPrice}
	if !qty.IsPositive() || !price.IsPositive() {
		return change, nil
	}
	stock := product.CurrentStock
	if stock.IsNegative() {
		stock = decimal.Zero
	}
	change.NewCost = WeightedAverageCost(stock, product.CostPrice, qty, price)
	if change.NewCost.Equal(change.OldCost) {
		return change, nil
	}
	if err := tx.UpdateProductCost(ctx, product.ID, change.NewCost, product.PurchasedQty); err != nil {
		return CostChange{}, err
	}
	return change, nil
}
