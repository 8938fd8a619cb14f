package inventory

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidEdit indicates a stock edit that cannot be applied.
	ErrInvalidEdit = errors.New("inventory: invalid stock edit")
	// ErrStockChanged indicates the stock moved since the editor read it.
	ErrStockChanged = errors.New("inventory: stock changed since it was read")
)

// AdjustmentMethod names the strategy a stock edit was applied with.
type AdjustmentMethod string

const (
	// MethodNoop means old and new stock were equal.
	MethodNoop AdjustmentMethod = "noop"
	// MethodReversal means the opening-stock voucher was reversed and recreated.
	MethodReversal AdjustmentMethod = "reversal"
	// MethodDelta means only the difference was posted.
	MethodDelta AdjustmentMethod = "delta"
)

// StockEdit is a manual correction of a product's on-hand quantity.
type StockEdit struct {
	OutletID  uuid.UUID       `json:"outlet_id" validate:"required"`
	ProductID uuid.UUID       `json:"product_id"`
	OldStock  decimal.Decimal `json:"old_stock"`
	NewStock  decimal.Decimal `json:"new_stock"`
	CostPrice decimal.Decimal `json:"cost_price"`
	Reason    string          `json:"reason" validate:"max=500"`
	UserID    uuid.UUID       `json:"-"`
}

// AdjustmentResult reports how a stock edit was applied.
type AdjustmentResult struct {
	Method          AdjustmentMethod `json:"method"`
	StockDifference decimal.Decimal  `json:"stock_difference"`
	ValueChange     decimal.Decimal  `json:"value_change"`
	VoucherIDs      []uuid.UUID      `json:"voucher_ids"`
	Stock           decimal.Decimal  `json:"stock"`
	CostPrice       decimal.Decimal  `json:"cost_price"`
}

// StockCardFilter narrows a product's movement history.
type StockCardFilter struct {
	ProductID uuid.UUID
	From      *time.Time
	To        *time.Time
}
