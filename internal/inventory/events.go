package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StockEditedEvent is emitted after a stock edit commits.
type StockEditedEvent struct {
	OutletID        uuid.UUID
	ProductID       uuid.UUID
	Method          AdjustmentMethod
	StockDifference decimal.Decimal
	VoucherIDs      []uuid.UUID
	EditedAt        time.Time
}

// EventHandler receives committed stock edits, typically to schedule follow-up checks.
type EventHandler interface {
	HandleStockEdited(ctx context.Context, evt StockEditedEvent) error
}
