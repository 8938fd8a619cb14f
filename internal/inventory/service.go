package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/dealerledger/internal/ledger"
	"github.com/odyssey-erp/dealerledger/internal/posting"
	"github.com/odyssey-erp/dealerledger/internal/shared"
)

const defaultLockTTL = 30 * time.Second

// Locker serialises stock edits per product across processes.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// MetricsRecorder observes stock edit outcomes.
type MetricsRecorder interface {
	ObserveStockEdit(method string, err error)
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	LockTTL time.Duration
}

// Service applies manual stock corrections on top of the ledger.
type Service struct {
	ledger  *ledger.Service
	posting *posting.Service
	locker  Locker
	events  EventHandler
	metrics MetricsRecorder
	lockTTL time.Duration
	logger  *slog.Logger
}

// NewService builds Service. locker, events and metrics may be nil; without a locker
// edits are only serialised by the database row lock.
func NewService(postingSvc *posting.Service, locker Locker, events EventHandler, metrics MetricsRecorder, cfg ServiceConfig, logger *slog.Logger) *Service {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if logger == nil {
		logger = postingSvc.Ledger().Logger()
	}
	return &Service{
		ledger:  postingSvc.Ledger(),
		posting: postingSvc,
		locker:  locker,
		events:  events,
		metrics: metrics,
		lockTTL: cfg.LockTTL,
		logger:  logger,
	}
}

// HandleStockEdit applies a manual stock correction. Products whose only history is their
// opening stock get the opening voucher reversed and recreated; anything with trading
// history receives a delta adjustment so past postings stay untouched. The product's
// movements are replayed afterwards either way.
func (s *Service) HandleStockEdit(ctx context.Context, edit StockEdit) (AdjustmentResult, error) {
	result, err := s.handleStockEdit(ctx, edit)
	if s.metrics != nil {
		s.metrics.ObserveStockEdit(string(result.Method), err)
	}
	if err != nil {
		s.logger.Error("stock edit failed",
			slog.String("product_id", edit.ProductID.String()),
			slog.Any("error", err))
		return AdjustmentResult{}, err
	}
	if result.Method == MethodNoop {
		return result, nil
	}
	s.ledger.RecordEntity(ctx, edit.UserID, "product", "stock.edit", edit.ProductID.String(), map[string]any{
		"method":    string(result.Method),
		"old_stock": edit.OldStock.String(),
		"new_stock": edit.NewStock.String(),
		"reason":    edit.Reason,
	})
	if s.events != nil {
		evt := StockEditedEvent{
			OutletID:        edit.OutletID,
			ProductID:       edit.ProductID,
			Method:          result.Method,
			StockDifference: result.StockDifference,
			VoucherIDs:      result.VoucherIDs,
			EditedAt:        s.ledger.Now(),
		}
		if err := s.events.HandleStockEdited(ctx, evt); err != nil {
			s.logger.Warn("stock edit event not delivered", slog.String("product_id", edit.ProductID.String()), slog.Any("error", err))
		}
	}
	return result, nil
}

func validateEdit(edit StockEdit) error {
	if edit.OutletID == uuid.Nil || edit.ProductID == uuid.Nil {
		return fmt.Errorf("%w: outlet and product required", ErrInvalidEdit)
	}
	if edit.NewStock.IsNegative() || edit.OldStock.IsNegative() {
		return fmt.Errorf("%w: stock cannot be negative", ErrInvalidEdit)
	}
	if edit.CostPrice.IsNegative() {
		return fmt.Errorf("%w: negative cost price", ErrInvalidEdit)
	}
	return nil
}

func (s *Service) handleStockEdit(ctx context.Context, edit StockEdit) (AdjustmentResult, error) {
	if err := validateEdit(edit); err != nil {
		return AdjustmentResult{}, err
	}
	if edit.NewStock.Equal(edit.OldStock) {
		return AdjustmentResult{
			Method:          MethodNoop,
			StockDifference: decimal.Zero,
			ValueChange:     decimal.Zero,
			Stock:           edit.NewStock,
			CostPrice:       edit.CostPrice,
		}, nil
	}
	release, err := s.lock(ctx, edit.OutletID, edit.ProductID)
	if err != nil {
		return AdjustmentResult{}, err
	}
	defer release()

	var result AdjustmentResult
	err = s.ledger.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		result = AdjustmentResult{}
		product, err := tx.GetProductForUpdate(ctx, edit.ProductID)
		if err != nil {
			return err
		}
		if product.OutletID != edit.OutletID {
			return fmt.Errorf("%w: product %s belongs to another outlet", ErrInvalidEdit, product.SKU)
		}
		if !product.CurrentStock.Equal(edit.OldStock) {
			return fmt.Errorf("%w: expected %s, found %s", ErrStockChanged, edit.OldStock, product.CurrentStock)
		}
		unitCost := edit.CostPrice
		if unitCost.IsZero() {
			unitCost = product.CostPrice
		}
		result.StockDifference = edit.NewStock.Sub(edit.OldStock)
		result.ValueChange = result.StockDifference.Mul(unitCost).Round(2)

		history, err := ledger.HasTradingHistory(ctx, tx, product.ID)
		if err != nil {
			return err
		}
		if !history {
			ids, reversed, err := s.reverseOpeningStock(ctx, tx, edit, unitCost)
			if err != nil {
				return err
			}
			if reversed {
				result.Method = MethodReversal
				result.VoucherIDs = ids
			}
		}
		if result.Method == "" {
			id, err := s.postDelta(ctx, tx, edit, result.StockDifference, unitCost)
			if err != nil {
				return err
			}
			result.Method = MethodDelta
			if id != nil {
				result.VoucherIDs = []uuid.UUID{*id}
			}
		}
		replay, err := ledger.RecomputeFromMovements(ctx, tx, product.ID)
		if err != nil {
			return err
		}
		result.Stock = replay.Stock
		result.CostPrice = replay.Cost
		return nil
	})
	if err != nil {
		return AdjustmentResult{Method: result.Method}, err
	}
	s.logger.Info("stock edited",
		slog.String("product_id", edit.ProductID.String()),
		slog.String("method", string(result.Method)),
		slog.String("difference", result.StockDifference.String()),
		slog.String("stock", result.Stock.String()))
	return result, nil
}

// reverseOpeningStock reverses the product's active opening-stock voucher and posts a new
// opening for the corrected quantity. reversed is false when no opening voucher exists.
func (s *Service) reverseOpeningStock(ctx context.Context, tx ledger.TxRepository, edit StockEdit, unitCost decimal.Decimal) ([]uuid.UUID, bool, error) {
	active, err := s.ledger.ActiveVouchers(ctx, tx, edit.OutletID, ledger.RefOpeningStock, edit.ProductID.String())
	if err != nil {
		return nil, false, err
	}
	if len(active) == 0 {
		s.logger.Info("no opening-stock voucher, falling back to delta",
			slog.String("product_id", edit.ProductID.String()))
		return nil, false, nil
	}
	original := active[len(active)-1]
	reversal, err := s.posting.ReverseVoucherTx(ctx, tx, original, edit.UserID, reasonOrDefault(edit.Reason))
	if err != nil {
		return nil, false, err
	}
	ids := []uuid.UUID{reversal.ID}

	// other adjustments may sit on top of the opening quantity
	product, err := tx.GetProductForUpdate(ctx, edit.ProductID)
	if err != nil {
		return nil, false, err
	}
	qty := edit.NewStock.Sub(product.CurrentStock)
	if qty.IsZero() {
		return ids, true, nil
	}
	posted, err := s.posting.PostAdjustmentTx(ctx, tx, posting.InventoryAdjustment{
		OutletID:     edit.OutletID,
		ProductID:    edit.ProductID,
		Date:         original.Date,
		Quantity:     qty,
		UnitCost:     unitCost,
		Reason:       reasonOrDefault(edit.Reason),
		OpeningStock: qty.IsPositive(),
	}, edit.UserID)
	if err != nil {
		return nil, false, err
	}
	if posted.Ref.VoucherID != nil {
		ids = append(ids, *posted.Ref.VoucherID)
	}
	return ids, true, nil
}

func (s *Service) postDelta(ctx context.Context, tx ledger.TxRepository, edit StockEdit, qty, unitCost decimal.Decimal) (*uuid.UUID, error) {
	posted, err := s.posting.PostAdjustmentTx(ctx, tx, posting.InventoryAdjustment{
		OutletID:  edit.OutletID,
		ProductID: edit.ProductID,
		Quantity:  qty,
		UnitCost:  unitCost,
		Reason:    reasonOrDefault(edit.Reason),
	}, edit.UserID)
	if err != nil {
		return nil, err
	}
	return posted.Ref.VoucherID, nil
}

// RecomputeProduct replays a product's movements under the stock-edit lock.
func (s *Service) RecomputeProduct(ctx context.Context, outletID, productID uuid.UUID) (ledger.StockReplay, error) {
	if outletID == uuid.Nil || productID == uuid.Nil {
		return ledger.StockReplay{}, fmt.Errorf("%w: outlet and product required", ErrInvalidEdit)
	}
	release, err := s.lock(ctx, outletID, productID)
	if err != nil {
		return ledger.StockReplay{}, err
	}
	defer release()
	return s.ledger.RecomputeProduct(ctx, productID)
}

// StockCard returns the product's movements in replay order.
func (s *Service) StockCard(ctx context.Context, filter StockCardFilter) ([]ledger.InventoryMovement, error) {
	if filter.ProductID == uuid.Nil {
		return nil, fmt.Errorf("%w: product required", ErrInvalidEdit)
	}
	var movements []ledger.InventoryMovement
	err := s.ledger.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		all, err := tx.ListMovementsByProduct(ctx, filter.ProductID)
		if err != nil {
			return err
		}
		ledger.SortMovements(all)
		movements = movements[:0]
		for _, m := range all {
			if filter.From != nil && m.Date.Before(*filter.From) {
				continue
			}
			if filter.To != nil && m.Date.After(*filter.To) {
				continue
			}
			movements = append(movements, m)
		}
		return nil
	})
	return movements, err
}

func (s *Service) lock(ctx context.Context, outletID, productID uuid.UUID) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	key := shared.StockEditLockKey(outletID, productID)
	release, err := s.locker.Obtain(ctx, key, s.lockTTL)
	if err != nil {
		return nil, err
	}
	return func() {
		// the request context may already be done; release on a fresh one
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			s.logger.Warn("release stock lock", slog.String("key", key), slog.Any("error", err))
		}
	}, nil
}

func reasonOrDefault(reason string) string {
	if reason == "" {
		return "stock correction"
	}
	return reason
}
