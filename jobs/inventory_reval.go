package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/odyssey-erp/dealerledger/internal/jobs"
	"github.com/odyssey-erp/dealerledger/internal/ledger"
)

const defaultRevaluationParallelism = 4

// ProductLister lists products for revaluation.
type ProductLister interface {
	ListProducts(ctx context.Context, outletID uuid.UUID) ([]ledger.Product, error)
}

// ProductRecomputer replays one product's movements.
type ProductRecomputer interface {
	RecomputeProduct(ctx context.Context, outletID, productID uuid.UUID) (ledger.StockReplay, error)
}

// InventoryRevaluationJob rebuilds product stock and cost caches from their movements.
type InventoryRevaluationJob struct {
	Products    ProductLister
	Recomputer  ProductRecomputer
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	Parallelism int
}

// RevaluationSummary aggregates one revaluation run.
type RevaluationSummary struct {
	Products   int
	Changed    int
	Rebalanced int
}

// NewInventoryRevaluationJob initialises the revaluation handler.
func NewInventoryRevaluationJob(products ProductLister, recomputer ProductRecomputer, logger *slog.Logger, metrics *jobmetrics.Metrics) *InventoryRevaluationJob {
	return &InventoryRevaluationJob{
		Products:    products,
		Recomputer:  recomputer,
		Logger:      logger,
		Metrics:     metrics,
		Parallelism: defaultRevaluationParallelism,
	}
}

// Handle executes the revaluation task.
func (j *InventoryRevaluationJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Products == nil || j.Recomputer == nil {
		return errors.New("inventory revaluation: handler not configured")
	}
	var payload InventoryRevaluationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	_, err := j.Run(ctx, payload)
	return err
}

// Run replays the selected products, a few at a time.
func (j *InventoryRevaluationJob) Run(ctx context.Context, payload InventoryRevaluationPayload) (RevaluationSummary, error) {
	start := time.Now()
	tracker := j.Metrics.Track(TaskInventoryRevaluation)
	logger := j.logger().With(slog.String("job", "inventory_revaluation"), slog.String("outlet_id", payload.OutletID.String()))

	targets, err := j.targets(ctx, payload)
	if err != nil {
		logger.Error("list products failed", slog.Any("error", err))
		return RevaluationSummary{}, tracker.End(err)
	}

	var (
		mu      sync.Mutex
		summary = RevaluationSummary{Products: len(targets)}
	)
	limit := j.Parallelism
	if limit <= 0 {
		limit = defaultRevaluationParallelism
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, p := range targets {
		g.Go(func() error {
			replay, err := j.Recomputer.RecomputeProduct(gctx, p.OutletID, p.ID)
			if err != nil {
				return fmt.Errorf("recompute %s: %w", p.SKU, err)
			}
			mu.Lock()
			defer mu.Unlock()
			summary.Rebalanced += replay.Rebalanced
			if !replay.PreviousStock.Equal(replay.Stock) {
				summary.Changed++
			}
			return nil
		})
	}
	err = g.Wait()
	j.Metrics.AddRebalancedMovements(summary.Rebalanced)
	if err != nil {
		logger.Error("revaluation failed", slog.Any("error", err))
		return summary, tracker.End(err)
	}
	logger.Info("inventory revaluation completed",
		slog.Int("products", summary.Products),
		slog.Int("changed", summary.Changed),
		slog.Int("rebalanced", summary.Rebalanced),
		slog.Duration("duration", time.Since(start)))
	return summary, tracker.End(nil)
}

func (j *InventoryRevaluationJob) targets(ctx context.Context, payload InventoryRevaluationPayload) ([]ledger.Product, error) {
	products, err := j.Products.ListProducts(ctx, payload.OutletID)
	if err != nil {
		return nil, err
	}
	if len(payload.ProductIDs) == 0 {
		return products, nil
	}
	wanted := make(map[uuid.UUID]struct{}, len(payload.ProductIDs))
	for _, id := range payload.ProductIDs {
		wanted[id] = struct{}{}
	}
	selected := products[:0]
	for _, p := range products {
		if _, ok := wanted[p.ID]; ok {
			selected = append(selected, p)
		}
	}
	return selected, nil
}

func (j *InventoryRevaluationJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
