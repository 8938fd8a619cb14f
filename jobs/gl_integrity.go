package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/dealerledger/internal/jobs"
	"github.com/odyssey-erp/dealerledger/internal/ledger"
)

// BalanceVerifier replays account entries and reports drifted balances.
type BalanceVerifier interface {
	VerifyAccountBalances(ctx context.Context, outletID uuid.UUID) ([]ledger.BalanceDrift, error)
}

// GLIntegrityJob compares cached account balances with their ledger entries.
type GLIntegrityJob struct {
	Ledger  BalanceVerifier
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewGLIntegrityJob initialises the integrity handler.
func NewGLIntegrityJob(ledgerSvc BalanceVerifier, logger *slog.Logger, metrics *jobmetrics.Metrics) *GLIntegrityJob {
	return &GLIntegrityJob{Ledger: ledgerSvc, Logger: logger, Metrics: metrics}
}

// Handle executes the integrity check. Drift is reported, not retried.
func (j *GLIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Ledger == nil {
		return errors.New("gl integrity: handler not configured")
	}
	var payload GLIntegrityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	_, err := j.Run(ctx, payload.OutletID)
	return err
}

// Run checks one outlet, or all of them for a nil id, and returns the drifted accounts.
func (j *GLIntegrityJob) Run(ctx context.Context, outletID uuid.UUID) ([]ledger.BalanceDrift, error) {
	start := time.Now()
	tracker := j.Metrics.Track(TaskGLIntegrity)
	logger := j.logger().With(slog.String("job", "gl_integrity"), slog.String("outlet_id", outletID.String()))

	drifts, err := j.Ledger.VerifyAccountBalances(ctx, outletID)
	if err != nil {
		logger.Error("integrity check failed", slog.Any("error", err))
		return nil, tracker.End(err)
	}
	j.Metrics.AddBalanceDrift(outletID, len(drifts))
	if len(drifts) > 0 {
		logger.Warn("balance drift detected", slog.Int("accounts", len(drifts)))
	}
	logger.Info("GL integrity check executed",
		slog.Int("drifted", len(drifts)),
		slog.Duration("duration", time.Since(start)))
	return drifts, tracker.End(nil)
}

func (j *GLIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
