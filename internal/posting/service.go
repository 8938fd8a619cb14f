package posting

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/dealerledger/internal/ledger"
)

// MetricsRecorder observes translator outcomes.
type MetricsRecorder interface {
	ObservePosting(operation string, err error)
}

// Service translates business events into ledger vouchers.
type Service struct {
	ledger  *ledger.Service
	metrics MetricsRecorder
	logger  *slog.Logger
}

// NewService constructs the translator service. metrics may be nil.
func NewService(ledgerSvc *ledger.Service, metrics MetricsRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = ledgerSvc.Logger()
	}
	return &Service{ledger: ledgerSvc, metrics: metrics, logger: logger}
}

// Ledger exposes the underlying ledger service.
func (s *Service) Ledger() *ledger.Service {
	return s.ledger
}

func (s *Service) observe(operation string, err error) {
	if s.metrics != nil {
		s.metrics.ObservePosting(operation, err)
	}
	if err != nil {
		s.logger.Error("posting failed", slog.String("operation", operation), slog.Any("error", err))
	}
}

// ensureUnposted rejects a second posting of the same business document.
func (s *Service) ensureUnposted(ctx context.Context, tx ledger.TxRepository, outletID uuid.UUID, refType ledger.ReferenceType, refID string) error {
	active, err := s.ledger.ActiveVouchers(ctx, tx, outletID, refType, refID)
	if err != nil {
		return err
	}
	if len(active) > 0 {
		return fmt.Errorf("%w: %s %s as %s", ledger.ErrAlreadyPosted, refType, refID, active[0].Number)
	}
	return nil
}

// settlementAccount picks cash or bank for a payment method.
func settlementAccount(accounts ledger.SystemAccounts, method PaymentMethod) ledger.Account {
	if method.UsesBank() {
		return accounts.Bank
	}
	return accounts.Cash
}

// splitSettlement derives the settled and outstanding parts of a document total.
// A stated split must add up to the total within tol; the outstanding part absorbs the
// difference so the voucher balances exactly.
func splitSettlement(method PaymentMethod, total, paid, due, tol decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	total, paid, due = total.Round(2), paid.Round(2), due.Round(2)
	if method.IsCredit() {
		return decimal.Zero, total, nil
	}
	switch {
	case paid.IsZero() && due.IsZero():
		return total, decimal.Zero, nil
	case due.IsZero():
		due = total.Sub(paid)
	case paid.IsZero():
		paid = total.Sub(due)
	default:
		if diff := paid.Add(due).Sub(total); diff.Abs().GreaterThan(tol) {
			return paid, due, fmt.Errorf("%w: paid %s and due %s do not add up to %s", ErrInvalidPayload, paid.StringFixed(2), due.StringFixed(2), total.StringFixed(2))
		}
		due = total.Sub(paid)
	}
	if paid.IsNegative() || due.IsNegative() {
		return paid, due, fmt.Errorf("%w: paid %s exceeds total %s", ErrInvalidPayload, paid.StringFixed(2), total.StringFixed(2))
	}
	return paid, due, nil
}

// reconcileTotal checks a stated document total against the sum of its lines. A difference
// within tol resolves to the computed sum; anything larger is rejected.
func reconcileTotal(field string, stated, computed, tol decimal.Decimal) (decimal.Decimal, error) {
	if stated.IsZero() {
		return computed, nil
	}
	if diff := stated.Round(2).Sub(computed); diff.Abs().GreaterThan(tol) {
		return decimal.Zero, fmt.Errorf("%w: %w: %s %s does not match lines %s", ErrInvalidPayload, ledger.ErrUnbalanced, field, stated.StringFixed(2), computed.StringFixed(2))
	}
	return computed, nil
}

func ptr[T any](v T) *T {
	return &v
}

func requirePositive(field string, v decimal.Decimal) error {
	if !v.IsPositive() {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidPayload, field)
	}
	return nil
}

func requireOutlet(outletID uuid.UUID, refID string) error {
	if outletID == uuid.Nil {
		return fmt.Errorf("%w: outlet required", ErrInvalidPayload)
	}
	if refID == "" {
		return fmt.Errorf("%w: document id required", ErrInvalidPayload)
	}
	return nil
}
