package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/dealerledger/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Config tunes posting behaviour. Tolerance bounds how far a stated document total may
// drift from its lines; posted vouchers always balance exactly at storage precision.
type Config struct {
	Tolerance          decimal.Decimal
	NumberAttempts     int
	AllowNegativeStock bool
}

// Service coordinates voucher posting, reversal and the derived caches.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	numbers *NumberAllocator
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs the ledger service. counter may be nil.
func NewService(repo RepositoryPort, audit AuditPort, counter SequenceCounter, cfg Config, logger *slog.Logger) *Service {
	if cfg.Tolerance.IsNegative() {
		cfg.Tolerance = decimal.Zero
	}
	if cfg.NumberAttempts <= 0 {
		cfg.NumberAttempts = defaultNumberAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		audit:   audit,
		numbers: NewNumberAllocator(counter, cfg.NumberAttempts),
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
		s.numbers.now = now
	}
}

// Logger exposes the service logger to collaborating packages.
func (s *Service) Logger() *slog.Logger {
	return s.logger
}

// Tolerance is the accepted difference between a stated document total and its lines.
func (s *Service) Tolerance() decimal.Decimal {
	return s.cfg.Tolerance
}

// Now returns the service clock reading.
func (s *Service) Now() time.Time {
	return s.now()
}

// WithTx runs fn in one transaction, retrying the whole unit when a voucher number
// collides with a concurrent writer.
func (s *Service) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	var err error
	for attempt := 1; attempt <= s.cfg.NumberAttempts; attempt++ {
		err = s.repo.WithTx(ctx, fn)
		if !errors.Is(err, ErrDuplicateVoucherNumber) {
			return err
		}
		s.logger.Warn("voucher number collision, retrying", slog.Int("attempt", attempt), slog.Any("error", err))
	}
	return err
}

// SystemAccounts resolves the outlet's system accounts within tx.
func (s *Service) SystemAccounts(ctx context.Context, tx TxRepository, outletID uuid.UUID) (SystemAccounts, error) {
	return ResolveSystemAccounts(ctx, tx, outletID)
}

// Post validates the draft, allocates a number and persists the voucher with its entries,
// then applies the balance deltas. It must run inside tx.
func (s *Service) Post(ctx context.Context, tx TxRepository, draft VoucherDraft) (Voucher, error) {
	if draft.OutletID == uuid.Nil {
		return Voucher{}, errors.New("ledger: outlet required")
	}
	draft.Lines = RoundLines(draft.Lines)
	debit, credit, err := ValidateEntries(draft.Lines, decimal.Zero)
	if err != nil {
		return Voucher{}, err
	}
	date := draft.Date
	if date.IsZero() {
		date = s.now()
	}
	if draft.Type == "" {
		draft.Type = VoucherTypeJournal
	}
	number, err := s.numbers.Next(ctx, tx, draft.Type, draft.OutletID, date)
	if err != nil {
		return Voucher{}, err
	}
	voucher := Voucher{
		ID:                uuid.New(),
		OutletID:          draft.OutletID,
		Number:            number,
		Type:              draft.Type,
		Date:              date,
		Narration:         draft.Narration,
		TotalDebit:        debit,
		TotalCredit:       credit,
		Status:            VoucherStatusPosted,
		ReferenceType:     draft.ReferenceType,
		ReferenceID:       draft.ReferenceID,
		CreatedBy:         draft.CreatedBy,
		CreatedAt:         s.now(),
		IsReversal:        draft.IsReversal,
		ReversesVoucherID: draft.ReversesVoucherID,
		IsOpeningBalance:  draft.IsOpeningBalance,
	}
	if err := tx.InsertVoucher(ctx, voucher); err != nil {
		return Voucher{}, err
	}
	entries, err := AppendEntries(ctx, tx, voucher, draft.Lines, draft.reversedEntries, voucher.CreatedAt)
	if err != nil {
		return Voucher{}, err
	}
	voucher.Entries = entries
	if err := ApplyVoucherBalances(ctx, tx, voucher); err != nil {
		return Voucher{}, err
	}
	s.logger.Debug("voucher posted",
		slog.String("number", voucher.Number),
		slog.String("reference_type", string(voucher.ReferenceType)),
		slog.String("reference_id", voucher.ReferenceID),
		slog.String("total", debit.StringFixed(2)))
	return voucher, nil
}

// Reverse posts the mirror of a voucher and offsets its inventory movements inside tx.
// The original voucher is left untouched; it becomes inactive once a reversal references it.
func (s *Service) Reverse(ctx context.Context, tx TxRepository, voucherID, actorID uuid.UUID, narration string) (Voucher, error) {
	original, err := tx.GetVoucher(ctx, voucherID)
	if err != nil {
		return Voucher{}, err
	}
	if original.IsReversal {
		return Voucher{}, fmt.Errorf("%w: %s is itself a reversal", ErrInvalidStatus, original.Number)
	}
	existing, err := tx.FindReversalOf(ctx, original.ID)
	if err != nil {
		return Voucher{}, err
	}
	if existing != nil {
		return Voucher{}, fmt.Errorf("%w: %s by %s", ErrAlreadyReversed, original.Number, existing.Number)
	}
	if narration == "" {
		narration = fmt.Sprintf("Reversal of %s", original.Number)
	}
	reversedEntries := make([]uuid.UUID, 0, len(original.Entries))
	for _, e := range original.Entries {
		reversedEntries = append(reversedEntries, e.ID)
	}
	originalID := original.ID
	reversal, err := s.Post(ctx, tx, VoucherDraft{
		OutletID:          original.OutletID,
		Type:              original.Type,
		Date:              s.now(),
		Narration:         narration,
		ReferenceType:     original.ReferenceType,
		ReferenceID:       original.ReferenceID,
		CreatedBy:         actorID,
		Lines:             SwapLines(original.Entries),
		IsReversal:        true,
		ReversesVoucherID: &originalID,
		reversedEntries:   reversedEntries,
	})
	if err != nil {
		return Voucher{}, err
	}
	products, err := s.ReverseMovements(ctx, tx, original.ID, reversal.ID)
	if err != nil {
		return Voucher{}, err
	}
	for _, productID := range products {
		if _, err := RecomputeFromMovements(ctx, tx, productID); err != nil {
			return Voucher{}, err
		}
	}
	return reversal, nil
}

// ActiveVouchers returns the unreversed vouchers posted for a business document.
func (s *Service) ActiveVouchers(ctx context.Context, tx TxRepository, outletID uuid.UUID, refType ReferenceType, refID string) ([]Voucher, error) {
	vouchers, err := tx.FindVouchersByReference(ctx, outletID, refType, refID)
	if err != nil {
		return nil, err
	}
	active := vouchers[:0]
	for _, v := range vouchers {
		reversal, err := tx.FindReversalOf(ctx, v.ID)
		if err != nil {
			return nil, err
		}
		if reversal == nil {
			active = append(active, v)
		}
	}
	return active, nil
}

// ReverseInput carries a manual reversal request.
type ReverseInput struct {
	VoucherID uuid.UUID
	ActorID   uuid.UUID
	Narration string
}

// ReverseVoucher reverses a single voucher in its own transaction.
func (s *Service) ReverseVoucher(ctx context.Context, input ReverseInput) (Voucher, error) {
	if input.VoucherID == uuid.Nil {
		return Voucher{}, errors.New("ledger: voucher id required")
	}
	var reversal Voucher
	err := s.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		reversal, err = s.Reverse(ctx, tx, input.VoucherID, input.ActorID, input.Narration)
		return err
	})
	if err != nil {
		return Voucher{}, err
	}
	s.Record(ctx, input.ActorID, "voucher.reverse", input.VoucherID.String(), map[string]any{
		"reversal_id":     reversal.ID.String(),
		"reversal_number": reversal.Number,
	})
	return reversal, nil
}

// ApproveVoucher moves a posted voucher to approved.
func (s *Service) ApproveVoucher(ctx context.Context, voucherID, actorID uuid.UUID) (Voucher, error) {
	var voucher Voucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetVoucher(ctx, voucherID)
		if err != nil {
			return err
		}
		if current.Status != VoucherStatusPosted {
			return ErrInvalidStatus
		}
		at := s.now()
		if err := tx.MarkVoucherApproved(ctx, voucherID, actorID, at); err != nil {
			return err
		}
		current.Status = VoucherStatusApproved
		current.ApprovedAt = &at
		current.ApprovedBy = &actorID
		voucher = current
		return nil
	})
	if err != nil {
		return Voucher{}, err
	}
	s.Record(ctx, actorID, "voucher.approve", voucherID.String(), map[string]any{"number": voucher.Number})
	return voucher, nil
}

// GetVoucher loads a voucher with its entries.
func (s *Service) GetVoucher(ctx context.Context, voucherID uuid.UUID) (Voucher, error) {
	var voucher Voucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		voucher, err = tx.GetVoucher(ctx, voucherID)
		return err
	})
	return voucher, err
}

// ListVouchers returns voucher headers matching filter.
func (s *Service) ListVouchers(ctx context.Context, filter VoucherFilter) ([]Voucher, error) {
	var vouchers []Voucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		vouchers, err = tx.ListVouchers(ctx, filter)
		return err
	})
	return vouchers, err
}

// ListAccounts returns the outlet's chart of accounts with cached balances.
func (s *Service) ListAccounts(ctx context.Context, outletID uuid.UUID) ([]Account, error) {
	var accounts []Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		accounts, err = tx.ListAccounts(ctx, outletID)
		return err
	})
	return accounts, err
}

// VerifyAccountBalances replays every account's entries and reports cached balances that drifted.
func (s *Service) VerifyAccountBalances(ctx context.Context, outletID uuid.UUID) ([]BalanceDrift, error) {
	var drifts []BalanceDrift
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		accounts, err := tx.ListAccounts(ctx, outletID)
		if err != nil {
			return err
		}
		for _, account := range accounts {
			entries, err := tx.ListEntriesByAccount(ctx, account.ID)
			if err != nil {
				return err
			}
			replayed := ReplayAccountBalance(account, entries)
			if !replayed.Equal(account.CurrentBalance) {
				drifts = append(drifts, BalanceDrift{
					AccountID: account.ID,
					Code:      account.Code,
					Cached:    account.CurrentBalance,
					Replayed:  replayed,
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, d := range drifts {
		s.logger.Warn("account balance drift",
			slog.String("account", d.Code),
			slog.String("cached", d.Cached.String()),
			slog.String("replayed", d.Replayed.String()))
	}
	return drifts, nil
}

// OpeningBalanceInput seeds account balances for a new outlet.
type OpeningBalanceInput struct {
	OutletID uuid.UUID
	Date     time.Time
	ActorID  uuid.UUID
	Lines    []OpeningBalanceLine
}

const openingBalanceRef = "opening"

// SeedOpeningBalances posts the outlet's opening balances as one voucher, balanced against
// owner equity. The voucher is flagged so the regular balance application skips it; the
// deltas are applied once here.
func (s *Service) SeedOpeningBalances(ctx context.Context, input OpeningBalanceInput) (Voucher, error) {
	var voucher Voucher
	err := s.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := s.ActiveVouchers(ctx, tx, input.OutletID, RefOpeningBalance, openingBalanceRef)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return fmt.Errorf("%w: opening balances %s", ErrAlreadyPosted, existing[0].Number)
		}
		accounts, err := ResolveSystemAccounts(ctx, tx, input.OutletID)
		if err != nil {
			return err
		}
		equity, err := accounts.Require(SubTypeOwnerEquity)
		if err != nil {
			return err
		}
		var lines []EntryLine
		net := decimal.Zero
		for _, line := range input.Lines {
			if line.Amount.IsZero() {
				continue
			}
			account, err := tx.GetAccount(ctx, line.AccountID)
			if err != nil {
				return err
			}
			if account.OutletID != input.OutletID {
				return fmt.Errorf("%w: %s belongs to another outlet", ErrAccountNotFound, account.Code)
			}
			amount := line.Amount.Abs().Round(2)
			debitSide := account.Type.DebitNormal() == line.Amount.IsPositive()
			if debitSide {
				lines = append(lines, Debit(account, amount, "Opening balance"))
				net = net.Add(amount)
			} else {
				lines = append(lines, Credit(account, amount, "Opening balance"))
				net = net.Sub(amount)
			}
		}
		switch {
		case net.IsPositive():
			lines = append(lines, Credit(equity, net, "Opening balance equity"))
		case net.IsNegative():
			lines = append(lines, Debit(equity, net.Neg(), "Opening balance equity"))
		}
		voucher, err = s.Post(ctx, tx, VoucherDraft{
			OutletID:         input.OutletID,
			Type:             VoucherTypeJournal,
			Date:             input.Date,
			Narration:        "Opening balances",
			ReferenceType:    RefOpeningBalance,
			ReferenceID:      openingBalanceRef,
			CreatedBy:        input.ActorID,
			Lines:            lines,
			IsOpeningBalance: true,
		})
		if err != nil {
			return err
		}
		return applyEntryDeltas(ctx, tx, voucher.Entries)
	})
	if err != nil {
		return Voucher{}, err
	}
	s.Record(ctx, input.ActorID, "voucher.opening_balance", voucher.ID.String(), map[string]any{"number": voucher.Number})
	return voucher, nil
}

// RecomputeProduct replays a product's movements in its own transaction.
func (s *Service) RecomputeProduct(ctx context.Context, productID uuid.UUID) (StockReplay, error) {
	var replay StockReplay
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		replay, err = RecomputeFromMovements(ctx, tx, productID)
		return err
	})
	if err != nil {
		return StockReplay{}, err
	}
	if replay.Rebalanced > 0 || !replay.PreviousStock.Equal(replay.Stock) {
		s.logger.Info("product stock recomputed",
			slog.String("product_id", productID.String()),
			slog.String("previous", replay.PreviousStock.String()),
			slog.String("stock", replay.Stock.String()),
			slog.Int("rebalanced", replay.Rebalanced))
	}
	return replay, nil
}

// ListProducts returns products for the outlet, or every product when outletID is nil.
func (s *Service) ListProducts(ctx context.Context, outletID uuid.UUID) ([]Product, error) {
	var products []Product
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		products, err = tx.ListProducts(ctx, outletID)
		return err
	})
	return products, err
}

// HasTradingHistory reports whether the product has any sale, purchase, return or transfer.
func HasTradingHistory(ctx context.Context, tx TxRepository, productID uuid.UUID) (bool, error) {
	count, err := tx.CountMovementsByType(ctx, productID, TradingMovementTypes)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Record writes an audit entry for a voucher; failures are logged, not returned.
func (s *Service) Record(ctx context.Context, actorID uuid.UUID, action, entityID string, meta map[string]any) {
	s.RecordEntity(ctx, actorID, "voucher", action, entityID, meta)
}

// RecordEntity writes an audit entry for any ledger-owned entity.
func (s *Service) RecordEntity(ctx context.Context, actorID uuid.UUID, entity, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
