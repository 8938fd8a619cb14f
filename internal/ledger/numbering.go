package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultNumberAttempts = 5

// SequenceCounter hands out candidate sequences from a storage-native counter.
// floor is the highest sequence already persisted for the key.
type SequenceCounter interface {
	Next(ctx context.Context, key string, floor int64) (int64, error)
}

// NumberStore exposes the reads the allocator needs.
type NumberStore interface {
	MaxVoucherSequence(ctx context.Context, outletID uuid.UUID, prefix, period string) (int64, error)
	VoucherNumberExists(ctx context.Context, outletID uuid.UUID, number string) (bool, error)
}

// NumberAllocator generates {PREFIX}-{YYYYMM}-{00001} voucher numbers.
// Sequences are best effort: gaps are allowed, duplicates are not.
type NumberAllocator struct {
	counter     SequenceCounter
	maxAttempts int
	now         func() time.Time
}

// NewNumberAllocator constructs an allocator; counter may be nil.
func NewNumberAllocator(counter SequenceCounter, maxAttempts int) *NumberAllocator {
	if maxAttempts <= 0 {
		maxAttempts = defaultNumberAttempts
	}
	return &NumberAllocator{counter: counter, maxAttempts: maxAttempts, now: time.Now}
}

// Next returns an unused voucher number for the outlet, type and period of at.
func (a *NumberAllocator) Next(ctx context.Context, store NumberStore, vt VoucherType, outletID uuid.UUID, at time.Time) (string, error) {
	prefix := vt.Prefix()
	period := at.Format("200601")
	maxSeq, err := store.MaxVoucherSequence(ctx, outletID, prefix, period)
	if err != nil {
		return "", fmt.Errorf("ledger: read voucher sequence: %w", err)
	}
	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		candidate := maxSeq + 1 + int64(attempt)
		if a.counter != nil {
			// counter failures degrade to the stored maximum
			if seq, err := a.counter.Next(ctx, SequenceKey(outletID, prefix, period), maxSeq); err == nil {
				candidate = seq
			}
		}
		number := FormatVoucherNumber(prefix, period, candidate)
		exists, err := store.VoucherNumberExists(ctx, outletID, number)
		if err != nil {
			return "", fmt.Errorf("ledger: probe voucher number: %w", err)
		}
		if !exists {
			return number, nil
		}
	}
	return fmt.Sprintf("%s-%s-T%d", prefix, period, a.now().UnixNano()), nil
}

// SequenceKey builds the counter key for an outlet, prefix and period.
func SequenceKey(outletID uuid.UUID, prefix, period string) string {
	return fmt.Sprintf("ledger:voucher-seq:%s:%s:%s", outletID, prefix, period)
}

// FormatVoucherNumber renders a voucher number.
func FormatVoucherNumber(prefix, period string, seq int64) string {
	return fmt.Sprintf("%s-%s-%05d", prefix, period, seq)
}

// ParseVoucherSequence extracts the numeric sequence of a formatted voucher number.
// Timestamp fallback numbers are not sequences and report ok=false.
func ParseVoucherSequence(number string) (prefix, period string, seq int64, ok bool) {
	parts := strings.Split(number, "-")
	if len(parts) != 3 || len(parts[1]) != 6 {
		return "", "", 0, false
	}
	n, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", "", 0, false
	}
	return parts[0], parts[1], n, true
}
