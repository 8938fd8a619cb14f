package ledger

import "errors"

var (
	// ErrSystemAccountMissing indicates a required system account is not configured for the outlet.
	ErrSystemAccountMissing = errors.New("ledger: required system account missing")
	// ErrAccountNotConfigured indicates an optional system account needed by a posting is absent.
	ErrAccountNotConfigured = errors.New("ledger: account not configured")
	// ErrAccountNotFound indicates an unknown account id.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = errors.New("ledger: entries must balance")
	// ErrTooFewEntries indicates less than two lines.
	ErrTooFewEntries = errors.New("ledger: voucher requires at least two entries")
	// ErrInvalidEntry indicates a line with both, neither or negative sides.
	ErrInvalidEntry = errors.New("ledger: entry must carry exactly one positive side")
	// ErrImmutableEntry is returned for any update or delete of a ledger entry.
	ErrImmutableEntry = errors.New("ledger: ledger entries are append-only")
	// ErrImmutableMovement is returned for any update or delete of an inventory movement.
	ErrImmutableMovement = errors.New("ledger: inventory movements are append-only")
	// ErrVoucherNotFound indicates missing voucher.
	ErrVoucherNotFound = errors.New("ledger: voucher not found")
	// ErrProductNotFound indicates missing product.
	ErrProductNotFound = errors.New("ledger: product not found")
	// ErrAlreadyPosted indicates the business document already has a voucher.
	ErrAlreadyPosted = errors.New("ledger: document already posted")
	// ErrAlreadyReversed indicates the voucher already has a reversal.
	ErrAlreadyReversed = errors.New("ledger: voucher already reversed")
	// ErrDuplicateVoucherNumber indicates a voucher number collision at the storage layer.
	ErrDuplicateVoucherNumber = errors.New("ledger: duplicate voucher number")
	// ErrInvalidStatus indicates the voucher status forbids the action.
	ErrInvalidStatus = errors.New("ledger: invalid status transition")
	// ErrNegativeStock triggered when movement would result negative qty.
	ErrNegativeStock = errors.New("ledger: negative stock not allowed")
	// ErrInvalidPayload indicates a business event that cannot be translated.
	ErrInvalidPayload = errors.New("ledger: invalid payload")
	// ErrInvalidQuantity indicates a zero quantity movement.
	ErrInvalidQuantity = errors.New("ledger: quantity must be non zero")
)
