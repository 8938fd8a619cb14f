// Package httpx provides HTTP response utilities.
package httpx

import (
	"context"
	"errors"
	"net/http"

	"github.com/odyssey-erp/dealerledger/internal/ledger"
	"github.com/odyssey-erp/dealerledger/internal/platform/lock"
	"github.com/odyssey-erp/dealerledger/internal/shared"
)

// Sentinel errors for domain layer.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicate    = errors.New("duplicate entry")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrUnbalanced):
		Problem(w, http.StatusUnprocessableEntity, "Unbalanced Voucher", err.Error())
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ledger.ErrVoucherNotFound),
		errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, ledger.ErrProductNotFound),
		errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation),
		errors.Is(err, ledger.ErrInvalidPayload),
		errors.Is(err, ledger.ErrInvalidEntry),
		errors.Is(err, ledger.ErrTooFewEntries),
		errors.Is(err, ledger.ErrInvalidQuantity):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ledger.ErrNegativeStock):
		Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrDuplicate),
		errors.Is(err, ledger.ErrAlreadyPosted),
		errors.Is(err, ledger.ErrDuplicateVoucherNumber),
		errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ledger.ErrAlreadyReversed),
		errors.Is(err, ledger.ErrInvalidStatus),
		errors.Is(err, ledger.ErrImmutableEntry),
		errors.Is(err, ledger.ErrImmutableMovement):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, lock.ErrBusy):
		Problem(w, http.StatusLocked, "Locked", err.Error())
	case errors.Is(err, ledger.ErrSystemAccountMissing),
		errors.Is(err, ledger.ErrAccountNotConfigured):
		Problem(w, http.StatusInternalServerError, "Chart Of Accounts Incomplete", err.Error())
	case errors.Is(err, ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		Problem(w, http.StatusGatewayTimeout, "Timeout", "")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
