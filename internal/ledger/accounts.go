package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

var requiredRoles = []SubType{
	SubTypeCash,
	SubTypeBank,
	SubTypeAccountsReceivable,
	SubTypeInventory,
	SubTypeSalesRevenue,
	SubTypeCOGS,
}

// SystemAccounts holds the accounts automated postings resolve per outlet.
type SystemAccounts struct {
	OutletID           uuid.UUID
	Cash               Account
	Bank               Account
	AccountsReceivable Account
	Inventory          Account
	SalesRevenue       Account
	COGS               Account

	AccountsPayable *Account
	ServiceRevenue  *Account
	VATPayable      *Account
	VATReceivable   *Account
	OwnerEquity     *Account
	SalesReturns    *Account
}

// ResolveSystemAccounts indexes the outlet's system accounts by sub-type and
// fails when any required role is missing.
func ResolveSystemAccounts(ctx context.Context, tx TxRepository, outletID uuid.UUID) (SystemAccounts, error) {
	accounts, err := tx.ListSystemAccounts(ctx, outletID)
	if err != nil {
		return SystemAccounts{}, err
	}
	byRole := make(map[SubType]Account, len(accounts))
	for _, acc := range accounts {
		if !acc.IsSystem {
			continue
		}
		role := ParseSubType(string(acc.SubType))
		if role == SubTypeOther || role == SubTypeExpense {
			continue
		}
		// first account per role wins; ordering is by code
		if _, seen := byRole[role]; !seen {
			acc.SubType = role
			byRole[role] = acc
		}
	}
	var missing []string
	for _, role := range requiredRoles {
		if _, ok := byRole[role]; !ok {
			missing = append(missing, string(role))
		}
	}
	if len(missing) > 0 {
		return SystemAccounts{}, fmt.Errorf("%w: outlet %s lacks %s", ErrSystemAccountMissing, outletID, strings.Join(missing, ", "))
	}
	optional := func(role SubType) *Account {
		acc, ok := byRole[role]
		if !ok {
			return nil
		}
		return &acc
	}
	return SystemAccounts{
		OutletID:           outletID,
		Cash:               byRole[SubTypeCash],
		Bank:               byRole[SubTypeBank],
		AccountsReceivable: byRole[SubTypeAccountsReceivable],
		Inventory:          byRole[SubTypeInventory],
		SalesRevenue:       byRole[SubTypeSalesRevenue],
		COGS:               byRole[SubTypeCOGS],
		AccountsPayable:    optional(SubTypeAccountsPayable),
		ServiceRevenue:     optional(SubTypeServiceRevenue),
		VATPayable:         optional(SubTypeVATPayable),
		VATReceivable:      optional(SubTypeVATReceivable),
		OwnerEquity:        optional(SubTypeOwnerEquity),
		SalesReturns:       optional(SubTypeSalesReturns),
	}, nil
}

// PayableOrFallback returns accounts payable, or accounts receivable with a warning.
func (s SystemAccounts) PayableOrFallback(logger *slog.Logger) Account {
	if s.AccountsPayable != nil {
		return *s.AccountsPayable
	}
	warnFallback(logger, s.OutletID, SubTypeAccountsPayable, s.AccountsReceivable)
	return s.AccountsReceivable
}

// ServiceRevenueOrFallback returns service revenue, or sales revenue with a warning.
func (s SystemAccounts) ServiceRevenueOrFallback(logger *slog.Logger) Account {
	if s.ServiceRevenue != nil {
		return *s.ServiceRevenue
	}
	warnFallback(logger, s.OutletID, SubTypeServiceRevenue, s.SalesRevenue)
	return s.SalesRevenue
}

// SalesReturnsOrFallback returns the contra-revenue account, or sales revenue with a warning.
func (s SystemAccounts) SalesReturnsOrFallback(logger *slog.Logger) Account {
	if s.SalesReturns != nil {
		return *s.SalesReturns
	}
	warnFallback(logger, s.OutletID, SubTypeSalesReturns, s.SalesRevenue)
	return s.SalesRevenue
}

// Require returns an optional role or ErrAccountNotConfigured.
func (s SystemAccounts) Require(role SubType) (Account, error) {
	var acc *Account
	switch role {
	case SubTypeAccountsPayable:
		acc = s.AccountsPayable
	case SubTypeServiceRevenue:
		acc = s.ServiceRevenue
	case SubTypeVATPayable:
		acc = s.VATPayable
	case SubTypeVATReceivable:
		acc = s.VATReceivable
	case SubTypeOwnerEquity:
		acc = s.OwnerEquity
	case SubTypeSalesReturns:
		acc = s.SalesReturns
	case SubTypeCash:
		return s.Cash, nil
	case SubTypeBank:
		return s.Bank, nil
	case SubTypeAccountsReceivable:
		return s.AccountsReceivable, nil
	case SubTypeInventory:
		return s.Inventory, nil
	case SubTypeSalesRevenue:
		return s.SalesRevenue, nil
	case SubTypeCOGS:
		return s.COGS, nil
	}
	if acc == nil {
		return Account{}, fmt.Errorf("%w: %s for outlet %s", ErrAccountNotConfigured, role, s.OutletID)
	}
	return *acc, nil
}

func warnFallback(logger *slog.Logger, outletID uuid.UUID, role SubType, used Account) {
	if logger == nil {
		return
	}
	logger.Warn("system account fallback",
		slog.String("outlet_id", outletID.String()),
		slog.String("missing", string(role)),
		slog.String("using", used.Code))
}
