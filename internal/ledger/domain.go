package ledger

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// DebitNormal reports whether the account type increases with debits.
func (t AccountType) DebitNormal() bool {
	return t == AccountTypeAsset || t == AccountTypeExpense
}

// SubType identifies the role an account plays in automated postings.
type SubType string

const (
	SubTypeCash               SubType = "cash"
	SubTypeBank               SubType = "bank"
	SubTypeAccountsReceivable SubType = "accounts_receivable"
	SubTypeInventory          SubType = "inventory"
	SubTypeAccountsPayable    SubType = "accounts_payable"
	SubTypeSalesRevenue       SubType = "sales_revenue"
	SubTypeServiceRevenue     SubType = "service_revenue"
	SubTypeCOGS               SubType = "cogs"
	SubTypeVATPayable         SubType = "vat_payable"
	SubTypeVATReceivable      SubType = "vat_receivable"
	SubTypeOwnerEquity        SubType = "owner_equity"
	SubTypeSalesReturns       SubType = "sales_returns"
	SubTypeExpense            SubType = "expense"
	SubTypeOther              SubType = "other"
)

// ParseSubType normalises stored sub-type keys ("Accounts-Receivable" -> accounts_receivable).
func ParseSubType(raw string) SubType {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	switch SubType(key) {
	case SubTypeCash, SubTypeBank, SubTypeAccountsReceivable, SubTypeInventory, SubTypeAccountsPayable,
		SubTypeSalesRevenue, SubTypeServiceRevenue, SubTypeCOGS, SubTypeVATPayable, SubTypeVATReceivable,
		SubTypeOwnerEquity, SubTypeSalesReturns, SubTypeExpense:
		return SubType(key)
	case "ar", "receivable":
		return SubTypeAccountsReceivable
	case "ap", "payable":
		return SubTypeAccountsPayable
	case "cost_of_goods_sold":
		return SubTypeCOGS
	}
	return SubTypeOther
}

// Account models a chart of accounts node scoped to an outlet.
type Account struct {
	ID             uuid.UUID       `json:"id"`
	OutletID       uuid.UUID       `json:"outlet_id"`
	Code           string          `json:"code"`
	Name           string          `json:"name"`
	Type           AccountType     `json:"type"`
	SubType        SubType         `json:"sub_type"`
	IsSystem       bool            `json:"is_system"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// VoucherType enumerates voucher kinds; each maps to a number prefix.
type VoucherType string

const (
	VoucherTypePayment VoucherType = "payment"
	VoucherTypeReceipt VoucherType = "receipt"
	VoucherTypeJournal VoucherType = "journal"
	VoucherTypeContra  VoucherType = "contra"
)

// Prefix returns the voucher number prefix for the type.
func (t VoucherType) Prefix() string {
	switch t {
	case VoucherTypeReceipt:
		return "RE"
	case VoucherTypePayment:
		return "PY"
	case VoucherTypeContra:
		return "CO"
	default:
		return "JO"
	}
}

// VoucherStatus enumerates voucher lifecycle values.
type VoucherStatus string

const (
	VoucherStatusDraft     VoucherStatus = "draft"
	VoucherStatusPosted    VoucherStatus = "posted"
	VoucherStatusApproved  VoucherStatus = "approved"
	VoucherStatusCancelled VoucherStatus = "cancelled"
)

// ReferenceType names the business document a voucher or movement originates from.
type ReferenceType string

const (
	RefSale                ReferenceType = "sale"
	RefSaleCOGS            ReferenceType = "sale_cogs"
	RefPurchase            ReferenceType = "purchase"
	RefPurchasePayment     ReferenceType = "purchase_payment"
	RefExpense             ReferenceType = "expense"
	RefInventoryAdjustment ReferenceType = "inventory_adjustment"
	RefOpeningStock        ReferenceType = "opening_stock"
	RefReturn              ReferenceType = "return"
	RefOpeningBalance      ReferenceType = "opening_balance"
)

// Voucher is the header of one atomic accounting transaction.
type Voucher struct {
	ID                uuid.UUID       `json:"id"`
	OutletID          uuid.UUID       `json:"outlet_id"`
	Number            string          `json:"number"`
	Type              VoucherType     `json:"type"`
	Date              time.Time       `json:"date"`
	Narration         string          `json:"narration"`
	Entries           []LedgerEntry   `json:"entries,omitempty"`
	TotalDebit        decimal.Decimal `json:"total_debit"`
	TotalCredit       decimal.Decimal `json:"total_credit"`
	Status            VoucherStatus   `json:"status"`
	ReferenceType     ReferenceType   `json:"reference_type"`
	ReferenceID       string          `json:"reference_id"`
	CreatedBy         uuid.UUID       `json:"created_by"`
	CreatedAt         time.Time       `json:"created_at"`
	ApprovedAt        *time.Time      `json:"approved_at,omitempty"`
	ApprovedBy        *uuid.UUID      `json:"approved_by,omitempty"`
	IsReversal        bool            `json:"is_reversal"`
	ReversesVoucherID *uuid.UUID      `json:"reverses_voucher_id,omitempty"`
	IsOpeningBalance  bool            `json:"is_opening_balance"`
}

// LedgerEntry stores one debit or credit line of a voucher.
type LedgerEntry struct {
	ID              uuid.UUID       `json:"id"`
	VoucherID       uuid.UUID       `json:"voucher_id"`
	OutletID        uuid.UUID       `json:"outlet_id"`
	AccountID       uuid.UUID       `json:"account_id"`
	AccountCode     string          `json:"account_code"`
	AccountName     string          `json:"account_name"`
	AccountType     AccountType     `json:"account_type"`
	Debit           decimal.Decimal `json:"debit"`
	Credit          decimal.Decimal `json:"credit"`
	Date            time.Time       `json:"date"`
	Narration       string          `json:"narration"`
	ReferenceType   ReferenceType   `json:"reference_type"`
	ReferenceID     string          `json:"reference_id"`
	IsReversal      bool            `json:"is_reversal"`
	ReversesEntryID *uuid.UUID      `json:"reverses_entry_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// EntryLine describes a line of a voucher before it is persisted.
type EntryLine struct {
	Account   Account
	Debit     decimal.Decimal
	Credit    decimal.Decimal
	Narration string
}

// Debit builds a debit line against account.
func Debit(account Account, amount decimal.Decimal, narration string) EntryLine {
	return EntryLine{Account: account, Debit: amount, Credit: decimal.Zero, Narration: narration}
}

// Credit builds a credit line against account.
func Credit(account Account, amount decimal.Decimal, narration string) EntryLine {
	return EntryLine{Account: account, Debit: decimal.Zero, Credit: amount, Narration: narration}
}

// VoucherDraft groups fields required to post a voucher.
type VoucherDraft struct {
	OutletID          uuid.UUID
	Type              VoucherType
	Date              time.Time
	Narration         string
	ReferenceType     ReferenceType
	ReferenceID       string
	CreatedBy         uuid.UUID
	Lines             []EntryLine
	IsReversal        bool
	ReversesVoucherID *uuid.UUID
	IsOpeningBalance  bool
	// reversedEntries aligns with Lines when the draft reverses another voucher.
	reversedEntries []uuid.UUID
}

// MovementType enumerates inventory movement kinds.
type MovementType string

const (
	MovementSale       MovementType = "SALE"
	MovementPurchase   MovementType = "PURCHASE"
	MovementAdjustment MovementType = "ADJUSTMENT"
	MovementReturn     MovementType = "RETURN"
	MovementTransfer   MovementType = "TRANSFER"
)

// TradingMovementTypes are the movements that make a product's history non-trivial.
var TradingMovementTypes = []MovementType{MovementSale, MovementPurchase, MovementReturn, MovementTransfer}

// InventoryMovement is one immutable stock quantity change.
type InventoryMovement struct {
	ID                 uuid.UUID       `json:"id"`
	OutletID           uuid.UUID       `json:"outlet_id"`
	ProductID          uuid.UUID       `json:"product_id"`
	ProductName        string          `json:"product_name"`
	SKU                string          `json:"sku"`
	Type               MovementType    `json:"type"`
	Quantity           decimal.Decimal `json:"quantity"`
	UnitCost           decimal.Decimal `json:"unit_cost"`
	TotalValue         decimal.Decimal `json:"total_value"`
	VoucherID          *uuid.UUID      `json:"voucher_id,omitempty"`
	BalanceAfter       decimal.Decimal `json:"balance_after"`
	ReferenceType      ReferenceType   `json:"reference_type"`
	ReferenceID        string          `json:"reference_id"`
	Date               time.Time       `json:"date"`
	CreatedAt          time.Time       `json:"created_at"`
	Seq                int64           `json:"seq"`
	IsReversal         bool            `json:"is_reversal"`
	ReversesMovementID *uuid.UUID      `json:"reverses_movement_id,omitempty"`
}

// MovementInput describes a movement to append.
type MovementInput struct {
	ProductID     uuid.UUID
	Type          MovementType
	Quantity      decimal.Decimal
	UnitCost      decimal.Decimal
	VoucherID     *uuid.UUID
	ReferenceType ReferenceType
	ReferenceID   string
	Date          time.Time
	// BalanceAfter overrides the running total; nil derives it from the product stock cache.
	BalanceAfter *decimal.Decimal
	IsReversal   bool
	Reverses     *uuid.UUID
}

// Product carries the stock and cost caches the engine maintains.
type Product struct {
	ID           uuid.UUID       `json:"id"`
	OutletID     uuid.UUID       `json:"outlet_id"`
	Name         string          `json:"name"`
	SKU          string          `json:"sku"`
	CurrentStock decimal.Decimal `json:"current_stock"`
	CostPrice    decimal.Decimal `json:"cost_price"`
	PurchasedQty decimal.Decimal `json:"purchased_qty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// CostChange reports a weighted-average cost update.
type CostChange struct {
	ProductID uuid.UUID       `json:"product_id"`
	OldCost   decimal.Decimal `json:"old_cost"`
	NewCost   decimal.Decimal `json:"new_cost"`
}

// StockReplay is the outcome of recomputing a product from its movements.
type StockReplay struct {
	ProductID     uuid.UUID       `json:"product_id"`
	Stock         decimal.Decimal `json:"stock"`
	Cost          decimal.Decimal `json:"cost"`
	Movements     int             `json:"movements"`
	Rebalanced    int             `json:"rebalanced"`
	PreviousStock decimal.Decimal `json:"previous_stock"`
}

// BalanceDrift reports an account whose cached balance differs from its entries.
type BalanceDrift struct {
	AccountID uuid.UUID       `json:"account_id"`
	Code      string          `json:"code"`
	Cached    decimal.Decimal `json:"cached"`
	Replayed  decimal.Decimal `json:"replayed"`
}

// OpeningBalanceLine seeds one account balance.
type OpeningBalanceLine struct {
	AccountID uuid.UUID       `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
}
