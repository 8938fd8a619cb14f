package posting

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/dealerledger/internal/ledger"
)

// ErrInvalidPayload indicates a business event that cannot be translated.
var ErrInvalidPayload = ledger.ErrInvalidPayload

// PaymentMethod is how a document was settled.
type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentBank     PaymentMethod = "bank"
	PaymentCard     PaymentMethod = "card"
	PaymentTransfer PaymentMethod = "transfer"
	PaymentCheque   PaymentMethod = "cheque"
	PaymentCredit   PaymentMethod = "credit"
)

// Normalize lower-cases the method and defaults blanks to cash.
func (m PaymentMethod) Normalize() PaymentMethod {
	method := PaymentMethod(strings.ToLower(strings.TrimSpace(string(m))))
	if method == "" {
		return PaymentCash
	}
	return method
}

// IsCredit reports whether nothing was settled at the time of the document.
func (m PaymentMethod) IsCredit() bool {
	return m.Normalize() == PaymentCredit
}

// UsesBank reports whether settlement goes through the bank account.
func (m PaymentMethod) UsesBank() bool {
	switch m.Normalize() {
	case PaymentBank, PaymentCard, PaymentTransfer, PaymentCheque:
		return true
	}
	return false
}

// SaleLine is one invoiced item; labor lines carry workshop service.
type SaleLine struct {
	ProductID *uuid.UUID      `json:"product_id,omitempty"`
	Name      string          `json:"name" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	CostPrice decimal.Decimal `json:"cost_price"`
	Tax       decimal.Decimal `json:"tax"`
	IsLabor   bool            `json:"is_labor"`
}

// Amount is the line's net revenue.
func (l SaleLine) Amount() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice).Round(2)
}

// Sale is an invoiced vehicle, parts or service sale.
type Sale struct {
	ID            string          `json:"id" validate:"required"`
	OutletID      uuid.UUID       `json:"outlet_id" validate:"required"`
	InvoiceNumber string          `json:"invoice_number"`
	CustomerName  string          `json:"customer_name"`
	Date          time.Time       `json:"date"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	BalanceDue    decimal.Decimal `json:"balance_due"`
	Lines         []SaleLine      `json:"lines" validate:"required,min=1,dive"`
}

// SaleResult lists the vouchers a sale produced.
type SaleResult struct {
	VoucherID     uuid.UUID  `json:"voucher_id"`
	VoucherNumber string     `json:"voucher_number"`
	CogsVoucherID *uuid.UUID `json:"cogs_voucher_id,omitempty"`
}

// PurchaseLine is one received item.
type PurchaseLine struct {
	ProductID uuid.UUID       `json:"product_id" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Purchase is a supplier bill for received stock.
type Purchase struct {
	ID            string          `json:"id" validate:"required"`
	OutletID      uuid.UUID       `json:"outlet_id" validate:"required"`
	BillNumber    string          `json:"bill_number"`
	SupplierName  string          `json:"supplier_name"`
	Date          time.Time       `json:"date"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	BalanceDue    decimal.Decimal `json:"balance_due"`
	Lines         []PurchaseLine  `json:"lines" validate:"required,min=1,dive"`
}

// PurchaseResult carries the purchase voucher and the cost caches it moved.
type PurchaseResult struct {
	VoucherID     uuid.UUID           `json:"voucher_id"`
	VoucherNumber string              `json:"voucher_number"`
	CostChanges   []CostChangeSummary `json:"cost_changes"`
}

// CostChangeSummary reports one product's weighted-average update.
type CostChangeSummary struct {
	ProductID uuid.UUID       `json:"product_id"`
	OldCost   decimal.Decimal `json:"old_cost"`
	NewCost   decimal.Decimal `json:"new_cost"`
}

// PurchasePayment settles supplier payables.
type PurchasePayment struct {
	ID            string          `json:"id" validate:"required"`
	OutletID      uuid.UUID       `json:"outlet_id" validate:"required"`
	PurchaseID    string          `json:"purchase_id"`
	SupplierName  string          `json:"supplier_name"`
	Date          time.Time       `json:"date"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Amount        decimal.Decimal `json:"amount"`
}

// ExpenseLine charges one expense account.
type ExpenseLine struct {
	AccountID   uuid.UUID       `json:"account_id" validate:"required"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Tax         decimal.Decimal `json:"tax"`
}

// Expense is a paid or accrued operating expense.
type Expense struct {
	ID            string          `json:"id" validate:"required"`
	OutletID      uuid.UUID       `json:"outlet_id" validate:"required"`
	Description   string          `json:"description"`
	Date          time.Time       `json:"date"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Total         decimal.Decimal `json:"total"`
	Lines         []ExpenseLine   `json:"lines" validate:"required,min=1,dive"`
}

// InventoryAdjustment is a manual stock addition or correction.
type InventoryAdjustment struct {
	ID           string          `json:"id"`
	OutletID     uuid.UUID       `json:"outlet_id" validate:"required"`
	ProductID    uuid.UUID       `json:"product_id" validate:"required"`
	Date         time.Time       `json:"date"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	Reason       string          `json:"reason"`
	OpeningStock bool            `json:"opening_stock"`
}

// VoucherRef identifies a posted voucher; both fields are nil for skipped postings.
type VoucherRef struct {
	VoucherID     *uuid.UUID `json:"voucher_id"`
	VoucherNumber *string    `json:"voucher_number"`
}

// ReturnItem is one returned product.
type ReturnItem struct {
	ProductID uuid.UUID       `json:"product_id" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	Restock   bool            `json:"restock"`
}

// Return is a customer sales return.
type Return struct {
	ID           string          `json:"id" validate:"required"`
	OutletID     uuid.UUID       `json:"outlet_id" validate:"required"`
	SaleID       string          `json:"sale_id"`
	Date         time.Time       `json:"date"`
	RefundMethod PaymentMethod   `json:"refund_method"`
	Amount       decimal.Decimal `json:"amount"`
	Reason       string          `json:"reason"`
	Items        []ReturnItem    `json:"items" validate:"dive"`
}

// ReturnResult reports the return voucher and its totals.
type ReturnResult struct {
	VoucherID     uuid.UUID       `json:"voucher_id"`
	VoucherNumber string          `json:"voucher_number"`
	TotalDebit    decimal.Decimal `json:"total_debit"`
	TotalCredit   decimal.Decimal `json:"total_credit"`
}

// VoucherResult is the id and number of a single posted voucher.
type VoucherResult struct {
	VoucherID     uuid.UUID `json:"voucher_id"`
	VoucherNumber string    `json:"voucher_number"`
}

// ReversalResult lists the reversal vouchers posted for a document.
type ReversalResult struct {
	ReversalVoucherIDs []uuid.UUID `json:"reversal_voucher_ids"`
}
