package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/dealerledger/internal/platform/db"
)

// Repository persists ledger and inventory entities.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	ListSystemAccounts(ctx context.Context, outletID uuid.UUID) ([]Account, error)
	ListAccounts(ctx context.Context, outletID uuid.UUID) ([]Account, error)
	GetAccount(ctx context.Context, accountID uuid.UUID) (Account, error)
	IncrementAccountBalance(ctx context.Context, accountID uuid.UUID, delta decimal.Decimal) error

	MaxVoucherSequence(ctx context.Context, outletID uuid.UUID, prefix, period string) (int64, error)
	VoucherNumberExists(ctx context.Context, outletID uuid.UUID, number string) (bool, error)
	InsertVoucher(ctx context.Context, voucher Voucher) error
	GetVoucher(ctx context.Context, voucherID uuid.UUID) (Voucher, error)
	ListVouchers(ctx context.Context, filter VoucherFilter) ([]Voucher, error)
	FindVouchersByReference(ctx context.Context, outletID uuid.UUID, refType ReferenceType, refID string) ([]Voucher, error)
	FindReversalOf(ctx context.Context, voucherID uuid.UUID) (*Voucher, error)
	MarkVoucherApproved(ctx context.Context, voucherID, approvedBy uuid.UUID, at time.Time) error

	InsertLedgerEntries(ctx context.Context, entries []LedgerEntry) error
	ListEntriesByAccount(ctx context.Context, accountID uuid.UUID) ([]LedgerEntry, error)
	UpdateLedgerEntry(ctx context.Context, entry LedgerEntry) error
	DeleteLedgerEntry(ctx context.Context, entryID uuid.UUID) error

	InsertMovement(ctx context.Context, movement InventoryMovement) (int64, error)
	ListMovementsByProduct(ctx context.Context, productID uuid.UUID) ([]InventoryMovement, error)
	ListMovementsByVoucher(ctx context.Context, voucherID uuid.UUID) ([]InventoryMovement, error)
	CountMovementsByType(ctx context.Context, productID uuid.UUID, types []MovementType) (int, error)
	SetMovementBalanceAfter(ctx context.Context, movementID uuid.UUID, balance decimal.Decimal) error
	UpdateMovement(ctx context.Context, movement InventoryMovement) error
	DeleteMovement(ctx context.Context, movementID uuid.UUID) error

	GetProductForUpdate(ctx context.Context, productID uuid.UUID) (Product, error)
	ListProducts(ctx context.Context, outletID uuid.UUID) ([]Product, error)
	UpdateProductCost(ctx context.Context, productID uuid.UUID, cost, purchasedQty decimal.Decimal) error
	UpdateProductStock(ctx context.Context, productID uuid.UUID, stock decimal.Decimal) error
}

// VoucherFilter narrows voucher listings.
type VoucherFilter struct {
	OutletID      uuid.UUID
	From          *time.Time
	To            *time.Time
	ReferenceType ReferenceType
	Limit         int
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn within repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const accountColumns = `id, outlet_id, code, name, type, sub_type, is_system, current_balance, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	var subType string
	err := row.Scan(&a.ID, &a.OutletID, &a.Code, &a.Name, &a.Type, &subType, &a.IsSystem, &a.CurrentBalance, &a.CreatedAt, &a.UpdatedAt)
	a.SubType = ParseSubType(subType)
	return a, err
}

func (r *txRepository) queryAccounts(ctx context.Context, sql string, args ...any) ([]Account, error) {
	rows, err := r.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *txRepository) ListSystemAccounts(ctx context.Context, outletID uuid.UUID) ([]Account, error) {
	return r.queryAccounts(ctx, `SELECT `+accountColumns+` FROM accounts WHERE outlet_id=$1 AND is_system ORDER BY code`, outletID)
}

func (r *txRepository) ListAccounts(ctx context.Context, outletID uuid.UUID) ([]Account, error) {
	if outletID == uuid.Nil {
		return r.queryAccounts(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY outlet_id, code`)
	}
	return r.queryAccounts(ctx, `SELECT `+accountColumns+` FROM accounts WHERE outlet_id=$1 ORDER BY code`, outletID)
}

func (r *txRepository) GetAccount(ctx context.Context, accountID uuid.UUID) (Account, error) {
	a, err := scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1`, accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func (r *txRepository) IncrementAccountBalance(ctx context.Context, accountID uuid.UUID, delta decimal.Decimal) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE accounts SET current_balance = current_balance + $2, updated_at=NOW() WHERE id=$1`, accountID, delta)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *txRepository) MaxVoucherSequence(ctx context.Context, outletID uuid.UUID, prefix, period string) (int64, error) {
	var seq int64
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(MAX(CAST(split_part(number, '-', 3) AS BIGINT)), 0)
FROM vouchers WHERE outlet_id=$1 AND number LIKE $2 AND split_part(number, '-', 3) ~ '^[0-9]+$'`,
		outletID, prefix+"-"+period+"-%").Scan(&seq)
	return seq, err
}

func (r *txRepository) VoucherNumberExists(ctx context.Context, outletID uuid.UUID, number string) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM vouchers WHERE outlet_id=$1 AND number=$2)`, outletID, number).Scan(&exists)
	return exists, err
}

func (r *txRepository) InsertVoucher(ctx context.Context, v Voucher) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO vouchers (id, outlet_id, number, type, date, narration, total_debit, total_credit, status,
reference_type, reference_id, created_by, created_at, is_reversal, reverses_voucher_id, is_opening_balance)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		v.ID, v.OutletID, v.Number, v.Type, v.Date, v.Narration, v.TotalDebit, v.TotalCredit, v.Status,
		v.ReferenceType, nullString(v.ReferenceID), nullUUID(v.CreatedBy), v.CreatedAt, v.IsReversal, v.ReversesVoucherID, v.IsOpeningBalance)
	if err != nil {
		if db.IsUniqueViolation(err, "uq_vouchers_outlet_number") {
			return fmt.Errorf("%w: %s", ErrDuplicateVoucherNumber, v.Number)
		}
		if db.IsCheckViolation(err, "chk_vouchers_balanced") {
			return fmt.Errorf("%w: %s debit %s credit %s", ErrUnbalanced, v.Number, v.TotalDebit.StringFixed(2), v.TotalCredit.StringFixed(2))
		}
		return err
	}
	return nil
}

const voucherColumns = `id, outlet_id, number, type, date, narration, total_debit, total_credit, status, reference_type,
COALESCE(reference_id, ''), COALESCE(created_by, '00000000-0000-0000-0000-000000000000'::uuid), created_at, approved_at, approved_by,
is_reversal, reverses_voucher_id, is_opening_balance`

func scanVoucher(row pgx.Row) (Voucher, error) {
	var v Voucher
	err := row.Scan(&v.ID, &v.OutletID, &v.Number, &v.Type, &v.Date, &v.Narration, &v.TotalDebit, &v.TotalCredit, &v.Status,
		&v.ReferenceType, &v.ReferenceID, &v.CreatedBy, &v.CreatedAt, &v.ApprovedAt, &v.ApprovedBy,
		&v.IsReversal, &v.ReversesVoucherID, &v.IsOpeningBalance)
	return v, err
}

func (r *txRepository) queryVouchers(ctx context.Context, sql string, args ...any) ([]Voucher, error) {
	rows, err := r.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var vouchers []Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, err
		}
		vouchers = append(vouchers, v)
	}
	return vouchers, rows.Err()
}

func (r *txRepository) GetVoucher(ctx context.Context, voucherID uuid.UUID) (Voucher, error) {
	v, err := scanVoucher(r.tx.QueryRow(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE id=$1`, voucherID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Voucher{}, ErrVoucherNotFound
		}
		return Voucher{}, err
	}
	entries, err := r.queryEntries(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE voucher_id=$1 ORDER BY seq`, voucherID)
	if err != nil {
		return Voucher{}, err
	}
	v.Entries = entries
	return v, nil
}

func (r *txRepository) ListVouchers(ctx context.Context, filter VoucherFilter) ([]Voucher, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return r.queryVouchers(ctx, `SELECT `+voucherColumns+` FROM vouchers
WHERE outlet_id=$1 AND ($2::timestamptz IS NULL OR date >= $2) AND ($3::timestamptz IS NULL OR date <= $3)
AND ($4 = '' OR reference_type = $4)
ORDER BY date DESC, created_at DESC LIMIT $5`, filter.OutletID, filter.From, filter.To, string(filter.ReferenceType), limit)
}

func (r *txRepository) FindVouchersByReference(ctx context.Context, outletID uuid.UUID, refType ReferenceType, refID string) ([]Voucher, error) {
	return r.queryVouchers(ctx, `SELECT `+voucherColumns+` FROM vouchers
WHERE outlet_id=$1 AND reference_type=$2 AND reference_id=$3 AND NOT is_reversal ORDER BY created_at`, outletID, refType, refID)
}

func (r *txRepository) FindReversalOf(ctx context.Context, voucherID uuid.UUID) (*Voucher, error) {
	v, err := scanVoucher(r.tx.QueryRow(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE reverses_voucher_id=$1 LIMIT 1`, voucherID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

func (r *txRepository) MarkVoucherApproved(ctx context.Context, voucherID, approvedBy uuid.UUID, at time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE vouchers SET status='approved', approved_by=$2, approved_at=$3 WHERE id=$1 AND status='posted'`, voucherID, approvedBy, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrInvalidStatus
	}
	return nil
}

const entryColumns = `id, voucher_id, outlet_id, account_id, account_code, account_name, account_type, debit, credit, date, narration,
reference_type, COALESCE(reference_id, ''), is_reversal, reverses_entry_id, created_at`

func (r *txRepository) queryEntries(ctx context.Context, sql string, args ...any) ([]LedgerEntry, error) {
	rows, err := r.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.VoucherID, &e.OutletID, &e.AccountID, &e.AccountCode, &e.AccountName, &e.AccountType,
			&e.Debit, &e.Credit, &e.Date, &e.Narration, &e.ReferenceType, &e.ReferenceID, &e.IsReversal, &e.ReversesEntryID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *txRepository) InsertLedgerEntries(ctx context.Context, entries []LedgerEntry) error {
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`INSERT INTO ledger_entries (id, voucher_id, outlet_id, account_id, account_code, account_name, account_type,
debit, credit, date, narration, reference_type, reference_id, is_reversal, reverses_entry_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
			e.ID, e.VoucherID, e.OutletID, e.AccountID, e.AccountCode, e.AccountName, e.AccountType,
			e.Debit, e.Credit, e.Date, e.Narration, e.ReferenceType, nullString(e.ReferenceID), e.IsReversal, e.ReversesEntryID, e.CreatedAt)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

func (r *txRepository) ListEntriesByAccount(ctx context.Context, accountID uuid.UUID) ([]LedgerEntry, error) {
	return r.queryEntries(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE account_id=$1 ORDER BY date, seq`, accountID)
}

// UpdateLedgerEntry always fails: entries are append-only.
func (r *txRepository) UpdateLedgerEntry(context.Context, LedgerEntry) error {
	return ErrImmutableEntry
}

// DeleteLedgerEntry always fails: entries are append-only.
func (r *txRepository) DeleteLedgerEntry(context.Context, uuid.UUID) error {
	return ErrImmutableEntry
}

const movementColumns = `id, outlet_id, product_id, product_name, sku, type, quantity, unit_cost, total_value, voucher_id, balance_after,
reference_type, COALESCE(reference_id, ''), date, created_at, seq, is_reversal, reverses_movement_id`

func (r *txRepository) queryMovements(ctx context.Context, sql string, args ...any) ([]InventoryMovement, error) {
	rows, err := r.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var movements []InventoryMovement
	for rows.Next() {
		var m InventoryMovement
		if err := rows.Scan(&m.ID, &m.OutletID, &m.ProductID, &m.ProductName, &m.SKU, &m.Type, &m.Quantity, &m.UnitCost, &m.TotalValue,
			&m.VoucherID, &m.BalanceAfter, &m.ReferenceType, &m.ReferenceID, &m.Date, &m.CreatedAt, &m.Seq, &m.IsReversal, &m.ReversesMovementID); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (r *txRepository) InsertMovement(ctx context.Context, m InventoryMovement) (int64, error) {
	var seq int64
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_movements (id, outlet_id, product_id, product_name, sku, type, quantity, unit_cost,
total_value, voucher_id, balance_after, reference_type, reference_id, date, created_at, is_reversal, reverses_movement_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17) RETURNING seq`,
		m.ID, m.OutletID, m.ProductID, m.ProductName, m.SKU, m.Type, m.Quantity, m.UnitCost,
		m.TotalValue, m.VoucherID, m.BalanceAfter, m.ReferenceType, nullString(m.ReferenceID), m.Date, m.CreatedAt, m.IsReversal, m.ReversesMovementID).
		Scan(&seq)
	return seq, err
}

func (r *txRepository) ListMovementsByProduct(ctx context.Context, productID uuid.UUID) ([]InventoryMovement, error) {
	return r.queryMovements(ctx, `SELECT `+movementColumns+` FROM inventory_movements WHERE product_id=$1 ORDER BY date, seq`, productID)
}

func (r *txRepository) ListMovementsByVoucher(ctx context.Context, voucherID uuid.UUID) ([]InventoryMovement, error) {
	return r.queryMovements(ctx, `SELECT `+movementColumns+` FROM inventory_movements WHERE voucher_id=$1 ORDER BY seq`, voucherID)
}

func (r *txRepository) CountMovementsByType(ctx context.Context, productID uuid.UUID, types []MovementType) (int, error) {
	kinds := make([]string, 0, len(types))
	for _, t := range types {
		kinds = append(kinds, string(t))
	}
	var count int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM inventory_movements WHERE product_id=$1 AND type = ANY($2)`, productID, kinds).Scan(&count)
	return count, err
}

// SetMovementBalanceAfter rewrites the derived running balance; the only mutation movements accept.
func (r *txRepository) SetMovementBalanceAfter(ctx context.Context, movementID uuid.UUID, balance decimal.Decimal) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE inventory_movements SET balance_after=$2 WHERE id=$1`, movementID, balance)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("ledger: movement %s not found", movementID)
	}
	return nil
}

// UpdateMovement always fails: movements are append-only.
func (r *txRepository) UpdateMovement(context.Context, InventoryMovement) error {
	return ErrImmutableMovement
}

// DeleteMovement always fails: movements are append-only.
func (r *txRepository) DeleteMovement(context.Context, uuid.UUID) error {
	return ErrImmutableMovement
}

const productColumns = `id, outlet_id, name, sku, current_stock, cost_price, purchased_qty, updated_at`

func (r *txRepository) GetProductForUpdate(ctx context.Context, productID uuid.UUID) (Product, error) {
	var p Product
	err := r.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1 FOR UPDATE`, productID).
		Scan(&p.ID, &p.OutletID, &p.Name, &p.SKU, &p.CurrentStock, &p.CostPrice, &p.PurchasedQty, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, err
	}
	return p, nil
}

func (r *txRepository) ListProducts(ctx context.Context, outletID uuid.UUID) ([]Product, error) {
	sql := `SELECT ` + productColumns + ` FROM products ORDER BY outlet_id, sku`
	args := []any{}
	if outletID != uuid.Nil {
		sql = `SELECT ` + productColumns + ` FROM products WHERE outlet_id=$1 ORDER BY sku`
		args = append(args, outletID)
	}
	rows, err := r.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var products []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.OutletID, &p.Name, &p.SKU, &p.CurrentStock, &p.CostPrice, &p.PurchasedQty, &p.UpdatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (r *txRepository) UpdateProductCost(ctx context.Context, productID uuid.UUID, cost, purchasedQty decimal.Decimal) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE products SET cost_price=$2, purchased_qty=$3, updated_at=NOW() WHERE id=$1`, productID, cost, purchasedQty)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *txRepository) UpdateProductStock(ctx context.Context, productID uuid.UUID, stock decimal.Decimal) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE products SET current_stock=$2, updated_at=NOW() WHERE id=$1`, productID, stock)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func nullString(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullUUID(val uuid.UUID) any {
	if val == uuid.Nil {
		return nil
	}
	return val
}
