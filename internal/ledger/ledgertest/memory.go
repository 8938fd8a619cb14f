// Package ledgertest provides an in-memory ledger store for tests.
package ledgertest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/dealerledger/internal/ledger"
)

type state struct {
	accounts  map[uuid.UUID]ledger.Account
	vouchers  []ledger.Voucher
	entries   []ledger.LedgerEntry
	movements []ledger.InventoryMovement
	products  map[uuid.UUID]ledger.Product
	seq       int64
}

func (s *state) clone() *state {
	out := &state{
		accounts:  make(map[uuid.UUID]ledger.Account, len(s.accounts)),
		vouchers:  append([]ledger.Voucher(nil), s.vouchers...),
		entries:   append([]ledger.LedgerEntry(nil), s.entries...),
		movements: append([]ledger.InventoryMovement(nil), s.movements...),
		products:  make(map[uuid.UUID]ledger.Product, len(s.products)),
		seq:       s.seq,
	}
	for k, v := range s.accounts {
		out.accounts[k] = v
	}
	for k, v := range s.products {
		out.products[k] = v
	}
	return out
}

// Store is a transactional in-memory ledger. Each WithTx call works on a copy of the
// state that is committed only when fn succeeds.
type Store struct {
	mu             sync.Mutex
	state          *state
	duplicateFails int
	txCount        int
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{state: &state{
		accounts: make(map[uuid.UUID]ledger.Account),
		products: make(map[uuid.UUID]ledger.Product),
	}}
}

// WithTx implements ledger.RepositoryPort.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txCount++
	working := &tx{store: s, st: s.state.clone()}
	if err := fn(ctx, working); err != nil {
		return err
	}
	s.state = working.st
	return nil
}

// FailNextVoucherInserts makes the next n voucher inserts report a number collision.
func (s *Store) FailNextVoucherInserts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.duplicateFails = n
}

// TxCount returns how many transactions were opened.
func (s *Store) TxCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txCount
}

// SeedAccount stores an account, assigning an id when missing.
func (s *Store) SeedAccount(acc ledger.Account) ledger.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc.ID == uuid.Nil {
		acc.ID = uuid.New()
	}
	s.state.accounts[acc.ID] = acc
	return acc
}

var chart = []struct {
	role ledger.SubType
	code string
	name string
	typ  ledger.AccountType
}{
	{ledger.SubTypeCash, "1000", "Cash", ledger.AccountTypeAsset},
	{ledger.SubTypeBank, "1010", "Bank", ledger.AccountTypeAsset},
	{ledger.SubTypeAccountsReceivable, "1100", "Accounts Receivable", ledger.AccountTypeAsset},
	{ledger.SubTypeInventory, "1200", "Inventory", ledger.AccountTypeAsset},
	{ledger.SubTypeVATReceivable, "1300", "VAT Receivable", ledger.AccountTypeAsset},
	{ledger.SubTypeAccountsPayable, "2000", "Accounts Payable", ledger.AccountTypeLiability},
	{ledger.SubTypeVATPayable, "2100", "VAT Payable", ledger.AccountTypeLiability},
	{ledger.SubTypeOwnerEquity, "3000", "Owner Equity", ledger.AccountTypeEquity},
	{ledger.SubTypeSalesRevenue, "4000", "Vehicle Sales", ledger.AccountTypeRevenue},
	{ledger.SubTypeServiceRevenue, "4100", "Service Revenue", ledger.AccountTypeRevenue},
	{ledger.SubTypeSalesReturns, "4900", "Sales Returns", ledger.AccountTypeRevenue},
	{ledger.SubTypeCOGS, "5000", "Cost of Goods Sold", ledger.AccountTypeExpense},
}

// SeedChart creates the standard system accounts for an outlet, skipping the roles in omit.
func (s *Store) SeedChart(outletID uuid.UUID, omit ...ledger.SubType) map[ledger.SubType]ledger.Account {
	skip := make(map[ledger.SubType]bool, len(omit))
	for _, role := range omit {
		skip[role] = true
	}
	out := make(map[ledger.SubType]ledger.Account)
	for _, c := range chart {
		if skip[c.role] {
			continue
		}
		out[c.role] = s.SeedAccount(ledger.Account{
			OutletID: outletID,
			Code:     c.code,
			Name:     c.name,
			Type:     c.typ,
			SubType:  c.role,
			IsSystem: true,
		})
	}
	return out
}

// SeedExpenseAccount creates a non-system expense account.
func (s *Store) SeedExpenseAccount(outletID uuid.UUID, code, name string) ledger.Account {
	return s.SeedAccount(ledger.Account{
		OutletID: outletID,
		Code:     code,
		Name:     name,
		Type:     ledger.AccountTypeExpense,
		SubType:  ledger.SubTypeExpense,
	})
}

// SeedProduct stores a product, assigning an id when missing.
func (s *Store) SeedProduct(p ledger.Product) ledger.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	s.state.products[p.ID] = p
	return p
}

// Account returns the committed account.
func (s *Store) Account(id uuid.UUID) ledger.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.accounts[id]
}

// Product returns the committed product.
func (s *Store) Product(id uuid.UUID) ledger.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.products[id]
}

// SetProductStock overwrites the stock cache, simulating drift.
func (s *Store) SetProductStock(id uuid.UUID, stock decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.state.products[id]
	p.CurrentStock = stock
	s.state.products[id] = p
}

// SetAccountBalance overwrites a cached balance, simulating drift.
func (s *Store) SetAccountBalance(id uuid.UUID, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.state.accounts[id]
	a.CurrentBalance = balance
	s.state.accounts[id] = a
}

// Vouchers returns committed voucher headers in insertion order.
func (s *Store) Vouchers() []ledger.Voucher {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ledger.Voucher(nil), s.state.vouchers...)
}

// Entries returns committed ledger entries in insertion order.
func (s *Store) Entries() []ledger.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ledger.LedgerEntry(nil), s.state.entries...)
}

// Movements returns committed movements in insertion order.
func (s *Store) Movements() []ledger.InventoryMovement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ledger.InventoryMovement(nil), s.state.movements...)
}

type tx struct {
	store *Store
	st    *state
}

func (t *tx) ListSystemAccounts(_ context.Context, outletID uuid.UUID) ([]ledger.Account, error) {
	var out []ledger.Account
	for _, a := range t.st.accounts {
		if a.OutletID == outletID && a.IsSystem {
			out = append(out, a)
		}
	}
	sortAccounts(out)
	return out, nil
}

func (t *tx) ListAccounts(_ context.Context, outletID uuid.UUID) ([]ledger.Account, error) {
	var out []ledger.Account
	for _, a := range t.st.accounts {
		if outletID == uuid.Nil || a.OutletID == outletID {
			out = append(out, a)
		}
	}
	sortAccounts(out)
	return out, nil
}

func sortAccounts(accounts []ledger.Account) {
	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].OutletID != accounts[j].OutletID {
			return accounts[i].OutletID.String() < accounts[j].OutletID.String()
		}
		return accounts[i].Code < accounts[j].Code
	})
}

func (t *tx) GetAccount(_ context.Context, id uuid.UUID) (ledger.Account, error) {
	a, ok := t.st.accounts[id]
	if !ok {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return a, nil
}

func (t *tx) IncrementAccountBalance(_ context.Context, id uuid.UUID, delta decimal.Decimal) error {
	a, ok := t.st.accounts[id]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	a.CurrentBalance = a.CurrentBalance.Add(delta)
	t.st.accounts[id] = a
	return nil
}

func (t *tx) MaxVoucherSequence(_ context.Context, outletID uuid.UUID, prefix, period string) (int64, error) {
	var maxSeq int64
	for _, v := range t.st.vouchers {
		if v.OutletID != outletID {
			continue
		}
		p, per, seq, ok := ledger.ParseVoucherSequence(v.Number)
		if ok && p == prefix && per == period && seq > maxSeq {
			maxSeq = seq
		}
	}
	return maxSeq, nil
}

func (t *tx) VoucherNumberExists(_ context.Context, outletID uuid.UUID, number string) (bool, error) {
	for _, v := range t.st.vouchers {
		if v.OutletID == outletID && v.Number == number {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) InsertVoucher(_ context.Context, v ledger.Voucher) error {
	if t.store.duplicateFails > 0 {
		t.store.duplicateFails--
		return fmt.Errorf("%w: %s", ledger.ErrDuplicateVoucherNumber, v.Number)
	}
	for _, existing := range t.st.vouchers {
		if existing.OutletID == v.OutletID && existing.Number == v.Number {
			return fmt.Errorf("%w: %s", ledger.ErrDuplicateVoucherNumber, v.Number)
		}
	}
	// mirrors chk_vouchers_balanced
	if v.Status != ledger.VoucherStatusDraft && !v.TotalDebit.Equal(v.TotalCredit) {
		return fmt.Errorf("ledgertest: voucher %s totals %s/%s violate chk_vouchers_balanced", v.Number, v.TotalDebit, v.TotalCredit)
	}
	v.Entries = nil
	t.st.vouchers = append(t.st.vouchers, v)
	return nil
}

func (t *tx) findVoucher(id uuid.UUID) (int, bool) {
	for i, v := range t.st.vouchers {
		if v.ID == id {
			return i, true
		}
	}
	return -1, false
}

func (t *tx) GetVoucher(_ context.Context, id uuid.UUID) (ledger.Voucher, error) {
	idx, ok := t.findVoucher(id)
	if !ok {
		return ledger.Voucher{}, ledger.ErrVoucherNotFound
	}
	v := t.st.vouchers[idx]
	for _, e := range t.st.entries {
		if e.VoucherID == id {
			v.Entries = append(v.Entries, e)
		}
	}
	return v, nil
}

func (t *tx) ListVouchers(_ context.Context, filter ledger.VoucherFilter) ([]ledger.Voucher, error) {
	var out []ledger.Voucher
	for i := len(t.st.vouchers) - 1; i >= 0; i-- {
		v := t.st.vouchers[i]
		if v.OutletID != filter.OutletID {
			continue
		}
		if filter.From != nil && v.Date.Before(*filter.From) {
			continue
		}
		if filter.To != nil && v.Date.After(*filter.To) {
			continue
		}
		if filter.ReferenceType != "" && v.ReferenceType != filter.ReferenceType {
			continue
		}
		out = append(out, v)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (t *tx) FindVouchersByReference(_ context.Context, outletID uuid.UUID, refType ledger.ReferenceType, refID string) ([]ledger.Voucher, error) {
	var out []ledger.Voucher
	for _, v := range t.st.vouchers {
		if v.OutletID == outletID && v.ReferenceType == refType && v.ReferenceID == refID && !v.IsReversal {
			out = append(out, v)
		}
	}
	return out, nil
}

func (t *tx) FindReversalOf(_ context.Context, id uuid.UUID) (*ledger.Voucher, error) {
	for _, v := range t.st.vouchers {
		if v.ReversesVoucherID != nil && *v.ReversesVoucherID == id {
			found := v
			return &found, nil
		}
	}
	return nil, nil
}

func (t *tx) MarkVoucherApproved(_ context.Context, id, approvedBy uuid.UUID, at time.Time) error {
	idx, ok := t.findVoucher(id)
	if !ok || t.st.vouchers[idx].Status != ledger.VoucherStatusPosted {
		return ledger.ErrInvalidStatus
	}
	t.st.vouchers[idx].Status = ledger.VoucherStatusApproved
	t.st.vouchers[idx].ApprovedAt = &at
	t.st.vouchers[idx].ApprovedBy = &approvedBy
	return nil
}

func (t *tx) InsertLedgerEntries(_ context.Context, entries []ledger.LedgerEntry) error {
	t.st.entries = append(t.st.entries, entries...)
	return nil
}

func (t *tx) ListEntriesByAccount(_ context.Context, accountID uuid.UUID) ([]ledger.LedgerEntry, error) {
	var out []ledger.LedgerEntry
	for _, e := range t.st.entries {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *tx) UpdateLedgerEntry(context.Context, ledger.LedgerEntry) error {
	return ledger.ErrImmutableEntry
}

func (t *tx) DeleteLedgerEntry(context.Context, uuid.UUID) error {
	return ledger.ErrImmutableEntry
}

func (t *tx) InsertMovement(_ context.Context, m ledger.InventoryMovement) (int64, error) {
	t.st.seq++
	m.Seq = t.st.seq
	t.st.movements = append(t.st.movements, m)
	return m.Seq, nil
}

func (t *tx) ListMovementsByProduct(_ context.Context, productID uuid.UUID) ([]ledger.InventoryMovement, error) {
	var out []ledger.InventoryMovement
	for _, m := range t.st.movements {
		if m.ProductID == productID {
			out = append(out, m)
		}
	}
	ledger.SortMovements(out)
	return out, nil
}

func (t *tx) ListMovementsByVoucher(_ context.Context, voucherID uuid.UUID) ([]ledger.InventoryMovement, error) {
	var out []ledger.InventoryMovement
	for _, m := range t.st.movements {
		if m.VoucherID != nil && *m.VoucherID == voucherID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (t *tx) CountMovementsByType(_ context.Context, productID uuid.UUID, types []ledger.MovementType) (int, error) {
	count := 0
	for _, m := range t.st.movements {
		if m.ProductID != productID {
			continue
		}
		for _, typ := range types {
			if strings.EqualFold(string(m.Type), string(typ)) {
				count++
				break
			}
		}
	}
	return count, nil
}

func (t *tx) SetMovementBalanceAfter(_ context.Context, id uuid.UUID, balance decimal.Decimal) error {
	for i := range t.st.movements {
		if t.st.movements[i].ID == id {
			t.st.movements[i].BalanceAfter = balance
			return nil
		}
	}
	return fmt.Errorf("ledgertest: movement %s not found", id)
}

func (t *tx) UpdateMovement(context.Context, ledger.InventoryMovement) error {
	return ledger.ErrImmutableMovement
}

func (t *tx) DeleteMovement(context.Context, uuid.UUID) error {
	return ledger.ErrImmutableMovement
}

func (t *tx) GetProductForUpdate(_ context.Context, id uuid.UUID) (ledger.Product, error) {
	p, ok := t.st.products[id]
	if !ok {
		return ledger.Product{}, ledger.ErrProductNotFound
	}
	return p, nil
}

func (t *tx) ListProducts(_ context.Context, outletID uuid.UUID) ([]ledger.Product, error) {
	var out []ledger.Product
	for _, p := range t.st.products {
		if outletID == uuid.Nil || p.OutletID == outletID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func (t *tx) UpdateProductCost(_ context.Context, id uuid.UUID, cost, purchasedQty decimal.Decimal) error {
	p, ok := t.st.products[id]
	if !ok {
		return ledger.ErrProductNotFound
	}
	p.CostPrice = cost
	p.PurchasedQty = purchasedQty
	t.st.products[id] = p
	return nil
}

func (t *tx) UpdateProductStock(_ context.Context, id uuid.UUID, stock decimal.Decimal) error {
	p, ok := t.st.products[id]
	if !ok {
		return ledger.ErrProductNotFound
	}
	p.CurrentStock = stock
	t.st.products[id] = p
	return nil
}
