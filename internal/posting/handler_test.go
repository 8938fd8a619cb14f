package posting_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/dealerledger/internal/ledger"
	"github.com/odyssey-erp/dealerledger/internal/posting"
	"github.com/odyssey-erp/dealerledger/internal/shared"
)

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = make(map[string]string)
	}
	if _, ok := m.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = module
	return nil
}

func (m *memoryIdempotency) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

func newRouter(f *fixture, idem posting.IdempotencyStore) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if raw := r.Header.Get("X-User-ID"); raw != "" {
				if actor, err := uuid.Parse(raw); err == nil {
					r = r.WithContext(shared.ContextWithActor(r.Context(), actor))
				}
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Route("/api/v1/ledger", posting.NewHandler(f.svc, idem, nil).MountRoutes)
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerPostSaleAndReverse(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f, &memoryIdempotency{})
	headers := map[string]string{"X-User-ID": f.user.String()}

	body := map[string]any{
		"id":             "S-100",
		"outlet_id":      f.outlet,
		"payment_method": "cash",
		"grand_total":    "1000",
		"amount_paid":    "600",
		"balance_due":    "400",
		"lines": []map[string]any{
			{"name": "Service package", "quantity": "1", "unit_price": "1000", "is_labor": true},
		},
	}
	rec := doJSON(t, router, http.MethodPost, "/api/v1/ledger/sales", body, headers)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var res posting.SaleResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, "RE-202603-00001", res.VoucherNumber)
	requireDecimal(t, "600", f.balance(ledger.SubTypeCash))
	requireDecimal(t, "400", f.balance(ledger.SubTypeAccountsReceivable))

	rec = doJSON(t, router, http.MethodPost, "/api/v1/ledger/sales", body, headers)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/ledger/sales/S-100/reverse", map[string]any{
		"outlet_id": f.outlet,
		"reason":    "voided at counter",
	}, headers)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	requireDecimal(t, "0", f.balance(ledger.SubTypeCash))

	rec = doJSON(t, router, http.MethodGet, "/api/v1/ledger/vouchers/"+res.VoucherID.String(), nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	var voucher ledger.Voucher
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &voucher))
	require.Len(t, voucher.Entries, 3)
}

func TestHandlerRejectsInvalidRequests(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f, nil)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/ledger/expenses", map[string]any{
		"id":        "E-1",
		"outlet_id": f.outlet,
		"lines":     []map[string]any{},
	}, map[string]string{"X-User-ID": f.user.String()})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	rec = doJSON(t, router, http.MethodPost, "/api/v1/ledger/purchase-payments", map[string]any{
		"id":        "PP-1",
		"outlet_id": f.outlet,
		"amount":    "10",
	}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/ledger/returns", map[string]any{
		"id":        "R-1",
		"outlet_id": f.outlet,
		"surprise":  true,
	}, map[string]string{"X-User-ID": f.user.String()})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/ledger/vouchers/"+uuid.NewString(), nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Empty(t, f.store.Vouchers())
}

func TestHandlerIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	idem := &memoryIdempotency{}
	router := newRouter(f, idem)
	supplies := f.store.SeedExpenseAccount(f.outlet, "6100", "Workshop Supplies")
	headers := map[string]string{"X-User-ID": f.user.String(), "Idempotency-Key": "req-1"}

	bad := map[string]any{
		"id":        "E-7",
		"outlet_id": f.outlet,
		"total":     "99",
		"lines":     []map[string]any{{"account_id": supplies.ID, "amount": "50"}},
	}
	rec := doJSON(t, router, http.MethodPost, "/api/v1/ledger/expenses", bad, headers)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// the key was released by the failure, so a corrected retry goes through
	good := map[string]any{
		"id":        "E-7",
		"outlet_id": f.outlet,
		"lines":     []map[string]any{{"account_id": supplies.ID, "amount": "50"}},
	}
	rec = doJSON(t, router, http.MethodPost, "/api/v1/ledger/expenses", good, headers)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodPost, "/api/v1/ledger/expenses", good, headers)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Len(t, f.store.Vouchers(), 1)
}

func TestHandlerApproveVoucher(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f, nil)
	headers := map[string]string{"X-User-ID": f.user.String()}

	res, err := f.svc.PostPurchasePayment(context.Background(), posting.PurchasePayment{
		ID:       "PP-9",
		OutletID: f.outlet,
		Amount:   d("25"),
	}, f.user)
	require.NoError(t, err)

	path := "/api/v1/ledger/vouchers/" + res.VoucherID.String() + "/approve"
	rec := doJSON(t, router, http.MethodPost, path, nil, headers)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var voucher ledger.Voucher
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &voucher))
	require.Equal(t, ledger.VoucherStatusApproved, voucher.Status)

	rec = doJSON(t, router, http.MethodPost, path, nil, headers)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/v1/ledger/accounts?outlet_id="+f.outlet.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
