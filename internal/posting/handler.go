package posting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/dealerledger/internal/ledger"
	"github.com/odyssey-erp/dealerledger/internal/platform/httpx"
	"github.com/odyssey-erp/dealerledger/internal/shared"
)

// IdempotencyStore guards POST endpoints against replays.
type IdempotencyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Handler exposes the posting translators over JSON.
type Handler struct {
	service     *Service
	idempotency IdempotencyStore
	validator   *validator.Validate
	logger      *slog.Logger
}

// NewHandler builds the posting handler; idempotency may be nil.
func NewHandler(service *Service, idempotency IdempotencyStore, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service:     service,
		idempotency: idempotency,
		validator:   validator.New(),
		logger:      logger,
	}
}

type reverseRequest struct {
	OutletID uuid.UUID `json:"outlet_id" validate:"required"`
	Reason   string    `json:"reason" validate:"required,max=500"`
}

type reverseFunc func(ctx context.Context, outletID uuid.UUID, docID string, userID uuid.UUID, reason string) (ReversalResult, error)

// MountRoutes registers ledger endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/sales", h.postSale)
	r.Post("/purchases", h.postPurchase)
	r.Post("/purchase-payments", h.postPurchasePayment)
	r.Post("/expenses", h.postExpense)
	r.Post("/inventory-adjustments", h.postAdjustment)
	r.Post("/returns", h.postReturn)

	r.Post("/sales/{id}/reverse", h.reverse("sale", h.service.ReverseSaleVoucher))
	r.Post("/purchases/{id}/reverse", h.reverse("purchase", h.service.ReversePurchaseVoucher))
	r.Post("/expenses/{id}/reverse", h.reverse("expense", h.service.ReverseExpenseVoucher))
	r.Post("/inventory-adjustments/{id}/reverse", h.reverse("adjustment", h.service.ReverseAdjustmentVoucher))
	r.Post("/returns/{id}/reverse", h.reverse("return", h.service.ReverseReturnVoucher))

	r.Get("/accounts", h.listAccounts)
	r.Get("/vouchers", h.listVouchers)
	r.Get("/vouchers/{id}", h.showVoucher)
	r.Post("/vouchers/{id}/approve", h.approveVoucher)
	r.Post("/vouchers/{id}/reverse", h.reverseVoucher)
}

func (h *Handler) postSale(w http.ResponseWriter, r *http.Request) {
	var sale Sale
	if !h.decode(w, r, &sale) {
		return
	}
	h.guarded(w, r, "sale", http.StatusCreated, func(ctx context.Context, actor uuid.UUID) (any, error) {
		return h.service.PostSale(ctx, sale, actor)
	})
}

func (h *Handler) postPurchase(w http.ResponseWriter, r *http.Request) {
	var purchase Purchase
	if !h.decode(w, r, &purchase) {
		return
	}
	h.guarded(w, r, "purchase", http.StatusCreated, func(ctx context.Context, actor uuid.UUID) (any, error) {
		return h.service.PostPurchase(ctx, purchase, actor)
	})
}

func (h *Handler) postPurchasePayment(w http.ResponseWriter, r *http.Request) {
	var payment PurchasePayment
	if !h.decode(w, r, &payment) {
		return
	}
	h.guarded(w, r, "purchase_payment", http.StatusCreated, func(ctx context.Context, actor uuid.UUID) (any, error) {
		return h.service.PostPurchasePayment(ctx, payment, actor)
	})
}

func (h *Handler) postExpense(w http.ResponseWriter, r *http.Request) {
	var expense Expense
	if !h.decode(w, r, &expense) {
		return
	}
	h.guarded(w, r, "expense", http.StatusCreated, func(ctx context.Context, actor uuid.UUID) (any, error) {
		return h.service.PostExpense(ctx, expense, actor)
	})
}

func (h *Handler) postAdjustment(w http.ResponseWriter, r *http.Request) {
	var adj InventoryAdjustment
	if !h.decode(w, r, &adj) {
		return
	}
	h.guarded(w, r, "inventory_adjustment", http.StatusCreated, func(ctx context.Context, actor uuid.UUID) (any, error) {
		return h.service.PostInventoryAdjustment(ctx, adj, actor)
	})
}

func (h *Handler) postReturn(w http.ResponseWriter, r *http.Request) {
	var ret Return
	if !h.decode(w, r, &ret) {
		return
	}
	h.guarded(w, r, "return", http.StatusCreated, func(ctx context.Context, actor uuid.UUID) (any, error) {
		return h.service.PostReturn(ctx, ret, actor)
	})
}

func (h *Handler) reverse(kind string, fn reverseFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID := chi.URLParam(r, "id")
		var req reverseRequest
		if !h.decode(w, r, &req) {
			return
		}
		h.guarded(w, r, kind+"_reversal", http.StatusOK, func(ctx context.Context, actor uuid.UUID) (any, error) {
			return fn(ctx, req.OutletID, docID, actor, req.Reason)
		})
	}
}

func (h *Handler) reverseVoucher(w http.ResponseWriter, r *http.Request) {
	voucherID, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason" validate:"required,max=500"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	h.guarded(w, r, "voucher_reversal", http.StatusOK, func(ctx context.Context, actor uuid.UUID) (any, error) {
		var reversal ledger.Voucher
		err := h.service.Ledger().WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
			original, err := tx.GetVoucher(ctx, voucherID)
			if err != nil {
				return err
			}
			reversal, err = h.service.ReverseVoucherTx(ctx, tx, original, actor, req.Reason)
			return err
		})
		h.service.observe("voucher_reversal", err)
		if err != nil {
			return nil, err
		}
		h.service.Ledger().Record(ctx, actor, "voucher.reverse", voucherID.String(), map[string]any{
			"reversal_id": reversal.ID.String(),
			"reason":      req.Reason,
		})
		return reversal, nil
	})
}

func (h *Handler) approveVoucher(w http.ResponseWriter, r *http.Request) {
	voucherID, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	voucher, err := h.service.Ledger().ApproveVoucher(r.Context(), voucherID, actor)
	if err != nil {
		h.fail(w, r, "approve voucher", err)
		return
	}
	httpx.JSON(w, http.StatusOK, voucher)
}

func (h *Handler) showVoucher(w http.ResponseWriter, r *http.Request) {
	voucherID, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}
	voucher, err := h.service.Ledger().GetVoucher(r.Context(), voucherID)
	if err != nil {
		h.fail(w, r, "get voucher", err)
		return
	}
	httpx.JSON(w, http.StatusOK, voucher)
}

func (h *Handler) listVouchers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	outletID, err := uuid.Parse(q.Get("outlet_id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "outlet_id must be a uuid")
		return
	}
	filter := ledger.VoucherFilter{
		OutletID:      outletID,
		ReferenceType: ledger.ReferenceType(q.Get("reference_type")),
		Limit:         100,
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 && limit <= 500 {
		filter.Limit = limit
	}
	for key, dst := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", key+" must be YYYY-MM-DD")
			return
		}
		*dst = &parsed
	}
	vouchers, err := h.service.Ledger().ListVouchers(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "list vouchers", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"vouchers": vouchers})
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	outletID, err := uuid.Parse(r.URL.Query().Get("outlet_id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "outlet_id must be a uuid")
		return
	}
	accounts, err := h.service.Ledger().ListAccounts(r.Context(), outletID)
	if err != nil {
		h.fail(w, r, "list accounts", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

// guarded runs a write under the actor and idempotency checks and renders the outcome.
func (h *Handler) guarded(w http.ResponseWriter, r *http.Request, module string, status int, fn func(context.Context, uuid.UUID) (any, error)) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(ctx, key, "ledger."+module); err != nil {
			h.fail(w, r, module, err)
			return
		}
	}
	result, err := fn(ctx, actor)
	if err != nil {
		if key != "" && h.idempotency != nil {
			if delErr := h.idempotency.Delete(ctx, key); delErr != nil {
				h.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", delErr))
			}
		}
		h.fail(w, r, module, err)
		return
	}
	httpx.JSON(w, status, result)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Error(op+" failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}

func validationDetail(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func requireActor(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	actor := shared.ActorFromContext(r.Context())
	if actor == uuid.Nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrUnauthorized, shared.ErrActorMissing))
		return uuid.Nil, false
	}
	return actor, true
}

func urlUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", param+" must be a uuid")
		return uuid.Nil, false
	}
	return id, true
}
