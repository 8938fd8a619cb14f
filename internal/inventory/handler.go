package inventory

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/dealerledger/internal/platform/httpx"
	"github.com/odyssey-erp/dealerledger/internal/shared"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/products/{id}/stock-card", h.handleStockCard)
	r.Post("/products/{id}/stock-edit", h.handleStockEdit)
	r.Post("/products/{id}/recompute", h.handleRecompute)
}

func (h *Handler) handleStockCard(w http.ResponseWriter, r *http.Request) {
	productID, ok := productParam(w, r)
	if !ok {
		return
	}
	filter := StockCardFilter{ProductID: productID}
	q := r.URL.Query()
	if from := q.Get("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "from must be YYYY-MM-DD")
			return
		}
		filter.From = &t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "to must be YYYY-MM-DD")
			return
		}
		filter.To = &t
	}
	movements, err := h.service.StockCard(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (h *Handler) handleStockEdit(w http.ResponseWriter, r *http.Request) {
	productID, ok := productParam(w, r)
	if !ok {
		return
	}
	actor := shared.ActorFromContext(r.Context())
	if actor == uuid.Nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrUnauthorized, shared.ErrActorMissing))
		return
	}
	var edit StockEdit
	if err := httpx.DecodeJSON(r, &edit); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(edit); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	edit.ProductID = productID
	edit.UserID = actor
	result, err := h.service.HandleStockEdit(r.Context(), edit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleRecompute(w http.ResponseWriter, r *http.Request) {
	productID, ok := productParam(w, r)
	if !ok {
		return
	}
	outletID, err := uuid.Parse(r.URL.Query().Get("outlet_id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "outlet_id must be a uuid")
		return
	}
	replay, err := h.service.RecomputeProduct(r.Context(), outletID, productID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, replay)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("inventory request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	switch {
	case errors.Is(err, ErrStockChanged):
		httpx.Problem(w, http.StatusConflict, "Stock Changed", err.Error())
	case errors.Is(err, ErrInvalidEdit):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
	default:
		httpx.RespondError(w, err)
	}
}

func productParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "product id must be a uuid")
		return uuid.Nil, false
	}
	return id, true
}
