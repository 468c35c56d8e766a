package inventory

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/pharmaledger/internal/platform/httpx"
	"github.com/odyssey-erp/pharmaledger/internal/shared"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/transactions", h.handleRecord)
	r.Post("/adjustments", h.handleAdjust)
	r.Get("/batches/{batchID}/status", h.handleStatus)
	r.Post("/batches/{batchID}/rebuild", h.handleRebuild)
	r.Get("/batches/{batchID}/transactions", h.handleStockCard)
	r.Get("/products/{productID}/fifo", h.handleFIFO)
	r.Get("/expiry-alerts", h.handleExpiry)
}

type recordRequest struct {
	BatchID   int64  `json:"batch_id" validate:"required,gt=0"`
	Kind      string `json:"kind" validate:"required,oneof=sale purchase return adjustment dispatch"`
	Quantity  int64  `json:"quantity" validate:"required"`
	Reference string `json:"reference" validate:"max=120"`
	Remark    string `json:"remark" validate:"max=500"`
}

type adjustRequest struct {
	BatchID  int64  `json:"batch_id" validate:"required,gt=0"`
	Quantity int64  `json:"quantity" validate:"required"`
	Reason   string `json:"reason" validate:"required,max=500"`
}

func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.ScopeFromRequest(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	var req recordRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
		h.fail(w, err)
		return
	}
	mv, err := h.service.RecordTransaction(r.Context(), MovementInput{
		OrgID:     scope.OrgID,
		BatchID:   req.BatchID,
		Kind:      Kind(req.Kind),
		Quantity:  req.Quantity,
		Reference: req.Reference,
		ActorID:   scope.ActorID,
		Remark:    req.Remark,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, mv)
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.ScopeFromRequest(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	var req adjustRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
		h.fail(w, err)
		return
	}
	mv, err := h.service.AdjustStock(r.Context(), AdjustmentInput{
		OrgID:    scope.OrgID,
		BatchID:  req.BatchID,
		Quantity: req.Quantity,
		Reason:   req.Reason,
		ActorID:  scope.ActorID,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, mv)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.ScopeFromRequest(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	batchID, err := httpx.IDParam(r, "batchID")
	if err != nil {
		h.fail(w, err)
		return
	}
	status, err := h.service.GetOrInitStatus(r.Context(), scope.OrgID, batchID)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, status)
}

func (h *Handler) handleRebuild(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.ScopeFromRequest(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	batchID, err := httpx.IDParam(r, "batchID")
	if err != nil {
		h.fail(w, err)
		return
	}
	status, err := h.service.RebuildStatus(r.Context(), scope.OrgID, batchID)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, status)
}

func (h *Handler) handleStockCard(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.ScopeFromRequest(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	batchID, err := httpx.IDParam(r, "batchID")
	if err != nil {
		h.fail(w, err)
		return
	}
	filter := TransactionFilter{OrgID: scope.OrgID, BatchID: batchID}
	q := r.URL.Query()
	if from := q.Get("from"); from != "" {
		if filter.From, err = time.Parse("2006-01-02", from); err != nil {
			h.fail(w, shared.Invalid("from", "expected YYYY-MM-DD"))
			return
		}
	}
	if to := q.Get("to"); to != "" {
		if filter.To, err = time.Parse("2006-01-02", to); err != nil {
			h.fail(w, shared.Invalid("to", "expected YYYY-MM-DD"))
			return
		}
	}
	if limit := q.Get("limit"); limit != "" {
		if filter.Limit, err = strconv.Atoi(limit); err != nil {
			h.fail(w, shared.Invalid("limit", "must be an integer"))
			return
		}
	}
	rows, err := h.service.ListTransactions(r.Context(), filter)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) handleFIFO(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.ScopeFromRequest(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	productID, err := httpx.IDParam(r, "productID")
	if err != nil {
		h.fail(w, err)
		return
	}
	required, err := strconv.ParseInt(r.URL.Query().Get("quantity"), 10, 64)
	if err != nil {
		h.fail(w, shared.Invalid("quantity", "must be an integer"))
		return
	}
	rec, err := h.service.RecommendFIFO(r.Context(), scope.OrgID, productID, required)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) handleExpiry(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.ScopeFromRequest(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	horizon := DefaultHorizonDays
	if raw := r.URL.Query().Get("horizon_days"); raw != "" {
		if horizon, err = strconv.Atoi(raw); err != nil || horizon <= 0 {
			h.fail(w, shared.Invalid("horizon_days", "must be a positive integer"))
			return
		}
	}
	alerts, err := h.service.CollectExpiring(r.Context(), scope.OrgID, horizon)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, alerts)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if httpx.IsInternal(err) {
		h.logger.Error("inventory request failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
