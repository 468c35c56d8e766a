package payments

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/pharmaledger/internal/platform/httpx"
)

// Handler exposes payment allocation over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers payment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleAllocate)
	r.Post("/{paymentID}/received", h.handleReceived)
	r.Post("/advances/apply", h.handleApplyAdvance)
	r.Get("/customers/{customerID}/advances", h.handleAdvanceBalance)
	r.Get("/orders/{orderID}", h.handleOrderSummary)
	r.Post("/orders/{orderID}/recompute", h.handleRecompute)
}

type allocateRequest struct {
	CustomerID int64           `json:"customer_id" validate:"required,gt=0"`
	Amount     decimal.Decimal `json:"amount"`
	Mode       string          `json:"mode" validate:"required,oneof=cash bank_transfer cheque upi card"`
	Kind       string          `json:"kind" validate:"omitempty,oneof=order advance"`
	OrderIDs   []int64         `json:"order_ids" validate:"dive,gt=0"`
	Reference  string          `json:"reference" validate:"max=120"`
}

type applyAdvanceRequest struct {
	CustomerID int64           `json:"customer_id" validate:"required,gt=0"`
	OrderID    int64           `json:"order_id" validate:"required,gt=0"`
	Amount     decimal.Decimal `json:"amount"`
}

func (h *Handler) handleAllocate(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.ScopeFromRequest(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	var req allocateRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
		h.fail(w, err)
		return
	}
	result, err := h.service.Allocate(r.Context(), AllocateInput{
		OrgID:          scope.OrgID,
		CustomerID:     req.CustomerID,
		Amount:         req.Amount,
		Mode:           req.Mode,
		Kind:           PaymentKind(req.Kind),
		OrderIDs:       req.OrderIDs,
		Reference:      req.Reference,
		ActorID:        scope.ActorID,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) handleReceived(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.ScopeFromRequest(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	paymentID, err := httpx.IDParam(r, "paymentID")
	if err != nil {
		h.fail(w, err)
		return
	}
	if err := h.service.OnPaymentReceived(r.Context(), scope.OrgID, paymentID); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleApplyAdvance(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.ScopeFromRequest(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	var req applyAdvanceRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
		h.fail(w, err)
		return
	}
	result, err := h.service.ApplyAdvance(r.Context(), ApplyAdvanceInput{
		OrgID:      scope.OrgID,
		CustomerID: req.CustomerID,
		OrderID:    req.OrderID,
		Amount:     req.Amount,
		ActorID:    scope.ActorID,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleAdvanceBalance(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.ScopeFromRequest(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	customerID, err := httpx.IDParam(r, "customerID")
	if err != nil {
		h.fail(w, err)
		return
	}
	bal, err := h.service.AdvanceBalance(r.Context(), scope.OrgID, customerID)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bal)
}

func (h *Handler) handleOrderSummary(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.ScopeFromRequest(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	orderID, err := httpx.IDParam(r, "orderID")
	if err != nil {
		h.fail(w, err)
		return
	}
	summary, err := h.service.OrderSummary(r.Context(), scope.OrgID, orderID)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) handleRecompute(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.ScopeFromRequest(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	orderID, err := httpx.IDParam(r, "orderID")
	if err != nil {
		h.fail(w, err)
		return
	}
	status, err := h.service.RecomputeOrderPaymentStatus(r.Context(), scope.OrgID, orderID)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"order_id": orderID, "payment_status": status})
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if httpx.IsInternal(err) {
		h.logger.Error("payments request failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
