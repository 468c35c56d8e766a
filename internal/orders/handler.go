package orders

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/pharmaledger/internal/platform/httpx"
)

// Handler exposes order placement over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handlePlace)
	r.Get("/{orderID}", h.handleGet)
}

type placeRequest struct {
	CustomerID int64      `json:"customer_id" validate:"required,gt=0"`
	DueDate    *time.Time `json:"due_date"`
	Notes      string     `json:"notes" validate:"max=500"`
	Lines      []struct {
		BatchID   int64               `json:"batch_id" validate:"required,gt=0"`
		Quantity  int64               `json:"quantity" validate:"required,gt=0"`
		UnitPrice decimal.NullDecimal `json:"unit_price"`
	} `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handlePlace(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.ScopeFromRequest(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	var req placeRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
		h.fail(w, err)
		return
	}
	input := PlaceOrderInput{
		OrgID:          scope.OrgID,
		CustomerID:     req.CustomerID,
		DueDate:        req.DueDate,
		Notes:          req.Notes,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, LineInput{BatchID: l.BatchID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	placement, err := h.service.ProcessOrder(r.Context(), input, scope.ActorID)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, placement)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.ScopeFromRequest(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	id, err := httpx.IDParam(r, "orderID")
	if err != nil {
		h.fail(w, err)
		return
	}
	order, err := h.service.Get(r.Context(), scope.OrgID, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if httpx.IsInternal(err) {
		h.logger.Error("order request failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
