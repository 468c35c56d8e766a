package discounts

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/pharmaledger/internal/platform/httpx"
)

// Handler exposes discount previews.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers discount routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/preview", h.handlePreview)
}

type previewRequest struct {
	CustomerID int64 `json:"customer_id" validate:"required,gt=0"`
	Lines      []struct {
		BatchID   int64           `json:"batch_id" validate:"required,gt=0"`
		ProductID int64           `json:"product_id"`
		Quantity  int64           `json:"quantity" validate:"required,gt=0"`
		UnitPrice decimal.Decimal `json:"unit_price"`
	} `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.ScopeFromRequest(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req previewRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	lines := make([]Line, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, Line{BatchID: l.BatchID, ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	app, err := h.service.Preview(r.Context(), scope.OrgID, req.CustomerID, lines)
	if err != nil {
		if httpx.IsInternal(err) {
			h.logger.Error("discount preview failed", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, app)
}
