package challan

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/pharmaledger/internal/platform/httpx"
)

// Handler exposes the challan lifecycle over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers challan routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/{challanID}", h.handleGet)
	r.Get("/{challanID}/tracking", h.handleTracking)
	r.Post("/{challanID}/dispatch", h.handleDispatch)
	r.Post("/{challanID}/deliver", h.handleDeliver)
	r.Post("/{challanID}/cancel", h.handleCancel)
}

type createRequest struct {
	OrderID int64 `json:"order_id" validate:"required,gt=0"`
	Lines   []struct {
		OrderLineID int64 `json:"order_line_id" validate:"required,gt=0"`
		Quantity    int64 `json:"quantity" validate:"gte=0"`
	} `json:"lines" validate:"dive"`
	Notes string `json:"notes" validate:"max=500"`
}

type dispatchRequest struct {
	Transport Transport `json:"transport"`
	Location  string    `json:"location" validate:"max=200"`
	Note      string    `json:"note" validate:"max=500"`
}

type deliverRequest struct {
	ReceivedBy string `json:"received_by" validate:"required,max=200"`
	Satisfied  bool   `json:"satisfied"`
	Notes      string `json:"notes" validate:"max=500"`
	Method     string `json:"method" validate:"required,oneof=signature otp photo stamp"`
	Location   string `json:"location" validate:"max=200"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.ScopeFromRequest(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	var req createRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
		h.fail(w, err)
		return
	}
	var partial map[int64]int64
	if len(req.Lines) > 0 {
		partial = make(map[int64]int64, len(req.Lines))
		for _, l := range req.Lines {
			partial[l.OrderLineID] = l.Quantity
		}
	}
	ch, err := h.service.Create(r.Context(), CreateInput{
		OrgID:   scope.OrgID,
		OrderID: req.OrderID,
		ActorID: scope.ActorID,
		Partial: partial,
		Notes:   req.Notes,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ch)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.ScopeFromRequest(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	id, err := httpx.IDParam(r, "challanID")
	if err != nil {
		h.fail(w, err)
		return
	}
	ch, err := h.service.Get(r.Context(), scope.OrgID, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ch)
}

func (h *Handler) handleTracking(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.ScopeFromRequest(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	id, err := httpx.IDParam(r, "challanID")
	if err != nil {
		h.fail(w, err)
		return
	}
	events, err := h.service.Tracking(r.Context(), scope.OrgID, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, events)
}

func (h *Handler) handleDispatch(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.ScopeFromRequest(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	id, err := httpx.IDParam(r, "challanID")
	if err != nil {
		h.fail(w, err)
		return
	}
	var req dispatchRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
		h.fail(w, err)
		return
	}
	ch, err := h.service.Dispatch(r.Context(), DispatchInput{
		OrgID:     scope.OrgID,
		ChallanID: id,
		ActorID:   scope.ActorID,
		Transport: req.Transport,
		Location:  req.Location,
		Note:      req.Note,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ch)
}

func (h *Handler) handleDeliver(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.ScopeFromRequest(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	id, err := httpx.IDParam(r, "challanID")
	if err != nil {
		h.fail(w, err)
		return
	}
	var req deliverRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
		h.fail(w, err)
		return
	}
	ch, err := h.service.Deliver(r.Context(), DeliverInput{
		OrgID:      scope.OrgID,
		ChallanID:  id,
		ActorID:    scope.ActorID,
		ReceivedBy: req.ReceivedBy,
		Satisfied:  req.Satisfied,
		Notes:      req.Notes,
		Method:     req.Method,
		Location:   req.Location,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ch)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	scope, err := httpx.ScopeFromRequest(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	id, err := httpx.IDParam(r, "challanID")
	if err != nil {
		h.fail(w, err)
		return
	}
	var req cancelRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &req); err != nil {
		h.fail(w, err)
		return
	}
	ch, err := h.service.Cancel(r.Context(), CancelInput{OrgID: scope.OrgID, ChallanID: id, ActorID: scope.ActorID, Reason: req.Reason})
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ch)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if httpx.IsInternal(err) {
		h.logger.Error("challan request failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
