package payment

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/amoria-lab/backend-amoria/internal/common"
)

// Handler exposes the public payment endpoints.
type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the public payment API. The optional idempotency middleware
// guards creation against double submits.
func (h *Handler) Routes(idem func(http.Handler) http.Handler) func(chi.Router) {
	return func(r chi.Router) {
		if idem != nil {
			r.With(idem).Post("/", h.Create)
		} else {
			r.Post("/", h.Create)
		}
		r.Get("/active", h.Active)
		r.Get("/status", h.Status)
		r.Post("/resume", h.Resume)
		r.Post("/{paymentID}/events", h.WidgetEvent)
	}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var form CreateForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_JSON", "request body must be valid JSON", nil)
		return
	}
	resp, err := h.svc.Create(r.Context(), form)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusCreated, resp)
}

func (h *Handler) Active(w http.ResponseWriter, r *http.Request) {
	info, err := h.svc.Active(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, info)
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.Status(r.Context(), r.URL.Query().Get("payment_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, result)
}

type widgetEventBody struct {
	Event string `json:"event"`
}

func (h *Handler) WidgetEvent(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentID")
	var body widgetEventBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_JSON", "request body must be valid JSON", nil)
		return
	}
	result, err := h.svc.HandleWidgetEvent(r.Context(), paymentID, body.Event)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, result)
}

type resumeBody struct {
	Provider string `json:"provider"`
}

func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	var body resumeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_JSON", "request body must be valid JSON", nil)
		return
	}
	resp, err := h.svc.Resume(r.Context(), body.Provider)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusAccepted, resp)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		common.JSONError(w, appErr.HTTPStatus, appErr.Code, appErr.Message, appErr.Details)
		return
	}
	h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("payment_handler_error")
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "something went wrong", nil)
}
