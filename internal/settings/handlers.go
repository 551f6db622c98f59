package settings

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/amoria-lab/backend-amoria/internal/common"
	"github.com/amoria-lab/backend-amoria/internal/payment"
)

// Handler exposes the admin settings API.
type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the settings endpoints under /api/admin/settings.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/providers", h.ListProviders)
	r.Get("/providers/{provider}", h.GetProvider)
	r.Put("/providers/{provider}", h.PutProvider)
	r.Post("/providers/{provider}/activate", h.ActivateProvider)
	r.Get("/telegram", h.GetTelegram)
	r.Put("/telegram", h.PutTelegram)
}

func (h *Handler) ListProviders(w http.ResponseWriter, r *http.Request) {
	rows, err := h.svc.ListProviders(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"providers": rows})
}

func (h *Handler) GetProvider(w http.ResponseWriter, r *http.Request) {
	provider, err := payment.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		common.JSONError(w, http.StatusNotFound, "UNKNOWN_PROVIDER", "unknown payment provider", nil)
		return
	}
	row, err := h.svc.GetProvider(r.Context(), provider)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, row)
}

func (h *Handler) PutProvider(w http.ResponseWriter, r *http.Request) {
	provider, err := payment.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		common.JSONError(w, http.StatusNotFound, "UNKNOWN_PROVIDER", "unknown payment provider", nil)
		return
	}
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_JSON", "request body must be valid JSON", nil)
		return
	}
	if err := h.svc.UpdateProvider(r.Context(), provider, raw); err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) ActivateProvider(w http.ResponseWriter, r *http.Request) {
	provider, err := payment.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		common.JSONError(w, http.StatusNotFound, "UNKNOWN_PROVIDER", "unknown payment provider", nil)
		return
	}
	if err := h.svc.Activate(r.Context(), provider); err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]string{"status": "activated", "provider": string(provider)})
}

func (h *Handler) GetTelegram(w http.ResponseWriter, r *http.Request) {
	row, err := h.svc.GetTelegramRow(r.Context())
	if errors.Is(err, ErrNotFound) {
		common.JSON(w, http.StatusOK, TelegramRow{})
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, row)
}

func (h *Handler) PutTelegram(w http.ResponseWriter, r *http.Request) {
	var tg TelegramSettings
	if err := json.NewDecoder(r.Body).Decode(&tg); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_JSON", "request body must be valid JSON", nil)
		return
	}
	if err := h.svc.UpdateTelegram(r.Context(), tg); err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "settings not found", nil)
	case errors.Is(err, ErrInvalidConfig):
		common.JSONError(w, http.StatusUnprocessableEntity, "INVALID_CONFIG", err.Error(), nil)
	case errors.Is(err, payment.ErrUnknownProvider):
		common.JSONError(w, http.StatusNotFound, "UNKNOWN_PROVIDER", "unknown payment provider", nil)
	default:
		h.logger.Error().Err(err).Msg("settings_handler_error")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "something went wrong", nil)
	}
}
