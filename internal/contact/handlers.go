// Package contact accepts contact form submissions and forwards them to the
// notification pipeline.
package contact

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/amoria-lab/backend-amoria/internal/common"
	"github.com/amoria-lab/backend-amoria/internal/events"
	"github.com/amoria-lab/backend-amoria/internal/obs"
)

// Submission is the contact form payload.
type Submission struct {
	Name    string `json:"name" validate:"required,max=200"`
	Email   string `json:"email" validate:"required,email"`
	Message string `json:"message" validate:"required,max=4000"`
}

// Handler validates submissions and publishes them as events.
type Handler struct {
	bus      *events.Bus
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewHandler(bus *events.Bus, logger zerolog.Logger) *Handler {
	return &Handler{
		bus:      bus,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// Routes mounts the contact endpoint.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.Submit)
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var sub Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_JSON", "request body must be valid JSON", nil)
		return
	}
	if err := h.validate.Struct(sub); err != nil {
		h.count("invalid")
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", "name, email and message are required", nil)
		return
	}
	err := h.bus.Publish(r.Context(), events.KindContactSubmitted, "", "", map[string]string{
		"name":    sub.Name,
		"email":   sub.Email,
		"message": sub.Message,
	})
	if err != nil {
		h.count("error")
		h.logger.Error().Err(err).Msg("contact_publish_failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "something went wrong", nil)
		return
	}
	h.count("ok")
	common.JSON(w, http.StatusAccepted, map[string]string{"status": "received"})
}

func (h *Handler) count(result string) {
	if obs.ContactSubmissionsTotal != nil {
		obs.ContactSubmissionsTotal.WithLabelValues(result).Inc()
	}
}
