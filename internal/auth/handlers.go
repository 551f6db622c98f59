package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/amoria-lab/backend-amoria/internal/common"
)

// Handler exposes the auth surface: login, verifyTotp, logout, me.
type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// PublicRoutes mounts the unauthenticated endpoints.
func (h *Handler) PublicRoutes(r chi.Router) {
	r.Post("/login", h.Login)
	r.Post("/verify-totp", h.VerifyTotp)
}

// ProtectedRoutes mounts endpoints behind RequireAuth.
func (h *Handler) ProtectedRoutes(r chi.Router) {
	r.Post("/logout", h.Logout)
	r.Get("/me", h.Me)
}

type loginBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_JSON", "request body must be valid JSON", nil)
		return
	}
	pending, err := h.svc.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]string{"pendingToken": pending})
}

type verifyBody struct {
	PendingToken string `json:"pendingToken"`
	Code         string `json:"code"`
}

func (h *Handler) VerifyTotp(w http.ResponseWriter, r *http.Request) {
	var body verifyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_JSON", "request body must be valid JSON", nil)
		return
	}
	pair, err := h.svc.VerifyTotp(r.Context(), body.PendingToken, body.Code)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, pair)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := common.SessionID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing session", nil)
		return
	}
	if err := h.svc.Logout(r.Context(), sessionID); err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	adminID, ok := common.AdminID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity", nil)
		return
	}
	admin, err := h.svc.Me(r.Context(), adminID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, admin)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		common.JSONError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid credentials", nil)
	case errors.Is(err, ErrAdminNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "admin not found", nil)
	default:
		h.logger.Error().Err(err).Msg("auth_handler_error")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "something went wrong", nil)
	}
}
