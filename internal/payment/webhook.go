package payment

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/amoria-lab/backend-amoria/internal/cache"
	"github.com/amoria-lab/backend-amoria/internal/common"
	"github.com/amoria-lab/backend-amoria/internal/obs"
)

// webhookSeenTTL keeps processed notification ids around long enough to
// reject replays of the gateway's retry window.
const webhookSeenTTL = 48 * time.Hour

// WebhookHandler finalizes payments from out-of-band gateway notifications,
// so a closed browser tab does not leave a paid session unresolved.
type WebhookHandler struct {
	cfg      ConfigSource
	sessions *SessionStore
	phases   *PhaseStore
	poller   *Poller
	rdb      *redis.Client
	logger   zerolog.Logger
}

func NewWebhookHandler(
	cfg ConfigSource,
	sessions *SessionStore,
	phases *PhaseStore,
	poller *Poller,
	rdb *redis.Client,
	logger zerolog.Logger,
) *WebhookHandler {
	return &WebhookHandler{cfg: cfg, sessions: sessions, phases: phases, poller: poller, rdb: rdb, logger: logger}
}

// Routes mounts the webhook endpoint.
func (h *WebhookHandler) Routes(r chi.Router) {
	r.Post("/payment/{provider}", h.Receive)
}

type webhookNotification struct {
	Type   string `json:"type"`
	Event  string `json:"event"`
	Object struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Paid   bool   `json:"paid"`
		Amount struct {
			Value string `json:"value"`
		} `json:"amount"`
	} `json:"object"`
}

func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	provider, err := ParseProvider(providerName)
	if err != nil || provider != ProviderYooKassa {
		h.count(providerName, "unknown_provider")
		common.JSONError(w, http.StatusNotFound, "UNKNOWN_PROVIDER", "no webhook for this provider", nil)
		return
	}

	conf, err := h.cfg.YooKassa(r.Context())
	if err != nil {
		h.count(providerName, "config_error")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "something went wrong", nil)
		return
	}
	if conf.WebhookSecret == "" ||
		subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Webhook-Secret")), []byte(conf.WebhookSecret)) != 1 {
		h.count(providerName, "unauthorized")
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "bad webhook secret", nil)
		return
	}

	var note webhookNotification
	if err := json.NewDecoder(r.Body).Decode(&note); err != nil || note.Object.ID == "" {
		h.count(providerName, "bad_payload")
		common.JSONError(w, http.StatusBadRequest, "BAD_JSON", "unreadable notification", nil)
		return
	}

	seenKey := cache.WebhookSeen(string(provider), note.Event+":"+note.Object.ID)
	fresh, err := h.rdb.SetNX(r.Context(), seenKey, 1, webhookSeenTTL).Result()
	if err != nil {
		h.count(providerName, "error")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "something went wrong", nil)
		return
	}
	if !fresh {
		// Gateway retry of an already-processed notification.
		h.count(providerName, "replay")
		common.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	status := StatusResult{Status: note.Object.Status, Paid: note.Object.Paid, Amount: note.Object.Amount.Value}
	phase, terminal := status.Terminal()
	if !terminal {
		h.count(providerName, "ignored")
		common.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	sess, err := h.sessions.GetByPaymentID(r.Context(), note.Object.ID)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		// Session already cleared; record the terminal phase anyway so later
		// status probes observe it.
		if _, err := h.phases.Set(r.Context(), note.Object.ID, phase, status.Amount); err != nil {
			h.count(providerName, "error")
			common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "something went wrong", nil)
			return
		}
	case err != nil:
		h.count(providerName, "error")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "something went wrong", nil)
		return
	default:
		if _, err := h.poller.Finalize(r.Context(), *sess, phase, status.Amount); err != nil {
			h.count(providerName, "error")
			common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "something went wrong", nil)
			return
		}
	}

	h.logger.Info().
		Str("provider", string(provider)).
		Str("payment_id", note.Object.ID).
		Str("event", note.Event).
		Str("phase", string(phase)).
		Msg("payment_webhook_finalized")
	h.count(providerName, "ok")
	common.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *WebhookHandler) count(provider, result string) {
	if obs.PaymentWebhookTotal != nil {
		obs.PaymentWebhookTotal.WithLabelValues(provider, result).Inc()
	}
}
