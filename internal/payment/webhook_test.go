package payment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const webhookSecret = "wh-secret"

func newWebhookRouter(t *testing.T, client *redis.Client) (*chi.Mux, *SessionStore, *PhaseStore) {
	t.Helper()
	poller, sessions, phases := newTestPoller(t, client)
	cfg := stubConfig{yoo: YooKassaConfig{ShopID: "s", SecretKey: "k", WebhookSecret: webhookSecret}}
	h := NewWebhookHandler(cfg, sessions, phases, poller, client, zerolog.Nop())
	r := chi.NewRouter()
	r.Route("/api/webhooks", h.Routes)
	return r, sessions, phases
}

func postWebhook(router http.Handler, secret, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/payment/yookassa", strings.NewReader(body))
	if secret != "" {
		req.Header.Set("X-Webhook-Secret", secret)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

const succeededNotification = `{
	"type": "notification",
	"event": "payment.succeeded",
	"object": {"id": "pay-wh", "status": "succeeded", "paid": true, "amount": {"value": "1500.00"}}
}`

func TestWebhookRejectsBadSecret(t *testing.T) {
	_, client := newTestRedis(t)
	router, _, _ := newWebhookRouter(t, client)

	require.Equal(t, http.StatusUnauthorized, postWebhook(router, "", succeededNotification).Code)
	require.Equal(t, http.StatusUnauthorized, postWebhook(router, "wrong", succeededNotification).Code)
}

func TestWebhookFinalizesSession(t *testing.T) {
	mr, client := newTestRedis(t)
	router, sessions, phases := newWebhookRouter(t, client)

	sess := testSession(ProviderYooKassa, "pay-wh")
	require.NoError(t, sessions.Replace(context.Background(), sess))

	rec := postWebhook(router, webhookSecret, succeededNotification)
	require.Equal(t, http.StatusOK, rec.Code)

	phase, amount, err := phases.Get(context.Background(), "pay-wh")
	require.NoError(t, err)
	require.Equal(t, PhaseOK, phase)
	require.Equal(t, "1500.00", amount)

	// Session lives through the grace window, then expires.
	_, err = sessions.Get(context.Background(), ProviderYooKassa)
	require.NoError(t, err)
	mr.FastForward(testGrace + 1e9)
	_, err = sessions.Get(context.Background(), ProviderYooKassa)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestWebhookReplayIsIgnored(t *testing.T) {
	_, client := newTestRedis(t)
	router, sessions, phases := newWebhookRouter(t, client)
	require.NoError(t, sessions.Replace(context.Background(), testSession(ProviderYooKassa, "pay-wh")))

	require.Equal(t, http.StatusOK, postWebhook(router, webhookSecret, succeededNotification).Code)
	// Retry of the same notification: accepted but not reprocessed.
	require.Equal(t, http.StatusOK, postWebhook(router, webhookSecret, succeededNotification).Code)

	phase, _, err := phases.Get(context.Background(), "pay-wh")
	require.NoError(t, err)
	require.Equal(t, PhaseOK, phase)
}

func TestWebhookWithoutSessionStillRecordsPhase(t *testing.T) {
	_, client := newTestRedis(t)
	router, _, phases := newWebhookRouter(t, client)

	rec := postWebhook(router, webhookSecret, succeededNotification)
	require.Equal(t, http.StatusOK, rec.Code)

	phase, amount, err := phases.Get(context.Background(), "pay-wh")
	require.NoError(t, err)
	require.Equal(t, PhaseOK, phase)
	require.Equal(t, "1500.00", amount)
}

func TestWebhookUnknownProvider(t *testing.T) {
	_, client := newTestRedis(t)
	router, _, _ := newWebhookRouter(t, client)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/payment/alfabank", strings.NewReader(succeededNotification))
	req.Header.Set("X-Webhook-Secret", webhookSecret)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
