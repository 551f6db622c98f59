package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, svc *Service) *chi.Mux {
	t.Helper()
	h := NewHandler(svc, zerolog.Nop())
	r := chi.NewRouter()
	r.Route("/api/public/payments", h.Routes(nil))
	return r
}

func TestHandlerCreateValidationError(t *testing.T) {
	_, client := newTestRedis(t)
	svc, _, _ := newTestService(t, client, map[Provider]Gateway{ProviderYooKassa: &stubGateway{}}, stubConfig{active: ProviderYooKassa})
	router := newTestRouter(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/public/payments", strings.NewReader(`{"email":"bad","amount":"99"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body struct {
		Error struct {
			Code    string          `json:"code"`
			Details map[string]bool `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "VALIDATION_FAILED", body.Error.Code)
	require.False(t, body.Error.Details["email"])
	require.False(t, body.Error.Details["amount"])
}

func TestHandlerCreateHappyPath(t *testing.T) {
	_, client := newTestRedis(t)
	gw := &stubGateway{createResult: CreateResult{
		PaymentID: "pay-h1",
		Affordance: Affordance{
			Kind:   AffordanceWidget,
			Widget: &WidgetAffordance{ConfirmationToken: "ct"},
		},
	}}
	svc, _, _ := newTestService(t, client, map[Provider]Gateway{ProviderYooKassa: gw}, stubConfig{active: ProviderYooKassa})
	router := newTestRouter(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/public/payments", strings.NewReader(`{"email":"user@example.com","amount":"1500"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp CreateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "pay-h1", resp.PaymentID)
	require.Equal(t, ProviderYooKassa, resp.Provider)
	require.Equal(t, "ct", resp.Affordance.Widget.ConfirmationToken)
}

func TestHandlerCreateBadJSON(t *testing.T) {
	_, client := newTestRedis(t)
	svc, _, _ := newTestService(t, client, map[Provider]Gateway{}, stubConfig{active: ProviderYooKassa})
	router := newTestRouter(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/public/payments", strings.NewReader(`{`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerWidgetEvent(t *testing.T) {
	_, client := newTestRedis(t)
	gw := &stubGateway{statuses: []StatusResult{{Status: "succeeded", Paid: true, Amount: "1500.00"}}}
	svc, sessions, _ := newTestService(t, client, map[Provider]Gateway{ProviderYooKassa: gw}, stubConfig{active: ProviderYooKassa})
	require.NoError(t, sessions.Replace(context.Background(), testSession(ProviderYooKassa, "pay-we")))
	router := newTestRouter(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/public/payments/pay-we/events", strings.NewReader(`{"event":"success"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var result Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, PhaseOK, result.Phase)
}

func TestHandlerWidgetEventUnknownPayment(t *testing.T) {
	_, client := newTestRedis(t)
	svc, _, _ := newTestService(t, client, map[Provider]Gateway{}, stubConfig{active: ProviderYooKassa})
	router := newTestRouter(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/public/payments/nope/events", strings.NewReader(`{"event":"success"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerStatusRequiresPaymentID(t *testing.T) {
	_, client := newTestRedis(t)
	svc, _, _ := newTestService(t, client, map[Provider]Gateway{}, stubConfig{active: ProviderYooKassa})
	router := newTestRouter(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/public/payments/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerResume(t *testing.T) {
	_, client := newTestRedis(t)
	gw := &stubGateway{statuses: []StatusResult{{Status: "succeeded", Paid: true}}}
	svc, sessions, _ := newTestService(t, client, map[Provider]Gateway{ProviderYooKassa: gw}, stubConfig{active: ProviderYooKassa})
	require.NoError(t, sessions.Replace(context.Background(), testSession(ProviderYooKassa, "pay-res")))
	router := newTestRouter(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/public/payments/resume", strings.NewReader(`{"provider":"yookassa"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp ResumeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "pay-res", resp.PaymentID)
	require.Equal(t, PhaseChecking, resp.Phase)
}

func TestHandlerActive(t *testing.T) {
	_, client := newTestRedis(t)
	svc, _, _ := newTestService(t, client, map[Provider]Gateway{}, stubConfig{active: ProviderRobokassa})
	router := newTestRouter(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/public/payments/active", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var info ActiveInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.Equal(t, ProviderRobokassa, info.Provider)
	require.False(t, info.Supported)
}
