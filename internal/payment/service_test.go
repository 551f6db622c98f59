package payment

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/amoria-lab/backend-amoria/internal/common"
)

func newTestService(t *testing.T, client *redis.Client, gateways map[Provider]Gateway, cfg ConfigSource) (*Service, *SessionStore, *PhaseStore) {
	t.Helper()
	poller, sessions, phases := newTestPoller(t, client)
	svc := NewService(gateways, sessions, phases, poller, nil, cfg, nil, zerolog.Nop(), ServiceConfig{
		WidgetBudget:   2,
		RecoveryBudget: 5,
	})
	return svc, sessions, phases
}

func TestCreateValidationNeverReachesGateway(t *testing.T) {
	_, client := newTestRedis(t)
	gw := &stubGateway{}
	svc, _, _ := newTestService(t, client, map[Provider]Gateway{ProviderYooKassa: gw}, stubConfig{active: ProviderYooKassa})

	_, err := svc.Create(context.Background(), CreateForm{Email: "bad", Amount: "99"})
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "VALIDATION_FAILED", appErr.Code)

	createCalls, _ := gw.calls()
	require.Zero(t, createCalls)
}

func TestCreatePersistsSessionBeforeResponding(t *testing.T) {
	_, client := newTestRedis(t)
	gw := &stubGateway{createResult: CreateResult{
		PaymentID: "pay-new",
		Affordance: Affordance{
			Kind:   AffordanceWidget,
			Widget: &WidgetAffordance{ConfirmationToken: "ct-123"},
		},
	}}
	svc, sessions, _ := newTestService(t, client, map[Provider]Gateway{ProviderYooKassa: gw}, stubConfig{active: ProviderYooKassa})

	resp, err := svc.Create(context.Background(), CreateForm{Email: "user@example.com", Amount: "1500"})
	require.NoError(t, err)
	require.Equal(t, "pay-new", resp.PaymentID)
	require.Equal(t, ProviderYooKassa, resp.Provider)
	require.Equal(t, AffordanceWidget, resp.Affordance.Kind)
	require.Equal(t, "ct-123", resp.Affordance.Widget.ConfirmationToken)

	sess, err := sessions.Get(context.Background(), ProviderYooKassa)
	require.NoError(t, err)
	require.Equal(t, "pay-new", sess.PaymentID)
	require.Equal(t, "1500", sess.Amount)
	require.Equal(t, "user@example.com", sess.Email)
}

func TestCreateUnsupportedProvider(t *testing.T) {
	_, client := newTestRedis(t)
	gateways := map[Provider]Gateway{
		ProviderRobokassa:     NewRobokassaGateway(),
		ProviderCloudPayments: NewCloudPaymentsGateway(),
	}

	for _, active := range []Provider{ProviderRobokassa, ProviderCloudPayments} {
		svc, sessions, _ := newTestService(t, client, gateways, stubConfig{active: active})

		_, err := svc.Create(context.Background(), CreateForm{Email: "user@example.com", Amount: "1500"})
		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr)
		require.Equal(t, "PROVIDER_UNSUPPORTED", appErr.Code)

		// No session was left behind.
		_, err = sessions.Get(context.Background(), active)
		require.ErrorIs(t, err, ErrSessionNotFound)
	}
}

func TestCreateMethodIsAnInstrumentNotAProvider(t *testing.T) {
	_, client := newTestRedis(t)
	gw := &stubGateway{createResult: CreateResult{
		PaymentID: "pay-sbp",
		Affordance: Affordance{
			Kind:   AffordanceWidget,
			Widget: &WidgetAffordance{ConfirmationToken: "ct-sbp", PaymentMethod: "sbp"},
		},
	}}
	svc, _, _ := newTestService(t, client, map[Provider]Gateway{ProviderYooKassa: gw}, stubConfig{active: ProviderYooKassa})

	// A pre-selected instrument rides along to the active provider's gateway;
	// it never overrides which provider handles the payment.
	resp, err := svc.Create(context.Background(), CreateForm{Email: "user@example.com", Amount: "1500", Method: "sbp"})
	require.NoError(t, err)
	require.Equal(t, ProviderYooKassa, resp.Provider)
	require.Equal(t, "sbp", gw.lastRequest().Method)

	_, err = svc.Create(context.Background(), CreateForm{Email: "user@example.com", Amount: "1500", Method: " Bank_Card "})
	require.NoError(t, err)
	require.Equal(t, "bank_card", gw.lastRequest().Method)
}

func TestCreateUnknownMethodFailsValidation(t *testing.T) {
	_, client := newTestRedis(t)
	gw := &stubGateway{}
	svc, _, _ := newTestService(t, client, map[Provider]Gateway{ProviderYooKassa: gw}, stubConfig{active: ProviderYooKassa})

	_, err := svc.Create(context.Background(), CreateForm{Email: "user@example.com", Amount: "1500", Method: "paypal"})
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "VALIDATION_FAILED", appErr.Code)
	details, ok := appErr.Details.(map[string]bool)
	require.True(t, ok)
	require.True(t, details["email"])
	require.True(t, details["amount"])
	require.False(t, details["method"])

	createCalls, _ := gw.calls()
	require.Zero(t, createCalls)
}

func TestCreateNoPaymentMethods(t *testing.T) {
	_, client := newTestRedis(t)
	gw := &stubGateway{createErr: ErrNoPaymentMethods}
	svc, _, _ := newTestService(t, client, map[Provider]Gateway{ProviderYooKassa: gw}, stubConfig{active: ProviderYooKassa})

	_, err := svc.Create(context.Background(), CreateForm{Email: "user@example.com", Amount: "1500"})
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "NO_PAYMENT_METHODS", appErr.Code)
}

func TestCreateSchedulesReconcileOnlyForPollableGateways(t *testing.T) {
	mr, client := newTestRedis(t)
	tasks := asynq.NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { _ = tasks.Close() })

	asynqKeys := func() int {
		n := 0
		for _, key := range mr.Keys() {
			if strings.HasPrefix(key, "asynq:") {
				n++
			}
		}
		return n
	}

	newSvc := func(cfg stubConfig, gateways map[Provider]Gateway) *Service {
		poller, sessions, phases := newTestPoller(t, client)
		return NewService(gateways, sessions, phases, poller, nil, cfg, tasks, zerolog.Nop(), ServiceConfig{
			WidgetBudget:   2,
			RecoveryBudget: 5,
			ReconcileDelay: time.Minute,
		})
	}

	alfaCfg := stubConfig{active: ProviderAlfabank, alfa: AlfabankConfig{Token: "tok", Environment: "test"}}
	alfaSvc := newSvc(alfaCfg, map[Provider]Gateway{ProviderAlfabank: NewAlfabankGateway(alfaCfg)})

	resp, err := alfaSvc.Create(context.Background(), CreateForm{Email: "user@example.com", Amount: "1500"})
	require.NoError(t, err)
	require.Equal(t, AffordanceScript, resp.Affordance.Kind)
	// The pay button reports its outcome through redirects; a scheduled poll
	// could only fail the payment, so none is enqueued.
	require.Zero(t, asynqKeys())

	yooCfg := stubConfig{active: ProviderYooKassa}
	yooSvc := newSvc(yooCfg, map[Provider]Gateway{ProviderYooKassa: &stubGateway{createResult: CreateResult{
		PaymentID:  "pay-rec",
		Affordance: Affordance{Kind: AffordanceWidget, Widget: &WidgetAffordance{ConfirmationToken: "ct"}},
	}}})

	_, err = yooSvc.Create(context.Background(), CreateForm{Email: "user@example.com", Amount: "1500"})
	require.NoError(t, err)
	require.NotZero(t, asynqKeys())
}

func TestWidgetEventSuccessTriggersShortPoll(t *testing.T) {
	_, client := newTestRedis(t)
	gw := &stubGateway{statuses: []StatusResult{{Status: "succeeded", Paid: true, Amount: "1500.00"}}}
	svc, sessions, _ := newTestService(t, client, map[Provider]Gateway{ProviderYooKassa: gw}, stubConfig{active: ProviderYooKassa})

	sess := testSession(ProviderYooKassa, "pay-evt")
	require.NoError(t, sessions.Replace(context.Background(), sess))

	result, err := svc.HandleWidgetEvent(context.Background(), "pay-evt", EventSuccess)
	require.NoError(t, err)
	require.Equal(t, PhaseOK, result.Phase)
	require.Equal(t, "1500.00", result.Amount)
}

func TestWidgetEventModalCloseFinalizesFail(t *testing.T) {
	_, client := newTestRedis(t)
	gw := &stubGateway{}
	svc, sessions, phases := newTestService(t, client, map[Provider]Gateway{ProviderYooKassa: gw}, stubConfig{active: ProviderYooKassa})

	sess := testSession(ProviderYooKassa, "pay-close")
	require.NoError(t, sessions.Replace(context.Background(), sess))

	result, err := svc.HandleWidgetEvent(context.Background(), "pay-close", EventModalClose)
	require.NoError(t, err)
	require.Equal(t, PhaseFail, result.Phase)

	// No status probe happened and the session is gone.
	_, statusCalls := gw.calls()
	require.Zero(t, statusCalls)
	_, err = sessions.Get(context.Background(), ProviderYooKassa)
	require.ErrorIs(t, err, ErrSessionNotFound)

	phase, _, err := phases.Get(context.Background(), "pay-close")
	require.NoError(t, err)
	require.Equal(t, PhaseFail, phase)
}

func TestWidgetEventUnknown(t *testing.T) {
	_, client := newTestRedis(t)
	svc, sessions, _ := newTestService(t, client, map[Provider]Gateway{ProviderYooKassa: &stubGateway{}}, stubConfig{active: ProviderYooKassa})
	require.NoError(t, sessions.Replace(context.Background(), testSession(ProviderYooKassa, "pay-unk")))

	_, err := svc.HandleWidgetEvent(context.Background(), "pay-unk", "minimized")
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "UNKNOWN_EVENT", appErr.Code)
}

func TestResumeRecoversPersistedSession(t *testing.T) {
	_, client := newTestRedis(t)
	gw := &stubGateway{statuses: []StatusResult{{Status: "succeeded", Paid: true, Amount: "1500.00"}}}
	svc, sessions, phases := newTestService(t, client, map[Provider]Gateway{ProviderYooKassa: gw}, stubConfig{active: ProviderYooKassa})

	sess := testSession(ProviderYooKassa, "pay-resume")
	require.NoError(t, sessions.Replace(context.Background(), sess))

	resp, err := svc.Resume(context.Background(), "yookassa")
	require.NoError(t, err)
	require.Equal(t, "pay-resume", resp.PaymentID)
	require.Equal(t, PhaseChecking, resp.Phase)

	// The background recovery poll finishes the payment without any form
	// resubmission.
	require.Eventually(t, func() bool {
		phase, _, err := phases.Get(context.Background(), "pay-resume")
		return err == nil && phase == PhaseOK
	}, 2*time.Second, 10*time.Millisecond)

	createCalls, _ := gw.calls()
	require.Zero(t, createCalls)
}

func TestResumeWithoutSession(t *testing.T) {
	_, client := newTestRedis(t)
	svc, _, _ := newTestService(t, client, map[Provider]Gateway{ProviderYooKassa: &stubGateway{}}, stubConfig{active: ProviderYooKassa})

	_, err := svc.Resume(context.Background(), "yookassa")
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "SESSION_NOT_FOUND", appErr.Code)
}

func TestStatusSingleProbeDoesNotFailPending(t *testing.T) {
	_, client := newTestRedis(t)
	gw := &stubGateway{statuses: []StatusResult{{Status: "pending"}}}
	svc, sessions, _ := newTestService(t, client, map[Provider]Gateway{ProviderYooKassa: gw}, stubConfig{active: ProviderYooKassa})

	sess := testSession(ProviderYooKassa, "pay-probe")
	require.NoError(t, sessions.Replace(context.Background(), sess))

	result, err := svc.Status(context.Background(), "pay-probe")
	require.NoError(t, err)
	require.Equal(t, PhaseIdle, result.Phase)

	// One probe, no budget semantics.
	_, statusCalls := gw.calls()
	require.Equal(t, 1, statusCalls)
}

func TestStatusTerminalAnswerSticks(t *testing.T) {
	_, client := newTestRedis(t)
	gw := &stubGateway{statuses: []StatusResult{{Status: "succeeded", Paid: true, Amount: "1500.00"}}}
	svc, sessions, phases := newTestService(t, client, map[Provider]Gateway{ProviderYooKassa: gw}, stubConfig{active: ProviderYooKassa})

	sess := testSession(ProviderYooKassa, "pay-stick")
	require.NoError(t, sessions.Replace(context.Background(), sess))

	result, err := svc.Status(context.Background(), "pay-stick")
	require.NoError(t, err)
	require.Equal(t, PhaseOK, result.Phase)

	phase, amount, err := phases.Get(context.Background(), "pay-stick")
	require.NoError(t, err)
	require.Equal(t, PhaseOK, phase)
	require.Equal(t, "1500.00", amount)
}

func TestActiveStripsSecrets(t *testing.T) {
	_, client := newTestRedis(t)
	cfg := stubConfig{
		active: ProviderAlfabank,
		alfa: AlfabankConfig{
			Token:       "public-token",
			Environment: "test",
			Stages:      2,
			Language:    "ru",
		},
	}
	svc, _, _ := newTestService(t, client, map[Provider]Gateway{}, cfg)

	info, err := svc.Active(context.Background())
	require.NoError(t, err)
	require.Equal(t, ProviderAlfabank, info.Provider)
	require.True(t, info.Supported)
	require.NotNil(t, info.Script)
	// Token is handed out per payment, not on the config endpoint.
	require.Empty(t, info.Script.Token)
	require.Equal(t, "test", info.Script.Environment)
}
