package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/amoria-lab/backend-amoria/internal/common"
	"github.com/amoria-lab/backend-amoria/internal/events"
	"github.com/amoria-lab/backend-amoria/internal/obs"
)

// Widget event names reported by the hosted widget.
const (
	EventSuccess    = "success"
	EventFail       = "fail"
	EventModalClose = "modal_close"
	EventComplete   = "complete"
)

// ServiceConfig tunes the orchestrator.
type ServiceConfig struct {
	WidgetBudget   int
	RecoveryBudget int
	ReconcileDelay time.Duration
}

// Service orchestrates the checkout flow across gateways, sessions, phases
// and the poller.
type Service struct {
	gateways map[Provider]Gateway
	sessions *SessionStore
	phases   *PhaseStore
	poller   *Poller
	bus      *events.Bus
	cfg      ConfigSource
	tasks    *asynq.Client
	logger   zerolog.Logger
	conf     ServiceConfig
}

func NewService(
	gateways map[Provider]Gateway,
	sessions *SessionStore,
	phases *PhaseStore,
	poller *Poller,
	bus *events.Bus,
	cfg ConfigSource,
	tasks *asynq.Client,
	logger zerolog.Logger,
	conf ServiceConfig,
) *Service {
	if conf.WidgetBudget < 1 {
		conf.WidgetBudget = 2
	}
	if conf.RecoveryBudget < 1 {
		conf.RecoveryBudget = 30
	}
	return &Service{
		gateways: gateways,
		sessions: sessions,
		phases:   phases,
		poller:   poller,
		bus:      bus,
		cfg:      cfg,
		tasks:    tasks,
		logger:   logger,
		conf:     conf,
	}
}

// CreateForm is the raw submission from the payment form. Method is the
// payment instrument the user pre-selected, if any; the provider itself is
// chosen by the admin settings, never by the form.
type CreateForm struct {
	Email  string `json:"email"`
	Amount string `json:"amount"`
	Method string `json:"method"`
}

// CreateResponse is returned to the front end after a successful creation.
type CreateResponse struct {
	PaymentID  string     `json:"paymentId"`
	Provider   Provider   `json:"provider"`
	Affordance Affordance `json:"affordance"`
}

// Create validates the form, creates the payment at the active provider's
// gateway and persists the session before the affordance is returned.
func (s *Service) Create(ctx context.Context, form CreateForm) (*CreateResponse, error) {
	if !FormValid(form.Email, form.Amount) || !IsValidMethod(form.Method) {
		details := map[string]bool{
			"email":  IsValidEmail(form.Email),
			"amount": IsValidAmount(form.Amount),
			"method": IsValidMethod(form.Method),
		}
		return nil, &common.AppError{
			Code:       "VALIDATION_FAILED",
			Message:    "check the email address, the amount (minimum 100) and the payment method",
			HTTPStatus: http.StatusUnprocessableEntity,
			Details:    details,
		}
	}

	provider, err := s.cfg.ActiveProvider(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve active provider: %w", err)
	}
	gw, ok := s.gateways[provider]
	if !ok {
		return nil, common.NewAppError("PROVIDER_UNAVAILABLE", "payment provider is not configured", http.StatusInternalServerError, nil)
	}

	result, err := gw.CreatePayment(ctx, CreateRequest{
		Amount:      strings.TrimSpace(form.Amount),
		Email:       strings.TrimSpace(form.Email),
		Method:      strings.ToLower(strings.TrimSpace(form.Method)),
		Description: "Amoria coaching session",
	})
	if err != nil {
		s.countCreate(provider, "error")
		return nil, mapGatewayError(provider, err)
	}

	sess := Session{
		PaymentID: result.PaymentID,
		Provider:  provider,
		Amount:    strings.TrimSpace(form.Amount),
		Email:     strings.TrimSpace(form.Email),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.sessions.Replace(ctx, sess); err != nil {
		s.countCreate(provider, "error")
		return nil, fmt.Errorf("persist session: %w", err)
	}
	s.countCreate(provider, "ok")
	s.scheduleReconcile(ctx, sess, gw)
	if s.bus != nil {
		if err := s.bus.Publish(ctx, events.KindPaymentCreated, string(provider), sess.PaymentID, map[string]string{
			"email":  sess.Email,
			"amount": sess.Amount,
		}); err != nil {
			s.logger.Warn().Err(err).Str("payment_id", sess.PaymentID).Msg("payment_created_event_failed")
		}
	}
	return &CreateResponse{PaymentID: result.PaymentID, Provider: provider, Affordance: result.Affordance}, nil
}

// ActiveInfo is the public provider configuration, secrets stripped.
type ActiveInfo struct {
	Provider  Provider          `json:"provider"`
	Supported bool              `json:"supported"`
	Widget    *WidgetAffordance `json:"widget,omitempty"`
	Script    *ScriptAffordance `json:"script,omitempty"`
}

// Active returns the active provider and what the front end needs to render
// its method selector. Called once per page load.
func (s *Service) Active(ctx context.Context) (*ActiveInfo, error) {
	provider, err := s.cfg.ActiveProvider(ctx)
	if err != nil {
		return nil, fmt.Errorf("active provider: %w", err)
	}
	info := &ActiveInfo{Provider: provider}
	switch provider {
	case ProviderYooKassa:
		conf, err := s.cfg.YooKassa(ctx)
		if err != nil {
			return nil, err
		}
		info.Supported = true
		if conf.PaymentMethod != "" {
			info.Widget = &WidgetAffordance{PaymentMethod: conf.PaymentMethod}
		}
	case ProviderAlfabank:
		conf, err := s.cfg.Alfabank(ctx)
		if err != nil {
			return nil, err
		}
		info.Supported = true
		info.Script = &ScriptAffordance{
			Environment: strings.ToLower(conf.Environment),
			Stages:      conf.Stages,
			Language:    conf.Language,
		}
	default:
		info.Supported = false
	}
	return info, nil
}

// Status performs a single gateway probe for the payment. Unlike a poll run
// it has no budget and never fails the payment on a pending status, but a
// terminal answer is finalized so the outcome sticks.
func (s *Service) Status(ctx context.Context, paymentID string) (Result, error) {
	if strings.TrimSpace(paymentID) == "" {
		return Result{}, common.NewAppError("PAYMENT_ID_REQUIRED", "payment_id is required", http.StatusBadRequest, nil)
	}
	sess, err := s.sessions.GetByPaymentID(ctx, paymentID)
	if errors.Is(err, ErrSessionNotFound) {
		phase, amount, perr := s.phases.Get(ctx, paymentID)
		if perr == nil && phase != PhaseIdle {
			return Result{Phase: phase, Amount: amount}, nil
		}
		return Result{}, common.NewAppError("PAYMENT_NOT_FOUND", "unknown payment", http.StatusNotFound, err)
	}
	if err != nil {
		return Result{}, err
	}
	gw, ok := s.gateways[sess.Provider]
	if !ok {
		return Result{}, common.NewAppError("PROVIDER_UNAVAILABLE", "payment provider is not configured", http.StatusInternalServerError, nil)
	}
	status, err := gw.Status(ctx, paymentID)
	if err != nil {
		return Result{}, mapGatewayError(sess.Provider, err)
	}
	if phase, terminal := status.Terminal(); terminal {
		return s.poller.Finalize(ctx, *sess, phase, status.Amount)
	}
	phase, amount, err := s.phases.Get(ctx, paymentID)
	if err != nil {
		return Result{}, err
	}
	return Result{Phase: phase, Amount: amount}, nil
}

// HandleWidgetEvent processes a lifecycle event reported by the hosted
// widget. Success-like events start a short confirmation poll; failure-like
// events finalize the payment immediately.
func (s *Service) HandleWidgetEvent(ctx context.Context, paymentID, event string) (Result, error) {
	sess, err := s.sessions.GetByPaymentID(ctx, paymentID)
	if errors.Is(err, ErrSessionNotFound) {
		phase, amount, perr := s.phases.Get(ctx, paymentID)
		if perr == nil && phase.IsTerminal() {
			return Result{Phase: phase, Amount: amount}, nil
		}
		return Result{}, common.NewAppError("PAYMENT_NOT_FOUND", "unknown payment", http.StatusNotFound, err)
	}
	if err != nil {
		return Result{}, err
	}

	switch event {
	case EventSuccess, EventComplete:
		gw, ok := s.gateways[sess.Provider]
		if !ok {
			return Result{}, common.NewAppError("PROVIDER_UNAVAILABLE", "payment provider is not configured", http.StatusInternalServerError, nil)
		}
		result, err := s.poller.Run(ctx, gw, *sess, s.conf.WidgetBudget, TriggerWidget)
		if errors.Is(err, ErrPollInFlight) {
			phase, amount, _ := s.phases.Get(ctx, paymentID)
			return Result{Phase: phase, Amount: amount}, nil
		}
		return result, err
	case EventFail, EventModalClose:
		return s.poller.Finalize(ctx, *sess, PhaseFail, "")
	default:
		return Result{}, common.NewAppError("UNKNOWN_EVENT", fmt.Sprintf("unknown widget event %q", event), http.StatusUnprocessableEntity, nil)
	}
}

// ResumeResponse reports the recovered payment and its phase.
type ResumeResponse struct {
	PaymentID string `json:"paymentId"`
	Phase     Phase  `json:"phase"`
}

// Resume restarts status polling for a persisted session after a page
// reload. The form is not resubmitted; the stored session carries everything
// the poll needs. Polling continues in the background with the recovery
// budget.
func (s *Service) Resume(ctx context.Context, providerName string) (*ResumeResponse, error) {
	provider, err := ParseProvider(providerName)
	if err != nil {
		return nil, common.NewAppError("UNKNOWN_PROVIDER", "unknown payment provider", http.StatusUnprocessableEntity, err)
	}
	sess, err := s.sessions.Get(ctx, provider)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, common.NewAppError("SESSION_NOT_FOUND", "no payment in progress", http.StatusNotFound, err)
	}
	if err != nil {
		return nil, err
	}
	phase, _, err := s.phases.Get(ctx, sess.PaymentID)
	if err != nil {
		return nil, err
	}
	if phase.IsTerminal() {
		return &ResumeResponse{PaymentID: sess.PaymentID, Phase: phase}, nil
	}
	gw, ok := s.gateways[provider]
	if !ok {
		return nil, common.NewAppError("PROVIDER_UNAVAILABLE", "payment provider is not configured", http.StatusInternalServerError, nil)
	}
	if _, err := s.phases.Set(ctx, sess.PaymentID, PhaseChecking, ""); err != nil {
		return nil, err
	}
	go s.recoverInBackground(*sess, gw)
	return &ResumeResponse{PaymentID: sess.PaymentID, Phase: PhaseChecking}, nil
}

func (s *Service) recoverInBackground(sess Session, gw Gateway) {
	// Upper bound: every attempt waits the fixed delay plus the probe itself.
	timeout := time.Duration(s.conf.RecoveryBudget)*(s.poller.delay+10*time.Second) + 10*time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if _, err := s.poller.Run(ctx, gw, sess, s.conf.RecoveryBudget, TriggerRecovery); err != nil && !errors.Is(err, ErrPollInFlight) {
		s.logger.Error().Err(err).
			Str("payment_id", sess.PaymentID).
			Str("provider", string(sess.Provider)).
			Msg("recovery_poll_failed")
	}
}

// Reconcile re-polls a possibly abandoned session. Called from the worker.
func (s *Service) Reconcile(ctx context.Context, provider Provider, paymentID string) error {
	sess, err := s.sessions.Get(ctx, provider)
	if errors.Is(err, ErrSessionNotFound) {
		return nil // already finalized and cleared
	}
	if err != nil {
		return err
	}
	if sess.PaymentID != paymentID {
		return nil // a newer session replaced this one
	}
	gw, ok := s.gateways[provider]
	if !ok {
		return fmt.Errorf("reconcile: no gateway for provider %s", provider)
	}
	_, err = s.poller.Run(ctx, gw, *sess, s.conf.RecoveryBudget, TriggerRecovery)
	if errors.Is(err, ErrPollInFlight) {
		return nil
	}
	return err
}

func (s *Service) scheduleReconcile(ctx context.Context, sess Session, gw Gateway) {
	if s.tasks == nil || s.conf.ReconcileDelay <= 0 {
		return
	}
	// A gateway without a status API has nothing to reconcile against; a
	// forced poll would only burn the budget and fail a payment that may
	// have succeeded through the redirect flow.
	if g, ok := gw.(interface{ HasStatusAPI() bool }); ok && !g.HasStatusAPI() {
		return
	}
	task, err := NewReconcileTask(sess.Provider, sess.PaymentID)
	if err != nil {
		s.logger.Error().Err(err).Str("payment_id", sess.PaymentID).Msg("reconcile_task_build_failed")
		return
	}
	if _, err := s.tasks.EnqueueContext(ctx, task, asynq.ProcessIn(s.conf.ReconcileDelay)); err != nil {
		s.logger.Error().Err(err).Str("payment_id", sess.PaymentID).Msg("reconcile_task_enqueue_failed")
	}
}

func (s *Service) countCreate(provider Provider, result string) {
	if obs.PaymentCreateTotal != nil {
		obs.PaymentCreateTotal.WithLabelValues(string(provider), result).Inc()
	}
}

func mapGatewayError(provider Provider, err error) error {
	switch {
	case errors.Is(err, ErrProviderUnsupported):
		return common.NewAppError(
			"PROVIDER_UNSUPPORTED",
			fmt.Sprintf("%s payments are not available yet, please pick another method", provider),
			http.StatusBadRequest, err)
	case errors.Is(err, ErrNoPaymentMethods):
		return common.NewAppError(
			"NO_PAYMENT_METHODS",
			"no payment methods are available right now, please try again later",
			http.StatusServiceUnavailable, err)
	default:
		return common.NewAppError(
			"GATEWAY_ERROR",
			"the payment service is temporarily unavailable, please try again",
			http.StatusBadGateway, err)
	}
}
