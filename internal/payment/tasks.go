package payment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// TypePaymentReconcile is the asynq task type for delayed reconciliation of
// sessions that may have been abandoned mid-checkout.
const TypePaymentReconcile = "payment:reconcile"

type reconcilePayload struct {
	Provider  Provider `json:"provider"`
	PaymentID string   `json:"paymentId"`
}

// NewReconcileTask builds the delayed reconcile task for a session.
func NewReconcileTask(provider Provider, paymentID string) (*asynq.Task, error) {
	payload, err := json.Marshal(reconcilePayload{Provider: provider, PaymentID: paymentID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypePaymentReconcile, payload, asynq.MaxRetry(3)), nil
}

// TaskHandler binds payment tasks to the worker mux.
type TaskHandler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewTaskHandler(svc *Service, logger zerolog.Logger) *TaskHandler {
	return &TaskHandler{svc: svc, logger: logger}
}

// Register attaches all payment task handlers.
func (h *TaskHandler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypePaymentReconcile, h.HandleReconcile)
}

// HandleReconcile re-polls the session unless a newer one replaced it.
func (h *TaskHandler) HandleReconcile(ctx context.Context, t *asynq.Task) error {
	var payload reconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("reconcile payload: %w: %w", err, asynq.SkipRetry)
	}
	h.logger.Info().
		Str("provider", string(payload.Provider)).
		Str("payment_id", payload.PaymentID).
		Msg("payment_reconcile_started")
	return h.svc.Reconcile(ctx, payload.Provider, payload.PaymentID)
}
