package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/amoria-lab/backend-amoria/internal/cache"
	"github.com/amoria-lab/backend-amoria/internal/events"
	"github.com/amoria-lab/backend-amoria/internal/lock"
	"github.com/amoria-lab/backend-amoria/internal/obs"
)

// Poll triggers, used for telemetry and budget selection.
const (
	TriggerWidget   = "widget"
	TriggerRecovery = "recovery"
)

// Poller drives the status loop for one payment: one gateway probe per
// attempt, a fixed delay between attempts, a hard attempts budget. Transport
// errors consume an attempt just like a pending status does, so a dead
// gateway cannot spin the loop forever.
type Poller struct {
	phases   *PhaseStore
	sessions *SessionStore
	locker   *lock.Locker
	bus      *events.Bus
	logger   zerolog.Logger
	delay    time.Duration
	grace    time.Duration
}

func NewPoller(
	phases *PhaseStore,
	sessions *SessionStore,
	locker *lock.Locker,
	bus *events.Bus,
	logger zerolog.Logger,
	delay, grace time.Duration,
) *Poller {
	if delay <= 0 {
		delay = 1500 * time.Millisecond
	}
	return &Poller{
		phases:   phases,
		sessions: sessions,
		locker:   locker,
		bus:      bus,
		logger:   logger,
		delay:    delay,
		grace:    grace,
	}
}

// Result is the poll outcome.
type Result struct {
	Phase  Phase  `json:"phase"`
	Amount string `json:"amount,omitempty"`
}

// Run polls the gateway until a terminal status or until the budget is spent.
// A per-payment lock guarantees that a recovery poll and a widget poll never
// run concurrently for the same payment. Context cancellation is honored at
// every wait; a cancelled poll leaves the phase at checking.
func (p *Poller) Run(ctx context.Context, gw Gateway, sess Session, budget int, trigger string) (Result, error) {
	if sess.PaymentID == "" {
		return Result{}, fmt.Errorf("payment: poll requires a payment id")
	}
	if budget < 1 {
		return Result{}, fmt.Errorf("payment: poll budget must be positive, got %d", budget)
	}

	release, err := p.locker.TryLock(ctx, cache.PollLock(sess.PaymentID))
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return Result{}, ErrPollInFlight
		}
		return Result{}, err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = release(releaseCtx)
	}()

	// A webhook or a concurrent poll may already have finalized this payment.
	if phase, amount, err := p.phases.Get(ctx, sess.PaymentID); err == nil && phase.IsTerminal() {
		return Result{Phase: phase, Amount: amount}, nil
	}
	if _, err := p.phases.Set(ctx, sess.PaymentID, PhaseChecking, ""); err != nil {
		return Result{}, err
	}

	for attempt := 1; attempt <= budget; attempt++ {
		status, err := gw.Status(ctx, sess.PaymentID)
		if err != nil {
			if ctx.Err() != nil {
				return Result{Phase: PhaseChecking}, ctx.Err()
			}
			p.logger.Warn().Err(err).
				Str("payment_id", sess.PaymentID).
				Str("provider", string(sess.Provider)).
				Int("attempt", attempt).
				Msg("payment_status_probe_failed")
		} else if phase, terminal := status.Terminal(); terminal {
			p.observeAttempts(trigger, phase, attempt)
			return p.finalize(ctx, sess, phase, status.Amount)
		}
		if attempt == budget {
			break
		}
		timer := time.NewTimer(p.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Result{Phase: PhaseChecking}, ctx.Err()
		case <-timer.C:
		}
	}

	p.observeAttempts(trigger, PhaseFail, budget)
	return p.finalize(ctx, sess, PhaseFail, "")
}

// Finalize records a terminal phase reached outside the poll loop, e.g. from
// a single status probe, a widget failure event or a gateway webhook.
func (p *Poller) Finalize(ctx context.Context, sess Session, phase Phase, amount string) (Result, error) {
	return p.finalize(ctx, sess, phase, amount)
}

func (p *Poller) finalize(ctx context.Context, sess Session, phase Phase, amount string) (Result, error) {
	effective, err := p.phases.Set(ctx, sess.PaymentID, phase, amount)
	if err != nil {
		return Result{}, err
	}
	if effective != phase {
		// Someone else finalized first; keep their verdict.
		_, storedAmount, _ := p.phases.Get(ctx, sess.PaymentID)
		return Result{Phase: effective, Amount: storedAmount}, nil
	}
	switch phase {
	case PhaseOK:
		if err := p.sessions.ClearAfterGrace(ctx, sess, p.grace); err != nil {
			p.logger.Error().Err(err).Str("payment_id", sess.PaymentID).Msg("session_grace_clear_failed")
		}
		p.publish(ctx, events.KindPaymentSucceeded, sess, amount)
	case PhaseFail:
		if err := p.sessions.Clear(ctx, sess); err != nil {
			p.logger.Error().Err(err).Str("payment_id", sess.PaymentID).Msg("session_clear_failed")
		}
		p.publish(ctx, events.KindPaymentFailed, sess, amount)
	}
	return Result{Phase: phase, Amount: amount}, nil
}

func (p *Poller) publish(ctx context.Context, kind string, sess Session, amount string) {
	if p.bus == nil {
		return
	}
	payload := map[string]string{
		"email":  sess.Email,
		"amount": sess.Amount,
	}
	if amount != "" {
		payload["captured"] = amount
	}
	if err := p.bus.Publish(ctx, kind, string(sess.Provider), sess.PaymentID, payload); err != nil {
		p.logger.Error().Err(err).Str("payment_id", sess.PaymentID).Msg("payment_event_publish_failed")
	}
}

func (p *Poller) observeAttempts(trigger string, phase Phase, attempts int) {
	if obs.PaymentPollTotal != nil {
		obs.PaymentPollTotal.WithLabelValues(trigger, string(phase)).Inc()
	}
	if obs.PaymentPollAttempts != nil {
		obs.PaymentPollAttempts.WithLabelValues(trigger).Observe(float64(attempts))
	}
}
