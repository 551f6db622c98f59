// Package events records payment lifecycle events and fans them out to
// notifiers. The bus decouples the payment service from Telegram delivery:
// publishing never blocks on the Bot API.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event kinds emitted by the payment and contact flows.
const (
	KindPaymentCreated   = "payment.created"
	KindPaymentSucceeded = "payment.succeeded"
	KindPaymentFailed    = "payment.failed"
	KindContactSubmitted = "contact.submitted"
)

// Event is an immutable record of something that happened.
type Event struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Provider   string          `json:"provider,omitempty"`
	PaymentID  string          `json:"paymentId,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// Store persists events.
type Store interface {
	Save(ctx context.Context, e Event) error
}

// Notifier receives published events. Implementations must not block for
// long; slow delivery belongs in the queue.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// Bus stores each event then dispatches it to all notifiers. Notifier errors
// are logged, never propagated: an event that reached the store is considered
// published.
type Bus struct {
	store     Store
	notifiers []Notifier
	logger    zerolog.Logger
}

func NewBus(store Store, logger zerolog.Logger, notifiers ...Notifier) *Bus {
	return &Bus{store: store, notifiers: notifiers, logger: logger}
}

// Publish records the event and fans it out.
func (b *Bus) Publish(ctx context.Context, kind, provider, paymentID string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	e := Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		Provider:   provider,
		PaymentID:  paymentID,
		Payload:    raw,
		OccurredAt: time.Now().UTC(),
	}
	if b.store != nil {
		if err := b.store.Save(ctx, e); err != nil {
			return err
		}
	}
	for _, n := range b.notifiers {
		if err := n.Notify(ctx, e); err != nil {
			b.logger.Warn().Err(err).
				Str("event_id", e.ID).
				Str("kind", e.Kind).
				Msg("event_notify_failed")
		}
	}
	return nil
}
