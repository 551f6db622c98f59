package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/amoria-lab/backend-amoria/internal/events"
	"github.com/amoria-lab/backend-amoria/internal/queue"
)

// JobTelegramSend is the queue job kind carrying one rendered message.
const JobTelegramSend = "telegram:send"

type telegramJobPayload struct {
	Text string `json:"text"`
}

// QueueNotifier implements events.Notifier by translating events into queued
// Telegram messages.
type QueueNotifier struct {
	q *queue.Queue
}

func NewQueueNotifier(q *queue.Queue) *QueueNotifier {
	return &QueueNotifier{q: q}
}

func (n *QueueNotifier) Notify(ctx context.Context, e events.Event) error {
	text, ok := renderEvent(e)
	if !ok {
		return nil
	}
	_, err := n.q.Enqueue(ctx, JobTelegramSend, telegramJobPayload{Text: text}, 0)
	return err
}

// RegisterQueueHandler wires the send job to the sender. Called by the worker.
func RegisterQueueHandler(q *queue.Queue, sender *TelegramSender) {
	q.Register(JobTelegramSend, queue.HandlerFunc(func(ctx context.Context, job queue.Job) error {
		var payload telegramJobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("telegram job payload: %w", err)
		}
		return sender.Send(ctx, payload.Text)
	}))
}

func renderEvent(e events.Event) (string, bool) {
	var payload map[string]string
	_ = json.Unmarshal(e.Payload, &payload)
	switch e.Kind {
	case events.KindPaymentSucceeded:
		amount := payload["captured"]
		if amount == "" {
			amount = payload["amount"]
		}
		return fmt.Sprintf("✅ Payment received: %s ₽ from %s (%s, %s)",
			amount, payload["email"], e.Provider, e.PaymentID), true
	case events.KindPaymentFailed:
		return fmt.Sprintf("❌ Payment failed: %s ₽ from %s (%s, %s)",
			payload["amount"], payload["email"], e.Provider, e.PaymentID), true
	case events.KindContactSubmitted:
		return fmt.Sprintf("✉️ New contact request from %s (%s):\n%s",
			payload["name"], payload["email"], payload["message"]), true
	default:
		return "", false
	}
}
