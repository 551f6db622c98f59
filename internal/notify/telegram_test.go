package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/amoria-lab/backend-amoria/internal/events"
	"github.com/amoria-lab/backend-amoria/internal/queue"
	"github.com/amoria-lab/backend-amoria/internal/resilience"
	"github.com/amoria-lab/backend-amoria/internal/settings"
)

type stubTelegramSource struct {
	conf settings.TelegramSettings
}

func (s stubTelegramSource) Telegram(context.Context) (settings.TelegramSettings, error) {
	return s.conf, nil
}

func telegramTestClient() resilience.HTTPClient {
	return resilience.HTTPClient{Client: &http.Client{Timeout: time.Second}, MaxAttempts: 1}
}

func TestTelegramSenderPostsMessage(t *testing.T) {
	var gotPath string
	var gotBody sendMessageBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	src := stubTelegramSource{conf: settings.TelegramSettings{Enabled: true, BotToken: "123:abc", ChatID: "-100"}}
	sender := NewTelegramSender(telegramTestClient(), srv.URL, src, zerolog.Nop())

	require.NoError(t, sender.Send(context.Background(), "✅ Payment received"))
	require.Equal(t, "/bot123:abc/sendMessage", gotPath)
	require.Equal(t, "-100", gotBody.ChatID)
	require.Equal(t, "✅ Payment received", gotBody.Text)
	require.Equal(t, "HTML", gotBody.ParseMode)
}

func TestTelegramSenderDisabledIsNoop(t *testing.T) {
	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))
	defer srv.Close()

	src := stubTelegramSource{conf: settings.TelegramSettings{Enabled: false, BotToken: "t", ChatID: "c"}}
	sender := NewTelegramSender(telegramTestClient(), srv.URL, src, zerolog.Nop())
	require.NoError(t, sender.Send(context.Background(), "ignored"))
	require.False(t, called)
}

func TestTelegramSenderReportsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	src := stubTelegramSource{conf: settings.TelegramSettings{Enabled: true, BotToken: "t", ChatID: "c"}}
	sender := NewTelegramSender(telegramTestClient(), srv.URL, src, zerolog.Nop())
	require.Error(t, sender.Send(context.Background(), "msg"))
}

func TestRenderEvent(t *testing.T) {
	payload := func(m map[string]string) json.RawMessage {
		raw, err := json.Marshal(m)
		require.NoError(t, err)
		return raw
	}

	text, ok := renderEvent(events.Event{
		Kind:      events.KindPaymentSucceeded,
		Provider:  "yookassa",
		PaymentID: "pay-1",
		Payload:   payload(map[string]string{"captured": "1500.00", "email": "u@e.com"}),
	})
	require.True(t, ok)
	require.Contains(t, text, "1500.00")
	require.Contains(t, text, "u@e.com")
	require.Contains(t, text, "yookassa")

	text, ok = renderEvent(events.Event{
		Kind:    events.KindContactSubmitted,
		Payload: payload(map[string]string{"name": "Anna", "email": "a@e.com", "message": "hi"}),
	})
	require.True(t, ok)
	require.Contains(t, text, "Anna")
	require.Contains(t, text, "hi")

	// Created events are stored but not announced.
	_, ok = renderEvent(events.Event{Kind: events.KindPaymentCreated})
	require.False(t, ok)
}

func TestQueueNotifierEnqueuesRenderedMessage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q := queue.New(client, "notify", zerolog.Nop())
	notifier := NewQueueNotifier(q)

	raw, err := json.Marshal(map[string]string{"amount": "1500", "email": "u@e.com"})
	require.NoError(t, err)
	err = notifier.Notify(context.Background(), events.Event{
		Kind:      events.KindPaymentFailed,
		Provider:  "yookassa",
		PaymentID: "pay-9",
		Payload:   raw,
	})
	require.NoError(t, err)

	depth, err := client.ZCard(context.Background(), "amoria:queue:notify").Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), depth)

	// Unrenderable kinds enqueue nothing.
	require.NoError(t, notifier.Notify(context.Background(), events.Event{Kind: events.KindPaymentCreated}))
	depth, err = client.ZCard(context.Background(), "amoria:queue:notify").Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), depth)
}
