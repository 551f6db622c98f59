// Package notify delivers operator notifications to Telegram. Delivery runs
// through the job queue so a Bot API outage never slows down checkout.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/amoria-lab/backend-amoria/internal/obs"
	"github.com/amoria-lab/backend-amoria/internal/resilience"
	"github.com/amoria-lab/backend-amoria/internal/settings"
)

// TelegramSource resolves the current bot credentials. Implemented by the
// settings service.
type TelegramSource interface {
	Telegram(ctx context.Context) (settings.TelegramSettings, error)
}

// TelegramSender posts messages to the Bot API.
type TelegramSender struct {
	http    resilience.HTTPClient
	apiBase string
	cfg     TelegramSource
	logger  zerolog.Logger
}

func NewTelegramSender(client resilience.HTTPClient, apiBase string, cfg TelegramSource, logger zerolog.Logger) *TelegramSender {
	if strings.TrimSpace(apiBase) == "" {
		apiBase = "https://api.telegram.org"
	}
	return &TelegramSender{
		http:    client,
		apiBase: strings.TrimRight(apiBase, "/"),
		cfg:     cfg,
		logger:  logger,
	}
}

type sendMessageBody struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// Send delivers one message. Disabled integration is a silent no-op.
func (s *TelegramSender) Send(ctx context.Context, text string) error {
	conf, err := s.cfg.Telegram(ctx)
	if err != nil {
		return fmt.Errorf("telegram settings: %w", err)
	}
	if !conf.Enabled || conf.BotToken == "" || conf.ChatID == "" {
		return nil
	}
	body, err := json.Marshal(sendMessageBody{ChatID: conf.ChatID, Text: text, ParseMode: "HTML"})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", s.apiBase, conf.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(ctx, req)
	if err != nil {
		s.count("error")
		return fmt.Errorf("telegram send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		s.count("error")
		return fmt.Errorf("telegram send: unexpected status %d", resp.StatusCode)
	}
	s.count("ok")
	return nil
}

func (s *TelegramSender) count(result string) {
	if obs.TelegramDeliveriesTotal != nil {
		obs.TelegramDeliveriesTotal.WithLabelValues(result).Inc()
	}
}
