package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/amoria-lab/backend-amoria/internal/cache"
	"github.com/amoria-lab/backend-amoria/internal/payment"
)

// cacheTTL bounds how stale a checkout can see admin changes.
const cacheTTL = 30 * time.Second

// YooKassaSettings is the admin-editable config bag for the hosted widget.
type YooKassaSettings struct {
	ShopID        string `json:"shopId" validate:"required"`
	SecretKey     string `json:"secretKey" validate:"required"`
	PaymentMethod string `json:"paymentMethod" validate:"omitempty,oneof=bank_card sbp yoo_money"`
	WebhookSecret string `json:"webhookSecret"`
}

// AlfabankSettings configures the script pay button.
type AlfabankSettings struct {
	Token         string `json:"token" validate:"required"`
	Environment   string `json:"environment" validate:"required,oneof=test prod"`
	Stages        int    `json:"stages" validate:"min=1,max=3"`
	Language      string `json:"language" validate:"omitempty,oneof=ru en"`
	ReturnURL     string `json:"returnUrl" validate:"omitempty,url"`
	FailURL       string `json:"failUrl" validate:"omitempty,url"`
	AmountInMinor bool   `json:"amountInMinor"`
}

// TelegramSettings configures notification delivery.
type TelegramSettings struct {
	BotToken string `json:"botToken" validate:"required_if=Enabled true"`
	ChatID   string `json:"chatId" validate:"required_if=Enabled true"`
	Enabled  bool   `json:"enabled"`
}

type snapshot struct {
	Active   payment.Provider        `json:"active"`
	YooKassa payment.YooKassaConfig  `json:"yookassa"`
	Alfabank payment.AlfabankConfig  `json:"alfabank"`
}

// Service layers validation and a short-lived Redis cache over the store. It
// implements payment.ConfigSource so checkout always sees current settings
// without a per-request database round trip.
type Service struct {
	store    *Store
	rdb      *redis.Client
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewService(store *Store, rdb *redis.Client, logger zerolog.Logger) *Service {
	return &Service{
		store:    store,
		rdb:      rdb,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// ActiveProvider implements payment.ConfigSource.
func (s *Service) ActiveProvider(ctx context.Context) (payment.Provider, error) {
	snap, err := s.loadSnapshot(ctx)
	if err != nil {
		return "", err
	}
	return snap.Active, nil
}

// YooKassa implements payment.ConfigSource.
func (s *Service) YooKassa(ctx context.Context) (payment.YooKassaConfig, error) {
	snap, err := s.loadSnapshot(ctx)
	if err != nil {
		return payment.YooKassaConfig{}, err
	}
	if snap.YooKassa.ShopID == "" {
		return payment.YooKassaConfig{}, fmt.Errorf("settings: yookassa is not configured")
	}
	return snap.YooKassa, nil
}

// Alfabank implements payment.ConfigSource.
func (s *Service) Alfabank(ctx context.Context) (payment.AlfabankConfig, error) {
	snap, err := s.loadSnapshot(ctx)
	if err != nil {
		return payment.AlfabankConfig{}, err
	}
	if snap.Alfabank.Token == "" {
		return payment.AlfabankConfig{}, fmt.Errorf("settings: alfabank is not configured")
	}
	return snap.Alfabank, nil
}

// Telegram returns the notification settings, cached like the provider
// snapshot.
func (s *Service) Telegram(ctx context.Context) (TelegramSettings, error) {
	key := cache.TelegramSettings()
	if data, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
		var tg TelegramSettings
		if err := json.Unmarshal(data, &tg); err == nil {
			return tg, nil
		}
	}
	row, err := s.store.GetTelegram(ctx)
	if errors.Is(err, ErrNotFound) {
		return TelegramSettings{}, nil
	}
	if err != nil {
		return TelegramSettings{}, err
	}
	tg := TelegramSettings{BotToken: row.BotToken, ChatID: row.ChatID, Enabled: row.Enabled}
	s.cacheSet(ctx, key, tg)
	return tg, nil
}

// UpdateProvider validates and stores a provider config bag, then drops the
// cache so checkout picks the change up.
func (s *Service) UpdateProvider(ctx context.Context, provider payment.Provider, raw json.RawMessage) error {
	normalized, err := s.validateProviderConfig(provider, raw)
	if err != nil {
		return err
	}
	if err := s.store.UpsertProvider(ctx, string(provider), normalized); err != nil {
		return err
	}
	s.invalidate(ctx, cache.ProviderSettings())
	return nil
}

// Activate switches the active provider.
func (s *Service) Activate(ctx context.Context, provider payment.Provider) error {
	if err := s.store.Activate(ctx, string(provider)); err != nil {
		return err
	}
	s.invalidate(ctx, cache.ProviderSettings())
	return nil
}

// UpdateTelegram validates and stores the Telegram settings.
func (s *Service) UpdateTelegram(ctx context.Context, tg TelegramSettings) error {
	if err := s.validate.Struct(tg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := s.store.UpsertTelegram(ctx, TelegramRow{BotToken: tg.BotToken, ChatID: tg.ChatID, Enabled: tg.Enabled}); err != nil {
		return err
	}
	s.invalidate(ctx, cache.TelegramSettings())
	return nil
}

// ListProviders exposes the raw rows for the admin panel.
func (s *Service) ListProviders(ctx context.Context) ([]ProviderRow, error) {
	return s.store.ListProviders(ctx)
}

// GetProvider exposes one row for the admin panel.
func (s *Service) GetProvider(ctx context.Context, provider payment.Provider) (ProviderRow, error) {
	return s.store.GetProvider(ctx, string(provider))
}

// GetTelegramRow exposes the Telegram row for the admin panel.
func (s *Service) GetTelegramRow(ctx context.Context) (TelegramRow, error) {
	return s.store.GetTelegram(ctx)
}

// ErrInvalidConfig wraps validation failures of a config bag.
var ErrInvalidConfig = errors.New("settings: invalid configuration")

func (s *Service) validateProviderConfig(provider payment.Provider, raw json.RawMessage) (json.RawMessage, error) {
	dec := func(v any) error {
		if err := json.Unmarshal(raw, v); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		if err := s.validate.Struct(v); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		return nil
	}
	switch provider {
	case payment.ProviderYooKassa:
		var cfg YooKassaSettings
		if err := dec(&cfg); err != nil {
			return nil, err
		}
		return json.Marshal(cfg)
	case payment.ProviderAlfabank:
		var cfg AlfabankSettings
		if err := dec(&cfg); err != nil {
			return nil, err
		}
		return json.Marshal(cfg)
	case payment.ProviderRobokassa, payment.ProviderCloudPayments:
		// Stored as-is until the integrations land.
		if !json.Valid(raw) {
			return nil, ErrInvalidConfig
		}
		return raw, nil
	default:
		return nil, payment.ErrUnknownProvider
	}
}

func (s *Service) loadSnapshot(ctx context.Context) (snapshot, error) {
	key := cache.ProviderSettings()
	if data, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
		var snap snapshot
		if err := json.Unmarshal(data, &snap); err == nil {
			return snap, nil
		}
	}

	snap := snapshot{Active: payment.ProviderYooKassa}
	active, err := s.store.GetActive(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
		// No provider activated yet; keep the default.
	case err != nil:
		return snapshot{}, err
	default:
		snap.Active = payment.Provider(active.Provider)
	}

	if row, err := s.store.GetProvider(ctx, string(payment.ProviderYooKassa)); err == nil {
		var cfg YooKassaSettings
		if err := json.Unmarshal(row.Config, &cfg); err == nil {
			snap.YooKassa = payment.YooKassaConfig{
				ShopID:        cfg.ShopID,
				SecretKey:     cfg.SecretKey,
				PaymentMethod: cfg.PaymentMethod,
				WebhookSecret: cfg.WebhookSecret,
			}
		}
	} else if !errors.Is(err, ErrNotFound) {
		return snapshot{}, err
	}

	if row, err := s.store.GetProvider(ctx, string(payment.ProviderAlfabank)); err == nil {
		var cfg AlfabankSettings
		if err := json.Unmarshal(row.Config, &cfg); err == nil {
			snap.Alfabank = payment.AlfabankConfig{
				Token:         cfg.Token,
				Environment:   cfg.Environment,
				Stages:        cfg.Stages,
				Language:      cfg.Language,
				ReturnURL:     cfg.ReturnURL,
				FailURL:       cfg.FailURL,
				AmountInMinor: cfg.AmountInMinor,
			}
		}
	} else if !errors.Is(err, ErrNotFound) {
		return snapshot{}, err
	}

	s.cacheSet(ctx, key, snap)
	return snap, nil
}

func (s *Service) cacheSet(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, key, data, cacheTTL).Err(); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("settings_cache_set_failed")
	}
}

func (s *Service) invalidate(ctx context.Context, key string) {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("settings_cache_invalidate_failed")
	}
}
