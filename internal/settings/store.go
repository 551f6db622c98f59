// Package settings holds the admin-editable configuration: payment provider
// credentials, the active provider switch and the Telegram integration.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a settings row does not exist yet.
var ErrNotFound = errors.New("settings: not found")

// ProviderRow is one provider's stored configuration.
type ProviderRow struct {
	Provider  string          `json:"provider"`
	Active    bool            `json:"active"`
	Config    json.RawMessage `json:"config"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// TelegramRow is the single Telegram integration row.
type TelegramRow struct {
	BotToken  string    `json:"botToken"`
	ChatID    string    `json:"chatId"`
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists settings in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) GetProvider(ctx context.Context, provider string) (ProviderRow, error) {
	const q = `
		SELECT provider, active, config, updated_at
		FROM provider_settings
		WHERE provider = $1`
	var row ProviderRow
	err := s.pool.QueryRow(ctx, q, provider).Scan(&row.Provider, &row.Active, &row.Config, &row.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ProviderRow{}, ErrNotFound
	}
	if err != nil {
		return ProviderRow{}, fmt.Errorf("get provider settings: %w", err)
	}
	return row, nil
}

func (s *Store) ListProviders(ctx context.Context) ([]ProviderRow, error) {
	const q = `
		SELECT provider, active, config, updated_at
		FROM provider_settings
		ORDER BY provider`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list provider settings: %w", err)
	}
	defer rows.Close()
	var out []ProviderRow
	for rows.Next() {
		var row ProviderRow
		if err := rows.Scan(&row.Provider, &row.Active, &row.Config, &row.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// GetActive returns the single active provider row.
func (s *Store) GetActive(ctx context.Context) (ProviderRow, error) {
	const q = `
		SELECT provider, active, config, updated_at
		FROM provider_settings
		WHERE active
		LIMIT 1`
	var row ProviderRow
	err := s.pool.QueryRow(ctx, q).Scan(&row.Provider, &row.Active, &row.Config, &row.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ProviderRow{}, ErrNotFound
	}
	if err != nil {
		return ProviderRow{}, fmt.Errorf("get active provider: %w", err)
	}
	return row, nil
}

func (s *Store) UpsertProvider(ctx context.Context, provider string, config json.RawMessage) error {
	const q = `
		INSERT INTO provider_settings (provider, active, config, updated_at)
		VALUES ($1, false, $2, now())
		ON CONFLICT (provider)
		DO UPDATE SET config = EXCLUDED.config, updated_at = now()`
	if _, err := s.pool.Exec(ctx, q, provider, []byte(config)); err != nil {
		return fmt.Errorf("upsert provider settings: %w", err)
	}
	return nil
}

// Activate makes the given provider the only active one.
func (s *Store) Activate(ctx context.Context, provider string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("activate provider: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `UPDATE provider_settings SET active = false WHERE active`); err != nil {
		return fmt.Errorf("deactivate providers: %w", err)
	}
	tag, err := tx.Exec(ctx, `UPDATE provider_settings SET active = true, updated_at = now() WHERE provider = $1`, provider)
	if err != nil {
		return fmt.Errorf("activate provider: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

func (s *Store) GetTelegram(ctx context.Context) (TelegramRow, error) {
	const q = `
		SELECT bot_token, chat_id, enabled, updated_at
		FROM telegram_settings
		WHERE id = 1`
	var row TelegramRow
	err := s.pool.QueryRow(ctx, q).Scan(&row.BotToken, &row.ChatID, &row.Enabled, &row.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return TelegramRow{}, ErrNotFound
	}
	if err != nil {
		return TelegramRow{}, fmt.Errorf("get telegram settings: %w", err)
	}
	return row, nil
}

func (s *Store) UpsertTelegram(ctx context.Context, row TelegramRow) error {
	const q = `
		INSERT INTO telegram_settings (id, bot_token, chat_id, enabled, updated_at)
		VALUES (1, $1, $2, $3, now())
		ON CONFLICT (id)
		DO UPDATE SET bot_token = EXCLUDED.bot_token, chat_id = EXCLUDED.chat_id,
		              enabled = EXCLUDED.enabled, updated_at = now()`
	if _, err := s.pool.Exec(ctx, q, row.BotToken, row.ChatID, row.Enabled); err != nil {
		return fmt.Errorf("upsert telegram settings: %w", err)
	}
	return nil
}
