package events

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists events to the payment_events table.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Save(ctx context.Context, e Event) error {
	const q = `
		INSERT INTO payment_events (id, kind, provider, payment_id, payload, occurred_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6)`
	if _, err := s.pool.Exec(ctx, q, e.ID, e.Kind, e.Provider, e.PaymentID, []byte(e.Payload), e.OccurredAt); err != nil {
		return fmt.Errorf("save event: %w", err)
	}
	return nil
}

// ListRecent returns the latest events for the admin activity view.
func (s *PGStore) ListRecent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	const q = `
		SELECT id, kind, COALESCE(provider, ''), COALESCE(payment_id, ''), payload, occurred_at
		FROM payment_events
		ORDER BY occurred_at DESC
		LIMIT $1`
	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Kind, &e.Provider, &e.PaymentID, &e.Payload, &e.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
