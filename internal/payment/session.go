package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/amoria-lab/backend-amoria/internal/cache"
)

// Session is the persisted checkout state. One session per provider: starting
// a new checkout for a provider replaces the previous one.
type Session struct {
	PaymentID string    `json:"paymentId"`
	Provider  Provider  `json:"provider"`
	Amount    string    `json:"amount"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// SessionStore keeps sessions in Redis, keyed per provider with a reverse
// index by payment id.
type SessionStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSessionStore(rdb *redis.Client, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &SessionStore{rdb: rdb, ttl: ttl}
}

// Replace stores the session for its provider, removing any previous session
// first so exactly one session per provider ever exists.
func (s *SessionStore) Replace(ctx context.Context, sess Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	prev, err := s.Get(ctx, sess.Provider)
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return err
	}
	pipe := s.rdb.TxPipeline()
	if prev != nil && prev.PaymentID != sess.PaymentID {
		pipe.Del(ctx, cache.PaymentIndex(prev.PaymentID))
	}
	pipe.Set(ctx, cache.PaymentSession(string(sess.Provider)), data, s.ttl)
	pipe.Set(ctx, cache.PaymentIndex(sess.PaymentID), data, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

// Get returns the active session for a provider, or ErrSessionNotFound.
func (s *SessionStore) Get(ctx context.Context, provider Provider) (*Session, error) {
	return s.fetch(ctx, cache.PaymentSession(string(provider)))
}

// GetByPaymentID resolves a session through the reverse index.
func (s *SessionStore) GetByPaymentID(ctx context.Context, paymentID string) (*Session, error) {
	return s.fetch(ctx, cache.PaymentIndex(paymentID))
}

func (s *SessionStore) fetch(ctx context.Context, key string) (*Session, error) {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

// Clear removes the session immediately. Used on cancellation and widget
// failure.
func (s *SessionStore) Clear(ctx context.Context, sess Session) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, cache.PaymentSession(string(sess.Provider)))
	pipe.Del(ctx, cache.PaymentIndex(sess.PaymentID))
	_, err := pipe.Exec(ctx)
	return err
}

// ClearAfterGrace schedules removal after a short grace window so the page
// can still read the session while showing the success state.
func (s *SessionStore) ClearAfterGrace(ctx context.Context, sess Session, grace time.Duration) error {
	if grace <= 0 {
		return s.Clear(ctx, sess)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Expire(ctx, cache.PaymentSession(string(sess.Provider)), grace)
	pipe.Expire(ctx, cache.PaymentIndex(sess.PaymentID), grace)
	_, err := pipe.Exec(ctx)
	return err
}
