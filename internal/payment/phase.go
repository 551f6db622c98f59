package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/amoria-lab/backend-amoria/internal/cache"
)

// Phase is the checkout state machine: idle -> checking -> ok | fail.
// Terminal phases are final per payment id; nothing moves a payment back to
// checking.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseChecking Phase = "checking"
	PhaseOK       Phase = "ok"
	PhaseFail     Phase = "fail"
)

// IsTerminal reports whether the phase ends the checkout.
func (p Phase) IsTerminal() bool {
	return p == PhaseOK || p == PhaseFail
}

// setPhaseScript enforces monotonicity atomically: once a payment reaches a
// terminal phase, later writes are ignored and the stored phase is returned.
var setPhaseScript = redis.NewScript(`
local cur = redis.call("HGET", KEYS[1], "phase")
if cur == "ok" or cur == "fail" then
	return cur
end
redis.call("HSET", KEYS[1], "phase", ARGV[1])
if ARGV[2] ~= "" then
	redis.call("HSET", KEYS[1], "amount", ARGV[2])
end
redis.call("EXPIRE", KEYS[1], ARGV[3])
return ARGV[1]
`)

// PhaseStore tracks the phase and captured amount per payment id.
type PhaseStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewPhaseStore(rdb *redis.Client, ttl time.Duration) *PhaseStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &PhaseStore{rdb: rdb, ttl: ttl}
}

// Set records the phase, capturing the amount when provided. The returned
// phase is the effective one after the write: it differs from the argument
// when the payment had already been finalized.
func (s *PhaseStore) Set(ctx context.Context, paymentID string, phase Phase, amount string) (Phase, error) {
	res, err := setPhaseScript.Run(ctx, s.rdb,
		[]string{cache.PaymentPhase(paymentID)},
		string(phase), amount, int(s.ttl.Seconds()),
	).Text()
	if err != nil {
		return "", fmt.Errorf("set phase: %w", err)
	}
	return Phase(res), nil
}

// Get returns the current phase and captured amount. Unknown payments are
// idle.
func (s *PhaseStore) Get(ctx context.Context, paymentID string) (Phase, string, error) {
	vals, err := s.rdb.HGetAll(ctx, cache.PaymentPhase(paymentID)).Result()
	if err != nil {
		return "", "", fmt.Errorf("get phase: %w", err)
	}
	phase, ok := vals["phase"]
	if !ok {
		return PhaseIdle, "", nil
	}
	return Phase(phase), vals["amount"], nil
}
