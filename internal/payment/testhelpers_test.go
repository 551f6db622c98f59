package payment

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/amoria-lab/backend-amoria/internal/lock"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// stubGateway scripts a sequence of status responses and records call counts.
type stubGateway struct {
	mu           sync.Mutex
	createResult CreateResult
	createErr    error
	createCalls  int
	lastCreate   CreateRequest
	statuses     []StatusResult
	statusErrs   []error
	statusCalls  int
}

func (g *stubGateway) CreatePayment(_ context.Context, req CreateRequest) (CreateResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	g.lastCreate = req
	return g.createResult, g.createErr
}

func (g *stubGateway) lastRequest() CreateRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastCreate
}

func (g *stubGateway) Status(context.Context, string) (StatusResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	idx := g.statusCalls
	g.statusCalls++
	var err error
	if idx < len(g.statusErrs) {
		err = g.statusErrs[idx]
	}
	if err != nil {
		return StatusResult{}, err
	}
	if idx < len(g.statuses) {
		return g.statuses[idx], nil
	}
	return StatusResult{Status: "pending"}, nil
}

func (g *stubGateway) calls() (create, status int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.createCalls, g.statusCalls
}

// stubConfig is a static ConfigSource.
type stubConfig struct {
	active Provider
	yoo    YooKassaConfig
	alfa   AlfabankConfig
}

func (c stubConfig) ActiveProvider(context.Context) (Provider, error) { return c.active, nil }
func (c stubConfig) YooKassa(context.Context) (YooKassaConfig, error) { return c.yoo, nil }
func (c stubConfig) Alfabank(context.Context) (AlfabankConfig, error) { return c.alfa, nil }

const testGrace = 5 * time.Second

func newTestPoller(t *testing.T, client *redis.Client) (*Poller, *SessionStore, *PhaseStore) {
	t.Helper()
	sessions := NewSessionStore(client, time.Hour)
	phases := NewPhaseStore(client, time.Hour)
	locker := lock.New(client, time.Minute)
	poller := NewPoller(phases, sessions, locker, nil, zerolog.Nop(), time.Millisecond, testGrace)
	return poller, sessions, phases
}

func testSession(provider Provider, paymentID string) Session {
	return Session{
		PaymentID: paymentID,
		Provider:  provider,
		Amount:    "1500",
		Email:     "client@example.com",
		CreatedAt: time.Now().UTC(),
	}
}
