package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Job is a queued unit of work. Telegram notifications are enqueued here so a
// slow or unavailable Bot API never blocks the payment flow.
type Job struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	Deliveries int             `json:"deliveries"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Handler processes jobs of one kind. Returning an error requeues the job
// with backoff until the delivery budget is exhausted.
type Handler interface {
	Handle(ctx context.Context, job Job) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, job Job) error

func (f HandlerFunc) Handle(ctx context.Context, job Job) error { return f(ctx, job) }

// DLQStore persists jobs that exhausted their delivery budget.
type DLQStore interface {
	SaveDead(ctx context.Context, job Job, reason string) error
}

// Queue is a delayed job queue backed by a Redis sorted set scored by the
// job's ready-at time.
type Queue struct {
	rdb           *redis.Client
	name          string
	maxDeliveries int
	pollInterval  time.Duration
	dlq           DLQStore
	logger        zerolog.Logger
	handlers      map[string]Handler
}

type Option func(*Queue)

func WithDLQ(store DLQStore) Option {
	return func(q *Queue) { q.dlq = store }
}

func WithMaxDeliveries(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxDeliveries = n
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.pollInterval = d
		}
	}
}

func New(rdb *redis.Client, name string, logger zerolog.Logger, opts ...Option) *Queue {
	q := &Queue{
		rdb:           rdb,
		name:          name,
		maxDeliveries: 5,
		pollInterval:  time.Second,
		logger:        logger,
		handlers:      map[string]Handler{},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Register binds a handler to a job kind. Must be called before Run.
func (q *Queue) Register(kind string, h Handler) {
	q.handlers[kind] = h
}

// Enqueue schedules a job to become ready after the given delay.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload any, delay time.Duration) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	job := Job{
		ID:         uuid.NewString(),
		Kind:       kind,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", err
	}
	readyAt := float64(time.Now().Add(delay).UnixMilli())
	if err := q.rdb.ZAdd(ctx, q.key(), redis.Z{Score: readyAt, Member: data}).Err(); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", kind, err)
	}
	QueueDepth.WithLabelValues(q.name).Inc()
	return job.ID, nil
}

// Run consumes ready jobs until the context is cancelled.
func (q *Queue) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := q.drainReady(ctx); err != nil && !errors.Is(err, context.Canceled) {
				q.logger.Error().Err(err).Str("queue", q.name).Msg("queue_drain_failed")
			}
		}
	}
}

func (q *Queue) drainReady(ctx context.Context) error {
	for {
		member, ok, err := q.popReady(ctx)
		if err != nil || !ok {
			return err
		}
		QueueDepth.WithLabelValues(q.name).Dec()
		var job Job
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			q.logger.Error().Err(err).Str("queue", q.name).Msg("queue_job_corrupt")
			continue
		}
		q.process(ctx, job)
	}
}

// popReady atomically removes the earliest ready job.
func (q *Queue) popReady(ctx context.Context) (string, bool, error) {
	now := float64(time.Now().UnixMilli())
	res, err := q.rdb.ZPopMin(ctx, q.key(), 1).Result()
	if err != nil {
		return "", false, err
	}
	if len(res) == 0 {
		return "", false, nil
	}
	if res[0].Score > now {
		// not ready yet, put it back
		if err := q.rdb.ZAdd(ctx, q.key(), res[0]).Err(); err != nil {
			return "", false, err
		}
		return "", false, nil
	}
	member, _ := res[0].Member.(string)
	return member, true, nil
}

func (q *Queue) process(ctx context.Context, job Job) {
	handler, ok := q.handlers[job.Kind]
	if !ok {
		q.toDLQ(ctx, job, "no handler registered")
		return
	}
	job.Deliveries++
	start := time.Now()
	err := handler.Handle(ctx, job)
	JobDuration.WithLabelValues(q.name, job.Kind).Observe(float64(time.Since(start).Milliseconds()))
	if err == nil {
		JobsProcessed.WithLabelValues(q.name, job.Kind, "ok").Inc()
		return
	}
	JobsProcessed.WithLabelValues(q.name, job.Kind, "error").Inc()
	q.logger.Warn().Err(err).
		Str("queue", q.name).
		Str("job_id", job.ID).
		Str("kind", job.Kind).
		Int("deliveries", job.Deliveries).
		Msg("queue_job_failed")
	if job.Deliveries >= q.maxDeliveries {
		q.toDLQ(ctx, job, err.Error())
		return
	}
	q.requeue(ctx, job)
}

func (q *Queue) requeue(ctx context.Context, job Job) {
	data, err := json.Marshal(job)
	if err != nil {
		q.toDLQ(ctx, job, "requeue marshal: "+err.Error())
		return
	}
	backoff := time.Duration(job.Deliveries) * 5 * time.Second
	readyAt := float64(time.Now().Add(backoff).UnixMilli())
	if err := q.rdb.ZAdd(ctx, q.key(), redis.Z{Score: readyAt, Member: data}).Err(); err != nil {
		q.toDLQ(ctx, job, "requeue: "+err.Error())
		return
	}
	QueueDepth.WithLabelValues(q.name).Inc()
}

func (q *Queue) toDLQ(ctx context.Context, job Job, reason string) {
	JobsDead.WithLabelValues(q.name, job.Kind).Inc()
	q.logger.Error().
		Str("queue", q.name).
		Str("job_id", job.ID).
		Str("kind", job.Kind).
		Str("reason", reason).
		Msg("queue_job_dead")
	if q.dlq == nil {
		return
	}
	if err := q.dlq.SaveDead(ctx, job, reason); err != nil {
		q.logger.Error().Err(err).Str("job_id", job.ID).Msg("queue_dlq_save_failed")
	}
}

func (q *Queue) key() string {
	return "amoria:queue:" + q.name
}
