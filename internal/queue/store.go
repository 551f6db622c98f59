package queue

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGDLQStore persists dead jobs to Postgres for operator inspection.
type PGDLQStore struct {
	pool *pgxpool.Pool
}

func NewPGDLQStore(pool *pgxpool.Pool) *PGDLQStore {
	return &PGDLQStore{pool: pool}
}

func (s *PGDLQStore) SaveDead(ctx context.Context, job Job, reason string) error {
	const q = `
		INSERT INTO queue_dlq (job_id, kind, payload, deliveries, reason, enqueued_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, q, job.ID, job.Kind, []byte(job.Payload), job.Deliveries, reason, job.EnqueuedAt); err != nil {
		return fmt.Errorf("save dead job: %w", err)
	}
	return nil
}

// DeadJob is a row in the dead letter table.
type DeadJob struct {
	JobID      string `json:"jobId"`
	Kind       string `json:"kind"`
	Payload    []byte `json:"payload"`
	Deliveries int    `json:"deliveries"`
	Reason     string `json:"reason"`
}

// ListDead returns the most recent dead jobs, newest first.
func (s *PGDLQStore) ListDead(ctx context.Context, limit int) ([]DeadJob, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
		SELECT job_id, kind, payload, deliveries, reason
		FROM queue_dlq
		ORDER BY created_at DESC
		LIMIT $1`
	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead jobs: %w", err)
	}
	defer rows.Close()
	var out []DeadJob
	for rows.Next() {
		var d DeadJob
		if err := rows.Scan(&d.JobID, &d.Kind, &d.Payload, &d.Deliveries, &d.Reason); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
