package store

import (
	"context"
	"fmt"

	"episode_pipeline/internal/model"
)

// Heartbeat upserts a worker's liveness row. Stage runners call this before
// a claim attempt whenever their heartbeat interval has elapsed since the
// last call. ReapOrphans does not read these rows: it judges a job stale by
// the job's own updated_at.
func (s *Store) Heartbeat(ctx context.Context, workerID string, workerType model.WorkerType) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workers (worker_id, worker_type, started_at, last_heartbeat)
		VALUES (?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(worker_id) DO UPDATE SET last_heartbeat = CURRENT_TIMESTAMP
	`, workerID, workerType)
	if err != nil {
		return fmt.Errorf("heartbeat(worker_id=%s): %w", workerID, err)
	}
	return nil
}

// ListWorkers returns every known worker heartbeat row, used by the operator
// HTTP API's stats endpoint.
func (s *Store) ListWorkers(ctx context.Context) ([]model.Worker, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT worker_id, worker_type, started_at, last_heartbeat FROM workers`)
	if err != nil {
		return nil, fmt.Errorf("list_workers: %w", err)
	}
	defer rows.Close()

	var workers []model.Worker
	for rows.Next() {
		var w model.Worker
		if err := rows.Scan(&w.WorkerID, &w.WorkerType, &w.StartedAt, &w.LastHeartbeat); err != nil {
			return nil, fmt.Errorf("list_workers: %w", err)
		}
		workers = append(workers, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list_workers: %w", err)
	}
	return workers, nil
}

// RemoveWorker deletes a worker's heartbeat row, called on graceful shutdown
// so a stopped worker doesn't linger in stats until it goes stale.
func (s *Store) RemoveWorker(ctx context.Context, workerID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workers WHERE worker_id = ?`, workerID)
	if err != nil {
		return fmt.Errorf("remove_worker(worker_id=%s): %w", workerID, err)
	}
	return nil
}

// JobStats summarizes job counts per stage, used by the stats endpoint.
func (s *Store) JobStats(ctx context.Context) (map[model.Stage]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT stage, COUNT(*) FROM jobs GROUP BY stage`)
	if err != nil {
		return nil, fmt.Errorf("job_stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[model.Stage]int)
	for rows.Next() {
		var stage model.Stage
		var count int
		if err := rows.Scan(&stage, &count); err != nil {
			return nil, fmt.Errorf("job_stats: %w", err)
		}
		stats[stage] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("job_stats: %w", err)
	}
	return stats, nil
}
