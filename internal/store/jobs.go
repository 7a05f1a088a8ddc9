package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"episode_pipeline/internal/model"
)

// EnqueueJob inserts a new job for (anime_id, episode), or returns the
// existing job's id unchanged if one already exists. Idempotent re-running
// of discovery must never create duplicate work for the same episode (L1).
func (s *Store) EnqueueJob(ctx context.Context, animeID, malID int64, episode int, priority int, dependsOn *int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (anime_id, mal_id, episode, stage, priority, depends_on)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(anime_id, episode) DO NOTHING
	`, animeID, malID, episode, model.StageQueued, priority, dependsOn)
	if err != nil {
		return 0, fmt.Errorf("enqueue_job(anime_id=%d, episode=%d): %w", animeID, episode, err)
	}

	if n, err := res.RowsAffected(); err == nil && n > 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("enqueue_job(anime_id=%d, episode=%d): %w", animeID, episode, err)
		}
		return id, nil
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `SELECT id FROM jobs WHERE anime_id = ? AND episode = ?`, animeID, episode).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("enqueue_job(anime_id=%d, episode=%d): resolve existing id: %w", animeID, episode, err)
	}
	return id, nil
}

// ClaimNext atomically finds the highest-priority, oldest job eligible for
// transientStage (the job must sit in transientStage's predecessor terminal
// stage, and any dependency must already be transcribed) and transitions it
// into transientStage. Returns ErrNoJobAvailable if nothing is eligible.
func (s *Store) ClaimNext(ctx context.Context, transientStage model.Stage) (*model.Job, error) {
	predecessor, ok := model.Predecessor(transientStage)
	if !ok {
		return nil, fmt.Errorf("claim_next: %q is not a transient stage", transientStage)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("claim_next: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `
		SELECT j.id
		FROM jobs j
		WHERE j.stage = ?
		  AND (j.depends_on IS NULL OR EXISTS (
		        SELECT 1 FROM jobs d WHERE d.id = j.depends_on AND d.stage = ?
		  ))
		ORDER BY j.priority DESC, j.created_at ASC
		LIMIT 1
	`, predecessor, model.StageTranscribed).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNoJobAvailable
		}
		return nil, fmt.Errorf("claim_next: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE jobs SET stage = ?, started_at = CURRENT_TIMESTAMP
		WHERE id = ? AND stage = ?
	`, transientStage, id, predecessor)
	if err != nil {
		return nil, fmt.Errorf("claim_next: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("claim_next: %w", err)
	}
	if n == 0 {
		// Raced with another claimer between the SELECT and the UPDATE.
		return nil, ErrNoJobAvailable
	}

	job, err := getJobTx(ctx, tx, id)
	if err != nil {
		return nil, fmt.Errorf("claim_next: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claim_next: %w", err)
	}
	return job, nil
}

// CommitStage transitions job id out of fromTransientStage into its terminal
// successor, recording any of the optional fields supplied, and is guarded
// against double-commit: if the job is not currently in fromTransientStage
// (because it was already committed or reaped), ErrNotHeld is returned and
// no row is modified.
func (s *Store) CommitStage(ctx context.Context, jobID int64, fromTransientStage model.Stage, toStage model.Stage, fields JobUpdate) error {
	set := []string{"stage = ?", "progress = 1.0", "completed_at = CURRENT_TIMESTAMP"}
	args := []interface{}{toStage}

	if fields.VideoPath != nil {
		set = append(set, "video_path = ?")
		args = append(args, *fields.VideoPath)
	}
	if fields.TranscriptPath != nil {
		set = append(set, "transcript_path = ?")
		args = append(args, *fields.TranscriptPath)
	}
	if fields.VideoSizeBytes != nil {
		set = append(set, "video_size_bytes = ?")
		args = append(args, *fields.VideoSizeBytes)
	}
	if fields.AudioSizeBytes != nil {
		set = append(set, "audio_size_bytes = ?")
		args = append(args, *fields.AudioSizeBytes)
	}
	if fields.TranscriptSizeBytes != nil {
		set = append(set, "transcript_size_bytes = ?")
		args = append(args, *fields.TranscriptSizeBytes)
	}

	query := fmt.Sprintf(`UPDATE jobs SET %s WHERE id = ? AND stage = ?`, joinSet(set))
	args = append(args, jobID, fromTransientStage)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("commit_stage(job_id=%d): %w", jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("commit_stage(job_id=%d): %w", jobID, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// JobUpdate carries the optional fields CommitStage may record. Pointers
// distinguish "leave unset" from "set to the zero value", since a job's
// recorded sizes must never regress once observed.
type JobUpdate struct {
	VideoPath           *string
	TranscriptPath      *string
	VideoSizeBytes      *int64
	AudioSizeBytes      *int64
	TranscriptSizeBytes *int64
}

// FailJob records a failure against a job currently held in fromTransientStage.
// If the job has retries remaining it is returned to fromTransientStage's
// predecessor terminal stage so it becomes claimable again; otherwise it is
// moved to the terminal failed stage.
func (s *Store) FailJob(ctx context.Context, jobID int64, fromTransientStage model.Stage, errMsg string) error {
	predecessor, ok := model.Predecessor(fromTransientStage)
	if !ok {
		return fmt.Errorf("fail_job: %q is not a transient stage", fromTransientStage)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("fail_job(job_id=%d): %w", jobID, err)
	}
	defer tx.Rollback()

	var retryCount, maxRetries int
	var stage model.Stage
	err = tx.QueryRowContext(ctx, `SELECT stage, retry_count, max_retries FROM jobs WHERE id = ?`, jobID).
		Scan(&stage, &retryCount, &maxRetries)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("fail_job(job_id=%d): %w", jobID, err)
	}
	if stage != fromTransientStage {
		return ErrNotHeld
	}

	retryCount++
	nextStage := predecessor
	if retryCount >= maxRetries {
		nextStage = model.StageFailed
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE jobs SET stage = ?, retry_count = ?, error_message = ?
		WHERE id = ? AND stage = ?
	`, nextStage, retryCount, errMsg, jobID, fromTransientStage)
	if err != nil {
		return fmt.Errorf("fail_job(job_id=%d): %w", jobID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("fail_job(job_id=%d): %w", jobID, err)
	} else if n == 0 {
		return ErrNotHeld
	}

	return tx.Commit()
}

// FailJobTerminal moves a job directly to the failed stage regardless of
// retry budget, used for error kinds the error taxonomy marks non-retryable
// (missing input, unselectable candidate — retrying would only fail the
// same way again). The job is flagged terminal_failure so RetryFailed never
// resurrects it automatically.
func (s *Store) FailJobTerminal(ctx context.Context, jobID int64, fromTransientStage model.Stage, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET stage = ?, error_message = ?, terminal_failure = 1
		WHERE id = ? AND stage = ?
	`, model.StageFailed, errMsg, jobID, fromTransientStage)
	if err != nil {
		return fmt.Errorf("fail_job_terminal(job_id=%d): %w", jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("fail_job_terminal(job_id=%d): %w", jobID, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// RetryFailed resets every eligible job currently in the terminal failed
// stage back to claimable and returns how many jobs were reset. A job is
// eligible only if it did not fail with a terminal_failure kind (missing
// input, unselectable candidate — retrying would only fail the same way
// again) and still has retry budget left. An eligible job reverts to the
// predecessor stage it was attempting when it failed: downloaded if its
// video_path is already recorded (it failed during transcribing with the
// download already committed), queued otherwise.
func (s *Store) RetryFailed(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET stage = CASE WHEN video_path != '' THEN ? ELSE ? END,
		    retry_count = 0, error_message = ''
		WHERE stage = ? AND terminal_failure = 0 AND retry_count < max_retries
	`, model.StageDownloaded, model.StageQueued, model.StageFailed)
	if err != nil {
		return 0, fmt.Errorf("retry_failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("retry_failed: %w", err)
	}
	return n, nil
}

// MarkVideoDeleted flags a job's source video as removed from bulk_root,
// once its transcript has been committed and the deletion itself succeeds.
func (s *Store) MarkVideoDeleted(ctx context.Context, jobID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET video_deleted = 1 WHERE id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("mark_video_deleted(job_id=%d): %w", jobID, err)
	}
	return nil
}

// MarkAudioDeleted flags a job's intermediate audio extraction as removed
// from work_root.
func (s *Store) MarkAudioDeleted(ctx context.Context, jobID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET audio_deleted = 1 WHERE id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("mark_audio_deleted(job_id=%d): %w", jobID, err)
	}
	return nil
}

// SetProgress records fractional progress (0..1) for a job currently in a
// transient stage, used by adapters to report incremental download/transcribe
// progress without committing the stage.
func (s *Store) SetProgress(ctx context.Context, jobID int64, progress float64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET progress = ? WHERE id = ?`, progress, jobID)
	if err != nil {
		return fmt.Errorf("set_progress(job_id=%d): %w", jobID, err)
	}
	return nil
}

// ReapOrphans reverts every job stuck in a transient stage whose updated_at
// is older than staleAfter back to that stage's predecessor, as if its
// worker had failed it, without requiring a live worker heartbeat (the
// worker row itself may already be gone). Returns the number of jobs reaped.
// Intended to run once at coordinator startup, before any worker pool starts
// claiming.
func (s *Store) ReapOrphans(ctx context.Context, staleAfter time.Duration) (int64, error) {
	transientStages := []model.Stage{model.StageDownloading, model.StageTranscribing}
	cutoff := time.Now().Add(-staleAfter)

	var total int64
	for _, stage := range transientStages {
		predecessor, _ := model.Predecessor(stage)
		res, err := s.db.ExecContext(ctx, `
			UPDATE jobs
			SET stage = ?, retry_count = retry_count + 1, error_message = 'reaped: stale transient stage'
			WHERE stage = ? AND updated_at < ?
		`, predecessor, stage, cutoff)
		if err != nil {
			return total, fmt.Errorf("reap_orphans(stage=%s): %w", stage, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("reap_orphans(stage=%s): %w", stage, err)
		}
		total += n
	}

	// A reaped job that has now exhausted its retries moves to failed
	// rather than sitting claimable forever.
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET stage = ? WHERE stage IN (?, ?) AND retry_count >= max_retries
	`, model.StageFailed, model.StageQueued, model.StageDownloaded)
	if err != nil {
		return total, fmt.Errorf("reap_orphans: exhaust retries: %w", err)
	}
	_, _ = res.RowsAffected()

	return total, nil
}

// GetJob looks up a job by its primary key.
func (s *Store) GetJob(ctx context.Context, id int64) (*model.Job, error) {
	return getJobTx(ctx, s.db, id)
}

// dbtx is satisfied by both *sql.DB and *sql.Tx, letting getJobTx be shared
// across plain lookups and in-transaction lookups during ClaimNext.
type dbtx interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func getJobTx(ctx context.Context, q dbtx, id int64) (*model.Job, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, anime_id, mal_id, episode, stage, progress, priority, depends_on,
			created_at, updated_at, started_at, completed_at,
			retry_count, max_retries, error_message,
			video_path, transcript_path,
			video_size_bytes, audio_size_bytes, transcript_size_bytes,
			video_deleted, audio_deleted
		FROM jobs WHERE id = ?`, id)

	var j model.Job
	if err := row.Scan(
		&j.ID, &j.AnimeID, &j.MALID, &j.Episode, &j.Stage, &j.Progress, &j.Priority, &j.DependsOn,
		&j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.CompletedAt,
		&j.RetryCount, &j.MaxRetries, &j.ErrorMessage,
		&j.VideoPath, &j.TranscriptPath,
		&j.VideoSizeBytes, &j.AudioSizeBytes, &j.TranscriptSizeBytes,
		&j.VideoDeleted, &j.AudioDeleted,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get_job(id=%d): %w", id, err)
	}
	return &j, nil
}

func joinSet(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += ", " + p
	}
	return out
}
