// Package stagerunner is the coordinator's worker-pool driver: one Runner
// per pipeline stage, each managing a fixed number of goroutines that
// heartbeat, consult the disk-pressure gate, claim a job, execute it, and
// commit or fail it. Every Runner shares one cancellation context with
// the rest of the coordinator's graceful-shutdown sequence.
package stagerunner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"episode_pipeline/internal/model"
	"episode_pipeline/internal/pipeline"
	"episode_pipeline/internal/store"
)

// Executor runs one claimed job to completion. Implementations live in
// internal/download and internal/transcribe; Execute returns the fields the
// runner should pass to CommitStage on success.
type Executor interface {
	// Stage is the transient stage this executor claims jobs into.
	Stage() model.Stage
	// TargetStage is the terminal stage a successful Execute commits into.
	TargetStage() model.Stage
	// Execute processes job, returning the fields to record on commit.
	Execute(ctx context.Context, job *model.Job) (store.JobUpdate, error)
}

// PauseGate is consulted before every claim attempt; when it returns true,
// the worker sleeps instead of claiming.
type PauseGate interface {
	ShouldPause() bool
}

// PostCommitter is an optional Executor extension for work that must happen
// only after a commit has durably succeeded, such as the transcribe stage's
// ordered audio/video cleanup (commit before cleanup). Failures are
// logged, not retried — the job itself already succeeded.
type PostCommitter interface {
	PostCommit(ctx context.Context, job *model.Job)
}

// Config configures a Runner.
type Config struct {
	WorkerTypePrefix string // e.g. "download" or "transcribe"
	Concurrency      int
	PollInterval     time.Duration
	PauseInterval    time.Duration
	HeartbeatEvery   time.Duration

	// SubprocessGrace is how long an Execute call already in flight when the
	// runner's context is cancelled is allowed to keep running before it is
	// force-cancelled. Zero cancels it immediately, same as before this
	// field existed.
	SubprocessGrace time.Duration
}

// Runner drives Concurrency worker goroutines for a single stage.
type Runner struct {
	cfg      Config
	store    *store.Store
	executor Executor
	gate     PauseGate
	log      *logrus.Entry

	wg sync.WaitGroup
}

func New(cfg Config, st *store.Store, executor Executor, gate PauseGate, log *logrus.Logger) *Runner {
	return &Runner{
		cfg:      cfg,
		store:    st,
		executor: executor,
		gate:     gate,
		log:      log.WithField("component", fmt.Sprintf("stagerunner.%s", cfg.WorkerTypePrefix)),
	}
}

// Start launches the worker pool. Each worker runs until ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	for i := 0; i < r.cfg.Concurrency; i++ {
		workerID := fmt.Sprintf("%s-%d", r.cfg.WorkerTypePrefix, i)
		r.wg.Add(1)
		go r.worker(ctx, workerID)
	}
}

// Wait blocks until every worker goroutine has exited, and is meant to be
// called after the caller cancels ctx, as part of the coordinator's
// graceful-shutdown sequence.
func (r *Runner) Wait() {
	r.wg.Wait()
	// Best-effort: remove every worker's heartbeat row so stats don't show
	// stopped workers lingering until reap_orphans' staleness window elapses.
	for i := 0; i < r.cfg.Concurrency; i++ {
		workerID := fmt.Sprintf("%s-%d", r.cfg.WorkerTypePrefix, i)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = r.store.RemoveWorker(ctx, workerID)
		cancel()
	}
}

func (r *Runner) worker(ctx context.Context, workerID string) {
	defer r.wg.Done()

	workerType := model.WorkerDownload
	if r.cfg.WorkerTypePrefix == "transcribe" {
		workerType = model.WorkerTranscribe
	}

	lastHeartbeat := time.Time{}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if time.Since(lastHeartbeat) >= r.cfg.HeartbeatEvery {
			hbCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := r.store.Heartbeat(hbCtx, workerID, workerType); err != nil {
				r.log.WithError(err).WithField("worker_id", workerID).Warn("heartbeat failed")
			}
			cancel()
			lastHeartbeat = time.Now()
		}

		if r.gate != nil && r.gate.ShouldPause() {
			sleep(ctx, r.cfg.PauseInterval)
			continue
		}

		if !r.claimAndExecute(ctx, workerID) {
			sleep(ctx, r.cfg.PollInterval)
		}
	}
}

// claimAndExecute claims and runs a single job, returning true if one was
// found (regardless of whether it ultimately succeeded).
func (r *Runner) claimAndExecute(ctx context.Context, workerID string) bool {
	claimCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	job, err := r.store.ClaimNext(claimCtx, r.executor.Stage())
	cancel()
	if err != nil {
		if err != store.ErrNoJobAvailable {
			r.log.WithError(err).WithField("worker_id", workerID).Warn("claim_next failed")
		}
		return false
	}

	log := r.log.WithFields(logrus.Fields{
		"worker_id": workerID,
		"job_id":    job.ID,
		"mal_id":    job.MALID,
		"episode":   job.Episode,
	})
	log.Info("claimed job")

	execCtx, execCancel := r.executionContext(ctx)
	update, err := r.executor.Execute(execCtx, job)
	execCancel()
	if err != nil {
		r.handleFailure(log, job, err)
		return true
	}

	// Recording the outcome of work that was deliberately let finish during
	// the shutdown grace period must not itself be cut off by the same
	// cancelled ctx, so it runs against a context of its own rather than one
	// derived from ctx.
	commitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = r.store.CommitStage(commitCtx, job.ID, r.executor.Stage(), r.executor.TargetStage(), update)
	cancel()
	if err != nil {
		log.WithError(err).Error("commit_stage failed")
		return true
	}

	log.Info("committed job")

	if pc, ok := r.executor.(PostCommitter); ok {
		postCtx, postCancel := context.WithTimeout(context.Background(), 30*time.Second)
		pc.PostCommit(postCtx, job)
		postCancel()
	}

	return true
}

// executionContext derives a context for a single Execute call that survives
// ctx's cancellation for up to cfg.SubprocessGrace, so an in-flight
// subprocess gets a chance to finish its current job and exit cleanly
// instead of being killed the instant shutdown begins. A grace of zero
// preserves the old behavior of cancelling the instant ctx is cancelled.
func (r *Runner) executionContext(ctx context.Context) (context.Context, context.CancelFunc) {
	execCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-execCtx.Done():
			return
		case <-ctx.Done():
		}
		if r.cfg.SubprocessGrace <= 0 {
			cancel()
			return
		}
		timer := time.NewTimer(r.cfg.SubprocessGrace)
		defer timer.Stop()
		select {
		case <-timer.C:
			cancel()
		case <-execCtx.Done():
		}
	}()
	return execCtx, cancel
}

func (r *Runner) handleFailure(log *logrus.Entry, job *model.Job, execErr error) {
	msg := execErr.Error()

	failCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if kind, ok := pipeline.KindOf(execErr); ok && kind.Terminal() {
		log.WithError(execErr).WithField("kind", kind).Warn("job failed with terminal error, not retrying")
		if err := r.store.FailJobTerminal(failCtx, job.ID, r.executor.Stage(), msg); err != nil {
			log.WithError(err).Error("fail_job_terminal failed")
		}
		return
	}

	log.WithError(execErr).Warn("job failed, will retry if budget remains")
	if err := r.store.FailJob(failCtx, job.ID, r.executor.Stage(), msg); err != nil {
		log.WithError(err).Error("fail_job failed")
	}
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
