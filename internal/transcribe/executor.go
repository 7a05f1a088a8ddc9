package transcribe

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"episode_pipeline/internal/model"
	"episode_pipeline/internal/pipeline"
	"episode_pipeline/internal/store"
)

// Invalidator is satisfied by *diskmonitor.Monitor; kept as a narrow
// interface so this package doesn't import diskmonitor just for one method.
type Invalidator interface {
	Invalidate()
}

// StageExecutor wires the transcribe Adapter into stagerunner.Executor and
// performs the post-commit cleanup ordering the pipeline requires.
type StageExecutor struct {
	adapter *Adapter
	store   *store.Store
	disk    Invalidator
	log     *logrus.Entry
}

func NewStageExecutor(adapter *Adapter, st *store.Store, disk Invalidator, log *logrus.Logger) *StageExecutor {
	return &StageExecutor{adapter: adapter, store: st, disk: disk, log: log.WithField("component", "transcribe.executor")}
}

func (e *StageExecutor) Stage() model.Stage       { return model.StageTranscribing }
func (e *StageExecutor) TargetStage() model.Stage { return model.StageTranscribed }

func (e *StageExecutor) Execute(ctx context.Context, job *model.Job) (store.JobUpdate, error) {
	if job.VideoPath == "" {
		return store.JobUpdate{}, pipeline.Wrap(pipeline.KindMissingInput, "transcribe.Execute",
			fmt.Errorf("job %d has no recorded video_path", job.ID))
	}

	audioPath, audioSize, err := e.adapter.ExtractAudio(ctx, job)
	if err != nil {
		return store.JobUpdate{}, pipeline.Wrap(pipeline.KindExtraction, "transcribe.Execute", err)
	}

	transcriptPath, transcriptSize, err := e.adapter.TranscribeAudio(ctx, job, audioPath)
	if err != nil {
		return store.JobUpdate{}, pipeline.Wrap(pipeline.KindTranscription, "transcribe.Execute", err)
	}

	return store.JobUpdate{
		TranscriptPath:      &transcriptPath,
		AudioSizeBytes:      &audioSize,
		TranscriptSizeBytes: &transcriptSize,
	}, nil
}

// PostCommit deletes the intermediate audio file, then the source video, in
// that order, recording each deletion in the store only on success and
// invalidating the disk monitor's cache so freed space is visible on the
// very next claim attempt rather than after the cache TTL elapses.
func (e *StageExecutor) PostCommit(ctx context.Context, job *model.Job) {
	log := e.log.WithFields(logrus.Fields{"job_id": job.ID, "mal_id": job.MALID, "episode": job.Episode})

	audioDeleted := false
	if err := e.adapter.CleanupAudio(job); err != nil {
		log.WithError(err).Warn("failed to delete intermediate audio")
	} else if err := e.store.MarkAudioDeleted(ctx, job.ID); err != nil {
		log.WithError(err).Warn("failed to record audio deletion")
	} else {
		audioDeleted = true
	}

	// Video cleanup only proceeds once the audio side is confirmed gone, so
	// a crash between the two always leaves the recoverable video behind
	// rather than the disposable audio.
	if !audioDeleted {
		return
	}

	if err := e.adapter.CleanupVideo(job); err != nil {
		log.WithError(err).Warn("failed to delete source video")
	} else if err := e.store.MarkVideoDeleted(ctx, job.ID); err != nil {
		log.WithError(err).Warn("failed to record video deletion")
	}

	if e.disk != nil {
		e.disk.Invalidate()
	}
}
