package download

import (
	"context"
	"fmt"

	"episode_pipeline/internal/model"
	"episode_pipeline/internal/pipeline"
	"episode_pipeline/internal/store"
)

// StageExecutor wires the download Adapter into stagerunner.Executor: it
// resolves the job's cached title-selection decision, runs the adapter, and
// returns the store fields to commit.
type StageExecutor struct {
	adapter *Adapter
	store   *store.Store
}

func NewStageExecutor(adapter *Adapter, st *store.Store) *StageExecutor {
	return &StageExecutor{adapter: adapter, store: st}
}

func (e *StageExecutor) Stage() model.Stage       { return model.StageDownloading }
func (e *StageExecutor) TargetStage() model.Stage { return model.StageDownloaded }

func (e *StageExecutor) Execute(ctx context.Context, job *model.Job) (store.JobUpdate, error) {
	sel, err := e.store.GetSelection(ctx, job.MALID)
	if err != nil {
		if err == store.ErrNotFound {
			return store.JobUpdate{}, pipeline.Wrap(pipeline.KindMissingSel, "download.Execute",
				fmt.Errorf("no title-selection decision cached for mal_id %d", job.MALID))
		}
		return store.JobUpdate{}, pipeline.Wrap(pipeline.KindMissingSel, "download.Execute", err)
	}

	if sel.Confidence == model.ConfidenceNoCandidate {
		return store.JobUpdate{}, pipeline.Wrap(pipeline.KindUnselectable, "download.Execute",
			fmt.Errorf("title-selection found no usable candidate for mal_id %d", job.MALID))
	}

	outcome, err := e.adapter.Run(ctx, job, sel)
	if err != nil {
		return store.JobUpdate{}, pipeline.Wrap(pipeline.KindDownloader, "download.Execute", err)
	}

	videoPath := outcome.VideoPath
	size := outcome.SizeBytes
	return store.JobUpdate{
		VideoPath:      &videoPath,
		VideoSizeBytes: &size,
	}, nil
}
