// Package discovery defines the seam through which new anime/episode work
// enters the coordinator. The real implementation would poll an external
// anime-metadata HTTP service; that service is out of scope here,
// so this package only defines the interface and a deterministic fake
// satisfying it for tests and local runs.
package discovery

import (
	"context"

	"episode_pipeline/internal/model"
)

// Candidate is one discovered anime and the episode numbers it should have
// jobs enqueued for.
type Candidate struct {
	Anime    model.Anime
	Episodes []int
}

// Source discovers anime worth tracking. Discover is called periodically by
// the coordinator; a production implementation would page through an
// external catalog API.
type Source interface {
	Discover(ctx context.Context) ([]Candidate, error)
}

// Ingest upserts every candidate's anime record and enqueues a job per
// episode, the thin pass-through to the job store: the collaborator
// itself decides what's worth tracking, but enqueueing is always done the
// same way regardless of which Source produced the candidate.
func Ingest(ctx context.Context, st animeJobStore, candidates []Candidate, priority int) error {
	for _, c := range candidates {
		animeID, err := st.UpsertAnime(ctx, c.Anime)
		if err != nil {
			return err
		}
		for _, episode := range c.Episodes {
			if _, err := st.EnqueueJob(ctx, animeID, c.Anime.MALID, episode, priority, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// animeJobStore is the narrow slice of *store.Store that Ingest needs,
// declared here instead of importing internal/store directly so this
// package's dependency surface stays limited to what it actually calls.
type animeJobStore interface {
	UpsertAnime(ctx context.Context, a model.Anime) (int64, error)
	EnqueueJob(ctx context.Context, animeID, malID int64, episode int, priority int, dependsOn *int64) (int64, error)
}
