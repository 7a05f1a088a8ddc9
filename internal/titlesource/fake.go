package titlesource

import (
	"context"

	"episode_pipeline/internal/model"
)

// FakeResolver always selects the first candidate with high confidence, or
// reports no candidates if the list is empty. Useful for tests and for
// running the coordinator end-to-end without a live LLM-backed helper.
type FakeResolver struct{}

func (FakeResolver) Resolve(ctx context.Context, q Query) (model.Selection, error) {
	if len(q.Candidates) == 0 {
		return model.Selection{
			MALID:      q.MALID,
			Query:      q.Title,
			Confidence: model.ConfidenceNoCandidate,
			Reason:     "no candidates supplied",
		}, nil
	}

	match := model.EpisodeMatchUnknown
	if q.MALEpisodes > 0 {
		match = model.EpisodeMatchExact
	}

	return model.Selection{
		MALID:            q.MALID,
		Query:            q.Title,
		SelectedIndex:    0,
		SelectedTitle:    q.Candidates[0],
		Confidence:       model.ConfidenceHigh,
		Reason:           "deterministic fake: first candidate",
		MALEpisodes:      q.MALEpisodes,
		SelectedEpisodes: q.MALEpisodes,
		EpisodeMatch:     match,
	}, nil
}
