// Package titlesource defines the seam through which the title-selection
// decision for a mal_id is produced. The real implementation would call an
// LLM-backed title-matching helper against a list of candidate titles; that
// helper is out of scope here, so this package only defines the
// interface and a deterministic fake satisfying it for tests and local runs.
package titlesource

import (
	"context"

	"episode_pipeline/internal/model"
)

// Query describes what the resolver is being asked to disambiguate.
type Query struct {
	MALID       int64
	Title       string
	MALEpisodes int
	Candidates  []string
}

// Resolver picks (or declines to pick) a candidate title for a mal_id.
type Resolver interface {
	Resolve(ctx context.Context, q Query) (model.Selection, error)
}

// resolverStore is the narrow slice of *store.Store that Apply needs.
type resolverStore interface {
	UpsertSelection(ctx context.Context, sel model.Selection) error
}

// Apply resolves q and persists the decision to the selection cache, the
// thin pass-through to the selection cache.
func Apply(ctx context.Context, st resolverStore, r Resolver, q Query) (model.Selection, error) {
	sel, err := r.Resolve(ctx, q)
	if err != nil {
		return model.Selection{}, err
	}
	if err := st.UpsertSelection(ctx, sel); err != nil {
		return model.Selection{}, err
	}
	return sel, nil
}
