package store

import (
	"context"
	"database/sql"
	"fmt"

	"episode_pipeline/internal/model"
)

// GetSelection returns the cached title-selection decision for a mal_id, or
// ErrNotFound if the title-selection collaborator has not yet been asked.
func (s *Store) GetSelection(ctx context.Context, malID int64) (*model.Selection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT mal_id, query, selected_index, selected_title, confidence, reason,
			mal_episodes, selected_episodes, episode_match, updated_at
		FROM selections WHERE mal_id = ?`, malID)

	var sel model.Selection
	if err := row.Scan(
		&sel.MALID, &sel.Query, &sel.SelectedIndex, &sel.SelectedTitle, &sel.Confidence, &sel.Reason,
		&sel.MALEpisodes, &sel.SelectedEpisodes, &sel.EpisodeMatch, &sel.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get_selection(mal_id=%d): %w", malID, err)
	}
	return &sel, nil
}

// UpsertSelection records or replaces the title-selection decision for a
// mal_id. Idempotent: re-running the title-selection collaborator with the
// same inputs overwrites the prior row rather than accumulating history,
// matching the cache's "latest decision wins" contract.
func (s *Store) UpsertSelection(ctx context.Context, sel model.Selection) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO selections (
			mal_id, query, selected_index, selected_title, confidence, reason,
			mal_episodes, selected_episodes, episode_match, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(mal_id) DO UPDATE SET
			query             = excluded.query,
			selected_index    = excluded.selected_index,
			selected_title    = excluded.selected_title,
			confidence        = excluded.confidence,
			reason            = excluded.reason,
			mal_episodes      = excluded.mal_episodes,
			selected_episodes = excluded.selected_episodes,
			episode_match     = excluded.episode_match,
			updated_at        = CURRENT_TIMESTAMP
	`, sel.MALID, sel.Query, sel.SelectedIndex, sel.SelectedTitle, sel.Confidence, sel.Reason,
		sel.MALEpisodes, sel.SelectedEpisodes, sel.EpisodeMatch)
	if err != nil {
		return fmt.Errorf("upsert_selection(mal_id=%d): %w", sel.MALID, err)
	}
	return nil
}
