package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"episode_pipeline/internal/model"
)

// UpsertAnime inserts or merges anime metadata keyed by mal_id, returning the
// stable primary key. Idempotent: re-running discovery with the same mal_id
// updates the row in place rather than creating a duplicate.
func (s *Store) UpsertAnime(ctx context.Context, a model.Anime) (int64, error) {
	genres, err := toSet(a.Genres)
	if err != nil {
		return 0, fmt.Errorf("upsert_anime: %w", err)
	}
	themes, err := toSet(a.Themes)
	if err != nil {
		return 0, fmt.Errorf("upsert_anime: %w", err)
	}
	demographics, err := toSet(a.Demographics)
	if err != nil {
		return 0, fmt.Errorf("upsert_anime: %w", err)
	}
	studios, err := toSet(a.Studios)
	if err != nil {
		return 0, fmt.Errorf("upsert_anime: %w", err)
	}
	synonyms, err := toJSONArray(a.Synonyms)
	if err != nil {
		return 0, fmt.Errorf("upsert_anime: %w", err)
	}

	status := a.ProcessingStatus
	if status == "" {
		status = model.StatusPending
	}

	const query = `
		INSERT INTO anime (
			mal_id, title, title_english, title_japanese, synonyms,
			genres, themes, demographics, studios,
			type, total_episodes, aired_from, aired_to, season, year,
			score, rank, popularity, source, rating, duration_minutes,
			processing_status
		) VALUES (
			?, ?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?, ?, ?, ?, ?,
			?, ?, ?, ?, ?, ?,
			?
		)
		ON CONFLICT(mal_id) DO UPDATE SET
			title             = excluded.title,
			title_english     = excluded.title_english,
			title_japanese    = excluded.title_japanese,
			synonyms          = excluded.synonyms,
			genres            = excluded.genres,
			themes            = excluded.themes,
			demographics      = excluded.demographics,
			studios           = excluded.studios,
			type              = excluded.type,
			total_episodes    = excluded.total_episodes,
			aired_from        = excluded.aired_from,
			aired_to          = excluded.aired_to,
			season            = excluded.season,
			year              = excluded.year,
			score             = excluded.score,
			rank              = excluded.rank,
			popularity        = excluded.popularity,
			source            = excluded.source,
			rating            = excluded.rating,
			duration_minutes  = excluded.duration_minutes,
			processing_status = excluded.processing_status
	`

	_, err = s.db.ExecContext(ctx, query,
		a.MALID, a.Title, a.TitleEnglish, a.TitleJapanese, synonyms,
		genres, themes, demographics, studios,
		a.Type, a.TotalEpisodes, a.AiredFrom, a.AiredTo, a.Season, a.Year,
		a.Score, a.Rank, a.Popularity, a.Source, a.Rating, a.DurationMinutes,
		status,
	)
	if err != nil {
		return 0, fmt.Errorf("upsert_anime(mal_id=%d): %w", a.MALID, err)
	}

	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM anime WHERE mal_id = ?`, a.MALID).Scan(&id); err != nil {
		return 0, fmt.Errorf("upsert_anime(mal_id=%d): resolve id: %w", a.MALID, err)
	}
	return id, nil
}

// GetAnimeByMALID looks up an anime row by its external id.
func (s *Store) GetAnimeByMALID(ctx context.Context, malID int64) (*model.Anime, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, mal_id, title, title_english, title_japanese, synonyms,
			genres, themes, demographics, studios,
			type, total_episodes, aired_from, aired_to, season, year,
			score, rank, popularity, source, rating, duration_minutes,
			processing_status, created_at, updated_at
		FROM anime WHERE mal_id = ?`, malID)
	return scanAnime(row)
}

// GetAnime looks up an anime row by its internal primary key.
func (s *Store) GetAnime(ctx context.Context, id int64) (*model.Anime, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, mal_id, title, title_english, title_japanese, synonyms,
			genres, themes, demographics, studios,
			type, total_episodes, aired_from, aired_to, season, year,
			score, rank, popularity, source, rating, duration_minutes,
			processing_status, created_at, updated_at
		FROM anime WHERE id = ?`, id)
	return scanAnime(row)
}

// ListAnimeMissingSelection returns every anime row that has no cached
// title-selection decision yet, the work list the title-selection
// collaborator polls against.
func (s *Store) ListAnimeMissingSelection(ctx context.Context) ([]model.Anime, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.mal_id, a.title, a.title_english, a.title_japanese, a.synonyms,
			a.genres, a.themes, a.demographics, a.studios,
			a.type, a.total_episodes, a.aired_from, a.aired_to, a.season, a.year,
			a.score, a.rank, a.popularity, a.source, a.rating, a.duration_minutes,
			a.processing_status, a.created_at, a.updated_at
		FROM anime a
		LEFT JOIN selections s ON s.mal_id = a.mal_id
		WHERE s.mal_id IS NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("list_anime_missing_selection: %w", err)
	}
	defer rows.Close()

	var result []model.Anime
	for rows.Next() {
		a, err := scanAnimeRow(rows)
		if err != nil {
			return nil, fmt.Errorf("list_anime_missing_selection: %w", err)
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list_anime_missing_selection: %w", err)
	}
	return result, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAnimeRow(row rowScanner) (*model.Anime, error) {
	var a model.Anime
	var synonyms, genres, themes, demographics, studios string
	if err := row.Scan(
		&a.ID, &a.MALID, &a.Title, &a.TitleEnglish, &a.TitleJapanese, &synonyms,
		&genres, &themes, &demographics, &studios,
		&a.Type, &a.TotalEpisodes, &a.AiredFrom, &a.AiredTo, &a.Season, &a.Year,
		&a.Score, &a.Rank, &a.Popularity, &a.Source, &a.Rating, &a.DurationMinutes,
		&a.ProcessingStatus, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("scan anime: %w", err)
	}

	var err error
	if a.Synonyms, err = fromJSONArray(synonyms); err != nil {
		return nil, fmt.Errorf("scan anime: %w", err)
	}
	if a.Genres, err = fromJSONArray(genres); err != nil {
		return nil, fmt.Errorf("scan anime: %w", err)
	}
	if a.Themes, err = fromJSONArray(themes); err != nil {
		return nil, fmt.Errorf("scan anime: %w", err)
	}
	if a.Demographics, err = fromJSONArray(demographics); err != nil {
		return nil, fmt.Errorf("scan anime: %w", err)
	}
	if a.Studios, err = fromJSONArray(studios); err != nil {
		return nil, fmt.Errorf("scan anime: %w", err)
	}
	return &a, nil
}

func scanAnime(row *sql.Row) (*model.Anime, error) {
	a, err := scanAnimeRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

// toSet JSON-encodes a string slice after sorting and de-duplicating it,
// since genres/themes/demographics/studios are unordered sets in the data
// model, but SQLite has no native set column type.
func toSet(values []string) (string, error) {
	seen := make(map[string]struct{}, len(values))
	unique := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		unique = append(unique, v)
	}
	sort.Strings(unique)
	return toJSONArray(unique)
}

// toJSONArray JSON-encodes an ordered string slice (synonyms preserve order).
func toJSONArray(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("marshal string slice: %w", err)
	}
	return string(b), nil
}

func fromJSONArray(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("unmarshal string slice: %w", err)
	}
	return values, nil
}
