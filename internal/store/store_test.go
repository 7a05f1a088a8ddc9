package store

import (
	"context"
	"path/filepath"
	"testing"

	"episode_pipeline/internal/model"
)

// newTestStore opens a fresh file-backed store under a per-test temp
// directory, since the production Open() always targets a real file (WAL
// mode needs one) rather than an in-memory database.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(filepath.Join(dir, "jobs.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func sampleAnime(malID int64) model.Anime {
	return model.Anime{
		MALID:         malID,
		Title:         "Sample Anime",
		TotalEpisodes: 12,
		Genres:        []string{"Action", "Action", "Drama"},
		Synonyms:      []string{"Sample"},
	}
}

func TestOpen_AppliesSchemaAndIsPingable(t *testing.T) {
	st := newTestStore(t)
	if err := st.DB().PingContext(context.Background()); err != nil {
		t.Fatalf("ping failed after Open: %v", err)
	}
}

func TestOpen_NestedPathInMissingDirectoryIsCreated(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "work", "jobs.db")
	st, err := Open(nested)
	if err != nil {
		t.Fatalf("Open(%q) failed: %v", nested, err)
	}
	defer st.Close()

	if _, err := st.UpsertAnime(context.Background(), sampleAnime(1)); err != nil {
		t.Fatalf("store at nested path did not accept a write: %v", err)
	}
}
