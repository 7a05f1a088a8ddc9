package discovery

import (
	"context"
	"path/filepath"
	"testing"

	"episode_pipeline/internal/model"
	"episode_pipeline/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestFakeSource_DiscoverReturnsConfiguredCandidates(t *testing.T) {
	want := []Candidate{{Anime: model.Anime{MALID: 1, Title: "Sample"}, Episodes: []int{1, 2}}}
	src := &FakeSource{Candidates: want}

	got, err := src.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(got) != 1 || got[0].Anime.MALID != 1 || len(got[0].Episodes) != 2 {
		t.Errorf("Discover() = %+v, want %+v", got, want)
	}
}

func TestIngest_UpsertsAnimeAndEnqueuesOneJobPerEpisode(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	candidates := []Candidate{
		{Anime: model.Anime{MALID: 10, Title: "Example"}, Episodes: []int{1, 2, 3}},
	}
	if err := Ingest(ctx, st, candidates, 5); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	anime, err := st.GetAnimeByMALID(ctx, 10)
	if err != nil {
		t.Fatalf("GetAnimeByMALID: %v", err)
	}
	if anime.Title != "Example" {
		t.Errorf("Title = %q, want %q", anime.Title, "Example")
	}

	stats, err := st.JobStats(ctx)
	if err != nil {
		t.Fatalf("JobStats: %v", err)
	}
	if stats[model.StageQueued] != 3 {
		t.Errorf("queued job count = %d, want 3", stats[model.StageQueued])
	}
}

func TestIngest_IsIdempotentForSameAnimeAndEpisode(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	candidates := []Candidate{
		{Anime: model.Anime{MALID: 11, Title: "Example"}, Episodes: []int{1}},
	}
	if err := Ingest(ctx, st, candidates, 0); err != nil {
		t.Fatalf("Ingest (first): %v", err)
	}
	if err := Ingest(ctx, st, candidates, 0); err != nil {
		t.Fatalf("Ingest (second): %v", err)
	}

	stats, err := st.JobStats(ctx)
	if err != nil {
		t.Fatalf("JobStats: %v", err)
	}
	if stats[model.StageQueued] != 1 {
		t.Errorf("queued job count = %d, want 1 (re-ingesting must not duplicate jobs)", stats[model.StageQueued])
	}
}

func TestIngest_NoEpisodesStillUpsertsAnime(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	candidates := []Candidate{
		{Anime: model.Anime{MALID: 12, Title: "NoEpisodesYet"}, Episodes: nil},
	}
	if err := Ingest(ctx, st, candidates, 0); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if _, err := st.GetAnimeByMALID(ctx, 12); err != nil {
		t.Errorf("GetAnimeByMALID: %v", err)
	}
	stats, err := st.JobStats(ctx)
	if err != nil {
		t.Fatalf("JobStats: %v", err)
	}
	if stats[model.StageQueued] != 0 {
		t.Errorf("queued job count = %d, want 0", stats[model.StageQueued])
	}
}
