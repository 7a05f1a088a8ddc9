package store

import (
	"context"
	"errors"
	"testing"
)

func TestUpsertAnime_DedupesAndSortsSets(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id, err := st.UpsertAnime(ctx, sampleAnime(100))
	if err != nil {
		t.Fatalf("UpsertAnime: %v", err)
	}

	a, err := st.GetAnime(ctx, id)
	if err != nil {
		t.Fatalf("GetAnime: %v", err)
	}

	want := []string{"Action", "Drama"}
	if len(a.Genres) != len(want) {
		t.Fatalf("Genres = %v, want %v", a.Genres, want)
	}
	for i := range want {
		if a.Genres[i] != want[i] {
			t.Errorf("Genres[%d] = %q, want %q", i, a.Genres[i], want[i])
		}
	}
}

func TestUpsertAnime_SameMALIDUpdatesInPlace(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	first := sampleAnime(200)
	id1, err := st.UpsertAnime(ctx, first)
	if err != nil {
		t.Fatalf("first UpsertAnime: %v", err)
	}

	second := sampleAnime(200)
	second.Title = "Updated Title"
	id2, err := st.UpsertAnime(ctx, second)
	if err != nil {
		t.Fatalf("second UpsertAnime: %v", err)
	}

	if id1 != id2 {
		t.Fatalf("re-upserting the same mal_id changed the primary key: %d != %d", id1, id2)
	}

	a, err := st.GetAnime(ctx, id1)
	if err != nil {
		t.Fatalf("GetAnime: %v", err)
	}
	if a.Title != "Updated Title" {
		t.Errorf("Title = %q, want %q", a.Title, "Updated Title")
	}
}

func TestGetAnimeByMALID_NotFound(t *testing.T) {
	st := newTestStore(t)
	_, err := st.GetAnimeByMALID(context.Background(), 999)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetAnimeByMALID(missing) err = %v, want ErrNotFound", err)
	}
}

func TestListAnimeMissingSelection(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	idWithout, err := st.UpsertAnime(ctx, sampleAnime(300))
	if err != nil {
		t.Fatalf("UpsertAnime: %v", err)
	}
	_, err = st.UpsertAnime(ctx, sampleAnime(301))
	if err != nil {
		t.Fatalf("UpsertAnime: %v", err)
	}

	if err := st.UpsertSelection(ctx, testSelection(301)); err != nil {
		t.Fatalf("UpsertSelection: %v", err)
	}

	pending, err := st.ListAnimeMissingSelection(ctx)
	if err != nil {
		t.Fatalf("ListAnimeMissingSelection: %v", err)
	}

	if len(pending) != 1 {
		t.Fatalf("ListAnimeMissingSelection returned %d rows, want 1", len(pending))
	}
	if pending[0].ID != idWithout {
		t.Errorf("returned anime id %d, want %d (the one still missing a selection)", pending[0].ID, idWithout)
	}
}
