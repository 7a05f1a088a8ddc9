package transcribe

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"episode_pipeline/internal/model"
	"episode_pipeline/internal/pipeline"
	"episode_pipeline/internal/store"
)

type countingInvalidator struct {
	calls int
}

func (c *countingInvalidator) Invalidate() { c.calls++ }

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestExecute_MissingVideoPathIsClassifiedMissingInput(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	animeID, err := st.UpsertAnime(ctx, model.Anime{MALID: 1, Title: "Sample"})
	if err != nil {
		t.Fatalf("UpsertAnime: %v", err)
	}
	jobID, err := st.EnqueueJob(ctx, animeID, 1, 1, 0, nil)
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	job, err := st.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}

	exec := NewStageExecutor(New(Config{}), st, nil, testLogger())
	_, err = exec.Execute(ctx, job)
	if err == nil {
		t.Fatal("Execute with empty VideoPath returned nil error")
	}
	kind, ok := pipeline.KindOf(err)
	if !ok || kind != pipeline.KindMissingInput {
		t.Errorf("KindOf(err) = (%v, %v), want (%v, true)", kind, ok, pipeline.KindMissingInput)
	}
}

func TestPostCommit_DeletesAudioThenVideoAndInvalidatesDiskCache(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	workRoot := t.TempDir()
	bulkRoot := t.TempDir()

	animeID, err := st.UpsertAnime(ctx, model.Anime{MALID: 5, Title: "Sample"})
	if err != nil {
		t.Fatalf("UpsertAnime: %v", err)
	}
	jobID, err := st.EnqueueJob(ctx, animeID, 5, 2, 0, nil)
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	videoPath := filepath.Join(bulkRoot, "5", "episodes", "ep002.mkv")
	if err := os.MkdirAll(filepath.Dir(videoPath), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(videoPath, []byte("video"), 0o644); err != nil {
		t.Fatalf("write video: %v", err)
	}

	audioPath := filepath.Join(workRoot, "audio", "5", "episodes", "ep002.wav")
	if err := os.MkdirAll(filepath.Dir(audioPath), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(audioPath, []byte("audio"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	if _, err := st.ClaimNext(ctx, model.StageDownloading); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	size := int64(5)
	if err := st.CommitStage(ctx, jobID, model.StageDownloading, model.StageDownloaded, store.JobUpdate{
		VideoPath: &videoPath, VideoSizeBytes: &size,
	}); err != nil {
		t.Fatalf("CommitStage: %v", err)
	}
	job, err := st.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}

	disk := &countingInvalidator{}
	exec := NewStageExecutor(New(Config{WorkRoot: workRoot}), st, disk, testLogger())
	exec.PostCommit(ctx, job)

	if _, err := os.Stat(audioPath); !os.IsNotExist(err) {
		t.Error("audio file still exists after PostCommit")
	}
	if _, err := os.Stat(videoPath); !os.IsNotExist(err) {
		t.Error("video file still exists after PostCommit")
	}

	got, err := st.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if !got.AudioDeleted {
		t.Error("AudioDeleted = false, want true")
	}
	if !got.VideoDeleted {
		t.Error("VideoDeleted = false, want true")
	}
	if disk.calls != 1 {
		t.Errorf("disk.Invalidate() called %d times, want 1", disk.calls)
	}
}

func TestPostCommit_VideoIsKeptWhenAudioCleanupFails(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	workRoot := t.TempDir()
	bulkRoot := t.TempDir()

	animeID, err := st.UpsertAnime(ctx, model.Anime{MALID: 6, Title: "Sample"})
	if err != nil {
		t.Fatalf("UpsertAnime: %v", err)
	}
	jobID, err := st.EnqueueJob(ctx, animeID, 6, 3, 0, nil)
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	videoPath := filepath.Join(bulkRoot, "6", "episodes", "ep003.mkv")
	if err := os.MkdirAll(filepath.Dir(videoPath), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(videoPath, []byte("video"), 0o644); err != nil {
		t.Fatalf("write video: %v", err)
	}

	// Make the audio "file" a non-empty directory instead, so os.Remove
	// fails with a real error rather than succeeding or reporting not-exist.
	audioPath := filepath.Join(workRoot, "audio", "6", "episodes", "ep003.wav")
	if err := os.MkdirAll(audioPath, 0o755); err != nil {
		t.Fatalf("mkdir audioPath: %v", err)
	}
	if err := os.WriteFile(filepath.Join(audioPath, "occupied"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := st.ClaimNext(ctx, model.StageDownloading); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	size := int64(5)
	if err := st.CommitStage(ctx, jobID, model.StageDownloading, model.StageDownloaded, store.JobUpdate{
		VideoPath: &videoPath, VideoSizeBytes: &size,
	}); err != nil {
		t.Fatalf("CommitStage: %v", err)
	}
	job, err := st.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}

	disk := &countingInvalidator{}
	exec := NewStageExecutor(New(Config{WorkRoot: workRoot}), st, disk, testLogger())
	exec.PostCommit(ctx, job)

	if _, err := os.Stat(videoPath); err != nil {
		t.Errorf("video file was removed even though audio cleanup failed: %v", err)
	}

	got, err := st.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.AudioDeleted {
		t.Error("AudioDeleted = true, want false (cleanup failed)")
	}
	if got.VideoDeleted {
		t.Error("VideoDeleted = true, want false (video cleanup must not run before audio succeeds)")
	}
	if disk.calls != 0 {
		t.Errorf("disk.Invalidate() called %d times, want 0 (PostCommit should return early on audio failure)", disk.calls)
	}
}
