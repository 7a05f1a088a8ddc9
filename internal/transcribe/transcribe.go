// Package transcribe implements the transcribe adapter: extracts audio
// from a downloaded episode, runs speech-to-text against it, and then
// aggressively reclaims disk by deleting the intermediate audio and the
// source video, in that order, once the transcript is safely committed.
package transcribe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"episode_pipeline/internal/external"
	"episode_pipeline/internal/model"
)

// Config holds the adapter's external dependencies.
type Config struct {
	WorkRoot          string
	ExtractorPath     string // extracts audio from a video container
	TranscriberPath   string // runs speech-to-text against an audio file
	ExtractionTimeout time.Duration
	TranscriptionTimeout time.Duration
}

type Adapter struct {
	cfg Config
}

func New(cfg Config) *Adapter {
	return &Adapter{cfg: cfg}
}

// ExtractAudio pulls an audio track out of job's video into work_root, and
// returns its path and size. The stage runner commits nothing between this
// and TranscribeAudio; both run within a single Execute call.
func (a *Adapter) ExtractAudio(ctx context.Context, job *model.Job) (string, int64, error) {
	audioDir := filepath.Join(a.cfg.WorkRoot, "audio", fmt.Sprintf("%d", job.MALID), "episodes")
	if err := os.MkdirAll(audioDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create audio dir: %w", err)
	}
	audioPath := filepath.Join(audioDir, fmt.Sprintf("ep%03d.wav", job.Episode))

	if _, err := external.Run(ctx, a.cfg.ExtractionTimeout, a.cfg.ExtractorPath,
		"--in", job.VideoPath, "--out", audioPath); err != nil {
		return "", 0, err
	}
	info, err := os.Stat(audioPath)
	if err != nil {
		return "", 0, fmt.Errorf("stat extracted audio: %w", err)
	}
	return audioPath, info.Size(), nil
}

// TranscribeAudio runs speech-to-text against audioPath and returns the
// resulting transcript's path and size.
func (a *Adapter) TranscribeAudio(ctx context.Context, job *model.Job, audioPath string) (string, int64, error) {
	transcriptDir := filepath.Join(a.cfg.WorkRoot, "transcripts", fmt.Sprintf("%d", job.MALID), "episodes")
	if err := os.MkdirAll(transcriptDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create transcript dir: %w", err)
	}
	transcriptPath := filepath.Join(transcriptDir, fmt.Sprintf("ep%03d.txt", job.Episode))

	if _, err := external.Run(ctx, a.cfg.TranscriptionTimeout, a.cfg.TranscriberPath,
		"--in", audioPath, "--out", transcriptPath); err != nil {
		return "", 0, err
	}
	info, err := os.Stat(transcriptPath)
	if err != nil {
		return "", 0, fmt.Errorf("stat transcript: %w", err)
	}
	return transcriptPath, info.Size(), nil
}

// CleanupAudio removes the intermediate audio file. Called only after the
// transcript has been durably committed; the caller is responsible for
// recording the deletion (store.MarkAudioDeleted) only on success, and for
// invalidating the disk monitor's cache afterward so the freed space is
// visible immediately instead of after the cache TTL elapses.
func (a *Adapter) CleanupAudio(job *model.Job) error {
	audioPath := filepath.Join(a.cfg.WorkRoot, "audio", fmt.Sprintf("%d", job.MALID), "episodes", fmt.Sprintf("ep%03d.wav", job.Episode))
	if err := os.Remove(audioPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("transcribe: cleanup audio: %w", err)
	}
	return nil
}

// CleanupVideo removes the source video from bulk_root. Called only after
// CleanupAudio has succeeded, preserving the ordered deletion contract
// so a crash between the two leaves the video (recoverable input) rather
// than the audio (a disposable intermediate) on disk.
func (a *Adapter) CleanupVideo(job *model.Job) error {
	if job.VideoPath == "" {
		return nil
	}
	if err := os.Remove(job.VideoPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("transcribe: cleanup video: %w", err)
	}
	return nil
}
