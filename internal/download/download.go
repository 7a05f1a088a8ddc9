// Package download implements the download adapter: given a claimed job
// and its cached title-selection decision, invokes the external downloader
// tool, locates the file it produced, and moves it into the bulk filesystem
// layout.
package download

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"episode_pipeline/internal/external"
	"episode_pipeline/internal/model"
)

var videoExtensions = map[string]bool{
	".mkv": true, ".mp4": true, ".avi": true, ".webm": true, ".mov": true,
}

// Config holds everything the adapter needs to run outside the job itself.
type Config struct {
	BulkRoot        string
	WorkRoot        string
	DownloaderPath  string // path to the external downloader executable
	Timeout         time.Duration
}

// Adapter runs the download stage for a single job.
type Adapter struct {
	cfg Config
}

func New(cfg Config) *Adapter {
	return &Adapter{cfg: cfg}
}

// Outcome is what a successful download produced, handed back to the stage
// runner so it can commit the job's terminal fields.
type Outcome struct {
	VideoPath string
	SizeBytes int64
}

// Run downloads the episode for job using sel's selected candidate, placing
// the result under bulk_root/<mal_id>/episodes/ep{episode:03d}.<ext>. The
// downloader is invoked with a dedicated scratch directory so Run can
// unambiguously identify which file it produced even if the directory is
// not empty beforehand (an interrupted prior attempt may have left a
// partial file).
func (a *Adapter) Run(ctx context.Context, job *model.Job, sel *model.Selection) (Outcome, error) {
	scratchDir := filepath.Join(a.cfg.WorkRoot, "downloads", fmt.Sprintf("job-%d", job.ID))
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return Outcome{}, fmt.Errorf("download: create scratch dir: %w", err)
	}

	before := snapshotModTimes(scratchDir)

	_, err := external.Run(ctx, a.cfg.Timeout, a.cfg.DownloaderPath,
		"--mal-id", fmt.Sprintf("%d", job.MALID),
		"--episode", fmt.Sprintf("%d", job.Episode),
		"--selected-index", fmt.Sprintf("%d", sel.SelectedIndex),
		"--out-dir", scratchDir,
	)
	if err != nil {
		return Outcome{}, fmt.Errorf("download: %w", err)
	}

	newest, err := newestVideoFile(scratchDir, before)
	if err != nil {
		return Outcome{}, fmt.Errorf("download: %w", err)
	}

	destDir := filepath.Join(a.cfg.BulkRoot, fmt.Sprintf("%d", job.MALID), "episodes")
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return Outcome{}, fmt.Errorf("download: create dest dir: %w", err)
	}
	dest := filepath.Join(destDir, fmt.Sprintf("ep%03d%s", job.Episode, filepath.Ext(newest)))

	if err := os.Rename(newest, dest); err != nil {
		return Outcome{}, fmt.Errorf("download: move %s to %s: %w", newest, dest, err)
	}

	info, err := os.Stat(dest)
	if err != nil {
		return Outcome{}, fmt.Errorf("download: stat moved file: %w", err)
	}

	_ = os.RemoveAll(scratchDir)

	return Outcome{VideoPath: dest, SizeBytes: info.Size()}, nil
}

// snapshotModTimes records what's already in dir before invoking the
// downloader, so newestVideoFile can ignore stale leftovers from a prior
// interrupted attempt at the same job when picking the produced file.
func snapshotModTimes(dir string) map[string]bool {
	existing := make(map[string]bool)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return existing
	}
	for _, e := range entries {
		existing[e.Name()] = true
	}
	return existing
}

// newestVideoFile returns the most recently modified video file in dir that
// was not present in before. Ties are broken by lexicographically largest
// name, a deterministic tie-break for the case where a downloader writes
// several same-timestamp candidate files (resolved Open Question, see
// DESIGN.md).
func newestVideoFile(dir string, before map[string]bool) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read scratch dir: %w", err)
	}

	type candidate struct {
		path    string
		modTime time.Time
	}
	var candidates []candidate

	for _, e := range entries {
		if e.IsDir() || before[e.Name()] {
			continue
		}
		if !videoExtensions[filepath.Ext(e.Name())] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{path: filepath.Join(dir, e.Name()), modTime: info.ModTime()})
	}

	if len(candidates) == 0 {
		return "", fmt.Errorf("no video file produced in %s", dir)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].modTime.Equal(candidates[j].modTime) {
			return candidates[i].modTime.After(candidates[j].modTime)
		}
		return candidates[i].path > candidates[j].path
	})

	return candidates[0].path, nil
}
