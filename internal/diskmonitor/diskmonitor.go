// Package diskmonitor is the coordinator's disk-pressure gate. It
// periodically sums file sizes under bulk_root and work_root and exposes a
// pause/resume decision that stage runners consult before claiming new
// work, walking the tree and accumulating byte totals bucketed by kind.
package diskmonitor

import (
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Usage is a snapshot of on-disk bytes, broken down by the buckets
// tracks separately so an operator can see what's consuming space.
type Usage struct {
	VideoBytes      int64
	AudioBytes      int64
	TranscriptBytes int64
	DBBytes         int64
	CacheBytes      int64
	TotalBytes      int64
	MeasuredAt      time.Time
}

func (u Usage) TotalGB() float64 {
	return float64(u.TotalBytes) / (1024 * 1024 * 1024)
}

var (
	videoExtensions = map[string]bool{
		".mkv": true, ".mp4": true, ".avi": true, ".webm": true, ".mov": true,
	}
	audioExtensions = map[string]bool{
		".wav": true, ".flac": true, ".aac": true, ".mp3": true, ".opus": true, ".m4a": true,
	}
	transcriptExtensions = map[string]bool{
		".srt": true, ".vtt": true, ".txt": true, ".json": true,
	}
	dbExtensions = map[string]bool{
		".db": true, ".db-wal": true, ".db-shm": true, ".sqlite": true,
	}
)

// Monitor tracks disk usage across bulk_root and work_root and decides
// whether stage runners should pause claiming new work. The measurement is
// cached for cacheTTL so a burst of claim attempts doesn't each re-walk the
// filesystem; Invalidate forces the next Usage call to re-measure.
type Monitor struct {
	bulkRoot string
	workRoot string
	cacheDir string

	hardLimitBytes  int64
	pauseBytes      int64
	resumeBytes     int64
	cacheTTL        time.Duration

	log *logrus.Entry

	mu        sync.RWMutex
	cached    Usage
	cachedAt  time.Time
	paused    bool
}

// New constructs a Monitor. cacheDir is the opaque metadata-cache directory
// under work_root, tracked separately from transcripts so the cache backend
// doesn't silently starve the pipeline's own disk budget.
func New(bulkRoot, workRoot, cacheDir string, hardLimitGB, pauseThresholdGB, resumeThresholdGB float64, cacheTTL time.Duration, log *logrus.Logger) *Monitor {
	const gb = 1024 * 1024 * 1024
	return &Monitor{
		bulkRoot:       bulkRoot,
		workRoot:       workRoot,
		cacheDir:       cacheDir,
		hardLimitBytes: int64(hardLimitGB * gb),
		pauseBytes:     int64(pauseThresholdGB * gb),
		resumeBytes:    int64(resumeThresholdGB * gb),
		cacheTTL:       cacheTTL,
		log:            log.WithField("component", "diskmonitor"),
	}
}

// Usage returns the current disk usage snapshot, measuring fresh if the
// cached value is older than cacheTTL.
func (m *Monitor) Usage() Usage {
	m.mu.RLock()
	fresh := time.Since(m.cachedAt) < m.cacheTTL && !m.cachedAt.IsZero()
	cached := m.cached
	m.mu.RUnlock()
	if fresh {
		return cached
	}
	return m.measure()
}

// Invalidate forces the next Usage call to re-measure rather than serve the
// cached value, called after a job deletes its video or audio so the
// pause decision reflects freed space immediately instead of waiting out the
// cache TTL.
func (m *Monitor) Invalidate() {
	m.mu.Lock()
	m.cachedAt = time.Time{}
	m.mu.Unlock()
}

// ShouldPause reports whether new claims should stop: either the measured
// total has crossed pauseBytes, or a prior pause hasn't yet dropped back
// below resumeBytes. The hysteresis band between pause and resume thresholds
// avoids flapping when usage sits right at the pause line.
func (m *Monitor) ShouldPause() bool {
	usage := m.Usage()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.paused {
		if usage.TotalBytes < m.resumeBytes {
			m.paused = false
			m.log.WithField("total_bytes", usage.TotalBytes).Info("disk usage dropped below resume threshold, resuming claims")
		}
		return m.paused
	}

	if usage.TotalBytes >= m.pauseBytes {
		m.paused = true
		m.log.WithField("total_bytes", usage.TotalBytes).Warn("disk usage crossed pause threshold, pausing claims")
	}
	return m.paused
}

// HardLimitExceeded reports whether usage has crossed the hard limit, past
// which in-flight downloads/extractions should themselves abort rather than
// merely pausing new claims.
func (m *Monitor) HardLimitExceeded() bool {
	return m.Usage().TotalBytes >= m.hardLimitBytes
}

func (m *Monitor) measure() Usage {
	usage := Usage{MeasuredAt: time.Now()}

	walk := func(root string, onFile func(path string, size int64)) {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			onFile(path, info.Size())
			return nil
		})
	}

	walk(m.bulkRoot, func(path string, size int64) {
		ext := filepath.Ext(path)
		if videoExtensions[ext] {
			usage.VideoBytes += size
		}
	})

	walk(m.workRoot, func(path string, size int64) {
		ext := filepath.Ext(path)
		switch {
		case filepath.Dir(path) == m.cacheDir || isUnder(path, m.cacheDir):
			usage.CacheBytes += size
		case dbExtensions[ext]:
			usage.DBBytes += size
		case audioExtensions[ext]:
			usage.AudioBytes += size
		case transcriptExtensions[ext]:
			usage.TranscriptBytes += size
		}
	})

	usage.TotalBytes = usage.VideoBytes + usage.AudioBytes + usage.TranscriptBytes + usage.DBBytes + usage.CacheBytes

	m.mu.Lock()
	m.cached = usage
	m.cachedAt = usage.MeasuredAt
	m.mu.Unlock()

	return usage
}

func isUnder(path, dir string) bool {
	if dir == "" {
		return false
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != "." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != ".."
}
