// Package model holds the shared domain types for anime, episode jobs,
// the title-selection cache, and worker heartbeats. It has no behavior of
// its own; internal/store is the only package that persists these types.
package model

import "time"

// ProcessingStatus tracks how far discovery/enrichment has gotten for an anime.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// Anime is the durable record for a single externally-identified title.
type Anime struct {
	ID               int64            `json:"id"`
	MALID            int64            `json:"mal_id"`
	Title            string           `json:"title"`
	TitleEnglish     string           `json:"title_english,omitempty"`
	TitleJapanese    string           `json:"title_japanese,omitempty"`
	Synonyms         []string         `json:"synonyms,omitempty"`
	Genres           []string         `json:"genres,omitempty"`
	Themes           []string         `json:"themes,omitempty"`
	Demographics     []string         `json:"demographics,omitempty"`
	Studios          []string         `json:"studios,omitempty"`
	Type             string           `json:"type,omitempty"`
	TotalEpisodes    int              `json:"total_episodes,omitempty"`
	AiredFrom        *time.Time       `json:"aired_from,omitempty"`
	AiredTo          *time.Time       `json:"aired_to,omitempty"`
	Season           string           `json:"season,omitempty"`
	Year             int              `json:"year,omitempty"`
	Score            float64          `json:"score,omitempty"`
	Rank             int              `json:"rank,omitempty"`
	Popularity       int              `json:"popularity,omitempty"`
	Source           string           `json:"source,omitempty"`
	Rating           string           `json:"rating,omitempty"`
	DurationMinutes  int              `json:"duration_minutes,omitempty"`
	ProcessingStatus ProcessingStatus `json:"processing_status"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Stage is a terminal label in a job's lifecycle, or the transient in-flight
// label stamped at claim time.
type Stage string

const (
	StageQueued       Stage = "queued"
	StageDownloading  Stage = "downloading"
	StageDownloaded   Stage = "downloaded"
	StageTranscribing Stage = "transcribing"
	StageTranscribed  Stage = "transcribed"
	StageFailed       Stage = "failed"
)

// predecessor maps a transient stage back to the terminal stage it was
// claimed from, used by reap and retry-revert logic.
var predecessor = map[Stage]Stage{
	StageDownloading:  StageQueued,
	StageTranscribing: StageDownloaded,
}

// Predecessor returns the terminal stage a transient stage was claimed from,
// and whether s is in fact a known transient stage.
func Predecessor(s Stage) (Stage, bool) {
	p, ok := predecessor[s]
	return p, ok
}

// Job is a single unit of work for one (anime, episode) pair.
type Job struct {
	ID           int64  `json:"id"`
	AnimeID      int64  `json:"anime_id"`
	MALID        int64  `json:"mal_id"`
	Episode      int    `json:"episode"`
	Stage        Stage  `json:"stage"`
	Progress     float64 `json:"progress"`
	Priority     int    `json:"priority"`
	DependsOn    *int64 `json:"depends_on,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	RetryCount   int    `json:"retry_count"`
	MaxRetries   int    `json:"max_retries"`
	ErrorMessage string `json:"error_message,omitempty"`

	VideoPath      string `json:"video_path,omitempty"`
	TranscriptPath string `json:"transcript_path,omitempty"`

	VideoSizeBytes      *int64 `json:"video_size_bytes,omitempty"`
	AudioSizeBytes      *int64 `json:"audio_size_bytes,omitempty"`
	TranscriptSizeBytes *int64 `json:"transcript_size_bytes,omitempty"`

	VideoDeleted bool `json:"video_deleted"`
	AudioDeleted bool `json:"audio_deleted"`
}

// Confidence is how certain the title-selection collaborator is about its pick.
type Confidence string

const (
	ConfidenceHigh        Confidence = "high"
	ConfidenceMedium      Confidence = "medium"
	ConfidenceLow         Confidence = "low"
	ConfidenceNoCandidate Confidence = "no_candidates"
)

// EpisodeMatch describes how well the chosen candidate's episode count
// reconciles with the anime's MAL-reported episode count.
type EpisodeMatch string

const (
	EpisodeMatchExact      EpisodeMatch = "exact"
	EpisodeMatchClose      EpisodeMatch = "close"
	EpisodeMatchAcceptable EpisodeMatch = "acceptable"
	EpisodeMatchMismatch   EpisodeMatch = "mismatch"
	EpisodeMatchUnknown    EpisodeMatch = "unknown"
)

// Selection is the persisted, one-row-per-mal_id title-selection decision.
type Selection struct {
	MALID            int64        `json:"mal_id"`
	Query            string       `json:"query"`
	SelectedIndex    int          `json:"selected_index"`
	SelectedTitle    string       `json:"selected_title"`
	Confidence       Confidence   `json:"confidence"`
	Reason           string       `json:"reason,omitempty"`
	MALEpisodes      int          `json:"mal_episodes,omitempty"`
	SelectedEpisodes int          `json:"selected_episodes,omitempty"`
	EpisodeMatch     EpisodeMatch `json:"episode_match,omitempty"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// WorkerType distinguishes which stage runner a heartbeat row belongs to.
type WorkerType string

const (
	WorkerDownload   WorkerType = "download"
	WorkerTranscribe WorkerType = "transcribe"
)

// Worker is a heartbeat row for one logical stage-runner goroutine.
type Worker struct {
	WorkerID      string     `json:"worker_id"`
	WorkerType    WorkerType `json:"worker_type"`
	StartedAt     time.Time  `json:"started_at"`
	LastHeartbeat time.Time  `json:"last_heartbeat"`
}
