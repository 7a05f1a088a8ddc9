// Package pipeline defines the error taxonomy shared by the stage runner and
// its adapters (internal/download, internal/transcribe). A tagged-variant
// error type lets the runner classify failures by Kind without matching on
// error strings, per the coordinator's "no class hierarchies" design note.
package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies a stage failure for retry/terminal routing. See the
// coordinator design for the full table.
type Kind string

const (
	KindStore         Kind = "store_error"
	KindMissingSel    Kind = "missing_selection"
	KindUnselectable  Kind = "unselectable_anime"
	KindDownloader    Kind = "downloader_error"
	KindMissingInput  Kind = "missing_input"
	KindExtraction    Kind = "extraction_error"
	KindTranscription Kind = "transcription_error"
	KindCleanup       Kind = "cleanup_error"
	KindDiskFull      Kind = "disk_full"
)

// Terminal reports whether a failure of this kind must never be retried
// automatically (it requires operator intervention before retry_failed()
// can make progress again).
func (k Kind) Terminal() bool {
	switch k {
	case KindUnselectable, KindMissingInput:
		return true
	default:
		return false
	}
}

// Error is the typed error every adapter returns so the stage runner can
// classify it into a retry decision.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap builds a classified Error, matching the fmt.Errorf("...: %w", err)
// wrapping convention but attaching a retry-relevant Kind alongside the cause.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// New builds a classified Error from a message alone, with no error from
// elsewhere to wrap (e.g. a terminal business-rule failure like
// UnselectableAnime). msg is stored as Err, so Unwrap returns an error
// carrying msg rather than nil.
func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf("%s", msg)}
}

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *pipeline.Error, and reports ok=false otherwise, so callers can treat
// unclassified errors conservatively (retryable, via KindStore semantics).
func KindOf(err error) (Kind, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}
