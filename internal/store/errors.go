package store

import "errors"

// Sentinel errors returned by queue operations, continuing the
// wrapped-error convention (fmt.Errorf("...: %w", err)) while giving callers
// a value to compare against with errors.Is.
var (
	// ErrNotFound is returned when a lookup (anime, job, selection) finds no row.
	ErrNotFound = errors.New("store: not found")

	// ErrNoJobAvailable is returned by ClaimNext when no row is eligible.
	ErrNoJobAvailable = errors.New("store: no job available")

	// ErrNotHeld is returned by CommitStage/FailJob when the job is not
	// currently sitting in the expected transient stage, guarding against
	// double commits from a racing or reaped worker.
	ErrNotHeld = errors.New("store: job not held in expected stage")
)
