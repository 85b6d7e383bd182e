package rotation

import (
	"context"
	"errors"
	"time"

	"statusloop/internal/status"
)

const (
	// MinInterval is the hard floor for the tick period, enforced here
	// independently of any validation upstream.
	MinInterval = 5 * time.Second

	// applyThrottle suppresses a tick that lands too soon after the
	// previous successful apply (overlapping ticks from rapid
	// reconfiguration).
	applyThrottle = 2 * time.Second

	// applyAttempts is the total number of tries per step, including the
	// first one.
	applyAttempts = 3

	// retryBackoffStep sizes the wait between attempts: attempt n waits
	// n * retryBackoffStep. Worst case total (1.5s) stays under the tick
	// throttle window.
	retryBackoffStep = 500 * time.Millisecond
)

var (
	// ErrEmptyStepSet means no steps (after category filtering) were
	// available at start time. User-correctable; not retried.
	ErrEmptyStepSet = errors.New("no status steps to rotate")

	// ErrApplyFailed means all apply attempts for a step failed. Terminal
	// for the current run.
	ErrApplyFailed = errors.New("status apply failed after retries")
)

// Settings are the scalar rotation knobs, re-read from the Source on every
// access so external edits take effect between ticks.
type Settings struct {
	IntervalSeconds int
	Randomize       bool
	AutoStart       bool
	ActiveCategory  string
}

// Source yields the current rotation configuration. Implementations
// substitute an empty step list when the underlying store is unreadable;
// that surfaces here as empty-set behavior rather than an error.
type Source interface {
	Steps() []status.Step
	Settings() Settings
}

// Applier pushes one step to the external presence service.
type Applier interface {
	Apply(ctx context.Context, step status.Step) error
}

// Notifier receives human-readable messages at well-defined points: run
// started, empty step set, run aborted. Priority follows the notify
// package's 0..10 scale.
type Notifier interface {
	Notify(ctx context.Context, priority int, text string)
}

const (
	prioInfo = 3
	prioWarn = 5
	prioErr  = 8
)

// HistoryItem records one apply outcome for operational visibility
// (/status over the control bot) and for the optional audit trail.
type HistoryItem struct {
	RunID    string
	At       time.Time
	Step     string
	Emoji    string
	Category string
	Presence string
	Error    string
}
