package rotation

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"statusloop/internal/status"
	logx "statusloop/pkg/logx"
)

// Service is the rotation scheduler. Construct instances with New; the zero
// value is not usable. Only one run is active per Service at a time, and a
// non-nil stopCh is the sole source of truth for "is running".
type Service struct {
	mu sync.Mutex

	log      logx.Logger
	source   Source
	applier  Applier
	notifier Notifier

	// run state, guarded by mu
	stopCh    chan struct{}
	ticks     chan time.Duration
	category  string
	runID     string
	index     int
	lastApply time.Time

	rng *rand.Rand
	now func() time.Time

	hmu      sync.Mutex
	history  []HistoryItem
	recorder func(HistoryItem)
}

func New(source Source, applier Applier, notifier Notifier, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:      log,
		source:   source,
		applier:  applier,
		notifier: notifier,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
	}
}

// Start begins a rotation run restricted to category (empty = all steps).
// If a run is already active it is cancelled first (idempotent restart),
// and the rotation index restarts at 0 against the new filtered set.
//
// The first step is applied before the timer is armed; if that apply
// exhausts its retries the scheduler is left stopped and ErrApplyFailed is
// returned. An empty filtered set returns ErrEmptyStepSet with no state
// change. Both outcomes are also reported through the notifier, since
// interactive callers (timer hooks, bot commands) have no return value to
// inspect.
func (s *Service) Start(ctx context.Context, category string) error {
	category = strings.ToLower(strings.TrimSpace(category))

	s.mu.Lock()
	defer s.mu.Unlock()

	steps := status.Filter(s.source.Steps(), category)
	if len(steps) == 0 {
		s.log.Warn("rotation start refused: empty step set", logx.String("category", category))
		s.notify(ctx, prioWarn, emptySetMessage(category))
		return ErrEmptyStepSet
	}

	s.stopLocked()

	s.index = 0
	s.runID = uuid.NewString()
	s.category = category

	if err := s.applyWithRetry(ctx, s.runID, steps[0], nil); err != nil {
		s.category = ""
		s.log.Warn("rotation start failed", logx.String("category", category), logx.Err(err))
		s.notify(ctx, prioErr, "could not start status rotation: "+err.Error())
		return err
	}
	s.lastApply = s.now()

	period := effectivePeriod(s.source.Settings().IntervalSeconds)
	stopCh := make(chan struct{})
	ticks := make(chan time.Duration, 1)
	s.stopCh = stopCh
	s.ticks = ticks
	go s.run(stopCh, ticks, category, period)

	s.log.Info("rotation started",
		logx.String("run_id", s.runID),
		logx.String("category", category),
		logx.Int("steps", len(steps)),
		logx.Duration("period", period))
	s.notify(ctx, prioInfo, "status rotation started"+forCategory(category))
	return nil
}

// Stop cancels the active run. It is idempotent, returns without waiting for
// an in-flight tick (whose result is then discarded), and does not revert
// the currently applied presence; the last status stays visible until a new
// one is set. The rotation index is kept as well.
func (s *Service) Stop() {
	s.mu.Lock()
	s.stopLocked()
	s.mu.Unlock()
}

func (s *Service) stopLocked() {
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	s.stopCh = nil
	s.ticks = nil
	s.category = ""
	s.log.Info("rotation stopped", logx.String("run_id", s.runID))
}

// IsRunning reports whether a run is active.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCh != nil
}

// ActiveCategory returns the category filter of the active run ("" when
// unfiltered or not running).
func (s *Service) ActiveCategory() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.category
}

// ReconfigureInterval re-arms the active run's timer with a new period,
// subject to the MinInterval floor. Rotation progress and the run's category
// filter are untouched; the current step is not re-applied. No-op when not
// running.
func (s *Service) ReconfigureInterval(seconds int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh == nil {
		return
	}
	period := effectivePeriod(seconds)
	// Replace any pending re-arm; the newest period wins.
	select {
	case <-s.ticks:
	default:
	}
	s.ticks <- period
	s.log.Debug("rotation interval updated", logx.Duration("period", period))
}

// History returns a copy of the recent apply records, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	out := make([]HistoryItem, len(s.history))
	copy(out, s.history)
	return out
}

// run drives one rotation run. It owns the timer, so ticks cannot overlap:
// a new tick is armed only after advance returns.
func (s *Service) run(stopCh chan struct{}, ticks <-chan time.Duration, category string, period time.Duration) {
	t := time.NewTimer(period)
	defer t.Stop()
	for {
		select {
		case <-stopCh:
			return
		case d := <-ticks:
			period = d
			if !t.Stop() {
				select {
				case <-t.C:
				default:
				}
			}
			t.Reset(period)
		case <-t.C:
			if !s.advance(stopCh, category) {
				return
			}
			t.Reset(period)
		}
	}
}

// advance performs one tick: re-read config, select the next step, apply it.
// It returns false when the run is over (self-stop or exhausted retries).
// Failures never propagate to the timer; they end the run and surface
// through the notifier.
//
// The mutex is released while the step is applied, so Stop, IsRunning and
// ReconfigureInterval never queue behind a slow transport. The tick commits
// its index/lastApply only if the run identity is unchanged afterwards; a
// stop or restart that lands mid-apply simply discards the tick's result.
func (s *Service) advance(stopCh chan struct{}, category string) bool {
	ctx := context.Background()

	s.mu.Lock()
	if s.stopCh != stopCh {
		// A stop or restart won the race against this tick.
		s.mu.Unlock()
		return false
	}

	if s.now().Sub(s.lastApply) < applyThrottle {
		s.mu.Unlock()
		return true
	}

	// Fresh read every tick: the step list may have been edited since.
	steps := status.Filter(s.source.Steps(), category)
	if len(steps) == 0 {
		runID := s.runID
		s.detachLocked()
		s.mu.Unlock()
		s.log.Info("all matching steps removed; rotation stopped",
			logx.String("run_id", runID), logx.String("category", category))
		s.notify(ctx, prioWarn, "status rotation stopped: no steps left"+forCategory(category))
		return false
	}

	var next int
	if s.source.Settings().Randomize {
		next = s.rng.Intn(len(steps))
	} else {
		next = (s.index + 1) % len(steps)
	}
	step := steps[next]
	runID := s.runID
	s.mu.Unlock()

	err := s.applyWithRetry(ctx, runID, step, stopCh)

	s.mu.Lock()
	if s.stopCh != stopCh {
		// Stopped or restarted while the apply was in flight.
		s.mu.Unlock()
		return false
	}
	if err != nil {
		s.detachLocked()
		s.mu.Unlock()
		s.log.Warn("rotation aborted", logx.String("run_id", runID), logx.Err(err))
		s.notify(ctx, prioErr, "status rotation stopped: "+err.Error())
		return false
	}
	s.index = next
	s.lastApply = s.now()
	s.mu.Unlock()
	return true
}

// detachLocked clears run state from inside the run goroutine (self-stop).
// The stop channel is not closed: the caller returns from run immediately.
func (s *Service) detachLocked() {
	s.stopCh = nil
	s.ticks = nil
	s.category = ""
}

// applyWithRetry tries a step up to applyAttempts times with growing waits
// in between. It holds no locks; a closed stopCh abandons the remaining
// attempts (nil means not abandonable, used for the initial apply before a
// run exists).
func (s *Service) applyWithRetry(ctx context.Context, runID string, step status.Step, stopCh <-chan struct{}) error {
	var err error
	for attempt := 1; attempt <= applyAttempts; attempt++ {
		err = s.applier.Apply(ctx, step)
		if err == nil {
			s.record(runID, step, nil)
			return nil
		}
		s.log.Debug("status apply failed",
			logx.String("step", step.Label()), logx.Int("attempt", attempt), logx.Err(err))
		if attempt == applyAttempts {
			break
		}
		wait := time.NewTimer(time.Duration(attempt) * retryBackoffStep)
		select {
		case <-ctx.Done():
			if !wait.Stop() {
				<-wait.C
			}
			s.record(runID, step, ctx.Err())
			return fmt.Errorf("%w: %v", ErrApplyFailed, ctx.Err())
		case <-stopCh:
			if !wait.Stop() {
				<-wait.C
			}
			s.record(runID, step, err)
			return fmt.Errorf("%w: %v", ErrApplyFailed, err)
		case <-wait.C:
		}
	}
	s.record(runID, step, err)
	return fmt.Errorf("%w: %v", ErrApplyFailed, err)
}

// SetRecorder installs a hook invoked with every apply record (success or
// failure). The hook must not block; install before the first Start.
func (s *Service) SetRecorder(fn func(HistoryItem)) {
	s.hmu.Lock()
	s.recorder = fn
	s.hmu.Unlock()
}

func (s *Service) record(runID string, step status.Step, err error) {
	item := HistoryItem{
		RunID:    runID,
		At:       s.now(),
		Step:     step.Label(),
		Category: step.Category,
		Presence: string(step.Presence),
	}
	if step.Emoji != nil {
		item.Emoji = step.Emoji.Name
	}
	if err != nil {
		item.Error = err.Error()
	}
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, item)
	if len(s.history) > 200 {
		s.history = s.history[len(s.history)-200:]
	}
	if s.recorder != nil {
		s.recorder(item)
	}
}

func (s *Service) notify(ctx context.Context, priority int, text string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, priority, text)
}

// effectivePeriod applies the MinInterval floor to a configured interval.
func effectivePeriod(seconds int) time.Duration {
	p := time.Duration(seconds) * time.Second
	if p < MinInterval {
		return MinInterval
	}
	return p
}

func emptySetMessage(category string) string {
	if category == "" {
		return "nothing to rotate: add some statuses first"
	}
	return fmt.Sprintf("nothing to rotate: no statuses tagged %q", category)
}

func forCategory(category string) string {
	if category == "" {
		return ""
	}
	return fmt.Sprintf(" (category %q)", category)
}
