package rotation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"statusloop/internal/status"
	logx "statusloop/pkg/logx"
)

type fakeSource struct {
	mu       sync.Mutex
	steps    []status.Step
	settings Settings
}

func (f *fakeSource) Steps() []status.Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]status.Step, len(f.steps))
	copy(out, f.steps)
	return out
}

func (f *fakeSource) Settings() Settings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings
}

func (f *fakeSource) setSteps(steps []status.Step) {
	f.mu.Lock()
	f.steps = steps
	f.mu.Unlock()
}

type fakeApplier struct {
	mu       sync.Mutex
	applied  []status.Step
	failNext int
	failAll  bool
}

func (f *fakeApplier) Apply(ctx context.Context, step status.Step) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return errors.New("transport down")
	}
	if f.failNext > 0 {
		f.failNext--
		return errors.New("transient failure")
	}
	f.applied = append(f.applied, step)
	return nil
}

func (f *fakeApplier) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.applied))
	for i, st := range f.applied {
		out[i] = st.Text
	}
	return out
}

type fakeNotifier struct {
	mu    sync.Mutex
	prios []int
	msgs  []string
}

func (f *fakeNotifier) Notify(ctx context.Context, priority int, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prios = append(f.prios, priority)
	f.msgs = append(f.msgs, text)
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func steps(texts ...string) []status.Step {
	out := make([]status.Step, len(texts))
	for i, t := range texts {
		out[i] = status.Step{Text: t}
	}
	return out
}

func newTestService(src *fakeSource, ap *fakeApplier, nt *fakeNotifier) *Service {
	return New(src, ap, nt, logx.Nop())
}

// attach puts the service into the running state without arming a timer, so
// tests can drive advance() deterministically.
func attach(s *Service, category string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	stopCh := make(chan struct{})
	s.stopCh = stopCh
	s.ticks = make(chan time.Duration, 1)
	s.category = category
	s.index = 0
	s.lastApply = time.Now().Add(-time.Minute)
	return stopCh
}

// unthrottle backdates the last apply so the next advance passes the guard.
func unthrottle(s *Service) {
	s.mu.Lock()
	s.lastApply = time.Now().Add(-time.Minute)
	s.mu.Unlock()
}

func TestStartAppliesFirstStep(t *testing.T) {
	src := &fakeSource{steps: steps("A", "B", "C"), settings: Settings{IntervalSeconds: 60}}
	ap := &fakeApplier{}
	nt := &fakeNotifier{}
	s := newTestService(src, ap, nt)
	defer s.Stop()

	if err := s.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !s.IsRunning() {
		t.Fatal("expected running after Start")
	}
	if got := ap.texts(); len(got) != 1 || got[0] != "A" {
		t.Fatalf("applied = %v, want [A]", got)
	}
	if nt.count() != 1 {
		t.Fatalf("expected one started notification, got %d", nt.count())
	}
}

func TestStartEmptyStepSet(t *testing.T) {
	src := &fakeSource{settings: Settings{IntervalSeconds: 60}}
	ap := &fakeApplier{}
	nt := &fakeNotifier{}
	s := newTestService(src, ap, nt)

	err := s.Start(context.Background(), "")
	if !errors.Is(err, ErrEmptyStepSet) {
		t.Fatalf("err = %v, want ErrEmptyStepSet", err)
	}
	if s.IsRunning() {
		t.Fatal("expected stopped after empty start")
	}
	if len(ap.texts()) != 0 {
		t.Fatal("nothing should have been applied")
	}
	if nt.count() != 1 {
		t.Fatalf("expected one notification, got %d", nt.count())
	}
}

func TestStartInitialApplyFailure(t *testing.T) {
	src := &fakeSource{steps: steps("A"), settings: Settings{IntervalSeconds: 60}}
	ap := &fakeApplier{failAll: true}
	nt := &fakeNotifier{}
	s := newTestService(src, ap, nt)

	err := s.Start(context.Background(), "")
	if !errors.Is(err, ErrApplyFailed) {
		t.Fatalf("err = %v, want ErrApplyFailed", err)
	}
	if s.IsRunning() {
		t.Fatal("scheduler must stay stopped when the initial apply fails")
	}
}

func TestSequentialOrderWrapsModuloN(t *testing.T) {
	src := &fakeSource{steps: steps("A", "B", "C"), settings: Settings{IntervalSeconds: 60}}
	ap := &fakeApplier{}
	s := newTestService(src, ap, &fakeNotifier{})
	stopCh := attach(s, "")

	for i := 0; i < 4; i++ {
		unthrottle(s)
		if !s.advance(stopCh, "") {
			t.Fatalf("advance %d ended the run", i)
		}
	}

	want := []string{"B", "C", "A", "B"}
	got := ap.texts()
	if len(got) != len(want) {
		t.Fatalf("applied %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("applied %v, want %v", got, want)
		}
	}
}

func TestRandomizedIndicesStayInRange(t *testing.T) {
	src := &fakeSource{
		steps:    steps("A", "B", "C", "D"),
		settings: Settings{IntervalSeconds: 60, Randomize: true},
	}
	ap := &fakeApplier{}
	s := newTestService(src, ap, &fakeNotifier{})
	stopCh := attach(s, "")

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		unthrottle(s)
		if !s.advance(stopCh, "") {
			t.Fatalf("advance %d ended the run", i)
		}
	}
	for _, text := range ap.texts() {
		switch text {
		case "A", "B", "C", "D":
			seen[text] = true
		default:
			t.Fatalf("applied step %q outside the configured set", text)
		}
	}
	// No index is structurally excluded: with 200 draws over 4 steps every
	// step shows up (miss probability ~4 * 0.75^200).
	for _, want := range []string{"A", "B", "C", "D"} {
		if !seen[want] {
			t.Fatalf("step %q never applied across randomized run", want)
		}
	}
}

func TestCategoryFilterAppliesOnlyTaggedSteps(t *testing.T) {
	src := &fakeSource{
		steps: []status.Step{
			{Text: "w1", Category: "work"},
			{Text: "f1", Category: "fun"},
			{Text: "w2", Category: "work"},
		},
		settings: Settings{IntervalSeconds: 60},
	}
	ap := &fakeApplier{}
	s := newTestService(src, ap, &fakeNotifier{})
	stopCh := attach(s, "work")

	for i := 0; i < 4; i++ {
		unthrottle(s)
		if !s.advance(stopCh, "work") {
			t.Fatalf("advance %d ended the run", i)
		}
	}
	for _, st := range ap.applied {
		if st.Category != "work" {
			t.Fatalf("applied step %q from category %q during a work run", st.Text, st.Category)
		}
	}
}

func TestCategoryRestartResetsIndex(t *testing.T) {
	src := &fakeSource{
		steps: []status.Step{
			{Text: "w1", Category: "work"},
			{Text: "w2", Category: "work"},
			{Text: "f1", Category: "fun"},
		},
		settings: Settings{IntervalSeconds: 60},
	}
	ap := &fakeApplier{}
	s := newTestService(src, ap, &fakeNotifier{})
	defer s.Stop()

	if err := s.Start(context.Background(), "work"); err != nil {
		t.Fatalf("Start(work): %v", err)
	}
	// Restart with a different category; index is discarded.
	if err := s.Start(context.Background(), "fun"); err != nil {
		t.Fatalf("Start(fun): %v", err)
	}
	if got := s.ActiveCategory(); got != "fun" {
		t.Fatalf("ActiveCategory = %q, want fun", got)
	}
	got := ap.texts()
	if len(got) != 2 || got[0] != "w1" || got[1] != "f1" {
		t.Fatalf("applied %v, want [w1 f1]", got)
	}
}

func TestMidRunDeletionStopsCleanly(t *testing.T) {
	src := &fakeSource{
		steps: []status.Step{
			{Text: "x1", Category: "x"},
			{Text: "x2", Category: "x"},
		},
		settings: Settings{IntervalSeconds: 60},
	}
	ap := &fakeApplier{}
	nt := &fakeNotifier{}
	s := newTestService(src, ap, nt)
	stopCh := attach(s, "x")

	src.setSteps(nil)
	unthrottle(s)
	if s.advance(stopCh, "x") {
		t.Fatal("advance should end the run when the filtered set is empty")
	}
	if s.IsRunning() {
		t.Fatal("expected stopped after mid-run deletion")
	}
	if nt.count() != 1 {
		t.Fatalf("expected one stop notification, got %d", nt.count())
	}
}

func TestRetryExhaustionStopsRun(t *testing.T) {
	src := &fakeSource{steps: steps("A", "B"), settings: Settings{IntervalSeconds: 60}}
	ap := &fakeApplier{failAll: true}
	nt := &fakeNotifier{}
	s := newTestService(src, ap, nt)
	stopCh := attach(s, "")

	unthrottle(s)
	if s.advance(stopCh, "") {
		t.Fatal("advance should end the run after exhausted retries")
	}
	if s.IsRunning() {
		t.Fatal("expected stopped after exhausted retries")
	}
	if nt.count() != 1 {
		t.Fatalf("expected exactly one failure notification, got %d", nt.count())
	}
}

func TestTransientFailureRecovers(t *testing.T) {
	src := &fakeSource{steps: steps("A", "B"), settings: Settings{IntervalSeconds: 60}}
	ap := &fakeApplier{failNext: 2}
	s := newTestService(src, ap, &fakeNotifier{})
	stopCh := attach(s, "")

	unthrottle(s)
	if !s.advance(stopCh, "") {
		t.Fatal("advance should survive transient failures within the retry budget")
	}
	if got := ap.texts(); len(got) != 1 || got[0] != "B" {
		t.Fatalf("applied %v, want [B]", got)
	}
}

func TestThrottleGuardSkipsRapidTicks(t *testing.T) {
	t.Parallel()
	src := &fakeSource{steps: steps("A", "B"), settings: Settings{IntervalSeconds: 60}}
	ap := &fakeApplier{}
	s := newTestService(src, ap, &fakeNotifier{})
	stopCh := attach(s, "")

	s.mu.Lock()
	s.lastApply = time.Now()
	s.mu.Unlock()

	if !s.advance(stopCh, "") {
		t.Fatal("throttled advance must keep the run alive")
	}
	if len(ap.texts()) != 0 {
		t.Fatal("throttled advance must not apply a step")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()
	src := &fakeSource{steps: steps("A"), settings: Settings{IntervalSeconds: 60}}
	s := newTestService(src, &fakeApplier{}, &fakeNotifier{})

	// Stopping a stopped scheduler is a no-op.
	s.Stop()
	s.Stop()
	if s.IsRunning() {
		t.Fatal("expected stopped")
	}
}

func TestReconfigureIntervalFloorsPeriod(t *testing.T) {
	t.Parallel()
	src := &fakeSource{steps: steps("A"), settings: Settings{IntervalSeconds: 60}}
	s := newTestService(src, &fakeApplier{}, &fakeNotifier{})
	attach(s, "work")

	s.ReconfigureInterval(1)

	s.mu.Lock()
	ticks := s.ticks
	category := s.category
	s.mu.Unlock()

	select {
	case got := <-ticks:
		if got != MinInterval {
			t.Fatalf("re-armed period = %v, want %v", got, MinInterval)
		}
	default:
		t.Fatal("expected a pending re-arm signal")
	}
	// The active category survives an interval change.
	if category != "work" {
		t.Fatalf("category = %q, want work", category)
	}
}

func TestReconfigureIntervalNoopWhenStopped(t *testing.T) {
	t.Parallel()
	src := &fakeSource{steps: steps("A"), settings: Settings{IntervalSeconds: 60}}
	s := newTestService(src, &fakeApplier{}, &fakeNotifier{})
	s.ReconfigureInterval(30) // must not panic or start anything
	if s.IsRunning() {
		t.Fatal("expected stopped")
	}
}

func TestEffectivePeriod(t *testing.T) {
	t.Parallel()
	tests := []struct {
		seconds int
		want    time.Duration
	}{
		{0, MinInterval},
		{1, MinInterval},
		{4, MinInterval},
		{5, 5 * time.Second},
		{60, time.Minute},
	}
	for _, tt := range tests {
		if got := effectivePeriod(tt.seconds); got != tt.want {
			t.Fatalf("effectivePeriod(%d) = %v, want %v", tt.seconds, got, tt.want)
		}
	}
}

func TestStaleTickAfterRestartIsIgnored(t *testing.T) {
	src := &fakeSource{steps: steps("A", "B"), settings: Settings{IntervalSeconds: 60}}
	ap := &fakeApplier{}
	s := newTestService(src, ap, &fakeNotifier{})

	old := attach(s, "")
	// Simulate a restart swapping the run out from under a pending tick.
	s.mu.Lock()
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	unthrottle(s)
	if s.advance(old, "") {
		t.Fatal("a tick from a superseded run must not continue")
	}
	if !s.IsRunning() {
		t.Fatal("the replacement run must stay running")
	}
	if len(ap.texts()) != 0 {
		t.Fatal("stale tick must not apply a step")
	}
}

// blockingApplier parks every Apply call until release is closed so tests
// can hold a tick in flight.
type blockingApplier struct {
	started chan struct{}
	release chan struct{}
	err     error
}

func (b *blockingApplier) Apply(ctx context.Context, step status.Step) error {
	b.started <- struct{}{}
	<-b.release
	return b.err
}

func TestStopReturnsWhileApplyInFlight(t *testing.T) {
	t.Parallel()
	src := &fakeSource{steps: steps("a", "b"), settings: Settings{IntervalSeconds: 60}}
	ap := &blockingApplier{started: make(chan struct{}, applyAttempts), release: make(chan struct{})}
	nt := &fakeNotifier{}
	s := New(src, ap, nt, logx.Nop())

	stopCh := attach(s, "")
	done := make(chan bool, 1)
	go func() { done <- s.advance(stopCh, "") }()
	<-ap.started

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked behind an in-flight apply")
	}
	if s.IsRunning() {
		t.Fatal("service still running after Stop")
	}

	close(ap.release)
	if <-done {
		t.Fatal("advance committed a tick after Stop")
	}
	if nt.count() != 0 {
		t.Fatalf("a stopped run must not notify about the discarded tick, got %q", nt.msgs)
	}
}

func TestReconfigureIntervalNotBlockedByInFlightApply(t *testing.T) {
	t.Parallel()
	src := &fakeSource{steps: steps("a"), settings: Settings{IntervalSeconds: 60}}
	ap := &blockingApplier{started: make(chan struct{}, applyAttempts), release: make(chan struct{})}
	s := New(src, ap, &fakeNotifier{}, logx.Nop())

	stopCh := attach(s, "")
	go s.advance(stopCh, "")
	<-ap.started

	reconfigured := make(chan struct{})
	go func() {
		s.ReconfigureInterval(30)
		close(reconfigured)
	}()
	select {
	case <-reconfigured:
	case <-time.After(2 * time.Second):
		t.Fatal("ReconfigureInterval blocked behind an in-flight apply")
	}
	close(ap.release)

	select {
	case d := <-s.ticks:
		if d != 30*time.Second {
			t.Fatalf("period = %v, want 30s", d)
		}
	default:
		t.Fatal("no re-arm queued")
	}
}

func TestStopAbandonsRetryBackoff(t *testing.T) {
	t.Parallel()
	src := &fakeSource{steps: steps("a"), settings: Settings{IntervalSeconds: 60}}
	ap := &fakeApplier{failAll: true}
	s := New(src, ap, &fakeNotifier{}, logx.Nop())

	stopCh := attach(s, "")
	done := make(chan bool, 1)
	go func() { done <- s.advance(stopCh, "") }()

	// Let the first attempt fail and the run enter its 500ms backoff wait.
	time.Sleep(100 * time.Millisecond)
	s.Stop()

	select {
	case got := <-done:
		if got {
			t.Fatal("advance continued after Stop")
		}
	case <-time.After(300 * time.Millisecond):
		t.Fatal("retry backoff survived Stop")
	}
}
