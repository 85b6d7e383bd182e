package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"statusloop/internal/status"
	logx "statusloop/pkg/logx"
)

type fakeTransport struct {
	statusCalls   []Update
	presenceCalls []status.Presence

	statusErr   error
	presenceErr error

	sawDeadline bool
}

func (f *fakeTransport) SetCustomStatus(ctx context.Context, u Update) error {
	_, f.sawDeadline = ctx.Deadline()
	f.statusCalls = append(f.statusCalls, u)
	return f.statusErr
}

func (f *fakeTransport) SetPresence(ctx context.Context, state status.Presence) error {
	f.presenceCalls = append(f.presenceCalls, state)
	return f.presenceErr
}

func TestApplyCustomStatusOnly(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{}
	a := New(tr, 0, logx.Nop())

	step := status.Step{Text: "deep work", Emoji: &status.Emoji{Name: "brain"}}
	if err := a.Apply(context.Background(), step); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(tr.statusCalls) != 1 {
		t.Fatalf("status calls = %d, want 1", len(tr.statusCalls))
	}
	if got := tr.statusCalls[0]; got.Text != "deep work" || got.Emoji == nil || got.Emoji.Name != "brain" {
		t.Fatalf("unexpected update: %+v", got)
	}
	if len(tr.presenceCalls) != 0 {
		t.Fatal("no presence-state call expected without step.Presence")
	}
	if !tr.sawDeadline {
		t.Fatal("apply must bound the transport call with a deadline")
	}
}

func TestApplySetsPresenceState(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{}
	a := New(tr, time.Second, logx.Nop())

	step := status.Step{Text: "afk", Presence: status.PresenceIdle}
	if err := a.Apply(context.Background(), step); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(tr.presenceCalls) != 1 || tr.presenceCalls[0] != status.PresenceIdle {
		t.Fatalf("presence calls = %v, want [idle]", tr.presenceCalls)
	}
}

func TestApplyPresenceFailureIsSwallowed(t *testing.T) {
	t.Parallel()
	tr := &fakeTransport{presenceErr: errors.New("gateway sulking")}
	a := New(tr, time.Second, logx.Nop())

	step := status.Step{Text: "ok", Presence: status.PresenceDND}
	if err := a.Apply(context.Background(), step); err != nil {
		t.Fatalf("presence-state failure must not fail the apply: %v", err)
	}
}

func TestApplyStatusFailurePropagates(t *testing.T) {
	t.Parallel()
	wantErr := errors.New("rate limited")
	tr := &fakeTransport{statusErr: wantErr, presenceErr: nil}
	a := New(tr, time.Second, logx.Nop())

	err := a.Apply(context.Background(), status.Step{Text: "x", Presence: status.PresenceOnline})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want wrapped %v", err, wantErr)
	}
	if len(tr.presenceCalls) != 0 {
		t.Fatal("presence-state must not be touched when the status update fails")
	}
}
