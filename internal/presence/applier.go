// Package presence translates status steps into presence-service updates.
package presence

import (
	"context"
	"fmt"
	"time"

	"statusloop/internal/status"
	logx "statusloop/pkg/logx"
)

// DefaultTimeout bounds a single apply so a hung network call cannot stall
// the scheduler's retry loop.
const DefaultTimeout = 8 * time.Second

// Update is one custom-status payload. A nil Emoji means "no emoji"; the
// transport encodes whatever sentinel its wire format wants.
type Update struct {
	Text      string
	Emoji     *status.Emoji
	CreatedAt time.Time
	// ExpiresAt zero means the status never expires.
	ExpiresAt time.Time
}

// Transport is the external presence service. The two calls are independent:
// the custom-status fields and the coarse presence state are updated
// separately.
type Transport interface {
	SetCustomStatus(ctx context.Context, u Update) error
	SetPresence(ctx context.Context, state status.Presence) error
}

// Applier pushes one step at a time to the transport. The outcome of Apply
// is decided solely by the custom-status call; the presence-state
// sub-update is best-effort and only logged on failure.
type Applier struct {
	log       logx.Logger
	transport Transport
	timeout   time.Duration
	now       func() time.Time
}

func New(transport Transport, timeout time.Duration, log logx.Logger) *Applier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Applier{log: log, transport: transport, timeout: timeout, now: time.Now}
}

func (a *Applier) Apply(ctx context.Context, step status.Step) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	u := Update{
		Text:      step.Text,
		Emoji:     step.Emoji,
		CreatedAt: a.now(),
	}
	if err := a.transport.SetCustomStatus(ctx, u); err != nil {
		return fmt.Errorf("set custom status: %w", err)
	}

	if step.Presence != status.PresenceUnset {
		if err := a.transport.SetPresence(ctx, step.Presence); err != nil {
			// Swallowed: the status text went through, which is what the
			// caller's success/failure contract is about.
			a.log.Warn("presence state update failed",
				logx.String("state", string(step.Presence)), logx.Err(err))
		}
	}

	a.log.Debug("status applied", logx.String("step", step.Label()))
	return nil
}
