// Package notify delivers human-readable notifications (rotation started,
// empty step set, run aborted) to the configured channels: the structured
// log always, and a chat sender when one is wired in.
package notify

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "statusloop/pkg/logx"
)

type Notification struct {
	At       time.Time
	Priority int // 0 low .. 10 high
	Text     string
}

// Sender is a chat delivery channel (Telegram in this daemon).
type Sender interface {
	SendText(ctx context.Context, text string) error
}

type Config struct {
	QueueSize  int
	RatePerSec int
}

// Service fans notifications out asynchronously. Notify never blocks the
// caller: the scheduler's tick path must not stall on a slow chat API, so a
// full queue drops the message (it is still logged).
type Service struct {
	log     logx.Logger
	sender  Sender
	limiter *rate.Limiter

	queue  chan Notification
	cancel context.CancelFunc
	wg     sync.WaitGroup

	hmu     sync.Mutex
	history []Notification
}

func New(cfg Config, sender Sender, log logx.Logger) *Service {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:     log,
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		queue:   make(chan Notification, cfg.QueueSize),
	}
}

// SetSender installs the chat channel. Call before Start; notifications
// raised earlier are log-only.
func (s *Service) SetSender(sender Sender) { s.sender = sender }

// Start launches the delivery worker. No-op without a sender.
func (s *Service) Start(ctx context.Context) {
	if s.sender == nil || s.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.worker(runCtx)
	}()
}

func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	s.wg.Wait()
}

// Notify records and delivers one notification. Safe for concurrent use.
func (s *Service) Notify(ctx context.Context, priority int, text string) {
	n := Notification{At: time.Now(), Priority: priority, Text: text}

	switch {
	case priority >= 8:
		s.log.Error(text)
	case priority >= 5:
		s.log.Warn(text)
	default:
		s.log.Info(text)
	}
	s.appendHistory(n)

	if s.sender == nil {
		return
	}
	select {
	case s.queue <- n:
	default:
		s.log.Debug("notification queue full; dropping chat delivery",
			logx.String("text", text))
	}
}

// History returns recent notifications, oldest first.
func (s *Service) History() []Notification {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	out := make([]Notification, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-s.queue:
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			if err := s.sender.SendText(ctx, prefix(n.Priority)+n.Text); err != nil {
				s.log.Warn("notification delivery failed",
					logx.String("text", n.Text), logx.Err(err))
			}
		}
	}
}

func prefix(priority int) string {
	switch {
	case priority >= 8:
		return "🚨 "
	case priority >= 5:
		return "⚠️ "
	default:
		return "ℹ️ "
	}
}

func (s *Service) appendHistory(n Notification) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, n)
	if len(s.history) > 300 {
		s.history = s.history[len(s.history)-300:]
	}
}
