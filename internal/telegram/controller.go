// Package telegram exposes the rotation scheduler over a Telegram bot and
// doubles as the notifier's chat delivery channel.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"statusloop/internal/rotation"
	"statusloop/internal/status"
	logx "statusloop/pkg/logx"
	"statusloop/pkg/tgui"
)

type Config struct {
	Token        string
	OwnerUserIDs []int64
	ChatID       int64
	PollTimeout  time.Duration
}

// Rotator is the scheduler surface the bot drives.
type Rotator interface {
	Start(ctx context.Context, category string) error
	Stop()
	IsRunning() bool
	ActiveCategory() string
	ReconfigureInterval(seconds int)
	History() []rotation.HistoryItem
}

type Controller struct {
	cfg    Config
	log    logx.Logger
	bot    *tele.Bot
	rot    Rotator
	source rotation.Source

	owners   map[int64]bool
	stopOnce sync.Once
}

func New(cfg Config, rot Rotator, source rotation.Source, log logx.Logger) (*Controller, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	owners := make(map[int64]bool, len(cfg.OwnerUserIDs))
	for _, id := range cfg.OwnerUserIDs {
		owners[id] = true
	}

	c := &Controller{cfg: cfg, log: log, bot: b, rot: rot, source: source, owners: owners}
	c.registerHandlers()
	return c, nil
}

func (c *Controller) registerHandlers() {
	c.bot.Use(c.ownersOnly)

	c.bot.Handle("/rotate", c.handleRotate)
	c.bot.Handle("/stop", c.handleStop)
	c.bot.Handle("/status", c.handleStatus)
	c.bot.Handle("/interval", c.handleInterval)
	c.bot.Handle("/list", c.handleList)
}

// ownersOnly drops updates from anyone not in the allowlist. An empty
// allowlist locks the bot down entirely; that is a config mistake we surface
// in logs at startup rather than an open bot.
func (c *Controller) ownersOnly(next tele.HandlerFunc) tele.HandlerFunc {
	return func(tc tele.Context) error {
		sender := tc.Sender()
		if sender == nil || !c.owners[sender.ID] {
			id := int64(0)
			if sender != nil {
				id = sender.ID
			}
			c.log.Debug("ignoring command from non-owner", logx.Int64("user_id", id))
			return nil
		}
		return next(tc)
	}
}

func (c *Controller) handleRotate(tc tele.Context) error {
	category := strings.TrimSpace(tc.Message().Payload)
	err := c.rot.Start(context.Background(), category)
	switch {
	case errors.Is(err, rotation.ErrEmptyStepSet):
		// The notifier already carried the message; acknowledge inline too.
		return tc.Send("nothing to rotate - check your step list")
	case err != nil:
		return tc.Send("rotation failed to start: " + err.Error())
	default:
		return tc.Send("rotation started" + suffixCategory(category))
	}
}

func (c *Controller) handleStop(tc tele.Context) error {
	c.rot.Stop()
	return tc.Send("rotation stopped")
}

func (c *Controller) handleStatus(tc tele.Context) error {
	var b strings.Builder
	if c.rot.IsRunning() {
		b.WriteString(tgui.B("rotation: running").String() + tgui.Esc(suffixCategory(c.rot.ActiveCategory())).String() + "\n")
	} else {
		b.WriteString(tgui.B("rotation: stopped").String() + "\n")
	}
	settings := c.source.Settings()
	fmt.Fprintf(&b, "interval: %ds, randomize: %v\n", settings.IntervalSeconds, settings.Randomize)

	hist := c.rot.History()
	if n := len(hist); n > 0 {
		b.WriteString(tgui.B("recent:").String() + "\n")
		if n > 5 {
			hist = hist[n-5:]
		}
		for _, h := range hist {
			line := "- " + h.At.Format("15:04:05") + " " + tgui.Esc(h.Step).String()
			if h.Error != "" {
				line += " (failed: " + tgui.Esc(tgui.TruncRunes(h.Error, 120)).String() + ")"
			}
			b.WriteString(line + "\n")
		}
	}
	return tc.Send(b.String(), tele.ModeHTML)
}

func (c *Controller) handleInterval(tc tele.Context) error {
	raw := strings.TrimSpace(tc.Message().Payload)
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		return tc.Send("usage: /interval <seconds>")
	}
	if !c.rot.IsRunning() {
		return tc.Send("rotation is not running; edit the config to change the stored interval")
	}
	c.rot.ReconfigureInterval(seconds)
	effective := seconds
	if min := int(rotation.MinInterval / time.Second); effective < min {
		effective = min
	}
	return tc.Send(fmt.Sprintf("interval set to %ds", effective))
}

func (c *Controller) handleList(tc tele.Context) error {
	steps := c.source.Steps()
	if len(steps) == 0 {
		return tc.Send("no steps configured")
	}
	var b strings.Builder
	for i, st := range steps {
		line := fmt.Sprintf("%d. ", i+1) + tgui.Esc(st.Label()).String()
		if st.Category != "" {
			line += " " + tgui.Code(st.Category).String()
		}
		if st.Presence != status.PresenceUnset {
			line += " (" + string(st.Presence) + ")"
		}
		b.WriteString(line + "\n")
	}
	// Long step lists can exceed Telegram's message cap.
	for _, chunk := range tgui.SplitLines(b.String(), tgui.MaxMessageLen) {
		if err := tc.Send(chunk, tele.ModeHTML); err != nil {
			return err
		}
	}
	return nil
}

// Start launches the long-poll loop. It returns immediately; the bot runs
// until Stop.
func (c *Controller) Start(ctx context.Context) {
	if len(c.owners) == 0 {
		c.log.Warn("telegram bot has no owner_user_ids; all commands will be ignored")
	}
	go c.bot.Start()
	c.log.Info("telegram controller started")
	go func() {
		<-ctx.Done()
		c.Stop()
	}()
}

func (c *Controller) Stop() {
	c.stopOnce.Do(c.bot.Stop)
}

// SendText implements notify.Sender against the configured chat.
func (c *Controller) SendText(ctx context.Context, text string) error {
	_ = ctx
	if c.cfg.ChatID == 0 {
		return errors.New("telegram chat_id not configured")
	}
	_, err := c.bot.Send(tele.ChatID(c.cfg.ChatID), text)
	return err
}

func suffixCategory(category string) string {
	if category == "" {
		return ""
	}
	return fmt.Sprintf(" (category %q)", category)
}
