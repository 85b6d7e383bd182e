// Package discord implements the presence transport against the Discord
// user-settings REST endpoint.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"statusloop/internal/presence"
	"statusloop/internal/status"
	logx "statusloop/pkg/logx"
)

const (
	defaultAPIBase = "https://discord.com/api/v9"
	settingsPath   = "/users/@me/settings"
)

type Config struct {
	Token   string
	APIBase string
	// Timeout bounds a single HTTP round trip. The applier layers its own
	// per-apply deadline on top.
	Timeout    time.Duration
	RatePerSec int
}

// Client is a minimal REST client for the two settings fields this daemon
// touches: custom_status and the coarse status. It rate-limits itself
// client-side so a fast rotation cannot trip Discord's limiter.
type Client struct {
	cfg     Config
	log     logx.Logger
	http    *http.Client
	limiter *rate.Limiter
	base    string
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("discord token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/")
	if base == "" {
		base = defaultAPIBase
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	return &Client{
		cfg:     cfg,
		log:     log,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		base:    base,
	}, nil
}

// customStatus is the wire shape of the custom_status settings field.
//
// Absent emoji is encoded with the endpoint's sentinel values (empty name,
// "0" id) rather than omitting the fields; internally absence is a nil
// *status.Emoji and the sentinel exists only here at the boundary.
type customStatus struct {
	Text      string `json:"text"`
	EmojiName string `json:"emoji_name"`
	EmojiID   string `json:"emoji_id"`
	CreatedAt int64  `json:"created_at_ms"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

type settingsPatch struct {
	CustomStatus *customStatus `json:"custom_status,omitempty"`
	Status       string        `json:"status,omitempty"`
}

func (c *Client) SetCustomStatus(ctx context.Context, u presence.Update) error {
	cs := &customStatus{
		Text:      u.Text,
		EmojiName: "",
		EmojiID:   "0",
		CreatedAt: u.CreatedAt.UnixMilli(),
	}
	if u.Emoji != nil {
		cs.EmojiName = u.Emoji.Name
		if u.Emoji.ID != "" {
			cs.EmojiID = u.Emoji.ID
		}
	}
	if !u.ExpiresAt.IsZero() {
		cs.ExpiresAt = u.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return c.patchSettings(ctx, settingsPatch{CustomStatus: cs})
}

func (c *Client) SetPresence(ctx context.Context, state status.Presence) error {
	if state == status.PresenceUnset {
		return nil
	}
	return c.patchSettings(ctx, settingsPatch{Status: string(state)})
}

func (c *Client) patchSettings(ctx context.Context, p settingsPatch) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.base+settingsPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		c.log.Debug("settings update rejected",
			logx.Int("status", resp.StatusCode), logx.String("body", string(snippet)))
		return fmt.Errorf("discord settings update: HTTP %d", resp.StatusCode)
	}
	return nil
}

// compile-time interface check
var _ presence.Transport = (*Client)(nil)
