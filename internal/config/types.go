package config

import (
	"errors"
	"fmt"
	"strings"
)

type Config struct {
	Discord DiscordConfig `json:"discord"`
	Logging LoggingConfig `json:"logging"`

	// Rotation holds the status step list and rotation knobs. This block is
	// the part of the file users edit most; it is re-read on every tick, so
	// edits (delivered by the file watcher) take effect without a restart.
	Rotation RotationConfig `json:"rotation"`

	// Telegram enables the optional control bot + notification channel.
	Telegram *TelegramConfig `json:"telegram,omitempty"`

	// Schedule optionally starts/stops the rotation at cron times.
	Schedule *ScheduleConfig `json:"schedule,omitempty"`

	// Audit optionally records every applied status.
	Audit *AuditConfig `json:"audit,omitempty"`
}

type DiscordConfig struct {
	Token string `json:"token"`

	// APIBase overrides the Discord REST base URL (tests, proxies).
	APIBase string `json:"api_base,omitempty"`

	// RequestTimeout is a Go duration string (e.g. "8s"). It bounds a single
	// status-update HTTP call so a hung request cannot stall the retry loop.
	RequestTimeout string `json:"request_timeout,omitempty"`

	// RatePerSec caps outgoing settings updates client-side.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`

	// ChatID is where notifications are delivered (start/stop/failure).
	ChatID int64 `json:"chat_id"`

	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// RotationConfig is the persisted rotation state: the ordered step list plus
// the scalar knobs. Insertion order of Steps is significant in sequential mode.
type RotationConfig struct {
	// IntervalSeconds is the tick period. The scheduler enforces a hard 5s
	// floor regardless of what is configured here.
	IntervalSeconds int  `json:"interval_seconds"`
	Randomize       bool `json:"randomize"`
	AutoStart       bool `json:"auto_start"`

	// ActiveCategory, when set, restricts auto-started runs to steps tagged
	// with that category. Compared case-insensitively.
	ActiveCategory string `json:"active_category,omitempty"`

	Steps []StepConfig `json:"steps"`
}

type StepConfig struct {
	Text  string       `json:"text"`
	Emoji *EmojiConfig `json:"emoji,omitempty"`

	// Category is a free-form tag used for filtering. Not unique.
	Category string `json:"category,omitempty"`

	// Presence optionally switches the coarse presence state when this step
	// is applied: "online", "idle", "dnd", "invisible". Empty leaves it alone.
	Presence string `json:"presence,omitempty"`
}

type EmojiConfig struct {
	Name string `json:"name"`
	// ID is set only for custom (guild/Nitro) emoji; unicode emoji carry
	// only Name.
	ID       string `json:"id,omitempty"`
	Animated bool   `json:"animated,omitempty"`
}

// ScheduleConfig takes effect at boot and again whenever the watcher
// delivers an edited schedule block.
type ScheduleConfig struct {
	// StartSpec/StopSpec are cron expressions (5-field or descriptors like
	// "@daily"). Either may be empty.
	StartSpec string `json:"start_spec,omitempty"`
	StopSpec  string `json:"stop_spec,omitempty"`
}

// AuditConfig controls the optional applied-status audit trail.
//
// Driver values:
//   - "file": append-only JSON Lines file
//   - "sqlite": SQLite database file (requires the sqlite build tag)
//
// Empty or "none" disables auditing.
type AuditConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

var validPresence = map[string]bool{
	"": true, "online": true, "idle": true, "dnd": true, "invisible": true,
}

// Validate rejects configs that would misbehave at runtime. It runs before a
// watched reload is committed, so a bad edit never replaces a good running
// config. At boot, Load applies only validateCore fatally and recovers a bad
// rotation block instead.
func (c *Config) Validate() error {
	if err := c.validateCore(); err != nil {
		return err
	}
	return c.validateRotation()
}

// validateCore covers the fields the daemon cannot run without.
func (c *Config) validateCore() error {
	if strings.TrimSpace(c.Discord.Token) == "" {
		return errors.New("discord.token is required")
	}
	if _, err := ParseDurationField("discord.request_timeout", c.Discord.RequestTimeout); err != nil {
		return err
	}
	if c.Telegram != nil {
		if strings.TrimSpace(c.Telegram.Token) == "" {
			return errors.New("telegram.token is required when telegram is configured")
		}
		if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
			return err
		}
	}
	if c.Audit != nil {
		if _, err := ParseDurationField("audit.busy_timeout", c.Audit.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}

// validateRotation covers the user-edited step list.
func (c *Config) validateRotation() error {
	if c.Rotation.IntervalSeconds < 0 {
		return errors.New("rotation.interval_seconds must be >= 0")
	}
	for i, st := range c.Rotation.Steps {
		if !validPresence[strings.ToLower(strings.TrimSpace(st.Presence))] {
			return fmt.Errorf("rotation.steps[%d].presence: unknown value %q", i, st.Presence)
		}
		if st.Emoji != nil && strings.TrimSpace(st.Emoji.Name) == "" {
			return fmt.Errorf("rotation.steps[%d].emoji.name is required when emoji is set", i)
		}
	}
	return nil
}
