// Package audit provides an optional append-only trail of applied statuses.
//
// It currently supports:
//   - "file": append-only JSON Lines
//   - "sqlite": SQLite database file (build with -tags sqlite)
package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "statusloop/pkg/logx"
)

var ErrDisabled = errors.New("audit disabled")

// Config configures the audit store. An empty or "none" driver disables it.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Entry records one applied (or failed) status. Keep it compact and
// schema-stable.
type Entry struct {
	At       time.Time
	RunID    string
	Step     string
	Emoji    string
	Category string
	Presence string
	Error    string
}

// Store is the persistence API used by the app layer. Appends are
// best-effort from the caller's point of view: an audit failure never fails
// an apply.
type Store interface {
	Append(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if auditing is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown audit driver: " + driver)
	}
}
