// Package app wires statusloop's services together: config manager, logging,
// presence transport, rotation scheduler, notifier, control bot, audit store
// and the optional cron run windows.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"statusloop/internal/audit"
	"statusloop/internal/config"
	"statusloop/internal/notify"
	"statusloop/internal/presence"
	"statusloop/internal/rotation"
	"statusloop/internal/telegram"
	"statusloop/internal/transport/discord"
	logx "statusloop/pkg/logx"
)

type App struct {
	mgr    *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store    audit.Store
	notifier *notify.Service
	rot      *rotation.Service
	tg *telegram.Controller // nil when telegram is not configured

	cronMu sync.Mutex
	cron   *cron.Cron // nil without run windows

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	// Bootstrap logger so boot-time recovery (a rejected rotation block) is
	// visible before the configured sinks exist.
	mgr.SetLogger(logx.NewConsole("info"))
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	mgr.SetLogger(log.With(logx.String("component", "config")))

	a := &App{mgr: mgr, logSvc: logSvc, log: log}

	reqTimeout, _ := config.ParseDurationField("discord.request_timeout", cfg.Discord.RequestTimeout)
	transport, err := discord.New(discord.Config{
		Token:      cfg.Discord.Token,
		APIBase:    cfg.Discord.APIBase,
		Timeout:    reqTimeout,
		RatePerSec: cfg.Discord.RatePerSec,
	}, log.With(logx.String("component", "discord")))
	if err != nil {
		return nil, err
	}

	applier := presence.New(transport, reqTimeout, log.With(logx.String("component", "presence")))

	if cfg.Audit != nil {
		busy, _ := config.ParseDurationField("audit.busy_timeout", cfg.Audit.BusyTimeout)
		store, err := audit.Open(audit.Config{
			Driver:      cfg.Audit.Driver,
			Path:        cfg.Audit.Path,
			BusyTimeout: busy,
		}, log.With(logx.String("component", "audit")))
		if err != nil {
			return nil, fmt.Errorf("open audit store: %w", err)
		}
		a.store = store
	}

	a.notifier = notify.New(notify.Config{}, nil, log.With(logx.String("component", "notify")))

	src := &configSource{mgr: mgr}
	a.rot = rotation.New(src, applier, a.notifier, log.With(logx.String("component", "rotation")))
	if a.store != nil {
		store := a.store
		alog := log.With(logx.String("component", "audit"))
		a.rot.SetRecorder(func(item rotation.HistoryItem) {
			// Off the scheduler's tick path; audit failures are logged only.
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				err := store.Append(ctx, audit.Entry{
					At:       item.At,
					RunID:    item.RunID,
					Step:     item.Step,
					Emoji:    item.Emoji,
					Category: item.Category,
					Presence: item.Presence,
					Error:    item.Error,
				})
				if err != nil {
					alog.Warn("audit append failed", logx.Err(err))
				}
			}()
		})
	}

	if cfg.Telegram != nil {
		pollTimeout, _ := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
		tg, err := telegram.New(telegram.Config{
			Token:        cfg.Telegram.Token,
			OwnerUserIDs: cfg.Telegram.OwnerUserIDs,
			ChatID:       cfg.Telegram.ChatID,
			PollTimeout:  pollTimeout,
		}, a.rot, src, log.With(logx.String("component", "telegram")))
		if err != nil {
			return nil, fmt.Errorf("telegram controller: %w", err)
		}
		a.tg = tg
		a.notifier.SetSender(tg)
	}

	return a, nil
}

// Rotator exposes the scheduler (CLI subcommands, tests).
func (a *App) Rotator() *rotation.Service { return a.rot }

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.mgr.Watch(runCtx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.watchConfigUpdates(runCtx)
	}()

	a.notifier.Start(runCtx)
	if a.tg != nil {
		a.tg.Start(runCtx)
	}

	cfg := a.mgr.Get()
	if err := a.armRunWindows(cfg); err != nil {
		cancel()
		return err
	}

	if cfg.Rotation.AutoStart {
		category := cfg.Rotation.ActiveCategory
		if err := a.rot.Start(runCtx, category); err != nil {
			// Auto-start failure is not fatal to the daemon: the notifier
			// carried the reason and the bot can start a run later.
			a.log.Warn("auto-start failed", logx.Err(err))
		}
	}

	a.log.Info("statusloop started", logx.String("config", a.mgr.Path()))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_ = ctx
	a.rot.Stop()
	// Cancel first so the reload loop cannot rearm the cron afterwards.
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.cronMu.Lock()
	if a.cron != nil {
		<-a.cron.Stop().Done()
		a.cron = nil
	}
	a.cronMu.Unlock()
	if a.tg != nil {
		a.tg.Stop()
	}
	a.notifier.Stop()
	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.logSvc.Close()
	return nil
}

// watchConfigUpdates applies hot-reloaded config: logging sinks/levels
// immediately, a changed interval is pushed into an active run, and a
// changed schedule block rearms the run windows. Steps and the randomize
// flag need no push at all; the scheduler re-reads them on every tick.
func (a *App) watchConfigUpdates(ctx context.Context) {
	sub := a.mgr.Subscribe(4)
	defer a.mgr.Unsubscribe(sub)

	var lastInterval int
	var lastSchedule config.ScheduleConfig
	if cfg := a.mgr.Get(); cfg != nil {
		lastInterval = cfg.Rotation.IntervalSeconds
		lastSchedule = scheduleOf(cfg)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok || cfg == nil {
				return
			}
			a.logSvc.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
			})
			if cfg.Rotation.IntervalSeconds != lastInterval {
				lastInterval = cfg.Rotation.IntervalSeconds
				a.rot.ReconfigureInterval(cfg.Rotation.IntervalSeconds)
			}
			if sched := scheduleOf(cfg); sched != lastSchedule {
				lastSchedule = sched
				if err := a.armRunWindows(cfg); err != nil {
					a.log.Warn("schedule change rejected", logx.Err(err))
				}
			}
		}
	}
}

func scheduleOf(cfg *config.Config) config.ScheduleConfig {
	if cfg.Schedule == nil {
		return config.ScheduleConfig{}
	}
	return *cfg.Schedule
}

// armRunWindows registers the optional cron start/stop specs, replacing any
// previously armed set. A nil or empty schedule disarms. Called at boot and
// again from the reload loop when the schedule block changes.
func (a *App) armRunWindows(cfg *config.Config) error {
	a.cronMu.Lock()
	defer a.cronMu.Unlock()

	if a.cron != nil {
		<-a.cron.Stop().Done()
		a.cron = nil
	}

	if cfg == nil || cfg.Schedule == nil {
		return nil
	}
	sched := cfg.Schedule
	if sched.StartSpec == "" && sched.StopSpec == "" {
		return nil
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser))

	if sched.StartSpec != "" {
		_, err := c.AddFunc(sched.StartSpec, func() {
			category := ""
			if cur := a.mgr.Get(); cur != nil {
				category = cur.Rotation.ActiveCategory
			}
			if err := a.rot.Start(context.Background(), category); err != nil {
				a.log.Warn("scheduled start failed", logx.Err(err))
			}
		})
		if err != nil {
			return fmt.Errorf("schedule.start_spec: %w", err)
		}
	}
	if sched.StopSpec != "" {
		_, err := c.AddFunc(sched.StopSpec, func() { a.rot.Stop() })
		if err != nil {
			return fmt.Errorf("schedule.stop_spec: %w", err)
		}
	}

	c.Start()
	a.cron = c
	a.log.Info("run windows armed",
		logx.String("start", sched.StartSpec), logx.String("stop", sched.StopSpec))
	return nil
}
