package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"harvestbot/internal/config"
	"harvestbot/internal/observability/admin"
	"harvestbot/internal/runner"
	"harvestbot/internal/runtime/supervisor"
	"harvestbot/internal/scheduler"
	"harvestbot/internal/storage"
	"harvestbot/internal/trigger"
	"harvestbot/pkg/logx"
)

const (
	scheduleFullHarvest = "full_harvest"
	scheduleTaskCheck   = "task_check"
)

// Serve runs the daemon until ctx ends or a supervised component fails.
func (a *App) Serve(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		if a.sup != nil {
			a.sup.Cancel()
		}
		a.Close()
		return err
	}
	select {
	case <-ctx.Done():
	case <-a.sup.Context().Done():
	}
	fatal := a.sup.Err()

	stopCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	a.Stop(stopCtx)
	if ctx.Err() == nil && fatal != nil {
		return fatal
	}
	return nil
}

// Start registers the cadences and launches background loops.
func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()
	a.started = time.Now()
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)

	if err := a.registerSchedules(cfg); err != nil {
		return err
	}
	if cfg.Schedule.Enabled {
		a.sched.Start(a.sup.Context())
	} else {
		a.log.Info("scheduler disabled; only manual triggers will run")
	}
	a.runner.SetLocation(a.sched.Location())

	// Notifier failures never take down the daemon.
	a.sup.GoRestart("notifier", func(c context.Context) error {
		return a.notif.Run(c, a.bus)
	}, supervisor.WithRestartBackoff(time.Second, 30*time.Second))

	if cfg.Admin.Enabled {
		srv := admin.New(mapAdmin(cfg), admin.Deps{
			Metrics: a.metrics,
			Store:   a.store,
			Trigger: a.TriggerManual,
			Health:  func() any { return a.Health() },
		}, a.log.With(logx.String("comp", "admin")))
		a.sup.GoRestart("admin.http", srv.Serve,
			supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
			supervisor.WithPublishFirstError(true),
		)
	}

	events, unsub := a.bus.Subscribe(64)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		applied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.apply(c, applied, next)
				applied = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.sup.Go0("systemd.watchdog", a.watchdog)
	notifyReady(a.log)

	a.log.Info("harvestbot started",
		logx.Bool("schedule", cfg.Schedule.Enabled),
		logx.String("tz", a.sched.Location().String()),
		logx.String("action", cfg.Action.Mode),
		logx.Bool("admin", cfg.Admin.Enabled),
		logx.Bool("notifier", a.notif.Enabled()),
	)
	return nil
}

func (a *App) registerSchedules(cfg *config.Config) error {
	job := func(ctx context.Context) error {
		_, err := a.runner.Run(ctx, trigger.SourceScheduled)
		return err
	}
	if err := a.sched.AddSchedule(scheduleFullHarvest, cfg.Schedule.FullHarvest, job); err != nil {
		return fmt.Errorf("schedule.full_harvest: %w", err)
	}
	if err := a.sched.AddSchedule(scheduleTaskCheck, cfg.Schedule.TaskCheck, job); err != nil {
		return fmt.Errorf("schedule.task_check: %w", err)
	}
	return nil
}

// TriggerManual starts a manual run in the background, or queues its full
// harvest behind the active run and returns runner.ErrDeferred.
func (a *App) TriggerManual() error {
	if a.sup == nil {
		return errors.New("app not started")
	}
	if a.runner.DeferManual() {
		a.log.Info("manual run deferred until the active run finishes", logx.String("state", a.runner.State().String()))
		return runner.ErrDeferred
	}
	a.sup.Go0("run.manual", func(c context.Context) {
		// Failures are logged and recorded by the runner.
		_, _ = a.runner.Run(c, trigger.SourceManual)
	})
	return nil
}

// Stop unwinds in dependency order, bounding each step.
func (a *App) Stop(ctx context.Context) {
	if a.sup == nil {
		return
	}
	notifyStopping(a.log)
	a.log.Info("stopping")

	step := func(name string, max time.Duration, fn func(context.Context)) {
		start := time.Now()
		c, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		done := make(chan struct{})
		go func() {
			defer close(done)
			fn(c)
		}()
		select {
		case <-done:
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-c.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// The scheduler cancels in-flight runs, which kills exec children.
	step("scheduler", 10*time.Second, a.sched.Stop)
	a.sup.Cancel()
	step("supervisor", 5*time.Second, func(c context.Context) {
		if err := a.sup.Wait(c); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("supervised goroutine failed", logx.Err(err))
		}
	})
	a.log.Info("stopped")
	a.Close()
}

// apply hot-reloads what can change live and warns about the rest.
func (a *App) apply(ctx context.Context, prev, next *config.Config) {
	ch := config.Diff(prev, next)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(ch.RestartRequired) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(ch.RestartRequired, ",")))
	}

	if ch.Has("logging") {
		a.logs.Apply(mapLogging(next, a.opts.LogLevel))
	}
	if ch.Has("runner") {
		a.runner.SetActionTimeout(config.Duration(next.Runner.ActionTimeout, 0))
	}
	if ch.Has("schedule") {
		a.applySchedule(ctx, prev, next)
	}
	if ch.Has("notifier") {
		a.notif.Apply(mapNotifier(next))
		pn, nn := prev.Notifier, next.Notifier
		if pn.Token != nn.Token || pn.ChatID != nn.ChatID || pn.ThreadID != nn.ThreadID || pn.Enabled != nn.Enabled || pn.Timeout != nn.Timeout {
			sender, err := newSender(next)
			if err != nil {
				a.log.Warn("notifier sender rebuild failed; keeping previous", logx.Err(err))
			} else {
				a.notif.SetSender(sender)
			}
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) applySchedule(ctx context.Context, prev, next *config.Config) {
	a.sched.Apply(mapScheduler(next))
	a.runner.SetLocation(a.sched.Location())

	if prev.Schedule.FullHarvest != next.Schedule.FullHarvest || prev.Schedule.TaskCheck != next.Schedule.TaskCheck {
		if err := a.registerSchedules(next); err != nil {
			a.log.Warn("schedule update failed", logx.Err(err))
		}
	}
	switch {
	case prev.Schedule.Enabled && !next.Schedule.Enabled:
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	case !prev.Schedule.Enabled && next.Schedule.Enabled:
		a.log.Info("scheduler enabled via config")
		a.sched.Start(a.sup.Context())
	}
}

// Health is the /healthz payload.
type Health struct {
	Status        string              `json:"status"`
	StartedAt     time.Time           `json:"started_at"`
	Uptime        string              `json:"uptime"`
	Runner        string              `json:"runner"`
	LastRun       *storage.RunRecord  `json:"last_run,omitempty"`
	Scheduler     scheduler.Snapshot  `json:"scheduler"`
	Supervisor    supervisor.Snapshot `json:"supervisor"`
	EventsDropped uint64              `json:"events_dropped"`
	Notifications struct {
		Enabled bool   `json:"enabled"`
		Sent    uint64 `json:"sent"`
		Failed  uint64 `json:"failed"`
	} `json:"notifications"`
}

func (a *App) Health() Health {
	h := Health{
		Status:        "ok",
		StartedAt:     a.started,
		Uptime:        time.Since(a.started).Round(time.Second).String(),
		Runner:        a.runner.State().String(),
		Scheduler:     a.sched.Snapshot(),
		EventsDropped: a.bus.Dropped(),
	}
	if a.sup != nil {
		h.Supervisor = a.sup.Snapshot()
		if h.Supervisor.FirstError != "" {
			h.Status = "degraded"
		}
	}
	if last := a.runner.Last(); last != nil {
		rec := last.Record()
		h.LastRun = &rec
	}
	h.Notifications.Enabled = a.notif.Enabled()
	h.Notifications.Sent, h.Notifications.Failed = a.notif.Counters()
	return h
}
