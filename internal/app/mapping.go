package app

import (
	"fmt"
	"strings"
	"time"

	"harvestbot/internal/action"
	"harvestbot/internal/config"
	"harvestbot/internal/github"
	"harvestbot/internal/harvester"
	"harvestbot/internal/notifier"
	"harvestbot/internal/observability/admin"
	"harvestbot/internal/observability/metrics"
	"harvestbot/internal/retry"
	"harvestbot/internal/scheduler"
	"harvestbot/internal/storage"
	"harvestbot/pkg/logx"
)

func mapLogging(cfg *config.Config, levelOverride string) logx.Config {
	level := cfg.Logging.Level
	if strings.TrimSpace(levelOverride) != "" {
		level = levelOverride
	}
	return logx.Config{
		Level:   level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorage(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	if (driver == "sqlite" || driver == "sqlite3") && path == "" {
		return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}
	return storage.Config{
		Driver:      driver,
		Path:        path,
		BusyTimeout: config.Duration(sc.BusyTimeout, time.Second),
		Retain:      sc.Retain,
	}, nil
}

func mapGitHub(cfg *config.Config, log logx.Logger, m *metrics.Metrics) github.Config {
	gc := cfg.GitHub
	maxRetries := gc.RetryMax
	if maxRetries == 0 {
		// Zero means "no retries" in config; the client treats 0 as its default.
		maxRetries = -1
	}
	return github.Config{
		BaseURL:       gc.BaseURL,
		AllowInsecure: gc.AllowInsecure,
		Token:         gc.Token,
		Timeout:       config.Duration(gc.Timeout, 30*time.Second),
		RatePerSec:    gc.RatePerSec,
		Retry:         retry.Policy{Max: maxRetries},
		Logger:        log,
		OnResponse:    m.ObserveGitHub,
	}
}

func mapHarvester(cfg *config.Config, log logx.Logger) harvester.Config {
	hc := cfg.Harvester
	return harvester.Config{
		TasksRepo:   cfg.GitHub.TasksRepo,
		ResultsRepo: cfg.GitHub.ResultsRepo,
		BotName:     hc.BotName,
		Branch:      hc.Branch,
		OutputDir:   hc.OutputDir,
		TopicPause:  config.Duration(hc.TopicPause, 0),
		Scheduled: harvester.Params{
			Topics:        hc.Scheduled.Topics,
			MinStars:      hc.Scheduled.MinStars,
			CreatedAfter:  hc.Scheduled.CreatedAfter,
			CountPerTopic: hc.Scheduled.CountPerTopic,
		},
		Logger: log,
	}
}

func mapAction(cfg *config.Config, h action.Harvester, log logx.Logger) (action.Action, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Action.Mode)) {
	case config.ActionExec:
		return action.NewExec(action.ExecConfig{
			Command:     cfg.Action.Command,
			Workdir:     cfg.Action.Workdir,
			GitHubToken: cfg.GitHub.Token,
			WaitDelay:   config.Duration(cfg.Action.WaitDelay, 0),
			Logger:      log,
		})
	case config.ActionBuiltin, "":
		return action.NewBuiltin(h, log), nil
	default:
		return nil, fmt.Errorf("action.mode: unknown mode %q", cfg.Action.Mode)
	}
}

func mapScheduler(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Enabled: cfg.Schedule.Enabled, Timezone: cfg.Schedule.Timezone}
}

func mapNotifier(cfg *config.Config) notifier.Config {
	return notifier.Config{
		Enabled:      cfg.Notifier.Enabled,
		OnlyFailures: cfg.Notifier.OnlyFailures,
		RatePerSec:   cfg.Notifier.RatePerSec,
		RetryMax:     2,
	}
}

// newSender returns nil when the notifier is disabled.
func newSender(cfg *config.Config) (notifier.Sender, error) {
	nc := cfg.Notifier
	if !nc.Enabled {
		return nil, nil
	}
	return notifier.NewTelegram(notifier.TelegramConfig{
		Token:    nc.Token,
		ChatID:   nc.ChatID,
		ThreadID: nc.ThreadID,
		Timeout:  config.Duration(nc.Timeout, 10*time.Second),
	})
}

func mapAdmin(cfg *config.Config) admin.Config {
	ac := cfg.Admin
	return admin.Config{
		Addr:          ac.Addr,
		Token:         ac.Token,
		AllowInsecure: ac.AllowInsecure,
		Pprof:         ac.Pprof,
		ReadTimeout:   config.Duration(ac.ReadTimeout, 10*time.Second),
		WriteTimeout:  config.Duration(ac.WriteTimeout, 0),
		IdleTimeout:   config.Duration(ac.IdleTimeout, 60*time.Second),
	}
}

// validateSchedules rejects schedule strings the scheduler cannot parse.
func validateSchedules(cfg *config.Config) error {
	if !cfg.Schedule.Enabled {
		return nil
	}
	for path, raw := range map[string]string{
		"schedule.full_harvest": cfg.Schedule.FullHarvest,
		"schedule.task_check":   cfg.Schedule.TaskCheck,
	} {
		if _, err := scheduler.ParseSchedule(raw); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}
