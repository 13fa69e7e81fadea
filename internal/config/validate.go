package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Validate checks structure and duration fields. Schedule expressions are
// checked by the scheduler through the manager's validator hook.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	add(checkRepo("github.tasks_repo", cfg.GitHub.TasksRepo))
	add(checkRepo("github.results_repo", cfg.GitHub.ResultsRepo))
	if strings.TrimSpace(cfg.GitHub.Assignee) == "" {
		add(errors.New("github.assignee: required"))
	}
	if cfg.GitHub.PerPage < 0 || cfg.GitHub.PerPage > 100 {
		add(fmt.Errorf("github.per_page: must be within 0..100, got %d", cfg.GitHub.PerPage))
	}
	if cfg.GitHub.RatePerSec < 0 {
		add(errors.New("github.rate_per_sec: must be >= 0"))
	}
	_, err := ParseDurationField("github.timeout", cfg.GitHub.Timeout)
	add(err)

	if cfg.Schedule.Enabled {
		if strings.TrimSpace(cfg.Schedule.FullHarvest) == "" {
			add(errors.New("schedule.full_harvest: required when schedule.enabled"))
		}
		if strings.TrimSpace(cfg.Schedule.TaskCheck) == "" {
			add(errors.New("schedule.task_check: required when schedule.enabled"))
		}
	}
	if tz := strings.TrimSpace(cfg.Schedule.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("schedule.timezone: %w", err))
		}
	}

	_, err = ParseDurationField("runner.action_timeout", cfg.Runner.ActionTimeout)
	add(err)

	switch strings.ToLower(strings.TrimSpace(cfg.Action.Mode)) {
	case ActionExec:
		if strings.TrimSpace(cfg.Action.Command) == "" {
			add(errors.New("action.command: required in exec mode"))
		}
	case ActionBuiltin:
	default:
		add(fmt.Errorf("action.mode: unknown mode %q (want exec or builtin)", cfg.Action.Mode))
	}
	_, err = ParseDurationField("action.wait_delay", cfg.Action.WaitDelay)
	add(err)

	_, err = ParseDurationField("harvester.topic_pause", cfg.Harvester.TopicPause)
	add(err)
	if s := strings.TrimSpace(cfg.Harvester.Scheduled.CreatedAfter); s != "" {
		if _, err := time.Parse(time.DateOnly, s); err != nil {
			add(fmt.Errorf("harvester.scheduled.created_after: want YYYY-MM-DD: %w", err))
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "none", "file", "sqlite", "sqlite3":
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if cfg.Storage.Retain < 0 {
		add(errors.New("storage.retain: must be >= 0"))
	}
	_, err = ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	add(err)

	if cfg.Notifier.Enabled {
		if strings.TrimSpace(cfg.Notifier.Token) == "" {
			add(errors.New("notifier.token: required when notifier.enabled (set HARVESTBOT_TELEGRAM_TOKEN)"))
		}
		if cfg.Notifier.ChatID == 0 {
			add(errors.New("notifier.chat_id: required when notifier.enabled"))
		}
	}
	_, err = ParseDurationField("notifier.timeout", cfg.Notifier.Timeout)
	add(err)

	if cfg.Admin.Enabled {
		add(checkAdminAddr(cfg.Admin))
	}
	for path, raw := range map[string]string{
		"admin.read_timeout":  cfg.Admin.ReadTimeout,
		"admin.write_timeout": cfg.Admin.WriteTimeout,
		"admin.idle_timeout":  cfg.Admin.IdleTimeout,
	} {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	return errors.Join(errs...)
}

func checkRepo(path, s string) error {
	owner, name, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("%s: want owner/name, got %q", path, s)
	}
	return nil
}

func checkAdminAddr(c AdminConfig) error {
	addr := strings.TrimSpace(c.Addr)
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("admin.addr: %w", err)
	}
	if IsLoopbackHost(host) || c.AllowInsecure || strings.TrimSpace(c.Token) != "" {
		return nil
	}
	return fmt.Errorf("admin.addr: %q is not loopback; set admin.token or admin.allow_insecure", addr)
}

// IsLoopbackHost reports whether host only accepts local connections.
// An empty host binds every interface and is not loopback.
func IsLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
