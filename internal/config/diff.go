package config

import (
	"reflect"
	"strings"

	"harvestbot/pkg/logx"
)

// Sections applied without a restart.
var liveSections = map[string]bool{
	"logging":  true,
	"schedule": true,
	"runner":   true,
	"notifier": true,
}

// Change summarizes a reload.
type Change struct {
	// Sections lists every changed top-level section in declaration order.
	Sections []string
	// RestartRequired is the subset of Sections that only take effect on restart.
	RestartRequired []string
	// Fields are safe to log; they never include tokens.
	Fields []logx.Field
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// Diff compares two configs section by section.
func Diff(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, fields ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		if !liveSections[section] {
			ch.RestartRequired = append(ch.RestartRequired, section)
		}
		ch.Fields = append(ch.Fields, fields...)
	}

	og, ng := oldCfg.GitHub, newCfg.GitHub
	tokenChanged := og.Token != ng.Token
	og.Token, ng.Token = "", ""
	if tokenChanged || og != ng {
		mark("github",
			logx.String("github.tasks_repo", ng.TasksRepo),
			logx.String("github.assignee", ng.Assignee),
			logx.Bool("github.token_changed", tokenChanged),
		)
	}
	if oldCfg.Schedule != newCfg.Schedule {
		mark("schedule",
			logx.Bool("schedule.enabled", newCfg.Schedule.Enabled),
			logx.String("schedule.timezone", newCfg.Schedule.Timezone),
			logx.String("schedule.full_harvest", newCfg.Schedule.FullHarvest),
			logx.String("schedule.task_check", newCfg.Schedule.TaskCheck),
		)
	}
	if oldCfg.Runner != newCfg.Runner {
		mark("runner", logx.String("runner.action_timeout", newCfg.Runner.ActionTimeout))
	}
	if oldCfg.Action != newCfg.Action {
		mark("action", logx.String("action.mode", newCfg.Action.Mode))
	}
	if !reflect.DeepEqual(oldCfg.Harvester, newCfg.Harvester) {
		mark("harvester", logx.String("harvester.output_dir", newCfg.Harvester.OutputDir))
	}
	if oldCfg.Storage != newCfg.Storage {
		mark("storage", logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if oldCfg.Logging != newCfg.Logging {
		mark("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Notifier != newCfg.Notifier {
		mark("notifier",
			logx.Bool("notifier.enabled", newCfg.Notifier.Enabled),
			logx.Bool("notifier.only_failures", newCfg.Notifier.OnlyFailures),
			logx.Bool("notifier.token_set", strings.TrimSpace(newCfg.Notifier.Token) != ""),
		)
	}
	if oldCfg.Admin != newCfg.Admin {
		mark("admin",
			logx.Bool("admin.enabled", newCfg.Admin.Enabled),
			logx.String("admin.addr", newCfg.Admin.Addr),
			logx.Bool("admin.token_set", strings.TrimSpace(newCfg.Admin.Token) != ""),
		)
	}
	return ch
}
