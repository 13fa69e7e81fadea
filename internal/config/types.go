package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("500ms", "10s", "2h"). Fields omitted from the file keep the values from
// Default().
type Config struct {
	GitHub    GitHubConfig    `json:"github"`
	Schedule  ScheduleConfig  `json:"schedule"`
	Runner    RunnerConfig    `json:"runner"`
	Action    ActionConfig    `json:"action"`
	Harvester HarvesterConfig `json:"harvester"`
	Storage   StorageConfig   `json:"storage"`
	Logging   LoggingConfig   `json:"logging"`
	Notifier  NotifierConfig  `json:"notifier"`
	Admin     AdminConfig     `json:"admin"`
}

type GitHubConfig struct {
	BaseURL string `json:"base_url,omitempty"`
	// Token is normally supplied through HARVESTBOT_GITHUB_TOKEN or GITHUB_TOKEN.
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	TasksRepo   string `json:"tasks_repo"`
	ResultsRepo string `json:"results_repo"`
	Assignee    string `json:"assignee"`
	PerPage     int    `json:"per_page,omitempty"`

	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	RetryMax   int     `json:"retry_max,omitempty"`
	Timeout    string  `json:"timeout,omitempty"`
}

// ScheduleConfig controls the two daemon cadences. Schedule strings accept
// cron expressions, @every, Go durations and HH:MM.
type ScheduleConfig struct {
	Enabled     bool   `json:"enabled"`
	Timezone    string `json:"timezone,omitempty"`
	FullHarvest string `json:"full_harvest"`
	TaskCheck   string `json:"task_check"`
}

type RunnerConfig struct {
	// ActionTimeout bounds every action invocation. "0s" disables it.
	ActionTimeout string `json:"action_timeout,omitempty"`
}

// ActionConfig selects how the harvest action is invoked.
//
//	mode: exec     runs command (shell quoting, $VARS expanded)
//	mode: builtin  calls the in-process harvester
type ActionConfig struct {
	Mode      string `json:"mode"`
	Command   string `json:"command,omitempty"`
	Workdir   string `json:"workdir,omitempty"`
	WaitDelay string `json:"wait_delay,omitempty"`
}

type HarvesterConfig struct {
	OutputDir  string `json:"output_dir,omitempty"`
	TopicPause string `json:"topic_pause,omitempty"`
	BotName    string `json:"bot_name,omitempty"`
	Branch     string `json:"branch,omitempty"`

	// Scheduled overrides the full-harvest search parameters.
	Scheduled HarvestParams `json:"scheduled"`
}

type HarvestParams struct {
	Topics        []string `json:"topics,omitempty"`
	MinStars      int      `json:"min_stars,omitempty"`
	CreatedAfter  string   `json:"created_after,omitempty"`
	CountPerTopic int      `json:"count_per_topic,omitempty"`
}

// StorageConfig controls run history persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/harvestbot.db", "retain": 500 }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	Retain      int    `json:"retain,omitempty"`
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

// NotifierConfig controls Telegram run summaries.
type NotifierConfig struct {
	Enabled bool `json:"enabled"`
	// Token is normally supplied through HARVESTBOT_TELEGRAM_TOKEN.
	Token        string  `json:"token,omitempty"`
	ChatID       int64   `json:"chat_id"`
	ThreadID     int     `json:"thread_id,omitempty"`
	OnlyFailures bool    `json:"only_failures,omitempty"`
	RatePerSec   float64 `json:"rate_per_sec,omitempty"`
	Timeout      string  `json:"timeout,omitempty"`
}

// AdminConfig controls the optional admin HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:7070").
//   - A non-loopback address needs a token or an explicit allow_insecure.
type AdminConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// Default returns the configuration used for every omitted field.
func Default() *Config {
	return &Config{
		GitHub: GitHubConfig{
			BaseURL:     "https://api.github.com",
			TasksRepo:   "zipaJopa/agent-tasks",
			ResultsRepo: "zipaJopa/agent-results",
			Assignee:    "github-harvester-bot",
			PerPage:     100,
			RatePerSec:  5,
			RetryMax:    3,
			Timeout:     "30s",
		},
		Schedule: ScheduleConfig{
			Enabled:     true,
			Timezone:    "UTC",
			FullHarvest: "0 */2 * * *",
			TaskCheck:   "*/10 * * * *",
		},
		Runner: RunnerConfig{ActionTimeout: "0s"},
		Action: ActionConfig{Mode: ActionBuiltin, WaitDelay: "5s"},
		Harvester: HarvesterConfig{
			OutputDir:  "harvested",
			TopicPause: "1s",
			Branch:     "main",
		},
		Storage: StorageConfig{Driver: "file", Path: "./data/harvestbot", Retain: 1000},
		Logging: LoggingConfig{Level: "INFO", Console: true},
		Notifier: NotifierConfig{
			RatePerSec: 1,
			Timeout:    "10s",
		},
		Admin: AdminConfig{
			Addr:        "127.0.0.1:7070",
			ReadTimeout: "10s",
			IdleTimeout: "60s",
		},
	}
}

const (
	ActionExec    = "exec"
	ActionBuiltin = "builtin"
)
