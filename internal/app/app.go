// Package app wires harvestbot's components and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"harvestbot/internal/config"
	"harvestbot/internal/eventbus"
	"harvestbot/internal/github"
	"harvestbot/internal/harvester"
	"harvestbot/internal/notifier"
	"harvestbot/internal/observability/metrics"
	"harvestbot/internal/runner"
	"harvestbot/internal/runtime/supervisor"
	"harvestbot/internal/scheduler"
	"harvestbot/internal/storage"
	"harvestbot/internal/trigger"
	"harvestbot/pkg/logx"
)

// Options come from the command line.
type Options struct {
	ConfigPath string
	// LogLevel overrides logging.level, including across reloads.
	LogLevel string
}

type App struct {
	opts Options

	cfgm *config.Manager
	log  logx.Logger
	logs *logx.Service

	bus     eventbus.Bus
	store   storage.Store
	metrics *metrics.Metrics

	gh      *github.Client
	harv    *harvester.Harvester
	runner  *runner.Runner
	sched   *scheduler.Service
	notif   *notifier.Service
	sup     *supervisor.Supervisor
	started time.Time
}

// loadConfig reads the environment and the config file with schedule validation.
func loadConfig(ctx context.Context, opts Options) (*config.Manager, *config.Config, error) {
	env, err := config.LoadEnv()
	if err != nil {
		return nil, nil, err
	}
	cfgm := config.NewManager(opts.ConfigPath, env)
	cfgm.SetValidator(func(ctx context.Context, cfg *config.Config) error {
		if err := validateSchedules(cfg); err != nil {
			return err
		}
		_, err := mapStorage(cfg)
		return err
	})
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	return cfgm, cfg, nil
}

// New loads the config and builds every component. Nothing is started.
func New(ctx context.Context, opts Options) (*App, error) {
	cfgm, cfg, err := loadConfig(ctx, opts)
	if err != nil {
		return nil, err
	}

	logs, root := logx.New(mapLogging(cfg, opts.LogLevel))
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	a := &App{
		opts:    opts,
		cfgm:    cfgm,
		log:     log,
		logs:    logs,
		bus:     eventbus.New(),
		metrics: metrics.New(),
	}
	if err := a.build(cfg, root); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, root logx.Logger) error {
	sc, err := mapStorage(cfg)
	if err != nil {
		return err
	}
	st, err := storage.Open(sc, root)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	a.store = st
	if st != nil {
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	gh, err := github.NewClient(mapGitHub(cfg, root.With(logx.String("comp", "github")), a.metrics))
	if err != nil {
		return err
	}
	a.gh = gh

	harv, err := harvester.New(gh, mapHarvester(cfg, root))
	if err != nil {
		return err
	}
	a.harv = harv

	act, err := mapAction(cfg, harv, root.With(logx.String("comp", "action")))
	if err != nil {
		return err
	}

	owner, repo, err := github.ParseRepo(cfg.GitHub.TasksRepo)
	if err != nil {
		return err
	}

	a.sched = scheduler.New(mapScheduler(cfg), root, scheduler.WithQuietErrors(runner.ErrBusy, runner.ErrDuplicateSlot))

	run, err := runner.New(runner.Options{
		Action: act,
		Source: runner.GitHubSource{
			Client:   gh,
			Owner:    owner,
			Repo:     repo,
			Assignee: cfg.GitHub.Assignee,
			PerPage:  cfg.GitHub.PerPage,
		},
		Store:         a.store,
		Bus:           a.bus,
		Metrics:       a.metrics,
		Logger:        root,
		Location:      a.sched.Location(),
		ActionTimeout: config.Duration(cfg.Runner.ActionTimeout, 0),
	})
	if err != nil {
		return err
	}
	a.runner = run

	sender, err := newSender(cfg)
	if err != nil {
		return fmt.Errorf("notifier: %w", err)
	}
	a.notif = notifier.New(mapNotifier(cfg), sender, root.With(logx.String("comp", "notifier")))
	return nil
}

// Logger is the root application logger.
func (a *App) Logger() logx.Logger { return a.log }

// RunOnce performs a single invocation and sends its notification inline.
func (a *App) RunOnce(ctx context.Context, source trigger.Source) (*runner.Report, error) {
	rep, err := a.runner.Run(ctx, source)
	if rep != nil && a.notif.Enabled() {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		if nerr := a.notif.Notify(nctx, rep.Record()); nerr != nil {
			a.log.Warn("run notification failed", logx.Err(nerr))
		}
		cancel()
	}
	return rep, err
}

// Harvest acts as the harvest action itself: a full harvest, or task mode
// for one issue.
func (a *App) Harvest(ctx context.Context, taskMode bool, issueNumber int) error {
	if !taskMode {
		return a.harv.FullHarvest(ctx)
	}
	if issueNumber <= 0 {
		return errors.New("task mode requires a positive --issue-number")
	}
	return a.harv.ProcessTask(ctx, issueNumber)
}

// Close releases storage and log sinks. Safe to call more than once.
func (a *App) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
		a.store = nil
	}
	if a.logs != nil {
		_ = a.logs.Close()
		a.logs = nil
	}
}

// History returns recent runs, newest first. It opens only config and
// storage, so it works without a GitHub token.
func History(ctx context.Context, opts Options, limit int) ([]storage.RunRecord, error) {
	_, cfg, err := loadConfig(ctx, opts)
	if err != nil {
		return nil, err
	}
	sc, err := mapStorage(cfg)
	if err != nil {
		return nil, err
	}
	st, err := storage.Open(sc, logx.NewConsole(firstNonEmpty(opts.LogLevel, "WARN")))
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, storage.ErrDisabled
	}
	defer st.Close()
	return st.RecentRuns(ctx, limit)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
