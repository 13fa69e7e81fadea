package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"
	_ "time/tzdata"

	"github.com/alecthomas/kingpin/v2"

	"harvestbot/internal/app"
	"harvestbot/internal/runner"
	"harvestbot/internal/storage"
	"harvestbot/internal/trigger"
	"harvestbot/pkg/logx"
)

var (
	cli = kingpin.New("harvestbot", "Scheduled GitHub harvest and task runner")

	configPath = cli.Flag("config", "Path to the YAML config file.").Short('c').Envar("HARVESTBOT_CONFIG").String()
	logLevel   = cli.Flag("log-level", "Override logging.level (TRACE, DEBUG, INFO, WARN, ERROR).").String()

	serveCmd = cli.Command("serve", "Run the scheduler daemon.").Default()

	runCmd    = cli.Command("run", "Perform one invocation and exit.")
	runManual = runCmd.Flag("manual", "Treat the invocation as a manual trigger (always runs the full harvest).").Bool()

	harvestCmd      = cli.Command("harvest", "Run the harvest action directly.")
	harvestTaskMode = harvestCmd.Flag("task-mode", "Process a single task issue instead of a full harvest.").Bool()
	harvestIssue    = harvestCmd.Flag("issue-number", "Issue number to process in task mode.").Int()

	historyCmd   = cli.Command("history", "Show recent runs from storage.")
	historyLimit = historyCmd.Flag("limit", "Number of runs to show.").Default("20").Int()
	historyJSON  = historyCmd.Flag("json", "Print runs as JSON lines.").Bool()
)

func main() {
	command := kingpin.MustParse(cli.Parse(os.Args[1:]))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := app.Options{ConfigPath: *configPath, LogLevel: *logLevel}

	var err error
	switch command {
	case serveCmd.FullCommand():
		err = serve(ctx, opts)
	case runCmd.FullCommand():
		err = runOnce(ctx, opts, *runManual)
	case harvestCmd.FullCommand():
		err = harvest(ctx, opts, *harvestTaskMode, *harvestIssue)
	case historyCmd.FullCommand():
		err = history(ctx, opts, *historyLimit, *historyJSON)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, opts app.Options) error {
	a, err := app.New(ctx, opts)
	if err != nil {
		return err
	}
	return a.Serve(ctx)
}

func runOnce(ctx context.Context, opts app.Options, manual bool) error {
	a, err := app.New(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	source := trigger.SourceScheduled
	if manual {
		source = trigger.SourceManual
	}
	rep, err := a.RunOnce(ctx, source)
	if err != nil {
		// Busy and duplicate slots are not failures for a one-shot run.
		if errors.Is(err, runner.ErrDuplicateSlot) || errors.Is(err, runner.ErrBusy) {
			a.Logger().Info("run skipped", logx.Err(err))
			return nil
		}
		return err
	}
	return rep.Err()
}

func harvest(ctx context.Context, opts app.Options, taskMode bool, issue int) error {
	a, err := app.New(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Harvest(ctx, taskMode, issue)
}

func history(ctx context.Context, opts app.Options, limit int, asJSON bool) error {
	runs, err := app.History(ctx, opts, limit)
	if errors.Is(err, storage.ErrDisabled) {
		return errors.New("storage is disabled; set storage.driver to file or sqlite")
	}
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		for _, r := range runs {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tSOURCE\tTRIGGER\tFULL\tTASKS\tTOOK\tSTATUS")
	for _, r := range runs {
		status := "ok"
		if !r.OK {
			status = "failed"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\t%s\t%s\n",
			r.ID,
			r.StartedAt.Local().Format(time.DateTime),
			r.Source,
			r.Trigger,
			r.FullHarvest,
			taskSummary(r.Tasks),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond),
			status,
		)
	}
	return tw.Flush()
}

func taskSummary(tasks []storage.TaskRecord) string {
	if len(tasks) == 0 {
		return "-"
	}
	nums := make([]string, 0, len(tasks))
	for _, t := range tasks {
		n := fmt.Sprintf("#%d", t.Number)
		if t.Error != "" {
			n += "!"
		}
		nums = append(nums, n)
	}
	return strings.Join(nums, ",")
}
