package action

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"mvdan.cc/sh/v3/shell"

	"harvestbot/pkg/logx"
)

// ExecConfig configures an external harvest command.
type ExecConfig struct {
	// Command is a shell-quoted command line, e.g. `python3 harvester.py`.
	// $VARS are expanded from the process environment.
	Command string
	Workdir string
	// GitHubToken is exported to the child as GITHUB_TOKEN when non-empty.
	GitHubToken string
	// WaitDelay bounds how long output pipes may outlive a killed child.
	WaitDelay time.Duration
	Logger    logx.Logger
}

// Exec runs the harvest as a child process.
type Exec struct {
	argv      []string
	dir       string
	token     string
	waitDelay time.Duration
	log       logx.Logger
}

func NewExec(cfg ExecConfig) (*Exec, error) {
	argv, err := shell.Fields(cfg.Command, os.Getenv)
	if err != nil {
		return nil, fmt.Errorf("parse action command: %w", err)
	}
	if len(argv) == 0 {
		return nil, errors.New("action command is empty")
	}
	wd := cfg.WaitDelay
	if wd <= 0 {
		wd = 5 * time.Second
	}
	log := cfg.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Exec{
		argv:      argv,
		dir:       cfg.Workdir,
		token:     cfg.GitHubToken,
		waitDelay: wd,
		log:       log.With(logx.String("comp", "action"), logx.String("mode", "exec")),
	}, nil
}

// Argv returns the parsed command line.
func (e *Exec) Argv() []string { return append([]string(nil), e.argv...) }

func (e *Exec) FullHarvest(ctx context.Context) error {
	return e.run(ctx, "full-harvest", nil)
}

func (e *Exec) Task(ctx context.Context, issueNumber int) error {
	return e.run(ctx, "task", []string{"--task-mode", "--issue-number", strconv.Itoa(issueNumber)})
}

func (e *Exec) run(ctx context.Context, op string, extra []string) error {
	args := append(append([]string(nil), e.argv[1:]...), extra...)
	cmd := exec.CommandContext(ctx, e.argv[0], args...)
	cmd.Dir = e.dir
	cmd.Env = os.Environ()
	if e.token != "" {
		cmd.Env = append(cmd.Env, "GITHUB_TOKEN="+e.token)
	}
	cmd.WaitDelay = e.waitDelay

	log := e.log.With(logx.String("op", op))
	stdout := &lineWriter{emit: func(line string) { log.Info(line, logx.String("stream", "stdout")) }}
	stderr := &lineWriter{emit: func(line string) { log.Warn(line, logx.String("stream", "stderr")) }}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	log.Debug("starting harvest process", logx.String("cmd", e.argv[0]), logx.Any("args", args))
	err := cmd.Run()
	stdout.Flush()
	stderr.Flush()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("harvest %s: %w", op, ctx.Err())
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return &ExitError{Op: op, Code: ee.ExitCode()}
	}
	return fmt.Errorf("harvest %s: %w", op, err)
}

// lineWriter splits child output into log lines. os/exec drives it from a
// single copying goroutine per stream.
type lineWriter struct {
	mu   sync.Mutex
	buf  []byte
	emit func(string)
}

const maxLine = 64 * 1024

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.line(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > maxLine {
		w.line(w.buf)
		w.buf = nil
	}
	return len(p), nil
}

// Flush emits a trailing partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.line(w.buf)
		w.buf = nil
	}
}

func (w *lineWriter) line(b []byte) {
	if s := strings.TrimRight(string(b), "\r"); s != "" {
		w.emit(s)
	}
}
