package runner

import (
	"errors"
	"fmt"
	"time"

	"harvestbot/internal/storage"
	"harvestbot/internal/trigger"
)

var (
	ErrBusy          = errors.New("runner: another run is in progress")
	ErrDuplicateSlot = errors.New("runner: scheduled slot already handled")
	// ErrDeferred reports a full harvest queued behind the active run. It
	// matches ErrBusy.
	ErrDeferred = fmt.Errorf("%w; full harvest deferred", ErrBusy)
)

// State is the runner's lifecycle position.
type State int32

const (
	StateIdle State = iota
	StateFullHarvest
	StateTaskCheck
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFullHarvest:
		return "full-harvest-running"
	case StateTaskCheck:
		return "task-check-running"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Task is an open issue assigned to the bot.
type Task struct {
	Number int
	Title  string
}

// TaskList is the result of a task fetch. Err is set when the list could
// not be obtained; Issues is then empty.
type TaskList struct {
	Issues []Task
	Err    error
}

// TaskOutcome is the result of one task-mode invocation.
type TaskOutcome struct {
	Number int
	Took   time.Duration
	Err    error
}

// Report describes one completed run.
type Report struct {
	ID         string
	Source     trigger.Source
	Trigger    trigger.Kind
	StartedAt  time.Time
	FinishedAt time.Time

	FullHarvest    bool
	FullHarvestErr error

	// FetchErr is set when the task list could not be fetched.
	FetchErr error
	Tasks    []TaskOutcome
}

// Err joins every failure of the run, or returns nil when it was clean.
func (r *Report) Err() error {
	var errs []error
	if r.FullHarvestErr != nil {
		errs = append(errs, fmt.Errorf("full harvest: %w", r.FullHarvestErr))
	}
	if r.FetchErr != nil {
		errs = append(errs, fmt.Errorf("fetch tasks: %w", r.FetchErr))
	}
	for _, t := range r.Tasks {
		if t.Err != nil {
			errs = append(errs, fmt.Errorf("task #%d: %w", t.Number, t.Err))
		}
	}
	return errors.Join(errs...)
}

func (r *Report) OK() bool { return r.Err() == nil }

func (r *Report) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// Record converts r to its persisted form.
func (r *Report) Record() storage.RunRecord {
	rec := storage.RunRecord{
		ID:             r.ID,
		Source:         r.Source.String(),
		Trigger:        string(r.Trigger),
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
		FullHarvest:    r.FullHarvest,
		FullHarvestErr: errString(r.FullHarvestErr),
		FetchErr:       errString(r.FetchErr),
		OK:             r.OK(),
	}
	for _, t := range r.Tasks {
		rec.Tasks = append(rec.Tasks, storage.TaskRecord{
			Number: t.Number,
			TookMS: t.Took.Milliseconds(),
			Error:  errString(t.Err),
		})
	}
	return rec
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
