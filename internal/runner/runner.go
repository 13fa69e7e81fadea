package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"harvestbot/internal/action"
	"harvestbot/internal/eventbus"
	"harvestbot/internal/observability/metrics"
	"harvestbot/internal/storage"
	"harvestbot/internal/trigger"
	"harvestbot/pkg/logx"
)

// Options wires a Runner. Action and Source are required.
type Options struct {
	Action action.Action
	Source IssueSource

	Store   storage.Store    // optional
	Bus     eventbus.Bus     // optional
	Metrics *metrics.Metrics // optional
	Logger  logx.Logger

	// Location is the timezone trigger classification happens in. Defaults to UTC.
	Location *time.Location
	// ActionTimeout bounds each action invocation. Zero means no bound.
	ActionTimeout time.Duration

	Now func() time.Time
}

type Runner struct {
	act   action.Action
	src   IssueSource
	store storage.Store
	bus   eventbus.Bus
	m     *metrics.Metrics
	log   logx.Logger
	now   func() time.Time

	state atomic.Int32

	mu            sync.Mutex
	loc           *time.Location
	actionTimeout time.Duration
	lastSlot      time.Time
	active        activeRun
	pending       *pendingRun
	last          *Report
}

// activeRun identifies the run currently holding the state.
type activeRun struct {
	slot      time.Time
	scheduled bool
}

// pendingRun is a full harvest requested while another run was active.
type pendingRun struct {
	source trigger.Source
	kind   trigger.Kind
	slot   time.Time
}

func New(opts Options) (*Runner, error) {
	if opts.Action == nil {
		return nil, errors.New("runner: action is required")
	}
	if opts.Source == nil {
		return nil, errors.New("runner: issue source is required")
	}
	r := &Runner{
		act:           opts.Action,
		src:           opts.Source,
		store:         opts.Store,
		bus:           opts.Bus,
		m:             opts.Metrics,
		log:           opts.Logger,
		now:           opts.Now,
		loc:           opts.Location,
		actionTimeout: opts.ActionTimeout,
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	r.log = r.log.With(logx.String("comp", "runner"))
	if r.now == nil {
		r.now = time.Now
	}
	if r.loc == nil {
		r.loc = time.UTC
	}
	return r, nil
}

// SetLocation changes the classification timezone for subsequent runs.
func (r *Runner) SetLocation(loc *time.Location) {
	if loc == nil {
		loc = time.UTC
	}
	r.mu.Lock()
	r.loc = loc
	r.mu.Unlock()
}

// SetActionTimeout changes the per-action bound for subsequent runs.
func (r *Runner) SetActionTimeout(d time.Duration) {
	r.mu.Lock()
	r.actionTimeout = d
	r.mu.Unlock()
}

func (r *Runner) State() State { return State(r.state.Load()) }

// Last returns the most recent completed report, or nil.
func (r *Runner) Last() *Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Run performs one run for the given source. It returns ErrBusy,
// ErrDeferred or ErrDuplicateSlot without doing anything when the run is
// rejected. Otherwise it returns the report and the report's joined error.
// A full harvest deferred while this run was active executes before Run
// returns.
func (r *Runner) Run(ctx context.Context, source trigger.Source) (*Report, error) {
	r.mu.Lock()
	loc := r.loc
	r.mu.Unlock()

	started := r.now().In(loc)
	kind := trigger.Classify(source, started)
	full := trigger.ShouldFullHarvest(kind)

	first := StateTaskCheck
	if full {
		first = StateFullHarvest
	}
	if !r.state.CompareAndSwap(int32(StateIdle), int32(first)) {
		return r.busy(ctx, source, kind, started)
	}
	defer r.finish(ctx)

	slot := trigger.Slot(started)
	scheduled := source == trigger.SourceScheduled
	r.mu.Lock()
	dup := scheduled && slot.Equal(r.lastSlot)
	if !dup {
		if scheduled {
			r.lastSlot = slot
		}
		r.active = activeRun{slot: slot, scheduled: scheduled}
	}
	r.mu.Unlock()
	if dup {
		r.reject(kind, metrics.ResultCoalesced, ErrDuplicateSlot)
		return nil, ErrDuplicateSlot
	}
	return r.execute(ctx, source, kind, started, full)
}

// busy handles a request that lost the race for the idle state. Requests
// that call for a full harvest are remembered and run once the active run
// ends; task-only requests are dropped since the next cadence covers them.
func (r *Runner) busy(ctx context.Context, source trigger.Source, kind trigger.Kind, started time.Time) (*Report, error) {
	slot := trigger.Slot(started)
	scheduled := source == trigger.SourceScheduled

	r.mu.Lock()
	if r.State() == StateIdle {
		// The active run ended after the CAS; idle is only set under mu.
		r.mu.Unlock()
		return r.Run(ctx, source)
	}
	sameSlot := scheduled &&
		((r.active.scheduled && slot.Equal(r.active.slot)) ||
			(r.pending != nil && r.pending.source == trigger.SourceScheduled && slot.Equal(r.pending.slot)))
	switch {
	case sameSlot:
		r.mu.Unlock()
		r.reject(kind, metrics.ResultCoalesced, ErrDuplicateSlot)
		return nil, ErrDuplicateSlot
	case !trigger.ShouldFullHarvest(kind):
		r.mu.Unlock()
		r.reject(kind, metrics.ResultBusy, ErrBusy)
		return nil, ErrBusy
	}
	if r.pending == nil || source == trigger.SourceManual {
		r.pending = &pendingRun{source: source, kind: kind, slot: slot}
	}
	r.mu.Unlock()
	r.reject(kind, metrics.ResultDeferred, ErrDeferred)
	return nil, ErrDeferred
}

// DeferManual queues a manual full harvest behind the active run. It
// reports false when the runner is idle and nothing was queued.
func (r *Runner) DeferManual() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.State() == StateIdle {
		return false
	}
	r.pending = &pendingRun{source: trigger.SourceManual, kind: trigger.KindManual, slot: trigger.Slot(r.now())}
	return true
}

// finish runs deferred full harvests until none is left, then returns the
// runner to idle.
func (r *Runner) finish(ctx context.Context) {
	for {
		r.mu.Lock()
		p, loc := r.pending, r.loc
		r.pending = nil
		if p == nil || ctx.Err() != nil {
			if p != nil {
				r.log.Warn("deferred full harvest dropped", logx.String("trigger", string(p.kind)), logx.Err(ctx.Err()))
			}
			r.active = activeRun{}
			r.state.Store(int32(StateIdle))
			r.mu.Unlock()
			return
		}
		scheduled := p.source == trigger.SourceScheduled
		if scheduled && p.slot.After(r.lastSlot) {
			r.lastSlot = p.slot
		}
		r.active = activeRun{slot: p.slot, scheduled: scheduled}
		r.state.Store(int32(StateFullHarvest))
		r.mu.Unlock()

		r.log.Info("running deferred full harvest", logx.String("trigger", string(p.kind)), logx.Time("slot", p.slot))
		_, _ = r.execute(ctx, p.source, p.kind, r.now().In(loc), true)
	}
}

// execute does the work of one admitted run. The caller holds the state.
func (r *Runner) execute(ctx context.Context, source trigger.Source, kind trigger.Kind, started time.Time, full bool) (*Report, error) {
	r.mu.Lock()
	loc, timeout := r.loc, r.actionTimeout
	r.mu.Unlock()

	rep := &Report{
		ID:          ulid.Make().String(),
		Source:      source,
		Trigger:     kind,
		StartedAt:   started,
		FullHarvest: full,
	}
	log := r.log.With(logx.String("run", rep.ID), logx.String("trigger", string(kind)))
	log.Info("run started")
	r.publish(eventbus.RunStarted, rep)

	if full {
		err := r.invoke(ctx, timeout, func(ctx context.Context) error { return r.act.FullHarvest(ctx) })
		rep.FullHarvestErr = err
		r.m.ObserveFullHarvest(metrics.Result(err))
		if err != nil {
			log.Error("full harvest failed", logx.Err(err))
		} else {
			log.Info("full harvest completed")
		}
	} else {
		log.Debug("full harvest skipped")
	}

	r.state.Store(int32(StateTaskCheck))
	list := r.fetchTasks(ctx)
	switch {
	case list.Err != nil:
		rep.FetchErr = list.Err
		log.Error("task fetch failed", logx.Err(list.Err))
	case len(list.Issues) == 0:
		log.Info("no tasks")
	default:
		log.Info("tasks found", logx.Int("count", len(list.Issues)))
		for _, t := range list.Issues {
			if ctx.Err() != nil {
				break
			}
			rep.Tasks = append(rep.Tasks, r.runTask(ctx, log, timeout, t))
		}
	}

	rep.FinishedAt = r.now().In(loc)
	runErr := rep.Err()
	if ctx.Err() != nil && runErr == nil {
		runErr = ctx.Err()
	}
	r.m.ObserveRun(string(kind), metrics.Result(runErr), rep.Duration())
	fields := []logx.Field{logx.Duration("took", rep.Duration()), logx.Int("tasks", len(rep.Tasks))}
	if runErr != nil {
		log.Warn("run finished with errors", append(fields, logx.Err(runErr))...)
	} else {
		log.Info("run finished", fields...)
	}

	r.record(log, rep)
	r.mu.Lock()
	r.last = rep
	r.mu.Unlock()
	r.publish(eventbus.RunFinished, rep)
	return rep, runErr
}

func (r *Runner) fetchTasks(ctx context.Context) (list TaskList) {
	defer func() {
		if p := recover(); p != nil {
			list = TaskList{Err: fmt.Errorf("panic listing tasks: %v", p)}
		}
	}()
	issues, err := r.src.AssignedIssues(ctx)
	if err != nil {
		return TaskList{Err: err}
	}
	out := make([]Task, 0, len(issues))
	for _, is := range issues {
		if is.Number <= 0 {
			r.log.Warn("skipping issue without a number", logx.String("title", is.Title))
			continue
		}
		out = append(out, is)
	}
	return TaskList{Issues: out}
}

func (r *Runner) runTask(ctx context.Context, log logx.Logger, timeout time.Duration, t Task) TaskOutcome {
	log = log.With(logx.Int("issue", t.Number))
	log.Info("task invoked")
	start := time.Now()
	err := r.invoke(ctx, timeout, func(ctx context.Context) error { return r.act.Task(ctx, t.Number) })
	out := TaskOutcome{Number: t.Number, Took: time.Since(start), Err: err}
	r.m.ObserveTask(metrics.Result(err))
	if err != nil {
		log.Error("task failed", logx.Err(err), logx.Duration("took", out.Took))
	} else {
		log.Info("task completed", logx.Duration("took", out.Took))
	}
	return out
}

// invoke runs fn under the optional timeout and turns a panic into an error.
func (r *Runner) invoke(ctx context.Context, timeout time.Duration, fn func(context.Context) error) (err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("action panic", logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("action panic: %v", p)
		}
	}()
	return fn(ctx)
}

func (r *Runner) reject(kind trigger.Kind, result string, err error) {
	r.m.ObserveRun(string(kind), result, 0)
	switch {
	case errors.Is(err, ErrDeferred):
		r.log.Info("full harvest deferred until the active run finishes", logx.String("trigger", string(kind)), logx.String("state", r.State().String()))
	case errors.Is(err, ErrBusy):
		r.log.Warn("run rejected", logx.String("trigger", string(kind)), logx.String("state", r.State().String()))
	default:
		r.log.Debug("run coalesced", logx.String("trigger", string(kind)))
	}
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: eventbus.RunRejected, Data: err})
	}
}

func (r *Runner) record(log logx.Logger, rep *Report) {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.RecordRun(ctx, rep.Record()); err != nil {
		log.Warn("record run failed", logx.Err(err))
	}
}

func (r *Runner) publish(typ string, rep *Report) {
	if r.bus == nil {
		return
	}
	cp := *rep
	cp.Tasks = append([]TaskOutcome(nil), rep.Tasks...)
	r.bus.Publish(eventbus.Event{Type: typ, Data: &cp})
}
