package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"harvestbot/internal/eventbus"
	"harvestbot/internal/storage"
	"harvestbot/internal/trigger"
	"harvestbot/pkg/logx"
)

type fakeAction struct {
	mu       sync.Mutex
	calls    []string
	fullErr  error
	taskErrs map[int]error
	panicOn  int
	block    chan struct{}
	entered  chan struct{}
}

func (a *fakeAction) FullHarvest(ctx context.Context) error {
	a.mu.Lock()
	a.calls = append(a.calls, "full")
	a.mu.Unlock()
	if a.entered != nil {
		a.entered <- struct{}{}
	}
	if a.block != nil {
		select {
		case <-a.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return a.fullErr
}

func (a *fakeAction) Task(ctx context.Context, n int) error {
	a.mu.Lock()
	a.calls = append(a.calls, fmt.Sprintf("task:%d", n))
	err := a.taskErrs[n]
	a.mu.Unlock()
	if a.panicOn == n {
		panic("kaboom")
	}
	return err
}

func (a *fakeAction) Calls() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return strings.Join(a.calls, ",")
}

type fakeSource struct {
	tasks []Task
	err   error
}

func (s fakeSource) AssignedIssues(ctx context.Context) ([]Task, error) { return s.tasks, s.err }

func clockAt(h, m int) func() time.Time {
	return func() time.Time { return time.Date(2024, 5, 1, h, m, 0, 0, time.UTC) }
}

func newTestRunner(t *testing.T, act *fakeAction, src IssueSource, now func() time.Time) *Runner {
	t.Helper()
	r, err := New(Options{Action: act, Source: src, Now: now, Logger: logx.Nop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestRun(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		source    trigger.Source
		now       func() time.Time
		src       fakeSource
		act       *fakeAction
		wantCalls string
		wantKind  trigger.Kind
		wantErr   bool
	}{
		{
			name:      "even hour runs full harvest then tasks",
			now:       clockAt(14, 0),
			src:       fakeSource{tasks: []Task{{Number: 101}, {Number: 205}}},
			wantCalls: "full,task:101,task:205",
			wantKind:  trigger.KindEvenHour,
		},
		{
			name:      "ten minute cadence skips full harvest",
			now:       clockAt(14, 10),
			src:       fakeSource{tasks: []Task{{Number: 7}}},
			wantCalls: "task:7",
			wantKind:  trigger.KindTenMinute,
		},
		{
			name:      "odd hour skips full harvest",
			now:       clockAt(15, 0),
			src:       fakeSource{},
			wantCalls: "",
			wantKind:  trigger.KindTenMinute,
		},
		{
			name:      "manual always harvests",
			source:    trigger.SourceManual,
			now:       clockAt(15, 37),
			src:       fakeSource{},
			wantCalls: "full",
			wantKind:  trigger.KindManual,
		},
		{
			name:      "fetch failure invokes nothing",
			now:       clockAt(14, 10),
			src:       fakeSource{err: errors.New("502 bad gateway")},
			wantCalls: "",
			wantKind:  trigger.KindTenMinute,
			wantErr:   true,
		},
		{
			name:      "full harvest failure still checks tasks",
			now:       clockAt(14, 0),
			src:       fakeSource{tasks: []Task{{Number: 1}}},
			act:       &fakeAction{fullErr: errors.New("exit 1")},
			wantCalls: "full,task:1",
			wantKind:  trigger.KindEvenHour,
			wantErr:   true,
		},
		{
			name:      "task failure does not stop the rest",
			now:       clockAt(14, 10),
			src:       fakeSource{tasks: []Task{{Number: 1}, {Number: 2}, {Number: 3}}},
			act:       &fakeAction{taskErrs: map[int]error{2: errors.New("exit 1")}},
			wantCalls: "task:1,task:2,task:3",
			wantKind:  trigger.KindTenMinute,
			wantErr:   true,
		},
		{
			name:      "issues without a number are skipped",
			now:       clockAt(14, 10),
			src:       fakeSource{tasks: []Task{{Number: 0}, {Number: 9}, {Number: -1}}},
			wantCalls: "task:9",
			wantKind:  trigger.KindTenMinute,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			act := tt.act
			if act == nil {
				act = &fakeAction{}
			}
			r := newTestRunner(t, act, tt.src, tt.now)

			rep, err := r.Run(context.Background(), tt.source)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Run err = %v, wantErr %v", err, tt.wantErr)
			}
			if rep == nil {
				t.Fatal("expected a report")
			}
			if got := act.Calls(); got != tt.wantCalls {
				t.Fatalf("calls = %q, want %q", got, tt.wantCalls)
			}
			if rep.Trigger != tt.wantKind {
				t.Fatalf("trigger = %q, want %q", rep.Trigger, tt.wantKind)
			}
			if (tt.src.err != nil) != (rep.FetchErr != nil) {
				t.Fatalf("FetchErr = %v", rep.FetchErr)
			}
			if r.State() != StateIdle {
				t.Fatalf("state after run = %s", r.State())
			}
		})
	}
}

func TestRunOverlap(t *testing.T) {
	t.Parallel()
	act := &fakeAction{block: make(chan struct{}), entered: make(chan struct{}, 2)}
	clock := &stepClock{}
	clock.Set(15, 0)
	r := newTestRunner(t, act, fakeSource{}, clock.Now)

	if r.DeferManual() {
		t.Fatal("DeferManual on an idle runner should queue nothing")
	}

	done := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), trigger.SourceManual)
		done <- err
	}()
	<-act.entered
	if r.State() != StateFullHarvest {
		t.Fatalf("state = %s", r.State())
	}

	clock.Set(15, 10)
	if _, err := r.Run(context.Background(), trigger.SourceScheduled); !errors.Is(err, ErrBusy) || errors.Is(err, ErrDeferred) {
		t.Fatalf("task-only run while busy: err = %v, want ErrBusy", err)
	}
	if _, err := r.Run(context.Background(), trigger.SourceManual); !errors.Is(err, ErrDeferred) || !errors.Is(err, ErrBusy) {
		t.Fatalf("manual run while busy: err = %v, want ErrDeferred", err)
	}
	if !r.DeferManual() {
		t.Fatal("DeferManual while busy should queue")
	}
	close(act.block)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
	// Repeated manual requests collapse into one deferred harvest.
	if got := act.Calls(); got != "full,full" {
		t.Fatalf("calls = %q", got)
	}
	if r.State() != StateIdle {
		t.Fatalf("state = %s", r.State())
	}
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Set(h, m int) {
	c.mu.Lock()
	c.now = time.Date(2024, 5, 1, h, m, 0, 0, time.UTC)
	c.mu.Unlock()
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// gateSource blocks its first listing until gate is closed.
type gateSource struct {
	tasks   []Task
	gate    chan struct{}
	entered chan struct{}
	calls   atomic.Int32
}

func (s *gateSource) AssignedIssues(ctx context.Context) ([]Task, error) {
	if s.calls.Add(1) == 1 {
		s.entered <- struct{}{}
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.tasks, nil
}

func TestRunDefersEvenHourHarvestBehindSlowRun(t *testing.T) {
	t.Parallel()
	act := &fakeAction{}
	src := &gateSource{tasks: []Task{{Number: 3}}, gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	clock := &stepClock{}
	clock.Set(13, 50)
	r := newTestRunner(t, act, src, clock.Now)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := r.Run(ctx, trigger.SourceScheduled)
		done <- err
	}()
	<-src.entered

	// Both cadences fire at 14:00 while the 13:50 run is still listing tasks.
	clock.Set(14, 0)
	if _, err := r.Run(ctx, trigger.SourceScheduled); !errors.Is(err, ErrDeferred) {
		t.Fatalf("first 14:00 firing: err = %v, want ErrDeferred", err)
	}
	if _, err := r.Run(ctx, trigger.SourceScheduled); !errors.Is(err, ErrDuplicateSlot) {
		t.Fatalf("second 14:00 firing: err = %v, want ErrDuplicateSlot", err)
	}

	close(src.gate)
	if err := <-done; err != nil {
		t.Fatalf("13:50 run: %v", err)
	}
	if got := act.Calls(); got != "task:3,full,task:3" {
		t.Fatalf("calls = %q, want the deferred full harvest after the 13:50 tasks", got)
	}
	last := r.Last()
	if last == nil || last.Trigger != trigger.KindEvenHour || !last.FullHarvest {
		t.Fatalf("last = %+v, want the deferred even-hour run", last)
	}
	if r.State() != StateIdle {
		t.Fatalf("state = %s", r.State())
	}

	// A late 14:00 firing is the same slot as the deferred run.
	if _, err := r.Run(ctx, trigger.SourceScheduled); !errors.Is(err, ErrDuplicateSlot) {
		t.Fatalf("late 14:00 firing: err = %v, want ErrDuplicateSlot", err)
	}
	clock.Set(14, 10)
	if _, err := r.Run(ctx, trigger.SourceScheduled); err != nil {
		t.Fatalf("14:10 run: %v", err)
	}
	if got := act.Calls(); got != "task:3,full,task:3,task:3" {
		t.Fatalf("calls = %q", got)
	}
}

func TestRunCoalescesSameSlot(t *testing.T) {
	t.Parallel()
	act := &fakeAction{}
	r := newTestRunner(t, act, fakeSource{}, clockAt(14, 0))
	ctx := context.Background()

	if _, err := r.Run(ctx, trigger.SourceScheduled); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := r.Run(ctx, trigger.SourceScheduled); !errors.Is(err, ErrDuplicateSlot) {
		t.Fatalf("second: err = %v, want ErrDuplicateSlot", err)
	}
	if _, err := r.Run(ctx, trigger.SourceManual); err != nil {
		t.Fatalf("manual: %v", err)
	}
	if got := act.Calls(); got != "full,full" {
		t.Fatalf("calls = %q", got)
	}
}

func TestRunRecoversPanic(t *testing.T) {
	t.Parallel()
	act := &fakeAction{panicOn: 2}
	r := newTestRunner(t, act, fakeSource{tasks: []Task{{Number: 2}, {Number: 3}}}, clockAt(14, 10))

	rep, err := r.Run(context.Background(), trigger.SourceScheduled)
	if err == nil || !strings.Contains(err.Error(), "action panic") {
		t.Fatalf("err = %v", err)
	}
	if len(rep.Tasks) != 2 || rep.Tasks[1].Err != nil {
		t.Fatalf("tasks = %+v", rep.Tasks)
	}
}

func TestRunActionTimeout(t *testing.T) {
	t.Parallel()
	act := &fakeAction{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	r, err := New(Options{Action: act, Source: fakeSource{}, Now: clockAt(14, 0), ActionTimeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	rep, err := r.Run(context.Background(), trigger.SourceScheduled)
	if !errors.Is(err, context.DeadlineExceeded) || !errors.Is(rep.FullHarvestErr, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}

func TestRunRecordsAndPublishes(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "h.json")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	r, err := New(Options{
		Action: &fakeAction{taskErrs: map[int]error{5: errors.New("exit 2")}},
		Source: fakeSource{tasks: []Task{{Number: 5}}},
		Store:  st,
		Bus:    bus,
		Now:    clockAt(14, 0),
	})
	if err != nil {
		t.Fatal(err)
	}
	rep, _ := r.Run(context.Background(), trigger.SourceScheduled)

	runs, err := st.RecentRuns(context.Background(), 5)
	if err != nil || len(runs) != 1 {
		t.Fatalf("runs = %v, err = %v", runs, err)
	}
	if runs[0].ID != rep.ID || runs[0].OK || runs[0].Tasks[0].Error != "exit 2" || !runs[0].FullHarvest {
		t.Fatalf("record = %+v", runs[0])
	}

	var types []string
	for len(types) < 2 {
		select {
		case e := <-events:
			types = append(types, e.Type)
		case <-time.After(time.Second):
			t.Fatalf("events = %v", types)
		}
	}
	if types[0] != eventbus.RunStarted || types[1] != eventbus.RunFinished {
		t.Fatalf("events = %v", types)
	}
	if r.Last() == nil || r.Last().ID != rep.ID {
		t.Fatal("Last should return the finished run")
	}
}

func TestReportErr(t *testing.T) {
	t.Parallel()
	rep := &Report{
		FetchErr: errors.New("timeout"),
		Tasks:    []TaskOutcome{{Number: 1}, {Number: 2, Err: errors.New("exit 1")}},
	}
	err := rep.Err()
	if err == nil || !strings.Contains(err.Error(), "fetch tasks: timeout") || !strings.Contains(err.Error(), "task #2: exit 1") {
		t.Fatalf("Err = %v", err)
	}
	if (&Report{}).Err() != nil {
		t.Fatal("empty report should be OK")
	}
}
