package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"harvestbot/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		kind    SpecKind
		every   time.Duration
		source  string
		wantErr bool
	}{
		{in: "0 */2 * * *", kind: SpecCron, source: "cron"},
		{in: "*/10 * * * *", kind: SpecCron, source: "cron"},
		{in: "30 0 */2 * * *", kind: SpecCron, source: "cron"},
		{in: "@hourly", kind: SpecCron, source: "cron"},
		{in: "@every 10m", kind: SpecCron, source: "cron"},
		{in: "cron:@daily", kind: SpecCron, source: "cron"},
		{in: "55m", kind: SpecInterval, every: 55 * time.Minute, source: "duration"},
		{in: "02:30", kind: SpecInterval, every: 2*time.Hour + 30*time.Minute, source: "hhmm"},
		{in: "every:1h", kind: SpecInterval, every: time.Hour, source: "duration"},
		{in: "interval:00:10", kind: SpecInterval, every: 10 * time.Minute, source: "hhmm"},
		{in: "", wantErr: true},
		{in: "0s", wantErr: true},
		{in: "00:00", wantErr: true},
		{in: "01:75", wantErr: true},
		{in: "61 * * * *", wantErr: true},
		{in: "tomorrow", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSchedule(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.Kind != tt.kind || got.Every != tt.every || got.Source != tt.source {
				t.Fatalf("got %+v", got)
			}
		})
	}
}

func TestNextAfter(t *testing.T) {
	t.Parallel()
	base := time.Date(2024, 5, 1, 13, 5, 0, 0, time.UTC)
	tests := []struct {
		spec string
		want time.Time
	}{
		{"0 */2 * * *", time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)},
		{"*/10 * * * *", time.Date(2024, 5, 1, 13, 10, 0, 0, time.UTC)},
		{"15m", base.Add(15 * time.Minute)},
	}
	for _, tt := range tests {
		got, err := NextAfter(tt.spec, base)
		if err != nil {
			t.Fatalf("%s: %v", tt.spec, err)
		}
		if !got.Equal(tt.want) {
			t.Fatalf("%s: next = %v, want %v", tt.spec, got, tt.want)
		}
	}
}

func TestUpsertAndRemove(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, logx.Nop())
	job := func(ctx context.Context) error { return nil }

	if err := s.AddSchedule("task_check", "*/10 * * * *", job); err != nil {
		t.Fatal(err)
	}
	if err := s.AddSchedule("task_check", "*/5 * * * *", job); err != nil {
		t.Fatal(err)
	}
	if err := s.AddSchedule("full_harvest", "0 */2 * * *", job); err != nil {
		t.Fatal(err)
	}
	if err := s.AddSchedule("bad", "not a cron", job); err == nil {
		t.Fatal("expected error for bad cron")
	}

	snap := s.Snapshot()
	specs := map[string]string{}
	for _, it := range snap.Schedules {
		specs[it.Name] = it.Spec
	}
	if len(specs) != 2 || specs["task_check"] != "*/5 * * * *" || specs["full_harvest"] != "0 */2 * * *" {
		t.Fatalf("schedules = %+v", snap.Schedules)
	}
	if snap.Running || snap.Timezone != "UTC" {
		t.Fatalf("snapshot = %+v", snap)
	}
	if !s.Remove("task_check") || s.Remove("task_check") {
		t.Fatal("Remove should report the first removal only")
	}
}

func TestStartFiresAndStopCancels(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, logx.Nop())
	var fired atomic.Int32
	canceled := make(chan struct{})
	if err := s.AddCron("tick", "@every 1s", func(ctx context.Context) error {
		if fired.Add(1) == 1 {
			<-ctx.Done()
			close(canceled)
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	s.Start(context.Background())
	deadline := time.Now().Add(5 * time.Second)
	for fired.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("job never fired")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if snap := s.Snapshot(); !snap.Running || snap.Schedules[0].Next.IsZero() {
		t.Fatalf("snapshot = %+v", snap)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)
	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("running job was not canceled")
	}
}

func TestApplyTimezone(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	s.Apply(Config{Timezone: "Asia/Jakarta"})
	if got := s.Location().String(); got != "Asia/Jakarta" {
		t.Fatalf("Location = %s", got)
	}
	s.Apply(Config{Timezone: "Not/AZone"})
	if s.Location() != time.UTC {
		t.Fatalf("invalid tz should fall back to UTC, got %s", s.Location())
	}
}

func TestApplyTimezoneDoesNotWaitForRunningJob(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, logx.Nop())
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var fired atomic.Int32
	if err := s.AddCron("slow", "* * * * * *", func(ctx context.Context) error {
		if fired.Add(1) == 1 {
			started <- struct{}{}
			select {
			case <-release:
			case <-ctx.Done():
			}
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	t.Cleanup(func() { close(release) })

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never fired")
	}

	done := make(chan struct{})
	go func() {
		s.Apply(Config{Enabled: true, Timezone: "Asia/Jakarta"})
		_ = s.Snapshot()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Apply or Snapshot blocked on a running job")
	}
	if snap := s.Snapshot(); !snap.Running || snap.Timezone != "Asia/Jakarta" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestQuietErrors(t *testing.T) {
	t.Parallel()
	errBusy := errors.New("busy")
	s := New(Config{}, logx.Nop(), WithQuietErrors(errBusy))
	s.reportJobError("x", errBusy)
	s.errMu.Lock()
	_, warned := s.lastErrWarn["x"]
	s.errMu.Unlock()
	if warned {
		t.Fatal("quiet error should not be warned")
	}
	s.reportJobError("x", errors.New("real"))
	s.errMu.Lock()
	_, warned = s.lastErrWarn["x"]
	s.errMu.Unlock()
	if !warned {
		t.Fatal("real error should be warned")
	}
}
