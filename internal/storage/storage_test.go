package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"harvestbot/pkg/logx"
)

func sampleRun(i int) RunRecord {
	start := time.Date(2024, 5, 1, 14, i, 0, 0, time.UTC)
	return RunRecord{
		ID:          fmt.Sprintf("run-%02d", i),
		Source:      "scheduled",
		Trigger:     "scheduled-ten-minute",
		StartedAt:   start,
		FinishedAt:  start.Add(3 * time.Second),
		FullHarvest: i%2 == 0,
		Tasks:       []TaskRecord{{Number: 100 + i, TookMS: 12}},
		OK:          true,
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("driver %q: st=%v err=%v", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestStores(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			st, err := Open(Config{Driver: driver, Path: filepath.Join(dir, "state.db")}, logx.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer st.Close()

			ctx := context.Background()
			for i := 0; i < 5; i++ {
				if err := st.RecordRun(ctx, sampleRun(i)); err != nil {
					t.Fatalf("RecordRun(%d): %v", i, err)
				}
			}

			got, err := st.RecentRuns(ctx, 3)
			if err != nil {
				t.Fatalf("RecentRuns: %v", err)
			}
			if len(got) != 3 {
				t.Fatalf("len = %d", len(got))
			}
			for i, want := range []string{"run-04", "run-03", "run-02"} {
				if got[i].ID != want {
					t.Fatalf("got[%d].ID = %s, want %s", i, got[i].ID, want)
				}
			}
			if len(got[0].Tasks) != 1 || got[0].Tasks[0].Number != 104 {
				t.Fatalf("tasks = %+v", got[0].Tasks)
			}
			if !got[1].StartedAt.Equal(sampleRun(3).StartedAt) {
				t.Fatalf("StartedAt = %v", got[1].StartedAt)
			}
		})
	}
}

func TestFileStoreCompacts(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := openFile(Config{Path: filepath.Join(dir, "state.json"), Retain: 3}, logx.Nop())
	if err != nil {
		t.Fatalf("openFile: %v", err)
	}
	fs := st.(*fileStore)
	fs.compactEvery = 5
	defer fs.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := fs.RecordRun(ctx, sampleRun(i)); err != nil {
			t.Fatalf("RecordRun: %v", err)
		}
	}
	all, err := readRuns(fs.path)
	if err != nil {
		t.Fatalf("readRuns: %v", err)
	}
	if len(all) != 3 || all[0].ID != "run-02" {
		t.Fatalf("after compact: %d records, first %q", len(all), all[0].ID)
	}
	// Appends must still land in the rewritten file.
	if err := fs.RecordRun(ctx, sampleRun(9)); err != nil {
		t.Fatalf("RecordRun after compact: %v", err)
	}
	if all, _ = readRuns(fs.path); len(all) != 4 {
		t.Fatalf("after append: %d records", len(all))
	}
}

func TestFileStoreSkipsCorruptLines(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "h.json")
	if err := os.WriteFile(filepath.Join(dir, "h.runs.jsonl"), []byte("{not json\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	if err := st.RecordRun(context.Background(), sampleRun(1)); err != nil {
		t.Fatal(err)
	}
	got, err := st.RecentRuns(context.Background(), 0)
	if err != nil || len(got) != 1 {
		t.Fatalf("got %d runs, err %v", len(got), err)
	}
}
