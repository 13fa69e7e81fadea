package harvester

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"harvestbot/internal/github"
)

var fixedNow = time.Date(2024, 5, 1, 14, 0, 5, 0, time.UTC)

func newTestHarvester(t *testing.T, gh GitHub) *Harvester {
	t.Helper()
	h, err := New(gh, Config{
		TasksRepo:   "zipaJopa/agent-tasks",
		ResultsRepo: "zipaJopa/agent-results",
		OutputDir:   t.TempDir(),
		Now:         func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func TestScore(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		repo github.Repository
		want float64
	}{
		{"stars only", github.Repository{StargazersCount: 123}, 12.3},
		{"stars capped", github.Repository{StargazersCount: 5000}, 50},
		{"topic keyword", github.Repository{StargazersCount: 100, Topics: []string{"ai-agent"}}, 30},
		{"keyword counted once", github.Repository{StargazersCount: 0, Topics: []string{"ai", "openai"}, Description: strPtr("AI stuff")}, 20},
		{"description keyword", github.Repository{Description: strPtr("A Telegram BOT")}, 20},
		{"capped at 100", github.Repository{StargazersCount: 1000, Topics: []string{"ai", "automation", "saas", "api", "bot"}}, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(tt.repo); got != tt.want {
				t.Fatalf("Score = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseTask(t *testing.T) {
	t.Parallel()
	spec, err := ParseTask(7, "   ")
	if err != nil {
		t.Fatalf("blank body: %v", err)
	}
	if spec.ID != "unknown_id_7" || spec.Type != "unknown_type" {
		t.Fatalf("defaults = %+v", spec)
	}

	spec, err = ParseTask(7, `{"id":"t:1","type":"harvest","payload":{"topics":["llm"],"min_stars":5}}`)
	if err != nil {
		t.Fatalf("ParseTask: %v", err)
	}
	p := spec.Payload.Params(TaskDefaults)
	if strings.Join(p.Topics, ",") != "llm" || p.MinStars != 5 || p.CountPerTopic != 5 || p.CreatedAfter != "2024-01-01" {
		t.Fatalf("params = %+v", p)
	}

	_, err = ParseTask(7, "{nope")
	var syntaxErr *json.SyntaxError
	if !errors.Is(err, ErrBadTask) || !errors.As(err, &syntaxErr) {
		t.Fatalf("err = %v, want ErrBadTask wrapping the JSON error", err)
	}
}

func TestTaskPayloadPresence(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		payload string
		want    Params
	}{
		{
			name:    "absent fields take defaults",
			payload: `{}`,
			want:    TaskDefaults,
		},
		{
			name:    "null fields take defaults",
			payload: `{"topics":null,"min_stars":null}`,
			want:    TaskDefaults,
		},
		{
			name:    "explicit zeros are kept",
			payload: `{"topics":[],"min_stars":0,"count_per_topic":0,"created_after":""}`,
			want:    Params{Topics: []string{}, MinStars: 0, CountPerTopic: 0, CreatedAfter: ""},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			spec, err := ParseTask(1, `{"type":"harvest","payload":`+tt.payload+`}`)
			if err != nil {
				t.Fatalf("ParseTask: %v", err)
			}
			got := spec.Payload.Params(TaskDefaults)
			if strings.Join(got.Topics, ",") != strings.Join(tt.want.Topics, ",") || len(got.Topics) != len(tt.want.Topics) ||
				got.MinStars != tt.want.MinStars || got.CountPerTopic != tt.want.CountPerTopic || got.CreatedAfter != tt.want.CreatedAfter {
				t.Fatalf("params = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestAnalyzeKeepsNulls(t *testing.T) {
	t.Parallel()
	var res github.RepositorySearchResult
	body := `{"items":[{"id":1,"name":"bare","description":null,"language":null,"created_at":null,"updated_at":"2024-04-01T10:00:00Z","pushed_at":null,"license":null}]}`
	if err := json.Unmarshal([]byte(body), &res); err != nil {
		t.Fatal(err)
	}
	h := newTestHarvester(t, newFakeGitHub())
	p := h.analyze(res.Items[0])
	if p.Description != nil || p.Language != nil || p.CreatedAt != nil || p.PushedAt != nil || p.License != nil {
		t.Fatalf("project = %+v, want nil for null fields", p)
	}
	if p.UpdatedAt == nil || !p.UpdatedAt.Equal(time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("updated_at = %v", p.UpdatedAt)
	}

	b, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"description":null`, `"language":null`, `"created_at":null`, `"pushed_at":null`} {
		if !strings.Contains(string(b), want) {
			t.Fatalf("json %s missing %s", b, want)
		}
	}
}

func strPtr(s string) *string { return &s }

func TestHarvestTrendingSkipsFailedTopic(t *testing.T) {
	t.Parallel()
	gh := newFakeGitHub()
	gh.repos["a"] = []github.Repository{{Name: "one", StargazersCount: 10}, {Name: "two"}, {Name: "three"}}
	gh.failTopic["b"] = errors.New("boom")
	gh.repos["c"] = []github.Repository{{Name: "four"}}

	h := newTestHarvester(t, gh)
	got, err := h.HarvestTrending(context.Background(), Params{Topics: []string{"a", "b", "c"}, MinStars: 10, CreatedAfter: "2024-01-01", CountPerTopic: 2})
	if err == nil || !strings.Contains(err.Error(), "topic b") {
		t.Fatalf("err = %v", err)
	}
	var names []string
	for _, p := range got {
		names = append(names, p.Name)
	}
	if strings.Join(names, ",") != "one,two,four" {
		t.Fatalf("names = %v", names)
	}
	if gh.queries[0] != "topic:a stars:>10 created:>2024-01-01" {
		t.Fatalf("query = %q", gh.queries[0])
	}
}

func TestFullHarvestWritesFile(t *testing.T) {
	t.Parallel()
	gh := newFakeGitHub()
	gh.repos["automation"] = []github.Repository{{Name: "flow", StargazersCount: 42, License: &github.License{Name: "MIT"}}}
	h := newTestHarvester(t, gh)

	if err := h.FullHarvest(context.Background()); err != nil {
		t.Fatalf("FullHarvest: %v", err)
	}
	if len(gh.queries) != len(ScheduledDefaults.Topics) {
		t.Fatalf("queries = %v", gh.queries)
	}

	b, err := os.ReadFile(filepath.Join(h.outputDir, "harvest_20240501_140005.json"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	var projects []Project
	if err := json.Unmarshal(b, &projects); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if len(projects) != 1 || projects[0].License == nil || *projects[0].License != "MIT" {
		t.Fatalf("projects = %+v", projects)
	}
}

func TestProcessTask(t *testing.T) {
	t.Parallel()
	gh := newFakeGitHub()
	gh.issues[12] = &github.Issue{Number: 12, Body: `{"id":"task:12","type":"harvest","payload":{"topics":["llm","ai"]}}`}
	gh.repos["llm"] = []github.Repository{{Name: "small", StargazersCount: 60}, {Name: "big", StargazersCount: 900, Topics: []string{"ai"}}}
	gh.repos["ai"] = []github.Repository{{Name: "mid", StargazersCount: 300}}
	gh.files["zipaJopa/agent-results/outputs/2024-05-01/harvest_task_12.json"] = &github.Content{SHA: "old-sha"}

	h := newTestHarvester(t, gh)
	if err := h.ProcessTask(context.Background(), 12); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}

	if len(gh.comments) != 2 {
		t.Fatalf("comments = %q", gh.comments)
	}
	if gh.comments[0] != "🚀 Task `task:12` (Type: `harvest`) started execution by `github-harvester-bot`." {
		t.Fatalf("start comment = %q", gh.comments[0])
	}
	done := gh.comments[1]
	for _, want := range []string{
		"DONE ✅ Task `task:12`",
		"- Topics searched: llm, ai",
		"- Projects harvested: 3",
		"- Top value scores: big (70), mid (30), small (6)",
		"📄 Full results stored at: https://github.com/zipaJopa/agent-results/blob/main/outputs/2024-05-01/harvest_task_12.json",
	} {
		if !strings.Contains(done, want) {
			t.Fatalf("done comment missing %q:\n%s", want, done)
		}
	}

	if len(gh.puts) != 1 {
		t.Fatalf("puts = %d", len(gh.puts))
	}
	put := gh.puts[0]
	if put.req.SHA != "old-sha" || put.req.Branch != "main" || put.req.Message != "feat: Store results for harvest task task:12" {
		t.Fatalf("put = %+v", put.req)
	}
	var doc TaskResult
	if err := json.Unmarshal(put.req.Content, &doc); err != nil {
		t.Fatalf("decode result doc: %v", err)
	}
	if doc.HarvestedCount != 3 || doc.Parameters.MinStars != 50 || doc.TaskType != "harvest" {
		t.Fatalf("doc = %+v", doc)
	}
}

func TestProcessTaskRejectsOtherTypes(t *testing.T) {
	t.Parallel()
	gh := newFakeGitHub()
	gh.issues[3] = &github.Issue{Number: 3, Body: `{"id":"x","type":"deploy"}`}
	h := newTestHarvester(t, gh)

	err := h.ProcessTask(context.Background(), 3)
	if !errors.Is(err, ErrUnsupportedTask) {
		t.Fatalf("err = %v", err)
	}
	if len(gh.queries) != 0 {
		t.Fatal("should not search for unsupported task")
	}
	if len(gh.comments) != 1 || gh.comments[0] != "❌ Task failed: Expected task type 'harvest', but got 'deploy'." {
		t.Fatalf("comments = %q", gh.comments)
	}
}

func TestProcessTaskBadJSON(t *testing.T) {
	t.Parallel()
	gh := newFakeGitHub()
	gh.issues[4] = &github.Issue{Number: 4, Body: `not json`}
	h := newTestHarvester(t, gh)

	if err := h.ProcessTask(context.Background(), 4); !errors.Is(err, ErrBadTask) {
		t.Fatalf("err = %v", err)
	}
	var v any
	decodeErr := json.Unmarshal([]byte(`not json`), &v)
	want := "❌ Task failed: Could not parse task JSON.\nError: " + decodeErr.Error()
	if len(gh.comments) != 1 || gh.comments[0] != want {
		t.Fatalf("comments = %q, want %q", gh.comments, want)
	}
}

func TestProcessTaskMissingIssue(t *testing.T) {
	t.Parallel()
	gh := newFakeGitHub()
	h := newTestHarvester(t, gh)
	if err := h.ProcessTask(context.Background(), 99); !github.IsNotFound(err) {
		t.Fatalf("err = %v", err)
	}
	if len(gh.comments) != 0 {
		t.Fatalf("comments = %q", gh.comments)
	}
}

func TestProcessTaskStoreFailure(t *testing.T) {
	t.Parallel()
	gh := newFakeGitHub()
	gh.issues[5] = &github.Issue{Number: 5, Body: `{"type":"harvest"}`}
	gh.putErr = errors.New("conflict")
	h := newTestHarvester(t, gh)

	if err := h.ProcessTask(context.Background(), 5); err == nil {
		t.Fatal("expected error")
	}
	last := gh.comments[len(gh.comments)-1]
	if !strings.HasPrefix(last, "❌ Task failed: An unexpected error occurred during task execution: conflict") {
		t.Fatalf("last comment = %q", last)
	}
	if !strings.Contains(gh.comments[0], "unknown_id_5") {
		t.Fatalf("start comment = %q", gh.comments[0])
	}
}

func TestResultPath(t *testing.T) {
	t.Parallel()
	got := ResultPath("a:b:c", time.Date(2024, 12, 31, 23, 0, 0, 0, time.FixedZone("X", -3600)))
	if got != "outputs/2025-01-01/harvest_a_b_c.json" {
		t.Fatalf("ResultPath = %q", got)
	}
}
