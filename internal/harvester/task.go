package harvester

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"harvestbot/internal/github"
	"harvestbot/pkg/logx"
)

const taskTypeHarvest = "harvest"

var (
	// ErrBadTask means the issue body is not a valid task document.
	ErrBadTask = errors.New("invalid task document")
	// ErrUnsupportedTask means the task type is not "harvest".
	ErrUnsupportedTask = errors.New("unsupported task type")
)

// TaskSpec is the JSON document carried in a task issue body.
type TaskSpec struct {
	ID      string      `json:"id"`
	Type    string      `json:"type"`
	Payload TaskPayload `json:"payload"`
}

// TaskPayload holds the search parameters as sent. An absent or null field
// takes the task default; a present zero value such as "min_stars": 0 or
// "topics": [] is kept.
type TaskPayload struct {
	Topics        *[]string `json:"topics"`
	MinStars      *int      `json:"min_stars"`
	CreatedAfter  *string   `json:"created_after"`
	CountPerTopic *int      `json:"count_per_topic"`
}

// Params resolves p against def.
func (p TaskPayload) Params(def Params) Params {
	out := Params{
		Topics:        append([]string(nil), def.Topics...),
		MinStars:      def.MinStars,
		CreatedAfter:  def.CreatedAfter,
		CountPerTopic: def.CountPerTopic,
	}
	if p.Topics != nil {
		out.Topics = append([]string{}, (*p.Topics)...)
	}
	if p.MinStars != nil {
		out.MinStars = *p.MinStars
	}
	if p.CreatedAfter != nil {
		out.CreatedAfter = *p.CreatedAfter
	}
	if p.CountPerTopic != nil {
		out.CountPerTopic = *p.CountPerTopic
	}
	return out
}

// ParseTask decodes an issue body. A blank body is an empty document; a
// missing id becomes unknown_id_<number> and a missing type unknown_type.
// Decode failures match ErrBadTask and keep the JSON error in the chain.
func ParseTask(number int, body string) (TaskSpec, error) {
	spec, err := decodeTask(number, body)
	if err != nil {
		return TaskSpec{}, fmt.Errorf("%w: %w", ErrBadTask, err)
	}
	return spec, nil
}

func decodeTask(number int, body string) (TaskSpec, error) {
	if strings.TrimSpace(body) == "" {
		body = "{}"
	}
	var spec TaskSpec
	if err := json.Unmarshal([]byte(body), &spec); err != nil {
		return TaskSpec{}, err
	}
	if spec.ID == "" {
		spec.ID = "unknown_id_" + strconv.Itoa(number)
	}
	if spec.Type == "" {
		spec.Type = "unknown_type"
	}
	return spec, nil
}

// TaskResult is the document committed to the results repository.
type TaskResult struct {
	TaskID            string    `json:"task_id"`
	TaskType          string    `json:"task_type"`
	ExecutionTime     time.Time `json:"execution_time"`
	Parameters        Params    `json:"parameters"`
	HarvestedCount    int       `json:"harvested_count"`
	HarvestedProjects []Project `json:"harvested_projects"`
}

// ResultPath is where a task's result document lives in the results repo.
func ResultPath(taskID string, at time.Time) string {
	return fmt.Sprintf("outputs/%s/harvest_%s.json", at.UTC().Format("2006-01-02"), strings.ReplaceAll(taskID, ":", "_"))
}

// ProcessTask serves the harvest task in issue #number of the task repo:
// it comments on start, harvests, commits the result document, and comments
// again with a summary. Failures after the issue was read are reported on
// the issue too.
func (h *Harvester) ProcessTask(ctx context.Context, number int) error {
	log := h.log.With(logx.Int("issue", number))

	issue, err := h.gh.GetIssue(ctx, h.tasksOwner, h.tasksName, number)
	if err != nil {
		return fmt.Errorf("fetch issue #%d: %w", number, err)
	}

	spec, err := decodeTask(number, issue.Body)
	if err != nil {
		h.comment(ctx, log, number, fmt.Sprintf("❌ Task failed: Could not parse task JSON.\nError: %v", err))
		return fmt.Errorf("%w: %w", ErrBadTask, err)
	}
	log = log.With(logx.String("task_id", spec.ID))
	if spec.Type != taskTypeHarvest {
		h.comment(ctx, log, number, fmt.Sprintf("❌ Task failed: Expected task type '%s', but got '%s'.", taskTypeHarvest, spec.Type))
		return fmt.Errorf("%w: %q", ErrUnsupportedTask, spec.Type)
	}

	h.comment(ctx, log, number, fmt.Sprintf("🚀 Task `%s` (Type: `%s`) started execution by `%s`.", spec.ID, spec.Type, h.botName))

	params := spec.Payload.Params(TaskDefaults)
	projects, err := h.HarvestTrending(ctx, params)
	if err != nil {
		h.fail(ctx, log, number, err)
		return fmt.Errorf("harvest task %s: %w", spec.ID, err)
	}

	now := h.now()
	result := TaskResult{
		TaskID:            spec.ID,
		TaskType:          spec.Type,
		ExecutionTime:     now.UTC(),
		Parameters:        params,
		HarvestedCount:    len(projects),
		HarvestedProjects: projects,
	}
	url, err := h.commitResult(ctx, ResultPath(spec.ID, now), result)
	if err != nil {
		h.fail(ctx, log, number, err)
		return fmt.Errorf("store task %s: %w", spec.ID, err)
	}
	if url == "" {
		h.comment(ctx, log, number, fmt.Sprintf("❌ Task failed: Could not store results in %s/%s.", h.resultsOwner, h.resultsName))
		return fmt.Errorf("store task %s: no result URL returned", spec.ID)
	}

	h.comment(ctx, log, number, doneComment(spec, params, projects, url))
	log.Info("task completed", logx.Int("projects", len(projects)), logx.String("url", url))
	return nil
}

func (h *Harvester) commitResult(ctx context.Context, path string, result TaskResult) (string, error) {
	b, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", err
	}

	var sha string
	existing, err := h.gh.GetContents(ctx, h.resultsOwner, h.resultsName, path, h.branch)
	switch {
	case err == nil:
		sha = existing.SHA
	case github.IsNotFound(err):
	default:
		return "", err
	}

	res, err := h.gh.PutContents(ctx, h.resultsOwner, h.resultsName, path, github.PutContentsRequest{
		Message: "feat: Store results for harvest task " + result.TaskID,
		Content: b,
		SHA:     sha,
		Branch:  h.branch,
	})
	if err != nil {
		return "", err
	}
	if res.Content == nil {
		return "", nil
	}
	return res.Content.HTMLURL, nil
}

func doneComment(spec TaskSpec, params Params, projects []Project, url string) string {
	top := append([]Project(nil), projects...)
	sort.SliceStable(top, func(i, j int) bool { return top[i].ValueScore > top[j].ValueScore })
	if len(top) > 3 {
		top = top[:3]
	}
	scores := make([]string, 0, len(top))
	for _, p := range top {
		scores = append(scores, fmt.Sprintf("%s (%s)", p.Name, strconv.FormatFloat(p.ValueScore, 'f', -1, 64)))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "DONE ✅ Task `%s` (Type: `%s`) completed successfully.\n\n", spec.ID, spec.Type)
	b.WriteString("📊 **Results Summary:**\n")
	fmt.Fprintf(&b, "- Topics searched: %s\n", strings.Join(params.Topics, ", "))
	fmt.Fprintf(&b, "- Projects harvested: %d\n", len(projects))
	fmt.Fprintf(&b, "- Top value scores: %s\n\n", strings.Join(scores, ", "))
	fmt.Fprintf(&b, "📄 Full results stored at: %s", url)
	return b.String()
}

func (h *Harvester) fail(ctx context.Context, log logx.Logger, number int, err error) {
	h.comment(ctx, log, number, fmt.Sprintf("❌ Task failed: An unexpected error occurred during task execution: %v", err))
}

// comment posts best effort; a failed comment never fails the task on its own.
func (h *Harvester) comment(ctx context.Context, log logx.Logger, number int, body string) {
	if _, err := h.gh.CreateIssueComment(ctx, h.tasksOwner, h.tasksName, number, body); err != nil {
		log.Warn("post comment failed", logx.Err(err))
	}
}
