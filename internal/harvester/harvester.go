// Package harvester finds trending repositories on GitHub, scores them, and
// serves "harvest" tasks posted as issues in the task repository.
package harvester

import (
	"context"
	"errors"
	"time"

	"harvestbot/internal/github"
	"harvestbot/pkg/logx"
)

// GitHub is the subset of the API client the harvester uses.
type GitHub interface {
	SearchRepositories(ctx context.Context, q string, opts github.SearchOptions) (*github.RepositorySearchResult, error)
	GetIssue(ctx context.Context, owner, repo string, number int) (*github.Issue, error)
	CreateIssueComment(ctx context.Context, owner, repo string, number int, body string) (*github.Comment, error)
	GetContents(ctx context.Context, owner, repo, path, ref string) (*github.Content, error)
	PutContents(ctx context.Context, owner, repo, path string, req github.PutContentsRequest) (*github.ContentResponse, error)
}

// Params selects what a harvest searches for.
type Params struct {
	Topics        []string `json:"topics"`
	MinStars      int      `json:"min_stars"`
	CreatedAfter  string   `json:"created_after"`
	CountPerTopic int      `json:"count_per_topic"`
}

// withDefaults fills zero fields from def. Config values use it, where
// zero means not configured; task payloads resolve by presence instead.
func (p Params) withDefaults(def Params) Params {
	if len(p.Topics) == 0 {
		p.Topics = append([]string(nil), def.Topics...)
	}
	if p.MinStars == 0 {
		p.MinStars = def.MinStars
	}
	if p.CreatedAfter == "" {
		p.CreatedAfter = def.CreatedAfter
	}
	if p.CountPerTopic <= 0 {
		p.CountPerTopic = def.CountPerTopic
	}
	return p
}

// ScheduledDefaults is what a full harvest searches when not configured.
var ScheduledDefaults = Params{
	Topics:        []string{"ai-agent", "automation", "saas-template", "trading-bot"},
	MinStars:      10,
	CreatedAfter:  "2024-01-01",
	CountPerTopic: 3,
}

// TaskDefaults fills whatever a task payload leaves out.
var TaskDefaults = Params{
	Topics:        []string{"ai", "agent", "automation", "llm"},
	MinStars:      50,
	CreatedAfter:  "2024-01-01",
	CountPerTopic: 5,
}

type Config struct {
	TasksRepo   string // owner/name
	ResultsRepo string // owner/name
	// BotName signs the start comment.
	BotName string
	Branch  string

	OutputDir  string
	TopicPause time.Duration

	Scheduled Params

	Logger logx.Logger
	Now    func() time.Time
}

type Harvester struct {
	gh  GitHub
	log logx.Logger
	now func() time.Time

	tasksOwner, tasksName     string
	resultsOwner, resultsName string
	botName                   string
	branch                    string
	outputDir                 string
	topicPause                time.Duration
	scheduled                 Params
}

func New(gh GitHub, cfg Config) (*Harvester, error) {
	if gh == nil {
		return nil, errors.New("harvester: github client is required")
	}
	to, tn, err := github.ParseRepo(cfg.TasksRepo)
	if err != nil {
		return nil, err
	}
	ro, rn, err := github.ParseRepo(cfg.ResultsRepo)
	if err != nil {
		return nil, err
	}

	h := &Harvester{
		gh:           gh,
		log:          cfg.Logger,
		now:          cfg.Now,
		tasksOwner:   to,
		tasksName:    tn,
		resultsOwner: ro,
		resultsName:  rn,
		botName:      cfg.BotName,
		branch:       cfg.Branch,
		outputDir:    cfg.OutputDir,
		topicPause:   cfg.TopicPause,
		scheduled:    cfg.Scheduled.withDefaults(ScheduledDefaults),
	}
	if h.log.IsZero() {
		h.log = logx.Nop()
	}
	h.log = h.log.With(logx.String("comp", "harvester"))
	if h.now == nil {
		h.now = time.Now
	}
	if h.botName == "" {
		h.botName = "github-harvester-bot"
	}
	if h.branch == "" {
		h.branch = "main"
	}
	if h.outputDir == "" {
		h.outputDir = "harvested"
	}
	if h.topicPause < 0 {
		h.topicPause = 0
	}
	return h, nil
}
