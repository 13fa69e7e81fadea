package harvester

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"harvestbot/internal/github"
	"harvestbot/pkg/logx"
)

// Project is one harvested repository.
type Project struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	FullName    string    `json:"full_name"`
	URL         string    `json:"url"`
	Description *string    `json:"description"`
	Stars       int        `json:"stars"`
	Forks       int        `json:"forks"`
	Language    *string    `json:"language"`
	Topics      []string   `json:"topics"`
	CreatedAt   *time.Time `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at"`
	PushedAt    *time.Time `json:"pushed_at"`
	License     *string    `json:"license"`
	HarvestedAt time.Time  `json:"harvested_at"`
	ValueScore  float64    `json:"value_score"`
}

var highValueKeywords = []string{"ai", "automation", "saas", "api", "bot"}

// Score rates a repository from 0 to 100: a tenth of its stars (at most 50)
// plus 20 for each high-value keyword that appears in a topic or in the
// description.
func Score(r github.Repository) float64 {
	score := float64(r.StargazersCount) / 10
	if score > 50 {
		score = 50
	}
	haystack := make([]string, 0, len(r.Topics)+1)
	for _, t := range r.Topics {
		haystack = append(haystack, strings.ToLower(t))
	}
	if r.Description != nil {
		haystack = append(haystack, strings.ToLower(*r.Description))
	}

	for _, kw := range highValueKeywords {
		for _, s := range haystack {
			if strings.Contains(s, kw) {
				score += 20
				break
			}
		}
	}
	if score > 100 {
		score = 100
	}
	return score
}

func (h *Harvester) analyze(r github.Repository) Project {
	p := Project{
		ID:          r.ID,
		Name:        r.Name,
		FullName:    r.FullName,
		URL:         r.HTMLURL,
		Description: r.Description,
		Stars:       r.StargazersCount,
		Forks:       r.ForksCount,
		Language:    r.Language,
		Topics:      r.Topics,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		PushedAt:    r.PushedAt,
		HarvestedAt: h.now().UTC(),
		ValueScore:  Score(r),
	}
	if p.Topics == nil {
		p.Topics = []string{}
	}
	if r.License != nil && r.License.Name != "" {
		name := r.License.Name
		p.License = &name
	}
	return p
}

func searchQuery(topic string, p Params) string {
	return fmt.Sprintf("topic:%s stars:>%d created:>%s", topic, p.MinStars, p.CreatedAfter)
}

// HarvestTrending searches every topic in p and returns the analyzed hits in
// topic order. A failed topic is logged and skipped; the returned error joins
// all topic failures.
func (h *Harvester) HarvestTrending(ctx context.Context, p Params) ([]Project, error) {
	projects := []Project{}
	var errs []error
	for i, topic := range p.Topics {
		if i > 0 && h.topicPause > 0 {
			t := time.NewTimer(h.topicPause)
			select {
			case <-ctx.Done():
				t.Stop()
				return projects, ctx.Err()
			case <-t.C:
			}
		}

		res, err := h.gh.SearchRepositories(ctx, searchQuery(topic, p), github.SearchOptions{
			Sort:    "stars",
			Order:   "desc",
			PerPage: p.CountPerTopic,
		})
		if err != nil {
			if ctx.Err() != nil {
				return projects, ctx.Err()
			}
			h.log.Warn("topic search failed", logx.String("topic", topic), logx.Err(err))
			errs = append(errs, fmt.Errorf("topic %s: %w", topic, err))
			continue
		}
		items := res.Items
		if len(items) > p.CountPerTopic {
			items = items[:p.CountPerTopic]
		}
		for _, r := range items {
			projects = append(projects, h.analyze(r))
		}
		h.log.Debug("topic searched", logx.String("topic", topic), logx.Int("found", len(items)))
	}
	return projects, errors.Join(errs...)
}
