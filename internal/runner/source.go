package runner

import (
	"context"

	"harvestbot/internal/github"
)

// IssueSource lists the open issues assigned to the bot, in API order.
type IssueSource interface {
	AssignedIssues(ctx context.Context) ([]Task, error)
}

// GitHubSource reads assigned issues from a GitHub repository.
type GitHubSource struct {
	Client   *github.Client
	Owner    string
	Repo     string
	Assignee string
	// PerPage defaults to 100.
	PerPage int
}

func (s GitHubSource) AssignedIssues(ctx context.Context) ([]Task, error) {
	perPage := s.PerPage
	if perPage <= 0 {
		perPage = 100
	}
	issues, err := s.Client.ListIssues(s.Owner, s.Repo, github.IssueListOptions{
		State:    "open",
		Assignee: s.Assignee,
		PerPage:  perPage,
	}).Collect(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Task, 0, len(issues))
	for _, is := range issues {
		out = append(out, Task{Number: is.Number, Title: is.Title})
	}
	return out, nil
}
