package harvester

import (
	"context"
	"strings"
	"sync"

	"harvestbot/internal/github"
)

type fakeGitHub struct {
	mu sync.Mutex

	issues    map[int]*github.Issue
	repos     map[string][]github.Repository // by topic
	failTopic map[string]error
	files     map[string]*github.Content
	putErr    error

	queries  []string
	comments []string
	puts     []putCall
}

type putCall struct {
	path string
	req  github.PutContentsRequest
}

func newFakeGitHub() *fakeGitHub {
	return &fakeGitHub{
		issues:    map[int]*github.Issue{},
		repos:     map[string][]github.Repository{},
		failTopic: map[string]error{},
		files:     map[string]*github.Content{},
	}
}

func (f *fakeGitHub) SearchRepositories(ctx context.Context, q string, opts github.SearchOptions) (*github.RepositorySearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	topic := strings.TrimPrefix(strings.Fields(q)[0], "topic:")
	if err := f.failTopic[topic]; err != nil {
		return nil, err
	}
	items := f.repos[topic]
	return &github.RepositorySearchResult{TotalCount: len(items), Items: items}, nil
}

func (f *fakeGitHub) GetIssue(ctx context.Context, owner, repo string, number int) (*github.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	is, ok := f.issues[number]
	if !ok {
		return nil, &github.APIError{StatusCode: 404, Message: "Not Found"}
	}
	return is, nil
}

func (f *fakeGitHub) CreateIssueComment(ctx context.Context, owner, repo string, number int, body string) (*github.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments = append(f.comments, body)
	return &github.Comment{ID: int64(len(f.comments)), Body: body}, nil
}

func (f *fakeGitHub) GetContents(ctx context.Context, owner, repo, path, ref string) (*github.Content, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.files[owner+"/"+repo+"/"+path]
	if !ok {
		return nil, &github.APIError{StatusCode: 404, Message: "Not Found"}
	}
	return c, nil
}

func (f *fakeGitHub) PutContents(ctx context.Context, owner, repo, path string, req github.PutContentsRequest) (*github.ContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.puts = append(f.puts, putCall{path: path, req: req})
	url := "https://github.com/" + owner + "/" + repo + "/blob/main/" + path
	return &github.ContentResponse{Content: &github.Content{Path: path, HTMLURL: url}}, nil
}
