package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// IssueListOptions filters ListIssues. Empty fields are not sent.
type IssueListOptions struct {
	State    string // "open", "closed", "all"
	Assignee string
	PerPage  int    // GitHub caps this at 100
	// Limit stops iteration after this many issues. Zero walks every page.
	Limit int
}

func (o IssueListOptions) query() url.Values {
	q := url.Values{}
	if o.State != "" {
		q.Set("state", o.State)
	}
	if o.Assignee != "" {
		q.Set("assignee", o.Assignee)
	}
	if o.PerPage > 0 {
		q.Set("per_page", strconv.Itoa(o.PerPage))
	}
	return q
}

// ListIssues returns an iterator over the issues of owner/repo matching opts.
func (c *Client) ListIssues(owner, repo string, opts IssueListOptions) *PageIterator[Issue] {
	u := fmt.Sprintf("%s/repos/%s/%s/issues", c.baseURL, url.PathEscape(owner), url.PathEscape(repo))
	if q := opts.query().Encode(); q != "" {
		u += "?" + q
	}
	return &PageIterator[Issue]{client: c, nextURL: u, limit: opts.Limit}
}

// GetIssue fetches a single issue.
func (c *Client) GetIssue(ctx context.Context, owner, repo string, number int) (*Issue, error) {
	var issue Issue
	path := fmt.Sprintf("/repos/%s/%s/issues/%d", url.PathEscape(owner), url.PathEscape(repo), number)
	if err := c.do(ctx, http.MethodGet, path, nil, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// CreateIssueComment posts body as a new comment on an issue.
func (c *Client) CreateIssueComment(ctx context.Context, owner, repo string, number int, body string) (*Comment, error) {
	var comment Comment
	path := fmt.Sprintf("/repos/%s/%s/issues/%d/comments", url.PathEscape(owner), url.PathEscape(repo), number)
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"body": body}, &comment); err != nil {
		return nil, err
	}
	return &comment, nil
}
