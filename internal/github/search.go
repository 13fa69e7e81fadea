package github

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// SearchOptions controls SearchRepositories.
type SearchOptions struct {
	Sort    string // "stars", "forks", "updated"
	Order   string // "asc", "desc"
	PerPage int
}

// SearchRepositories runs GET /search/repositories with q in GitHub's search
// syntax, e.g. "topic:ai stars:>50 created:>2024-01-01". Only the first page
// is fetched.
func (c *Client) SearchRepositories(ctx context.Context, q string, opts SearchOptions) (*RepositorySearchResult, error) {
	v := url.Values{}
	v.Set("q", q)
	if opts.Sort != "" {
		v.Set("sort", opts.Sort)
	}
	if opts.Order != "" {
		v.Set("order", opts.Order)
	}
	if opts.PerPage > 0 {
		v.Set("per_page", strconv.Itoa(opts.PerPage))
	}

	var res RepositorySearchResult
	if err := c.do(ctx, http.MethodGet, "/search/repositories?"+v.Encode(), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
