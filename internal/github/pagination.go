package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// PageIterator lazily walks a paginated list endpoint by following the
// Link rel="next" header. Not safe for concurrent use.
type PageIterator[T any] struct {
	client  *Client
	nextURL string
	limit   int // stop after this many items; 0 = all pages
	seen    int
}

// Next returns the items of the next page, or nil, nil when exhausted.
func (it *PageIterator[T]) Next(ctx context.Context) ([]T, error) {
	if it.nextURL == "" || (it.limit > 0 && it.seen >= it.limit) {
		return nil, nil
	}

	body, header, err := it.client.doURL(ctx, http.MethodGet, it.nextURL, nil)
	if err != nil {
		return nil, err
	}

	var items []T
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("github: decode page: %w", err)
	}
	if items == nil {
		items = []T{}
	}

	it.nextURL = parseLinkNext(header.Get("Link"))
	if it.limit > 0 && it.seen+len(items) > it.limit {
		items = items[:it.limit-it.seen]
	}
	it.seen += len(items)
	return items, nil
}

// Collect fetches all remaining pages. On error it returns what it had
// gathered so far together with the error.
func (it *PageIterator[T]) Collect(ctx context.Context) ([]T, error) {
	var all []T
	for {
		items, err := it.Next(ctx)
		if err != nil {
			return all, err
		}
		if items == nil {
			return all, nil
		}
		all = append(all, items...)
	}
}

// parseLinkNext extracts the rel="next" target of an RFC 5988 Link header.
//
//	<https://api.github.com/...?page=2>; rel="next", <...>; rel="last"
func parseLinkNext(header string) string {
	if header == "" {
		return ""
	}
	for _, part := range strings.Split(header, ",") {
		segments := strings.SplitN(strings.TrimSpace(part), ";", 2)
		if len(segments) != 2 {
			continue
		}
		urlPart := strings.TrimSpace(segments[0])
		if !strings.Contains(segments[1], `rel="next"`) {
			continue
		}
		if strings.HasPrefix(urlPart, "<") && strings.HasSuffix(urlPart, ">") {
			return urlPart[1 : len(urlPart)-1]
		}
	}
	return ""
}
