package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// PutContentsRequest creates or updates a file. SHA must carry the current
// blob sha when the file already exists.
type PutContentsRequest struct {
	Message string
	Content []byte
	SHA     string
	Branch  string
}

func contentsPath(owner, repo, path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return fmt.Sprintf("/repos/%s/%s/contents/%s", url.PathEscape(owner), url.PathEscape(repo), strings.Join(parts, "/"))
}

// GetContents reads file metadata and content at ref (empty = default
// branch). A missing file yields an error for which IsNotFound is true.
func (c *Client) GetContents(ctx context.Context, owner, repo, path, ref string) (*Content, error) {
	p := contentsPath(owner, repo, path)
	if ref != "" {
		p += "?ref=" + url.QueryEscape(ref)
	}
	var content Content
	if err := c.do(ctx, http.MethodGet, p, nil, &content); err != nil {
		return nil, err
	}
	return &content, nil
}

// Decode returns the file bytes of a base64-encoded content entry.
func (c *Content) Decode() ([]byte, error) {
	if c.Encoding != "" && c.Encoding != "base64" {
		return nil, fmt.Errorf("github: unsupported content encoding %q", c.Encoding)
	}
	// GitHub wraps the base64 payload at 60 columns.
	return base64.StdEncoding.DecodeString(strings.ReplaceAll(c.Content, "\n", ""))
}

// PutContents creates or replaces a file with a single commit.
func (c *Client) PutContents(ctx context.Context, owner, repo, path string, req PutContentsRequest) (*ContentResponse, error) {
	wire := struct {
		Message string `json:"message"`
		Content string `json:"content"`
		SHA     string `json:"sha,omitempty"`
		Branch  string `json:"branch,omitempty"`
	}{
		Message: req.Message,
		Content: base64.StdEncoding.EncodeToString(req.Content),
		SHA:     req.SHA,
		Branch:  req.Branch,
	}
	var res ContentResponse
	if err := c.do(ctx, http.MethodPut, contentsPath(owner, repo, path), wire, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
