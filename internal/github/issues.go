package github

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v81/github"
)

type Issue struct {
	Title  string
	Body   string
	Labels []string
}

// SplitRepo splits "owner/repo".
func SplitRepo(full string) (owner, repo string, err error) {
	owner, repo, ok := strings.Cut(strings.TrimSpace(full), "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("invalid repository %q (expected OWNER/REPO)", full)
	}
	return owner, repo, nil
}

// CreateIssue opens an issue in repo ("owner/name") and returns its HTML URL.
func (c *Client) CreateIssue(ctx context.Context, repo string, issue Issue) (string, error) {
	if c == nil || c.Client == nil {
		return "", fmt.Errorf("github client is nil")
	}
	owner, name, err := SplitRepo(repo)
	if err != nil {
		return "", err
	}

	req := &github.IssueRequest{
		Title: github.Ptr(issue.Title),
		Body:  github.Ptr(issue.Body),
	}
	if len(issue.Labels) > 0 {
		labels := append([]string(nil), issue.Labels...)
		req.Labels = &labels
	}

	created, resp, err := c.Client.Issues.Create(ctx, owner, name, req)
	if err != nil {
		if resp != nil {
			return "", fmt.Errorf("create issue in %s: status %d: %w", repo, resp.StatusCode, err)
		}
		return "", fmt.Errorf("create issue in %s: %w", repo, err)
	}
	return created.GetHTMLURL(), nil
}
