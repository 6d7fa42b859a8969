// Package github posts CARROT run status comments back to the GitHub PR or
// issue that triggered them (spec §4.5/§4.7). Grounded on the teacher's
// internal/alert/webhook.go WebhookSink (http.Client{Timeout} + JSON POST
// + status-code check), generalized to GitHub's issue-comment REST
// endpoint with a bearer token instead of an arbitrary webhook URL.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultTimeout = 10 * time.Second

// Client posts comments to GitHub issues/PRs.
type Client struct {
	apiToken string
	baseURL  string
	client   *http.Client
}

// New constructs a Client. apiToken is GitHubConfig.APIToken.
func New(apiToken string) *Client {
	return &Client{
		apiToken: apiToken,
		baseURL:  "https://api.github.com",
		client:   &http.Client{Timeout: defaultTimeout},
	}
}

// PostComment creates a comment on the given issue/PR, per spec §4.5's
// requirement that run start/finish notify the triggering PR thread.
func (c *Client) PostComment(ctx context.Context, owner, repo string, issueNumber int, body string) error {
	payload, err := json.Marshal(map[string]string{"body": body})
	if err != nil {
		return fmt.Errorf("github: marshal comment body: %w", err)
	}

	url := fmt.Sprintf("%s/repos/%s/%s/issues/%d/comments", c.baseURL, owner, repo, issueNumber)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("github: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("github: post comment: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("github: post comment returned status %d", resp.StatusCode)
	}
	return nil
}
