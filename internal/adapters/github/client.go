package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const githubAPIURL = "https://api.github.com"

// Issue states
const (
	StateOpen   = "open"
	StateClosed = "closed"
)

// Client is a GitHub REST API client.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string // for testing, defaults to githubAPIURL
}

// NewClient creates a new GitHub client.
func NewClient(token string) *Client {
	return &Client{
		token:   token,
		baseURL: githubAPIURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewClientWithBaseURL creates a new GitHub client with a custom base URL (for testing).
func NewClientWithBaseURL(token, baseURL string) *Client {
	c := NewClient(token)
	c.baseURL = baseURL
	return c
}

// SetTimeout overrides the default request timeout.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.httpClient.Timeout = d
	}
}

// Issue represents a GitHub issue.
type Issue struct {
	ID        int64     `json:"id"`
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	State     string    `json:"state"`
	Labels    []Label   `json:"labels"`
	User      User      `json:"user"` // issue author
	HTMLURL   string    `json:"html_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Present when the entry is actually a pull request; the issues
	// endpoint returns both.
	PullRequest *PullRequestRef `json:"pull_request,omitempty"`
}

// PullRequestRef marks an issues-endpoint entry as a pull request.
type PullRequestRef struct {
	URL string `json:"url"`
}

// Label represents a GitHub label.
type Label struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Color       string `json:"color"`
}

// User represents a GitHub user.
type User struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

// Comment represents a GitHub issue comment.
type Comment struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	User      User      `json:"user"`
	HTMLURL   string    `json:"html_url"`
	CreatedAt time.Time `json:"created_at"`
}

// PullRequestInput is the request body for opening a pull request.
type PullRequestInput struct {
	Title string `json:"title"`
	Head  string `json:"head"`
	Base  string `json:"base"`
	Body  string `json:"body,omitempty"`
	Draft bool   `json:"draft"`
}

// PullRequest represents a GitHub pull request.
type PullRequest struct {
	ID      int64             `json:"id"`
	Number  int               `json:"number"`
	State   string            `json:"state"`
	Title   string            `json:"title"`
	HTMLURL string            `json:"html_url"`
	Draft   bool              `json:"draft"`
	Head    PullRequestBranch `json:"head"`
	Base    PullRequestBranch `json:"base"`
}

// PullRequestBranch is one side of a pull request.
type PullRequestBranch struct {
	Ref string `json:"ref"`
	SHA string `json:"sha"`
}

// doRequest performs an HTTP request against the GitHub API.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}

// isStatusError reports whether err carries the given HTTP status.
func isStatusError(err error, status int) bool {
	return err != nil && strings.Contains(err.Error(), "status "+strconv.Itoa(status))
}

// GetIssue fetches an issue by owner, repo, and number.
func (c *Client) GetIssue(ctx context.Context, owner, repo string, number int) (*Issue, error) {
	path := fmt.Sprintf("/repos/%s/%s/issues/%d", owner, repo, number)
	var issue Issue
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// ListIssuesOptions filters ListIssues.
type ListIssuesOptions struct {
	State   string
	Labels  []string
	PerPage int
}

// ListIssues lists issues for a repository. Pull requests are dropped
// from the result; label filtering happens in code after fetching
// because GitHub's label query is case-sensitive.
func (c *Client) ListIssues(ctx context.Context, owner, repo string, opts *ListIssuesOptions) ([]*Issue, error) {
	query := url.Values{}
	var filterLabels []string
	if opts != nil {
		filterLabels = opts.Labels
		if opts.State != "" {
			query.Set("state", opts.State)
		}
		if opts.PerPage > 0 {
			query.Set("per_page", strconv.Itoa(opts.PerPage))
		}
	}

	path := fmt.Sprintf("/repos/%s/%s/issues", owner, repo)
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var fetched []*Issue
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &fetched); err != nil {
		return nil, err
	}

	var issues []*Issue
	for _, issue := range fetched {
		if issue.PullRequest != nil {
			continue
		}
		if !hasAllLabels(issue, filterLabels) {
			continue
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

// AddComment adds a comment to an issue.
func (c *Client) AddComment(ctx context.Context, owner, repo string, number int, body string) (*Comment, error) {
	return WithRetry(ctx, func() (*Comment, error) {
		path := fmt.Sprintf("/repos/%s/%s/issues/%d/comments", owner, repo, number)
		reqBody := map[string]string{"body": body}
		var comment Comment
		if err := c.doRequest(ctx, http.MethodPost, path, reqBody, &comment); err != nil {
			return nil, err
		}
		return &comment, nil
	}, DefaultRetryOptions())
}

// AddLabels adds labels to an issue or pull request.
func (c *Client) AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error {
	return WithRetryVoid(ctx, func() error {
		path := fmt.Sprintf("/repos/%s/%s/issues/%d/labels", owner, repo, number)
		reqBody := map[string][]string{"labels": labels}
		return c.doRequest(ctx, http.MethodPost, path, reqBody, nil)
	}, DefaultRetryOptions())
}

// CreatePullRequest opens a pull request.
func (c *Client) CreatePullRequest(ctx context.Context, owner, repo string, input *PullRequestInput) (*PullRequest, error) {
	return WithRetry(ctx, func() (*PullRequest, error) {
		path := fmt.Sprintf("/repos/%s/%s/pulls", owner, repo)
		var result PullRequest
		if err := c.doRequest(ctx, http.MethodPost, path, input, &result); err != nil {
			return nil, err
		}
		return &result, nil
	}, DefaultRetryOptions())
}

// HasLabel checks if an issue has a specific label (case-insensitive).
func HasLabel(issue *Issue, labelName string) bool {
	for _, label := range issue.Labels {
		if strings.EqualFold(label.Name, labelName) {
			return true
		}
	}
	return false
}

func hasAllLabels(issue *Issue, labels []string) bool {
	for _, want := range labels {
		if !HasLabel(issue, want) {
			return false
		}
	}
	return true
}
