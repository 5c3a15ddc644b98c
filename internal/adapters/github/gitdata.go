package github

import (
	"context"
	"fmt"
	"net/http"
)

// Git data API types. These drive branch creation and commits without a
// local checkout: blobs are uploaded, assembled into a tree on top of
// the base commit, and a new ref points at the resulting commit.

const (
	fileModeBlob = "100644"
	treeTypeBlob = "blob"
)

// Ref is a git reference.
type Ref struct {
	Ref    string    `json:"ref"`
	Object RefObject `json:"object"`
}

// RefObject is the object a ref points at.
type RefObject struct {
	Type string `json:"type"`
	SHA  string `json:"sha"`
}

// GitCommit is a commit in the git database.
type GitCommit struct {
	SHA     string  `json:"sha"`
	Message string  `json:"message"`
	Tree    TreeRef `json:"tree"`
}

// TreeRef points at a git tree.
type TreeRef struct {
	SHA string `json:"sha"`
}

// TreeEntry is one path in a git tree. A nil SHA serializes as null,
// which tells GitHub to delete the path.
type TreeEntry struct {
	Path string  `json:"path"`
	Mode string  `json:"mode"`
	Type string  `json:"type"`
	SHA  *string `json:"sha"`
}

// GetRef fetches a reference, e.g. "heads/main".
func (c *Client) GetRef(ctx context.Context, owner, repo, ref string) (*Ref, error) {
	path := fmt.Sprintf("/repos/%s/%s/git/ref/%s", owner, repo, ref)
	var result Ref
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetCommit fetches a commit from the git database.
func (c *Client) GetCommit(ctx context.Context, owner, repo, sha string) (*GitCommit, error) {
	path := fmt.Sprintf("/repos/%s/%s/git/commits/%s", owner, repo, sha)
	var result GitCommit
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateBlob uploads file content and returns the blob SHA.
func (c *Client) CreateBlob(ctx context.Context, owner, repo, content string) (string, error) {
	path := fmt.Sprintf("/repos/%s/%s/git/blobs", owner, repo)
	reqBody := map[string]string{
		"content":  content,
		"encoding": "utf-8",
	}
	var result struct {
		SHA string `json:"sha"`
	}
	if err := c.doRequest(ctx, http.MethodPost, path, reqBody, &result); err != nil {
		return "", err
	}
	return result.SHA, nil
}

// CreateTree builds a tree on top of baseTree and returns its SHA.
func (c *Client) CreateTree(ctx context.Context, owner, repo, baseTree string, entries []TreeEntry) (string, error) {
	path := fmt.Sprintf("/repos/%s/%s/git/trees", owner, repo)
	reqBody := map[string]interface{}{
		"base_tree": baseTree,
		"tree":      entries,
	}
	var result struct {
		SHA string `json:"sha"`
	}
	if err := c.doRequest(ctx, http.MethodPost, path, reqBody, &result); err != nil {
		return "", err
	}
	return result.SHA, nil
}

// CreateCommit records a commit pointing at tree with the given parents.
func (c *Client) CreateCommit(ctx context.Context, owner, repo, message, tree string, parents []string) (string, error) {
	path := fmt.Sprintf("/repos/%s/%s/git/commits", owner, repo)
	reqBody := map[string]interface{}{
		"message": message,
		"tree":    tree,
		"parents": parents,
	}
	var result struct {
		SHA string `json:"sha"`
	}
	if err := c.doRequest(ctx, http.MethodPost, path, reqBody, &result); err != nil {
		return "", err
	}
	return result.SHA, nil
}

// CreateRef creates a new reference, e.g. "refs/heads/fix-42".
func (c *Client) CreateRef(ctx context.Context, owner, repo, ref, sha string) error {
	path := fmt.Sprintf("/repos/%s/%s/git/refs", owner, repo)
	reqBody := map[string]string{
		"ref": ref,
		"sha": sha,
	}
	return c.doRequest(ctx, http.MethodPost, path, reqBody, nil)
}

// DeleteRef removes a reference, e.g. "heads/fix-42".
func (c *Client) DeleteRef(ctx context.Context, owner, repo, ref string) error {
	path := fmt.Sprintf("/repos/%s/%s/git/refs/%s", owner, repo, ref)
	return c.doRequest(ctx, http.MethodDelete, path, nil, nil)
}
