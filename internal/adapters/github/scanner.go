package github

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alekspetrov/mend/internal/config"
	"github.com/alekspetrov/mend/internal/logging"
	"github.com/alekspetrov/mend/internal/trigger"
)

// Scanner discovers open issues in a repository for repo-wide runs.
type Scanner struct {
	client *Client
	cfg    *config.Manager
	log    *slog.Logger
}

// NewScanner creates a Scanner.
func NewScanner(client *Client, cfg *config.Manager) *Scanner {
	return &Scanner{
		client: client,
		cfg:    cfg,
		log:    logging.WithComponent("github-scanner"),
	}
}

// OpenIssues lists the repository's open issues as resolution candidates,
// oldest API order preserved. Pull requests are already filtered out by
// the client. Labels, when given, narrow the listing to issues carrying
// all of them.
func (s *Scanner) OpenIssues(ctx context.Context, owner, repo string, labels ...string) ([]trigger.IssueRef, error) {
	issues, err := s.client.ListIssues(ctx, owner, repo, &ListIssuesOptions{
		State:   StateOpen,
		Labels:  labels,
		PerPage: s.cfg.GetInt("github.perPage", 50),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list issues for %s/%s: %w", owner, repo, err)
	}

	refs := make([]trigger.IssueRef, 0, len(issues))
	for _, issue := range issues {
		url := issue.HTMLURL
		if url == "" {
			url = fmt.Sprintf("https://github.com/%s/%s/issues/%d", owner, repo, issue.Number)
		}
		refs = append(refs, trigger.IssueRef{
			Owner:  owner,
			Repo:   repo,
			Number: issue.Number,
			URL:    url,
		})
	}

	s.log.Debug("scanned repository", "owner", owner, "repo", repo, "open_issues", len(refs))
	return refs, nil
}
