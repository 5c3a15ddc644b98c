package github

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alekspetrov/mend/internal/logging"
	"github.com/alekspetrov/mend/internal/resolver"
	"github.com/alekspetrov/mend/internal/trigger"
)

// Source fetches issue data from GitHub for the resolution pipeline.
type Source struct {
	client *Client
	log    *slog.Logger
}

// NewSource creates a Source backed by the given client.
func NewSource(client *Client) *Source {
	return &Source{
		client: client,
		log:    logging.WithComponent("github-source"),
	}
}

// FetchIssue retrieves the issue behind a GitHub issue URL.
func (s *Source) FetchIssue(ctx context.Context, issueURL string) (*resolver.IssueData, error) {
	ref, ok := trigger.ParseIssueURL(issueURL)
	if !ok {
		return nil, fmt.Errorf("unrecognized issue url: %s", issueURL)
	}

	s.log.Debug("fetching issue", "owner", ref.Owner, "repo", ref.Repo, "number", ref.Number)

	issue, err := s.client.GetIssue(ctx, ref.Owner, ref.Repo, ref.Number)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch issue %s/%s#%d: %w", ref.Owner, ref.Repo, ref.Number, err)
	}

	labels := make([]string, 0, len(issue.Labels))
	for _, label := range issue.Labels {
		labels = append(labels, label.Name)
	}

	htmlURL := issue.HTMLURL
	if htmlURL == "" {
		htmlURL = issueURL
	}

	return &resolver.IssueData{
		Owner:  ref.Owner,
		Repo:   ref.Repo,
		Number: issue.Number,
		URL:    htmlURL,
		Title:  issue.Title,
		Body:   issue.Body,
		Labels: labels,
		Author: issue.User.Login,
		State:  issue.State,
	}, nil
}
