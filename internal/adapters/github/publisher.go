package github

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alekspetrov/mend/internal/config"
	"github.com/alekspetrov/mend/internal/logging"
	"github.com/alekspetrov/mend/internal/resolver"
)

// blobUploadConcurrency bounds parallel blob uploads per pull request.
const blobUploadConcurrency = 4

// Publisher turns generated code changes into a branch, commit, and pull
// request via the git data API, with no local checkout.
type Publisher struct {
	client *Client
	cfg    *config.Manager
	log    *slog.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(client *Client, cfg *config.Manager) *Publisher {
	return &Publisher{
		client: client,
		cfg:    cfg,
		log:    logging.WithComponent("github-publisher"),
	}
}

// CreatePullRequest publishes changes for issue and returns the opened
// pull request. Label application is best-effort; a label failure never
// fails the publish.
func (p *Publisher) CreatePullRequest(ctx context.Context, changes *resolver.CodeChanges, issue *resolver.IssueData) (*resolver.PullRequestResult, error) {
	if changes == nil || len(changes.Files) == 0 {
		return nil, fmt.Errorf("no file changes to publish")
	}

	base := p.cfg.GetString("task.baseBranch", "main")
	branch := p.branchName(issue.Number)

	p.log.Debug("publishing changes",
		"owner", issue.Owner,
		"repo", issue.Repo,
		"issue", issue.Number,
		"branch", branch,
		"files", len(changes.Files))

	baseRef, err := p.client.GetRef(ctx, issue.Owner, issue.Repo, "heads/"+base)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base branch %s: %w", base, err)
	}
	baseCommit, err := p.client.GetCommit(ctx, issue.Owner, issue.Repo, baseRef.Object.SHA)
	if err != nil {
		return nil, fmt.Errorf("failed to read base commit: %w", err)
	}

	entries, err := p.buildTreeEntries(ctx, issue.Owner, issue.Repo, changes.Files)
	if err != nil {
		return nil, err
	}

	treeSHA, err := p.client.CreateTree(ctx, issue.Owner, issue.Repo, baseCommit.Tree.SHA, entries)
	if err != nil {
		return nil, fmt.Errorf("failed to create tree: %w", err)
	}

	message := changes.CommitMessage
	if message == "" {
		message = fmt.Sprintf("fix: resolve issue #%d", issue.Number)
	}
	commitSHA, err := p.client.CreateCommit(ctx, issue.Owner, issue.Repo, message, treeSHA, []string{baseRef.Object.SHA})
	if err != nil {
		return nil, fmt.Errorf("failed to create commit: %w", err)
	}

	if err := p.client.CreateRef(ctx, issue.Owner, issue.Repo, "refs/heads/"+branch, commitSHA); err != nil {
		return nil, fmt.Errorf("failed to create branch %s: %w", branch, err)
	}

	pr, err := p.client.CreatePullRequest(ctx, issue.Owner, issue.Repo, &PullRequestInput{
		Title: p.cfg.GetString("pullRequest.titlePrefix", "fix: ") + issue.Title,
		Head:  branch,
		Base:  base,
		Body:  p.pullRequestBody(changes, issue),
		Draft: p.cfg.GetBool("pullRequest.draft", true),
	})
	if err != nil {
		// The branch exists but carries no pull request; remove it so a
		// retry starts clean.
		if delErr := p.client.DeleteRef(ctx, issue.Owner, issue.Repo, "heads/"+branch); delErr != nil {
			p.log.Warn("failed to remove orphaned branch", "branch", branch, "error", delErr)
		}
		return nil, fmt.Errorf("failed to open pull request: %w", err)
	}

	if labels := p.cfg.GetStrings("pullRequest.labels"); len(labels) > 0 {
		if err := p.client.AddLabels(ctx, issue.Owner, issue.Repo, pr.Number, labels); err != nil {
			p.log.Warn("failed to label pull request", "pr", pr.Number, "error", err)
		}
	}

	p.log.Info("pull request opened",
		"pr_url", pr.HTMLURL,
		"pr_number", pr.Number,
		"branch", branch)

	return &resolver.PullRequestResult{
		URL:    pr.HTMLURL,
		Number: pr.Number,
		Branch: branch,
	}, nil
}

// branchName builds a branch name unique per run so repeated resolutions
// of the same issue never collide.
func (p *Publisher) branchName(issueNumber int) string {
	prefix := p.cfg.GetString("task.branchPrefix", "mend/")
	suffix := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return fmt.Sprintf("%sissue-%d-%s", prefix, issueNumber, suffix)
}

// buildTreeEntries uploads blobs for created and updated files and maps
// deletions to null-SHA entries. Entry order matches the input order.
func (p *Publisher) buildTreeEntries(ctx context.Context, owner, repo string, files []resolver.FileChange) ([]TreeEntry, error) {
	entries := make([]TreeEntry, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(blobUploadConcurrency)

	for i, file := range files {
		entries[i] = TreeEntry{
			Path: file.Path,
			Mode: fileModeBlob,
			Type: treeTypeBlob,
		}
		if file.Action == resolver.ActionDelete {
			continue
		}

		g.Go(func() error {
			sha, err := p.client.CreateBlob(gctx, owner, repo, file.Content)
			if err != nil {
				return fmt.Errorf("failed to upload %s: %w", file.Path, err)
			}
			entries[i].SHA = &sha
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

// pullRequestBody renders the pull request description.
func (p *Publisher) pullRequestBody(changes *resolver.CodeChanges, issue *resolver.IssueData) string {
	var b strings.Builder

	if changes.Summary != "" {
		b.WriteString(changes.Summary)
		b.WriteString("\n\n")
	}

	b.WriteString("## Changes\n\n")
	for _, file := range changes.Files {
		b.WriteString(fmt.Sprintf("- `%s` (%s)", file.Path, file.Action))
		if file.Reason != "" {
			b.WriteString(": " + file.Reason)
		}
		b.WriteString("\n")
	}

	b.WriteString(fmt.Sprintf("\nCloses #%d\n", issue.Number))
	return b.String()
}
