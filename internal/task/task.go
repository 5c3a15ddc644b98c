// Package task prepares fetched issues for code generation.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/alekspetrov/mend/internal/config"
	"github.com/alekspetrov/mend/internal/logging"
	"github.com/alekspetrov/mend/internal/resolver"
)

const instructions = `Resolve this GitHub issue by changing the repository's files.
Read the issue description carefully, identify the root cause, and make the smallest change set that fixes it.
Prefer updating existing files over creating new ones. Do not reformat or refactor unrelated code.`

// Preparer builds task specifications from issue data using the current
// configuration.
type Preparer struct {
	cfg *config.Manager
	log *slog.Logger
}

// NewPreparer creates a Preparer.
func NewPreparer(cfg *config.Manager) *Preparer {
	return &Preparer{
		cfg: cfg,
		log: logging.WithComponent("task"),
	}
}

// SetupTask snapshots the issue and the relevant configuration into a
// TaskSpec. Each call produces a fresh task ID.
func (p *Preparer) SetupTask(ctx context.Context, issue *resolver.IssueData) (*resolver.TaskSpec, error) {
	if issue == nil {
		return nil, errors.New("no issue to prepare")
	}
	if issue.Title == "" && issue.Body == "" {
		return nil, fmt.Errorf("issue %s/%s#%d has no content to work from", issue.Owner, issue.Repo, issue.Number)
	}
	if issue.State == "closed" {
		p.log.Warn("preparing task for a closed issue",
			"owner", issue.Owner, "repo", issue.Repo, "number", issue.Number)
	}

	spec := &resolver.TaskSpec{
		ID:               uuid.NewString(),
		Issue:            issue,
		Instructions:     instructions,
		AllowedFileTypes: p.cfg.GetStrings("security.allowedFileTypes"),
		MaxFiles:         p.cfg.GetInt("task.maxFilesPerIssue", 10),
		BaseBranch:       p.cfg.GetString("task.baseBranch", "main"),
	}

	p.log.Debug("task prepared",
		"task_id", spec.ID,
		"issue", fmt.Sprintf("%s/%s#%d", issue.Owner, issue.Repo, issue.Number),
		"max_files", spec.MaxFiles,
		"base_branch", spec.BaseBranch)

	return spec, nil
}
