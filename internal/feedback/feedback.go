// Package feedback posts resolution outcomes back to the originating
// issue and renders the change visualization shown to callers.
package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alekspetrov/mend/internal/adapters/github"
	"github.com/alekspetrov/mend/internal/logging"
	"github.com/alekspetrov/mend/internal/resolver"
)

// Reporter posts comments on resolved issues.
type Reporter struct {
	client *github.Client
	log    *slog.Logger
}

// NewReporter creates a Reporter.
func NewReporter(client *github.Client) *Reporter {
	return &Reporter{
		client: client,
		log:    logging.WithComponent("feedback"),
	}
}

// ProvideFeedback comments on the issue with a link to the opened pull
// request.
func (r *Reporter) ProvideFeedback(ctx context.Context, pr *resolver.PullRequestResult, issue *resolver.IssueData) error {
	comment := fmt.Sprintf(
		"🤖 **mend opened a pull request for this issue**\n\n**Pull Request**: %s\n**Branch**: `%s`\n\n_Review the changes before merging. This issue will be closed when the PR is merged._",
		pr.URL, pr.Branch)

	if _, err := r.client.AddComment(ctx, issue.Owner, issue.Repo, issue.Number, comment); err != nil {
		return fmt.Errorf("failed to add feedback comment: %w", err)
	}

	r.log.Debug("feedback posted",
		"issue", fmt.Sprintf("%s/%s#%d", issue.Owner, issue.Repo, issue.Number),
		"pr_url", pr.URL)
	return nil
}

// CreateVisualization renders a mermaid flow chart of the resolution:
// issue to changed files to pull request. The caller decides where to
// display it.
func (r *Reporter) CreateVisualization(pr *resolver.PullRequestResult, issue *resolver.IssueData, changes *resolver.CodeChanges) string {
	var b strings.Builder

	b.WriteString("```mermaid\ngraph LR\n")
	fmt.Fprintf(&b, "    issue[\"Issue #%d\"] --> changes[\"%d file(s) changed\"]\n", issue.Number, countFiles(changes))
	fmt.Fprintf(&b, "    changes --> pr[\"PR #%d\"]\n", pr.Number)
	if changes != nil {
		for i, file := range changes.Files {
			fmt.Fprintf(&b, "    changes --> f%d[\"%s (%s)\"]\n", i, file.Path, file.Action)
		}
	}
	b.WriteString("```")

	return b.String()
}

func countFiles(changes *resolver.CodeChanges) int {
	if changes == nil {
		return 0
	}
	return len(changes.Files)
}
