package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alekspetrov/mend/internal/config"
	"github.com/alekspetrov/mend/internal/logging"
	"github.com/alekspetrov/mend/internal/trigger"
)

// RunFunc resolves one issue; the Pipeline's Resolve wrapped per issue.
type RunFunc func(ctx context.Context, issue trigger.IssueRef) *Result

// Scheduler fans a batch of issues out over a bounded worker pool. At
// most batch.maxConcurrent pipelines run at once; a freed slot pulls
// the next queued issue. Issues never affect each other's outcome.
type Scheduler struct {
	cfg *config.Manager
	log *slog.Logger
}

func NewScheduler(cfg *config.Manager) *Scheduler {
	return &Scheduler{
		cfg: cfg,
		log: logging.WithComponent("scheduler"),
	}
}

// Run resolves every issue in the list and returns one result per
// issue, index-aligned with the input regardless of completion order.
func (s *Scheduler) Run(ctx context.Context, issues []trigger.IssueRef, run RunFunc) []*Result {
	results := make([]*Result, len(issues))
	if len(issues) == 0 {
		return results
	}

	workers := s.cfg.GetInt("batch.maxConcurrent", 3)
	if workers < 1 {
		workers = 1
	}
	if workers > len(issues) {
		workers = len(issues)
	}

	s.log.Info("Starting batch",
		slog.Int("issues", len(issues)),
		slog.Int("workers", workers),
	)

	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results[idx] = s.resolveOne(ctx, issues[idx], run)
			}
		}()
	}

	for idx := range issues {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	failures := 0
	for _, r := range results {
		if !r.Success {
			failures++
		}
	}
	s.log.Info("Batch finished",
		slog.Int("issues", len(issues)),
		slog.Int("failures", failures),
	)

	return results
}

// resolveOne shields sibling issues from this one: a panicking pipeline
// becomes a failed result instead of taking the batch down.
func (s *Scheduler) resolveOne(ctx context.Context, issue trigger.IssueRef, run RunFunc) (result *Result) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Issue pipeline panicked",
				slog.String("issue_url", issue.URL),
				slog.Any("panic", r),
			)
			result = &Result{
				IssueURL:    issue.URL,
				IssueNumber: issue.Number,
				Error:       fmt.Sprintf("internal error: %v", r),
			}
		}
	}()

	result = run(ctx, issue)
	if result == nil {
		result = &Result{
			IssueURL:    issue.URL,
			IssueNumber: issue.Number,
			Error:       "no result produced",
		}
	}
	return result
}
