package resolver

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/alekspetrov/mend/internal/logging"
)

// Pipeline runs the fixed stage sequence for one issue. Stages execute
// strictly in order; the first failure aborts the rest. Nothing is
// rolled back on failure, and a failed stage is never retried here.
type Pipeline struct {
	source    Source
	preparer  Preparer
	generator Generator
	publisher Publisher
	reporter  Reporter
	onStage   func(issueURL string, stage Stage)
}

// NewPipeline wires the five collaborators into a pipeline.
func NewPipeline(source Source, preparer Preparer, generator Generator, publisher Publisher, reporter Reporter) *Pipeline {
	return &Pipeline{
		source:    source,
		preparer:  preparer,
		generator: generator,
		publisher: publisher,
		reporter:  reporter,
	}
}

// OnStage registers a callback invoked as each stage begins, and once
// more with StageDone after a fully successful run.
func (p *Pipeline) OnStage(fn func(issueURL string, stage Stage)) {
	p.onStage = fn
}

// Resolve runs the pipeline for one issue URL and returns its result.
// The result always carries the issue URL; on failure it also names the
// failed stage and keeps every field filled by earlier stages. Each run
// gets a short run ID, attached to the context for downstream loggers.
func (p *Pipeline) Resolve(ctx context.Context, issueURL string) *Result {
	result := &Result{IssueURL: issueURL}

	runID := strings.SplitN(uuid.NewString(), "-", 2)[0]
	ctx = logging.ContextWithRun(ctx, runID)
	ctx = logging.ContextWithIssue(ctx, issueURL)
	log := logging.WithContext(ctx).With(slog.String("component", "pipeline"))

	var (
		issue   *IssueData
		task    *TaskSpec
		changes *CodeChanges
		pr      *PullRequestResult
	)

	stages := []struct {
		name Stage
		run  func(ctx context.Context) error
	}{
		{StageFetch, func(ctx context.Context) error {
			data, err := p.source.FetchIssue(ctx, issueURL)
			if err != nil {
				return err
			}
			issue = data
			result.IssueNumber = issue.Number
			return nil
		}},
		{StageTaskSetup, func(ctx context.Context) error {
			spec, err := p.preparer.SetupTask(ctx, issue)
			if err != nil {
				return err
			}
			task = spec
			return nil
		}},
		{StageCodeGeneration, func(ctx context.Context) error {
			out, err := p.generator.GenerateCode(ctx, task)
			if err != nil {
				return err
			}
			changes = out
			result.ChangedFiles = len(changes.Files)
			return nil
		}},
		{StageCommitAndPR, func(ctx context.Context) error {
			out, err := p.publisher.CreatePullRequest(ctx, changes, issue)
			if err != nil {
				return err
			}
			pr = out
			result.PullRequestURL = pr.URL
			result.PullRequestNumber = pr.Number
			result.Branch = pr.Branch
			return nil
		}},
		{StageFeedback, func(ctx context.Context) error {
			if err := p.reporter.ProvideFeedback(ctx, pr, issue); err != nil {
				return err
			}
			result.Visualization = p.reporter.CreateVisualization(pr, issue, changes)
			return nil
		}},
	}

	log.Info("Resolving issue")

	for _, stage := range stages {
		p.notify(issueURL, stage.name)
		log.Debug("Stage starting", slog.String("stage", string(stage.name)))

		if err := stage.run(ctx); err != nil {
			stageErr := &StageError{Stage: stage.name, Err: err}
			log.Error("Stage failed",
				slog.String("stage", string(stage.name)),
				slog.String("error", err.Error()),
			)
			result.Success = false
			result.Error = stageErr.Error()
			result.FailedStage = stage.name
			return result
		}
	}

	p.notify(issueURL, StageDone)
	result.Success = true

	log.Info("Issue resolved",
		slog.String("pr_url", result.PullRequestURL),
		slog.Int("changed_files", result.ChangedFiles),
	)

	return result
}

func (p *Pipeline) notify(issueURL string, stage Stage) {
	if p.onStage != nil {
		p.onStage(issueURL, stage)
	}
}
