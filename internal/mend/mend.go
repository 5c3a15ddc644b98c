// Package mend is the process entry point for issue resolution: it owns
// lazy initialization of configuration and collaborators, classifies raw
// input through the trigger detector, and normalizes every outcome into
// one response envelope.
package mend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alekspetrov/mend/internal/adapters/github"
	"github.com/alekspetrov/mend/internal/config"
	"github.com/alekspetrov/mend/internal/engine"
	"github.com/alekspetrov/mend/internal/feedback"
	"github.com/alekspetrov/mend/internal/logging"
	"github.com/alekspetrov/mend/internal/resolver"
	"github.com/alekspetrov/mend/internal/task"
	"github.com/alekspetrov/mend/internal/trigger"
	"github.com/alekspetrov/mend/internal/webhooks"
)

// IssueLister lists open issues in one repository, optionally narrowed
// to issues carrying all the given labels.
type IssueLister interface {
	OpenIssues(ctx context.Context, owner, repo string, labels ...string) ([]trigger.IssueRef, error)
}

// Coordinator is the facade callers talk to. Construction is cheap;
// configuration and the GitHub/AI collaborators are built once, on the
// first Resolve call.
type Coordinator struct {
	configPath string
	githubBase string
	engineOpts []engine.Option

	initOnce sync.Once
	initErr  error

	cfg       *config.Manager
	pipeline  *resolver.Pipeline
	scheduler *resolver.Scheduler
	lister    IssueLister
	hooks     *webhooks.Manager
	log       *slog.Logger
}

// Option is a functional option for configuring the Coordinator.
type Option func(*Coordinator)

// WithConfigPath sets the configuration file loaded on first use.
func WithConfigPath(path string) Option {
	return func(c *Coordinator) {
		c.configPath = path
	}
}

// WithConfig supplies a pre-initialized configuration manager, skipping
// file loading.
func WithConfig(cfg *config.Manager) Option {
	return func(c *Coordinator) {
		c.cfg = cfg
	}
}

// WithPipeline replaces the default GitHub-backed pipeline.
func WithPipeline(p *resolver.Pipeline) Option {
	return func(c *Coordinator) {
		c.pipeline = p
	}
}

// WithIssueLister replaces the default repository scanner.
func WithIssueLister(l IssueLister) Option {
	return func(c *Coordinator) {
		c.lister = l
	}
}

// WithWebhooks replaces the outbound webhook manager.
func WithWebhooks(m *webhooks.Manager) Option {
	return func(c *Coordinator) {
		c.hooks = m
	}
}

// WithGitHubBaseURL overrides the GitHub API base URL.
func WithGitHubBaseURL(baseURL string) Option {
	return func(c *Coordinator) {
		c.githubBase = baseURL
	}
}

// WithEngineOptions forwards options to the code-generation engine.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(c *Coordinator) {
		c.engineOpts = append(c.engineOpts, opts...)
	}
}

// New creates a Coordinator. Nothing talks to the network until the
// first Resolve call.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		log: logging.WithComponent("mend"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ensureInit builds configuration and collaborators exactly once. A
// second call while already initialized is a no-op returning the first
// call's outcome.
func (c *Coordinator) ensureInit() error {
	c.initOnce.Do(func() {
		c.initErr = c.init()
	})
	return c.initErr
}

func (c *Coordinator) init() error {
	if c.cfg == nil {
		cfg := config.NewManager()
		if err := cfg.Initialize(c.configPath); err != nil {
			return fmt.Errorf("configuration init failed: %w", err)
		}
		c.cfg = cfg
	}

	configureLogging(c.cfg)

	if c.pipeline == nil || c.lister == nil {
		token, _ := c.cfg.Token()
		client := github.NewClient(token)
		if c.githubBase != "" {
			client = github.NewClientWithBaseURL(token, c.githubBase)
		}
		timeout := c.cfg.GetInt("github.requestTimeoutSeconds", 30)
		client.SetTimeout(time.Duration(timeout) * time.Second)

		if c.pipeline == nil {
			gen, err := engine.New(c.cfg, c.engineOpts...)
			if err != nil {
				return fmt.Errorf("engine init failed: %w", err)
			}
			c.pipeline = resolver.NewPipeline(
				github.NewSource(client),
				task.NewPreparer(c.cfg),
				gen,
				github.NewPublisher(client, c.cfg),
				feedback.NewReporter(client),
			)
		}
		if c.lister == nil {
			c.lister = github.NewScanner(client, c.cfg)
		}
	}

	c.scheduler = resolver.NewScheduler(c.cfg)

	if c.hooks == nil {
		c.hooks = webhooks.NewManager(webhooks.FromManager(c.cfg), nil)
	}

	c.log.Debug("coordinator initialized", slog.Bool("webhooks", c.hooks.IsEnabled()))
	return nil
}

func configureLogging(cfg *config.Manager) {
	level := cfg.GetString("logging.level", "info")
	if cfg.GetBool("debug.verbose", false) {
		level = "debug"
	}
	if err := logging.Init(&logging.Config{
		Level:  level,
		Format: cfg.GetString("logging.format", "text"),
	}); err != nil {
		logging.Warn("failed to reconfigure logging", slog.String("error", err.Error()))
	}
}

// Config returns the configuration manager, initializing on first use.
func (c *Coordinator) Config() (*config.Manager, error) {
	if err := c.ensureInit(); err != nil {
		return nil, err
	}
	return c.cfg, nil
}

// Scanner returns the repository issue lister, initializing on first
// use. Watch mode scans through it.
func (c *Coordinator) Scanner() (IssueLister, error) {
	if err := c.ensureInit(); err != nil {
		return nil, err
	}
	return c.lister, nil
}

// Webhooks returns the outbound webhook manager, initializing on first
// use.
func (c *Coordinator) Webhooks() (*webhooks.Manager, error) {
	if err := c.ensureInit(); err != nil {
		return nil, err
	}
	return c.hooks, nil
}

// Resolve classifies raw input and runs the matching resolution. Every
// outcome comes back as a response envelope; initialization and
// detection problems surface as messages, never as panics or bare
// errors.
func (c *Coordinator) Resolve(ctx context.Context, input string) *resolver.Response {
	if err := c.ensureInit(); err != nil {
		c.log.Error("initialization failed", slog.String("error", err.Error()))
		return resolver.NewMessageResponse(false, fmt.Sprintf("Initialization failed: %v", err))
	}

	det := trigger.Detect(extractText(input))
	switch det.Outcome {
	case trigger.OutcomeInternalError:
		// Swallowed on purpose: malformed input reads as "nothing
		// detected", not as a crash.
		c.log.Warn("trigger detection failed", slog.String("error", det.Err.Error()))
		return resolver.NewMessageResponse(false, "No issue resolution request detected.")
	case trigger.OutcomeNotDetected:
		return resolver.NewMessageResponse(false, "No issue resolution request detected.")
	}

	if !trigger.Validate(det.Request) {
		c.log.Warn("incomplete trigger", slog.String("request", det.Request.Describe()))
		return resolver.NewMessageResponse(false, fmt.Sprintf("Detected %s but the request is incomplete.", det.Request.Describe()))
	}

	return c.ResolveRequest(ctx, det.Request)
}

// ResolveRequest runs an already-validated request, bypassing text
// detection. Watch mode feeds synthesized batch requests through here.
func (c *Coordinator) ResolveRequest(ctx context.Context, req *trigger.Request) *resolver.Response {
	if err := c.ensureInit(); err != nil {
		return resolver.NewMessageResponse(false, fmt.Sprintf("Initialization failed: %v", err))
	}

	switch req.Kind {
	case trigger.KindSingle:
		result := c.resolveIssue(ctx, req.Issue)
		return resolver.NewSingleResponse(result)

	case trigger.KindBatch:
		return c.resolveBatch(ctx, req.Issues)

	case trigger.KindRepoWide:
		issues, err := c.lister.OpenIssues(ctx, req.Owner, req.Repo)
		if err != nil {
			c.log.Error("repo scan failed",
				slog.String("owner", req.Owner),
				slog.String("repo", req.Repo),
				slog.String("error", err.Error()),
			)
			return resolver.NewMessageResponse(false, fmt.Sprintf("Failed to list open issues in %s/%s: %v", req.Owner, req.Repo, err))
		}
		if len(issues) == 0 {
			return resolver.NewMessageResponse(true, fmt.Sprintf("No open issues found in %s/%s.", req.Owner, req.Repo))
		}
		return c.resolveBatch(ctx, issues)

	default:
		return resolver.NewMessageResponse(false, fmt.Sprintf("Unsupported request kind %q.", req.Kind))
	}
}

// resolveBatch runs a bounded batch: oversized input is truncated to
// batch.maxIssuesPerBatch and the cut is noted in the response message.
func (c *Coordinator) resolveBatch(ctx context.Context, issues []trigger.IssueRef) *resolver.Response {
	var truncated string
	if limit := c.cfg.GetInt("batch.maxIssuesPerBatch", 10); limit > 0 && len(issues) > limit {
		truncated = fmt.Sprintf("Batch truncated to the first %d of %d issues.", limit, len(issues))
		c.log.Warn("batch truncated", slog.Int("limit", limit), slog.Int("requested", len(issues)))
		issues = issues[:limit]
	}

	started := time.Now()
	results := c.scheduler.Run(ctx, issues, func(ctx context.Context, issue trigger.IssueRef) *resolver.Result {
		return c.resolveIssue(ctx, issue)
	})

	resp := resolver.NewBatchResponse(results)
	resp.Message = truncated
	c.announceBatch(ctx, results, time.Since(started))
	return resp
}

// resolveIssue runs one issue through the pipeline and dispatches the
// outbound webhook events around it.
func (c *Coordinator) resolveIssue(ctx context.Context, issue trigger.IssueRef) *resolver.Result {
	started := time.Now()

	if c.hooks.IsEnabled() {
		c.hooks.Dispatch(ctx, webhooks.NewEvent(webhooks.EventResolutionStarted, &webhooks.ResolutionStartedData{
			IssueURL:    issue.URL,
			IssueNumber: issue.Number,
			Owner:       issue.Owner,
			Repo:        issue.Repo,
		}))
	}

	result := c.pipeline.Resolve(ctx, issue.URL)
	c.announceResult(ctx, result, time.Since(started))
	return result
}

func (c *Coordinator) announceResult(ctx context.Context, result *resolver.Result, elapsed time.Duration) {
	if !c.hooks.IsEnabled() || result == nil {
		return
	}

	if result.Success {
		c.hooks.Dispatch(ctx, webhooks.NewEvent(webhooks.EventResolutionCompleted, &webhooks.ResolutionCompletedData{
			IssueURL:     result.IssueURL,
			IssueNumber:  result.IssueNumber,
			PRURL:        result.PullRequestURL,
			PRNumber:     result.PullRequestNumber,
			Branch:       result.Branch,
			ChangedFiles: result.ChangedFiles,
			DurationMS:   elapsed.Milliseconds(),
		}))
		c.hooks.Dispatch(ctx, webhooks.NewEvent(webhooks.EventPRCreated, &webhooks.PRCreatedData{
			IssueURL: result.IssueURL,
			PRURL:    result.PullRequestURL,
			PRNumber: result.PullRequestNumber,
			Branch:   result.Branch,
		}))
		return
	}

	c.hooks.Dispatch(ctx, webhooks.NewEvent(webhooks.EventResolutionFailed, &webhooks.ResolutionFailedData{
		IssueURL:    result.IssueURL,
		IssueNumber: result.IssueNumber,
		Error:       result.Error,
		FailedStage: string(result.FailedStage),
		DurationMS:  elapsed.Milliseconds(),
	}))
}

func (c *Coordinator) announceBatch(ctx context.Context, results []*resolver.Result, elapsed time.Duration) {
	if !c.hooks.IsEnabled() {
		return
	}

	succeeded := 0
	for _, r := range results {
		if r != nil && r.Success {
			succeeded++
		}
	}

	c.hooks.Dispatch(ctx, webhooks.NewEvent(webhooks.EventBatchCompleted, &webhooks.BatchCompletedData{
		Total:      len(results),
		Succeeded:  succeeded,
		Failed:     len(results) - succeeded,
		DurationMS: elapsed.Milliseconds(),
	}))
}

// extractText accepts either raw text or a JSON record carrying a text
// field.
func extractText(input string) string {
	trimmed := strings.TrimSpace(input)
	if strings.HasPrefix(trimmed, "{") {
		var record struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal([]byte(trimmed), &record); err == nil && record.Text != "" {
			return record.Text
		}
	}
	return input
}
