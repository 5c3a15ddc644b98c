// Package watch scans one repository on a schedule and resolves newly
// labeled issues through the coordinator. Seen issues are remembered in
// process only; a restart starts fresh.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alekspetrov/mend/internal/logging"
	"github.com/alekspetrov/mend/internal/resolver"
	"github.com/alekspetrov/mend/internal/trigger"
)

const (
	// DefaultSchedule is the scan cadence when none is configured.
	DefaultSchedule = "@every 2m"
	// DefaultLabel marks issues the watcher picks up.
	DefaultLabel = "mend"
)

// Resolver runs synthesized resolution requests.
type Resolver interface {
	ResolveRequest(ctx context.Context, req *trigger.Request) *resolver.Response
}

// IssueLister lists open issues, optionally narrowed by label.
type IssueLister interface {
	OpenIssues(ctx context.Context, owner, repo string, labels ...string) ([]trigger.IssueRef, error)
}

// Watcher scans a repository for labeled issues on a cron schedule and
// feeds unseen ones to the resolver as a batch.
type Watcher struct {
	resolver Resolver
	lister   IssueLister
	owner    string
	repo     string
	label    string
	schedule string
	onBatch  func(*resolver.Response)
	log      *slog.Logger

	cron    *cron.Cron
	entryID cron.EntryID
	running bool
	mu      sync.Mutex

	seen   map[int]bool
	seenMu sync.RWMutex
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithSchedule overrides the scan schedule. Accepts standard cron specs
// and @every durations.
func WithSchedule(spec string) Option {
	return func(w *Watcher) {
		w.schedule = spec
	}
}

// WithLabel overrides the trigger label.
func WithLabel(label string) Option {
	return func(w *Watcher) {
		w.label = label
	}
}

// WithLogger sets the watcher's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		w.log = logger
	}
}

// WithOnBatch registers a callback invoked with each batch response.
func WithOnBatch(fn func(*resolver.Response)) Option {
	return func(w *Watcher) {
		w.onBatch = fn
	}
}

// New creates a Watcher for one repository given as owner/repo.
func New(res Resolver, lister IssueLister, repo string, opts ...Option) (*Watcher, error) {
	parts := strings.Split(repo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("invalid repo format, expected owner/repo: %s", repo)
	}

	w := &Watcher{
		resolver: res,
		lister:   lister,
		owner:    parts[0],
		repo:     parts[1],
		label:    DefaultLabel,
		schedule: DefaultSchedule,
		cron:     cron.New(),
		seen:     make(map[int]bool),
		log:      logging.WithComponent("watch"),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// Start scans once immediately, then keeps scanning on the schedule
// until Stop is called. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	entryID, err := w.cron.AddFunc(w.schedule, func() {
		w.Scan(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", w.schedule, err)
	}
	w.entryID = entryID

	w.log.Info("Starting repository watch",
		slog.String("repo", w.owner+"/"+w.repo),
		slog.String("label", w.label),
		slog.String("schedule", w.schedule),
	)

	w.Scan(ctx)

	w.cron.Start()
	w.running = true

	w.log.Info("Repository watch started",
		slog.Time("next_run", w.cron.Entry(w.entryID).Next),
	)
	return nil
}

// Stop halts the schedule and waits for a running scan to finish.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	ctx := w.cron.Stop()
	<-ctx.Done()
	w.running = false
	w.log.Info("Repository watch stopped")
}

// IsRunning reports whether the schedule is active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// NextRun returns the next scheduled scan time, zero when stopped.
func (w *Watcher) NextRun() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return time.Time{}
	}
	return w.cron.Entry(w.entryID).Next
}

// Scan performs one pass: list open labeled issues, drop the ones
// already seen, and resolve the rest as a batch. Returns nil when there
// was nothing to do.
func (w *Watcher) Scan(ctx context.Context) *resolver.Response {
	issues, err := w.lister.OpenIssues(ctx, w.owner, w.repo, w.label)
	if err != nil {
		w.log.Warn("Failed to scan repository",
			slog.String("repo", w.owner+"/"+w.repo),
			slog.Any("error", err),
		)
		return nil
	}

	fresh := make([]trigger.IssueRef, 0, len(issues))
	for _, issue := range issues {
		if w.Seen(issue.Number) {
			continue
		}
		fresh = append(fresh, issue)
	}

	if len(fresh) == 0 {
		w.log.Debug("No new labeled issues",
			slog.String("repo", w.owner+"/"+w.repo),
			slog.String("label", w.label),
		)
		return nil
	}

	w.log.Info("Found new issues",
		slog.String("repo", w.owner+"/"+w.repo),
		slog.Int("count", len(fresh)),
	)

	resp := w.resolver.ResolveRequest(ctx, &trigger.Request{
		Kind:   trigger.KindBatch,
		Issues: fresh,
	})

	if resp == nil || !resp.IsBatch {
		// Nothing ran (initialization trouble and the like); leave
		// everything unseen so the next scan retries.
		if resp != nil {
			w.log.Warn("Batch did not run", slog.String("message", resp.Message))
		}
		return resp
	}

	// A truncated batch only ran the head of the list; the overflow
	// stays unseen for the next scan. Failed issues are remembered too,
	// so a broken issue is attempted once rather than on every pass.
	attempted := fresh
	if len(resp.Results) < len(fresh) {
		attempted = fresh[:len(resp.Results)]
	}
	for _, issue := range attempted {
		w.markSeen(issue.Number)
	}

	if w.onBatch != nil {
		w.onBatch(resp)
	}
	return resp
}

func (w *Watcher) markSeen(number int) {
	w.seenMu.Lock()
	w.seen[number] = true
	w.seenMu.Unlock()
}

// Seen reports whether an issue was already picked up this process.
func (w *Watcher) Seen(number int) bool {
	w.seenMu.RLock()
	defer w.seenMu.RUnlock()
	return w.seen[number]
}

// SeenCount returns how many issues have been picked up.
func (w *Watcher) SeenCount() int {
	w.seenMu.RLock()
	defer w.seenMu.RUnlock()
	return len(w.seen)
}

// Reset forgets every seen issue.
func (w *Watcher) Reset() {
	w.seenMu.Lock()
	w.seen = make(map[int]bool)
	w.seenMu.Unlock()
}
