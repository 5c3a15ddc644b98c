package resolver

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/alekspetrov/mend/internal/config"
	"github.com/alekspetrov/mend/internal/trigger"
)

func newBatchConfig(t *testing.T, maxConcurrent int) *config.Manager {
	t.Helper()
	cfg := config.NewManager()
	if err := cfg.Update("batch.maxConcurrent", maxConcurrent); err != nil {
		t.Fatalf("failed to set batch.maxConcurrent: %v", err)
	}
	return cfg
}

func makeIssues(n int) []trigger.IssueRef {
	issues := make([]trigger.IssueRef, n)
	for i := range issues {
		issues[i] = trigger.IssueRef{
			Owner:  "a",
			Repo:   "b",
			Number: i + 1,
			URL:    fmt.Sprintf("https://github.com/a/b/issues/%d", i+1),
		}
	}
	return issues
}

func successResult(issue trigger.IssueRef) *Result {
	return &Result{Success: true, IssueURL: issue.URL, IssueNumber: issue.Number}
}

func TestSchedulerOrderPreserved(t *testing.T) {
	issues := makeIssues(6)
	s := NewScheduler(newBatchConfig(t, 3))

	// Later issues finish first, so completion order is the reverse of
	// input order.
	run := func(ctx context.Context, issue trigger.IssueRef) *Result {
		time.Sleep(time.Duration(len(issues)-issue.Number) * 10 * time.Millisecond)
		return successResult(issue)
	}

	results := s.Run(context.Background(), issues, run)

	if len(results) != len(issues) {
		t.Fatalf("got %d results, want %d", len(results), len(issues))
	}
	for i, r := range results {
		if r.IssueURL != issues[i].URL {
			t.Errorf("results[%d].IssueURL = %q, want %q", i, r.IssueURL, issues[i].URL)
		}
	}
}

func TestSchedulerConcurrencyBound(t *testing.T) {
	defer goleak.VerifyNone(t)

	const maxConcurrent = 2
	issues := makeIssues(6)
	s := NewScheduler(newBatchConfig(t, maxConcurrent))

	var mu sync.Mutex
	active, peak := 0, 0

	run := func(ctx context.Context, issue trigger.IssueRef) *Result {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		active--
		mu.Unlock()
		return successResult(issue)
	}

	results := s.Run(context.Background(), issues, run)

	if len(results) != len(issues) {
		t.Fatalf("got %d results, want %d", len(results), len(issues))
	}
	if peak > maxConcurrent {
		t.Errorf("peak concurrency = %d, want at most %d", peak, maxConcurrent)
	}
	if peak == 0 {
		t.Error("run function never observed as active")
	}
}

func TestSchedulerFailureIsolation(t *testing.T) {
	issues := makeIssues(3)
	s := NewScheduler(newBatchConfig(t, 3))

	run := func(ctx context.Context, issue trigger.IssueRef) *Result {
		if issue.Number == 2 {
			return &Result{IssueURL: issue.URL, IssueNumber: issue.Number, Error: "generation failed"}
		}
		return successResult(issue)
	}

	results := s.Run(context.Background(), issues, run)

	if results[0].Success != true || results[2].Success != true {
		t.Error("sibling issues affected by one failure")
	}
	if results[1].Success {
		t.Error("results[1].Success = true, want failure")
	}
	if results[1].Error != "generation failed" {
		t.Errorf("results[1].Error = %q", results[1].Error)
	}
}

func TestSchedulerPanicIsolation(t *testing.T) {
	issues := makeIssues(3)
	s := NewScheduler(newBatchConfig(t, 1))

	run := func(ctx context.Context, issue trigger.IssueRef) *Result {
		if issue.Number == 2 {
			panic("pipeline blew up")
		}
		return successResult(issue)
	}

	results := s.Run(context.Background(), issues, run)

	if !results[0].Success || !results[2].Success {
		t.Error("panic in one issue affected siblings")
	}
	if results[1].Success {
		t.Error("results[1].Success = true, want failure")
	}
	if results[1].Error == "" || results[1].IssueURL != issues[1].URL {
		t.Errorf("results[1] = %+v, want internal error with issue url", results[1])
	}
}

func TestSchedulerNilResultBackfilled(t *testing.T) {
	issues := makeIssues(2)
	s := NewScheduler(newBatchConfig(t, 2))

	run := func(ctx context.Context, issue trigger.IssueRef) *Result {
		if issue.Number == 1 {
			return nil
		}
		return successResult(issue)
	}

	results := s.Run(context.Background(), issues, run)

	if results[0] == nil {
		t.Fatal("results[0] = nil, want a backfilled failure")
	}
	if results[0].Success || results[0].Error == "" {
		t.Errorf("results[0] = %+v, want failure with message", results[0])
	}
	if !results[1].Success {
		t.Error("results[1] should be unaffected")
	}
}

func TestSchedulerEmptyList(t *testing.T) {
	s := NewScheduler(newBatchConfig(t, 3))

	results := s.Run(context.Background(), nil, func(ctx context.Context, issue trigger.IssueRef) *Result {
		t.Error("run function called for an empty list")
		return nil
	})

	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}

func TestSchedulerClampsBadConcurrency(t *testing.T) {
	issues := makeIssues(2)
	s := NewScheduler(newBatchConfig(t, 0))

	results := s.Run(context.Background(), issues, func(ctx context.Context, issue trigger.IssueRef) *Result {
		return successResult(issue)
	})

	for i, r := range results {
		if !r.Success {
			t.Errorf("results[%d] failed with zero-valued concurrency", i)
		}
	}
}
