// Package resolver drives the issue resolution pipeline: a fixed stage
// sequence per issue, and a bounded worker pool that fans a batch of
// issues out over it.
package resolver

import (
	"context"
	"fmt"
)

// Stage identifies one step of the single-issue pipeline.
type Stage string

const (
	StageFetch          Stage = "fetch"
	StageTaskSetup      Stage = "task_setup"
	StageCodeGeneration Stage = "code_generation"
	StageCommitAndPR    Stage = "commit_and_pr"
	StageFeedback       Stage = "feedback"
	StageDone           Stage = "done"
)

// File change actions produced by code generation.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// StageError marks a pipeline failure with the stage that caused it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// IssueData is the fetched state of one GitHub issue.
type IssueData struct {
	Owner  string   `json:"owner"`
	Repo   string   `json:"repo"`
	Number int      `json:"number"`
	URL    string   `json:"url"`
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Labels []string `json:"labels,omitempty"`
	Author string   `json:"author,omitempty"`
	State  string   `json:"state,omitempty"`
}

// TaskSpec is the prepared work description handed to code generation.
type TaskSpec struct {
	ID               string     `json:"id"`
	Issue            *IssueData `json:"issue"`
	Instructions     string     `json:"instructions"`
	AllowedFileTypes []string   `json:"allowedFileTypes,omitempty"`
	MaxFiles         int        `json:"maxFiles"`
	BaseBranch       string     `json:"baseBranch"`
}

// FileChange is one generated modification.
type FileChange struct {
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
	Action  string `json:"action"`
	Reason  string `json:"reason,omitempty"`
}

// CodeChanges is the validated output of the generation stage.
type CodeChanges struct {
	Files         []FileChange `json:"files"`
	Summary       string       `json:"summary"`
	CommitMessage string       `json:"commitMessage"`
}

// PullRequestResult identifies the pull request opened for an issue.
type PullRequestResult struct {
	URL    string `json:"url"`
	Number int    `json:"number"`
	Branch string `json:"branch"`
}

// Result is the outcome of one issue's pipeline run. It is filled
// incrementally as stages complete; a failed run keeps whatever was
// known by then.
type Result struct {
	Success           bool   `json:"success"`
	IssueURL          string `json:"issueUrl"`
	IssueNumber       int    `json:"issueNumber,omitempty"`
	PullRequestURL    string `json:"pullRequestUrl,omitempty"`
	PullRequestNumber int    `json:"pullRequestNumber,omitempty"`
	Branch            string `json:"branch,omitempty"`
	ChangedFiles      int    `json:"changedFiles,omitempty"`
	Visualization     string `json:"visualization,omitempty"`
	Error             string `json:"error,omitempty"`
	FailedStage       Stage  `json:"failedStage,omitempty"`
}

// Response is the envelope returned to callers: either one flattened
// result, a batch, or a plain message for non-run outcomes.
type Response struct {
	Success           bool      `json:"success"`
	Message           string    `json:"message,omitempty"`
	IssueURL          string    `json:"issueUrl,omitempty"`
	IssueNumber       int       `json:"issueNumber,omitempty"`
	PullRequestURL    string    `json:"pullRequestUrl,omitempty"`
	PullRequestNumber int       `json:"pullRequestNumber,omitempty"`
	Branch            string    `json:"branch,omitempty"`
	ChangedFiles      int       `json:"changedFiles,omitempty"`
	Visualization     string    `json:"visualization,omitempty"`
	Error             string    `json:"error,omitempty"`
	FailedStage       Stage     `json:"failedStage,omitempty"`
	IsBatch           bool      `json:"isBatch,omitempty"`
	Results           []*Result `json:"results,omitempty"`
}

// NewSingleResponse flattens one result into a response envelope.
func NewSingleResponse(result *Result) *Response {
	if result == nil {
		return &Response{Success: false, Message: "no result produced"}
	}
	return &Response{
		Success:           result.Success,
		IssueURL:          result.IssueURL,
		IssueNumber:       result.IssueNumber,
		PullRequestURL:    result.PullRequestURL,
		PullRequestNumber: result.PullRequestNumber,
		Branch:            result.Branch,
		ChangedFiles:      result.ChangedFiles,
		Visualization:     result.Visualization,
		Error:             result.Error,
		FailedStage:       result.FailedStage,
	}
}

// NewBatchResponse wraps ordered batch results. The envelope succeeds
// only when every issue succeeded.
func NewBatchResponse(results []*Result) *Response {
	success := true
	for _, r := range results {
		if r == nil || !r.Success {
			success = false
			break
		}
	}
	return &Response{
		Success: success,
		IsBatch: true,
		Results: results,
	}
}

// NewMessageResponse reports a non-run outcome such as "nothing
// detected" or an internal failure.
func NewMessageResponse(success bool, message string) *Response {
	return &Response{Success: success, Message: message}
}

// Collaborator contracts invoked by the pipeline stages.

// Source fetches issue state.
type Source interface {
	FetchIssue(ctx context.Context, issueURL string) (*IssueData, error)
}

// Preparer turns a fetched issue into a work description.
type Preparer interface {
	SetupTask(ctx context.Context, issue *IssueData) (*TaskSpec, error)
}

// Generator produces validated code changes for a task.
type Generator interface {
	GenerateCode(ctx context.Context, task *TaskSpec) (*CodeChanges, error)
}

// Publisher commits the changes and opens a pull request.
type Publisher interface {
	CreatePullRequest(ctx context.Context, changes *CodeChanges, issue *IssueData) (*PullRequestResult, error)
}

// Reporter posts feedback on the resolved issue and renders a
// visualization payload. The payload is opaque to the pipeline.
type Reporter interface {
	ProvideFeedback(ctx context.Context, pr *PullRequestResult, issue *IssueData) error
	CreateVisualization(pr *PullRequestResult, issue *IssueData, changes *CodeChanges) string
}
