// Package engine generates code changes for issues through the
// Anthropic API. One request per task: the model is handed the issue
// and asked to submit a complete change set through a tool call, which
// is then validated against the task's constraints before anything
// reaches the publish stage.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/alekspetrov/mend/internal/config"
	"github.com/alekspetrov/mend/internal/logging"
	"github.com/alekspetrov/mend/internal/resolver"
)

const (
	defaultModel   = "claude-sonnet-4-20250514"
	submitToolName = "submit_code_changes"
)

const systemPrompt = `You are an automated code-fixing agent. You receive a GitHub issue and produce the complete set of file changes that resolves it. Work only from the issue text. Keep changes minimal and focused on the reported problem. Submit your changes by calling the submit_code_changes tool exactly once.`

// Engine is the code generation stage backed by the Anthropic API.
type Engine struct {
	client  anthropic.Client
	cfg     *config.Manager
	tracker *TokenTracker
}

// Option adjusts engine construction.
type Option func(*settings)

type settings struct {
	apiKey  string
	baseURL string
}

// WithAPIKey overrides the ANTHROPIC_API_KEY environment variable.
func WithAPIKey(key string) Option {
	return func(s *settings) { s.apiKey = key }
}

// WithBaseURL points the engine at a different API endpoint (for testing).
func WithBaseURL(url string) Option {
	return func(s *settings) { s.baseURL = url }
}

// New creates an Engine. The API key comes from ANTHROPIC_API_KEY unless
// overridden.
func New(cfg *config.Manager, opts ...Option) (*Engine, error) {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}

	apiKey := s.apiKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if s.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(s.baseURL))
	}

	return &Engine{
		client:  anthropic.NewClient(clientOpts...),
		cfg:     cfg,
		tracker: NewTokenTracker(),
	}, nil
}

// Tracker returns the cumulative token usage tracker.
func (e *Engine) Tracker() *TokenTracker {
	return e.tracker
}

// GenerateCode asks the model for a change set resolving the task's
// issue and validates it before returning.
func (e *Engine) GenerateCode(ctx context.Context, task *resolver.TaskSpec) (*resolver.CodeChanges, error) {
	if task == nil || task.Issue == nil {
		return nil, errors.New("task has no issue attached")
	}

	log := logging.WithContext(ctx).With(slog.String("component", "engine"))
	model := anthropic.Model(e.cfg.GetString("ai.model", defaultModel))

	resp, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       model,
		MaxTokens:   int64(e.cfg.GetInt("ai.maxTokens", 4000)),
		Temperature: anthropic.Float(e.cfg.GetFloat("ai.temperature", 0.2)),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(task))),
		},
		Tools: toolDefinitions(),
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic api call failed: %w", err)
	}

	e.tracker.Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)
	log.Debug("model response received",
		"task_id", task.ID,
		"model", string(model),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"stop_reason", string(resp.StopReason))

	changes, err := extractChanges(resp)
	if err != nil {
		return nil, err
	}

	if err := validateChanges(task, changes); err != nil {
		return nil, fmt.Errorf("generated changes rejected: %w", err)
	}

	log.Info("code changes generated",
		"task_id", task.ID,
		"files", len(changes.Files))
	return changes, nil
}

// buildPrompt renders the task into the user message.
func buildPrompt(task *resolver.TaskSpec) string {
	var b strings.Builder

	issue := task.Issue
	fmt.Fprintf(&b, "# Issue %s/%s#%d: %s\n\n", issue.Owner, issue.Repo, issue.Number, issue.Title)
	if issue.Body != "" {
		b.WriteString(issue.Body)
		b.WriteString("\n\n")
	}
	if len(issue.Labels) > 0 {
		fmt.Fprintf(&b, "Labels: %s\n\n", strings.Join(issue.Labels, ", "))
	}

	if task.Instructions != "" {
		b.WriteString("# Instructions\n\n")
		b.WriteString(task.Instructions)
		b.WriteString("\n\n")
	}

	b.WriteString("# Constraints\n\n")
	fmt.Fprintf(&b, "- Change at most %d files.\n", task.MaxFiles)
	if len(task.AllowedFileTypes) > 0 {
		fmt.Fprintf(&b, "- Only touch files of these types: %s\n", strings.Join(task.AllowedFileTypes, ", "))
	}
	b.WriteString("- Use repository-relative paths.\n")
	b.WriteString("- For delete actions, omit the content field.\n")

	return b.String()
}

// toolDefinitions returns the single change-submission tool.
func toolDefinitions() []anthropic.ToolUnionParam {
	return []anthropic.ToolUnionParam{
		{
			OfTool: &anthropic.ToolParam{
				Name:        submitToolName,
				Description: anthropic.String("Submit the complete set of file changes that resolves the issue. Call exactly once."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]interface{}{
						"files": map[string]interface{}{
							"type":        "array",
							"description": "Every file to create, update, or delete",
							"items": map[string]interface{}{
								"type": "object",
								"properties": map[string]interface{}{
									"path": map[string]interface{}{
										"type":        "string",
										"description": "Repository-relative file path",
									},
									"content": map[string]interface{}{
										"type":        "string",
										"description": "Full file content after the change; omit for delete",
									},
									"action": map[string]interface{}{
										"type": "string",
										"enum": []string{"create", "update", "delete"},
									},
									"reason": map[string]interface{}{
										"type":        "string",
										"description": "One line on why this file changes",
									},
								},
								"required": []string{"path", "action"},
							},
						},
						"summary": map[string]interface{}{
							"type":        "string",
							"description": "Short summary of the fix for the pull request description",
						},
						"commit_message": map[string]interface{}{
							"type":        "string",
							"description": "Conventional commit message for the change",
						},
					},
					Required: []string{"files", "summary"},
				},
			},
		},
	}
}

// extractChanges pulls the change set out of the model response: the
// submission tool call when present, otherwise a JSON object embedded
// in the response text.
func extractChanges(resp *anthropic.Message) (*resolver.CodeChanges, error) {
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.ToolUseBlock); ok && variant.Name == submitToolName {
			return parseChangesPayload([]byte(variant.Input))
		}
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(variant.Text)
		}
	}
	payload := extractJSONObject(text.String())
	if payload == "" {
		return nil, errors.New("model response contains no code changes")
	}
	return parseChangesPayload([]byte(payload))
}

// extractJSONObject returns the outermost JSON object embedded in s, or
// an empty string when none parses.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	candidate := s[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return ""
	}
	return candidate
}

// parseChangesPayload decodes the tool input into the change set.
func parseChangesPayload(data []byte) (*resolver.CodeChanges, error) {
	var payload struct {
		Files []struct {
			Path    string `json:"path"`
			Content string `json:"content"`
			Action  string `json:"action"`
			Reason  string `json:"reason"`
		} `json:"files"`
		Summary       string `json:"summary"`
		CommitMessage string `json:"commit_message"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse code changes: %w", err)
	}

	changes := &resolver.CodeChanges{
		Summary:       payload.Summary,
		CommitMessage: payload.CommitMessage,
	}
	for _, f := range payload.Files {
		changes.Files = append(changes.Files, resolver.FileChange{
			Path:    f.Path,
			Content: f.Content,
			Action:  f.Action,
			Reason:  f.Reason,
		})
	}
	return changes, nil
}

// validateChanges enforces the task's constraints on a change set.
func validateChanges(task *resolver.TaskSpec, changes *resolver.CodeChanges) error {
	if len(changes.Files) == 0 {
		return errors.New("no files in change set")
	}
	if task.MaxFiles > 0 && len(changes.Files) > task.MaxFiles {
		return fmt.Errorf("change set has %d files, limit is %d", len(changes.Files), task.MaxFiles)
	}

	for _, file := range changes.Files {
		if file.Path == "" {
			return errors.New("file entry missing path")
		}
		if filepath.IsAbs(file.Path) || strings.HasPrefix(file.Path, "/") {
			return fmt.Errorf("absolute path not allowed: %s", file.Path)
		}
		if pathEscapes(file.Path) {
			return fmt.Errorf("path escapes the repository: %s", file.Path)
		}

		switch file.Action {
		case resolver.ActionCreate, resolver.ActionUpdate:
			if file.Content == "" {
				return fmt.Errorf("missing content for %s", file.Path)
			}
		case resolver.ActionDelete:
		default:
			return fmt.Errorf("unknown action %q for %s", file.Action, file.Path)
		}

		if !isAllowedFileType(file.Path, task.AllowedFileTypes) {
			return fmt.Errorf("file type not allowed: %s", file.Path)
		}
	}
	return nil
}

// pathEscapes reports whether a relative path contains a parent
// directory segment.
func pathEscapes(path string) bool {
	for _, segment := range strings.Split(path, "/") {
		if segment == ".." {
			return true
		}
	}
	return false
}

// isAllowedFileType matches the path's lowercase extension against the
// allow-list. Entries may be written with or without the leading dot.
// Files without an extension are never allowed.
func isAllowedFileType(path string, allowed []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return false
	}
	for _, entry := range allowed {
		entry = strings.ToLower(entry)
		if !strings.HasPrefix(entry, ".") {
			entry = "." + entry
		}
		if ext == entry {
			return true
		}
	}
	return false
}
