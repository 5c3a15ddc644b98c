package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alekspetrov/mend/internal/config"
	"github.com/alekspetrov/mend/internal/resolver"
	"github.com/alekspetrov/mend/internal/testutil"
)

func testTask() *resolver.TaskSpec {
	return &resolver.TaskSpec{
		ID: "task-1",
		Issue: &resolver.IssueData{
			Owner:  "acme",
			Repo:   "widgets",
			Number: 42,
			Title:  "Crash on save",
			Body:   "Saving a draft crashes the app.",
			Labels: []string{"bug"},
		},
		Instructions:     "Fix the crash without changing the save format.",
		AllowedFileTypes: []string{".go", ".md"},
		MaxFiles:         3,
		BaseBranch:       "main",
	}
}

func validToolInput() map[string]interface{} {
	return map[string]interface{}{
		"files": []map[string]interface{}{
			{
				"path":    "internal/store/save.go",
				"content": "package store\n",
				"action":  "update",
				"reason":  "guard against nil draft",
			},
			{
				"path":   "internal/store/legacy.go",
				"action": "delete",
			},
		},
		"summary":        "Guards the save path against nil drafts.",
		"commit_message": "fix: guard save against nil drafts",
	}
}

func messageResponse(content []map[string]interface{}, stopReason string) map[string]interface{} {
	return map[string]interface{}{
		"id":          "msg_01",
		"type":        "message",
		"role":        "assistant",
		"model":       "claude-sonnet-4-20250514",
		"stop_reason": stopReason,
		"content":     content,
		"usage":       map[string]interface{}{"input_tokens": 12, "output_tokens": 34},
	}
}

func newTestEngine(t *testing.T, handler http.HandlerFunc) (*Engine, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)

	engine, err := New(config.NewManager(),
		WithAPIKey(testutil.FakeAnthropicKey),
		WithBaseURL(server.URL))
	if err != nil {
		server.Close()
		t.Fatalf("New failed: %v", err)
	}
	return engine, server
}

func TestGenerateCodeToolUse(t *testing.T) {
	engine, server := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("x-api-key"); got != testutil.FakeAnthropicKey {
			t.Errorf("unexpected api key header: %s", got)
		}

		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if body["model"] != "claude-sonnet-4-20250514" {
			t.Errorf("unexpected model: %v", body["model"])
		}
		if body["max_tokens"] != float64(4000) {
			t.Errorf("unexpected max_tokens: %v", body["max_tokens"])
		}
		tools, ok := body["tools"].([]interface{})
		if !ok || len(tools) != 1 {
			t.Fatalf("expected one tool, got %v", body["tools"])
		}
		tool := tools[0].(map[string]interface{})
		if tool["name"] != submitToolName {
			t.Errorf("unexpected tool name: %v", tool["name"])
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(messageResponse([]map[string]interface{}{
			{"type": "tool_use", "id": "toolu_01", "name": submitToolName, "input": validToolInput()},
		}, "tool_use"))
	})
	defer server.Close()

	changes, err := engine.GenerateCode(context.Background(), testTask())
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}

	if len(changes.Files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(changes.Files))
	}
	if changes.Files[0].Path != "internal/store/save.go" || changes.Files[0].Action != resolver.ActionUpdate {
		t.Errorf("unexpected first change: %+v", changes.Files[0])
	}
	if changes.Files[1].Action != resolver.ActionDelete {
		t.Errorf("unexpected second change: %+v", changes.Files[1])
	}
	if changes.Summary != "Guards the save path against nil drafts." {
		t.Errorf("unexpected summary: %s", changes.Summary)
	}
	if changes.CommitMessage != "fix: guard save against nil drafts" {
		t.Errorf("unexpected commit message: %s", changes.CommitMessage)
	}

	input, output := engine.Tracker().Total()
	if input != 12 || output != 34 {
		t.Errorf("expected tracked tokens 12/34, got %d/%d", input, output)
	}
	if engine.Tracker().Calls() != 1 {
		t.Errorf("expected 1 tracked call, got %d", engine.Tracker().Calls())
	}
}

func TestGenerateCodeTextFallback(t *testing.T) {
	payload, _ := json.Marshal(validToolInput())
	text := "Here is the change set:\n" + string(payload) + "\nLet me know if anything else is needed."

	engine, server := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(messageResponse([]map[string]interface{}{
			{"type": "text", "text": text},
		}, "end_turn"))
	})
	defer server.Close()

	changes, err := engine.GenerateCode(context.Background(), testTask())
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}
	if len(changes.Files) != 2 {
		t.Errorf("expected 2 files from text fallback, got %d", len(changes.Files))
	}
}

func TestGenerateCodeNoChangesInResponse(t *testing.T) {
	engine, server := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(messageResponse([]map[string]interface{}{
			{"type": "text", "text": "I could not determine a safe fix for this issue."},
		}, "end_turn"))
	})
	defer server.Close()

	_, err := engine.GenerateCode(context.Background(), testTask())
	if err == nil {
		t.Fatal("expected error when the response carries no changes")
	}
	if !strings.Contains(err.Error(), "no code changes") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestGenerateCodeRejectsDisallowedType(t *testing.T) {
	input := map[string]interface{}{
		"files": []map[string]interface{}{
			{"path": "bin/app.exe", "content": "MZ", "action": "create"},
		},
		"summary": "binary drop",
	}

	engine, server := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(messageResponse([]map[string]interface{}{
			{"type": "tool_use", "id": "toolu_01", "name": submitToolName, "input": input},
		}, "tool_use"))
	})
	defer server.Close()

	_, err := engine.GenerateCode(context.Background(), testTask())
	if err == nil {
		t.Fatal("expected rejection of disallowed file type")
	}
	if !strings.Contains(err.Error(), "file type not allowed") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestGenerateCodeAPIError(t *testing.T) {
	engine, server := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type": "error", "error": {"type": "invalid_request_error", "message": "bad request"}}`))
	})
	defer server.Close()

	_, err := engine.GenerateCode(context.Background(), testTask())
	if err == nil {
		t.Fatal("expected error from API failure")
	}
	if !strings.Contains(err.Error(), "anthropic api call failed") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	_, err := New(config.NewManager())
	if err == nil {
		t.Fatal("expected error without an API key")
	}
	if !strings.Contains(err.Error(), "ANTHROPIC_API_KEY") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateChanges(t *testing.T) {
	task := testTask()

	tests := []struct {
		name    string
		changes *resolver.CodeChanges
		wantErr string
	}{
		{
			name: "valid",
			changes: &resolver.CodeChanges{Files: []resolver.FileChange{
				{Path: "a.go", Content: "package a", Action: resolver.ActionUpdate},
				{Path: "old.go", Action: resolver.ActionDelete},
			}},
		},
		{
			name:    "empty",
			changes: &resolver.CodeChanges{},
			wantErr: "no files",
		},
		{
			name: "too many files",
			changes: &resolver.CodeChanges{Files: []resolver.FileChange{
				{Path: "a.go", Content: "x", Action: resolver.ActionCreate},
				{Path: "b.go", Content: "x", Action: resolver.ActionCreate},
				{Path: "c.go", Content: "x", Action: resolver.ActionCreate},
				{Path: "d.go", Content: "x", Action: resolver.ActionCreate},
			}},
			wantErr: "limit is 3",
		},
		{
			name: "missing path",
			changes: &resolver.CodeChanges{Files: []resolver.FileChange{
				{Content: "x", Action: resolver.ActionCreate},
			}},
			wantErr: "missing path",
		},
		{
			name: "absolute path",
			changes: &resolver.CodeChanges{Files: []resolver.FileChange{
				{Path: "/etc/passwd", Content: "x", Action: resolver.ActionUpdate},
			}},
			wantErr: "absolute path",
		},
		{
			name: "parent escape",
			changes: &resolver.CodeChanges{Files: []resolver.FileChange{
				{Path: "../outside.go", Content: "x", Action: resolver.ActionCreate},
			}},
			wantErr: "escapes the repository",
		},
		{
			name: "unknown action",
			changes: &resolver.CodeChanges{Files: []resolver.FileChange{
				{Path: "a.go", Content: "x", Action: "rename"},
			}},
			wantErr: "unknown action",
		},
		{
			name: "create without content",
			changes: &resolver.CodeChanges{Files: []resolver.FileChange{
				{Path: "a.go", Action: resolver.ActionCreate},
			}},
			wantErr: "missing content",
		},
		{
			name: "disallowed type",
			changes: &resolver.CodeChanges{Files: []resolver.FileChange{
				{Path: "run.sh", Content: "x", Action: resolver.ActionCreate},
			}},
			wantErr: "file type not allowed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateChanges(task, tt.changes)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("expected valid change set, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`},
		{"surrounded by prose", `Sure: {"a": 1} done.`, `{"a": 1}`},
		{"nested braces", `x {"a": {"b": 2}} y`, `{"a": {"b": 2}}`},
		{"no object", "nothing here", ""},
		{"unbalanced", `{"a": 1`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractJSONObject(tt.text); got != tt.want {
				t.Errorf("extractJSONObject(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt := buildPrompt(testTask())

	for _, want := range []string{
		"acme/widgets#42",
		"Crash on save",
		"Saving a draft crashes the app.",
		"Fix the crash without changing the save format.",
		"at most 3 files",
		".go, .md",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestIsAllowedFileType(t *testing.T) {
	allowed := []string{".go", "py", ".MD"}

	tests := []struct {
		path string
		want bool
	}{
		{"main.go", true},
		{"script.py", true},
		{"README.md", true},
		{"notes.MD", true},
		{"binary.exe", false},
		{"Makefile", false},
		{"archive.tar.gz", false},
	}

	for _, tt := range tests {
		if got := isAllowedFileType(tt.path, allowed); got != tt.want {
			t.Errorf("isAllowedFileType(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestTokenTracker(t *testing.T) {
	tracker := NewTokenTracker()
	tracker.Add(10, 20)
	tracker.Add(5, 7)

	input, output := tracker.Total()
	if input != 15 || output != 27 {
		t.Errorf("expected totals 15/27, got %d/%d", input, output)
	}
	if tracker.Calls() != 2 {
		t.Errorf("expected 2 calls, got %d", tracker.Calls())
	}
}
