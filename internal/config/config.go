// Package config manages process-wide settings for mend: built-in
// defaults, an optional configuration file, and environment overrides,
// merged in that order, validated together, and exposed through
// path-addressed accessors.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"

	"github.com/alekspetrov/mend/internal/logging"
)

// Environment variables recognized by Initialize.
const (
	EnvAIModel       = "AI_MODEL"
	EnvAITemperature = "AI_TEMPERATURE"
	EnvAIMaxTokens   = "AI_MAX_TOKENS"
	EnvDebugMode     = "DEBUG_MODE"
	EnvPRAsDraft     = "PR_AS_DRAFT"
	EnvMaxConcurrent = "MAX_CONCURRENT_ISSUES"
)

// DefaultTokenEnv is the variable consulted for the GitHub token when
// security.tokenEnvName is not overridden.
const DefaultTokenEnv = "GITHUB_TOKEN"

// Defaults returns a fresh copy of the built-in configuration tree.
func Defaults() map[string]any {
	return map[string]any{
		"github": map[string]any{
			"apiBaseUrl":            "https://api.github.com",
			"requestTimeoutSeconds": 30,
			"perPage":               50,
		},
		"ai": map[string]any{
			"model":       "claude-sonnet-4-20250514",
			"temperature": 0.2,
			"maxTokens":   4000,
		},
		"task": map[string]any{
			"baseBranch":       "main",
			"branchPrefix":     "mend/",
			"maxFilesPerIssue": 10,
		},
		"pullRequest": map[string]any{
			"draft":       true,
			"titlePrefix": "fix: ",
			"labels":      []string{"automated", "mend"},
		},
		"security": map[string]any{
			"tokenEnvName": DefaultTokenEnv,
			"allowedFileTypes": []string{
				".go", ".py", ".js", ".jsx", ".ts", ".tsx", ".rb", ".rs",
				".java", ".c", ".h", ".cpp", ".hpp", ".cs",
				".md", ".txt", ".json", ".yaml", ".yml", ".toml",
				".html", ".css", ".scss", ".sh", ".sql",
			},
		},
		"batch": map[string]any{
			"maxConcurrent":     3,
			"maxIssuesPerBatch": 10,
		},
		"debug": map[string]any{
			"enabled": false,
			"verbose": false,
		},
		"logging": map[string]any{
			"level":  "info",
			"format": "text",
		},
		"webhooks": map[string]any{
			"enabled":   false,
			"endpoints": []any{},
		},
		"logging": map[string]any{
			"level":  "info",
			"format": "text",
		},
	}
}

// Manager holds the configuration tree for the process. Construct one
// and pass the handle to every collaborator. Initialize and Update are
// the only writers and must not race an active resolution run.
type Manager struct {
	mu   sync.RWMutex
	tree map[string]any
	log  *slog.Logger
}

// NewManager returns a manager seeded with built-in defaults.
func NewManager() *Manager {
	return &Manager{
		tree: Defaults(),
		log:  logging.WithComponent("config"),
	}
}

// InitError reports configuration validation failure. Problems holds one
// message per violated invariant.
type InitError struct {
	Problems []string
}

func (e *InitError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.Problems, "; "))
}

// IOError reports a configuration file read or write failure.
type IOError struct {
	Op   string // "load" or "save"
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("config %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Initialize resets the tree to defaults, deep-merges the file at path
// when given, applies environment overrides on top so the environment
// always wins, and validates. On validation failure the manager is left
// at pure defaults, never partially applied, and the returned *InitError
// carries every violation. An unreadable or unparsable file is reported
// as *IOError; defaults and environment overrides still apply.
func (m *Manager) Initialize(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tree := Defaults()
	var ioErr error

	if path != "" {
		overlay, err := loadFile(path)
		if err != nil {
			ioErr = err
			m.log.Warn("config file ignored",
				slog.String("path", path),
				slog.Any("error", err))
		} else {
			tree = deepMerge(tree, overlay)
		}
	}

	applyEnv(tree, m.log)

	if problems := validate(tree); len(problems) > 0 {
		m.tree = Defaults()
		return &InitError{Problems: problems}
	}

	m.tree = tree
	m.warnMissingToken(tree)
	return ioErr
}

// warnMissingToken logs when the configured token variable is unset.
// Absence is not a validation failure; collaborators surface it when
// they actually need the token.
func (m *Manager) warnMissingToken(tree map[string]any) {
	name, _ := stringAt(tree, "security.tokenEnvName")
	if name == "" {
		name = DefaultTokenEnv
	}
	if os.Getenv(name) == "" {
		m.log.Warn("GitHub token variable is not set", slog.String("env", name))
	}
}

// loadFile reads a YAML or JSON configuration document into a tree.
// yaml.v3 accepts JSON input, so one decoder covers both formats.
func loadFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &IOError{Op: "load", Path: path, Err: err}
	}
	var overlay map[string]any
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, &IOError{Op: "load", Path: path, Err: err}
	}
	return overlay, nil
}

// applyEnv applies environment overrides after any file merge.
// Unparsable numeric values are ignored and the prior value stands.
func applyEnv(tree map[string]any, log *slog.Logger) {
	if v := os.Getenv(EnvAIModel); v != "" {
		forceSet(tree, "ai.model", v)
	}
	if v := os.Getenv(EnvAITemperature); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			forceSet(tree, "ai.temperature", f)
		} else {
			log.Warn("ignoring unparsable AI_TEMPERATURE", slog.String("value", v))
		}
	}
	if v := os.Getenv(EnvAIMaxTokens); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			forceSet(tree, "ai.maxTokens", n)
		} else {
			log.Warn("ignoring unparsable AI_MAX_TOKENS", slog.String("value", v))
		}
	}
	if os.Getenv(EnvDebugMode) == "true" {
		forceSet(tree, "debug.enabled", true)
		forceSet(tree, "debug.verbose", true)
	}
	if os.Getenv(EnvPRAsDraft) == "false" {
		forceSet(tree, "pullRequest.draft", false)
	}
	if v := os.Getenv(EnvMaxConcurrent); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			forceSet(tree, "batch.maxConcurrent", n)
		} else {
			log.Warn("ignoring unparsable MAX_CONCURRENT_ISSUES", slog.String("value", v))
		}
	}
}

// validate checks every invariant and returns all violations, not just
// the first.
func validate(tree map[string]any) []string {
	var problems []string

	if f, ok := floatAt(tree, "ai.temperature"); !ok || f < 0 || f > 1 {
		problems = append(problems, "ai.temperature must be a number between 0 and 1")
	}
	if n, ok := intAt(tree, "ai.maxTokens"); !ok || n < 100 || n > 10000 {
		problems = append(problems, "ai.maxTokens must be an integer between 100 and 10000")
	}
	if n, ok := intAt(tree, "batch.maxConcurrent"); !ok || n < 1 {
		problems = append(problems, "batch.maxConcurrent must be at least 1")
	}
	if n, ok := intAt(tree, "batch.maxIssuesPerBatch"); !ok || n < 1 {
		problems = append(problems, "batch.maxIssuesPerBatch must be at least 1")
	}
	if s, ok := stringAt(tree, "security.tokenEnvName"); !ok || s == "" {
		problems = append(problems, "security.tokenEnvName must not be empty")
	}
	return problems
}

// Snapshot returns a top-level copy of the tree. Nested sections are
// shared with the manager; callers must treat them as read-only.
func (m *Manager) Snapshot() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := make(map[string]any, len(m.tree))
	for k, v := range m.tree {
		snap[k] = v
	}
	return snap
}

// Section returns a shallow copy of one named section, or false when the
// section is absent.
func (m *Manager) Section(name string) (map[string]any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sec, ok := m.tree[name].(map[string]any)
	if !ok {
		return nil, false
	}
	out := make(map[string]any, len(sec))
	for k, v := range sec {
		out[k] = v
	}
	return out, true
}

// Update sets the value at a dot-separated path, creating intermediate
// sections as needed. It fails only when traversal reaches an existing
// non-object value.
func (m *Manager) Update(path string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return setPath(m.tree, path, value)
}

// SaveTo writes the current snapshot to path, JSON by default and YAML
// for .yaml/.yml extensions. security.tokens and security.credentials
// are always removed from the written document, populated or not.
func (m *Manager) SaveTo(path string) error {
	m.mu.RLock()
	out := cloneTree(m.tree)
	m.mu.RUnlock()

	if sec, ok := out["security"].(map[string]any); ok {
		delete(sec, "tokens")
		delete(sec, "credentials")
	}

	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(out)
	default:
		data, err = json.MarshalIndent(out, "", "  ")
	}
	if err != nil {
		return &IOError{Op: "save", Path: path, Err: err}
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &IOError{Op: "save", Path: path, Err: err}
		}
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return &IOError{Op: "save", Path: path, Err: err}
	}
	return nil
}

// IsFileTypeAllowed reports whether the lowercase extension of filename
// appears in security.allowedFileTypes. Files without an extension are
// never allowed.
func (m *Manager) IsFileTypeAllowed(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return false
	}
	for _, allowed := range m.GetStrings("security.allowedFileTypes") {
		allowed = strings.ToLower(allowed)
		if !strings.HasPrefix(allowed, ".") {
			allowed = "." + allowed
		}
		if ext == allowed {
			return true
		}
	}
	return false
}

// ResetToDefaults discards every override and restores built-in defaults.
func (m *Manager) ResetToDefaults() {
	m.mu.Lock()
	m.tree = Defaults()
	m.mu.Unlock()
}

// Get returns the value at a dot-separated path.
func (m *Manager) Get(path string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return treeGet(m.tree, path)
}

// GetString returns the string at path, or fallback when absent or not a
// string.
func (m *Manager) GetString(path, fallback string) string {
	if v, ok := m.Get(path); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return fallback
}

// GetInt returns the integer at path, coercing the numeric types YAML
// and JSON decoders produce, or fallback.
func (m *Manager) GetInt(path string, fallback int) int {
	if v, ok := m.Get(path); ok {
		if n, ok := toInt(v); ok {
			return n
		}
	}
	return fallback
}

// GetFloat returns the float at path, or fallback.
func (m *Manager) GetFloat(path string, fallback float64) float64 {
	if v, ok := m.Get(path); ok {
		if f, ok := toFloat(v); ok {
			return f
		}
	}
	return fallback
}

// GetBool returns the boolean at path, or fallback.
func (m *Manager) GetBool(path string, fallback bool) bool {
	if v, ok := m.Get(path); ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return fallback
}

// GetStrings returns the string list at path, or nil.
func (m *Manager) GetStrings(path string) []string {
	if v, ok := m.Get(path); ok {
		return toStrings(v)
	}
	return nil
}

// Token returns the GitHub token from the environment variable named by
// security.tokenEnvName.
func (m *Manager) Token() (string, bool) {
	name := m.GetString("security.tokenEnvName", DefaultTokenEnv)
	tok := os.Getenv(name)
	return tok, tok != ""
}

// DefaultConfigPath returns the default configuration file location.
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".mend", "config.json")
}
