package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/alekspetrov/mend/internal/config"
)

func TestParseConfigValue(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want any
	}{
		{"integer", "5", float64(5)},
		{"float", "0.5", 0.5},
		{"boolean", "false", false},
		{"bare string", "develop", "develop"},
		{"quoted string", `"develop"`, "develop"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseConfigValue(tt.raw); got != tt.want {
				t.Errorf("parseConfigValue(%q) = %#v, want %#v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseConfigValueList(t *testing.T) {
	got, ok := parseConfigValue(`["automated","mend"]`).([]any)
	if !ok {
		t.Fatalf("expected a list, got %#v", got)
	}
	if len(got) != 2 || got[0] != "automated" || got[1] != "mend" {
		t.Errorf("parseConfigValue() = %#v, want [automated mend]", got)
	}
}

func TestConfigFilePathHonorsFlag(t *testing.T) {
	oldCfgFile := cfgFile
	defer func() { cfgFile = oldCfgFile }()

	cfgFile = "/tmp/custom.yaml"
	if got := configFilePath(); got != "/tmp/custom.yaml" {
		t.Errorf("configFilePath() = %q, want %q", got, "/tmp/custom.yaml")
	}

	cfgFile = ""
	if got := configFilePath(); got != config.DefaultConfigPath() {
		t.Errorf("configFilePath() = %q, want default %q", got, config.DefaultConfigPath())
	}
}

func TestLoadManagerReadsConfiguredFile(t *testing.T) {
	t.Setenv(config.EnvMaxConcurrent, "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("batch:\n  maxConcurrent: 7\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	oldCfgFile := cfgFile
	cfgFile = path
	defer func() { cfgFile = oldCfgFile }()

	mgr, err := loadManager()
	if err != nil {
		t.Fatalf("loadManager() error = %v", err)
	}
	if got := mgr.GetInt("batch.maxConcurrent", 0); got != 7 {
		t.Errorf("batch.maxConcurrent = %d, want 7", got)
	}
}

func TestLoadManagerMissingFileFallsBackToDefaults(t *testing.T) {
	t.Setenv(config.EnvMaxConcurrent, "")

	oldCfgFile := cfgFile
	cfgFile = filepath.Join(t.TempDir(), "nope.json")
	defer func() { cfgFile = oldCfgFile }()

	mgr, err := loadManager()
	if err != nil {
		t.Fatalf("loadManager() error = %v", err)
	}
	if got := mgr.GetInt("batch.maxConcurrent", 0); got != 3 {
		t.Errorf("batch.maxConcurrent = %d, want default 3", got)
	}
}

func TestConfigSetPersists(t *testing.T) {
	t.Setenv(config.EnvMaxConcurrent, "")

	path := filepath.Join(t.TempDir(), "config.json")

	oldCfgFile := cfgFile
	cfgFile = path
	defer func() { cfgFile = oldCfgFile }()

	cmd := newConfigSetCmd()
	cmd.SetArgs([]string{"batch.maxConcurrent", "5"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config set failed: %v", err)
	}

	mgr := config.NewManager()
	if err := mgr.Initialize(path); err != nil {
		t.Fatalf("reloading saved config: %v", err)
	}
	if got := mgr.GetInt("batch.maxConcurrent", 0); got != 5 {
		t.Errorf("batch.maxConcurrent = %d, want 5", got)
	}
}
