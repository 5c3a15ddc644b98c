package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/alekspetrov/mend/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage Mend configuration",
		Long: `View and edit Mend configuration.

Settings are layered: built-in defaults first, then the configuration
file, then environment overrides. The environment always wins.

Subcommands:
  show         Show the effective configuration
  get          Print one value by dotted path
  set          Change one value and persist it
  save         Write the effective configuration to a file
  reset        Restore built-in defaults

Configuration File Location:
  Default: ~/.mend/config.json
  Override with --config flag

Examples:
  mend config show                       # Full effective config
  mend config show batch                 # One section
  mend config get ai.model               # Single value
  mend config set batch.maxConcurrent 5  # Change and persist
  mend config save mend.yaml             # Export as YAML
  mend config reset                      # Back to defaults

For detailed help on any subcommand:
  mend config <subcommand> --help`,
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigGetCmd(),
		newConfigSetCmd(),
		newConfigSaveCmd(),
		newConfigResetCmd(),
	)

	return cmd
}

// configFilePath is the file subcommands load from and save to: the
// --config flag when given, the default location otherwise.
func configFilePath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

// loadManager initializes a manager from the configured file. A
// missing file is fine; defaults and environment overrides still apply.
func loadManager() (*config.Manager, error) {
	path := configFilePath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = ""
	}

	mgr := config.NewManager()
	if err := mgr.Initialize(path); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return mgr, nil
}

func newConfigShowCmd() *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "show [section]",
		Short: "Show the effective configuration",
		Long: `Display the effective configuration after all layers merged.

With a section name, shows only that section.

Flags:
  --json    Output as JSON instead of YAML

Examples:
  mend config show                       # Show as YAML
  mend config show --json               # Show as JSON
  mend config show batch                # Only the batch section`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := loadManager()
			if err != nil {
				return err
			}

			var tree any = mgr.Snapshot()
			if len(args) == 1 {
				sec, ok := mgr.Section(args[0])
				if !ok {
					return fmt.Errorf("no such section: %s", args[0])
				}
				tree = sec
			}

			if outputJSON {
				data, err := json.MarshalIndent(tree, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal config: %w", err)
				}
				fmt.Println(string(data))
				return nil
			}

			data, err := yaml.Marshal(tree)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			fmt.Print(string(data))
			return nil
		},
	}

	cmd.Flags().BoolVar(&outputJSON, "json", false, "Output as JSON")

	return cmd
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "Print one configuration value",
		Long: `Print the value at a dot-separated path.

Strings print bare; everything else prints as JSON.

Examples:
  mend config get ai.model
  mend config get batch.maxConcurrent
  mend config get pullRequest.labels`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := loadManager()
			if err != nil {
				return err
			}

			v, ok := mgr.Get(args[0])
			if !ok {
				return fmt.Errorf("no value at %s", args[0])
			}

			if s, ok := v.(string); ok {
				fmt.Println(s)
				return nil
			}
			data, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("failed to marshal value: %w", err)
			}
			fmt.Println(string(data))
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <path> <value>",
		Short: "Change one configuration value",
		Long: `Set the value at a dot-separated path and save the file.

The value is parsed as JSON when possible, so numbers, booleans, and
lists come through typed; anything else is stored as a string.

Examples:
  mend config set batch.maxConcurrent 5
  mend config set pullRequest.draft false
  mend config set task.baseBranch develop
  mend config set pullRequest.labels '["automated","mend"]'

Values are validated when loaded; a warning is printed if the saved
configuration no longer validates.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := loadManager()
			if err != nil {
				return err
			}

			key := args[0]
			if err := mgr.Update(key, parseConfigValue(args[1])); err != nil {
				return fmt.Errorf("failed to set %s: %w", key, err)
			}

			path := configFilePath()
			if err := mgr.SaveTo(path); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			printStatus("✓", fmt.Sprintf("%s = %s (saved to %s)", key, args[1], path), color.FgGreen)

			// Validate the round trip the way the next load will see it.
			var initErr *config.InitError
			if err := config.NewManager().Initialize(path); errors.As(err, &initErr) {
				printStatus("⚠", fmt.Sprintf("saved configuration fails validation: %v", initErr), color.FgYellow)
			}
			return nil
		},
	}
}

func newConfigSaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "save [path]",
		Short: "Write the effective configuration to a file",
		Long: `Write the effective configuration to a file.

Without a path, writes to the configured file location. JSON by
default; a .yaml or .yml extension writes YAML. Token material is
never written.

Examples:
  mend config save                       # Scaffold the default file
  mend config save mend.yaml             # Export as YAML`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := loadManager()
			if err != nil {
				return err
			}

			path := configFilePath()
			if len(args) == 1 {
				path = args[0]
			}

			if err := mgr.SaveTo(path); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			printStatus("✓", fmt.Sprintf("Configuration written to %s", path), color.FgGreen)
			return nil
		},
	}
}

func newConfigResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Restore built-in defaults",
		Long: `Discard every override and write built-in defaults to the
configured file location.

A file that no longer loads or validates is exactly what reset fixes,
so load failures are ignored here.

Examples:
  mend config reset`,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := loadManager()
			if err != nil {
				mgr = config.NewManager()
			}
			mgr.ResetToDefaults()

			path := configFilePath()
			if err := mgr.SaveTo(path); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			printStatus("✓", fmt.Sprintf("Configuration reset to defaults at %s", path), color.FgGreen)
			return nil
		},
	}
}

// parseConfigValue interprets raw as JSON when possible so numbers,
// booleans, and lists come through typed; anything else stays a string.
func parseConfigValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}
