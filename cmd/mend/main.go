package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

// cfgFile is bound to the persistent --config flag and consulted by
// every subcommand that loads configuration.
var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mend",
		Short: "AI that fixes your GitHub issues",
		Long: `Mend turns GitHub issues into pull requests: it reads the issue,
generates a fix, commits it to a branch, and opens a PR with a summary
of the changes.`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")

	rootCmd.AddCommand(
		newResolveCmd(),
		newWatchCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show Mend version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Mend v%s\n", version)
		},
	}
}
