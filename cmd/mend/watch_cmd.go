package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/alekspetrov/mend/internal/banner"
	"github.com/alekspetrov/mend/internal/mend"
	"github.com/alekspetrov/mend/internal/resolver"
	"github.com/alekspetrov/mend/internal/watch"
)

func newWatchCmd() *cobra.Command {
	var (
		repo     string
		schedule string
		label    string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch a repository and resolve labeled issues",
		Long: `Watch one repository on a schedule and resolve new labeled issues.

Every scan lists open issues carrying the trigger label, filters out
issues already attempted this session, and resolves the rest as a
batch. The first scan runs immediately on start.

Flags:
  --repo        Repository to watch as owner/repo (required)
  --schedule    Scan cadence, a cron spec or @every duration
  --label       Issue label that marks work for mend

Examples:
  mend watch --repo acme/widgets
  mend watch --repo acme/widgets --schedule "@every 5m"
  mend watch --repo acme/widgets --label autofix

Seen issues are remembered in process only; restarting the watch
starts fresh. Stop with Ctrl+C.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if repo == "" {
				return fmt.Errorf("--repo is required, e.g. --repo acme/widgets")
			}

			coordinator := mend.New(mend.WithConfigPath(cfgFile))
			scanner, err := coordinator.Scanner()
			if err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}

			watcher, err := watch.New(coordinator, scanner, repo,
				watch.WithSchedule(schedule),
				watch.WithLabel(label),
				watch.WithOnBatch(printWatchBatch),
			)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			banner.StartupWatch(version, repo, label, schedule)

			if err := watcher.Start(ctx); err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			fmt.Println()
			fmt.Println("🛑 Stopping watch...")
			cancel()
			watcher.Stop()
			return nil
		},
	}

	cmd.Flags().StringVar(&repo, "repo", "", "Repository to watch as owner/repo (required)")
	cmd.Flags().StringVar(&schedule, "schedule", watch.DefaultSchedule, "Scan schedule (cron spec or @every duration)")
	cmd.Flags().StringVar(&label, "label", watch.DefaultLabel, "Issue label that marks work for mend")

	return cmd
}

// printWatchBatch summarizes one scheduled batch on the console.
func printWatchBatch(resp *resolver.Response) {
	if resp == nil || !resp.IsBatch {
		return
	}
	succeeded, failed := batchTally(resp.Results)
	if failed == 0 {
		printStatus("✓", fmt.Sprintf("Scan resolved all %d new issues", succeeded), color.FgGreen)
	} else {
		printStatus("✗", fmt.Sprintf("Scan resolved %d of %d new issues", succeeded, succeeded+failed), color.FgRed)
	}
	for _, result := range resp.Results {
		if result == nil {
			continue
		}
		if result.Success {
			printStatus("  ✓", fmt.Sprintf("#%d → PR #%d", result.IssueNumber, result.PullRequestNumber), color.FgGreen)
		} else {
			printStatus("  ✗", fmt.Sprintf("#%d: %s", result.IssueNumber, result.Error), color.FgRed)
		}
	}
}
