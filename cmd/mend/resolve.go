package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/alekspetrov/mend/internal/mend"
	"github.com/alekspetrov/mend/internal/resolver"
)

// panelWidth for result cards (matches the onboarding screens)
const resultPanelWidth = 69

const cardLabelWidth = 9

// Color palette (matching dashboard styles)
var (
	cardTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7eb8da")) // steel blue

	cardBorderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#3d4450")) // slate

	cardSuccessStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#7ec699")) // sage green

	cardFailStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#d48a8a")) // dusty rose

	cardLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#c9d1d9")) // light gray

	cardValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7eb8da")) // steel blue

	cardDimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8b949e")) // mid gray
)

func newResolveCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "resolve [text...]",
		Short: "Resolve GitHub issues from a request",
		Long: `Resolve GitHub issues named in a natural-language request.

The request is the joined command arguments, or stdin when the sole
argument is "-". Recognized forms:

  resolve issue <issue-url>              One issue
  resolve issues from <url> <url> ...    A batch of issues
  resolve issues in owner/repo           Every open issue in a repo

Each resolved issue gets a branch, a commit, and a pull request. The
issue receives a comment linking the PR with a summary of the changes.

Flags:
  --json    Print the raw response envelope as JSON

Examples:
  mend resolve resolve issue https://github.com/acme/widgets/issues/42
  mend resolve "resolve issues in acme/widgets"
  echo "resolve issue $URL" | mend resolve -
  mend resolve --json resolve issue $URL | jq .pullRequestUrl

Exit code is 0 when every issue resolved, 1 otherwise.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := gatherInput(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if strings.TrimSpace(input) == "" {
				return fmt.Errorf("nothing to resolve: pass a request or pipe one on stdin with -")
			}

			coordinator := mend.New(mend.WithConfigPath(cfgFile))
			resp := coordinator.Resolve(cmd.Context(), input)

			if jsonOutput {
				data, err := json.MarshalIndent(resp, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal response: %w", err)
				}
				fmt.Println(string(data))
			} else {
				printResponse(resp)
			}

			if !resp.Success {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the response envelope as JSON")

	return cmd
}

// gatherInput joins the command arguments into one request, or reads
// stdin when the sole argument is "-".
func gatherInput(args []string, stdin io.Reader) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}
	return strings.Join(args, " "), nil
}

// printStatus prints a status line with a colored symbol.
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}

func printResponse(resp *resolver.Response) {
	if resp.IsBatch {
		printBatchResponse(resp)
		return
	}

	// Message-only envelope: nothing ran, nothing to show but the text.
	if resp.IssueURL == "" {
		symbol, attr := "✓", color.FgGreen
		if !resp.Success {
			symbol, attr = "✗", color.FgRed
		}
		printStatus(symbol, resp.Message, attr)
		return
	}

	result := envelopeResult(resp)
	if result.Success {
		printStatus("✓", fmt.Sprintf("%s resolved", issueRef(result)), color.FgGreen)
	} else {
		headline := fmt.Sprintf("%s failed", issueRef(result))
		if result.FailedStage != "" {
			headline += fmt.Sprintf(" at the %s stage", result.FailedStage)
		}
		printStatus("✗", headline, color.FgRed)
	}
	fmt.Println()
	printResultCard(result)

	if result.Visualization != "" {
		fmt.Println()
		fmt.Print(renderMarkdown(result.Visualization))
	}
}

func printBatchResponse(resp *resolver.Response) {
	succeeded, failed := batchTally(resp.Results)

	if resp.Message != "" {
		printStatus("⚠", resp.Message, color.FgYellow)
	}
	if failed == 0 {
		printStatus("✓", fmt.Sprintf("Batch finished: all %d issues resolved", succeeded), color.FgGreen)
	} else {
		printStatus("✗", fmt.Sprintf("Batch finished: %d resolved, %d failed", succeeded, failed), color.FgRed)
	}

	for _, result := range resp.Results {
		if result == nil {
			continue
		}
		fmt.Println()
		printResultCard(result)
	}
}

// batchTally counts succeeded and failed results.
func batchTally(results []*resolver.Result) (succeeded, failed int) {
	for _, r := range results {
		if r != nil && r.Success {
			succeeded++
		} else {
			failed++
		}
	}
	return succeeded, failed
}

// envelopeResult rebuilds the flattened single result from a response
// envelope so single and batch output share one card printer.
func envelopeResult(resp *resolver.Response) *resolver.Result {
	return &resolver.Result{
		Success:           resp.Success,
		IssueURL:          resp.IssueURL,
		IssueNumber:       resp.IssueNumber,
		PullRequestURL:    resp.PullRequestURL,
		PullRequestNumber: resp.PullRequestNumber,
		Branch:            resp.Branch,
		ChangedFiles:      resp.ChangedFiles,
		Visualization:     resp.Visualization,
		Error:             resp.Error,
		FailedStage:       resp.FailedStage,
	}
}

func issueRef(result *resolver.Result) string {
	if result.IssueNumber == 0 {
		return "Issue"
	}
	return fmt.Sprintf("Issue #%d", result.IssueNumber)
}

// printResultCard draws one result as a bordered panel:
//
//	╭─ ISSUE #42 ────────...────╮
//	│ Status   Resolved         │
//	│ PR       #142             │
//	│ Branch   mend/issue-42    │
//	╰────────────...────────────╯
func printResultCard(result *resolver.Result) {
	printCardTop(strings.ToUpper(issueRef(result)))

	if result.Success {
		printCardRow("Status", cardSuccessStyle.Render("Resolved"))
		if result.PullRequestNumber != 0 {
			printCardRow("PR", cardValueStyle.Render(fmt.Sprintf("#%d", result.PullRequestNumber)))
		}
		if result.Branch != "" {
			printCardRow("Branch", cardValueStyle.Render(result.Branch))
		}
		if result.ChangedFiles > 0 {
			printCardRow("Files", cardValueStyle.Render(fmt.Sprintf("%d changed", result.ChangedFiles)))
		}
		if result.PullRequestURL != "" {
			printCardRow("URL", cardDimStyle.Render(truncateCell(result.PullRequestURL, cardValueMax())))
		}
	} else {
		printCardRow("Status", cardFailStyle.Render("Failed"))
		if result.FailedStage != "" {
			printCardRow("Stage", cardValueStyle.Render(string(result.FailedStage)))
		}
		if result.Error != "" {
			printCardRow("Error", cardFailStyle.Render(truncateCell(result.Error, cardValueMax())))
		}
		if result.IssueURL != "" {
			printCardRow("URL", cardDimStyle.Render(truncateCell(result.IssueURL, cardValueMax())))
		}
	}

	printCardBottom()
}

// printCardTop prints: ╭─ TITLE ─────...─────╮
func printCardTop(title string) {
	prefix := "╭─ "
	dashCount := resultPanelWidth - lipgloss.Width(prefix+title+" ") - 1
	if dashCount < 0 {
		dashCount = 0
	}
	fmt.Println(cardBorderStyle.Render(prefix) +
		cardTitleStyle.Render(title) +
		cardBorderStyle.Render(" "+strings.Repeat("─", dashCount)+"╮"))
}

// printCardRow prints: │ Label   value           │
func printCardRow(label, value string) {
	pad := resultPanelWidth - 4 - cardLabelWidth - lipgloss.Width(value)
	if pad < 0 {
		pad = 0
	}
	border := cardBorderStyle.Render("│")
	fmt.Println(border + " " +
		cardLabelStyle.Render(fmt.Sprintf("%-*s", cardLabelWidth, label)) +
		value + strings.Repeat(" ", pad) + " " + border)
}

// printCardBottom prints: ╰─────────...─────────╯
func printCardBottom() {
	fmt.Println(cardBorderStyle.Render("╰" + strings.Repeat("─", resultPanelWidth-2) + "╯"))
}

// cardValueMax is the widest value a card row can hold without
// breaking the border.
func cardValueMax() int {
	return resultPanelWidth - 4 - cardLabelWidth
}

// truncateCell shortens value to max columns, marking the cut with an
// ellipsis.
func truncateCell(value string, max int) string {
	if lipgloss.Width(value) <= max {
		return value
	}
	if max <= 1 {
		return "…"
	}
	runes := []rune(value)
	if len(runes) > max-1 {
		runes = runes[:max-1]
	}
	return string(runes) + "…"
}

// renderMarkdown renders the visualization through glamour, falling
// back to the raw markdown when the terminal renderer is unavailable.
func renderMarkdown(markdown string) string {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return markdown
	}
	out, err := renderer.Render(markdown)
	if err != nil {
		return markdown
	}
	return out
}
