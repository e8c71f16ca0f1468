package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/formatting"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/workflows"
)

const renderWidth = 100

func newRunCmd(c *cli) *cobra.Command {
	var (
		depth     string
		providers []string
		format    string
		quiet     bool
	)
	cmd := &cobra.Command{
		Use:   "run <query>",
		Short: "Research a query end to end and print the report",
		Long: `Runs planning, deep research, verification and synthesis in this process.
Progress is written to stderr; the report goes to stdout.

Formats: pretty (markdown rendered for the terminal), markdown, json.`,
		Example: `  researchctl run "state of sodium-ion batteries" --depth comprehensive
  researchctl run "history of the printing press" --format markdown > report.md`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch format {
			case "pretty", "markdown", "json":
			default:
				return fmt.Errorf("unknown format %q", format)
			}
			req, err := workflows.NewRequest(strings.Join(args, " "), models.DepthLevel(depth), providers)
			if err != nil {
				return err
			}

			svc, err := c.service(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Shutdown(context.Background()) }()

			var progress workflows.ProgressCallback
			if !quiet {
				errOut := cmd.ErrOrStderr()
				progress = func(_ context.Context, rec models.ProgressRecord) error {
					_, err := fmt.Fprintln(errOut, progressLine(rec))
					return err
				}
			}

			orch := svc.Orchestrator()
			report, err := orch.Execute(cmd.Context(), req, progress)
			if err != nil {
				return err
			}
			facts, err := orch.GetFacts(req.ID)
			if err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), format, report, facts)
		},
	}
	cmd.Flags().StringVarP(&depth, "depth", "d", string(models.DepthStandard), "depth level: quick, standard or comprehensive")
	cmd.Flags().StringSliceVar(&providers, "providers", nil, "restrict search to these providers (default all)")
	cmd.Flags().StringVarP(&format, "format", "f", "pretty", "output format: pretty, markdown or json")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print progress")
	return cmd
}

// progressLine renders one progress snapshot for the terminal.
func progressLine(rec models.ProgressRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%3d%%] %s", rec.ProgressPercent, rec.CurrentStage)
	if rec.QuestionsTotal > 0 && rec.Status == models.WorkflowExecuting {
		fmt.Fprintf(&b, " (%d/%d questions)", rec.QuestionsCompleted, rec.QuestionsTotal)
	}
	return b.String()
}

func writeReport(w io.Writer, format string, report *models.NarrativeReport, facts []models.VerifiedFact) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "markdown":
		_, err := io.WriteString(w, formatting.RenderMarkdown(report, facts))
		return err
	}

	md := formatting.RenderMarkdown(report, facts)
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(renderWidth),
	)
	if err != nil {
		_, err = io.WriteString(w, md)
		return err
	}
	out, err := r.Render(md)
	if err != nil {
		_, err = io.WriteString(w, md)
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}
