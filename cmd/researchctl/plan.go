package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/util"
)

// questionWidth keeps one sub-question per terminal line.
const questionWidth = 96

func newPlanCmd(c *cli) *cobra.Command {
	var (
		depth  string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "plan <query>",
		Short: "Break a query into prioritized sub-questions",
		Example: `  researchctl plan "impact of heat pumps on winter grid load" --depth quick`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.service(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Shutdown(cmd.Context()) }()

			plan, err := svc.Orchestrator().CreatePlan(cmd.Context(), strings.Join(args, " "), models.DepthLevel(depth))
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(plan)
			}
			printPlan(cmd.OutOrStdout(), plan)
			return nil
		},
	}
	cmd.Flags().StringVarP(&depth, "depth", "d", string(models.DepthStandard), "depth level: quick, standard or comprehensive")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the plan as JSON")
	return cmd
}

func printPlan(w io.Writer, plan *models.ResearchPlan) {
	fmt.Fprintf(w, "%d sub-questions, about %ds of research\n\n", len(plan.SubQuestions), plan.EstimatedTimeSeconds)
	for _, q := range plan.SubQuestions {
		fmt.Fprintf(w, "  %2d. %s\n", q.Priority, util.TruncateString(q.Text, questionWidth, true))
	}
}
