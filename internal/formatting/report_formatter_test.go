package formatting

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
)

func sampleReport() (*models.NarrativeReport, []models.VerifiedFact) {
	facts := []models.VerifiedFact{
		{ID: "f1", Claim: "Revenue was $25.17B", SourceURLs: []string{"https://ir.tesla.com/q4", "https://reuters.com/tesla"}},
		{ID: "f2", Claim: "Deliveries reached 484,507", SourceURLs: []string{"https://reuters.com/tesla"}},
		{ID: "f3", Claim: "Energy storage grew", SourceURLs: []string{"https://electrek.co/storage"}},
	}
	report := &models.NarrativeReport{
		Query:            "Research Tesla's Q4 2023 performance",
		ExecutiveSummary: "Tesla grew revenue [cite:f1].",
		Sections: []models.ReportSection{
			{Title: "Overview", Content: "Deliveries hit a record [cite:f2]. Unknown [cite:zzz] claim."},
		},
		DiscrepancyNotes: []models.Discrepancy{{
			Topic: "Q4 revenue",
			ConflictingClaims: []models.ConflictingClaim{
				{Claim: "Revenue was $25.17B", SourceURL: "https://ir.tesla.com/q4"},
				{Claim: "Revenue was $24.3B", SourceURL: "https://blog.example.com/tesla"},
			},
			PreferredClaim:  "Revenue was $25.17B",
			ResolutionBasis: models.ResolutionCredibility,
			ResolutionNotes: "Company filing preferred.",
		}},
		TotalWordCount: 12,
		TotalSources:   3,
		CreatedAt:      time.Date(2024, 1, 25, 12, 0, 0, 0, time.UTC),
	}
	return report, facts
}

func TestRenderMarkdownNumbersCitations(t *testing.T) {
	report, facts := sampleReport()
	out := RenderMarkdown(report, facts)

	assert.True(t, strings.HasPrefix(out, "# Research Tesla's Q4 2023 performance\n"))
	assert.Contains(t, out, "Tesla grew revenue [1][2].")
	assert.Contains(t, out, "Deliveries hit a record [2].")
	assert.Contains(t, out, "Unknown  claim.")
	assert.NotContains(t, out, "[cite:")
	assert.Contains(t, out, "_Generated 2024-01-25 12:00 UTC. 12 words from 3 sources._")
}

func TestRenderMarkdownSources(t *testing.T) {
	report, facts := sampleReport()
	out := RenderMarkdown(report, facts)

	i := strings.Index(out, "## Sources\n")
	require.NotEqual(t, -1, i)
	sources := strings.Split(strings.TrimSpace(out[i+len("## Sources\n"):]), "\n")
	assert.Equal(t, []string{
		"[1] https://ir.tesla.com/q4 - Used inline",
		"[2] https://reuters.com/tesla - Used inline",
		"[3] https://blog.example.com/tesla - Additional source",
		"[4] https://electrek.co/storage - Additional source",
	}, sources)
}

func TestRenderMarkdownConflictingReports(t *testing.T) {
	report, facts := sampleReport()
	out := RenderMarkdown(report, facts)

	assert.Contains(t, out, "## Conflicting Reports\n\n### Q4 revenue\n\n- Revenue was $25.17B [1]\n- Revenue was $24.3B [3]\n")
	assert.Contains(t, out, "**Preferred:** Revenue was $25.17B (basis: credibility)")
	assert.Contains(t, out, "Company filing preferred.")
	assert.Less(t, strings.Index(out, "## Conflicting Reports"), strings.Index(out, "## Sources"))
}

func TestRenderMarkdownEmptyReport(t *testing.T) {
	out := RenderMarkdown(&models.NarrativeReport{Query: "Research Tesla's Q4 2023 performance", ExecutiveSummary: "Nothing found."}, nil)
	assert.Contains(t, out, "## Executive Summary\n\nNothing found.\n")
	assert.NotContains(t, out, "## Sources")
	assert.NotContains(t, out, "## Conflicting Reports")

	assert.Empty(t, RenderMarkdown(nil, nil))
}
