package formatting

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
)

var citeMarker = regexp.MustCompile(`\[cite:([^\]\s]+)\]`)

// sourceIndex numbers distinct source urls in order of first use.
type sourceIndex struct {
	urls []string
	num  map[string]int
	used map[int]bool
}

func newSourceIndex() *sourceIndex {
	return &sourceIndex{num: map[string]int{}, used: map[int]bool{}}
}

func (s *sourceIndex) add(url string) int {
	if n, ok := s.num[url]; ok {
		return n
	}
	s.urls = append(s.urls, url)
	s.num[url] = len(s.urls)
	return len(s.urls)
}

// RenderMarkdown renders a report for export. Inline [cite:<fact_id>] markers
// become numbered references to the fact's source urls; markers naming an
// unknown fact are dropped. The Sources section lists every distinct url of
// facts, marking the ones cited inline.
func RenderMarkdown(report *models.NarrativeReport, facts []models.VerifiedFact) string {
	if report == nil {
		return ""
	}
	byID := make(map[string]models.VerifiedFact, len(facts))
	for _, f := range facts {
		byID[f.ID] = f
	}
	idx := newSourceIndex()

	var b strings.Builder
	title := strings.TrimSpace(report.Query)
	if title == "" {
		title = "Research Report"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	if !report.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "_Generated %s. %d words from %d sources._\n\n",
			report.CreatedAt.UTC().Format("2006-01-02 15:04 UTC"), report.TotalWordCount, report.TotalSources)
	}

	b.WriteString("## Executive Summary\n\n")
	b.WriteString(strings.TrimSpace(replaceCitations(report.ExecutiveSummary, byID, idx)))
	b.WriteString("\n")

	for _, sec := range report.Sections {
		fmt.Fprintf(&b, "\n## %s\n\n", sec.Title)
		b.WriteString(strings.TrimSpace(replaceCitations(sec.Content, byID, idx)))
		b.WriteString("\n")
	}

	if len(report.DiscrepancyNotes) > 0 {
		b.WriteString("\n## Conflicting Reports\n")
		for _, d := range report.DiscrepancyNotes {
			writeDiscrepancy(&b, d, idx)
		}
	}

	// Uncited sources keep their place after the cited ones.
	for _, f := range facts {
		for _, u := range f.SourceURLs {
			idx.add(u)
		}
	}
	if len(idx.urls) > 0 {
		b.WriteString("\n## Sources\n")
		for i, u := range idx.urls {
			label := "Additional source"
			if idx.used[i+1] {
				label = "Used inline"
			}
			fmt.Fprintf(&b, "[%d] %s - %s\n", i+1, u, label)
		}
	}
	return b.String()
}

func replaceCitations(text string, facts map[string]models.VerifiedFact, idx *sourceIndex) string {
	return citeMarker.ReplaceAllStringFunc(text, func(m string) string {
		id := citeMarker.FindStringSubmatch(m)[1]
		f, ok := facts[id]
		if !ok || len(f.SourceURLs) == 0 {
			return ""
		}
		var refs strings.Builder
		for _, u := range f.SourceURLs {
			n := idx.add(u)
			idx.used[n] = true
			refs.WriteString("[" + strconv.Itoa(n) + "]")
		}
		return refs.String()
	})
}

func writeDiscrepancy(b *strings.Builder, d models.Discrepancy, idx *sourceIndex) {
	fmt.Fprintf(b, "\n### %s\n\n", d.Topic)
	for _, c := range d.ConflictingClaims {
		n := idx.add(c.SourceURL)
		fmt.Fprintf(b, "- %s [%d]\n", strings.TrimSpace(c.Claim), n)
	}
	if d.PreferredClaim != "" {
		fmt.Fprintf(b, "\n**Preferred:** %s (basis: %s)\n", d.PreferredClaim, d.ResolutionBasis)
	}
	if notes := strings.TrimSpace(d.ResolutionNotes); notes != "" {
		fmt.Fprintf(b, "\n%s\n", notes)
	}
}
