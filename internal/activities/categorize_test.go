package activities

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPositionalCategorizer(t *testing.T) {
	tests := []struct {
		n    int
		want []int
	}{
		{0, []int{}},
		{1, []int{1}},
		{2, []int{1, 1}},
		{4, []int{1, 1, 2}},
		{6, []int{2, 2, 2}},
		{7, []int{2, 2, 3}},
		{10, []int{3, 3, 4}},
	}
	for _, tt := range tests {
		got := PositionalCategorizer{}.Categorize(verifiedFacts(tt.n))
		sizes := []int{}
		for _, c := range got {
			sizes = append(sizes, len(c.Facts))
		}
		assert.Equal(t, tt.want, sizes, "n=%d", tt.n)
	}

	two := PositionalCategorizer{}.Categorize(verifiedFacts(2))
	assert.Equal(t, CategoryOverview, two[0].Name)
	assert.Equal(t, CategoryKeyFindings, two[1].Name)
}

func TestRuleBasedCategorizer(t *testing.T) {
	c := NewRuleBasedCategorizer(map[string][]string{
		"market_position": {" Market Share ", "competitor"},
		"financials":      {"revenue", "margin"},
		"empty":           {" "},
	})
	facts := verifiedFacts(4)
	facts[0].Claim = "Gross margin fell to 17.6%"
	facts[1].Claim = "BYD overtook Tesla as top competitor in EVs"
	facts[2].Claim = "Revenue and market share both rose"
	facts[3].Claim = "The CEO spoke at a conference"

	got := c.Categorize(facts)
	require.Len(t, got, 3)
	assert.Equal(t, "Financials", got[0].Name)
	assert.Len(t, got[0].Facts, 2, "first matching rule in name order wins")
	assert.Equal(t, "Market Position", got[1].Name)
	assert.Equal(t, CategoryOther, got[2].Name)
	assert.Equal(t, "rule-based", c.Name())
}

func TestNewCategorizer(t *testing.T) {
	c, err := NewCategorizer("", nil)
	require.NoError(t, err)
	assert.Equal(t, "positional", c.Name())

	_, err = NewCategorizer("rule-based", nil)
	assert.Error(t, err)

	_, err = NewCategorizer("semantic-cluster", nil)
	assert.Error(t, err)
}

func TestPromptCatalogue(t *testing.T) {
	for _, name := range []string{promptPlanning, promptExtraction, promptCrossReference, promptExecutiveSummary, promptSection} {
		_, ok := prompts[name]
		assert.True(t, ok, name)
	}

	_, _, err := renderPrompt("missing", nil)
	assert.Error(t, err)

	_, err = parsePrompts([]byte("broken:\n  system: only a system prompt\n"))
	assert.Error(t, err)

	_, err = parsePrompts([]byte("bad:\n  user: \"{{.Unclosed\"\n"))
	assert.Error(t, err)
}
