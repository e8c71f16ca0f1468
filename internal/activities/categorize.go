package activities

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/config"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
)

// Positional section names.
const (
	CategoryOverview    = "Overview"
	CategoryKeyFindings = "Key Findings"
	CategoryAnalysis    = "Analysis"
	CategoryOther       = "Other"
)

// Category is one report section's worth of facts.
type Category struct {
	Name  string
	Facts []models.VerifiedFact
}

// Categorizer partitions verified facts into report sections. Empty
// categories are never returned.
type Categorizer interface {
	Name() string
	Categorize(facts []models.VerifiedFact) []Category
}

// NewCategorizer returns the strategy named by kind.
func NewCategorizer(kind string, rules map[string][]string) (Categorizer, error) {
	switch kind {
	case "", config.CategorizationPositional:
		return PositionalCategorizer{}, nil
	case config.CategorizationRuleBased:
		if len(rules) == 0 {
			return nil, fmt.Errorf("rule-based categorization needs category rules")
		}
		return NewRuleBasedCategorizer(rules), nil
	default:
		return nil, fmt.Errorf("unknown categorization %q", kind)
	}
}

// PositionalCategorizer splits the topic-ordered facts into thirds:
// Overview, Key Findings, Analysis.
type PositionalCategorizer struct{}

func (PositionalCategorizer) Name() string { return config.CategorizationPositional }

func (PositionalCategorizer) Categorize(facts []models.VerifiedFact) []Category {
	third := len(facts) / 3
	if third == 0 {
		third = 1
	}
	buckets := []Category{
		{Name: CategoryOverview},
		{Name: CategoryKeyFindings},
		{Name: CategoryAnalysis},
	}
	for i, f := range facts {
		switch {
		case i < third:
			buckets[0].Facts = append(buckets[0].Facts, f)
		case i < 2*third:
			buckets[1].Facts = append(buckets[1].Facts, f)
		default:
			buckets[2].Facts = append(buckets[2].Facts, f)
		}
	}
	return nonEmpty(buckets)
}

type categoryRule struct {
	name     string
	keywords []string
}

// RuleBasedCategorizer assigns each fact to the first category, in name
// order, with a keyword contained in the claim. Unmatched facts go to Other.
type RuleBasedCategorizer struct {
	rules []categoryRule
}

// NewRuleBasedCategorizer builds a categorizer from category -> keywords.
func NewRuleBasedCategorizer(rules map[string][]string) *RuleBasedCategorizer {
	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	sort.Strings(names)

	c := &RuleBasedCategorizer{}
	for _, name := range names {
		rule := categoryRule{name: titleCase(name)}
		for _, kw := range rules[name] {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				rule.keywords = append(rule.keywords, kw)
			}
		}
		if len(rule.keywords) > 0 {
			c.rules = append(c.rules, rule)
		}
	}
	return c
}

func (*RuleBasedCategorizer) Name() string { return config.CategorizationRuleBased }

func (c *RuleBasedCategorizer) Categorize(facts []models.VerifiedFact) []Category {
	buckets := make([]Category, len(c.rules)+1)
	for i, r := range c.rules {
		buckets[i].Name = r.name
	}
	buckets[len(c.rules)].Name = CategoryOther

	for _, f := range facts {
		claim := strings.ToLower(f.Claim)
		idx := len(c.rules)
	match:
		for i, r := range c.rules {
			for _, kw := range r.keywords {
				if strings.Contains(claim, kw) {
					idx = i
					break match
				}
			}
		}
		buckets[idx].Facts = append(buckets[idx].Facts, f)
	}
	return nonEmpty(buckets)
}

func nonEmpty(buckets []Category) []Category {
	out := make([]Category, 0, len(buckets))
	for _, b := range buckets {
		if len(b.Facts) > 0 {
			out = append(out, b)
		}
	}
	return out
}

// titleCase upper-cases the first letter of each word; config keys arrive lower-cased.
func titleCase(s string) string {
	words := strings.Fields(strings.NewReplacer("_", " ", "-", " ").Replace(s))
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
