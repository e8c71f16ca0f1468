package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/stretchr/testify/require"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
)

// fakeCompleter answers from per-mode functions and records every request.
// JSON answers go through llm.DecodeJSON like the real service.
type fakeCompleter struct {
	mu       sync.Mutex
	text     func(req llm.Request) (string, error)
	json     func(req llm.Request) (string, error)
	requests []llm.Request
}

func (f *fakeCompleter) record(req llm.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
}

func (f *fakeCompleter) Complete(ctx context.Context, req llm.Request) (string, error) {
	f.record(req)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.text == nil {
		return "", llm.ErrNoBackend
	}
	return f.text(req)
}

func (f *fakeCompleter) CompleteJSON(ctx context.Context, req llm.Request, out llm.Validatable) error {
	f.record(req)
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.json == nil {
		return llm.ErrNoBackend
	}
	raw, err := f.json(req)
	if err != nil {
		return err
	}
	return llm.DecodeJSON(req.Task, raw, out)
}

func (f *fakeCompleter) requestsFor(task llm.Task) []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []llm.Request
	for _, r := range f.requests {
		if r.Task == task {
			out = append(out, r)
		}
	}
	return out
}

// fakeSearcher serves fixed hits per query text and records each search.
type fakeSearcher struct {
	mu        sync.Mutex
	hits      map[string][]models.SourceHit
	fallback  func(query string) []models.SourceHit
	queries   []string
	providers [][]string
}

func (s *fakeSearcher) SearchAllProviders(_ context.Context, query string, _ int, only ...string) []models.SourceHit {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	s.providers = append(s.providers, only)
	if hits, ok := s.hits[query]; ok {
		return hits
	}
	if s.fallback != nil {
		return s.fallback(query)
	}
	return nil
}

func hit(url string) models.SourceHit {
	return models.SourceHit{URL: url, Title: "Title of " + url, Snippet: "snippet for " + url, Language: "en"}
}

var sourceURLPattern = regexp.MustCompile(`Source URL: (\S+)`)

func promptURL(t require.TestingT, prompt string) string {
	m := sourceURLPattern.FindStringSubmatch(prompt)
	require.NotNil(t, m, "extraction prompt has no source url: %s", prompt)
	return m[1]
}

type extraction struct {
	Facts      []string `json:"extracted_facts"`
	Confidence float64  `json:"confidence,omitempty"`
	Topics     []string `json:"new_topics_to_research"`
}

func extractionJSON(e extraction) string {
	b, _ := json.Marshal(e)
	return string(b)
}

// extractionsByURL answers extraction prompts from a url -> response table.
// URLs missing from the table yield no facts.
func extractionsByURL(t require.TestingT, table map[string]string) func(llm.Request) (string, error) {
	return func(req llm.Request) (string, error) {
		if req.Task != llm.TaskExtraction {
			return "", fmt.Errorf("unexpected task %s", req.Task)
		}
		if resp, ok := table[promptURL(t, req.Prompt)]; ok {
			return resp, nil
		}
		return `{"extracted_facts": [], "new_topics_to_research": []}`, nil
	}
}

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("word ", n))
}

func finding(questionID, url, content string, confidence float64) models.ResearchFinding {
	return models.ResearchFinding{
		ID:           "f-" + url,
		QuestionID:   questionID,
		QuestionText: "Question " + questionID,
		Content:      content,
		SourceURL:    url,
		SourceTitle:  "Title " + url,
		Confidence:   confidence,
	}
}
