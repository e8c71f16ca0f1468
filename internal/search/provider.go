package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/models"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/tracing"
)

// Provider returns source hits for a query.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, maxResults int) ([]models.SourceHit, error)
}

// HTTPDoer is satisfied by *http.Client and circuitbreaker.HTTPWrapper.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPProvider queries a JSON search endpoint:
//
//	GET <url>?q=<query>&limit=<n>  ->  {"results":[{"url","title","snippet","timestamp","language"}]}
//
// Scrapers and vendor APIs live behind such an endpoint.
type HTTPProvider struct {
	name    string
	baseURL string
	apiKey  string
	timeout time.Duration
	client  HTTPDoer
}

// NewHTTPProvider creates a provider for endpoint. A zero timeout disables the per-call deadline.
func NewHTTPProvider(name, endpoint, apiKey string, timeout time.Duration, client HTTPDoer) *HTTPProvider {
	return &HTTPProvider{name: name, baseURL: endpoint, apiKey: apiKey, timeout: timeout, client: client}
}

func (p *HTTPProvider) Name() string { return p.name }

type providerHit struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	Snippet   string `json:"snippet"`
	Timestamp string `json:"timestamp"`
	Language  string `json:"language"`
}

type providerResponse struct {
	Results []providerHit `json:"results"`
}

func (p *HTTPProvider) Search(ctx context.Context, query string, maxResults int) ([]models.SourceHit, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	u, err := url.Parse(p.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid provider url %q: %w", p.baseURL, err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(maxResults))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	tracing.InjectTraceparent(ctx, req)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s search failed: %w", p.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("%s search returned HTTP %d: %s", p.name, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s search: failed to parse response: %w", p.name, err)
	}

	now := time.Now().UTC()
	hits := make([]models.SourceHit, 0, len(out.Results))
	for _, r := range out.Results {
		if r.URL == "" {
			continue
		}
		ts := now
		if r.Timestamp != "" {
			if parsed, err := time.Parse(time.RFC3339, r.Timestamp); err == nil {
				ts = parsed
			}
		}
		lang := r.Language
		if lang == "" {
			lang = "en"
		}
		hits = append(hits, models.SourceHit{
			URL:       r.URL,
			Title:     r.Title,
			Snippet:   r.Snippet,
			Timestamp: ts,
			Language:  lang,
			Provider:  p.name,
		})
		if maxResults > 0 && len(hits) >= maxResults {
			break
		}
	}
	return hits, nil
}
