package source

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dealflow/internal/model"
	"github.com/sells-group/dealflow/internal/resilience"
	"github.com/sells-group/dealflow/pkg/perplexity"
)

const searchPromptTemplate = `Find up to %d real %s matching the query below.
Respond with ONLY a JSON array, no prose. Each element:
{"name": "...", "legal_name": "...", "website": "...", "city": "...", "state": "...", "summary": "...", "confidence": 0.0}
Confidence is your 0-1 estimate that the match is what the user meant.

Query: %s`

// PerplexitySource implements Source using Perplexity chat completions.
type PerplexitySource struct {
	client     perplexity.Client
	maxResults int
	retry      resilience.RetryConfig
}

// NewPerplexitySource creates a candidate source. maxResults <= 0 defaults
// to 5.
func NewPerplexitySource(client perplexity.Client, maxResults int) *PerplexitySource {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &PerplexitySource{
		client:     client,
		maxResults: maxResults,
		retry:      resilience.DefaultRetryConfig(),
	}
}

func (s *PerplexitySource) Search(ctx context.Context, query string, kind model.Kind) ([]model.Candidate, error) {
	if err := ValidateQuery(query, kind); err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(searchPromptTemplate, s.maxResults, model.SpecFor(kind).Plural, strings.TrimSpace(query))

	resp, err := resilience.DoVal(ctx, s.retry, func(ctx context.Context) (*perplexity.ChatCompletionResponse, error) {
		return s.client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
			Messages: []perplexity.Message{{Role: "user", Content: prompt}},
		})
	})
	if err != nil {
		return nil, eris.Wrapf(err, "source: search %q", query)
	}

	candidates, err := parseCandidates(resp.Text())
	if err != nil {
		return nil, eris.Wrapf(err, "source: parse results for %q", query)
	}

	// Highest confidence first; provenance tagged for verification audit.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	if len(candidates) > s.maxResults {
		candidates = candidates[:s.maxResults]
	}
	for i := range candidates {
		candidates[i].Source = "perplexity"
	}

	zap.L().Info("candidate search complete",
		zap.String("query", query),
		zap.String("kind", string(kind)),
		zap.Int("candidates", len(candidates)),
	)
	return candidates, nil
}

// parseCandidates extracts the JSON array from a model response that may
// wrap it in prose or a code fence.
func parseCandidates(text string) ([]model.Candidate, error) {
	start := strings.IndexByte(text, '[')
	end := strings.LastIndexByte(text, ']')
	if start < 0 || end <= start {
		return nil, eris.New("no JSON array in response")
	}

	var out []model.Candidate
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return nil, eris.Wrap(err, "unmarshal candidates")
	}

	// Drop nameless entries rather than failing the whole search.
	kept := out[:0]
	for _, c := range out {
		if strings.TrimSpace(c.Name) != "" {
			kept = append(kept, c)
		}
	}
	return kept, nil
}
