package research

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dealflow/internal/model"
	"github.com/sells-group/dealflow/internal/resilience"
	"github.com/sells-group/dealflow/pkg/anthropic"
)

const researchSystemPrompt = `You are a diligence analyst for a healthcare venture studio.
Given one organization, produce concise research notes grounded in what you know.
Start with a single-sentence summary on the first line, then a blank line, then
bullet notes. Say "unknown" for anything you cannot substantiate; never invent
figures.`

// AnthropicProcedure enriches an entity with Claude-generated research notes.
// One procedure instance serves one entity kind; the prompt comes from the
// kind's capability spec.
type AnthropicProcedure struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	retry     resilience.RetryConfig
}

// NewAnthropicProcedure creates a research procedure backed by the Anthropic
// API.
func NewAnthropicProcedure(client anthropic.Client, llmModel string, maxTokens int64) *AnthropicProcedure {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &AnthropicProcedure{
		client:    client,
		model:     llmModel,
		maxTokens: maxTokens,
		retry:     resilience.DefaultRetryConfig(),
	}
}

func (p *AnthropicProcedure) Enrich(ctx context.Context, e *model.Entity) (*model.ResearchResult, error) {
	spec := model.SpecFor(e.Kind)

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", spec.Label, e.Name)
	if e.LegalName != "" {
		fmt.Fprintf(&b, "Legal name: %s\n", e.LegalName)
	}
	if e.Website != "" {
		fmt.Fprintf(&b, "Website: %s\n", e.Website)
	}
	if e.City != "" || e.State != "" {
		fmt.Fprintf(&b, "Headquarters: %s %s\n", e.City, e.State)
	}
	fmt.Fprintf(&b, "\nResearch focus: %s.\n", spec.ResearchFocus)

	resp, err := resilience.DoVal(ctx, p.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return p.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     p.model,
			MaxTokens: p.maxTokens,
			System:    researchSystemPrompt,
			Messages:  []anthropic.Message{{Role: "user", Content: b.String()}},
		})
	})
	if err != nil {
		return nil, eris.Wrapf(err, "research: anthropic enrich %s", e.Name)
	}

	notes := strings.TrimSpace(resp.Text)
	if notes == "" {
		return nil, eris.Errorf("research: empty response for %s", e.Name)
	}
	resp.Usage.LogCost(p.model, "research")

	summary := notes
	if i := strings.IndexByte(summary, '\n'); i >= 0 {
		summary = summary[:i]
	}
	return &model.ResearchResult{
		Summary:      strings.TrimSpace(summary),
		Notes:        notes,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}
