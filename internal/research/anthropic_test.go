package research

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dealflow/internal/model"
	"github.com/sells-group/dealflow/pkg/anthropic"
)

type fakeClaude struct {
	text string
	err  error
	last anthropic.MessageRequest
}

func (f *fakeClaude) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &anthropic.MessageResponse{
		Text:  f.text,
		Usage: anthropic.TokenUsage{InputTokens: 100, OutputTokens: 50},
	}, nil
}

func TestAnthropicProcedure_Enrich(t *testing.T) {
	client := &fakeClaude{text: "Regional health system with 14 hospitals.\n\n- Founded 1985\n- Innovation arm since 2019"}
	proc := NewAnthropicProcedure(client, "claude-sonnet-4-5-20250929", 0)

	e := &model.Entity{
		Kind:    model.KindHealthSystem,
		Name:    "Mercy System",
		Website: "https://mercy.example.org",
		City:    "St. Louis",
		State:   "MO",
	}
	res, err := proc.Enrich(context.Background(), e)
	require.NoError(t, err)

	assert.Equal(t, "Regional health system with 14 hospitals.", res.Summary)
	assert.Contains(t, res.Notes, "Innovation arm")
	assert.Equal(t, int64(100), res.InputTokens)
	assert.Equal(t, int64(50), res.OutputTokens)

	// The prompt carries the kind's research focus and the entity identity.
	assert.Contains(t, client.last.Messages[0].Content, "Mercy System")
	assert.Contains(t, client.last.Messages[0].Content, "hospital count")
	assert.Equal(t, int64(1024), client.last.MaxTokens)
}

func TestAnthropicProcedure_EmptyResponse(t *testing.T) {
	client := &fakeClaude{text: "   \n  "}
	proc := NewAnthropicProcedure(client, "claude-sonnet-4-5-20250929", 512)

	_, err := proc.Enrich(context.Background(), &model.Entity{Kind: model.KindCompany, Name: "Acme"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty response")
}
