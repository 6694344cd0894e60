package generator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testBrief = Brief{
	USP:      "Fresh coffee in 48 hours.",
	Audience: "Home baristas",
	Tone:     "Warm",
	Keywords: []string{"coffee", "beans", "roastery", "espresso", "delivery"},
}

func TestNewAgent_RequiresLLM(t *testing.T) {
	_, err := NewAgent(nil, nil)
	require.Error(t, err)
}

func TestAgent_GenerateSelectsPrompt(t *testing.T) {
	llm := &MockLLM{Responses: []string{"first", "second"}}
	a, err := NewAgent(llm, nil)
	require.NoError(t, err)

	out, err := a.Generate(context.Background(), testBrief, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "first", out)

	prev := &Draft{Headlines: []string{"Old headline"}, Descriptions: []string{"Old description"}}
	out, err = a.Generate(context.Background(), testBrief, prev, "Headline #1 'Old headline' is too vague.")
	require.NoError(t, err)
	assert.Equal(t, "second", out)

	prompts := llm.Prompts()
	require.Len(t, prompts, 2)
	assert.Equal(t, RoleCopywriter, prompts[0].Role)
	assert.NotContains(t, prompts[0].User, "Fix these specific errors")
	assert.Contains(t, prompts[1].User, "Fix these specific errors")
	assert.Contains(t, prompts[1].User, "Old headline")
	assert.Contains(t, prompts[1].User, "too vague")
}

func TestAgent_AnalyzePromptMarksDocuments(t *testing.T) {
	llm := &MockLLM{Responses: []string{"a", "b"}}
	a, err := NewAgent(llm, nil)
	require.NoError(t, err)

	_, err = a.Analyze(context.Background(), "https://example.com", "site text", false)
	require.NoError(t, err)
	_, err = a.Analyze(context.Background(), "/tmp/home.pdf", "pdf text", true)
	require.NoError(t, err)

	prompts := llm.Prompts()
	assert.Contains(t, prompts[0].User, "https://example.com")
	assert.Contains(t, prompts[1].User, "supplied by the operator")
	assert.Contains(t, prompts[0].System, CaptchaMarker)
	assert.Equal(t, 2, llm.Calls(RoleStrategist))
}

func TestAgent_WrapsLLMError(t *testing.T) {
	boom := errors.New("quota exceeded")
	llm := &MockLLM{Respond: func(Prompt) (string, error) { return "", boom }}
	a, err := NewAgent(llm, nil)
	require.NoError(t, err)

	_, err = a.Review(context.Background(), Draft{})
	assert.ErrorIs(t, err, boom)
	assert.True(t, strings.HasPrefix(err.Error(), RoleReviewer))
}

func TestSession_SingleUse(t *testing.T) {
	s := NewSession(RoleCopywriter, &MockLLM{Responses: []string{"one", "two"}})
	_, err := s.Run(context.Background(), Prompt{Role: RoleCopywriter})
	require.NoError(t, err)
	_, err = s.Run(context.Background(), Prompt{Role: RoleCopywriter})
	assert.ErrorIs(t, err, errSessionUsed)

	other := NewSession(RoleCopywriter, &MockLLM{})
	assert.NotEqual(t, s.ID, other.ID)
}

func TestMockLLM_CannedRepliesParse(t *testing.T) {
	llm := &MockLLM{}
	raw, err := llm.Complete(context.Background(), Prompt{Role: RoleStrategist})
	require.NoError(t, err)
	_, err = ParseBrief(raw)
	require.NoError(t, err)

	raw, err = llm.Complete(context.Background(), Prompt{Role: RoleCopywriter})
	require.NoError(t, err)
	d, err := ParseDraft(raw)
	require.NoError(t, err)
	assert.Len(t, d.Headlines, HeadlineCount)
	assert.Len(t, d.Descriptions, DescriptionCount)
}
