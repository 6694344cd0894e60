package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MockLLM 不调用外部模型：按顺序返回脚本化回复，脚本为空时按角色给出固定示例，便于本地调试。
type MockLLM struct {
	Responses []string
	// Respond, when set, takes precedence over Responses.
	Respond func(Prompt) (string, error)

	mu      sync.Mutex
	prompts []Prompt
}

func (m *MockLLM) Complete(_ context.Context, prompt Prompt) (string, error) {
	m.mu.Lock()
	n := len(m.prompts)
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if m.Respond != nil {
		return m.Respond(prompt)
	}
	if len(m.Responses) == 0 {
		return cannedReply(prompt)
	}
	if n >= len(m.Responses) {
		return "", fmt.Errorf("mock llm: no scripted response for call %d", n+1)
	}
	return m.Responses[n], nil
}

// Prompts returns a copy of every prompt received so far.
func (m *MockLLM) Prompts() []Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Prompt(nil), m.prompts...)
}

// Calls counts prompts received for role ("" counts all).
func (m *MockLLM) Calls(role string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if role == "" {
		return len(m.prompts)
	}
	n := 0
	for _, p := range m.prompts {
		if p.Role == role {
			n++
		}
	}
	return n
}

func cannedReply(prompt Prompt) (string, error) {
	switch prompt.Role {
	case RoleStrategist:
		b, _ := json.MarshalIndent(Brief{
			USP:      "Hand-roasted coffee delivered fresh within 48 hours of roasting.",
			Audience: "Home coffee enthusiasts who value freshness",
			Tone:     "Warm and confident",
			Keywords: []string{"fresh coffee", "coffee beans", "roasted to order", "coffee delivery", "specialty coffee"},
		}, "", "  ")
		return "```json\n" + string(b) + "\n```", nil
	case RoleCopywriter:
		d := Draft{}
		for i := 1; i <= HeadlineCount; i++ {
			d.Headlines = append(d.Headlines, fmt.Sprintf("Fresh Coffee Offer %d", i))
		}
		for i := 1; i <= DescriptionCount; i++ {
			d.Descriptions = append(d.Descriptions, fmt.Sprintf("Roasted to order and shipped within 48 hours. Option %d.", i))
		}
		b, _ := json.Marshal(d)
		return string(b), nil
	case RoleReviewer:
		return "FINAL_SUCCESS", nil
	default:
		return "", fmt.Errorf("mock llm: no canned reply for role %q", prompt.Role)
	}
}
