package generator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var errSessionUsed = errors.New("session already used; open a new session per invocation")

// Session 是一次 agent 调用的隔离上下文：每次调用新建，绝不跨调用、跨角色或跨运行复用。
type Session struct {
	ID   string
	Role string
	Turn *Turn
	llm  LLMClient
}

// NewSession 创建 session，尚未调用模型。
func NewSession(role string, llm LLMClient) *Session {
	return &Session{
		ID:   uuid.NewString(),
		Role: role,
		llm:  llm,
	}
}

// Run sends the single prompt of this session and records the turn.
func (s *Session) Run(ctx context.Context, prompt Prompt) (string, error) {
	if s.Turn != nil {
		return "", errSessionUsed
	}
	start := time.Now()
	reply, err := s.llm.Complete(ctx, prompt)
	s.Turn = &Turn{
		Prompt:    prompt,
		Reply:     reply,
		CreatedAt: start,
		Elapsed:   time.Since(start),
	}
	if err != nil {
		s.Turn.Err = err.Error()
		return "", err
	}
	return reply, nil
}
