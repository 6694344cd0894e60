package generator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Agent 负责以不同角色调用模型：分析（Strategist）、撰写/修订（Copywriter）、合规审查（Reviewer）。
type Agent struct {
	llm    LLMClient
	logger *zap.Logger
}

func NewAgent(llm LLMClient, logger *zap.Logger) (*Agent, error) {
	if llm == nil {
		return nil, errors.New("llm client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{llm: llm, logger: logger.With(zap.String("component", "agent"))}, nil
}

// Analyze runs the strategist over website or operator-supplied content.
func (a *Agent) Analyze(ctx context.Context, origin, content string, fromDocument bool) (string, error) {
	return a.invoke(ctx, BuildAnalysisPrompt(origin, content, fromDocument))
}

// Generate 根据是否存在 prev 决定首稿或修订流程。
func (a *Agent) Generate(ctx context.Context, brief Brief, prev *Draft, feedback string) (string, error) {
	var prompt Prompt
	if prev == nil && feedback == "" {
		prompt = BuildInitialPrompt(brief)
	} else {
		prompt = BuildRepairPrompt(brief, prev, feedback)
	}
	return a.invoke(ctx, prompt)
}

// Review asks the compliance reviewer for a marker-prefixed verdict.
func (a *Agent) Review(ctx context.Context, draft Draft) (string, error) {
	return a.invoke(ctx, BuildReviewPrompt(draft))
}

func (a *Agent) invoke(ctx context.Context, prompt Prompt) (string, error) {
	sess := NewSession(prompt.Role, a.llm)
	a.logger.Debug("agent invocation", zap.String("role", prompt.Role), zap.String("session", sess.ID))

	reply, err := sess.Run(ctx, prompt)
	if err != nil {
		a.logger.Warn("agent invocation failed",
			zap.String("role", prompt.Role),
			zap.String("session", sess.ID),
			zap.Error(err))
		return "", fmt.Errorf("%s agent: %w", prompt.Role, err)
	}
	a.logger.Debug("agent replied",
		zap.String("role", prompt.Role),
		zap.String("session", sess.ID),
		zap.Duration("elapsed", sess.Turn.Elapsed),
		zap.Int("chars", len(reply)))
	return reply, nil
}
