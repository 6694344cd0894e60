package compliance

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"adgenius/generator"
)

// Gate decides whether a draft may be published. An error means no verdict could be
// reached; *ProtocolError marks an unintelligible reviewer reply.
type Gate interface {
	Check(ctx context.Context, draft generator.Draft) (Verdict, error)
}

// Rules is the deterministic gate.
type Rules struct{}

func (Rules) Check(_ context.Context, draft generator.Draft) (Verdict, error) {
	return Check(draft), nil
}

// ProtocolError 表示审查 agent 的回复既不是通过标记也不是修改请求。
type ProtocolError struct {
	Reply string
}

func (e *ProtocolError) Error() string {
	reply := e.Reply
	if r := []rune(reply); len(r) > 120 {
		reply = string(r[:120]) + "..."
	}
	return fmt.Sprintf("reviewer reply matched no protocol marker: %q", reply)
}

// ReviewAgent is the model-backed compliance officer.
type ReviewAgent interface {
	Review(ctx context.Context, draft generator.Draft) (string, error)
}

// Reviewer runs the rule engine first and asks the agent only about drafts that pass it.
// A rule rejection is final.
type Reviewer struct {
	agent  ReviewAgent
	logger *zap.Logger
}

func NewReviewer(agent ReviewAgent, logger *zap.Logger) *Reviewer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reviewer{agent: agent, logger: logger.With(zap.String("component", "reviewer"))}
}

func (r *Reviewer) Check(ctx context.Context, draft generator.Draft) (Verdict, error) {
	v := Check(draft)
	if !v.Approved {
		return v, nil
	}

	reply, err := r.agent.Review(ctx, draft)
	if err != nil {
		return Verdict{}, err
	}
	v, err = ParseReview(reply)
	if err != nil {
		r.logger.Error("reviewer protocol violation", zap.Error(err))
		return Verdict{}, err
	}
	r.logger.Info("reviewer verdict", zap.Bool("approved", v.Approved))
	return v, nil
}

// ParseReview turns a reviewer reply into a Verdict. It is the only place the markers are
// matched. The first line that starts with a marker decides, so a short lead-in before the
// marker is tolerated; a marker buried mid-sentence is not.
func ParseReview(reply string) (Verdict, error) {
	lines := strings.Split(reply, "\n")
	for i, line := range lines {
		l := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(l, generator.ApprovedMarker):
			return Verdict{Approved: true}, nil
		case strings.HasPrefix(l, generator.FixMarker):
			rest := append([]string{strings.TrimPrefix(l, generator.FixMarker)}, lines[i+1:]...)
			body := strings.TrimSpace(strings.Join(rest, "\n"))
			if body == "" {
				return Verdict{}, &ProtocolError{Reply: reply}
			}
			return Verdict{Feedback: feedbackHeader + body}, nil
		}
	}
	return Verdict{}, &ProtocolError{Reply: reply}
}
