package analysis

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"adgenius/generator"
	"adgenius/source"
)

// Strategist is the model-backed analyst.
type Strategist interface {
	Analyze(ctx context.Context, origin, content string, fromDocument bool) (string, error)
}

// Acquirer re-fetches website content.
type Acquirer interface {
	Acquire(ctx context.Context, url string) source.RawContent
}

// Local runs the strategist agent in-process. It implements the document fallback: blocked
// content or a CAPTCHA reply yields KindNeedsDocument.
type Local struct {
	agent   Strategist
	fetcher Acquirer
	logger  *zap.Logger
}

// NewLocal builds the local backend. fetcher may be nil, in which case blocked content is
// never re-fetched.
func NewLocal(agent Strategist, fetcher Acquirer, logger *zap.Logger) *Local {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Local{agent: agent, fetcher: fetcher, logger: logger.With(zap.String("component", "local_backend"))}
}

func (l *Local) Name() string { return "local" }

func (l *Local) Analyze(ctx context.Context, content source.RawContent) Result {
	if content.Provenance == source.Blocked {
		if l.fetcher == nil || content.Origin == "" {
			return NeedsDocument(content.Reason)
		}
		l.logger.Info("content blocked, re-fetching once", zap.String("url", content.Origin))
		content = l.fetcher.Acquire(ctx, content.Origin)
		if !content.Usable() {
			return NeedsDocument(content.Reason)
		}
	}

	reply, err := l.agent.Analyze(ctx, content.Origin, content.Text, content.Provenance == source.Document)
	if err != nil {
		return Failed(err)
	}
	return classify(reply)
}

// classify 只在此处匹配 CAPTCHA 标记。
func classify(reply string) Result {
	s := strings.TrimSpace(reply)
	if s == "" {
		return Failed(errors.New("strategist returned an empty reply"))
	}
	if i := strings.Index(s, generator.CaptchaMarker); i >= 0 {
		reason := strings.TrimSpace(strings.TrimLeft(s[i+len(generator.CaptchaMarker):], ": "))
		if reason == "" {
			reason = "strategist detected a CAPTCHA or bot challenge"
		}
		return NeedsDocument(reason)
	}
	return Output(s)
}
