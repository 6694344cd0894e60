package analysis

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"adgenius/source"
)

// Kind tags a Result.
type Kind int

const (
	KindOutput Kind = iota
	// KindNeedsDocument asks the operator for a document to substitute for the content.
	KindNeedsDocument
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindOutput:
		return "output"
	case KindNeedsDocument:
		return "needs_document"
	case KindFailed:
		return "failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result 是后端一次分析的类型化结果；模型原始文本只在接收处分类一次。
type Result struct {
	Kind   Kind
	Text   string // KindOutput: raw model text, still to be extracted into a Brief
	Reason string // KindNeedsDocument
	Err    error  // KindFailed
}

func Output(text string) Result         { return Result{Kind: KindOutput, Text: text} }
func NeedsDocument(reason string) Result { return Result{Kind: KindNeedsDocument, Reason: reason} }
func Failed(err error) Result           { return Result{Kind: KindFailed, Err: err} }

// Backend is one analysis strategy. Analyze never panics and never returns a bare error:
// every failure is a KindFailed result.
type Backend interface {
	Name() string
	Analyze(ctx context.Context, content source.RawContent) Result
}

var errNoBackends = errors.New("no analysis backend configured")

// Attempt records one backend invocation.
type Attempt struct {
	Backend string
	Result  Result
}

// Report is the outcome of running a Chain. Index is the position of the backend that
// produced Result, used to Resume after a document has been supplied.
type Report struct {
	Result   Result
	Attempts []Attempt
	Index    int
}

// Chain tries backends in rank order and stops at the first one that produces output or
// asks for a document.
type Chain struct {
	backends []Backend
	logger   *zap.Logger
}

func NewChain(logger *zap.Logger, backends ...Backend) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	var bs []Backend
	for _, b := range backends {
		if b != nil {
			bs = append(bs, b)
		}
	}
	return &Chain{backends: bs, logger: logger.With(zap.String("component", "analysis"))}
}

// Len returns the number of ranked backends.
func (c *Chain) Len() int { return len(c.backends) }

func (c *Chain) Run(ctx context.Context, content source.RawContent) Report {
	return c.from(ctx, 0, content)
}

// Resume continues from the backend at index with substituted content. Backends ranked
// before index are not retried.
func (c *Chain) Resume(ctx context.Context, index int, content source.RawContent) Report {
	return c.from(ctx, index, content)
}

func (c *Chain) from(ctx context.Context, start int, content source.RawContent) Report {
	if start < 0 || start >= len(c.backends) {
		return Report{Result: Failed(errNoBackends), Index: start}
	}

	var (
		rep  Report
		errs []error
	)
	for i := start; i < len(c.backends); i++ {
		b := c.backends[i]
		c.logger.Info("engaging analysis backend", zap.String("backend", b.Name()), zap.Int("rank", i+1))

		res := b.Analyze(ctx, content)
		rep.Attempts = append(rep.Attempts, Attempt{Backend: b.Name(), Result: res})
		rep.Result, rep.Index = res, i

		switch res.Kind {
		case KindOutput:
			return rep
		case KindNeedsDocument:
			c.logger.Warn("backend needs operator document", zap.String("backend", b.Name()), zap.String("reason", res.Reason))
			return rep
		default:
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), res.Err))
			if i+1 < len(c.backends) {
				c.logger.Warn("analysis backend failed, failing over",
					zap.String("backend", b.Name()),
					zap.String("next", c.backends[i+1].Name()),
					zap.Error(res.Err))
			}
		}
	}

	rep.Result = Failed(errors.Join(errs...))
	c.logger.Error("all analysis backends failed", zap.Error(rep.Result.Err))
	return rep
}
