package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"adgenius/analysis"
	"adgenius/compliance"
	"adgenius/generator"
	"adgenius/publisher"
	"adgenius/source"
)

// DefaultMaxAttempts caps copywriter invocations per run.
const DefaultMaxAttempts = 3

// ErrNoOperator is returned by operators that cannot supply a document.
var ErrNoOperator = errors.New("no operator available to supply a document")

// ContentSource fetches website content.
type ContentSource interface {
	Acquire(ctx context.Context, url string) source.RawContent
}

// DocumentSource extracts text from an operator-supplied file.
type DocumentSource interface {
	Extract(path string) (source.RawContent, error)
}

// Copywriter drafts ad assets. prev and feedback are nil/empty on the first attempt.
type Copywriter interface {
	Generate(ctx context.Context, brief generator.Brief, prev *generator.Draft, feedback string) (string, error)
}

// Operator is the suspension point for human input. RequestDocument blocks until the
// operator answers with a document path.
type Operator interface {
	RequestDocument(ctx context.Context, reason string) (string, error)
}

// Deps are the collaborators of a run. Remote may be nil.
type Deps struct {
	Source     ContentSource
	Documents  DocumentSource
	Remote     analysis.Backend
	Local      analysis.Backend
	Copywriter Copywriter
	Gate       compliance.Gate
	Sink       publisher.Sink
	Operator   Operator
	Logger     *zap.Logger
}

// Options is the per-orchestrator run configuration.
type Options struct {
	MaxAttempts int
	// UseRemote ranks the remote backend ahead of the local one.
	UseRemote bool
}

// Request starts one run. Operator overrides Deps.Operator for this run only.
type Request struct {
	URL      string
	Operator Operator
}

// Orchestrator drives runs through the state machine. It holds no per-run state, so one
// value may serve concurrent runs.
type Orchestrator struct {
	deps   Deps
	opts   Options
	logger *zap.Logger
}

func New(deps Deps, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Source == nil:
		return nil, errors.New("orchestrator: content source is required")
	case deps.Documents == nil:
		return nil, errors.New("orchestrator: document source is required")
	case deps.Local == nil && (deps.Remote == nil || !opts.UseRemote):
		return nil, errors.New("orchestrator: at least one analysis backend is required")
	case deps.Copywriter == nil:
		return nil, errors.New("orchestrator: copywriter is required")
	case deps.Gate == nil:
		return nil, errors.New("orchestrator: compliance gate is required")
	case deps.Sink == nil:
		return nil, errors.New("orchestrator: result sink is required")
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{deps: deps, opts: opts, logger: logger.With(zap.String("component", "orchestrator"))}, nil
}

func (o *Orchestrator) chain(logger *zap.Logger) *analysis.Chain {
	var backends []analysis.Backend
	if o.opts.UseRemote && o.deps.Remote != nil {
		backends = append(backends, o.deps.Remote)
	}
	if o.deps.Local != nil {
		backends = append(backends, o.deps.Local)
	}
	return analysis.NewChain(logger, backends...)
}

// Run executes one run to completion. It never panics on collaborator failure; every
// failure ends in an Outcome.
func (o *Orchestrator) Run(ctx context.Context, req Request) *Outcome {
	r := &run{
		o:        o,
		operator: req.Operator,
		out: &Outcome{
			RunID:     uuid.NewString(),
			Target:    req.URL,
			StartedAt: time.Now(),
		},
	}
	if r.operator == nil {
		r.operator = o.deps.Operator
	}
	r.logger = o.logger.With(zap.String("run", r.out.RunID), zap.String("url", req.URL))
	r.execute(ctx)
	return r.out
}

// run holds the mutable state of a single run.
type run struct {
	o        *Orchestrator
	operator Operator
	out      *Outcome
	state    State
	logger   *zap.Logger
}

func (r *run) enter(to State, note string) {
	r.out.Transitions = append(r.out.Transitions, Transition{From: r.state, To: to, At: time.Now(), Note: note})
	r.logger.Debug("state transition", zap.String("from", string(r.state)), zap.String("to", string(to)), zap.String("note", note))
	r.state = to
}

func (r *run) execute(ctx context.Context) {
	d := r.o.deps
	r.logger.Info("run started", zap.Int("max_attempts", r.o.opts.MaxAttempts), zap.Bool("use_remote", r.o.opts.UseRemote))

	// 1. 获取内容
	r.enter(StateAcquiringContent, "")
	content := d.Source.Acquire(ctx, r.out.Target)
	r.enter(StateAnalyzing, string(content.Provenance))

	// 2. 分析（主备切换 + 文档兜底）
	chain := r.o.chain(r.logger)
	r.logger.Info("analyzing content", zap.Int("backends", chain.Len()), zap.String("provenance", string(content.Provenance)))
	rep := chain.Run(ctx, content)
	r.recordAnalysis(rep)

	if rep.Result.Kind == analysis.KindNeedsDocument {
		doc, ok := r.awaitDocument(ctx, rep.Result.Reason)
		if !ok {
			return
		}
		r.enter(StateAnalyzing, "resume with document")
		rep = chain.Resume(ctx, rep.Index, doc)
		r.recordAnalysis(rep)
		if rep.Result.Kind == analysis.KindNeedsDocument {
			r.abort(fmt.Sprintf("document content rejected by analysis: %s", rep.Result.Reason))
			return
		}
	}
	if rep.Result.Kind == analysis.KindFailed {
		r.abort(fmt.Sprintf("analysis failed: %v", rep.Result.Err))
		return
	}

	brief, err := generator.ParseBrief(rep.Result.Text)
	if err != nil {
		r.abort(fmt.Sprintf("invalid brief: %v", err))
		return
	}
	r.out.Brief = brief
	r.enter(StateBriefReady, "")
	r.logger.Info("strategy brief generated", zap.String("usp", preview(brief.USP, 50)), zap.Strings("keywords", brief.Keywords))

	// 3. 生成 → 校验 → 修复
	r.draftLoop(ctx, *brief)
}

func (r *run) awaitDocument(ctx context.Context, reason string) (source.RawContent, bool) {
	r.enter(StateAwaitingDocument, reason)
	r.logger.Warn("human intervention required", zap.String("reason", reason))

	if r.operator == nil {
		r.abort(fmt.Sprintf("content unavailable (%s): %v", reason, ErrNoOperator))
		return source.RawContent{}, false
	}
	path, err := r.operator.RequestDocument(ctx, reason)
	if err != nil {
		r.abort(fmt.Sprintf("content unavailable (%s): %v", reason, err))
		return source.RawContent{}, false
	}
	doc, err := r.o.deps.Documents.Extract(path)
	if err != nil {
		r.abort(fmt.Sprintf("fallback document unreadable: %v", err))
		return source.RawContent{}, false
	}
	r.logger.Info("resuming analysis with document", zap.String("path", doc.Origin), zap.Int("chars", len([]rune(doc.Text))))
	return doc, true
}

func (r *run) draftLoop(ctx context.Context, brief generator.Brief) {
	d := r.o.deps
	limit := r.o.opts.MaxAttempts

	var (
		working  *generator.Draft
		feedback string
	)
	for attempt := 1; attempt <= limit; attempt++ {
		r.enter(StateDrafting, fmt.Sprintf("attempt %d/%d", attempt, limit))
		r.out.Attempts = attempt
		if attempt == 1 {
			r.logger.Info("engaging copywriter")
		} else {
			r.logger.Info("requesting repaired draft", zap.Int("attempt", attempt))
		}

		raw, err := d.Copywriter.Generate(ctx, brief, working, feedback)
		if err != nil {
			r.abort(fmt.Sprintf("copywriter failed: %v", err))
			return
		}

		draft, err := generator.ParseDraft(raw)
		if err != nil {
			// 无法解析：结构性反馈，消耗本次尝试，保留上一份可用稿件。
			feedback = structuralFeedback(err)
			r.logger.Warn("draft could not be parsed", zap.Int("attempt", attempt), zap.Error(err))
			r.enter(StateRepairing, "unparseable draft")
			continue
		}
		working = draft

		r.enter(StateValidating, "")
		r.logger.Info("compliance check", zap.Int("attempt", attempt), zap.Int("max", limit))
		verdict, err := d.Gate.Check(ctx, *draft)
		if err != nil {
			var pe *compliance.ProtocolError
			if errors.As(err, &pe) {
				r.abort(fmt.Sprintf("protocol violation: %v", err))
			} else {
				r.abort(fmt.Sprintf("compliance check failed: %v", err))
			}
			return
		}

		if verdict.Approved {
			r.enter(StateApproved, "")
			r.logger.Info("validation passed, assets approved", zap.Int("attempt", attempt))
			r.finish(ctx, StatusSuccess, "", draft, true)
			return
		}

		feedback = verdict.Feedback
		r.logger.Warn("compliance issues detected",
			zap.Int("attempt", attempt),
			zap.Int("violations", len(verdict.Violations)))
		r.enter(StateRepairing, fmt.Sprintf("%d violations", len(verdict.Violations)))
	}

	if working == nil {
		r.abort(fmt.Sprintf("no parseable draft after %d attempts", limit))
		return
	}
	r.logger.Error("max attempts exceeded, saving unapproved draft for review", zap.Int("attempts", limit))
	r.finish(ctx, StatusPartialFailure, fmt.Sprintf("compliance not satisfied after %d attempts", limit), working, false)
}

func (r *run) finish(ctx context.Context, status Status, reason string, draft *generator.Draft, approved bool) {
	r.out.Status = status
	r.out.Reason = reason
	r.out.Draft = draft

	artifact, err := r.o.deps.Sink.Persist(context.WithoutCancel(ctx), *draft, publisher.Label{Target: r.out.Target, Approved: approved})
	if artifact != "" {
		r.out.Artifacts = append(r.out.Artifacts, artifact)
	}
	if err != nil {
		r.logger.Error("persist failed", zap.Error(err))
		if r.out.Reason != "" {
			r.out.Reason += "; "
		}
		r.out.Reason += fmt.Sprintf("persist failed: %v", err)
	}

	r.enter(StateTerminal, string(status))
	r.out.FinishedAt = time.Now()
	r.logger.Info("run finished",
		zap.String("status", string(status)),
		zap.Int("attempts", r.out.Attempts),
		zap.Strings("artifacts", r.out.Artifacts))
}

func (r *run) abort(reason string) {
	r.out.Status = StatusAborted
	r.out.Reason = reason
	r.out.Draft = nil
	r.enter(StateTerminal, string(StatusAborted))
	r.out.FinishedAt = time.Now()
	r.logger.Error("run aborted", zap.String("reason", reason))
}

func (r *run) recordAnalysis(rep analysis.Report) {
	r.out.Analysis = append(r.out.Analysis, rep.Attempts...)
	for _, a := range rep.Attempts {
		r.out.Backends = append(r.out.Backends, a.Backend+":"+a.Result.Kind.String())
	}
}

func structuralFeedback(err error) string {
	return fmt.Sprintf("Format Error:\nThe previous output could not be used (%v). "+
		"Return strict JSON only, with a \"headlines\" array of %d strings and a \"descriptions\" array of %d strings.",
		err, generator.HeadlineCount, generator.DescriptionCount)
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
