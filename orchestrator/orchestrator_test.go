package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"adgenius/analysis"
	"adgenius/compliance"
	"adgenius/generator"
	"adgenius/publisher"
	"adgenius/source"
)

const briefReply = "```json\n" + `{"usp": "Fresh coffee in 48 hours.", "audience": "Home baristas", "tone": "Warm", "keywords": ["coffee", "beans", "roastery", "espresso", "delivery"]}` + "\n```"

func draftJSON(headlines []string) string {
	b, _ := json.Marshal(generator.Draft{
		Headlines: headlines,
		Descriptions: []string{
			"Roasted to order and shipped within 48 hours.",
			"Single origin beans from farms we know by name.",
			"Free delivery on your first bag. Cancel anytime.",
			"Join 10,000 home baristas brewing better coffee.",
		},
	})
	return string(b)
}

func validHeadlines() []string {
	var hs []string
	for i := 1; i <= 15; i++ {
		hs = append(hs, fmt.Sprintf("Fresh Coffee Deal %d", i))
	}
	return hs
}

func invalidHeadlines(first string) []string {
	hs := validHeadlines()
	hs[0] = first
	return hs
}

type fakeSource struct {
	content source.RawContent
	calls   int
	mu      sync.Mutex
}

func (f *fakeSource) Acquire(_ context.Context, url string) source.RawContent {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	c := f.content
	c.Origin = url
	return c
}

type fakeOperator struct {
	path  string
	err   error
	calls int
	// llm, when set, lets the test assert the copywriter was not engaged before the operator.
	llm         *generator.MockLLM
	copyAtCalls int
}

func (f *fakeOperator) RequestDocument(context.Context, string) (string, error) {
	f.calls++
	if f.llm != nil {
		f.copyAtCalls = f.llm.Calls(generator.RoleCopywriter)
	}
	return f.path, f.err
}

type failingBackend struct{ calls int }

func (f *failingBackend) Name() string { return "remote" }

func (f *failingBackend) Analyze(context.Context, source.RawContent) analysis.Result {
	f.calls++
	return analysis.Failed(errors.New("engine unreachable"))
}

type failingSink struct{}

func (failingSink) Persist(context.Context, generator.Draft, publisher.Label) (string, error) {
	return "", errors.New("disk full")
}

var scrapedPage = source.RawContent{Text: strings.Repeat("Fresh roasted coffee. ", 40), Provenance: source.Scraped}

type harness struct {
	llm    *generator.MockLLM
	src    *fakeSource
	remote *failingBackend
	outDir string
	deps   Deps
}

// newHarness wires the real agent, local backend, rule gate and CSV sink around a
// scripted model. copy is the sequence of copywriter replies.
func newHarness(t *testing.T, content source.RawContent, strategist string, copy ...string) *harness {
	t.Helper()
	var mu sync.Mutex
	copyIdx := 0
	llm := &generator.MockLLM{Respond: func(p generator.Prompt) (string, error) {
		switch p.Role {
		case generator.RoleStrategist:
			return strategist, nil
		case generator.RoleCopywriter:
			mu.Lock()
			defer mu.Unlock()
			if copyIdx >= len(copy) {
				return copy[len(copy)-1], nil
			}
			copyIdx++
			return copy[copyIdx-1], nil
		}
		return "", fmt.Errorf("unexpected role %s", p.Role)
	}}
	agent, err := generator.NewAgent(llm, nil)
	require.NoError(t, err)

	h := &harness{llm: llm, src: &fakeSource{content: content}, remote: &failingBackend{}, outDir: t.TempDir()}
	h.deps = Deps{
		Source:     h.src,
		Documents:  source.NewDocuments(0, nil),
		Remote:     h.remote,
		Local:      analysis.NewLocal(agent, nil, nil),
		Copywriter: agent,
		Gate:       compliance.Rules{},
		Sink:       publisher.NewCSVSink(h.outDir, nil),
	}
	return h
}

func (h *harness) run(t *testing.T, opts Options, req Request) *Outcome {
	t.Helper()
	o, err := New(h.deps, opts)
	require.NoError(t, err)
	out := o.Run(context.Background(), req)
	require.True(t, out.Final())
	return out
}

func (h *harness) files(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(h.outDir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func states(out *Outcome) []State {
	var s []State
	for _, tr := range out.Transitions {
		s = append(s, tr.To)
	}
	return s
}

func TestRun_SuccessPersists19Rows(t *testing.T) {
	h := newHarness(t, scrapedPage, briefReply, draftJSON(validHeadlines()))
	out := h.run(t, Options{UseRemote: true}, Request{URL: "https://www.example.com"})

	assert.Equal(t, StatusSuccess, out.Status, out.Reason)
	assert.Equal(t, 1, out.Attempts)
	require.NotNil(t, out.Draft)
	assert.Equal(t, "Fresh coffee in 48 hours.", out.Brief.USP)
	assert.Equal(t, []string{"remote:failed", "local:output"}, out.Backends)
	assert.Equal(t, []State{
		StateAcquiringContent, StateAnalyzing, StateBriefReady, StateDrafting,
		StateValidating, StateApproved, StateTerminal,
	}, states(out))

	require.Len(t, out.Artifacts, 1)
	data, err := os.ReadFile(out.Artifacts[0])
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 1+19)
	assert.NotContains(t, out.Artifacts[0], "_FAILED")
	assert.Contains(t, filepath.Base(out.Artifacts[0]), "ads_example.com_")
}

func TestRun_RetryCeilingPartialFailure(t *testing.T) {
	last := draftJSON(invalidHeadlines("LAST TRY"))
	h := newHarness(t, scrapedPage, briefReply,
		draftJSON(invalidHeadlines("BUY NOW!!!")),
		draftJSON(invalidHeadlines("Order today!")),
		last,
		draftJSON(validHeadlines()), // never reached
	)
	out := h.run(t, Options{}, Request{URL: "https://example.com"})

	assert.Equal(t, StatusPartialFailure, out.Status)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, 3, h.llm.Calls(generator.RoleCopywriter))
	require.NotNil(t, out.Draft)
	assert.Equal(t, "LAST TRY", out.Draft.Headlines[0])
	assert.Contains(t, out.Reason, "3 attempts")

	files := h.files(t)
	require.Len(t, files, 1)
	assert.Contains(t, files[0], "_FAILED_")
}

func TestRun_FeedbackOnlyFromPreviousAttempt(t *testing.T) {
	h := newHarness(t, scrapedPage, briefReply,
		draftJSON(invalidHeadlines("FIRST PROBLEM")),
		draftJSON(invalidHeadlines("Second problem!")),
		draftJSON(validHeadlines()),
	)
	out := h.run(t, Options{}, Request{URL: "https://example.com"})
	require.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, 3, out.Attempts)

	var copyPrompts []generator.Prompt
	for _, p := range h.llm.Prompts() {
		if p.Role == generator.RoleCopywriter {
			copyPrompts = append(copyPrompts, p)
		}
	}
	require.Len(t, copyPrompts, 3)
	assert.NotContains(t, copyPrompts[0].User, "Policy Violations")
	assert.Contains(t, copyPrompts[1].User, "Headline #1 'FIRST PROBLEM' has excessive capitalization")
	assert.Contains(t, copyPrompts[2].User, "Headline #1 'Second problem!' contains '!'")
	assert.NotContains(t, copyPrompts[2].User, "has excessive capitalization")
}

func TestRun_BlockedContentFallsBackToDocument(t *testing.T) {
	blocked := source.RawContent{Provenance: source.Blocked, Reason: "access denied (status 403)"}
	h := newHarness(t, blocked, briefReply, draftJSON(validHeadlines()))

	doc := filepath.Join(t.TempDir(), "home page.txt")
	require.NoError(t, os.WriteFile(doc, []byte("Fresh coffee, roasted to order."), 0o644))
	op := &fakeOperator{path: "'" + doc + "'", llm: h.llm}

	out := h.run(t, Options{UseRemote: true}, Request{URL: "https://example.com", Operator: op})
	assert.Equal(t, StatusSuccess, out.Status, out.Reason)
	assert.Equal(t, 1, op.calls)
	assert.Zero(t, op.copyAtCalls)
	assert.Equal(t, 1, h.remote.calls)
	assert.Equal(t, []string{"remote:failed", "local:needs_document", "local:output"}, out.Backends)
	assert.Contains(t, states(out), StateAwaitingDocument)

	var analyzed []generator.Prompt
	for _, p := range h.llm.Prompts() {
		if p.Role == generator.RoleStrategist {
			analyzed = append(analyzed, p)
		}
	}
	require.Len(t, analyzed, 1)
	assert.Contains(t, analyzed[0].User, "supplied by the operator")
}

func TestRun_CaptchaReplyRequestsDocument(t *testing.T) {
	h := newHarness(t, scrapedPage, "CAPTCHA_DETECTED: challenge page", draftJSON(validHeadlines()))
	op := &fakeOperator{err: ErrNoOperator}

	out := h.run(t, Options{}, Request{URL: "https://example.com", Operator: op})
	assert.Equal(t, StatusAborted, out.Status)
	assert.Contains(t, out.Reason, "challenge page")
	assert.Equal(t, 1, op.calls)
	assert.Zero(t, h.llm.Calls(generator.RoleCopywriter))
	assert.Empty(t, h.files(t))
}

func TestRun_UnreadableDocumentAborts(t *testing.T) {
	blocked := source.RawContent{Provenance: source.Blocked, Reason: "content too short"}
	h := newHarness(t, blocked, briefReply, draftJSON(validHeadlines()))
	op := &fakeOperator{path: filepath.Join(t.TempDir(), "missing.pdf")}

	out := h.run(t, Options{}, Request{URL: "https://example.com", Operator: op})
	assert.Equal(t, StatusAborted, out.Status)
	assert.Contains(t, out.Reason, "fallback document unreadable")
	assert.Nil(t, out.Draft)
	assert.Zero(t, h.llm.Calls(generator.RoleCopywriter))
	assert.Empty(t, h.files(t))
}

func TestRun_NoOperatorAborts(t *testing.T) {
	blocked := source.RawContent{Provenance: source.Blocked, Reason: "access denied"}
	h := newHarness(t, blocked, briefReply, draftJSON(validHeadlines()))

	out := h.run(t, Options{}, Request{URL: "https://example.com"})
	assert.Equal(t, StatusAborted, out.Status)
	assert.Contains(t, out.Reason, ErrNoOperator.Error())
}

func TestRun_InvalidBriefAborts(t *testing.T) {
	h := newHarness(t, scrapedPage, "I am not sure what this site sells.", draftJSON(validHeadlines()))
	out := h.run(t, Options{}, Request{URL: "https://example.com"})
	assert.Equal(t, StatusAborted, out.Status)
	assert.True(t, strings.HasPrefix(out.Reason, "invalid brief"))
	assert.Zero(t, h.llm.Calls(generator.RoleCopywriter))
}

func TestRun_UnparseableDraftConsumesAttempt(t *testing.T) {
	h := newHarness(t, scrapedPage, briefReply, "Sorry, here are some ideas: Coffee Now", draftJSON(validHeadlines()))
	out := h.run(t, Options{}, Request{URL: "https://example.com"})
	assert.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, 2, out.Attempts)

	prompts := h.llm.Prompts()
	assert.Contains(t, prompts[len(prompts)-1].User, "Format Error")
}

func TestRun_NoParseableDraftAborts(t *testing.T) {
	h := newHarness(t, scrapedPage, briefReply, "nope")
	out := h.run(t, Options{MaxAttempts: 2}, Request{URL: "https://example.com"})
	assert.Equal(t, StatusAborted, out.Status)
	assert.Equal(t, 2, h.llm.Calls(generator.RoleCopywriter))
	assert.Empty(t, h.files(t))
}

func TestRun_ProtocolViolationAborts(t *testing.T) {
	h := newHarness(t, scrapedPage, briefReply, draftJSON(validHeadlines()))
	reviewer := &generator.MockLLM{Responses: []string{"Looks fine to me"}}
	agent, err := generator.NewAgent(reviewer, nil)
	require.NoError(t, err)
	h.deps.Gate = compliance.NewReviewer(agent, nil)

	out := h.run(t, Options{}, Request{URL: "https://example.com"})
	assert.Equal(t, StatusAborted, out.Status)
	assert.Contains(t, out.Reason, "protocol violation")
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, 1, h.llm.Calls(generator.RoleCopywriter))
	assert.Empty(t, h.files(t))
}

func TestRun_CopywriterErrorAborts(t *testing.T) {
	h := newHarness(t, scrapedPage, briefReply, draftJSON(validHeadlines()))
	h.deps.Copywriter = copywriterFunc(func() (string, error) { return "", errors.New("quota exceeded") })

	out := h.run(t, Options{}, Request{URL: "https://example.com"})
	assert.Equal(t, StatusAborted, out.Status)
	assert.Contains(t, out.Reason, "quota exceeded")
}

type copywriterFunc func() (string, error)

func (f copywriterFunc) Generate(context.Context, generator.Brief, *generator.Draft, string) (string, error) {
	return f()
}

func TestRun_SinkErrorKeepsStatus(t *testing.T) {
	h := newHarness(t, scrapedPage, briefReply, draftJSON(validHeadlines()))
	h.deps.Sink = failingSink{}

	out := h.run(t, Options{}, Request{URL: "https://example.com"})
	assert.Equal(t, StatusSuccess, out.Status)
	assert.Contains(t, out.Reason, "disk full")
	assert.Empty(t, out.Artifacts)
}

func TestRun_RemoteOnlyWhenEnabled(t *testing.T) {
	h := newHarness(t, scrapedPage, briefReply, draftJSON(validHeadlines()))
	out := h.run(t, Options{UseRemote: false}, Request{URL: "https://example.com"})
	assert.Equal(t, StatusSuccess, out.Status)
	assert.Zero(t, h.remote.calls)
	assert.Equal(t, []string{"local:output"}, out.Backends)
}

func TestNew_RequiresDeps(t *testing.T) {
	h := newHarness(t, scrapedPage, briefReply, draftJSON(validHeadlines()))

	d := h.deps
	d.Sink = nil
	_, err := New(d, Options{})
	assert.Error(t, err)

	d = h.deps
	d.Local = nil
	_, err = New(d, Options{})
	assert.Error(t, err)
	_, err = New(d, Options{UseRemote: true})
	assert.NoError(t, err)

	o, err := New(h.deps, Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxAttempts, o.opts.MaxAttempts)
}

func TestRun_ConcurrentRunsAreIndependent(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t, scrapedPage, briefReply, draftJSON(validHeadlines()))
	o, err := New(h.deps, Options{})
	require.NoError(t, err)

	const n = 8
	outs := make([]*Outcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outs[i] = o.Run(context.Background(), Request{URL: fmt.Sprintf("https://site%d.example.com", i%3)})
		}(i)
	}
	wg.Wait()

	ids := map[string]bool{}
	for _, out := range outs {
		assert.Equal(t, StatusSuccess, out.Status)
		ids[out.RunID] = true
	}
	assert.Len(t, ids, n)
	assert.Len(t, h.files(t), n)
	assert.Equal(t, n, h.llm.Calls(generator.RoleStrategist))
}
