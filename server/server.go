package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"adgenius/orchestrator"
)

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context, req orchestrator.Request) *orchestrator.Outcome
}

// Options tune the HTTP surface.
type Options struct {
	RateLimit      float64
	RateBurst      int
	MaxConcurrency int
	// DocumentsDir is the only directory document_path may point into. Empty disables
	// fallback documents over HTTP.
	DocumentsDir string
	// TrustProxy keys the rate limiter on X-Forwarded-For instead of the peer address.
	TrustProxy bool
}

type Server struct {
	runner  Runner
	store   *runStore
	limiter *rateLimiter
	sem     chan struct{}
	docsDir string
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RunRecord 是一次 HTTP 触发的运行；Outcome 在运行结束前为空。
type RunRecord struct {
	ID           string                `json:"id"`
	URL          string                `json:"url"`
	DocumentPath string                `json:"document_path,omitempty"`
	State        string                `json:"state"`
	CreatedAt    time.Time             `json:"created_at"`
	Outcome      *orchestrator.Outcome `json:"outcome,omitempty"`
}

const (
	recordQueued  = "queued"
	recordRunning = "running"
	recordDone    = "done"
)

type runStore struct {
	mu   sync.Mutex
	runs map[string]*RunRecord
}

func newStore() *runStore {
	return &runStore{runs: make(map[string]*RunRecord)}
}

func (s *runStore) set(rec *RunRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[rec.ID] = rec
}

func (s *runStore) update(id string, fn func(*RunRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.runs[id]; ok {
		fn(rec)
	}
}

// get returns a copy so callers never race with the run goroutine.
func (s *runStore) get(id string) (RunRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.runs[id]
	if !ok {
		return RunRecord{}, false
	}
	return *rec, true
}

func (s *runStore) list() []RunRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RunRecord, 0, len(s.runs))
	for _, rec := range s.runs {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func New(runner Runner, opts Options, logger *zap.Logger) (*Server, error) {
	if runner == nil {
		return nil, errors.New("runner required")
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		runner:  runner,
		store:   newStore(),
		limiter: newRateLimiter(opts.RateLimit, opts.RateBurst, opts.TrustProxy),
		sem:     make(chan struct{}, opts.MaxConcurrency),
		docsDir: opts.DocumentsDir,
		logger:  logger.With(zap.String("component", "server")),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.limiter.middleware)
	api.HandleFunc("/runs", s.handleRunCreate).Methods(http.MethodPost)
	api.HandleFunc("/runs", s.handleRunList).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}", s.handleRunByID).Methods(http.MethodGet)
	return s.logMiddleware(r)
}

// Close cancels in-flight runs and waits for them to finish.
func (s *Server) Close(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --- Handlers ---

type runCreateReq struct {
	URL          string `json:"url"`
	DocumentPath string `json:"document_path"`
	// Wait blocks the request until the run is finished.
	Wait bool `json:"wait"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRunCreate(w http.ResponseWriter, r *http.Request) {
	var req runCreateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if !validURL(req.URL) {
		writeError(w, http.StatusBadRequest, "url must be an absolute http(s) URL")
		return
	}
	if req.DocumentPath != "" {
		doc, err := resolveDocument(s.docsDir, req.DocumentPath)
		if err != nil {
			s.logger.Warn("document rejected", zap.String("document_path", req.DocumentPath), zap.Error(err))
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.DocumentPath = doc
	}

	rec := &RunRecord{
		ID:           uuid.NewString(),
		URL:          req.URL,
		DocumentPath: req.DocumentPath,
		State:        recordQueued,
		CreatedAt:    time.Now(),
	}
	s.store.set(rec)
	s.logger.Info("run accepted", zap.String("id", rec.ID), zap.String("url", rec.URL))

	if req.Wait {
		s.execute(r.Context(), rec.ID, req)
		got, _ := s.store.get(rec.ID)
		writeJSON(w, http.StatusOK, got)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(s.ctx, rec.ID, req)
	}()
	got, _ := s.store.get(rec.ID)
	writeJSON(w, http.StatusAccepted, got)
}

func (s *Server) handleRunList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.list())
}

func (s *Server) handleRunByID(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, ok := s.store.get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) execute(ctx context.Context, id string, req runCreateReq) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		s.store.update(id, func(rec *RunRecord) {
			rec.State = recordDone
			rec.Outcome = &orchestrator.Outcome{Target: req.URL, Status: orchestrator.StatusAborted, Reason: ctx.Err().Error()}
		})
		return
	}
	defer func() { <-s.sem }()

	s.store.update(id, func(rec *RunRecord) { rec.State = recordRunning })
	out := s.runner.Run(ctx, orchestrator.Request{URL: req.URL, Operator: documentOperator(req.DocumentPath)})
	s.store.update(id, func(rec *RunRecord) {
		rec.State = recordDone
		rec.Outcome = out
	})
	s.logger.Info("run finished", zap.String("id", id), zap.String("status", string(out.Status)))
}

// documentOperator answers document requests with a path given up front.
type documentOperator string

func (d documentOperator) RequestDocument(context.Context, string) (string, error) {
	if d == "" {
		return "", orchestrator.ErrNoOperator
	}
	return string(d), nil
}

// --- Helpers ---

var (
	errDocumentsDisabled = errors.New("document_path is not accepted: no documents directory configured")
	errDocumentEscapes   = errors.New("document_path must name a file inside the documents directory")
)

// resolveDocument maps a client-supplied path onto a regular file under root. Paths are
// checked through os.Root, so ".." segments and symlinks leading out of root are refused.
func resolveDocument(root, p string) (string, error) {
	if root == "" {
		return "", errDocumentsDisabled
	}
	base, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	rel := filepath.Clean(p)
	if filepath.IsAbs(rel) {
		if rel, err = filepath.Rel(base, rel); err != nil {
			return "", errDocumentEscapes
		}
	}
	if !filepath.IsLocal(rel) {
		return "", errDocumentEscapes
	}

	r, err := os.OpenRoot(base)
	if err != nil {
		return "", fmt.Errorf("documents directory: %w", err)
	}
	defer r.Close()
	info, err := r.Stat(rel)
	if err != nil {
		return "", errDocumentEscapes
	}
	if !info.Mode().IsRegular() {
		return "", errDocumentEscapes
	}
	return filepath.Join(base, rel), nil
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)))
	})
}
