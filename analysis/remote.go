package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"adgenius/generator"
	"adgenius/source"
)

const (
	cloudPlatformScope   = "https://www.googleapis.com/auth/cloud-platform"
	defaultRemoteTimeout = 120 * time.Second
	// DefaultRemoteInputChars 限制发送到远端引擎的内容长度。
	DefaultRemoteInputChars = 30000
)

// ErrRemoteDisabled is returned when no endpoint is configured.
var ErrRemoteDisabled = errors.New("remote analysis engine disabled")

// RemoteConfig describes the managed reasoning engine.
type RemoteConfig struct {
	// Endpoint is the engine resource URL; the backend POSTs to Endpoint + ":query".
	Endpoint string
	// Token is a static bearer token. When empty and UseADC is set, application default
	// credentials are used.
	Token         string
	UseADC        bool
	Timeout       time.Duration
	MaxInputChars int
}

type queryPayload struct {
	Input queryInput `json:"input"`
}

type queryInput struct {
	Input string `json:"input"`
}

type queryResp struct {
	Output json.RawMessage `json:"output"`
	Error  *apiError       `json:"error,omitempty"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Remote queries a managed strategist engine over HTTPS.
type Remote struct {
	cfg    RemoteConfig
	client *http.Client
	tokens oauth2.TokenSource
	logger *zap.Logger
}

func NewRemote(ctx context.Context, cfg RemoteConfig, client *http.Client, logger *zap.Logger) (*Remote, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRemoteTimeout
	}
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = DefaultRemoteInputChars
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var ts oauth2.TokenSource
	switch {
	case cfg.Token != "":
		ts = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"})
	case cfg.UseADC && cfg.Endpoint != "":
		var err error
		ts, err = google.DefaultTokenSource(ctx, cloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("remote engine credentials: %w", err)
		}
	}

	return &Remote{
		cfg:    cfg,
		client: client,
		tokens: ts,
		logger: logger.With(zap.String("component", "remote_backend")),
	}, nil
}

func (r *Remote) Name() string { return "remote" }

func (r *Remote) Analyze(ctx context.Context, content source.RawContent) Result {
	if r.cfg.Endpoint == "" {
		return Failed(ErrRemoteDisabled)
	}
	if !content.Usable() {
		return Failed(fmt.Errorf("content not usable: %s", content.Reason))
	}

	r.logger.Info("invoking remote strategist engine", zap.String("endpoint", r.cfg.Endpoint))
	out, err := r.query(ctx, generator.RemoteAnalysisInput(content.Text, r.cfg.MaxInputChars))
	if err != nil {
		return Failed(err)
	}

	out = strings.TrimSpace(out)
	switch {
	case out == "":
		return Failed(errors.New("remote engine returned empty output"))
	case strings.HasPrefix(out, "Error"):
		return Failed(fmt.Errorf("remote engine reported: %s", firstLine(out)))
	case strings.Contains(out, generator.CaptchaMarker):
		return Failed(errors.New("remote engine could not read the content"))
	}
	return Output(out)
}

func (r *Remote) query(ctx context.Context, input string) (string, error) {
	body, err := json.Marshal(queryPayload{Input: queryInput{Input: input}})
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(r.cfg.Endpoint, "/")+":query", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.tokens != nil {
		tok, err := r.tokens.Token()
		if err != nil {
			return "", fmt.Errorf("remote engine token: %w", err)
		}
		tok.SetAuthHeader(req)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", err
	}

	var data queryResp
	decodeErr := json.Unmarshal(raw, &data)
	if data.Error != nil {
		return "", fmt.Errorf("remote engine error: %d %s %s", data.Error.Code, data.Error.Status, data.Error.Message)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("remote engine status %d: %s", resp.StatusCode, firstLine(string(raw)))
	}
	if decodeErr != nil {
		return "", fmt.Errorf("decode remote response: %w", decodeErr)
	}
	return outputText(data.Output), nil
}

// outputText 输出可能是字符串或任意 JSON；非字符串按原文返回交给结构化提取。
func outputText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if r := []rune(s); len(r) > 200 {
		s = string(r[:200])
	}
	return s
}
