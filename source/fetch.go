package source

import (
	"context"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultTimeout   = 15 * time.Second
	maxBodyBytes     = 2 << 20
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// FetchConfig 控制抓取行为；零值字段使用默认值。
type FetchConfig struct {
	Timeout         time.Duration
	UserAgent       string
	BlockedStatuses []int
	MinContentChars int
	MaxContentChars int
}

func (c FetchConfig) withDefaults() FetchConfig {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if len(c.BlockedStatuses) == 0 {
		c.BlockedStatuses = []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusInternalServerError}
	}
	if c.MinContentChars <= 0 {
		c.MinContentChars = DefaultMinContentChars
	}
	if c.MaxContentChars <= 0 {
		c.MaxContentChars = DefaultMaxContentChars
	}
	return c
}

// Fetcher acquires website content over HTTP. Every failure mode is reported as a Blocked
// RawContent; Acquire never returns an error.
type Fetcher struct {
	cfg     FetchConfig
	client  *http.Client
	logger  *zap.Logger
	blocked map[int]bool
}

func NewFetcher(cfg FetchConfig, client *http.Client, logger *zap.Logger) *Fetcher {
	cfg = cfg.withDefaults()
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	set := make(map[int]bool, len(cfg.BlockedStatuses))
	for _, s := range cfg.BlockedStatuses {
		set[s] = true
	}
	return &Fetcher{
		cfg:     cfg,
		client:  client,
		logger:  logger.With(zap.String("component", "fetcher")),
		blocked: set,
	}
}

// Acquire fetches url and returns its visible text, or a Blocked result with a reason.
func (f *Fetcher) Acquire(ctx context.Context, url string) RawContent {
	f.logger.Info("fetching website", zap.String("url", url))

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return f.block(url, "invalid url: %v", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return f.block(url, "connection error: %v", err)
	}
	defer resp.Body.Close()

	if f.blocked[resp.StatusCode] {
		return f.block(url, "access denied (status %d)", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return f.block(url, "unexpected status %d", resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, maxBodyBytes)
	var text string
	if isHTML(resp.Header.Get("Content-Type")) {
		text, err = visibleText(body)
	} else {
		var b []byte
		b, err = io.ReadAll(body)
		text = collapse(string(b))
	}
	if err != nil {
		return f.block(url, "read body: %v", err)
	}

	if n := len([]rune(text)); n < f.cfg.MinContentChars {
		return f.block(url, "content too short (%d chars), likely a bot challenge", n)
	}

	text = truncate(text, f.cfg.MaxContentChars)
	f.logger.Info("website fetched", zap.String("url", url), zap.Int("chars", len([]rune(text))))
	return RawContent{Text: text, Provenance: Scraped, Origin: url}
}

func (f *Fetcher) block(url, format string, args ...any) RawContent {
	c := blocked(url, format, args...)
	f.logger.Warn("website blocked", zap.String("url", url), zap.String("reason", c.Reason))
	return c
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(contentType, "html")
	}
	return mt == "text/html" || mt == "application/xhtml+xml"
}
