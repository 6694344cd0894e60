package source

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

// ExtractionError 表示操作员提供的文档无法读取或为空。
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract document %q: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

var errEmptyDocument = errors.New("document contains no text")

// Documents extracts text from operator-supplied files (PDF, HTML or plain text).
type Documents struct {
	maxChars int
	logger   *zap.Logger
}

func NewDocuments(maxChars int, logger *zap.Logger) *Documents {
	if maxChars <= 0 {
		maxChars = DefaultMaxContentChars
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Documents{maxChars: maxChars, logger: logger.With(zap.String("component", "documents"))}
}

// Extract reads the document at path. The path is cleaned of quoting left by terminals and
// drag-and-drop before use.
func (d *Documents) Extract(path string) (RawContent, error) {
	path = CleanPath(path)
	if path == "" {
		return RawContent{}, &ExtractionError{Path: path, Err: errors.New("empty path")}
	}
	d.logger.Info("reading document", zap.String("path", path))

	var (
		text string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		text, err = pdfText(path)
	case ".html", ".htm":
		text, err = htmlText(path)
	default:
		text, err = plainText(path)
	}
	if err != nil {
		return RawContent{}, &ExtractionError{Path: path, Err: err}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return RawContent{}, &ExtractionError{Path: path, Err: errEmptyDocument}
	}

	text = truncate(text, d.maxChars)
	d.logger.Info("document read", zap.String("path", path), zap.Int("chars", len([]rune(text))))
	return RawContent{Text: text, Provenance: Document, Origin: path}, nil
}

// CleanPath strips surrounding whitespace, matching quotes and backslash-escaped spaces.
func CleanPath(p string) string {
	p = strings.TrimSpace(p)
	if len(p) >= 2 {
		if (p[0] == '\'' && p[len(p)-1] == '\'') || (p[0] == '"' && p[len(p)-1] == '"') {
			p = strings.TrimSpace(p[1 : len(p)-1])
		}
	}
	return strings.ReplaceAll(p, `\ `, " ")
}

func pdfText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		t, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		sb.WriteString(t)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func htmlText(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return visibleText(bytes.NewReader(b))
}

func plainText(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", errors.New("document is not valid UTF-8 text")
	}
	return string(b), nil
}
