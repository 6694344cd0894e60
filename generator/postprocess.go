package generator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ErrNoRecord is returned when no JSON document could be recovered from model output.
var ErrNoRecord = errors.New("no structured record found in model output")

var markdown = goldmark.New()

// ExtractJSON decodes the first JSON document it can recover from free-form model output
// into v. Candidates are tried in order: fenced code blocks, the first balanced {...}
// span, then the whole text. It reports whether any candidate decoded.
func ExtractJSON(raw string, v any) bool {
	for _, c := range candidates(raw) {
		if json.Unmarshal(c, v) == nil {
			return true
		}
	}
	return false
}

// ParseBrief 从模型输出中提取 Brief 并校验。
func ParseBrief(raw string) (*Brief, error) {
	var lastErr error
	for _, c := range candidates(raw) {
		var b Brief
		if err := json.Unmarshal(c, &b); err != nil {
			continue
		}
		if err := b.Validate(); err != nil {
			lastErr = err
			continue
		}
		return &b, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("invalid brief: %w", lastErr)
	}
	return nil, ErrNoRecord
}

// ParseDraft 从模型输出中提取 Draft。
func ParseDraft(raw string) (*Draft, error) {
	var lastErr error
	for _, c := range candidates(raw) {
		var d Draft
		if err := json.Unmarshal(c, &d); err != nil {
			continue
		}
		if err := d.Validate(); err != nil {
			lastErr = err
			continue
		}
		return &d, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("invalid draft: %w", lastErr)
	}
	return nil, ErrNoRecord
}

func candidates(raw string) [][]byte {
	src := []byte(strings.TrimSpace(raw))
	if len(src) == 0 {
		return nil
	}
	out := fencedBlocks(src)
	if span := firstBraceSpan(src); span != nil {
		out = append(out, span)
	}
	return append(out, src)
}

// fencedBlocks returns the interiors of fenced code blocks in document order.
func fencedBlocks(src []byte) [][]byte {
	doc := markdown.Parser().Parse(text.NewReader(src))
	var blocks [][]byte
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		fb, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}
		var buf bytes.Buffer
		lines := fb.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			buf.Write(seg.Value(src))
		}
		if body := bytes.TrimSpace(buf.Bytes()); len(body) > 0 {
			blocks = append(blocks, body)
		}
		return ast.WalkSkipChildren, nil
	})
	return blocks
}

// firstBraceSpan returns the first balanced top-level {...} span, ignoring braces inside
// JSON strings. Nil if the first opening brace is never closed.
func firstBraceSpan(src []byte) []byte {
	start := bytes.IndexByte(src, '{')
	if start < 0 {
		return nil
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(src); i++ {
		c := src[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return src[start : i+1]
			}
		}
	}
	return nil
}
