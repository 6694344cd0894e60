package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"adgenius/orchestrator"
)

// promptOperator 在终端阻塞等待操作员输入。
type promptOperator struct {
	in  *bufio.Reader
	out io.Writer
}

func newPromptOperator(in io.Reader, out io.Writer) *promptOperator {
	return &promptOperator{in: bufio.NewReader(in), out: out}
}

// readLine blocks for one line; ctx cancellation is honoured between prompts only.
func (p *promptOperator) readLine(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Fprint(p.out, prompt)
	line, err := p.in.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return "", err
		}
		if strings.TrimSpace(line) == "" {
			return "", orchestrator.ErrNoOperator
		}
	}
	return strings.TrimSpace(line), nil
}

// AskURL asks for the target website once.
func (p *promptOperator) AskURL(ctx context.Context) (string, error) {
	u, err := p.readLine(ctx, "Target website URL: ")
	if err != nil {
		return "", err
	}
	if u = normalizeURL(u); u == "" {
		return "", errors.New("no URL given")
	}
	return u, nil
}

// normalizeURL trims the input and defaults a bare host to https.
func normalizeURL(raw string) string {
	u := strings.TrimSpace(raw)
	if u != "" && !strings.Contains(u, "://") {
		u = "https://" + u
	}
	return u
}

func (p *promptOperator) RequestDocument(ctx context.Context, reason string) (string, error) {
	fmt.Fprintf(p.out, "\nAutomated access to the website failed: %s\n", reason)
	path, err := p.readLine(ctx, "Please provide the path to a PDF/HTML/text export of the homepage: ")
	if err != nil {
		return "", err
	}
	if path == "" {
		return "", orchestrator.ErrNoOperator
	}
	return path, nil
}

// presetOperator answers with a path given on the command line or in config. An empty
// path means nobody can answer.
type presetOperator string

func (p presetOperator) RequestDocument(context.Context, string) (string, error) {
	if p == "" {
		return "", orchestrator.ErrNoOperator
	}
	return string(p), nil
}
