package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"adgenius/orchestrator"
	"adgenius/server"
)

var (
	documentPath string
	batchLimit   int
	serveAddr    string
)

var runCmd = &cobra.Command{
	Use:   "run [url]",
	Short: "Generate ads for one website (prompts for the URL when omitted)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSingle,
}

var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Generate ads for every URL in a file (one per line) concurrently",
	Long: `Runs are independent and non-interactive: a website that needs a fallback
document is aborted instead of prompting.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServe,
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the websites listed under schedules: on their cron specs",
	RunE:  runSchedule,
}

func init() {
	runCmd.Flags().StringVar(&documentPath, "document", "", "fallback document to use without prompting if the website is blocked")
	batchCmd.Flags().IntVar(&batchLimit, "concurrency", 0, "max concurrent runs (default from config)")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
}

func runSingle(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prompt := newPromptOperator(cmd.InOrStdin(), cmd.OutOrStdout())
	var operator orchestrator.Operator = prompt
	if documentPath != "" {
		operator = presetOperator(documentPath)
	}

	a, err := loadApp(ctx, operator)
	if err != nil {
		return err
	}
	defer a.Close()

	var url string
	if len(args) == 1 {
		url = normalizeURL(args[0])
	} else if url, err = prompt.AskURL(ctx); err != nil {
		return err
	}

	out := a.orch.Run(ctx, orchestrator.Request{URL: url})
	printOutcome(cmd.OutOrStdout(), out)
	if code := exitCodeFor(out.Status, strict); code != 0 {
		return exitError(code)
	}
	return nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	urls, err := readURLs(args[0])
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := loadApp(ctx, presetOperator(""))
	if err != nil {
		return err
	}
	defer a.Close()

	limit := batchLimit
	if limit <= 0 {
		limit = a.cfg.Batch.Concurrency
	}

	outs := make([]*orchestrator.Outcome, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, u := range urls {
		g.Go(func() error {
			outs[i] = a.orch.Run(gctx, orchestrator.Request{URL: u})
			return nil
		})
	}
	_ = g.Wait()

	code := 0
	for _, out := range outs {
		printOutcome(cmd.OutOrStdout(), out)
		if c := exitCodeFor(out.Status, strict); c > code {
			code = c
		}
	}
	logger.Info("batch finished", zap.Int("runs", len(outs)))
	if code != 0 {
		return exitError(code)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd.Context(), presetOperator(""))
	if err != nil {
		return err
	}
	defer a.Close()

	srv, err := server.New(a.orch, server.Options{
		RateLimit:      a.cfg.Server.RateLimit,
		RateBurst:      a.cfg.Server.RateBurst,
		MaxConcurrency: a.cfg.Server.MaxConcurrency,
		DocumentsDir:   a.cfg.Server.DocumentsDir,
		TrustProxy:     a.cfg.Server.TrustProxy,
	}, logger)
	if err != nil {
		return err
	}

	listen := a.cfg.Server.Addr
	if serveAddr != "" {
		listen = serveAddr
	}
	httpServer := &http.Server{
		Addr:              listen,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting web server", zap.String("addr", listen))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return srv.Close(shutdownCtx)
}

func runSchedule(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := loadApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()
	if len(a.cfg.Schedules) == 0 {
		return errors.New("no schedules configured")
	}

	c := cron.New()
	for _, s := range a.cfg.Schedules {
		if _, err := c.AddFunc(s.Spec, func() {
			out := a.orch.Run(ctx, orchestrator.Request{URL: normalizeURL(s.URL), Operator: presetOperator(s.DocumentPath)})
			logger.Info("scheduled run finished",
				zap.String("url", s.URL),
				zap.String("status", string(out.Status)),
				zap.String("reason", out.Reason))
		}); err != nil {
			return fmt.Errorf("schedule %q: %w", s.Spec, err)
		}
		logger.Info("scheduled website", zap.String("url", s.URL), zap.String("spec", s.Spec))
	}

	c.Start()
	<-ctx.Done()
	logger.Info("stopping scheduler")
	<-c.Stop().Done()
	return nil
}

// readURLs reads one URL per line, skipping blanks and # comments.
func readURLs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var urls []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, normalizeURL(line))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("%s: no URLs", path)
	}
	return urls, nil
}

func printOutcome(w io.Writer, out *orchestrator.Outcome) {
	fmt.Fprintf(w, "%s\t%s\tattempts=%d", out.Target, out.Status, out.Attempts)
	for _, a := range out.Artifacts {
		fmt.Fprintf(w, "\t%s", a)
	}
	if out.Reason != "" {
		fmt.Fprintf(w, "\treason=%q", out.Reason)
	}
	fmt.Fprintln(w)
}
