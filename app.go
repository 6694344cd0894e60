package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"adgenius/analysis"
	"adgenius/compliance"
	"adgenius/config"
	"adgenius/generator"
	"adgenius/orchestrator"
	"adgenius/publisher"
	"adgenius/source"
)

// app bundles the wired pipeline and the resources to release on exit.
type app struct {
	cfg     *config.Config
	orch    *orchestrator.Orchestrator
	closers []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

func loadApp(ctx context.Context, operator orchestrator.Operator) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return buildApp(ctx, cfg, operator, logger)
}

func buildApp(ctx context.Context, cfg *config.Config, operator orchestrator.Operator, logger *zap.Logger) (*app, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &app{cfg: cfg}

	llm, err := generator.NewLLM(ctx, &generator.LLMSettings{
		Provider: cfg.LLM.Provider,
		Model:    cfg.LLM.Model,
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.BaseURL,
	})
	if err != nil {
		return nil, err
	}
	agent, err := generator.NewAgent(llm, logger)
	if err != nil {
		return nil, err
	}

	fetcher := source.NewFetcher(source.FetchConfig{
		Timeout:         cfg.FetchTimeout(),
		UserAgent:       cfg.Fetch.UserAgent,
		BlockedStatuses: cfg.Fetch.BlockedStatuses,
		MinContentChars: cfg.Fetch.MinContentChars,
		MaxContentChars: cfg.Fetch.MaxContentChars,
	}, nil, logger)

	var remote analysis.Backend
	if cfg.Analysis.UseRemote {
		r, err := analysis.NewRemote(ctx, analysis.RemoteConfig{
			Endpoint:      cfg.Analysis.RemoteEndpoint,
			Token:         cfg.Analysis.RemoteToken,
			UseADC:        cfg.Analysis.UseADC,
			Timeout:       cfg.RemoteTimeout(),
			MaxInputChars: cfg.Analysis.MaxInputChars,
		}, nil, logger)
		if err != nil {
			return nil, err
		}
		remote = r
	}

	var gate compliance.Gate = compliance.Rules{}
	if cfg.Compliance.Mode == "agent" {
		gate = compliance.NewReviewer(agent, logger)
	}

	sink, err := a.buildSink(ctx, cfg, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	orch, err := orchestrator.New(orchestrator.Deps{
		Source:     fetcher,
		Documents:  source.NewDocuments(cfg.Fetch.MaxContentChars, logger),
		Remote:     remote,
		Local:      analysis.NewLocal(agent, fetcher, logger),
		Copywriter: agent,
		Gate:       gate,
		Sink:       sink,
		Operator:   operator,
		Logger:     logger,
	}, orchestrator.Options{
		MaxAttempts: cfg.Generation.MaxAttempts,
		UseRemote:   cfg.Analysis.UseRemote,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.orch = orch
	return a, nil
}

func (a *app) buildSink(ctx context.Context, cfg *config.Config, logger *zap.Logger) (publisher.Sink, error) {
	sinks := publisher.Multi{publisher.NewCSVSink(cfg.Output.Dir, logger)}

	if cfg.Output.GCS.Bucket != "" {
		gcs, err := publisher.NewGCSSink(ctx, cfg.Output.GCS.Bucket, cfg.Output.GCS.Prefix, logger)
		if err != nil {
			return nil, fmt.Errorf("gcs sink: %w", err)
		}
		a.closers = append(a.closers, gcs.Close)
		sinks = append(sinks, gcs)
	}
	if cfg.Output.Kafka.Broker != "" {
		k := publisher.NewKafkaSink(cfg.Output.Kafka.Broker, cfg.Output.Kafka.Topic, logger)
		a.closers = append(a.closers, k.Close)
		sinks = append(sinks, k)
	}
	return sinks, nil
}

// exitCodeFor maps an outcome to the process exit code. Without --strict every outcome
// exits 0.
func exitCodeFor(status orchestrator.Status, strict bool) int {
	if !strict {
		return 0
	}
	switch status {
	case orchestrator.StatusAborted:
		return 1
	case orchestrator.StatusPartialFailure:
		return 2
	default:
		return 0
	}
}
