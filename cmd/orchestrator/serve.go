package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nictes1/automatizacion-ai-sub000/internal/broker"
	"github.com/nictes1/automatizacion-ai-sub000/internal/canary"
	"github.com/nictes1/automatizacion-ai-sub000/internal/config"
	"github.com/nictes1/automatizacion-ai-sub000/internal/extractor"
	"github.com/nictes1/automatizacion-ai-sub000/internal/httpapi"
	"github.com/nictes1/automatizacion-ai-sub000/internal/legacy"
	"github.com/nictes1/automatizacion-ai-sub000/internal/llm"
	"github.com/nictes1/automatizacion-ai-sub000/internal/manifest"
	"github.com/nictes1/automatizacion-ai-sub000/internal/nlg"
	"github.com/nictes1/automatizacion-ai-sub000/internal/observability"
	"github.com/nictes1/automatizacion-ai-sub000/internal/pipeline"
	"github.com/nictes1/automatizacion-ai-sub000/internal/planner"
	"github.com/nictes1/automatizacion-ai-sub000/internal/policy"
	"github.com/nictes1/automatizacion-ai-sub000/internal/ratelimit"
)

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the decide service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to orchestrator.yaml (empty uses defaults and env)")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(cfg.Logging)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, shutdownTracer, err := observability.NewTracer(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	manifests, err := manifest.NewRegistry(cfg.Orchestrator.ManifestPath, logger.Slog())
	if err != nil {
		return fmt.Errorf("load manifests: %w", err)
	}
	if err := manifests.Watch(ctx); err != nil {
		return err
	}
	defer manifests.Close()

	// SIGHUP forces a manifest reload on top of the file watcher, for
	// deployments where the file is bind-mounted and watch events get lost.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				logger.Info(ctx, "SIGHUP received, reloading manifests")
				_ = manifests.Reload()
			}
		}
	}()

	p := buildPipeline(cfg, manifests, logger, metrics, tracer)

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(true, cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
	}

	server := httpapi.NewServer(cfg.Server, p, limiter, logger)
	if err := server.Start(ctx); err != nil {
		return err
	}

	logger.Info(ctx, "orchestrator running",
		"pipeline_enabled", cfg.Orchestrator.Enabled,
		"canary_percent", cfg.Orchestrator.CanaryPercent)

	<-ctx.Done()
	logger.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildPipeline wires the stages from configuration.
func buildPipeline(cfg *config.Config, manifests *manifest.Registry, logger *observability.Logger, metrics *observability.Metrics, tracer *observability.Tracer) *pipeline.Pipeline {
	providers := llm.NewRegistry(
		llm.NewInstrumented(llm.NewOpenAIProvider(
			providerKey(cfg, "openai", "OPENAI_API_KEY"),
			cfg.LLM.Providers["openai"].BaseURL,
		), metrics),
		llm.NewInstrumented(llm.NewAnthropicProvider(
			providerKey(cfg, "anthropic", "ANTHROPIC_API_KEY"),
		), metrics),
	)
	models := cfg.LLM.Models

	router := canary.New(canary.Config{
		Enabled: cfg.Orchestrator.Enabled,
		Percent: cfg.Orchestrator.CanaryPercent,
	})

	toolClient := broker.NewClient(cfg.Tools.BaseURL, cfg.Tools.Timeout.Std())
	br := broker.New(toolClient, broker.NewBreakerRegistry(metrics),
		logger, metrics, tracer, cfg.Orchestrator.MaxParallelTools)

	return pipeline.New(
		router,
		manifests,
		extractor.New(providers.ProviderFor(models.Extractor), models.Extractor,
			cfg.Orchestrator.ExtractorTimeout.Std(), logger, tracer),
		planner.New(providers.ProviderFor(models.Planner), models.Planner,
			cfg.Orchestrator.PlannerTimeout.Std(), logger, tracer),
		policy.New(cfg.Orchestrator.ConfidenceThreshold, nil, logger, metrics),
		br,
		nlg.New(providers.ProviderFor(models.Response), models.Response, logger, tracer),
		legacy.New(providers.ProviderFor(models.Legacy), models.Legacy, logger, tracer),
		pipeline.Config{
			TotalTimeout:  cfg.Orchestrator.TotalTimeout.Std(),
			BrokerTimeout: cfg.Orchestrator.BrokerTimeout.Std(),
			FallbackToLLM: cfg.Orchestrator.FallbackToLLM,
		},
		logger, metrics, tracer,
	)
}

// providerKey prefers the config file entry and falls back to the
// conventional environment variable.
func providerKey(cfg *config.Config, provider, envVar string) string {
	if key := cfg.LLM.Providers[provider].APIKey; key != "" {
		return key
	}
	return os.Getenv(envVar)
}
