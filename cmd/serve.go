package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/warelay/internal/authority"
	"github.com/nextlevelbuilder/warelay/internal/bridge"
	"github.com/nextlevelbuilder/warelay/internal/config"
	"github.com/nextlevelbuilder/warelay/internal/dedup"
	"github.com/nextlevelbuilder/warelay/internal/delivery"
	"github.com/nextlevelbuilder/warelay/internal/followup"
	"github.com/nextlevelbuilder/warelay/internal/gateway"
	"github.com/nextlevelbuilder/warelay/internal/httpapi"
	"github.com/nextlevelbuilder/warelay/internal/locks"
	"github.com/nextlevelbuilder/warelay/internal/pipeline"
	"github.com/nextlevelbuilder/warelay/internal/providers"
	"github.com/nextlevelbuilder/warelay/internal/respond"
	"github.com/nextlevelbuilder/warelay/internal/store/db"
	"github.com/nextlevelbuilder/warelay/internal/telemetry"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay gateway",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	setupLogging()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry, Version)
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}
	defer shutdownTelemetry(context.Background())

	stores, err := db.NewStores(cfg.DatabaseDSN())
	if err != nil {
		slog.Error("store open failed", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	provider, err := buildProvider(cfg)
	if err != nil {
		slog.Error("provider setup failed", "error", err)
		os.Exit(1)
	}

	transport := bridge.New(
		bridge.WithBaseURL(cfg.Bridge.BaseURL),
		bridge.WithTimeout(time.Duration(cfg.Bridge.TimeoutSec)*time.Second),
	)

	gate := dedup.New(dedup.NewMemoryCache(cfg.Dedup.MaxKeys), time.Duration(cfg.Dedup.WindowSec)*time.Second)
	keyed := locks.NewKeyed()
	auth := authority.New(stores.Conversations, stores.Modes)
	responder := respond.New(provider, stores.Messages, stores.Listings,
		respond.WithMaxTokens(cfg.Provider.MaxTokens))

	guard := delivery.New(transport, stores.Sends,
		delivery.WithRetryPolicy(delivery.RetryPolicy{
			MaxAttempts: cfg.Delivery.MaxAttempts,
			BaseDelay:   time.Duration(cfg.Delivery.BaseDelaySec * float64(time.Second)),
			Multiplier:  2.0,
			MaxDelay:    30 * time.Second,
			Jitter:      0.25,
		}),
		delivery.WithRateLimit(cfg.Delivery.RatePerSec, int(cfg.Delivery.RatePerSec)),
		delivery.WithMaxBodyChars(cfg.Gateway.MaxMessageChars),
	)

	pipeOpts := []pipeline.Option{pipeline.WithMissThreshold(cfg.Escalation.MissThreshold)}
	if cfg.Followup.Enabled {
		delays := make([]time.Duration, 0, len(cfg.Followup.DelaysMin))
		for _, m := range cfg.Followup.DelaysMin {
			delays = append(delays, time.Duration(m)*time.Minute)
		}
		pipeOpts = append(pipeOpts, pipeline.WithFollowupPlanner(followup.NewPlanner(stores.Followups, delays)))
	}
	pipe := pipeline.New(stores, auth, responder, guard, keyed, pipeOpts...)

	if cfg.Followup.Enabled {
		sched, err := followup.NewScheduler(stores, auth, guard, keyed, cfg.Followup.Schedule)
		if err != nil {
			slog.Error("followup scheduler setup failed", "error", err)
			os.Exit(1)
		}
		go sched.Run(ctx)
	}

	limiter := httpapi.NewWebhookRateLimiter(cfg.Gateway.RateLimitRPM)
	srv := gateway.NewServer(cfg,
		httpapi.NewWebhookHandler(gate, pipe, limiter),
		httpapi.NewConversationsHandler(stores, auth, pipe, cfg.Gateway.Token),
		httpapi.NewAdminHandler(stores, cfg.Gateway.Token),
	)

	if err := srv.Start(ctx); err != nil {
		slog.Error("gateway stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

func buildProvider(cfg *config.Config) (providers.Provider, error) {
	switch cfg.Provider.Name {
	case "anthropic":
		if cfg.Provider.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("WARELAY_ANTHROPIC_API_KEY environment variable is not set")
		}
		return providers.NewAnthropicProvider(cfg.Provider.AnthropicAPIKey,
			providers.WithAnthropicModel(cfg.Provider.Model)), nil
	case "openai":
		if cfg.Provider.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("WARELAY_OPENAI_API_KEY environment variable is not set")
		}
		return providers.NewOpenAIProvider(cfg.Provider.OpenAIAPIKey,
			providers.WithOpenAIModel(cfg.Provider.Model)), nil
	case "mock":
		return providers.NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider.Name)
	}
}
