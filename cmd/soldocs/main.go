// Command soldocs runs the autonomous documentation agent: an HTTP API,
// a background discovery/documentation loop, and Prometheus instrumentation
// (§5, §6).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/soldocs/soldocs/pkg/agentcore"
	"github.com/soldocs/soldocs/pkg/chainclient"
	"github.com/soldocs/soldocs/pkg/config"
	"github.com/soldocs/soldocs/pkg/discovery"
	"github.com/soldocs/soldocs/pkg/docgen"
	"github.com/soldocs/soldocs/pkg/httpapi"
	"github.com/soldocs/soldocs/pkg/llmclient"
	"github.com/soldocs/soldocs/pkg/logx"
	"github.com/soldocs/soldocs/pkg/metrics"
	"github.com/soldocs/soldocs/pkg/store"
	"github.com/soldocs/soldocs/pkg/webhook"
)

const (
	startupProbeTimeout = 10 * time.Second
	shutdownTimeout     = 5 * time.Second
)

func main() {
	logger := logx.New("main")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logx.SetMinLevel(cfg.LogLevel)

	var metricsRegistry *metrics.Registry
	if cfg.MetricsEnabled {
		metricsRegistry = metrics.New()
	}

	chain := chainclient.New(cfg.SolanaRPCURL, metricsRegistry)
	if err := probeChain(chain); err != nil {
		fmt.Fprintf(os.Stderr, "failed to reach Solana RPC endpoint %s: %v\n", cfg.SolanaRPCURL, err)
		os.Exit(1)
	}

	s, err := store.New(cfg.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open data directory %s: %v\n", cfg.DataDir, err)
		os.Exit(1)
	}

	llm := llmclient.New(cfg.AnthropicAPIKey, anthropic.ModelClaudeSonnet4_5, metricsRegistry)
	pipeline := docgen.New(llm)

	var notify agentcore.NotifyFunc
	if cfg.WebhookURL != "" {
		notify = webhook.Notify
	}

	agent := agentcore.New(agentcore.Config{
		Store: s,
		GetAccount: func(ctx context.Context, address string) (*agentcore.Account, error) {
			account, err := chain.GetAccount(ctx, address)
			if err != nil || account == nil {
				return nil, err
			}
			return &agentcore.Account{Owner: account.Owner, Executable: account.Executable}, nil
		},
		FetchIDL:          chain.FetchIDL,
		Generator:         pipeline,
		Notify:            notify,
		WebhookURL:        cfg.WebhookURL,
		DiscoveryInterval: time.Duration(cfg.AgentDiscoveryIntervalMS) * time.Millisecond,
		Concurrency:       cfg.AgentConcurrency,
		Metrics:           metricsRegistry,
	})

	if empty, err := s.IsEmpty(); err != nil {
		logger.Warn("failed to check data directory before seeding: %v", err)
	} else if empty {
		if n, err := discovery.Seed(s); err != nil {
			logger.Warn("failed to seed well-known programs: %v", err)
		} else if n > 0 {
			logger.Info("seeded %d well-known programs", n)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agentDone := make(chan error, 1)
	go func() { agentDone <- agent.Start(ctx) }()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.APIPort),
		Handler: httpapi.New(s, agent, metricsRegistry),
	}
	httpDone := make(chan error, 1)
	go func() {
		logger.Info("listening on :%d", cfg.APIPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpDone <- err
			return
		}
		httpDone <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal %v, shutting down", sig)
	case err := <-httpDone:
		if err != nil {
			logger.Error("http server error: %v", err)
		}
	case err := <-agentDone:
		if err != nil {
			logger.Error("agent loop error: %v", err)
			os.Exit(1)
		}
	}

	cancel()
	agent.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during http shutdown: %v", err)
	}

	<-agentDone
	logger.Info("shutdown complete")
}

func probeChain(chain *chainclient.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), startupProbeTimeout)
	defer cancel()
	return chain.Ping(ctx)
}
