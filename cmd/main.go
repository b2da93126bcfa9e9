package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"

	"openrouter-proxy/handler"
	"openrouter-proxy/internal/config"
	"openrouter-proxy/internal/integrations/openrouter"
	"openrouter-proxy/internal/integrations/paramstore"
	"openrouter-proxy/internal/metrics"
	"openrouter-proxy/internal/repository"
	"openrouter-proxy/internal/usecase"
)

func main() {
	ctx := context.Background()
	logger := slog.Default()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		fatal("failed to load configuration", err)
	}

	// ---- AWS SDK config ----
	var awsCfg aws.Config
	if cfg.NeedsAWS() {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			fatal("failed to load AWS config", err)
		}
	}

	var tokens config.TokenGetter
	if cfg.OpenRouter.APIKey == "" && cfg.ParamPrefix != "" {
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			fatal("failed to create SSM client", err)
		}
		tokens = ssmClient
	}
	if err := config.ResolveAPIKey(ctx, &cfg, tokens); err != nil {
		fatal("failed to resolve OpenRouter API key", err)
	}

	// ---- Clients ----
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	openrouterClient, err := openrouter.NewClient(cfg.OpenRouter, logger, openrouter.WithObserver(collector))
	if err != nil {
		fatal("failed to create OpenRouter client", err)
	}

	opts := []handler.Option{
		handler.WithObserver(collector),
		handler.WithModel(openrouterClient.Model()),
		handler.WithLogger(logger),
	}
	if cfg.LedgerTable != "" {
		ledger, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.LedgerTable)
		if err != nil {
			fatal("failed to create ledger client", err)
		}
		opts = append(opts, handler.WithRecorder(ledger))
	}

	// ---- Handler ----
	svc, err := usecase.NewCompletionService(openrouterClient, logger)
	if err != nil {
		fatal("failed to create completion service", err)
	}

	h, err := handler.NewHandler(svc, opts...)
	if err != nil {
		fatal("failed to create handler", err)
	}

	if cfg.Lambda {
		lambda.Start(h.Handle)
		return
	}
	serveLocal(h, collector, cfg.LocalAddr)
}

func serveLocal(h *handler.Handler, collector *metrics.Collector, addr string) {
	server := &http.Server{
		Addr:         addr,
		Handler:      handler.NewRouter(h, collector.Handler()),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		slog.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("graceful shutdown failed", "err", err)
		}
	}()

	slog.Info("serving locally", "addr", addr)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		fatal("server error", err)
	}
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
