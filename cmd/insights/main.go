// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command insights starts the health-data assistant API server.
//
// The server answers natural-language questions about a read-only SQLite
// survey database. The model backend only ever sees schema metadata, bounded
// query results, and aggregate statistics, never the raw tables.
//
// Usage:
//
//	go run ./cmd/insights -db health_data.db
//	go run ./cmd/insights -config insights.yaml -debug
//
// With any OpenAI-compatible backend:
//
//	OPENAI_API_KEY=sk-... go run ./cmd/insights -db health_data.db
//	OPENAI_MODEL=gpt-4o-mini OPENAI_API_KEY=sk-... go run ./cmd/insights
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8085/v1/insights/health
//
//	# Ask a question
//	curl -X POST http://localhost:8085/v1/insights/ask \
//	  -H "Content-Type: application/json" \
//	  -d '{"question": "How many patients over 65 have diabetes?"}'
//
//	# Aggregate overview
//	curl http://localhost:8085/v1/insights/statistics | jq
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/insights/services/insights"
	"github.com/AleutianAI/insights/services/insights/config"
	"github.com/AleutianAI/insights/services/llm"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	addr := flag.String("addr", "", "Listen address (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug mode")
	traceStdout := flag.Bool("trace-stdout", false, "Print OTel spans to stdout when no OTLP endpoint is set")
	flag.Parse()

	setupLogging(*debug)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.DatabasePath = *dbPath
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// W3C TraceContext propagation so trace IDs flow from callers through
	// handlers into backend calls.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	shutdownTracing, err := setupTracing(*traceStdout)
	if err != nil {
		slog.Warn("Tracing disabled", slog.String("error", err.Error()))
	}

	backend, err := buildBackend(cfg.Backend)
	if err != nil {
		slog.Error("Failed to build model backend", slog.String("error", err.Error()))
		os.Exit(1)
	}

	svc, err := insights.NewService(cfg, backend)
	if err != nil {
		slog.Error("Failed to wire service", slog.String("error", err.Error()))
		os.Exit(1)
	}

	handlers := insights.NewHandlers(svc)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("aleutian-insights"))
	if *debug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	if cfg.AskRatePerSecond > 0 {
		v1.Use(askRateLimit(cfg.AskRatePerSecond))
	}
	insights.RegisterRoutes(v1, handlers)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	go func() {
		slog.Info("Starting insights server",
			slog.String("address", cfg.ListenAddr),
			slog.String("database", cfg.DatabasePath),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down insights server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Warn("Forced shutdown", slog.String("error", err.Error()))
	}
	if err := svc.Close(); err != nil {
		slog.Warn("Failed to close service", slog.String("error", err.Error()))
	}
	if shutdownTracing != nil {
		if err := shutdownTracing(ctx); err != nil {
			slog.Warn("Failed to flush spans", slog.String("error", err.Error()))
		}
	}
}

// setupLogging installs the process-wide slog handler: human-readable text on
// a terminal, JSON otherwise.
func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// setupTracing installs a span exporter: OTLP/gRPC when
// OTEL_EXPORTER_OTLP_ENDPOINT is set, stdout when requested, none otherwise.
// Returns a flush function, nil when tracing stays disabled.
func setupTracing(stdout bool) (func(context.Context) error, error) {
	var exporter sdktrace.SpanExporter
	var err error

	switch {
	case os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "":
		exporter, err = otlptracegrpc.New(context.Background())
	case stdout:
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("creating span exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}

// buildBackend constructs the chat client selected by config.Provider.
// Config values win over environment defaults; API keys always come from the
// environment (or secret files), never from config. An empty base_url falls
// back to the provider's public endpoint inside the client constructor.
func buildBackend(cfg config.BackendConfig) (llm.Backend, error) {
	switch cfg.Provider {
	case "anthropic":
		if cfg.Model != "" {
			apiKey := os.Getenv("ANTHROPIC_API_KEY")
			if apiKey == "" {
				return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
			}
			return llm.NewAnthropicClientWithConfig(apiKey, cfg.Model, cfg.BaseURL), nil
		}
		return llm.NewAnthropicClient()

	case "gemini":
		if cfg.Model != "" {
			apiKey := os.Getenv("GEMINI_API_KEY")
			if apiKey == "" {
				return nil, fmt.Errorf("GEMINI_API_KEY not set")
			}
			return llm.NewGeminiClientWithConfig(apiKey, cfg.Model, cfg.BaseURL), nil
		}
		return llm.NewGeminiClient()

	case "", "openai":
		if cfg.BaseURL != "" || cfg.Model != "" {
			apiKey := os.Getenv("OPENAI_API_KEY")
			if apiKey == "" && cfg.BaseURL == "" {
				return nil, fmt.Errorf("OPENAI_API_KEY not set")
			}
			model := cfg.Model
			if model == "" {
				model = os.Getenv("OPENAI_MODEL")
			}
			return llm.NewOpenAIClientWithConfig(apiKey, model, cfg.BaseURL), nil
		}
		return llm.NewOpenAIClient()

	default:
		return nil, fmt.Errorf("unknown backend provider %q", cfg.Provider)
	}
}

// askRateLimit applies a process-wide token bucket to the ask endpoint only;
// read-only endpoints stay unthrottled.
func askRateLimit(perSecond float64) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(perSecond), int(perSecond)+1)
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodPost && c.FullPath() == "/v1/insights/ask" {
			if !limiter.Allow() {
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
					"error": "rate limit exceeded, slow down",
				})
				return
			}
		}
		c.Next()
	}
}
