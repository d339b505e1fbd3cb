// Command bedrock runs a lightweight HTTP mock of the AWS Bedrock runtime
// APIs. It is used for E2E/load testing the gateway without real credentials:
// point BEDROCK_ENDPOINT_URL at it and every Converse, ConverseStream, and
// RetrieveAndGenerate call is answered locally.
//
// Endpoints:
//
//	POST /model/{modelId}/converse          — buffered generation
//	POST /model/{modelId}/converse-stream   — binary eventstream framing
//	POST /retrieveAndGenerate               — knowledge-base generation
//
// Behaviour flags (via env):
//
//	PORT              — listen port (default 19005)
//	MOCK_LATENCY_MS   — artificial latency added to every response (default 0)
//	MOCK_ERROR_RATE   — fraction [0,1] of requests that fail (default 0)
//	MOCK_ERROR_CODE   — AWS error code for injected failures
//	                    (default ThrottlingException)
//	MOCK_STREAM_WORDS — words in each generated response (default 10)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"
)

// Config holds runtime configuration for the mock server.
type Config struct {
	Port        string
	LatencyMS   int
	ErrorRate   float64
	ErrorCode   string
	StreamWords int
}

func loadConfig() Config {
	c := Config{
		Port:        "19005",
		ErrorCode:   "ThrottlingException",
		StreamWords: 10,
	}

	if v := os.Getenv("PORT"); v != "" {
		c.Port = v
	}
	if v := os.Getenv("MOCK_LATENCY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.LatencyMS = n
		}
	}
	if v := os.Getenv("MOCK_ERROR_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			c.ErrorRate = f
		}
	}
	if v := os.Getenv("MOCK_ERROR_CODE"); v != "" {
		c.ErrorCode = v
	}
	if v := os.Getenv("MOCK_STREAM_WORDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.StreamWords = n
		}
	}
	return c
}

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := loadConfig()

	log.Info("starting bedrock mock",
		slog.String("port", cfg.Port),
		slog.Int("latency_ms", cfg.LatencyMS),
		slog.Float64("error_rate", cfg.ErrorRate),
		slog.Int("stream_words", cfg.StreamWords),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newBedrockHandler(cfg),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	fmt.Println("READY")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down bedrock mock")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)

	log.Info("bedrock mock stopped")
}
