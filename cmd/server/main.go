// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Draftwise Triage Service
//
// Entry point for the email triage service. It:
//  1. Loads configuration from config.yaml
//  2. Connects to PostgreSQL and Redis
//  3. Builds the OAuth2 connector client and the LLM client
//  4. Assembles the triage pipeline
//  5. Serves the webhook, brief, settings, and health endpoints
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/draftwise/triage/internal/brief"
	"github.com/draftwise/triage/internal/calendar"
	"github.com/draftwise/triage/internal/classify"
	"github.com/draftwise/triage/internal/config"
	"github.com/draftwise/triage/internal/connector"
	"github.com/draftwise/triage/internal/dedup"
	"github.com/draftwise/triage/internal/drafts"
	"github.com/draftwise/triage/internal/ledger"
	"github.com/draftwise/triage/internal/llm"
	"github.com/draftwise/triage/internal/triage"
	"github.com/draftwise/triage/internal/webhook"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting draftwise triage service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"connector", cfg.Connector.BaseURL,
		"classifier_model", cfg.LLM.ClassifierModel,
		"draft_model", cfg.LLM.DraftModel,
		"confidence_threshold", cfg.ConfidenceThreshold,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	// --- Ledger Store (Postgres) ---
	store, err := ledger.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise ledger store", "error", err)
		os.Exit(1)
	}

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	filter := dedup.NewFilter(rdb)
	if err := filter.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Connector client (OAuth2 client credentials) ---
	var connectorHTTP *http.Client
	if cfg.Connector.TokenURL != "" {
		creds := &clientcredentials.Config{
			ClientID:     cfg.Connector.ClientID,
			ClientSecret: cfg.Connector.ClientSecret,
			TokenURL:     cfg.Connector.TokenURL,
		}
		connectorHTTP = creds.Client(ctx)
	} else {
		// Local broker without auth
		connectorHTTP = &http.Client{Timeout: 30 * time.Second}
	}
	broker := connector.NewClient(connectorHTTP, cfg.Connector.BaseURL)

	// --- LLM client ---
	completions := llm.NewClient(&http.Client{Timeout: 60 * time.Second}, cfg.LLM.BaseURL, cfg.LLM.APIKey)

	// --- Pipeline collaborators ---
	detector := classify.NewMeetingDetector(completions, cfg.LLM.ClassifierModel)
	checker := calendar.NewChecker(broker)
	generator := drafts.NewGenerator(completions, cfg.LLM.DraftModel)
	briefer := brief.NewService(store, completions, cfg.LLM.DraftModel)

	processor := triage.NewProcessor(triage.ProcessorConfig{
		Dedup:    filter,
		Ledger:   store,
		Profiles: broker,
		Meetings: detector,
		Calendar: checker,
		Drafts:   generator,
		Mailbox:  broker,
		Events:   broker,

		ConfidenceThreshold:   cfg.ConfidenceThreshold,
		DefaultMeetingMinutes: cfg.DefaultMeetingMinutes,
		SlotMinutes:           cfg.SlotMinutes,
	})

	// --- Webhook server ---
	handler := webhook.NewHandler(processor, store, briefer, store, map[string]webhook.Pinger{
		"redis":    filter,
		"postgres": pgPinger{pgPool},
	})
	ready, err := webhook.Serve(ctx, cfg.Port, handler)
	if err != nil {
		slog.Error("failed to start webhook server", "error", err)
		os.Exit(1)
	}
	<-ready
	slog.Info("triage service ready", "port", cfg.Port)

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	slog.Info("received shutdown signal", "signal", sig)
	cancel()

	// Give in-flight webhook handling a moment to finish.
	time.Sleep(2 * time.Second)

	rdb.Close()
	pgPool.Close()

	slog.Info("triage service stopped")
}

// pgPinger adapts the pgx pool to the health-check interface.
type pgPinger struct {
	pool *pgxpool.Pool
}

func (p pgPinger) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}
