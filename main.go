// chatledger - a chat backend that meters every conversation.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/chatledger/chatledger/internal/config"
	"github.com/chatledger/chatledger/internal/conversation"
	"github.com/chatledger/chatledger/internal/ledger"
	"github.com/chatledger/chatledger/internal/mistral"
	"github.com/chatledger/chatledger/internal/server"
)

func main() {
	configPath := flag.String("config", "chatledger.toml", "path to TOML config file")
	flag.Parse()

	// Local .env files are a convenience for development; absence is fine.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("DOTENV_SKIPPED | error=%v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("CONFIG_ERROR | error=%v", err)
	}

	store, err := ledger.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("STORE_ERROR | error=%v", err)
	}
	defer store.Close()

	client := mistral.NewClient(cfg.Mistral.APIKey).WithTimeout(cfg.Mistral.Timeout())
	if cfg.Mistral.BaseURL != "" {
		client = client.WithBaseURL(cfg.Mistral.BaseURL)
	}
	log.Printf("GATEWAY_READY | model=%s key_fingerprint=%s", cfg.Model, client.KeyFingerprint())

	table, err := cfg.PricingTable()
	if err != nil {
		log.Fatalf("PRICING_ERROR | error=%v", err)
	}

	orch, err := conversation.NewOrchestrator(store, client, table, cfg.Model)
	if err != nil {
		log.Fatalf("ORCHESTRATOR_ERROR | error=%v", err)
	}

	srv := server.NewServer(cfg.Port, store, orch)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("SERVER_ERROR | error=%v", err)
		}
	case <-ctx.Done():
		log.Printf("SERVER_SHUTDOWN | signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			log.Printf("SHUTDOWN_ERROR | error=%v", err)
		}
	}
}
