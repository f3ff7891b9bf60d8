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

// Helpdesk API server
//
// Entry point for the ticket API. It:
//  1. Loads configuration from config.yaml
//  2. Connects to PostgreSQL and Redis
//  3. Wires the intake pipeline (validation, threading, ticket creation)
//  4. Serves the ticket API and the Graph mailbox webhook
//  5. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/bcem/helpdesk/internal/api"
	"github.com/bcem/helpdesk/internal/attachment"
	"github.com/bcem/helpdesk/internal/config"
	"github.com/bcem/helpdesk/internal/dedup"
	"github.com/bcem/helpdesk/internal/graph"
	"github.com/bcem/helpdesk/internal/intake"
	"github.com/bcem/helpdesk/internal/parser"
	"github.com/bcem/helpdesk/internal/queue"
	"github.com/bcem/helpdesk/internal/store"
	"github.com/bcem/helpdesk/internal/thread"
	"github.com/bcem/helpdesk/internal/ticket"
	"github.com/bcem/helpdesk/internal/validate"
	"github.com/bcem/helpdesk/internal/webhook"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting helpdesk API server")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"mailboxes", len(cfg.Mailboxes),
		"strict", cfg.Strict,
		"reject_on_attachment_errors", cfg.RejectOnAttachErrors,
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

	st, err := store.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise helpdesk store", "error", err)
		os.Exit(1)
	}

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	publisher := queue.NewPublisher(rdb, cfg.EventsQueue)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Intake pipeline ---
	svc := intake.NewService(intake.Config{
		Registry:   st,
		Validator:  validate.NewValidator(attachment.NewProcessor(st, cfg.MaxAttachmentSize)),
		Reconciler: thread.NewReconciler(st),
		Materializer: ticket.NewMaterializer(ticket.Config{
			Store:                    st,
			Notifier:                 publisher,
			RejectOnAttachmentErrors: cfg.RejectOnAttachErrors,
			MessageIDDomain:          cfg.MessageIDDomain,
		}),
		Reader: st,
		Locker: dedup.NewLock(rdb, cfg.LockTTL),
		Strict: cfg.Strict,
	})

	// --- Graph mailboxes ---
	// Subscriptions are provisioned outside this service; it only
	// receives their notifications.
	var mailboxes []webhook.Mailbox
	for _, m := range cfg.Mailboxes {
		creds := &clientcredentials.Config{
			ClientID:     m.ClientID,
			ClientSecret: m.ClientSecret,
			TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", m.TenantID),
			Scopes:       []string{"https://graph.microsoft.com/.default"},
		}
		mailboxes = append(mailboxes, webhook.Mailbox{
			Alias:       m.Alias,
			ClientState: m.ClientState,
			EmailID:     m.EmailID,
			Fetcher:     graph.NewFetcher(creds.Client(ctx), cfg.GraphBaseURL, cfg.MaxMessageBytes),
		})
		slog.Info("mailbox configured", "alias", m.Alias, "user", m.User)
	}
	hook := webhook.NewHandler(mailboxes, svc, dedup.NewFilter(rdb), cfg.MaxMessageBytes)

	server := api.NewServer(api.ServerConfig{
		Addr:      fmt.Sprintf(":%d", cfg.Port),
		BodyLimit: cfg.BodyLimit,
		Keys:      st,
		Tickets:   api.NewTicketHandler(svc, parser.EmailOptions{MaxBytes: cfg.MaxMessageBytes}),
		Webhook:   hook,
		Health: map[string]api.Pinger{
			"redis":    publisher,
			"postgres": st,
		},
	})

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		// Notifications already acknowledged must finish before the
		// connections close.
		hook.Wait()
		cancel()
	}()

	slog.Info("helpdesk API listening", "port", cfg.Port)
	if err := server.Start(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	<-ctx.Done()

	slog.Info("helpdesk API stopped")
}
