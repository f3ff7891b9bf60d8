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

// Helpdesk mail pipe
//
// Invoked by the local MTA with a raw message on stdin. The message runs
// through the same email path as the API and the exit status tells the MTA
// whether to accept, bounce or retry it.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/bcem/helpdesk/internal/attachment"
	"github.com/bcem/helpdesk/internal/config"
	"github.com/bcem/helpdesk/internal/dedup"
	"github.com/bcem/helpdesk/internal/intake"
	"github.com/bcem/helpdesk/internal/parser"
	"github.com/bcem/helpdesk/internal/pipe"
	"github.com/bcem/helpdesk/internal/queue"
	"github.com/bcem/helpdesk/internal/store"
	"github.com/bcem/helpdesk/internal/thread"
	"github.com/bcem/helpdesk/internal/ticket"
	"github.com/bcem/helpdesk/internal/validate"
)

func main() {
	os.Exit(run())
}

func run() int {
	// stdout may be read by the MTA; keep logs on stderr.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	var (
		configPath string
		emailID    int64
		maxBytes   int64
		timeout    time.Duration
	)
	flagSet := pflag.NewFlagSet("helpdesk-pipe", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_PATH"), "path to config.yaml")
	flagSet.Int64Var(&emailID, "email-id", 0, "receiving mailbox id (overrides pipe.email_id)")
	flagSet.Int64Var(&maxBytes, "max-bytes", 0, "reject messages larger than this many bytes (0 for no limit)")
	flagSet.DurationVar(&timeout, "timeout", 2*time.Minute, "give up and ask the MTA to retry after this long")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return pipe.ExitOK
		}
		fmt.Fprintln(os.Stderr, err)
		return pipe.ExitUsage
	}

	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return pipe.ExitTempFail
	}
	if emailID == 0 {
		emailID = cfg.PipeEmailID
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		return pipe.ExitTempFail
	}
	defer pgPool.Close()

	st, err := store.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise helpdesk store", "error", err)
		return pipe.ExitTempFail
	}

	svcCfg := intake.Config{
		Registry:   st,
		Validator:  validate.NewValidator(attachment.NewProcessor(st, cfg.MaxAttachmentSize)),
		Reconciler: thread.NewReconciler(st),
		Reader:     st,
		Strict:     cfg.Strict,
	}
	matCfg := ticket.Config{
		Store:                    st,
		RejectOnAttachmentErrors: cfg.RejectOnAttachErrors,
		MessageIDDomain:          cfg.MessageIDDomain,
	}

	// Redis is optional here: without it the store's unique message id
	// still rejects duplicates, and events are not published.
	if opt, err := redis.ParseURL(cfg.RedisURL); err != nil {
		slog.Warn("invalid REDIS_URL, continuing without lock and events", "error", err)
	} else {
		rdb := redis.NewClient(opt)
		defer rdb.Close()

		publisher := queue.NewPublisher(rdb, cfg.EventsQueue)
		if err := publisher.Ping(ctx); err != nil {
			slog.Warn("redis unavailable, continuing without lock and events", "error", err)
		} else {
			svcCfg.Locker = dedup.NewLock(rdb, cfg.LockTTL)
			matCfg.Notifier = publisher
		}
	}
	svcCfg.Materializer = ticket.NewMaterializer(matCfg)

	return pipe.Deliver(ctx, os.Stdin, intake.NewService(svcCfg), parser.EmailOptions{
		EmailID:  emailID,
		MaxBytes: maxBytes,
	})
}
