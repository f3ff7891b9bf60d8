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

// Package store is the Postgres backend of the helpdesk: the form registry,
// tickets, threads and their entries, attachments, API keys and ticket
// filter rules. Message id uniqueness is enforced by the database.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store implements the collaborator interfaces of the intake pipeline.
type Store struct {
	pool     *pgxpool.Pool
	validate *validator.Validate
}

// NewStore creates a store backed by the given Postgres pool. It ensures
// the tables exist on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool, validate: validator.New()}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure helpdesk schema: %w", err)
	}
	slog.Info("helpdesk store initialised")
	return s, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS departments (
			id        BIGSERIAL PRIMARY KEY,
			name      TEXT NOT NULL,
			ispublic  BOOLEAN DEFAULT TRUE
		);

		CREATE TABLE IF NOT EXISTS forms (
			id        BIGSERIAL PRIMARY KEY,
			kind      TEXT NOT NULL,
			title     TEXT DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_forms_kind ON forms(kind);

		CREATE TABLE IF NOT EXISTS form_fields (
			id             BIGSERIAL PRIMARY KEY,
			form_id        BIGINT NOT NULL REFERENCES forms(id) ON DELETE CASCADE,
			name           TEXT NOT NULL,
			label          TEXT DEFAULT '',
			type           TEXT DEFAULT 'text',
			required       BOOLEAN DEFAULT FALSE,
			sort           INT DEFAULT 0,
			files_enabled  BOOLEAN DEFAULT FALSE,
			max_file_size  BIGINT DEFAULT 0,
			max_files      INT DEFAULT 0,
			extensions     TEXT[] DEFAULT '{}',
			mime_types     TEXT[] DEFAULT '{}',
			UNIQUE(form_id, name)
		);

		CREATE TABLE IF NOT EXISTS help_topics (
			id        BIGSERIAL PRIMARY KEY,
			name      TEXT NOT NULL,
			isactive  BOOLEAN DEFAULT TRUE
		);

		CREATE TABLE IF NOT EXISTS help_topic_forms (
			topic_id  BIGINT NOT NULL REFERENCES help_topics(id) ON DELETE CASCADE,
			form_id   BIGINT NOT NULL REFERENCES forms(id) ON DELETE CASCADE,
			sort      INT DEFAULT 0,
			PRIMARY KEY (topic_id, form_id)
		);

		CREATE SEQUENCE IF NOT EXISTS ticket_number_seq START 100000;

		CREATE TABLE IF NOT EXISTS tickets (
			id            BIGSERIAL PRIMARY KEY,
			number        TEXT NOT NULL UNIQUE DEFAULT nextval('ticket_number_seq')::text,
			user_email    TEXT NOT NULL,
			user_name     TEXT DEFAULT '',
			subject       TEXT DEFAULT '',
			source        TEXT DEFAULT 'API',
			ip            TEXT DEFAULT '',
			topic_id      BIGINT,
			dept_id       BIGINT,
			priority_id   BIGINT,
			status_id     BIGINT DEFAULT 1,
			status_name   TEXT DEFAULT 'Open',
			status_state  TEXT DEFAULT 'open',
			isanswered    BOOLEAN DEFAULT FALSE,
			fields        JSONB DEFAULT '{}',
			created_at    TIMESTAMPTZ DEFAULT NOW(),
			updated_at    TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_tickets_email ON tickets(lower(user_email));

		CREATE TABLE IF NOT EXISTS threads (
			id           BIGSERIAL PRIMARY KEY,
			object_type  CHAR(1) NOT NULL,
			object_id    BIGINT NOT NULL,
			created_at   TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(object_type, object_id)
		);

		CREATE TABLE IF NOT EXISTS thread_entries (
			id          BIGSERIAL PRIMARY KEY,
			thread_id   BIGINT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
			type        CHAR(1) NOT NULL,
			poster      TEXT DEFAULT '',
			title       TEXT DEFAULT '',
			body        TEXT DEFAULT '',
			source      TEXT DEFAULT '',
			ip          TEXT DEFAULT '',
			created_at  TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_entries_thread ON thread_entries(thread_id);

		CREATE TABLE IF NOT EXISTS thread_entry_emails (
			id               BIGSERIAL PRIMARY KEY,
			thread_entry_id  BIGINT NOT NULL REFERENCES thread_entries(id) ON DELETE CASCADE,
			mid              TEXT NOT NULL UNIQUE,
			email_id         BIGINT,
			headers          TEXT DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS thread_references (
			id          BIGSERIAL PRIMARY KEY,
			thread_id   BIGINT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
			mid         TEXT NOT NULL UNIQUE,
			created_at  TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS attachments (
			id               BIGSERIAL PRIMARY KEY,
			thread_entry_id  BIGINT REFERENCES thread_entries(id) ON DELETE CASCADE,
			name             TEXT NOT NULL,
			type             TEXT DEFAULT 'application/octet-stream',
			size             BIGINT DEFAULT 0,
			content_id       TEXT DEFAULT '',
			data             BYTEA NOT NULL,
			created_at       TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_attachments_entry ON attachments(thread_entry_id);

		CREATE TABLE IF NOT EXISTS api_keys (
			id                  BIGSERIAL PRIMARY KEY,
			apikey              TEXT NOT NULL UNIQUE,
			ipaddr              TEXT NOT NULL,
			isactive            BOOLEAN DEFAULT TRUE,
			can_create_tickets  BOOLEAN DEFAULT TRUE,
			notes               TEXT DEFAULT '',
			created_at          TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS ticket_filter_rules (
			id        BIGSERIAL PRIMARY KEY,
			field     TEXT NOT NULL,
			pattern   TEXT NOT NULL,
			isactive  BOOLEAN DEFAULT TRUE
		);
	`)
	if err != nil {
		return err
	}
	return s.seedForms(ctx)
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
