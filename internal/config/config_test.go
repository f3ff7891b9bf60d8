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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATABASE_URL", "REDIS_URL", "EVENTS_QUEUE", "LOCK_TTL", "PORT",
		"API_STRICT", "BODY_LIMIT", "PIPE_EMAIL_ID", "GRAPH_BASE_URL", "MESSAGE_ID_DOMAIN",
	} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("HELPDESK_SECRET", "s3cret")

	path := writeConfig(t, `
database:
  url: postgres://helpdesk@db/helpdesk
redis:
  url: redis://cache:6379/1
  lock_ttl: 90s
  queues:
    events: events
api:
  port: 9090
  strict: false
attachments:
  max_size: 1048576
  reject_on_error: true
outbound:
  message_id_domain: support.example.com
pipe:
  email_id: 3
mailboxes:
  - alias: support
    tenant_id: tenant
    client_id: client
    client_secret: ${HELPDESK_SECRET}
    user: support@example.com
    client_state: state
    email_id: 1
  - alias: disabled
    tenant_id: ""
    client_id: ""
    client_secret: ""
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.DatabaseURL != "postgres://helpdesk@db/helpdesk" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.RedisURL != "redis://cache:6379/1" || cfg.EventsQueue != "events" {
		t.Errorf("redis = %q %q", cfg.RedisURL, cfg.EventsQueue)
	}
	if cfg.LockTTL != 90*time.Second {
		t.Errorf("LockTTL = %v", cfg.LockTTL)
	}
	if cfg.Port != 9090 || cfg.Strict {
		t.Errorf("api = %d strict=%v", cfg.Port, cfg.Strict)
	}
	if cfg.BodyLimit != "25M" {
		t.Errorf("BodyLimit = %q", cfg.BodyLimit)
	}
	if cfg.MaxAttachmentSize != 1048576 || !cfg.RejectOnAttachErrors {
		t.Errorf("attachments = %d %v", cfg.MaxAttachmentSize, cfg.RejectOnAttachErrors)
	}
	if cfg.PipeEmailID != 3 {
		t.Errorf("PipeEmailID = %d", cfg.PipeEmailID)
	}
	if cfg.MessageIDDomain != "support.example.com" {
		t.Errorf("MessageIDDomain = %q", cfg.MessageIDDomain)
	}
	if len(cfg.Mailboxes) != 1 {
		t.Fatalf("mailboxes = %d, want 1", len(cfg.Mailboxes))
	}
	if got := cfg.Mailboxes[0].ClientSecret; got != "s3cret" {
		t.Errorf("ClientSecret = %q, want expanded env value", got)
	}
}

func TestLoadFileEnvOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://env/helpdesk")
	t.Setenv("PORT", "8181")
	t.Setenv("API_STRICT", "false")
	t.Setenv("PIPE_EMAIL_ID", "7")

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.DatabaseURL != "postgres://env/helpdesk" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("RedisURL = %q", cfg.RedisURL)
	}
	if cfg.EventsQueue != "helpdesk-events" {
		t.Errorf("EventsQueue = %q", cfg.EventsQueue)
	}
	if cfg.LockTTL != 2*time.Minute {
		t.Errorf("LockTTL = %v", cfg.LockTTL)
	}
	if cfg.Port != 8181 || cfg.Strict || cfg.PipeEmailID != 7 {
		t.Errorf("got port=%d strict=%v pipe=%d", cfg.Port, cfg.Strict, cfg.PipeEmailID)
	}
}

func TestLoadFileInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing database",
			yaml: "redis:\n  url: redis://cache\n",
			want: "DatabaseURL",
		},
		{
			name: "bad lock ttl",
			yaml: "database:\n  url: postgres://db\nredis:\n  lock_ttl: soon\n",
			want: "lock_ttl",
		},
		{
			name: "mailbox without client state",
			yaml: `
database:
  url: postgres://db
mailboxes:
  - alias: support
    tenant_id: t
    client_id: c
    client_secret: s
    user: support@example.com
    email_id: 1
`,
			want: "ClientState",
		},
		{
			name: "duplicate alias",
			yaml: `
database:
  url: postgres://db
mailboxes:
  - {alias: a, tenant_id: t, client_id: c, client_secret: s, user: u1, client_state: x, email_id: 1}
  - {alias: a, tenant_id: t, client_id: c, client_secret: s, user: u2, client_state: y, email_id: 2}
`,
			want: "duplicate mailbox alias",
		},
		{
			name: "malformed yaml",
			yaml: "database: [",
			want: "parse config YAML",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := LoadFile(writeConfig(t, tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestMailboxAliasDefault(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
database:
  url: postgres://db
mailboxes:
  - tenant_id: t
    client_id: c
    client_secret: s
    user: Help@Example.com
    client_state: x
    email_id: 1
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if got := cfg.Mailboxes[0].Alias; got != "help" {
		t.Errorf("Alias = %q, want help", got)
	}
}
