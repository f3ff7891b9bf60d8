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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// MailboxConfig binds a Microsoft 365 mailbox to a helpdesk email account.
type MailboxConfig struct {
	Alias        string `validate:"required"`
	TenantID     string `validate:"required"`
	ClientID     string `validate:"required"`
	ClientSecret string `validate:"required"`
	// User is the mailbox owner's id or UPN in Graph.
	User        string `validate:"required"`
	ClientState string `validate:"required"`
	EmailID     int64  `validate:"gt=0"`
}

// Config holds all configuration for the helpdesk service and pipe.
type Config struct {
	DatabaseURL string `validate:"required"`

	// Redis
	RedisURL    string `validate:"required"`
	EventsQueue string `validate:"required"`
	LockTTL     time.Duration

	// API
	Port      int `validate:"min=1,max=65535"`
	Strict    bool
	BodyLimit string

	// Attachments
	MaxAttachmentSize    int64 `validate:"gte=0"`
	RejectOnAttachErrors bool

	// Outbound notices
	MessageIDDomain string `validate:"omitempty,hostname"`

	// Pipe
	PipeEmailID int64 `validate:"gte=0"`

	// Graph
	GraphBaseURL    string          `validate:"omitempty,url"`
	MaxMessageBytes int64           `validate:"gte=0"`
	Mailboxes       []MailboxConfig `validate:"dive"`
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL     string `yaml:"url"`
		LockTTL string `yaml:"lock_ttl"`
		Queues  struct {
			Events string `yaml:"events"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	API struct {
		Port      int    `yaml:"port"`
		Strict    *bool  `yaml:"strict"`
		BodyLimit string `yaml:"body_limit"`
	} `yaml:"api"`
	Attachments struct {
		MaxSize       int64 `yaml:"max_size"`
		RejectOnError bool  `yaml:"reject_on_error"`
	} `yaml:"attachments"`
	Outbound struct {
		MessageIDDomain string `yaml:"message_id_domain"`
	} `yaml:"outbound"`
	Pipe struct {
		EmailID int64 `yaml:"email_id"`
	} `yaml:"pipe"`
	Graph struct {
		BaseURL         string `yaml:"base_url"`
		MaxMessageBytes int64  `yaml:"max_message_bytes"`
	} `yaml:"graph"`
	Mailboxes []struct {
		Alias        string `yaml:"alias"`
		TenantID     string `yaml:"tenant_id"`
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
		User         string `yaml:"user"`
		ClientState  string `yaml:"client_state"`
		EmailID      int64  `yaml:"email_id"`
	} `yaml:"mailboxes"`
}

// Load reads configuration from the file named by CONFIG_PATH.
func Load() (*Config, error) {
	return LoadFile(envOrDefault("CONFIG_PATH", "/app/config/config.yaml"))
}

// LoadFile reads configuration from path (with env var expansion) and
// environment variables for unset settings. A missing file is not an
// error; the environment alone must then be sufficient.
func LoadFile(path string) (*Config, error) {
	var raw rawConfig

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	default:
		// Expand ${VAR} references in the YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	}

	cfg := &Config{
		DatabaseURL: firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),
		RedisURL:    firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		EventsQueue: firstNonEmpty(raw.Redis.Queues.Events, envOrDefault("EVENTS_QUEUE", "helpdesk-events")),
		LockTTL:     envOrDefaultDuration("LOCK_TTL", 2*time.Minute),
		Port:        envOrDefaultInt("PORT", 8080),
		Strict:      envOrDefaultBool("API_STRICT", true),
		BodyLimit:   firstNonEmpty(raw.API.BodyLimit, envOrDefault("BODY_LIMIT", "25M")),

		MaxAttachmentSize:    raw.Attachments.MaxSize,
		RejectOnAttachErrors: raw.Attachments.RejectOnError,
		PipeEmailID:          raw.Pipe.EmailID,

		MessageIDDomain: firstNonEmpty(raw.Outbound.MessageIDDomain, os.Getenv("MESSAGE_ID_DOMAIN")),

		GraphBaseURL:    firstNonEmpty(raw.Graph.BaseURL, os.Getenv("GRAPH_BASE_URL")),
		MaxMessageBytes: raw.Graph.MaxMessageBytes,
	}
	if raw.Redis.LockTTL != "" {
		d, err := time.ParseDuration(raw.Redis.LockTTL)
		if err != nil {
			return nil, fmt.Errorf("parse redis.lock_ttl: %w", err)
		}
		cfg.LockTTL = d
	}
	if raw.API.Port != 0 {
		cfg.Port = raw.API.Port
	}
	if raw.API.Strict != nil {
		cfg.Strict = *raw.API.Strict
	}
	if cfg.PipeEmailID == 0 {
		cfg.PipeEmailID = int64(envOrDefaultInt("PIPE_EMAIL_ID", 0))
	}

	for _, m := range raw.Mailboxes {
		// Skip mailboxes with empty credentials (commented out in YAML)
		if m.TenantID == "" || m.ClientID == "" || m.ClientSecret == "" {
			continue
		}
		mc := MailboxConfig{
			Alias:        m.Alias,
			TenantID:     m.TenantID,
			ClientID:     m.ClientID,
			ClientSecret: m.ClientSecret,
			User:         m.User,
			ClientState:  m.ClientState,
			EmailID:      m.EmailID,
		}
		if mc.Alias == "" {
			mc.Alias = strings.ToLower(strings.SplitN(mc.User, "@", 2)[0])
		}
		cfg.Mailboxes = append(cfg.Mailboxes, mc)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings and value ranges.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	seen := make(map[string]bool, len(c.Mailboxes))
	for _, m := range c.Mailboxes {
		if seen[m.Alias] {
			return fmt.Errorf("invalid configuration: duplicate mailbox alias %q", m.Alias)
		}
		seen[m.Alias] = true
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
