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

// Package queue publishes ticket events to Redis lists. Alert and
// auto-response workers consume them with BRPOP.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/helpdesk/internal/models"
)

// Publisher pushes events onto a Redis list.
type Publisher struct {
	rdb       redis.Cmdable
	queueName string
}

// NewPublisher creates a publisher targeting the named list.
func NewPublisher(rdb redis.Cmdable, queueName string) *Publisher {
	return &Publisher{
		rdb:       rdb,
		queueName: queueName,
	}
}

// message is the queued envelope. Delivery metadata stays outside the
// event so workers can retry without rewriting it.
type message struct {
	ID         string       `json:"id"`
	Queue      string       `json:"queue"`
	Type       string       `json:"type"`
	Retries    int          `json:"retries"`
	EnqueuedAt time.Time    `json:"enqueued_at"`
	Event      models.Event `json:"event"`
}

func (p *Publisher) envelope(ev models.Event) message {
	return message{
		ID:         uuid.NewString(),
		Queue:      p.queueName,
		Type:       ev.Type,
		EnqueuedAt: time.Now().UTC(),
		Event:      ev,
	}
}

// PublishEvent serialises ev and pushes it onto the queue.
func (p *Publisher) PublishEvent(ctx context.Context, ev models.Event) error {
	msg := p.envelope(ev)
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.rdb.LPush(ctx, p.queueName, body).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Info("published ticket event",
		"event_id", msg.ID,
		"type", ev.Type,
		"number", ev.Number,
		"queue", p.queueName,
	)
	return nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
