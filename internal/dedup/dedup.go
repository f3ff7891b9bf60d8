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

// Package dedup guards against processing the same inbound email twice.
// Filter drops Graph change notifications for a mailbox message that was
// already handed to intake. Lock serializes the processing of one
// Message-ID across concurrent deliveries.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long a handled message is remembered. Graph
	// retries undelivered notifications for up to four hours.
	DefaultTTL = 24 * time.Hour

	notificationPrefix = "helpdesk:notified:"
)

// Filter remembers which Graph messages have been handed to intake, per
// mailbox. Graph sends one notification per subscription and may resend
// it, so the same message id can arrive several times.
type Filter struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewFilter creates a notification filter backed by Redis keys that expire
// after DefaultTTL.
func NewFilter(rdb redis.Cmdable) *Filter {
	return &Filter{
		rdb: rdb,
		ttl: DefaultTTL,
	}
}

// IsNew reports whether no notification for messageID in mailbox has been
// handled yet, and claims it if so.
func (f *Filter) IsNew(ctx context.Context, mailbox, messageID string) (bool, error) {
	set, err := f.rdb.SetNX(ctx, notificationKey(mailbox, messageID), 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim notification: %w", err)
	}
	return set, nil
}

// Forget releases the claim on messageID so Graph's next resend of the
// notification is processed. Called when delivery failed transiently.
func (f *Filter) Forget(ctx context.Context, mailbox, messageID string) error {
	if err := f.rdb.Del(ctx, notificationKey(mailbox, messageID)).Err(); err != nil {
		return fmt.Errorf("release notification: %w", err)
	}
	return nil
}

func notificationKey(mailbox, messageID string) string {
	return notificationPrefix + mailbox + ":" + messageID
}
