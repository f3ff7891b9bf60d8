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

package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultLockTTL bounds how long a crashed holder blocks a message id.
	DefaultLockTTL = 2 * time.Minute

	lockPrefix = "helpdesk:lock:mid:"
)

// releaseScript deletes the key only while it still holds the caller's
// token, so an expired holder cannot release a successor's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock is a per-message-id mutex held in Redis.
type Lock struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewLock creates a message id lock. A non-positive ttl selects
// DefaultLockTTL.
func NewLock(rdb redis.Cmdable, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &Lock{rdb: rdb, ttl: ttl}
}

// Acquire takes the lock for key. ok is false when another holder has it.
func (l *Lock) Acquire(ctx context.Context, key string) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = l.rdb.SetNX(ctx, LockKey(key), token, l.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("lock SETNX: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release frees the lock if token still holds it.
func (l *Lock) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{LockKey(key)}, token).Err(); err != nil {
		return fmt.Errorf("lock release: %w", err)
	}
	return nil
}

// LockKey returns the Redis key guarding a message id.
func LockKey(mid string) string {
	return lockPrefix + mid
}
