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
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRedis implements the handful of commands the filter and lock use.
type memRedis struct {
	redis.Cmdable
	data map[string]string
	err  error
}

func newMemRedis() *memRedis {
	return &memRedis{data: make(map[string]string)}
}

func (m *memRedis) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	if m.err != nil {
		return redis.NewBoolResult(false, m.err)
	}
	if _, ok := m.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = toString(value)
	return redis.NewBoolResult(true, nil)
}

func (m *memRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			delete(m.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, m.err)
}

func (m *memRedis) EvalSha(context.Context, string, []string, ...interface{}) *redis.Cmd {
	return redis.NewCmdResult(nil, redisError("NOSCRIPT No matching script. Please use EVAL."))
}

type redisError string

func (e redisError) Error() string { return string(e) }
func (redisError) RedisError() {}

// Eval emulates the compare-and-delete release script.
func (m *memRedis) Eval(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	if m.err != nil {
		return redis.NewCmdResult(nil, m.err)
	}
	if v, ok := m.data[keys[0]]; ok && v == toString(args[0]) {
		delete(m.data, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		return "1"
	}
}

func TestFilter(t *testing.T) {
	ctx := context.Background()
	f := NewFilter(newMemRedis())

	first, err := f.IsNew(ctx, "support", "AAMkAD1")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := f.IsNew(ctx, "support", "AAMkAD1")
	require.NoError(t, err)
	assert.False(t, again)

	require.NoError(t, f.Forget(ctx, "support", "AAMkAD1"))
	retried, err := f.IsNew(ctx, "support", "AAMkAD1")
	require.NoError(t, err)
	assert.True(t, retried)
}

func TestFilter_KeyedPerMailbox(t *testing.T) {
	ctx := context.Background()
	rdb := newMemRedis()
	f := NewFilter(rdb)

	_, err := f.IsNew(ctx, "support", "AAMkAD1")
	require.NoError(t, err)
	other, err := f.IsNew(ctx, "billing", "AAMkAD1")
	require.NoError(t, err)
	assert.True(t, other, "the same Graph id in another mailbox is a different message")

	assert.Contains(t, rdb.data, "helpdesk:notified:support:AAMkAD1")
}

func TestFilter_RedisError(t *testing.T) {
	rdb := newMemRedis()
	rdb.err = errors.New("connection refused")

	_, err := NewFilter(rdb).IsNew(context.Background(), "support", "AAMkAD1")
	assert.ErrorContains(t, err, "connection refused")
}

func TestLock(t *testing.T) {
	ctx := context.Background()
	rdb := newMemRedis()
	l := NewLock(rdb, 0)
	assert.Equal(t, DefaultLockTTL, l.ttl)

	token, ok, err := l.Acquire(ctx, "m1@example.com")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, token)
	assert.Equal(t, token, rdb.data[LockKey("m1@example.com")])

	_, ok, err = l.Acquire(ctx, "m1@example.com")
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be refused")

	// A stale token does not release the current holder.
	require.NoError(t, l.Release(ctx, "m1@example.com", "stale"))
	assert.Contains(t, rdb.data, LockKey("m1@example.com"))

	require.NoError(t, l.Release(ctx, "m1@example.com", token))
	assert.NotContains(t, rdb.data, LockKey("m1@example.com"))

	_, ok, err = l.Acquire(ctx, "m1@example.com")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLock_RedisError(t *testing.T) {
	rdb := newMemRedis()
	rdb.err = errors.New("connection refused")
	l := NewLock(rdb, time.Minute)

	_, ok, err := l.Acquire(context.Background(), "m1")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Error(t, l.Release(context.Background(), "m1", "tok"))
}
