// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the cache tier Store, backing the Quota Enforcer's
// second tier (§4.9). Each usage counter is one redis key holding the
// amount; the key's own TTL doubles as the window end, recovered via
// PTTL so a cache eviction is indistinguishable from window expiry —
// either way the counter resets to zero, which is the desired
// fail-open behavior for a cache tier.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing client. prefix namespaces keys so a
// shared redis instance can host more than one engine deployment.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "arcreactor:quota:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(scope Scope, identifier string, limitType LimitType, window TimeWindow) string {
	return fmt.Sprintf("%s%s:%s:%s:%s", s.prefix, scope, identifier, limitType, window)
}

func (s *RedisStore) GetUsage(ctx context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow) (int64, time.Time, error) {
	key := s.key(scope, identifier, limitType, window)

	pipe := s.client.TxPipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	_, err := pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		return 0, time.Time{}, fmt.Errorf("redis pipeline failed: %w", err)
	}

	amount, err := getCmd.Int64()
	if err == redis.Nil {
		return 0, time.Now().Add(window.Duration()), nil
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to read usage: %w", err)
	}

	ttl := ttlCmd.Val()
	if ttl <= 0 {
		return 0, time.Now().Add(window.Duration()), nil
	}
	return amount, time.Now().Add(ttl), nil
}

func (s *RedisStore) IncrementUsage(ctx context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow, amount int64) (int64, time.Time, error) {
	key := s.key(scope, identifier, limitType, window)

	newAmount, err := s.client.IncrBy(ctx, key, amount).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to increment usage: %w", err)
	}

	// NX so an already-windowed key keeps its existing expiry.
	ok, err := s.client.ExpireNX(ctx, key, window.Duration()).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to set window expiry: %w", err)
	}
	if ok {
		return newAmount, time.Now().Add(window.Duration()), nil
	}

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to read window expiry: %w", err)
	}
	if ttl <= 0 {
		return newAmount, time.Now().Add(window.Duration()), nil
	}
	return newAmount, time.Now().Add(ttl), nil
}

func (s *RedisStore) SetUsage(ctx context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow, amount int64, windowEnd time.Time) error {
	key := s.key(scope, identifier, limitType, window)
	ttl := time.Until(windowEnd)
	if ttl <= 0 {
		ttl = window.Duration()
	}
	if err := s.client.Set(ctx, key, strconv.FormatInt(amount, 10), ttl).Err(); err != nil {
		return fmt.Errorf("failed to set usage: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteUsage(ctx context.Context, scope Scope, identifier string) error {
	pattern := fmt.Sprintf("%s%s:%s:*", s.prefix, scope, identifier)
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan usage keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete usage: %w", err)
	}
	return nil
}

// DeleteExpired is a no-op: redis expires keys itself via their TTL.
func (s *RedisStore) DeleteExpired(ctx context.Context, before time.Time) error { return nil }

// Close does not close the shared client, which may back other
// components.
func (s *RedisStore) Close() error { return nil }
