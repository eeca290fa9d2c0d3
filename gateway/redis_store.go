// Copyright 2025 LLM Firewall Project
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

package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RateLimitStore is the Redis client behind the rate limiter. All errors it
// returns are transport errors; callers treat them as soft failures (the
// limiter fails open, never the request).
type RateLimitStore struct {
	client *redis.Client
}

// NewRateLimitStore connects to Redis using a URL of the form
// redis://host:port/db.
func NewRateLimitStore(redisURL string) (*RateLimitStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("rate limit store: parse redis url: %w", err)
	}
	return &RateLimitStore{client: redis.NewClient(opts)}, nil
}

// IncrementWithTTL increments key and reads its TTL in one pipelined
// round-trip, so the counter is atomic against the shared store. A key that
// reports no expiry — it was just created by this increment — gets an
// explicit expiry of windowSeconds so a bucket can never leak past its
// window. Returns the post-increment count and the seconds until the bucket
// expires.
func (s *RateLimitStore) IncrementWithTTL(ctx context.Context, key string, windowSeconds int) (int64, int64, error) {
	pipe := s.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	ttl := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("rate limit store: increment %s: %w", key, err)
	}

	count := incr.Val()
	expiry := ttl.Val()
	if expiry < 0 {
		window := time.Duration(windowSeconds) * time.Second
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("rate limit store: set expiry on %s: %w", key, err)
		}
		expiry = window
	}
	return count, int64(expiry / time.Second), nil
}

// Count reads a bucket without incrementing it. Missing keys count as zero.
func (s *RateLimitStore) Count(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("rate limit store: get %s: %w", key, err)
	}
	return n, nil
}

// KeysMatching lists every key starting with prefix.
func (s *RateLimitStore) KeysMatching(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.client.Keys(ctx, prefix+"*").Result()
	if err != nil {
		return nil, fmt.Errorf("rate limit store: keys %s*: %w", prefix, err)
	}
	return keys, nil
}

// Delete removes keys and reports how many existed.
func (s *RateLimitStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	removed, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("rate limit store: delete %d keys: %w", len(keys), err)
	}
	return removed, nil
}

// Healthy reports whether the store answers a ping.
func (s *RateLimitStore) Healthy(ctx context.Context) bool {
	return s.client.Ping(ctx).Err() == nil
}

// Close releases the connection pool.
func (s *RateLimitStore) Close() error {
	return s.client.Close()
}
