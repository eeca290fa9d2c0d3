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

	"llmfirewall/platform/shared/logger"
)

// Tier is a scope at which the limiter keeps independent counters.
type Tier string

const (
	TierGlobal Tier = "global"
	TierClient Tier = "client"
	TierAPIKey Tier = "api_key"
)

// The global tier still needs an identifier segment in its bucket keys.
const globalIdentifier = "global"

// ParseTier validates a tier name from the admin API.
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierGlobal, TierClient, TierAPIKey:
		return Tier(s), nil
	default:
		return "", fmt.Errorf("unknown rate limit tier %q", s)
	}
}

// Decision is the immutable outcome of one rate-limit check.
type Decision struct {
	Allowed    bool
	Tier       Tier
	Limit      int
	Remaining  int
	Reset      int64 // unix seconds when the window rolls over
	RetryAfter int   // seconds; set only on denial
	FailOpen   bool  // store was unreachable; no headers should be emitted
}

// TierStatus is a read-only view of one bucket, for the admin API.
type TierStatus struct {
	Tier       Tier   `json:"tier"`
	Identifier string `json:"identifier"`
	Limit      int    `json:"limit"`
	Used       int64  `json:"used"`
	Remaining  int64  `json:"remaining"`
	Reset      int64  `json:"reset"`
}

// RateLimiter enforces three fixed-window tiers over the shared store:
// global, then per-caller, then per-API-key (only when a key is presented).
// Tiers are checked in that order and the first denial short-circuits —
// counters of later tiers do not move. Windows align to epoch boundaries
// (windowStart = now − now mod window) so every gateway instance agrees on
// bucket identity.
//
// The store is advisory: if any store call fails, the limiter admits the
// request and reports FailOpen so the caller suppresses the headers. The
// gateway must not become a single point of failure for a soft cap.
type RateLimiter struct {
	store *RateLimitStore
	cfg   RateLimitConfig
	log   *logger.Logger
}

// NewRateLimiter wires the limiter to its store and tier configuration.
func NewRateLimiter(store *RateLimitStore, cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		store: store,
		cfg:   cfg,
		log:   logger.New("rate-limiter"),
	}
}

type tierCheck struct {
	tier  Tier
	id    string
	limit TierLimit
}

// Check runs the tier cascade for one request. callerFingerprint is the
// hashed client IP; keyFingerprint is the hashed API key or "" when the
// request is unkeyed. The returned decision comes from the denying tier,
// or, when every tier allows, from the tightest evaluated tier (fewest
// requests remaining) so the headers always show the binding constraint.
func (rl *RateLimiter) Check(ctx context.Context, callerFingerprint, keyFingerprint string) Decision {
	now := time.Now()

	checks := []tierCheck{
		{TierGlobal, globalIdentifier, rl.cfg.Global},
		{TierClient, callerFingerprint, rl.cfg.PerClient},
	}
	if keyFingerprint != "" {
		checks = append(checks, tierCheck{TierAPIKey, keyFingerprint, rl.cfg.PerAPIKey})
	}

	var tightest Decision
	for i, tc := range checks {
		d, err := rl.checkTier(ctx, tc, now)
		if err != nil {
			rl.log.Warn("", "rate limit store unavailable, admitting request", map[string]interface{}{
				"tier":  string(tc.tier),
				"error": err.Error(),
			})
			return Decision{Allowed: true, FailOpen: true}
		}
		if !d.Allowed {
			return d
		}
		if i == 0 || d.Remaining < tightest.Remaining {
			tightest = d
		}
	}
	return tightest
}

func (rl *RateLimiter) checkTier(ctx context.Context, tc tierCheck, now time.Time) (Decision, error) {
	windowStart := windowStart(now, tc.limit.WindowSeconds)
	key := bucketKey(tc.tier, tc.id, windowStart)

	count, _, err := rl.store.IncrementWithTTL(ctx, key, tc.limit.WindowSeconds)
	if err != nil {
		return Decision{}, err
	}

	reset := windowStart + int64(tc.limit.WindowSeconds)
	d := Decision{
		Tier:  tc.tier,
		Limit: tc.limit.Max,
		Reset: reset,
	}
	// Increment-before-check: the counter has already advanced, so a denied
	// caller still burns budget. That is the fixed-window trade-off.
	if count > int64(tc.limit.Max) {
		d.Allowed = false
		d.Remaining = 0
		d.RetryAfter = int(reset - now.Unix())
		if d.RetryAfter < 1 {
			d.RetryAfter = 1
		}
		return d, nil
	}
	d.Allowed = true
	d.Remaining = tc.limit.Max - int(count)
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	return d, nil
}

// Status reads the current window's bucket without incrementing it.
func (rl *RateLimiter) Status(ctx context.Context, tier Tier, identifier string) (TierStatus, error) {
	limit, err := rl.limitFor(tier)
	if err != nil {
		return TierStatus{}, err
	}

	now := time.Now()
	start := windowStart(now, limit.WindowSeconds)
	count, err := rl.store.Count(ctx, bucketKey(tier, identifier, start))
	if err != nil {
		return TierStatus{}, err
	}

	remaining := int64(limit.Max) - count
	if remaining < 0 {
		remaining = 0
	}
	return TierStatus{
		Tier:       tier,
		Identifier: identifier,
		Limit:      limit.Max,
		Used:       count,
		Remaining:  remaining,
		Reset:      start + int64(limit.WindowSeconds),
	}, nil
}

// Reset deletes every bucket for (tier, identifier) across all windows and
// reports how many buckets existed.
func (rl *RateLimiter) Reset(ctx context.Context, tier Tier, identifier string) (int64, error) {
	if _, err := rl.limitFor(tier); err != nil {
		return 0, err
	}
	prefix := fmt.Sprintf("rate_limit:%s:%s:", tier, identifier)
	keys, err := rl.store.KeysMatching(ctx, prefix)
	if err != nil {
		return 0, err
	}
	return rl.store.Delete(ctx, keys...)
}

func (rl *RateLimiter) limitFor(tier Tier) (TierLimit, error) {
	switch tier {
	case TierGlobal:
		return rl.cfg.Global, nil
	case TierClient:
		return rl.cfg.PerClient, nil
	case TierAPIKey:
		return rl.cfg.PerAPIKey, nil
	default:
		return TierLimit{}, fmt.Errorf("unknown rate limit tier %q", tier)
	}
}

func windowStart(now time.Time, windowSeconds int) int64 {
	epoch := now.Unix()
	return epoch - (epoch % int64(windowSeconds))
}

func bucketKey(tier Tier, identifier string, windowStart int64) string {
	return fmt.Sprintf("rate_limit:%s:%s:%d", tier, identifier, windowStart)
}
