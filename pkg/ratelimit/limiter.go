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

// Package ratelimit backs two distinct Arc Reactor call sites with one
// sliding-window counter engine: the Guard Pipeline's per-user
// requests-per-minute/requests-per-hour stage (spec.md §4.1 stage 1)
// and the Quota Enforcer's per-tenant monthly-limit tier (spec.md
// §4.2). Both are "how many of X has subject Y done in window Z"
// checks over the same Scope/LimitType/TimeWindow vocabulary; only the
// Scope (ScopeUser vs. a tenant-keyed ScopeUser call) and the
// configured Limits differ between the two call sites.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Config holds the limit rules for one DefaultRateLimiter instance. The
// Guard Pipeline and the Quota Enforcer each construct their own Config
// (different Limits, same Store machinery) rather than sharing one.
type Config struct {
	// Enabled controls whether this limiter actively rejects subjects
	// that exceed a rule, or always reports Allowed (a disabled guard
	// stage/quota tier is a no-op, not an error).
	Enabled bool

	// Limits defines the rate limit rules checked for every subject.
	Limits []LimitRule
}

// LimitRule defines a single rate limit rule: how many of LimitType a
// subject may accrue within Window before CheckAndRecord starts
// rejecting.
type LimitRule struct {
	// Type is the limit type (token or count).
	Type LimitType

	// Window is the time window for this limit.
	Window TimeWindow

	// Limit is the maximum allowed in the window.
	Limit int64
}

// DefaultRateLimiter implements the RateLimiter interface over a
// pluggable Store, so the same sliding-window logic backs the guard's
// in-memory counters and the quota tier's Redis/SQL-backed counters
// without duplicating the check-then-record arithmetic.
type DefaultRateLimiter struct {
	config *Config
	store  Store
	mu     sync.RWMutex
}

// Validate checks that every limit rule is well-formed. Enabled=false
// with zero rules is valid (the guard stage or quota tier is simply
// off); Enabled=true requires at least one rule, since an enabled
// limiter with nothing to enforce is almost certainly a configuration
// mistake in arcreactor.yaml.
func (c *Config) Validate() error {
	if c.Enabled && len(c.Limits) == 0 {
		return fmt.Errorf("rate limiting is enabled but no limits are configured")
	}
	for i, limit := range c.Limits {
		switch limit.Type {
		case LimitTypeToken, LimitTypeCount:
		default:
			return fmt.Errorf("limit[%d]: invalid type %q", i, limit.Type)
		}
		switch limit.Window {
		case WindowMinute, WindowHour, WindowDay, WindowWeek, WindowMonth:
		default:
			return fmt.Errorf("limit[%d]: invalid window %q", i, limit.Window)
		}
		if limit.Limit <= 0 {
			return fmt.Errorf("limit[%d]: limit must be positive", i)
		}
	}
	return nil
}

// NewRateLimiter creates a new rate limiter with the given configuration and store.
func NewRateLimiter(cfg *Config, store Store) (*DefaultRateLimiter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	if store == nil {
		return nil, fmt.Errorf("store is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &DefaultRateLimiter{
		config: cfg,
		store:  store,
	}, nil
}

// Check reports whether subjectID (a userID for the guard's ScopeUser
// checks, a tenantID for the quota tier's checks) is currently within
// every configured limit, without recording new usage.
func (rl *DefaultRateLimiter) Check(ctx context.Context, scope Scope, subjectID string) (*CheckResult, error) {
	if !rl.config.Enabled {
		return &CheckResult{Allowed: true}, nil
	}

	if subjectID == "" {
		return nil, fmt.Errorf("subject id cannot be empty")
	}

	rl.mu.RLock()
	defer rl.mu.RUnlock()

	return rl.checkUnlocked(ctx, scope, subjectID)
}

// Record records actual usage (tokens and/or count) for subjectID.
func (rl *DefaultRateLimiter) Record(ctx context.Context, scope Scope, subjectID string, tokenCount int64, requestCount int64) error {
	if !rl.config.Enabled {
		return nil
	}

	if subjectID == "" {
		return fmt.Errorf("subject id cannot be empty")
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	return rl.recordUnlocked(ctx, scope, subjectID, tokenCount, requestCount)
}

// CheckAndRecord checks limits and records usage in a single atomic
// operation. This is the entry point both the Guard Pipeline's
// RateLimitStage and the Quota Enforcer's RateLimiterTier call: a
// non-blocking admit-or-reject decision for one subject, with the
// admitted request's usage recorded in the same critical section so
// concurrent callers for the same subjectID never race past a limit.
func (rl *DefaultRateLimiter) CheckAndRecord(ctx context.Context, scope Scope, subjectID string, tokenCount int64, requestCount int64) (*CheckResult, error) {
	if !rl.config.Enabled {
		return &CheckResult{Allowed: true}, nil
	}

	// Lock for atomic check-and-record
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// First check current state
	result, err := rl.checkUnlocked(ctx, scope, subjectID)
	if err != nil {
		return nil, err
	}

	// If not allowed, return without recording
	if !result.Allowed {
		return result, nil
	}

	// Record usage
	if err := rl.recordUnlocked(ctx, scope, subjectID, tokenCount, requestCount); err != nil {
		return nil, fmt.Errorf("failed to record usage: %w", err)
	}

	// Re-check to update usage stats in result
	result, err = rl.checkUnlocked(ctx, scope, subjectID)
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetUsage returns current usage statistics for subjectID, used by
// diagnostics surfaces to show a tenant or user how close they are to
// their configured limits.
func (rl *DefaultRateLimiter) GetUsage(ctx context.Context, scope Scope, subjectID string) ([]Usage, error) {
	if !rl.config.Enabled {
		return []Usage{}, nil
	}

	if subjectID == "" {
		return nil, fmt.Errorf("subject id cannot be empty")
	}

	rl.mu.RLock()
	defer rl.mu.RUnlock()

	usages := make([]Usage, 0, len(rl.config.Limits))
	now := time.Now()

	for _, limit := range rl.config.Limits {
		current, windowEnd, err := rl.store.GetUsage(ctx, scope, subjectID, limit.Type, limit.Window)
		if err != nil {
			return nil, fmt.Errorf("failed to get usage for %s/%s: %w", limit.Type, limit.Window, err)
		}

		// If window has expired, reset to 0
		if windowEnd.Before(now) {
			current = 0
			windowEnd = now.Add(limit.Window.Duration())
		}

		remaining := limit.Limit - current
		if remaining < 0 {
			remaining = 0
		}

		percentage := float64(current) / float64(limit.Limit) * 100

		usages = append(usages, Usage{
			LimitType:  limit.Type,
			Window:     limit.Window,
			Current:    current,
			Limit:      limit.Limit,
			WindowEnd:  windowEnd,
			Remaining:  remaining,
			Percentage: percentage,
		})
	}

	return usages, nil
}

// Reset resets usage for subjectID, e.g. an admin override clearing a
// tenant's quota tier after a billing dispute.
func (rl *DefaultRateLimiter) Reset(ctx context.Context, scope Scope, subjectID string) error {
	if subjectID == "" {
		return fmt.Errorf("subject id cannot be empty")
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	return rl.store.DeleteUsage(ctx, scope, subjectID)
}

// ResetExpired removes expired usage records.
func (rl *DefaultRateLimiter) ResetExpired(ctx context.Context, before time.Time) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return rl.store.DeleteExpired(ctx, before)
}

// checkUnlocked is the unlocked version of Check, shared by Check and
// the check-then-record sequence in CheckAndRecord.
func (rl *DefaultRateLimiter) checkUnlocked(ctx context.Context, scope Scope, subjectID string) (*CheckResult, error) {
	result := &CheckResult{
		Allowed: true,
		Usages:  make([]Usage, 0, len(rl.config.Limits)),
	}

	now := time.Now()
	var earliestRetry *time.Time

	for _, limit := range rl.config.Limits {
		current, windowEnd, err := rl.store.GetUsage(ctx, scope, subjectID, limit.Type, limit.Window)
		if err != nil {
			return nil, fmt.Errorf("failed to get usage for %s/%s: %w", limit.Type, limit.Window, err)
		}

		// If window has expired, reset to 0
		if windowEnd.Before(now) {
			current = 0
			windowEnd = now.Add(limit.Window.Duration())
		}

		remaining := limit.Limit - current
		if remaining < 0 {
			remaining = 0
		}

		percentage := float64(current) / float64(limit.Limit) * 100

		usage := Usage{
			LimitType:  limit.Type,
			Window:     limit.Window,
			Current:    current,
			Limit:      limit.Limit,
			WindowEnd:  windowEnd,
			Remaining:  remaining,
			Percentage: percentage,
		}

		result.Usages = append(result.Usages, usage)

		// Check if limit is exceeded (strictly greater than)
		if current > limit.Limit {
			result.Allowed = false
			if result.Reason == "" {
				result.Reason = fmt.Sprintf("%s limit exceeded for %s window (%d/%d)",
					limit.Type, limit.Window, current, limit.Limit)
			}
			// Track earliest retry time
			if earliestRetry == nil || windowEnd.Before(*earliestRetry) {
				earliestRetry = &windowEnd
			}
		}
	}

	// Set retry after if any limit was exceeded
	if !result.Allowed && earliestRetry != nil {
		retryDuration := time.Until(*earliestRetry)
		if retryDuration > 0 {
			result.RetryAfter = &retryDuration
		}
	}

	return result, nil
}

// recordUnlocked is the unlocked version of Record, shared by Record
// and the record step inside CheckAndRecord.
func (rl *DefaultRateLimiter) recordUnlocked(ctx context.Context, scope Scope, subjectID string, tokenCount int64, requestCount int64) error {
	now := time.Now()

	for _, limit := range rl.config.Limits {
		var amount int64
		switch limit.Type {
		case LimitTypeToken:
			amount = tokenCount
		case LimitTypeCount:
			amount = requestCount
		default:
			continue
		}

		if amount <= 0 {
			continue
		}

		_, windowEnd, err := rl.store.GetUsage(ctx, scope, subjectID, limit.Type, limit.Window)
		if err != nil {
			return fmt.Errorf("failed to get usage for %s/%s: %w", limit.Type, limit.Window, err)
		}

		// If window has expired, reset
		if windowEnd.Before(now) {
			windowEnd = now.Add(limit.Window.Duration())
			if err := rl.store.SetUsage(ctx, scope, subjectID, limit.Type, limit.Window, amount, windowEnd); err != nil {
				return fmt.Errorf("failed to reset usage for %s/%s: %w", limit.Type, limit.Window, err)
			}
			continue
		}

		_, _, err = rl.store.IncrementUsage(ctx, scope, subjectID, limit.Type, limit.Window, amount)
		if err != nil {
			return fmt.Errorf("failed to increment usage for %s/%s: %w", limit.Type, limit.Window, err)
		}
	}

	return nil
}

// IsEnabled returns whether rate limiting is enabled.
func (rl *DefaultRateLimiter) IsEnabled() bool {
	return rl.config.Enabled
}

// Store returns the underlying store (for testing).
func (rl *DefaultRateLimiter) Store() Store {
	return rl.store
}
