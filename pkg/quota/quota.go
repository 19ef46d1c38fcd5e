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

// Package quota implements the Quota Enforcer (spec.md §4.2, §6, §7):
// a per-tenant monthly limit check backed by three tiers — a local
// in-process counter, a shared cache, and a durable store — each
// protected by its own circuit breaker. Any tier failing falls through
// to the next; all three failing allows the request (fail-open by
// design). A definitive over-limit reading from any tier rejects.
package quota

import (
	"context"
	"log/slog"
	"sync"

	"github.com/StarkFactory/arcreactor/pkg/circuitbreaker"
	"github.com/StarkFactory/arcreactor/pkg/config"
	arcerrors "github.com/StarkFactory/arcreactor/pkg/errors"
	"github.com/StarkFactory/arcreactor/pkg/ratelimit"
)

// Tier is one of the three layers the Enforcer consults in order.
type Tier interface {
	Allow(ctx context.Context, tenantID string) (allowed bool, err error)
}

// RateLimiterTier adapts a pkg/ratelimit.RateLimiter (request-count
// limiting, scoped per tenant as a ratelimit.Scope) into a Tier.
type RateLimiterTier struct {
	limiter ratelimit.RateLimiter
}

// NewRateLimiterTier wraps limiter.
func NewRateLimiterTier(limiter ratelimit.RateLimiter) *RateLimiterTier {
	return &RateLimiterTier{limiter: limiter}
}

func (t *RateLimiterTier) Allow(ctx context.Context, tenantID string) (bool, error) {
	result, err := t.limiter.CheckAndRecord(ctx, ratelimit.ScopeUser, tenantID, 0, 1)
	if err != nil {
		return false, err
	}
	return result.Allowed, nil
}

// Enforcer is the three-tier, circuit-breaker-gated quota check.
type Enforcer struct {
	mu    sync.Mutex
	tiers []guardedTier
}

type guardedTier struct {
	tier    Tier
	breaker *circuitbreaker.Breaker
}

// New builds an Enforcer with one circuit breaker per tier, in the
// order they should be consulted (local → shared cache → durable).
func New(cbCfg config.CircuitBreakerConfig, tiers ...Tier) *Enforcer {
	e := &Enforcer{}
	for i, t := range tiers {
		bcfg := circuitbreaker.Config{
			Name:             tierName(i),
			FailureThreshold: cbCfg.FailureThreshold,
			ResetTimeout:     cbCfg.ResetTimeout,
			HalfOpenMaxCalls: cbCfg.HalfOpenMaxCalls,
		}
		e.tiers = append(e.tiers, guardedTier{tier: t, breaker: circuitbreaker.New(bcfg)})
	}
	return e
}

func tierName(i int) string {
	switch i {
	case 0:
		return "quota.local"
	case 1:
		return "quota.cache"
	default:
		return "quota.durable"
	}
}

// Allow satisfies hooks.QuotaChecker. It consults tiers in order; the
// first tier whose breaker allows a call and that returns without
// error produces the verdict. If every tier is unavailable (breaker
// open or call error), the request is allowed (fail-open by explicit
// design — spec.md §4.2/§7).
func (e *Enforcer) Allow(ctx context.Context, tenantID string) (bool, error) {
	e.mu.Lock()
	tiers := append([]guardedTier(nil), e.tiers...)
	e.mu.Unlock()

	for _, gt := range tiers {
		if gt.breaker.State() == circuitbreaker.Open {
			continue
		}
		allowed, err := circuitbreaker.ExecuteWithResult(gt.breaker, ctx, func(ctx context.Context) (bool, error) {
			return gt.tier.Allow(ctx, tenantID)
		})
		if err != nil {
			if arcerrors.IsCancellation(err) {
				return false, err
			}
			slog.Warn("quota tier unavailable, falling through", "tier", gt.breaker.Stats().Name, "tenant", tenantID, "error", err)
			continue
		}
		return allowed, nil
	}

	slog.Warn("all quota tiers unavailable, failing open", "tenant", tenantID)
	return true, nil
}

// Stats returns a point-in-time snapshot of each tier's breaker, used
// by the admin diagnostics accessor (SPEC_FULL.md §12).
func (e *Enforcer) Stats() []circuitbreaker.Stats {
	e.mu.Lock()
	tiers := append([]guardedTier(nil), e.tiers...)
	e.mu.Unlock()

	out := make([]circuitbreaker.Stats, 0, len(tiers))
	for _, gt := range tiers {
		out = append(out, gt.breaker.Stats())
	}
	return out
}
