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

package quota

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/StarkFactory/arcreactor/pkg/config"
	"github.com/StarkFactory/arcreactor/pkg/ratelimit"
)

// NewLocalTier builds the first tier: an in-process monthly counter.
// This is the cheapest, always-available layer; its circuit breaker
// should rarely if ever open since it has no external dependency.
func NewLocalTier(cfg config.QuotaConfig) (Tier, error) {
	limiter, err := ratelimit.NewMonthlyQuotaLimiter(cfg.MonthlyTokenLimit, cfg.MonthlyRequestLimit, ratelimit.NewMemoryStore())
	if err != nil {
		return nil, fmt.Errorf("quota: building local tier: %w", err)
	}
	return NewRateLimiterTier(limiter), nil
}

// NewCacheTier builds the second tier: a Redis-backed monthly counter
// shared across every engine instance.
func NewCacheTier(cfg config.QuotaConfig, client *redis.Client) (Tier, error) {
	limiter, err := ratelimit.NewMonthlyQuotaLimiter(cfg.MonthlyTokenLimit, cfg.MonthlyRequestLimit, ratelimit.NewRedisStore(client, ""))
	if err != nil {
		return nil, fmt.Errorf("quota: building cache tier: %w", err)
	}
	return NewRateLimiterTier(limiter), nil
}

// NewDurableTier builds the third tier: a SQL-backed monthly counter,
// the tenant-of-record for billing once the cache tier is unavailable.
func NewDurableTier(cfg config.QuotaConfig, store ratelimit.Store) (Tier, error) {
	limiter, err := ratelimit.NewMonthlyQuotaLimiter(cfg.MonthlyTokenLimit, cfg.MonthlyRequestLimit, store)
	if err != nil {
		return nil, fmt.Errorf("quota: building durable tier: %w", err)
	}
	return NewRateLimiterTier(limiter), nil
}
