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

// NewGuardRateLimiter builds the per-minute/per-hour request limiter
// used by the Guard Pipeline's rate-limit stage (§4.1). The limiter
// itself carries no scope: each CheckAndRecord call passes one, and the
// guard stage passes ScopeUser, so each user gets its own request budget.
func NewGuardRateLimiter(requestsPerMinute, requestsPerHour int) (*DefaultRateLimiter, error) {
	var limits []LimitRule
	if requestsPerMinute > 0 {
		limits = append(limits, LimitRule{Type: LimitTypeCount, Window: WindowMinute, Limit: int64(requestsPerMinute)})
	}
	if requestsPerHour > 0 {
		limits = append(limits, LimitRule{Type: LimitTypeCount, Window: WindowHour, Limit: int64(requestsPerHour)})
	}

	cfg := &Config{Enabled: len(limits) > 0, Limits: limits}
	return NewRateLimiter(cfg, NewMemoryStore())
}

// NewMonthlyQuotaLimiter builds a token+request limiter scoped to a
// single month, the shape the Quota Enforcer's tiers (§4.9) each wrap
// with their own Store.
func NewMonthlyQuotaLimiter(monthlyTokenLimit, monthlyRequestLimit int64, store Store) (*DefaultRateLimiter, error) {
	var limits []LimitRule
	if monthlyTokenLimit > 0 {
		limits = append(limits, LimitRule{Type: LimitTypeToken, Window: WindowMonth, Limit: monthlyTokenLimit})
	}
	if monthlyRequestLimit > 0 {
		limits = append(limits, LimitRule{Type: LimitTypeCount, Window: WindowMonth, Limit: monthlyRequestLimit})
	}

	cfg := &Config{Enabled: len(limits) > 0, Limits: limits}
	return NewRateLimiter(cfg, store)
}
