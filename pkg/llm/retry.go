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

package llm

import (
	"context"
	"math/rand"
	"time"

	arcerrors "github.com/StarkFactory/arcreactor/pkg/errors"
)

// RetryPolicy configures the ReAct loop's exponential-backoff-with-
// jitter retry of transient LLM errors (spec.md §4.6 step 3).
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Clock        Clock
}

// SetDefaults fills the literal defaults from the configuration
// surface (§6): maxAttempts=3, initialDelayMs=1000, multiplier=2.0,
// maxDelayMs=10000.
func (p *RetryPolicy) SetDefaults() {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = time.Second
	}
	if p.Multiplier == 0 {
		p.Multiplier = 2.0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}
	if p.Clock == nil {
		p.Clock = RealClock
	}
}

// RetryingClient wraps a Client, retrying transient failures per
// Policy. Cancellation is never retried — ctx.Err() is checked before
// and after every attempt and, if non-nil, returned immediately.
type RetryingClient struct {
	inner  Client
	policy RetryPolicy
}

// NewRetryingClient wraps inner with policy, applying SetDefaults.
func NewRetryingClient(inner Client, policy RetryPolicy) *RetryingClient {
	policy.SetDefaults()
	return &RetryingClient{inner: inner, policy: policy}
}

// Generate calls inner.Generate, retrying on a transient classification
// until MaxAttempts is exhausted or a non-transient error surfaces.
func (c *RetryingClient) Generate(ctx context.Context, req Request) (*Response, error) {
	var lastErr error
	delay := c.policy.InitialDelay

	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := c.inner.Generate(ctx, req)
		if err == nil {
			return resp, nil
		}
		if arcerrors.IsCancellation(err) {
			return nil, err
		}
		lastErr = err

		if !IsTransient(err) || attempt == c.policy.MaxAttempts {
			break
		}

		wait := jitter(delay)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		c.policy.Clock.Sleep(wait)

		delay = time.Duration(float64(delay) * c.policy.Multiplier)
		if delay > c.policy.MaxDelay {
			delay = c.policy.MaxDelay
		}
	}

	return nil, lastErr
}

// jitter returns a duration uniformly distributed between d/2 and d
// inclusive ("equal jitter": half the delay is fixed, half is random).
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

// IsTransient classifies an LLM call error as retryable: rate-limit,
// timeout, 5xx, or connection-reset class errors, per spec.md §4.6
// step 3's retry schedule.
func IsTransient(err error) bool {
	switch arcerrors.Classify(err) {
	case arcerrors.RateLimited, arcerrors.Timeout:
		return true
	}
	msg := err.Error()
	return arcerrors.ClassifyMessage(msg) == arcerrors.ToolError || containsAny(msg,
		"connection reset", "connection refused", "EOF",
		"502", "503", "504", "500 ",
	)
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if len(s) >= len(sub) && indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	n, m := len(s), len(sub)
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == sub {
			return i
		}
	}
	return -1
}
