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

// Package llm defines the pluggable language-model client contract
// consumed by the ReAct Loop Executor. Per spec.md §1's non-goals, the
// engine never produces model text itself; this package only describes
// the interface a concrete provider client must satisfy, plus a
// provider-agnostic retry wrapper for the loop's transient-error policy.
package llm

import (
	"context"
	"encoding/json"
	"time"

	"github.com/StarkFactory/arcreactor/pkg/agent"
)

// Request is one call to the underlying model.
type Request struct {
	SystemPrompt string
	Messages     []agent.Message
	Tools        []agent.ToolSpec
	Model        string
	Temperature  float64
	MaxTokens    int
}

// Response is either a terminal assistant message (Text set, ToolCalls
// empty) or an assistant turn requesting tool calls (ToolCalls set).
// Both cases report token usage for the call that produced them.
type Response struct {
	Text       string
	ToolCalls  []agent.ToolCall
	TokenUsage agent.TokenUsage
}

// HasToolCalls reports whether the model asked for tool invocations
// instead of (or in addition to) returning terminal text.
func (r *Response) HasToolCalls() bool { return len(r.ToolCalls) > 0 }

// Client is the contract an adapter implements over a concrete
// provider's SDK/HTTP API. Client implementations are expected to
// translate provider-specific transient failures (HTTP 429/5xx,
// connection resets) into errors that satisfy the retry policy's
// IsTransient classification — see IsTransient and RetryingClient in
// retry.go.
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// StreamChunk is one incremental piece of a streaming Generate call.
// Done marks the final chunk of the call, at which point Response
// carries the accumulated tool calls (if any) and total token usage;
// Response is nil on every earlier chunk.
type StreamChunk struct {
	TextDelta string
	Done      bool
	Response  *Response
}

// StreamingClient is an optional capability a Client adapter may also
// implement to stream text as the model produces it, rather than
// only returning a complete Response. The Streaming Executor (§4.7)
// uses this when available and falls back to chunking a complete
// Generate response otherwise.
type StreamingClient interface {
	GenerateStream(ctx context.Context, req Request) (<-chan StreamChunk, error)
}

// ArgumentsOf decodes a ToolCall's raw JSON arguments into v.
func ArgumentsOf(call agent.ToolCall, v any) error {
	if len(call.Arguments) == 0 {
		return nil
	}
	return json.Unmarshal(call.Arguments, v)
}

// Clock abstracts time.Now/time.Sleep for deterministic retry tests.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time       { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// RealClock is the production Clock.
var RealClock Clock = realClock{}
