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

// Package metrics implements the Metric Event Emitter (spec.md §2.12,
// §3, §5, §8 invariant 10): a lock-free, single-consumer ring buffer of
// MetricEvent values, drained into the teacher's Prometheus/OTel sink
// (pkg/observability).
package metrics

import (
	"time"

	arcerrors "github.com/StarkFactory/arcreactor/pkg/errors"
)

// Kind identifies which arm of the MetricEvent tagged union is set.
type Kind int

const (
	KindAgentExecution Kind = iota
	KindToolCall
	KindGuard
	KindTokenUsage
	KindSession
	KindHitl
	KindMcpHealth
)

// Event is the tagged union described by spec.md §3. Every event carries
// tenantId, runId, and a timestamp; exactly one of the payload fields
// matching Kind is populated.
type Event struct {
	Kind      Kind
	TenantID  string
	RunID     string
	Timestamp time.Time

	AgentExecution *AgentExecutionPayload
	ToolCall       *ToolCallPayload
	Guard          *GuardPayload
	TokenUsage     *TokenUsagePayload
	Session        *SessionPayload
	Hitl           *HitlPayload
	McpHealth      *McpHealthPayload
}

// AgentExecutionPayload records the outcome of one Execute call.
type AgentExecutionPayload struct {
	Success       bool
	ErrorCode     arcerrors.Code
	DurationMs    int64
	ToolCallCount int
}

// ToolCallPayload records the outcome of one tool invocation.
type ToolCallPayload struct {
	ToolName   string
	Success    bool
	DurationMs int64
	ErrorKind  string
}

// GuardPayload records a guard pipeline decision.
type GuardPayload struct {
	Stage    string
	Allowed  bool
	Reason   string
}

// TokenUsagePayload records token usage for one model call.
type TokenUsagePayload struct {
	Model      string
	Prompt     int
	Completion int
	Total      int
}

// SessionPayload records session-level lifecycle events.
type SessionPayload struct {
	SessionID string
	UserID    string
	Event     string
}

// HitlPayload records a human-in-the-loop approval outcome.
type HitlPayload struct {
	ToolName string
	Required bool
	Approved bool
	WaitMs   int64
}

// McpHealthPayload records a remote tool server's connection health.
type McpHealthPayload struct {
	ServerName string
	Status     string
}

func newEvent(kind Kind, tenantID, runID string) Event {
	return Event{Kind: kind, TenantID: tenantID, RunID: runID, Timestamp: time.Now()}
}

// NewAgentExecutionEvent builds an AgentExecutionEvent.
func NewAgentExecutionEvent(tenantID, runID string, p AgentExecutionPayload) Event {
	e := newEvent(KindAgentExecution, tenantID, runID)
	e.AgentExecution = &p
	return e
}

// NewToolCallEvent builds a ToolCallEvent.
func NewToolCallEvent(tenantID, runID string, p ToolCallPayload) Event {
	e := newEvent(KindToolCall, tenantID, runID)
	e.ToolCall = &p
	return e
}

// NewGuardEvent builds a GuardEvent.
func NewGuardEvent(tenantID, runID string, p GuardPayload) Event {
	e := newEvent(KindGuard, tenantID, runID)
	e.Guard = &p
	return e
}

// NewTokenUsageEvent builds a TokenUsageEvent.
func NewTokenUsageEvent(tenantID, runID string, p TokenUsagePayload) Event {
	e := newEvent(KindTokenUsage, tenantID, runID)
	e.TokenUsage = &p
	return e
}

// NewSessionEvent builds a SessionEvent.
func NewSessionEvent(tenantID, runID string, p SessionPayload) Event {
	e := newEvent(KindSession, tenantID, runID)
	e.Session = &p
	return e
}

// NewHitlEvent builds a HitlEvent.
func NewHitlEvent(tenantID, runID string, p HitlPayload) Event {
	e := newEvent(KindHitl, tenantID, runID)
	e.Hitl = &p
	return e
}

// NewMcpHealthEvent builds a McpHealthEvent.
func NewMcpHealthEvent(tenantID, runID string, p McpHealthPayload) Event {
	e := newEvent(KindMcpHealth, tenantID, runID)
	e.McpHealth = &p
	return e
}
