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

package hooks

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/StarkFactory/arcreactor/pkg/agent"
	arcerrors "github.com/StarkFactory/arcreactor/pkg/errors"
	"github.com/StarkFactory/arcreactor/pkg/metrics"
	"github.com/StarkFactory/arcreactor/pkg/observability"
)

// QuotaChecker is the narrow interface the Quota Enforcer hook needs
// from pkg/quota, kept here to avoid an import cycle (pkg/quota does
// not need to know about pkg/hooks).
type QuotaChecker interface {
	Allow(ctx context.Context, tenantID string) (bool, error)
}

// QuotaEnforcerHook is the built-in order-5 BeforeAgentStart hook
// (spec.md §4.2). Any error from the checker is treated as fail-open
// (allow) — the three-tier fail-open policy lives inside the checker
// itself; this hook only translates a definitive false into Reject.
type QuotaEnforcerHook struct {
	checker QuotaChecker
}

// NewQuotaEnforcerHook builds the hook around checker.
func NewQuotaEnforcerHook(checker QuotaChecker) *QuotaEnforcerHook {
	return &QuotaEnforcerHook{checker: checker}
}

func (h *QuotaEnforcerHook) Name() string     { return "quota_enforcer" }
func (h *QuotaEnforcerHook) Order() int       { return 5 }
func (h *QuotaEnforcerHook) FailOnError() bool { return false }

func (h *QuotaEnforcerHook) BeforeAgentStart(ctx context.Context, run *agent.HookContext) (Result, error) {
	allowed, err := h.checker.Allow(ctx, run.TenantID)
	if err != nil {
		if arcerrors.IsCancellation(err) {
			return Result{}, err
		}
		// Fail-open: checker-internal failure does not reject here; the
		// checker itself already applied the three-tier fallback policy.
		return ok(), nil
	}
	if !allowed {
		return reject("monthly quota exceeded"), nil
	}
	return ok(), nil
}

// ToolPolicyHook is the built-in order-50 BeforeToolCall hook that
// rejects write-tools on configured channels (spec.md §4.2).
type ToolPolicyHook struct {
	// WriteTools names tools considered mutating/write operations.
	WriteTools map[string]bool
	// BlockedChannels lists channels where write tools are disallowed.
	BlockedChannels map[string]bool
}

// NewToolPolicyHook builds the hook from explicit tool/channel sets.
func NewToolPolicyHook(writeTools, blockedChannels []string) *ToolPolicyHook {
	h := &ToolPolicyHook{WriteTools: map[string]bool{}, BlockedChannels: map[string]bool{}}
	for _, t := range writeTools {
		h.WriteTools[t] = true
	}
	for _, c := range blockedChannels {
		h.BlockedChannels[c] = true
	}
	return h
}

func (h *ToolPolicyHook) Name() string     { return "tool_policy" }
func (h *ToolPolicyHook) Order() int       { return 50 }
func (h *ToolPolicyHook) FailOnError() bool { return false }

func (h *ToolPolicyHook) BeforeToolCall(_ context.Context, tc ToolCallContext) (Result, error) {
	if !h.WriteTools[tc.ToolCall.ToolName] {
		return ok(), nil
	}
	if h.BlockedChannels[tc.Run.Channel] {
		return reject(fmt.Sprintf("write tool %q is not permitted on channel %q", tc.ToolCall.ToolName, tc.Run.Channel)), nil
	}
	return ok(), nil
}

// ApprovalRequester is the narrow interface the Approval Policy hook
// needs from an approval store.
type ApprovalRequester interface {
	RequestApproval(ctx context.Context, toolName string, args []byte, userID, sessionID, userPrompt string) (string, error)
}

// ApprovalPolicyHook is the built-in BeforeToolCall hook that suspends
// tool calls on a configured approval list (spec.md §4.2).
type ApprovalPolicyHook struct {
	store     ApprovalRequester
	toolNames map[string]bool
}

// NewApprovalPolicyHook builds the hook from the approval tool-name list.
func NewApprovalPolicyHook(store ApprovalRequester, toolNames []string) *ApprovalPolicyHook {
	set := make(map[string]bool, len(toolNames))
	for _, n := range toolNames {
		set[n] = true
	}
	return &ApprovalPolicyHook{store: store, toolNames: set}
}

func (h *ApprovalPolicyHook) Name() string     { return "approval_policy" }
func (h *ApprovalPolicyHook) Order() int       { return 40 }
func (h *ApprovalPolicyHook) FailOnError() bool { return false }

func (h *ApprovalPolicyHook) BeforeToolCall(ctx context.Context, tc ToolCallContext) (Result, error) {
	if !h.toolNames[tc.ToolCall.ToolName] {
		return ok(), nil
	}
	id, err := h.store.RequestApproval(ctx, tc.ToolCall.ToolName, tc.ToolCall.Arguments, tc.Run.UserID, sessionIDOf(tc.Run), tc.Run.UserPrompt)
	if err != nil {
		if arcerrors.IsCancellation(err) {
			return Result{}, err
		}
		return Result{}, err
	}
	return suspend(id), nil
}

// TracingHook is the built-in order-199 hook running at all four
// lifecycle points, tagging OTel spans with runId/tenantId/toolName/
// success and a truncated (≤500 char) error message (spec.md §4.2).
type TracingHook struct {
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[string]trace.Span
}

// NewTracingHook builds the hook using pkg/observability.GetTracer.
func NewTracingHook() *TracingHook {
	return &TracingHook{tracer: observability.GetTracer("arcreactor/engine"), spans: map[string]trace.Span{}}
}

func (h *TracingHook) Name() string     { return "tracing" }
func (h *TracingHook) Order() int       { return 199 }
func (h *TracingHook) FailOnError() bool { return false }

func (h *TracingHook) BeforeAgentStart(ctx context.Context, run *agent.HookContext) (Result, error) {
	_, span := h.tracer.Start(ctx, "agent.execute")
	span.SetAttributes(
		attribute.String("run.id", run.RunID),
		attribute.String("tenant.id", run.TenantID),
	)
	h.mu.Lock()
	h.spans[run.RunID] = span
	h.mu.Unlock()
	return ok(), nil
}

func (h *TracingHook) BeforeToolCall(ctx context.Context, tc ToolCallContext) (Result, error) {
	_, span := h.tracer.Start(ctx, "agent.tool_call")
	span.SetAttributes(
		attribute.String("run.id", tc.Run.RunID),
		attribute.String("tool.name", tc.ToolCall.ToolName),
	)
	h.mu.Lock()
	h.spans[spanKey(tc.Run.RunID, tc.ToolCall.ID)] = span
	h.mu.Unlock()
	return ok(), nil
}

func (h *TracingHook) AfterToolCall(_ context.Context, tc ToolCallContext, result agent.ToolResult) error {
	key := spanKey(tc.Run.RunID, tc.ToolCall.ID)
	h.mu.Lock()
	span, found := h.spans[key]
	if found {
		delete(h.spans, key)
	}
	h.mu.Unlock()
	if !found {
		return nil
	}
	span.SetAttributes(attribute.Bool("success", result.Success))
	if !result.Success {
		span.SetStatus(codes.Error, arcerrors.Truncate(result.ErrorMessage, 500))
	}
	span.End()
	return nil
}

func (h *TracingHook) AfterAgentComplete(_ context.Context, run *agent.HookContext, result agent.Result) error {
	h.mu.Lock()
	span, found := h.spans[run.RunID]
	if found {
		delete(h.spans, run.RunID)
	}
	h.mu.Unlock()
	if !found {
		return nil
	}
	span.SetAttributes(
		attribute.Bool("success", result.Success),
		attribute.Int64("duration_ms", result.DurationMillis),
	)
	if !result.Success {
		span.SetStatus(codes.Error, arcerrors.Truncate(result.ErrorMessage, 500))
	}
	span.End()
	return nil
}

func spanKey(runID, toolCallID string) string { return runID + ":" + toolCallID }

// sessionIDMetaKey is the HookContext metadata key the engine stores
// the command's sessionId under at BeforeAgentStart time, so later
// hooks (like the Approval Policy hook) can read it without widening
// agent.HookContext's fixed field set.
const sessionIDMetaKey = "session_id"

func sessionIDOf(run *agent.HookContext) string {
	v, ok := run.Get(sessionIDMetaKey)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// MetricCollectionHook is the built-in order-200 after-kinds hook that
// publishes events to the metric ring buffer. Never throws (spec.md
// §4.2, §7 "Metric emission is fail-silent").
type MetricCollectionHook struct {
	emitter *metrics.Emitter
}

// NewMetricCollectionHook builds the hook around an Emitter.
func NewMetricCollectionHook(emitter *metrics.Emitter) *MetricCollectionHook {
	return &MetricCollectionHook{emitter: emitter}
}

func (h *MetricCollectionHook) Name() string     { return "metric_collection" }
func (h *MetricCollectionHook) Order() int       { return 200 }
func (h *MetricCollectionHook) FailOnError() bool { return false }

func (h *MetricCollectionHook) AfterToolCall(_ context.Context, tc ToolCallContext, result agent.ToolResult) error {
	h.emitter.Publish(metrics.NewToolCallEvent(tc.Run.TenantID, tc.Run.RunID, metrics.ToolCallPayload{
		ToolName:   tc.ToolCall.ToolName,
		Success:    result.Success,
		DurationMs: result.DurationMillis,
	}))
	if result.HITLRequired {
		h.emitter.Publish(metrics.NewHitlEvent(tc.Run.TenantID, tc.Run.RunID, metrics.HitlPayload{
			ToolName: tc.ToolCall.ToolName,
			Required: result.HITLRequired,
			Approved: result.HITLApproved,
			WaitMs:   result.HITLWaitMillis,
		}))
	}
	return nil
}

func (h *MetricCollectionHook) AfterAgentComplete(_ context.Context, run *agent.HookContext, result agent.Result) error {
	h.emitter.Publish(metrics.NewAgentExecutionEvent(run.TenantID, run.RunID, metrics.AgentExecutionPayload{
		Success:       result.Success,
		ErrorCode:     result.ErrorCode,
		DurationMs:    result.DurationMillis,
		ToolCallCount: len(result.ToolsUsed),
	}))
	h.emitter.Publish(metrics.NewTokenUsageEvent(run.TenantID, run.RunID, metrics.TokenUsagePayload{
		Prompt:     result.TokenUsage.Prompt,
		Completion: result.TokenUsage.Completion,
		Total:      result.TokenUsage.Total,
	}))
	return nil
}
