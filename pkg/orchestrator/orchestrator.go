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

// Package orchestrator implements the Tool Invocation Orchestrator
// (spec.md §4.5): bounded-parallel dispatch of one assistant turn's
// tool calls, the seven-step per-call lifecycle (resolve, before-hook,
// timed invoke, error classification, after-hook, usage accounting,
// HITL detection), and human-in-the-loop suspension via ApprovalManager.
package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/StarkFactory/arcreactor/pkg/agent"
	arcerrors "github.com/StarkFactory/arcreactor/pkg/errors"
	"github.com/StarkFactory/arcreactor/pkg/hooks"
	"github.com/StarkFactory/arcreactor/pkg/tools"
)

// hitlThreshold is the minimum gap between wall time and reported tool
// duration that marks a call as having required human attention
// (spec.md §4.5.7).
const hitlThreshold = 100 * time.Millisecond

// Config bounds one Orchestrator's dispatch behavior.
type Config struct {
	MaxConcurrentTools int
	ToolCallTimeout     time.Duration
	ApprovalTimeout     time.Duration
}

// Orchestrator dispatches one assistant turn's tool calls against a
// shared Registry, running the Hook Chain's tool-call lifecycle points
// around each invocation and suspending on approval as needed.
type Orchestrator struct {
	registry  *tools.Registry
	chain     *hooks.Chain
	approvals *ApprovalManager
	cfg       Config
}

// New builds an Orchestrator. approvals may be nil if no ApprovalPolicyHook
// is registered in chain.
func New(registry *tools.Registry, chain *hooks.Chain, approvals *ApprovalManager, cfg Config) *Orchestrator {
	if cfg.MaxConcurrentTools <= 0 {
		cfg.MaxConcurrentTools = 8
	}
	if cfg.ToolCallTimeout <= 0 {
		cfg.ToolCallTimeout = 15 * time.Second
	}
	if cfg.ApprovalTimeout <= 0 {
		cfg.ApprovalTimeout = 5 * time.Minute
	}
	return &Orchestrator{registry: registry, chain: chain, approvals: approvals, cfg: cfg}
}

// Dispatch runs every call in calls, bounded to cfg.MaxConcurrentTools
// concurrent invocations, and returns one ToolResult per call in the
// same order as calls (spec.md §4.5 "Execution"). toolCallsUsed is
// incremented exactly once per call, including calls that end as a
// not-found, rejected or hook-error result; only a call cut short by
// cancellation in the BeforeToolCall chain is not counted.
func (o *Orchestrator) Dispatch(ctx context.Context, run *agent.HookContext, calls []agent.ToolCall, toolCallsUsed *int64) []agent.ToolResult {
	results := make([]agent.ToolResult, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MaxConcurrentTools)

	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			results[i] = o.invokeOne(gctx, run, call, toolCallsUsed)
			return nil
		})
	}
	// Every goroutine above always returns nil: a failing tool call is
	// captured in its ToolResult, not propagated as a group error, so
	// one failure never cancels its siblings (spec.md §4.5 "Error
	// containment"). Wait only to block until all have finished.
	_ = g.Wait()

	return results
}

// invokeOne runs the full seven-step lifecycle for a single call.
func (o *Orchestrator) invokeOne(ctx context.Context, run *agent.HookContext, call agent.ToolCall, toolCallsUsed *int64) agent.ToolResult {
	wallStart := time.Now()

	// Step 1: resolve.
	spec, invoke, found := o.registry.Get(call.ToolName)
	var specPtr *agent.ToolSpec
	if found {
		specPtr = &spec
	}
	tc := hooks.ToolCallContext{Run: run, ToolCall: call, ToolSpec: specPtr}

	// Step 2: BeforeToolCall hook chain.
	before, err := o.chain.RunBeforeToolCall(ctx, tc)
	if err != nil {
		if arcerrors.IsCancellation(err) {
			// Deliberate simplification: the whole execution is
			// aborting, so AfterToolCall and usage accounting are
			// skipped for this call.
			return errorResult(call.ID, "cancelled: "+err.Error(), wallStart)
		}
		return o.finish(ctx, tc, errorResult(call.ID, "hook error: "+err.Error(), wallStart), toolCallsUsed, wallStart)
	}

	switch before.Outcome {
	case hooks.Reject:
		return o.finish(ctx, tc, errorResult(call.ID, "Rejected: "+before.Reason, wallStart), toolCallsUsed, wallStart)
	case hooks.Suspend:
		return o.finish(ctx, tc, o.awaitApproval(ctx, tc, before.ApprovalID, wallStart), toolCallsUsed, wallStart)
	}

	if !found {
		return o.finish(ctx, tc, errorResult(call.ID, fmt.Sprintf("Error: Tool '%s' not found", call.ToolName), wallStart), toolCallsUsed, wallStart)
	}

	// Step 3: timed invocation. A tool-specific timeout overrides the
	// global default (spec.md §4.5 step 3).
	timeout := o.cfg.ToolCallTimeout
	if spec.Timeout > 0 {
		timeout = spec.Timeout
	}
	invokeStart := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	output, invokeErr := invoke.Invoke(callCtx, call.Arguments)
	cancel()
	reportedDuration := time.Since(invokeStart)

	var result agent.ToolResult
	if invokeErr != nil {
		// Step 4: classify and truncate.
		label := arcerrors.ToolExceptionLabel(invokeErr.Error())
		result = agent.ToolResult{
			ID:             call.ID,
			Success:        false,
			ErrorMessage:   arcerrors.Truncate(fmt.Sprintf("%s: %v", label, invokeErr), 500),
			DurationMillis: reportedDuration.Milliseconds(),
		}
	} else {
		result = agent.ToolResult{
			ID:             call.ID,
			Success:        true,
			Output:         output,
			DurationMillis: reportedDuration.Milliseconds(),
		}
	}

	result = tagHITL(result, wallStart, reportedDuration, output)

	return o.finish(ctx, tc, result, toolCallsUsed, wallStart)
}

// awaitApproval blocks until the pending approval created by the
// Approval Policy hook resolves, producing a ToolResult that reflects
// the human decision. An approved call is run here through
// invokeApproved (with the human-modified arguments when given); a
// rejected or timed-out approval yields an error result tagged as
// HITL-required and not approved.
func (o *Orchestrator) awaitApproval(ctx context.Context, tc hooks.ToolCallContext, approvalID string, wallStart time.Time) agent.ToolResult {
	if o.approvals == nil {
		return errorResult(tc.ToolCall.ID, "Error: approval required but no ApprovalManager configured", wallStart)
	}

	res, err := o.approvals.Await(ctx, approvalID, o.cfg.ApprovalTimeout)
	if err != nil {
		return errorResult(tc.ToolCall.ID, "Error: "+err.Error(), wallStart)
	}

	switch res.Status {
	case agent.ApprovalApproved:
		args := tc.ToolCall.Arguments
		if len(res.ModifiedArguments) > 0 {
			args = res.ModifiedArguments
		}
		return o.invokeApproved(ctx, tc, args, wallStart)
	case agent.ApprovalRejected:
		msg := "Error: Tool call rejected: " + res.RejectionReason
		return tagHITL(errorResult(tc.ToolCall.ID, msg, wallStart), wallStart, 0, msg)
	default: // TimedOut
		msg := "Error: Tool call rejected: approval timed out"
		return tagHITL(errorResult(tc.ToolCall.ID, msg, wallStart), wallStart, 0, msg)
	}
}

// invokeApproved runs step 3 for a call that was suspended and then
// approved, optionally with human-modified arguments.
func (o *Orchestrator) invokeApproved(ctx context.Context, tc hooks.ToolCallContext, args []byte, wallStart time.Time) agent.ToolResult {
	spec, invoke, found := o.registry.Get(tc.ToolCall.ToolName)
	if !found {
		return errorResult(tc.ToolCall.ID, fmt.Sprintf("Error: Tool '%s' not found", tc.ToolCall.ToolName), wallStart)
	}

	timeout := o.cfg.ToolCallTimeout
	if spec.Timeout > 0 {
		timeout = spec.Timeout
	}
	invokeStart := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	output, err := invoke.Invoke(callCtx, args)
	cancel()
	reportedDuration := time.Since(invokeStart)

	var result agent.ToolResult
	if err != nil {
		label := arcerrors.ToolExceptionLabel(err.Error())
		result = agent.ToolResult{
			ID:             tc.ToolCall.ID,
			Success:        false,
			ErrorMessage:   arcerrors.Truncate(fmt.Sprintf("%s: %v", label, err), 500),
			DurationMillis: reportedDuration.Milliseconds(),
		}
	} else {
		result = agent.ToolResult{
			ID:             tc.ToolCall.ID,
			Success:        true,
			Output:         output,
			DurationMillis: reportedDuration.Milliseconds(),
		}
	}
	return tagHITL(result, wallStart, reportedDuration, output)
}

// finish runs Step 5 (AfterToolCall, always) and Step 6 (usage
// accounting) before returning result.
func (o *Orchestrator) finish(ctx context.Context, tc hooks.ToolCallContext, result agent.ToolResult, toolCallsUsed *int64, wallStart time.Time) agent.ToolResult {
	if err := o.chain.RunAfterToolCall(ctx, tc, result); err != nil {
		// AfterToolCall hooks are fail-open by contract except for
		// cancellation, which we do not let clobber a result that is
		// already computed.
		_ = err
	}
	if toolCallsUsed != nil {
		atomic.AddInt64(toolCallsUsed, 1)
	}
	return result
}

// tagHITL compares wall time since wallStart against the tool's own
// reported duration. A gap over hitlThreshold means the call spent
// time outside the registry invocation itself (approval wait), so it
// is tagged as having required human attention.
func tagHITL(result agent.ToolResult, wallStart time.Time, reported time.Duration, output string) agent.ToolResult {
	wall := time.Since(wallStart)
	delta := wall - reported
	if delta <= hitlThreshold {
		return result
	}
	result.HITLRequired = true
	result.HITLWaitMillis = delta.Milliseconds()
	if isRejectionOutput(output) {
		result.HITLApproved = false
		if result.ErrorMessage == "" {
			result.ErrorMessage = arcerrors.Truncate(output, 500)
		}
	} else {
		result.HITLApproved = true
	}
	return result
}

func isRejectionOutput(output string) bool {
	return hasPrefixFold(output, "Rejected") || hasPrefixFold(output, "Error: Tool call rejected")
}

func hasPrefixFold(s, prefix string) bool {
	if len(s) < len(prefix) {
		return false
	}
	for i := 0; i < len(prefix); i++ {
		a, b := s[i], prefix[i]
		if 'A' <= a && a <= 'Z' {
			a += 'a' - 'A'
		}
		if 'A' <= b && b <= 'Z' {
			b += 'a' - 'A'
		}
		if a != b {
			return false
		}
	}
	return true
}

func errorResult(id, message string, wallStart time.Time) agent.ToolResult {
	return agent.ToolResult{
		ID:             id,
		Success:        false,
		ErrorMessage:   arcerrors.Truncate(message, 500),
		DurationMillis: time.Since(wallStart).Milliseconds(),
	}
}
