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

// Package hooks implements the Hook Chain (spec.md §4.2): four ordered
// lifecycle points, fail-open by default with opt-in fail-closed per
// hook, cancellation never swallowed.
package hooks

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/StarkFactory/arcreactor/pkg/agent"
	arcerrors "github.com/StarkFactory/arcreactor/pkg/errors"
)

// Outcome is the result of a before-hook.
type Outcome int

const (
	// Continue allows execution to proceed to the next hook/stage.
	Continue Outcome = iota
	// Reject stops the chain for this lifecycle point.
	Reject
	// Suspend (BeforeToolCall only) indicates a PendingApproval was
	// created and the orchestrator must suspend until it resolves.
	Suspend
)

// Result is returned by a before-hook.
type Result struct {
	Outcome    Outcome
	Reason     string
	ApprovalID string // set when Outcome==Suspend
}

func ok() Result   { return Result{Outcome: Continue} }
func reject(reason string) Result { return Result{Outcome: Reject, Reason: reason} }
func suspend(id string) Result    { return Result{Outcome: Suspend, ApprovalID: id} }

// ToolCallContext carries the information a tool-call hook needs.
type ToolCallContext struct {
	Run      *agent.HookContext
	ToolCall agent.ToolCall
	ToolSpec *agent.ToolSpec // nil if the tool name wasn't resolved
}

// BeforeAgentStart hooks run once, before the ReAct loop begins.
type BeforeAgentStart interface {
	Name() string
	Order() int
	FailOnError() bool
	BeforeAgentStart(ctx context.Context, run *agent.HookContext) (Result, error)
}

// BeforeToolCall hooks run before each tool invocation.
type BeforeToolCall interface {
	Name() string
	Order() int
	FailOnError() bool
	BeforeToolCall(ctx context.Context, tc ToolCallContext) (Result, error)
}

// AfterToolCall hooks run after each tool invocation, always.
type AfterToolCall interface {
	Name() string
	Order() int
	FailOnError() bool
	AfterToolCall(ctx context.Context, tc ToolCallContext, result agent.ToolResult) error
}

// AfterAgentComplete hooks run once, after the run finishes, always
// (even on failure).
type AfterAgentComplete interface {
	Name() string
	Order() int
	FailOnError() bool
	AfterAgentComplete(ctx context.Context, run *agent.HookContext, result agent.Result) error
}

// Chain aggregates hooks of all four kinds and runs each lifecycle
// point in ascending Order.
type Chain struct {
	mu sync.RWMutex

	beforeStart []BeforeAgentStart
	beforeTool  []BeforeToolCall
	afterTool   []AfterToolCall
	afterComplete []AfterAgentComplete
}

// New builds an empty Chain.
func New() *Chain { return &Chain{} }

// RegisterBeforeAgentStart adds a BeforeAgentStart hook, keeping the
// list sorted by Order.
func (c *Chain) RegisterBeforeAgentStart(h BeforeAgentStart) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beforeStart = append(c.beforeStart, h)
	sort.SliceStable(c.beforeStart, func(i, j int) bool { return c.beforeStart[i].Order() < c.beforeStart[j].Order() })
}

// RegisterBeforeToolCall adds a BeforeToolCall hook.
func (c *Chain) RegisterBeforeToolCall(h BeforeToolCall) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beforeTool = append(c.beforeTool, h)
	sort.SliceStable(c.beforeTool, func(i, j int) bool { return c.beforeTool[i].Order() < c.beforeTool[j].Order() })
}

// RegisterAfterToolCall adds an AfterToolCall hook.
func (c *Chain) RegisterAfterToolCall(h AfterToolCall) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.afterTool = append(c.afterTool, h)
	sort.SliceStable(c.afterTool, func(i, j int) bool { return c.afterTool[i].Order() < c.afterTool[j].Order() })
}

// RegisterAfterAgentComplete adds an AfterAgentComplete hook.
func (c *Chain) RegisterAfterAgentComplete(h AfterAgentComplete) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.afterComplete = append(c.afterComplete, h)
	sort.SliceStable(c.afterComplete, func(i, j int) bool { return c.afterComplete[i].Order() < c.afterComplete[j].Order() })
}

// RunBeforeAgentStart runs every BeforeAgentStart hook in order,
// stopping at the first Reject. Cancellation always propagates;
// fail-open hooks that error are logged and treated as Continue.
func (c *Chain) RunBeforeAgentStart(ctx context.Context, run *agent.HookContext) (Result, error) {
	c.mu.RLock()
	hs := append([]BeforeAgentStart(nil), c.beforeStart...)
	c.mu.RUnlock()

	for _, h := range hs {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		res, err := h.BeforeAgentStart(ctx, run)
		if err != nil {
			if arcerrors.IsCancellation(err) {
				return Result{}, err
			}
			if h.FailOnError() {
				return Result{}, err
			}
			slog.Warn("hook error (fail-open)", "hook", h.Name(), "point", "before_agent_start", "error", err)
			continue
		}
		if res.Outcome == Reject {
			return res, nil
		}
	}
	return ok(), nil
}

// RunBeforeToolCall runs every BeforeToolCall hook in order, stopping
// at the first Reject or Suspend.
func (c *Chain) RunBeforeToolCall(ctx context.Context, tc ToolCallContext) (Result, error) {
	c.mu.RLock()
	hs := append([]BeforeToolCall(nil), c.beforeTool...)
	c.mu.RUnlock()

	for _, h := range hs {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		res, err := h.BeforeToolCall(ctx, tc)
		if err != nil {
			if arcerrors.IsCancellation(err) {
				return Result{}, err
			}
			if h.FailOnError() {
				return Result{}, err
			}
			slog.Warn("hook error (fail-open)", "hook", h.Name(), "point", "before_tool_call", "tool", tc.ToolCall.ToolName, "error", err)
			continue
		}
		if res.Outcome != Continue {
			return res, nil
		}
	}
	return ok(), nil
}

// RunAfterToolCall runs every AfterToolCall hook in order. Always runs
// to completion regardless of individual hook failures (teardown/
// auditing/metrics guarantee, §4.2): a fail-closed hook's error is
// remembered and returned, but later-registered hooks still run.
// Cancellation is the one exception — it stops the chain immediately
// and propagates without running the remaining hooks.
func (c *Chain) RunAfterToolCall(ctx context.Context, tc ToolCallContext, result agent.ToolResult) error {
	c.mu.RLock()
	hs := append([]AfterToolCall(nil), c.afterTool...)
	c.mu.RUnlock()

	var firstErr error
	for _, h := range hs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h.AfterToolCall(ctx, tc, result); err != nil {
			if arcerrors.IsCancellation(err) {
				return err
			}
			if h.FailOnError() {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			slog.Warn("hook error (fail-open)", "hook", h.Name(), "point", "after_tool_call", "tool", tc.ToolCall.ToolName, "error", err)
		}
	}
	return firstErr
}

// RunAfterAgentComplete runs every AfterAgentComplete hook in order,
// even when result.Success is false. A fail-closed hook's error is
// remembered and returned after every hook has run; cancellation still
// stops the chain immediately and propagates.
func (c *Chain) RunAfterAgentComplete(ctx context.Context, run *agent.HookContext, result agent.Result) error {
	c.mu.RLock()
	hs := append([]AfterAgentComplete(nil), c.afterComplete...)
	c.mu.RUnlock()

	var firstErr error
	for _, h := range hs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h.AfterAgentComplete(ctx, run, result); err != nil {
			if arcerrors.IsCancellation(err) {
				return err
			}
			if h.FailOnError() {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			slog.Warn("hook error (fail-open)", "hook", h.Name(), "point", "after_agent_complete", "error", err)
		}
	}
	return firstErr
}
