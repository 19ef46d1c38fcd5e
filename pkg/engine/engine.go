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

// Package engine is the Agent Execution Engine (spec.md §1, §2, §5,
// §6): it composes the Guard Pipeline, Hook Chain, Conversation
// Manager, Tool Registry/Selector, and ReAct/Streaming Executors behind
// the stable execute/executeStream contract, adding the global request
// limiter and the request-level timeout that wraps the whole execution.
package engine

import (
	"context"
	stderrors "errors"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/StarkFactory/arcreactor/pkg/agent"
	"github.com/StarkFactory/arcreactor/pkg/circuitbreaker"
	"github.com/StarkFactory/arcreactor/pkg/config"
	arcerrors "github.com/StarkFactory/arcreactor/pkg/errors"
	"github.com/StarkFactory/arcreactor/pkg/guard"
	"github.com/StarkFactory/arcreactor/pkg/hooks"
	"github.com/StarkFactory/arcreactor/pkg/memory"
	"github.com/StarkFactory/arcreactor/pkg/quota"
	"github.com/StarkFactory/arcreactor/pkg/react"
	"github.com/StarkFactory/arcreactor/pkg/tools"
)

// sessionIDMetaKey mirrors pkg/hooks's unexported key of the same name:
// ApprovalPolicyHook reads the session id back out of the HookContext
// under this key, so the engine must set it before running the chain.
const sessionIDMetaKey = "session_id"

// Deps bundles every already-constructed component the Engine wires
// together. Quota and Breakers are optional and consulted only by
// Diagnostics; a nil value simply omits that section of the snapshot.
type Deps struct {
	Guards   *guard.Pipeline
	Hooks    *hooks.Chain
	Memory   *memory.Manager
	Registry *tools.Registry
	Selector tools.Selector
	React    *react.Executor
	Quota    *quota.Enforcer
	Breakers *circuitbreaker.Registry
}

// Engine implements the stable Execute/ExecuteStream contract
// (spec.md §6) over one tenant-agnostic set of wired components.
type Engine struct {
	guards   *guard.Pipeline
	chain    *hooks.Chain
	memory   *memory.Manager
	registry *tools.Registry
	selector tools.Selector
	loop     *react.Executor
	quota    *quota.Enforcer
	breakers *circuitbreaker.Registry

	sem            *semaphore.Weighted
	requestTimeout time.Duration
	maxToolsPerReq int
}

// New builds an Engine from cfg and deps, applying config.Config's
// literal defaults for anything the caller left zero-valued.
func New(cfg config.Config, deps Deps) *Engine {
	maxConcurrent := cfg.Concurrency.MaxConcurrentRequests
	if maxConcurrent <= 0 {
		maxConcurrent = 20
	}
	requestTimeout := cfg.Concurrency.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	maxTools := cfg.Engine.MaxToolsPerRequest
	if maxTools <= 0 {
		maxTools = 20
	}

	selector := deps.Selector
	if selector == nil {
		selector = tools.AllSelector{}
	}

	return &Engine{
		guards:         deps.Guards,
		chain:          deps.Hooks,
		memory:         deps.Memory,
		registry:       deps.Registry,
		selector:       selector,
		loop:           deps.React,
		quota:          deps.Quota,
		breakers:       deps.Breakers,
		sem:            semaphore.NewWeighted(int64(maxConcurrent)),
		requestTimeout: requestTimeout,
		maxToolsPerReq: maxTools,
	}
}

// Execute runs one full agent turn to a terminal AgentResult
// (spec.md §6 "execute"). Exactly one Result is returned; success and
// errorCode are always consistent (spec.md §8 invariant 1).
func (e *Engine) Execute(ctx context.Context, cmd *agent.Command) agent.Result {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.requestTimeout)
	defer cancel()

	// Suspension point: semaphore acquisition for the global request
	// limiter (spec.md §5). Acquire on entry, release on exit including
	// on any failure below.
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return errResult(arcerrors.Timeout, "engine", err, start)
	}
	defer e.sem.Release(1)

	run := agent.NewHookContext(cmd)
	run.Set(sessionIDMetaKey, cmd.SessionID())

	if decision := e.guards.Run(ctx, cmd); !decision.Allowed {
		result := guardRejected(decision, start)
		e.complete(ctx, run, result)
		return result
	}

	hookRes, err := e.chain.RunBeforeAgentStart(ctx, run)
	if err != nil {
		result := errResult(arcerrors.Classify(err), "hooks", err, start)
		e.complete(ctx, run, result)
		return result
	}
	if hookRes.Outcome == hooks.Reject {
		result := hookRejected(hookRes.Reason, start)
		e.complete(ctx, run, result)
		return result
	}

	history, err := e.memory.LoadHistory(ctx, cmd)
	if err != nil {
		result := errResult(arcerrors.Classify(err), "memory", err, start)
		e.complete(ctx, run, result)
		return result
	}

	toolset := e.resolveTools(ctx, cmd)

	out, err := e.loop.Execute(ctx, cmd, run, cmd.SystemPrompt, toolset, history)
	result := e.finalize(out, err, start)

	e.memory.SaveHistory(ctx, cmd, &result)
	e.complete(ctx, run, result)
	return result
}

// ExecuteStream runs one agent turn, emitting its terminal response as
// a finite fragment sequence (spec.md §6 "executeStream", §4.7). The
// acquire/guard/hook/load-history preamble is identical to Execute; the
// emitted error fragment (if any) reflects the same classification
// Execute would have returned.
func (e *Engine) ExecuteStream(ctx context.Context, cmd *agent.Command) (<-chan react.Fragment, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.requestTimeout)

	if err := e.sem.Acquire(ctx, 1); err != nil {
		cancel()
		return nil, arcerrors.New(arcerrors.Timeout, "engine", err)
	}

	run := agent.NewHookContext(cmd)
	run.Set(sessionIDMetaKey, cmd.SessionID())

	if decision := e.guards.Run(ctx, cmd); !decision.Allowed {
		result := guardRejected(decision, start)
		e.complete(ctx, run, result)
		e.sem.Release(1)
		cancel()
		return nil, resultErr(result)
	}

	hookRes, err := e.chain.RunBeforeAgentStart(ctx, run)
	if err != nil {
		e.complete(ctx, run, errResult(arcerrors.Classify(err), "hooks", err, start))
		e.sem.Release(1)
		cancel()
		return nil, err
	}
	if hookRes.Outcome == hooks.Reject {
		result := hookRejected(hookRes.Reason, start)
		e.complete(ctx, run, result)
		e.sem.Release(1)
		cancel()
		return nil, resultErr(result)
	}

	history, err := e.memory.LoadHistory(ctx, cmd)
	if err != nil {
		e.complete(ctx, run, errResult(arcerrors.Classify(err), "memory", err, start))
		e.sem.Release(1)
		cancel()
		return nil, err
	}

	toolset := e.resolveTools(ctx, cmd)

	fragments, err := e.loop.ExecuteStream(ctx, cmd, run, cmd.SystemPrompt, toolset, history)
	if err != nil {
		e.complete(ctx, run, errResult(arcerrors.Classify(err), "react", err, start))
		e.sem.Release(1)
		cancel()
		return nil, err
	}

	out := make(chan react.Fragment, 16)
	go e.drainStream(ctx, cancel, cmd, run, start, fragments, out)
	return out, nil
}

// drainStream forwards fragments from the loop's channel, reassembling
// the final content for SaveStreamingHistory and releasing the global
// request-limiter slot once the producer closes.
func (e *Engine) drainStream(ctx context.Context, cancel context.CancelFunc, cmd *agent.Command, run *agent.HookContext, start time.Time, in <-chan react.Fragment, out chan<- react.Fragment) {
	defer close(out)
	defer e.sem.Release(1)
	defer cancel()

	var content string
	var sawError bool
	for f := range in {
		if f.Kind == react.FragmentText {
			content += f.Text
		}
		if f.Kind == react.FragmentError {
			sawError = true
		}
		select {
		case out <- f:
		case <-ctx.Done():
			return
		}
	}

	e.memory.SaveStreamingHistory(ctx, cmd, content)

	result := agent.Result{Success: !sawError, DurationMillis: time.Since(start).Milliseconds()}
	if sawError {
		result.ErrorCode = arcerrors.Unknown
	} else {
		c := content
		result.Content = &c
	}
	e.complete(ctx, run, result)
}

// resolveTools narrows the registry's full tool set to the request's
// exposed subset via the configured Selector, then caps it at
// maxToolsPerReq (spec.md §4.4).
func (e *Engine) resolveTools(ctx context.Context, cmd *agent.Command) []agent.ToolSpec {
	all := e.registry.All()
	selected := e.selector.Select(ctx, cmd.UserPrompt, all)
	return tools.LimitTo(selected, e.maxToolsPerReq)
}

// complete runs AfterAgentComplete on a context detached from ctx's
// cancellation, so the teardown/metrics/tracing hooks still run to
// completion even when the request itself was cancelled or timed out
// (spec.md §8 invariant 8: "AfterAgentComplete runs with the
// cancellation recorded").
func (e *Engine) complete(ctx context.Context, run *agent.HookContext, result agent.Result) {
	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	e.chain.RunAfterAgentComplete(detached, run, result)
}

func (e *Engine) finalize(out react.Output, err error, start time.Time) agent.Result {
	if err != nil {
		return errResult(arcerrors.Classify(err), "react", err, start)
	}
	content := out.Content
	return agent.Result{
		Success:        true,
		Content:        &content,
		ToolsUsed:      out.ToolsUsed,
		TokenUsage:     out.TokenUsage,
		DurationMillis: time.Since(start).Milliseconds(),
	}
}

func errResult(code arcerrors.Code, stage string, err error, start time.Time) agent.Result {
	return agent.Result{
		Success:        false,
		ErrorCode:      code,
		ErrorMessage:   err.Error(),
		DurationMillis: time.Since(start).Milliseconds(),
	}
}

func guardRejected(d guard.Decision, start time.Time) agent.Result {
	return agent.Result{
		Success:        false,
		ErrorCode:      d.Code,
		ErrorMessage:   d.Stage + ": " + d.Reason,
		DurationMillis: time.Since(start).Milliseconds(),
	}
}

// hookRejected builds the Result for a BeforeAgentStart hook's Reject
// outcome. These are reported as GUARD_REJECTED: a hook rejection is a
// policy denial indistinguishable, from the caller's perspective, from
// a guard stage rejection (spec.md §7 propagation policy).
func hookRejected(reason string, start time.Time) agent.Result {
	return agent.Result{
		Success:        false,
		ErrorCode:      arcerrors.GuardRejected,
		ErrorMessage:   reason,
		DurationMillis: time.Since(start).Milliseconds(),
	}
}

// resultErr reconstructs the error ExecuteStream returns to the caller
// from a Result already built for the AfterAgentComplete hook.
func resultErr(result agent.Result) error {
	return arcerrors.New(result.ErrorCode, "engine", stderrors.New(result.ErrorMessage))
}

// Diagnostics is the admin snapshot accessor (SPEC_FULL.md §12): a
// narrow, read-only view of circuit-breaker and quota-tier state for
// operational visibility. It is a plain method, not an HTTP handler —
// adapters decide how (or whether) to expose it externally.
type Diagnostics struct {
	QuotaTiers   []circuitbreaker.Stats
	ToolBreakers []circuitbreaker.Stats
	OpenCircuits []string
}

// Diagnostics returns a point-in-time snapshot. Either Quota or
// Breakers may be nil (e.g. in a single-tenant deployment with no
// remote tools); the corresponding slice is simply empty.
func (e *Engine) Diagnostics() Diagnostics {
	var d Diagnostics
	if e.quota != nil {
		d.QuotaTiers = e.quota.Stats()
	}
	if e.breakers != nil {
		d.ToolBreakers = e.breakers.Stats()
		d.OpenCircuits = e.breakers.OpenCircuits()
	}
	return d
}
