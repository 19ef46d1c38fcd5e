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

package main

import (
	"fmt"
	"time"

	"github.com/StarkFactory/arcreactor/pkg/auth"
	"github.com/StarkFactory/arcreactor/pkg/circuitbreaker"
	"github.com/StarkFactory/arcreactor/pkg/config"
	"github.com/StarkFactory/arcreactor/pkg/engine"
	"github.com/StarkFactory/arcreactor/pkg/guard"
	"github.com/StarkFactory/arcreactor/pkg/hooks"
	"github.com/StarkFactory/arcreactor/pkg/llm"
	"github.com/StarkFactory/arcreactor/pkg/mcp"
	"github.com/StarkFactory/arcreactor/pkg/memory"
	"github.com/StarkFactory/arcreactor/pkg/metrics"
	"github.com/StarkFactory/arcreactor/pkg/orchestrator"
	"github.com/StarkFactory/arcreactor/pkg/quota"
	"github.com/StarkFactory/arcreactor/pkg/react"
	"github.com/StarkFactory/arcreactor/pkg/tools"
)

// RuntimeOptions carries the CLI-flag-derived settings that a
// config.Config document cannot express on its own: the model client
// endpoint, the working directory local tools are confined to, and the
// optional auth/MCP fronts.
type RuntimeOptions struct {
	Model      string
	LLMBaseURL string
	LLMAPIKey  string
	WorkDir    string

	JWKSURL  string
	Issuer   string
	Audience string

	MCPServers []mcp.Config
}

// Runtime bundles the wired Engine plus the optional collaborators a
// front (the direct chat loop, here) needs to drive a request: the
// token validator (nil when auth is disabled) and the MCP manager
// (nil when no remote tool server was configured), kept alive for the
// process lifetime.
type Runtime struct {
	Engine    *engine.Engine
	Validator auth.TokenValidator
	MCP       *mcp.Manager
}

// BuildRuntime composes every engine collaborator from cfg and opts in
// dependency order: guards, the LLM client, tools (local and MCP, with
// their circuit breakers), hooks (quota, approvals), memory, the
// orchestrator, the ReAct loop, then the engine itself. This is the one place in the module that wires every
// optional collaborator (quota, approvals, MCP, auth) behind CLI
// flags/config toggles, since the engine and its sub-packages are
// deliberately deployment-agnostic.
func BuildRuntime(cfg *config.Config, opts RuntimeOptions) (*Runtime, error) {
	guards, err := guard.BuildDefault(cfg.Guard)
	if err != nil {
		return nil, fmt.Errorf("wiring: building guard pipeline: %w", err)
	}

	emitter := metrics.NewEmitter(1024, nil, 0)

	chatClient := NewChatClient(ChatClientConfig{
		BaseURL:    opts.LLMBaseURL,
		APIKey:     opts.LLMAPIKey,
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
	})
	retryingClient := llm.NewRetryingClient(chatClient, llm.RetryPolicy{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: cfg.Retry.InitialDelay,
		Multiplier:   cfg.Retry.Multiplier,
		MaxDelay:     cfg.Retry.MaxDelay,
	})

	registry := tools.New()
	if err := registerBuiltinTools(registry, opts.WorkDir); err != nil {
		return nil, fmt.Errorf("wiring: registering local tools: %w", err)
	}

	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		ResetTimeout:     cfg.CircuitBreaker.ResetTimeout,
		HalfOpenMaxCalls: cfg.CircuitBreaker.HalfOpenMaxCalls,
	})

	var mcpManager *mcp.Manager
	if len(opts.MCPServers) > 0 {
		mcpManager = mcp.NewManager(opts.MCPServers, registry, breakers, emitter)
	}

	approvals := orchestrator.NewApprovalManager()

	tracer := hooks.NewTracingHook()
	metricHook := hooks.NewMetricCollectionHook(emitter)

	chain := hooks.New()
	chain.RegisterBeforeAgentStart(tracer)
	chain.RegisterBeforeToolCall(tracer)
	chain.RegisterAfterToolCall(tracer)
	chain.RegisterAfterToolCall(metricHook)
	chain.RegisterAfterAgentComplete(tracer)
	chain.RegisterAfterAgentComplete(metricHook)

	var quotaEnforcer *quota.Enforcer
	if cfg.Quota.Enabled {
		localTier, err := quota.NewLocalTier(cfg.Quota)
		if err != nil {
			return nil, fmt.Errorf("wiring: building quota tier: %w", err)
		}
		quotaEnforcer = quota.New(cfg.CircuitBreaker, localTier)
		chain.RegisterBeforeAgentStart(hooks.NewQuotaEnforcerHook(quotaEnforcer))
	}

	if cfg.Approval.Enabled && len(cfg.Approval.ToolNames) > 0 {
		chain.RegisterBeforeToolCall(hooks.NewApprovalPolicyHook(approvals, cfg.Approval.ToolNames))
	}

	var summarizer memory.Summarizer
	if cfg.Memory.Enabled {
		summarizer, err = memory.NewLLMSummarizer(memory.LLMSummarizerConfig{Client: retryingClient, Model: opts.Model})
		if err != nil {
			return nil, fmt.Errorf("wiring: building summarizer: %w", err)
		}
	}
	memManager := memory.NewManager(
		memory.NewInMemoryStore(cfg.Memory.MaxMessagesPerSession),
		memory.NewInMemorySummaryStore(),
		summarizer,
		cfg.Memory,
		cfg.LLM.MaxConversationTurns,
		emitter,
	)

	orch := orchestrator.New(registry, chain, approvals, orchestrator.Config{
		MaxConcurrentTools: cfg.Concurrency.MaxConcurrentTools,
		ToolCallTimeout:    cfg.Concurrency.ToolCallTimeout,
		ApprovalTimeout:    cfg.Approval.Timeout,
	})

	loopExec := react.NewExecutor(retryingClient, orch, emitter, react.Config{
		MaxContextWindowTokens: cfg.LLM.MaxContextWindowTokens,
		MaxOutputTokens:        cfg.LLM.MaxOutputTokens,
		MaxToolCalls:           cfg.Engine.MaxToolCalls,
		Model:                  opts.Model,
		Temperature:            cfg.LLM.Temperature,
	})

	eng := engine.New(*cfg, engine.Deps{
		Guards:   guards,
		Hooks:    chain,
		Memory:   memManager,
		Registry: registry,
		Selector: buildSelector(cfg.ToolSelection),
		React:    loopExec,
		Quota:    quotaEnforcer,
		Breakers: breakers,
	})

	validator, err := auth.NewValidatorFromJWKS(opts.JWKSURL, opts.Issuer, opts.Audience)
	if err != nil {
		return nil, fmt.Errorf("wiring: building token validator: %w", err)
	}

	return &Runtime{Engine: eng, Validator: validator, MCP: mcpManager}, nil
}

// buildSelector picks the Tool Registry selector strategy named by
// cfg.Strategy (spec.md §4.4). StrategySemantic has no embedder
// available in this CLI — there is no configured embedding provider —
// so it falls back to StrategyAll rather than silently picking a
// different default un-requested by the config.
func buildSelector(cfg config.ToolSelectionConfig) tools.Selector {
	switch cfg.Strategy {
	case config.StrategyKeyword:
		return tools.NewKeywordSelector(nil)
	default:
		return tools.AllSelector{}
	}
}
