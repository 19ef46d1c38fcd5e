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

// Package react implements the ReAct Loop Executor and Streaming
// Executor (spec.md §4.6, §4.7): the per-iteration trim/invoke/dispatch
// cycle that drives one agent turn to a terminal response, and the
// finite fragment sequence the streaming surface consumes.
package react

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/StarkFactory/arcreactor/pkg/agent"
	arcerrors "github.com/StarkFactory/arcreactor/pkg/errors"
	"github.com/StarkFactory/arcreactor/pkg/history"
	"github.com/StarkFactory/arcreactor/pkg/llm"
	"github.com/StarkFactory/arcreactor/pkg/metrics"
	"github.com/StarkFactory/arcreactor/pkg/orchestrator"
	"github.com/StarkFactory/arcreactor/pkg/tokens"
)

// Config bounds one Executor's loop behavior; values default from
// config.EngineConfig/config.LLMConfig at wiring time.
type Config struct {
	MaxContextWindowTokens int
	MaxOutputTokens        int
	MaxToolCalls           int
	Model                  string
	Temperature            float64
}

// Output is the terminal result of one Execute call.
type Output struct {
	Content    string
	ToolsUsed  []string
	TokenUsage agent.TokenUsage
}

// Executor runs the ReAct loop: trim, invoke, dispatch tool calls,
// repeat, until a terminal response is produced or an error surfaces.
type Executor struct {
	client       llm.Client
	orchestrator *orchestrator.Orchestrator
	emitter      *metrics.Emitter
	cfg          Config
}

// NewExecutor builds an Executor. client is expected to already be
// wrapped with the retry policy (llm.NewRetryingClient) by the caller,
// per spec.md §4.6 step 3 — the loop itself does not retry.
func NewExecutor(client llm.Client, orch *orchestrator.Orchestrator, emitter *metrics.Emitter, cfg Config) *Executor {
	if cfg.MaxContextWindowTokens <= 0 {
		cfg.MaxContextWindowTokens = 128000
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 4096
	}
	if cfg.MaxToolCalls <= 0 {
		cfg.MaxToolCalls = 10
	}
	return &Executor{client: client, orchestrator: orch, emitter: emitter, cfg: cfg}
}

// Execute runs the loop for one user turn. toolset is the already
// request-narrowed tool list (Tool Registry selector output, §4.4);
// convHistory is the already-loaded/trimmed-for-policy conversation
// history from the Conversation Manager (§4.3) — Execute appends the
// new user turn itself.
func (e *Executor) Execute(ctx context.Context, cmd *agent.Command, run *agent.HookContext, systemPrompt string, toolset []agent.ToolSpec, convHistory []agent.Message) (Output, error) {
	model := cmd.Model
	if model == "" {
		model = e.cfg.Model
	}
	maxToolCalls := cmd.MaxToolCalls
	if maxToolCalls <= 0 {
		maxToolCalls = e.cfg.MaxToolCalls
	}

	estimator := tokens.New(model)
	trimmer := history.NewTrimmer(estimator)
	budget := e.cfg.MaxContextWindowTokens - estimator.Count(systemPrompt) - e.cfg.MaxOutputTokens
	if budget < 0 {
		budget = 0
	}

	messages := make([]agent.Message, 0, len(convHistory)+1)
	messages = append(messages, convHistory...)
	messages = append(messages, agent.Message{Role: agent.RoleUser, Content: cmd.UserPrompt, Timestamp: time.Now()})

	var toolCallsUsed int64
	var usage agent.TokenUsage
	var toolsUsed []string
	seen := make(map[string]bool)

	for {
		if err := ctx.Err(); err != nil {
			return Output{}, err
		}

		trimmed := trimmer.Trim(messages, budget)
		if estimator.CountMessages(trimmed) > budget {
			return Output{}, arcerrors.New(arcerrors.ContextTooLong, "react", arcerrors.ErrContextTooLong)
		}
		exposeTools := atomic.LoadInt64(&toolCallsUsed) < int64(maxToolCalls)
		var exposed []agent.ToolSpec
		if exposeTools {
			exposed = toolset
		}

		req := llm.Request{
			SystemPrompt: systemPrompt,
			Messages:     trimmed,
			Tools:        exposed,
			Model:        model,
			Temperature:  e.cfg.Temperature,
			MaxTokens:    e.cfg.MaxOutputTokens,
		}
		resp, err := e.client.Generate(ctx, req)
		if err != nil {
			return Output{}, err
		}
		usage.Add(resp.TokenUsage)
		e.publishTokenUsage(run, model, resp.TokenUsage)

		if exposeTools && resp.HasToolCalls() {
			results := e.orchestrator.Dispatch(ctx, run, resp.ToolCalls, &toolCallsUsed)

			messages = append(messages, agent.Message{
				Role:      agent.RoleAssistant,
				ToolCalls: resp.ToolCalls,
				Timestamp: time.Now(),
			})
			for i, call := range resp.ToolCalls {
				result := results[i]
				if !seen[call.ToolName] {
					seen[call.ToolName] = true
					toolsUsed = append(toolsUsed, call.ToolName)
				}
				content := result.Output
				if !result.Success {
					content = result.ErrorMessage
				}
				messages = append(messages, agent.Message{
					Role:       agent.RoleTool,
					ToolCallID: result.ID,
					Content:    content,
					Timestamp:  time.Now(),
				})
			}
			continue
		}

		return e.finalize(ctx, cmd, req, resp.Text, usage, toolsUsed)
	}
}

// finalize applies structured-output validation with exactly one
// repair call on failure (spec.md §4.6 step 5).
func (e *Executor) finalize(ctx context.Context, cmd *agent.Command, lastReq llm.Request, text string, usage agent.TokenUsage, toolsUsed []string) (Output, error) {
	format := cmd.EffectiveResponseFormat()
	if format == agent.FormatText {
		return Output{Content: text, ToolsUsed: toolsUsed, TokenUsage: usage}, nil
	}

	validationErr := ValidateStructured(format, cmd.ResponseSchema, text)
	if validationErr == nil {
		return Output{Content: text, ToolsUsed: toolsUsed, TokenUsage: usage}, nil
	}

	repairReq := lastReq
	repairReq.Tools = nil
	repairReq.Messages = append(append([]agent.Message(nil), lastReq.Messages...),
		agent.Message{Role: agent.RoleAssistant, Content: text, Timestamp: time.Now()},
		agent.Message{
			Role: agent.RoleUser,
			Content: fmt.Sprintf(
				"Your previous response failed validation: %v. Reply again with only a valid response satisfying the required format and schema, and no other text.",
				validationErr,
			),
			Timestamp: time.Now(),
		},
	)

	resp, genErr := e.client.Generate(ctx, repairReq)
	if genErr != nil {
		return Output{}, genErr
	}
	usage.Add(resp.TokenUsage)
	e.publishTokenUsage(nil, repairReq.Model, resp.TokenUsage)

	if verr := ValidateStructured(format, cmd.ResponseSchema, resp.Text); verr != nil {
		return Output{}, arcerrors.New(arcerrors.InvalidResponse, "react", verr)
	}
	return Output{Content: resp.Text, ToolsUsed: toolsUsed, TokenUsage: usage}, nil
}

func (e *Executor) publishTokenUsage(run *agent.HookContext, model string, usage agent.TokenUsage) {
	if e.emitter == nil {
		return
	}
	var tenantID, runID string
	if run != nil {
		tenantID, runID = run.TenantID, run.RunID
	}
	e.emitter.Publish(metrics.NewTokenUsageEvent(tenantID, runID, metrics.TokenUsagePayload{
		Model:      model,
		Prompt:     usage.Prompt,
		Completion: usage.Completion,
		Total:      usage.Total,
	}))
}
