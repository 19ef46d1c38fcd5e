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

package react

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/StarkFactory/arcreactor/pkg/agent"
	arcerrors "github.com/StarkFactory/arcreactor/pkg/errors"
	"github.com/StarkFactory/arcreactor/pkg/history"
	"github.com/StarkFactory/arcreactor/pkg/llm"
	"github.com/StarkFactory/arcreactor/pkg/tokens"
)

// FragmentKind distinguishes a plain text delta from a typed event
// marker within a streamed sequence (spec.md §4.7).
type FragmentKind int

const (
	FragmentText FragmentKind = iota
	FragmentToolStart
	FragmentToolEnd
	FragmentError
)

// Fragment is one element of the finite, single-use sequence a
// Streaming Executor produces. Text carries the delta for
// FragmentText; Detail carries the tool name for FragmentToolStart/
// FragmentToolEnd or the message for FragmentError.
type Fragment struct {
	Kind   FragmentKind
	Text   string
	Detail string
}

// Marker renders a Fragment's typed-event form, e.g. "tool_start:web_search".
func (f Fragment) Marker() string {
	switch f.Kind {
	case FragmentToolStart:
		return "tool_start:" + f.Detail
	case FragmentToolEnd:
		return "tool_end:" + f.Detail
	case FragmentError:
		return "error:" + f.Detail
	default:
		return f.Text
	}
}

// ExecuteStream runs the ReAct loop exactly as Execute does, except
// the terminal LLM call's text is emitted as an ordered sequence of
// Fragments instead of being returned as one string. A request
// combining streaming with a non-TEXT responseFormat fails fast with
// INVALID_RESPONSE before any model invocation (§4.7) since streaming
// does not support the validate-then-repair flow a complete response
// needs. A producer-side error, or a guard/hook rejection surfaced by
// the caller before ExecuteStream is invoked, emits exactly one
// FragmentError and closes the channel.
func (e *Executor) ExecuteStream(ctx context.Context, cmd *agent.Command, run *agent.HookContext, systemPrompt string, toolset []agent.ToolSpec, convHistory []agent.Message) (<-chan Fragment, error) {
	if cmd.EffectiveResponseFormat() != agent.FormatText {
		return nil, arcerrors.New(arcerrors.InvalidResponse, "react", arcerrors.ErrStreamingWithSchema)
	}

	out := make(chan Fragment, 16)
	go e.runStream(ctx, cmd, run, systemPrompt, toolset, convHistory, out)
	return out, nil
}

func (e *Executor) runStream(ctx context.Context, cmd *agent.Command, run *agent.HookContext, systemPrompt string, toolset []agent.ToolSpec, convHistory []agent.Message, out chan<- Fragment) {
	defer close(out)

	emitErr := func(err error) {
		select {
		case out <- Fragment{Kind: FragmentError, Detail: err.Error()}:
		case <-ctx.Done():
		}
	}

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

	for {
		if err := ctx.Err(); err != nil {
			emitErr(err)
			return
		}

		trimmed := trimmer.Trim(messages, budget)
		if estimator.CountMessages(trimmed) > budget {
			emitErr(arcerrors.New(arcerrors.ContextTooLong, "react", arcerrors.ErrContextTooLong))
			return
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

		if exposeTools {
			resp, err := e.client.Generate(ctx, req)
			if err != nil {
				emitErr(err)
				return
			}
			e.publishTokenUsage(run, model, resp.TokenUsage)

			if resp.HasToolCalls() {
				if !e.dispatchStreamTools(ctx, run, resp, &messages, &toolCallsUsed, out) {
					return
				}
				continue
			}

			e.emitText(ctx, out, resp.Text)
			return
		}

		// Final iteration: tools disabled, stream the terminal text as
		// it is produced when the client supports it.
		if err := e.streamTerminal(ctx, run, req, out); err != nil {
			emitErr(err)
		}
		return
	}
}

// dispatchStreamTools runs one tool-calling iteration, emitting
// tool_start/tool_end markers around the dispatch, and reports whether
// the loop should continue (false means a fatal error was already
// emitted and the stream is closing).
func (e *Executor) dispatchStreamTools(ctx context.Context, run *agent.HookContext, resp *llm.Response, messages *[]agent.Message, toolCallsUsed *int64, out chan<- Fragment) bool {
	for _, call := range resp.ToolCalls {
		select {
		case out <- Fragment{Kind: FragmentToolStart, Detail: call.ToolName}:
		case <-ctx.Done():
			return false
		}
	}

	results := e.orchestrator.Dispatch(ctx, run, resp.ToolCalls, toolCallsUsed)

	*messages = append(*messages, agent.Message{Role: agent.RoleAssistant, ToolCalls: resp.ToolCalls, Timestamp: time.Now()})
	for i, call := range resp.ToolCalls {
		result := results[i]
		content := result.Output
		if !result.Success {
			content = result.ErrorMessage
		}
		*messages = append(*messages, agent.Message{
			Role:       agent.RoleTool,
			ToolCallID: result.ID,
			Content:    content,
			Timestamp:  time.Now(),
		})
		select {
		case out <- Fragment{Kind: FragmentToolEnd, Detail: call.ToolName}:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// streamTerminal produces the final response's text as Fragments,
// using the client's native streaming capability when available and
// falling back to word-chunking a complete Generate response when it
// isn't.
func (e *Executor) streamTerminal(ctx context.Context, run *agent.HookContext, req llm.Request, out chan<- Fragment) error {
	if streamer, ok := e.client.(llm.StreamingClient); ok {
		chunks, err := streamer.GenerateStream(ctx, req)
		if err != nil {
			return err
		}
		for chunk := range chunks {
			if chunk.TextDelta != "" {
				select {
				case out <- Fragment{Kind: FragmentText, Text: chunk.TextDelta}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if chunk.Done && chunk.Response != nil {
				e.publishTokenUsage(run, req.Model, chunk.Response.TokenUsage)
			}
		}
		return nil
	}

	resp, err := e.client.Generate(ctx, req)
	if err != nil {
		return err
	}
	e.publishTokenUsage(run, req.Model, resp.TokenUsage)
	e.emitText(ctx, out, resp.Text)
	return nil
}

// emitText splits a complete response into word-level Fragments so a
// client without native streaming still yields a deterministic
// multi-fragment sequence instead of one giant chunk.
func (e *Executor) emitText(ctx context.Context, out chan<- Fragment, text string) {
	words := strings.Fields(text)
	if len(words) == 0 {
		if text != "" {
			select {
			case out <- Fragment{Kind: FragmentText, Text: text}:
			case <-ctx.Done():
			}
		}
		return
	}
	for i, w := range words {
		chunk := w
		if i < len(words)-1 {
			chunk += " "
		}
		select {
		case out <- Fragment{Kind: FragmentText, Text: chunk}:
		case <-ctx.Done():
			return
		}
	}
}
