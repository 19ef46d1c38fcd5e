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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/StarkFactory/arcreactor/pkg/agent"
	"github.com/StarkFactory/arcreactor/pkg/httpclient"
	"github.com/StarkFactory/arcreactor/pkg/llm"
)

// ChatClientConfig configures a ChatClient.
type ChatClientConfig struct {
	BaseURL    string
	APIKey     string
	MaxRetries int
	BaseDelay  time.Duration
}

// ChatClient is a compact llm.Client adapter over the OpenAI
// Chat-Completions wire format, grounded on the teacher's
// pkg/llms/openai.go for the overall provider-adapter shape (an
// httpclient.Client-backed HTTP caller with retry/backoff and
// rate-limit-aware header parsing) but implementing only the
// Chat-Completions request/response schema, not the teacher's
// Responses-API SSE protocol — the engine's llm.Client contract only
// needs one synchronous Generate call per ReAct iteration. Works
// against OpenAI itself or any Chat-Completions-compatible endpoint
// (e.g. a local Ollama/vLLM server).
type ChatClient struct {
	http    *httpclient.Client
	baseURL string
	apiKey  string
}

// NewChatClient builds a ChatClient, composing the shared httpclient
// options the same way the teacher's createHTTPClient does.
func NewChatClient(cfg ChatClientConfig) *ChatClient {
	opts := []httpclient.Option{
		httpclient.WithHeaderParser(httpclient.ParseOpenAIRateLimitHeaders),
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, httpclient.WithMaxRetries(cfg.MaxRetries))
	}
	if cfg.BaseDelay > 0 {
		opts = append(opts, httpclient.WithBaseDelay(cfg.BaseDelay))
	}
	return &ChatClient{
		http:    httpclient.New(opts...),
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
	}
}

type chatMessage struct {
	Role       string          `json:"role"`
	Content    string          `json:"content,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolCalls  []chatToolCall  `json:"tool_calls,omitempty"`
}

type chatToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function chatToolFunction `json:"function"`
}

type chatToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatTool struct {
	Type     string              `json:"type"`
	Function chatToolDefinition  `json:"function"`
}

type chatToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Tools       []chatTool    `json:"tools,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string         `json:"content"`
			ToolCalls []chatToolCall `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Generate implements llm.Client.
func (c *ChatClient) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	body := chatRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Messages:    toChatMessages(req),
		Tools:       toChatTools(req.Tools),
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("llmclient: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("llmclient: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llmclient: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llmclient: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("llmclient: %s: %s", resp.Status, string(data))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("llmclient: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("llmclient: response carried no choices")
	}

	choice := parsed.Choices[0].Message
	out := &llm.Response{
		Text: choice.Content,
		TokenUsage: agent.TokenUsage{
			Prompt:     parsed.Usage.PromptTokens,
			Completion: parsed.Usage.CompletionTokens,
			Total:      parsed.Usage.TotalTokens,
		},
	}
	for i, tc := range choice.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, agent.ToolCall{
			ID:        tc.ID,
			ToolName:  tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
			Index:     i,
		})
	}
	return out, nil
}

func toChatMessages(req llm.Request) []chatMessage {
	out := make([]chatMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		out = append(out, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		cm := chatMessage{Role: chatRole(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, chatToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: chatToolFunction{
					Name:      tc.ToolName,
					Arguments: string(tc.Arguments),
				},
			})
		}
		out = append(out, cm)
	}
	return out
}

func chatRole(r agent.Role) string {
	switch r {
	case agent.RoleUser:
		return "user"
	case agent.RoleAssistant:
		return "assistant"
	case agent.RoleTool:
		return "tool"
	default:
		return "system"
	}
}

func toChatTools(specs []agent.ToolSpec) []chatTool {
	if len(specs) == 0 {
		return nil
	}
	out := make([]chatTool, 0, len(specs))
	for _, s := range specs {
		out = append(out, chatTool{
			Type: "function",
			Function: chatToolDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.Schema,
			},
		})
	}
	return out
}
