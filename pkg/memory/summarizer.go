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

package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/StarkFactory/arcreactor/pkg/agent"
	"github.com/StarkFactory/arcreactor/pkg/llm"
)

// defaultSummarizationPrompt asks the model for a structured narrative
// plus a small set of discrete facts, matching ConversationSummary's
// two-layer shape (spec.md §4.3). %s is the transcript text.
const defaultSummarizationPrompt = `You are a conversation summarizer. Produce a concise summary of the
conversation below that preserves the key facts, decisions, and context
needed to continue the conversation.

Guidelines:
- Focus on key facts, decisions, and state
- Preserve names, dates, numbers exactly
- Keep the narrative concise but complete
- Write in a neutral, factual tone
- Do not invent information not present in the conversation

Respond with ONLY a JSON object of this exact shape, no surrounding text:
{"narrative": "...", "facts": [{"key": "...", "value": "...", "category": "ENTITY|NUMERIC|STATE|DECISION|GENERAL"}]}

Conversation:
%s`

// LLMSummarizer implements Summarizer using an llm.Client, grounded on
// the teacher's pkg/memory/summarizer.go LLMSummarizer but rebuilt
// against this module's llm.Client/llm.Request rather than the
// teacher's a2a message types, and asking for structured JSON instead
// of free text so the result maps directly onto ConversationSummary's
// Narrative+Facts fields.
type LLMSummarizer struct {
	client llm.Client
	prompt string
	model  string
}

// LLMSummarizerConfig configures the LLM summarizer.
type LLMSummarizerConfig struct {
	Client llm.Client
	Model  string
	// Prompt is a custom template with one %s placeholder for the
	// transcript text. Empty uses defaultSummarizationPrompt.
	Prompt string
}

// NewLLMSummarizer builds an LLMSummarizer.
func NewLLMSummarizer(cfg LLMSummarizerConfig) (*LLMSummarizer, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("memory: an llm.Client is required for summarization")
	}
	prompt := cfg.Prompt
	if prompt == "" {
		prompt = defaultSummarizationPrompt
	}
	return &LLMSummarizer{client: cfg.Client, prompt: prompt, model: cfg.Model}, nil
}

type summaryPayload struct {
	Narrative string `json:"narrative"`
	Facts     []struct {
		Key      string `json:"key"`
		Value    string `json:"value"`
		Category string `json:"category"`
	} `json:"facts"`
}

// Summarize builds a ConversationSummary covering messages[:upToIndex].
// An empty message window returns an empty summary rather than calling
// the model.
func (s *LLMSummarizer) Summarize(ctx context.Context, sessionID string, messages []agent.Message, upToIndex int) (*agent.ConversationSummary, error) {
	if upToIndex <= 0 || upToIndex > len(messages) {
		upToIndex = len(messages)
	}
	window := messages[:upToIndex]

	var transcript strings.Builder
	for _, m := range window {
		if m.Content == "" {
			continue
		}
		fmt.Fprintf(&transcript, "[%s]: %s\n\n", m.Role, m.Content)
	}
	if transcript.Len() == 0 {
		return &agent.ConversationSummary{SessionID: sessionID, SummarizedUpToIndex: upToIndex}, nil
	}

	req := llm.Request{
		Messages: []agent.Message{{Role: agent.RoleUser, Content: fmt.Sprintf(s.prompt, transcript.String())}},
		Model:    s.model,
	}

	resp, err := s.client.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("memory: summarization call failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var payload summaryPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("memory: decoding summarizer response: %w", err)
	}

	facts := make([]agent.SummaryFact, 0, len(payload.Facts))
	for _, f := range payload.Facts {
		cat := agent.SummaryFactCategory(f.Category)
		switch cat {
		case agent.FactEntity, agent.FactNumeric, agent.FactState, agent.FactDecision:
		default:
			cat = agent.FactGeneral
		}
		facts = append(facts, agent.SummaryFact{Key: f.Key, Value: f.Value, Category: cat})
	}

	return &agent.ConversationSummary{
		SessionID:           sessionID,
		Narrative:           payload.Narrative,
		Facts:               facts,
		SummarizedUpToIndex: upToIndex,
	}, nil
}

var _ Summarizer = (*LLMSummarizer)(nil)
