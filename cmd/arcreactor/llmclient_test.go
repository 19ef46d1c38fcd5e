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
	"encoding/json"
	"testing"
	"time"

	"github.com/StarkFactory/arcreactor/pkg/agent"
	"github.com/StarkFactory/arcreactor/pkg/llm"
)

func TestToChatMessages(t *testing.T) {
	req := llm.Request{
		SystemPrompt: "be concise",
		Messages: []agent.Message{
			{Role: agent.RoleUser, Content: "hello", Timestamp: time.Now()},
			{
				Role:      agent.RoleAssistant,
				Timestamp: time.Now(),
				ToolCalls: []agent.ToolCall{{ID: "call-1", ToolName: "current_time", Arguments: json.RawMessage(`{}`)}},
			},
			{Role: agent.RoleTool, ToolCallID: "call-1", Content: "2026-07-31T00:00:00Z", Timestamp: time.Now()},
		},
	}

	got := toChatMessages(req)
	if len(got) != 4 {
		t.Fatalf("expected 4 chat messages (system + 3), got %d", len(got))
	}
	if got[0].Role != "system" || got[0].Content != "be concise" {
		t.Errorf("unexpected system message: %+v", got[0])
	}
	if got[2].Role != "assistant" || len(got[2].ToolCalls) != 1 || got[2].ToolCalls[0].Function.Name != "current_time" {
		t.Errorf("unexpected assistant tool-call message: %+v", got[2])
	}
	if got[3].Role != "tool" || got[3].ToolCallID != "call-1" {
		t.Errorf("unexpected tool message: %+v", got[3])
	}
}

func TestToChatTools_Empty(t *testing.T) {
	if got := toChatTools(nil); got != nil {
		t.Errorf("expected nil for no tools, got %v", got)
	}
}

func TestToChatTools(t *testing.T) {
	specs := []agent.ToolSpec{
		{Name: "read_file", Description: "reads a file", Schema: json.RawMessage(`{"type":"object"}`)},
	}
	got := toChatTools(specs)
	if len(got) != 1 || got[0].Function.Name != "read_file" || got[0].Type != "function" {
		t.Fatalf("unexpected chat tools: %+v", got)
	}
}

func TestChatRole(t *testing.T) {
	cases := map[agent.Role]string{
		agent.RoleUser:      "user",
		agent.RoleAssistant: "assistant",
		agent.RoleTool:      "tool",
		agent.RoleSystem:    "system",
	}
	for role, want := range cases {
		if got := chatRole(role); got != want {
			t.Errorf("chatRole(%v) = %q, want %q", role, got, want)
		}
	}
}
