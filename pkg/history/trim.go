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

// Package history implements the ReAct loop's per-iteration message
// trimmer and the Conversation Manager's 3-layer hierarchical history
// assembly. Both operate on plain []agent.Message values owned by the
// caller; neither package talks to a store.
package history

import (
	"github.com/StarkFactory/arcreactor/pkg/agent"
	"github.com/StarkFactory/arcreactor/pkg/tokens"
)

// Trimmer drops the oldest messages from a transcript until it fits a
// token budget. A SYSTEM message at index 0 is never dropped; any other
// SYSTEM message (such as the second of two leading summary layers) is
// not pinned and is trimmed like a USER/ASSISTANT/TOOL message. An
// ASSISTANT-with-tool-calls message is never separated from the TOOL
// replies that answer it.
type Trimmer struct {
	estimator *tokens.Estimator
}

// NewTrimmer builds a Trimmer backed by estimator.
func NewTrimmer(estimator *tokens.Estimator) *Trimmer {
	return &Trimmer{estimator: estimator}
}

// Trim returns the suffix of messages whose estimated token count fits
// within budget, always keeping the trailing run intact as whole
// "units" (a lone USER/TOOL message, or an ASSISTANT-with-tool-calls
// message plus every TOOL message that answers it). A SYSTEM message at
// index 0 is kept regardless of budget; no other SYSTEM message is
// pinned. If even the
// newest unit alone exceeds budget, Trim still returns it — callers
// surface CONTEXT_TOO_LONG only when the model-facing total (including
// the system prompt) is still over budget after this pass.
func (t *Trimmer) Trim(messages []agent.Message, budget int) []agent.Message {
	if budget < 0 {
		budget = 0
	}

	units := groupIntoUnits(messages)
	if len(units) == 0 {
		return nil
	}

	// Walk from the newest unit backward, accumulating until budget is
	// exhausted. The leading SYSTEM message (if the original transcript
	// starts with one) is pinned and re-attached regardless of budget.
	var leadingSystem *agent.Message
	startIdx := 0
	if units[0].isSystem() {
		m := units[0].messages[0]
		leadingSystem = &m
		startIdx = 1
	}

	kept := make([]unit, 0, len(units))
	used := 0
	if leadingSystem != nil {
		used += t.estimator.EstimateMessage(*leadingSystem)
	}

	for i := len(units) - 1; i >= startIdx; i-- {
		cost := units[i].tokenCost(t.estimator)
		if used+cost > budget && len(kept) > 0 {
			break
		}
		kept = append(kept, units[i])
		used += cost
	}

	// kept was built newest-first; reverse to restore chronological order.
	out := make([]agent.Message, 0, len(messages))
	if leadingSystem != nil {
		out = append(out, *leadingSystem)
	}
	for i := len(kept) - 1; i >= 0; i-- {
		out = append(out, kept[i].messages...)
	}
	return out
}

// unit is one indivisible group for trimming purposes.
type unit struct {
	messages []agent.Message
}

func (u unit) isSystem() bool {
	return len(u.messages) == 1 && u.messages[0].Role == agent.RoleSystem
}

func (u unit) tokenCost(e *tokens.Estimator) int {
	total := 0
	for _, m := range u.messages {
		total += e.EstimateMessage(m)
	}
	return total
}

// groupIntoUnits partitions messages into trim-atomic units: every
// non-assistant message is its own unit, and an ASSISTANT message that
// carries ToolCalls is grouped with every immediately-following TOOL
// message that answers one of those calls.
func groupIntoUnits(messages []agent.Message) []unit {
	var units []unit
	i := 0
	for i < len(messages) {
		m := messages[i]
		if m.Role == agent.RoleAssistant && len(m.ToolCalls) > 0 {
			group := []agent.Message{m}
			j := i + 1
			for j < len(messages) && messages[j].Role == agent.RoleTool {
				group = append(group, messages[j])
				j++
			}
			units = append(units, unit{messages: group})
			i = j
			continue
		}
		units = append(units, unit{messages: []agent.Message{m}})
		i++
	}
	return units
}
