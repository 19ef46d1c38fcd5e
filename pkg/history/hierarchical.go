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

package history

import (
	"fmt"
	"strings"
	"time"

	"github.com/StarkFactory/arcreactor/pkg/agent"
)

// FactsHeader and SummaryHeader are the literal headers spec.md §4.3
// requires for layer 1 and layer 2 of the hierarchical history.
const (
	FactsHeader   = "Conversation Facts:\n"
	SummaryHeader = "Conversation Summary:\n"
)

// AssembleHierarchical builds the 3-layer hierarchical history from a
// cached summary and the most recent messages: a facts SYSTEM message,
// a narrative SYSTEM message, then recent verbatim messages. Either of
// the first two layers is omitted when its content would be empty; if
// both are empty only the recent layer is returned.
func AssembleHierarchical(summary *agent.ConversationSummary, recent []agent.Message) []Message {
	now := time.Now()
	var out []agent.Message

	if summary != nil {
		if facts := formatFacts(summary.Facts); facts != "" {
			out = append(out, agent.Message{
				Role:      agent.RoleSystem,
				Content:   FactsHeader + facts,
				Timestamp: now,
			})
		}
		if strings.TrimSpace(summary.Narrative) != "" {
			out = append(out, agent.Message{
				Role:      agent.RoleSystem,
				Content:   SummaryHeader + strings.TrimSpace(summary.Narrative),
				Timestamp: now,
			})
		}
	}

	out = append(out, recent...)
	return out
}

// Message is an alias kept for call-site readability; it is identical
// to agent.Message.
type Message = agent.Message

func formatFacts(facts []agent.SummaryFact) string {
	if len(facts) == 0 {
		return ""
	}
	var b strings.Builder
	for _, f := range facts {
		fmt.Fprintf(&b, "%s=%s\n", f.Key, f.Value)
	}
	return strings.TrimRight(b.String(), "\n")
}
