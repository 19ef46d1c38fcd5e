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
	"errors"
	"testing"

	"github.com/StarkFactory/arcreactor/pkg/agent"
	"github.com/StarkFactory/arcreactor/pkg/config"
)

type countingSummarizer struct {
	calls int
	fn    func(messages []agent.Message, upToIndex int) (*agent.ConversationSummary, error)
}

func (s *countingSummarizer) Summarize(_ context.Context, sessionID string, messages []agent.Message, upToIndex int) (*agent.ConversationSummary, error) {
	s.calls++
	if s.fn != nil {
		return s.fn(messages, upToIndex)
	}
	return &agent.ConversationSummary{
		SessionID:           sessionID,
		Narrative:           "narrative",
		Facts:               []agent.SummaryFact{{Key: "topic", Value: "billing", Category: agent.FactEntity}},
		SummarizedUpToIndex: upToIndex,
	}, nil
}

func seedMessages(t *testing.T, store Store, sessionID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		role := agent.RoleUser
		if i%2 == 1 {
			role = agent.RoleAssistant
		}
		if err := store.AddMessage(context.Background(), sessionID, agent.Message{Role: role, Content: "msg"}); err != nil {
			t.Fatalf("seed AddMessage: %v", err)
		}
	}
}

func TestManager_LoadHistory_ExplicitPassthrough(t *testing.T) {
	m := NewManager(NewInMemoryStore(0), nil, nil, config.MemorySummaryConfig{}, 10, nil)
	explicit := []agent.Message{{Role: agent.RoleUser, Content: "explicit"}}
	cmd := &agent.Command{ConversationHistory: explicit, Metadata: map[string]string{agent.MetaSessionID: "sess1"}}

	got, err := m.LoadHistory(context.Background(), cmd)
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(got) != 1 || got[0].Content != "explicit" {
		t.Fatalf("expected explicit history passthrough, got %+v", got)
	}
}

func TestManager_LoadHistory_SummarizationDisabledTakesLast(t *testing.T) {
	store := NewInMemoryStore(0)
	seedMessages(t, store, "sess1", 30)

	m := NewManager(store, nil, nil, config.MemorySummaryConfig{Enabled: false}, 10, nil)
	cmd := &agent.Command{Metadata: map[string]string{agent.MetaSessionID: "sess1"}}

	got, err := m.LoadHistory(context.Background(), cmd)
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(got) != 20 { // maxTurns(10) * 2
		t.Fatalf("expected 20 messages, got %d", len(got))
	}
}

func TestManager_LoadHistory_UnderThresholdTakesLast(t *testing.T) {
	store := NewInMemoryStore(0)
	seedMessages(t, store, "sess1", 15)

	cfg := config.MemorySummaryConfig{Enabled: true, TriggerMessageCount: 20, RecentMessageCount: 10}
	summarizer := &countingSummarizer{}
	m := NewManager(store, NewInMemorySummaryStore(), summarizer, cfg, 10, nil)
	cmd := &agent.Command{Metadata: map[string]string{agent.MetaSessionID: "sess1"}}

	got, err := m.LoadHistory(context.Background(), cmd)
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(got) != 15 {
		t.Fatalf("expected all 15 messages under threshold, got %d", len(got))
	}
	if summarizer.calls != 0 {
		t.Fatalf("expected summarizer not to be called under threshold")
	}
}

func TestManager_LoadHistory_Hierarchical(t *testing.T) {
	store := NewInMemoryStore(0)
	seedMessages(t, store, "sess1", 32)

	cfg := config.MemorySummaryConfig{Enabled: true, TriggerMessageCount: 20, RecentMessageCount: 10}
	summarizer := &countingSummarizer{}
	summaries := NewInMemorySummaryStore()
	m := NewManager(store, summaries, summarizer, cfg, 10, nil)
	cmd := &agent.Command{Metadata: map[string]string{agent.MetaSessionID: "sess1"}}

	got, err := m.LoadHistory(context.Background(), cmd)
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	// 2 SYSTEM (facts, narrative) + 10 recent verbatim.
	if len(got) != 12 {
		t.Fatalf("expected 12 messages (2 summary + 10 recent), got %d", len(got))
	}
	if got[0].Role != agent.RoleSystem || got[1].Role != agent.RoleSystem {
		t.Fatalf("expected first two messages to be SYSTEM summary layers, got %+v %+v", got[0], got[1])
	}
	if summarizer.calls != 1 {
		t.Fatalf("expected exactly one summarizer call, got %d", summarizer.calls)
	}

	// A second load with no new messages should not call the summarizer again.
	got2, err := m.LoadHistory(context.Background(), cmd)
	if err != nil {
		t.Fatalf("LoadHistory (second): %v", err)
	}
	if len(got2) != 12 {
		t.Fatalf("expected stable 12 messages on second load, got %d", len(got2))
	}
	if summarizer.calls != 1 {
		t.Fatalf("expected summarizer still called exactly once, got %d", summarizer.calls)
	}
}

func TestManager_LoadHistory_SummarizerFailureFallsBack(t *testing.T) {
	store := NewInMemoryStore(0)
	seedMessages(t, store, "sess1", 32)

	cfg := config.MemorySummaryConfig{Enabled: true, TriggerMessageCount: 20, RecentMessageCount: 10}
	summarizer := &countingSummarizer{fn: func(_ []agent.Message, _ int) (*agent.ConversationSummary, error) {
		return nil, errors.New("boom")
	}}
	m := NewManager(store, NewInMemorySummaryStore(), summarizer, cfg, 10, nil)
	cmd := &agent.Command{Metadata: map[string]string{agent.MetaSessionID: "sess1"}}

	got, err := m.LoadHistory(context.Background(), cmd)
	if err != nil {
		t.Fatalf("LoadHistory should fall back, not error: %v", err)
	}
	if len(got) != 20 { // take-last(maxTurns*2)
		t.Fatalf("expected fallback take-last window of 20, got %d", len(got))
	}
}

func TestManager_SaveHistory_OnlyOnSuccess(t *testing.T) {
	store := NewInMemoryStore(0)
	m := NewManager(store, nil, nil, config.MemorySummaryConfig{}, 10, nil)
	cmd := &agent.Command{UserPrompt: "hi", Metadata: map[string]string{agent.MetaSessionID: "sess1"}}

	content := "hello there"
	m.SaveHistory(context.Background(), cmd, &agent.Result{Success: true, Content: &content})
	msgs, _ := store.Get(context.Background(), "sess1")
	if len(msgs) != 2 {
		t.Fatalf("expected 2 saved messages on success, got %d", len(msgs))
	}

	m.SaveHistory(context.Background(), cmd, &agent.Result{Success: false})
	msgs, _ = store.Get(context.Background(), "sess1")
	if len(msgs) != 2 {
		t.Fatalf("expected no additional messages saved on failure, got %d", len(msgs))
	}
}

func TestManager_SaveStreamingHistory(t *testing.T) {
	store := NewInMemoryStore(0)
	m := NewManager(store, nil, nil, config.MemorySummaryConfig{}, 10, nil)
	cmd := &agent.Command{UserPrompt: "hi", Metadata: map[string]string{agent.MetaSessionID: "sess1"}}

	m.SaveStreamingHistory(context.Background(), cmd, "streamed response")
	msgs, _ := store.Get(context.Background(), "sess1")
	if len(msgs) != 2 || msgs[1].Content != "streamed response" {
		t.Fatalf("unexpected streaming save result: %+v", msgs)
	}
}
