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
	"log/slog"
	"sync"

	"github.com/StarkFactory/arcreactor/pkg/agent"
	"github.com/StarkFactory/arcreactor/pkg/config"
	arcerrors "github.com/StarkFactory/arcreactor/pkg/errors"
	"github.com/StarkFactory/arcreactor/pkg/history"
	"github.com/StarkFactory/arcreactor/pkg/metrics"
)

// Manager implements the Conversation Manager contract (spec.md §4.3):
// loadHistory, saveHistory, and saveStreamingHistory. It owns the
// decision of whether to return a verbatim take-last window or a
// 3-layer hierarchical history, and serializes summary refreshes per
// session.
type Manager struct {
	store      Store
	summaries  SummaryStore
	summarizer Summarizer
	cfg        config.MemorySummaryConfig
	maxTurns   int
	emitter    *metrics.Emitter

	refreshMu sync.Mutex
	inFlight  map[string]*sync.Mutex
}

// NewManager builds a Manager. summarizer and summaries may be nil when
// cfg.Enabled is false. maxTurns is config.LLMConfig.MaxConversationTurns,
// used for the take-last window size (spec.md §4.3 step 3).
func NewManager(store Store, summaries SummaryStore, summarizer Summarizer, cfg config.MemorySummaryConfig, maxTurns int, emitter *metrics.Emitter) *Manager {
	return &Manager{
		store:      store,
		summaries:  summaries,
		summarizer: summarizer,
		cfg:        cfg,
		maxTurns:   maxTurns,
		emitter:    emitter,
		inFlight:   make(map[string]*sync.Mutex),
	}
}

// sessionLock returns (creating if needed) the mutex serializing
// summary refreshes for one session, per the Open Question decision
// recorded in DESIGN.md: concurrent loadHistory calls during an
// in-flight refresh block rather than racing a duplicate summarize
// call for the same target index.
func (m *Manager) sessionLock(sessionID string) *sync.Mutex {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()
	l, ok := m.inFlight[sessionID]
	if !ok {
		l = &sync.Mutex{}
		m.inFlight[sessionID] = l
	}
	return l
}

// LoadHistory implements spec.md §4.3's 5-step loading policy.
func (m *Manager) LoadHistory(ctx context.Context, cmd *agent.Command) ([]agent.Message, error) {
	// Step 1: explicit history passthrough.
	if cmd.ConversationHistory != nil {
		return cmd.ConversationHistory, nil
	}

	sessionID := cmd.SessionID()
	if sessionID == "" || m.store == nil {
		return nil, nil
	}

	all, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	takeLastN := m.maxTurns * 2
	if !m.cfg.Enabled {
		// Step 3: summarization disabled.
		return takeLast(all, takeLastN), nil
	}

	if len(all) <= m.cfg.TriggerMessageCount {
		// Step 4: under threshold, same take-last window.
		return takeLast(all, takeLastN), nil
	}

	// Step 5: 3-layer hierarchical history.
	return m.hierarchical(ctx, cmd.TenantID(), sessionID, all)
}

func (m *Manager) hierarchical(ctx context.Context, tenantID, sessionID string, all []agent.Message) ([]agent.Message, error) {
	recentCount := m.cfg.RecentMessageCount
	summaryTarget := len(all) - recentCount

	existing, err := m.summaries.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	needsRefresh := existing == nil || summaryTarget > existing.SummarizedUpToIndex
	if needsRefresh {
		lock := m.sessionLock(sessionID)
		lock.Lock()
		refreshed, refreshErr := m.refreshSummary(ctx, sessionID, all, summaryTarget, existing)
		lock.Unlock()
		if refreshErr != nil {
			if arcerrors.IsCancellation(refreshErr) {
				return nil, refreshErr
			}
			slog.Warn("summary refresh failed, falling back to take-last window", "session", sessionID, "err", refreshErr)
			if m.emitter != nil {
				m.emitter.Publish(metrics.NewSessionEvent(tenantID, "", metrics.SessionPayload{
					SessionID: sessionID,
					Event:     "summary_refresh_failed",
				}))
			}
			return takeLast(all, m.maxTurns*2), nil
		}
		existing = refreshed
	}

	recent := takeLast(all, recentCount)
	return history.AssembleHierarchical(existing, recent), nil
}

// refreshSummary re-checks the trigger condition under the per-session
// lock (another goroutine may have already refreshed while this one
// waited), then summarizes and persists.
func (m *Manager) refreshSummary(ctx context.Context, sessionID string, all []agent.Message, target int, existing *agent.ConversationSummary) (*agent.ConversationSummary, error) {
	current, err := m.summaries.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if current != nil && target <= current.SummarizedUpToIndex {
		return current, nil
	}

	summary, err := m.summarizer.Summarize(ctx, sessionID, all, target)
	if err != nil {
		return nil, err
	}
	if err := m.summaries.Save(ctx, summary); err != nil {
		return nil, err
	}
	return summary, nil
}

// SaveHistory appends the user and assistant turns from one completed
// Execute call (spec.md §4.3 "Saving"). Nothing is saved on failure;
// storage errors are swallowed since history is best-effort.
func (m *Manager) SaveHistory(ctx context.Context, cmd *agent.Command, result *agent.Result) {
	if !result.Success || m.store == nil {
		return
	}
	sessionID := cmd.SessionID()
	if sessionID == "" {
		return
	}

	if err := m.store.AddMessage(ctx, sessionID, agent.Message{
		Role:    agent.RoleUser,
		Content: cmd.UserPrompt,
		UserID:  cmd.UserID,
	}); err != nil {
		slog.Warn("saving user message failed", "session", sessionID, "err", err)
		return
	}

	content := ""
	if result.Content != nil {
		content = *result.Content
	}
	if err := m.store.AddMessage(ctx, sessionID, agent.Message{
		Role:    agent.RoleAssistant,
		Content: content,
		UserID:  cmd.UserID,
	}); err != nil {
		slog.Warn("saving assistant message failed", "session", sessionID, "err", err)
	}
}

// SaveStreamingHistory is SaveHistory's streaming counterpart: the
// final assembled content is known only after the fragment sequence
// has fully drained, so it is passed directly rather than read from an
// agent.Result.
func (m *Manager) SaveStreamingHistory(ctx context.Context, cmd *agent.Command, finalContent string) {
	if m.store == nil {
		return
	}
	sessionID := cmd.SessionID()
	if sessionID == "" {
		return
	}

	if err := m.store.AddMessage(ctx, sessionID, agent.Message{
		Role:    agent.RoleUser,
		Content: cmd.UserPrompt,
		UserID:  cmd.UserID,
	}); err != nil {
		slog.Warn("saving user message failed", "session", sessionID, "err", err)
		return
	}
	if err := m.store.AddMessage(ctx, sessionID, agent.Message{
		Role:    agent.RoleAssistant,
		Content: finalContent,
		UserID:  cmd.UserID,
	}); err != nil {
		slog.Warn("saving assistant message failed", "session", sessionID, "err", err)
	}
}

// takeLast returns at most n trailing messages from all, oldest first.
func takeLast(all []agent.Message, n int) []agent.Message {
	if n <= 0 || len(all) <= n {
		return all
	}
	return all[len(all)-n:]
}
