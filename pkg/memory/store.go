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
	"fmt"
	"sync"

	"github.com/StarkFactory/arcreactor/pkg/agent"
)

// InMemoryStore is an in-process Store, grounded on the teacher's
// pkg/memory/session_service.go InMemorySessionService: a map of
// session id to its message slice guarded by one RWMutex.
type InMemoryStore struct {
	mu                sync.RWMutex
	sessions          map[string][]agent.Message
	owners            map[string]string
	maxPerSession     int
}

// NewInMemoryStore builds an InMemoryStore. maxPerSession<=0 means no
// trimming.
func NewInMemoryStore(maxPerSession int) *InMemoryStore {
	return &InMemoryStore{
		sessions:      make(map[string][]agent.Message),
		owners:        make(map[string]string),
		maxPerSession: maxPerSession,
	}
}

func (s *InMemoryStore) Get(_ context.Context, sessionID string) ([]agent.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.sessions[sessionID]
	out := make([]agent.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *InMemoryStore) AddMessage(_ context.Context, sessionID string, msg agent.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.owners[sessionID]; !ok {
		owner := msg.UserID
		if owner == "" {
			owner = "anonymous"
		}
		s.owners[sessionID] = owner
	}

	msgs := append(s.sessions[sessionID], msg)
	if s.maxPerSession > 0 && len(msgs) > s.maxPerSession {
		msgs = msgs[len(msgs)-s.maxPerSession:]
	}
	s.sessions[sessionID] = msgs
	return nil
}

func (s *InMemoryStore) ListSessions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		out = append(out, id)
	}
	return out, nil
}

func (s *InMemoryStore) ListSessionsByUserID(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0)
	for id, owner := range s.owners {
		if owner == userID {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *InMemoryStore) GetSessionOwner(_ context.Context, sessionID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owner, ok := s.owners[sessionID]
	if !ok {
		return "", fmt.Errorf("memory: unknown session %q", sessionID)
	}
	return owner, nil
}

func (s *InMemoryStore) Remove(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	delete(s.owners, sessionID)
	return nil
}

// InMemorySummaryStore is an in-process SummaryStore.
type InMemorySummaryStore struct {
	mu        sync.RWMutex
	summaries map[string]*agent.ConversationSummary
}

func NewInMemorySummaryStore() *InMemorySummaryStore {
	return &InMemorySummaryStore{summaries: make(map[string]*agent.ConversationSummary)}
}

func (s *InMemorySummaryStore) Get(_ context.Context, sessionID string) (*agent.ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	existing, ok := s.summaries[sessionID]
	if !ok {
		return nil, nil
	}
	clone := *existing
	return &clone, nil
}

func (s *InMemorySummaryStore) Save(_ context.Context, summary *agent.ConversationSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *summary
	if existing, ok := s.summaries[summary.SessionID]; ok {
		clone.CreatedAt = existing.CreatedAt
	} else {
		clone.CreatedAt = now()
	}
	clone.UpdatedAt = now()
	s.summaries[summary.SessionID] = &clone
	return nil
}

func (s *InMemorySummaryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.summaries, sessionID)
	return nil
}
