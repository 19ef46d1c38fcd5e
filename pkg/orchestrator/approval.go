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

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/StarkFactory/arcreactor/pkg/agent"
)

// ApprovalManager tracks in-flight PendingApprovals and the single-fire
// completion channel each resolves through (spec.md §4.5 "Approval
// resolution"). It doubles as the hooks.ApprovalRequester the Approval
// Policy hook calls to create a new approval, so the same id space the
// hook hands back to the caller is the id the orchestrator later awaits.
type ApprovalManager struct {
	mu      sync.Mutex
	pending map[string]*pendingEntry
}

type pendingEntry struct {
	approval agent.PendingApproval
	done     chan struct{}
}

// Resolution is the terminal outcome of one PendingApproval.
type Resolution struct {
	Status            agent.ApprovalStatus
	ModifiedArguments json.RawMessage
	RejectionReason   string
}

// NewApprovalManager builds an empty ApprovalManager.
func NewApprovalManager() *ApprovalManager {
	return &ApprovalManager{pending: make(map[string]*pendingEntry)}
}

// RequestApproval implements hooks.ApprovalRequester: it creates a new
// PendingApproval and returns its id.
func (m *ApprovalManager) RequestApproval(_ context.Context, toolName string, args []byte, userID, sessionID, userPrompt string) (string, error) {
	id := uuid.NewString()
	m.mu.Lock()
	m.pending[id] = &pendingEntry{
		approval: agent.PendingApproval{
			ID:          id,
			ToolName:    toolName,
			Arguments:   json.RawMessage(args),
			RequestedAt: time.Now(),
			UserID:      userID,
			SessionID:   sessionID,
			UserPrompt:  userPrompt,
			Status:      agent.ApprovalPending,
		},
		done: make(chan struct{}),
	}
	m.mu.Unlock()
	return id, nil
}

// Await blocks until id resolves, ctx is cancelled, or timeout elapses
// (resolving it as TimedOut). The slot is always cleared before Await
// returns.
func (m *ApprovalManager) Await(ctx context.Context, id string, timeout time.Duration) (Resolution, error) {
	m.mu.Lock()
	entry, ok := m.pending[id]
	m.mu.Unlock()
	if !ok {
		return Resolution{}, fmt.Errorf("orchestrator: unknown approval id %q", id)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-entry.done:
		m.mu.Lock()
		res := entry.approval
		m.mu.Unlock()
		return Resolution{Status: res.Status, ModifiedArguments: res.ModifiedArguments, RejectionReason: res.RejectionReason}, nil
	case <-timer.C:
		m.resolve(id, agent.ApprovalTimedOut, nil, "")
		return Resolution{Status: agent.ApprovalTimedOut}, nil
	case <-ctx.Done():
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
		return Resolution{}, ctx.Err()
	}
}

// Approve resolves id as APPROVED, optionally with modified arguments.
// Returns false if id is unknown or already resolved.
func (m *ApprovalManager) Approve(id string, modifiedArgs json.RawMessage) bool {
	return m.resolve(id, agent.ApprovalApproved, modifiedArgs, "")
}

// Reject resolves id as REJECTED with reason.
func (m *ApprovalManager) Reject(id string, reason string) bool {
	return m.resolve(id, agent.ApprovalRejected, nil, reason)
}

func (m *ApprovalManager) resolve(id string, status agent.ApprovalStatus, modifiedArgs json.RawMessage, reason string) bool {
	m.mu.Lock()
	entry, ok := m.pending[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	select {
	case <-entry.done:
		// Already resolved (e.g. a racing timeout fired first).
		m.mu.Unlock()
		return false
	default:
	}
	entry.approval.Status = status
	entry.approval.ModifiedArguments = modifiedArgs
	entry.approval.RejectionReason = reason
	close(entry.done)
	delete(m.pending, id)
	m.mu.Unlock()
	return true
}
