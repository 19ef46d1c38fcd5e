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

// Package memory implements the Conversation Manager (spec.md §4.3):
// loading and persisting session history, and the 3-layer hierarchical
// summarization it falls back to for long conversations. Store and
// Summarizer are narrow, swappable contracts matching spec.md §6's
// Memory store / Summary store external interfaces.
package memory

import (
	"context"
	"time"

	"github.com/StarkFactory/arcreactor/pkg/agent"
)

// Store is the Memory store consumed interface (spec.md §6): a
// session's message history plus per-user ownership isolation.
type Store interface {
	// Get returns every message for sessionID, oldest first.
	Get(ctx context.Context, sessionID string) ([]agent.Message, error)

	// AddMessage appends one message to sessionID, creating the session
	// if it doesn't exist yet. InMemoryStore trims the stored history to
	// its configured per-session maximum after appending (0 means no
	// limit); SQLStore keeps every message and does not trim.
	AddMessage(ctx context.Context, sessionID string, msg agent.Message) error

	// ListSessions returns every known session id.
	ListSessions(ctx context.Context) ([]string, error)

	// ListSessionsByUserID returns the sessions whose owner (the UserID
	// of the session's first message, or "anonymous") is userID. Later
	// messages are not checked: a message added with a different UserID
	// does not change the owner or remove the session from the list.
	ListSessionsByUserID(ctx context.Context, userID string) ([]string, error)

	// GetSessionOwner returns the userId of a session's first message,
	// or "anonymous" if unset.
	GetSessionOwner(ctx context.Context, sessionID string) (string, error)

	// Remove deletes a session and all of its messages.
	Remove(ctx context.Context, sessionID string) error
}

// SummaryStore is the Summary store consumed interface (spec.md §6).
type SummaryStore interface {
	// Get returns the cached summary for sessionID, or nil if none exists.
	Get(ctx context.Context, sessionID string) (*agent.ConversationSummary, error)

	// Save upserts summary: a first save sets CreatedAt, subsequent
	// saves preserve it and refresh UpdatedAt.
	Save(ctx context.Context, summary *agent.ConversationSummary) error

	// Delete removes the cached summary for sessionID.
	Delete(ctx context.Context, sessionID string) error
}

// Summarizer produces a ConversationSummary from the leading messages
// (messages[:upToIndex]) of a conversation that needs compressing. Implementations should be
// deterministic about SummarizedUpToIndex: the returned summary always
// reports exactly how many messages (from the start of the transcript)
// it covers.
type Summarizer interface {
	Summarize(ctx context.Context, sessionID string, messages []agent.Message, upToIndex int) (*agent.ConversationSummary, error)
}

func now() time.Time { return time.Now() }
