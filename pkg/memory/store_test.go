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
	"testing"

	"github.com/StarkFactory/arcreactor/pkg/agent"
)

func TestInMemoryStore_AppendAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(0)

	if err := store.AddMessage(ctx, "sess1", agent.Message{Role: agent.RoleUser, Content: "hi", UserID: "u1"}); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	if err := store.AddMessage(ctx, "sess1", agent.Message{Role: agent.RoleAssistant, Content: "hello"}); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	msgs, err := store.Get(ctx, "sess1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "hi" || msgs[1].Content != "hello" {
		t.Fatalf("unexpected message order: %+v", msgs)
	}
}

func TestInMemoryStore_TrimsToMax(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(2)

	for i := 0; i < 5; i++ {
		if err := store.AddMessage(ctx, "sess1", agent.Message{Role: agent.RoleUser, Content: "m"}); err != nil {
			t.Fatalf("AddMessage: %v", err)
		}
	}

	msgs, err := store.Get(ctx, "sess1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected trim to 2 messages, got %d", len(msgs))
	}
}

func TestInMemoryStore_OwnershipIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(0)

	_ = store.AddMessage(ctx, "sess-a", agent.Message{Role: agent.RoleUser, Content: "a", UserID: "alice"})
	_ = store.AddMessage(ctx, "sess-b", agent.Message{Role: agent.RoleUser, Content: "b", UserID: "bob"})

	aliceSessions, err := store.ListSessionsByUserID(ctx, "alice")
	if err != nil {
		t.Fatalf("ListSessionsByUserID: %v", err)
	}
	if len(aliceSessions) != 1 || aliceSessions[0] != "sess-a" {
		t.Fatalf("expected only sess-a for alice, got %v", aliceSessions)
	}

	owner, err := store.GetSessionOwner(ctx, "sess-b")
	if err != nil {
		t.Fatalf("GetSessionOwner: %v", err)
	}
	if owner != "bob" {
		t.Fatalf("expected bob, got %s", owner)
	}
}

func TestInMemoryStore_Remove(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(0)
	_ = store.AddMessage(ctx, "sess1", agent.Message{Role: agent.RoleUser, Content: "hi"})

	if err := store.Remove(ctx, "sess1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	msgs, err := store.Get(ctx, "sess1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected empty history after remove, got %d", len(msgs))
	}
}

func TestInMemorySummaryStore_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewInMemorySummaryStore()

	summary := &agent.ConversationSummary{SessionID: "sess1", Narrative: "n1", SummarizedUpToIndex: 5}
	if err := store.Save(ctx, summary); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Get(ctx, "sess1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.Narrative != "n1" || got.SummarizedUpToIndex != 5 {
		t.Fatalf("unexpected summary: %+v", got)
	}
	firstCreated := got.CreatedAt

	summary2 := &agent.ConversationSummary{SessionID: "sess1", Narrative: "n2", SummarizedUpToIndex: 10}
	if err := store.Save(ctx, summary2); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got2, err := store.Get(ctx, "sess1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got2.CreatedAt.Equal(firstCreated) {
		t.Fatalf("expected CreatedAt to be preserved across updates")
	}
	if got2.Narrative != "n2" {
		t.Fatalf("expected updated narrative, got %s", got2.Narrative)
	}
}

func TestInMemorySummaryStore_MissingReturnsNil(t *testing.T) {
	ctx := context.Background()
	store := NewInMemorySummaryStore()
	got, err := store.Get(ctx, "unknown")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for unknown session, got %+v", got)
	}
}
