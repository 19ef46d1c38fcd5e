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

// Package agent defines the data model shared by every component of
// the execution engine: the command/result contract at the API
// boundary, the message and tool types that flow through the ReAct
// loop, and the lifecycle types (HookContext, PendingApproval,
// ConversationSummary) owned by the engine or by a pluggable store for
// the duration of one run or one session. Metric events are defined in
// pkg/metrics.
package agent

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	arcerrors "github.com/StarkFactory/arcreactor/pkg/errors"
)

// ResponseFormat constrains how the terminal assistant text must be
// shaped before ReAct Loop Executor accepts it as final.
type ResponseFormat string

const (
	FormatText ResponseFormat = "TEXT"
	FormatJSON ResponseFormat = "JSON"
	FormatYAML ResponseFormat = "YAML"
)

// Attachment is a media payload carried alongside a prompt.
type Attachment struct {
	MIMEType string
	Bytes    []byte
	Name     string
}

// Command is the immutable input to one engine execution. Metadata
// carries sessionId, channel, and tenantId as free-form string keys so
// that adapters can add their own fields without changing the
// contract; the engine reads those three by well-known key.
type Command struct {
	SystemPrompt    string
	UserPrompt      string
	Model           string // optional override of the configured default model
	UserID          string
	MaxToolCalls    int // 0 means "use the configured default"
	ResponseFormat  ResponseFormat
	ResponseSchema  string // JSON Schema, only meaningful when ResponseFormat != TEXT
	Attachments     []Attachment
	Metadata        map[string]string

	// ConversationHistory, when non-nil, is returned unchanged by
	// loadHistory (§4.3 loading policy step 1) instead of resolving a
	// session from the configured memory store.
	ConversationHistory []Message
}

// Well-known Command.Metadata keys.
const (
	MetaSessionID = "sessionId"
	MetaChannel   = "channel"
	MetaTenantID  = "tenantId"
)

// SessionID, Channel, and TenantID read the corresponding well-known
// metadata key, returning "" if absent.
func (c *Command) SessionID() string { return c.Metadata[MetaSessionID] }
func (c *Command) Channel() string   { return c.Metadata[MetaChannel] }
func (c *Command) TenantID() string  { return c.Metadata[MetaTenantID] }

// EffectiveResponseFormat returns ResponseFormat, defaulting the zero
// value to FormatText so a Command built without naming a format
// behaves as plain text rather than as an unrecognized format.
func (c *Command) EffectiveResponseFormat() ResponseFormat {
	if c.ResponseFormat == "" {
		return FormatText
	}
	return c.ResponseFormat
}

// TokenUsage reports prompt/completion token counts for one execution,
// accumulated across every LLM call the ReAct loop made.
type TokenUsage struct {
	Prompt     int
	Completion int
	Total      int
}

// Add accumulates u2 into u in place.
func (u *TokenUsage) Add(u2 TokenUsage) {
	u.Prompt += u2.Prompt
	u.Completion += u2.Completion
	u.Total += u2.Total
}

// Result is the output of one engine execution. success=true iff
// ErrorCode=="" and Content!=nil (modulo an explicit no-content
// policy some adapters may apply downstream).
type Result struct {
	Success       bool
	Content       *string
	ErrorCode     arcerrors.Code
	ErrorMessage  string
	ToolsUsed     []string
	TokenUsage    TokenUsage
	DurationMillis int64
}

// Role identifies the author of a Message.
type Role string

const (
	RoleSystem    Role = "SYSTEM"
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
	RoleTool      Role = "TOOL"
)

// Message is one entry in a conversation transcript. Ordering is
// semantically significant: ToolCallID links a TOOL message to the
// ASSISTANT message whose ToolCalls it answers.
type Message struct {
	Role       Role
	Content    string
	Timestamp  time.Time
	ToolCallID string     // set when Role==RoleTool
	ToolCalls  []ToolCall // set when Role==RoleAssistant and the model requested tools
	UserID     string     // the userId that produced this message, for session ownership
}

// ToolSpec describes one invokable tool, local or remote.
type ToolSpec struct {
	Name               string
	Description        string
	Schema             json.RawMessage // JSON Schema for arguments
	Timeout            time.Duration   // 0 means "use the global default"
	Category           string
	RequiresApproval   bool
}

// ToolCall is one invocation request emitted by the model within a
// single assistant turn.
type ToolCall struct {
	ID        string // opaque, issued by the model
	ToolName  string
	Arguments json.RawMessage
	Index     int // position within its originating assistant turn
}

// ToolResult is the outcome of invoking one ToolCall.
type ToolResult struct {
	ID             string
	Output         string
	Success        bool
	ErrorMessage   string
	DurationMillis int64

	// HITL annotations, populated by the Tool Invocation Orchestrator
	// when wall time exceeds reported tool duration by >100ms (§4.5.7).
	HITLRequired  bool
	HITLWaitMillis int64
	HITLApproved   bool
}

// HookContext is owned by the engine for the lifetime of one
// execution and passed by reference to every hook invoked during that
// execution.
type HookContext struct {
	RunID      string
	UserID     string
	UserPrompt string
	Channel    string
	TenantID   string
	Start      time.Time

	mu       sync.RWMutex
	metadata map[string]any
}

// NewHookContext builds a HookContext for one run, generating a fresh
// RunID.
func NewHookContext(cmd *Command) *HookContext {
	return &HookContext{
		RunID:      uuid.NewString(),
		UserID:     cmd.UserID,
		UserPrompt: cmd.UserPrompt,
		Channel:    cmd.Channel(),
		TenantID:   cmd.TenantID(),
		Start:      time.Now(),
		metadata:   make(map[string]any),
	}
}

// Set stores a metadata value, safe for concurrent hook access.
func (h *HookContext) Set(key string, value any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metadata[key] = value
}

// Get retrieves a metadata value set by an earlier hook.
func (h *HookContext) Get(key string) (any, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	v, ok := h.metadata[key]
	return v, ok
}

// ApprovalStatus is the lifecycle state of a PendingApproval.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
	ApprovalTimedOut ApprovalStatus = "TIMED_OUT"
)

// PendingApproval represents one tool call suspended awaiting human
// approval. It is resolved exactly once.
type PendingApproval struct {
	ID                string
	ToolName          string
	Arguments         json.RawMessage
	RequestedAt       time.Time
	UserID            string
	SessionID         string
	UserPrompt        string
	Status            ApprovalStatus
	ModifiedArguments json.RawMessage
	RejectionReason   string
}

// SummaryFactCategory classifies one structured fact extracted during
// hierarchical summarization.
type SummaryFactCategory string

const (
	FactEntity   SummaryFactCategory = "ENTITY"
	FactNumeric  SummaryFactCategory = "NUMERIC"
	FactState    SummaryFactCategory = "STATE"
	FactDecision SummaryFactCategory = "DECISION"
	FactGeneral  SummaryFactCategory = "GENERAL"
)

// SummaryFact is one {key, value} pair extracted from conversation
// history during summarization.
type SummaryFact struct {
	Key      string
	Value    string
	Category SummaryFactCategory
}

// ConversationSummary is the hierarchical compression of a long
// conversation, uniquely keyed by session.
type ConversationSummary struct {
	SessionID          string
	Narrative          string
	Facts              []SummaryFact
	SummarizedUpToIndex int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
