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
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	// Database drivers, kept registered exactly like the teacher's
	// session_service_sql.go so every dialect it supports is reachable.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/StarkFactory/arcreactor/pkg/agent"
)

// SQLStore is a database/sql-backed Store supporting postgres, mysql,
// and sqlite, grounded on the teacher's pkg/memory/session_service_sql.go.
// Unlike the teacher's agentID-scoped schema (built for multi-agent
// isolation on one shared database), this schema keys sessions by
// session id and records an owner_user_id (the first message's UserID,
// or "anonymous"); it has no tenant or agent column.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

const createSessionsTableSQL = `
CREATE TABLE IF NOT EXISTS arc_sessions (
    id VARCHAR(255) NOT NULL PRIMARY KEY,
    owner_user_id VARCHAR(255) NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_arc_sessions_owner ON arc_sessions(owner_user_id);
`

const createMessagesTableSQLSQLite = `
CREATE TABLE IF NOT EXISTS arc_messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id VARCHAR(255) NOT NULL,
    role VARCHAR(50) NOT NULL,
    message_json TEXT NOT NULL,
    sequence_num INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY (session_id) REFERENCES arc_sessions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_arc_messages_session ON arc_messages(session_id);
CREATE INDEX IF NOT EXISTS idx_arc_messages_sequence ON arc_messages(session_id, sequence_num);
`

const createMessagesTableSQLPostgres = `
CREATE TABLE IF NOT EXISTS arc_messages (
    id SERIAL PRIMARY KEY,
    session_id VARCHAR(255) NOT NULL,
    role VARCHAR(50) NOT NULL,
    message_json TEXT NOT NULL,
    sequence_num BIGINT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY (session_id) REFERENCES arc_sessions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_arc_messages_session ON arc_messages(session_id);
CREATE INDEX IF NOT EXISTS idx_arc_messages_sequence ON arc_messages(session_id, sequence_num);
`

const createMessagesTableSQLMySQL = `
CREATE TABLE IF NOT EXISTS arc_messages (
    id BIGINT PRIMARY KEY AUTO_INCREMENT,
    session_id VARCHAR(255) NOT NULL,
    role VARCHAR(50) NOT NULL,
    message_json TEXT NOT NULL,
    sequence_num BIGINT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY (session_id) REFERENCES arc_sessions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_arc_messages_session ON arc_messages(session_id);
CREATE INDEX IF NOT EXISTS idx_arc_messages_sequence ON arc_messages(session_id, sequence_num);
`

const createSummariesTableSQL = `
CREATE TABLE IF NOT EXISTS arc_summaries (
    session_id VARCHAR(255) NOT NULL PRIMARY KEY,
    narrative TEXT NOT NULL,
    facts_json TEXT NOT NULL,
    summarized_up_to_index INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

// NewSQLStore opens the schema against db for dialect
// ("postgres", "mysql", or "sqlite") and returns a ready Store.
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("memory: database connection is required")
	}
	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("memory: unsupported dialect %q (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &SQLStore{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("memory: initializing schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) messagesTableSQL() string {
	switch s.dialect {
	case "postgres":
		return createMessagesTableSQLPostgres
	case "mysql":
		return createMessagesTableSQLMySQL
	default:
		return createMessagesTableSQLSQLite
	}
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, createSessionsTableSQL); err != nil {
		return fmt.Errorf("creating sessions table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.messagesTableSQL()); err != nil {
		return fmt.Errorf("creating messages table: %w", err)
	}
	return nil
}

func (s *SQLStore) ensureSession(ctx context.Context, sessionID, ownerUserID string) error {
	now := time.Now()
	var err error
	switch s.dialect {
	case "postgres":
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO arc_sessions (id, owner_user_id, created_at, updated_at) VALUES ($1, $2, $3, $3)
			 ON CONFLICT (id) DO UPDATE SET updated_at = $3`,
			sessionID, ownerUserID, now)
	case "mysql":
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO arc_sessions (id, owner_user_id, created_at, updated_at) VALUES (?, ?, ?, ?)
			 ON DUPLICATE KEY UPDATE updated_at = VALUES(updated_at)`,
			sessionID, ownerUserID, now, now)
	default: // sqlite
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO arc_sessions (id, owner_user_id, created_at, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
			sessionID, ownerUserID, now, now)
	}
	return err
}

func (s *SQLStore) nextSequenceNum(ctx context.Context, sessionID string) (int64, error) {
	var max sql.NullInt64
	placeholder := "$1"
	if s.dialect != "postgres" {
		placeholder = "?"
	}
	row := s.db.QueryRowContext(ctx, `SELECT MAX(sequence_num) FROM arc_messages WHERE session_id = `+placeholder, sessionID)
	if err := row.Scan(&max); err != nil {
		return 0, err
	}
	if !max.Valid {
		return 0, nil
	}
	return max.Int64 + 1, nil
}

func (s *SQLStore) Get(ctx context.Context, sessionID string) ([]agent.Message, error) {
	placeholder := "$1"
	if s.dialect != "postgres" {
		placeholder = "?"
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_json FROM arc_messages WHERE session_id = `+placeholder+` ORDER BY sequence_num ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("memory: querying messages: %w", err)
	}
	defer rows.Close()

	var out []agent.Message
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("memory: scanning message: %w", err)
		}
		var msg agent.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return nil, fmt.Errorf("memory: decoding message: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *SQLStore) AddMessage(ctx context.Context, sessionID string, msg agent.Message) error {
	owner := msg.UserID
	if owner == "" {
		owner = "anonymous"
	}
	if err := s.ensureSession(ctx, sessionID, owner); err != nil {
		return fmt.Errorf("memory: ensuring session: %w", err)
	}

	seq, err := s.nextSequenceNum(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("memory: sequencing message: %w", err)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("memory: encoding message: %w", err)
	}

	query := `INSERT INTO arc_messages (session_id, role, message_json, sequence_num, created_at) VALUES (?, ?, ?, ?, ?)`
	if s.dialect == "postgres" {
		query = `INSERT INTO arc_messages (session_id, role, message_json, sequence_num, created_at) VALUES ($1, $2, $3, $4, $5)`
	}
	if _, err := s.db.ExecContext(ctx, query, sessionID, string(msg.Role), string(payload), seq, time.Now()); err != nil {
		return fmt.Errorf("memory: inserting message: %w", err)
	}
	return nil
}

func (s *SQLStore) ListSessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM arc_sessions`)
	if err != nil {
		return nil, fmt.Errorf("memory: listing sessions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *SQLStore) ListSessionsByUserID(ctx context.Context, userID string) ([]string, error) {
	placeholder := "$1"
	if s.dialect != "postgres" {
		placeholder = "?"
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM arc_sessions WHERE owner_user_id = `+placeholder, userID)
	if err != nil {
		return nil, fmt.Errorf("memory: listing sessions by user: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetSessionOwner(ctx context.Context, sessionID string) (string, error) {
	placeholder := "$1"
	if s.dialect != "postgres" {
		placeholder = "?"
	}
	row := s.db.QueryRowContext(ctx, `SELECT owner_user_id FROM arc_sessions WHERE id = `+placeholder, sessionID)
	var owner string
	if err := row.Scan(&owner); err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("memory: unknown session %q", sessionID)
		}
		return "", err
	}
	return owner, nil
}

func (s *SQLStore) Remove(ctx context.Context, sessionID string) error {
	placeholder := "$1"
	if s.dialect != "postgres" {
		placeholder = "?"
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM arc_messages WHERE session_id = `+placeholder, sessionID); err != nil {
		return fmt.Errorf("memory: deleting messages: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM arc_sessions WHERE id = `+placeholder, sessionID); err != nil {
		return fmt.Errorf("memory: deleting session: %w", err)
	}
	return nil
}

// SQLSummaryStore is a database/sql-backed SummaryStore, sharing the
// same *sql.DB and dialect conventions as SQLStore.
type SQLSummaryStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLSummaryStore opens the summaries table against db.
func NewSQLSummaryStore(db *sql.DB, dialect string) (*SQLSummaryStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, createSummariesTableSQL); err != nil {
		return nil, fmt.Errorf("memory: creating summaries table: %w", err)
	}
	return &SQLSummaryStore{db: db, dialect: dialect}, nil
}

func (s *SQLSummaryStore) placeholder(n int) string {
	if s.dialect == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SQLSummaryStore) Get(ctx context.Context, sessionID string) (*agent.ConversationSummary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT narrative, facts_json, summarized_up_to_index, created_at, updated_at FROM arc_summaries WHERE session_id = `+s.placeholder(1),
		sessionID)

	var narrative, factsJSON string
	var upToIndex int
	var createdAt, updatedAt time.Time
	if err := row.Scan(&narrative, &factsJSON, &upToIndex, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("memory: scanning summary: %w", err)
	}

	var facts []agent.SummaryFact
	if err := json.Unmarshal([]byte(factsJSON), &facts); err != nil {
		return nil, fmt.Errorf("memory: decoding summary facts: %w", err)
	}

	return &agent.ConversationSummary{
		SessionID:           sessionID,
		Narrative:           narrative,
		Facts:               facts,
		SummarizedUpToIndex: upToIndex,
		CreatedAt:           createdAt,
		UpdatedAt:           updatedAt,
	}, nil
}

func (s *SQLSummaryStore) Save(ctx context.Context, summary *agent.ConversationSummary) error {
	factsJSON, err := json.Marshal(summary.Facts)
	if err != nil {
		return fmt.Errorf("memory: encoding summary facts: %w", err)
	}
	now := time.Now()

	switch s.dialect {
	case "postgres":
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO arc_summaries (session_id, narrative, facts_json, summarized_up_to_index, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $5)
			 ON CONFLICT (session_id) DO UPDATE SET narrative = $2, facts_json = $3, summarized_up_to_index = $4, updated_at = $5`,
			summary.SessionID, summary.Narrative, string(factsJSON), summary.SummarizedUpToIndex, now)
	case "mysql":
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO arc_summaries (session_id, narrative, facts_json, summarized_up_to_index, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON DUPLICATE KEY UPDATE narrative = VALUES(narrative), facts_json = VALUES(facts_json),
			   summarized_up_to_index = VALUES(summarized_up_to_index), updated_at = VALUES(updated_at)`,
			summary.SessionID, summary.Narrative, string(factsJSON), summary.SummarizedUpToIndex, now, now)
	default: // sqlite
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO arc_summaries (session_id, narrative, facts_json, summarized_up_to_index, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(session_id) DO UPDATE SET narrative = excluded.narrative, facts_json = excluded.facts_json,
			   summarized_up_to_index = excluded.summarized_up_to_index, updated_at = excluded.updated_at`,
			summary.SessionID, summary.Narrative, string(factsJSON), summary.SummarizedUpToIndex, now, now)
	}
	if err != nil {
		return fmt.Errorf("memory: upserting summary: %w", err)
	}
	return nil
}

func (s *SQLSummaryStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM arc_summaries WHERE session_id = `+s.placeholder(1), sessionID); err != nil {
		return fmt.Errorf("memory: deleting summary: %w", err)
	}
	return nil
}
