package memoryx

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Abraxas-365/copiloto/pkg/ai/llm"
	"github.com/Abraxas-365/copiloto/pkg/errx"
)

var pgErrors = errx.NewRegistry("MEMORYX_PG")

var (
	ErrInsert = pgErrors.Register("INSERT", errx.TypeExternal, 500, "Failed to insert conversation message")
	ErrQuery  = pgErrors.Register("QUERY", errx.TypeExternal, 500, "Failed to query conversation messages")
	ErrDelete = pgErrors.Register("DELETE", errx.TypeExternal, 500, "Failed to delete conversation messages")
	ErrEncode = pgErrors.Register("ENCODE", errx.TypeInternal, 500, "Failed to encode message payload")
	ErrDecode = pgErrors.Register("DECODE", errx.TypeInternal, 500, "Failed to decode message payload")
)

// messageRow mirrors the conversation_messages table. History is append
// only; Clear deletes the conversation's rows but keeps its system prompt.
type messageRow struct {
	ID             int64           `db:"id"`
	ConversationID string          `db:"conversation_id"`
	Role           string          `db:"role"`
	Content        string          `db:"content"`
	Name           string          `db:"name"`
	ToolCallID     string          `db:"tool_call_id"`
	ToolCalls      json.RawMessage `db:"tool_calls"`
	Metadata       json.RawMessage `db:"metadata"`
	CreatedAt      time.Time       `db:"created_at"`
}

// PostgresMemory is a Memory backed by Postgres via sqlx. One value handles
// one conversation.
type PostgresMemory struct {
	db             *sqlx.DB
	conversationID string
}

// NewPostgresMemory creates a Postgres-backed memory for a conversation.
func NewPostgresMemory(db *sqlx.DB, conversationID string) *PostgresMemory {
	return &PostgresMemory{db: db, conversationID: conversationID}
}

// Schema returns the DDL for the backing table. Callers run it at startup
// or through their migration tool.
func Schema() string {
	return `
CREATE TABLE IF NOT EXISTS conversation_messages (
    id              BIGSERIAL PRIMARY KEY,
    conversation_id TEXT        NOT NULL,
    role            TEXT        NOT NULL,
    content         TEXT        NOT NULL DEFAULT '',
    name            TEXT        NOT NULL DEFAULT '',
    tool_call_id    TEXT        NOT NULL DEFAULT '',
    tool_calls      JSONB,
    metadata        JSONB,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_conversation_messages_conversation
    ON conversation_messages (conversation_id, id);`
}

func (m *PostgresMemory) Messages() ([]llm.Message, error) {
	var rows []messageRow
	err := m.db.SelectContext(context.Background(), &rows, `
		SELECT id, conversation_id, role, content, name, tool_call_id, tool_calls, metadata, created_at
		FROM conversation_messages
		WHERE conversation_id = $1
		ORDER BY id ASC`, m.conversationID)
	if err != nil {
		return nil, pgErrors.NewWithCause(ErrQuery, err).WithDetail("conversation", m.conversationID)
	}

	messages := make([]llm.Message, 0, len(rows))
	for _, row := range rows {
		msg := llm.Message{
			Role:       row.Role,
			Content:    row.Content,
			Name:       row.Name,
			ToolCallID: row.ToolCallID,
		}
		if len(row.ToolCalls) > 0 {
			if err := json.Unmarshal(row.ToolCalls, &msg.ToolCalls); err != nil {
				return nil, pgErrors.NewWithCause(ErrDecode, err).WithDetail("row_id", row.ID)
			}
		}
		if len(row.Metadata) > 0 {
			if err := json.Unmarshal(row.Metadata, &msg.Metadata); err != nil {
				return nil, pgErrors.NewWithCause(ErrDecode, err).WithDetail("row_id", row.ID)
			}
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (m *PostgresMemory) Add(message llm.Message) error {
	toolCalls, err := encodeJSON(message.ToolCalls)
	if err != nil {
		return pgErrors.NewWithCause(ErrEncode, err)
	}
	metadata, err := encodeJSON(message.Metadata)
	if err != nil {
		return pgErrors.NewWithCause(ErrEncode, err)
	}

	_, err = m.db.ExecContext(context.Background(), `
		INSERT INTO conversation_messages
			(conversation_id, role, content, name, tool_call_id, tool_calls, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.conversationID, message.Role, message.Content,
		message.Name, message.ToolCallID, toolCalls, metadata)
	if err != nil {
		return pgErrors.NewWithCause(ErrInsert, err).WithDetail("conversation", m.conversationID)
	}
	return nil
}

// Clear drops the conversation's messages except a leading system prompt,
// matching InMemoryMemory semantics.
func (m *PostgresMemory) Clear() error {
	_, err := m.db.ExecContext(context.Background(), `
		DELETE FROM conversation_messages
		WHERE conversation_id = $1
		  AND id NOT IN (
			SELECT id FROM conversation_messages
			WHERE conversation_id = $1 AND role = $2
			ORDER BY id ASC LIMIT 1
		  )`, m.conversationID, llm.RoleSystem)
	if err != nil {
		return pgErrors.NewWithCause(ErrDelete, err).WithDetail("conversation", m.conversationID)
	}
	return nil
}

func encodeJSON(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case []llm.ToolCall:
		if len(val) == 0 {
			return nil, nil
		}
	case map[string]any:
		if len(val) == 0 {
			return nil, nil
		}
	}
	return json.Marshal(v)
}
