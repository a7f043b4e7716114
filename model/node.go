package model

import "time"

// ToolUseRecord is embedded in an AgentText's tool_uses list. It is never
// a standalone graph node.
type ToolUseRecord struct {
	ToolCallID string         `json:"tool_call_id"`
	ToolName   string         `json:"tool_name"`
	Args       map[string]any `json:"args"`
}

// UserText is a user turn's prompt text.
type UserText struct {
	ID             ID        `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Text           string    `json:"text"`
	TurnIndex      int       `json:"turn_index"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// AgentText is one assistant message (text and/or tool calls) within a turn.
type AgentText struct {
	ID             ID              `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Text           string          `json:"text"`
	TurnIndex      int             `json:"turn_index"`
	ToolUses       []ToolUseRecord `json:"tool_uses"`
	CreatedAt      time.Time       `json:"created_at"`
	LastAccessedAt time.Time       `json:"last_accessed_at"`
}

// ResourceVersion is an immutable snapshot of a resource's content at one
// point in time, identified by its content hash.
type ResourceVersion struct {
	ID                ID        `json:"id"`
	URI               string    `json:"uri"`
	ContentHash       string    `json:"content_hash"`
	FirstConversation string    `json:"conversation_id"`
	CreatedAt         time.Time `json:"created_at"`
	LastAccessedAt    time.Time `json:"last_accessed_at"`
}

// Resource is the hypernode giving stable identity to a URI across versions
// and conversations. CurrentContentHash is empty until the first version is
// written.
type Resource struct {
	ID                 ID        `json:"id"`
	URI                string    `json:"uri"`
	CurrentContentHash string    `json:"current_content_hash"`
	CreatedAt          time.Time `json:"created_at"`
	LastAccessedAt     time.Time `json:"last_accessed_at"`
}
