package models

import "time"

// Chat is one conversation of an agent, unique per (agent, platform chat id).
//
// CorrelationID is generated once on creation and anchors the conversation for
// downstream systems. ExternalSessionID is allocated later by the AI backend
// (e.g. the last OpenAI response id) and starts out null.
type Chat struct {
	ID                int64      `gorm:"primary_key;AUTO_INCREMENT" json:"id"`
	AgentID           int64      `gorm:"not null;unique_index:ux_chat_agent_platform" json:"agent_id"`
	PlatformChatID    int64      `gorm:"not null;unique_index:ux_chat_agent_platform" json:"platform_chat_id"`
	SenderID          int64      `gorm:"not null;index" json:"sender_id"`
	CorrelationID     string     `gorm:"not null;unique_index" json:"correlation_id"`
	ExternalSessionID *string    `json:"external_session_id"`
	CreatedAt         *time.Time `json:"created_at"`
	UpdatedAt         *time.Time `json:"updated_at"`
}

/************************************************
/**** MARK: MESSAGE ROLES ****/
/************************************************/
const MESSAGE_ROLE_USER = "user"
const MESSAGE_ROLE_ASSISTANT = "assistant"

// ChatMessage is one turn of conversation history, written after a reply is
// delivered. (event_id, role) is unique so a re-executed prompt cannot append
// the same turn twice.
type ChatMessage struct {
	ID        int64      `gorm:"primary_key;AUTO_INCREMENT" json:"id"`
	ChatID    int64      `gorm:"not null;index" json:"chat_id"`
	EventID   int64      `gorm:"not null;unique_index:ux_chat_message_event_role" json:"event_id"`
	Role      string     `gorm:"not null;unique_index:ux_chat_message_event_role" json:"role"`
	Content   string     `gorm:"type:text" json:"content"`
	CreatedAt *time.Time `json:"created_at"`
}
