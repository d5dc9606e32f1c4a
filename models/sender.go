package models

import "time"

// Sender is a chat platform user, keyed by the platform-assigned id.
type Sender struct {
	ID          int64      `gorm:"primary_key;auto_increment:false" json:"id"`
	DisplayName string     `gorm:"default:''" json:"display_name"`
	Handle      string     `gorm:"default:''" json:"handle"`
	CreatedAt   *time.Time `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at"`
}

// AgentSender records that a sender has talked to an agent.
// Rows are only ever added; the unique index makes re-attaching a no-op.
type AgentSender struct {
	ID        int64      `gorm:"primary_key;AUTO_INCREMENT" json:"id"`
	AgentID   int64      `gorm:"not null;unique_index:ux_agent_sender" json:"agent_id"`
	SenderID  int64      `gorm:"not null;unique_index:ux_agent_sender;index" json:"sender_id"`
	CreatedAt *time.Time `json:"created_at"`
}
