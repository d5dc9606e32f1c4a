package models

import "time"

// Command maps a trigger text (usually "/something") to an optional instruction
// override. Only active commands take part in resolution. When several commands
// share a trigger, the highest Priority wins and ties go to the oldest row.
type Command struct {
	ID          int64      `gorm:"primary_key;AUTO_INCREMENT" json:"id"`
	AgentID     int64      `gorm:"not null;index" json:"agent_id"`
	Trigger     string     `gorm:"not null" json:"trigger"`
	Description string     `gorm:"type:text" json:"description"`
	Instruction string     `gorm:"type:text" json:"instruction"`
	Active      bool       `gorm:"not null;default:true" json:"active"`
	Priority    int        `gorm:"not null;default:0" json:"priority"`
	CreatedAt   *time.Time `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at"`
	DeletedAt   *time.Time `sql:"index" json:"deleted_at,omitempty"`
}
