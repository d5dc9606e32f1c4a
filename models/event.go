package models

import "time"

/************************************************
/**** MARK: EVENT KINDS ****/
/************************************************/
const EVENT_KIND_MESSAGE = "message"
const EVENT_KIND_EDITED_MESSAGE = "edited_message"
const EVENT_KIND_INLINE_QUERY = "inline_query"
const EVENT_KIND_CALLBACK_QUERY = "callback_query"
const EVENT_KIND_PRE_CHECKOUT_QUERY = "pre_checkout_query"

// Event is one webhook delivery, normalized and stored exactly once per
// (agent_id, update_id). Rows are never updated after insert.
type Event struct {
	ID          int64      `gorm:"primary_key;AUTO_INCREMENT" json:"id"`
	AgentID     int64      `gorm:"not null;unique_index:ux_event_agent_update" json:"agent_id"`
	UpdateID    int64      `gorm:"not null;unique_index:ux_event_agent_update" json:"update_id"`
	SenderID    int64      `gorm:"not null;index" json:"sender_id"`
	ChatID      int64      `gorm:"not null;index" json:"chat_id"`
	CommandID   *int64     `json:"command_id"`
	Kind        string     `gorm:"not null" json:"kind"`
	PlatformRef string     `gorm:"default:''" json:"platform_ref"` // message id or query id
	Text        string     `gorm:"type:text" json:"text"`
	Payload     string     `gorm:"type:text" json:"payload"` // raw JSON of the selected update body
	CreatedAt   *time.Time `json:"created_at"`

	Agent   *Agent   `gorm:"-" json:"agent,omitempty"`
	Sender  *Sender  `gorm:"-" json:"sender,omitempty"`
	Chat    *Chat    `gorm:"-" json:"chat,omitempty"`
	Command *Command `gorm:"-" json:"command,omitempty"`
}

// IsQuery reports whether the event is answered through a query id instead of
// a chat message.
func (e Event) IsQuery() bool {
	return e.Kind == EVENT_KIND_INLINE_QUERY || e.Kind == EVENT_KIND_PRE_CHECKOUT_QUERY
}
