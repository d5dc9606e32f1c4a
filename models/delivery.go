package models

import "time"

/************************************************
/**** MARK: DELIVERY STATUS ****/
/************************************************/
const DELIVERY_STATUS_CLAIMED = "claimed"
const DELIVERY_STATUS_SENT = "sent"

// DELIVERY_STATUS_PARTIAL marks a reply whose delivery failed after some of its
// parts went out; the next attempt resumes after PartsSent.
const DELIVERY_STATUS_PARTIAL = "partial"

// Delivery is the processed-marker of an event: it is written before the reply
// leaves the service and checked before any new attempt, so a re-executed
// prompt never sends a second reply.
type Delivery struct {
	ID      int64  `gorm:"primary_key;AUTO_INCREMENT" json:"id"`
	EventID int64  `gorm:"not null;unique_index" json:"event_id"`
	Status  string `gorm:"not null;default:'claimed'" json:"status"`
	Reply   string `gorm:"type:text" json:"reply"`
	Failed  bool   `gorm:"not null;default:false" json:"failed"` // reply is the graceful failure message
	// SessionRef is the backend session the reply belongs to, kept so a retry
	// can finish the bookkeeping of an already sent reply.
	SessionRef string `gorm:"default:''" json:"session_ref"`
	// PartsSent counts the messages of Reply already accepted by the platform.
	PartsSent int        `gorm:"not null;default:0" json:"parts_sent"`
	SentAt    *time.Time `json:"sent_at"`
	CreatedAt *time.Time `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at"`
}

// UsageCharge is one entry of the usage ledger. One row per event at most.
type UsageCharge struct {
	ID        int64      `gorm:"primary_key;AUTO_INCREMENT" json:"id"`
	EventID   int64      `gorm:"not null;unique_index" json:"event_id"`
	AgentID   int64      `gorm:"not null;index" json:"agent_id"`
	SenderID  int64      `gorm:"not null;index" json:"sender_id"`
	Credits   int64      `gorm:"not null;default:0" json:"credits"`
	CreatedAt *time.Time `json:"created_at"`
}
