package models

import "time"

/************************************************
/**** MARK: JOB STATUS ****/
/************************************************/
const JOB_STATUS_PENDING = "pending"
const JOB_STATUS_PROCESSING = "processing"
const JOB_STATUS_DONE = "done"
const JOB_STATUS_DEAD = "dead"

// Job is a dispatch work item. It points at a stored Event (never at the raw
// payload) so any execution can reload the same source of truth.
// ChatID is the partition key: jobs of one chat run strictly in id order.
type Job struct {
	ID          int64      `gorm:"primary_key;AUTO_INCREMENT" json:"id"`
	EventID     int64      `gorm:"not null;unique_index" json:"event_id"`
	AgentID     int64      `gorm:"not null;index" json:"agent_id"`
	ChatID      int64      `gorm:"not null;index" json:"chat_id"`
	Status      string     `gorm:"not null;default:'pending';index" json:"status"`
	Attempts    int        `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts int        `gorm:"not null;default:5" json:"max_attempts"`
	AvailableAt *time.Time `gorm:"index" json:"available_at"`
	LockedAt    *time.Time `json:"locked_at"`
	FinishedAt  *time.Time `json:"finished_at"`
	LastError   string     `gorm:"type:text" json:"last_error"`
	CreatedAt   *time.Time `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at"`
}

// Exhausted reports whether the current attempt is the last one allowed.
func (j Job) Exhausted() bool {
	return j.Attempts >= j.MaxAttempts
}
