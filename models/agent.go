package models

import (
	"time"

	"github.com/jinzhu/gorm"
)

/************************************************
/**** MARK: PROVIDERS ****/
/************************************************/
const PROVIDER_OPENAI = "openai"
const PROVIDER_ANTHROPIC = "anthropic"

// Agent is a configured bot: it owns its commands, the AI provider selection,
// the credentials used to talk to Telegram and to the provider, and the billing
// parameters. Agents are managed by operators; this service only reads them.
type Agent struct {
	ID            int64  `gorm:"primary_key;AUTO_INCREMENT" json:"id"`
	Name          string `gorm:"not null" json:"name"`
	WebhookToken  string `gorm:"not null;unique_index" json:"-"`
	TelegramToken string `gorm:"not null" json:"-"`
	Provider      string `gorm:"not null;default:'openai'" json:"provider"`
	ApiKey        string `gorm:"default:''" json:"-"` // empty = operator-wide key
	Model         string `gorm:"default:''" json:"model"`
	Instruction   string `gorm:"type:text" json:"instruction"`

	// CreditsPerMessage is charged once per delivered reply.
	CreditsPerMessage int64 `gorm:"not null;default:0" json:"credits_per_message"`
	// CreditsPerUnit converts one payment unit into credits. 0 disables payments.
	CreditsPerUnit int64 `gorm:"not null;default:0" json:"credits_per_unit"`

	Commands  []Command  `gorm:"foreignkey:AgentID" json:"commands,omitempty"`
	CreatedAt *time.Time `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at"`
	DeletedAt *time.Time `sql:"index" json:"deleted_at,omitempty"`
}

// AfterDelete cascades the (soft) delete to the agent commands.
func (a *Agent) AfterDelete(tx *gorm.DB) error {
	if a.ID == 0 {
		return nil
	}
	return tx.Where("agent_id = ?", a.ID).Delete(&Command{}).Error
}
