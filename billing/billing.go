// Package billing is the usage side-effect hook of the prompt path. It records
// what a reply cost; balances and enforcement live elsewhere.
package billing

import (
	"fmt"
	"log/slog"

	"botgate/models"

	"github.com/jinzhu/gorm"
)

// Biller applies the usage side effect of a delivered reply.
type Biller interface {
	// Charge records the usage of ev. Charging the same event twice must be a
	// no-op; charged reports whether this call applied it.
	Charge(ev *models.Event) (charged bool, err error)
	// ApproveCheckout decides a pre-checkout query. errMsg is shown to the user
	// when ok is false.
	ApproveCheckout(ev *models.Event) (ok bool, errMsg string)
}

// Ledger writes one UsageCharge row per event; the unique event_id index
// turns repeated charges into no-ops.
type Ledger struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewLedger(db *gorm.DB, logger *slog.Logger) *Ledger {
	return &Ledger{db: db, logger: logger.With("component", "billing")}
}

func (l *Ledger) Charge(ev *models.Event) (bool, error) {
	if ev.Agent == nil {
		return false, fmt.Errorf("charge event %d: agent not loaded", ev.ID)
	}
	credits := ev.Agent.CreditsPerMessage
	if credits <= 0 {
		return false, nil
	}

	var existing models.UsageCharge
	err := l.db.Where("event_id = ?", ev.ID).First(&existing).Error
	if err == nil {
		return false, nil
	}
	if !gorm.IsRecordNotFoundError(err) {
		return false, fmt.Errorf("charge event %d: %w", ev.ID, err)
	}

	row := models.UsageCharge{
		EventID:  ev.ID,
		AgentID:  ev.AgentID,
		SenderID: ev.SenderID,
		Credits:  credits,
	}
	if insertErr := l.db.Create(&row).Error; insertErr != nil {
		if err := l.db.Where("event_id = ?", ev.ID).First(&existing).Error; err == nil {
			return false, nil
		}
		return false, fmt.Errorf("charge event %d: %w", ev.ID, insertErr)
	}
	l.logger.Info("usage charged", "event_id", ev.ID, "agent_id", ev.AgentID, "sender_id", ev.SenderID, "credits", credits)
	return true, nil
}

// ApproveCheckout accepts payments only for agents with a credit conversion
// configured.
func (l *Ledger) ApproveCheckout(ev *models.Event) (bool, string) {
	if ev.Agent == nil || ev.Agent.CreditsPerUnit <= 0 {
		return false, "Payments are not available for this bot."
	}
	return true, ""
}

// Total sums the credits charged to a sender by an agent.
func (l *Ledger) Total(agentID, senderID int64) (int64, error) {
	var out struct{ Total int64 }
	err := l.db.Model(&models.UsageCharge{}).
		Select("COALESCE(SUM(credits), 0) AS total").
		Where("agent_id = ? AND sender_id = ?", agentID, senderID).
		Scan(&out).Error
	if err != nil {
		return 0, fmt.Errorf("sum usage: %w", err)
	}
	return out.Total, nil
}
