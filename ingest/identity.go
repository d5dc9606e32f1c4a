package ingest

import (
	"fmt"

	"botgate/models"

	"github.com/google/uuid"
	"github.com/jinzhu/gorm"
)

// Identities upserts senders and chats. Both are find-or-create paths hit by
// concurrent deliveries, so creation always goes through a unique index and a
// lost race is resolved by re-reading the winning row.
type Identities struct {
	db *gorm.DB
}

func NewIdentities(db *gorm.DB) *Identities {
	return &Identities{db: db}
}

// ResolveSender finds or creates the sender and attaches it to the agent.
// Name and handle are only taken from the first sighting.
func (r *Identities) ResolveSender(agentID int64, platformUserID int64, displayName, handle string) (*models.Sender, error) {
	lookup := func(s *models.Sender) error {
		return r.db.Where("id = ?", platformUserID).First(s).Error
	}
	sender, _, err := findOrInsert(lookup, func() *models.Sender {
		return &models.Sender{ID: platformUserID, DisplayName: displayName, Handle: handle}
	}, r.db)
	if err != nil {
		return nil, fmt.Errorf("resolve sender %d: %w", platformUserID, err)
	}
	if err := r.attach(agentID, sender.ID); err != nil {
		return nil, err
	}
	return sender, nil
}

// attach adds the (agent, sender) association. Attaching twice is a no-op.
func (r *Identities) attach(agentID, senderID int64) error {
	lookup := func(link *models.AgentSender) error {
		return r.db.Where("agent_id = ? AND sender_id = ?", agentID, senderID).First(link).Error
	}
	_, _, err := findOrInsert(lookup, func() *models.AgentSender {
		return &models.AgentSender{AgentID: agentID, SenderID: senderID}
	}, r.db)
	if err != nil {
		return fmt.Errorf("attach sender %d to agent %d: %w", senderID, agentID, err)
	}
	return nil
}

// ResolveChat finds or creates the chat of (agentID, platformChatID). A new
// chat gets a fresh correlation id; the external session stays null.
func (r *Identities) ResolveChat(agentID, platformChatID, senderID int64) (*models.Chat, error) {
	lookup := func(c *models.Chat) error {
		return r.db.Where("agent_id = ? AND platform_chat_id = ?", agentID, platformChatID).First(c).Error
	}
	chat, _, err := findOrInsert(lookup, func() *models.Chat {
		return &models.Chat{
			AgentID:        agentID,
			PlatformChatID: platformChatID,
			SenderID:       senderID,
			CorrelationID:  uuid.NewString(),
		}
	}, r.db)
	if err != nil {
		return nil, fmt.Errorf("resolve chat %d/%d: %w", agentID, platformChatID, err)
	}
	return chat, nil
}

// findOrInsert looks the row up, inserts it when missing and, when the insert
// loses against a concurrent writer, re-reads the row that won.
// The bool result reports whether this call created the row.
func findOrInsert[T any](lookup func(*T) error, build func() *T, db *gorm.DB) (*T, bool, error) {
	var found T
	err := lookup(&found)
	if err == nil {
		return &found, false, nil
	}
	if !gorm.IsRecordNotFoundError(err) {
		return nil, false, err
	}

	row := build()
	insertErr := db.Create(row).Error
	if insertErr == nil {
		return row, true, nil
	}

	var winner T
	if err := lookup(&winner); err == nil {
		return &winner, false, nil
	}
	return nil, false, insertErr
}
