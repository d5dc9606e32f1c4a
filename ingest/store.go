package ingest

import (
	"errors"
	"fmt"

	"botgate/models"

	"github.com/jinzhu/gorm"
)

// ErrEventNotFound is returned by Load for unknown ids.
var ErrEventNotFound = errors.New("event not found")

// Store is the only writer of the events table.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Record inserts ev unless (AgentID, UpdateID) is already stored. On a
// duplicate the stored row is copied into ev and duplicate is true; callers
// must then skip every downstream side effect. In both cases ev comes back
// with its relations loaded.
func (s *Store) Record(ev *models.Event) (duplicate bool, err error) {
	lookup := func(e *models.Event) error {
		return s.db.Where("agent_id = ? AND update_id = ?", ev.AgentID, ev.UpdateID).First(e).Error
	}
	candidate := *ev
	stored, created, err := findOrInsert(lookup, func() *models.Event { return &candidate }, s.db)
	if err != nil {
		return false, fmt.Errorf("record event %d/%d: %w", ev.AgentID, ev.UpdateID, err)
	}

	*ev = *stored
	if err := s.loadRelations(ev); err != nil {
		return !created, err
	}
	return !created, nil
}

// Load reads an event and its relations.
func (s *Store) Load(id int64) (*models.Event, error) {
	var ev models.Event
	if err := s.db.First(&ev, id).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil, fmt.Errorf("%w: %d", ErrEventNotFound, id)
		}
		return nil, fmt.Errorf("load event %d: %w", id, err)
	}
	if err := s.loadRelations(&ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// loadRelations fills Agent, Sender, Chat and Command. The agent and command
// are read including soft-deleted rows: an event keeps pointing at what it was
// recorded against.
func (s *Store) loadRelations(ev *models.Event) error {
	var agent models.Agent
	if err := s.db.Unscoped().First(&agent, ev.AgentID).Error; err != nil {
		return fmt.Errorf("load agent %d of event %d: %w", ev.AgentID, ev.ID, err)
	}
	var sender models.Sender
	if err := s.db.First(&sender, ev.SenderID).Error; err != nil {
		return fmt.Errorf("load sender %d of event %d: %w", ev.SenderID, ev.ID, err)
	}
	var chat models.Chat
	if err := s.db.First(&chat, ev.ChatID).Error; err != nil {
		return fmt.Errorf("load chat %d of event %d: %w", ev.ChatID, ev.ID, err)
	}
	ev.Agent, ev.Sender, ev.Chat, ev.Command = &agent, &sender, &chat, nil

	if ev.CommandID != nil {
		var cmd models.Command
		if err := s.db.Unscoped().First(&cmd, *ev.CommandID).Error; err != nil {
			return fmt.Errorf("load command %d of event %d: %w", *ev.CommandID, ev.ID, err)
		}
		ev.Command = &cmd
	}
	return nil
}
