package ingest

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"botgate/models"

	"github.com/jinzhu/gorm"
)

// Commands resolves event text to one of the agent's active commands.
type Commands struct {
	db *gorm.DB
}

func NewCommands(db *gorm.DB) *Commands {
	return &Commands{db: db}
}

// Resolve returns the matching active command, or nil when nothing matches.
// nil is the "no command" outcome, not an error.
func (r *Commands) Resolve(agentID int64, text string) (*models.Command, error) {
	token := leadingToken(text)
	if token == "" {
		return nil, nil
	}

	var cmds []models.Command
	if err := r.db.
		Where("agent_id = ? AND active = ?", agentID, true).
		Find(&cmds).Error; err != nil {
		return nil, fmt.Errorf("load commands of agent %d: %w", agentID, err)
	}
	return MatchCommand(cmds, text), nil
}

// MatchCommand picks the command whose trigger equals the leading token of
// text. Inactive commands are skipped. Among equal triggers the highest
// priority wins, then the lowest id, so the result only depends on the input.
func MatchCommand(cmds []models.Command, text string) *models.Command {
	token := leadingToken(text)
	if token == "" {
		return nil
	}

	var matches []models.Command
	for _, c := range cmds {
		if !c.Active {
			continue
		}
		if normalizeTrigger(c.Trigger) == token {
			matches = append(matches, c)
		}
	}
	if len(matches) == 0 {
		return nil
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Priority != matches[j].Priority {
			return matches[i].Priority > matches[j].Priority
		}
		return matches[i].ID < matches[j].ID
	})
	return &matches[0]
}

// leadingToken returns the first word of text, lower-cased, with a Telegram
// bot mention ("/start@my_bot") stripped.
func leadingToken(text string) string {
	fields := strings.FieldsFunc(text, unicode.IsSpace)
	if len(fields) == 0 {
		return ""
	}
	return normalizeTrigger(fields[0])
}

func normalizeTrigger(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if strings.HasPrefix(s, "/") {
		if at := strings.IndexByte(s, '@'); at > 0 {
			s = s[:at]
		}
	}
	return s
}
