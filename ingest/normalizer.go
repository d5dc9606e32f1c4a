package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"botgate/models"

	"github.com/mymmrac/telego"
)

var (
	// ErrMissingUpdateID means the body has no usable update_id. Logged, never retried.
	ErrMissingUpdateID = errors.New("update_id missing")
	// ErrIgnored means the body carries none of the recognized event kinds.
	ErrIgnored = errors.New("no recognized event kind")
)

// kindOrder is the fixed priority order. When a body carries several
// recognized kinds only the first one listed here is kept.
var kindOrder = []string{
	models.EVENT_KIND_MESSAGE,
	models.EVENT_KIND_EDITED_MESSAGE,
	models.EVENT_KIND_INLINE_QUERY,
	models.EVENT_KIND_CALLBACK_QUERY,
	models.EVENT_KIND_PRE_CHECKOUT_QUERY,
}

// Inbound is a webhook body reduced to what the pipeline needs.
type Inbound struct {
	UpdateID       int64
	Kind           string
	SenderID       int64
	SenderName     string
	SenderHandle   string
	PlatformChatID int64
	PlatformRef    string
	Text           string
	Payload        json.RawMessage
}

// Normalize parses a Telegram update. It returns ErrMissingUpdateID or
// ErrIgnored for bodies that must be acknowledged and dropped.
func Normalize(body []byte) (*Inbound, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("%w: invalid json: %v", ErrMissingUpdateID, err)
	}

	updateID, ok := parseUpdateID(fields["update_id"])
	if !ok {
		return nil, ErrMissingUpdateID
	}

	for _, kind := range kindOrder {
		raw, found := fields[kind]
		if !found || isNull(raw) {
			continue
		}
		in, err := decodeKind(kind, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrIgnored, kind, err)
		}
		in.UpdateID = updateID
		in.Kind = kind
		in.Payload = raw
		return in, nil
	}
	return nil, ErrIgnored
}

func parseUpdateID(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 || isNull(raw) {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	id, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

func decodeKind(kind string, raw json.RawMessage) (*Inbound, error) {
	switch kind {
	case models.EVENT_KIND_MESSAGE, models.EVENT_KIND_EDITED_MESSAGE:
		var m telego.Message
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		if m.From == nil {
			return nil, errors.New("message without sender")
		}
		text := m.Text
		if text == "" {
			text = m.Caption
		}
		in := fromUser(*m.From)
		in.PlatformChatID = m.Chat.ID
		in.PlatformRef = strconv.Itoa(m.MessageID)
		in.Text = text
		return in, nil

	case models.EVENT_KIND_INLINE_QUERY:
		var q telego.InlineQuery
		if err := json.Unmarshal(raw, &q); err != nil {
			return nil, err
		}
		in := fromUser(q.From)
		in.PlatformChatID = q.From.ID
		in.PlatformRef = q.ID
		in.Text = q.Query
		return in, nil

	case models.EVENT_KIND_CALLBACK_QUERY:
		// The attached message may be inaccessible (date 0); only its chat is used.
		var q struct {
			ID      string      `json:"id"`
			From    telego.User `json:"from"`
			Data    string      `json:"data"`
			Message *struct {
				Chat telego.Chat `json:"chat"`
			} `json:"message"`
		}
		if err := json.Unmarshal(raw, &q); err != nil {
			return nil, err
		}
		in := fromUser(q.From)
		in.PlatformChatID = q.From.ID
		if q.Message != nil && q.Message.Chat.ID != 0 {
			in.PlatformChatID = q.Message.Chat.ID
		}
		in.PlatformRef = q.ID
		in.Text = q.Data
		return in, nil

	case models.EVENT_KIND_PRE_CHECKOUT_QUERY:
		var q telego.PreCheckoutQuery
		if err := json.Unmarshal(raw, &q); err != nil {
			return nil, err
		}
		in := fromUser(q.From)
		in.PlatformChatID = q.From.ID
		in.PlatformRef = q.ID
		in.Text = q.InvoicePayload
		return in, nil
	}
	return nil, fmt.Errorf("unsupported kind %q", kind)
}

func fromUser(u telego.User) *Inbound {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	return &Inbound{
		SenderID:     u.ID,
		SenderName:   name,
		SenderHandle: u.Username,
	}
}
