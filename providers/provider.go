// Package providers holds the capability contract every AI backend exposes,
// the directory that maps an agent's provider identifier to an
// implementation, and the built-in OpenAI and Anthropic backends.
package providers

import (
	"context"
	"errors"
	"log/slog"

	"botgate/billing"
	"botgate/models"
	"botgate/tools"

	"github.com/jinzhu/gorm"
)

// ErrMisconfigured wraps every configuration failure: unknown provider
// identifiers, missing credentials, unusable chat platform tokens. Such
// failures are surfaced to the operator and never downgraded to another
// provider.
var ErrMisconfigured = errors.New("provider misconfigured")

// Provider is the two-operation contract, bound to a stored event with its
// relations loaded.
type Provider interface {
	// Handle does the cheap synchronous work inside the webhook budget and
	// enqueues the prompt job.
	Handle(ctx context.Context, ev *models.Event) error
	// Prompt performs the AI round trip and delivers the reply. It runs on the
	// worker pool and may be executed more than once for the same event.
	Prompt(ctx context.Context, ev *models.Event) error
}

// Messenger is the chat platform send surface.
type Messenger interface {
	// Parts splits text into the messages SendText would send. A reply is
	// delivered part by part so a retry can resume after the last one sent.
	Parts(text string) []string
	SendText(ctx context.Context, chatID int64, text string) error
	SendTyping(ctx context.Context, chatID int64) error
	AnswerCallback(ctx context.Context, queryID, text string) error
	AnswerInline(ctx context.Context, queryID, title, text string) error
	AnswerPreCheckout(ctx context.Context, queryID string, ok bool, errMsg string) error
}

// MessengerFactory builds the messenger of an agent.
type MessengerFactory func(agent *models.Agent) (Messenger, error)

// TelegramMessengers returns a MessengerFactory backed by the Bot API.
func TelegramMessengers(apiURL string) MessengerFactory {
	return func(agent *models.Agent) (Messenger, error) {
		return tools.NewTelegramClient(agent.TelegramToken, apiURL)
	}
}

// Permanent reports whether err cannot go away on a retry: a configuration
// failure, or an upstream API rejecting the request itself (bad key, unknown
// model).
func Permanent(err error) bool {
	if errors.Is(err, ErrMisconfigured) {
		return true
	}
	var apiErr *tools.APIError
	return errors.As(err, &apiErr) && !apiErr.Temporary()
}

// Enqueuer is the part of the dispatch queue Handle needs.
type Enqueuer interface {
	Enqueue(ev *models.Event) (*models.Job, bool, error)
}

// Deps are the collaborators shared by every provider.
type Deps struct {
	DB           *gorm.DB
	Queue        Enqueuer
	Messengers   MessengerFactory
	Biller       billing.Biller
	HistoryLimit int
	Logger       *slog.Logger
}

// Settings is the resolved configuration of one provider for one agent.
// APIKey is the agent's own key when it has one, else the operator-wide key.
type Settings struct {
	Provider  string
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// Conversation is what a backend needs to produce a reply.
type Conversation struct {
	Instruction   string
	History       []tools.ChatTurn
	Text          string
	CorrelationID string
	SessionRef    string // chat external session id, empty until allocated
}

// Completion is a backend answer.
type Completion struct {
	Text         string
	SessionRef   string // new external session id; empty keeps the current one
	InputTokens  int
	OutputTokens int
}

// Backend performs one AI call. Request and response shapes differ per
// vendor; Backend hides them behind Conversation and Completion.
type Backend interface {
	Complete(ctx context.Context, conv Conversation) (*Completion, error)
}

// Factory builds a provider from resolved settings.
type Factory func(s Settings, d Deps) (Provider, error)
