package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"botgate/models"
	"botgate/providers"

	"github.com/jinzhu/gorm"
)

// ErrUnknownAgent means no agent owns the webhook token.
var ErrUnknownAgent = errors.New("unknown agent")

// ProviderResolver is the part of the provider directory the pipeline needs.
type ProviderResolver interface {
	Resolve(agent *models.Agent) (providers.Provider, error)
}

// Pipeline runs the synchronous webhook path: normalize, resolve identities
// and command, record, handle. It never calls an AI backend.
type Pipeline struct {
	db            *gorm.DB
	identities    *Identities
	commands      *Commands
	store         *Store
	providers     ProviderResolver
	queue         providers.Enqueuer
	handleTimeout time.Duration
	logger        *slog.Logger
}

func NewPipeline(db *gorm.DB, resolver ProviderResolver, queue providers.Enqueuer, handleTimeout time.Duration, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		db:            db,
		identities:    NewIdentities(db),
		commands:      NewCommands(db),
		store:         NewStore(db),
		providers:     resolver,
		queue:         queue,
		handleTimeout: handleTimeout,
		logger:        logger.With("component", "ingest"),
	}
}

// Store exposes the event store for the worker and the operator endpoints.
func (p *Pipeline) Store() *Store {
	return p.store
}

// Agent returns the live agent owning token.
func (p *Pipeline) Agent(token string) (*models.Agent, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrUnknownAgent
	}
	var agent models.Agent
	err := p.db.Where("webhook_token = ?", token).First(&agent).Error
	if gorm.IsRecordNotFoundError(err) {
		return nil, ErrUnknownAgent
	}
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}
	return &agent, nil
}

// Result describes what Ingest did with a delivery.
type Result struct {
	Event     *models.Event
	Duplicate bool
}

// Ingest turns one webhook body into a stored event and dispatches it.
// Normalization errors are returned as is (ErrMissingUpdateID, ErrIgnored).
// Provider failures are logged, not returned: the event is stored and its job
// enqueued, and the worker decides what happens next.
func (p *Pipeline) Ingest(ctx context.Context, agent *models.Agent, body []byte) (*Result, error) {
	in, err := Normalize(body)
	if err != nil {
		return nil, err
	}
	log := p.logger.With("agent_id", agent.ID, "update_id", in.UpdateID, "kind", in.Kind)

	sender, err := p.identities.ResolveSender(agent.ID, in.SenderID, in.SenderName, in.SenderHandle)
	if err != nil {
		return nil, err
	}
	chat, err := p.identities.ResolveChat(agent.ID, in.PlatformChatID, sender.ID)
	if err != nil {
		return nil, err
	}
	cmd, err := p.commands.Resolve(agent.ID, in.Text)
	if err != nil {
		return nil, err
	}

	ev := &models.Event{
		AgentID:     agent.ID,
		UpdateID:    in.UpdateID,
		SenderID:    sender.ID,
		ChatID:      chat.ID,
		Kind:        in.Kind,
		PlatformRef: in.PlatformRef,
		Text:        in.Text,
		Payload:     string(in.Payload),
	}
	if cmd != nil {
		ev.CommandID = &cmd.ID
	}

	duplicate, err := p.store.Record(ev)
	if err != nil {
		return nil, err
	}
	if duplicate {
		log.Info("duplicate delivery ignored", "event_id", ev.ID)
		return &Result{Event: ev, Duplicate: true}, nil
	}
	log = log.With("event_id", ev.ID, "chat_id", ev.ChatID, "correlation_id", ev.Chat.CorrelationID)
	if ev.Command != nil {
		log = log.With("command", ev.Command.Trigger)
	}
	log.Info("event recorded")

	if err := p.dispatch(ctx, ev); err != nil {
		log.Error("handle failed", "error", err)
		if err := p.fallback(ev); err != nil {
			return &Result{Event: ev}, err
		}
	}
	return &Result{Event: ev}, nil
}

func (p *Pipeline) dispatch(ctx context.Context, ev *models.Event) error {
	provider, err := p.providers.Resolve(ev.Agent)
	if err != nil {
		return err
	}
	if p.handleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.handleTimeout)
		defer cancel()
	}
	return provider.Handle(ctx, ev)
}

// fallback makes sure a stored event still reaches the worker when handle did
// not enqueue it. A misconfigured provider is then dead-lettered there, where
// the operator can see and retry it.
func (p *Pipeline) fallback(ev *models.Event) error {
	if ev.Kind == models.EVENT_KIND_PRE_CHECKOUT_QUERY {
		return nil
	}
	if _, _, err := p.queue.Enqueue(ev); err != nil {
		return fmt.Errorf("enqueue event %d: %w", ev.ID, err)
	}
	return nil
}
