package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"botgate/config"
	"botgate/models"
	"botgate/queue"
	"botgate/tools"

	"github.com/jinzhu/gorm"
)

const failureMessage = "Sorry, I could not answer that right now. Please try again later."

const checkoutUnavailable = "Payments are not available right now."


// Assistant implements Provider on top of a Backend. Everything vendor
// specific lives in the backend; per-kind behavior, the processed-marker and
// bookkeeping live here.
type Assistant struct {
	name    string
	backend Backend
	deps    Deps
	logger  *slog.Logger
}

func NewAssistant(name string, backend Backend, d Deps) *Assistant {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{
		name:    name,
		backend: backend,
		deps:    d,
		logger:  logger.With("component", "provider", "provider", name),
	}
}

// Handle acknowledges the update on the platform and enqueues the prompt.
// Pre-checkout queries are decided here and never reach the queue.
func (a *Assistant) Handle(ctx context.Context, ev *models.Event) error {
	if err := requireRelations(ev); err != nil {
		return err
	}
	m, err := a.deps.Messengers(ev.Agent)
	if err != nil {
		return fmt.Errorf("%w: messenger: %v", ErrMisconfigured, err)
	}
	log := a.eventLogger(ev)

	switch ev.Kind {
	case models.EVENT_KIND_MESSAGE, models.EVENT_KIND_EDITED_MESSAGE:
		if err := m.SendTyping(ctx, ev.Chat.PlatformChatID); err != nil {
			log.Warn("send typing failed", "error", err)
		}
	case models.EVENT_KIND_CALLBACK_QUERY:
		if err := m.AnswerCallback(ctx, ev.PlatformRef, ""); err != nil {
			log.Warn("answer callback failed", "error", err)
		}
	case models.EVENT_KIND_PRE_CHECKOUT_QUERY:
		ok, reason := false, checkoutUnavailable
		if a.deps.Biller != nil {
			ok, reason = a.deps.Biller.ApproveCheckout(ev)
		} else {
			log.Error("no biller configured, rejecting checkout")
		}
		if err := m.AnswerPreCheckout(ctx, ev.PlatformRef, ok, reason); err != nil {
			return fmt.Errorf("answer pre-checkout: %w", err)
		}
		log.Info("pre-checkout answered", "ok", ok)
		return nil
	}

	job, created, err := a.deps.Queue.Enqueue(ev)
	if err != nil {
		return fmt.Errorf("enqueue prompt: %w", err)
	}
	if created {
		log.Info("prompt enqueued", "job_id", job.ID)
	}
	return nil
}

// Prompt generates and delivers the reply of ev at most once. A Delivery row
// is claimed before the reply is sent; a second execution finds it and only
// finishes the bookkeeping.
func (a *Assistant) Prompt(ctx context.Context, ev *models.Event) error {
	if ev.Kind == models.EVENT_KIND_PRE_CHECKOUT_QUERY {
		return nil
	}
	if err := requireRelations(ev); err != nil {
		return err
	}
	log := a.eventLogger(ev)

	prior, err := a.delivery(ev.ID)
	if err != nil {
		return err
	}
	if prior != nil {
		switch {
		case prior.Status == models.DELIVERY_STATUS_SENT && !prior.Failed:
			log.Info("reply already delivered")
			return a.settle(ev, prior.Reply, prior.SessionRef)
		case prior.Status == models.DELIVERY_STATUS_PARTIAL:
			return a.resume(ctx, ev, prior)
		}
		// a failure notice, or a claim whose send was never confirmed
		log.Warn("reply already claimed, skipping", "status", prior.Status, "failed", prior.Failed)
		return nil
	}

	if strings.TrimSpace(ev.Text) == "" {
		log.Info("nothing to answer")
		return nil
	}

	m, err := a.deps.Messengers(ev.Agent)
	if err != nil {
		return fmt.Errorf("%w: messenger: %v", ErrMisconfigured, err)
	}

	conv, err := a.conversation(ev)
	if err != nil {
		return err
	}

	var reply, sessionRef string
	completion, genErr := a.backend.Complete(ctx, conv)
	failed := genErr != nil
	if failed {
		// a rejected request fails the same way on every attempt
		if !queue.AttemptFrom(ctx).Final() && !Permanent(genErr) {
			return fmt.Errorf("%s: %w", a.name, genErr)
		}
		reply = failureMessage
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), config.FailureNoticeTimeout)
		defer cancel()
	} else {
		reply, sessionRef = completion.Text, completion.SessionRef
	}

	d, claimed, err := a.claim(ev.ID, reply, sessionRef, failed)
	if err != nil {
		return err
	}
	if !claimed {
		log.Info("reply claimed by another worker")
		return nil
	}

	if err := a.deliver(ctx, m, ev, d); err != nil {
		a.interrupted(log, d, err)
		return fmt.Errorf("deliver reply: %w", err)
	}
	if err := a.markSent(d); err != nil {
		log.Error("reply sent but not marked", "error", err)
	}

	if failed {
		log.Warn("failure notice sent", "error", genErr)
		return fmt.Errorf("%s: %w", a.name, genErr)
	}
	log.Info("reply delivered", "input_tokens", completion.InputTokens, "output_tokens", completion.OutputTokens)
	return a.settle(ev, reply, sessionRef)
}

func (a *Assistant) eventLogger(ev *models.Event) *slog.Logger {
	return a.logger.With(
		"event_id", ev.ID,
		"agent_id", ev.AgentID,
		"chat_id", ev.ChatID,
		"kind", ev.Kind,
		"correlation_id", ev.Chat.CorrelationID,
	)
}

// conversation builds the backend input. A command instruction replaces the
// agent instruction. Queries are answered without history or session.
func (a *Assistant) conversation(ev *models.Event) (Conversation, error) {
	conv := Conversation{
		Instruction:   ev.Agent.Instruction,
		Text:          ev.Text,
		CorrelationID: ev.Chat.CorrelationID,
	}
	if ev.Command != nil && strings.TrimSpace(ev.Command.Instruction) != "" {
		conv.Instruction = ev.Command.Instruction
	}
	if ev.IsQuery() {
		return conv, nil
	}
	if ev.Chat.ExternalSessionID != nil {
		conv.SessionRef = *ev.Chat.ExternalSessionID
	}

	history, err := a.history(ev)
	if err != nil {
		return conv, err
	}
	conv.History = history
	return conv, nil
}

func (a *Assistant) history(ev *models.Event) ([]tools.ChatTurn, error) {
	if a.deps.HistoryLimit <= 0 {
		return nil, nil
	}
	var rows []models.ChatMessage
	err := a.deps.DB.
		Where("chat_id = ? AND event_id <> ?", ev.ChatID, ev.ID).
		Order("id DESC").
		Limit(a.deps.HistoryLimit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	turns := make([]tools.ChatTurn, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		turns = append(turns, tools.ChatTurn{Role: rows[i].Role, Content: rows[i].Content})
	}
	return turns, nil
}

// resume finishes a reply whose delivery stopped after some of its parts.
func (a *Assistant) resume(ctx context.Context, ev *models.Event, d *models.Delivery) error {
	log := a.eventLogger(ev).With("parts_sent", d.PartsSent)
	m, err := a.deps.Messengers(ev.Agent)
	if err != nil {
		return fmt.Errorf("%w: messenger: %v", ErrMisconfigured, err)
	}

	// take the partial row back so a concurrent attempt cannot resume it too
	res := a.deps.DB.Model(&models.Delivery{}).
		Where("id = ? AND status = ?", d.ID, models.DELIVERY_STATUS_PARTIAL).
		Update("status", models.DELIVERY_STATUS_CLAIMED)
	if res.Error != nil {
		return fmt.Errorf("reclaim delivery: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		log.Info("partial reply resumed by another worker")
		return nil
	}

	if err := a.deliver(ctx, m, ev, d); err != nil {
		a.interrupted(log, d, err)
		return fmt.Errorf("resume reply: %w", err)
	}
	if err := a.markSent(d); err != nil {
		log.Error("reply sent but not marked", "error", err)
	}
	log.Info("partial reply completed")
	if d.Failed {
		return nil
	}
	return a.settle(ev, d.Reply, d.SessionRef)
}

// deliver sends the parts of d.Reply after d.PartsSent, counting each part
// the platform accepted.
func (a *Assistant) deliver(ctx context.Context, m Messenger, ev *models.Event, d *models.Delivery) error {
	if ev.Kind == models.EVENT_KIND_INLINE_QUERY {
		return m.AnswerInline(ctx, ev.PlatformRef, ev.Agent.Name, d.Reply)
	}
	parts := m.Parts(d.Reply)
	for i := d.PartsSent; i < len(parts); i++ {
		if err := m.SendText(ctx, ev.Chat.PlatformChatID, parts[i]); err != nil {
			return err
		}
		d.PartsSent = i + 1
	}
	return nil
}

// interrupted handles a failed send. With nothing sent the claim is dropped
// and the next attempt starts over; otherwise the progress is stored and the
// next attempt resumes after it.
func (a *Assistant) interrupted(log *slog.Logger, d *models.Delivery, cause error) {
	if d.PartsSent == 0 {
		if err := a.release(d); err != nil {
			log.Error("release delivery claim failed", "error", err)
		}
		return
	}
	err := a.deps.DB.Model(&models.Delivery{}).
		Where("id = ?", d.ID).
		Updates(map[string]any{"status": models.DELIVERY_STATUS_PARTIAL, "parts_sent": d.PartsSent}).Error
	if err != nil {
		// the row stays claimed and is skipped from now on
		log.Error("record partial delivery failed", "error", err, "parts_sent", d.PartsSent)
		return
	}
	log.Warn("reply partially delivered", "parts_sent", d.PartsSent, "error", cause)
}

func (a *Assistant) delivery(eventID int64) (*models.Delivery, error) {
	var d models.Delivery
	err := a.deps.DB.Where("event_id = ?", eventID).First(&d).Error
	if gorm.IsRecordNotFoundError(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load delivery: %w", err)
	}
	return &d, nil
}

// claim inserts the processed-marker. claimed is false when another execution
// got there first.
func (a *Assistant) claim(eventID int64, reply, sessionRef string, failed bool) (*models.Delivery, bool, error) {
	d := models.Delivery{
		EventID:    eventID,
		Status:     models.DELIVERY_STATUS_CLAIMED,
		Reply:      reply,
		Failed:     failed,
		SessionRef: sessionRef,
	}
	if err := a.deps.DB.Create(&d).Error; err != nil {
		if existing, lookupErr := a.delivery(eventID); lookupErr == nil && existing != nil {
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("claim delivery: %w", err)
	}
	return &d, true, nil
}

func (a *Assistant) release(d *models.Delivery) error {
	return a.deps.DB.
		Where("id = ? AND status = ?", d.ID, models.DELIVERY_STATUS_CLAIMED).
		Delete(&models.Delivery{}).Error
}

func (a *Assistant) markSent(d *models.Delivery) error {
	now := time.Now().UTC()
	return a.deps.DB.Model(&models.Delivery{}).
		Where("id = ?", d.ID).
		Updates(map[string]any{"status": models.DELIVERY_STATUS_SENT, "parts_sent": d.PartsSent, "sent_at": &now}).Error
}

// settle applies the side effects of a delivered reply. Each step is
// idempotent, so it is safe to run again on a re-executed prompt.
func (a *Assistant) settle(ev *models.Event, reply, sessionRef string) error {
	if !ev.IsQuery() {
		if err := a.remember(ev, models.MESSAGE_ROLE_USER, ev.Text); err != nil {
			return err
		}
		if err := a.remember(ev, models.MESSAGE_ROLE_ASSISTANT, reply); err != nil {
			return err
		}
		if sessionRef != "" {
			err := a.deps.DB.Model(&models.Chat{}).
				Where("id = ?", ev.ChatID).
				Update("external_session_id", sessionRef).Error
			if err != nil {
				return fmt.Errorf("store session ref: %w", err)
			}
			ev.Chat.ExternalSessionID = &sessionRef
		}
	}

	if a.deps.Biller != nil {
		if _, err := a.deps.Biller.Charge(ev); err != nil {
			return fmt.Errorf("charge usage: %w", err)
		}
	}
	return nil
}

func (a *Assistant) remember(ev *models.Event, role, content string) error {
	var existing models.ChatMessage
	err := a.deps.DB.Where("event_id = ? AND role = ?", ev.ID, role).First(&existing).Error
	if err == nil {
		return nil
	}
	if !gorm.IsRecordNotFoundError(err) {
		return fmt.Errorf("load history turn: %w", err)
	}

	row := models.ChatMessage{ChatID: ev.ChatID, EventID: ev.ID, Role: role, Content: content}
	if insertErr := a.deps.DB.Create(&row).Error; insertErr != nil {
		if err := a.deps.DB.Where("event_id = ? AND role = ?", ev.ID, role).First(&existing).Error; err == nil {
			return nil
		}
		return fmt.Errorf("append history turn: %w", insertErr)
	}
	return nil
}

func requireRelations(ev *models.Event) error {
	if ev == nil || ev.Agent == nil || ev.Chat == nil {
		return errors.New("event relations not loaded")
	}
	return nil
}
