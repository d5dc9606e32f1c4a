package controllers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"botgate/ingest"

	"github.com/gin-gonic/gin"
)

// Webhook receives the chat platform updates of every agent.
type Webhook struct {
	pipeline *ingest.Pipeline
	maxBody  int64
	logger   *slog.Logger
}

func NewWebhook(pipeline *ingest.Pipeline, maxBody int64, logger *slog.Logger) *Webhook {
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Webhook{pipeline: pipeline, maxBody: maxBody, logger: logger.With("component", "webhook")}
}

// POST /api/webhook/:token
//
// Always answers 200: the platform retries anything else, and a retried
// delivery can only do harm. Failures end up in the log.
func (w *Webhook) Update(c *gin.Context) {
	agent, ok := AgentFromContext(c)
	if !ok {
		w.logger.Error("webhook without agent in context", "path", c.FullPath())
		RespondAck(c)
		return
	}
	log := w.logger.With("agent_id", agent.ID)

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, w.maxBody))
	if err != nil {
		log.Warn("read body failed", "error", err)
		RespondAck(c)
		return
	}

	res, err := w.pipeline.Ingest(c.Request.Context(), agent, body)
	switch {
	case errors.Is(err, ingest.ErrMissingUpdateID):
		log.Warn("update without update_id dropped", "reason", err)
	case errors.Is(err, ingest.ErrIgnored):
		log.Debug("update ignored", "reason", err)
	case err != nil:
		log.Error("ingest failed", "error", err)
	case res.Duplicate:
		log.Debug("duplicate update acknowledged", "event_id", res.Event.ID)
	}
	RespondAck(c)
}
