package router

import (
	"errors"
	"log/slog"

	"botgate/controllers"
	"botgate/ingest"

	"github.com/gin-gonic/gin"
)

// Authorizer resolves the agent owning the :token of a webhook route.
// Unknown tokens are acknowledged and dropped like any other unusable update.
func Authorizer(pipeline *ingest.Pipeline, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		agent, err := pipeline.Agent(c.Param("token"))
		if err != nil {
			if errors.Is(err, ingest.ErrUnknownAgent) {
				logger.Warn("webhook for unknown agent", "client_ip", c.ClientIP())
			} else {
				logger.Error("resolve webhook agent", "error", err)
			}
			controllers.RespondAck(c)
			c.Abort()
			return
		}
		controllers.SetAgentToContext(c, agent)
		c.Next()
	}
}
