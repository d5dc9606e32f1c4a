package router

import (
	"log/slog"

	"botgate/controllers"

	"github.com/gin-gonic/gin"
)

// AckRecovery turns a panic on a webhook route into the usual acknowledgement.
// The platform would retry a 500, redelivering the update that panicked.
func AckRecovery(logger *slog.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Error("webhook handler panicked", "panic", recovered, "route", c.FullPath())
		controllers.RespondAck(c)
		c.Abort()
	})
}
