package controllers

import (
	"net/http"

	"botgate/models"

	"github.com/gin-gonic/gin"
)

const agentKey = "agent"

func RespondError(c *gin.Context, msg string, code int) {
	c.JSON(code, gin.H{"error": msg})
}

func RespondSuccess(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// RespondAck is the only answer the chat platform ever gets.
func RespondAck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// SetAgentToContext stores the agent resolved from the webhook route.
func SetAgentToContext(c *gin.Context, agent *models.Agent) {
	c.Set(agentKey, agent)
}

func AgentFromContext(c *gin.Context) (*models.Agent, bool) {
	v, ok := c.Get(agentKey)
	if !ok {
		return nil, false
	}
	agent, ok := v.(*models.Agent)
	return agent, ok && agent != nil
}
