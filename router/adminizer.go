package router

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"botgate/controllers"

	"github.com/gin-gonic/gin"
)

// Adminizer requires the operator token in X-Admin-Token. Without a
// configured token every operator route is refused.
func Adminizer(token string) gin.HandlerFunc {
	token = strings.TrimSpace(token)
	return func(c *gin.Context) {
		if token == "" {
			controllers.RespondError(c, "operator api disabled", http.StatusForbidden)
			c.Abort()
			return
		}
		given := strings.TrimSpace(c.GetHeader("X-Admin-Token"))
		if subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
			controllers.RespondError(c, "unauthorized", http.StatusUnauthorized)
			c.Abort()
			return
		}
		c.Next()
	}
}
