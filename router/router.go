package router

import (
	"log/slog"
	"net/http"

	"botgate/billing"
	"botgate/config"
	"botgate/controllers"
	dbpkg "botgate/db"
	"botgate/ingest"
	"botgate/middleware"
	"botgate/queue"

	"github.com/gin-gonic/gin"
	"github.com/jinzhu/gorm"
)

// Services are the components the HTTP surface talks to.
type Services struct {
	DB       *gorm.DB
	Pipeline *ingest.Pipeline
	Queue    *queue.Queue
	Ledger   *billing.Ledger
	Logger   *slog.Logger
}

// Initialize wires all routes and middlewares: the public webhook and health
// routes, and the operator routes behind Adminizer.
func Initialize(r *gin.Engine, cfg config.Configuration, s Services) {
	logger := s.Logger.With("component", "http")

	r.Use(gin.Recovery())
	// global so browser preflights reach it before route matching
	r.Use(middleware.CORSMiddleware(cfg.Admin.AllowedOrigins))

	r.GET("/health", func(c *gin.Context) {
		if err := s.DB.DB().PingContext(c.Request.Context()); err != nil {
			controllers.RespondError(c, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		controllers.RespondSuccess(c, gin.H{"status": "ok"})
	})

	api := r.Group("/api")

	// Webhook: one route per agent, keyed by its secret token
	webhook := controllers.NewWebhook(s.Pipeline, cfg.Webhook.MaxBodyBytes, s.Logger)
	api.POST("/webhook/:token", Logger(logger), AckRecovery(logger), Authorizer(s.Pipeline, logger), webhook.Update)

	// Operator routes
	admin := api.Group("")
	admin.Use(Adminizer(cfg.Admin.Token))
	admin.Use(dbpkg.SetDBtoContext(s.DB))

	admin.GET("/events", Logger(logger), controllers.GetEvents)
	admin.GET("/events/:id", Logger(logger), controllers.GetEventByID)
	admin.GET("/stats/events", Logger(logger), controllers.GetEventsPerDay)

	operator := controllers.NewOperator(s.Queue, s.Ledger)
	admin.GET("/jobs/dead", Logger(logger), operator.GetDeadJobs)
	admin.GET("/jobs/:id", Logger(logger), operator.GetJob)
	admin.POST("/jobs/:id/retry", Logger(logger), operator.RetryJob)
	admin.GET("/usage", Logger(logger), operator.GetUsage)

	logger.Info("routes initialized")
}
