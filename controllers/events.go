package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	dbpkg "botgate/db"
	"botgate/ingest"
	"botgate/models"

	"github.com/gin-gonic/gin"
)

// GET /api/events (admin)
// Query params:
// - agent_id, chat_id, sender_id (optional)
// - kind=message|edited_message|inline_query|callback_query|pre_checkout_query (optional)
// - q=text (optional)
// - limit (default 200, max 500), offset
func GetEvents(c *gin.Context) {
	db := dbpkg.DBInstance(c)
	if db == nil {
		RespondError(c, "db not configured in context", http.StatusInternalServerError)
		return
	}

	query := db.Model(&models.Event{})
	for _, key := range []string{"agent_id", "chat_id", "sender_id"} {
		id, set, ok := queryID(c, key)
		if !ok {
			return
		}
		if set {
			query = query.Where(key+" = ?", id)
		}
	}
	if kind := strings.TrimSpace(c.Query("kind")); kind != "" {
		query = query.Where("kind = ?", kind)
	}
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		query = query.Where("text LIKE ?", "%"+q+"%")
	}

	limit := clampInt(queryInt(c, "limit", 200), 1, 500)
	offset := clampInt(queryInt(c, "offset", 0), 0, 1_000_000)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		RespondError(c, err.Error(), http.StatusBadRequest)
		return
	}

	var events []models.Event
	if err := query.Order("id desc").Limit(limit).Offset(offset).Find(&events).Error; err != nil {
		RespondError(c, err.Error(), http.StatusBadRequest)
		return
	}

	RespondSuccess(c, gin.H{
		"total":  total,
		"limit":  limit,
		"offset": offset,
		"events": events,
	})
}

// GET /api/events/:id (admin), with agent, sender, chat and command.
func GetEventByID(c *gin.Context) {
	id, ok := ParamID(c, "id")
	if !ok {
		return
	}

	db := dbpkg.DBInstance(c)
	if db == nil {
		RespondError(c, "db not configured in context", http.StatusInternalServerError)
		return
	}

	event, err := ingest.NewStore(db).Load(id)
	if errors.Is(err, ingest.ErrEventNotFound) {
		RespondError(c, "event not found", http.StatusNotFound)
		return
	}
	if err != nil {
		RespondError(c, err.Error(), http.StatusInternalServerError)
		return
	}

	var job models.Job
	resp := gin.H{"event": event}
	if err := db.Where("event_id = ?", id).First(&job).Error; err == nil {
		resp["job"] = job
	}
	var delivery models.Delivery
	if err := db.Where("event_id = ?", id).First(&delivery).Error; err == nil {
		resp["delivery"] = delivery
	}
	RespondSuccess(c, resp)
}

// GET /api/stats/events (admin)
// Query params:
// - agent_id (required)
// - from=YYYY-MM-DD, to=YYYY-MM-DD (default: last 7 days)
// Daily event counts, days without events included.
func GetEventsPerDay(c *gin.Context) {
	agentID, set, ok := queryID(c, "agent_id")
	if !ok {
		return
	}
	if !set {
		RespondError(c, "agent_id is required", http.StatusBadRequest)
		return
	}

	db := dbpkg.DBInstance(c)
	if db == nil {
		RespondError(c, "db not configured in context", http.StatusInternalServerError)
		return
	}

	from, to, ok := parseDateRange(c)
	if !ok {
		return
	}
	from = startOfDay(from)
	toExclusive := startOfDay(to).AddDate(0, 0, 1)

	dayExpr := "date(created_at)"
	dialect := strings.ToLower(db.Dialect().GetName())
	if strings.Contains(dialect, "sqlite") {
		dayExpr = "strftime('%Y-%m-%d', created_at, 'localtime')"
	} else if strings.Contains(dialect, "postgres") {
		dayExpr = "to_char(date_trunc('day', created_at), 'YYYY-MM-DD')"
	}

	var rows []dailyCount
	err := db.Table("events").
		Select(fmt.Sprintf("%s AS day, count(*) AS count", dayExpr)).
		Where("agent_id = ? AND created_at >= ? AND created_at < ?", agentID, from, toExclusive).
		Group("day").
		Order("day asc").
		Scan(&rows).Error
	if err != nil {
		RespondError(c, err.Error(), http.StatusBadRequest)
		return
	}

	RespondSuccess(c, gin.H{
		"agent_id": agentID,
		"from":     from.Format("2006-01-02"),
		"to":       to.Format("2006-01-02"),
		"series":   fillDailySeries(from, to, rows),
	})
}
