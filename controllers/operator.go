package controllers

import (
	"errors"
	"net/http"

	"botgate/billing"
	"botgate/queue"

	"github.com/gin-gonic/gin"
)

// Operator serves the admin endpoints over the dispatch queue and the usage
// ledger.
type Operator struct {
	queue  *queue.Queue
	ledger *billing.Ledger
}

func NewOperator(q *queue.Queue, ledger *billing.Ledger) *Operator {
	return &Operator{queue: q, ledger: ledger}
}

// GET /api/jobs/dead?limit= (admin)
func (o *Operator) GetDeadJobs(c *gin.Context) {
	limit := clampInt(queryInt(c, "limit", 100), 1, 500)
	jobs, err := o.queue.Dead(limit)
	if err != nil {
		RespondError(c, err.Error(), http.StatusInternalServerError)
		return
	}
	RespondSuccess(c, gin.H{"jobs": jobs})
}

// GET /api/jobs/:id (admin)
func (o *Operator) GetJob(c *gin.Context) {
	id, ok := ParamID(c, "id")
	if !ok {
		return
	}
	job, err := o.queue.Get(id)
	if errors.Is(err, queue.ErrJobNotFound) {
		RespondError(c, "job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		RespondError(c, err.Error(), http.StatusInternalServerError)
		return
	}
	RespondSuccess(c, gin.H{"job": job})
}

// POST /api/jobs/:id/retry (admin): dead -> pending with a fresh attempt budget.
func (o *Operator) RetryJob(c *gin.Context) {
	id, ok := ParamID(c, "id")
	if !ok {
		return
	}
	if err := o.queue.Retry(id); err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			RespondError(c, "job not found or not dead", http.StatusConflict)
			return
		}
		RespondError(c, err.Error(), http.StatusInternalServerError)
		return
	}
	job, err := o.queue.Get(id)
	if err != nil {
		RespondError(c, err.Error(), http.StatusInternalServerError)
		return
	}
	RespondSuccess(c, gin.H{"job": job})
}

// GET /api/usage?agent_id=&sender_id= (admin)
func (o *Operator) GetUsage(c *gin.Context) {
	agentID, agentSet, ok := queryID(c, "agent_id")
	if !ok {
		return
	}
	senderID, senderSet, ok := queryID(c, "sender_id")
	if !ok {
		return
	}
	if !agentSet || !senderSet {
		RespondError(c, "agent_id and sender_id are required", http.StatusBadRequest)
		return
	}
	total, err := o.ledger.Total(agentID, senderID)
	if err != nil {
		RespondError(c, err.Error(), http.StatusInternalServerError)
		return
	}
	RespondSuccess(c, gin.H{"agent_id": agentID, "sender_id": senderID, "credits": total})
}
