package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"botgate/queue"

	"github.com/robfig/cron/v3"
)

// Reaper periodically returns jobs whose worker died mid-execution to the
// queue.
type Reaper struct {
	queue    *queue.Queue
	lease    time.Duration
	schedule string
	logger   *slog.Logger
}

func NewReaper(q *queue.Queue, lease time.Duration, schedule string, logger *slog.Logger) *Reaper {
	if schedule == "" {
		schedule = "@every 30s"
	}
	return &Reaper{
		queue:    q,
		lease:    lease,
		schedule: schedule,
		logger:   logger.With("component", "reaper"),
	}
}

// Run schedules ReapOnce until ctx is done.
func (r *Reaper) Run(ctx context.Context) error {
	if r.lease <= 0 {
		r.logger.Info("reaper disabled", "lease_timeout", r.lease)
		<-ctx.Done()
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(r.schedule, r.ReapOnce); err != nil {
		return fmt.Errorf("reaper schedule %q: %w", r.schedule, err)
	}
	c.Start()
	r.logger.Info("reaper started", "schedule", r.schedule, "lease_timeout", r.lease)

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (r *Reaper) ReapOnce() {
	requeued, dead, err := r.queue.Reap(r.lease)
	if err != nil {
		r.logger.Error("reap failed", "error", err)
		return
	}
	if requeued > 0 || dead > 0 {
		r.logger.Warn("expired leases reaped", "requeued", requeued, "dead", dead)
	}
}
