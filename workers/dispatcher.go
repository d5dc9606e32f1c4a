// Package workers runs the asynchronous side of the pipeline: the dispatcher
// that executes prompt jobs and the reaper that recovers abandoned ones.
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"botgate/config"
	"botgate/ingest"
	"botgate/models"
	"botgate/providers"
	"botgate/queue"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Dispatcher polls the queue and runs prompt jobs on a bounded pool.
// Concurrency and rate follow the AI backend limits; inbound traffic never
// reaches this pool directly.
type Dispatcher struct {
	queue     *queue.Queue
	store     *ingest.Store
	providers ingest.ProviderResolver
	conf      config.WorkerConfig
	sem       *semaphore.Weighted
	limiter   *rate.Limiter
	logger    *slog.Logger
	wg        sync.WaitGroup
}

func NewDispatcher(q *queue.Queue, store *ingest.Store, resolver ingest.ProviderResolver, conf config.WorkerConfig, logger *slog.Logger) *Dispatcher {
	if conf.Concurrency <= 0 {
		conf.Concurrency = 1
	}
	if conf.BatchSize <= 0 || conf.BatchSize > conf.Concurrency {
		conf.BatchSize = conf.Concurrency
	}
	if conf.PollInterval <= 0 {
		conf.PollInterval = time.Second
	}
	limit := rate.Inf
	if conf.RatePerSecond > 0 {
		limit = rate.Limit(conf.RatePerSecond)
	}
	burst := conf.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Dispatcher{
		queue:     q,
		store:     store,
		providers: resolver,
		conf:      conf,
		sem:       semaphore.NewWeighted(int64(conf.Concurrency)),
		limiter:   rate.NewLimiter(limit, burst),
		logger:    logger.With("component", "dispatcher"),
	}
}

// Run polls until ctx is done, then waits for in-flight jobs. Jobs already
// claimed are finished, not abandoned: their context is detached from ctx and
// bounded by the prompt timeout instead.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started",
		"concurrency", d.conf.Concurrency,
		"poll_interval", d.conf.PollInterval,
		"rate_per_second", d.conf.RatePerSecond)

	ticker := time.NewTicker(d.conf.PollInterval)
	defer ticker.Stop()

	for {
		d.Poll(ctx)
		select {
		case <-ctx.Done():
			d.wg.Wait()
			d.logger.Info("dispatcher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Poll claims as many jobs as there are free slots and starts them.
func (d *Dispatcher) Poll(ctx context.Context) int {
	slots := 0
	for slots < d.conf.BatchSize && d.sem.TryAcquire(1) {
		slots++
	}
	if slots == 0 {
		return 0
	}

	jobs, err := d.queue.Claim(slots)
	if err != nil {
		d.sem.Release(int64(slots))
		d.logger.Error("claim failed", "error", err)
		return 0
	}
	if unused := slots - len(jobs); unused > 0 {
		d.sem.Release(int64(unused))
	}

	runCtx := context.WithoutCancel(ctx)
	for i := range jobs {
		job := jobs[i]
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer d.sem.Release(1)
			d.run(runCtx, &job)
		}()
	}
	return len(jobs)
}

// Wait blocks until every started job finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context, job *models.Job) {
	log := d.logger.With("job_id", job.ID, "event_id", job.EventID, "chat_id", job.ChatID, "attempt", job.Attempts, "max_attempts", job.MaxAttempts)

	if err := d.limiter.Wait(ctx); err != nil {
		log.Error("rate limiter", "error", err)
	}

	started := time.Now()
	err := d.Execute(ctx, job)
	switch {
	case err == nil:
		if err := d.queue.Complete(job); err != nil {
			log.Error("complete job failed", "error", err)
			return
		}
		log.Info("job done", "elapsed", time.Since(started))

	case permanent(err):
		if dlErr := d.queue.DeadLetter(job, err); dlErr != nil {
			log.Error("dead-letter job failed", "error", dlErr, "cause", err)
			return
		}
		log.Error("job dead-lettered", "error", err)

	default:
		dead, failErr := d.queue.Fail(job, err)
		if failErr != nil {
			log.Error("fail job failed", "error", failErr, "cause", err)
			return
		}
		if dead {
			log.Error("job dead-lettered after last attempt", "error", err)
			return
		}
		log.Warn("job failed, will retry", "error", err)
	}
}

// Execute reloads the event of job, resolves its provider and runs prompt.
func (d *Dispatcher) Execute(ctx context.Context, job *models.Job) error {
	ev, err := d.store.Load(job.EventID)
	if err != nil {
		return err
	}
	provider, err := d.providers.Resolve(ev.Agent)
	if err != nil {
		return err
	}

	ctx = queue.WithAttempt(ctx, job)
	if d.conf.PromptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.conf.PromptTimeout)
		defer cancel()
	}
	if err := provider.Prompt(ctx, ev); err != nil {
		return fmt.Errorf("prompt event %d: %w", ev.ID, err)
	}
	return nil
}

// permanent errors cannot succeed on a retry and go straight to the dead
// letter state.
func permanent(err error) bool {
	return providers.Permanent(err) || errors.Is(err, ingest.ErrEventNotFound)
}
