// Package queue is the database-backed dispatch queue. A job references a
// stored event; jobs of the same chat are handed out strictly in id order
// while different chats interleave freely.
package queue

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
	"unicode/utf8"

	"botgate/models"

	"github.com/jinzhu/gorm"
)

// ErrJobNotFound is returned when a job id does not exist or is not in the
// state the operation expects.
var ErrJobNotFound = errors.New("job not found")

// Options tune retries.
type Options struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

type Queue struct {
	db   *gorm.DB
	opts Options
	now  func() time.Time
}

func New(db *gorm.DB, opts Options) *Queue {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.BackoffMax < opts.BackoffBase {
		opts.BackoffMax = opts.BackoffBase
	}
	return &Queue{db: db, opts: opts, now: time.Now}
}

// Enqueue creates the job of a stored event. Enqueuing the same event again
// returns the existing job and created=false.
func (q *Queue) Enqueue(ev *models.Event) (job *models.Job, created bool, err error) {
	if ev == nil || ev.ID == 0 {
		return nil, false, errors.New("enqueue: event is not stored")
	}

	var existing models.Job
	err = q.db.Where("event_id = ?", ev.ID).First(&existing).Error
	if err == nil {
		return &existing, false, nil
	}
	if !gorm.IsRecordNotFoundError(err) {
		return nil, false, fmt.Errorf("enqueue event %d: %w", ev.ID, err)
	}

	now := q.now()
	job = &models.Job{
		EventID:     ev.ID,
		AgentID:     ev.AgentID,
		ChatID:      ev.ChatID,
		Status:      models.JOB_STATUS_PENDING,
		MaxAttempts: q.opts.MaxAttempts,
		AvailableAt: &now,
	}
	if insertErr := q.db.Create(job).Error; insertErr != nil {
		if err := q.db.Where("event_id = ?", ev.ID).First(&existing).Error; err == nil {
			return &existing, false, nil
		}
		return nil, false, fmt.Errorf("enqueue event %d: %w", ev.ID, insertErr)
	}
	return job, true, nil
}

// Claim moves up to limit due jobs to processing and returns them. A job is
// only eligible when no older job of the same chat is still pending or
// processing, which keeps per-chat order even across retries.
func (q *Queue) Claim(limit int) ([]models.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := q.now()

	var candidates []models.Job
	if err := q.db.
		Where("status = ? AND available_at <= ?", models.JOB_STATUS_PENDING, now).
		Where(`NOT EXISTS (SELECT 1 FROM jobs older WHERE older.chat_id = jobs.chat_id AND older.id < jobs.id AND older.status IN (?))`,
			[]string{models.JOB_STATUS_PENDING, models.JOB_STATUS_PROCESSING}).
		Order("id asc").
		Limit(limit).
		Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("claim: query: %w", err)
	}

	claimed := make([]models.Job, 0, len(candidates))
	for _, job := range candidates {
		// optimistic lock: only one worker flips pending -> processing
		res := q.db.Model(&models.Job{}).
			Where("id = ? AND status = ?", job.ID, models.JOB_STATUS_PENDING).
			Updates(map[string]any{
				"status":    models.JOB_STATUS_PROCESSING,
				"attempts":  gorm.Expr("attempts + 1"),
				"locked_at": &now,
			})
		if res.Error != nil || res.RowsAffected == 0 {
			continue
		}
		job.Status = models.JOB_STATUS_PROCESSING
		job.Attempts++
		job.LockedAt = &now
		claimed = append(claimed, job)
	}
	return claimed, nil
}

// Complete marks a processing job done.
func (q *Queue) Complete(job *models.Job) error {
	now := q.now()
	return q.transition(job, models.JOB_STATUS_PROCESSING, map[string]any{
		"status":      models.JOB_STATUS_DONE,
		"finished_at": &now,
		"last_error":  "",
	})
}

// Fail records cause. The job goes back to pending after a backoff, or to the
// dead letter state when its attempts are exhausted.
func (q *Queue) Fail(job *models.Job, cause error) (dead bool, err error) {
	if job.Exhausted() {
		return true, q.DeadLetter(job, cause)
	}
	next := q.now().Add(q.Backoff(job.Attempts))
	err = q.transition(job, models.JOB_STATUS_PROCESSING, map[string]any{
		"status":       models.JOB_STATUS_PENDING,
		"available_at": &next,
		"locked_at":    nil,
		"last_error":   errorText(cause),
	})
	return false, err
}

// DeadLetter parks the job for operator inspection. It is never retried
// automatically.
func (q *Queue) DeadLetter(job *models.Job, cause error) error {
	now := q.now()
	return q.transition(job, models.JOB_STATUS_PROCESSING, map[string]any{
		"status":      models.JOB_STATUS_DEAD,
		"finished_at": &now,
		"locked_at":   nil,
		"last_error":  errorText(cause),
	})
}

// Backoff is exponential in the attempt number, capped, with up to 50% jitter.
func (q *Queue) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := q.opts.BackoffBase
	for i := 1; i < attempt && d < q.opts.BackoffMax; i++ {
		d *= 2
	}
	if d > q.opts.BackoffMax {
		d = q.opts.BackoffMax
	}
	return d + time.Duration(rand.Int64N(int64(d/2)+1))
}

// Reap returns processing jobs whose lease expired (the worker died) to
// pending, or dead-letters them when they used their last attempt.
func (q *Queue) Reap(lease time.Duration) (requeued, dead int64, err error) {
	now := q.now()
	cutoff := now.Add(-lease)

	res := q.db.Model(&models.Job{}).
		Where("status = ? AND locked_at < ? AND attempts >= max_attempts", models.JOB_STATUS_PROCESSING, cutoff).
		Updates(map[string]any{
			"status":      models.JOB_STATUS_DEAD,
			"finished_at": &now,
			"locked_at":   nil,
			"last_error":  "lease expired on last attempt",
		})
	if res.Error != nil {
		return 0, 0, fmt.Errorf("reap dead: %w", res.Error)
	}
	dead = res.RowsAffected

	res = q.db.Model(&models.Job{}).
		Where("status = ? AND locked_at < ?", models.JOB_STATUS_PROCESSING, cutoff).
		Updates(map[string]any{
			"status":       models.JOB_STATUS_PENDING,
			"available_at": &now,
			"locked_at":    nil,
			"last_error":   "lease expired",
		})
	if res.Error != nil {
		return 0, dead, fmt.Errorf("reap requeue: %w", res.Error)
	}
	return res.RowsAffected, dead, nil
}

// Dead lists dead-lettered jobs, newest first.
func (q *Queue) Dead(limit int) ([]models.Job, error) {
	var jobs []models.Job
	if err := q.db.
		Where("status = ?", models.JOB_STATUS_DEAD).
		Order("id desc").
		Limit(limit).
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("list dead jobs: %w", err)
	}
	return jobs, nil
}

// Retry puts a dead job back in the queue with a fresh attempt budget.
func (q *Queue) Retry(jobID int64) error {
	now := q.now()
	res := q.db.Model(&models.Job{}).
		Where("id = ? AND status = ?", jobID, models.JOB_STATUS_DEAD).
		Updates(map[string]any{
			"status":       models.JOB_STATUS_PENDING,
			"attempts":     0,
			"available_at": &now,
			"finished_at":  nil,
		})
	if res.Error != nil {
		return fmt.Errorf("retry job %d: %w", jobID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %d is not dead", ErrJobNotFound, jobID)
	}
	return nil
}

// Get reads one job.
func (q *Queue) Get(jobID int64) (*models.Job, error) {
	var job models.Job
	if err := q.db.First(&job, jobID).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil, fmt.Errorf("%w: %d", ErrJobNotFound, jobID)
		}
		return nil, err
	}
	return &job, nil
}

func (q *Queue) transition(job *models.Job, from string, fields map[string]any) error {
	res := q.db.Model(&models.Job{}).
		Where("id = ? AND status = ?", job.ID, from).
		Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("job %d: %w", job.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %d is no longer %s", ErrJobNotFound, job.ID, from)
	}
	if s, ok := fields["status"].(string); ok {
		job.Status = s
	}
	return nil
}

// maxErrorLen caps last_error in bytes.
const maxErrorLen = 2000

func errorText(err error) string {
	if err == nil {
		return ""
	}
	s := strings.TrimSpace(err.Error())
	if len(s) <= maxErrorLen {
		return s
	}
	cut := maxErrorLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

type attemptKey struct{}

// Attempt describes the execution a prompt runs in.
type Attempt struct {
	Number int
	Max    int
}

// Final reports whether a failure now would dead-letter the job.
func (a Attempt) Final() bool {
	return a.Max > 0 && a.Number >= a.Max
}

// WithAttempt attaches the attempt of job to ctx.
func WithAttempt(ctx context.Context, job *models.Job) context.Context {
	return context.WithValue(ctx, attemptKey{}, Attempt{Number: job.Attempts, Max: job.MaxAttempts})
}

// AttemptFrom returns the attempt attached by WithAttempt. Outside the worker
// it reports a single, final attempt.
func AttemptFrom(ctx context.Context) Attempt {
	if a, ok := ctx.Value(attemptKey{}).(Attempt); ok {
		return a
	}
	return Attempt{Number: 1, Max: 1}
}
