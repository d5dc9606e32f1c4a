package queue

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"botgate/db/dbtest"
	"botgate/models"
)

func newQueue(t *testing.T, maxAttempts int) (*Queue, *time.Time) {
	t.Helper()
	q := New(dbtest.Open(t), Options{
		MaxAttempts: maxAttempts,
		BackoffBase: time.Second,
		BackoffMax:  8 * time.Second,
	})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }
	return q, &now
}

func event(id, chatID int64) *models.Event {
	return &models.Event{ID: id, AgentID: 1, ChatID: chatID}
}

func claimIDs(t *testing.T, q *Queue, limit int) []int64 {
	t.Helper()
	jobs, err := q.Claim(limit)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	ids := make([]int64, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.EventID)
	}
	return ids
}

func TestEnqueue_Idempotent(t *testing.T) {
	q, _ := newQueue(t, 3)

	first, created, err := q.Enqueue(event(1, 10))
	if err != nil || !created {
		t.Fatalf("first enqueue created=%v err=%v", created, err)
	}
	again, created, err := q.Enqueue(event(1, 10))
	if err != nil || created {
		t.Fatalf("second enqueue created=%v err=%v", created, err)
	}
	if again.ID != first.ID {
		t.Fatalf("job id changed: %d vs %d", again.ID, first.ID)
	}
	if first.MaxAttempts != 3 || first.Status != models.JOB_STATUS_PENDING {
		t.Fatalf("job = %+v", first)
	}

	if _, _, err := q.Enqueue(&models.Event{}); err == nil {
		t.Fatal("unsaved event must not be enqueued")
	}
}

func TestClaim_PerChatOrder(t *testing.T) {
	q, _ := newQueue(t, 3)
	// chat 10 gets events 1 and 3, chat 20 gets event 2
	for _, ev := range []*models.Event{event(1, 10), event(2, 20), event(3, 10)} {
		if _, _, err := q.Enqueue(ev); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	got := claimIDs(t, q, 10)
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("claimed %v, want [1 2]", got)
	}
	// event 3 waits for event 1 even with free slots
	if got := claimIDs(t, q, 10); len(got) != 0 {
		t.Fatalf("claimed %v while the chat head is processing", got)
	}

	head, _ := q.Get(1)
	if err := q.Complete(head); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got := claimIDs(t, q, 10); len(got) != 1 || got[0] != 3 {
		t.Fatalf("claimed %v, want [3]", got)
	}
}

func TestClaim_Exclusive(t *testing.T) {
	q, _ := newQueue(t, 3)
	q.Enqueue(event(1, 10))

	if got := claimIDs(t, q, 1); len(got) != 1 {
		t.Fatalf("claimed %v", got)
	}
	if got := claimIDs(t, q, 1); len(got) != 0 {
		t.Fatalf("job claimed twice: %v", got)
	}
	job, _ := q.Get(1)
	if job.Attempts != 1 || job.LockedAt == nil {
		t.Fatalf("job = %+v", job)
	}
}

func TestFail_BackoffThenDead(t *testing.T) {
	q, now := newQueue(t, 2)
	q.Enqueue(event(1, 10))
	q.Enqueue(event(2, 10))

	jobs, _ := q.Claim(1)
	dead, err := q.Fail(&jobs[0], errors.New("upstream 503"))
	if err != nil || dead {
		t.Fatalf("first fail dead=%v err=%v", dead, err)
	}
	job, _ := q.Get(jobs[0].ID)
	if job.Status != models.JOB_STATUS_PENDING || job.LastError != "upstream 503" {
		t.Fatalf("job = %+v", job)
	}
	if !job.AvailableAt.After(*now) {
		t.Fatalf("available_at %v not in the future", job.AvailableAt)
	}

	// not due yet, and the chat's next job must not jump ahead
	if got := claimIDs(t, q, 10); len(got) != 0 {
		t.Fatalf("claimed %v during backoff", got)
	}

	*now = now.Add(time.Minute)
	jobs, _ = q.Claim(1)
	if len(jobs) != 1 || jobs[0].EventID != 1 || jobs[0].Attempts != 2 {
		t.Fatalf("claimed %+v", jobs)
	}
	dead, err = q.Fail(&jobs[0], errors.New("upstream 503"))
	if err != nil || !dead {
		t.Fatalf("last fail dead=%v err=%v", dead, err)
	}

	deadJobs, err := q.Dead(10)
	if err != nil || len(deadJobs) != 1 || deadJobs[0].EventID != 1 {
		t.Fatalf("dead = %+v, %v", deadJobs, err)
	}
	// a dead job no longer blocks its chat
	if got := claimIDs(t, q, 10); len(got) != 1 || got[0] != 2 {
		t.Fatalf("claimed %v, want [2]", got)
	}
}

func TestRetry(t *testing.T) {
	q, _ := newQueue(t, 1)
	q.Enqueue(event(1, 10))
	jobs, _ := q.Claim(1)
	if err := q.DeadLetter(&jobs[0], errors.New("misconfigured")); err != nil {
		t.Fatalf("dead letter: %v", err)
	}

	if err := q.Retry(jobs[0].ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	job, _ := q.Get(jobs[0].ID)
	if job.Status != models.JOB_STATUS_PENDING || job.Attempts != 0 {
		t.Fatalf("job = %+v", job)
	}
	if err := q.Retry(jobs[0].ID); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("retrying a pending job: err = %v", err)
	}
	if _, err := q.Get(999); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("get unknown: err = %v", err)
	}
}

func TestReap(t *testing.T) {
	q, now := newQueue(t, 2)
	q.Enqueue(event(1, 10))
	q.Enqueue(event(2, 20))

	jobs, _ := q.Claim(2)
	if len(jobs) != 2 {
		t.Fatalf("claimed %d", len(jobs))
	}
	// job 2 is on its last attempt
	q.db.Model(&models.Job{}).Where("id = ?", jobs[1].ID).Update("attempts", 2)

	requeued, dead, err := q.Reap(time.Minute)
	if err != nil || requeued != 0 || dead != 0 {
		t.Fatalf("fresh leases reaped: %d/%d %v", requeued, dead, err)
	}

	*now = now.Add(2 * time.Minute)
	requeued, dead, err = q.Reap(time.Minute)
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if requeued != 1 || dead != 1 {
		t.Fatalf("requeued=%d dead=%d, want 1/1", requeued, dead)
	}

	// a worker finishing after its lease expired loses the job
	if err := q.Complete(&jobs[0]); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("late complete: err = %v", err)
	}
}

func TestBackoff(t *testing.T) {
	q, _ := newQueue(t, 5)
	for attempt, base := range map[int]time.Duration{1: time.Second, 2: 2 * time.Second, 3: 4 * time.Second, 10: 8 * time.Second} {
		got := q.Backoff(attempt)
		if got < base || got > base+base/2 {
			t.Fatalf("Backoff(%d) = %v, want within [%v, %v]", attempt, got, base, base+base/2)
		}
	}
}

func TestErrorText(t *testing.T) {
	long := "a" + strings.Repeat("é", 1500)
	got := errorText(errors.New(long))
	if len(got) > maxErrorLen {
		t.Fatalf("len = %d, want at most %d", len(got), maxErrorLen)
	}
	if !utf8.ValidString(got) {
		t.Fatal("truncation split a rune")
	}
	if !strings.HasPrefix(long, got) || len(got) < maxErrorLen-utf8.UTFMax {
		t.Fatalf("truncated to %d bytes", len(got))
	}
	if got := errorText(errors.New("  short  ")); got != "short" {
		t.Fatalf("errorText = %q", got)
	}
	if got := errorText(nil); got != "" {
		t.Fatalf("errorText(nil) = %q", got)
	}
}

func TestAttempt(t *testing.T) {
	if a := AttemptFrom(context.Background()); !a.Final() {
		t.Fatalf("outside a job every attempt is final: %+v", a)
	}
	ctx := WithAttempt(context.Background(), &models.Job{Attempts: 1, MaxAttempts: 3})
	if AttemptFrom(ctx).Final() {
		t.Fatal("attempt 1/3 reported final")
	}
	ctx = WithAttempt(context.Background(), &models.Job{Attempts: 3, MaxAttempts: 3})
	if !AttemptFrom(ctx).Final() {
		t.Fatal("attempt 3/3 not final")
	}
}
