package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"botgate/billing"
	"botgate/config"
	"botgate/db/dbtest"
	"botgate/ingest"
	"botgate/models"
	"botgate/providers"
	"botgate/queue"

	"github.com/jinzhu/gorm"
)

type nopMessenger struct {
	mu     sync.Mutex
	typing int
}

func (m *nopMessenger) Parts(text string) []string                 { return []string{text} }
func (m *nopMessenger) SendText(context.Context, int64, string) error { return nil }
func (m *nopMessenger) SendTyping(context.Context, int64) error {
	m.mu.Lock()
	m.typing++
	m.mu.Unlock()
	return nil
}
func (m *nopMessenger) AnswerCallback(context.Context, string, string) error       { return nil }
func (m *nopMessenger) AnswerInline(context.Context, string, string, string) error { return nil }
func (m *nopMessenger) AnswerPreCheckout(context.Context, string, bool, string) error {
	return nil
}

func newPipeline(t *testing.T) (*ingest.Pipeline, *gorm.DB, *nopMessenger) {
	t.Helper()
	database := dbtest.Open(t)
	q := queue.New(database, queue.Options{MaxAttempts: 3})
	m := &nopMessenger{}
	dir := providers.NewDirectory(map[string]config.ProviderConfig{
		"openai": {ApiKey: "sk-test", Model: "gpt-test"},
	}, providers.Deps{
		DB:         database,
		Queue:      q,
		Messengers: func(*models.Agent) (providers.Messenger, error) { return m, nil },
		Biller:     billing.NewLedger(database, dbtest.Logger()),
		Logger:     dbtest.Logger(),
	})
	return ingest.NewPipeline(database, dir, q, time.Second, dbtest.Logger()), database, m
}

func update(id int64, text string) []byte {
	return []byte(fmt.Sprintf(`{"update_id":%d,"message":{"message_id":%d,"date":1,"from":{"id":42,"is_bot":false,"first_name":"Ada"},"chat":{"id":42,"type":"private"},"text":%q}}`, id, id, text))
}

func count(t *testing.T, database *gorm.DB, model any) int {
	t.Helper()
	var n int
	if err := database.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestPipeline_RedeliveryCreatesNothing(t *testing.T) {
	p, database, m := newPipeline(t)
	agent := dbtest.SeedAgent(t, database, models.Agent{})
	start := dbtest.SeedCommand(t, database, models.Command{AgentID: agent.ID, Trigger: "/start", Active: true})

	res, err := p.Ingest(context.Background(), &agent, update(1001, "/start"))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Duplicate {
		t.Fatal("first delivery reported as duplicate")
	}
	if res.Event.CommandID == nil || *res.Event.CommandID != start.ID {
		t.Fatalf("command = %v, want %d", res.Event.CommandID, start.ID)
	}

	res, err = p.Ingest(context.Background(), &agent, update(1001, "/start"))
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if !res.Duplicate {
		t.Fatal("redelivery not reported as duplicate")
	}

	for _, tc := range []struct {
		model any
		name  string
	}{
		{&models.Event{}, "events"},
		{&models.Job{}, "jobs"},
		{&models.Sender{}, "senders"},
		{&models.Chat{}, "chats"},
	} {
		if got := count(t, database, tc.model); got != 1 {
			t.Fatalf("%s = %d, want 1", tc.name, got)
		}
	}
	if m.typing != 1 {
		t.Fatalf("typing indicators = %d, want 1", m.typing)
	}
}

func TestPipeline_ConcurrentRedelivery(t *testing.T) {
	p, database, m := newPipeline(t)
	agent := dbtest.SeedAgent(t, database, models.Agent{})

	const deliveries = 8
	var (
		wg    sync.WaitGroup
		fresh atomic.Int32
	)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.Ingest(context.Background(), &agent, update(1001, "hello"))
			if err != nil {
				t.Errorf("ingest: %v", err)
				return
			}
			if !res.Duplicate {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := fresh.Load(); got != 1 {
		t.Fatalf("non-duplicate results = %d, want 1", got)
	}
	if got := count(t, database, &models.Event{}); got != 1 {
		t.Fatalf("events = %d, want 1", got)
	}
	if got := count(t, database, &models.Job{}); got != 1 {
		t.Fatalf("jobs = %d, want 1", got)
	}
	m.mu.Lock()
	typing := m.typing
	m.mu.Unlock()
	if typing != 1 {
		t.Fatalf("typing indicators = %d, want 1", typing)
	}
}

func TestPipeline_PlainMessageHasNoCommand(t *testing.T) {
	p, database, _ := newPipeline(t)
	agent := dbtest.SeedAgent(t, database, models.Agent{})
	dbtest.SeedCommand(t, database, models.Command{AgentID: agent.ID, Trigger: "/start", Active: true})

	res, err := p.Ingest(context.Background(), &agent, update(1, "hello"))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Event.CommandID != nil || res.Event.Command != nil {
		t.Fatalf("command = %v, want none", res.Event.CommandID)
	}
}

func TestPipeline_MisconfiguredProviderStillEnqueues(t *testing.T) {
	p, database, m := newPipeline(t)
	agent := dbtest.SeedAgent(t, database, models.Agent{Provider: "mystery"})

	res, err := p.Ingest(context.Background(), &agent, update(5, "hello"))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	var job models.Job
	if err := database.Where("event_id = ?", res.Event.ID).First(&job).Error; err != nil {
		t.Fatalf("job not enqueued: %v", err)
	}
	if m.typing != 0 {
		t.Fatal("no provider may act for a misconfigured agent")
	}
}

func TestPipeline_IgnoredBodies(t *testing.T) {
	p, database, _ := newPipeline(t)
	agent := dbtest.SeedAgent(t, database, models.Agent{})

	for _, tc := range []struct {
		body string
		want error
	}{
		{`{"message":{}}`, ingest.ErrMissingUpdateID},
		{`{"update_id":3,"my_chat_member":{}}`, ingest.ErrIgnored},
	} {
		if _, err := p.Ingest(context.Background(), &agent, []byte(tc.body)); !errors.Is(err, tc.want) {
			t.Fatalf("body %s: err = %v, want %v", tc.body, err, tc.want)
		}
	}
	if got := count(t, database, &models.Event{}); got != 0 {
		t.Fatalf("events = %d, want 0", got)
	}
}

func TestPipeline_Agent(t *testing.T) {
	p, database, _ := newPipeline(t)
	agent := dbtest.SeedAgent(t, database, models.Agent{WebhookToken: "secret-token"})

	got, err := p.Agent("secret-token")
	if err != nil || got.ID != agent.ID {
		t.Fatalf("agent = %+v, %v", got, err)
	}
	for _, token := range []string{"", "nope"} {
		if _, err := p.Agent(token); !errors.Is(err, ingest.ErrUnknownAgent) {
			t.Fatalf("token %q: err = %v", token, err)
		}
	}

	if err := database.Delete(&agent).Error; err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := p.Agent("secret-token"); !errors.Is(err, ingest.ErrUnknownAgent) {
		t.Fatalf("deleted agent still reachable: %v", err)
	}
}
