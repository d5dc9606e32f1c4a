package db

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"botgate/config"
	"botgate/models"
)

func TestConnect_SQLiteAutomigrate(t *testing.T) {
	conf := config.Configuration{
		Database:    "sqlite3",
		DbName:      filepath.Join(t.TempDir(), "nested", "test.db"),
		Automigrate: true,
	}
	database, err := Connect(conf, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer database.Close()

	for _, m := range []any{&models.Agent{}, &models.Event{}, &models.Job{}, &models.Delivery{}} {
		if !database.HasTable(m) {
			t.Errorf("table for %T missing", m)
		}
	}

	ev := models.Event{AgentID: 1, UpdateID: 10, SenderID: 1, ChatID: 1, Kind: models.EVENT_KIND_MESSAGE}
	if err := database.Create(&ev).Error; err != nil {
		t.Fatalf("create event: %v", err)
	}
	dup := models.Event{AgentID: 1, UpdateID: 10, SenderID: 1, ChatID: 1, Kind: models.EVENT_KIND_MESSAGE}
	if err := database.Create(&dup).Error; err == nil {
		t.Fatal("expected unique violation on (agent_id, update_id)")
	}
}

func TestConnect_UnsupportedDatabase(t *testing.T) {
	_, err := Connect(config.Configuration{Database: "oracle"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil {
		t.Fatal("expected error")
	}
}
