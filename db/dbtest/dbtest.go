// Package dbtest opens throwaway sqlite databases for package tests.
package dbtest

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"botgate/config"
	"botgate/db"
	"botgate/models"

	"github.com/jinzhu/gorm"
)

// Open returns a migrated sqlite database living in t.TempDir().
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	conf := config.Configuration{
		Database:    "sqlite3",
		DbName:      filepath.Join(t.TempDir(), "test.db"),
		Automigrate: true,
	}
	database, err := db.Connect(conf, Logger())
	if err != nil {
		t.Fatalf("dbtest: connect: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

// Logger discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// SeedAgent stores an agent with sensible test defaults. Fields set on a are kept.
func SeedAgent(t testing.TB, database *gorm.DB, a models.Agent) models.Agent {
	t.Helper()
	if a.Name == "" {
		a.Name = "test-agent"
	}
	if a.WebhookToken == "" {
		a.WebhookToken = "hook-" + a.Name
	}
	if a.TelegramToken == "" {
		a.TelegramToken = "123456:TEST"
	}
	if a.Provider == "" {
		a.Provider = models.PROVIDER_OPENAI
	}
	if err := database.Create(&a).Error; err != nil {
		t.Fatalf("dbtest: seed agent: %v", err)
	}
	return a
}

// SeedCommand stores a command for agentID.
func SeedCommand(t testing.TB, database *gorm.DB, c models.Command) models.Command {
	t.Helper()
	if err := database.Create(&c).Error; err != nil {
		t.Fatalf("dbtest: seed command: %v", err)
	}
	// gorm v1 skips zero values that have a default, so write Active explicitly.
	if err := database.Model(&c).Update("active", c.Active).Error; err != nil {
		t.Fatalf("dbtest: seed command active: %v", err)
	}
	return c
}
