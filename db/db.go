package db

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"botgate/config"
	"botgate/models"

	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/postgres"
	_ "github.com/jinzhu/gorm/dialects/sqlite"
)

// Connect opens the database selected by conf.Database (sqlite3 by default).
// For sqlite3, DbName is the database file path.
func Connect(conf config.Configuration, logger *slog.Logger) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)

	switch conf.Database {
	case "postgres":
		logger.Info("connecting to postgres", "host", conf.DbHost, "db", conf.DbName)
		path := "host=" + conf.DbHost + " port=" + conf.DbPort
		path += " user=" + conf.DbUser + " dbname=" + conf.DbName
		path += " password=" + conf.DbPass + " sslmode=disable"
		db, err = gorm.Open("postgres", path)
	case "", "sqlite3":
		file := conf.DbName
		if file == "" {
			file = "db/database.db"
		}
		if dir := filepath.Dir(file); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		logger.Info("connecting to sqlite3", "file", file)
		db, err = gorm.Open("sqlite3", file+"?_busy_timeout=5000")
		if err == nil {
			// sqlite allows a single writer; serialize through one connection.
			db.DB().SetMaxOpenConns(1)
		}
	default:
		return nil, fmt.Errorf("unsupported database %q", conf.Database)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", conf.Database, err)
	}

	db.LogMode(conf.Logging.Level == "debug")

	if conf.Automigrate {
		if err := Migrate(db); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

// Migrate creates or updates every table and index, including the unique
// indexes the idempotent inserts depend on.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Agent{},
		&models.Command{},
		&models.Sender{},
		&models.AgentSender{},
		&models.Chat{},
		&models.ChatMessage{},
		&models.Event{},
		&models.Job{},
		&models.Delivery{},
		&models.UsageCharge{},
	).Error
	if err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	return nil
}
