package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/titanous/json5"
)

const envPrefix = "BOTGATE"

type Configuration struct {
	ApiPort     string `mapstructure:"api_port"`
	Automigrate bool   `mapstructure:"automigrate"`

	Database string `mapstructure:"database"` // "sqlite3" or "postgres"
	DbHost   string `mapstructure:"db_host"`
	DbPort   string `mapstructure:"db_port"`
	DbUser   string `mapstructure:"db_user"`
	DbName   string `mapstructure:"db_name"` // file path for sqlite3
	DbPass   string `mapstructure:"db_pass"`

	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
		Path   string `mapstructure:"path"`
	} `mapstructure:"logging"`

	Webhook struct {
		HandleTimeout time.Duration `mapstructure:"handle_timeout"`
		MaxBodyBytes  int64         `mapstructure:"max_body_bytes"`
	} `mapstructure:"webhook"`

	Worker WorkerConfig `mapstructure:"worker"`

	History struct {
		Limit int `mapstructure:"limit"`
	} `mapstructure:"history"`

	Admin struct {
		Token          string   `mapstructure:"token"` // empty disables the operator API
		AllowedOrigins []string `mapstructure:"allowed_origins"`
	} `mapstructure:"admin"`

	Telegram struct {
		ApiURL string `mapstructure:"api_url"`
	} `mapstructure:"telegram"`

	Providers map[string]ProviderConfig `mapstructure:"providers"`
}

// WorkerConfig sizes the asynchronous prompt pool. RatePerSecond and
// Concurrency follow the AI backend limits, not the inbound traffic.
type WorkerConfig struct {
	Concurrency   int           `mapstructure:"concurrency"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	BatchSize     int           `mapstructure:"batch_size"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	BackoffBase   time.Duration `mapstructure:"backoff_base"`
	BackoffMax    time.Duration `mapstructure:"backoff_max"`
	LeaseTimeout  time.Duration `mapstructure:"lease_timeout"`
	ReapSchedule  string        `mapstructure:"reap_schedule"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
	PromptTimeout time.Duration `mapstructure:"prompt_timeout"`
}

// FailureNoticeTimeout bounds the failure notice a job sends after its prompt
// failed or timed out.
const FailureNoticeTimeout = 10 * time.Second

// MinLease is the shortest lease that outlives a claimed job: the rate limiter
// wait of a full pool, the prompt itself and a failure notice.
func (w WorkerConfig) MinLease() time.Duration {
	d := w.PromptTimeout + FailureNoticeTimeout
	if w.RatePerSecond > 0 {
		d += time.Duration(float64(w.Concurrency) / w.RatePerSecond * float64(time.Second))
	}
	return d
}

// ProviderConfig holds the operator-wide settings of one AI backend.
type ProviderConfig struct {
	ApiKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	Model     string `mapstructure:"model"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// Get reads the configuration file at path (JSON or YAML; may be empty) and
// applies BOTGATE_* environment overrides, e.g. BOTGATE_WORKER_CONCURRENCY.
func Get(path string) (Configuration, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path = strings.TrimSpace(path); path != "" {
		if err := readFile(v, path); err != nil {
			return Configuration{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Configuration
	if err := v.Unmarshal(&c); err != nil {
		return Configuration{}, fmt.Errorf("decode config: %w", err)
	}
	normalize(&c)
	if err := validate(c); err != nil {
		return Configuration{}, err
	}
	return c, nil
}

// SetDefaults registers every default so env overrides also work for keys the
// config file does not mention.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("api_port", "8080")
	v.SetDefault("automigrate", false)
	v.SetDefault("database", "sqlite3")
	v.SetDefault("db_host", "localhost")
	v.SetDefault("db_port", "5432")
	v.SetDefault("db_user", "")
	v.SetDefault("db_name", "db/database.db")
	v.SetDefault("db_pass", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.path", "")

	v.SetDefault("webhook.handle_timeout", 3*time.Second)
	v.SetDefault("webhook.max_body_bytes", int64(1<<20))

	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.poll_interval", time.Second)
	v.SetDefault("worker.batch_size", 50)
	v.SetDefault("worker.max_attempts", 5)
	v.SetDefault("worker.backoff_base", 2*time.Second)
	v.SetDefault("worker.backoff_max", 5*time.Minute)
	v.SetDefault("worker.lease_timeout", 5*time.Minute)
	v.SetDefault("worker.reap_schedule", "@every 30s")
	v.SetDefault("worker.rate_per_second", 5.0)
	v.SetDefault("worker.burst", 5)
	v.SetDefault("worker.prompt_timeout", 90*time.Second)

	v.SetDefault("history.limit", 20)
	v.SetDefault("admin.token", "")
	v.SetDefault("admin.allowed_origins", []string{})
	v.SetDefault("telegram.api_url", "")

	v.SetDefault("providers.openai.api_key", "")
	v.SetDefault("providers.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("providers.openai.model", "gpt-4.1-mini")
	v.SetDefault("providers.openai.max_tokens", 0)
	v.SetDefault("providers.anthropic.api_key", "")
	v.SetDefault("providers.anthropic.base_url", "https://api.anthropic.com/v1")
	v.SetDefault("providers.anthropic.model", "claude-sonnet-4-5")
	v.SetDefault("providers.anthropic.max_tokens", 1024)
}

// normalize fixes values that would make the worker spin or stall.
// validate rejects a lease the reaper could expire under a job that is still
// running, which would let a second worker take the same chat.
func validate(c Configuration) error {
	w := c.Worker
	if w.LeaseTimeout <= 0 {
		return nil
	}
	if w.PromptTimeout <= 0 {
		return fmt.Errorf("worker.prompt_timeout must be set when worker.lease_timeout is")
	}
	if least := w.MinLease(); w.LeaseTimeout <= least {
		return fmt.Errorf("worker.lease_timeout %s must exceed %s (prompt_timeout, rate limiter wait and failure notice)", w.LeaseTimeout, least)
	}
	return nil
}

func normalize(c *Configuration) {
	c.Database = strings.ToLower(strings.TrimSpace(c.Database))
	if c.Database == "postgresql" {
		c.Database = "postgres"
	}
	if c.Webhook.HandleTimeout <= 0 {
		c.Webhook.HandleTimeout = 3 * time.Second
	}
	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = 1
	}
	if c.Worker.BatchSize <= 0 {
		c.Worker.BatchSize = c.Worker.Concurrency
	}
	if c.Worker.MaxAttempts <= 0 {
		c.Worker.MaxAttempts = 1
	}
	if c.Worker.PollInterval <= 0 {
		c.Worker.PollInterval = time.Second
	}
	if c.Worker.Burst <= 0 {
		c.Worker.Burst = 1
	}
	if c.History.Limit < 0 {
		c.History.Limit = 0
	}
	if c.Providers == nil {
		c.Providers = map[string]ProviderConfig{}
	}
}

// readFile loads path into v. Viper has no json5 codec, so those files are
// decoded here and merged as a plain map.
func readFile(v *viper.Viper, path string) error {
	if !strings.EqualFold(filepath.Ext(path), ".json5") {
		v.SetConfigFile(path)
		return v.ReadInConfig()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var m map[string]interface{}
	if err := json5.Unmarshal(data, &m); err != nil {
		return err
	}
	return v.MergeConfigMap(m)
}
