package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	AppEnv    string `mapstructure:"APP_ENV"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
	Host      string `mapstructure:"HOST"`
	Port      int    `mapstructure:"PORT"`

	TelegramBotToken string        `mapstructure:"TELEGRAM_BOT_TOKEN"`
	PrivateGroupID   int64         `mapstructure:"PRIVATE_GROUP_ID"`
	AdminIDs         string        `mapstructure:"ADMIN_IDS"`
	DeliveryTimeout  time.Duration `mapstructure:"DELIVERY_TIMEOUT"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`
	RedisPrefix string `mapstructure:"REDIS_PREFIX"`

	PaymentProvider   string        `mapstructure:"PAYMENT_PROVIDER"`
	IdempotencyPolicy string        `mapstructure:"IDEMPOTENCY_POLICY"`
	IdempotencyTTL    time.Duration `mapstructure:"IDEMPOTENCY_TTL"`

	RabbitMQURL      string `mapstructure:"RABBITMQ_URL"`
	RabbitMQExchange string `mapstructure:"RABBITMQ_EXCHANGE"`

	Workers          int           `mapstructure:"WORKERS"`
	TaskPollInterval time.Duration `mapstructure:"TASK_POLL_INTERVAL"`
	TaskMaxAttempts  int           `mapstructure:"TASK_MAX_ATTEMPTS"`
	TaskRetryBase    time.Duration `mapstructure:"TASK_RETRY_BASE"`
	TaskVisibility   time.Duration `mapstructure:"TASK_VISIBILITY"`
	ExpirySchedule   string        `mapstructure:"EXPIRY_SCHEDULE"`

	StartScenario    string        `mapstructure:"START_SCENARIO"`
	ScenarioSeedDir  string        `mapstructure:"SCENARIO_SEED_DIR"`
	ScenarioCacheTTL time.Duration `mapstructure:"SCENARIO_CACHE_TTL"`

	MetricsNamespace string `mapstructure:"METRICS_NAMESPACE"`
}

var defaults = map[string]any{
	"APP_ENV":            "development",
	"LOG_LEVEL":          "info",
	"LOG_FORMAT":         "text",
	"HOST":               "0.0.0.0",
	"PORT":               8000,
	"DELIVERY_TIMEOUT":   "10s",
	"REDIS_URL":          "redis://localhost:6379/0",
	"REDIS_PREFIX":       "club_bot",
	"PAYMENT_PROVIDER":   "yookassa",
	"IDEMPOTENCY_POLICY": "status_aware",
	"IDEMPOTENCY_TTL":    "24h",
	"RABBITMQ_EXCHANGE":  "club.events",
	"WORKERS":            3,
	"TASK_POLL_INTERVAL": "1s",
	"TASK_MAX_ATTEMPTS":  4,
	"TASK_RETRY_BASE":    "60s",
	"TASK_VISIBILITY":    "5m",
	"EXPIRY_SCHEDULE":    "@every 10m",
	"SCENARIO_CACHE_TTL": "5m",
	"METRICS_NAMESPACE":  "club_bot",
}

// Load reads envFile (if present) into the process environment and builds the
// configuration from environment variables on top of defaults.
func Load(envFile string) (*Config, error) {
	if strings.TrimSpace(envFile) != "" {
		// a missing file is fine, real deployments pass env directly
		_ = godotenv.Load(envFile)
	}

	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for _, key := range []string{"TELEGRAM_BOT_TOKEN", "PRIVATE_GROUP_ID", "ADMIN_IDS", "DATABASE_URL", "RABBITMQ_URL", "START_SCENARIO", "SCENARIO_SEED_DIR"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.TelegramBotToken) == "" {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN is required"))
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	switch c.IdempotencyPolicy {
	case "status_aware", "external_id":
	default:
		errs = append(errs, fmt.Errorf("IDEMPOTENCY_POLICY %q is not one of status_aware, external_id", c.IdempotencyPolicy))
	}
	if c.Workers <= 0 {
		errs = append(errs, errors.New("WORKERS must be positive"))
	}
	if c.TaskMaxAttempts <= 0 {
		errs = append(errs, errors.New("TASK_MAX_ATTEMPTS must be positive"))
	}
	if _, err := c.AdminIDList(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) AdminIDList() ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(c.AdminIDs, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ADMIN_IDS: invalid id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *Config) IsAdmin(telegramID int64) bool {
	ids, _ := c.AdminIDList()
	for _, id := range ids {
		if id == telegramID {
			return true
		}
	}
	return false
}
