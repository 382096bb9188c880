package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Reservation ReservationConfig
	Sweeper     SweeperConfig
	Auth        AuthConfig
	LogLevel    string `env:"LOG_LEVEL" envDefault:"INFO"`
}

type ServerConfig struct {
	Port         string        `env:"PORT" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout  time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"60s"`
}

type DatabaseConfig struct {
	DSN          string        `env:"DATABASE_URL"`
	Host         string        `env:"DB_HOST" envDefault:"localhost"`
	Port         string        `env:"DB_PORT" envDefault:"5432"`
	Username     string        `env:"DB_USERNAME" envDefault:"inventory_user"`
	Password     string        `env:"DB_PASSWORD"`
	Database     string        `env:"DB_NAME" envDefault:"event_inventory"`
	SSLMode      string        `env:"DB_SSLMODE" envDefault:"disable"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"25"`
	MaxLifetime  time.Duration `env:"DB_MAX_LIFETIME" envDefault:"5m"`
	MaxRetries   uint64        `env:"DB_MAX_RETRIES" envDefault:"5"`
}

// URL returns DSN when set, otherwise a postgres URL built from the parts.
func (c DatabaseConfig) URL() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", c.Username, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

type RedisConfig struct {
	Enabled bool          `env:"REDIS_ENABLED" envDefault:"false"`
	Addr    string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	LockTTL time.Duration `env:"REDIS_LOCK_TTL" envDefault:"5s"`
	// LockWait bounds how long a writer waits for another to release an event.
	LockWait time.Duration `env:"REDIS_LOCK_WAIT" envDefault:"2s"`
}

type KafkaConfig struct {
	Enabled      bool     `env:"KAFKA_ENABLED" envDefault:"true"`
	Brokers      []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	GroupID      string   `env:"KAFKA_GROUP_ID" envDefault:"event-inventory-group"`
	PaymentTopic string   `env:"KAFKA_TOPIC_PAYMENT_OUTCOME" envDefault:"evently.payments.outcome"`
}

type ReservationConfig struct {
	DefaultTTL time.Duration `env:"RESERVATION_DEFAULT_TTL" envDefault:"10m"`
	BatchSize  int           `env:"RESERVATION_SWEEP_BATCH" envDefault:"100"`
}

type SweeperConfig struct {
	// Enabled runs the sweeps inside the API process; disable it when the
	// standalone sweeper is deployed instead.
	Enabled  bool          `env:"SWEEPER_ENABLED" envDefault:"true"`
	Interval time.Duration `env:"SWEEPER_INTERVAL" envDefault:"15s"`
}

type AuthConfig struct {
	Issuer string `env:"OIDC_ISSUER"`
	// ManagerRole, when set, is the realm role required to manage events.
	ManagerRole string `env:"OIDC_MANAGER_ROLE"`
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Reservation.DefaultTTL <= 0 {
		return fmt.Errorf("RESERVATION_DEFAULT_TTL must be positive, got %s", c.Reservation.DefaultTTL)
	}
	if c.Reservation.BatchSize <= 0 {
		return fmt.Errorf("RESERVATION_SWEEP_BATCH must be positive, got %d", c.Reservation.BatchSize)
	}
	if c.Sweeper.Interval <= 0 {
		return fmt.Errorf("SWEEPER_INTERVAL must be positive, got %s", c.Sweeper.Interval)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("KAFKA_BROKERS is required when Kafka is enabled")
	}
	return nil
}
