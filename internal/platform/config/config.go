// Package config loads registry settings from an optional .env file, an
// optional TOML file and the environment, in that order of precedence
// (environment wins).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"propledger/internal/platform/logger"
	"propledger/internal/registry/models"
	id "propledger/pkg/domain"
)

// DefaultJWTSigningKey is only suitable for local development.
const DefaultJWTSigningKey = "dev-secret-key-change-in-production"

// Config is the full process configuration.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Auth        AuthConfig        `toml:"auth"`
	Database    DatabaseConfig    `toml:"database"`
	Redis       RedisConfig       `toml:"redis"`
	Kafka       KafkaConfig       `toml:"kafka"`
	Outbox      OutboxConfig      `toml:"outbox"`
	Idempotency IdempotencyConfig `toml:"idempotency"`
	Registry    RegistryConfig    `toml:"registry"`
	LogLevel    string            `toml:"log_level"`
}

// ServerConfig captures HTTP server level configuration.
type ServerConfig struct {
	Addr            string        `toml:"addr"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
	MetricsToken    string        `toml:"metrics_token"`
}

type AuthConfig struct {
	JWTSigningKey string        `toml:"jwt_signing_key"`
	Issuer        string        `toml:"issuer"`
	Audience      string        `toml:"audience"`
	TokenTTL      time.Duration `toml:"token_ttl"`
}

// DatabaseConfig selects the Postgres ledger. An empty URL runs the
// in-memory ledger.
type DatabaseConfig struct {
	URL             string        `toml:"url"`
	MaxOpenConns    int           `toml:"max_open_conns"`
	MaxIdleConns    int           `toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"`
	TxTimeout       time.Duration `toml:"tx_timeout"`
}

// RedisConfig backs purchase idempotency keys. An empty URL keeps them in
// process memory.
type RedisConfig struct {
	URL          string        `toml:"url"`
	PoolSize     int           `toml:"pool_size"`
	MinIdleConns int           `toml:"min_idle_conns"`
	DialTimeout  time.Duration `toml:"dial_timeout"`
	ReadTimeout  time.Duration `toml:"read_timeout"`
	WriteTimeout time.Duration `toml:"write_timeout"`
}

// KafkaConfig selects the Kafka event publisher. Without brokers events are
// logged.
type KafkaConfig struct {
	Brokers           []string `toml:"brokers"`
	Topic             string   `toml:"topic"`
	Partitions        int32    `toml:"partitions"`
	ReplicationFactor int16    `toml:"replication_factor"`
}

type OutboxConfig struct {
	Interval  time.Duration `toml:"interval"`
	BatchSize int           `toml:"batch_size"`
}

type IdempotencyConfig struct {
	TTL     time.Duration `toml:"ttl"`
	LockTTL time.Duration `toml:"lock_ttl"`
}

// RegistryConfig holds the genesis state a fresh ledger is created with.
type RegistryConfig struct {
	Admin                   string `toml:"admin"`
	Owner                   string `toml:"owner"`
	DAOSharePercentage      int    `toml:"dao_share_percentage"`
	AuthorSharePercentage   int    `toml:"author_share_percentage"`
	OwnerSharePercentage    int    `toml:"owner_share_percentage"`
	MinimumReportPriceEther string `toml:"minimum_report_price_eth"`
	VerificationRequired    bool   `toml:"verification_required"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080", ShutdownTimeout: 15 * time.Second},
		Auth: AuthConfig{
			JWTSigningKey: DefaultJWTSigningKey,
			Issuer:        "propledger",
			Audience:      "propledger-api",
			TokenTTL:      time.Hour,
		},
		Database: DatabaseConfig{MaxOpenConns: 20, MaxIdleConns: 5, ConnMaxLifetime: 30 * time.Minute, TxTimeout: 5 * time.Second},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka:       KafkaConfig{Topic: "registry-events", Partitions: 3, ReplicationFactor: 1},
		Outbox:      OutboxConfig{Interval: time.Second, BatchSize: 100},
		Idempotency: IdempotencyConfig{TTL: 24 * time.Hour, LockTTL: 30 * time.Second},
		Registry: RegistryConfig{
			DAOSharePercentage:    10,
			AuthorSharePercentage: 70,
			OwnerSharePercentage:  20,
		},
		LogLevel: "info",
	}
}

// Load reads the configuration with Read and validates it.
func Load() (*Config, error) {
	cfg, err := Read()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read loads .env (if present), then the TOML file named by REGISTRY_CONFIG
// (if set), then environment overrides. Tools that only need part of the
// configuration use it directly and skip validation.
func Read() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path := os.Getenv("REGISTRY_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Server.Addr, "REGISTRY_ADDR")
	setString(&c.Server.MetricsToken, "METRICS_TOKEN")
	setString(&c.Auth.JWTSigningKey, "JWT_SIGNING_KEY")
	setString(&c.Auth.Issuer, "JWT_ISSUER")
	setString(&c.Auth.Audience, "JWT_AUDIENCE")
	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.Redis.URL, "REDIS_URL")
	setString(&c.Kafka.Topic, "KAFKA_TOPIC")
	setString(&c.Registry.Admin, "REGISTRY_ADMIN")
	setString(&c.Registry.Owner, "REGISTRY_OWNER")
	setString(&c.Registry.MinimumReportPriceEther, "REGISTRY_MIN_REPORT_PRICE_ETH")
	setString(&c.LogLevel, "LOG_LEVEL")

	if v, ok := os.LookupEnv("KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = splitList(v)
	}
	if v, ok := os.LookupEnv("REGISTRY_VERIFICATION_REQUIRED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("REGISTRY_VERIFICATION_REQUIRED: %w", err)
		}
		c.Registry.VerificationRequired = b
	}
	for name, dst := range map[string]*time.Duration{
		"OUTBOX_INTERVAL":     &c.Outbox.Interval,
		"SHUTDOWN_TIMEOUT":    &c.Server.ShutdownTimeout,
		"JWT_TOKEN_TTL":       &c.Auth.TokenTTL,
		"IDEMPOTENCY_TTL":     &c.Idempotency.TTL,
		"DATABASE_TX_TIMEOUT": &c.Database.TxTimeout,
	} {
		v, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = d
	}
	return nil
}

// Validate checks settings that would otherwise fail at first use.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server addr is required"))
	}
	if c.Auth.JWTSigningKey == "" {
		errs = append(errs, errors.New("jwt signing key is required"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka topic is required when brokers are set"))
	}
	if _, err := c.Genesis(); err != nil {
		errs = append(errs, err)
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Genesis builds the initial registry state from the registry section.
func (c *Config) Genesis() (models.Genesis, error) {
	r := c.Registry
	admin, err := id.ParsePrincipalID(r.Admin)
	if err != nil {
		return models.Genesis{}, fmt.Errorf("registry admin: %w", err)
	}
	owner, err := id.ParsePrincipalID(r.Owner)
	if err != nil {
		return models.Genesis{}, fmt.Errorf("registry owner: %w", err)
	}
	dist, err := models.NewDistribution(r.DAOSharePercentage, r.AuthorSharePercentage, r.OwnerSharePercentage)
	if err != nil {
		return models.Genesis{}, fmt.Errorf("registry distribution: %w", err)
	}
	params := models.Parameters{Distribution: dist, VerificationRequired: r.VerificationRequired}
	if r.MinimumReportPriceEther != "" {
		params.MinimumReportPrice, err = id.ParseEther(r.MinimumReportPriceEther)
		if err != nil {
			return models.Genesis{}, fmt.Errorf("registry minimum report price: %w", err)
		}
	}
	return models.NewGenesis(admin, owner, params)
}

func setString(dst *string, name string) {
	if v, ok := os.LookupEnv(name); ok {
		*dst = strings.TrimSpace(v)
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
