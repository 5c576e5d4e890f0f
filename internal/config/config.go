// README: Config loader: optional YAML file, .env, then BABA_ environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/if929hong-bot/baba-taxi/internal/modules/dispatch"
)

const EnvPrefix = "BABA_"

type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	AllowedOrigins  []string      `koanf:"allowed_origins"`
}

type DBConfig struct {
	DSN        string `koanf:"dsn"`
	MaxConns   int32  `koanf:"max_conns"`
	Migrations string `koanf:"migrations"`
}

// RedisConfig backs the location cache; an empty Addr keeps positions in process memory.
type RedisConfig struct {
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	TTL      time.Duration `koanf:"ttl"`
}

type AuthConfig struct {
	JWTSecret string        `koanf:"jwt_secret"`
	TokenTTL  time.Duration `koanf:"token_ttl"`
}

// RabbitMQConfig enables the event relay when URL is set.
type RabbitMQConfig struct {
	URL       string `koanf:"url"`
	Exchange  string `koanf:"exchange"`
	QueueSize int    `koanf:"queue_size"`
}

// MQTTConfig enables telemetry ingest when Broker is set.
type MQTTConfig struct {
	Broker   string `koanf:"broker"`
	ClientID string `koanf:"client_id"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	QoS      int    `koanf:"qos"`
}

// SeedConfig preloads fleets and drivers into the memory store.
type SeedConfig struct {
	Fleets  []SeedFleet  `koanf:"fleets"`
	Drivers []SeedDriver `koanf:"drivers"`
}

type SeedFleet struct {
	ID   string `koanf:"id"`
	Code string `koanf:"code"`
	Name string `koanf:"name"`
}

type SeedDriver struct {
	ID           string `koanf:"id"`
	FleetID      string `koanf:"fleet_id"`
	Name         string `koanf:"name"`
	Phone        string `koanf:"phone"`
	LicensePlate string `koanf:"license_plate"`
	Online       bool   `koanf:"online"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type Config struct {
	// Store selects the authoritative order/fleet store: "postgres" or "memory".
	Store    string          `koanf:"store"`
	HTTP     HTTPConfig      `koanf:"http"`
	DB       DBConfig        `koanf:"db"`
	Redis    RedisConfig     `koanf:"redis"`
	Auth     AuthConfig      `koanf:"auth"`
	RabbitMQ RabbitMQConfig  `koanf:"rabbitmq"`
	MQTT     MQTTConfig      `koanf:"mqtt"`
	Dispatch dispatch.Config `koanf:"dispatch"`
	Log      LogConfig       `koanf:"log"`
	Seed     SeedConfig      `koanf:"seed"`
}

// Load reads path (skipped when empty), then .env and the process environment.
// BABA_DB__DSN sets db.dsn.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func (c *Config) SetDefaults() {
	if c.Store == "" {
		c.Store = "postgres"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ReadTimeout <= 0 {
		c.HTTP.ReadTimeout = 15 * time.Second
	}
	if c.HTTP.WriteTimeout <= 0 {
		c.HTTP.WriteTimeout = 15 * time.Second
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		c.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if c.DB.MaxConns <= 0 {
		c.DB.MaxConns = 20
	}
	if c.DB.Migrations == "" {
		c.DB.Migrations = "migrations"
	}
	if c.Redis.TTL <= 0 {
		c.Redis.TTL = 24 * time.Hour
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.RabbitMQ.QueueSize <= 0 {
		c.RabbitMQ.QueueSize = 1024
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "baba-api"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	c.Dispatch.SetDefaults()
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Store {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			errs = append(errs, errors.New("db.dsn is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("store must be postgres or memory, got %q", c.Store))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	for i, d := range c.Seed.Drivers {
		if d.ID == "" || d.FleetID == "" {
			errs = append(errs, fmt.Errorf("seed.drivers[%d]: id and fleet_id are required", i))
		}
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}
	return errors.Join(errs...)
}
