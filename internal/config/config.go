package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix  = "SOIL_"
	envFileVar = "SOIL_CONFIG"
)

type Config struct {
	AppEnv      string     `koanf:"app_env"`
	LogLevelStr string     `koanf:"log_level"`
	LogLevel    slog.Level `koanf:"-"`
	HTTPAddr    string     `koanf:"http_addr"`

	SQLiteDriver          string        `koanf:"db_driver"`
	SQLiteDSN             string        `koanf:"db_dsn"`
	SQLitePath            string        `koanf:"sqlite_path"`
	SQLiteMaxOpenConns    int           `koanf:"db_max_open_conns"`
	SQLiteMaxIdleConns    int           `koanf:"db_max_idle_conns"`
	SQLiteConnMaxLifetime time.Duration `koanf:"db_conn_max_lifetime"`
	// LogSQL routes every statement through the logging connector at debug level.
	LogSQL bool `koanf:"log_sql"`

	// MQTTBroker empty disables the MQTT subscriber.
	MQTTBroker   string `koanf:"mqtt_broker"`
	MQTTPort     int    `koanf:"mqtt_port"`
	MQTTClientID string `koanf:"mqtt_client_id"`
	MQTTTopic    string `koanf:"mqtt_topic"`

	DefaultSensorID string `koanf:"default_sensor_id"`
}

// Defaults returns the configuration used when neither a file nor the
// environment override a key.
func Defaults() Config {
	return Config{
		AppEnv:                "dev",
		LogLevelStr:           "info",
		LogLevel:              slog.LevelInfo,
		HTTPAddr:              ":8080",
		SQLiteDriver:          "sqlite3",
		SQLitePath:            "data/soil.db",
		SQLiteMaxOpenConns:    1,
		SQLiteMaxIdleConns:    1,
		SQLiteConnMaxLifetime: 0,
		MQTTPort:              1883,
		MQTTTopic:             "soil/+/telemetry",
		DefaultSensorID:       "default",
	}
}

// Load builds a Config by layering defaults, an optional YAML file named by
// SOIL_CONFIG, and SOIL_-prefixed environment variables (SOIL_HTTP_ADDR -> http_addr).
func Load() (Config, error) {
	k := koanf.New(".")

	if path := strings.TrimSpace(os.Getenv(envFileVar)); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load %s %q: %w", envFileVar, path, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, strings.ToLower(envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	cfg := Defaults()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	return normalize(cfg)
}

func normalize(cfg Config) (Config, error) {
	cfg.AppEnv = strings.TrimSpace(cfg.AppEnv)
	if cfg.AppEnv == "" {
		cfg.AppEnv = "dev"
	}
	switch cfg.AppEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid app_env %q (allowed: dev, prod)", cfg.AppEnv)
	}

	if strings.TrimSpace(cfg.LogLevelStr) == "" {
		cfg.LogLevelStr = "info"
	}
	level, err := parseLogLevel(cfg.LogLevelStr)
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level

	cfg.HTTPAddr = strings.TrimSpace(cfg.HTTPAddr)
	if cfg.HTTPAddr == "" {
		return Config{}, errors.New("http_addr must not be empty")
	}

	cfg.SQLiteDriver = strings.TrimSpace(cfg.SQLiteDriver)
	if cfg.SQLiteDriver == "" {
		cfg.SQLiteDriver = "sqlite3"
	}
	cfg.SQLiteDSN = strings.TrimSpace(cfg.SQLiteDSN)
	cfg.SQLitePath = strings.TrimSpace(cfg.SQLitePath)
	if cfg.SQLiteDSN == "" && cfg.SQLitePath == "" {
		return Config{}, errors.New("one of db_dsn or sqlite_path is required")
	}
	if cfg.SQLiteMaxOpenConns < 0 {
		return Config{}, fmt.Errorf("invalid db_max_open_conns %d: must be >= 0", cfg.SQLiteMaxOpenConns)
	}
	if cfg.SQLiteConnMaxLifetime < 0 {
		return Config{}, fmt.Errorf("invalid db_conn_max_lifetime %s: must be >= 0", cfg.SQLiteConnMaxLifetime)
	}

	cfg.MQTTBroker = strings.TrimSpace(cfg.MQTTBroker)
	if cfg.MQTTPort <= 0 || cfg.MQTTPort > 65535 {
		return Config{}, fmt.Errorf("invalid mqtt_port %d", cfg.MQTTPort)
	}
	cfg.MQTTClientID = strings.TrimSpace(cfg.MQTTClientID)
	if cfg.MQTTClientID == "" {
		cfg.MQTTClientID = "soil-temp-" + uuid.NewString()
	}
	cfg.MQTTTopic = strings.TrimSpace(cfg.MQTTTopic)
	if cfg.MQTTTopic == "" {
		cfg.MQTTTopic = "soil/+/telemetry"
	}

	cfg.DefaultSensorID = strings.TrimSpace(cfg.DefaultSensorID)
	if cfg.DefaultSensorID == "" {
		cfg.DefaultSensorID = "default"
	}

	return cfg, nil
}

// MQTTEnabled reports whether a broker was configured.
func (c Config) MQTTEnabled() bool {
	return c.MQTTBroker != ""
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log_level %q (allowed: debug, info, warn, error)", s)
	}
}
