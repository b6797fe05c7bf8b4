// Package config loads service configuration from a YAML file with
// environment overrides.
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env        string     `yaml:"env" env:"LEDGER_ENV" env-default:"local"`
	HTTP       HTTP       `yaml:"http"`
	Storage    Storage    `yaml:"storage"`
	Log        Log        `yaml:"log"`
	Compliance Compliance `yaml:"compliance"`
}

type HTTP struct {
	Address        string        `yaml:"address" env:"LEDGER_HTTP_ADDRESS" env-default:":8080"`
	ReadTimeout    time.Duration `yaml:"read_timeout" env-default:"15s"`
	WriteTimeout   time.Duration `yaml:"write_timeout" env-default:"15s"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" env-default:"60s"`
	AllowedOrigins []string      `yaml:"allowed_origins" env:"LEDGER_ALLOWED_ORIGINS" env-default:"http://localhost:5173,http://localhost:8080"`

	// EnableScenarios mounts /api/scenarios, which can wipe all data.
	EnableScenarios bool `yaml:"enable_scenarios" env:"LEDGER_ENABLE_SCENARIOS" env-default:"false"`
}

// Storage selects the document store backend: memory, sqlite or redis.
type Storage struct {
	Driver     string `yaml:"driver" env:"LEDGER_STORAGE_DRIVER" env-default:"sqlite"`
	SQLitePath string `yaml:"sqlite_path" env:"LEDGER_SQLITE_PATH" env-default:"ledger.db"`
	Redis      Redis  `yaml:"redis"`
}

type Redis struct {
	Address     string        `yaml:"address" env:"LEDGER_REDIS_ADDRESS" env-default:"localhost:6379"`
	User        string        `yaml:"user" env:"LEDGER_REDIS_USER"`
	Password    string        `yaml:"password" env:"LEDGER_REDIS_PASSWORD"`
	DB          int           `yaml:"db" env:"LEDGER_REDIS_DB" env-default:"0"`
	MaxRetries  int           `yaml:"max_retries" env-default:"3"`
	DialTimeout time.Duration `yaml:"dial_timeout" env-default:"5s"`
	Timeout     time.Duration `yaml:"timeout" env-default:"3s"`
	KeyPrefix   string        `yaml:"key_prefix" env-default:"ledger:"`
}

type Log struct {
	Level  string `yaml:"level" env:"LEDGER_LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LEDGER_LOG_FORMAT" env-default:"console"`
}

type Compliance struct {
	ExpiringWindowDays int           `yaml:"expiring_window_days" env:"LEDGER_EXPIRING_WINDOW_DAYS" env-default:"30"`
	ScanEnabled        bool          `yaml:"scan_enabled" env:"LEDGER_EXPIRY_SCAN_ENABLED" env-default:"true"`
	ScanInterval       time.Duration `yaml:"scan_interval" env:"LEDGER_EXPIRY_SCAN_INTERVAL" env-default:"1h"`
}

// Load reads the YAML file at path and applies env overrides. An empty path
// reads configuration from the environment only.
func Load(path string) (*Config, error) {
	var cfg Config
	if path == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("read env config: %w", err)
		}
	} else {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad loads from CONFIG_PATH (or env only when unset) and exits on error.
func MustLoad() *Config {
	cfg, err := Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return cfg
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Compliance.ScanEnabled && c.Compliance.ScanInterval <= 0 {
		return fmt.Errorf("compliance.scan_interval must be positive, got %s", c.Compliance.ScanInterval)
	}
	return nil
}
