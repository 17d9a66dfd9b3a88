package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ohmvision/camconnect/internal/middleware"
)

// Config is the full server configuration. Values come from a YAML file
// with environment variables overriding the secrets and endpoints that
// differ per deployment.
type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	DB struct {
		Host     string `yaml:"host"`
		Port     string `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslmode"`
	} `yaml:"db"`

	Redis struct {
		Addr string `yaml:"addr"`
		Salt string `yaml:"salt"`
	} `yaml:"redis"`

	NATS struct {
		URL      string `yaml:"url"`
		Subject  string `yaml:"subject"`
		RetryMax int    `yaml:"retry_max"`
	} `yaml:"nats"`

	Auth struct {
		SigningKey string        `yaml:"signing_key"`
		TokenTTL   time.Duration `yaml:"token_ttl"`
	} `yaml:"auth"`

	Detect struct {
		ProbeTimeout  time.Duration `yaml:"probe_timeout"`
		MaxCandidates int           `yaml:"max_candidates"`
		MaxInFlight   int           `yaml:"max_in_flight"`
		BatchWorkers  int           `yaml:"batch_workers"`
		RankWindow    float64       `yaml:"rank_window"`
	} `yaml:"detect"`

	Monitor struct {
		Interval     time.Duration `yaml:"interval"`
		Workers      int           `yaml:"workers"`
		ProbeTimeout time.Duration `yaml:"probe_timeout"`
	} `yaml:"monitor"`

	Profiles struct {
		OverridesPath string `yaml:"overrides_path"`
	} `yaml:"profiles"`

	RateLimit middleware.RateLimitConfig `yaml:"rate_limit"`
}

// Load reads the YAML file at path, then applies env overrides. A missing
// file is not an error; env-only deployments are supported.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setEnv(&cfg.Server.Addr, "SERVER_ADDR")
	setEnv(&cfg.DB.Host, "DB_HOST")
	setEnv(&cfg.DB.Port, "DB_PORT")
	setEnv(&cfg.DB.User, "DB_USER")
	setEnv(&cfg.DB.Password, "DB_PASSWORD")
	setEnv(&cfg.DB.Name, "DB_NAME")
	setEnv(&cfg.DB.SSLMode, "DB_SSLMODE")
	setEnv(&cfg.Redis.Addr, "REDIS_ADDR")
	setEnv(&cfg.NATS.URL, "NATS_URL")
	setEnv(&cfg.Auth.SigningKey, "JWT_SIGNING_KEY")
	setEnv(&cfg.Profiles.OverridesPath, "PROFILE_OVERRIDES_PATH")
}

func setEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.DB.Port == "" {
		cfg.DB.Port = "5432"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = "camconnect.events"
	}
	if cfg.NATS.RetryMax == 0 {
		cfg.NATS.RetryMax = 3
	}
	if cfg.Auth.SigningKey == "" {
		cfg.Auth.SigningKey = "dev-secret-do-not-use-in-prod"
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = time.Hour
	}
	if cfg.Monitor.Interval == 0 {
		cfg.Monitor.Interval = 60 * time.Second
	}
	if cfg.Monitor.Workers == 0 {
		cfg.Monitor.Workers = 8
	}
	if cfg.Monitor.ProbeTimeout == 0 {
		cfg.Monitor.ProbeTimeout = 10 * time.Second
	}
}

// DSN builds the Postgres connection string. Empty host means persistence
// is disabled.
func (c *Config) DSN() string {
	if c.DB.Host == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DB.User, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.Name, c.DB.SSLMode)
}
