package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	DB struct {
		DSN string `yaml:"dsn"`
	} `yaml:"db"`
	Gateway struct {
		BaseURL        string `yaml:"base_url"`
		APIKey         string `yaml:"api_key"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		MaxAttempts    int    `yaml:"max_attempts"`
	} `yaml:"gateway"`
	Compliance struct {
		WindowDays              int  `yaml:"window_days"`
		FirearmLimit            int  `yaml:"firearm_limit"`
		MultiFirearmHoldEnabled bool `yaml:"multi_firearm_hold_enabled"`
		FFLHoldEnabled          bool `yaml:"ffl_hold_enabled"`
	} `yaml:"compliance"`
	FFLDirectory struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"ffl_directory"`
	CRM struct {
		WebhookURL string `yaml:"webhook_url"`
	} `yaml:"crm"`
	Worker struct {
		IntervalSeconds int `yaml:"interval_seconds"`
	} `yaml:"worker"`
	RateLimit struct {
		PerSecond int `yaml:"per_second"`
		Burst     int `yaml:"burst"`
	} `yaml:"rate_limit"`
}

// Load reads the YAML config file, applies environment overrides and
// validates the result. Defaults make a local run without a file possible.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("RANGEMARK_CONFIG")
	}

	var cfg Config
	applyDefaults(&cfg)

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.Server.Addr == "" {
		return nil, errors.New("server.addr is required")
	}
	if cfg.Compliance.WindowDays <= 0 {
		return nil, errors.New("compliance.window_days must be > 0")
	}
	if cfg.Compliance.FirearmLimit <= 0 {
		return nil, errors.New("compliance.firearm_limit must be > 0")
	}
	if cfg.Gateway.MaxAttempts <= 0 {
		return nil, errors.New("gateway.max_attempts must be > 0")
	}
	return &cfg, nil
}

// GatewayTimeout returns the configured gateway call timeout.
func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.Gateway.TimeoutSeconds) * time.Second
}

// WorkerInterval returns the retry worker tick interval.
func (c *Config) WorkerInterval() time.Duration {
	return time.Duration(c.Worker.IntervalSeconds) * time.Second
}

func applyDefaults(cfg *Config) {
	cfg.Server.Addr = ":8080"
	cfg.Gateway.TimeoutSeconds = 10
	cfg.Gateway.MaxAttempts = 4
	cfg.Compliance.WindowDays = 30
	cfg.Compliance.FirearmLimit = 5
	cfg.Compliance.MultiFirearmHoldEnabled = true
	cfg.Compliance.FFLHoldEnabled = true
	cfg.Worker.IntervalSeconds = 60
	cfg.RateLimit.PerSecond = 20
	cfg.RateLimit.Burst = 40
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RANGEMARK_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("RANGEMARK_PG_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("RANGEMARK_GATEWAY_URL"); v != "" {
		cfg.Gateway.BaseURL = v
	}
	if v := os.Getenv("RANGEMARK_GATEWAY_KEY"); v != "" {
		cfg.Gateway.APIKey = v
	}
	if v := os.Getenv("RANGEMARK_GATEWAY_TIMEOUT_SECONDS"); v != "" {
		cfg.Gateway.TimeoutSeconds = atoiOr(cfg.Gateway.TimeoutSeconds, v)
	}
	if v := os.Getenv("RANGEMARK_GATEWAY_MAX_ATTEMPTS"); v != "" {
		cfg.Gateway.MaxAttempts = atoiOr(cfg.Gateway.MaxAttempts, v)
	}
	if v := os.Getenv("RANGEMARK_WINDOW_DAYS"); v != "" {
		cfg.Compliance.WindowDays = atoiOr(cfg.Compliance.WindowDays, v)
	}
	if v := os.Getenv("RANGEMARK_FIREARM_LIMIT"); v != "" {
		cfg.Compliance.FirearmLimit = atoiOr(cfg.Compliance.FirearmLimit, v)
	}
	if v := os.Getenv("RANGEMARK_MULTI_FIREARM_HOLD"); v != "" {
		cfg.Compliance.MultiFirearmHoldEnabled = boolOr(cfg.Compliance.MultiFirearmHoldEnabled, v)
	}
	if v := os.Getenv("RANGEMARK_FFL_HOLD"); v != "" {
		cfg.Compliance.FFLHoldEnabled = boolOr(cfg.Compliance.FFLHoldEnabled, v)
	}
	if v := os.Getenv("RANGEMARK_FFL_DIRECTORY_URL"); v != "" {
		cfg.FFLDirectory.BaseURL = v
	}
	if v := os.Getenv("RANGEMARK_CRM_WEBHOOK_URL"); v != "" {
		cfg.CRM.WebhookURL = v
	}
	if v := os.Getenv("RANGEMARK_WORKER_INTERVAL_SECONDS"); v != "" {
		cfg.Worker.IntervalSeconds = atoiOr(cfg.Worker.IntervalSeconds, v)
	}
	if v := os.Getenv("RANGEMARK_RATE_PER_SECOND"); v != "" {
		cfg.RateLimit.PerSecond = atoiOr(cfg.RateLimit.PerSecond, v)
	}
	if v := os.Getenv("RANGEMARK_RATE_BURST"); v != "" {
		cfg.RateLimit.Burst = atoiOr(cfg.RateLimit.Burst, v)
	}
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func boolOr(fallback bool, v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
