package config

import (
	"errors"
	"os"
	"strconv"

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
		SecretKey      string `yaml:"secret_key"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"gateway"`
	Checkout struct {
		Currency    string `yaml:"currency"`
		ShippingFee int64  `yaml:"shipping_fee"`
	} `yaml:"checkout"`
	Reconciler struct {
		IntervalSeconds     int64 `yaml:"interval_seconds"`
		MinAgeSeconds       int64 `yaml:"min_age_seconds"`
		AbandonAfterMinutes int64 `yaml:"abandon_after_minutes"`
	} `yaml:"reconciler"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if cfg.Server.Addr == "" {
		return nil, errors.New("server.addr is required")
	}
	if cfg.DB.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	if cfg.Gateway.BaseURL == "" || cfg.Gateway.SecretKey == "" {
		return nil, errors.New("gateway config is incomplete")
	}
	if cfg.Checkout.Currency == "" {
		return nil, errors.New("checkout.currency is required")
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("GATEWAY_BASE_URL"); v != "" {
		cfg.Gateway.BaseURL = v
	}
	if v := os.Getenv("GATEWAY_SECRET_KEY"); v != "" {
		cfg.Gateway.SecretKey = v
	}
	if v := os.Getenv("GATEWAY_TIMEOUT_SECONDS"); v != "" {
		cfg.Gateway.TimeoutSeconds = atoiOr(cfg.Gateway.TimeoutSeconds, v)
	}
	if v := os.Getenv("CHECKOUT_CURRENCY"); v != "" {
		cfg.Checkout.Currency = v
	}
	if v := os.Getenv("CHECKOUT_SHIPPING_FEE"); v != "" {
		cfg.Checkout.ShippingFee = atoi64Or(cfg.Checkout.ShippingFee, v)
	}
	if v := os.Getenv("RECONCILER_INTERVAL_SECONDS"); v != "" {
		cfg.Reconciler.IntervalSeconds = atoi64Or(cfg.Reconciler.IntervalSeconds, v)
	}
	if v := os.Getenv("RECONCILER_MIN_AGE_SECONDS"); v != "" {
		cfg.Reconciler.MinAgeSeconds = atoi64Or(cfg.Reconciler.MinAgeSeconds, v)
	}
	if v := os.Getenv("RECONCILER_ABANDON_AFTER_MINUTES"); v != "" {
		cfg.Reconciler.AbandonAfterMinutes = atoi64Or(cfg.Reconciler.AbandonAfterMinutes, v)
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Gateway.TimeoutSeconds <= 0 {
		cfg.Gateway.TimeoutSeconds = 15
	}
	if cfg.Reconciler.IntervalSeconds <= 0 {
		cfg.Reconciler.IntervalSeconds = 60
	}
	if cfg.Reconciler.MinAgeSeconds <= 0 {
		cfg.Reconciler.MinAgeSeconds = 120
	}
	if cfg.Reconciler.AbandonAfterMinutes <= 0 {
		cfg.Reconciler.AbandonAfterMinutes = 24 * 60
	}
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func atoi64Or(fallback int64, v string) int64 {
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}
