package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"sip-core/infrastructure/logger"
)

// AppConfig holds the service configuration.
type AppConfig struct {
	Env     string        `yaml:"env"`
	HTTP    HTTPConfig    `yaml:"http"`
	Metrics MetricsConfig `yaml:"metrics"`
	Store   StoreConfig   `yaml:"store"`
	Log     logger.Config `yaml:"log"`
	Reload  ReloadConfig  `yaml:"reload"`
}

type HTTPConfig struct {
	Addr       string `yaml:"addr"`
	StaticDir  string `yaml:"staticDir"`  // directory holding sip_core.js
	CORSOrigin string `yaml:"corsOrigin"` // Access-Control-Allow-Origin value
}

// MetricsConfig: an empty Addr serves /metrics on the HTTP router instead of
// a separate listener.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type StoreConfig struct {
	Path string `yaml:"path"` // empty keeps entries in memory
}

// ReloadConfig controls the sip_config override file.
type ReloadConfig struct {
	Path       string `yaml:"path"`
	Mode       string `yaml:"mode"` // notify (fsnotify) or poll
	CooldownMs int    `yaml:"cooldownMs"`
	IntervalMs int    `yaml:"intervalMs"` // poll interval
}

const (
	ReloadModeNotify = "notify"
	ReloadModePoll   = "poll"
)

// Default returns the configuration used for keys missing from the file.
func Default() AppConfig {
	return AppConfig{
		Env: "dev",
		HTTP: HTTPConfig{
			Addr:       ":8123",
			StaticDir:  "www",
			CORSOrigin: "*",
		},
		Store: StoreConfig{Path: "data/entries.yaml"},
		Log:   logger.DefaultConfig(),
		Reload: ReloadConfig{
			Mode:       ReloadModeNotify,
			CooldownMs: 1000,
			IntervalMs: 2000,
		},
	}
}

// Load reads YAML config from path on top of Default and validates it.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides deployment fields from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	applyEnv(&cfg)
	return cfg, Validate(cfg)
}

// FromEnv returns Default with env overrides, for running without a file.
func FromEnv() (AppConfig, error) {
	cfg := Default()
	applyEnv(&cfg)
	return cfg, Validate(cfg)
}

func applyEnv(cfg *AppConfig) {
	if v := os.Getenv("SIPCORE_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("SIPCORE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("SIPCORE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SIPCORE_RELOAD_PATH"); v != "" {
		cfg.Reload.Path = v
	}
}

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if cfg.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if cfg.Metrics.Addr != "" && cfg.Metrics.Addr == cfg.HTTP.Addr {
		return fmt.Errorf("metrics.addr %s must differ from http.addr", cfg.Metrics.Addr)
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q must be one of debug, info, warn, error", cfg.Log.Level)
	}
	if len(cfg.Log.Outputs) == 0 {
		return errors.New("log.outputs is required")
	}
	for _, out := range cfg.Log.Outputs {
		if out != "stdout" && out != "file" {
			return fmt.Errorf("log.outputs %q must be stdout or file", out)
		}
		if out == "file" && cfg.Log.OutputFile == "" {
			return errors.New("log.output_file is required when outputs include file")
		}
	}
	switch cfg.Reload.Mode {
	case ReloadModeNotify, ReloadModePoll:
	default:
		return fmt.Errorf("reload.mode %q must be notify or poll", cfg.Reload.Mode)
	}
	if cfg.Reload.CooldownMs < 0 {
		return errors.New("reload.cooldownMs must be >= 0")
	}
	if cfg.Reload.Mode == ReloadModePoll && cfg.Reload.IntervalMs <= 0 {
		return errors.New("reload.intervalMs must be > 0 in poll mode")
	}
	return nil
}
