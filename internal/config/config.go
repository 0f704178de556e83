// Package config loads service configuration from an optional YAML file with
// environment variable overrides on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the service.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Log        LogConfig        `yaml:"log"`
	Auth       AuthConfig       `yaml:"auth"`
	Fetcher    FetcherConfig    `yaml:"fetcher"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Cache      CacheConfig      `yaml:"cache"`
	Queue      QueueConfig      `yaml:"queue"`
	Batch      BatchConfig      `yaml:"batch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds MySQL connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	MaxOpen  int    `yaml:"max_open"`
	MaxIdle  int    `yaml:"max_idle"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// AuthConfig holds JWT settings.
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenDuration time.Duration `yaml:"token_duration"`
}

// FetcherConfig holds page-fetch settings.
type FetcherConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	UserAgent    string        `yaml:"user_agent"`
	RateLimitRPS float64       `yaml:"rate_limit_rps"`
}

// ClassifierConfig holds the classification service endpoint.
type ClassifierConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// CacheConfig holds import cache bounds.
type CacheConfig struct {
	MaxEntries      int           `yaml:"max_entries"`
	TTL             time.Duration `yaml:"ttl"`
	CleanupSchedule string        `yaml:"cleanup_schedule"`
}

// QueueConfig holds processing queue settings.
type QueueConfig struct {
	PollInterval       time.Duration `yaml:"poll_interval"`
	MaxConcurrent      int           `yaml:"max_concurrent"`
	MaxAttempts        int           `yaml:"max_attempts"`
	InnerAttempts      int           `yaml:"inner_attempts"`
	StopTimeout        time.Duration `yaml:"stop_timeout"`
	CompletedRetention time.Duration `yaml:"completed_retention"`
	CleanupSchedule    string        `yaml:"cleanup_schedule"`
}

// BatchConfig holds batch import settings.
type BatchConfig struct {
	DefaultConcurrency int           `yaml:"default_concurrency"`
	MaxConcurrency     int           `yaml:"max_concurrency"`
	Retention          time.Duration `yaml:"retention"`
}

// Default returns the configuration used when no file and no environment
// overrides are present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     "3306",
			User:     "root",
			Database: "linkdex",
			MaxOpen:  25,
			MaxIdle:  5,
		},
		Log: LogConfig{Level: "info"},
		Auth: AuthConfig{
			TokenDuration: 24 * time.Hour,
		},
		Fetcher: FetcherConfig{
			Timeout:   30 * time.Second,
			UserAgent: "linkdex/1.0",
		},
		Classifier: ClassifierConfig{
			Timeout: 15 * time.Second,
		},
		Cache: CacheConfig{
			MaxEntries:      500,
			TTL:             time.Hour,
			CleanupSchedule: "@every 10m",
		},
		Queue: QueueConfig{
			PollInterval:       5 * time.Second,
			MaxConcurrent:      3,
			MaxAttempts:        3,
			InnerAttempts:      2,
			StopTimeout:        30 * time.Second,
			CompletedRetention: 24 * time.Hour,
			CleanupSchedule:    "@every 1h",
		},
		Batch: BatchConfig{
			DefaultConcurrency: 3,
			MaxConcurrency:     10,
			Retention:          5 * time.Minute,
		},
	}
}

// Load reads the YAML file at path (if path is non-empty and the file exists)
// on top of defaults, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if cfg.Batch.DefaultConcurrency > cfg.Batch.MaxConcurrency {
		cfg.Batch.DefaultConcurrency = cfg.Batch.MaxConcurrency
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Server.Port, "PORT")
	setString(&c.Database.Host, "MYSQL_HOST")
	setString(&c.Database.Port, "MYSQL_PORT")
	setString(&c.Database.User, "MYSQL_USER")
	setString(&c.Database.Password, "MYSQL_PASSWORD")
	setString(&c.Database.Database, "MYSQL_DATABASE")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	setDuration(&c.Auth.TokenDuration, "JWT_DURATION")
	setString(&c.Classifier.BaseURL, "CLASSIFIER_URL")
	setDuration(&c.Classifier.Timeout, "CLASSIFIER_TIMEOUT")
	setString(&c.Fetcher.UserAgent, "FETCH_USER_AGENT")
	setFloat(&c.Fetcher.RateLimitRPS, "FETCH_RATE_LIMIT_RPS")
	setInt(&c.Cache.MaxEntries, "CACHE_MAX_ENTRIES")
	setDuration(&c.Cache.TTL, "CACHE_TTL")
	setDuration(&c.Queue.PollInterval, "QUEUE_POLL_INTERVAL")
	setInt(&c.Queue.MaxConcurrent, "QUEUE_MAX_CONCURRENT")
	setInt(&c.Queue.MaxAttempts, "QUEUE_MAX_ATTEMPTS")
	setInt(&c.Batch.DefaultConcurrency, "BATCH_DEFAULT_CONCURRENCY")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
