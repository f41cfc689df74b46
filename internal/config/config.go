package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config holds everything the daemon needs at startup.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Wallet    WalletConfig    `json:"wallet"`
	Policy    PolicyConfig    `json:"policy"`
	Chains    ChainsConfig    `json:"chains"`
	Approvals ApprovalsConfig `json:"approvals"`
	Audit     AuditConfig     `json:"audit"`
	Logging   LoggingConfig   `json:"logging"`
}

// ServerConfig controls the HTTP listener and the base URL embedded in
// consent links handed back to callers. APIToken, when set, gates the JSON
// API routes behind a static bearer token; consent pages stay open.
type ServerConfig struct {
	Address        string `json:"address"`
	ConsentBaseURL string `json:"consent_base_url"`
	APIToken       string `json:"api_token,omitempty"`
}

// WalletConfig points at the encrypted key file on disk.
type WalletConfig struct {
	KeyFile string `json:"key_file"`
}

// PolicyConfig points at the YAML policy document. When File is empty
// the daemon starts with an empty policy that denies everything.
type PolicyConfig struct {
	File string `json:"file"`
}

// ChainsConfig optionally extends the builtin network registry.
type ChainsConfig struct {
	File string `json:"file"`
}

// ApprovalsConfig selects the approval ledger backend.
type ApprovalsConfig struct {
	Driver string      `json:"driver"`
	DSN    string      `json:"dsn"`
	Redis  RedisConfig `json:"redis"`
}

// RedisConfig holds the connection details for the redis ledger driver.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// AuditConfig selects where decision records are published.
type AuditConfig struct {
	Sink     string         `json:"sink"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig holds broker details for the rabbitmq audit sink.
type RabbitMQConfig struct {
	URL   string `json:"url"`
	Queue string `json:"queue"`
}

// LoggingConfig mirrors the logger package options.
type LoggingConfig struct {
	Level       string         `json:"level"`
	Format      string         `json:"format"`
	OutputPaths []string       `json:"output_paths"`
	Audit       AuditLogConfig `json:"audit"`
}

// AuditLogConfig controls the rotated audit log file.
type AuditLogConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// Load parses the JSON configuration file at path.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults fills in sane values for fields the user left blank.
// Relative file paths resolve against the config file's directory.
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8402"
	}

	if c.Server.ConsentBaseURL == "" {
		c.Server.ConsentBaseURL = "http://localhost:8402"
	}

	if c.Wallet.KeyFile == "" {
		c.Wallet.KeyFile = filepath.Join(baseDir, "data", "wallet.enc")
	} else if !filepath.IsAbs(c.Wallet.KeyFile) {
		c.Wallet.KeyFile = filepath.Join(baseDir, c.Wallet.KeyFile)
	}

	if c.Policy.File != "" && !filepath.IsAbs(c.Policy.File) {
		c.Policy.File = filepath.Join(baseDir, c.Policy.File)
	}

	if c.Chains.File != "" && !filepath.IsAbs(c.Chains.File) {
		c.Chains.File = filepath.Join(baseDir, c.Chains.File)
	}

	if c.Approvals.Driver == "" {
		c.Approvals.Driver = "memory"
	}

	if c.Approvals.Redis.Addr == "" {
		c.Approvals.Redis.Addr = "localhost:6379"
	}

	if c.Audit.Sink == "" {
		c.Audit.Sink = "log"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if len(c.Logging.OutputPaths) == 0 {
		c.Logging.OutputPaths = []string{"stdout"}
	}

	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(baseDir, "data", "audit.log")
	}
}
