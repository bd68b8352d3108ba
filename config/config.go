// Copyright (c) 2025 KactLabs
// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/kactlabs/agenticoptio-go/ollama"
)

// =============================================================================
// CONFIG STRUCTURE
// =============================================================================

// Config holds the shared client defaults.
type Config struct {
	// Host is the Ollama server base URL.
	Host string `toml:"host"`

	// ChatModel is the default chat model.
	ChatModel string `toml:"chat_model"`

	// EmbedModel is the default embedding model.
	EmbedModel string `toml:"embed_model"`

	// Temperature is the default sampling temperature, in [0, 1].
	Temperature float64 `toml:"temperature"`

	// MaxTokens bounds completion length. 0 means unbounded.
	MaxTokens int `toml:"max_tokens"`

	// TimeoutSecs bounds the roundtrip of each attempt, in seconds.
	TimeoutSecs int `toml:"timeout_secs"`

	// MaxRetries is the retry budget for transient failures.
	MaxRetries int `toml:"max_retries"`

	// BatchSize bounds embedding sub-batches.
	BatchSize int `toml:"batch_size"`
}

// Default returns a Config with the built-in defaults.
func Default() *Config {
	return &Config{
		Host:        ollama.DefaultHost,
		ChatModel:   "llama3.2",
		EmbedModel:  "nomic-embed-text",
		Temperature: 0.0,
		MaxTokens:   0,
		TimeoutSecs: 60,
		MaxRetries:  ollama.DefaultMaxRetries,
		BatchSize:   ollama.DefaultBatchSize,
	}
}

// Timeout returns the configured timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// =============================================================================
// PATH HELPERS
// =============================================================================

// Dir returns the configuration directory path.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".agenticoptio"), nil
}

// Path returns the path to the TOML config file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load loads the configuration file if present and falls back to defaults.
// Environment overrides are applied last, then the result is validated.
func Load() (*Config, error) {
	cfg := Default()

	path, err := Path()
	if err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			md, err := toml.DecodeFile(path, cfg)
			if err != nil {
				return nil, fmt.Errorf("failed to decode %s: %w", path, err)
			}
			cfg.fillDefaults(md)
		}
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads the configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	cfg := &Config{}
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	cfg.fillDefaults(md)

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to path with owner-only permissions.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// 0600: the file may later carry deployment-specific endpoints.
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	fmt.Fprintln(file, "# agenticoptio configuration file")
	fmt.Fprintln(file, "")

	if err := toml.NewEncoder(file).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// fillDefaults fills values absent from the file with defaults. Zero is not
// enough to mean "absent" for max_retries, where 0 is a legitimate setting,
// so presence comes from the decode metadata.
func (c *Config) fillDefaults(md toml.MetaData) {
	defaults := Default()

	if c.Host == "" {
		c.Host = defaults.Host
	}
	if c.ChatModel == "" {
		c.ChatModel = defaults.ChatModel
	}
	if c.EmbedModel == "" {
		c.EmbedModel = defaults.EmbedModel
	}
	if c.TimeoutSecs == 0 {
		c.TimeoutSecs = defaults.TimeoutSecs
	}
	if c.MaxRetries == 0 && !md.IsDefined("max_retries") {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.BatchSize == 0 {
		c.BatchSize = defaults.BatchSize
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides.
//
// Supported variables:
//   - OLLAMA_HOST: overrides host
//   - AGENTICOPTIO_MODEL: overrides chat_model
//   - AGENTICOPTIO_EMBED_MODEL: overrides embed_model
//   - AGENTICOPTIO_TIMEOUT_SECS: overrides timeout_secs
//   - AGENTICOPTIO_MAX_RETRIES: overrides max_retries
func (c *Config) ApplyEnvOverrides() {
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		c.Host = host
	}
	if model := os.Getenv("AGENTICOPTIO_MODEL"); model != "" {
		c.ChatModel = model
	}
	if model := os.Getenv("AGENTICOPTIO_EMBED_MODEL"); model != "" {
		c.EmbedModel = model
	}
	if secs := os.Getenv("AGENTICOPTIO_TIMEOUT_SECS"); secs != "" {
		if n, err := strconv.Atoi(secs); err == nil && n > 0 {
			c.TimeoutSecs = n
		}
	}
	if retries := os.Getenv("AGENTICOPTIO_MAX_RETRIES"); retries != "" {
		if n, err := strconv.Atoi(retries); err == nil && n >= 0 {
			c.MaxRetries = n
		}
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes one rejected configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if u, err := url.Parse(c.Host); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, ValidationError{Field: "host", Message: fmt.Sprintf("invalid URL %q", c.Host)})
	}
	if c.Temperature < 0 || c.Temperature > 1 {
		errs = append(errs, ValidationError{Field: "temperature", Message: fmt.Sprintf("must be in [0, 1], got %g", c.Temperature)})
	}
	if c.MaxTokens < 0 {
		errs = append(errs, ValidationError{Field: "max_tokens", Message: "cannot be negative"})
	}
	if c.TimeoutSecs <= 0 {
		errs = append(errs, ValidationError{Field: "timeout_secs", Message: "must be positive"})
	}
	if c.MaxRetries < 0 {
		errs = append(errs, ValidationError{Field: "max_retries", Message: "cannot be negative"})
	}
	if c.BatchSize <= 0 {
		errs = append(errs, ValidationError{Field: "batch_size", Message: "must be positive"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// CLIENT FACTORIES
// =============================================================================

// NewChatClient builds a chat client from the configured defaults.
func (c *Config) NewChatClient() (*ollama.ChatClient, error) {
	return ollama.NewChat(c.ChatModel).
		Host(c.Host).
		Temperature(c.Temperature).
		MaxTokens(c.MaxTokens).
		Timeout(c.Timeout()).
		MaxRetries(c.MaxRetries).
		Build()
}

// NewEmbeddingClient builds an embedding client from the configured defaults.
func (c *Config) NewEmbeddingClient() (*ollama.EmbeddingClient, error) {
	return ollama.NewEmbedding(c.EmbedModel).
		Host(c.Host).
		BatchSize(c.BatchSize).
		Timeout(c.Timeout()).
		MaxRetries(c.MaxRetries).
		Build()
}
