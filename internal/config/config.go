package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// Default values
	DefaultLogLevel         = "info"
	DefaultMaxFileSize      = 100 * 1024 * 1024 // 100MB
	DefaultModelName        = "claude-sonnet-4-5-20250929"
	DefaultModelMaxTokens   = 1024
	DefaultMaxPagesPerSheet = 10
	DefaultChatContextChars = 40000

	// Directory permissions
	DefaultDirPerm = 0o750
)

// Config holds all configuration for the datasheet extraction service
type Config struct {
	// Storage configuration
	DataDir      string // directory where uploaded PDFs are retained
	DatabasePath string // SQLite database file

	// Processing configuration
	MaxFileSize      int64 // Maximum PDF upload size in bytes
	MaxPagesPerSheet int   // Forced datasheet boundary after this many pages
	TagPrefixMaxLen  int   // Maximum alphabetic prefix length for instrument tags

	// Model configuration
	ModelName        string
	ModelMaxTokens   int64
	APIKey           string // Anthropic API key, normally via DATASHEET_API_KEY
	ChatContextChars int    // Document text budget per chat prompt

	// Application configuration
	Version     string
	ServiceName string
	LogLevel    string
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	currentDir, err := os.Getwd()
	if err != nil {
		// Fallback to current directory if working directory cannot be determined
		currentDir = "."
	}

	return &Config{
		DataDir:          filepath.Join(currentDir, "data"),
		DatabasePath:     filepath.Join(currentDir, "data", "datasheets.db"),
		MaxFileSize:      DefaultMaxFileSize,
		MaxPagesPerSheet: DefaultMaxPagesPerSheet,
		TagPrefixMaxLen:  6,
		ModelName:        DefaultModelName,
		ModelMaxTokens:   DefaultModelMaxTokens,
		ChatContextChars: DefaultChatContextChars,
		Version:          "1.0.0",
		ServiceName:      "datasheetd",
		LogLevel:         DefaultLogLevel,
	}
}

// LoadFromFlags parses command line flags and returns a configuration
func LoadFromFlags() (*Config, error) {
	cfg := DefaultConfig()

	setupViperEnvironment(cfg)
	defineCommandLineFlags(cfg)
	bindFlagsToViper()

	pflag.Parse()

	populateConfigFromViper(cfg)

	// Expand paths if needed
	if cfg.DataDir != "" {
		if expandedPath, err := filepath.Abs(cfg.DataDir); err == nil {
			cfg.DataDir = expandedPath
		}
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setupViperEnvironment configures viper with environment variables and defaults
func setupViperEnvironment(cfg *Config) {
	// Set environment variable prefix
	viper.SetEnvPrefix("DATASHEET")
	viper.AutomaticEnv()

	viper.SetDefault("datadir", cfg.DataDir)
	viper.SetDefault("database", cfg.DatabasePath)
	viper.SetDefault("maxfilesize", cfg.MaxFileSize)
	viper.SetDefault("maxpages", cfg.MaxPagesPerSheet)
	viper.SetDefault("model", cfg.ModelName)
	viper.SetDefault("maxtokens", cfg.ModelMaxTokens)
	viper.SetDefault("contextchars", cfg.ChatContextChars)
	viper.SetDefault("loglevel", cfg.LogLevel)
	viper.SetDefault("api_key", "")
}

// defineCommandLineFlags sets up all command line flags
func defineCommandLineFlags(cfg *Config) {
	pflag.String("datadir", cfg.DataDir, "Directory where uploaded PDF files are stored")
	pflag.String("database", cfg.DatabasePath, "Path to the SQLite database file")
	pflag.Int64("maxfilesize", cfg.MaxFileSize, "Maximum PDF upload size in bytes")
	pflag.Int("maxpages", cfg.MaxPagesPerSheet, "Force a datasheet boundary after this many pages")
	pflag.String("model", cfg.ModelName, "Model used for the field extraction assistant")
	pflag.Int64("maxtokens", cfg.ModelMaxTokens, "Maximum tokens per model response")
	pflag.Int("contextchars", cfg.ChatContextChars, "Document text budget per chat prompt")
	pflag.String("loglevel", cfg.LogLevel, "Log level (debug, info, warn, error)")
}

// bindFlagsToViper binds command line flags to viper configuration
func bindFlagsToViper() {
	_ = viper.BindPFlag("datadir", pflag.Lookup("datadir"))
	_ = viper.BindPFlag("database", pflag.Lookup("database"))
	_ = viper.BindPFlag("maxfilesize", pflag.Lookup("maxfilesize"))
	_ = viper.BindPFlag("maxpages", pflag.Lookup("maxpages"))
	_ = viper.BindPFlag("model", pflag.Lookup("model"))
	_ = viper.BindPFlag("maxtokens", pflag.Lookup("maxtokens"))
	_ = viper.BindPFlag("contextchars", pflag.Lookup("contextchars"))
	_ = viper.BindPFlag("loglevel", pflag.Lookup("loglevel"))
}

// populateConfigFromViper fills the config struct with values from viper
func populateConfigFromViper(cfg *Config) {
	cfg.DataDir = viper.GetString("datadir")
	cfg.DatabasePath = viper.GetString("database")
	cfg.MaxFileSize = viper.GetInt64("maxfilesize")
	cfg.MaxPagesPerSheet = viper.GetInt("maxpages")
	cfg.ModelName = viper.GetString("model")
	cfg.ModelMaxTokens = viper.GetInt64("maxtokens")
	cfg.ChatContextChars = viper.GetInt("contextchars")
	cfg.LogLevel = viper.GetString("loglevel")
	cfg.APIKey = viper.GetString("api_key")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data directory cannot be empty")
	}

	// Check if data directory exists, create if it doesn't
	if _, err := os.Stat(c.DataDir); os.IsNotExist(err) {
		if err := os.MkdirAll(c.DataDir, DefaultDirPerm); err != nil {
			return fmt.Errorf("cannot create data directory %s: %w", c.DataDir, err)
		}
	} else if err != nil {
		return fmt.Errorf("cannot access data directory %s: %w", c.DataDir, err)
	}

	if c.DatabasePath == "" {
		return errors.New("database path cannot be empty")
	}

	if c.MaxFileSize <= 0 {
		return errors.New("maximum file size must be positive")
	}

	if c.MaxPagesPerSheet <= 0 {
		return errors.New("max pages per datasheet must be positive")
	}

	if c.TagPrefixMaxLen <= 0 {
		return errors.New("tag prefix length bound must be positive")
	}

	if c.ModelName == "" {
		return errors.New("model name cannot be empty")
	}

	if c.ChatContextChars <= 0 {
		return errors.New("chat context budget must be positive")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}

	return nil
}

// IsDebug returns true if debug logging is enabled
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// String returns a string representation of the configuration
func (c *Config) String() string {
	return fmt.Sprintf("Config{DataDir: %s, DatabasePath: %s, Model: %s, LogLevel: %s, MaxFileSize: %d}",
		c.DataDir, c.DatabasePath, c.ModelName, c.LogLevel, c.MaxFileSize)
}
