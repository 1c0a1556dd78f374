// Package config loads vseek settings from an optional YAML file and
// VSEEK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"

	"github.com/zsiec/vseek/internal/media"
	"github.com/zsiec/vseek/internal/session"
)

// Config holds all application configuration
type Config struct {
	Session SessionConfig `mapstructure:"session"`
	Decoder DecoderConfig `mapstructure:"decoder"`
	Index   IndexConfig   `mapstructure:"index"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// SessionConfig sizes decode sessions
type SessionConfig struct {
	CacheCapacity  int `mapstructure:"cache_capacity"`  // decoder instances kept per session
	BufferCapacity int `mapstructure:"buffer_capacity"` // streamed frames in flight
	SeekLookahead  int `mapstructure:"seek_lookahead"`
	WarmupSessions int `mapstructure:"warmup_sessions"` // 0 disables the warm-up barrier
}

// DecoderConfig holds decoder creation parameters
type DecoderConfig struct {
	MaxWidth     int `mapstructure:"max_width"`
	MaxHeight    int `mapstructure:"max_height"`
	Surfaces     int `mapstructure:"surfaces"`
	ReorderDepth int `mapstructure:"reorder_depth"`
}

// IndexConfig controls the persisted scan cache
type IndexConfig struct {
	CacheDir     string `mapstructure:"cache_dir"`
	Disabled     bool   `mapstructure:"disabled"`
	ScanParallel int    `mapstructure:"scan_parallel"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File  string `mapstructure:"file"` // empty logs text to stderr
	Level string `mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Session: SessionConfig{
			CacheCapacity:  media.DefaultCacheCapacity,
			BufferCapacity: media.DefaultBufferCapacity,
			SeekLookahead:  media.DefaultSeekLookahead,
		},
		Decoder: DecoderConfig{
			Surfaces:     32,
			ReorderDepth: 2,
		},
		Index: IndexConfig{
			CacheDir:     defaultCachePath(),
			ScanParallel: runtime.NumCPU(),
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
	}
}

// defaultConfigPath returns the default config directory for the current OS
func defaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "vseek")
	default:
		if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
			return filepath.Join(dir, "vseek")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "vseek")
	}
}

// defaultCachePath returns the default index cache directory for the current OS
func defaultCachePath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), "vseek", "index")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "vseek", "index")
	}
}

// Load reads configuration from file and environment. An empty path
// searches the default config directory and the working directory for
// config.yaml; a missing file there is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	v := viper.New()
	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(defaultConfigPath())
		v.AddConfigPath(".")
	}

	// VSEEK_SESSION_BUFFER_CAPACITY overrides session.buffer_capacity.
	v.SetEnvPrefix("VSEEK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: parsing config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so that environment overrides apply to
// keys absent from the file.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("session.cache_capacity", cfg.Session.CacheCapacity)
	v.SetDefault("session.buffer_capacity", cfg.Session.BufferCapacity)
	v.SetDefault("session.seek_lookahead", cfg.Session.SeekLookahead)
	v.SetDefault("session.warmup_sessions", cfg.Session.WarmupSessions)
	v.SetDefault("decoder.max_width", cfg.Decoder.MaxWidth)
	v.SetDefault("decoder.max_height", cfg.Decoder.MaxHeight)
	v.SetDefault("decoder.surfaces", cfg.Decoder.Surfaces)
	v.SetDefault("decoder.reorder_depth", cfg.Decoder.ReorderDepth)
	v.SetDefault("index.cache_dir", cfg.Index.CacheDir)
	v.SetDefault("index.disabled", cfg.Index.Disabled)
	v.SetDefault("index.scan_parallel", cfg.Index.ScanParallel)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.level", cfg.Logging.Level)
}

// Validate corrects values that have a safe fallback and rejects the rest.
func (c *Config) Validate(log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	var errs []error
	if c.Session.CacheCapacity < 1 {
		log.Warn("session.cache_capacity corrected", "from", c.Session.CacheCapacity, "to", 1)
		c.Session.CacheCapacity = 1
	}
	if c.Session.BufferCapacity < 1 {
		errs = append(errs, fmt.Errorf("session.buffer_capacity must be at least 1, got %d", c.Session.BufferCapacity))
	}
	if c.Session.SeekLookahead < 1 {
		errs = append(errs, fmt.Errorf("session.seek_lookahead must be at least 1, got %d", c.Session.SeekLookahead))
	}
	if c.Session.WarmupSessions < 0 {
		errs = append(errs, fmt.Errorf("session.warmup_sessions must not be negative, got %d", c.Session.WarmupSessions))
	}
	if c.Decoder.MaxWidth < 0 || c.Decoder.MaxHeight < 0 {
		errs = append(errs, fmt.Errorf("decoder.max_width and decoder.max_height must not be negative"))
	}
	if c.Decoder.ReorderDepth < 1 {
		errs = append(errs, fmt.Errorf("decoder.reorder_depth must be at least 1, got %d", c.Decoder.ReorderDepth))
	}
	// The decode pool must hold a full reorder window plus the incoming picture.
	if need := c.Decoder.ReorderDepth + 1; c.Decoder.Surfaces > 0 && c.Decoder.Surfaces < need {
		log.Warn("decoder.surfaces raised", "from", c.Decoder.Surfaces, "to", need)
		c.Decoder.Surfaces = need
	}
	if c.Index.ScanParallel < 1 {
		c.Index.ScanParallel = 1
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// SessionConfig returns the session parameters described by c.
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		CacheCapacity:  c.Session.CacheCapacity,
		BufferCapacity: c.Session.BufferCapacity,
		SeekLookahead:  c.Session.SeekLookahead,
		MaxWidth:       c.Decoder.MaxWidth,
		MaxHeight:      c.Decoder.MaxHeight,
		Surfaces:       c.Decoder.Surfaces,
		ReorderDepth:   c.Decoder.ReorderDepth,
	}
}
