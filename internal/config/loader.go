package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/Ning0612/pubsync/internal/domain"
)

// EnvPrefix prefixes environment overrides, e.g. PUBSYNC_SETTINGS_CONCURRENCY
const EnvPrefix = "PUBSYNC"

// AppDir returns the per-user pubsync directory
func AppDir() string {
	if configDir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(configDir, "pubsync")
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".pubsync")
	}
	return ".pubsync"
}

// DefaultConfigPaths returns the default paths to search for config files
func DefaultConfigPaths() []string {
	paths := []string{
		".",
		"./configs",
	}

	// Add user config directory
	if configDir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(configDir, "pubsync"))
	}

	// Add home directory
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".config", "pubsync"))
		paths = append(paths, filepath.Join(homeDir, ".pubsync"))
	}

	return paths
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Short form for the most common override
	_ = v.BindEnv("settings.logging.level", EnvPrefix+"_LOG_LEVEL", EnvPrefix+"_SETTINGS_LOGGING_LEVEL")

	v.SetDefault("settings.state_dir", filepath.Join(AppDir(), "state"))
	v.SetDefault("settings.lock_dir", filepath.Join(AppDir(), "locks"))
	v.SetDefault("settings.concurrency", 4)
	v.SetDefault("settings.conflict", string(domain.ConflictManual))
	v.SetDefault("settings.compare_content", true)
	v.SetDefault("settings.logging.level", "info")
	v.SetDefault("settings.logging.format", "text")
	v.SetDefault("settings.logging.max_size_mb", 10)
	v.SetDefault("settings.logging.max_age_days", 30)
	v.SetDefault("settings.logging.max_backups", 5)
	return v
}

// Load reads and parses a configuration file
// If path is empty, searches default locations for config.yaml
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		// Use specific file
		v.SetConfigFile(ExpandPath(path))
	} else {
		// Search default paths
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, p := range DefaultConfigPaths() {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil, domain.ErrConfigNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	return decode(v)
}

// LoadFromString parses configuration from a YAML string
func LoadFromString(yamlContent string) (*Config, error) {
	v := newViper()
	v.SetConfigType("yaml")

	if err := v.ReadConfig(strings.NewReader(yamlContent)); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	cfg.Settings.StateDir = ExpandPath(cfg.Settings.StateDir)
	cfg.Settings.LockDir = ExpandPath(cfg.Settings.LockDir)

	for i := range cfg.Publications {
		p := &cfg.Publications[i]
		if p.LocalRoot != "" {
			p.LocalRoot = ExpandPath(p.LocalRoot)
		}
		// Publications inherit the global conflict strategy
		if p.ConflictStrategy == "" {
			p.ConflictStrategy = cfg.Settings.ConflictStrategy
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
