package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Ning0612/pubsync/internal/domain"
	"github.com/Ning0612/pubsync/internal/logger"
)

// Config represents the complete configuration for pubsync
type Config struct {
	// Transports define storage backend configurations
	Transports []domain.Transport `mapstructure:"transports"`

	// Publications pair a local root with a remote root
	Publications []domain.Publication `mapstructure:"publications"`

	// Settings are global options
	Settings Settings `mapstructure:"settings"`
}

// Settings contains global options
type Settings struct {
	// StateDir holds the baseline and history database
	StateDir string `mapstructure:"state_dir"`

	// LockDir holds per-publication lock files
	LockDir string `mapstructure:"lock_dir"`

	// Concurrency bounds parallel file transfers
	Concurrency int `mapstructure:"concurrency"`

	// ConflictStrategy is used by publications that do not set one
	ConflictStrategy domain.ConflictStrategy `mapstructure:"conflict"`

	// CompareContent compares content of files found on both sides without a baseline
	CompareContent bool `mapstructure:"compare_content"`

	Logging LoggingSettings `mapstructure:"logging"`
}

// LoggingSettings configures the global logger
type LoggingSettings struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggerConfig converts the settings into a logger configuration.
// Console output goes to stderr so stdout stays free for command output.
func (l LoggingSettings) LoggerConfig() (logger.Config, error) {
	level, err := logger.ParseLevel(l.Level)
	if err != nil {
		return logger.Config{}, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}
	format, err := logger.ParseFormat(l.Format)
	if err != nil {
		return logger.Config{}, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	cfg := logger.Config{
		Level:   level,
		Format:  format,
		Outputs: []logger.OutputConfig{{Type: logger.OutputStderr}},
	}
	if l.File != "" {
		cfg.File = logger.FileConfig{
			Enabled:    true,
			Path:       ExpandPath(l.File),
			MaxSizeMB:  l.MaxSizeMB,
			MaxAgeDays: l.MaxAgeDays,
			MaxBackups: l.MaxBackups,
			Compress:   l.Compress,
		}
		cfg.Outputs = append(cfg.Outputs, logger.OutputConfig{Type: logger.OutputFile})
	}
	return cfg, nil
}

// Validate checks if the configuration is complete and consistent
func (c *Config) Validate() error {
	// Check transport name uniqueness
	transportNames := make(map[string]bool)
	for _, t := range c.Transports {
		if t.Name == "" {
			return fmt.Errorf("%w: transport name cannot be empty", domain.ErrConfigInvalid)
		}
		if transportNames[t.Name] {
			return fmt.Errorf("%w: duplicate transport name: %s", domain.ErrConfigInvalid, t.Name)
		}
		if !t.Type.IsValid() {
			return fmt.Errorf("%w: invalid transport type: %s", domain.ErrConfigInvalid, t.Type)
		}
		transportNames[t.Name] = true
	}

	// Check publication name uniqueness and transport references
	pubNames := make(map[string]bool)
	for _, p := range c.Publications {
		if err := p.Validate(); err != nil {
			return err
		}
		if pubNames[p.Name] {
			return fmt.Errorf("%w: duplicate publication name: %s", domain.ErrConfigInvalid, p.Name)
		}
		if !transportNames[p.Transport] {
			return fmt.Errorf("%w: publication %s references unknown transport: %s",
				domain.ErrTransportNotFound, p.Name, p.Transport)
		}
		pubNames[p.Name] = true
	}

	if c.Settings.Concurrency < 0 {
		return fmt.Errorf("%w: concurrency must not be negative", domain.ErrConfigInvalid)
	}
	if c.Settings.ConflictStrategy != "" && !c.Settings.ConflictStrategy.IsValid() {
		return fmt.Errorf("%w: invalid conflict strategy: %s", domain.ErrConfigInvalid, c.Settings.ConflictStrategy)
	}
	if _, err := c.Settings.Logging.LoggerConfig(); err != nil {
		return err
	}
	return nil
}

// GetTransport returns a transport by name
func (c *Config) GetTransport(name string) (*domain.Transport, error) {
	for i := range c.Transports {
		if c.Transports[i].Name == name {
			return &c.Transports[i], nil
		}
	}
	return nil, domain.ErrTransportNotFound
}

// GetPublication returns a publication by name
func (c *Config) GetPublication(name string) (*domain.Publication, error) {
	for i := range c.Publications {
		if c.Publications[i].Name == name {
			return &c.Publications[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrPublicationNotFound, name)
}

// PublicationForPath returns the publication whose local root contains
// path, together with path relative to that root. The deepest root wins
// when publications are nested.
func (c *Config) PublicationForPath(path string) (*domain.Publication, string, error) {
	abs, err := filepath.Abs(ExpandPath(path))
	if err != nil {
		return nil, "", err
	}

	var best *domain.Publication
	var bestRel string
	for i := range c.Publications {
		root := filepath.Clean(c.Publications[i].LocalRoot)
		rel, err := filepath.Rel(root, abs)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		if best == nil || len(root) > len(filepath.Clean(best.LocalRoot)) {
			best = &c.Publications[i]
			bestRel = filepath.ToSlash(rel)
		}
	}
	if best == nil {
		return nil, "", fmt.Errorf("%w: no publication contains %s", domain.ErrPublicationNotFound, path)
	}
	if bestRel == "." {
		bestRel = ""
	}
	return best, bestRel, nil
}

// AutoSyncPublications returns the publications with auto_sync_on_save set
func (c *Config) AutoSyncPublications() []domain.Publication {
	var pubs []domain.Publication
	for _, p := range c.Publications {
		if p.AutoSyncOnSave {
			pubs = append(pubs, p)
		}
	}
	return pubs
}

// ExpandPath expands ~ and environment variables in a path
func ExpandPath(path string) string {
	// Expand ~ to home directory
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			if len(path) > 1 && (path[1] == '/' || path[1] == filepath.Separator) {
				path = filepath.Join(home, path[2:])
			} else if len(path) == 1 {
				path = home
			}
		}
	}
	// Expand environment variables
	path = os.ExpandEnv(path)
	return filepath.Clean(path)
}
