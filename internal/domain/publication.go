package domain

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// TransportType identifies the storage backend type
type TransportType string

const (
	TransportLocal  TransportType = "local"
	TransportGDrive TransportType = "gdrive"
	TransportS3     TransportType = "s3"
)

// IsValid checks if the transport type is a known value
func (t TransportType) IsValid() bool {
	switch t {
	case TransportLocal, TransportGDrive, TransportS3:
		return true
	}
	return false
}

// Transport defines a storage backend configuration
type Transport struct {
	// Name is the unique identifier
	Name string `mapstructure:"name"`

	// Type identifies the backend
	Type TransportType `mapstructure:"type"`

	// Config holds backend specific settings (client_id, bucket, region, ...)
	Config map[string]string `mapstructure:"config"`
}

// Publication pairs one local root with one remote root
type Publication struct {
	// Name is the unique identifier
	Name string `mapstructure:"name"`

	// LocalRoot is the local directory being published
	LocalRoot string `mapstructure:"local_root"`

	// Transport name reference for the remote side
	Transport string `mapstructure:"transport"`

	// RemoteRoot is the root path within the transport
	RemoteRoot string `mapstructure:"remote_root"`

	// Includes restricts the tree to matching paths (empty = everything)
	Includes []string `mapstructure:"includes"`

	// Excludes removes matching paths from the tree
	Excludes []string `mapstructure:"excludes"`

	// AutoSyncOnSave pushes local files as soon as they are saved
	AutoSyncOnSave bool `mapstructure:"auto_sync_on_save"`

	// ConflictStrategy applied after classification
	ConflictStrategy ConflictStrategy `mapstructure:"conflict"`
}

// Validate checks if the publication is properly configured
func (p Publication) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: publication name cannot be empty", ErrConfigInvalid)
	}
	if p.LocalRoot == "" {
		return fmt.Errorf("%w: publication %s has no local_root", ErrConfigInvalid, p.Name)
	}
	if p.Transport == "" {
		return fmt.Errorf("%w: publication %s has no transport", ErrConfigInvalid, p.Name)
	}
	if p.ConflictStrategy != "" && !p.ConflictStrategy.IsValid() {
		return fmt.Errorf("%w: publication %s has invalid conflict strategy: %s",
			ErrConfigInvalid, p.Name, p.ConflictStrategy)
	}
	return nil
}

// LocalURI identifies the local copy of a relative path
func (p Publication) LocalURI(rel string) string {
	return filepath.Join(p.LocalRoot, filepath.FromSlash(rel))
}

// RemoteURI identifies the remote copy of a relative path as transport:/path
func (p Publication) RemoteURI(rel string) string {
	return p.Transport + ":" + path.Join("/", p.RemoteRoot, rel)
}

// SplitPatterns expands ";"-separated pattern lists into single patterns
func SplitPatterns(patterns []string) []string {
	var out []string
	for _, p := range patterns {
		for _, part := range strings.Split(p, ";") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
