package swcache

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest describes what the worker pre-caches and how requests are classified.
type Manifest struct {
	Prefix      string   `yaml:"prefix"`
	Version     int      `yaml:"version"`
	Precache    []string `yaml:"precache"`
	APIRoot     string   `yaml:"api_root"`
	ChunkPrefix string   `yaml:"chunk_prefix"`
	Home        string   `yaml:"home"`
}

// DefaultManifest returns the built-in manifest of must-have routes and assets.
func DefaultManifest() Manifest {
	return Manifest{
		Prefix:  "treniren",
		Version: 1,
		Precache: []string{
			"/",
			"/workouts",
			"/statistics",
			"/calendar",
			"/fingerboard",
			"/manifest.json",
			"/icon-192x192.png",
			"/icon-512x512.png",
		},
		APIRoot:     "/api/",
		ChunkPrefix: "/_next/static/",
		Home:        "/",
	}
}

// LoadManifest reads a YAML manifest from file. Fields missing from the file keep their
// default values. An empty path returns DefaultManifest.
func LoadManifest(file string) (Manifest, error) {
	m := DefaultManifest()
	if file == "" {
		return m, nil
	}

	raw, err := os.ReadFile(file)
	if err != nil {
		return m, fmt.Errorf("read manifest: %w", err)
	}
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return m, err
	}
	return m, nil
}

// Validate checks the fields the worker and arbiter rely on.
func (m Manifest) Validate() error {
	var errs []error
	if m.Prefix == "" {
		errs = append(errs, errors.New("prefix is required"))
	}
	if m.Version <= 0 {
		errs = append(errs, errors.New("version must be positive"))
	}
	if !strings.HasPrefix(m.APIRoot, "/") {
		errs = append(errs, errors.New("api_root must be an absolute path"))
	}
	if !strings.HasPrefix(m.Home, "/") {
		errs = append(errs, errors.New("home must be an absolute path"))
	}
	for _, p := range m.Precache {
		if !strings.HasPrefix(p, "/") {
			errs = append(errs, fmt.Errorf("precache entry %q must be an absolute path", p))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid manifest: %w", err)
	}
	return nil
}

// Generation returns the partition names for this manifest.
func (m Manifest) Generation() Generation {
	return Generation{Prefix: m.Prefix, Version: m.Version}
}

// IsPrecached reports whether p is listed verbatim in the pre-cache list.
func (m Manifest) IsPrecached(p string) bool {
	for _, entry := range m.Precache {
		if entry == p {
			return true
		}
	}
	return false
}

// IsAPI reports whether p falls under the API root.
func (m Manifest) IsAPI(p string) bool {
	return m.APIRoot != "" && strings.HasPrefix(p, m.APIRoot)
}

// IsChunk reports whether p is a build-output chunk.
func (m Manifest) IsChunk(p string) bool {
	return m.ChunkPrefix != "" && strings.HasPrefix(p, m.ChunkPrefix)
}
