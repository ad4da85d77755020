// Package local persists calendar sources as a JSON or YAML file.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"sigs.k8s.io/yaml"

	"github.com/JakeFAU/calendar-sources/internal/calendar"
)

const defaultFileName = "sources.json"

// Config captures the parameters for the file-backed source store.
type Config struct {
	// BaseDir is the directory holding the sources file.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
	// FileName defaults to sources.json; a .yaml or .yml name switches the
	// encoding to YAML.
	FileName string `mapstructure:"file_name" yaml:"file_name"`
}

type document struct {
	Sources []calendar.ExternalSource `json:"sources"`
}

// SourceStore reads and writes the configured sources file.
type SourceStore struct {
	mu   sync.Mutex
	path string
}

// New creates a file-backed source store, creating BaseDir when missing.
func New(cfg Config) (*SourceStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	name := cfg.FileName
	if name == "" {
		name = defaultFileName
	}
	if filepath.Base(name) != name {
		return nil, fmt.Errorf("file name %q must not contain a path", name)
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	return &SourceStore{path: filepath.Join(cfg.BaseDir, name)}, nil
}

// Path returns the sources file location.
func (s *SourceStore) Path() string { return s.path }

// LoadSources reads the sources file. A missing file yields no sources.
func (s *SourceStore) LoadSources(ctx context.Context) ([]calendar.ExternalSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("load sources: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	if calendar.IsYAMLName(s.path) {
		if data, err = yaml.YAMLToJSON(data); err != nil {
			return nil, fmt.Errorf("decode %s: %w", s.path, err)
		}
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return doc.Sources, nil
}

// SaveSources replaces the file contents atomically.
func (s *SourceStore) SaveSources(ctx context.Context, sources []calendar.ExternalSource) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("save sources: %w", err)
	}
	if sources == nil {
		sources = []calendar.ExternalSource{}
	}
	data, err := json.MarshalIndent(document{Sources: sources}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sources: %w", err)
	}
	if calendar.IsYAMLName(s.path) {
		if data, err = yaml.JSONToYAML(data); err != nil {
			return fmt.Errorf("encode sources: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".sources-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}
