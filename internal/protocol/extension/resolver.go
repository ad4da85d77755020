package extension

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ManifestFileName is read from each package directory.
const ManifestFileName = "module.json"

// Package is an installed sibling extension.
type Package struct {
	Name    string
	Version string
	Active  bool
	// BaseURL is where the package's files are served, ending in a slash.
	BaseURL string
}

// Resolver finds installed packages by name.
type Resolver interface {
	Lookup(ctx context.Context, name string) (Package, bool, error)
}

// Lister enumerates installed packages.
type Lister interface {
	Packages(ctx context.Context) ([]Package, error)
}

// StaticResolver serves a fixed package set.
type StaticResolver map[string]Package

// Lookup implements Resolver.
func (s StaticResolver) Lookup(_ context.Context, name string) (Package, bool, error) {
	pkg, ok := s[name]
	return pkg, ok, nil
}

// Packages implements Lister.
func (s StaticResolver) Packages(context.Context) ([]Package, error) {
	out := make([]Package, 0, len(s))
	for _, pkg := range s {
		out = append(out, pkg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type manifest struct {
	ID      string `json:"id"`
	Version string `json:"version"`
	Active  *bool  `json:"active"`
}

// ManifestResolver reads <Dir>/<name>/module.json and serves packages from
// <HostURL>/modules/<name>/. A manifest without an "active" field counts as
// active.
type ManifestResolver struct {
	Dir     string
	HostURL string
}

// NewManifestResolver builds a ManifestResolver.
func NewManifestResolver(dir, hostURL string) *ManifestResolver {
	return &ManifestResolver{Dir: dir, HostURL: strings.TrimRight(hostURL, "/")}
}

// Lookup implements Resolver.
func (m *ManifestResolver) Lookup(_ context.Context, name string) (Package, bool, error) {
	if !validName(name) {
		return Package{}, false, nil
	}
	pkg, err := m.read(name)
	if errors.Is(err, fs.ErrNotExist) {
		return Package{}, false, nil
	}
	if err != nil {
		return Package{}, false, err
	}
	return pkg, true, nil
}

// Packages lists every directory holding a readable manifest.
func (m *ManifestResolver) Packages(context.Context) ([]Package, error) {
	entries, err := os.ReadDir(m.Dir)
	if err != nil {
		return nil, fmt.Errorf("read extensions dir: %w", err)
	}
	var out []Package
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pkg, err := m.read(entry.Name())
		if err != nil {
			continue
		}
		out = append(out, pkg)
	}
	return out, nil
}

func (m *ManifestResolver) read(name string) (Package, error) {
	data, err := os.ReadFile(filepath.Join(m.Dir, name, ManifestFileName))
	if err != nil {
		return Package{}, fmt.Errorf("read manifest for %s: %w", name, err)
	}
	var mf manifest
	if err := json.Unmarshal(data, &mf); err != nil {
		return Package{}, fmt.Errorf("decode manifest for %s: %w", name, err)
	}
	active := mf.Active == nil || *mf.Active
	return Package{
		Name:    name,
		Version: mf.Version,
		Active:  active,
		BaseURL: m.HostURL + "/modules/" + name + "/",
	}, nil
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}
