// Package cargo reads project metadata through `cargo metadata`.
package cargo

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/xab-mack/scoutaudit/internal/cache"
	"github.com/xab-mack/scoutaudit/internal/model"
	"github.com/xab-mack/scoutaudit/internal/tools"
)

type Dependency struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

type Target struct {
	Name string   `json:"name"`
	Kind []string `json:"kind"`
}

type Package struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Version      string       `json:"version"`
	Description  string       `json:"description"`
	ManifestPath string       `json:"manifest_path"`
	Dependencies []Dependency `json:"dependencies"`
	Targets      []Target     `json:"targets"`
}

// Metadata is the subset of `cargo metadata --format-version 1` output the
// audit pipeline needs.
type Metadata struct {
	Packages         []Package `json:"packages"`
	WorkspaceMembers []string  `json:"workspace_members"`
	WorkspaceRoot    string    `json:"workspace_root"`
	TargetDirectory  string    `json:"target_directory"`
}

// ValidateManifestPath checks a user supplied manifest path.
func ValidateManifestPath(path string) error {
	if path == "" {
		return nil
	}
	if filepath.Base(path) != "Cargo.toml" {
		return fmt.Errorf("invalid manifest path, ensure scout is being run in a Rust project, and the path is set to the Cargo.toml file.\n     → Manifest path: %q", path)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("Cargo.toml file not found, ensure the path is a valid file path.\n     → Manifest path: %q", path)
	}
	return nil
}

// metadataMaxAge bounds reuse of cached metadata; member manifests are not
// part of the key.
const metadataMaxAge = 10 * time.Minute

// Load runs `cargo metadata --no-deps`. Results are cached by manifest and
// lockfile content so a re-executed child does not pay for a second call.
func Load(ctx context.Context, manifestPath string) (*Metadata, error) {
	if err := ValidateManifestPath(manifestPath); err != nil {
		return nil, err
	}
	manifest := manifestPath
	if manifest == "" {
		manifest = "Cargo.toml"
	}
	abs, _ := filepath.Abs(manifest)
	key := cache.FileKey("cargo-metadata-v1", abs, filepath.Join(filepath.Dir(abs), "Cargo.lock"))
	store, _ := cache.Default(metadataMaxAge)
	if store != nil {
		if b, ok := store.Get(key); ok {
			if md, err := Parse(b); err == nil {
				return md, nil
			}
		}
	}
	args := []string{"metadata", "--format-version", "1", "--no-deps"}
	if manifestPath != "" {
		args = append(args, "--manifest-path", manifestPath)
	}
	res := tools.RunWithTimeout(ctx, "cargo", args...)
	if res.Err != nil {
		return nil, fmt.Errorf("failed to execute metadata command on this path, ensure this is a valid rust project or workspace directory.\n\n     → Caused by: %w", res.Err)
	}
	md, err := Parse(res.Raw)
	if err != nil {
		return nil, err
	}
	if store != nil {
		_ = store.Put(key, res.Raw)
	}
	return md, nil
}

func Parse(raw []byte) (*Metadata, error) {
	var md Metadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, fmt.Errorf("parse cargo metadata: %w", err)
	}
	return &md, nil
}

// Members returns the workspace member packages in declaration order.
func (m *Metadata) Members() []Package {
	byID := make(map[string]Package, len(m.Packages))
	for _, p := range m.Packages {
		byID[p.ID] = p
	}
	var out []Package
	for _, id := range m.WorkspaceMembers {
		if p, ok := byID[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// ImmediateDependencies is the set of dependency names declared directly by
// workspace members. Transitive dependencies are not considered.
func (m *Metadata) ImmediateDependencies() map[string]struct{} {
	deps := map[string]struct{}{}
	for _, p := range m.Members() {
		for _, d := range p.Dependencies {
			deps[d.Name] = struct{}{}
		}
	}
	return deps
}

func (m *Metadata) ProjectInfo(eco model.Ecosystem) model.ProjectInfo {
	info := model.ProjectInfo{Workspace: m.WorkspaceRoot, Ecosystem: eco}
	members := m.Members()
	for _, p := range members {
		info.Packages = append(info.Packages, p.Name)
	}
	sort.Strings(info.Packages)
	if len(members) > 0 {
		info.Name = members[0].Name
		info.Version = members[0].Version
		info.Description = members[0].Description
	}
	if len(members) > 1 || info.Name == "" {
		info.Name = filepath.Base(m.WorkspaceRoot)
	}
	return info
}
