package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const FileName = ".scout-audit.yml"

type IgnoreRule struct {
	Detector string `yaml:"detector"`
	Path     string `yaml:"path"`
	Reason   string `yaml:"reason"`
}

type Profile struct {
	Enabled []string `yaml:"enabled"`
}

type Config struct {
	// FallbackEcosystem is used when no dependency marker matches. Empty
	// means dispatch fails and names the supported ecosystems.
	FallbackEcosystem string             `yaml:"fallbackEcosystem"`
	Toolchains        map[string]string  `yaml:"toolchains,omitempty"`
	DetectorsDir      string             `yaml:"detectorsDir"`
	StrictPlugins     bool               `yaml:"strictPlugins"`
	Profiles          map[string]Profile `yaml:"profiles,omitempty"`
	Ignore            []IgnoreRule       `yaml:"ignore,omitempty"`
	Baseline          string             `yaml:"baseline,omitempty"`
	VerifyKeyring     string             `yaml:"verifyKeyring,omitempty"`
	SarifConverter    string             `yaml:"sarifConverter"`
}

func Default() Config {
	return Config{
		DetectorsDir:   defaultDetectorsDir(),
		SarifConverter: "clippy-sarif",
	}
}

func defaultDetectorsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".scout-audit", "detectors")
}

// Load searches startDir and its parents for FileName. The returned path is
// empty when no file was found and the defaults apply.
func Load(startDir string) (Config, string, error) {
	cfg := Default()
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return cfg, "", err
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			b, err := os.ReadFile(candidate)
			if err != nil {
				return cfg, candidate, err
			}
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, candidate, fmt.Errorf("parse %s: %w", candidate, err)
			}
			if !filepath.IsAbs(cfg.DetectorsDir) && cfg.DetectorsDir != "" {
				cfg.DetectorsDir = filepath.Join(dir, cfg.DetectorsDir)
			}
			return cfg, candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir { // reached root
			break
		}
		dir = parent
	}
	return cfg, "", nil
}

func Write(dir string, cfg Config) (string, error) {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, FileName)
	return path, os.WriteFile(path, b, 0o644)
}

// ProfileDetectors returns the detectors enabled by the named profile.
func (c Config) ProfileDetectors(name string) ([]string, error) {
	p, ok := c.Profiles[name]
	if !ok {
		return nil, fmt.Errorf("profile %q not found in %s", name, FileName)
	}
	return p.Enabled, nil
}
