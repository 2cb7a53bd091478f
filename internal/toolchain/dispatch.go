// Package toolchain decides which compiler toolchain an audited project needs
// and makes sure the pipeline runs under it.
package toolchain

import (
	"fmt"
	"strings"

	"github.com/xab-mack/scoutaudit/internal/model"
)

const (
	InkToolchain     = "nightly-2023-12-16"
	SorobanToolchain = "nightly-2024-07-11"
	AptosToolchain   = "nightly-2024-07-11"
)

// Requirement is the single toolchain a run is pinned to.
type Requirement struct {
	Ecosystem model.Ecosystem `json:"ecosystem"`
	Toolchain string          `json:"toolchain"`
}

func (r Requirement) String() string { return r.Toolchain }

type marker struct {
	dependency string
	ecosystem  model.Ecosystem
}

// markers are checked in order; the first dependency present wins.
var markers = []marker{
	{"soroban-sdk", model.EcosystemSoroban},
	{"ink", model.EcosystemInk},
	{"frame-system", model.EcosystemSubstratePallet},
}

var defaultToolchains = map[model.Ecosystem]string{
	model.EcosystemInk:             InkToolchain,
	model.EcosystemSoroban:         SorobanToolchain,
	model.EcosystemSubstratePallet: InkToolchain,
	model.EcosystemAptos:           AptosToolchain,
}

var detectorRepos = map[model.Ecosystem]string{
	model.EcosystemInk:             "https://github.com/CoinFabrik/scout",
	model.EcosystemSoroban:         "https://github.com/CoinFabrik/scout-soroban",
	model.EcosystemSubstratePallet: "https://github.com/CoinFabrik/scout-substrate",
	model.EcosystemAptos:           "https://github.com/swaroop-osec/scout-soroban",
}

// DetectorsURL is the repository holding the detector set of an ecosystem.
func DetectorsURL(e model.Ecosystem) string { return detectorRepos[e] }

type UnsupportedEcosystemError struct {
	Supported []model.Ecosystem
}

func (e *UnsupportedEcosystemError) Error() string {
	names := make([]string, len(e.Supported))
	for i, s := range e.Supported {
		names[i] = string(s)
	}
	return "no supported blockchain dependency found; supported ecosystems: " + strings.Join(names, ", ")
}

// Policy controls dispatch when no marker matches and overrides toolchains.
type Policy struct {
	Fallback   model.Ecosystem
	Toolchains map[string]string
}

// Dispatch classifies a project from its immediate dependency names.
func Dispatch(deps map[string]struct{}, p Policy) (Requirement, error) {
	eco := p.Fallback
	for _, m := range markers {
		if _, ok := deps[m.dependency]; ok {
			eco = m.ecosystem
			break
		}
	}
	if eco == "" {
		return Requirement{}, &UnsupportedEcosystemError{Supported: model.Ecosystems()}
	}
	tc, ok := defaultToolchains[eco]
	if !ok {
		return Requirement{}, fmt.Errorf("ecosystem %q: %w", eco, &UnsupportedEcosystemError{Supported: model.Ecosystems()})
	}
	if override := p.Toolchains[string(eco)]; override != "" {
		tc = override
	}
	return Requirement{Ecosystem: eco, Toolchain: tc}, nil
}
