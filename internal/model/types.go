package model

import (
	"encoding/json"
	"strings"
)

type Ecosystem string

const (
	EcosystemInk             Ecosystem = "ink"
	EcosystemSoroban         Ecosystem = "soroban"
	EcosystemSubstratePallet Ecosystem = "substrate-pallet"
	EcosystemAptos           Ecosystem = "aptos"
)

// Ecosystems lists every supported ecosystem in display order.
func Ecosystems() []Ecosystem {
	return []Ecosystem{EcosystemInk, EcosystemSoroban, EcosystemSubstratePallet, EcosystemAptos}
}

func ParseEcosystem(s string) (Ecosystem, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "_", "-")
	for _, e := range Ecosystems() {
		if string(e) == norm {
			return e, true
		}
	}
	if norm == "substratepallet" || norm == "substrate" {
		return EcosystemSubstratePallet, true
	}
	return "", false
}

type Severity string

const (
	SeverityEnhancement Severity = "enhancement"
	SeverityMinor       Severity = "minor"
	SeverityMedium      Severity = "medium"
	SeverityCritical    Severity = "critical"
)

func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(SeverityCritical):
		return SeverityCritical
	case string(SeverityMedium):
		return SeverityMedium
	case string(SeverityMinor):
		return SeverityMinor
	default:
		return SeverityEnhancement
	}
}

// LintInfo is the validated metadata a detector library declares about itself.
type LintInfo struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	ShortMessage       string `json:"short_message"`
	LongMessage        string `json:"long_message"`
	Severity           string `json:"severity"`
	Help               string `json:"help"`
	VulnerabilityClass string `json:"vulnerability_class"`
}

// RawFinding is one side-channel record before classification. Unit is the
// compilation unit the record declares; Payload is the detector's message.
type RawFinding struct {
	Unit    string          `json:"crate"`
	Payload json.RawMessage `json:"message"`
}

type Span struct {
	File        string `json:"file"`
	LineStart   int    `json:"line_start"`
	LineEnd     int    `json:"line_end"`
	ColumnStart int    `json:"column_start"`
	ColumnEnd   int    `json:"column_end"`
}

type Finding struct {
	ID              string `json:"id"`
	OccurrenceIndex int    `json:"occurrence_index"`
	CategoryID      string `json:"category_id"`
	VulnerabilityID string `json:"vulnerability_id"`
	ErrorMessage    string `json:"error_message"`
	Span            Span   `json:"span"`
	CodeSnippet     string `json:"code_snippet"`
	Package         string `json:"package"`
	FilePath        string `json:"file_path"`
}

type Vulnerability struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ShortMessage string `json:"short_message"`
	LongMessage  string `json:"long_message"`
	Severity     string `json:"severity"`
	Help         string `json:"help"`
}

type Category struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
}

type ProjectInfo struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Description string    `json:"description"`
	Workspace   string    `json:"workspace_root"`
	Packages    []string  `json:"packages"`
	Ecosystem   Ecosystem `json:"ecosystem"`
}

type SummaryCategory struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Link         string `json:"link"`
	ResultsCount int    `json:"results_count"`
	Severity     string `json:"severity"`
}

type Summary struct {
	TotalFindings int               `json:"total_findings"`
	Categories    []SummaryCategory `json:"categories"`
}

type Report struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Date        string          `json:"date"`
	Source      ProjectInfo     `json:"source"`
	Summary     Summary         `json:"summary"`
	Categories  []Category      `json:"categories"`
	Findings    []Finding       `json:"findings"`
	Units       map[string]bool `json:"units"`
	Incomplete  bool            `json:"incomplete"`
}
