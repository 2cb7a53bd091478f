package report

import (
	"bytes"
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/xab-mack/scoutaudit/internal/logging"
	"github.com/xab-mack/scoutaudit/internal/model"
	"github.com/xab-mack/scoutaudit/internal/tools"
)

const toolName = "scout-audit"

type sarif struct {
	Schema  string     `json:"$schema"`
	Version string     `json:"version"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool    sarifTool     `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}
type sarifDriver struct {
	Name  string      `json:"name"`
	Rules []sarifRule `json:"rules,omitempty"`
}

type sarifRule struct {
	ID               string       `json:"id"`
	Name             string       `json:"name,omitempty"`
	ShortDescription sarifMessage `json:"shortDescription"`
	FullDescription  sarifMessage `json:"fullDescription"`
	HelpURI          string       `json:"helpUri,omitempty"`
}

type sarifResult struct {
	RuleID    string       `json:"ruleId"`
	Level     string       `json:"level"`
	Message   sarifMessage `json:"message"`
	Locations []sarifLoc   `json:"locations"`
}

type sarifMessage struct {
	Text string `json:"text"`
}
type sarifLoc struct {
	Physical sarifPhys `json:"physicalLocation"`
}
type sarifPhys struct {
	ArtifactLocation sarifArt    `json:"artifactLocation"`
	Region           sarifRegion `json:"region"`
}
type sarifArt struct {
	URI string `json:"uri"`
}
type sarifRegion struct {
	StartLine   int `json:"startLine"`
	EndLine     int `json:"endLine"`
	StartColumn int `json:"startColumn,omitempty"`
	EndColumn   int `json:"endColumn,omitempty"`
}

func sarifLevel(severity string) string {
	switch model.ParseSeverity(severity) {
	case model.SeverityCritical:
		return "error"
	case model.SeverityMedium:
		return "warning"
	default:
		return "note"
	}
}

// ToSARIF writes the report as SARIF 2.1.0 without external tools.
func ToSARIF(r *model.Report) ([]byte, error) {
	severity := map[string]string{}
	var rules []sarifRule
	for _, c := range r.Categories {
		for _, v := range c.Vulnerabilities {
			severity[v.ID] = v.Severity
			rules = append(rules, sarifRule{
				ID:               v.ID,
				Name:             v.Name,
				ShortDescription: sarifMessage{Text: v.ShortMessage},
				FullDescription:  sarifMessage{Text: v.LongMessage},
				HelpURI:          v.Help,
			})
		}
	}
	results := []sarifResult{}
	for _, f := range r.Findings {
		results = append(results, sarifResult{
			RuleID:  f.VulnerabilityID,
			Level:   sarifLevel(severity[f.VulnerabilityID]),
			Message: sarifMessage{Text: f.ErrorMessage},
			Locations: []sarifLoc{{Physical: sarifPhys{
				ArtifactLocation: sarifArt{URI: f.FilePath},
				Region: sarifRegion{
					StartLine:   f.Span.LineStart,
					EndLine:     f.Span.LineEnd,
					StartColumn: f.Span.ColumnStart,
					EndColumn:   f.Span.ColumnEnd,
				},
			}}},
		})
	}
	s := sarif{
		Schema:  "https://json.schemastore.org/sarif-2.1.0.json",
		Version: "2.1.0",
		Runs:    []sarifRun{{Tool: sarifTool{Driver: sarifDriver{Name: toolName, Rules: rules}}, Results: results}},
	}
	return json.MarshalIndent(s, "", "  ")
}

// SARIF pipes the raw diagnostic stream through converter (clippy-sarif by
// default). When the converter is missing or fails the native writer is
// used.
func SARIF(ctx context.Context, converter string, stream []byte, r *model.Report, log *zap.SugaredLogger) ([]byte, error) {
	log = logging.OrNop(log)
	if converter != "" && tools.Available(converter) {
		res := tools.Run(ctx, tools.Spec{Tool: converter, Stdin: bytes.NewReader(stream)})
		if res.Err == nil && len(bytes.TrimSpace(res.Raw)) > 0 {
			return res.Raw, nil
		}
		log.Debugw("sarif converter failed, using native writer", "converter", converter, "error", res.Err)
	} else {
		log.Debugw("sarif converter not found, using native writer", "converter", converter)
	}
	return ToSARIF(r)
}
