package engine

import (
	"encoding/json"
	"errors"
	"os"
	"sort"
	"time"

	"github.com/xab-mack/scoutaudit/internal/model"
)

// Baseline is a set of accepted finding fingerprints.
type Baseline struct {
	GeneratedAt  time.Time       `json:"generatedAt"`
	Fingerprints map[string]bool `json:"fingerprints"`
}

// LoadBaseline accepts either a bare JSON array of fingerprints or the full
// Baseline object. A missing file yields an empty baseline.
func LoadBaseline(path string) (Baseline, error) {
	b := Baseline{Fingerprints: map[string]bool{}}
	if path == "" {
		return b, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return b, nil
	}
	if err != nil {
		return b, err
	}
	var fp []string
	if err := json.Unmarshal(data, &fp); err == nil {
		for _, f := range fp {
			b.Fingerprints[f] = true
		}
		return b, nil
	}
	if err := json.Unmarshal(data, &b); err != nil {
		return b, err
	}
	if b.Fingerprints == nil {
		b.Fingerprints = map[string]bool{}
	}
	return b, nil
}

func filterByBaseline(findings []model.Finding, b Baseline) []model.Finding {
	if len(b.Fingerprints) == 0 {
		return findings
	}
	var out []model.Finding
	for _, f := range findings {
		if f.ID != "" && b.Fingerprints[f.ID] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// WriteBaseline records the fingerprints of findings, sorted.
func WriteBaseline(path string, findings []model.Finding, now time.Time) error {
	b := Baseline{GeneratedAt: now.UTC(), Fingerprints: map[string]bool{}}
	for _, f := range findings {
		if f.ID != "" {
			b.Fingerprints[f.ID] = true
		}
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// List returns the baseline fingerprints sorted.
func (b Baseline) List() []string {
	out := make([]string, 0, len(b.Fingerprints))
	for k := range b.Fingerprints {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
