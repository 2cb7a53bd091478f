package engine

import "github.com/xab-mack/scoutaudit/internal/model"

// dedupe collapses findings reported twice for the same fingerprint, which
// happens when a detector reports through both the compiler stream and the
// side channel. The first occurrence wins.
func dedupe(in []model.Finding) []model.Finding {
	seen := make(map[string]bool, len(in))
	var out []model.Finding
	for _, f := range in {
		if seen[f.ID] {
			continue
		}
		seen[f.ID] = true
		out = append(out, f)
	}
	return out
}
