package engine

import (
	"fmt"

	"github.com/xab-mack/scoutaudit/internal/config"
	"github.com/xab-mack/scoutaudit/internal/plugins"
)

// Selection narrows the loaded detector set.
type Selection struct {
	Profile string
	Filter  string
	Exclude string
}

// selectDetectors applies the profile first and then either the filter or
// the exclusion list.
func selectDetectors(ids []string, sel Selection, cfg config.Config) ([]string, error) {
	if sel.Profile != "" {
		enabled, err := cfg.ProfileDetectors(sel.Profile)
		if err != nil {
			return nil, err
		}
		ids = plugins.Restrict(ids, enabled)
	}
	switch {
	case sel.Filter != "":
		out, err := plugins.Filter(ids, sel.Filter)
		if err != nil {
			return nil, fmt.Errorf("%w\n\n     → Available detectors: %v", err, ids)
		}
		return out, nil
	case sel.Exclude != "":
		return plugins.Exclude(ids, sel.Exclude), nil
	}
	return ids, nil
}
