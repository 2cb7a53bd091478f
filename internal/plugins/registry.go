package plugins

import (
	"errors"
	"sort"

	"github.com/xab-mack/scoutaudit/internal/model"
)

// Registry holds the detectors of one Load call keyed by declared id.
type Registry struct {
	detectors map[string]*Detector
	errors    []*LoadError
}

func newRegistry() *Registry {
	return &Registry{detectors: map[string]*Detector{}}
}

func (r *Registry) add(d *Detector) { r.detectors[d.ID()] = d }

// Errors returns the per-plugin failures in load order.
func (r *Registry) Errors() []*LoadError { return r.errors }

// Err joins all load errors, nil when every plugin loaded.
func (r *Registry) Err() error {
	errs := make([]error, len(r.errors))
	for i, e := range r.errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

func (r *Registry) Get(id string) (*Detector, bool) {
	d, ok := r.detectors[id]
	return d, ok
}

// IDs returns the loaded detector ids sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.detectors))
	for id := range r.detectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Detectors returns the loaded detectors sorted by id.
func (r *Registry) Detectors() []*Detector {
	out := make([]*Detector, 0, len(r.detectors))
	for _, id := range r.IDs() {
		out = append(out, r.detectors[id])
	}
	return out
}

func (r *Registry) Metadata() map[string]model.LintInfo {
	m := make(map[string]model.LintInfo, len(r.detectors))
	for id, d := range r.detectors {
		m[id] = d.Metadata()
	}
	return m
}

// Invocables returns the detectors with a standalone entry point.
func (r *Registry) Invocables() []Invocable {
	var out []Invocable
	for _, d := range r.Detectors() {
		if d.HasEntryPoint() {
			out = append(out, d)
		}
	}
	return out
}

// Paths returns library paths ordered by detector id.
func (r *Registry) Paths() []string {
	var out []string
	for _, d := range r.Detectors() {
		out = append(out, d.Path())
	}
	return out
}

// Retain keeps only the given ids and releases every other detector.
func (r *Registry) Retain(ids []string) {
	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}
	for id, d := range r.detectors {
		if _, ok := keep[id]; !ok {
			_ = d.Release()
			delete(r.detectors, id)
		}
	}
}

// Close releases every detector.
func (r *Registry) Close() error {
	var errs []error
	for id, d := range r.detectors {
		if err := d.Release(); err != nil && !errors.Is(err, ErrReleased) {
			errs = append(errs, err)
		}
		delete(r.detectors, id)
	}
	return errors.Join(errs...)
}
