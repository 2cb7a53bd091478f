package plugins

import (
	"sync"

	"github.com/xab-mack/scoutaudit/internal/model"
)

// MetadataProvider is implemented by every loaded detector.
type MetadataProvider interface {
	Metadata() model.LintInfo
}

// Invocable is implemented by detectors exporting a standalone entry point.
type Invocable interface {
	ID() string
	Invoke() error
}

// Detector is one loaded detector library.
type Detector struct {
	info   model.LintInfo
	path   string
	handle *Handle
	entry  func()

	releaseOnce sync.Once
	releaseErr  error
}

func (d *Detector) ID() string               { return d.info.ID }
func (d *Detector) Path() string             { return d.path }
func (d *Detector) Metadata() model.LintInfo { return d.info }
func (d *Detector) HasEntryPoint() bool      { return d.entry != nil }

// Invoke calls the standalone entry point. The library stays loaded for the
// duration of the call even if the detector is released concurrently.
func (d *Detector) Invoke() error {
	if d.entry == nil {
		return ErrNoEntryPoint
	}
	if d.handle == nil || !d.handle.Acquire() {
		return ErrReleased
	}
	defer d.handle.Release()
	d.entry()
	return nil
}

// Release drops the detector's reference to its library.
func (d *Detector) Release() error {
	if d.handle == nil {
		return nil
	}
	d.releaseOnce.Do(func() { d.releaseErr = d.handle.Release() })
	return d.releaseErr
}
