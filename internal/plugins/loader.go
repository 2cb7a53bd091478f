// Package plugins loads detector shared libraries and exposes their metadata
// and optional standalone entry points behind safe types. All foreign calls
// into detector code happen in this package.
package plugins

import (
	"fmt"
	"runtime"

	"go.uber.org/zap"

	"github.com/xab-mack/scoutaudit/internal/logging"
)

// Verifier checks a library file before it is opened.
type Verifier interface {
	Verify(path string) error
}

type Loader struct {
	Opener   Opener
	Verifier Verifier
	Log      *zap.SugaredLogger
}

func NewLoader() *Loader {
	return &Loader{Opener: DlOpener{}}
}

// Load opens every path. A failing plugin is recorded in the registry's
// errors and loading continues with the rest; callers decide whether any
// error is fatal.
func (l *Loader) Load(paths []string) *Registry {
	log := logging.OrNop(l.Log)
	reg := newRegistry()
	for _, path := range paths {
		d, lerr := l.loadOne(path)
		if lerr != nil {
			log.Debugw("detector rejected", "path", path, "kind", lerr.Kind.String(), "error", lerr.Err)
			reg.errors = append(reg.errors, lerr)
			continue
		}
		if prev, dup := reg.detectors[d.ID()]; dup {
			_ = d.Release()
			reg.errors = append(reg.errors, &LoadError{
				Kind: DuplicateID,
				Path: path,
				Err:  fmt.Errorf("id %q already declared by %s", d.ID(), prev.Path()),
			})
			continue
		}
		reg.add(d)
		log.Debugw("detector loaded", "id", d.ID(), "path", path, "entry_point", d.HasEntryPoint())
	}
	return reg
}

func (l *Loader) loadOne(path string) (*Detector, *LoadError) {
	if l.Verifier != nil {
		if err := l.Verifier.Verify(path); err != nil {
			return nil, &LoadError{Kind: SignatureInvalid, Path: path, Err: err}
		}
	}
	lib, err := l.Opener.Open(path)
	if err != nil {
		return nil, &LoadError{Kind: OpenFailed, Path: path, Err: err}
	}
	h := newHandle(path, lib)
	fail := func(k Kind, err error) (*Detector, *LoadError) {
		_ = h.Release()
		return nil, &LoadError{Kind: k, Path: path, Err: err}
	}

	if version, err := lib.StringFunc(SymbolABIVersion); err == nil {
		if err := CheckABIVersion(version()); err != nil {
			return fail(ABIMismatch, err)
		}
	}

	lintInfo, err := lib.MetadataFunc(SymbolLintInfo)
	if err != nil {
		return fail(MissingMetadataExport, err)
	}
	raw := new(RawMetadataRecord)
	lintInfo(raw)
	runtime.KeepAlive(raw)
	info, err := raw.Decode()
	if err != nil {
		return fail(kindOf(err, InvalidEncoding), err)
	}

	d := &Detector{info: info, path: path, handle: h}
	entry, err := lib.VoidFunc(SymbolCustomDetector)
	if err != nil {
		// No symbol outlives this call.
		_ = h.Release()
		d.handle = nil
		return d, nil
	}
	d.entry = entry
	return d, nil
}
