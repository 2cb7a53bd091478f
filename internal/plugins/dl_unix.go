//go:build darwin || linux || freebsd

package plugins

import (
	"fmt"

	"github.com/ebitengine/purego"
)

// DlOpener opens detector libraries with dlopen(3) without cgo.
type DlOpener struct{}

func (DlOpener) Open(path string) (Library, error) {
	h, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return nil, err
	}
	return &dlLibrary{handle: h}, nil
}

type dlLibrary struct {
	handle uintptr
}

func (l *dlLibrary) sym(name string) (uintptr, error) {
	addr, err := purego.Dlsym(l.handle, name)
	if err != nil || addr == 0 {
		return 0, fmt.Errorf("%w: %s: %v", ErrSymbolNotFound, name, err)
	}
	return addr, nil
}

func (l *dlLibrary) MetadataFunc(name string) (func(*RawMetadataRecord), error) {
	addr, err := l.sym(name)
	if err != nil {
		return nil, err
	}
	var fn func(*RawMetadataRecord)
	purego.RegisterFunc(&fn, addr)
	return fn, nil
}

func (l *dlLibrary) VoidFunc(name string) (func(), error) {
	addr, err := l.sym(name)
	if err != nil {
		return nil, err
	}
	var fn func()
	purego.RegisterFunc(&fn, addr)
	return fn, nil
}

func (l *dlLibrary) StringFunc(name string) (func() string, error) {
	addr, err := l.sym(name)
	if err != nil {
		return nil, err
	}
	var fn func() string
	purego.RegisterFunc(&fn, addr)
	return fn, nil
}

func (l *dlLibrary) Close() error {
	return purego.Dlclose(l.handle)
}
