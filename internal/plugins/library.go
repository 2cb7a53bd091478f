package plugins

import (
	"sync"
)

// Library is an opened detector shared object. Functions it returns are only
// valid until Close; callers reach them through a Handle.
type Library interface {
	MetadataFunc(name string) (func(*RawMetadataRecord), error)
	VoidFunc(name string) (func(), error)
	StringFunc(name string) (func() string, error)
	Close() error
}

type Opener interface {
	Open(path string) (Library, error)
}

// Handle is shared ownership of a Library. The library is closed when the
// last reference is released, never while an Acquire is outstanding.
type Handle struct {
	path string
	lib  Library

	mu     sync.Mutex
	refs   int
	closed bool
}

func newHandle(path string, lib Library) *Handle {
	return &Handle{path: path, lib: lib, refs: 1}
}

func (h *Handle) Path() string { return h.path }

// Acquire adds a reference. It fails once the library has been closed.
func (h *Handle) Acquire() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.refs++
	return true
}

func (h *Handle) Release() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrReleased
	}
	h.refs--
	if h.refs > 0 {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()
	return h.lib.Close()
}
