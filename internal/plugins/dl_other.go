//go:build !(darwin || linux || freebsd)

package plugins

import (
	"fmt"
	"runtime"
)

type DlOpener struct{}

func (DlOpener) Open(path string) (Library, error) {
	return nil, fmt.Errorf("dynamic detector libraries are not supported on %s", runtime.GOOS)
}
