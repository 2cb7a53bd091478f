//go:build linux || darwin || freebsd

package telemetry

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FDSink redirects file descriptor 2, so output from foreign code sharing the
// process is captured too.
type FDSink struct{}

type fdCapture struct {
	saved int
	r     *os.File
	w     *os.File
	d     *drain
}

func DefaultSink() Sink { return FDSink{} }

func (FDSink) Start() (Capture, error) {
	saved, err := unix.Dup(unix.Stderr)
	if err != nil {
		return nil, fmt.Errorf("dup stderr: %w", err)
	}
	r, w, err := os.Pipe()
	if err != nil {
		_ = unix.Close(saved)
		return nil, err
	}
	if err := dup2(int(w.Fd()), unix.Stderr); err != nil {
		_ = unix.Close(saved)
		_ = r.Close()
		_ = w.Close()
		return nil, fmt.Errorf("redirect stderr: %w", err)
	}
	return &fdCapture{saved: saved, r: r, w: w, d: startDrain(r)}, nil
}

func (c *fdCapture) Stop() ([]byte, error) {
	err := dup2(c.saved, unix.Stderr)
	_ = unix.Close(c.saved)
	// fd 2 no longer refers to the pipe; closing w ends the drain.
	_ = c.w.Close()
	out := c.d.wait()
	_ = c.r.Close()
	if err != nil {
		return out, fmt.Errorf("restore stderr: %w", err)
	}
	return out, nil
}
