package telemetry

import (
	"bytes"
	"io"
	"os"
)

// Sink redirects the process's error channel for the span of one capture.
type Sink interface {
	Start() (Capture, error)
}

// Capture is an active redirection. Stop restores the original channel and
// returns what was written in between.
type Capture interface {
	Stop() ([]byte, error)
}

// drain collects everything read from r until it closes.
type drain struct {
	buf  bytes.Buffer
	done chan struct{}
}

func startDrain(r io.Reader) *drain {
	d := &drain{done: make(chan struct{})}
	go func() {
		defer close(d.done)
		_, _ = io.Copy(&d.buf, r)
	}()
	return d
}

func (d *drain) wait() []byte {
	<-d.done
	return d.buf.Bytes()
}

// VarSink swaps the os.Stderr variable. Writes made directly to file
// descriptor 2 are not seen.
type VarSink struct{}

type varCapture struct {
	old *os.File
	r   *os.File
	w   *os.File
	d   *drain
}

func (VarSink) Start() (Capture, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	c := &varCapture{old: os.Stderr, r: r, w: w, d: startDrain(r)}
	os.Stderr = w
	return c, nil
}

func (c *varCapture) Stop() ([]byte, error) {
	os.Stderr = c.old
	err := c.w.Close()
	out := c.d.wait()
	_ = c.r.Close()
	return out, err
}
