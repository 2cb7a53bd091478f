// Package telemetry intercepts error output and panics raised by detector code
// running inside the build and relays them to the audit's side-channel
// collector when one is listening.
package telemetry

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/xab-mack/scoutaudit/internal/logging"
	"github.com/xab-mack/scoutaudit/internal/model"
)

const (
	// PortEnv names the collector port. Unset means no listener.
	PortEnv = "SCOUT_PORT_NUMBER"
	// UnitEnv names the compilation unit being built.
	UnitEnv = "CARGO_CRATE_NAME"
)

// Output capture is a single process-wide resource.
var captureMu sync.Mutex

type Forwarder struct {
	Sink   Sink
	Relay  Relay
	Getenv func(string) string
	Log    *zap.SugaredLogger
}

// NewForwarder captures stderr at the file descriptor level and relays over
// HTTP.
func NewForwarder() *Forwarder {
	return &Forwarder{Sink: DefaultSink(), Relay: NewHTTPRelay(), Getenv: os.Getenv}
}

// GuardedCall runs work with error output captured. With an empty port work
// runs directly. Otherwise the first captured line is relayed to the listener,
// wrapped with the current unit when it parses as JSON. A panic in work is
// re-raised after the relay. Captures serialize process wide; the relay runs
// after the lock is released.
func (f *Forwarder) GuardedCall(port string, work func()) {
	if port == "" {
		captureMu.Lock()
		defer captureMu.Unlock()
		work()
		return
	}

	out := f.capture(work)
	if out.relay {
		if err := f.Relay.Send(port, out.body); err != nil {
			logging.OrNop(f.Log).Debugw("relay failed", "port", port, "error", err)
		}
	}
	if out.panicked {
		panic(out.recovered)
	}
}

type captured struct {
	body      []byte
	relay     bool
	recovered any
	panicked  bool
}

// capture holds captureMu for redirect, invoke, restore and read only.
func (f *Forwarder) capture(work func()) (out captured) {
	log := logging.OrNop(f.Log)
	captureMu.Lock()
	defer captureMu.Unlock()

	c, err := f.Sink.Start()
	if err != nil {
		log.Debugw("capture unavailable", "error", err)
		work()
		return out
	}
	stopped := false
	// work may leave through runtime.Goexit, which recover does not see.
	defer func() {
		if !stopped {
			_, _ = c.Stop()
		}
	}()

	out.recovered, out.panicked = run(work)

	text, err := c.Stop()
	stopped = true
	if err != nil {
		log.Debugw("capture stop", "error", err)
	}
	if out.panicked {
		text = append(text, fmt.Sprintf("panic: %v\n", out.recovered)...)
	}
	out.body = f.body(firstLine(text))
	out.relay = true
	return out
}

func run(work func()) (recovered any, panicked bool) {
	panicked = true
	defer func() {
		if panicked {
			recovered = recover()
		}
	}()
	work()
	panicked = false
	return nil, false
}

func firstLine(b []byte) []byte {
	line, err := bufio.NewReader(bytes.NewReader(b)).ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return nil
	}
	return line
}

func (f *Forwarder) body(captured []byte) []byte {
	trimmed := bytes.TrimSpace(captured)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return captured
	}
	getenv := f.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	wrapped, err := json.Marshal(model.RawFinding{Unit: getenv(UnitEnv), Payload: trimmed})
	if err != nil {
		return captured
	}
	return wrapped
}
