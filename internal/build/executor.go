// Package build runs the compiler driver with detector libraries attached and
// captures its diagnostic stream and any side-channel findings.
package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xab-mack/scoutaudit/internal/logging"
	"github.com/xab-mack/scoutaudit/internal/plugins"
	"github.com/xab-mack/scoutaudit/internal/telemetry"
)

type Mode int

const (
	// PassThrough captures only the driver's stream.
	PassThrough Mode = iota
	// Intercepted also collects findings detectors post to the side channel.
	Intercepted
)

func (m Mode) String() string {
	if m == Intercepted {
		return "intercepted"
	}
	return "pass-through"
}

type CheckRequest struct {
	ManifestPath string
	PluginPaths  []string
	// Args are passed to the check command after "--".
	Args       []string
	Mode       Mode
	Invocables []plugins.Invocable
	// ProjectKey scopes temporary streams so stale ones can be found.
	ProjectKey string
}

type Result struct {
	Stream       *Stream
	SideFindings []string
	// DroppedFindings counts side-channel posts refused as too large or
	// unreadable.
	DroppedFindings int
	// DriverErr is set when the driver failed. The stream is still valid.
	DriverErr error
	ExitCode  int
}

type Executor struct {
	// Program and Subcommand form the driver command, "cargo dylint" by
	// default.
	Program    string
	Subcommand []string
	TempDir    string
	Env        []string
	Stderr     io.Writer
	Forwarder  *telemetry.Forwarder
	Log        *zap.SugaredLogger
}

func NewExecutor() *Executor {
	return &Executor{
		Program:    "cargo",
		Subcommand: []string{"dylint"},
		TempDir:    os.TempDir(),
		Stderr:     os.Stderr,
		Forwarder:  telemetry.NewForwarder(),
	}
}

// Command returns the driver arguments for req writing its stdout to
// streamPath.
func (e *Executor) Command(req CheckRequest, streamPath string) []string {
	args := append([]string(nil), e.Subcommand...)
	args = append(args, "--pipe-stdout", streamPath)
	for _, p := range req.PluginPaths {
		args = append(args, "--lib-path", p)
	}
	if req.ManifestPath != "" {
		args = append(args, "--manifest-path", req.ManifestPath)
	}
	args = append(args, "--")
	return append(args, req.Args...)
}

// RunCheck runs the driver. A failing driver is reported in Result, not as an
// error; errors are returned only when the run could not be set up. The
// caller owns Result.Stream and must Close it.
func (e *Executor) RunCheck(ctx context.Context, req CheckRequest) (*Result, error) {
	log := logging.OrNop(e.Log)

	if n, err := CleanStale(e.TempDir, req.ProjectKey); err != nil {
		log.Debugw("stale stream cleanup", "error", err)
	} else if n > 0 {
		log.Debugw("removed stale streams", "count", n)
	}
	stream, err := newStream(e.TempDir, req.ProjectKey)
	if err != nil {
		return nil, err
	}
	res := &Result{Stream: stream}

	if req.Mode == PassThrough {
		res.ExitCode, res.DriverErr = e.runDriver(ctx, req, stream, nil)
		e.invoke(req.Invocables, "")
		return res, nil
	}

	col, err := newCollector()
	if err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("start findings collector: %w", err)
	}
	port := col.Port()
	log.Debugw("collector listening", "port", port)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return col.serve()
	})
	g.Go(func() error {
		defer func() {
			if err := col.shutdown(context.WithoutCancel(gctx)); err != nil {
				log.Debugw("collector shutdown", "error", err)
			}
		}()
		env := []string{telemetry.PortEnv + "=" + port}
		res.ExitCode, res.DriverErr = e.runDriver(gctx, req, stream, env)
		e.invoke(req.Invocables, port)
		return nil
	})
	if err := g.Wait(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("findings collector: %w", err)
	}
	res.SideFindings = col.Records()
	res.DroppedFindings = col.Dropped()
	return res, nil
}

func (e *Executor) runDriver(ctx context.Context, req CheckRequest, stream *Stream, extraEnv []string) (int, error) {
	args := e.Command(req, stream.Path())
	logging.OrNop(e.Log).Debugw("running driver", "program", e.Program, "args", args, "mode", req.Mode.String())

	cmd := exec.CommandContext(ctx, e.Program, args...)
	cmd.Env = append(append(os.Environ(), e.Env...), extraEnv...)
	cmd.Stdin = os.Stdin
	cmd.Stderr = e.Stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), fmt.Errorf("%s %s exited with code %d", e.Program, strings.Join(e.Subcommand, " "), exitErr.ExitCode())
		}
		return -1, fmt.Errorf("run %s: %w", e.Program, err)
	}
	return 0, nil
}

// invoke runs each standalone entry point under the telemetry forwarder. A
// panicking detector is logged and the rest still run.
func (e *Executor) invoke(invocables []plugins.Invocable, port string) {
	log := logging.OrNop(e.Log)
	fwd := e.Forwarder
	if fwd == nil {
		fwd = telemetry.NewForwarder()
	}
	for _, inv := range invocables {
		err := callSafely(func() {
			fwd.GuardedCall(port, func() {
				if err := inv.Invoke(); err != nil {
					log.Debugw("entry point", "id", inv.ID(), "error", err)
				}
			})
		})
		if err != nil {
			log.Warnw("detector entry point panicked", "id", inv.ID(), "error", err)
		}
	}
}

func callSafely(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	fn()
	return nil
}
