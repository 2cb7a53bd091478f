package toolchain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/xab-mack/scoutaudit/internal/logging"
)

const (
	// ActiveEnv is exported by rustup to processes it launches.
	ActiveEnv = "RUSTUP_TOOLCHAIN"
	// MarkerEnv is set on a re-executed child to the toolchain it was
	// launched for.
	MarkerEnv = "SCOUT_AUDIT_REEXEC"
)

type State int

const (
	NeedsDispatch State = iota
	RunningUnderCorrectToolchain
	ReExeced
)

func (s State) String() string {
	switch s {
	case NeedsDispatch:
		return "needs-dispatch"
	case RunningUnderCorrectToolchain:
		return "running-under-correct-toolchain"
	case ReExeced:
		return "re-execed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	ErrAlreadyDispatched = errors.New("toolchain dispatch already performed")
	// ErrToolchainMismatch means a re-executed child still does not run
	// under the required toolchain. Continuing would load detectors built
	// for a different compiler ABI.
	ErrToolchainMismatch = errors.New("re-executed process is not running under the required toolchain")
)

// Launcher builds the command that re-runs args under a toolchain.
type Launcher interface {
	Command(ctx context.Context, toolchain string, args []string) (*exec.Cmd, error)
}

// RustupLauncher re-runs the current executable through `rustup run`.
type RustupLauncher struct {
	Executable string
}

func (l RustupLauncher) Command(ctx context.Context, toolchain string, args []string) (*exec.Cmd, error) {
	exe := l.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return nil, fmt.Errorf("resolve current executable: %w", err)
		}
	}
	argv := append([]string{"run", toolchain, exe}, args...)
	return exec.CommandContext(ctx, "rustup", argv...), nil
}

// Reexec drives the NeedsDispatch -> RunningUnderCorrectToolchain | ReExeced
// transition for one process.
type Reexec struct {
	Launcher Launcher
	Getenv   func(string) string
	Stdin    io.Reader
	Stdout   io.Writer
	Stderr   io.Writer
	Log      *zap.SugaredLogger

	state    State
	exitCode int
}

func NewReexec() *Reexec {
	return &Reexec{
		Launcher: RustupLauncher{},
		Getenv:   os.Getenv,
		Stdin:    os.Stdin,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
	}
}

func (r *Reexec) State() State { return r.state }

// ExitCode is the child's exit code once the state is ReExeced.
func (r *Reexec) ExitCode() int { return r.exitCode }

// Active returns the toolchain the current process runs under, if known.
func (r *Reexec) Active() string { return r.getenv(ActiveEnv) }

func (r *Reexec) getenv(k string) string {
	if r.Getenv == nil {
		return os.Getenv(k)
	}
	return r.Getenv(k)
}

// Matches reports whether active names the required toolchain. rustup may
// append the host triple to the channel name.
func Matches(active, required string) bool {
	if active == "" || required == "" {
		return false
	}
	return active == required || strings.HasPrefix(active, required+"-")
}

// Ensure either confirms the process already runs under req or re-executes
// args in a child under req and waits for it. When the returned state is
// ReExeced the caller must stop and exit with ExitCode.
func (r *Reexec) Ensure(ctx context.Context, req Requirement, args []string) (State, error) {
	log := logging.OrNop(r.Log)
	if r.state != NeedsDispatch {
		return r.state, ErrAlreadyDispatched
	}
	active := r.Active()
	if Matches(active, req.Toolchain) {
		r.state = RunningUnderCorrectToolchain
		log.Debugw("running under required toolchain", "toolchain", req.Toolchain)
		return r.state, nil
	}
	if r.getenv(MarkerEnv) == req.Toolchain {
		return r.state, fmt.Errorf("%w: required %s, active %q", ErrToolchainMismatch, req.Toolchain, active)
	}

	cmd, err := r.Launcher.Command(ctx, req.Toolchain, args)
	if err != nil {
		return r.state, err
	}
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Env = append(cmd.Env, MarkerEnv+"="+req.Toolchain)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = r.Stdin, r.Stdout, r.Stderr

	log.Debugw("re-executing under toolchain", "toolchain", req.Toolchain, "active", active)
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return r.state, fmt.Errorf("failed to run scout under toolchain %s: %w", req.Toolchain, err)
		}
		r.exitCode = exitErr.ExitCode()
	}
	r.state = ReExeced
	return r.state, nil
}
