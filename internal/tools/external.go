package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

type Result struct {
	Tool     string
	Raw      []byte
	Stderr   []byte
	ExitCode int
	Err      error
	Duration time.Duration
}

// Spec describes one external tool invocation.
type Spec struct {
	Tool  string
	Args  []string
	Dir   string
	Env   []string
	Stdin io.Reader
}

func RunWithTimeout(ctx context.Context, tool string, args ...string) Result {
	return Run(ctx, Spec{Tool: tool, Args: args})
}

// Run executes the tool and collects stdout. A non-zero exit is reported in
// Err together with the tool's stderr.
func Run(ctx context.Context, s Spec) Result {
	start := time.Now()
	cmd := exec.CommandContext(ctx, s.Tool, s.Args...)
	cmd.Dir = s.Dir
	if len(s.Env) > 0 {
		cmd.Env = s.Env
	}
	cmd.Stdin = s.Stdin
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	res := Result{Tool: s.Tool, Raw: stdout.Bytes(), Stderr: stderr.Bytes(), Duration: time.Since(start)}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			msg := strings.TrimSpace(stderr.String())
			if msg != "" {
				err = fmt.Errorf("%s: %w: %s", s.Tool, err, msg)
			} else {
				err = fmt.Errorf("%s: %w", s.Tool, err)
			}
		} else {
			res.ExitCode = -1
		}
		res.Err = err
	}
	return res
}

// Available reports whether tool resolves on PATH.
func Available(tool string) bool {
	_, err := exec.LookPath(tool)
	return err == nil
}
