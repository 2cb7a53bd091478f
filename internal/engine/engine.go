// Package engine drives one audit run: dispatch, detector loading, the
// driver run, classification and report output. It is the only layer that
// produces user-facing messages.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/xab-mack/scoutaudit/internal/build"
	"github.com/xab-mack/scoutaudit/internal/cache"
	"github.com/xab-mack/scoutaudit/internal/cargo"
	"github.com/xab-mack/scoutaudit/internal/classify"
	"github.com/xab-mack/scoutaudit/internal/config"
	"github.com/xab-mack/scoutaudit/internal/logging"
	"github.com/xab-mack/scoutaudit/internal/model"
	"github.com/xab-mack/scoutaudit/internal/plugins"
	"github.com/xab-mack/scoutaudit/internal/report"
	"github.com/xab-mack/scoutaudit/internal/signature"
	"github.com/xab-mack/scoutaudit/internal/toolchain"
)

const (
	msgDriverFailed    = "Failed to run dylint, most likely due to an issue in the code."
	msgDroppedFindings = "%d detector finding(s) could not be received and are missing from this report."
	msgIncomplete      = "This report is incomplete as some files could not be fully analyzed due to compilation errors. We strongly recommend to address all issues and executing Scout again."
)

// Options are the validated inputs of one run.
type Options struct {
	ManifestPath string
	// Args go to the check command and already carry target flags.
	Args []string
	// PassThrough replays the raw stream to stdout instead of building a
	// report. Ignored when an output format or the TUI is requested.
	PassThrough bool
	Selection

	PrintToolchain bool
	ListDetectors  bool
	Metadata       bool
	// LocalDetectors overrides the configured detectors directory.
	LocalDetectors string

	OutputFormat  report.Format
	OutputPath    string
	TUI           bool
	Baseline      string
	WriteBaseline string
}

// Outcome reports how a run ended.
type Outcome struct {
	State          toolchain.State
	ExitCode       int
	Toolchain      toolchain.Requirement
	Report         *model.Report
	Classification *classify.Classification
	OutputPath     string
}

type Engine struct {
	Config   config.Config
	Reexec   *toolchain.Reexec
	Loader   *plugins.Loader
	Executor *build.Executor
	// LoadMetadata defaults to cargo.Load.
	LoadMetadata func(ctx context.Context, manifestPath string) (*cargo.Metadata, error)
	// ShowTUI presents a finished report interactively.
	ShowTUI func(r *model.Report) error
	Stdout  io.Writer
	Stderr  io.Writer
	Now     func() time.Time
	Log     *zap.SugaredLogger
}

func New(cfg config.Config, log *zap.SugaredLogger) *Engine {
	r := toolchain.NewReexec()
	r.Log = log
	l := plugins.NewLoader()
	l.Log = log
	x := build.NewExecutor()
	x.Log = log
	x.Forwarder.Log = log
	return &Engine{
		Config:       cfg,
		Reexec:       r,
		Loader:       l,
		Executor:     x,
		LoadMetadata: cargo.Load,
		Stdout:       os.Stdout,
		Stderr:       os.Stderr,
		Now:          time.Now,
		Log:          log,
	}
}

// Run executes the pipeline. argv is the process command line without the
// program name and is replayed verbatim when the run has to re-execute.
func (e *Engine) Run(ctx context.Context, argv []string, opts Options) (*Outcome, error) {
	log := logging.OrNop(e.Log)
	out, meta, reg, err := e.prepare(ctx, argv, opts)
	if err != nil || reg == nil {
		return out, err
	}
	defer func() {
		if err := reg.Close(); err != nil {
			log.Debugw("release detectors", "error", err)
		}
	}()
	req := out.Toolchain

	if opts.ListDetectors {
		for _, id := range reg.IDs() {
			fmt.Fprintln(e.Stdout, id)
		}
		return out, nil
	}

	ids, err := selectDetectors(reg.IDs(), opts.Selection, e.Config)
	if err != nil {
		return nil, err
	}
	reg.Retain(ids)

	if opts.Metadata {
		data, err := json.MarshalIndent(reg.Metadata(), "", "  ")
		if err != nil {
			return nil, err
		}
		fmt.Fprintln(e.Stdout, string(data))
		return out, nil
	}

	passThrough := opts.PassThrough && opts.OutputFormat == "" && !opts.TUI
	mode := build.Intercepted
	if passThrough {
		mode = build.PassThrough
	}
	res, err := e.Executor.RunCheck(ctx, build.CheckRequest{
		ManifestPath: opts.ManifestPath,
		PluginPaths:  reg.Paths(),
		Args:         opts.Args,
		Mode:         mode,
		Invocables:   reg.Invocables(),
		ProjectKey:   projectKey(meta),
	})
	if err != nil {
		return nil, fmt.Errorf("Failed to run dylint.\n\n     → Caused by: %w", err)
	}
	defer func() {
		if err := res.Stream.Close(); err != nil {
			log.Debugw("remove diagnostic stream", "error", err)
		}
	}()

	if res.DriverErr != nil {
		log.Debugw("driver failed", "exit_code", res.ExitCode, "error", res.DriverErr)
		fmt.Fprintln(e.Stderr, msgDriverFailed)
		if opts.OutputFormat != "" {
			fmt.Fprintln(e.Stderr, msgIncomplete)
		}
	}

	if res.DroppedFindings > 0 {
		fmt.Fprintf(e.Stderr, msgDroppedFindings+"\n", res.DroppedFindings)
	}

	stream, err := res.Stream.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read diagnostic stream: %w", err)
	}
	if passThrough {
		_, err := e.Stdout.Write(stream)
		return out, err
	}

	c := classify.Classify(stream, res.SideFindings)
	out.Classification = c
	if c.Malformed > 0 {
		log.Debugw("skipped malformed diagnostics", "count", c.Malformed)
	}
	for _, u := range c.Unstructured {
		log.Debugw("unstructured side-channel record", "record", u)
	}

	r := report.Build(c.Trustworthy, report.CategoriesFromDetectors(reg.Metadata()), meta.ProjectInfo(req.Ecosystem), report.Options{
		Now:        e.now,
		Units:      c.Units,
		Incomplete: c.Incomplete(),
		ReadFile:   report.ReadSource,
	})
	if err := e.refine(r, opts); err != nil {
		return nil, err
	}
	out.Report = r

	if opts.WriteBaseline != "" {
		if err := WriteBaseline(opts.WriteBaseline, r.Findings, e.now()); err != nil {
			return nil, fmt.Errorf("write baseline: %w", err)
		}
	}

	if opts.OutputFormat != "" {
		out.OutputPath, err = e.render(ctx, r, stream, opts)
		if err != nil {
			return nil, err
		}
	} else if !opts.TUI {
		if err := report.Console(e.Stdout, r, len(c.Suspect)); err != nil {
			return nil, err
		}
	}
	if opts.TUI && e.ShowTUI != nil {
		if err := e.ShowTUI(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// LoadDetectors resolves the project's toolchain, re-executes under it when
// needed and loads the detectors built for it. The registry is nil when the
// outcome is ReExeced; the caller closes it otherwise.
func (e *Engine) LoadDetectors(ctx context.Context, argv []string, opts Options) (*Outcome, *plugins.Registry, error) {
	opts.PrintToolchain = false
	out, _, reg, err := e.prepare(ctx, argv, opts)
	return out, reg, err
}

// prepare runs the stages every mode shares. It returns a nil registry when
// the run ends early: the toolchain was printed or a child ran instead.
func (e *Engine) prepare(ctx context.Context, argv []string, opts Options) (*Outcome, *cargo.Metadata, *plugins.Registry, error) {
	out := &Outcome{}
	meta, err := e.LoadMetadata(ctx, opts.ManifestPath)
	if err != nil {
		return nil, nil, nil, err
	}

	req, err := toolchain.Dispatch(meta.ImmediateDependencies(), e.policy())
	if err != nil {
		return nil, nil, nil, err
	}
	out.Toolchain = req
	if opts.PrintToolchain {
		fmt.Fprintln(e.Stdout, req.Toolchain)
		return out, meta, nil, nil
	}

	out.State, err = e.Reexec.Ensure(ctx, req, argv)
	if err != nil {
		return nil, nil, nil, err
	}
	if out.State == toolchain.ReExeced {
		out.ExitCode = e.Reexec.ExitCode()
		return out, meta, nil, nil
	}

	reg, err := e.loadDetectors(opts, req)
	if err != nil {
		return nil, nil, nil, err
	}
	return out, meta, reg, nil
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e *Engine) policy() toolchain.Policy {
	p := toolchain.Policy{Toolchains: e.Config.Toolchains}
	if eco, ok := model.ParseEcosystem(e.Config.FallbackEcosystem); ok {
		p.Fallback = eco
	}
	return p
}

func (e *Engine) loadDetectors(opts Options, req toolchain.Requirement) (*plugins.Registry, error) {
	log := logging.OrNop(e.Log)
	dir := opts.LocalDetectors
	if dir == "" {
		dir = e.Config.DetectorsDir
	}
	paths, err := plugins.Discover(dir, req.Toolchain)
	if err != nil {
		return nil, fmt.Errorf("Failed to get detector names.\n\n     → Caused by: %w\n     → Detectors for %s: %s", err, req.Ecosystem, toolchain.DetectorsURL(req.Ecosystem))
	}
	if e.Config.VerifyKeyring != "" && e.Loader.Verifier == nil {
		v, err := signature.LoadKeyring(e.Config.VerifyKeyring)
		if err != nil {
			return nil, fmt.Errorf("load detector keyring: %w", err)
		}
		e.Loader.Verifier = v
	}

	reg := e.Loader.Load(paths)
	for _, le := range reg.Errors() {
		log.Warnw("detector not loaded", "path", le.Path, "kind", le.Kind.String(), "error", le.Err)
	}
	if e.Config.StrictPlugins {
		if err := reg.Err(); err != nil {
			_ = reg.Close()
			return nil, fmt.Errorf("Failed to load detectors.\n\n     → Caused by: %w", err)
		}
	}
	return reg, nil
}

// refine removes duplicates, ignored and baselined findings and recounts.
func (e *Engine) refine(r *model.Report, opts Options) error {
	path := opts.Baseline
	if path == "" {
		path = e.Config.Baseline
	}
	b, err := LoadBaseline(path)
	if err != nil {
		return fmt.Errorf("load baseline: %w", err)
	}
	fs := dedupe(r.Findings)
	fs = applyIgnores(fs, e.Config.Ignore, r.Source.Workspace)
	fs = filterByBaseline(fs, b)
	r.Findings = fs
	report.Recount(r)
	return nil
}

func (e *Engine) render(ctx context.Context, r *model.Report, stream []byte, opts Options) (string, error) {
	var (
		data []byte
		err  error
	)
	switch opts.OutputFormat {
	case report.FormatHTML:
		data, err = report.HTML(r)
	case report.FormatJSON:
		data, err = report.JSON(r)
	case report.FormatRawJSON:
		// The driver's output as captured, including suspect findings and
		// plain compiler messages.
		data = stream
	case report.FormatMarkdown:
		data = report.Markdown(r, false)
	case report.FormatMarkdownGH:
		data = report.Markdown(r, true)
	case report.FormatSARIF:
		data, err = report.SARIF(ctx, e.Config.SarifConverter, stream, r, e.Log)
	default:
		// pdf has no renderer in this build.
		err = fmt.Errorf("%w: %s", report.ErrUnsupportedFormat, opts.OutputFormat)
	}
	if err != nil {
		return "", fmt.Errorf("Failed to generate %s report.\n\n     → Caused by: %w", opts.OutputFormat, err)
	}
	path := opts.OutputPath
	if path == "" {
		path = opts.OutputFormat.DefaultPath()
	}
	if err := report.Save(path, data); err != nil {
		return "", fmt.Errorf("save report: %w", err)
	}
	fmt.Fprintf(e.Stderr, "%s report saved to %s\n", opts.OutputFormat, path)
	return path, nil
}

// projectKey scopes temporary streams to one workspace.
func projectKey(meta *cargo.Metadata) string {
	root := meta.WorkspaceRoot
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return cache.Key("stream", root)[:16]
}

// IsConfigError reports whether err should be shown as a configuration
// problem rather than a failure of the audit itself.
func IsConfigError(err error) bool {
	var unsupported *toolchain.UnsupportedEcosystemError
	return errors.As(err, &unsupported) || errors.Is(err, toolchain.ErrToolchainMismatch)
}
