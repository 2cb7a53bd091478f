package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xab-mack/scoutaudit/internal/cargo"
	"github.com/xab-mack/scoutaudit/internal/config"
	"github.com/xab-mack/scoutaudit/internal/engine"
	"github.com/xab-mack/scoutaudit/internal/logging"
	"github.com/xab-mack/scoutaudit/internal/report"
	"github.com/xab-mack/scoutaudit/internal/tui"
)

const (
	messageFormatJSON = "--message-format=json"
	defaultTarget     = "--target=wasm32-unknown-unknown"
)

// ExitCodeError carries the exit code of a re-executed child back to main.
type ExitCodeError struct {
	Code int
}

func (e *ExitCodeError) Error() string { return fmt.Sprintf("exit status %d", e.Code) }

type auditFlags struct {
	manifestPath   string
	exclude        string
	filter         string
	profile        string
	listDetectors  bool
	outputFormat   string
	outputPath     string
	localDetectors string
	verbose        bool
	toolchain      bool
	metadata       bool
	tui            bool
	baseline       string
	writeBaseline  string
}

// AddCommands makes audit the root's default action and registers the
// subcommands. argv is replayed verbatim if the run has to re-execute under
// another toolchain.
func AddCommands(root *cobra.Command, argv []string) {
	f := &auditFlags{}
	root.Args = cobra.ArbitraryArgs
	root.SilenceUsage = true
	root.SilenceErrors = true
	root.RunE = func(cmd *cobra.Command, args []string) error {
		return runAudit(cmd, f, args, argv)
	}

	fs := root.Flags()
	fs.StringVar(&f.manifestPath, "manifest-path", "", "Path to Cargo.toml")
	fs.StringVar(&f.exclude, "exclude", "", "Comma-separated detectors to exclude")
	fs.StringVar(&f.filter, "filter", "", "Comma-separated detectors to run, all others are skipped")
	fs.StringVar(&f.profile, "profile", "", "Detector profile from "+config.FileName)
	fs.BoolVarP(&f.listDetectors, "list-detectors", "l", false, "List the available detectors and exit")
	fs.StringVar(&f.outputFormat, "output-format", "", "Report format: "+strings.Join(formatNames(), "|"))
	fs.StringVar(&f.outputPath, "output-path", "", "Report file, defaults to report.<ext> in the working directory")
	fs.StringVar(&f.localDetectors, "local-detectors", "", "Directory of prebuilt detector libraries to use")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "Debug logging")
	fs.BoolVar(&f.toolchain, "toolchain", false, "Print the toolchain required by the project and exit")
	fs.BoolVar(&f.metadata, "metadata", false, "Print the metadata of the selected detectors as JSON and exit")
	fs.BoolVar(&f.tui, "tui", false, "Browse the report in an interactive view")
	fs.StringVar(&f.baseline, "baseline", "", "Suppress findings recorded in this baseline file")
	fs.StringVar(&f.writeBaseline, "write-baseline", "", "Record the fingerprints of the reported findings")

	root.AddCommand(newInitCmd())
	root.AddCommand(newRulesCmd(argv))
}

func formatNames() []string {
	var out []string
	for _, f := range report.Formats() {
		out = append(out, string(f))
	}
	return out
}

func runAudit(cmd *cobra.Command, f *auditFlags, args, argv []string) error {
	buildArgs, err := splitBuildArgs(cmd, args)
	if err != nil {
		return err
	}
	opts, err := f.options(buildArgs)
	if err != nil {
		return configError(err)
	}

	log, err := logging.New(f.verbose)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	logging.Logger = log

	cfg, cfgPath, err := config.Load(projectDir(f.manifestPath))
	if err != nil {
		return configError(err)
	}
	if cfgPath != "" {
		log.Debugw("loaded config", "path", cfgPath)
	}

	eng := engine.New(cfg, log)
	eng.Stdout = cmd.OutOrStdout()
	eng.Stderr = cmd.ErrOrStderr()
	eng.ShowTUI = tui.Run

	out, err := eng.Run(cmd.Context(), argv, opts)
	if err != nil {
		if engine.IsConfigError(err) {
			return configError(err)
		}
		return err
	}
	if out.ExitCode != 0 {
		return &ExitCodeError{Code: out.ExitCode}
	}
	return nil
}

// splitBuildArgs returns the arguments after "--". Positional arguments
// before it are rejected.
func splitBuildArgs(cmd *cobra.Command, args []string) ([]string, error) {
	dash := cmd.ArgsLenAtDash()
	if dash < 0 {
		if len(args) > 0 {
			return nil, fmt.Errorf("unexpected argument %q, pass build arguments after --", args[0])
		}
		return nil, nil
	}
	if dash > 0 {
		return nil, fmt.Errorf("unexpected argument %q, pass build arguments after --", args[0])
	}
	return args, nil
}

func (f *auditFlags) validate() error {
	if f.filter != "" && f.exclude != "" {
		return errors.New("the flags --filter and --exclude can't be used together")
	}
	if f.filter != "" && f.profile != "" {
		return errors.New("the flags --filter and --profile can't be used together")
	}
	if f.outputPath != "" {
		if err := report.ValidateOutputPath(f.outputPath); err != nil {
			return err
		}
	}
	return cargo.ValidateManifestPath(f.manifestPath)
}

func (f *auditFlags) options(buildArgs []string) (engine.Options, error) {
	if err := f.validate(); err != nil {
		return engine.Options{}, err
	}
	var format report.Format
	if f.outputFormat != "" {
		var err error
		if format, err = report.ParseFormat(f.outputFormat); err != nil {
			return engine.Options{}, err
		}
	}
	args, passThrough := PrepareArgs(buildArgs)
	return engine.Options{
		ManifestPath: f.manifestPath,
		Args:         args,
		PassThrough:  passThrough,
		Selection: engine.Selection{
			Profile: f.profile,
			Filter:  f.filter,
			Exclude: f.exclude,
		},
		PrintToolchain: f.toolchain,
		ListDetectors:  f.listDetectors,
		Metadata:       f.metadata,
		LocalDetectors: f.localDetectors,
		OutputFormat:   format,
		OutputPath:     f.outputPath,
		TUI:            f.tui,
		Baseline:       f.baseline,
		WriteBaseline:  f.writeBaseline,
	}, nil
}

// PrepareArgs completes the user's build arguments. Without an explicit
// target the contract defaults for wasm are added. JSON diagnostics are
// always requested since every report is built from them; passThrough is
// true when the user asked for them and expects the raw stream back.
func PrepareArgs(user []string) (args []string, passThrough bool) {
	args = append([]string(nil), user...)
	hasTarget := false
	for _, a := range user {
		if strings.HasPrefix(a, "--target=") || a == "--target" {
			hasTarget = true
		}
		if a == messageFormatJSON {
			passThrough = true
		}
	}
	if !hasTarget {
		args = append(args, defaultTarget, "--no-default-features", "-Zbuild-std=std,core,alloc")
	}
	if !passThrough {
		args = append(args, messageFormatJSON)
	}
	return args, passThrough
}

// projectDir is where config discovery starts.
func projectDir(manifestPath string) string {
	if manifestPath == "" {
		if wd, err := os.Getwd(); err == nil {
			return wd
		}
		return "."
	}
	return filepath.Dir(manifestPath)
}

type remediationError struct {
	err error
}

func (e *remediationError) Error() string {
	return fmt.Sprintf("%v\n\n     → Run `cargo scout-audit --help` for the available options.", e.err)
}

func (e *remediationError) Unwrap() error { return e.err }

func configError(err error) error { return &remediationError{err: err} }
