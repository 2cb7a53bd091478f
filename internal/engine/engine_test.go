package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xab-mack/scoutaudit/internal/build"
	"github.com/xab-mack/scoutaudit/internal/cargo"
	"github.com/xab-mack/scoutaudit/internal/config"
	"github.com/xab-mack/scoutaudit/internal/model"
	"github.com/xab-mack/scoutaudit/internal/plugins"
	"github.com/xab-mack/scoutaudit/internal/report"
	"github.com/xab-mack/scoutaudit/internal/toolchain"
)

type stubLib struct{ info model.LintInfo }

func (l stubLib) MetadataFunc(string) (func(*plugins.RawMetadataRecord), error) {
	return func(r *plugins.RawMetadataRecord) { r.Fill(l.info) }, nil
}
func (stubLib) VoidFunc(string) (func(), error)          { return nil, plugins.ErrSymbolNotFound }
func (stubLib) StringFunc(string) (func() string, error) { return nil, plugins.ErrSymbolNotFound }
func (stubLib) Close() error                             { return nil }

type stubOpener map[string]model.LintInfo

type recordingOpener struct {
	stubOpener
	opened []string
}

func (o *recordingOpener) Open(path string) (plugins.Library, error) {
	o.opened = append(o.opened, filepath.Base(path))
	return o.stubOpener.Open(path)
}

func (o stubOpener) Open(path string) (plugins.Library, error) {
	info, ok := o[filepath.Base(path)]
	if !ok {
		return nil, errors.New("not a detector")
	}
	return stubLib{info: info}, nil
}

type shellLauncher struct{ code string }

func (l shellLauncher) Command(ctx context.Context, _ string, _ []string) (*exec.Cmd, error) {
	return exec.CommandContext(ctx, "/bin/sh", "-c", "exit "+l.code), nil
}

func diag(target, level, code string, line int) string {
	m := map[string]any{
		"reason": "compiler-message",
		"target": map[string]any{"name": target},
		"message": map[string]any{
			"level":   level,
			"message": "finding in " + target,
			"code":    map[string]any{"code": code},
			"spans": []any{map[string]any{
				"file_name": "src/lib.rs", "line_start": line, "line_end": line,
				"column_start": 1, "column_end": 4, "is_primary": true,
				"text": []any{map[string]any{"text": "x.unwrap()"}},
			}},
		},
	}
	b, _ := json.Marshal(m)
	return string(b)
}

type fixture struct {
	eng    *Engine
	stdout *bytes.Buffer
	root   string
	stream string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	detectors := filepath.Join(root, "detectors")
	if err := os.MkdirAll(detectors, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"libunsafe_unwrap.so", "libdivide_before_multiply.so"} {
		if err := os.WriteFile(filepath.Join(detectors, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	stream := strings.Join([]string{
		diag("flipper", "warning", "unsafe-unwrap", 3),
		diag("broken", "error", "E0425", 1),
		diag("broken", "warning", "unsafe-unwrap", 7),
	}, "\n") + "\n"
	streamFile := filepath.Join(root, "stream.jsonl")
	if err := os.WriteFile(streamFile, []byte(stream), 0o644); err != nil {
		t.Fatal(err)
	}
	driver := filepath.Join(root, "driver.sh")
	if err := os.WriteFile(driver, []byte("#!/bin/sh\ncat '"+streamFile+"' > \"$3\"\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.DetectorsDir = detectors
	stdout := &bytes.Buffer{}
	loader := plugins.NewLoader()
	loader.Opener = stubOpener{
		"libunsafe_unwrap.so":          {ID: "unsafe-unwrap", Name: "Unsafe unwrap", Severity: "medium", VulnerabilityClass: "validations-and-error-handling"},
		"libdivide_before_multiply.so": {ID: "divide-before-multiply", Name: "Divide before multiply", Severity: "critical", VulnerabilityClass: "arithmetic"},
	}
	eng := &Engine{
		Config: cfg,
		Reexec: &toolchain.Reexec{Getenv: func(k string) string {
			if k == toolchain.ActiveEnv {
				return toolchain.InkToolchain
			}
			return ""
		}},
		Loader: loader,
		Executor: &build.Executor{
			Program:    driver,
			Subcommand: []string{"dylint"},
			TempDir:    t.TempDir(),
			Stderr:     io.Discard,
		},
		LoadMetadata: func(context.Context, string) (*cargo.Metadata, error) {
			return &cargo.Metadata{
				Packages: []cargo.Package{{
					ID: "flipper 0.1.0", Name: "flipper", Version: "0.1.0",
					Dependencies: []cargo.Dependency{{Name: "ink"}},
				}},
				WorkspaceMembers: []string{"flipper 0.1.0"},
				WorkspaceRoot:    root,
			}, nil
		},
		Stdout: stdout,
		Stderr: io.Discard,
		Now:    func() time.Time { return time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC) },
	}
	return &fixture{eng: eng, stdout: stdout, root: root, stream: stream}
}

func TestRun_ConsoleReport(t *testing.T) {
	f := newFixture(t)
	out, err := f.eng.Run(context.Background(), nil, Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.State != toolchain.RunningUnderCorrectToolchain {
		t.Errorf("State = %v", out.State)
	}
	r := out.Report
	if len(r.Findings) != 1 || r.Findings[0].Package != "flipper" {
		t.Fatalf("Findings = %+v, want one flipper finding", r.Findings)
	}
	if !r.Incomplete || len(out.Classification.Suspect) != 1 {
		t.Errorf("Incomplete = %v, suspect = %d", r.Incomplete, len(out.Classification.Suspect))
	}
	if r.Summary.TotalFindings != 1 || r.Summary.Categories[0].Severity != "Medium" {
		t.Errorf("Summary = %+v", r.Summary)
	}
	if !strings.Contains(f.stdout.String(), "1 finding(s) omitted") {
		t.Errorf("console output = %q", f.stdout.String())
	}
}

func TestRun_JSONOutput(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.root, "out", "report.json")
	out, err := f.eng.Run(context.Background(), nil, Options{OutputFormat: report.FormatJSON, OutputPath: path})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.OutputPath != path {
		t.Errorf("OutputPath = %q", out.OutputPath)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var r model.Report
	if err := json.Unmarshal(data, &r); err != nil {
		t.Fatalf("report is not JSON: %v", err)
	}
	if r.Date != "2026-10-19" || len(r.Findings) != 1 {
		t.Errorf("report date=%s findings=%d", r.Date, len(r.Findings))
	}
}

func TestRun_RawJSONWritesDriverStream(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.root, "raw-report.json")
	if _, err := f.eng.Run(context.Background(), nil, Options{OutputFormat: report.FormatRawJSON, OutputPath: path}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != f.stream {
		t.Errorf("raw report = %q, want the driver stream %q", data, f.stream)
	}
}

func TestRun_PDFUnsupported(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.Run(context.Background(), nil, Options{OutputFormat: report.FormatPDF, OutputPath: filepath.Join(f.root, "r.pdf")})
	if !errors.Is(err, report.ErrUnsupportedFormat) {
		t.Errorf("Run(pdf) error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestRun_PassThroughReplaysStream(t *testing.T) {
	f := newFixture(t)
	out, err := f.eng.Run(context.Background(), nil, Options{Args: []string{"--message-format=json"}, PassThrough: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Report != nil {
		t.Error("pass-through built a report")
	}
	if f.stdout.String() != f.stream {
		t.Errorf("stdout = %q, want raw stream", f.stdout.String())
	}
}

func TestRun_InformationalModes(t *testing.T) {
	f := newFixture(t)
	if _, err := f.eng.Run(context.Background(), nil, Options{PrintToolchain: true}); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(f.stdout.String()); got != toolchain.InkToolchain {
		t.Errorf("toolchain = %q", got)
	}

	f = newFixture(t)
	if _, err := f.eng.Run(context.Background(), nil, Options{ListDetectors: true}); err != nil {
		t.Fatal(err)
	}
	if got := f.stdout.String(); got != "divide-before-multiply\nunsafe-unwrap\n" {
		t.Errorf("list = %q", got)
	}

	f = newFixture(t)
	opts := Options{Metadata: true, Selection: Selection{Filter: "unsafe_unwrap"}}
	if _, err := f.eng.Run(context.Background(), nil, opts); err != nil {
		t.Fatal(err)
	}
	var meta map[string]model.LintInfo
	if err := json.Unmarshal(f.stdout.Bytes(), &meta); err != nil {
		t.Fatal(err)
	}
	if len(meta) != 1 || meta["unsafe-unwrap"].Name != "Unsafe unwrap" {
		t.Errorf("metadata = %+v", meta)
	}
}

func TestLoadDetectors_SkipsOtherToolchains(t *testing.T) {
	f := newFixture(t)
	inkLib := "libarith@" + toolchain.InkToolchain + ".so"
	sorobanLib := "libreentrancy@" + toolchain.SorobanToolchain + ".so"
	for _, name := range []string{inkLib, sorobanLib} {
		if err := os.WriteFile(filepath.Join(f.eng.Config.DetectorsDir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	stub := stubOpener{
		"libunsafe_unwrap.so":          {ID: "unsafe-unwrap", Name: "Unsafe unwrap", Severity: "medium"},
		"libdivide_before_multiply.so": {ID: "divide-before-multiply", Name: "Divide before multiply", Severity: "critical"},
	}
	stub[inkLib] = model.LintInfo{ID: "arith", Name: "Arithmetic", Severity: "minor"}
	stub[sorobanLib] = model.LintInfo{ID: "reentrancy", Name: "Reentrancy", Severity: "critical"}
	opener := &recordingOpener{stubOpener: stub}
	f.eng.Loader.Opener = opener

	out, reg, err := f.eng.LoadDetectors(context.Background(), nil, Options{PrintToolchain: true})
	if err != nil {
		t.Fatalf("LoadDetectors() error = %v", err)
	}
	defer reg.Close()
	if out.State != toolchain.RunningUnderCorrectToolchain {
		t.Errorf("State = %v", out.State)
	}
	for _, name := range opener.opened {
		if name == sorobanLib {
			t.Errorf("opened %s built for another toolchain", name)
		}
	}
	if _, ok := reg.Get("arith"); !ok {
		t.Error("detector built for the project toolchain not loaded")
	}
	if _, ok := reg.Get("reentrancy"); ok {
		t.Error("detector built for another toolchain loaded")
	}
}

func TestLoadDetectors_ReExeced(t *testing.T) {
	f := newFixture(t)
	f.eng.Reexec = &toolchain.Reexec{
		Launcher: shellLauncher{code: "3"},
		Getenv:   func(string) string { return "" },
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	out, reg, err := f.eng.LoadDetectors(context.Background(), []string{"rules", "list"}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if reg != nil || out.State != toolchain.ReExeced || out.ExitCode != 3 {
		t.Errorf("LoadDetectors() = (%v, %d, %v), want ReExeced child exit 3 and no registry", out.State, out.ExitCode, reg)
	}
}

func TestRun_UnknownFilter(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.Run(context.Background(), nil, Options{Metadata: true, Selection: Selection{Filter: "nope"}})
	if err == nil || !strings.Contains(err.Error(), "nope") {
		t.Errorf("Run() error = %v, want unknown detector", err)
	}
}

func TestRun_ReExecPropagatesExitCode(t *testing.T) {
	f := newFixture(t)
	f.eng.Reexec = &toolchain.Reexec{
		Launcher: shellLauncher{code: "7"},
		Getenv:   func(string) string { return "" },
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	out, err := f.eng.Run(context.Background(), []string{"scout-audit"}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if out.State != toolchain.ReExeced || out.ExitCode != 7 {
		t.Errorf("outcome = (%v, %d), want (ReExeced, 7)", out.State, out.ExitCode)
	}
	if out.Report != nil {
		t.Error("parent built a report after re-exec")
	}
}

func TestRun_UnsupportedEcosystem(t *testing.T) {
	f := newFixture(t)
	f.eng.LoadMetadata = func(context.Context, string) (*cargo.Metadata, error) {
		return &cargo.Metadata{WorkspaceRoot: f.root}, nil
	}
	_, err := f.eng.Run(context.Background(), nil, Options{})
	if !IsConfigError(err) {
		t.Errorf("Run() error = %v, want configuration error", err)
	}
}

func TestRun_BaselineAndIgnore(t *testing.T) {
	f := newFixture(t)
	baseline := filepath.Join(f.root, "baseline.json")
	if _, err := f.eng.Run(context.Background(), nil, Options{WriteBaseline: baseline}); err != nil {
		t.Fatal(err)
	}
	out, err := f.newRun(Options{Baseline: baseline})
	if err != nil {
		t.Fatal(err)
	}
	if n := len(out.Report.Findings); n != 0 {
		t.Errorf("findings with baseline = %d, want 0", n)
	}

	g := newFixture(t)
	g.eng.Config.Ignore = []config.IgnoreRule{{Detector: "unsafe-unwrap", Path: "src/"}}
	out, err = g.eng.Run(context.Background(), nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if n := len(out.Report.Findings); n != 0 {
		t.Errorf("findings with ignore rule = %d, want 0", n)
	}
}

// newRun repeats a run on a fresh dispatch state.
func (f *fixture) newRun(opts Options) (*Outcome, error) {
	f.eng.Reexec = &toolchain.Reexec{Getenv: f.eng.Reexec.Getenv}
	return f.eng.Run(context.Background(), nil, opts)
}

func TestHasInlineSuppression(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lib.rs")
	src := "fn a() {}\n// scout:ignore unsafe-unwrap\nlet v = x.unwrap();\n"
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	if !hasInlineSuppression(path, "unsafe-unwrap", 3) {
		t.Error("suppression comment not found")
	}
	if hasInlineSuppression(path, "unsafe-expect", 3) {
		t.Error("suppression matched another detector")
	}
	if hasInlineSuppression(path, "unsafe", 3) {
		t.Error("suppression of unsafe-unwrap matched detector unsafe")
	}
}

func TestMentions(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"// scout:ignore foo", true},
		{"// scout:ignore foo, bar", true},
		{"// scout:ignore foo-bar", false},
		{"// scout:ignore foo_bar scout:ignore foo", true},
		{"// nothing here", false},
	}
	for _, tt := range tests {
		if got := mentions(tt.text, "scout:ignore foo"); got != tt.want {
			t.Errorf("mentions(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestIsIgnored_EmptyRuleMatchesNothing(t *testing.T) {
	f := model.Finding{VulnerabilityID: "unsafe-unwrap", FilePath: "src/lib.rs"}
	if isIgnored(f, []config.IgnoreRule{{Reason: "placeholder"}}, "") {
		t.Error("rule without detector or path ignored a finding")
	}
	if !isIgnored(f, []config.IgnoreRule{{Detector: "UNSAFE-UNWRAP"}}, "") {
		t.Error("detector rule did not match")
	}
	if !isIgnored(f, []config.IgnoreRule{{Path: "src/"}}, "") {
		t.Error("path rule did not match")
	}
}

func TestLoadBaseline_Formats(t *testing.T) {
	dir := t.TempDir()
	arr := filepath.Join(dir, "a.json")
	if err := os.WriteFile(arr, []byte(`["x","y"]`), 0o644); err != nil {
		t.Fatal(err)
	}
	b, err := LoadBaseline(arr)
	if err != nil || len(b.List()) != 2 {
		t.Errorf("LoadBaseline(array) = %v, %v", b.List(), err)
	}
	b, err = LoadBaseline(filepath.Join(dir, "missing.json"))
	if err != nil || len(b.Fingerprints) != 0 {
		t.Errorf("LoadBaseline(missing) = %v, %v", b, err)
	}
}
