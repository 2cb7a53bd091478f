package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type Format string

const (
	FormatHTML       Format = "html"
	FormatJSON       Format = "json"
	FormatRawJSON    Format = "raw-json"
	FormatMarkdown   Format = "md"
	FormatMarkdownGH Format = "md-gh"
	FormatSARIF      Format = "sarif"
	FormatPDF        Format = "pdf"
)

var ErrUnsupportedFormat = errors.New("output format not supported in this build")

func Formats() []Format {
	return []Format{FormatHTML, FormatJSON, FormatRawJSON, FormatMarkdown, FormatMarkdownGH, FormatSARIF, FormatPDF}
}

func ParseFormat(s string) (Format, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	switch norm {
	case "markdown":
		return FormatMarkdown, nil
	case "markdown-gh", "mdgh":
		return FormatMarkdownGH, nil
	case "rawjson", "raw_json":
		return FormatRawJSON, nil
	}
	for _, f := range Formats() {
		if string(f) == norm {
			return f, nil
		}
	}
	names := make([]string, 0, len(Formats()))
	for _, f := range Formats() {
		names = append(names, string(f))
	}
	return "", fmt.Errorf("unknown output format %q (supported: %s)", s, strings.Join(names, ", "))
}

// DefaultPath is the file written when no output path is given.
func (f Format) DefaultPath() string {
	switch f {
	case FormatHTML:
		return "report.html"
	case FormatJSON:
		return "report.json"
	case FormatRawJSON:
		return "raw-report.json"
	case FormatMarkdown, FormatMarkdownGH:
		return "report.md"
	case FormatSARIF:
		return "report.sarif"
	case FormatPDF:
		return "report.pdf"
	}
	return "report.out"
}

// ValidateOutputPath rejects an existing directory.
func ValidateOutputPath(path string) error {
	if path == "" {
		return nil
	}
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		return fmt.Errorf("the output path can't be a directory.\n     → Output path: %q", path)
	}
	return nil
}

// Save writes data to path, creating parent directories.
func Save(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}
