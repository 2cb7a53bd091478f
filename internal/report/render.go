package report

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xab-mack/scoutaudit/internal/model"
)

const incompleteNotice = "This report is incomplete as some files could not be fully analyzed due to compilation errors. We strongly recommend to address all issues and executing Scout again."

func JSON(r *model.Report) ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Markdown renders a summary table followed by one section per category.
// The github variant folds each finding into a details block.
func Markdown(r *model.Report, github bool) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", r.Name)
	fmt.Fprintf(&b, "Date: %s\n\n", r.Date)
	if r.Incomplete {
		fmt.Fprintf(&b, "> **Warning:** %s\n\n", incompleteNotice)
	}

	b.WriteString("## Summary\n\n")
	b.WriteString("| Category | Results | Severity |\n")
	b.WriteString("|---|---|---|\n")
	for _, c := range r.Summary.Categories {
		fmt.Fprintf(&b, "| [%s](#%s) | %d | %s |\n", c.Name, c.Link, c.ResultsCount, c.Severity)
	}
	fmt.Fprintf(&b, "\nTotal findings: %d\n", r.Summary.TotalFindings)

	byCategory := map[string][]model.Finding{}
	for _, f := range r.Findings {
		byCategory[f.CategoryID] = append(byCategory[f.CategoryID], f)
	}
	for _, c := range r.Categories {
		fs := byCategory[c.ID]
		if len(fs) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n", c.Name)
		for _, v := range c.Vulnerabilities {
			var vfs []model.Finding
			for _, f := range fs {
				if f.VulnerabilityID == v.ID {
					vfs = append(vfs, f)
				}
			}
			if len(vfs) == 0 {
				continue
			}
			fmt.Fprintf(&b, "\n### %s\n\n", v.Name)
			fmt.Fprintf(&b, "**Impact:** %s\n\n", Capitalize(v.Severity))
			if v.ShortMessage != "" {
				fmt.Fprintf(&b, "**Issue:** %s\n\n", v.ShortMessage)
			}
			if v.Help != "" {
				fmt.Fprintf(&b, "**Description:** [%s](%s)\n\n", v.Name, v.Help)
			}
			for _, f := range vfs {
				writeMarkdownFinding(&b, f, github)
			}
		}
	}
	return []byte(b.String())
}

func writeMarkdownFinding(b *strings.Builder, f model.Finding, github bool) {
	location := fmt.Sprintf("%s:%d:%d - %d:%d", f.FilePath, f.Span.LineStart, f.Span.ColumnStart, f.Span.LineEnd, f.Span.ColumnEnd)
	if github {
		fmt.Fprintf(b, "<details>\n<summary>%s #%d in <code>%s</code></summary>\n\n", f.VulnerabilityID, f.OccurrenceIndex, f.Package)
	} else {
		fmt.Fprintf(b, "- **%s #%d** (`%s`)\n\n", f.VulnerabilityID, f.OccurrenceIndex, f.Package)
	}
	fmt.Fprintf(b, "  %s\n\n  `%s`\n\n", f.ErrorMessage, location)
	if f.CodeSnippet != "" {
		b.WriteString("```rust\n")
		b.WriteString(f.CodeSnippet)
		b.WriteString("\n```\n\n")
	}
	if github {
		b.WriteString("</details>\n\n")
	}
}
