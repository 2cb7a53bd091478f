package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/xab-mack/scoutaudit/internal/model"
)

// pageSize is the number of findings shown below the summary.
const pageSize = 10

type modelT struct {
	report *model.Report
	cursor int
}

func initialModel(r *model.Report) modelT { return modelT{report: r} }

func (m modelT) Init() tea.Cmd { return nil }

func (m modelT) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.report.Findings)-1 {
			m.cursor++
		}
	}
	return m, nil
}

func (m modelT) View() string {
	r := m.report
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s\n\n", r.Source.Name, r.Date)
	for _, c := range r.Summary.Categories {
		fmt.Fprintf(&b, "  %-40s %4d  %s\n", c.Name, c.ResultsCount, c.Severity)
	}
	fmt.Fprintf(&b, "  %-40s %4d\n\n", "Total", r.Summary.TotalFindings)
	if r.Incomplete {
		b.WriteString("Report is incomplete: some crates failed to compile.\n\n")
	}

	start := 0
	if m.cursor >= pageSize {
		start = m.cursor - pageSize + 1
	}
	for i := start; i < len(r.Findings) && i < start+pageSize; i++ {
		f := r.Findings[i]
		mark := "  "
		if i == m.cursor {
			mark = "> "
		}
		fmt.Fprintf(&b, "%s%s #%d  %s:%d  %s\n", mark, f.VulnerabilityID, f.OccurrenceIndex, f.FilePath, f.Span.LineStart, f.ErrorMessage)
	}
	if len(r.Findings) > 0 {
		f := r.Findings[m.cursor]
		if f.CodeSnippet != "" {
			fmt.Fprintf(&b, "\n%s\n", f.CodeSnippet)
		}
	}
	b.WriteString("\n↑/↓ move • q quit\n")
	return b.String()
}

// Run shows the report until the user quits.
func Run(r *model.Report) error {
	p := tea.NewProgram(initialModel(r))
	_, err := p.Run()
	return err
}
