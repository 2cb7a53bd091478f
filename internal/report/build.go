// Package report builds the canonical report model from classified findings
// and renders it for the supported output formats.
package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/xab-mack/scoutaudit/internal/model"
	"github.com/xab-mack/scoutaudit/internal/util"
)

const (
	DefaultName        = "Scout Report"
	DefaultDescription = "Security audit of smart contract sources"
	DateLayout         = "2006-01-02"
	uncategorized      = "uncategorized"
)

type Options struct {
	// Now stamps the report date. Defaults to time.Now.
	Now func() time.Time
	// Units and Incomplete are copied from classification.
	Units      map[string]bool
	Incomplete bool
	// ReadFile loads sources for code snippets when a diagnostic carries no
	// span text. Nil disables the fallback.
	ReadFile func(path string) ([]byte, error)
}

// diagnostic is the part of a detector message the report needs.
type diagnostic struct {
	Message string `json:"message"`
	Code    *struct {
		Code string `json:"code"`
	} `json:"code"`
	Spans []struct {
		FileName    string `json:"file_name"`
		LineStart   int    `json:"line_start"`
		LineEnd     int    `json:"line_end"`
		ColumnStart int    `json:"column_start"`
		ColumnEnd   int    `json:"column_end"`
		IsPrimary   bool   `json:"is_primary"`
		Text        []struct {
			Text string `json:"text"`
		} `json:"text"`
	} `json:"spans"`
}

// CategoriesFromDetectors groups detector metadata by vulnerability class.
// Categories and their vulnerabilities are sorted by id.
func CategoriesFromDetectors(meta map[string]model.LintInfo) []model.Category {
	byClass := map[string][]model.Vulnerability{}
	for id, info := range meta {
		class := info.VulnerabilityClass
		if class == "" {
			class = uncategorized
		}
		byClass[class] = append(byClass[class], model.Vulnerability{
			ID:           id,
			Name:         info.Name,
			ShortMessage: info.ShortMessage,
			LongMessage:  info.LongMessage,
			Severity:     info.Severity,
			Help:         info.Help,
		})
	}
	out := make([]model.Category, 0, len(byClass))
	for class, vulns := range byClass {
		sort.Slice(vulns, func(i, j int) bool { return vulns[i].ID < vulns[j].ID })
		out = append(out, model.Category{ID: class, Name: CategoryName(class), Vulnerabilities: vulns})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CategoryName turns a vulnerability class tag into a display name.
func CategoryName(class string) string {
	words := strings.FieldsFunc(class, func(r rune) bool { return r == '-' || r == '_' || r == ' ' })
	if len(words) == 0 {
		return ""
	}
	words[0] = Capitalize(words[0])
	return strings.Join(words, " ")
}

// Capitalize upper-cases the first letter and lower-cases the rest.
func Capitalize(s string) string {
	if s == "" {
		return ""
	}
	r := []rune(strings.ToLower(s))
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// SanitizeLink turns a category name into an anchor.
func SanitizeLink(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-':
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '_':
			b.WriteByte('-')
		}
	}
	return b.String()
}

// Build assembles the report. Findings whose code names no known detector
// (plain compiler warnings) are dropped. Output is independent of input
// order.
func Build(findings []model.RawFinding, categories []model.Category, info model.ProjectInfo, opts Options) *model.Report {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	categoryOf := map[string]string{}
	for _, c := range categories {
		for _, v := range c.Vulnerabilities {
			categoryOf[v.ID] = c.ID
		}
	}

	var out []model.Finding
	for _, raw := range findings {
		f, ok := convert(raw, categoryOf, info.Workspace, opts.ReadFile)
		if ok {
			out = append(out, f)
		}
	}
	sortFindings(out, categories)

	r := &model.Report{
		Name:        DefaultName,
		Description: DefaultDescription,
		Date:        now().Format(DateLayout),
		Source:      info,
		Categories:  categories,
		Findings:    out,
		Units:       opts.Units,
		Incomplete:  opts.Incomplete,
	}
	if info.Name != "" {
		r.Name = info.Name
	}
	if info.Description != "" {
		r.Description = info.Description
	}
	Recount(r)
	return r
}

func convert(raw model.RawFinding, categoryOf map[string]string, root string, readFile func(string) ([]byte, error)) (model.Finding, bool) {
	var d diagnostic
	if err := json.Unmarshal(raw.Payload, &d); err != nil || d.Code == nil {
		return model.Finding{}, false
	}
	category, ok := categoryOf[d.Code.Code]
	if !ok {
		return model.Finding{}, false
	}
	f := model.Finding{
		CategoryID:      category,
		VulnerabilityID: d.Code.Code,
		ErrorMessage:    d.Message,
		Package:         raw.Unit,
	}
	if len(d.Spans) > 0 {
		s := d.Spans[0]
		for _, cand := range d.Spans {
			if cand.IsPrimary {
				s = cand
				break
			}
		}
		f.Span = model.Span{File: s.FileName, LineStart: s.LineStart, LineEnd: s.LineEnd, ColumnStart: s.ColumnStart, ColumnEnd: s.ColumnEnd}
		f.FilePath = s.FileName
		var lines []string
		for _, t := range s.Text {
			lines = append(lines, t.Text)
		}
		f.CodeSnippet = strings.Join(lines, "\n")
		if f.CodeSnippet == "" && readFile != nil && s.FileName != "" {
			path := s.FileName
			if !filepath.IsAbs(path) && root != "" {
				path = filepath.Join(root, path)
			}
			if content, err := readFile(path); err == nil {
				f.CodeSnippet = util.ExtractSnippet(string(content), s.LineStart, s.LineEnd, 0)
			}
		}
	}
	f.ID = util.Fingerprint(f.VulnerabilityID, f.FilePath, f.Span.LineStart, f.Span.LineEnd, f.Package+"\x00"+f.ErrorMessage)
	return f, true
}

func sortFindings(fs []model.Finding, categories []model.Category) {
	rank := map[string]int{}
	for i, c := range categories {
		rank[c.ID] = i
	}
	sort.SliceStable(fs, func(i, j int) bool {
		a, b := fs[i], fs[j]
		if rank[a.CategoryID] != rank[b.CategoryID] {
			return rank[a.CategoryID] < rank[b.CategoryID]
		}
		if a.VulnerabilityID != b.VulnerabilityID {
			return a.VulnerabilityID < b.VulnerabilityID
		}
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		if a.Span.LineStart != b.Span.LineStart {
			return a.Span.LineStart < b.Span.LineStart
		}
		if a.Span.ColumnStart != b.Span.ColumnStart {
			return a.Span.ColumnStart < b.Span.ColumnStart
		}
		if a.Package != b.Package {
			return a.Package < b.Package
		}
		return a.ErrorMessage < b.ErrorMessage
	})
}

// numberOccurrences numbers findings per vulnerability from 1.
func numberOccurrences(fs []model.Finding) {
	count := map[string]int{}
	for i := range fs {
		count[fs[i].VulnerabilityID]++
		fs[i].OccurrenceIndex = count[fs[i].VulnerabilityID]
	}
}

// Recount renumbers occurrences and recomputes the summary after findings
// were filtered.
func Recount(r *model.Report) {
	numberOccurrences(r.Findings)
	r.Summary = Summarize(r.Categories, r.Findings)
}

// Summarize counts findings per category in canonical category order. Only
// categories with findings are listed.
func Summarize(categories []model.Category, findings []model.Finding) model.Summary {
	counts := map[string]int{}
	for _, f := range findings {
		counts[f.CategoryID]++
	}
	s := model.Summary{TotalFindings: len(findings)}
	for _, c := range categories {
		n := counts[c.ID]
		if n == 0 {
			continue
		}
		severity := ""
		if len(c.Vulnerabilities) > 0 {
			severity = Capitalize(c.Vulnerabilities[0].Severity)
		}
		s.Categories = append(s.Categories, model.SummaryCategory{
			ID:           c.ID,
			Name:         c.Name,
			Link:         SanitizeLink(c.Name),
			ResultsCount: n,
			Severity:     severity,
		})
	}
	return s
}

// ReadSource is the default Options.ReadFile.
func ReadSource(path string) ([]byte, error) { return os.ReadFile(path) }
