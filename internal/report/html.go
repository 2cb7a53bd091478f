package report

import (
	"bytes"
	"html/template"

	"github.com/xab-mack/scoutaudit/internal/model"
)

var htmlTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"capitalize": Capitalize,
	"notice":     func() string { return incompleteNotice },
	"findings": func(r *model.Report, vulnID string) []model.Finding {
		var out []model.Finding
		for _, f := range r.Findings {
			if f.VulnerabilityID == vulnID {
				out = append(out, f)
			}
		}
		return out
	},
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Name}}</title>
<style>
body{font-family:sans-serif;margin:2rem;max-width:72rem}
table{border-collapse:collapse}td,th{border:1px solid #ccc;padding:.3rem .6rem}
pre{background:#f5f5f5;padding:.6rem;overflow-x:auto}
.warning{color:#b00}
</style>
</head>
<body>
<h1>{{.Name}}</h1>
<p>{{.Description}}</p>
<p>Date: {{.Date}}</p>
{{if .Incomplete}}<p class="warning">{{notice}}</p>{{end}}
<h2>Summary</h2>
<table>
<tr><th>Category</th><th>Results</th><th>Severity</th></tr>
{{range .Summary.Categories}}<tr><td><a href="#{{.Link}}">{{.Name}}</a></td><td>{{.ResultsCount}}</td><td>{{.Severity}}</td></tr>
{{end}}</table>
<p>Total findings: {{.Summary.TotalFindings}}</p>
{{$r := .}}{{range .Summary.Categories}}{{$id := .ID}}
<h2 id="{{.Link}}">{{.Name}}</h2>
{{range $r.Categories}}{{if eq .ID $id}}{{range .Vulnerabilities}}{{$fs := findings $r .ID}}{{if $fs}}
<h3>{{.Name}}</h3>
<p><strong>Impact:</strong> {{capitalize .Severity}}</p>
{{if .LongMessage}}<p>{{.LongMessage}}</p>{{end}}
{{if .Help}}<p><a href="{{.Help}}">More information</a></p>{{end}}
{{range $fs}}<div>
<p><strong>{{.VulnerabilityID}} #{{.OccurrenceIndex}}</strong> in <code>{{.Package}}</code> at <code>{{.FilePath}}:{{.Span.LineStart}}:{{.Span.ColumnStart}}</code></p>
<p>{{.ErrorMessage}}</p>
{{if .CodeSnippet}}<pre><code>{{.CodeSnippet}}</code></pre>{{end}}
</div>
{{end}}{{end}}{{end}}{{end}}{{end}}{{end}}
</body>
</html>
`))

// HTML renders a self-contained page. All report text is escaped.
func HTML(r *model.Report) ([]byte, error) {
	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
