package engine

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/xab-mack/scoutaudit/internal/config"
	"github.com/xab-mack/scoutaudit/internal/model"
)

// suppressionMarker precedes a detector id in a source comment, for example
// `// scout:ignore unsafe-unwrap`.
const suppressionMarker = "scout:ignore "

// applyIgnores drops findings matched by config rules or suppressed inline.
// Relative finding paths are resolved against root.
func applyIgnores(findings []model.Finding, rules []config.IgnoreRule, root string) []model.Finding {
	var out []model.Finding
	for _, f := range findings {
		if isIgnored(f, rules, root) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func isIgnored(f model.Finding, rules []config.IgnoreRule, root string) bool {
	for _, ig := range rules {
		// A rule naming nothing would drop every finding.
		if ig.Detector == "" && ig.Path == "" {
			continue
		}
		if ig.Detector != "" && !strings.EqualFold(ig.Detector, f.VulnerabilityID) {
			continue
		}
		if ig.Path != "" {
			if !strings.HasPrefix(filepath.ToSlash(f.FilePath), filepath.ToSlash(ig.Path)) {
				continue
			}
		}
		return true
	}
	path := f.FilePath
	if path != "" && !filepath.IsAbs(path) && root != "" {
		path = filepath.Join(root, path)
	}
	return hasInlineSuppression(path, f.VulnerabilityID, f.Span.LineStart)
}

// hasInlineSuppression looks up to five lines above the finding and on its
// line for a suppression comment.
func hasInlineSuppression(filePath, detector string, startLine int) bool {
	if filePath == "" || startLine < 1 {
		return false
	}
	f, err := os.Open(filePath)
	if err != nil {
		return false
	}
	defer f.Close()
	from := startLine - 5
	needle := suppressionMarker + detector
	s := bufio.NewScanner(f)
	for line := 1; s.Scan() && line <= startLine; line++ {
		if line >= from && mentions(s.Text(), needle) {
			return true
		}
	}
	return false
}

// mentions reports whether text contains needle not followed by more of a
// detector id, so "scout:ignore foo" does not match "scout:ignore foo-bar".
func mentions(text, needle string) bool {
	for {
		i := strings.Index(text, needle)
		if i < 0 {
			return false
		}
		rest := text[i+len(needle):]
		if rest == "" || !isIDByte(rest[0]) {
			return true
		}
		text = rest
	}
}

func isIDByte(c byte) bool {
	return c == '-' || c == '_' || '0' <= c && c <= '9' || 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z'
}
