package util

import (
	"strings"
)

const defaultContext = 8

// ExtractSnippet returns the 1-based [start,end] line region of content with
// up to maxLines/2 lines of context on each side. Out of range lines are
// clamped.
func ExtractSnippet(content string, start, end, maxLines int) string {
	if maxLines <= 0 {
		maxLines = defaultContext
	}
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	if start < 1 {
		start = 1
	}
	if end < start {
		end = start
	}
	if start > len(lines) {
		return ""
	}
	s := max(0, start-1-maxLines/2)
	e := min(len(lines)-1, end-1+maxLines/2)
	return strings.Join(lines[s:e+1], "\n")
}
