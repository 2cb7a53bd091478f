package plugins

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

func normalizeID(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
}

func splitIDs(list string) []string {
	var out []string
	for _, part := range strings.Split(list, ",") {
		if id := normalizeID(part); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func index(ids []string) map[string]string {
	m := make(map[string]string, len(ids))
	for _, id := range ids {
		m[normalizeID(id)] = id
	}
	return m
}

// Filter keeps the comma separated detectors in list. Unknown names fail.
func Filter(ids []string, list string) ([]string, error) {
	known := index(ids)
	var out, unknown []string
	for _, want := range splitIDs(list) {
		id, ok := known[want]
		if !ok {
			unknown = append(unknown, want)
			continue
		}
		out = append(out, id)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("the following detectors are invalid: %s", strings.Join(unknown, ", "))
	}
	return out, nil
}

// Exclude drops the comma separated detectors in list.
func Exclude(ids []string, list string) []string {
	drop := map[string]struct{}{}
	for _, id := range splitIDs(list) {
		drop[id] = struct{}{}
	}
	var out []string
	for _, id := range ids {
		if _, ok := drop[normalizeID(id)]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// Restrict keeps the ids enabled by a profile, ignoring profile entries that
// name no loaded detector.
func Restrict(ids, enabled []string) []string {
	allowed := map[string]struct{}{}
	for _, id := range enabled {
		allowed[normalizeID(id)] = struct{}{}
	}
	var out []string
	for _, id := range ids {
		if _, ok := allowed[normalizeID(id)]; ok {
			out = append(out, id)
		}
	}
	return out
}

var libraryExts = map[string]bool{".so": true, ".dylib": true, ".dll": true}

// Discover lists detector libraries in dir. Files named the dylint way,
// lib<name>@<toolchain>.<ext>, are kept only when built for toolchain.
func Discover(dir, toolchain string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read detectors dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := filepath.Ext(name)
		if !libraryExts[ext] {
			continue
		}
		if at := strings.LastIndexByte(name, '@'); at >= 0 && toolchain != "" {
			built := strings.TrimSuffix(name[at+1:], ext)
			if built != toolchain && !strings.HasPrefix(built, toolchain+"-") {
				continue
			}
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}
