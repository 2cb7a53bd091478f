// Package classify decides which findings can be trusted by checking whether
// the compilation unit that produced them built successfully.
package classify

import (
	"bufio"
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/xab-mack/scoutaudit/internal/model"
)

const compilerMessage = "compiler-message"

// Diagnostic is the part of a cargo JSON message record the classifier reads.
type Diagnostic struct {
	Reason string `json:"reason"`
	Target struct {
		Name string `json:"name"`
	} `json:"target"`
	Message json.RawMessage `json:"message"`
}

type diagnosticMessage struct {
	Level string `json:"level"`
	Code  *struct {
		Code string `json:"code"`
	} `json:"code"`
}

type Classification struct {
	// Units maps each unit seen in the stream to whether it built.
	Units       map[string]bool
	Trustworthy []model.RawFinding
	Suspect     []model.RawFinding
	// Malformed counts lines and records that could not be decoded.
	Malformed int
	// Unstructured holds side-channel records that were not findings, such
	// as relayed panic text.
	Unstructured []string
}

// UnitName maps a cargo target name to its crate name.
func UnitName(target string) string {
	return strings.ReplaceAll(target, "-", "_")
}

// Succeeded reports the build status of unit. Units never mentioned in the
// stream count as built.
//
// TODO: a unit that fails before emitting any compiler message is treated as
// built; consider cross-checking the driver's exit status per unit.
func (c *Classification) Succeeded(unit string) bool {
	ok, seen := c.Units[UnitName(unit)]
	return !seen || ok
}

// Incomplete reports whether any unit failed to build.
func (c *Classification) Incomplete() bool {
	for _, ok := range c.Units {
		if !ok {
			return true
		}
	}
	return false
}

// FailedUnits returns the failed unit names sorted.
func (c *Classification) FailedUnits() []string {
	var out []string
	for u, ok := range c.Units {
		if !ok {
			out = append(out, u)
		}
	}
	sort.Strings(out)
	return out
}

// Classify scans the newline delimited stream, builds the unit status map
// and partitions findings. Lint diagnostics in the stream that carry a code
// and side-channel records are both treated as findings.
func Classify(stream []byte, side []string) *Classification {
	c := &Classification{Units: map[string]bool{}}
	var findings []model.RawFinding

	r := bufio.NewReader(bytes.NewReader(stream))
	for {
		line, err := r.ReadBytes('\n')
		c.scanLine(bytes.TrimSpace(line), &findings)
		if err != nil {
			break
		}
	}

	for _, rec := range side {
		var f model.RawFinding
		if err := json.Unmarshal([]byte(rec), &f); err != nil || len(f.Payload) == 0 {
			c.Unstructured = append(c.Unstructured, rec)
			continue
		}
		f.Unit = UnitName(f.Unit)
		findings = append(findings, f)
	}

	for _, f := range findings {
		if c.Succeeded(f.Unit) {
			c.Trustworthy = append(c.Trustworthy, f)
		} else {
			c.Suspect = append(c.Suspect, f)
		}
	}
	return c
}

func (c *Classification) scanLine(line []byte, findings *[]model.RawFinding) {
	if len(line) == 0 {
		return
	}
	var d Diagnostic
	if err := json.Unmarshal(line, &d); err != nil {
		c.Malformed++
		return
	}
	if d.Reason != compilerMessage {
		return
	}
	var msg diagnosticMessage
	if d.Target.Name == "" || json.Unmarshal(d.Message, &msg) != nil {
		c.Malformed++
		return
	}
	unit := UnitName(d.Target.Name)
	if _, seen := c.Units[unit]; !seen {
		c.Units[unit] = true
	}
	if msg.Level == "error" {
		c.Units[unit] = false
		return
	}
	if msg.Code != nil && msg.Code.Code != "" {
		*findings = append(*findings, model.RawFinding{Unit: unit, Payload: d.Message})
	}
}
