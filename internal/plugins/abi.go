package plugins

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/mod/semver"

	"github.com/xab-mack/scoutaudit/internal/model"
)

// Exported symbols a detector library may provide.
//
//	void lint_info(struct scout_lint_info *info);      // mandatory
//	void custom_detector(void);                         // optional
//	const char *scout_abi_version(void);                // optional, semver
//
// The loader allocates and zeroes the record, then lets lint_info fill it.
// Every text field must be a null-terminated UTF-8 string that fits its
// array. abi_version must be left at zero or set to ABIRecordVersion.
const (
	SymbolLintInfo       = "lint_info"
	SymbolCustomDetector = "custom_detector"
	SymbolABIVersion     = "scout_abi_version"
)

const (
	ABIRecordVersion = 1
	// SupportedABI is the detector ABI this host implements. Plugins
	// reporting a different major version are rejected before lint_info
	// is called.
	SupportedABI = "v1.0.0"
)

// RawMetadataRecord mirrors the C layout
//
//	struct scout_lint_info {
//	    uint32_t abi_version;
//	    char id[64];
//	    char name[128];
//	    char short_message[256];
//	    char long_message[2048];
//	    char severity[32];
//	    char help[512];
//	    char vulnerability_class[64];
//	};
//
// It never leaves this package; Decode turns it into a model.LintInfo.
type RawMetadataRecord struct {
	ABIVersion         uint32
	ID                 [64]byte
	Name               [128]byte
	ShortMessage       [256]byte
	LongMessage        [2048]byte
	Severity           [32]byte
	Help               [512]byte
	VulnerabilityClass [64]byte
}

var errNotTerminated = errors.New("missing null terminator")

func cString(field string, b []byte) (string, error) {
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		return "", fmt.Errorf("field %s: %w", field, errNotTerminated)
	}
	if !utf8.Valid(b[:i]) {
		return "", fmt.Errorf("field %s: invalid UTF-8", field)
	}
	return string(b[:i]), nil
}

// Decode validates every field and copies it out of the record.
func (r *RawMetadataRecord) Decode() (model.LintInfo, error) {
	if r.ABIVersion != 0 && r.ABIVersion != ABIRecordVersion {
		return model.LintInfo{}, fmt.Errorf("%w: record version %d, host supports %d", ErrABIMismatch, r.ABIVersion, ABIRecordVersion)
	}
	var info model.LintInfo
	fields := []struct {
		name string
		raw  []byte
		dst  *string
	}{
		{"id", r.ID[:], &info.ID},
		{"name", r.Name[:], &info.Name},
		{"short_message", r.ShortMessage[:], &info.ShortMessage},
		{"long_message", r.LongMessage[:], &info.LongMessage},
		{"severity", r.Severity[:], &info.Severity},
		{"help", r.Help[:], &info.Help},
		{"vulnerability_class", r.VulnerabilityClass[:], &info.VulnerabilityClass},
	}
	for _, f := range fields {
		s, err := cString(f.name, f.raw)
		if err != nil {
			return model.LintInfo{}, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
		}
		*f.dst = s
	}
	info.ID = strings.TrimSpace(info.ID)
	if info.ID == "" {
		return model.LintInfo{}, fmt.Errorf("%w: empty detector id", ErrInvalidEncoding)
	}
	return info, nil
}

// CheckABIVersion compares a plugin-reported version with SupportedABI.
func CheckABIVersion(v string) error {
	if v == "" {
		return nil
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return fmt.Errorf("%w: invalid version %q", ErrABIMismatch, v)
	}
	if semver.Major(v) != semver.Major(SupportedABI) {
		return fmt.Errorf("%w: plugin %s, host %s", ErrABIMismatch, v, SupportedABI)
	}
	return nil
}

func setField(dst []byte, s string) {
	n := copy(dst[:len(dst)-1], s)
	dst[n] = 0
}

// Fill writes info into the record the way a conforming plugin would. It is
// used by in-process detector backends and tests.
func (r *RawMetadataRecord) Fill(info model.LintInfo) {
	r.ABIVersion = ABIRecordVersion
	setField(r.ID[:], info.ID)
	setField(r.Name[:], info.Name)
	setField(r.ShortMessage[:], info.ShortMessage)
	setField(r.LongMessage[:], info.LongMessage)
	setField(r.Severity[:], info.Severity)
	setField(r.Help[:], info.Help)
	setField(r.VulnerabilityClass[:], info.VulnerabilityClass)
}
