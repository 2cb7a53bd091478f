package util

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Fingerprint identifies a finding across runs. It covers the detector, the
// location and a context string, never the occurrence index, so baselines
// survive reordering.
func Fingerprint(detector, file string, start, end int, context string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%d|%s", detector, file, start, end, context)
	return hex.EncodeToString(h.Sum(nil))[:32]
}
