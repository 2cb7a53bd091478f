package plugins

import (
	"errors"
	"fmt"
)

var (
	ErrOpenFailed            = errors.New("failed to load library")
	ErrMissingMetadataExport = errors.New("missing " + SymbolLintInfo + " export")
	ErrInvalidEncoding       = errors.New("invalid metadata encoding")
	ErrABIMismatch           = errors.New("detector ABI mismatch")
	ErrDuplicateID           = errors.New("duplicate detector id")
	ErrSignatureInvalid      = errors.New("detector signature verification failed")

	ErrSymbolNotFound = errors.New("symbol not found")
	ErrNoEntryPoint   = errors.New("detector has no " + SymbolCustomDetector + " export")
	ErrReleased       = errors.New("detector library already released")
)

type Kind int

const (
	OpenFailed Kind = iota + 1
	MissingMetadataExport
	InvalidEncoding
	ABIMismatch
	DuplicateID
	SignatureInvalid
)

func (k Kind) String() string {
	switch k {
	case OpenFailed:
		return "open-failed"
	case MissingMetadataExport:
		return "missing-metadata-export"
	case InvalidEncoding:
		return "invalid-encoding"
	case ABIMismatch:
		return "abi-mismatch"
	case DuplicateID:
		return "duplicate-id"
	case SignatureInvalid:
		return "signature-invalid"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) sentinel() error {
	switch k {
	case OpenFailed:
		return ErrOpenFailed
	case MissingMetadataExport:
		return ErrMissingMetadataExport
	case InvalidEncoding:
		return ErrInvalidEncoding
	case ABIMismatch:
		return ErrABIMismatch
	case DuplicateID:
		return ErrDuplicateID
	case SignatureInvalid:
		return ErrSignatureInvalid
	}
	return nil
}

// LoadError is fatal for the plugin at Path only.
type LoadError struct {
	Kind Kind
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%v %s: %v", e.Kind.sentinel(), e.Path, e.Err)
}

func (e *LoadError) Unwrap() []error {
	return []error{e.Kind.sentinel(), e.Err}
}

func kindOf(err error, fallback Kind) Kind {
	switch {
	case errors.Is(err, ErrABIMismatch):
		return ABIMismatch
	case errors.Is(err, ErrInvalidEncoding):
		return InvalidEncoding
	}
	return fallback
}
