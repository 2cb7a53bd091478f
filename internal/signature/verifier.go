// Package signature checks OpenPGP detached signatures of detector libraries
// before they are loaded into the process.
package signature

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
)

// Suffix is appended to a library path to locate its detached signature.
const Suffix = ".sig"

var ErrNoKeys = errors.New("keyring contains no keys")

// Verifier holds a keyring of trusted detector publishers.
type Verifier struct {
	keyring openpgp.EntityList
}

// NewVerifier reads an armored or binary keyring from r.
func NewVerifier(r io.Reader) (*Verifier, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read keyring: %w", err)
	}
	entities, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	if err != nil {
		entities, err = openpgp.ReadKeyRing(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("parse keyring: %w", err)
		}
	}
	if len(entities) == 0 {
		return nil, ErrNoKeys
	}
	return &Verifier{keyring: entities}, nil
}

// LoadKeyring reads the keyring file at path.
func LoadKeyring(path string) (*Verifier, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	defer f.Close()
	return NewVerifier(f)
}

// KeyCount returns the number of entities in the keyring.
func (v *Verifier) KeyCount() int { return len(v.keyring) }

// Verify checks path against path+".sig". Both armored and binary signatures
// are accepted.
func (v *Verifier) Verify(path string) error {
	sig, err := os.ReadFile(path + Suffix)
	if err != nil {
		return fmt.Errorf("read signature: %w", err)
	}
	data, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open library: %w", err)
	}
	defer data.Close()

	if bytes.HasPrefix(bytes.TrimSpace(sig), []byte("-----BEGIN PGP")) {
		_, err = openpgp.CheckArmoredDetachedSignature(v.keyring, data, bytes.NewReader(sig), nil)
	} else {
		_, err = openpgp.CheckDetachedSignature(v.keyring, data, bytes.NewReader(sig), nil)
	}
	if err != nil {
		return fmt.Errorf("signature verification failed for %s: %w", path, err)
	}
	return nil
}
