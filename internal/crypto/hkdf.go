package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// sealInfo separates the slot store sealing key from other derivations.
var sealInfo = []byte("sekeys-slot-seal")

// DeriveKey runs HKDF-SHA256 over secret with info as the context and returns
// length bytes (1 to 64).
func DeriveKey(secret, info []byte, length int) ([]byte, error) {
	if length <= 0 || length > 64 {
		return nil, fmt.Errorf("invalid derived key length: %d (must be 1-64)", length)
	}

	derived := make([]byte, length)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, info), derived); err != nil {
		return nil, fmt.Errorf("hkdf derive: %w", err)
	}
	return derived, nil
}

// DeriveSealKey turns an operator supplied secret into the AES-256 key that
// seals persisted slot contents.
func DeriveSealKey(secret []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("derive seal key: empty secret")
	}
	return DeriveKey(secret, sealInfo, 32)
}

// Expand fills out with HKDF-SHA256 output keyed by prk and bound to info.
// Callers vary info per request to obtain independent blocks from one seed.
func Expand(prk, info, out []byte) error {
	if len(out) > 255*sha256.Size {
		return fmt.Errorf("hkdf expand: %d bytes exceeds limit", len(out))
	}
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, prk, info), out); err != nil {
		return fmt.Errorf("hkdf expand: %w", err)
	}
	return nil
}
