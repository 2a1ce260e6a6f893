package element

import (
	"github.com/glinharesb/sekeys/internal/algorithm"
	"github.com/glinharesb/sekeys/internal/policy"
)

// Signature is the immutable result of a signing call.
type Signature struct {
	hashAlgorithm string
	slot          policy.Slot
	scheme        algorithm.Scheme
	value         []byte
}

func newSignature(hash string, slot policy.Slot, scheme algorithm.Scheme, value []byte) *Signature {
	return &Signature{hashAlgorithm: hash, slot: slot, scheme: scheme, value: clone(value)}
}

// HashAlgorithm names the digest that was signed, e.g. "sha256".
func (s *Signature) HashAlgorithm() string { return s.hashAlgorithm }

// Slot is the slot of the signing key.
func (s *Signature) Slot() policy.Slot { return s.slot }

// Algorithm is the tag "<digest>_<scheme>", e.g. "sha256_ecdsa" or
// "sha384_rsa".
func (s *Signature) Algorithm() string {
	return s.hashAlgorithm + "_" + s.scheme.String()
}

// Bytes returns a copy of the encoded signature.
func (s *Signature) Bytes() []byte { return clone(s.value) }

// Len is the length of the encoded signature.
func (s *Signature) Len() int { return len(s.value) }
