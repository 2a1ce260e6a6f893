// Package algorithm holds the static tables that map human-readable
// algorithm names to the binary parameters a secure element expects:
// curve identifiers, digest algorithms, buffer sizes and RSA key types.
package algorithm

import (
	"crypto"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"errors"
	"fmt"
)

var (
	ErrUnsupportedCurve         = errors.New("algorithm: unsupported curve")
	ErrUnsupportedKeySize       = errors.New("algorithm: unsupported key size")
	ErrUnsupportedHashAlgorithm = errors.New("algorithm: unsupported hash algorithm")
)

// Scheme is the signature scheme selector passed to the element with a
// signing request.
type Scheme uint8

const (
	SchemeECDSA          Scheme = 0x00
	SchemeRSAPKCS1SHA256 Scheme = 0x01
	SchemeRSAPKCS1SHA384 Scheme = 0x02
)

func (s Scheme) String() string {
	switch s {
	case SchemeECDSA:
		return "ecdsa"
	case SchemeRSAPKCS1SHA256, SchemeRSAPKCS1SHA384:
		return "rsa"
	default:
		return "unknown"
	}
}

// Hash describes a digest algorithm by its wire name.
type Hash struct {
	Name   string
	Func   crypto.Hash
	Scheme Scheme
}

// Size returns the digest length in bytes.
func (h Hash) Size() int {
	return h.Func.Size()
}

// Digest hashes data with the algorithm.
func (h Hash) Digest(data []byte) []byte {
	d := h.Func.New()
	d.Write(data)
	return d.Sum(nil)
}

var (
	SHA256 = Hash{Name: "sha256", Func: crypto.SHA256}
	SHA384 = Hash{Name: "sha384", Func: crypto.SHA384}
	SHA512 = Hash{Name: "sha512", Func: crypto.SHA512}
)

// rsaHashes lists the digests an RSA PKCS#1 v1.5 signature may use on the
// element, each with its scheme selector.
var rsaHashes = map[string]Hash{
	"sha256": {Name: "sha256", Func: crypto.SHA256, Scheme: SchemeRSAPKCS1SHA256},
	"sha384": {Name: "sha384", Func: crypto.SHA384, Scheme: SchemeRSAPKCS1SHA384},
}

// ResolveRSAHash returns the digest and scheme for an RSA PKCS#1 v1.5
// signature.
func ResolveRSAHash(name string) (Hash, error) {
	h, ok := rsaHashes[name]
	if !ok {
		return Hash{}, fmt.Errorf("%w: %q (supported: sha256, sha384)", ErrUnsupportedHashAlgorithm, name)
	}
	return h, nil
}

// RSAHashByScheme is the inverse of ResolveRSAHash.
func RSAHashByScheme(s Scheme) (Hash, bool) {
	for _, h := range rsaHashes {
		if h.Scheme == s {
			return h, true
		}
	}
	return Hash{}, false
}
