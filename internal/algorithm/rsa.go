package algorithm

import (
	"fmt"
)

// RSA is the parameter set for one supported RSA key size. TypeCode is the
// key type sent on the wire with a key generation.
type RSA struct {
	KeySize  int
	TypeCode uint8
	header   []byte
}

// Header returns the SubjectPublicKeyInfo prefix (outer SEQUENCE and
// rsaEncryption AlgorithmIdentifier) that precedes the BIT STRING the
// element returns as the public key.
func (r RSA) Header() []byte {
	out := make([]byte, len(r.header))
	copy(out, r.header)
	return out
}

// KeyBytes is the modulus length in bytes, which is also the length of a
// PKCS#1 v1.5 signature.
func (r RSA) KeyBytes() int {
	return r.KeySize / 8
}

// DefaultRSAKeySize is used when a caller does not name one.
const DefaultRSAKeySize = 1024

var rsaKeys = []RSA{
	{
		KeySize:  1024,
		TypeCode: 0x41,
		header:   []byte{0x30, 0x81, 0x9f, 0x30, 0x0d, 0x06, 0x09, 0x2a, 0x86, 0x48, 0x86, 0xf7, 0x0d, 0x01, 0x01, 0x01, 0x05, 0x00},
	},
	{
		KeySize:  2048,
		TypeCode: 0x42,
		header:   []byte{0x30, 0x82, 0x01, 0x22, 0x30, 0x0d, 0x06, 0x09, 0x2a, 0x86, 0x48, 0x86, 0xf7, 0x0d, 0x01, 0x01, 0x01, 0x05, 0x00},
	},
}

// ResolveRSA returns the parameters for an RSA key size.
func ResolveRSA(keySize int) (RSA, error) {
	for _, r := range rsaKeys {
		if r.KeySize == keySize {
			return r, nil
		}
	}
	return RSA{}, fmt.Errorf("%w: %d (supported: 1024, 2048)", ErrUnsupportedKeySize, keySize)
}

// RSAByTypeCode looks RSA parameters up by their wire type code.
func RSAByTypeCode(code uint8) (RSA, bool) {
	for _, r := range rsaKeys {
		if r.TypeCode == code {
			return r, true
		}
	}
	return RSA{}, false
}
