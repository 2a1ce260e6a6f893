package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
)

// GenerateECDSAKey creates a new ECDSA key pair for the given curve.
func GenerateECDSAKey(curve elliptic.Curve) (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ecdsa key: %w", err)
	}
	return key, nil
}

// SignECDSARaw signs a precomputed digest and returns r and s as two
// consecutive DER INTEGERs without the enclosing SEQUENCE, the form a secure
// element hands back.
func SignECDSARaw(key *ecdsa.PrivateKey, digest []byte) ([]byte, error) {
	r, s, err := ecdsa.Sign(rand.Reader, key, digest)
	if err != nil {
		return nil, fmt.Errorf("ecdsa sign: %w", err)
	}
	return MarshalIntegerPair(r, s)
}

// MarshalECPublicKey encodes the uncompressed point as a DER BIT STRING.
func MarshalECPublicKey(pub *ecdsa.PublicKey) ([]byte, error) {
	ecdhPub, err := pub.ECDH()
	if err != nil {
		return nil, fmt.Errorf("marshal ec public key: %w", err)
	}
	return MarshalBitString(ecdhPub.Bytes())
}

// MarshalECPrivateScalar encodes the private scalar, left-padded to the
// curve's byte length, as a DER OCTET STRING.
func MarshalECPrivateScalar(key *ecdsa.PrivateKey) ([]byte, error) {
	size := (key.Curve.Params().BitSize + 7) / 8
	return MarshalOctetString(key.D.FillBytes(make([]byte, size)))
}
