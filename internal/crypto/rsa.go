package crypto

import (
	stdcrypto "crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
)

// GenerateRSAKey creates a new RSA key pair with the given modulus size.
func GenerateRSAKey(bits int) (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	return key, nil
}

// SignRSAPKCS1v15 signs a precomputed digest. The result is exactly as long
// as the modulus.
func SignRSAPKCS1v15(key *rsa.PrivateKey, hash stdcrypto.Hash, digest []byte) ([]byte, error) {
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, hash, digest)
	if err != nil {
		return nil, fmt.Errorf("rsa sign: %w", err)
	}
	return sig, nil
}

// MarshalRSAPublicKey encodes a PKCS#1 RSAPublicKey wrapped in a DER BIT
// STRING. Prefixed with the rsaEncryption SubjectPublicKeyInfo header it
// forms a complete PKIX public key.
func MarshalRSAPublicKey(pub *rsa.PublicKey) ([]byte, error) {
	return MarshalBitString(x509.MarshalPKCS1PublicKey(pub))
}

// MarshalRSAPrivateExponent encodes the private exponent, left-padded to the
// modulus length, as a DER OCTET STRING.
func MarshalRSAPrivateExponent(key *rsa.PrivateKey) ([]byte, error) {
	return MarshalOctetString(key.D.FillBytes(make([]byte, key.Size())))
}
