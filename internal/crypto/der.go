package crypto

import (
	stdcrypto "crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
)

// MarshalIntegerPair encodes two DER INTEGERs back to back.
func MarshalIntegerPair(a, b *big.Int) ([]byte, error) {
	var builder cryptobyte.Builder
	builder.AddASN1BigInt(a)
	builder.AddASN1BigInt(b)
	out, err := builder.Bytes()
	if err != nil {
		return nil, fmt.Errorf("marshal integers: %w", err)
	}
	return out, nil
}

// MarshalBitString wraps data in a DER BIT STRING with no unused bits.
func MarshalBitString(data []byte) ([]byte, error) {
	var builder cryptobyte.Builder
	builder.AddASN1BitString(data)
	out, err := builder.Bytes()
	if err != nil {
		return nil, fmt.Errorf("marshal bit string: %w", err)
	}
	return out, nil
}

// MarshalOctetString wraps data in a DER OCTET STRING.
func MarshalOctetString(data []byte) ([]byte, error) {
	var builder cryptobyte.Builder
	builder.AddASN1OctetString(data)
	out, err := builder.Bytes()
	if err != nil {
		return nil, fmt.Errorf("marshal octet string: %w", err)
	}
	return out, nil
}

// ParseBitString returns the payload of a DER BIT STRING.
func ParseBitString(der []byte) ([]byte, error) {
	input := cryptobyte.String(der)
	var bits []byte
	if !input.ReadASN1BitStringAsBytes(&bits) || !input.Empty() {
		return nil, fmt.Errorf("parse bit string: malformed")
	}
	return bits, nil
}

// MarshalPrivateKey encodes an ECDSA or RSA private key in PKCS8 DER format.
func MarshalPrivateKey(key stdcrypto.Signer) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	return der, nil
}

// UnmarshalPrivateKey decodes a PKCS8 DER-encoded ECDSA or RSA private key.
func UnmarshalPrivateKey(der []byte) (stdcrypto.Signer, error) {
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	switch key := parsed.(type) {
	case *ecdsa.PrivateKey:
		return key, nil
	case *rsa.PrivateKey:
		return key, nil
	default:
		return nil, fmt.Errorf("unsupported private key type %T", parsed)
	}
}
