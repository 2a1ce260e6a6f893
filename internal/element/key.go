// Package element models asymmetric keys resident in a secure element slot
// and the signing pipeline that turns raw element output into standard
// encodings. Every operation goes through an injected hsm.Transport.
package element

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/glinharesb/sekeys/internal/algorithm"
	"github.com/glinharesb/sekeys/internal/hsm"
	"github.com/glinharesb/sekeys/internal/policy"
)

var (
	ErrInvalidInputType  = errors.New("element: invalid input type")
	ErrKindMismatch      = errors.New("element: operation not supported by key kind")
	ErrInvalidLength     = errors.New("element: invalid length")
	ErrMalformedResponse = errors.New("element: malformed transport response")
	ErrNilTransport      = errors.New("element: nil transport")
)

// Output buffer sizes handed to the element.
const (
	eccPublicKeyBufLen  = 150
	rsaPublicKeyBufLen  = 320
	eccPrivateKeyBufLen = 104
	rsaSignatureBufLen  = 320
)

// Key is a key object bound to one element slot. The slot is fixed at
// construction. Usage, public key and exported private key are bound by a
// successful Generate and replaced wholesale by the next one.
//
// A Key is not safe for concurrent use.
type Key struct {
	transport hsm.Transport
	logger    *slog.Logger

	kind  policy.Kind
	slot  policy.Slot
	curve algorithm.Curve
	rsa   algorithm.RSA

	generated  bool
	usage      policy.Mask
	publicKey  []byte
	privateKey []byte
}

// Option configures a Key.
type Option func(*Key)

// WithLogger sets the logger used for signing state transitions and
// advisories. slog.Default() is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(k *Key) {
		if l != nil {
			k.logger = l
		}
	}
}

// NewECCKey returns an ECC key object for slot. An empty curve selects
// algorithm.DefaultCurve.
func NewECCKey(t hsm.Transport, slot policy.Slot, curve string, opts ...Option) (*Key, error) {
	if curve == "" {
		curve = algorithm.DefaultCurve
	}
	k, err := newKey(t, policy.KindECC, slot, opts)
	if err != nil {
		return nil, err
	}
	if k.curve, err = algorithm.ResolveCurve(curve); err != nil {
		return nil, err
	}
	return k, nil
}

// NewRSAKey returns an RSA key object for slot 0xe0fc or 0xe0fd.
func NewRSAKey(t hsm.Transport, slot policy.Slot, opts ...Option) (*Key, error) {
	return newKey(t, policy.KindRSA, slot, opts)
}

func newKey(t hsm.Transport, kind policy.Kind, slot policy.Slot, opts []Option) (*Key, error) {
	if t == nil {
		return nil, ErrNilTransport
	}
	if err := policy.ValidateSlot(kind, slot); err != nil {
		return nil, err
	}
	k := &Key{transport: t, logger: slog.Default(), kind: kind, slot: slot}
	for _, opt := range opts {
		opt(k)
	}
	return k, nil
}

func (k *Key) Kind() policy.Kind { return k.kind }
func (k *Key) Slot() policy.Slot { return k.slot }

// Curve is the curve of an ECC key: the construction curve until a
// generation binds another one. It is the zero Curve for RSA keys.
func (k *Key) Curve() algorithm.Curve { return k.curve }

// KeySize is the RSA modulus size bound by the last generation, 0 before.
func (k *Key) KeySize() int { return k.rsa.KeySize }

// Generated reports whether a generation has succeeded on this object.
func (k *Key) Generated() bool { return k.generated }

// Usage returns the bound usage mask. ok is false before generation.
func (k *Key) Usage() (m policy.Mask, ok bool) {
	return k.usage, k.generated
}

// PublicKey returns a copy of the public key: a BIT STRING of the point for
// ECC keys, a complete SubjectPublicKeyInfo for RSA keys. Nil before
// generation.
func (k *Key) PublicKey() []byte {
	return clone(k.publicKey)
}

// PrivateKey returns a copy of the exported private key, nil unless the last
// generation requested export.
func (k *Key) PrivateKey() []byte {
	return clone(k.privateKey)
}

func (k *Key) String() string {
	return fmt.Sprintf("%s key %s", k.kind, k.slot)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
