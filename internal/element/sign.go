package element

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"

	"github.com/glinharesb/sekeys/internal/algorithm"
	"github.com/glinharesb/sekeys/internal/hsm"
	"github.com/glinharesb/sekeys/internal/metrics"
	"github.com/glinharesb/sekeys/internal/policy"
)

// State is the progress of one signing call.
type State int

const (
	StateIdle State = iota
	StateDigestComputed
	StateHardwareInvoked
	StateEncoded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDigestComputed:
		return "digest_computed"
	case StateHardwareInvoked:
		return "hardware_invoked"
	case StateEncoded:
		return "encoded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// AdvisoryTextPayload labels the advisory raised when a text payload is
// converted to bytes before hashing.
const AdvisoryTextPayload = "text_payload"

type signing struct {
	key   *Key
	state State
}

func (s *signing) advance(to State) {
	s.key.logger.Debug("signing state", "slot", s.key.slot, "from", s.state, "to", to)
	s.state = to
}

// fail moves the call to StateFailed and wraps err with the state it failed in.
func (s *signing) fail(err error) error {
	at := s.state
	s.advance(StateFailed)
	return fmt.Errorf("sign with %s (%s): %w", s.key, at, err)
}

// payload returns the bytes to hash. Text is UTF-8 encoded with an advisory.
func (k *Key) payload(data any) ([]byte, error) {
	switch v := data.(type) {
	case []byte:
		return v, nil
	case string:
		k.logger.Warn("implicit conversion of text payload to bytes", "slot", k.slot, "bytes", len(v))
		metrics.RecordAdvisory(AdvisoryTextPayload)
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("%w: %T (want []byte or string)", ErrInvalidInputType, data)
	}
}

// SignECDSA hashes data with the digest of the key's curve, has the element
// sign it and returns the DER encoded signature. data must be []byte or
// string.
func (k *Key) SignECDSA(ctx context.Context, data any) (sig *Signature, err error) {
	if k.kind != policy.KindECC {
		return nil, fmt.Errorf("%w: ecdsa signing needs an ecc key, %s is %s", ErrKindMismatch, k.slot, k.kind)
	}
	start := time.Now()
	defer func() { metrics.RecordOperation(metrics.OpSign, k.kind.String(), start, err) }()

	s := &signing{key: k}
	msg, err := k.payload(data)
	if err != nil {
		return nil, s.fail(err)
	}

	h := k.curve.Hash
	digest := h.Digest(msg)
	s.advance(StateDigestComputed)

	raw, err := k.sign(ctx, s, algorithm.SchemeECDSA, digest, k.curve.MaxSignatureLen)
	if err != nil {
		return nil, err
	}

	encoded, err := EncodeECDSASignature(raw)
	if err != nil {
		return nil, s.fail(err)
	}
	s.advance(StateEncoded)
	return newSignature(h.Name, k.slot, algorithm.SchemeECDSA, encoded), nil
}

// SignPKCS1v15 hashes data with hashAlgorithm (sha256 when empty, or sha384)
// and returns the raw RSA PKCS#1 v1.5 signature block produced by the
// element. data must be []byte or string.
func (k *Key) SignPKCS1v15(ctx context.Context, data any, hashAlgorithm string) (sig *Signature, err error) {
	if k.kind != policy.KindRSA {
		return nil, fmt.Errorf("%w: pkcs1v15 signing needs an rsa key, %s is %s", ErrKindMismatch, k.slot, k.kind)
	}
	start := time.Now()
	defer func() { metrics.RecordOperation(metrics.OpSign, k.kind.String(), start, err) }()

	s := &signing{key: k}
	msg, err := k.payload(data)
	if err != nil {
		return nil, s.fail(err)
	}
	if hashAlgorithm == "" {
		hashAlgorithm = algorithm.SHA256.Name
	}
	h, err := algorithm.ResolveRSAHash(hashAlgorithm)
	if err != nil {
		return nil, s.fail(err)
	}

	digest := h.Digest(msg)
	s.advance(StateDigestComputed)

	raw, err := k.sign(ctx, s, h.Scheme, digest, rsaSignatureBufLen)
	if err != nil {
		return nil, err
	}
	s.advance(StateEncoded)
	return newSignature(h.Name, k.slot, h.Scheme, raw), nil
}

// sign invokes the element with a fresh buffer of bufLen bytes and returns
// the portion it reports as written.
func (k *Key) sign(ctx context.Context, s *signing, scheme algorithm.Scheme, digest []byte, bufLen int) ([]byte, error) {
	buf := make([]byte, bufLen)
	n, status := k.transport.Sign(ctx, hsm.SignRequest{Scheme: scheme, Digest: digest, Slot: k.slot}, buf)
	s.advance(StateHardwareInvoked)

	if err := hsm.Fault(status); err != nil {
		return nil, s.fail(err)
	}
	if n <= 0 || n > len(buf) {
		return nil, s.fail(fmt.Errorf("%w: signature length %d", ErrMalformedResponse, n))
	}
	return buf[:n], nil
}

// EncodeECDSASignature wraps the raw r and s INTEGERs returned by the element
// in a DER SEQUENCE. The length uses the short form below 128 bytes and the
// long form from 128 on.
func EncodeECDSASignature(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty signature", ErrMalformedResponse)
	}
	var b cryptobyte.Builder
	b.AddASN1(asn1.SEQUENCE, func(c *cryptobyte.Builder) {
		c.AddBytes(raw)
	})
	return b.Bytes()
}
