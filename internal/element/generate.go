package element

import (
	"context"
	"fmt"
	"time"

	"github.com/glinharesb/sekeys/internal/algorithm"
	"github.com/glinharesb/sekeys/internal/hsm"
	"github.com/glinharesb/sekeys/internal/metrics"
	"github.com/glinharesb/sekeys/internal/policy"
)

// GenerateOptions are the parameters of a key generation. Curve applies to
// ECC keys and defaults to the key's current curve; KeySize applies to RSA
// keys and defaults to algorithm.DefaultRSAKeySize. An empty Usage selects
// policy.DefaultMask.
type GenerateOptions struct {
	Curve   string
	KeySize int
	Usage   []policy.Usage
	Export  bool
}

// Generate asks the element to create a key pair in the key's slot and binds
// the result. Parameters are validated before the element is called; on any
// error the key is left unchanged.
func (k *Key) Generate(ctx context.Context, opts GenerateOptions) (err error) {
	start := time.Now()
	defer func() { metrics.RecordOperation(metrics.OpGenerate, k.kind.String(), start, err) }()

	switch k.kind {
	case policy.KindECC:
		err = k.generateECC(ctx, opts)
	case policy.KindRSA:
		err = k.generateRSA(ctx, opts)
	default:
		err = fmt.Errorf("%w: %s", ErrKindMismatch, k.kind)
	}
	if err != nil {
		k.logger.Warn("key generation failed", "slot", k.slot, "kind", k.kind, "error", err)
		return err
	}
	k.logger.Info("key generated", "slot", k.slot, "kind", k.kind, "usage", k.usage, "export", opts.Export)
	return nil
}

func (k *Key) generateECC(ctx context.Context, opts GenerateOptions) error {
	if opts.KeySize != 0 {
		return fmt.Errorf("%w: key size applies to rsa keys", ErrKindMismatch)
	}
	name := opts.Curve
	if name == "" {
		name = k.curve.Name
	}
	curve, err := algorithm.ResolveCurve(name)
	if err != nil {
		return err
	}
	mask, err := policy.EncodeUsage(policy.KindECC, opts.Usage)
	if err != nil {
		return err
	}

	pub, priv, err := k.generateKeyPair(ctx, curve.ID, mask, opts.Export, eccPublicKeyBufLen, eccPrivateKeyBufLen)
	if err != nil {
		return err
	}
	k.curve = curve
	k.bind(mask, pub, priv)
	return nil
}

func (k *Key) generateRSA(ctx context.Context, opts GenerateOptions) error {
	if opts.Curve != "" {
		return fmt.Errorf("%w: curve applies to ecc keys", ErrKindMismatch)
	}
	size := opts.KeySize
	if size == 0 {
		size = algorithm.DefaultRSAKeySize
	}
	params, err := algorithm.ResolveRSA(size)
	if err != nil {
		return err
	}
	mask, err := policy.EncodeUsage(policy.KindRSA, opts.Usage)
	if err != nil {
		return err
	}

	raw, priv, err := k.generateKeyPair(ctx, params.TypeCode, mask, opts.Export, rsaPublicKeyBufLen, params.KeyBytes()+4)
	if err != nil {
		return err
	}
	k.rsa = params
	k.bind(mask, append(params.Header(), raw...), priv)
	return nil
}

// generateKeyPair performs the transport call with freshly sized buffers and
// returns the written portions.
func (k *Key) generateKeyPair(ctx context.Context, typ uint8, mask policy.Mask, export bool, pubLen, privLen int) ([]byte, []byte, error) {
	pub := make([]byte, pubLen)
	var priv []byte
	if export {
		priv = make([]byte, privLen)
	}

	req := hsm.KeyPairRequest{Type: typ, Usage: mask, Export: export, Slot: k.slot}
	res, status := k.transport.GenerateKeyPair(ctx, req, pub, priv)
	if err := hsm.Fault(status); err != nil {
		return nil, nil, fmt.Errorf("generate key pair in slot %s: %w", k.slot, err)
	}
	if res.PublicKeyLen <= 0 || res.PublicKeyLen > len(pub) || res.PrivateKeyLen < 0 || res.PrivateKeyLen > len(priv) {
		return nil, nil, fmt.Errorf("%w: key pair lengths %d/%d", ErrMalformedResponse, res.PublicKeyLen, res.PrivateKeyLen)
	}
	if export && res.PrivateKeyLen == 0 {
		return nil, nil, fmt.Errorf("%w: export requested but no private key returned", ErrMalformedResponse)
	}

	pub = pub[:res.PublicKeyLen]
	if export {
		priv = priv[:res.PrivateKeyLen]
	}
	return pub, priv, nil
}

func (k *Key) bind(mask policy.Mask, pub, priv []byte) {
	k.generated = true
	k.usage = mask
	k.publicKey = pub
	k.privateKey = priv
}
