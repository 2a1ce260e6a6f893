package element

import (
	"context"
	stdcrypto "crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glinharesb/sekeys/internal/crypto"
	"github.com/glinharesb/sekeys/internal/hsm"
	"github.com/glinharesb/sekeys/internal/keystore"
	"github.com/glinharesb/sekeys/internal/policy"
)

func softwareElement(t *testing.T) hsm.Transport {
	t.Helper()
	h, err := hsm.NewSoftwareHSM(keystore.NewMemoryStore())
	require.NoError(t, err)
	return hsm.Serialize(h)
}

func TestSoftwareECDSAEndToEnd(t *testing.T) {
	ctx := context.Background()
	dev := softwareElement(t)

	cases := []struct {
		curve string
		ec    elliptic.Curve
		slot  policy.Slot
	}{
		{"secp256r1", elliptic.P256(), policy.SlotECC0},
		{"secp384r1", elliptic.P384(), policy.SlotECC1},
		{"secp521r1", elliptic.P521(), 0xe102},
	}
	for _, tc := range cases {
		t.Run(tc.curve, func(t *testing.T) {
			k, err := NewECCKey(dev, tc.slot, tc.curve)
			require.NoError(t, err)
			require.NoError(t, k.Generate(ctx, GenerateOptions{}))

			point, err := crypto.ParseBitString(k.PublicKey())
			require.NoError(t, err)
			pub, err := ecdsa.ParseUncompressedPublicKey(tc.ec, point)
			require.NoError(t, err)

			msg := []byte("end to end")
			sig, err := k.SignECDSA(ctx, msg)
			require.NoError(t, err)

			digest := k.Curve().Hash.Digest(msg)
			assert.True(t, ecdsa.VerifyASN1(pub, digest, sig.Bytes()), "signature must verify as ASN.1")
		})
	}
}

func TestSoftwareRSAEndToEnd(t *testing.T) {
	ctx := context.Background()
	dev := softwareElement(t)

	k, err := NewRSAKey(dev, policy.SlotRSA1)
	require.NoError(t, err)
	require.NoError(t, k.Generate(ctx, GenerateOptions{KeySize: 2048}))

	parsed, err := x509.ParsePKIXPublicKey(k.PublicKey())
	require.NoError(t, err)
	pub := parsed.(*rsa.PublicKey)
	assert.Equal(t, 2048, pub.N.BitLen())

	sig, err := k.SignPKCS1v15(ctx, []byte("rsa end to end"), "sha384")
	require.NoError(t, err)
	assert.Equal(t, 256, sig.Len())

	d := sha512.Sum384([]byte("rsa end to end"))
	assert.NoError(t, rsa.VerifyPKCS1v15(pub, stdcrypto.SHA384, d[:], sig.Bytes()))
}

func TestSoftwareSignWithoutSignatureUsage(t *testing.T) {
	ctx := context.Background()
	dev := softwareElement(t)

	k, _ := NewECCKey(dev, policy.SlotECC0, "")
	require.NoError(t, k.Generate(ctx, GenerateOptions{Usage: []policy.Usage{policy.UsageKeyAgreement}}))

	_, err := k.SignECDSA(ctx, []byte("x"))
	var hf *hsm.HardwareFault
	require.ErrorAs(t, err, &hf)
	assert.Equal(t, hsm.StatusUsageDenied, hf.Code)
}

func TestSoftwareBrainpoolFault(t *testing.T) {
	dev := softwareElement(t)
	k, _ := NewECCKey(dev, policy.SlotECC0, "brainpoolp256r1")

	err := k.Generate(context.Background(), GenerateOptions{})
	var hf *hsm.HardwareFault
	require.ErrorAs(t, err, &hf)
	assert.Equal(t, hsm.StatusUnsupported, hf.Code)
	assert.False(t, k.Generated())
}

// A second object on the same slot signs with the key the first generated.
func TestSoftwareSlotOutlivesObject(t *testing.T) {
	ctx := context.Background()
	dev := softwareElement(t)

	gen, _ := NewECCKey(dev, policy.SlotECC3, "")
	require.NoError(t, gen.Generate(ctx, GenerateOptions{}))
	point, _ := crypto.ParseBitString(gen.PublicKey())
	pub, err := ecdsa.ParseUncompressedPublicKey(elliptic.P256(), point)
	require.NoError(t, err)

	user, _ := NewECCKey(dev, policy.SlotECC3, "")
	sig, err := user.SignECDSA(ctx, "provisioned elsewhere")
	require.NoError(t, err)

	d := sha256.Sum256([]byte("provisioned elsewhere"))
	assert.True(t, ecdsa.VerifyASN1(pub, d[:], sig.Bytes()))
}

func TestSoftwareRandom(t *testing.T) {
	dev := softwareElement(t)
	a, err := Random(context.Background(), dev, 64, true)
	require.NoError(t, err)
	b, err := Random(context.Background(), dev, 64, false)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
